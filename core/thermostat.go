package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kegbotd/bus"
	"kegbotd/store"
	"kegbotd/types"
	"kegbotd/x/mathx"
)

// sensorRangeLow and sensorRangeHigh bound what the AHT20-class sensor can
// physically report; a reading outside this band means a bad read, not a
// real temperature, and must never drive a fridge transition.
const (
	sensorRangeLow  = -40.0
	sensorRangeHigh = 85.0
)

// ThermoController samples temperature on its own cadence and drives the
// fridge relay with hysteresis: an on-transition is gated by a minimum
// interval since the last transition (to protect the compressor), an
// off-transition is always immediate. When the relay state is unknown,
// the first applicable threshold forces a definite transition.
type ThermoController struct {
	sensor  TemperatureSensor
	flow    FlowController
	store   store.ThermoStore
	bus     *bus.Connection
	metrics *Metrics
	busMu   *sync.Mutex
	log     *logrus.Entry

	samplePeriod    time.Duration
	tempMaxHigh     float64
	tempMaxLow      float64
	freezerEventMin time.Duration

	lastTransition time.Time
}

// ThermoConfig carries the thresholds and timings ThermoController needs.
type ThermoConfig struct {
	SamplePeriod    time.Duration
	TempMaxHigh     float64
	TempMaxLow      float64
	FreezerEventMin time.Duration
}

// NewThermoController builds a controller. lastTransition starts zero, so
// the first sample that crosses a threshold is never refused by the
// short-cycle gate. busMu must be the same mutex given to the BusScanner,
// so a sensor read never overlaps a bus scan; it is held only around the sensor read, never
// across a relay operation.
func NewThermoController(sensor TemperatureSensor, flow FlowController, thermoStore store.ThermoStore, busConn *bus.Connection, metrics *Metrics, busMu *sync.Mutex, cfg ThermoConfig, log *logrus.Logger) *ThermoController {
	return &ThermoController{
		sensor:          sensor,
		flow:            flow,
		store:           thermoStore,
		bus:             busConn,
		metrics:         metrics,
		busMu:           busMu,
		log:             log.WithField("component", "tempmon"),
		samplePeriod:    cfg.SamplePeriod,
		tempMaxHigh:     cfg.TempMaxHigh,
		tempMaxLow:      cfg.TempMaxLow,
		freezerEventMin: cfg.FreezerEventMin,
	}
}

// Run blocks, sampling on samplePeriod until ctx is cancelled.
func (t *ThermoController) Run(ctx context.Context) {
	ticker := time.NewTicker(t.samplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sample()
		}
	}
}

func (t *ThermoController) sample() {
	t.busMu.Lock()
	temp, err := t.sensor.ReadCelsius()
	t.busMu.Unlock()
	if err != nil {
		t.log.WithError(err).Warn("temperature read failed")
		return
	}
	if !mathx.Between(temp, sensorRangeLow, sensorRangeHigh) {
		t.log.WithField("temp_c", temp).Warn("discarding implausible sensor reading")
		return
	}
	t.metrics.observeTemperature(temp)
	t.publishTemp(temp)

	status, err := t.flow.FridgeStatus()
	if err != nil {
		t.log.WithError(err).Warn("fridge status read failed")
		return
	}

	now := time.Now()
	switch {
	case temp >= t.tempMaxHigh && status != types.FridgeOn:
		t.tryTurnOn(now, temp)
	case temp <= t.tempMaxLow && status != types.FridgeOff:
		t.turnOff(now, temp)
	}
}

func (t *ThermoController) tryTurnOn(now time.Time, temp float64) {
	if !t.lastTransition.IsZero() && now.Sub(t.lastTransition) < t.freezerEventMin {
		t.log.WithField("temp_c", temp).Warn("refusing fridge on: short-cycle protection")
		t.metrics.observeShortCycleRefusal()
		t.logTransition(types.FridgeOn, temp, now, true)
		return
	}
	if err := t.flow.EnableFridge(); err != nil {
		t.log.WithError(err).Error("enable fridge failed")
		return
	}
	t.lastTransition = now
	t.metrics.observeFridgeTransition(types.FridgeOn)
	t.logTransition(types.FridgeOn, temp, now, false)
	t.publishState(types.FridgeOn)
}

func (t *ThermoController) turnOff(now time.Time, temp float64) {
	if err := t.flow.DisableFridge(); err != nil {
		t.log.WithError(err).Error("disable fridge failed")
		return
	}
	t.lastTransition = now
	t.metrics.observeFridgeTransition(types.FridgeOff)
	t.logTransition(types.FridgeOff, temp, now, false)
	t.publishState(types.FridgeOff)
}

func (t *ThermoController) logTransition(state types.FridgeState, temp float64, at time.Time, refused bool) {
	if err := t.store.LogTransition(state, temp, at); err != nil {
		t.log.WithError(err).Warn("failed to persist thermo transition")
	}
	_ = refused // refusals are logged via the warning above; state is still recorded for audit
}

func (t *ThermoController) publishState(state types.FridgeState) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(t.bus.NewMessage(bus.TopicFridgeState(), state.String(), true))
}

func (t *ThermoController) publishTemp(tempC float64) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(t.bus.NewMessage(bus.TopicTemp(), tempC, true))
}
