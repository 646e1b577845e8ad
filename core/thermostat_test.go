package core

import (
	"sync"
	"testing"
	"time"

	"kegbotd/store"
	"kegbotd/types"
)

// signalSensor reports a fixed temperature but blocks on readCh first, so a
// test can observe exactly when ReadCelsius was entered.
type signalSensor struct {
	celsius float64
	readCh  chan struct{}
}

func (s *signalSensor) ReadCelsius() (float64, error) {
	s.readCh <- struct{}{}
	return s.celsius, nil
}

func newThermo(t *testing.T, sensor TemperatureSensor, flow FlowController, cfg ThermoConfig) *ThermoController {
	t.Helper()
	var mu sync.Mutex
	return NewThermoController(sensor, flow, store.NewFake(), nil, nil, &mu, cfg, testLogger())
}

func TestThermoController_TurnsOnAboveHighThreshold(t *testing.T) {
	sensor := &fakeSensor{celsius: 15}
	flow := newFakeFlow()
	thermo := newThermo(t, sensor, flow, ThermoConfig{TempMaxHigh: 10, TempMaxLow: 2, FreezerEventMin: time.Second})

	thermo.sample()

	status, _ := flow.FridgeStatus()
	if status != types.FridgeOn {
		t.Fatalf("got fridge status %v, want on", status)
	}
}

func TestThermoController_TurnsOffBelowLowThreshold(t *testing.T) {
	sensor := &fakeSensor{celsius: 15}
	flow := newFakeFlow()
	thermo := newThermo(t, sensor, flow, ThermoConfig{TempMaxHigh: 10, TempMaxLow: 2, FreezerEventMin: time.Second})
	thermo.sample() // turns on

	sensor.celsius = 1
	thermo.sample()

	status, _ := flow.FridgeStatus()
	if status != types.FridgeOff {
		t.Fatalf("got fridge status %v, want off", status)
	}
}

func TestThermoController_ShortCycleRefusesRapidReentry(t *testing.T) {
	sensor := &fakeSensor{celsius: 15}
	flow := newFakeFlow()
	thermo := newThermo(t, sensor, flow, ThermoConfig{TempMaxHigh: 10, TempMaxLow: 2, FreezerEventMin: time.Hour})

	thermo.sample() // turns on
	sensor.celsius = 1
	thermo.sample() // turns off, sets lastTransition

	sensor.celsius = 15
	thermo.sample() // should be refused: well within FreezerEventMin of the last transition

	status, _ := flow.FridgeStatus()
	if status != types.FridgeOff {
		t.Fatalf("got fridge status %v, want off (on-transition should have been refused)", status)
	}
}

func TestThermoController_DiscardsImplausibleReading(t *testing.T) {
	sensor := &fakeSensor{celsius: 200}
	flow := newFakeFlow()
	thermo := newThermo(t, sensor, flow, ThermoConfig{TempMaxHigh: 10, TempMaxLow: 2, FreezerEventMin: time.Second})

	thermo.sample()

	status, _ := flow.FridgeStatus()
	if status != types.FridgeUnknown {
		t.Fatalf("got fridge status %v, want unknown (implausible reading must not drive a transition)", status)
	}
}

func TestThermoController_SampleHoldsSharedBusMutex(t *testing.T) {
	var mu sync.Mutex
	sensor := &signalSensor{celsius: 5, readCh: make(chan struct{})}
	flow := newFakeFlow()
	thermo := NewThermoController(sensor, flow, store.NewFake(), nil, nil, &mu,
		ThermoConfig{TempMaxHigh: 10, TempMaxLow: 2, FreezerEventMin: time.Second}, testLogger())

	// Simulate BusScanner holding the shared mutex for a 1-Wire scan.
	mu.Lock()

	done := make(chan struct{})
	go func() {
		thermo.sample()
		close(done)
	}()

	select {
	case <-sensor.readCh:
		t.Fatal("sensor was read while busMu was held elsewhere")
	case <-time.After(20 * time.Millisecond):
	}

	mu.Unlock()

	select {
	case <-sensor.readCh:
	case <-time.After(time.Second):
		t.Fatal("sensor read never happened after busMu was released")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sample did not complete")
	}
}
