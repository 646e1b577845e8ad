package flowctl

import (
	"sync"
	"time"

	"kegbotd/errcode"
	"kegbotd/types"
)

// Config selects the pins and timings for one tap's flow controller.
type Config struct {
	TickEdge     Edge          // EdgeRising for most reed/hall flow sensors
	TickDebounce time.Duration // software debounce window for the tick line
}

// Controller is the driver named FlowController in the core design: one
// flow sensor input, one valve output, one fridge relay output. Operations
// are short and serialized by an internal mutex, matching the single-owner
// assumption that only one PourSession and one ThermoController touch a
// given tap's hardware at a time.
type Controller struct {
	mu sync.Mutex

	tick  *tickCounter
	valve GPIOPin
	relay GPIOPin

	valveOpen   bool
	fridgeState types.FridgeState

	stopTick func()
}

// New builds a Controller over the given pins. tickPin is armed for
// interrupts immediately; valve and relay pins are configured as outputs,
// both initially low (valve closed, relay off is NOT assumed — fridge
// state starts Unknown per the driver contract).
func New(cfg Config, tickPin IRQPin, valvePin, relayPin GPIOPin) (*Controller, error) {
	if cfg.TickEdge == EdgeNone {
		cfg.TickEdge = EdgeRising
	}
	if cfg.TickDebounce <= 0 {
		cfg.TickDebounce = 2 * time.Millisecond
	}

	if err := tickPin.ConfigureInput(PullDown); err != nil {
		return nil, errcode.Wrap(errcode.FlowIoError, "configure tick pin", err)
	}
	if err := valvePin.ConfigureOutput(false); err != nil {
		return nil, errcode.Wrap(errcode.FlowIoError, "configure valve pin", err)
	}
	if err := relayPin.ConfigureOutput(false); err != nil {
		return nil, errcode.Wrap(errcode.FlowIoError, "configure relay pin", err)
	}

	tc := newTickCounter(tickPin, cfg.TickEdge, cfg.TickDebounce)
	stop, err := tc.start()
	if err != nil {
		return nil, errcode.Wrap(errcode.FlowIoError, "arm tick interrupt", err)
	}

	return &Controller{
		tick:        tc,
		valve:       valvePin,
		relay:       relayPin,
		fridgeState: types.FridgeUnknown,
		stopTick:    stop,
	}, nil
}

// Close disarms the tick interrupt and stops its consumer goroutine.
func (c *Controller) Close() {
	if c.stopTick != nil {
		c.stopTick()
	}
}

// ReadTicks returns the current cumulative pulse count since the last
// ClearTicks. Idempotent: repeated calls with no intervening flow return
// the same value.
func (c *Controller) ReadTicks() (uint32, error) {
	return c.tick.Count(), nil
}

// ClearTicks resets the counter to zero.
func (c *Controller) ClearTicks() error {
	c.tick.Reset()
	return nil
}

// OpenValve opens the dispense valve. Idempotent.
func (c *Controller) OpenValve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valve.Set(true)
	c.valveOpen = true
	return nil
}

// CloseValve closes the dispense valve. Idempotent: closing an
// already-closed valve is a no-op beyond re-asserting the output level.
func (c *Controller) CloseValve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valve.Set(false)
	c.valveOpen = false
	return nil
}

// ValveOpen reports the last commanded valve state.
func (c *Controller) ValveOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valveOpen
}

// EnableFridge energizes the compressor relay.
func (c *Controller) EnableFridge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relay.Set(true)
	c.fridgeState = types.FridgeOn
	return nil
}

// DisableFridge de-energizes the compressor relay.
func (c *Controller) DisableFridge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relay.Set(false)
	c.fridgeState = types.FridgeOff
	return nil
}

// FridgeStatus returns the last commanded relay state. Unknown until the
// first EnableFridge/DisableFridge call.
func (c *Controller) FridgeStatus() (types.FridgeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fridgeState, nil
}

// ISRDrops exposes the tick counter's dropped-event count, useful for
// diagnosing a pulse rate the debounce/consumer loop cannot keep up with.
func (c *Controller) ISRDrops() uint32 {
	return c.tick.Drops()
}
