// Package platform supplies the device bindings main.go wires into the
// drivers packages. HostPins/HostI2C/HostSerialPort are inert host-side
// stand-ins (the same role this codebase's own host build of the HAL
// service plays for its integration tests) so the daemon starts and runs
// its full control loop on a machine with no real 1-Wire bus, flow sensor,
// or I2C temperature probe attached.
package platform

import (
	"context"
	"sync"

	"tinygo.org/x/drivers"

	"kegbotd/drivers/flowctl"
)

// -----------------------------------------------------------------------------
// GPIO (host)
// -----------------------------------------------------------------------------

// HostPin implements flowctl.GPIOPin and flowctl.IRQPin without touching
// real hardware. Set drives the configured IRQ handler on an observed edge,
// mirroring how an interrupt controller would call back into the counter.
type HostPin struct {
	mu      sync.Mutex
	level   bool
	edge    flowctl.Edge
	handler func()
}

func (p *HostPin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = initial
	return nil
}

func (p *HostPin) ConfigureInput(_ flowctl.Pull) error { return nil }

func (p *HostPin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	handler := p.handler
	fire := wantsEdge(p.edge, old, level)
	p.mu.Unlock()
	if fire && handler != nil {
		handler()
	}
}

func (p *HostPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *HostPin) SetIRQ(edge flowctl.Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = edge
	p.handler = handler
	return nil
}

func (p *HostPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = flowctl.EdgeNone
	p.handler = nil
	return nil
}

func wantsEdge(cfg flowctl.Edge, old, new bool) bool {
	var seen flowctl.Edge
	switch {
	case !old && new:
		seen = flowctl.EdgeRising
	case old && !new:
		seen = flowctl.EdgeFalling
	default:
		return false
	}
	if cfg == flowctl.EdgeBoth {
		return true
	}
	return cfg == seen
}

// -----------------------------------------------------------------------------
// I2C (host)
// -----------------------------------------------------------------------------

// HostI2C implements tinygo.org/x/drivers.I2C inertly: every transaction
// succeeds and leaves the read buffer zeroed.
type HostI2C struct{}

func (HostI2C) Tx(addr uint16, w, r []byte) error {
	for i := range r {
		r[i] = 0
	}
	return nil
}

var _ drivers.I2C = HostI2C{}

// -----------------------------------------------------------------------------
// Serial (host)
// -----------------------------------------------------------------------------

// HostSerialPort implements onewire.SerialPort inertly: writes succeed,
// reads block until ctx is done (no bus master ever answers), so a scan
// times out cleanly rather than fabricating tokens.
type HostSerialPort struct{}

func (HostSerialPort) Write(b []byte) (int, error) { return len(b), nil }

func (HostSerialPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
