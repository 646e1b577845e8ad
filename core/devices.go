package core

import (
	"context"

	"kegbotd/drivers/flowctl"
	"kegbotd/drivers/onewire"
	"kegbotd/drivers/thermosensor"
	"kegbotd/types"
)

// FlowController is the narrow device surface PourSession and
// ThermoController depend on. Satisfied structurally by
// drivers/flowctl.Controller; tests use a fake.
type FlowController interface {
	ReadTicks() (uint32, error)
	ClearTicks() error
	OpenValve() error
	CloseValve() error
	EnableFridge() error
	DisableFridge() error
	FridgeStatus() (types.FridgeState, error)
}

// TemperatureSensor is the narrow surface ThermoController needs.
// Satisfied structurally by drivers/thermosensor.Sensor.
type TemperatureSensor interface {
	ReadCelsius() (float64, error)
}

// BusScannerDriver enumerates tokens present on the 1-Wire bus. Satisfied
// structurally by drivers/onewire.Scanner.
type BusScannerDriver interface {
	Scan(ctx context.Context) ([]types.Token, error)
}

var (
	_ FlowController    = (*flowctl.Controller)(nil)
	_ TemperatureSensor = (*thermosensor.Sensor)(nil)
	_ BusScannerDriver  = (*onewire.Scanner)(nil)
)
