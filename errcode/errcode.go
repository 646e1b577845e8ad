package errcode

// Code is a stable, log-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes, one per kind named in the error handling design.
const (
	OK Code = "ok"

	BusIoError    Code = "bus_io_error"
	FlowIoError   Code = "flow_io_error"
	TickAnomaly   Code = "tick_anomaly"
	AuditMismatch Code = "audit_mismatch"
	NoGrants      Code = "no_grants"
	ConfigError   Code = "config_error"
	ShortCycle    Code = "short_cycle"
	StoreError    Code = "store_error"

	Error Code = "error" // generic fallback
)

// E is an optional wrapper that keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Wrap builds an *E with the given code, operation, and cause.
func Wrap(c Code, op string, err error) *E {
	return &E{C: c, Op: op, Err: err}
}
