// Package types holds the data model shared across the dispensing control
// loop: tokens, keys, users, policies, grants, kegs, and drink records.
package types

import "time"

// Token is a 64-bit hardware identifier read from the 1-Wire bus. Equality
// is bitwise; tokens are ephemeral references to physical buttons and the
// system never owns them.
type Token uint64

// Key is the persistent association between a token and a user, looked up
// in the KeyStore.
type Key struct {
	TokenID Token
	UserID  int64
}

// Gender affects the water-fraction constant used by the BAC estimate.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// User is opaque to the core except for the fields the BAC math needs.
type User struct {
	ID     int64
	Name   string
	Weight float64 // lbs; 0 or negative means unknown
	Gender Gender
}

// Policy is opaque to the ledger beyond its cost ordering.
type Policy struct {
	ID               int64
	Description      string
	UnitCostPerOunce float64
}

// Grant is a per-user allowance to dispense some volume under a policy.
// It has two independent expiration senses: ExpiresAt (time-expired,
// independent of usage) and the allowance itself (volume-exhausted).
type Grant struct {
	ID              int64
	UserID          int64
	Policy          Policy
	RemainingOunces float64
	ExpiresAt       time.Time // zero value means "never"
}

// TimeExpired reports whether the grant has expired by clock time alone,
// independent of how many ounces have been drawn against it.
func (g *Grant) TimeExpired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}

// VolumeExhausted reports whether ouncesConsumed has reached or exceeded
// the grant's remaining allowance.
func (g *Grant) VolumeExhausted(ouncesConsumed float64) bool {
	return ouncesConsumed >= g.RemainingOunces
}

// Keg is the currently tapped keg. TicksPerOunce is implicit in DrinkOunces.
type Keg struct {
	ID                int64
	AlcoholContentPct float64
	TicksPerOunce     float64
}

// DrinkOunces converts a raw tick count to dispensed ounces for this keg.
func (k *Keg) DrinkOunces(ticks uint32) float64 {
	if k.TicksPerOunce <= 0 {
		return 0
	}
	return float64(ticks) / k.TicksPerOunce
}

// AlcContent returns the keg's alcohol content as a fraction (e.g. 0.05 for
// 5%), the form the BAC math consumes.
func (k *Keg) AlcContent() float64 {
	return k.AlcoholContentPct / 100
}

// Fragment is the (grant, ticks consumed against it) record produced when a
// pour crosses a grant boundary.
type Fragment struct {
	Grant *Grant
	Ticks uint32
}

// FridgeState is the tri-state relay status FlowController reports.
type FridgeState int

const (
	FridgeUnknown FridgeState = iota
	FridgeOn
	FridgeOff
)

func (s FridgeState) String() string {
	switch s {
	case FridgeOn:
		return "on"
	case FridgeOff:
		return "off"
	default:
		return "unknown"
	}
}

// TerminationReason records why a PourSession ended. All values are normal,
// non-fatal outcomes.
type TerminationReason string

const (
	ReasonUserLeft        TerminationReason = "user_left"
	ReasonTimedOut        TerminationReason = "timed_out"
	ReasonGrantsExhausted TerminationReason = "grants_exhausted"
	ReasonShutdown        TerminationReason = "shutdown"
)
