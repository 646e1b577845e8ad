package core

import (
	"testing"
	"time"

	"kegbotd/types"
)

func TestInstantBAC_ZeroWeightReturnsZero(t *testing.T) {
	user := &types.User{ID: 1, Weight: 0, Gender: types.Male}
	keg := &types.Keg{AlcoholContentPct: 5.0, TicksPerOunce: 100}
	if bac := InstantBAC(user, keg, 500); bac != 0 {
		t.Fatalf("got %v, want 0", bac)
	}
}

func TestInstantBAC_NegativeWeightReturnsZero(t *testing.T) {
	user := &types.User{ID: 1, Weight: -10, Gender: types.Female}
	keg := &types.Keg{AlcoholContentPct: 5.0, TicksPerOunce: 100}
	if bac := InstantBAC(user, keg, 500); bac != 0 {
		t.Fatalf("got %v, want 0", bac)
	}
}

func TestInstantBAC_PositiveForKnownWeight(t *testing.T) {
	user := &types.User{ID: 1, Weight: 180, Gender: types.Male}
	keg := &types.Keg{AlcoholContentPct: 5.0, TicksPerOunce: 100}

	// 500 ticks at 100 ticks/oz = 5 oz poured.
	bac := InstantBAC(user, keg, 500)
	if bac <= 0 {
		t.Fatalf("expected a positive BAC contribution, got %v", bac)
	}
}

func TestInstantBAC_FemaleHigherThanMaleSameWeight(t *testing.T) {
	keg := &types.Keg{AlcoholContentPct: 5.0, TicksPerOunce: 100}
	male := &types.User{ID: 1, Weight: 150, Gender: types.Male}
	female := &types.User{ID: 2, Weight: 150, Gender: types.Female}

	bacMale := InstantBAC(male, keg, 500)
	bacFemale := InstantBAC(female, keg, 500)
	if bacFemale <= bacMale {
		t.Fatalf("expected female estimate (%v) to exceed male (%v) for identical weight/volume", bacFemale, bacMale)
	}
}

func TestDecomposeBAC_DecaysTowardZero(t *testing.T) {
	got := DecomposeBAC(0.08, time.Hour)
	if got <= 0 || got >= 0.08 {
		t.Fatalf("expected partial decay between 0 and 0.08, got %v", got)
	}
}

func TestDecomposeBAC_FloorsAtZero(t *testing.T) {
	got := DecomposeBAC(0.02, 10*time.Hour)
	if got != 0 {
		t.Fatalf("expected decay to floor at 0, got %v", got)
	}
}

func TestDecomposeBAC_ZeroElapsedReturnsPrior(t *testing.T) {
	got := DecomposeBAC(0.05, 0)
	if got != 0.05 {
		t.Fatalf("got %v, want 0.05 unchanged", got)
	}
}
