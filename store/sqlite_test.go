package store

import (
	"path/filepath"
	"testing"
	"time"

	"kegbotd/types"
)

func testTables() TableNames {
	return TableNames{
		Drink:  "drinks",
		User:   "users",
		Key:    "keys",
		Policy: "policies",
		Grant:  "grants",
		Keg:    "kegs",
		Thermo: "thermo_log",
	}
}

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kegbot.sqlite")
	s, err := Open(path, testTables())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_UserRoundTrip(t *testing.T) {
	s := openTestDB(t)

	u, err := s.AddUser("ada", 140, types.Female)
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	got, err := s.GetUser(u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Name != "ada" || got.Weight != 140 || got.Gender != types.Female {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestSQLite_KeyLookup(t *testing.T) {
	s := openTestDB(t)

	if _, err := s.db.Exec(`INSERT INTO keys (token_id, user_id) VALUES (?, ?)`, uint64(0xDEAD), int64(7)); err != nil {
		t.Fatalf("insert key: %v", err)
	}

	if !s.KnownKey(0xDEAD) {
		t.Fatal("expected KnownKey true")
	}
	k, ok := s.GetKey(0xDEAD)
	if !ok || k.UserID != 7 {
		t.Fatalf("unexpected key lookup: %+v, ok=%v", k, ok)
	}
	if s.KnownKey(0xBEEF) {
		t.Fatal("expected unknown token to report false")
	}
}

func TestSQLite_GrantOrderingAndSpend(t *testing.T) {
	s := openTestDB(t)

	u, _ := s.AddUser("bob", 180, types.Male)

	if _, err := s.db.Exec(`INSERT INTO policies (id, description, unit_cost_per_ounce) VALUES (1, 'free', 0), (2, 'paid', 1.0)`); err != nil {
		t.Fatalf("insert policies: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO grants (id, user_id, policy_id, remaining_ounces, expires_at) VALUES
		(1, ?, 2, 10, NULL), (2, ?, 1, 5, NULL)`, u.ID, u.ID); err != nil {
		t.Fatalf("insert grants: %v", err)
	}

	grants, err := s.GetGrants(u)
	if err != nil {
		t.Fatalf("GetGrants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}

	ordered := s.OrderGrants(grants)
	if ordered[0].Policy.UnitCostPerOunce != 0 {
		t.Fatalf("expected cheapest-first ordering, got %+v", ordered)
	}

	if err := s.SpendGrant(ordered[0].ID, 5); err != nil {
		t.Fatalf("SpendGrant: %v", err)
	}
	grants, _ = s.GetGrants(u)
	for _, g := range grants {
		if g.ID == ordered[0].ID && g.RemainingOunces != 0 {
			t.Fatalf("expected spent grant to be exhausted, got %v", g.RemainingOunces)
		}
	}
}

func TestSQLite_DrinkRecordAndLastBAC(t *testing.T) {
	s := openTestDB(t)
	u, _ := s.AddUser("cleo", 130, types.Female)

	if _, err := s.db.Exec(`INSERT INTO kegs (id, alcohol_content_pct, ticks_per_ounce, is_current) VALUES (1, 5.0, 100, 1)`); err != nil {
		t.Fatalf("insert keg: %v", err)
	}
	keg, err := s.GetCurrentKeg()
	if err != nil {
		t.Fatalf("GetCurrentKeg: %v", err)
	}

	now := time.Now()
	if err := s.RecordDrink("rec-1", u.ID, keg.ID, 500, 5.0, 0.02, now); err != nil {
		t.Fatalf("RecordDrink: %v", err)
	}

	bac, at, err := s.GetLastDrink(u.ID)
	if err != nil {
		t.Fatalf("GetLastDrink: %v", err)
	}
	if bac != 0.02 || at.Unix() != now.Unix() {
		t.Fatalf("unexpected last drink: bac=%v at=%v", bac, at)
	}
}

func TestSQLite_GetLastDrink_NoPriorDrinkReturnsZero(t *testing.T) {
	s := openTestDB(t)
	bac, at, err := s.GetLastDrink(999)
	if err != nil {
		t.Fatalf("GetLastDrink: %v", err)
	}
	if bac != 0 || !at.IsZero() {
		t.Fatalf("expected zero-value result for unknown user, got bac=%v at=%v", bac, at)
	}
}

func TestSQLite_ThermoTransitionLog(t *testing.T) {
	s := openTestDB(t)
	if err := s.LogTransition(types.FridgeOn, 3.7, time.Now()); err != nil {
		t.Fatalf("LogTransition: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM thermo_log`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 logged transition, got %d", count)
	}
}
