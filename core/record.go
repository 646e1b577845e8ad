package core

import (
	"time"

	"github.com/google/uuid"

	"kegbotd/store"
	"kegbotd/types"
)

// DrinkRecord is an in-progress accumulator bound to one (user, keg) pour.
// It collects zero or more grant-boundary fragments during the pour and is
// finalized once with Emit. The caller keeps the invariant that the sum of
// every fragment's ticks plus the final grant's ticks equals the total
// ticks passed to Emit; the record itself does not check it. Each fragment spends its grant as soon as it is
// added, so a grant's persisted remaining allowance reflects consumption
// immediately rather than only at pour end.
type DrinkRecord struct {
	id        string
	store     store.DrinkStore
	grants    store.GrantStore
	userID    int64
	keg       *types.Keg
	fragments []types.Fragment
}

// NewDrinkRecord starts a new accumulator, generating a UUID for storage
// correlation.
func NewDrinkRecord(drinkStore store.DrinkStore, grantStore store.GrantStore, userID int64, keg *types.Keg) *DrinkRecord {
	return &DrinkRecord{
		id:     uuid.NewString(),
		store:  drinkStore,
		grants: grantStore,
		userID: userID,
		keg:    keg,
	}
}

// ID returns the record's generated identifier.
func (r *DrinkRecord) ID() string { return r.id }

// AddFragment records ticks consumed against a grant that was exhausted
// mid-pour, before the session moved on to the next grant, and spends
// those ticks against the grant's persisted remaining allowance.
func (r *DrinkRecord) AddFragment(grant *types.Grant, ticks uint32) error {
	r.fragments = append(r.fragments, types.Fragment{Grant: grant, Ticks: ticks})
	return r.grants.SpendGrant(grant.ID, r.keg.DrinkOunces(ticks))
}

// Emit spends lastGrant's final ticks, then finalizes the record: the last
// grant's ticks plus every prior fragment's ticks must equal totalTicks.
// Persists the completed pour via the DrinkStore.
func (r *DrinkRecord) Emit(totalTicks uint32, lastGrant *types.Grant, lastGrantTicks uint32, bac float64) error {
	if err := r.grants.SpendGrant(lastGrant.ID, r.keg.DrinkOunces(lastGrantTicks)); err != nil {
		return err
	}
	ounces := r.keg.DrinkOunces(totalTicks)
	return r.store.RecordDrink(r.id, r.userID, r.keg.ID, totalTicks, ounces, bac, time.Now())
}
