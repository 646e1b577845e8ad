package store

import (
	"sort"
	"time"

	"kegbotd/types"
)

// Fake is an in-memory implementation of every store interface, used by
// the core package's unit tests. It has no concurrency guarantees beyond
// what a single test goroutine needs.
type Fake struct {
	Keys    map[uint64]*types.Key
	Users   map[int64]*types.User
	Grants  map[int64][]*types.Grant
	Keg     *types.Keg
	Drinks  []FakeDrink
	LastBAC map[int64]FakeDrink

	Transitions []FakeTransition

	nextUserID int64
}

type FakeDrink struct {
	RecordID   string
	UserID     int64
	KegID      int64
	TotalTicks uint32
	Ounces     float64
	BAC        float64
	At         time.Time
}

type FakeTransition struct {
	State types.FridgeState
	TempC float64
	At    time.Time
}

// NewFake builds an empty Fake store set.
func NewFake() *Fake {
	return &Fake{
		Keys:    map[uint64]*types.Key{},
		Users:   map[int64]*types.User{},
		Grants:  map[int64][]*types.Grant{},
		LastBAC: map[int64]FakeDrink{},
	}
}

var (
	_ KeyStore    = (*Fake)(nil)
	_ UserStore   = (*Fake)(nil)
	_ GrantStore  = (*Fake)(nil)
	_ KegStore    = (*Fake)(nil)
	_ DrinkStore  = (*Fake)(nil)
	_ ThermoStore = (*Fake)(nil)
)

func (f *Fake) KnownKey(tokenID uint64) bool {
	_, ok := f.Keys[tokenID]
	return ok
}

func (f *Fake) GetKey(tokenID uint64) (*types.Key, bool) {
	k, ok := f.Keys[tokenID]
	return k, ok
}

func (f *Fake) GetUser(ownerID int64) (*types.User, error) {
	u, ok := f.Users[ownerID]
	if !ok {
		return nil, errNotFound("user")
	}
	return u, nil
}

func (f *Fake) AddUser(name string, weight float64, gender types.Gender) (*types.User, error) {
	f.nextUserID++
	u := &types.User{ID: f.nextUserID, Name: name, Weight: weight, Gender: gender}
	f.Users[u.ID] = u
	return u, nil
}

func (f *Fake) GetGrants(user *types.User) ([]*types.Grant, error) {
	grants := f.Grants[user.ID]
	out := make([]*types.Grant, 0, len(grants))
	for _, g := range grants {
		if g.RemainingOunces > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *Fake) OrderGrants(grants []*types.Grant) []*types.Grant {
	sorted := make([]*types.Grant, len(grants))
	copy(sorted, grants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Policy.UnitCostPerOunce != sorted[j].Policy.UnitCostPerOunce {
			return sorted[i].Policy.UnitCostPerOunce < sorted[j].Policy.UnitCostPerOunce
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func (f *Fake) SpendGrant(grantID int64, ouncesSpent float64) error {
	for _, grants := range f.Grants {
		for _, g := range grants {
			if g.ID == grantID {
				g.RemainingOunces -= ouncesSpent
				if g.RemainingOunces < 0 {
					g.RemainingOunces = 0
				}
				return nil
			}
		}
	}
	return errNotFound("grant")
}

func (f *Fake) GetCurrentKeg() (*types.Keg, error) {
	if f.Keg == nil {
		return nil, errNotFound("keg")
	}
	return f.Keg, nil
}

func (f *Fake) GetLastDrink(userID int64) (float64, time.Time, error) {
	d, ok := f.LastBAC[userID]
	if !ok {
		return 0, time.Time{}, nil
	}
	return d.BAC, d.At, nil
}

func (f *Fake) RecordDrink(recordID string, userID int64, kegID int64, totalTicks uint32, ounces float64, bac float64, at time.Time) error {
	d := FakeDrink{RecordID: recordID, UserID: userID, KegID: kegID, TotalTicks: totalTicks, Ounces: ounces, BAC: bac, At: at}
	f.Drinks = append(f.Drinks, d)
	f.LastBAC[userID] = d
	return nil
}

func (f *Fake) LogTransition(state types.FridgeState, tempC float64, at time.Time) error {
	f.Transitions = append(f.Transitions, FakeTransition{State: state, TempC: tempC, At: at})
	return nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) + ": not found" }

func errNotFound(what string) error { return notFoundError(what) }
