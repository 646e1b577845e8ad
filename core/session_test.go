package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"kegbotd/store"
	"kegbotd/types"
)

// seqFlow reports a pre-programmed sequence of cumulative tick readings,
// one per ReadTicks call, then repeats its last value forever. This gives
// tests exact control over the deltas RunPourSession's tick-sanity filter
// sees, including negative and over-ceiling cases a free-running counter
// can't be coaxed into deterministically.
type seqFlow struct {
	mu     sync.Mutex
	seq    []uint32
	idx    int
	fridge types.FridgeState
}

func newSeqFlow(seq ...uint32) *seqFlow {
	return &seqFlow{seq: seq, fridge: types.FridgeUnknown}
}

func (f *seqFlow) ReadTicks() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seq) == 0 {
		return 0, nil
	}
	if f.idx >= len(f.seq) {
		return f.seq[len(f.seq)-1], nil
	}
	v := f.seq[f.idx]
	f.idx++
	return v, nil
}

func (f *seqFlow) ClearTicks() error  { return nil }
func (f *seqFlow) OpenValve() error   { return nil }
func (f *seqFlow) CloseValve() error  { return nil }
func (f *seqFlow) EnableFridge() error  { f.fridge = types.FridgeOn; return nil }
func (f *seqFlow) DisableFridge() error { f.fridge = types.FridgeOff; return nil }
func (f *seqFlow) FridgeStatus() (types.FridgeState, error) { return f.fridge, nil }

func basePourDeps(flow FlowController, fakeStore *store.Fake, metrics *Metrics) PourDeps {
	return PourDeps{
		Flow:     flow,
		Keys:     fakeStore,
		Users:    fakeStore,
		Grants:   fakeStore,
		Kegs:     fakeStore,
		Drinks:   fakeStore,
		Presence: NewPresenceMap(),
		Timeouts: NewTimeoutSet(),
		Bus:      nil,
		Metrics:  metrics,
		Log:      testLogger(),
		Config: PourConfig{
			PollTime:         2 * time.Millisecond,
			IBIdleTimeout:    10 * time.Second,
			IBMissingCeiling: 10 * time.Second,
		},
		LastTicks: &LastFlowTicks{},
	}
}

func TestRunPourSession_UnknownTokenEndsUserLeft(t *testing.T) {
	fakeStore := store.NewFake()
	deps := basePourDeps(newSeqFlow(), fakeStore, nil)

	reason, err := RunPourSession(context.Background(), types.Token(1), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != types.ReasonUserLeft {
		t.Fatalf("got %v, want %v", reason, types.ReasonUserLeft)
	}
}

func TestRunPourSession_NoGrantsEndsGrantsExhausted(t *testing.T) {
	fakeStore := store.NewFake()
	fakeStore.Keys[1] = &types.Key{TokenID: 1, UserID: 1}
	fakeStore.Users[1] = &types.User{ID: 1, Name: "bob", Weight: 180, Gender: types.Male}
	fakeStore.Keg = &types.Keg{ID: 1, AlcoholContentPct: 5.0, TicksPerOunce: 100}

	deps := basePourDeps(newSeqFlow(), fakeStore, nil)

	reason, err := RunPourSession(context.Background(), types.Token(1), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != types.ReasonGrantsExhausted {
		t.Fatalf("got %v, want %v", reason, types.ReasonGrantsExhausted)
	}
}

func TestRunPourSession_MissingTooLongEndsUserLeft(t *testing.T) {
	fakeStore := store.NewFake()
	fakeStore.Keys[1] = &types.Key{TokenID: 1, UserID: 1}
	fakeStore.Users[1] = &types.User{ID: 1, Name: "bob", Weight: 180, Gender: types.Male}
	fakeStore.Keg = &types.Keg{ID: 1, AlcoholContentPct: 5.0, TicksPerOunce: 100}
	fakeStore.Grants[1] = []*types.Grant{
		{ID: 1, UserID: 1, Policy: types.Policy{ID: 1}, RemainingOunces: 1000},
	}

	deps := basePourDeps(newSeqFlow(0, 0, 0), fakeStore, nil)
	// Presence never records this token as seen, so missingTooLong is true
	// from the very first poll — the idle timer never gets a chance to fire.
	deps.Config.IBMissingCeiling = time.Millisecond

	reason, err := RunPourSession(context.Background(), types.Token(1), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != types.ReasonUserLeft {
		t.Fatalf("got %v, want %v (idle timer must never be the cause here)", reason, types.ReasonUserLeft)
	}
}

func TestRunPourSession_IdleTimeoutEndsTimedOut(t *testing.T) {
	fakeStore := store.NewFake()
	fakeStore.Keys[1] = &types.Key{TokenID: 1, UserID: 1}
	fakeStore.Users[1] = &types.User{ID: 1, Name: "bob", Weight: 180, Gender: types.Male}
	fakeStore.Keg = &types.Keg{ID: 1, AlcoholContentPct: 5.0, TicksPerOunce: 100}
	fakeStore.Grants[1] = []*types.Grant{
		{ID: 1, UserID: 1, Policy: types.Policy{ID: 1}, RemainingOunces: 1000},
	}

	deps := basePourDeps(newSeqFlow(0, 0, 0, 0, 0, 0), fakeStore, nil)
	deps.Presence.Publish([]types.Token{1}, time.Now())
	deps.Config.IBIdleTimeout = 5 * time.Millisecond
	deps.Config.IBMissingCeiling = time.Second

	reason, err := RunPourSession(context.Background(), types.Token(1), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != types.ReasonTimedOut {
		t.Fatalf("got %v, want %v", reason, types.ReasonTimedOut)
	}
}

func TestRunPourSession_ShutdownOnContextCancel(t *testing.T) {
	fakeStore := store.NewFake()
	fakeStore.Keys[1] = &types.Key{TokenID: 1, UserID: 1}
	fakeStore.Users[1] = &types.User{ID: 1, Name: "bob", Weight: 180, Gender: types.Male}
	fakeStore.Keg = &types.Keg{ID: 1, AlcoholContentPct: 5.0, TicksPerOunce: 100}
	fakeStore.Grants[1] = []*types.Grant{
		{ID: 1, UserID: 1, Policy: types.Policy{ID: 1}, RemainingOunces: 1000},
	}

	deps := basePourDeps(newSeqFlow(0, 0, 0), fakeStore, nil)
	deps.Presence.Publish([]types.Token{1}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	reason, err := RunPourSession(ctx, types.Token(1), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != types.ReasonShutdown {
		t.Fatalf("got %v, want %v", reason, types.ReasonShutdown)
	}
}

func TestRunPourSession_TickSanityFilterBoundary(t *testing.T) {
	fakeStore := store.NewFake()
	fakeStore.Keys[1] = &types.Key{TokenID: 1, UserID: 1}
	fakeStore.Users[1] = &types.User{ID: 1, Name: "bob", Weight: 180, Gender: types.Male}
	fakeStore.Keg = &types.Keg{ID: 1, AlcoholContentPct: 5.0, TicksPerOunce: 100}
	fakeStore.Grants[1] = []*types.Grant{
		{ID: 1, UserID: 1, Policy: types.Policy{ID: 1}, RemainingOunces: 1000},
	}

	// Deltas, against a baseline of 0: +300 (accepted), +500 (accepted,
	// exactly at tickSanityMax), +501 (rejected, one past the ceiling),
	// -301 (rejected, negative), +300 (accepted). Expected accepted total:
	// 300 + 500 + 300 = 1100.
	flow := newSeqFlow(300, 800, 1301, 1000, 1300)
	metrics := NewMetrics(prometheus.NewRegistry())
	deps := basePourDeps(flow, fakeStore, metrics)
	deps.Presence.Publish([]types.Token{1}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	reason, err := RunPourSession(ctx, types.Token(1), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != types.ReasonShutdown {
		t.Fatalf("got %v, want %v", reason, types.ReasonShutdown)
	}
	if len(fakeStore.Drinks) != 1 {
		t.Fatalf("expected exactly one drink record, got %d", len(fakeStore.Drinks))
	}
	if got := fakeStore.Drinks[0].TotalTicks; got != 1100 {
		t.Fatalf("got total ticks %d, want 1100", got)
	}

	if anomalies := testutil.ToFloat64(metrics.TickAnomalies); anomalies != 2 {
		t.Fatalf("got %v tick anomalies, want 2", anomalies)
	}
}

func TestRunPourSession_GrantExhaustionSpendsAndAdvances(t *testing.T) {
	fakeStore := store.NewFake()
	fakeStore.Keys[1] = &types.Key{TokenID: 1, UserID: 1}
	fakeStore.Users[1] = &types.User{ID: 1, Name: "bob", Weight: 180, Gender: types.Male}
	fakeStore.Keg = &types.Keg{ID: 1, AlcoholContentPct: 5.0, TicksPerOunce: 100}
	grant1 := &types.Grant{ID: 1, UserID: 1, Policy: types.Policy{ID: 1, UnitCostPerOunce: 0}, RemainingOunces: 2}
	grant2 := &types.Grant{ID: 2, UserID: 1, Policy: types.Policy{ID: 2, UnitCostPerOunce: 1}, RemainingOunces: 5}
	fakeStore.Grants[1] = []*types.Grant{grant1, grant2}

	// First delta is 250 ticks == 2.5 oz, which exhausts grant1 (2 oz
	// remaining) in a single poll. Remaining deltas land on grant2.
	flow := newSeqFlow(250, 300, 350)
	deps := basePourDeps(flow, fakeStore, nil)
	deps.Presence.Publish([]types.Token{1}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	reason, err := RunPourSession(ctx, types.Token(1), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != types.ReasonShutdown {
		t.Fatalf("got %v, want %v", reason, types.ReasonShutdown)
	}

	if grant1.RemainingOunces != 0 {
		t.Fatalf("expected grant1 fully spent (clamped at 0), got %v", grant1.RemainingOunces)
	}
	if grant2.RemainingOunces >= 5 {
		t.Fatalf("expected grant2 to have been spent against, still at %v", grant2.RemainingOunces)
	}
}
