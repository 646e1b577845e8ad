package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kegbotd/bus"
	"kegbotd/store"
	"kegbotd/types"
)

// tickSanityMax is the largest single-poll tick delta accepted as real
// flow; anything larger is a hardware glitch, a counter wrap, or an I/O
// error and is discarded rather than added to the pour's total.
const tickSanityMax = 500

// PourConfig carries every timing the session's state machine needs.
type PourConfig struct {
	PollTime         time.Duration
	IBIdleTimeout    time.Duration
	IBMissingCeiling time.Duration
}

// PourDeps bundles everything a PourSession needs from the outside world.
// It executes on the Supervisor's goroutine; it never spawns a worker
// goroutine of its own, aside from the idle timer.
type PourDeps struct {
	Flow      FlowController
	Keys      store.KeyStore
	Users     store.UserStore
	Grants    store.GrantStore
	Kegs      store.KegStore
	Drinks    store.DrinkStore
	Presence  *PresenceMap
	Timeouts  *TimeoutSet
	Bus       *bus.Connection
	Metrics   *Metrics
	Log       *logrus.Logger
	Config    PourConfig
	LastTicks *LastFlowTicks
}

// LastFlowTicks is the cross-session audit state named FlowState in the
// data model: the previous pour's total tick count, compared against the
// device's free-running counter at the start of the next pour to detect a
// leak or tamper event. Written only by PourSession at session end, read
// only by PourSession at session start — no contention, but a mutex keeps
// it safe if a future caller reads it concurrently (e.g. an admin command).
type LastFlowTicks struct {
	mu      sync.Mutex
	ticks   uint32
	hasPrev bool
}

// Read returns the stored value and whether one has ever been recorded.
func (l *LastFlowTicks) Read() (uint32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks, l.hasPrev
}

// Store records ticks as the new audit baseline.
func (l *LastFlowTicks) Store(ticks uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = ticks
	l.hasPrev = true
}

// RunPourSession drives one token through Authorizing -> Priming ->
// Flowing -> Terminating -> Recorded, or returns early from Authorizing if
// the token has no usable grants. It returns the termination reason once
// the session has fully wound down (valve closed, drink recorded).
func RunPourSession(ctx context.Context, token types.Token, deps PourDeps) (types.TerminationReason, error) {
	log := deps.Log.WithFields(logrus.Fields{"component": "main", "token": fmt.Sprintf("%016x", uint64(token))})

	// Authorizing
	key, ok := deps.Keys.GetKey(uint64(token))
	if !ok {
		deps.Timeouts.Add(token)
		return types.ReasonUserLeft, nil
	}
	user, err := deps.Users.GetUser(key.UserID)
	if err != nil {
		deps.Timeouts.Add(token)
		return types.ReasonUserLeft, nil
	}
	keg, err := deps.Kegs.GetCurrentKeg()
	if err != nil {
		deps.Timeouts.Add(token)
		return types.ReasonUserLeft, nil
	}

	ledger := NewGrantLedger(deps.Grants, user)
	grant, ok := ledger.NextGrant()
	if !ok {
		deps.Timeouts.Add(token)
		return types.ReasonGrantsExhausted, nil
	}

	// Priming: flow audit, then clear the counter.
	auditFlow(deps, log)
	if err := deps.Flow.ClearTicks(); err != nil {
		deps.Timeouts.Add(token)
		return types.ReasonUserLeft, err
	}

	// Flowing
	if err := deps.Flow.OpenValve(); err != nil {
		return types.ReasonUserLeft, err
	}
	record := NewDrinkRecord(deps.Drinks, deps.Grants, user.ID, keg)

	idleTimer := time.AfterFunc(deps.Config.IBIdleTimeout, func() {
		deps.Timeouts.Add(token)
	})
	defer idleTimer.Stop()

	publishPourStart(deps, user.ID)

	var (
		totalTicks  uint32
		grantTicks  uint32
		lastReading uint32
		reason      types.TerminationReason
	)

	for reason == "" {
		time.Sleep(deps.Config.PollTime)

		nowTicks, err := deps.Flow.ReadTicks()
		if err == nil {
			delta := int64(nowTicks) - int64(lastReading)
			if delta < 0 || delta > tickSanityMax {
				deps.Metrics.observeTickAnomaly()
				log.WithField("delta", delta).Warn("discarding flow sample: tick sanity filter")
			} else {
				totalTicks += uint32(delta)
				grantTicks += uint32(delta)
				deps.Metrics.observeTicks(uint32(delta))
			}
			if nowTicks > 0 {
				lastReading = nowTicks
			} else {
				lastReading = 0
			}
		} else {
			log.WithError(err).Error("flow tick read failed; ending pour")
		}

		publishPourProgress(deps, user.ID, keg, totalTicks)

		switch {
		case ctx.Err() != nil:
			reason = types.ReasonShutdown
		case err != nil:
			reason = types.ReasonShutdown
		case deps.Timeouts.Contains(token):
			// The only way a token enters TimeoutSet while Flowing is the
			// idle timer above firing.
			reason = types.ReasonTimedOut
		case missingTooLong(deps.Presence, token, deps.Config.IBMissingCeiling):
			reason = types.ReasonUserLeft
		case ledger.IsExhausted(grant, keg.DrinkOunces(grantTicks)):
			if err := record.AddFragment(grant, grantTicks); err != nil {
				log.WithError(err).Warn("failed to spend exhausted grant")
			}
			grantTicks = 0
			next, ok := ledger.NextGrant()
			if !ok {
				reason = types.ReasonGrantsExhausted
			} else {
				grant = next
			}
		}
	}

	// Terminating
	idleTimer.Stop()
	if err := deps.Flow.CloseValve(); err != nil {
		log.WithError(err).Error("close valve failed; retrying once")
		if err := deps.Flow.CloseValve(); err != nil {
			log.WithError(err).Error("close valve retry failed")
		}
	}
	if nowTicks, err := deps.Flow.ReadTicks(); err == nil {
		delta := int64(nowTicks) - int64(lastReading)
		if delta >= 0 && delta <= tickSanityMax {
			totalTicks += uint32(delta)
			grantTicks += uint32(delta)
			deps.Metrics.observeTicks(uint32(delta))
		} else {
			deps.Metrics.observeTickAnomaly()
		}
	}

	// Recorded
	priorBAC, priorTime, _ := deps.Drinks.GetLastDrink(user.ID)
	bac := InstantBAC(user, keg, totalTicks)
	if !priorTime.IsZero() {
		bac += DecomposeBAC(priorBAC, time.Since(priorTime))
	}
	if err := record.Emit(totalTicks, grant, grantTicks, bac); err != nil {
		log.WithError(err).Error("failed to persist drink record")
	}
	publishPourEnd(deps, user.ID, totalTicks, keg.DrinkOunces(totalTicks), bac)
	deps.LastTicks.Store(totalTicks)
	deps.Metrics.observePour(reason)

	return reason, nil
}

// auditFlow reads the device's current ticks *before* ClearTicks is
// called and compares against the previous session's stored total. Since
// the comparison happens pre-clear against a baseline that itself was
// captured pre-clear last time, this is effectively "did anything tick
// while idle?" rather than a literal equality of free-running counters.
func auditFlow(deps PourDeps, log *logrus.Entry) {
	prevTicks, hasPrev := deps.LastTicks.Read()
	if !hasPrev {
		return
	}
	currentTicks, err := deps.Flow.ReadTicks()
	if err != nil {
		return
	}
	if currentTicks != prevTicks {
		deps.Metrics.observeAuditMismatch()
		log.WithFields(logrus.Fields{
			"component":  "security",
			"prev_ticks": prevTicks,
			"cur_ticks":  currentTicks,
		}).Warn("flow audit mismatch: possible leak or tamper")
	}
}

func missingTooLong(presence *PresenceMap, token types.Token, ceiling time.Duration) bool {
	last, ok := presence.LastSeen(token)
	if !ok {
		return true
	}
	return time.Since(last) > ceiling
}

func publishPourStart(deps PourDeps, userID int64) {
	if deps.Bus == nil {
		return
	}
	deps.Bus.Publish(deps.Bus.NewMessage(bus.TopicPourStart(), userID, false))
}

func publishPourProgress(deps PourDeps, userID int64, keg *types.Keg, totalTicks uint32) {
	if deps.Bus == nil {
		return
	}
	ounces := keg.DrinkOunces(totalTicks)
	deps.Bus.Publish(deps.Bus.NewMessage(bus.TopicPourProgress(), ounces, true))
}

func publishPourEnd(deps PourDeps, userID int64, totalTicks uint32, ounces float64, bac float64) {
	if deps.Bus == nil {
		return
	}
	deps.Bus.Publish(deps.Bus.NewMessage(bus.TopicLastPour(), fmt.Sprintf("%.2f oz, bac=%.4f", ounces, bac), true))
}
