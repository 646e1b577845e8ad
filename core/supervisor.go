package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kegbotd/bus"
	"kegbotd/chatbot"
	"kegbotd/store"
	"kegbotd/types"
)

// evictionInterval is the Supervisor's relaxed idle-loop cadence: how
// often it re-scans the present-set for an eligible token and evicts stale
// TimeoutSet entries when no pour is running.
const evictionInterval = 500 * time.Millisecond

// SupervisorConfig carries every timing the Supervisor and the sessions it
// starts depend on.
type SupervisorConfig struct {
	IBRefreshTimeout      time.Duration
	IBIdleMinDisconnected time.Duration
	IBMissingCeiling      time.Duration
	IBIdleTimeout         time.Duration
	PollTime              time.Duration
	ShutdownGrace         time.Duration
}

// Supervisor owns the full process lifecycle: it spawns BusScanner and
// ThermoController, runs the main authorization loop that starts
// PourSessions, and exposes the narrow callback surface the admin shell
// and chat bot are allowed to reach into.
type Supervisor struct {
	cfg SupervisorConfig
	log *logrus.Logger

	flow     FlowController
	sensor   TemperatureSensor
	scanner  *BusScanner
	thermo   *ThermoController
	presence *PresenceMap
	timeouts *TimeoutSet
	lastTick *LastFlowTicks

	keys   store.KeyStore
	users  store.UserStore
	grants store.GrantStore
	kegs   store.KegStore
	drinks store.DrinkStore

	busConn *bus.Connection
	metrics *Metrics
	bot     chatbot.Bot

	activeMu sync.Mutex
	active   bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewSupervisor wires every dependency into a running Supervisor. The
// caller remains responsible for starting/stopping the underlying devices.
func NewSupervisor(
	cfg SupervisorConfig,
	flow FlowController,
	scanDriver BusScannerDriver,
	tempSensor TemperatureSensor,
	keys store.KeyStore,
	users store.UserStore,
	grants store.GrantStore,
	kegs store.KegStore,
	drinks store.DrinkStore,
	thermoStore store.ThermoStore,
	busConn *bus.Connection,
	metrics *Metrics,
	thermoCfg ThermoConfig,
	bot chatbot.Bot,
	log *logrus.Logger,
) *Supervisor {
	presence := NewPresenceMap()

	s := &Supervisor{
		cfg:      cfg,
		log:      log,
		flow:     flow,
		sensor:   tempSensor,
		presence: presence,
		timeouts: NewTimeoutSet(),
		lastTick: &LastFlowTicks{},
		keys:     keys,
		users:    users,
		grants:   grants,
		kegs:     kegs,
		drinks:   drinks,
		busConn:  busConn,
		metrics:  metrics,
		bot:      bot,
	}
	var busMu sync.Mutex
	s.scanner = NewBusScanner(scanDriver, presence, cfg.IBRefreshTimeout, &busMu, log)
	s.thermo = NewThermoController(tempSensor, flow, thermoStore, busConn, metrics, &busMu, thermoCfg, log)
	return s
}

// Run starts BusScanner and ThermoController as goroutines joined by wg,
// then runs the main authorization loop on the calling goroutine until ctx
// is cancelled. cancel must cancel that same ctx — Run records it so Quit
// can trigger the identical shutdown path an OS signal would, rather than
// cancelling a private child context none of the caller's other workers
// (the admin shell, a metrics server) are watching. On cancellation, Run
// arms a force-exit timer so a wedged goroutine cannot hang shutdown
// forever, then waits for wg before returning.
func (s *Supervisor) Run(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	log := s.log.WithField("component", "main")

	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.scanner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.thermo.Run(ctx)
	}()

	s.mainLoop(ctx, log)

	if s.cfg.ShutdownGrace > 0 {
		go func() {
			time.AfterFunc(s.cfg.ShutdownGrace, func() {
				panic("supervisor: shutdown exceeded grace period")
			})
		}()
	}
	wg.Wait()
}

func (s *Supervisor) mainLoop(ctx context.Context, log *logrus.Entry) {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.timeouts.EvictStale(s.presence, s.cfg.IBIdleMinDisconnected, time.Now())

			if s.isActive() {
				continue
			}
			token, ok := s.findEligibleToken()
			if !ok {
				continue
			}
			s.runSession(ctx, token, log)
		}
	}
}

func (s *Supervisor) findEligibleToken() (types.Token, bool) {
	for _, t := range s.presence.Present() {
		if s.timeouts.Contains(t) {
			continue
		}
		lastSeen, ok := s.presence.LastSeen(t)
		if !ok || time.Since(lastSeen) >= s.cfg.IBMissingCeiling {
			continue
		}
		if !s.keys.KnownKey(uint64(t)) {
			continue
		}
		return t, true
	}
	return types.Token(0), false
}

func (s *Supervisor) runSession(ctx context.Context, token types.Token, log *logrus.Entry) {
	s.setActive(true)
	defer s.setActive(false)

	deps := PourDeps{
		Flow:     s.flow,
		Keys:     s.keys,
		Users:    s.users,
		Grants:   s.grants,
		Kegs:     s.kegs,
		Drinks:   s.drinks,
		Presence: s.presence,
		Timeouts: s.timeouts,
		Bus:      s.busConn,
		Metrics:  s.metrics,
		Log:      s.log,
		Config: PourConfig{
			PollTime:         s.cfg.PollTime,
			IBIdleTimeout:    s.cfg.IBIdleTimeout,
			IBMissingCeiling: s.cfg.IBMissingCeiling,
		},
		LastTicks: s.lastTick,
	}

	reason, err := RunPourSession(ctx, token, deps)
	if err != nil {
		log.WithError(err).Error("pour session ended with error")
	}
	log.WithField("reason", reason).Info("pour session ended")
}

func (s *Supervisor) isActive() bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.active
}

func (s *Supervisor) setActive(active bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.active = active
}

// -----------------------------------------------------------------------------
// Narrow callback surface for the admin shell and chat bot.
// -----------------------------------------------------------------------------

// AddUser delegates to UserStore, used by the admin shell's adduser
// command.
func (s *Supervisor) AddUser(name string, weight float64, gender types.Gender) (*types.User, error) {
	return s.users.AddUser(name, weight, gender)
}

// CurrentTemperature answers the admin shell's showtemp command.
func (s *Supervisor) CurrentTemperature() (float64, error) {
	return s.sensor.ReadCelsius()
}

// ChatBot gives the admin shell's bot subcommand something to drive.
func (s *Supervisor) ChatBot() chatbot.Bot {
	return s.bot
}

// Quit cancels the context passed to Run, unwinding the main loop and both
// background workers the same way an OS shutdown signal would. Used by the
// admin shell's quit command. Safe to call before Run or more than once.
func (s *Supervisor) Quit() {
	s.cancelMu.Lock()
	cancel := s.cancel
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
