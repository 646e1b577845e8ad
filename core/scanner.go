package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BusScanner periodically enumerates the 1-Wire bus and publishes a
// filtered present-set into a PresenceMap. It holds busMu — the mutex
// ThermoController also holds around each temperature read, so a scan and
// a sensor read never overlap — only for the duration of one refresh; a read error
// leaves the previous published snapshot intact and logs a warning rather
// than aborting.
type BusScanner struct {
	driver   BusScannerDriver
	presence *PresenceMap
	interval time.Duration
	busMu    *sync.Mutex
	log      *logrus.Entry
}

// NewBusScanner builds a scanner over driver, publishing into presence
// every interval. busMu must be the same mutex given to the
// ThermoController sharing this bus.
func NewBusScanner(driver BusScannerDriver, presence *PresenceMap, interval time.Duration, busMu *sync.Mutex, log *logrus.Logger) *BusScanner {
	return &BusScanner{
		driver:   driver,
		presence: presence,
		interval: interval,
		busMu:    busMu,
		log:      log.WithField("component", "flow"),
	}
}

// Run blocks, refreshing on interval until ctx is cancelled.
func (s *BusScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *BusScanner) refresh(ctx context.Context) {
	s.busMu.Lock()
	tokens, err := s.driver.Scan(ctx)
	s.busMu.Unlock()
	if err != nil {
		s.log.WithError(err).Warn("1-wire bus scan failed; keeping previous snapshot")
		return
	}
	s.presence.Publish(tokens, time.Now())
}
