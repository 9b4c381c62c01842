// Package background contains services that run independently of the HTTP
// request-response cycle. In Nest.js terms this is the `@nestjs/schedule`
// corner of the application: periodic jobs with a managed lifecycle.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/voltmarket-go/config"
)

// NonceStore is the slice of the auth store the sweeper needs.
type NonceStore interface {
	PurgeExpiredNonces(ctx context.Context, cutoff time.Time) (int64, error)
}

// TimeslotStore is the slice of the timeslot store the sweeper needs.
type TimeslotStore interface {
	SweepPastEnd(ctx context.Context, at time.Time) (int64, int64, error)
}

// sweepTimeout bounds one full sweep pass.
const sweepTimeout = 30 * time.Second

// Sweeper periodically enforces the time-based parts of the domain that no
// request triggers on its own: expired nonces are purged once past a grace
// period, and timeslots that ran past their end are sealed with their pending
// orders expired.
//
// Lifecycle follows the usual stop-channel + WaitGroup pattern: Start spawns
// the loop, Stop signals it and blocks until the in-flight pass finishes.
type Sweeper struct {
	nonces     NonceStore
	timeslots  TimeslotStore
	interval   time.Duration
	nonceGrace time.Duration
	log        zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup

	// now is swappable in tests.
	now func() time.Time
}

// NewSweeper creates the sweeper from configuration.
func NewSweeper(cfg config.SweepConfig, nonces NonceStore, timeslots TimeslotStore, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		nonces:     nonces,
		timeslots:  timeslots,
		interval:   cfg.Interval,
		nonceGrace: cfg.NonceGrace,
		log:        log.With().Str("component", "sweeper").Logger(),
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the sweep loop. One pass runs immediately so a restarted
// process does not wait a full interval to catch up on overdue work.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().Dur("interval", s.interval).Msg("Background sweeper started")
		s.sweep()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				s.log.Info().Msg("Background sweeper stopping")
				return
			}
		}
	}()
}

// Stop signals the loop and waits for it to exit. Safe to call once.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// sweep runs one pass. Failures are logged and left for the next tick; the
// sweeper never takes the process down.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	now := s.now().UTC()

	purged, err := s.nonces.PurgeExpiredNonces(ctx, now.Add(-s.nonceGrace))
	if err != nil {
		s.log.Error().Err(err).Msg("Nonce purge failed")
	} else if purged > 0 {
		s.log.Info().Int64("purged", purged).Msg("Purged expired nonces")
	}

	sealed, expired, err := s.timeslots.SweepPastEnd(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("Timeslot sweep failed")
		return
	}
	if sealed > 0 || expired > 0 {
		s.log.Info().
			Int64("sealed_timeslots", sealed).
			Int64("expired_orders", expired).
			Msg("Swept past-end timeslots")
	}
}
