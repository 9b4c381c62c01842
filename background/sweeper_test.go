package background

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/voltmarket-go/config"
)

type recordingNonceStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (r *recordingNonceStore) PurgeExpiredNonces(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	return 1, nil
}

func (r *recordingNonceStore) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cutoffs)
}

type recordingTimeslotStore struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingTimeslotStore) SweepPastEnd(_ context.Context, _ time.Time) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return 0, 0, nil
}

func (r *recordingTimeslotStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestSweeper(nonces NonceStore, slots TimeslotStore, interval time.Duration) *Sweeper {
	return NewSweeper(config.SweepConfig{
		Interval:   interval,
		NonceGrace: time.Hour,
	}, nonces, slots, zerolog.Nop())
}

func TestSweeperRunsImmediatelyAndStops(t *testing.T) {
	nonces := &recordingNonceStore{}
	slots := &recordingTimeslotStore{}
	s := newTestSweeper(nonces, slots, time.Hour)

	s.Start()
	// The first pass runs before the first tick; a long interval means any
	// observed call must be that immediate pass.
	require.Eventually(t, func() bool {
		return nonces.calls() >= 1 && slots.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	after := nonces.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, nonces.calls(), "no passes after Stop")
}

func TestSweeperTicks(t *testing.T) {
	nonces := &recordingNonceStore{}
	slots := &recordingTimeslotStore{}
	s := newTestSweeper(nonces, slots, 20*time.Millisecond)

	s.Start()
	require.Eventually(t, func() bool {
		return slots.count() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSweeperAppliesNonceGrace(t *testing.T) {
	nonces := &recordingNonceStore{}
	slots := &recordingTimeslotStore{}
	s := newTestSweeper(nonces, slots, time.Hour)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Start()
	require.Eventually(t, func() bool { return nonces.calls() >= 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	nonces.mu.Lock()
	defer nonces.mu.Unlock()
	assert.Equal(t, fixed.Add(-time.Hour), nonces.cutoffs[0])
}
