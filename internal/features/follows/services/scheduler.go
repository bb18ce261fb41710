package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/models"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// Jitter bounds, as a percentage of the base interval
const (
	minDelay     = 150
	maxDelay     = 200
	defaultDelay = 100
)

// BaseInterval is how often a follow of the given importance is polled
// before jitter.
func BaseInterval(importance int) time.Duration {
	switch {
	case importance < 1:
		return 5 * time.Minute
	case importance < 2:
		return time.Hour
	case importance < 8:
		return 4 * time.Hour
	default:
		return 12 * time.Hour
	}
}

// IsOutOfDate returns how long until f is due. Zero or less means due now.
// A follow that was never fetched counts as fetched at the Unix epoch.
func IsOutOfDate(f *models.Follow, state models.PollState, now time.Time) time.Duration {
	delay := state.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	last := state.LastFetchAt
	if last.IsZero() {
		last = time.Unix(0, 0)
	}
	interval := BaseInterval(f.Importance) * time.Duration(delay) / 100
	return interval - now.Sub(last)
}

// SchedulerState owns the per-follow poll bookkeeping: when each follow was
// last fetched and which follows are being fetched right now.
type SchedulerState struct {
	polls    *xsync.MapOf[string, models.PollState]
	inFlight *xsync.MapOf[string, models.UpdateProgress]
	delay    func() int
}

// NewSchedulerState creates empty scheduler state
func NewSchedulerState() *SchedulerState {
	return &SchedulerState{
		polls:    xsync.NewMapOf[string, models.PollState](),
		inFlight: xsync.NewMapOf[string, models.UpdateProgress](),
		delay:    func() int { return minDelay + rand.IntN(maxDelay-minDelay+1) },
	}
}

// TryBegin marks id as in flight. It fails when a fetch for id is already
// running.
func (s *SchedulerState) TryBegin(id string, now time.Time) bool {
	_, loaded := s.inFlight.LoadOrStore(id, models.UpdateProgress{StartedAt: now})
	return !loaded
}

// Finish clears the in-flight mark for id and records the fetch with a
// fresh jitter.
func (s *SchedulerState) Finish(id string, now time.Time) models.PollState {
	st := models.PollState{LastFetchAt: now, Delay: s.delay()}
	s.polls.Store(id, st)
	s.inFlight.Delete(id)
	return st
}

// Abort clears the in-flight mark without recording a fetch
func (s *SchedulerState) Abort(id string) {
	s.inFlight.Delete(id)
}

// IsInFlight reports whether id is being fetched
func (s *SchedulerState) IsInFlight(id string) bool {
	_, ok := s.inFlight.Load(id)
	return ok
}

// InFlightCount is the number of fetches running
func (s *SchedulerState) InFlightCount() int {
	return s.inFlight.Size()
}

// Updating returns a snapshot of the running fetches
func (s *SchedulerState) Updating() map[string]models.UpdateProgress {
	out := make(map[string]models.UpdateProgress, s.inFlight.Size())
	s.inFlight.Range(func(id string, p models.UpdateProgress) bool {
		out[id] = p
		return true
	})
	return out
}

// PollState returns the recorded state for id
func (s *SchedulerState) PollState(id string) models.PollState {
	st, _ := s.polls.Load(id)
	return st
}

// Forget drops everything known about id
func (s *SchedulerState) Forget(id string) {
	s.polls.Delete(id)
}

// MarshalJSON encodes the poll state map for the local store
func (s *SchedulerState) MarshalJSON() ([]byte, error) {
	out := make(map[string]models.PollState, s.polls.Size())
	s.polls.Range(func(id string, st models.PollState) bool {
		out[id] = st
		return true
	})
	return json.Marshal(out)
}

// Restore replaces the poll state with a previously marshaled map
func (s *SchedulerState) Restore(data []byte) error {
	var in map[string]models.PollState
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode poll state: %w", err)
	}
	s.polls.Clear()
	for id, st := range in {
		s.polls.Store(id, st)
	}
	return nil
}

// PollTarget is what the scheduler polls
type PollTarget interface {
	// Follows returns a snapshot of the follows to consider
	Follows() []*models.Follow
	// RefreshScheduled fetches and merges one follow that the scheduler
	// has already marked in flight.
	RefreshScheduled(ctx context.Context, id string) error
	// PollFinished is told about every finished fetch after its poll
	// state was recorded.
	PollFinished(ctx context.Context, id string, err error)
}

// SchedulerService polls due follows on a fixed tick
type SchedulerService struct {
	target   PollTarget
	state    *SchedulerState
	logger   *core.Logger
	config   *models.SchedulerConfig
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	// fetches tracks the goroutines started by Poll
	fetches sync.WaitGroup
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(
	target PollTarget,
	state *SchedulerState,
	logger *core.Logger,
	config *models.SchedulerConfig,
) *SchedulerService {
	return &SchedulerService{
		target:   target,
		state:    state,
		logger:   logger,
		config:   config,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduler
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("Starting follow scheduler", "tick", s.config.Tick, "max_concurrent", s.config.MaxConcurrentFetches)

	s.wg.Add(1)
	go s.pollLoop(ctx)

	return nil
}

// Stop stops the loop and waits for running fetches
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping follow scheduler")
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	done := make(chan struct{})
	go func() {
		s.fetches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for fetches: %w", ctx.Err())
	}
}

func (s *SchedulerService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return
		case <-s.stopChan:
			s.logger.Info("Scheduler stop signal received")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

type dueFollow struct {
	id   string
	left time.Duration
}

// Poll dispatches fetches for the most overdue follows, up to the free
// concurrency slots. It returns the ids it started.
func (s *SchedulerService) Poll(ctx context.Context) []string {
	now := s.now()
	slots := s.config.MaxConcurrentFetches - s.state.InFlightCount()
	if slots <= 0 {
		return nil
	}

	var due []dueFollow
	for _, f := range s.target.Follows() {
		if !f.IsValid() || s.state.IsInFlight(f.ID) {
			continue
		}
		if left := IsOutOfDate(f, s.state.PollState(f.ID), now); left <= 0 {
			due = append(due, dueFollow{id: f.ID, left: left})
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].left < due[j].left })

	var started []string
	for _, d := range due {
		if len(started) >= slots {
			break
		}
		if !s.state.TryBegin(d.id, now) {
			continue
		}
		started = append(started, d.id)
		s.fetches.Add(1)
		go s.fetch(ctx, d.id)
	}
	if len(started) > 0 {
		s.logger.Debug("Polling follows", "due", len(due), "started", len(started))
	}
	return started
}

// Wait blocks until every fetch started by Poll has finished
func (s *SchedulerService) Wait() {
	s.fetches.Wait()
}

func (s *SchedulerService) fetch(ctx context.Context, id string) {
	defer s.fetches.Done()

	start := s.now()
	fctx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	err := s.target.RefreshScheduled(fctx, id)
	cancel()

	s.state.Finish(id, s.now())
	metrics.GetOrCreateHistogram(`feedkeeper_fetch_duration_seconds`).UpdateDuration(start)
	if err != nil {
		metrics.GetOrCreateCounter(`feedkeeper_fetches_total{result="error"}`).Inc()
		s.logger.Warn("Scheduled fetch failed", "follow_id", id, "error", err)
	} else {
		metrics.GetOrCreateCounter(`feedkeeper_fetches_total{result="ok"}`).Inc()
	}

	s.target.PollFinished(ctx, id, err)
}
