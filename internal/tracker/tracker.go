package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/playtimed/internal/metrics"
	"github.com/goodtune/playtimed/internal/quota"
	"github.com/goodtune/playtimed/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is in progress.
	ErrAlreadyRunning = errors.New("tracker: session already running")

	// ErrEmptyGame is returned by Start when no game label is supplied.
	ErrEmptyGame = errors.New("tracker: game label must not be empty")
)

// TimeSource is the trusted notion of "now" the tracker runs on. Sync
// reconciles against the external time authority and is best-effort; it
// must never fail, only degrade to the local clock.
type TimeSource interface {
	Now() time.Time
	Sync() time.Duration
}

// State is a snapshot of the live tracker for the presentation layer.
type State struct {
	Running        bool      `json:"running"`
	Game           string    `json:"game,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Tracker is the stateful session core: an Idle/Running state machine that
// stamps sessions with trusted time, persists them on stop, and aggregates
// today's total against the daily quota. Exactly one session may be active
// at a time. All operations are safe for concurrent use; the engine itself
// spawns no goroutines and is driven by an external tick cadence.
type Tracker struct {
	clock       TimeSource
	log         storage.SessionLog
	checkpoints storage.CheckpointStore // optional, nil disables crash recovery
	logger      zerolog.Logger

	mu          sync.Mutex
	quotaCfg    quota.Config
	running     bool
	startTime   time.Time
	elapsed     time.Duration
	currentGame string
}

// New creates an idle tracker. checkpoints may be nil.
func New(clock TimeSource, log storage.SessionLog, checkpoints storage.CheckpointStore, quotaCfg quota.Config, logger zerolog.Logger) *Tracker {
	return &Tracker{
		clock:       clock,
		log:         log,
		checkpoints: checkpoints,
		quotaCfg:    quotaCfg,
		logger:      logger.With().Str("component", "tracker").Logger(),
	}
}

// SetQuotaConfig replaces the quota settings, typically after a config
// reload. The live session is unaffected.
func (t *Tracker) SetQuotaConfig(cfg quota.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quotaCfg = cfg
}

// Start begins a new session for game. Valid only while idle; starting over
// a running session is a usage error and is surfaced. The clock offset is
// resynced first to catch drift accumulated during long idle periods.
// Nothing is persisted until Stop.
func (t *Tracker) Start(game string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}
	if game == "" {
		return ErrEmptyGame
	}

	t.clock.Sync()

	t.running = true
	t.startTime = t.clock.Now()
	t.elapsed = 0
	t.currentGame = game

	t.putCheckpoint()
	metrics.SessionsStarted.WithLabelValues(game).Inc()

	t.logger.Info().
		Str("game", game).
		Time("started_at", t.startTime).
		Msg("Session started")
	return nil
}

// Tick recomputes the elapsed time of the live session from the trusted
// clock. It is recomputed fresh rather than accumulated, so it self-corrects
// across clock jumps. Idle ticks return zero and do nothing.
func (t *Tracker) Tick() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return 0
	}

	t.elapsed = t.clock.Now().Sub(t.startTime)
	if t.elapsed < 0 {
		t.elapsed = 0
	}
	t.putCheckpoint()
	return t.elapsed
}

// Stop ends the live session, durably appends it to the log, and returns
// the persisted duration in minutes. Stopping while idle is a no-op, not an
// error: duplicate stop signals (UI double-click, shutdown racing the user)
// must be harmless. A zero-duration session is persisted as a valid
// zero-minute record. If the durable write fails the session stays running
// and the error is surfaced, so no completed playtime is silently dropped.
func (t *Tracker) Stop() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		t.logger.Debug().Msg("Stop while idle ignored")
		return 0, nil
	}

	end := t.clock.Now()
	if end.Before(t.startTime) {
		end = t.startTime
	}

	duration, err := t.log.Append(t.startTime, end, t.currentGame)
	if err != nil {
		metrics.AppendErrors.Inc()
		return 0, fmt.Errorf("persist session: %w", err)
	}

	metrics.SessionsStopped.WithLabelValues(t.currentGame).Inc()
	metrics.MinutesPersisted.WithLabelValues(t.currentGame).Add(duration)

	t.logger.Info().
		Str("game", t.currentGame).
		Time("started_at", t.startTime).
		Time("ended_at", end).
		Float64("duration_minutes", duration).
		Msg("Session stopped and persisted")

	t.running = false
	t.startTime = time.Time{}
	t.elapsed = 0
	t.currentGame = ""
	t.clearCheckpoint()

	return duration, nil
}

// State returns a snapshot of the live tracker, with elapsed time computed
// fresh from the trusted clock.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := State{Running: t.running}
	if t.running {
		state.Game = t.currentGame
		state.StartedAt = t.startTime
		state.ElapsedSeconds = t.liveElapsed().Seconds()
	}
	return state
}

// TodayStatus recomputes today's quota view from the full session log plus
// the live session. Recomputing from the log on every call (rather than
// keeping incremental counters) keeps the view correct even if the log was
// edited externally or the process restarted mid-day.
func (t *Tracker) TodayStatus() (quota.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions, err := t.log.ReadAll()
	if err != nil {
		return quota.Status{}, fmt.Errorf("read session log: %w", err)
	}

	now := t.clock.Now()
	today := now.Format(quota.DateFormat)

	logged := 0.0
	for _, s := range sessions {
		if s.Date == today {
			logged += s.DurationMinutes
		}
	}
	if t.running {
		logged += t.liveElapsed().Minutes()
	}

	status := quota.ComputeStatus(logged, now, t.quotaCfg)
	metrics.QuotaPercent.Set(status.Percent)
	return status, nil
}

// Recent returns the most recent n persisted sessions, newest first.
func (t *Tracker) Recent(n int) ([]storage.Session, error) {
	return t.log.Recent(n)
}

// Recover appends a stale live-session checkpoint left by an interrupted
// run as a completed session spanning its start to the last tick seen, then
// clears the checkpoint. Call once at startup, before Start.
func (t *Tracker) Recover() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.checkpoints == nil {
		return nil
	}

	cp, err := t.checkpoints.Get()
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	end := cp.LastSeen
	if end.Before(cp.StartedAt) {
		end = cp.StartedAt
	}

	duration, err := t.log.Append(cp.StartedAt, end, cp.Game)
	if err != nil {
		metrics.AppendErrors.Inc()
		return fmt.Errorf("persist recovered session: %w", err)
	}

	metrics.SessionsRecovered.Inc()
	t.logger.Warn().
		Str("game", cp.Game).
		Time("started_at", cp.StartedAt).
		Time("last_seen", end).
		Float64("duration_minutes", duration).
		Msg("Recovered interrupted session from checkpoint")

	t.clearCheckpoint()
	return nil
}

// Close force-stops a running session so in-progress playtime is persisted
// before teardown. Closing an idle tracker does nothing.
func (t *Tracker) Close() error {
	if _, err := t.Stop(); err != nil {
		return err
	}
	return nil
}

// liveElapsed must be called with the lock held and running true.
func (t *Tracker) liveElapsed() time.Duration {
	elapsed := t.clock.Now().Sub(t.startTime)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (t *Tracker) putCheckpoint() {
	if t.checkpoints == nil {
		return
	}
	err := t.checkpoints.Put(storage.Checkpoint{
		StartedAt: t.startTime,
		LastSeen:  t.clock.Now(),
		Game:      t.currentGame,
	})
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to write session checkpoint")
	}
}

func (t *Tracker) clearCheckpoint() {
	if t.checkpoints == nil {
		return
	}
	if err := t.checkpoints.Clear(); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to clear session checkpoint")
	}
}
