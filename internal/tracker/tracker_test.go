package tracker

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/playtimed/internal/clock"
	"github.com/goodtune/playtimed/internal/quota"
	"github.com/goodtune/playtimed/internal/storage"
	"github.com/goodtune/playtimed/internal/storage/bolt"
	"github.com/goodtune/playtimed/internal/storage/csvlog"
)

var testQuota = quota.Config{
	WeekdayLimitMinutes: 60,
	WeekendLimitMinutes: 180,
}

// fakeTimeSource is a trusted clock pinned to a test time with a no-op sync.
type fakeTimeSource struct {
	clock.TestClock
	syncs int
}

func (f *fakeTimeSource) Sync() time.Duration {
	f.syncs++
	return 0
}

func newTestTracker(t *testing.T, now time.Time) (*Tracker, *fakeTimeSource, *csvlog.Log) {
	t.Helper()

	log, err := csvlog.Open(filepath.Join(t.TempDir(), "playtime_log.csv"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open session log: %v", err)
	}

	source := &fakeTimeSource{TestClock: clock.TestClock{CurrentTime: now}}
	return New(source, log, nil, testQuota, zerolog.Nop()), source, log
}

func TestStartStopPersistsSession(t *testing.T) {
	start := time.Date(2025, 3, 11, 14, 15, 0, 0, time.UTC) // Tuesday
	trk, source, log := newTestTracker(t, start)

	if err := trk.Start("Minecraft"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if source.syncs != 1 {
		t.Errorf("expected one clock sync on start, got %d", source.syncs)
	}

	source.Advance(45 * time.Minute)
	if elapsed := trk.Tick(); elapsed != 45*time.Minute {
		t.Errorf("elapsed = %v, want 45m", elapsed)
	}

	duration, err := trk.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if duration != 45 {
		t.Errorf("duration = %v, want 45", duration)
	}

	sessions, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 persisted session, got %d", len(sessions))
	}
	if sessions[0].Date != "2025-03-11" || sessions[0].Game != "Minecraft" {
		t.Errorf("session = %+v", sessions[0])
	}

	if trk.State().Running {
		t.Error("tracker should be idle after stop")
	}
}

func TestStartWhileRunning(t *testing.T) {
	trk, _, _ := newTestTracker(t, time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC))

	if err := trk.Start("Minecraft"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := trk.Start("Roblox"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start = %v, want ErrAlreadyRunning", err)
	}
	if got := trk.State().Game; got != "Minecraft" {
		t.Errorf("current game = %q, want Minecraft", got)
	}
}

func TestStartEmptyGame(t *testing.T) {
	trk, _, _ := newTestTracker(t, time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC))

	if err := trk.Start(""); !errors.Is(err, ErrEmptyGame) {
		t.Errorf("start with empty game = %v, want ErrEmptyGame", err)
	}
	if trk.State().Running {
		t.Error("tracker should remain idle")
	}
}

func TestStopWhileIdle(t *testing.T) {
	trk, _, log := newTestTracker(t, time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC))

	duration, err := trk.Stop()
	if err != nil {
		t.Fatalf("stop while idle: %v", err)
	}
	if duration != 0 {
		t.Errorf("duration = %v, want 0", duration)
	}

	sessions, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestZeroDurationSessionPersisted(t *testing.T) {
	trk, _, log := newTestTracker(t, time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC))

	if err := trk.Start("VR"); err != nil {
		t.Fatalf("start: %v", err)
	}
	duration, err := trk.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if duration != 0 {
		t.Errorf("duration = %v, want 0", duration)
	}

	sessions, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].DurationMinutes != 0 {
		t.Errorf("persisted duration = %v, want 0", sessions[0].DurationMinutes)
	}
}

func TestTodayStatusWeekdayWithPriorSession(t *testing.T) {
	// Tuesday with one 45-minute session already logged, tracker idle.
	now := time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC)
	trk, _, log := newTestTracker(t, now)

	start := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	if _, err := log.Append(start, start.Add(45*time.Minute), "Roblox"); err != nil {
		t.Fatalf("append prior session: %v", err)
	}

	status, err := trk.TodayStatus()
	if err != nil {
		t.Fatalf("today status: %v", err)
	}

	if status.LoggedMinutes != 45 {
		t.Errorf("logged = %v, want 45", status.LoggedMinutes)
	}
	if status.LimitMinutes != 60 {
		t.Errorf("limit = %d, want 60", status.LimitMinutes)
	}
	if status.Percent != 75 {
		t.Errorf("percent = %v, want 75", status.Percent)
	}
	if status.DayKind != quota.Weekday {
		t.Errorf("day kind = %v, want Weekday", status.DayKind)
	}
}

func TestTodayStatusIncludesLiveSession(t *testing.T) {
	// Saturday, no prior sessions, session running for 90 minutes.
	start := time.Date(2025, 3, 8, 10, 30, 0, 0, time.UTC)
	trk, source, _ := newTestTracker(t, start)

	if err := trk.Start("Minecraft"); err != nil {
		t.Fatalf("start: %v", err)
	}
	source.Advance(90 * time.Minute)
	trk.Tick()

	status, err := trk.TodayStatus()
	if err != nil {
		t.Fatalf("today status: %v", err)
	}

	if status.LoggedMinutes != 90 {
		t.Errorf("logged = %v, want 90", status.LoggedMinutes)
	}
	if status.LimitMinutes != 180 {
		t.Errorf("limit = %d, want 180", status.LimitMinutes)
	}
	if status.Percent != 50 {
		t.Errorf("percent = %v, want 50", status.Percent)
	}
	if status.DayKind != quota.Weekend {
		t.Errorf("day kind = %v, want Weekend", status.DayKind)
	}
}

func TestTodayStatusMonotone(t *testing.T) {
	now := time.Date(2025, 3, 11, 20, 0, 0, 0, time.UTC)
	trk, _, log := newTestTracker(t, now)

	prev := -1.0
	for i := 0; i < 5; i++ {
		start := time.Date(2025, 3, 11, 8+i, 0, 0, 0, time.UTC)
		if _, err := log.Append(start, start.Add(10*time.Minute), "Minecraft"); err != nil {
			t.Fatalf("append session %d: %v", i, err)
		}

		status, err := trk.TodayStatus()
		if err != nil {
			t.Fatalf("today status: %v", err)
		}
		if status.LoggedMinutes < prev {
			t.Fatalf("logged minutes decreased: %v after %v", status.LoggedMinutes, prev)
		}
		prev = status.LoggedMinutes
	}
}

func TestTodayStatusIgnoresOtherDays(t *testing.T) {
	now := time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC)
	trk, _, log := newTestTracker(t, now)

	yesterday := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	if _, err := log.Append(yesterday, yesterday.Add(time.Hour), "Roblox"); err != nil {
		t.Fatalf("append: %v", err)
	}

	status, err := trk.TodayStatus()
	if err != nil {
		t.Fatalf("today status: %v", err)
	}
	if status.LoggedMinutes != 0 {
		t.Errorf("logged = %v, want 0", status.LoggedMinutes)
	}
}

func TestElapsedSelfCorrectsAcrossClockJump(t *testing.T) {
	start := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)
	trk, source, _ := newTestTracker(t, start)

	if err := trk.Start("Minecraft"); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.Advance(10 * time.Minute)
	trk.Tick()

	// Clock jumps backwards below the start time; elapsed clamps to zero
	// instead of going negative.
	source.CurrentTime = start.Add(-5 * time.Minute)
	if elapsed := trk.Tick(); elapsed != 0 {
		t.Errorf("elapsed after backwards jump = %v, want 0", elapsed)
	}

	// Jump forward again: elapsed is recomputed fresh, not accumulated.
	source.CurrentTime = start.Add(30 * time.Minute)
	if elapsed := trk.Tick(); elapsed != 30*time.Minute {
		t.Errorf("elapsed = %v, want 30m", elapsed)
	}
}

func TestCloseForcesStop(t *testing.T) {
	start := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)
	trk, source, log := newTestTracker(t, start)

	if err := trk.Start("Minecraft"); err != nil {
		t.Fatalf("start: %v", err)
	}
	source.Advance(20 * time.Minute)

	if err := trk.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sessions, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session after close, got %d", len(sessions))
	}
	if sessions[0].DurationMinutes != 20 {
		t.Errorf("duration = %v, want 20", sessions[0].DurationMinutes)
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	start := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)

	log, err := csvlog.Open(filepath.Join(t.TempDir(), "playtime_log.csv"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open session log: %v", err)
	}
	checkpoints, err := bolt.Open(filepath.Join(t.TempDir(), "playtime_live.bolt"))
	if err != nil {
		t.Fatalf("open checkpoint store: %v", err)
	}
	defer func() { _ = checkpoints.Close() }()

	source := &fakeTimeSource{TestClock: clock.TestClock{CurrentTime: start}}
	trk := New(source, log, checkpoints, testQuota, zerolog.Nop())

	if err := trk.Start("Minecraft"); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.Advance(15 * time.Minute)
	trk.Tick()

	cp, err := checkpoints.Get()
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.Game != "Minecraft" || !cp.LastSeen.Equal(start.Add(15*time.Minute)) {
		t.Errorf("checkpoint = %+v", cp)
	}

	if _, err := trk.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := checkpoints.Get(); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("checkpoint after stop = %v, want ErrNotFound", err)
	}
}

func TestRecoverAppendsInterruptedSession(t *testing.T) {
	start := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)

	log, err := csvlog.Open(filepath.Join(t.TempDir(), "playtime_log.csv"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open session log: %v", err)
	}
	checkpoints, err := bolt.Open(filepath.Join(t.TempDir(), "playtime_live.bolt"))
	if err != nil {
		t.Fatalf("open checkpoint store: %v", err)
	}
	defer func() { _ = checkpoints.Close() }()

	// A previous run died mid-session, leaving a checkpoint behind.
	if err := checkpoints.Put(storage.Checkpoint{
		StartedAt: start,
		LastSeen:  start.Add(25 * time.Minute),
		Game:      "Roblox",
	}); err != nil {
		t.Fatalf("put checkpoint: %v", err)
	}

	source := &fakeTimeSource{TestClock: clock.TestClock{CurrentTime: start.Add(2 * time.Hour)}}
	trk := New(source, log, checkpoints, testQuota, zerolog.Nop())

	if err := trk.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	sessions, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 recovered session, got %d", len(sessions))
	}
	if sessions[0].Game != "Roblox" || sessions[0].DurationMinutes != 25 {
		t.Errorf("recovered session = %+v", sessions[0])
	}

	if _, err := checkpoints.Get(); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("checkpoint after recover = %v, want ErrNotFound", err)
	}

	// Recover with no checkpoint is a no-op.
	if err := trk.Recover(); err != nil {
		t.Fatalf("second recover: %v", err)
	}
}

// failingLog refuses every durable write.
type failingLog struct{}

func (failingLog) EnsureInitialized() error { return nil }

func (failingLog) Append(time.Time, time.Time, string) (float64, error) {
	return 0, errors.New("disk full")
}

func (failingLog) ReadAll() ([]storage.Session, error) { return nil, nil }

func (failingLog) Recent(int) ([]storage.Session, error) { return nil, nil }

func TestStopAppendFailureKeepsSessionRunning(t *testing.T) {
	start := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)
	source := &fakeTimeSource{TestClock: clock.TestClock{CurrentTime: start}}
	trk := New(source, failingLog{}, nil, testQuota, zerolog.Nop())

	if err := trk.Start("Minecraft"); err != nil {
		t.Fatalf("start: %v", err)
	}
	source.Advance(10 * time.Minute)

	if _, err := trk.Stop(); err == nil {
		t.Fatal("expected stop to surface the append failure")
	}

	// The session must not be dropped: it stays running so a later stop can
	// still persist the playtime.
	state := trk.State()
	if !state.Running || state.Game != "Minecraft" {
		t.Errorf("state after failed stop = %+v, want still running", state)
	}
	if elapsed := trk.Tick(); elapsed != 10*time.Minute {
		t.Errorf("elapsed = %v, want 10m", elapsed)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	now := time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC)
	trk, _, log := newTestTracker(t, now)

	base := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	for i, game := range []string{"Minecraft", "VR"} {
		start := base.Add(time.Duration(i) * time.Hour)
		if _, err := log.Append(start, start.Add(10*time.Minute), game); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recent, err := trk.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(recent))
	}
	if recent[0].Game != "VR" {
		t.Errorf("newest session = %q, want VR", recent[0].Game)
	}
}
