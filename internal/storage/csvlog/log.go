package csvlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/playtimed/internal/storage"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "03:04 PM"
)

// Header is the canonical column header of the session log. The on-disk
// format is a stable external interface and must not change shape.
var Header = []string{"date", "start_time", "end_time", "duration_minutes", "game"}

// Log implements storage.SessionLog over an append-only CSV file.
type Log struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// Open creates a session log handle and initializes the backing file,
// migrating a drifted header if needed.
func Open(path string, logger zerolog.Logger) (*Log, error) {
	l := &Log{
		path:   path,
		logger: logger.With().Str("component", "session-log").Logger(),
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := storage.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	if err := l.EnsureInitialized(); err != nil {
		return nil, err
	}
	return l, nil
}

// EnsureInitialized creates the log with the canonical header if it does not
// exist. If it exists but the first record is not exactly the canonical
// header, the log is rewritten with the canonical header while preserving
// every data row unchanged (schema-version bump, not corruption). Idempotent.
func (l *Log) EnsureInitialized() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		return l.create()
	} else if err != nil {
		return fmt.Errorf("stat session log: %w", err)
	}

	ok, err := l.headerMatches()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return l.migrateHeader()
}

func (l *Log) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create session log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync session log: %w", err)
	}

	l.logger.Info().Str("path", l.path).Msg("Created session log")
	return nil
}

func (l *Log) headerMatches() (bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return false, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	first, err := r.Read()
	if err != nil {
		// Empty or unreadable first line counts as header drift.
		return false, nil
	}

	if len(first) != len(Header) {
		return false, nil
	}
	for i := range Header {
		if first[i] != Header[i] {
			return false, nil
		}
	}
	return true, nil
}

// migrateHeader replaces the first line with the canonical header, keeping
// all remaining lines byte-for-byte. The rewrite goes through a temp file
// and rename so readers never observe a torn log.
func (l *Log) migrateHeader() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read session log: %w", err)
	}

	var rest []byte
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		rest = data[idx+1:]
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	buf.Write(rest)

	tmp := l.path + ".migrate"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write migrated log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace session log: %w", err)
	}

	l.logger.Warn().
		Str("path", l.path).
		Int("data_bytes", len(rest)).
		Msg("Session log header drift detected, migrated in place")
	return nil
}

// Append durably writes one completed session record and returns the
// duration in minutes as written. The record carries the start time's date:
// a session spanning midnight belongs entirely to its start date.
func (l *Log) Append(start, end time.Time, game string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	duration := math.Round(end.Sub(start).Minutes()*10) / 10

	// The log may have been deleted since Open; recreate it with the header
	// so the first data row is not later mistaken for one.
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		if err := l.create(); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, fmt.Errorf("stat session log: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open session log for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := []string{
		start.Format(dateLayout),
		start.Format(timeLayout),
		end.Format(timeLayout),
		strconv.FormatFloat(duration, 'f', 1, 64),
		game,
	}
	if err := w.Write(record); err != nil {
		return 0, fmt.Errorf("append session record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("append session record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync session log: %w", err)
	}

	return duration, nil
}

// ReadAll returns every persisted record in file order. A record whose
// duration fails to parse is still returned, contributing zero minutes to
// aggregates. A missing log yields no sessions and no error.
func (l *Log) ReadAll() ([]storage.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	sessions := make([]storage.Session, 0)
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Tolerate an unreadable line and keep going.
			l.logger.Debug().Err(err).Msg("Skipping malformed log line")
			continue
		}
		if first {
			first = false
			continue
		}
		sessions = append(sessions, l.parseRecord(record))
	}

	return sessions, nil
}

// Recent returns the most recent n records, newest first.
func (l *Log) Recent(n int) ([]storage.Session, error) {
	sessions, err := l.ReadAll()
	if err != nil {
		return nil, err
	}

	if n > 0 && len(sessions) > n {
		sessions = sessions[len(sessions)-n:]
	}
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}

func (l *Log) parseRecord(record []string) storage.Session {
	field := func(i int) string {
		if i < len(record) {
			return record[i]
		}
		return ""
	}

	session := storage.Session{
		Date:      field(0),
		StartTime: field(1),
		EndTime:   field(2),
		Game:      field(4),
	}

	if raw := field(3); raw != "" {
		duration, err := strconv.ParseFloat(raw, 64)
		if err != nil || duration < 0 {
			l.logger.Debug().
				Str("duration", raw).
				Str("date", session.Date).
				Msg("Unparseable duration, counting record as zero minutes")
		} else {
			session.DurationMinutes = duration
		}
	}

	return session
}
