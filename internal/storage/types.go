package storage

import "time"

// Session is one completed interval of tracked activity as persisted in the
// log. Immutable once written. Date and the clock fields are kept in their
// on-disk string forms so that records the engine did not write (manual log
// edits) survive a read-back unchanged.
type Session struct {
	Date            string  `json:"date"`       // YYYY-MM-DD, the session's start date
	StartTime       string  `json:"start_time"` // 12-hour clock, e.g. "02:15 PM"
	EndTime         string  `json:"end_time"`
	DurationMinutes float64 `json:"duration_minutes"` // 0 when the stored value fails to parse
	Game            string  `json:"game"`             // free-text label, may be empty
}

// Checkpoint captures the live session for crash recovery. LastSeen is
// refreshed on every tick, so a recovered session spans StartedAt..LastSeen.
type Checkpoint struct {
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen"`
	Game      string    `json:"game"`
}
