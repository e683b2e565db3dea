package quota

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayKind classifies a calendar date for quota selection.
type DayKind string

const (
	Weekday DayKind = "WEEKDAY"
	Weekend DayKind = "WEEKEND"
	Holiday DayKind = "HOLIDAY"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the kind to uppercase.
func (k *DayKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := DayKind(strings.ToUpper(s))
	switch normalized {
	case Weekday, Weekend, Holiday:
		*k = normalized
		return nil
	default:
		return fmt.Errorf("invalid day kind: %s (must be WEEKDAY, WEEKEND, or HOLIDAY)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (k DayKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// Config holds the quota settings the policy evaluates against.
type Config struct {
	WeekdayLimitMinutes int
	WeekendLimitMinutes int
	Holidays            []string // YYYY-MM-DD
}

// DateFormat is the calendar date layout used across the engine, including
// the session log's date column and the holiday list.
const DateFormat = "2006-01-02"

// Classify returns the day kind for date. Holiday-list membership takes
// precedence over the weekday/weekend split.
func Classify(date time.Time, cfg Config) DayKind {
	if isHoliday(date, cfg) {
		return Holiday
	}
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return Weekend
	default:
		return Weekday
	}
}

// LimitMinutes returns the allowed minutes for date. Holidays reuse the
// weekend allowance.
func LimitMinutes(date time.Time, cfg Config) int {
	if Classify(date, cfg) == Weekday {
		return cfg.WeekdayLimitMinutes
	}
	return cfg.WeekendLimitMinutes
}

func isHoliday(date time.Time, cfg Config) bool {
	day := date.Format(DateFormat)
	for _, h := range cfg.Holidays {
		if h == day {
			return true
		}
	}
	return false
}

// Status is the daily quota view consumed by the presentation layer.
type Status struct {
	Date          string  `json:"date"`
	DayKind       DayKind `json:"day_kind"`
	LoggedMinutes float64 `json:"logged_minutes"`
	LimitMinutes  int     `json:"limit_minutes"`
	Percent       float64 `json:"percent"`
}

// ComputeStatus combines logged minutes with the day's classification and
// limit. Percent is clamped to [0, 100] and may be fractional.
func ComputeStatus(loggedMinutes float64, date time.Time, cfg Config) Status {
	limit := LimitMinutes(date, cfg)

	percent := 0.0
	if limit > 0 {
		percent = loggedMinutes / float64(limit) * 100
		if percent > 100 {
			percent = 100
		}
	}

	return Status{
		Date:          date.Format(DateFormat),
		DayKind:       Classify(date, cfg),
		LoggedMinutes: loggedMinutes,
		LimitMinutes:  limit,
		Percent:       percent,
	}
}
