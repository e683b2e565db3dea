package clock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"

	"github.com/goodtune/playtimed/internal/metrics"
)

const (
	// DefaultServer is the NTP pool queried when no server is configured.
	DefaultServer = "pool.ntp.org"

	// DefaultTimeout bounds a single NTP query.
	DefaultTimeout = 3 * time.Second
)

// Trusted is a tamper-resistant clock. It reports local wall-clock time
// corrected by an offset obtained from an external NTP authority, so that
// changing the system clock does not move the tracked time (as long as the
// network is reachable). Without network it degrades to the local clock.
type Trusted struct {
	base    Clock
	server  string
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	offset time.Duration
}

// Config holds trusted clock configuration.
type Config struct {
	Server  string
	Timeout time.Duration
}

// NewTrusted creates a trusted clock over base. The offset starts at zero;
// call Sync to reconcile against the authority.
func NewTrusted(base Clock, cfg Config, logger zerolog.Logger) *Trusted {
	if base == nil {
		base = SystemClock{}
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Trusted{
		base:    base,
		server:  cfg.Server,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "trusted-clock").Logger(),
	}
}

// Now returns the current time adjusted by the authority offset.
func (c *Trusted) Now() time.Time {
	return c.base.Now().Add(c.Offset())
}

// Offset returns the current authority offset.
func (c *Trusted) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Sync queries the NTP authority and atomically replaces the process-wide
// offset with (authority time - local time). Any failure is soft: the offset
// is reset to zero and the local clock is trusted. Sync never returns an
// error because clock drift correction must not block session handling.
func (c *Trusted) Sync() time.Duration {
	resp, err := ntp.QueryWithOptions(c.server, ntp.QueryOptions{Timeout: c.timeout})
	if err == nil {
		err = resp.Validate()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.offset = 0
		metrics.ClockSyncTotal.WithLabelValues("error").Inc()
		metrics.ClockOffsetSeconds.Set(0)
		c.logger.Warn().
			Err(err).
			Str("server", c.server).
			Msg("NTP sync failed, trusting local clock")
		return 0
	}

	c.offset = resp.ClockOffset
	metrics.ClockSyncTotal.WithLabelValues("ok").Inc()
	metrics.ClockOffsetSeconds.Set(resp.ClockOffset.Seconds())
	c.logger.Debug().
		Str("server", c.server).
		Dur("offset", resp.ClockOffset).
		Msg("Clock offset synced")

	return resp.ClockOffset
}

// SetOffset replaces the offset directly. Used by tests to pin the clock.
func (c *Trusted) SetOffset(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = offset
}
