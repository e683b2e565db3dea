package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtimed_sessions_started_total",
			Help: "Total play sessions started",
		},
		[]string{"game"},
	)

	SessionsStopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtimed_sessions_stopped_total",
			Help: "Total play sessions stopped and persisted",
		},
		[]string{"game"},
	)

	SessionsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtimed_sessions_recovered_total",
			Help: "Interrupted sessions recovered from checkpoint at startup",
		},
	)

	MinutesPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtimed_minutes_persisted_total",
			Help: "Total play minutes written to the session log",
		},
		[]string{"game"},
	)

	AppendErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playtimed_log_append_errors_total",
			Help: "Durable-write failures on session stop",
		},
	)

	// Quota metrics
	QuotaPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtimed_quota_percent",
			Help: "Today's quota consumption, clamped to 100",
		},
	)

	// Clock metrics
	ClockSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtimed_clock_sync_total",
			Help: "NTP sync attempts by outcome",
		},
		[]string{"outcome"},
	)

	ClockOffsetSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtimed_clock_offset_seconds",
			Help: "Current offset between the time authority and the local clock",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsStopped,
		SessionsRecovered,
		MinutesPersisted,
		AppendErrors,
		QuotaPercent,
		ClockSyncTotal,
		ClockOffsetSeconds,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
