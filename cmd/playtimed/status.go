package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/playtimed/internal/clock"
	"github.com/goodtune/playtimed/internal/config"
	"github.com/goodtune/playtimed/internal/quota"
	"github.com/goodtune/playtimed/internal/storage/csvlog"
)

const statusBarWidth = 30

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's quota consumption",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// A running daemon sees the live session; the log alone does not, and a
	// direct read would underreport while a session is in progress.
	status, ok := daemonStatus(cfg.Server.APIAddr)
	if !ok {
		status, err = statusFromLog(cfg)
		if err != nil {
			return err
		}
	}

	day, err := time.Parse(quota.DateFormat, status.Date)
	if err != nil {
		return fmt.Errorf("failed to parse status date: %w", err)
	}

	fmt.Printf("Today (%s) [%s]: %.0f / %d min\n",
		day.Weekday(), titleKind(status.DayKind), status.LoggedMinutes, status.LimitMinutes)
	fmt.Printf("%s %s\n", renderBar(status.Percent), colorFor(status.Percent).Sprintf("%.0f%%", status.Percent))
	return nil
}

// daemonStatus asks a running daemon for today's quota view.
func daemonStatus(addr string) (quota.Status, bool) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		return quota.Status{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return quota.Status{}, false
	}

	var payload struct {
		Today quota.Status `json:"today"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return quota.Status{}, false
	}
	return payload.Today, true
}

// statusFromLog computes today's quota view from the session log alone.
func statusFromLog(cfg *config.Config) (quota.Status, error) {
	sessionLog, err := csvlog.Open(cfg.Storage.LogPath, log.Logger)
	if err != nil {
		return quota.Status{}, fmt.Errorf("failed to open session log: %w", err)
	}

	trustedClock := clock.NewTrusted(clock.SystemClock{}, clock.Config{
		Server:  cfg.Clock.NTPServer,
		Timeout: cfg.NTPTimeout(),
	}, log.Logger)
	trustedClock.Sync()

	sessions, err := sessionLog.ReadAll()
	if err != nil {
		return quota.Status{}, fmt.Errorf("failed to read session log: %w", err)
	}

	now := trustedClock.Now()
	today := now.Format(quota.DateFormat)

	logged := 0.0
	for _, s := range sessions {
		if s.Date == today {
			logged += s.DurationMinutes
		}
	}

	return quota.ComputeStatus(logged, now, cfg.QuotaPolicy()), nil
}

// colorFor mirrors the green/yellow/red thresholds of the progress bar.
func colorFor(percent float64) *color.Color {
	switch {
	case percent >= 100:
		return color.New(color.FgRed, color.Bold)
	case percent >= 80:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}

func renderBar(percent float64) string {
	filled := int(percent / 100 * statusBarWidth)
	if filled > statusBarWidth {
		filled = statusBarWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", statusBarWidth-filled)
	return colorFor(percent).Sprint("[" + bar + "]")
}

func titleKind(kind quota.DayKind) string {
	s := strings.ToLower(string(kind))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
