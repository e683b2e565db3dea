package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/playtimed/internal/config"
	"github.com/goodtune/playtimed/internal/quota"
	"github.com/goodtune/playtimed/internal/storage/csvlog"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent play sessions, newest first",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Number of sessions to show")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	sessionLog, err := csvlog.Open(cfg.Storage.LogPath, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}

	sessions, err := sessionLog.Recent(sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to read session log: %w", err)
	}

	for _, s := range sessions {
		date := s.Date
		if parsed, err := time.Parse(quota.DateFormat, s.Date); err == nil {
			date = fmt.Sprintf("%d/%d", parsed.Month(), parsed.Day())
		}
		game := ""
		if s.Game != "" {
			game = fmt.Sprintf("  [%s]", s.Game)
		}
		fmt.Printf("  %-6s %s - %s   %.0fm%s\n", date, s.StartTime, s.EndTime, s.DurationMinutes, game)
	}
	return nil
}
