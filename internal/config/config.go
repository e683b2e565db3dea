package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/goodtune/playtimed/internal/quota"
)

// Config holds the complete application configuration.
type Config struct {
	QuotaConfig `mapstructure:",squash"`

	Storage StorageConfig `mapstructure:"storage"`
	Clock   ClockConfig   `mapstructure:"clock"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// QuotaConfig mirrors the original config.json document: flat keys owned by
// whoever administers the quota, read-only to the engine.
type QuotaConfig struct {
	WeekdayLimitMinutes int      `mapstructure:"weekday_limit_minutes"`
	WeekendLimitMinutes int      `mapstructure:"weekend_limit_minutes"`
	Holidays            []string `mapstructure:"holidays"` // YYYY-MM-DD
	Games               []string `mapstructure:"games"`
}

// StorageConfig defines where durable state lives.
type StorageConfig struct {
	LogPath        string `mapstructure:"log_path"`        // append-only session CSV
	CheckpointPath string `mapstructure:"checkpoint_path"` // live-session bolt db
}

// ClockConfig defines the external time authority.
type ClockConfig struct {
	NTPServer  string `mapstructure:"ntp_server"`
	NTPTimeout string `mapstructure:"ntp_timeout"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig defines the local API and metrics listen addresses.
type ServerConfig struct {
	APIAddr     string `mapstructure:"api_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from configPath, merging the document key-by-key
// over built-in defaults. An absent or malformed file degrades to defaults
// rather than failing: the engine must come up with a sane quota even when
// the config is broken.
func Load(configPath string, logger zerolog.Logger) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			logger.Debug().Str("path", configPath).Msg("No config file, using defaults")
		} else {
			logger.Warn().Err(err).Str("path", configPath).Msg("Unreadable config file, using defaults")
			v = newViper("") // drop the partial read, keep defaults only
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	sanitize(&cfg, logger)
	return &cfg, nil
}

// Watch reloads the configuration whenever the file changes and hands the
// result to onChange. Reload failures keep the previous configuration.
func Watch(configPath string, logger zerolog.Logger, onChange func(*Config)) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		// Nothing to watch yet; the daemon keeps its startup config.
		logger.Debug().Err(err).Str("path", configPath).Msg("Config watch disabled")
		return
	}

	v.OnConfigChange(func(fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Warn().Err(err).Msg("Ignoring config reload, unmarshal failed")
			return
		}
		sanitize(&cfg, logger)
		logger.Info().Str("path", configPath).Msg("Configuration reloaded")
		onChange(&cfg)
	})
	v.WatchConfig()
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
	}
	return v
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Quota defaults (original document shape)
	v.SetDefault("weekday_limit_minutes", 60)
	v.SetDefault("weekend_limit_minutes", 180)
	v.SetDefault("holidays", []string{})
	v.SetDefault("games", []string{"Minecraft", "VR", "Roblox", "Other"})

	// Storage defaults
	v.SetDefault("storage.log_path", "playtime_log.csv")
	v.SetDefault("storage.checkpoint_path", "playtime_live.bolt")

	// Clock defaults
	v.SetDefault("clock.ntp_server", "pool.ntp.org")
	v.SetDefault("clock.ntp_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Server defaults
	v.SetDefault("server.api_addr", "127.0.0.1:7312")
	v.SetDefault("server.metrics_addr", "127.0.0.1:9312")
}

// sanitize repairs invalid values instead of failing: a broken quota config
// must degrade to defaults, never stop the engine.
func sanitize(cfg *Config, logger zerolog.Logger) {
	if cfg.WeekdayLimitMinutes <= 0 {
		logger.Warn().Int("weekday_limit_minutes", cfg.WeekdayLimitMinutes).Msg("Invalid weekday limit, using default")
		cfg.WeekdayLimitMinutes = 60
	}
	if cfg.WeekendLimitMinutes <= 0 {
		logger.Warn().Int("weekend_limit_minutes", cfg.WeekendLimitMinutes).Msg("Invalid weekend limit, using default")
		cfg.WeekendLimitMinutes = 180
	}
	if len(cfg.Games) == 0 {
		cfg.Games = []string{"Minecraft", "VR", "Roblox", "Other"}
	}

	// Drop malformed holiday dates; a typo must not poison classification.
	valid := cfg.Holidays[:0]
	for _, h := range cfg.Holidays {
		if _, err := time.Parse(quota.DateFormat, h); err != nil {
			logger.Warn().Str("holiday", h).Msg("Dropping malformed holiday date")
			continue
		}
		valid = append(valid, h)
	}
	cfg.Holidays = valid
}

// QuotaPolicy converts the document form into the policy input.
func (c *Config) QuotaPolicy() quota.Config {
	return quota.Config{
		WeekdayLimitMinutes: c.WeekdayLimitMinutes,
		WeekendLimitMinutes: c.WeekendLimitMinutes,
		Holidays:            c.Holidays,
	}
}

// NTPTimeout parses the configured NTP timeout with a fallback.
func (c *Config) NTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.Clock.NTPTimeout)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

// KnownGame reports whether label is one of the configured games.
func (c *Config) KnownGame(label string) bool {
	for _, g := range c.Games {
		if g == label {
			return true
		}
	}
	return false
}
