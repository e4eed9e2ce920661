// Package config loads and validates runtime settings at startup: the
// environment (optionally seeded from a .env file) and the portal catalog.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the scanner service.
type Config struct {
	Port        string
	GRPCPort    string
	DatabaseURL string
	RedisURL    string

	PortalsFile string
	ScoringFile string

	ScanIntervalHours      int
	MaxConcurrentPortals   int
	StrategyConcurrency    int
	BrowserSlots           int
	ScanTimeout            time.Duration
	SinkTimeout            time.Duration
	PolitenessDelay        time.Duration
	RequestTimeout         time.Duration
	DefaultMaxPages        int
	MaxConsecutiveFailures int

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"SCANNER_PORT":             "8083",
	"GRPC_PORT":                "9093",
	"PORTALS_FILE":             "configs/portals.yaml",
	"SCORING_FILE":             "",
	"SCAN_INTERVAL_HOURS":      6,
	"MAX_CONCURRENT_PORTALS":   4,
	"STRATEGY_CONCURRENCY":     1,
	"BROWSER_SLOTS":            2,
	"SCAN_TIMEOUT":             "2h",
	"SINK_TIMEOUT":             "1m",
	"POLITENESS_DELAY":         "2s",
	"REQUEST_TIMEOUT":          "30s",
	"DEFAULT_MAX_PAGES":        15,
	"MAX_CONSECUTIVE_FAILURES": 3,
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
}

// Load reads the environment and returns a validated Config. A .env file in
// the working directory is loaded first when present; variables already set
// in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		Port:                   v.GetString("SCANNER_PORT"),
		GRPCPort:               v.GetString("GRPC_PORT"),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		RedisURL:               v.GetString("REDIS_URL"),
		PortalsFile:            v.GetString("PORTALS_FILE"),
		ScoringFile:            v.GetString("SCORING_FILE"),
		ScanIntervalHours:      v.GetInt("SCAN_INTERVAL_HOURS"),
		MaxConcurrentPortals:   v.GetInt("MAX_CONCURRENT_PORTALS"),
		StrategyConcurrency:    v.GetInt("STRATEGY_CONCURRENCY"),
		BrowserSlots:           v.GetInt("BROWSER_SLOTS"),
		ScanTimeout:            v.GetDuration("SCAN_TIMEOUT"),
		SinkTimeout:            v.GetDuration("SINK_TIMEOUT"),
		PolitenessDelay:        v.GetDuration("POLITENESS_DELAY"),
		RequestTimeout:         v.GetDuration("REQUEST_TIMEOUT"),
		DefaultMaxPages:        v.GetInt("DEFAULT_MAX_PAGES"),
		MaxConsecutiveFailures: v.GetInt("MAX_CONSECUTIVE_FAILURES"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	positive := map[string]int{
		"SCAN_INTERVAL_HOURS":      c.ScanIntervalHours,
		"MAX_CONCURRENT_PORTALS":   c.MaxConcurrentPortals,
		"STRATEGY_CONCURRENCY":     c.StrategyConcurrency,
		"BROWSER_SLOTS":            c.BrowserSlots,
		"DEFAULT_MAX_PAGES":        c.DefaultMaxPages,
		"MAX_CONSECUTIVE_FAILURES": c.MaxConsecutiveFailures,
	}
	for _, k := range sortedKeys(positive) {
		if positive[k] < 1 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer, got %d", k, positive[k]))
		}
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("SCAN_TIMEOUT must be a positive duration"))
	}
	if c.SinkTimeout <= 0 {
		errs = append(errs, errors.New("SINK_TIMEOUT must be a positive duration"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be a positive duration"))
	}
	if c.PolitenessDelay < 0 {
		errs = append(errs, errors.New("POLITENESS_DELAY must not be negative"))
	}
	return errors.Join(errs...)
}

// RequireStores fails fast when the long-running service lacks its
// database or Redis.
func (c *Config) RequireStores() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	return nil
}

// ScanSchedule is the cron spec for periodic scans.
func (c *Config) ScanSchedule() string {
	return fmt.Sprintf("@every %dh", c.ScanIntervalHours)
}
