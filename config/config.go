package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// global config instance
var global *Config

// Config global configuration (loaded from env / .env)
type Config struct {
	// Server
	APIServerPort int
	DBPath        string

	// Logging
	LogLevel string
	LogFile  string

	// Reconciliation
	ReconcileMaxAttempts int
	ReconcileLookback    time.Duration
	ReconcileLimit       int
	PerpSuffixes         []string
	MalformedPolicy      string            // "skip" or "fail"
	SideMappings         map[string]string // exchange -> "opposite" | "same"

	// Deferred reconciliation sweeper (0 disables)
	SweepInterval time.Duration
	SweepMaxAge   time.Duration
	SweepMaxTries int
}

// Exchanges supported exchanges, each with a SIDE_MAPPING_<EXCHANGE> override
var Exchanges = []string{"bybit", "binance"}

// Init loads the global configuration from environment variables
func Init() {
	global = Load()
}

// Load builds a Config from environment variables without touching the global
func Load() *Config {
	cfg := &Config{
		APIServerPort:        8080,
		DBPath:               "data.db",
		LogLevel:             "info",
		ReconcileMaxAttempts: 3,
		ReconcileLookback:    24 * time.Hour,
		ReconcileLimit:       50,
		PerpSuffixes:         []string{".P", "PERP", "-PERP"},
		MalformedPolicy:      "skip",
		SideMappings:         map[string]string{},
		SweepInterval:        5 * time.Minute,
		SweepMaxAge:          7 * 24 * time.Hour,
		SweepMaxTries:        10,
	}

	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIServerPort = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("DB_PATH")); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.LogFile = strings.TrimSpace(os.Getenv("LOG_FILE"))

	if v := os.Getenv("RECONCILE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconcileMaxAttempts = n
		}
	}
	if v := os.Getenv("RECONCILE_LOOKBACK_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconcileLookback = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("RECONCILE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconcileLimit = n
		}
	}
	if v, ok := os.LookupEnv("PERP_SUFFIXES"); ok {
		cfg.PerpSuffixes = splitList(v)
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("MALFORMED_POLICY"))); v == "skip" || v == "fail" {
		cfg.MalformedPolicy = v
	}
	for _, ex := range Exchanges {
		v := strings.ToLower(strings.TrimSpace(os.Getenv("SIDE_MAPPING_" + strings.ToUpper(ex))))
		if v == "opposite" || v == "same" {
			cfg.SideMappings[ex] = v
		}
	}

	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.SweepInterval = d
		}
	}
	if v := os.Getenv("SWEEP_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepMaxAge = d
		}
	}
	if v := os.Getenv("SWEEP_MAX_TRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepMaxTries = n
		}
	}

	return cfg
}

// SideMapping returns the configured side mapping for an exchange, "opposite" by default
func (c *Config) SideMapping(exchange string) string {
	if v, ok := c.SideMappings[strings.ToLower(exchange)]; ok {
		return v
	}
	return "opposite"
}

// Get returns the global configuration
func Get() *Config {
	if global == nil {
		Init()
	}
	return global
}

// splitList never returns nil: an empty list is an explicit setting
func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
