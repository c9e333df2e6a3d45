package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.APIServerPort)
	assert.Equal(t, 3, cfg.ReconcileMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.ReconcileLookback)
	assert.Equal(t, 50, cfg.ReconcileLimit)
	assert.Equal(t, []string{".P", "PERP", "-PERP"}, cfg.PerpSuffixes)
	assert.Equal(t, "skip", cfg.MalformedPolicy)
	assert.Equal(t, "opposite", cfg.SideMapping("bybit"))
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("API_SERVER_PORT", "9090")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "5")
	t.Setenv("PERP_SUFFIXES", " .P , PERP ,")
	t.Setenv("MALFORMED_POLICY", "FAIL")
	t.Setenv("SIDE_MAPPING_BINANCE", "same")
	t.Setenv("SWEEP_INTERVAL", "0s")

	cfg := Load()

	assert.Equal(t, 9090, cfg.APIServerPort)
	assert.Equal(t, 5, cfg.ReconcileMaxAttempts)
	assert.Equal(t, []string{".P", "PERP"}, cfg.PerpSuffixes)
	assert.Equal(t, "fail", cfg.MalformedPolicy)
	assert.Equal(t, "same", cfg.SideMapping("Binance"))
	assert.Equal(t, "opposite", cfg.SideMapping("bybit"))
	assert.Equal(t, time.Duration(0), cfg.SweepInterval)
}

func TestLoad_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("API_SERVER_PORT", "-1")
	t.Setenv("RECONCILE_LIMIT", "abc")
	t.Setenv("MALFORMED_POLICY", "coerce")
	t.Setenv("SIDE_MAPPING_BYBIT", "sideways")

	cfg := Load()

	assert.Equal(t, 8080, cfg.APIServerPort)
	assert.Equal(t, 50, cfg.ReconcileLimit)
	assert.Equal(t, "skip", cfg.MalformedPolicy)
	assert.Equal(t, "opposite", cfg.SideMapping("bybit"))
}

func TestLoad_EmptyPerpSuffixesDisablesStripping(t *testing.T) {
	t.Setenv("PERP_SUFFIXES", "")

	cfg := Load()

	assert.NotNil(t, cfg.PerpSuffixes)
	assert.Empty(t, cfg.PerpSuffixes)
}
