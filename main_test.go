package main

import (
	"testing"

	"tradedesk/config"
	"tradedesk/reconcile"

	"github.com/stretchr/testify/assert"
)

func TestServiceConfig(t *testing.T) {
	t.Setenv("PERP_SUFFIXES", "")
	t.Setenv("SIDE_MAPPING_BINANCE", "same")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "4")

	sc := serviceConfig(config.Load())

	assert.Equal(t, 4, sc.Retry.MaxAttempts)
	assert.NotNil(t, sc.PerpSuffixes)
	assert.Empty(t, sc.PerpSuffixes)
	assert.Equal(t, map[string]reconcile.SideMapping{
		"bybit":   reconcile.OppositeSide,
		"binance": reconcile.SameSide,
	}, sc.SideMappings)
}
