package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediation-server/pkg/config"
)

func TestResolveWindowDefaults(t *testing.T) {
	mc := config.MediationConfig{Lag: 5 * time.Minute, Window: time.Hour}

	from, to, err := resolveWindow("", "", mc)
	require.NoError(t, err)
	require.Equal(t, time.Hour, to.Sub(from))
	require.WithinDuration(t, time.Now().Add(-5*time.Minute), to, 2*time.Second)
}

func TestResolveWindowExplicit(t *testing.T) {
	mc := config.MediationConfig{Lag: 5 * time.Minute, Window: time.Hour}

	from, to, err := resolveWindow("2013-06-19 22:00:00", "2013-06-19 23:00:00", mc)
	require.NoError(t, err)
	require.Equal(t, time.Hour, to.Sub(from))

	// A lone dfrom keeps the default dto.
	from, to, err = resolveWindow("2013-06-19 22:00:00", "", mc)
	require.NoError(t, err)
	require.True(t, from.Before(to))
}

func TestResolveWindowRejectsInvertedRange(t *testing.T) {
	mc := config.MediationConfig{Lag: 5 * time.Minute, Window: time.Hour}

	_, _, err := resolveWindow("2013-06-20 00:00:00", "2013-06-19 00:00:00", mc)
	require.Error(t, err)
}

func TestParseTimeFlag(t *testing.T) {
	ts, err := parseTimeFlag("2013-06-19 22:22:14")
	require.NoError(t, err)
	require.Equal(t, 22, ts.Hour())

	ts, err = parseTimeFlag("2013-06-19")
	require.NoError(t, err)
	require.Equal(t, 0, ts.Hour())

	_, err = parseTimeFlag("yesterday")
	require.Error(t, err)
}
