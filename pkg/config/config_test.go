package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"mediation-server/pkg/billing"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load(testLogger())
	require.NoError(t, err)

	require.Equal(t, "info", config.Logging.Level)
	require.Equal(t, "opensips", config.AccountingDB.Database)
	require.Equal(t, "netcall", config.BillingDB.Database)
	require.Equal(t, 8, config.Mediation.Workers)
	require.Equal(t, 5*time.Minute, config.Mediation.Lag)
	require.Equal(t, time.Hour, config.Mediation.Window)
	require.Equal(t, "cdr_records", config.AMQP.QueueName)
	require.False(t, config.Metrics.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MEDIATION_WORKERS", "3")
	t.Setenv("MEDIATION_WINDOW", "30m")
	t.Setenv("ACC_DB_HOST", "acc.example.net")
	t.Setenv("METRICS_ENABLED", "true")

	config, err := Load(testLogger())
	require.NoError(t, err)
	require.Equal(t, 3, config.Mediation.Workers)
	require.Equal(t, 30*time.Minute, config.Mediation.Window)
	require.Equal(t, "acc.example.net", config.AccountingDB.Host)
	require.True(t, config.Metrics.Enabled)
}

func TestLoadRejectsBadWorkerCount(t *testing.T) {
	t.Setenv("MEDIATION_WORKERS", "0")

	_, err := Load(testLogger())
	require.Error(t, err)
}

func TestDefaultCarrierTable(t *testing.T) {
	config := defaultCarrierConfig()

	dir, err := billing.NewDirectory(config, testLogger())
	require.NoError(t, err)

	p, known := dir.Resolve("qkc")
	require.True(t, known)
	require.Equal(t, "10015", p.Code5)
	require.Equal(t, "MX", p.PerSecondCountry)
	require.Equal(t, 5, p.PTGroup)

	// Carriers without their own rounding spec inherit the default.
	p, known = dir.Resolve("erl")
	require.True(t, known)
	require.Equal(t, int64(6), p.R1)
	require.Equal(t, int64(6), p.R2)
	require.Equal(t, 1, p.PTGroup)
}

func TestCarrierProfilesFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carriers.json")
	body := `{
		"carriers": [
			{"code3": "a22", "code5": "39781", "ptgroup": 7},
			{"code3": "zzt", "code5": "55555"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CARRIER_PROFILES_FILE", path)

	config, err := Load(testLogger())
	require.NoError(t, err)

	dir, err := billing.NewDirectory(config.Carriers, testLogger())
	require.NoError(t, err)

	p, known := dir.Resolve("a22")
	require.True(t, known)
	require.Equal(t, 7, p.PTGroup)

	p, known = dir.Resolve("zzt")
	require.True(t, known)
	require.Equal(t, "55555", p.Code5)

	// Untouched built-in records survive the overlay.
	p, known = dir.Resolve("ryn")
	require.True(t, known)
	require.Equal(t, "17320000000", p.BTN)
}

func TestCarrierProfilesFileMissing(t *testing.T) {
	t.Setenv("CARRIER_PROFILES_FILE", filepath.Join(t.TempDir(), "nope.json"))

	_, err := Load(testLogger())
	require.Error(t, err)
}
