// Package config loads application configuration from the environment,
// with an optional .env file for development setups.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"mediation-server/pkg/billing"
	"mediation-server/pkg/database"
	"mediation-server/pkg/messaging"
)

// Config is the complete application configuration.
type Config struct {
	Logging      LoggingConfig
	AccountingDB database.MySQLConfig
	BillingDB    database.MySQLConfig
	AMQP         messaging.AMQPConfig
	Mediation    MediationConfig
	Rates        RatesConfig
	Metrics      MetricsConfig
	Carriers     billing.DirectoryConfig
}

// LoggingConfig controls log level and output format.
type LoggingConfig struct {
	Level  string
	Format string
}

// MediationConfig controls the run window and concurrency of a mediation
// pass.
type MediationConfig struct {
	// Workers is the number of calls mediated concurrently.
	Workers int

	// Lag keeps the window away from the present so the switch has
	// finished writing accounting rows for the calls being picked up.
	Lag time.Duration

	// Window is the length of the default processing window, ending at
	// now minus Lag.
	Window time.Duration

	// Limit caps the number of Call-Ids selected per run. Zero means
	// no cap.
	Limit int
}

// RatesConfig controls the route-price cache.
type RatesConfig struct {
	PositiveTTL time.Duration
	NegativeTTL time.Duration
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool
	ListenAddr string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env file")
	}

	config := &Config{
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		AccountingDB: database.LoadMySQLConfig("ACC_DB", "opensips", logger),
		BillingDB:    database.LoadMySQLConfig("NC_DB", "netcall", logger),
		AMQP: messaging.AMQPConfig{
			URL:        getEnv("AMQP_URL", ""),
			QueueName:  getEnv("AMQP_QUEUE_NAME", "cdr_records"),
			RoutingKey: getEnv("AMQP_ROUTING_KEY", ""),
			Durable:    getEnvBool("AMQP_DURABLE", true),
		},
		Mediation: MediationConfig{
			Workers: getEnvInt("MEDIATION_WORKERS", 8),
			Lag:     getEnvDuration("MEDIATION_LAG", 5*time.Minute),
			Window:  getEnvDuration("MEDIATION_WINDOW", time.Hour),
			Limit:   getEnvInt("MEDIATION_LIMIT", 0),
		},
		Rates: RatesConfig{
			PositiveTTL: getEnvDuration("RATE_CACHE_TTL", 0),
			NegativeTTL: getEnvDuration("RATE_CACHE_NEGATIVE_TTL", 0),
		},
		Metrics: MetricsConfig{
			Enabled:    getEnvBool("METRICS_ENABLED", false),
			ListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		},
	}

	carriers, err := loadCarrierConfig(getEnv("CARRIER_PROFILES_FILE", ""), logger)
	if err != nil {
		return nil, err
	}
	config.Carriers = carriers

	if err := database.ValidateConfig(config.AccountingDB); err != nil {
		return nil, fmt.Errorf("accounting database config: %w", err)
	}
	if err := database.ValidateConfig(config.BillingDB); err != nil {
		return nil, fmt.Errorf("billing database config: %w", err)
	}
	if config.Mediation.Workers < 1 {
		return nil, fmt.Errorf("MEDIATION_WORKERS must be at least 1, got %d", config.Mediation.Workers)
	}

	return config, nil
}

// loadCarrierConfig starts from the built-in carrier table and, when a
// profiles file is configured, overlays the records it contains. Records
// share the same code3 merge by replacement.
func loadCarrierConfig(path string, logger *logrus.Logger) (billing.DirectoryConfig, error) {
	config := defaultCarrierConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading carrier profiles file: %w", err)
	}

	var overlay billing.DirectoryConfig
	if err := json.Unmarshal(data, &overlay); err != nil {
		return config, fmt.Errorf("parsing carrier profiles file %s: %w", path, err)
	}

	if overlay.Default.Code3 != "" {
		config.Default = overlay.Default
	}
	byCode := make(map[string]int, len(config.Carriers))
	for i, c := range config.Carriers {
		byCode[c.Code3] = i
	}
	for _, c := range overlay.Carriers {
		if i, ok := byCode[c.Code3]; ok {
			config.Carriers[i] = c
		} else {
			config.Carriers = append(config.Carriers, c)
		}
	}

	logger.WithFields(logrus.Fields{
		"file":     path,
		"carriers": len(overlay.Carriers),
	}).Info("Merged carrier profiles from file")

	return config, nil
}

// ConfigureLogger applies the logging section to a logrus logger.
func ConfigureLogger(logger *logrus.Logger, config LoggingConfig) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithField("level", config.Level).Warn("Unknown log level, using info")
	}
	logger.SetLevel(level)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
