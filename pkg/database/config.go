package database

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// LoadMySQLConfig loads a MySQL configuration from environment variables
// under the given prefix (e.g. prefix "ACC_DB" reads ACC_DB_HOST and so on).
func LoadMySQLConfig(prefix, defaultDatabase string, logger *logrus.Logger) MySQLConfig {
	config := MySQLConfig{
		Host:            getEnvOrDefault(prefix+"_HOST", "localhost"),
		Port:            getEnvIntOrDefault(prefix+"_PORT", 3306),
		Database:        getEnvOrDefault(prefix+"_NAME", defaultDatabase),
		Username:        getEnvOrDefault(prefix+"_USERNAME", defaultDatabase),
		Password:        getEnvOrDefault(prefix+"_PASSWORD", ""),
		MaxOpenConns:    getEnvIntOrDefault(prefix+"_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvIntOrDefault(prefix+"_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDurationOrDefault(prefix+"_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDurationOrDefault(prefix+"_CONN_MAX_IDLE_TIME", 5*time.Minute),
		SSLMode:         getEnvOrDefault(prefix+"_SSL_MODE", ""),
		Charset:         getEnvOrDefault(prefix+"_CHARSET", "utf8mb4"),
		ParseTime:       true,
		Loc:             getEnvOrDefault(prefix+"_TIMEZONE", "UTC"),
	}

	logger.WithFields(logrus.Fields{
		"prefix":   prefix,
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
		"username": config.Username,
	}).Info("MySQL configuration loaded")

	return config
}

// ValidateConfig validates a MySQL configuration
func ValidateConfig(config MySQLConfig) error {
	if config.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", config.Port)
	}

	if config.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if config.Username == "" {
		return fmt.Errorf("database username is required")
	}

	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
