// Package database holds the MySQL persistence layer. Mediation reads raw
// transactions from the switch accounting database and writes finalized call
// records, rate lookups, and numbering-plan data to the billing database;
// the two are separate schemas, usually on separate servers.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	SSLMode         string
	Charset         string
	ParseTime       bool
	Loc             string
}

// MySQLDatabase represents a MySQL database connection
type MySQLDatabase struct {
	db     *sql.DB
	config MySQLConfig
	logger *logrus.Logger
}

// NewMySQLDatabase creates a new MySQL database connection
func NewMySQLDatabase(config MySQLConfig, logger *logrus.Logger) (*MySQLDatabase, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.Charset,
		config.ParseTime,
		config.Loc,
	)

	if config.SSLMode != "" {
		dsn += "&tls=" + config.SSLMode
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	mysql := &MySQLDatabase{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Connected to MySQL database")

	return mysql, nil
}

// Close closes the database connection
func (m *MySQLDatabase) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Health checks database health
func (m *MySQLDatabase) Health() error {
	ctx, cancel := m.getContext()
	defer cancel()

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Migrate creates the billing-side tables. The accounting (acc) table is
// owned by the switch and is never migrated from here.
func (m *MySQLDatabase) Migrate() error {
	migrations := []string{
		createCallIDsTable,
		createCallsTable,
		createCallIDs2CallsTable,
		createPriceTablesTable,
		createNanpaPrefixesTable,
	}

	for i, migration := range migrations {
		m.logger.WithField("migration", i+1).Debug("Running migration")

		if _, err := m.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	m.logger.Info("Database migrations completed successfully")
	return nil
}

// getContext returns a context with timeout
func (m *MySQLDatabase) getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// Database schema definitions

// callids maps the long, repeated Call-Id strings to compact surrogate keys.
const createCallIDsTable = `
CREATE TABLE IF NOT EXISTS callids (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    callid VARCHAR(255) NOT NULL,
    UNIQUE INDEX idx_callid (callid)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createCallsTable = `
CREATE TABLE IF NOT EXISTS calls (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    c_from VARCHAR(3) NOT NULL,
    c_from5 VARCHAR(5) NOT NULL,
    c_to VARCHAR(3) NULL,
    c_to5 VARCHAR(5) NULL,
    rspcode INT NOT NULL DEFAULT 0,
    fstatus VARCHAR(32) NOT NULL DEFAULT 'unknown',
    t_start DATETIME NULL,
    t_confirm DATETIME NULL,
    t_end DATETIME NULL,
    s_setup BIGINT NULL,
    s_connected BIGINT NULL,
    s_connected_r BIGINT NULL,
    s_total BIGINT NULL,
    anum VARCHAR(64) NULL,
    anum2 VARCHAR(64) NULL,
    a_country VARCHAR(2) NULL,
    a_state VARCHAR(2) NULL,
    a_lata VARCHAR(8) NULL,
    a_ocn VARCHAR(8) NULL,
    a_jtype CHAR(1) NULL,
    bnum VARCHAR(64) NULL,
    b_lrn VARCHAR(64) NULL,
    b_country VARCHAR(2) NULL,
    b_state VARCHAR(2) NULL,
    b_lata VARCHAR(8) NULL,
    b_ocn VARCHAR(8) NULL,
    b_jtype CHAR(1) NULL,
    xstate VARCHAR(8) NULL,
    call_price DOUBLE NOT NULL DEFAULT 0,
    ruleid BIGINT NOT NULL DEFAULT 0,
    ptgroup INT NOT NULL DEFAULT 0,
    cp_nodes VARCHAR(255) NOT NULL DEFAULT '',
    INDEX idx_t_end (t_end),
    INDEX idx_c_from (c_from),
    INDEX idx_ruleid (ruleid)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createCallIDs2CallsTable = `
CREATE TABLE IF NOT EXISTS callids2calls (
    callid_id BIGINT NOT NULL,
    calls_id BIGINT NOT NULL,
    PRIMARY KEY (callid_id),
    INDEX idx_calls_id (calls_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createPriceTablesTable = `
CREATE TABLE IF NOT EXISTS price_tables (
    ruleid BIGINT NOT NULL,
    ptgroup INT NOT NULL,
    mprice DOUBLE NOT NULL,
    PRIMARY KEY (ruleid, ptgroup)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createNanpaPrefixesTable = `
CREATE TABLE IF NOT EXISTS nanpa_prefixes (
    prefix CHAR(6) PRIMARY KEY,
    state VARCHAR(2) NOT NULL,
    lata VARCHAR(8) NOT NULL,
    ocn VARCHAR(8) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`
