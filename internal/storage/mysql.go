package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// MySQLConfig describes the connection of a MySQLStore. DSN wins over the
// individual fields when set.
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DefaultMySQLConfig returns local development settings
func DefaultMySQLConfig() *MySQLConfig {
	return &MySQLConfig{
		Host:            "localhost",
		Port:            3306,
		User:            "reconciler",
		Database:        "reconciler",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// FormatDSN builds the driver DSN, always with parseTime enabled
func (c *MySQLConfig) FormatDSN() (string, error) {
	if c.DSN != "" {
		cfg, err := mysql.ParseDSN(c.DSN)
		if err != nil {
			return "", errors.ConfigurationError(errors.CodeInvalidConfig, "store.dsn", "<redacted>", err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	}

	if c.Host == "" || c.Database == "" {
		return "", errors.ConfigurationError(errors.CodeMissingConfig, "store.host/store.database", nil, nil)
	}

	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Host + ":" + strconv.Itoa(c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

const createResultsTable = `CREATE TABLE IF NOT EXISTS reconciliation_results (
	id VARCHAR(64) PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	order_file VARCHAR(255) NOT NULL,
	payment_file VARCHAR(255) NOT NULL,
	status VARCHAR(16) NOT NULL,
	payload MEDIUMBLOB NOT NULL,
	created_at DATETIME(6) NOT NULL,
	INDEX idx_results_created_at (created_at)
)`

// MySQLStore persists records in a MySQL table
type MySQLStore struct {
	db     *sql.DB
	logger logger.Logger
}

// NewMySQLStore connects, verifies the connection and creates the table when missing
func NewMySQLStore(ctx context.Context, config *MySQLConfig, log logger.Logger) (*MySQLStore, error) {
	if config == nil {
		config = DefaultMySQLConfig()
	}
	dsn, err := config.FormatDSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, storeFailure("connect", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeFailure("connect", err).
			WithSuggestion("check that MySQL is running and the store settings are correct")
	}

	store, err := NewMySQLStoreFromDB(ctx, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreFromDB wraps an open connection pool and creates the table when missing
func NewMySQLStoreFromDB(ctx context.Context, db *sql.DB, log logger.Logger) (*MySQLStore, error) {
	if _, err := db.ExecContext(ctx, createResultsTable); err != nil {
		return nil, storeFailure("migrate", err)
	}
	s := &MySQLStore{db: db, logger: logger.OrGlobal(log).WithComponent("mysql_store")}
	s.logger.Info("Result store ready")
	return s, nil
}

// Save inserts or replaces a record
func (s *MySQLStore) Save(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return storeFailure("save", errMissingID)
	}
	data, err := encodePayload(record)
	if err != nil {
		return storeFailure("save", err)
	}

	_, err = s.db.ExecContext(ctx,
		`REPLACE INTO reconciliation_results (id, session_id, order_file, payment_file, status, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.SessionID, clipName(record.OrderFile), clipName(record.PaymentFile), string(record.Status), data, record.CreatedAt.UTC())
	if err != nil {
		return storeFailure("save", err)
	}

	s.logger.WithFields(logger.Fields{
		"id":         record.ID,
		"status":     record.Status,
		"payload_kb": fmt.Sprintf("%.1f", float64(len(data))/1024),
	}).Debug("Stored reconciliation result")
	return nil
}

// Get loads one record
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, order_file, payment_file, status, payload, created_at
		 FROM reconciliation_results WHERE id = ?`, id)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storeFailure("get", err)
	}
	return r, nil
}

// List loads one page of records, newest first, plus the total count
func (s *MySQLStore) List(ctx context.Context, page Page) ([]*Record, int, error) {
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reconciliation_results`).Scan(&total); err != nil {
		return nil, 0, storeFailure("count", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, order_file, payment_file, status, payload, created_at
		 FROM reconciliation_results ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`,
		page.Size, page.Offset())
	if err != nil {
		return nil, 0, storeFailure("list", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, storeFailure("list", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeFailure("list", err)
	}
	return records, total, nil
}

// Close closes the connection pool
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r      Record
		status string
		data   []byte
	)
	if err := sc.Scan(&r.ID, &r.SessionID, &r.OrderFile, &r.PaymentFile, &status, &data, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if err := decodePayload(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
