// Package storage keeps the outcome of finished reconciliation sessions.
//
// Two stores are provided: an in-process MemoryStore, used by default and in tests,
// and a MySQLStore that persists snappy-compressed JSON payloads.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/golang/snappy"

	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/internal/summary"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// Status of a stored result
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one stored reconciliation outcome
type Record struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	OrderFile   string          `json:"order_file"`
	PaymentFile string          `json:"payment_file"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Report      *summary.Report `json:"report,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`

	// Ledger holds every reconciled row of the run. It is served through the
	// transaction queries, not with the record itself.
	Ledger []reporter.LedgerRow `json:"-"`
}

// Page selects a slice of stored records, newest first
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 300
)

// MaxFileNameLength bounds the stored upload names
const MaxFileNameLength = 255

// Validate checks the page bounds
func (p Page) Validate() error {
	if p.Number < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "page", p.Number, fmt.Errorf("page must be at least 1"))
	}
	if p.Size < 1 || p.Size > MaxPageSize {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "size", p.Size, fmt.Errorf("size must be between 1 and %d", MaxPageSize))
	}
	return nil
}

// Offset is the number of records before the page
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Pages returns how many pages total records fill
func (p Page) Pages(total int) int {
	if p.Size <= 0 {
		return 0
	}
	return (total + p.Size - 1) / p.Size
}

// Store persists reconciliation records
type Store interface {
	Save(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, page Page) ([]*Record, int, error)
	Close() error
}

// payload is the compressed part of a stored record
type payload struct {
	Error  string               `json:"error,omitempty"`
	Report *summary.Report      `json:"report,omitempty"`
	Ledger []reporter.LedgerRow `json:"ledger,omitempty"`
}

func encodePayload(r *Record) ([]byte, error) {
	raw, err := json.Marshal(payload{Error: r.Error, Report: r.Report, Ledger: r.Ledger})
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodePayload(data []byte, r *Record) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("failed to decompress payload: %w", err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	r.Error = p.Error
	r.Report = p.Report
	r.Ledger = p.Ledger
	return nil
}

// clipName cuts a file name to MaxFileNameLength bytes without splitting a rune
func clipName(name string) string {
	if len(name) <= MaxFileNameLength {
		return name
	}
	cut := MaxFileNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

var errMissingID = fmt.Errorf("record id is required")

func notFound(id string) *errors.ReconcilerError {
	return errors.ReconciliationError(errors.CodeResultNotFound, id, nil).
		WithSuggestion("list stored results to find a valid id")
}

func storeFailure(operation string, err error) *errors.ReconcilerError {
	return errors.ReconciliationError(errors.CodeStoreFailure, operation, err)
}

// Driver names a Store implementation
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverMySQL  Driver = "mysql"
)

// Config selects and configures a Store
type Config struct {
	Driver Driver       `mapstructure:"driver"`
	MySQL  *MySQLConfig `mapstructure:"mysql"`
}

// DefaultConfig keeps results in memory
func DefaultConfig() *Config {
	return &Config{Driver: DriverMemory, MySQL: DefaultMySQLConfig()}
}

// Open builds the store named by config.Driver
func Open(ctx context.Context, config *Config, log logger.Logger) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	switch config.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverMySQL:
		store, err := NewMySQLStore(ctx, config.MySQL, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", config.Driver, nil).
			WithSuggestion("Use one of: memory, mysql")
	}
}
