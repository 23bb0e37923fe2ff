// Package audit records the terminal outcome of every dispatched simulation
// call, so operators can reconstruct what a large chunked run did without
// trawling logs.
package audit

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Call statuses as stored.
const (
	StatusOK       = "ok"
	StatusTimeout  = "timeout"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// CallRecord is one dispatched call outcome.
type CallRecord struct {
	bun.BaseModel `bun:"table:gascall_calls,alias:gc"`

	ID              int64     `bun:"id,pk,autoincrement"`
	Method          string    `bun:"method,notnull"`
	GasLimit        uint64    `bun:"gas_limit,notnull"`
	ChunkCount      int       `bun:"chunk_count"`
	ChunksCompleted int       `bun:"chunks_completed"`
	GasProcessed    uint64    `bun:"gas_processed"`
	DurationMS      int64     `bun:"duration_ms"`
	Status          string    `bun:"status,notnull"`
	Error           string    `bun:"error"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Config carries the audit store connection settings.
type Config struct {
	DSN            string // Data Source Name; empty selects the in-memory store.
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// Storage is the persistence seam for call records.
type Storage interface {
	AddCallRecord(ctx context.Context, record *CallRecord) error
	RecentCalls(ctx context.Context, limit int) ([]*CallRecord, error)
	Ping(ctx context.Context) error
}

// NewStorage initializes a storage backend based on the provided Config.
// If DSN is empty, it uses an in-memory storage; otherwise it connects to a
// Postgres database.
func NewStorage(ctx context.Context, config Config) (Storage, error) {
	if config.DSN == "" {
		return NewMemory(), nil
	}

	store := NewPostgres(config)
	return store, store.Ping(ctx)
}
