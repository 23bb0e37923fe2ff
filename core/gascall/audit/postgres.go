package audit

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Postgres struct provides a Bun database storage mechanism for call records.
type Postgres struct {
	DB *bun.DB
}

// NewPostgres initializes a Postgres store from the connection settings.
func NewPostgres(config Config) *Postgres {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(config.DSN)))
	if config.DBMaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(config.DBMaxOpenConns)
	}
	if config.DBMaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(config.DBMaxIdleConns)
	}
	return &Postgres{DB: bun.NewDB(sqldb, pgdialect.New())}
}

// Ping checks the connection to the database.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// AddCallRecord inserts a new call record.
func (p *Postgres) AddCallRecord(ctx context.Context, record *CallRecord) error {
	_, err := p.DB.NewInsert().Model(record).Exec(ctx)
	return err
}

// RecentCalls retrieves up to limit call records, newest first.
func (p *Postgres) RecentCalls(ctx context.Context, limit int) ([]*CallRecord, error) {
	var records []*CallRecord
	query := p.DB.NewSelect().Model(&records).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}
