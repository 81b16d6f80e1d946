package probe

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leslieo2/depwatch/internal/health"
)

// Postgres pings a database and runs a check query.
type Postgres struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgres parses the DSN and prepares a small pool. Connections are
// opened lazily by the first check.
func NewPostgres(dsn, query string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 2
	cfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &Postgres{pool: pool, query: query}, nil
}

func (p *Postgres) Check(ctx context.Context) (health.Record, error) {
	if err := p.pool.Ping(ctx); err != nil {
		return health.Record{}, fmt.Errorf("ping: %w", err)
	}

	rows, err := p.pool.Query(ctx, p.query)
	if err != nil {
		return health.Record{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return health.Record{}, fmt.Errorf("query: %w", err)
	}

	return health.Record{
		Status: health.StatusHealthy,
		Detail: fmt.Sprintf("query returned %d rows", n),
	}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
