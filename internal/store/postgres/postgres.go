package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/store"
)

const defaultMaxConns = 4

type Config struct {
	URL             string
	MaxConns        int
	MaxConnLifetime time.Duration
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, config Config) (*Store, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("postgres: url is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	poolConfig.MaxConns = defaultMaxConns
	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// SaveTable replaces any table stored under key. Rows are bulk loaded with COPY.
func (s *Store) SaveTable(ctx context.Context, key store.TableKey, table model.Table) (meta store.TableMeta, err error) {
	meta = store.NewMeta(table)
	columns := table.Columns
	if columns == nil {
		columns = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.TableMeta{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`DELETE FROM enrollment_rows WHERE provider = $1 AND end_year = $2 AND tidy = $3`,
		key.Provider, key.EndYear, key.Tidy,
	); err != nil {
		return store.TableMeta{}, err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO enrollment_tables (
			provider, end_year, tidy, columns, row_count, fetch_id, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6::uuid, $7)
		ON CONFLICT (provider, end_year, tidy)
		DO UPDATE SET
			columns = EXCLUDED.columns,
			row_count = EXCLUDED.row_count,
			fetch_id = EXCLUDED.fetch_id,
			fetched_at = EXCLUDED.fetched_at
	`, key.Provider, key.EndYear, key.Tidy, columns, meta.RowCount, meta.FetchID.String(), meta.FetchedAt); err != nil {
		return store.TableMeta{}, err
	}

	source := make([][]any, len(table.Rows))
	for i, row := range table.Rows {
		source[i] = []any{key.Provider, key.EndYear, key.Tidy, i, row}
	}
	if _, err = tx.CopyFrom(ctx,
		pgx.Identifier{"enrollment_rows"},
		[]string{"provider", "end_year", "tidy", "row_num", "cells"},
		pgx.CopyFromRows(source),
	); err != nil {
		return store.TableMeta{}, fmt.Errorf("postgres: copy rows: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return store.TableMeta{}, err
	}
	return meta, nil
}

func (s *Store) LoadTable(ctx context.Context, key store.TableKey) (model.Table, store.TableMeta, error) {
	var (
		columns []string
		fetchID string
		meta    store.TableMeta
	)
	err := s.pool.QueryRow(ctx, `
		SELECT columns, row_count, fetch_id::text, fetched_at
		FROM enrollment_tables
		WHERE provider = $1 AND end_year = $2 AND tidy = $3
	`, key.Provider, key.EndYear, key.Tidy).Scan(&columns, &meta.RowCount, &fetchID, &meta.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Table{}, store.TableMeta{}, store.ErrNotFound
	}
	if err != nil {
		return model.Table{}, store.TableMeta{}, err
	}
	meta.FetchID, err = uuid.Parse(fetchID)
	if err != nil {
		return model.Table{}, store.TableMeta{}, fmt.Errorf("postgres: fetch id: %w", err)
	}
	meta.FetchedAt = meta.FetchedAt.UTC()

	rows, err := s.pool.Query(ctx, `
		SELECT cells FROM enrollment_rows
		WHERE provider = $1 AND end_year = $2 AND tidy = $3
		ORDER BY row_num
	`, key.Provider, key.EndYear, key.Tidy)
	if err != nil {
		return model.Table{}, store.TableMeta{}, err
	}
	cells, err := pgx.CollectRows(rows, pgx.RowTo[[]string])
	if err != nil {
		return model.Table{}, store.TableMeta{}, err
	}

	table := model.NewTable(columns...)
	for _, row := range cells {
		table.AppendRow(row...)
	}
	return table, meta, nil
}

func (s *Store) ListYears(ctx context.Context, provider string, tidy bool) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT end_year FROM enrollment_tables
		WHERE provider = $1 AND tidy = $2
		ORDER BY end_year
	`, provider, tidy)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (s *Store) DeleteTable(ctx context.Context, key store.TableKey) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM enrollment_rows WHERE provider = $1 AND end_year = $2 AND tidy = $3`,
		key.Provider, key.EndYear, key.Tidy)
	batch.Queue(`DELETE FROM enrollment_tables WHERE provider = $1 AND end_year = $2 AND tidy = $3`,
		key.Provider, key.EndYear, key.Tidy)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS enrollment_tables (
			provider TEXT NOT NULL,
			end_year INTEGER NOT NULL,
			tidy BOOLEAN NOT NULL,
			columns TEXT[] NOT NULL,
			row_count INTEGER NOT NULL,
			fetch_id UUID NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (provider, end_year, tidy)
		)`,
		`CREATE TABLE IF NOT EXISTS enrollment_rows (
			provider TEXT NOT NULL,
			end_year INTEGER NOT NULL,
			tidy BOOLEAN NOT NULL,
			row_num INTEGER NOT NULL,
			cells TEXT[] NOT NULL,
			PRIMARY KEY (provider, end_year, tidy, row_num)
		)`,
	}

	for _, statement := range statements {
		if _, err := s.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
