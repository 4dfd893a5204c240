package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTable replaces any table stored under key.
func (s *Store) SaveTable(ctx context.Context, key store.TableKey, table model.Table) (meta store.TableMeta, err error) {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return store.TableMeta{}, err
	}
	meta = store.NewMeta(table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.TableMeta{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM enrollment_rows WHERE provider = ? AND end_year = ? AND tidy = ?`,
		key.Provider, key.EndYear, key.Tidy,
	); err != nil {
		return store.TableMeta{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO enrollment_tables (
			provider, end_year, tidy, columns, row_count, fetch_id, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, end_year, tidy)
		DO UPDATE SET
			columns = excluded.columns,
			row_count = excluded.row_count,
			fetch_id = excluded.fetch_id,
			fetched_at = excluded.fetched_at
	`, key.Provider, key.EndYear, key.Tidy, string(columns), meta.RowCount, meta.FetchID.String(), meta.FetchedAt.Format(time.RFC3339Nano)); err != nil {
		return store.TableMeta{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO enrollment_rows (provider, end_year, tidy, row_num, cells)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return store.TableMeta{}, err
	}
	defer stmt.Close()

	for i, row := range table.Rows {
		var cells []byte
		cells, err = json.Marshal(row)
		if err != nil {
			return store.TableMeta{}, err
		}
		if _, err = stmt.ExecContext(ctx, key.Provider, key.EndYear, key.Tidy, i, string(cells)); err != nil {
			return store.TableMeta{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return store.TableMeta{}, err
	}
	return meta, nil
}

func (s *Store) LoadTable(ctx context.Context, key store.TableKey) (model.Table, store.TableMeta, error) {
	var (
		columnsJSON string
		fetchID     string
		fetchedAt   string
		meta        store.TableMeta
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT columns, row_count, fetch_id, fetched_at
		FROM enrollment_tables
		WHERE provider = ? AND end_year = ? AND tidy = ?
	`, key.Provider, key.EndYear, key.Tidy).Scan(&columnsJSON, &meta.RowCount, &fetchID, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Table{}, store.TableMeta{}, store.ErrNotFound
	}
	if err != nil {
		return model.Table{}, store.TableMeta{}, err
	}

	meta.FetchID, err = uuid.Parse(fetchID)
	if err != nil {
		return model.Table{}, store.TableMeta{}, fmt.Errorf("sqlite: fetch id: %w", err)
	}
	meta.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return model.Table{}, store.TableMeta{}, fmt.Errorf("sqlite: fetched at: %w", err)
	}

	var columns []string
	if err := json.Unmarshal([]byte(columnsJSON), &columns); err != nil {
		return model.Table{}, store.TableMeta{}, fmt.Errorf("sqlite: columns: %w", err)
	}
	table := model.NewTable(columns...)
	table.Rows = make([][]string, 0, meta.RowCount)

	rows, err := s.db.QueryContext(ctx, `
		SELECT cells FROM enrollment_rows
		WHERE provider = ? AND end_year = ? AND tidy = ?
		ORDER BY row_num
	`, key.Provider, key.EndYear, key.Tidy)
	if err != nil {
		return model.Table{}, store.TableMeta{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var cellsJSON string
		if err := rows.Scan(&cellsJSON); err != nil {
			return model.Table{}, store.TableMeta{}, err
		}
		var cells []string
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return model.Table{}, store.TableMeta{}, fmt.Errorf("sqlite: row cells: %w", err)
		}
		table.Rows = append(table.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return model.Table{}, store.TableMeta{}, err
	}

	return table, meta, nil
}

func (s *Store) ListYears(ctx context.Context, provider string, tidy bool) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT end_year FROM enrollment_tables
		WHERE provider = ? AND tidy = ?
		ORDER BY end_year
	`, provider, tidy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	years := make([]int, 0)
	for rows.Next() {
		var year int
		if err := rows.Scan(&year); err != nil {
			return nil, err
		}
		years = append(years, year)
	}
	return years, rows.Err()
}

func (s *Store) DeleteTable(ctx context.Context, key store.TableKey) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM enrollment_rows WHERE provider = ? AND end_year = ? AND tidy = ?`,
		key.Provider, key.EndYear, key.Tidy,
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM enrollment_tables WHERE provider = ? AND end_year = ? AND tidy = ?`,
		key.Provider, key.EndYear, key.Tidy,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS enrollment_tables (
			provider TEXT NOT NULL,
			end_year INTEGER NOT NULL,
			tidy INTEGER NOT NULL,
			columns TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			fetch_id TEXT NOT NULL,
			fetched_at TEXT NOT NULL,
			PRIMARY KEY (provider, end_year, tidy)
		);`,
		`CREATE TABLE IF NOT EXISTS enrollment_rows (
			provider TEXT NOT NULL,
			end_year INTEGER NOT NULL,
			tidy INTEGER NOT NULL,
			row_num INTEGER NOT NULL,
			cells TEXT NOT NULL,
			PRIMARY KEY (provider, end_year, tidy, row_num)
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

var _ store.Store = (*Store)(nil)
