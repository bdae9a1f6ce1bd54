package tablestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores each table as a registered header list plus one jsonb
// cell array per row. Rows keep a dense 1-based index so callers can
// address them the same way regardless of backend.
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS table_headers (
			table_name text PRIMARY KEY,
			headers    jsonb NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS table_rows (
			table_name text   NOT NULL,
			row_index  bigint NOT NULL,
			cells      jsonb  NOT NULL,
			PRIMARY KEY (table_name, row_index)
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// EnsureTable registers a table's headers if it does not exist yet.
func (p *Postgres) EnsureTable(ctx context.Context, table string, headers []string) error {
	h, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO table_headers (table_name, headers) VALUES ($1, $2)
		 ON CONFLICT (table_name) DO NOTHING`, table, h)
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) ListRows(ctx context.Context, table string) (TableData, error) {
	var data TableData
	var rawHeaders []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT headers FROM table_headers WHERE table_name = $1`, table).Scan(&rawHeaders)
	if errors.Is(err, sql.ErrNoRows) {
		return data, ErrTableNotFound
	}
	if err != nil {
		return data, fmt.Errorf("get headers: %w", err)
	}
	if err := json.Unmarshal(rawHeaders, &data.Headers); err != nil {
		return data, fmt.Errorf("unmarshal headers: %w", err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT cells FROM table_rows WHERE table_name = $1 ORDER BY row_index`, table)
	if err != nil {
		return data, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return data, fmt.Errorf("scan row: %w", err)
		}
		var cells []any
		if err := json.Unmarshal(raw, &cells); err != nil {
			return data, fmt.Errorf("unmarshal row: %w", err)
		}
		data.Rows = append(data.Rows, cells)
	}
	return data, rows.Err()
}

func (p *Postgres) AppendRow(ctx context.Context, table string, values []any) error {
	if err := p.exists(ctx, table); err != nil {
		return err
	}
	cells, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO table_rows (table_name, row_index, cells)
		 SELECT $1, COALESCE(MAX(row_index), 0) + 1, $2
		 FROM table_rows WHERE table_name = $1`, table, cells)
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateRow(ctx context.Context, table string, rowIndex int, values []any) error {
	cells, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE table_rows SET cells = $3 WHERE table_name = $1 AND row_index = $2`,
		table, rowIndex, cells)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	if n == 0 {
		if err := p.exists(ctx, table); err != nil {
			return err
		}
		return ErrRowNotFound
	}
	return nil
}

func (p *Postgres) DeleteRow(ctx context.Context, table string, rowIndex int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM table_rows WHERE table_name = $1 AND row_index = $2`, table, rowIndex)
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	if n == 0 {
		if err := p.exists(ctx, table); err != nil {
			return err
		}
		return ErrRowNotFound
	}
	// Keep indices dense so positions stay stable for later lookups.
	// The shift runs in two passes through negative indices: a single
	// `row_index = row_index - 1` can trip the primary key when the
	// scan reaches a row before its predecessor has moved.
	if _, err := tx.ExecContext(ctx,
		`UPDATE table_rows SET row_index = -(row_index - 1)
		 WHERE table_name = $1 AND row_index > $2`, table, rowIndex); err != nil {
		return fmt.Errorf("reindex rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE table_rows SET row_index = -row_index
		 WHERE table_name = $1 AND row_index < 0`, table); err != nil {
		return fmt.Errorf("reindex rows: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) exists(ctx context.Context, table string) error {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM table_headers WHERE table_name = $1`, table).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTableNotFound
	}
	if err != nil {
		return fmt.Errorf("check table: %w", err)
	}
	return nil
}
