package sqldump

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/failure"
)

var ErrNoTablesFound = errors.New("no tables found in the SQL file")

type Result struct {
	Dataset *dataset.Dataset
	Table   string
	Tables  []string
}

// Load normalizes the dump, replays it into a throwaway in-memory SQLite
// database and materializes the first table the catalog lists.
func Load(ctx context.Context, raw string) (Result, error) {
	script := Normalize(raw)
	if strings.TrimSpace(script) == "" {
		return Result{}, noTablesError()
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return Result{}, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = db.Close() }()
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, script); err != nil {
		return Result{}, failure.Wrap(failure.KindValidation, "execute sql dump", err)
	}

	tables, err := listTables(ctx, db)
	if err != nil {
		return Result{}, err
	}
	if len(tables) == 0 {
		return Result{}, noTablesError()
	}

	table := tables[0]
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return Result{}, fmt.Errorf("read table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	ds, err := dataset.ScanRows(rows, 0)
	if err != nil {
		return Result{}, fmt.Errorf("materialize table %q: %w", table, err)
	}
	return Result{Dataset: ds, Table: table, Tables: tables}, nil
}

func noTablesError() error {
	return &failure.Error{
		Kind:    failure.KindNoTablesFound,
		Op:      "load sql dump",
		Message: ErrNoTablesFound.Error(),
		Err:     ErrNoTablesFound,
	}
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if strings.HasPrefix(name, "sqlite_") {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
