package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/failure"
	"github.com/tablechat/tablechat/internal/nl2sql"
	"github.com/tablechat/tablechat/internal/nlquery"
)

const TableName = "df"

type Config struct {
	RowLimit   int
	SampleRows int
}

type Factory struct {
	planner nl2sql.Planner
	cfg     Config
	logger  *slog.Logger
}

func NewFactory(planner nl2sql.Planner, cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Factory{planner: planner, cfg: cfg, logger: logger}
}

func (f *Factory) NewHandle(ctx context.Context, ds *dataset.Dataset) (nlquery.Handle, error) {
	if f.planner == nil {
		return nil, failure.New(failure.KindEngineUnavailable, "build engine", "the AI assistant is not configured")
	}
	return Open(ctx, ds, f.planner, f.cfg, f.logger)
}

// Engine answers questions over a single dataset loaded as table df.
type Engine struct {
	connector *duckdb.Connector
	db        *sql.DB
	planner   nl2sql.Planner
	ds        *dataset.Dataset
	cfg       Config
	logger    *slog.Logger
}

func Open(ctx context.Context, ds *dataset.Dataset, planner nl2sql.Planner, cfg Config, logger *slog.Logger) (*Engine, error) {
	if ds == nil {
		return nil, failure.Validation("build engine", "no dataset loaded")
	}
	if planner == nil {
		return nil, failure.New(failure.KindEngineUnavailable, "build engine", "the AI assistant is not configured")
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 500
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 5
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	connector, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	e := &Engine{
		connector: connector,
		db:        sql.OpenDB(connector),
		planner:   planner,
		ds:        ds,
		cfg:       cfg,
		logger:    logger,
	}
	if err := e.load(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, createTableSQL(e.ds)); err != nil {
		return fmt.Errorf("create table %s: %w", TableName, err)
	}

	conn, err := e.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect duckdb: %w", err)
	}
	defer func() { _ = conn.Close() }()

	appender, err := duckdb.NewAppenderFromConn(conn, "", TableName)
	if err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	for i, row := range e.ds.Rows {
		values := make([]driver.Value, len(row))
		for col, value := range row {
			values[col] = appendValue(value, e.ds.Columns[col].DType)
		}
		if err := appender.AppendRow(values...); err != nil {
			_ = appender.Close()
			return fmt.Errorf("append row %d: %w", i, err)
		}
	}
	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush appender: %w", err)
	}

	// Generated SQL must not reach the filesystem or network.
	if _, err := e.db.ExecContext(ctx, "SET enable_external_access = false"); err != nil {
		return fmt.Errorf("restrict duckdb: %w", err)
	}
	return nil
}

func createTableSQL(ds *dataset.Dataset) string {
	columns := make([]string, len(ds.Columns))
	for i, column := range ds.Columns {
		columns[i] = quoteIdent(column.Name) + " " + sqlType(column.DType)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(TableName), strings.Join(columns, ", "))
}

func sqlType(dtype dataset.DType) string {
	switch dtype {
	case dataset.DTypeInt64:
		return "BIGINT"
	case dataset.DTypeFloat64:
		return "DOUBLE"
	case dataset.DTypeBool:
		return "BOOLEAN"
	case dataset.DTypeDatetime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func appendValue(value any, dtype dataset.DType) driver.Value {
	if value == nil {
		return nil
	}
	if dtype == dataset.DTypeObject {
		if text, ok := value.(string); ok {
			return text
		}
		if t, ok := value.(time.Time); ok {
			return t.Format(time.RFC3339Nano)
		}
		return fmt.Sprint(value)
	}
	return value
}

func (e *Engine) Chat(ctx context.Context, question string) (nlquery.Result, error) {
	rows, _ := e.ds.Shape()
	plan, err := e.planner.Plan(ctx, nl2sql.Request{
		Question:   question,
		Table:      TableName,
		Columns:    planColumns(e.ds),
		RowCount:   rows,
		SampleRows: e.ds.Head(e.cfg.SampleRows).Rows,
	})
	if err != nil {
		return nlquery.Result{}, err
	}
	e.logger.DebugContext(ctx, "engine plan",
		slog.String("kind", string(plan.Kind)),
		slog.String("sql", plan.SQL),
		slog.String("model", plan.Model),
	)

	switch plan.Kind {
	case nl2sql.PlanAnswer:
		return nlquery.Text(plan.Answer), nil
	case nl2sql.PlanSQL:
		frame, err := e.query(ctx, plan.SQL)
		if err != nil {
			return nlquery.Result{}, err
		}
		if frame.NumRows() == 1 && frame.NumCols() == 1 {
			return nlquery.Text(formatScalar(frame.Rows[0][0])), nil
		}
		return nlquery.Frame(frame), nil
	case nl2sql.PlanChart:
		frame, err := e.query(ctx, plan.SQL)
		if err != nil {
			return nlquery.Result{}, err
		}
		if !hasColumn(frame, plan.Chart.X) || !hasColumn(frame, plan.Chart.Y) {
			return nlquery.Result{}, failure.New(failure.KindIncompatibleOutput, "build chart",
				fmt.Sprintf("chart axes %q/%q are not columns of the query result", plan.Chart.X, plan.Chart.Y))
		}
		return nlquery.ChartResult(&nlquery.Chart{
			Title: plan.Chart.Title,
			Mark:  plan.Chart.Mark,
			X:     plan.Chart.X,
			Y:     plan.Chart.Y,
			Data:  frame,
		}), nil
	}
	return nlquery.None(), nil
}

func (e *Engine) query(ctx context.Context, sqlText string) (*dataset.Dataset, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if !isAllowedSQL(sqlText) {
		return nil, failure.New(failure.KindIncompatibleOutput, "run query", "only a single SELECT or WITH query is allowed")
	}
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, e.cfg.RowLimit)
	rows, err := e.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return dataset.ScanRows(rows, 0)
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func planColumns(ds *dataset.Dataset) []nl2sql.Column {
	columns := make([]nl2sql.Column, len(ds.Columns))
	for i, column := range ds.Columns {
		columns[i] = nl2sql.Column{Name: column.Name, DType: string(column.DType)}
	}
	return columns
}

func hasColumn(ds *dataset.Dataset, name string) bool {
	for _, column := range ds.ColumnNames() {
		if column == name {
			return true
		}
	}
	return false
}

func formatScalar(value any) string {
	switch typed := value.(type) {
	case nil:
		return "No value"
	case float64:
		return formatFloat(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	if abs := math.Abs(v); abs < 1e-4 || abs >= 1e16 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isAllowedSQL(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	if normalized == "" || strings.Contains(normalized, ";") {
		return false
	}
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
