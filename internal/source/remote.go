package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/failure"
	"github.com/tablechat/tablechat/internal/observability"
)

const DefaultProbeTimeout = 5 * time.Second

type dialect struct {
	driver   string
	required func(Params) []string
	dsn      func(Params, time.Duration) string
	preview  func(table string, rows int) string
}

var dialects = map[Kind]dialect{
	KindSQLServer: {
		driver:   "sqlserver",
		required: serverFields,
		dsn:      sqlServerURL,
		preview:  topPreview,
	},
	KindDataverse: {
		driver:   "sqlserver",
		required: serverFields,
		dsn:      dataverseAttributes,
		preview:  topPreview,
	},
	KindMySQL: {
		driver:   "mysql",
		required: hostFields,
		dsn:      mysqlDSN,
		preview: func(table string, rows int) string {
			return fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteQualified(table, "`", "`"), rows)
		},
	},
	KindPostgres: {
		driver:   "pgx",
		required: hostFields,
		dsn:      postgresURL,
		preview: func(table string, rows int) string {
			return fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteQualified(table, `"`, `"`), rows)
		},
	},
}

func serverFields(p Params) []string {
	return missing(map[string]string{
		"server":   p.Server,
		"database": p.Database,
		"username": p.Username,
		"password": p.Password,
		"table":    p.Table,
	}, "server", "database", "username", "password", "table")
}

func hostFields(p Params) []string {
	return missing(map[string]string{
		"host":     p.Host,
		"port":     p.Port,
		"database": p.Database,
		"username": p.Username,
		"table":    p.Table,
	}, "host", "port", "database", "username", "table")
}

func missing(values map[string]string, order ...string) []string {
	out := make([]string, 0)
	for _, name := range order {
		if strings.TrimSpace(values[name]) == "" {
			out = append(out, name)
		}
	}
	return out
}

func sqlServerURL(p Params, timeout time.Duration) string {
	query := url.Values{}
	query.Set("database", p.Database)
	query.Set("connection timeout", strconv.Itoa(timeoutSeconds(timeout)))
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(p.Username, p.Password),
		Host:     p.Server,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func dataverseAttributes(p Params, timeout time.Duration) string {
	attrs := []string{
		"server=" + attrValue(p.Server),
		"user id=" + attrValue(p.Username),
		"password=" + attrValue(p.Password),
		"database=" + attrValue(p.Database),
		"connection timeout=" + strconv.Itoa(timeoutSeconds(timeout)),
		"encrypt=true",
	}
	return strings.Join(attrs, ";")
}

func attrValue(value string) string {
	if !strings.ContainsAny(value, ";={}") {
		return value
	}
	return "{" + strings.ReplaceAll(value, "}", "}}") + "}"
}

func mysqlDSN(p Params, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = p.Username
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, p.Port)
	cfg.DBName = p.Database
	cfg.Timeout = timeout
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func postgresURL(p Params, timeout time.Duration) string {
	query := url.Values{}
	query.Set("connect_timeout", strconv.Itoa(timeoutSeconds(timeout)))
	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: query.Encode(),
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	} else {
		u.User = url.User(p.Username)
	}
	return u.String()
}

func topPreview(table string, rows int) string {
	return fmt.Sprintf("SELECT TOP %d * FROM %s", rows, quoteQualified(table, "[", "]"))
}

func timeoutSeconds(timeout time.Duration) int {
	seconds := int(timeout / time.Second)
	if seconds <= 0 {
		return 30
	}
	return seconds
}

func quoteQualified(table, open, end string) string {
	parts := strings.Split(strings.TrimSpace(table), ".")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		parts[i] = open + strings.ReplaceAll(part, end, end+end) + end
	}
	return strings.Join(parts, ".")
}

func validateParams(kind Kind, p Params) error {
	d, ok := dialects[kind]
	if !ok {
		return failure.Validation("connect", fmt.Sprintf("unsupported remote source kind %q", kind))
	}
	if fields := d.required(p); len(fields) > 0 {
		return failure.Validation("connect", "Please fill in all required fields: "+strings.Join(fields, ", "))
	}
	if p.Port != "" {
		port, err := strconv.Atoi(strings.TrimSpace(p.Port))
		if err != nil || port <= 0 || port > 65535 {
			return failure.Validation("connect", "Port must be a valid number.")
		}
	}
	for _, part := range strings.Split(p.Table, ".") {
		if strings.TrimSpace(part) == "" {
			return failure.Validation("connect", fmt.Sprintf("invalid table name %q", p.Table))
		}
	}
	return nil
}

type Connection struct {
	db           *sql.DB
	kind         Kind
	params       Params
	dialect      dialect
	probeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *Connection) Kind() Kind {
	return c.kind
}

func (c *Connection) Params() Params {
	return c.params
}

func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closeErr = c.db.Close()
		observability.AddLiveConnections(-1)
	})
	return c.closeErr
}

func (c *Connection) Preview(ctx context.Context, rows int) (*dataset.Dataset, error) {
	query := c.dialect.preview(c.params.Table, rows)
	result, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, failure.Wrap(failure.KindConnection, "read preview", err)
	}
	defer func() { _ = result.Close() }()
	ds, err := dataset.ScanRows(result, rows)
	if err != nil {
		return nil, failure.Wrap(failure.KindConnection, "read preview", err)
	}
	return ds, nil
}

// IsValid reports whether conn still answers a trivial query. It never
// panics and treats every error as an invalid connection.
func IsValid(ctx context.Context, conn *Connection) (valid bool) {
	if conn == nil || conn.db == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			valid = false
		}
	}()
	timeout := conn.probeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var one int
	if err := conn.db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return false
	}
	return true
}

func (l *Loader) connect(ctx context.Context, req Request) (Result, error) {
	params := trimParams(req.Params)
	if err := validateParams(req.Kind, params); err != nil {
		_ = req.Current.Close()
		return Result{}, err
	}

	conn, reused := l.reuse(ctx, req.Current, req.Kind, params)
	if conn == nil {
		opened, err := l.openConnection(ctx, req.Kind, params)
		if err != nil {
			return Result{}, err
		}
		conn = opened
	}

	ds, err := conn.Preview(ctx, l.cfg.PreviewRows)
	if err != nil {
		_ = conn.Close()
		return Result{}, err
	}
	return Result{
		Dataset:    ds,
		Connection: conn,
		Kind:       req.Kind,
		Name:       params.Database,
		Table:      params.Table,
		Reused:     reused,
	}, nil
}

func (l *Loader) reuse(ctx context.Context, current *Connection, kind Kind, params Params) (*Connection, bool) {
	if current == nil {
		return nil, false
	}
	if current.kind == kind && current.params == params && IsValid(ctx, current) {
		return current, true
	}
	if current.kind == kind && current.params == params {
		l.logger.WarnContext(ctx, "cached connection failed probe, reconnecting",
			slog.String("kind", string(kind)),
			slog.String("database", params.Database),
		)
	}
	_ = current.Close()
	return nil, false
}

func (l *Loader) openConnection(ctx context.Context, kind Kind, params Params) (*Connection, error) {
	d := dialects[kind]
	db, err := l.open(d.driver, d.dsn(params, l.cfg.ConnectTimeout))
	if err != nil {
		return nil, failure.Wrap(failure.KindConnection, "open "+string(kind)+" connection", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	observability.AddLiveConnections(1)
	conn := &Connection{db: db, kind: kind, params: params, dialect: d, probeTimeout: l.cfg.ProbeTimeout}

	pingCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, failure.Wrap(failure.KindConnection, "connect to "+string(kind), err)
	}
	if !IsValid(ctx, conn) {
		_ = conn.Close()
		return nil, failure.New(failure.KindConnection, "connect to "+string(kind), "connection did not answer the health probe")
	}
	l.logger.InfoContext(ctx, "remote connection opened",
		slog.String("kind", string(kind)),
		slog.String("host", firstNonEmpty(params.Server, params.Host)),
		slog.String("database", params.Database),
		slog.String("username", params.Username),
	)
	return conn, nil
}

func trimParams(p Params) Params {
	return Params{
		Host:     strings.TrimSpace(p.Host),
		Port:     strings.TrimSpace(p.Port),
		Server:   strings.TrimSpace(p.Server),
		Database: strings.TrimSpace(p.Database),
		Username: strings.TrimSpace(p.Username),
		Password: p.Password,
		Table:    strings.TrimSpace(p.Table),
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// Refresh re-reads the preview of conn's table, reopening from the retained
// parameters when the cached handle no longer answers.
func (l *Loader) Refresh(ctx context.Context, conn *Connection) (Result, error) {
	if conn == nil {
		return Result{}, failure.Validation("refresh", "no remote connection to refresh")
	}
	return l.Load(ctx, Request{Kind: conn.kind, Params: conn.params, Current: conn})
}
