package source

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/failure"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/sqldump"
	"github.com/tablechat/tablechat/internal/storage"
)

type Kind string

const (
	KindCSV       Kind = "csv"
	KindSQL       Kind = "sql"
	KindParquet   Kind = "parquet"
	KindObject    Kind = "object"
	KindSQLServer Kind = "sqlserver"
	KindDataverse Kind = "dataverse"
	KindMySQL     Kind = "mysql"
	KindPostgres  Kind = "postgres"
)

func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindCSV, KindSQL, KindParquet, KindObject, KindSQLServer, KindDataverse, KindMySQL, KindPostgres:
		return kind, nil
	}
	return "", failure.Validation("parse source kind", fmt.Sprintf("unsupported source kind %q", raw))
}

func (k Kind) IsRemote() bool {
	_, ok := dialects[k]
	return ok
}

func (k Kind) IsFile() bool {
	switch k {
	case KindCSV, KindSQL, KindParquet:
		return true
	}
	return false
}

// Params holds everything needed to reopen a remote connection. It stays in
// memory for the life of the session and is never logged with the password.
type Params struct {
	Host     string `json:"host,omitempty"`
	Port     string `json:"port,omitempty"`
	Server   string `json:"server,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Table    string `json:"table"`
}

func (p Params) Redacted() Params {
	p.Password = ""
	return p
}

// Request describes one load. File kinds read Body, KindObject reads Key from
// the object store and remote kinds use Params. Current is the session's live
// connection, offered for reuse: Load either returns it in Result.Connection
// or closes it.
type Request struct {
	Kind    Kind
	Name    string
	Body    io.Reader
	Key     string
	Params  Params
	Current *Connection
}

type Result struct {
	Dataset    *dataset.Dataset
	Connection *Connection
	Kind       Kind
	Name       string
	Table      string
	Tables     []string
	Reused     bool
}

type Config struct {
	MaxUploadBytes int64
	PreviewRows    int
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
}

type OpenFunc func(driverName, dsn string) (*sql.DB, error)

type Loader struct {
	cfg     Config
	objects storage.ObjectStore
	open    OpenFunc
	logger  *slog.Logger
}

type Option func(*Loader)

func WithObjectStore(store storage.ObjectStore) Option {
	return func(l *Loader) {
		l.objects = store
	}
}

func WithOpenFunc(open OpenFunc) Option {
	return func(l *Loader) {
		if open != nil {
			l.open = open
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLoader(cfg Config, opts ...Option) *Loader {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 20
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	l := &Loader{
		cfg:    cfg,
		open:   sql.Open,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) ObjectStoreEnabled() bool {
	return l.objects != nil
}

// Load builds a dataset from the requested source. It never touches session
// state; on failure every handle it opened is closed again.
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	result, err := l.load(ctx, req)
	observability.ObserveSourceLoad(string(req.Kind), err)
	if err != nil {
		l.logger.WarnContext(ctx, "source load failed",
			slog.String("kind", string(req.Kind)),
			slog.String("name", req.Name),
			slog.String("error_kind", string(failure.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}
	rows, cols := result.Dataset.Shape()
	l.logger.InfoContext(ctx, "source loaded",
		slog.String("kind", string(result.Kind)),
		slog.String("name", result.Name),
		slog.String("table", result.Table),
		slog.Int("rows", rows),
		slog.Int("columns", cols),
		slog.Bool("reused_connection", result.Reused),
	)
	return result, nil
}

func (l *Loader) load(ctx context.Context, req Request) (Result, error) {
	if req.Kind.IsRemote() {
		return l.connect(ctx, req)
	}
	if req.Current != nil {
		_ = req.Current.Close()
	}
	switch req.Kind {
	case KindCSV, KindSQL, KindParquet:
		if req.Body == nil {
			return Result{}, failure.Validation("load "+string(req.Kind), "a file is required")
		}
		raw, err := l.readLimited(req.Body)
		if err != nil {
			return Result{}, err
		}
		return l.loadFile(ctx, req.Kind, req.Name, raw)
	case KindObject:
		return l.loadObject(ctx, req.Key)
	}
	return Result{}, failure.Validation("load source", fmt.Sprintf("unsupported source kind %q", req.Kind))
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, l.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(raw)) > l.cfg.MaxUploadBytes {
		return nil, failure.Validation("read upload", fmt.Sprintf("file exceeds the %d byte upload limit", l.cfg.MaxUploadBytes))
	}
	return raw, nil
}

func (l *Loader) loadFile(ctx context.Context, kind Kind, name string, raw []byte) (Result, error) {
	switch kind {
	case KindCSV:
		ds, err := dataset.ParseDelimited(bytes.NewReader(raw), dataset.DelimitedOptions{})
		if err != nil {
			return Result{}, failure.Wrap(failure.KindValidation, "read csv", err)
		}
		return Result{Dataset: ds, Kind: kind, Name: name}, nil
	case KindSQL:
		loaded, err := sqldump.Load(ctx, string(raw))
		if err != nil {
			return Result{}, err
		}
		return Result{Dataset: loaded.Dataset, Kind: kind, Name: name, Table: loaded.Table, Tables: loaded.Tables}, nil
	case KindParquet:
		ds, err := readParquet(raw)
		if err != nil {
			return Result{}, failure.Wrap(failure.KindValidation, "read parquet", err)
		}
		return Result{Dataset: ds, Kind: kind, Name: name}, nil
	}
	return Result{}, failure.Validation("load file", fmt.Sprintf("unsupported file kind %q", kind))
}

func (l *Loader) loadObject(ctx context.Context, key string) (Result, error) {
	if l.objects == nil {
		return Result{}, failure.Validation("load object", "object storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, failure.Validation("load object", "an object key is required")
	}
	kind, err := KindForName(key)
	if err != nil {
		return Result{}, err
	}
	info, err := l.objects.Stat(ctx, key)
	if err != nil {
		return Result{}, objectErr("stat object", err)
	}
	if info.Size > l.cfg.MaxUploadBytes {
		return Result{}, failure.Validation("load object", fmt.Sprintf("object exceeds the %d byte upload limit", l.cfg.MaxUploadBytes))
	}
	reader, err := l.objects.Get(ctx, key)
	if err != nil {
		return Result{}, objectErr("get object", err)
	}
	defer func() { _ = reader.Close() }()

	raw, err := l.readLimited(reader)
	if err != nil {
		return Result{}, err
	}
	result, err := l.loadFile(ctx, kind, path.Base(key), raw)
	if err != nil {
		return Result{}, err
	}
	result.Kind = KindObject
	return result, nil
}

const maxScannedObjects = 1000

// ListObjects returns the loadable files under prefix: objects whose
// extension maps to a file kind.
func (l *Loader) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if l.objects == nil {
		return nil, failure.Validation("list objects", "object storage is not configured")
	}
	objects, err := l.objects.List(ctx, prefix, maxScannedObjects)
	if err != nil {
		return nil, objectErr("list objects", err)
	}
	loadable := objects[:0]
	for _, object := range objects {
		if _, err := KindForName(object.Key); err == nil {
			loadable = append(loadable, object)
		}
	}
	return loadable, nil
}

func KindForName(key string) (Kind, error) {
	switch strings.ToLower(path.Ext(strings.TrimSpace(key))) {
	case ".csv", ".tsv", ".txt":
		return KindCSV, nil
	case ".sql":
		return KindSQL, nil
	case ".parquet":
		return KindParquet, nil
	}
	return "", failure.Validation("detect file type", fmt.Sprintf("cannot infer file type of %q; use .csv, .sql or .parquet", key))
}

func objectErr(op string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return failure.Validation(op, "object not found")
	}
	return failure.Wrap(failure.KindConnection, op, err)
}
