package tablechatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	OwnerID    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type client struct {
	baseURL string
	apiKey  string
	ownerID string
	http    *http.Client
	stdout  io.Writer
}

// Run executes one tablechatctl invocation and returns the process exit code:
// 0 on success, 1 when the request fails, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := NewRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			_, _ = fmt.Fprintln(stderr, reqErr.Error())
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	return 0
}

func NewRootCommand(defaults Options) *cobra.Command {
	c := &client{}
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "tablechatctl",
		Short:         "Command line client for the TableChat API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.baseURL = strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
			if c.baseURL == "" {
				return errors.New("--base-url must not be empty")
			}
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: timeout}
			}
			c.stdout = cmd.OutOrStdout()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "TableChat API base URL")
	flags.StringVar(&c.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.StringVar(&c.ownerID, "owner", defaults.OwnerID, "Owner header (used when auth is disabled)")
	flags.DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		simpleCommand(c, "health", "Check API liveness", http.MethodGet, "/v1/health"),
		simpleCommand(c, "ready", "Check API readiness", http.MethodGet, "/v1/ready"),
		simpleCommand(c, "dashboard", "Show the embedded dashboard configuration", http.MethodGet, "/v1/dashboard"),
		newSessionsCommand(c),
		newObjectsCommand(c),
		newUploadCommand(c),
		newConnectCommand(c),
		sessionCommand("object <session-id> <key>", "Load an object from the configured bucket", cobra.ExactArgs(2),
			func(cmd *cobra.Command, args []string) error {
				return c.doJSON(cmd.Context(), http.MethodPost, sessionPath(args[0], "/source/object"), map[string]string{"key": args[1]})
			}),
		sessionCommand("refresh <session-id>", "Reload the table from the connected database", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				return c.do(cmd.Context(), http.MethodPost, sessionPath(args[0], "/source/refresh"), nil, "")
			}),
		sessionCommand("disconnect <session-id>", "Drop the loaded source and close the connection", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				return c.do(cmd.Context(), http.MethodDelete, sessionPath(args[0], "/source"), nil, "")
			}),
		newDatasetCommand(c),
		sessionCommand("ask <session-id> <question...>", "Ask a question about the loaded data", cobra.MinimumNArgs(2),
			func(cmd *cobra.Command, args []string) error {
				question := strings.Join(args[1:], " ")
				return c.doJSON(cmd.Context(), http.MethodPost, sessionPath(args[0], "/messages"), map[string]string{"question": question})
			}),
		sessionCommand("messages <session-id>", "Print the session transcript", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				return c.do(cmd.Context(), http.MethodGet, sessionPath(args[0], "/messages"), nil, "")
			}),
		sessionCommand("clear <session-id>", "Clear the session transcript", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				return c.do(cmd.Context(), http.MethodDelete, sessionPath(args[0], "/messages"), nil, "")
			}),
	)
	return root
}

func simpleCommand(c *client, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.do(cmd.Context(), method, path, nil, "")
		},
	}
}

func sessionCommand(use, short string, args cobra.PositionalArgs, run func(*cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE:  run,
	}
}

func newSessionsCommand(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}
	cmd.AddCommand(
		simpleCommand(c, "list", "List your sessions", http.MethodGet, "/v1/sessions"),
		simpleCommand(c, "create", "Start a new session", http.MethodPost, "/v1/sessions"),
		sessionCommand("get <session-id>", "Show a session", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				return c.do(cmd.Context(), http.MethodGet, sessionPath(args[0], ""), nil, "")
			}),
		sessionCommand("delete <session-id>", "Close a session", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				return c.do(cmd.Context(), http.MethodDelete, sessionPath(args[0], ""), nil, "")
			}),
	)
	return cmd
}

func newObjectsCommand(c *client) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "List loadable files in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/objects"
			if prefix != "" {
				path += "?" + url.Values{"prefix": {prefix}}.Encode()
			}
			return c.do(cmd.Context(), http.MethodGet, path, nil, "")
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list keys under this prefix")
	return cmd
}

func newUploadCommand(c *client) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "upload <session-id> <file>",
		Short: "Upload a CSV, SQL dump or Parquet file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, contentType, err := multipartFile(args[1], kind)
			if err != nil {
				return &requestError{err: err}
			}
			return c.do(cmd.Context(), http.MethodPost, sessionPath(args[0], "/source/upload"), body, contentType)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "file kind (csv|sql|parquet); detected from the extension when empty")
	return cmd
}

type connectParams struct {
	Host     string `json:"host,omitempty"`
	Port     string `json:"port,omitempty"`
	Server   string `json:"server,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Table    string `json:"table"`
}

func newConnectCommand(c *client) *cobra.Command {
	var kind string
	var params connectParams
	cmd := &cobra.Command{
		Use:   "connect <session-id>",
		Short: "Load a table from a remote database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if params.Password == "" {
				params.Password = os.Getenv("TABLECHAT_DB_PASSWORD")
			}
			payload := map[string]any{"kind": kind, "params": params}
			return c.doJSON(cmd.Context(), http.MethodPost, sessionPath(args[0], "/source/connect"), payload)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&kind, "kind", "", "database kind (sqlserver|dataverse|mysql|postgres)")
	flags.StringVar(&params.Server, "server", "", "server host name (sqlserver, dataverse)")
	flags.StringVar(&params.Host, "host", "", "host name (mysql, postgres)")
	flags.StringVar(&params.Port, "port", "", "port (mysql, postgres)")
	flags.StringVar(&params.Database, "database", "", "database name")
	flags.StringVar(&params.Username, "username", "", "user name")
	flags.StringVar(&params.Password, "password", "", "password; falls back to TABLECHAT_DB_PASSWORD")
	flags.StringVar(&params.Table, "table", "", "table to load (schema.table)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newDatasetCommand(c *client) *cobra.Command {
	var rows int
	cmd := &cobra.Command{
		Use:   "dataset <session-id>",
		Short: "Preview the loaded dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := sessionPath(args[0], "/dataset")
			if cmd.Flags().Changed("rows") {
				if rows < 0 {
					return errors.New("--rows must not be negative")
				}
				path += fmt.Sprintf("?rows=%d", rows)
			}
			return c.do(cmd.Context(), http.MethodGet, path, nil, "")
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 0, "number of preview rows (server default when unset)")
	return cmd
}

func (c *client) doJSON(ctx context.Context, method, path string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, bytes.NewReader(encoded), "application/json")
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if owner := strings.TrimSpace(c.ownerID); owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &requestError{err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func multipartFile(path, kind string) (io.Reader, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if kind != "" {
		if err := writer.WriteField("kind", kind); err != nil {
			return nil, "", err
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func sessionPath(id, suffix string) string {
	return "/v1/sessions/" + url.PathEscape(strings.TrimSpace(id)) + suffix
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
