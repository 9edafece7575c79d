package tablechatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type recorded struct {
	method, path, query string
	apiKey, owner       string
	contentType         string
	body                []byte
}

func recordingServer(t *testing.T, status int, response string) (*httptest.Server, *recorded) {
	t.Helper()
	got := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.apiKey = r.Header.Get("X-API-Key")
		got.owner = r.Header.Get("X-Owner-ID")
		got.contentType = r.Header.Get("Content-Type")
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRunSessionsCreate(t *testing.T) {
	srv, got := recordingServer(t, http.StatusCreated, `{"id":"s-1"}`)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"--owner", "alice",
		"sessions", "create",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodPost || got.path != "/v1/sessions" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.apiKey != "k1" || got.owner != "alice" {
		t.Fatalf("headers api_key=%q owner=%q", got.apiKey, got.owner)
	}
	if !strings.Contains(stdout.String(), `"id": "s-1"`) {
		t.Fatalf("expected pretty JSON output, got %q", stdout.String())
	}
}

func TestRunAskJoinsQuestionWords(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"route":"shortcut","messages":[]}`)

	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "s-1", "how", "many", "rows?"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodPost || got.path != "/v1/sessions/s-1/messages" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["question"] != "how many rows?" {
		t.Fatalf("question = %q", payload["question"])
	}
}

func TestRunConnectSendsParams(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{}`)
	t.Setenv("TABLECHAT_DB_PASSWORD", "from-env")

	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"connect", "s-1",
		"--kind", "postgres",
		"--host", "db.internal",
		"--port", "5432",
		"--database", "sales",
		"--username", "reader",
		"--table", "public.orders",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/sessions/s-1/source/connect" || got.contentType != "application/json" {
		t.Fatalf("request path=%s content-type=%s", got.path, got.contentType)
	}
	var payload struct {
		Kind   string            `json:"kind"`
		Params map[string]string `json:"params"`
	}
	if err := json.Unmarshal(got.body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Kind != "postgres" || payload.Params["host"] != "db.internal" || payload.Params["table"] != "public.orders" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Params["password"] != "from-env" {
		t.Fatalf("password = %q, want env fallback", payload.Params["password"])
	}
	if _, ok := payload.Params["server"]; ok {
		t.Fatal("empty server should be omitted")
	}
}

func TestRunConnectRequiresTable(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"connect", "s-1", "--kind", "mysql"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "table") {
		t.Fatalf("expected missing flag message, got %q", stderr.String())
	}
}

func TestRunUploadSendsMultipart(t *testing.T) {
	var gotName, gotKind, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer func() { _ = file.Close() }()
		content, _ := io.ReadAll(file)
		gotName, gotKind, gotContent = header.Filename, r.FormValue("kind"), string(content)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "export.txt")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	code := Run(context.Background(), []string{"--base-url", srv.URL, "upload", "s-1", path, "--kind", "csv"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotName != "export.txt" || gotKind != "csv" || gotContent != "a,b\n1,2\n" {
		t.Fatalf("upload name=%q kind=%q content=%q", gotName, gotKind, gotContent)
	}
}

func TestRunUploadMissingFile(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"upload", "s-1", filepath.Join(t.TempDir(), "missing.csv")}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

func TestRunDatasetRows(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"columns":[],"rows":[]}`)

	code := Run(context.Background(), []string{"--base-url", srv.URL, "dataset", "s-1", "--rows", "3"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/sessions/s-1/dataset" || got.query != "rows=3" {
		t.Fatalf("request = %s?%s", got.path, got.query)
	}
}

func TestRunObjectsPrefix(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"objects":[]}`)

	code := Run(context.Background(), []string{"--base-url", srv.URL, "objects", "--prefix", "exports/2026"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/objects" || got.query != "prefix=exports%2F2026" {
		t.Fatalf("request = %s?%s", got.path, got.query)
	}
}

func TestRunRoutes(t *testing.T) {
	cases := []struct {
		args   []string
		method string
		path   string
	}{
		{[]string{"health"}, http.MethodGet, "/v1/health"},
		{[]string{"ready"}, http.MethodGet, "/v1/ready"},
		{[]string{"dashboard"}, http.MethodGet, "/v1/dashboard"},
		{[]string{"objects"}, http.MethodGet, "/v1/objects"},
		{[]string{"sessions", "list"}, http.MethodGet, "/v1/sessions"},
		{[]string{"sessions", "get", "s-1"}, http.MethodGet, "/v1/sessions/s-1"},
		{[]string{"sessions", "delete", "s-1"}, http.MethodDelete, "/v1/sessions/s-1"},
		{[]string{"object", "s-1", "exports/sales.csv"}, http.MethodPost, "/v1/sessions/s-1/source/object"},
		{[]string{"refresh", "s-1"}, http.MethodPost, "/v1/sessions/s-1/source/refresh"},
		{[]string{"disconnect", "s-1"}, http.MethodDelete, "/v1/sessions/s-1/source"},
		{[]string{"messages", "s-1"}, http.MethodGet, "/v1/sessions/s-1/messages"},
		{[]string{"clear", "s-1"}, http.MethodDelete, "/v1/sessions/s-1/messages"},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args, "_"), func(t *testing.T) {
			srv, got := recordingServer(t, http.StatusOK, `{"status":"ok"}`)
			code := Run(context.Background(), append([]string{"--base-url", srv.URL}, tc.args...), Options{})
			if code != 0 {
				t.Fatalf("exit code = %d", code)
			}
			if got.method != tc.method || got.path != tc.path {
				t.Fatalf("request = %s %s, want %s %s", got.method, got.path, tc.method, tc.path)
			}
		})
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusConflict, `{"error_code":"QUERY_IN_FLIGHT"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "messages", "s-1"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 409") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}

func TestRunWrongArgumentCount(t *testing.T) {
	code := Run(context.Background(), []string{"refresh"}, Options{})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}
