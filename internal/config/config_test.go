package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("tablechat-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Source.PreviewRows != 20 {
		t.Fatalf("Source.PreviewRows = %d", cfg.Source.PreviewRows)
	}
	if cfg.Source.ProbeTimeout != 5*time.Second {
		t.Fatalf("Source.ProbeTimeout = %s", cfg.Source.ProbeTimeout)
	}
	if cfg.Source.ConnectTimeout != 30*time.Second {
		t.Fatalf("Source.ConnectTimeout = %s", cfg.Source.ConnectTimeout)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
	if cfg.AI.Enabled {
		t.Fatal("AI.Enabled should default to false")
	}
	if cfg.AI.MaxRetries != 2 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
	if cfg.AI.RetryDelay != 2*time.Second {
		t.Fatalf("AI.RetryDelay = %s", cfg.AI.RetryDelay)
	}
	if cfg.AI.Model != "gpt-5" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"TABLECHAT_PROFILE": "prod"})
	cfg, err := Load("tablechat-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadTestProfileDisablesRetryDelay(t *testing.T) {
	cfg, err := Load("tablechat-api", mapLookup(map[string]string{"TABLECHAT_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.RetryDelay != 0 {
		t.Fatalf("AI.RetryDelay = %s", cfg.AI.RetryDelay)
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"TABLECHAT_PROFILE":                 "test",
		"TABLECHAT_SERVICE_NAME":            "tablechat-custom",
		"TABLECHAT_HTTP_ADDR":               ":9999",
		"TABLECHAT_HTTP_READ_TIMEOUT":       "2s",
		"TABLECHAT_HTTP_WRITE_TIMEOUT":      "3s",
		"TABLECHAT_LOG_LEVEL":               "error",
		"TABLECHAT_AUTH_REQUIRED":           "true",
		"TABLECHAT_AUTH_STATIC_KEYS":        "k1:alice:analyst",
		"TABLECHAT_SOURCE_MAX_UPLOAD_BYTES": "1048576",
		"TABLECHAT_SOURCE_PREVIEW_ROWS":     "50",
		"TABLECHAT_SOURCE_CONNECT_TIMEOUT":  "10s",
		"TABLECHAT_SOURCE_PROBE_TIMEOUT":    "1s",
		"TABLECHAT_OBJECTSTORE_ENABLED":     "true",
		"TABLECHAT_OBJECTSTORE_ENDPOINT":    "s3.example.com",
		"TABLECHAT_OBJECTSTORE_BUCKET":      "datasets",
		"TABLECHAT_OBJECTSTORE_REGION":      "us-west-2",
		"TABLECHAT_OBJECTSTORE_ACCESS_KEY":  "abc",
		"TABLECHAT_OBJECTSTORE_SECRET_KEY":  "def",
		"TABLECHAT_OBJECTSTORE_USE_SSL":     "true",
		"TABLECHAT_OBJECTSTORE_PREFIX":      "shared",
		"TABLECHAT_AI_ENABLED":              "true",
		"TABLECHAT_AI_BASE_URL":             "https://api.example.com",
		"TABLECHAT_AI_API_KEY":              "secret-key",
		"TABLECHAT_AI_MODEL":                "gpt-5.2",
		"TABLECHAT_AI_TEMPERATURE":          "0.3",
		"TABLECHAT_AI_TIMEOUT":              "21s",
		"TABLECHAT_AI_MAX_RETRIES":          "4",
		"TABLECHAT_AI_RETRY_DELAY":          "500ms",
		"TABLECHAT_AI_RESULT_ROW_LIMIT":     "100",
		"TABLECHAT_AI_SAMPLE_ROWS":          "3",
		"TABLECHAT_DASHBOARD_TITLE":         "Finance",
		"TABLECHAT_DASHBOARD_EMBED_URL":     "https://app.powerbi.com/view?r=abc",
	})
	cfg, err := Load("tablechat-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "tablechat-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:alice:analyst" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Source.MaxUploadBytes != 1<<20 {
		t.Fatalf("Source.MaxUploadBytes = %d", cfg.Source.MaxUploadBytes)
	}
	if cfg.Source.PreviewRows != 50 {
		t.Fatalf("Source.PreviewRows = %d", cfg.Source.PreviewRows)
	}
	if cfg.Source.ConnectTimeout != 10*time.Second {
		t.Fatalf("Source.ConnectTimeout = %s", cfg.Source.ConnectTimeout)
	}
	if cfg.Source.ProbeTimeout != time.Second {
		t.Fatalf("Source.ProbeTimeout = %s", cfg.Source.ProbeTimeout)
	}
	if !cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled = false, want true")
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.ObjectStore.Bucket != "datasets" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if cfg.ObjectStore.Prefix != "shared" {
		t.Fatalf("ObjectStore.Prefix = %q", cfg.ObjectStore.Prefix)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL = false, want true")
	}
	if !cfg.AI.Enabled {
		t.Fatal("AI.Enabled = false, want true")
	}
	if cfg.AI.BaseURL != "https://api.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "gpt-5.2" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxRetries != 4 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
	if cfg.AI.RetryDelay != 500*time.Millisecond {
		t.Fatalf("AI.RetryDelay = %s", cfg.AI.RetryDelay)
	}
	if cfg.AI.ResultRowLimit != 100 {
		t.Fatalf("AI.ResultRowLimit = %d", cfg.AI.ResultRowLimit)
	}
	if cfg.AI.SampleRows != 3 {
		t.Fatalf("AI.SampleRows = %d", cfg.AI.SampleRows)
	}
	if cfg.Dashboard.Title != "Finance" {
		t.Fatalf("Dashboard.Title = %q", cfg.Dashboard.Title)
	}
	if cfg.Dashboard.EmbedURL != "https://app.powerbi.com/view?r=abc" {
		t.Fatalf("Dashboard.EmbedURL = %q", cfg.Dashboard.EmbedURL)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"TABLECHAT_PROFILE": "oops"},
		{"TABLECHAT_HTTP_READ_TIMEOUT": "NaN"},
		{"TABLECHAT_SOURCE_MAX_UPLOAD_BYTES": "oops"},
		{"TABLECHAT_SOURCE_MAX_UPLOAD_BYTES": "0"},
		{"TABLECHAT_SOURCE_PREVIEW_ROWS": "-1"},
		{"TABLECHAT_AI_MAX_RETRIES": "0"},
		{"TABLECHAT_AI_RETRY_DELAY": "-1s"},
		{"TABLECHAT_AI_TEMPERATURE": "bad"},
		{"TABLECHAT_AUTH_REQUIRED": "not-bool"},
		{"TABLECHAT_LOG_LEVEL": "verbose"},
		{"TABLECHAT_OBJECTSTORE_ENABLED": "true", "TABLECHAT_OBJECTSTORE_BUCKET": ""},
		{"TABLECHAT_AI_ENABLED": "true"},
		{"TABLECHAT_AI_TEMPERATURE": "2.5"},
		{"TABLECHAT_DASHBOARD_EMBED_URL": "app.powerbi.com/view"},
		{"TABLECHAT_DASHBOARD_EMBED_URL": "javascript:alert(1)"},
	}
	for _, env := range tests {
		_, err := Load("tablechat-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadReportsEveryValidationFailure(t *testing.T) {
	_, err := Load("tablechat-api", mapLookup(map[string]string{
		"TABLECHAT_SOURCE_PREVIEW_ROWS": "0",
		"TABLECHAT_AI_MAX_RETRIES":      "0",
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"preview rows", "max retries"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadNamesTheVariableOnParseError(t *testing.T) {
	_, err := Load("tablechat-api", mapLookup(map[string]string{"TABLECHAT_AI_TIMEOUT": "soon"}))
	if err == nil || !strings.Contains(err.Error(), "TABLECHAT_AI_TIMEOUT") {
		t.Fatalf("err = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
