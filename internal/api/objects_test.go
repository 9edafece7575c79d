package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/failure"
	"github.com/tablechat/tablechat/internal/storage"
)

type fakeCatalog struct {
	prefix  string
	objects []storage.ObjectInfo
	err     error
}

func (f *fakeCatalog) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.prefix = prefix
	return f.objects, f.err
}

func TestListObjectsRequiresCatalog(t *testing.T) {
	srv := newTestServer(t, nil, &stubFactory{})
	rr := srv.do(t, http.MethodGet, "/v1/objects", "", nil)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestListObjectsReturnsKeys(t *testing.T) {
	srv := newTestServer(t, nil, &stubFactory{})
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	catalog := &fakeCatalog{objects: []storage.ObjectInfo{{Key: "exports/sales.csv", Size: 42, LastModified: modified}}}
	srv.handler = NewHandler(srv.cfg, Dependencies{Sessions: srv.manager, Objects: catalog})

	rr := srv.do(t, http.MethodGet, "/v1/objects?prefix=exports/", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if catalog.prefix != "exports/" {
		t.Fatalf("prefix = %q", catalog.prefix)
	}
	objects, _ := decodeBody(t, rr)["objects"].([]any)
	if len(objects) != 1 {
		t.Fatalf("objects = %v", objects)
	}
	first, _ := objects[0].(map[string]any)
	if first["key"] != "exports/sales.csv" || first["size"] != float64(42) || first["last_modified"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("object = %v", first)
	}
}

func TestListObjectsMapsStoreFailure(t *testing.T) {
	srv := newTestServer(t, nil, &stubFactory{})
	catalog := &fakeCatalog{err: failure.New(failure.KindConnection, "list objects", "bucket unreachable")}
	srv.handler = NewHandler(srv.cfg, Dependencies{Sessions: srv.manager, Objects: catalog})

	rr := srv.do(t, http.MethodGet, "/v1/objects", "", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if retryable, _ := decodeBody(t, rr)["retryable"].(bool); !retryable {
		t.Fatal("connection failures should be retryable")
	}
}

func TestListObjectsNeedsSourceAdmin(t *testing.T) {
	srv := newTestServer(t, map[string]string{"TABLECHAT_AUTH_REQUIRED": "true"}, &stubFactory{})
	validator, err := auth.NewStaticAPIKeyValidator("admin-key:alice:source_admin,reader-key:bob:analyst")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	srv.handler = NewHandler(srv.cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Sessions:       srv.manager,
		Objects:        &fakeCatalog{},
	})

	rr := srv.do(t, http.MethodGet, "/v1/objects", "", map[string]string{"X-API-Key": "reader-key"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("reader status = %d", rr.Code)
	}
	rr = srv.do(t, http.MethodGet, "/v1/objects", "", map[string]string{"X-API-Key": "admin-key"})
	if rr.Code != http.StatusOK {
		t.Fatalf("admin status = %d body=%s", rr.Code, rr.Body.String())
	}
}
