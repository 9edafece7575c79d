package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/storage"
)

type ObjectCatalog interface {
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

type objectView struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

func handleListObjects(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Objects == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "OBJECTS_NOT_CONFIGURED", "object storage is not configured", false, nil)
			return
		}
		if err := requireAnyRole(r, auth.RoleSourceAdmin); err != nil {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
			return
		}
		objects, err := deps.Objects.ListObjects(r.Context(), r.URL.Query().Get("prefix"))
		if err != nil {
			writeFailure(r.Context(), w, err)
			return
		}
		views := make([]objectView, len(objects))
		for i, object := range objects {
			views[i] = objectView{
				Key:          object.Key,
				Size:         object.Size,
				ContentType:  object.ContentType,
				LastModified: object.LastModified,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"objects": views})
	}
}
