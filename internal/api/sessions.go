package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/chat"
	"github.com/tablechat/tablechat/internal/failure"
	"github.com/tablechat/tablechat/internal/source"
)

const (
	ownerHeader      = "X-Owner-ID"
	anonymousOwner   = "anonymous"
	multipartMemory  = 32 << 20
	multipartPadding = 1 << 20
)

type sessionRoutes struct {
	deps           Dependencies
	maxUploadBytes int64
	previewRows    int
}

type connectRequest struct {
	Kind   string        `json:"kind"`
	Params source.Params `json:"params"`
}

type objectRequest struct {
	Key string `json:"key"`
}

type submitRequest struct {
	Question string `json:"question"`
}

type submitResponse struct {
	Route    string        `json:"route"`
	Messages []messageView `json:"messages"`
}

func (s sessionRoutes) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, auth.RoleAnalyst, auth.RoleSourceAdmin) {
		return
	}
	sessions := s.deps.Sessions.List(ownerFromRequest(r))
	views := make([]sessionView, len(sessions))
	for i, session := range sessions {
		views[i] = newSessionView(session.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s sessionRoutes) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, auth.RoleAnalyst, auth.RoleSourceAdmin) {
		return
	}
	session := s.deps.Sessions.Create(ownerFromRequest(r))
	writeJSON(w, http.StatusCreated, newSessionView(session.Summary()))
}

func (s sessionRoutes) handleGet(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleAnalyst, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session.Summary()))
}

func (s sessionRoutes) handleDelete(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleAnalyst, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	if err := s.deps.Sessions.Delete(session.Owner(), session.ID()); err != nil && !errors.Is(err, chat.ErrSessionNotFound) {
		s.logWarn(r, "session close failed", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "session_id": session.ID()})
}

func (s sessionRoutes) handleUpload(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleSourceAdmin)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartPadding)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
				fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadBytes), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "expected a multipart form with a file field", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "a file field is required", false, nil)
		return
	}
	defer func() { _ = file.Close() }()

	kind, err := uploadKind(r.FormValue("kind"), header.Filename)
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	summary, err := session.Load(r.Context(), source.Request{Kind: kind, Name: header.Filename, Body: file})
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(summary))
}

func uploadKind(raw, filename string) (source.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return source.KindForName(filename)
	}
	kind, err := source.ParseKind(raw)
	if err != nil {
		return "", failure.Validation("upload", err.Error())
	}
	if !kind.IsFile() {
		return "", failure.Validation("upload", fmt.Sprintf("%q is not a file source; use csv, sql or parquet", kind))
	}
	return kind, nil
}

func (s sessionRoutes) handleConnect(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	var request connectRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	kind, err := source.ParseKind(request.Kind)
	if err == nil && !kind.IsRemote() {
		err = fmt.Errorf("%q is not a database source", kind)
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_KIND", err.Error(), false, nil)
		return
	}
	summary, err := session.Load(r.Context(), source.Request{Kind: kind, Params: request.Params})
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(summary))
}

func (s sessionRoutes) handleObject(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	var request objectRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	summary, err := session.Load(r.Context(), source.Request{Kind: source.KindObject, Key: request.Key})
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(summary))
}

func (s sessionRoutes) handleRefresh(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	summary, err := session.Refresh(r.Context())
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(summary))
}

func (s sessionRoutes) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	if err := session.Disconnect(); err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session.Summary()))
}

func (s sessionRoutes) handleDataset(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleAnalyst, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	ds := session.Dataset()
	if ds == nil {
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_LOADED", "no data source is loaded", false, nil)
		return
	}
	rows := s.previewRows
	if raw := strings.TrimSpace(r.URL.Query().Get("rows")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROWS", "rows must be a non-negative integer", false, nil)
			return
		}
		rows = parsed
	}
	preview := newFrameView(ds.Head(rows))
	preview.RowCount = ds.NumRows()
	writeJSON(w, http.StatusOK, preview)
}

func (s sessionRoutes) handleSubmit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleAnalyst)
	if !ok {
		return
	}
	var request submitRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	exchange, err := session.Submit(r.Context(), request.Question)
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Route: exchange.Route, Messages: newMessageViews(exchange.Messages)})
}

func (s sessionRoutes) handleMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleAnalyst, auth.RoleSourceAdmin)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": newMessageViews(session.Messages())})
}

func (s sessionRoutes) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, auth.RoleAnalyst)
	if !ok {
		return
	}
	session.ClearChat()
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "session_id": session.ID()})
}

func (s sessionRoutes) authorize(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	if s.deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return false
	}
	if err := requireAnyRole(r, roles...); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func (s sessionRoutes) session(w http.ResponseWriter, r *http.Request, roles ...string) (*chat.Session, bool) {
	if !s.authorize(w, r, roles...) {
		return nil, false
	}
	session, err := s.deps.Sessions.Get(ownerFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeFailure(r.Context(), w, err)
		return nil, false
	}
	return session, true
}

func (s sessionRoutes) logWarn(r *http.Request, msg string, err error) {
	if s.deps.Logger == nil {
		return
	}
	s.deps.Logger.WarnContext(r.Context(), msg, slog.String("error", err.Error()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func ownerFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if owner := strings.TrimSpace(identity.Owner); owner != "" {
			return owner
		}
	}
	if owner := strings.TrimSpace(r.Header.Get(ownerHeader)); owner != "" {
		return owner
	}
	return anonymousOwner
}

func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasAnyRole(roles...) {
		return nil
	}
	return fmt.Errorf("missing required role, expected one of %q", strings.Join(roles, ","))
}
