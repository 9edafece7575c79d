package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tablechat/tablechat/internal/chat"
	"github.com/tablechat/tablechat/internal/failure"
)

type errorClass struct {
	status    int
	code      string
	retryable bool
}

var failureClasses = map[failure.Kind]errorClass{
	failure.KindValidation:         {http.StatusBadRequest, "VALIDATION_FAILED", false},
	failure.KindNoTablesFound:      {http.StatusUnprocessableEntity, "NO_TABLES_FOUND", false},
	failure.KindConnection:         {http.StatusBadGateway, "CONNECTION_FAILED", true},
	failure.KindEngineUnavailable:  {http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", false},
	failure.KindTransientEngine:    {http.StatusServiceUnavailable, "ENGINE_TRANSIENT", true},
	failure.KindIncompatibleOutput: {http.StatusUnprocessableEntity, "INCOMPATIBLE_OUTPUT", false},
}

func classify(err error) errorClass {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return errorClass{http.StatusNotFound, "SESSION_NOT_FOUND", false}
	case errors.Is(err, chat.ErrQueryInFlight):
		return errorClass{http.StatusConflict, "QUERY_IN_FLIGHT", true}
	}
	if class, ok := failureClasses[failure.KindOf(err)]; ok {
		return class
	}
	return errorClass{http.StatusInternalServerError, "INTERNAL", false}
}

func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	class := classify(err)
	var extra map[string]any
	if kind := failure.KindOf(err); class.status != http.StatusNotFound && class.status != http.StatusConflict {
		extra = map[string]any{"kind": string(kind)}
	}
	writeError(ctx, w, class.status, class.code, failure.UserMessage(err), class.retryable, extra)
}
