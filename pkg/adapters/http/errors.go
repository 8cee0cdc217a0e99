package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/runner"
	"github.com/aretw0/relay/pkg/stream"
)

// Error kinds that only the API reports.
const (
	KindInvalidRequest = "invalid_request"
	KindNotFound       = "not_found"
)

type errorBody struct {
	Error *domain.ErrorDetail `json:"error"`
}

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	var ce *domain.CapabilityError
	switch {
	case errors.Is(err, runner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIterationLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCapabilityTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProtocol), errors.As(err, &ce):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func describe(err error) *domain.ErrorDetail {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest):
		return &domain.ErrorDetail{Kind: KindInvalidRequest, Detail: err.Error()}
	case errors.Is(err, domain.ErrSessionNotFound):
		return &domain.ErrorDetail{Kind: KindNotFound, Detail: err.Error()}
	}
	return stream.Describe(err)
}

// writeError answers with the mapped status and an {"error": {...}} body.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "status", status, "err", err)
	} else {
		logger.Warn("Request rejected", "status", status, "err", err)
	}

	var ce *domain.CapabilityError
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ce.RetryAfter.Seconds()))))
	}
	writeJSON(w, status, errorBody{Error: describe(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Response encode failed", "err", err)
	}
}
