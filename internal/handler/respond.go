// Package handler exposes the engine over HTTP.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/pkg/apperrors"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error     *apperrors.AppError `json:"error"`
	Retryable bool                `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.Wrap(err)

	switch appErr.Type {
	case apperrors.ErrInternal:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Internal error")
		appErr = apperrors.New(apperrors.ErrInternal, "internal error", nil)
	case apperrors.ErrTransient, apperrors.ErrFatal:
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}

	writeJSON(w, appErr.HTTPStatus, errorBody{Error: appErr, Retryable: appErr.Retryable()})
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, apperrors.NewValidation(fmt.Sprintf("invalid request body: %v", err), err)
	}
	return v, nil
}

func parseInt64(raw, name string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewValidation(fmt.Sprintf("%s must be an integer", name), err)
	}
	return n, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidation(fmt.Sprintf("%s must be a non-negative integer", name), err)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("%s must be an RFC 3339 timestamp", name), err)
	}
	return &t, nil
}
