package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/crypto"
	"github.com/org/credcore/internal/policy"
	"github.com/org/credcore/internal/rotation"
	"github.com/org/credcore/internal/secret"
	"github.com/org/credcore/internal/similarity"
	"github.com/org/credcore/internal/storage"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msgs ...string) {
	if msgs == nil {
		msgs = []string{http.StatusText(code)}
	}
	writeJSON(w, code, map[string]any{"errors": msgs})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// writeServiceError maps domain errors onto status codes. Unexpected errors
// are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidState *rotation.InvalidStateError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, policy.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, policy.Violations(err)...)
	case errors.As(err, &invalidState):
		writeError(w, http.StatusConflict, invalidState.Error())
	case errors.Is(err, rotation.ErrAlreadyScheduled),
		errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, storage.ErrCredentialChanged):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, secret.ErrInvalidInput),
		errors.Is(err, similarity.ErrTooManyItems),
		errors.Is(err, rotation.ErrAutoRotateDisabled),
		errors.Is(err, rotation.ErrInvalidPolicy),
		errors.Is(err, rotation.ErrTenantMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crypto.ErrDecryption):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("secret could not be decrypted")
		writeError(w, http.StatusInternalServerError, "secret could not be decrypted")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError)
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
