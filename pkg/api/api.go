// SPDX-License-Identifier: Apache-2.0

// Package api exposes the issuance core over HTTP. Handlers here are thin
// orchestrators: decrypt, verify, validate, mutate session state, respond.
// All protocol logic lives in the core packages; this layer only sequences
// the calls and maps errors to responses.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/credentis/credentis/pkg/audit"
	"github.com/credentis/credentis/pkg/config"
	apperrors "github.com/credentis/credentis/pkg/errors"
	"github.com/credentis/credentis/pkg/jwe"
	"github.com/credentis/credentis/pkg/logger"
	"github.com/credentis/credentis/pkg/session"
	"github.com/credentis/credentis/pkg/validation"
)

// SessionIDHeader carries the session id on the authorization endpoint.
const SessionIDHeader = "session-id"

// Handlers wires the issuance core into HTTP endpoints.
type Handlers struct {
	store            session.Store
	registry         config.Registry
	decrypter        *jwe.Decrypter
	sessionValidator *validation.SessionRequestValidator
	tokenValidator   *validation.TokenRequestValidator
	auditor          audit.Publisher
	ttls             session.TTLs
}

// NewHandlers creates the handler set.
func NewHandlers(
	store session.Store,
	registry config.Registry,
	decrypter *jwe.Decrypter,
	sessionValidator *validation.SessionRequestValidator,
	tokenValidator *validation.TokenRequestValidator,
	auditor audit.Publisher,
	ttls session.TTLs,
) *Handlers {
	return &Handlers{
		store:            store,
		registry:         registry,
		decrypter:        decrypter,
		sessionValidator: sessionValidator,
		tokenValidator:   tokenValidator,
		auditor:          auditor,
		ttls:             ttls,
	}
}

// Router returns the HTTP router for the issuance endpoints.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/session", h.CreateSession)
	r.Post("/authorization", h.IssueAuthorizationCode)
	r.Post("/token", h.IssueToken)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

// writeError logs the full error and writes the mapped response. Internal
// detail never reaches the caller; KindServer messages are genericized by
// the mapping.
func writeError(w http.ResponseWriter, err error) {
	status, body := apperrors.ToResponse(err)
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "status", status, "error", err)
	} else {
		logger.Infow("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// readBody reads the request body in full.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperrors.NewInvalidPayloadError("failed to read request body", err)
	}
	return body, nil
}
