// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/credentis/credentis/pkg/audit"
	apperrors "github.com/credentis/credentis/pkg/errors"
	"github.com/credentis/credentis/pkg/logger"
	"github.com/credentis/credentis/pkg/session"
	"github.com/credentis/credentis/pkg/telemetry"
)

// sessionRequest is the session endpoint's JSON body. The request field is
// the compact JWE wrapping the signed authorization request JWT.
type sessionRequest struct {
	ClientID string `json:"client_id"`
	Request  string `json:"request"`
}

// sessionResponse is returned on successful session creation.
type sessionResponse struct {
	SessionID   string `json:"session_id"`
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri"`
}

// CreateSession handles POST /session: decrypt the JWE, verify and validate
// the inner JWT, persist a new session record, and emit the audit event.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req sessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apperrors.NewInvalidPayloadError("request body is not valid JSON", err))
		return
	}
	if req.ClientID == "" || req.Request == "" {
		writeError(w, apperrors.NewInvalidRequestError("client_id and request are required", nil))
		return
	}

	signedJWT, err := h.decrypter.Decrypt(ctx, req.Request)
	if err != nil {
		writeError(w, err)
		return
	}

	claims, err := h.sessionValidator.ValidateJWT(ctx, signedJWT, req.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}

	subject, _ := claims["sub"].(string)
	redirectURI, _ := claims["redirect_uri"].(string)
	state, _ := claims["state"].(string)
	clientSessionID, _ := claims["client_session_id"].(string)
	persistentSessionID, _ := claims["persistent_session_id"].(string)

	summary := session.Summary{
		ClientID:            req.ClientID,
		RedirectURI:         redirectURI,
		Subject:             subject,
		ClientSessionID:     clientSessionID,
		PersistentSessionID: persistentSessionID,
		ClientIPAddress:     clientIP(r),
		State:               state,
	}

	sessionID, err := h.store.SaveSession(ctx, summary)
	if err != nil {
		writeError(w, err)
		return
	}

	telemetry.SessionsStarted.Inc()
	h.publishAudit(ctx, audit.EventTypeSessionStarted, sessionID, summary)

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:   sessionID,
		State:       state,
		RedirectURI: redirectURI,
	})
}

// publishAudit emits an audit event. Publishing failures are logged, not
// surfaced: the credential operation already succeeded.
func (h *Handlers) publishAudit(ctx context.Context, eventType, sessionID string, summary session.Summary) {
	event := audit.NewEvent(eventType)
	event.SessionID = sessionID
	event.Subject = summary.Subject
	event.PersistentSessionID = summary.PersistentSessionID
	event.ClientSessionID = summary.ClientSessionID
	event.ClientIPAddress = summary.ClientIPAddress

	if err := h.auditor.Publish(ctx, event); err != nil {
		logger.Warnw("failed to publish audit event", "event_type", eventType, "error", err)
	}
}

// clientIP extracts the caller's IP, preferring the forwarded header set by
// the fronting proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
