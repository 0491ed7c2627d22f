// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/credentis/credentis/pkg/audit"
	"github.com/credentis/credentis/pkg/session"
	"github.com/credentis/credentis/pkg/telemetry"
)

// IssueToken handles POST /token: exchange a one-time authorization code and
// a client assertion for a bearer access token.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := h.tokenValidator.ValidatePayload(string(body))
	if err != nil {
		writeError(w, err)
		return
	}

	item, err := h.store.GetSessionByAuthorizationCode(ctx, payload.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	client, err := h.registry.ClientConfig(ctx, item.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.tokenValidator.VerifyClientAssertion(
		ctx, []byte(payload.ClientAssertion), item.ClientID, client); err != nil {
		writeError(w, err)
		return
	}

	if err := h.tokenValidator.ValidateAgainstSession(payload.Code, item, payload.RedirectURI); err != nil {
		writeError(w, err)
		return
	}

	token, err := session.NewBearerAccessToken(h.ttls.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.CreateAccessToken(ctx, item, token); err != nil {
		writeError(w, err)
		return
	}

	telemetry.TokensIssued.Inc()
	h.publishAudit(ctx, audit.EventTypeTokenIssued, item.SessionID, session.Summary{
		Subject:             item.Subject,
		PersistentSessionID: item.PersistentSessionID,
		ClientSessionID:     item.ClientSessionID,
		ClientIPAddress:     item.ClientIPAddress,
	})

	writeJSON(w, http.StatusOK, token)
}
