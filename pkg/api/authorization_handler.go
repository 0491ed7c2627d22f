// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	apperrors "github.com/credentis/credentis/pkg/errors"
)

// authorizationResponse is returned on successful code issuance.
type authorizationResponse struct {
	AuthorizationCode struct {
		Value string `json:"value"`
	} `json:"authorizationCode"`
	State       string `json:"state"`
	RedirectURI string `json:"redirectUri"`
}

// IssueAuthorizationCode handles POST /authorization: issue a one-time code
// on an existing session. A session with an active code is never re-issued
// one; the code stays until it is consumed by the token endpoint.
func (h *Handlers) IssueAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		writeError(w, apperrors.NewInvalidRequestError("missing session-id header", nil))
		return
	}

	item, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	code := item.AuthorizationCode
	if code == "" {
		code, err = h.store.CreateAuthorizationCode(ctx, item)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	var resp authorizationResponse
	resp.AuthorizationCode.Value = code
	resp.State = item.State
	resp.RedirectURI = item.RedirectURI
	writeJSON(w, http.StatusOK, resp)
}
