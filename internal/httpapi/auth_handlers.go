package httpapi

import (
	"net/http"
	"strings"
	"time"

	"guildhall.org/internal/audit"
)

type tokenRequest struct {
	Address string `json:"address"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken issues a bearer token naming the requested address. It is a
// development identity endpoint: deployments front it with their own login.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if a.issuer == nil {
		writeError(w, r, http.StatusNotFound, errDisabled, "token issuance is disabled")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" || len(address) > 128 {
		badRequest(w, r, "address must be 1-128 characters")
		return
	}

	token, expiresAt, err := a.issuer.GenerateToken(address, 0)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"address":    address,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
