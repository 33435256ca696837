package httpapi

import (
	"net/http"

	"guildhall.org/internal/treasury"
)

type withdrawRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type dailyLimitRequest struct {
	DailyLimit uint64 `json:"daily_limit"` // 0 = unlimited
}

type publicDepositsRequest struct {
	Enabled bool `json:"enabled"`
}

type createVaultRequest struct {
	Asset string `json:"asset"`
}

func (a *API) getTreasury(w http.ResponseWriter, r *http.Request) {
	status, err := a.gov.Treasury(r.Context(), r.PathValue("org"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	acct, err := a.gov.Deposit(r.Context(), r.PathValue("org"), caller(r), req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	acct, err := a.gov.Withdraw(r.Context(), r.PathValue("org"), caller(r), req.To, req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) setDailyLimit(w http.ResponseWriter, r *http.Request) {
	var req dailyLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	acct, err := a.gov.SetDailyLimit(r.Context(), r.PathValue("org"), caller(r), req.DailyLimit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) setPublicDeposits(w http.ResponseWriter, r *http.Request) {
	var req publicDepositsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	acct, err := a.gov.SetPublicDeposits(r.Context(), r.PathValue("org"), caller(r), req.Enabled)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) createVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	tv, err := a.gov.CreateVault(r.Context(), r.PathValue("org"), caller(r), req.Asset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orgs/"+r.PathValue("org")+"/vaults/"+tv.ID)
	writeJSON(w, http.StatusCreated, tv)
}

func (a *API) listVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := a.gov.Vaults(r.Context(), r.PathValue("org"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[treasury.TokenVault]{Items: vaults})
}

func (a *API) getVault(w http.ResponseWriter, r *http.Request) {
	tv, err := a.gov.Vault(r.Context(), r.PathValue("org"), r.PathValue("vault"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tv)
}

func (a *API) depositToVault(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	tv, err := a.gov.DepositToVault(r.Context(), r.PathValue("org"), caller(r), r.PathValue("vault"), req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tv)
}

func (a *API) withdrawFromVault(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	tv, err := a.gov.WithdrawFromVault(r.Context(), r.PathValue("org"), caller(r), r.PathValue("vault"), req.To, req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tv)
}
