package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"guildhall.org/internal/audit"
	"guildhall.org/internal/ledger"
)

type faucetRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

type listTransactionsResponse struct {
	Items     []ledger.Transaction `json:"items"`
	NextAfter uint64               `json:"next_after"`
	AsOf      time.Time            `json:"as_of"`
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		writeError(w, r, http.StatusNotFound, errDisabled, "ledger is not exposed")
		return
	}
	acc, err := a.ledger.GetAccount(r.Context(), r.PathValue("address"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// faucet mints funds for demos. It exists only when the dev faucet is enabled.
func (a *API) faucet(w http.ResponseWriter, r *http.Request) {
	if !a.devFaucet || a.ledger == nil {
		writeError(w, r, http.StatusNotFound, errDisabled, "")
		return
	}
	var req faucetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		address = caller(r)
	}
	asset := req.Asset
	if strings.TrimSpace(asset) == "" {
		asset = ledger.NativeAsset
	}
	tx, err := a.ledger.Mint(r.Context(), address, ledger.Money{Asset: asset, Amount: req.Amount})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ledger.faucet.mint", map[string]any{
		"to":     tx.ToAccountID,
		"asset":  tx.Asset,
		"amount": strconv.FormatUint(tx.Amount, 10),
	})
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		writeError(w, r, http.StatusNotFound, errDisabled, "ledger is not exposed")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			badRequest(w, r, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next, err := a.ledger.ListTransactions(r.Context(), limit, after)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Transaction{}
	}
	if next == 0 {
		next = after
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}
