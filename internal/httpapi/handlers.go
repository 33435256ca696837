package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/auth"
	"guildhall.org/internal/governance"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/obs"
	"guildhall.org/internal/stream"
)

const serviceName = "guildhall"

// ReadyProbe is a simple readiness check (for example a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ActivityReader serves persisted activity history.
type ActivityReader interface {
	Recent(ctx context.Context, orgID string, limit int) ([]activity.Event, error)
}

// Options wires the collaborators of the HTTP layer. Nil collaborators
// disable the routes that need them.
type Options struct {
	Version    string
	Ready      readinessChecker
	Ledger     ledger.Service
	Stream     *stream.Stream
	Issuer     *auth.Issuer
	History    ActivityReader
	DevFaucet  bool
	RatePerSec float64
	RateBurst  int
	CORSOrigin string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	gov        *governance.Service
	ledger     ledger.Service
	stream     *stream.Stream
	issuer     *auth.Issuer
	history    ActivityReader
	ready      readinessChecker
	version    string
	devFaucet  bool
	ratePerSec float64
	rateBurst  int
	corsOrigin string
}

func New(gov *governance.Service, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		gov:        gov,
		ledger:     opts.Ledger,
		stream:     opts.Stream,
		issuer:     opts.Issuer,
		history:    opts.History,
		ready:      opts.Ready,
		version:    opts.Version,
		devFaucet:  opts.DevFaucet,
		ratePerSec: opts.RatePerSec,
		rateBurst:  opts.RateBurst,
		corsOrigin: opts.CORSOrigin,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("POST /v1/orgs", a.createOrg)
	a.mux.HandleFunc("GET /v1/orgs", a.listOrgs)
	a.mux.HandleFunc("GET /v1/orgs/{org}", a.getOrg)
	a.mux.HandleFunc("GET /v1/orgs/{org}/activity", a.orgActivity)

	a.mux.HandleFunc("POST /v1/orgs/{org}/roles", a.grantRole)
	a.mux.HandleFunc("DELETE /v1/orgs/{org}/roles/{address}", a.revokeRole)
	a.mux.HandleFunc("GET /v1/orgs/{org}/roles/{address}", a.getRole)
	a.mux.HandleFunc("GET /v1/orgs/{org}/admins", a.listAdmins)

	a.mux.HandleFunc("POST /v1/orgs/{org}/stake", a.stake)
	a.mux.HandleFunc("POST /v1/orgs/{org}/unstake", a.unstake)
	a.mux.HandleFunc("GET /v1/orgs/{org}/stakes", a.listStakes)
	a.mux.HandleFunc("GET /v1/orgs/{org}/stakes/sync", a.validateStakeSync)
	a.mux.HandleFunc("POST /v1/orgs/{org}/stakes/sync", a.repairStakeSync)
	a.mux.HandleFunc("GET /v1/orgs/{org}/stakes/{address}", a.getStake)

	a.mux.HandleFunc("POST /v1/orgs/{org}/proposals", a.createProposal)
	a.mux.HandleFunc("GET /v1/orgs/{org}/proposals", a.listProposals)
	a.mux.HandleFunc("GET /v1/orgs/{org}/proposals/{id}", a.getProposal)
	a.mux.HandleFunc("GET /v1/orgs/{org}/proposals/{id}/votes", a.listVotes)
	a.mux.HandleFunc("POST /v1/orgs/{org}/proposals/{id}/votes", a.castVote)
	a.mux.HandleFunc("POST /v1/orgs/{org}/proposals/{id}/activate", a.transition(a.gov.ActivateProposal))
	a.mux.HandleFunc("POST /v1/orgs/{org}/proposals/{id}/finalize", a.transition(a.gov.FinalizeProposal))
	a.mux.HandleFunc("POST /v1/orgs/{org}/proposals/{id}/execute", a.transition(a.gov.ExecuteProposal))
	a.mux.HandleFunc("POST /v1/orgs/{org}/proposals/{id}/cancel", a.transition(a.gov.CancelProposal))

	a.mux.HandleFunc("GET /v1/orgs/{org}/treasury", a.getTreasury)
	a.mux.HandleFunc("POST /v1/orgs/{org}/treasury/deposit", a.deposit)
	a.mux.HandleFunc("POST /v1/orgs/{org}/treasury/withdraw", a.withdraw)
	a.mux.HandleFunc("PUT /v1/orgs/{org}/treasury/limit", a.setDailyLimit)
	a.mux.HandleFunc("PUT /v1/orgs/{org}/treasury/public-deposits", a.setPublicDeposits)
	a.mux.HandleFunc("POST /v1/orgs/{org}/vaults", a.createVault)
	a.mux.HandleFunc("GET /v1/orgs/{org}/vaults", a.listVaults)
	a.mux.HandleFunc("GET /v1/orgs/{org}/vaults/{vault}", a.getVault)
	a.mux.HandleFunc("POST /v1/orgs/{org}/vaults/{vault}/deposit", a.depositToVault)
	a.mux.HandleFunc("POST /v1/orgs/{org}/vaults/{vault}/withdraw", a.withdrawFromVault)

	a.mux.HandleFunc("GET /v1/activity/stream", a.Stream)

	a.mux.HandleFunc("GET /v1/ledger/accounts/{address}", a.getAccount)
	a.mux.HandleFunc("GET /v1/ledger/transactions", a.listTransactions)
	a.mux.HandleFunc("POST /v1/ledger/faucet", a.faucet)
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = CORS(h, a.corsOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          serviceName,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"version":       a.version,
		"organizations": len(a.gov.Organizations(r.Context())),
		"dev_faucet":    a.devFaucet,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
