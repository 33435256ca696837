package httpapi

import (
	"net/http"
	"strings"
	"time"

	"guildhall.org/internal/governance"
	"guildhall.org/internal/roles"
)

type createOrgRequest struct {
	ID     string                `json:"id"`
	Name   string                `json:"name"`
	Config *governance.OrgConfig `json:"config,omitempty"`
}

type grantRoleRequest struct {
	Address  string     `json:"address"`
	Tier     roles.Tier `json:"tier"`
	Duration string     `json:"duration,omitempty"` // Go duration; empty grants a permanent role
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// createOrg registers an organization owned by the caller.
func (a *API) createOrg(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	org, err := a.gov.CreateOrganization(r.Context(), governance.CreateOrgParams{
		ID:     req.ID,
		Name:   req.Name,
		Owner:  caller(r),
		Config: req.Config,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orgs/"+org.ID)
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) listOrgs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[governance.Organization]{Items: a.gov.Organizations(r.Context())})
}

func (a *API) getOrg(w http.ResponseWriter, r *http.Request) {
	org, err := a.gov.Organization(r.Context(), r.PathValue("org"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) orgActivity(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, r, http.StatusNotFound, errDisabled, "activity history is not persisted")
		return
	}
	orgID := r.PathValue("org")
	if _, err := a.gov.Organization(r.Context(), orgID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 500)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	events, err := a.history.Recent(r.Context(), orgID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (a *API) grantRole(w http.ResponseWriter, r *http.Request) {
	var req grantRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	var d time.Duration
	if s := strings.TrimSpace(req.Duration); s != "" {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			badRequest(w, r, "duration must be a Go duration such as 30m or 24h")
			return
		}
		d = parsed
	}
	asg, err := a.gov.GrantRole(r.Context(), r.PathValue("org"), caller(r), req.Address, req.Tier, d)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asg)
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request) {
	if err := a.gov.RevokeRole(r.Context(), r.PathValue("org"), caller(r), r.PathValue("address")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	asg, err := a.gov.Role(r.Context(), r.PathValue("org"), r.PathValue("address"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asg)
}

func (a *API) listAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := a.gov.Admins(r.Context(), r.PathValue("org"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[roles.Assignment]{Items: admins})
}

func (a *API) stake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	pos, err := a.gov.Stake(r.Context(), r.PathValue("org"), caller(r), req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (a *API) unstake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	pos, err := a.gov.Unstake(r.Context(), r.PathValue("org"), caller(r), req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (a *API) listStakes(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("org")
	positions, err := a.gov.Stakes(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	total, err := a.gov.TotalStaked(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": positions, "total_staked": total})
}

func (a *API) getStake(w http.ResponseWriter, r *http.Request) {
	pos, err := a.gov.StakeOf(r.Context(), r.PathValue("org"), r.PathValue("address"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (a *API) validateStakeSync(w http.ResponseWriter, r *http.Request) {
	drifts, err := a.gov.ValidateStakeSync(r.Context(), r.PathValue("org"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"in_sync": len(drifts) == 0, "drifts": drifts})
}

func (a *API) repairStakeSync(w http.ResponseWriter, r *http.Request) {
	fixed, err := a.gov.RepairStakeSync(r.Context(), r.PathValue("org"), caller(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repaired": fixed})
}
