package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"guildhall.org/internal/proposals"
)

type createProposalRequest struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	VotingStart     time.Time `json:"voting_start"`
	VotingEnd       time.Time `json:"voting_end"`
	ExecutionWindow string    `json:"execution_window"` // Go duration
	QuorumPercent   uint64    `json:"quorum_percent"`
}

type voteRequest struct {
	Option string `json:"option"`
}

type transitionFunc func(ctx context.Context, orgID, caller string, id uint64) (proposals.Proposal, error)

func proposalID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(w, r, "proposal id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (a *API) createProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	window, err := time.ParseDuration(req.ExecutionWindow)
	if err != nil {
		badRequest(w, r, "execution_window must be a Go duration such as 72h")
		return
	}
	prop, err := a.gov.CreateProposal(r.Context(), r.PathValue("org"), caller(r), proposals.Params{
		Title:           req.Title,
		Description:     req.Description,
		VotingStart:     req.VotingStart.UTC(),
		VotingEnd:       req.VotingEnd.UTC(),
		ExecutionWindow: window,
		QuorumPercent:   req.QuorumPercent,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orgs/"+r.PathValue("org")+"/proposals/"+strconv.FormatUint(prop.ID, 10))
	writeJSON(w, http.StatusCreated, prop)
}

func (a *API) listProposals(w http.ResponseWriter, r *http.Request) {
	props, err := a.gov.Proposals(r.Context(), r.PathValue("org"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]proposals.Proposal, 0, len(props))
		for _, p := range props {
			if string(p.Status) == status {
				filtered = append(filtered, p)
			}
		}
		props = filtered
	}
	writeJSON(w, http.StatusOK, listResponse[proposals.Proposal]{Items: props})
}

func (a *API) getProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := proposalID(w, r)
	if !ok {
		return
	}
	prop, err := a.gov.Proposal(r.Context(), r.PathValue("org"), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

func (a *API) listVotes(w http.ResponseWriter, r *http.Request) {
	id, ok := proposalID(w, r)
	if !ok {
		return
	}
	votes, err := a.gov.Votes(r.Context(), r.PathValue("org"), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[proposals.Vote]{Items: votes})
}

func (a *API) castVote(w http.ResponseWriter, r *http.Request) {
	id, ok := proposalID(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	option, err := proposals.ParseOption(req.Option)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	vote, err := a.gov.CastVote(r.Context(), r.PathValue("org"), caller(r), id, option)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vote)
}

// transition serves the lifecycle endpoints that take no body.
func (a *API) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := proposalID(w, r)
		if !ok {
			return
		}
		prop, err := fn(r.Context(), r.PathValue("org"), caller(r), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prop)
	}
}
