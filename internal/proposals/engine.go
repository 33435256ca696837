// Package proposals implements the stake-weighted proposal lifecycle of an
// organization: creation, activation, voting, finalization, execution and
// cancellation.
//
// Status changes go through an explicit transition table and every change
// is returned as a Transition with a machine-readable reason. The engine
// never moves funds; the anti-spam fee is charged through a callback run
// after all validation passes and before anything is committed.
package proposals

import (
	"sort"
	"strings"
	"time"

	"guildhall.org/internal/errs"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/safemath"
	"guildhall.org/internal/timeguard"
)

// Roles is the view of the role registry the engine needs.
type Roles interface {
	IsAuthorized(addr string, now time.Time) bool
	TierOf(addr string, now time.Time) roles.Tier
	Admins(now time.Time) []roles.Assignment
}

// Stakes is the view of the stake ledger the engine needs.
type Stakes interface {
	VotingPower(addr string) uint64
	TotalStaked() uint64
	IsMember(addr string) bool
	Members() []string
}

type Config struct {
	ProposalStake uint64        `json:"proposal_stake"`
	ProposalFee   uint64        `json:"proposal_fee"`
	Cooldown      time.Duration `json:"cooldown"`
}

func DefaultConfig() Config {
	return Config{ProposalStake: 50, ProposalFee: 1, Cooldown: 60 * time.Second}
}

func (c Config) Validate() error {
	if c.Cooldown < 0 {
		return errs.Wrapf(ErrInvalidConfig, "negative cooldown")
	}
	return nil
}

// FeeFunc charges the anti-spam fee. An error aborts creation.
type FeeFunc func(fee uint64) error

const maxTitle = 200

// Engine holds the proposals of one organization. It is not safe for
// concurrent use; the governance layer serializes access.
type Engine struct {
	cfg    Config
	guard  timeguard.Guard
	roles  Roles
	stakes Stakes

	lastID      uint64
	proposals   map[uint64]*Proposal
	votes       map[uint64][]Vote
	voted       map[uint64]map[string]int
	lastCreated map[string]time.Time
}

func NewEngine(cfg Config, guard timeguard.Guard, r Roles, s Stakes) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:         cfg,
		guard:       guard,
		roles:       r,
		stakes:      s,
		proposals:   make(map[uint64]*Proposal),
		votes:       make(map[uint64][]Vote),
		voted:       make(map[uint64]map[string]int),
		lastCreated: make(map[string]time.Time),
	}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// holdsProposalStake reports whether addr meets the proposal threshold.
func (e *Engine) holdsProposalStake(addr string) bool {
	power := e.stakes.VotingPower(addr)
	return power > 0 && power >= e.cfg.ProposalStake
}

// Create validates params, charges the fee through pay and stores a new
// Draft proposal.
func (e *Engine) Create(creator string, p Params, now time.Time, pay FeeFunc) (Proposal, Transition, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return Proposal{}, Transition{}, ErrInvalidAddress
	}
	title := strings.TrimSpace(p.Title)
	if title == "" || len(title) > maxTitle {
		return Proposal{}, Transition{}, ErrInvalidTitle
	}
	if !e.roles.IsAuthorized(creator, now) && !e.holdsProposalStake(creator) {
		return Proposal{}, Transition{}, errs.Wrapf(ErrNotEligible, "requires %d staked", e.cfg.ProposalStake)
	}
	if last, ok := e.lastCreated[creator]; ok && now.Before(last.Add(e.cfg.Cooldown)) {
		return Proposal{}, Transition{}, errs.Wrapf(ErrCooldown, "next proposal allowed at %s", last.Add(e.cfg.Cooldown).Format(time.RFC3339))
	}
	if p.QuorumPercent == 0 || p.QuorumPercent > 100 {
		return Proposal{}, Transition{}, ErrInvalidQuorum
	}
	if err := e.guard.ValidateVotingWindow(now, p.VotingStart, p.VotingEnd); err != nil {
		return Proposal{}, Transition{}, err
	}
	if err := e.guard.ValidateLockPeriod(p.VotingEnd, p.VotingEnd.Add(p.ExecutionWindow)); err != nil {
		return Proposal{}, Transition{}, err
	}
	id, err := safemath.Add(e.lastID, 1)
	if err != nil {
		return Proposal{}, Transition{}, err
	}

	voters := make([]string, 0)
	for _, a := range e.roles.Admins(now) {
		voters = append(voters, a.Holder)
	}
	voters = append(voters, e.stakes.Members()...)

	prop := &Proposal{
		ID:              id,
		Title:           title,
		Description:     strings.TrimSpace(p.Description),
		Proposer:        creator,
		ProposerTier:    e.roles.TierOf(creator, now),
		Status:          StatusDraft,
		CreatedAt:       now,
		VotingStart:     p.VotingStart,
		VotingEnd:       p.VotingEnd,
		ExecutionWindow: p.ExecutionWindow,
		QuorumPercent:   p.QuorumPercent,
		Snapshot:        newSnapshot(id, voters),
		Fee:             e.cfg.ProposalFee,
		Reason:          ReasonCreated,
	}

	if pay != nil && e.cfg.ProposalFee > 0 {
		if err := pay(e.cfg.ProposalFee); err != nil {
			return Proposal{}, Transition{}, err
		}
	}

	e.lastID = id
	e.proposals[id] = prop
	e.voted[id] = make(map[string]int)
	e.lastCreated[creator] = now
	return prop.clone(), Transition{ProposalID: id, To: StatusDraft, Reason: ReasonCreated}, nil
}

func (e *Engine) lookup(id uint64) (*Proposal, error) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, errs.Wrapf(ErrNotFound, "proposal %d", id)
	}
	return p, nil
}

// move applies a validated transition.
func (e *Engine) move(p *Proposal, to Status, reason string) (Transition, error) {
	if !CanTransition(p.Status, to) {
		return Transition{}, errs.Wrapf(ErrInvalidTransition, "%s -> %s", p.Status, to)
	}
	t := Transition{ProposalID: p.ID, From: p.Status, To: to, Reason: reason}
	p.Status = to
	p.Reason = reason
	return t, nil
}

// Activate opens a Draft proposal for voting.
func (e *Engine) Activate(admin string, id uint64, now time.Time) (Transition, error) {
	if !e.roles.IsAuthorized(admin, now) {
		return Transition{}, ErrNotAdmin
	}
	p, err := e.lookup(id)
	if err != nil {
		return Transition{}, err
	}
	return e.move(p, StatusActive, ReasonActivated)
}

// CastVote records voter's ballot weighted by current voting power.
func (e *Engine) CastVote(voter string, id uint64, option Option, now time.Time) (Vote, error) {
	if _, err := ParseOption(string(option)); err != nil {
		return Vote{}, err
	}
	p, err := e.lookup(id)
	if err != nil {
		return Vote{}, err
	}
	if p.Status != StatusActive {
		return Vote{}, errs.Wrapf(ErrNotActive, "status %s", p.Status)
	}
	if now.Before(p.VotingStart) {
		return Vote{}, ErrVotingNotStarted
	}
	if now.After(p.VotingEnd) {
		return Vote{}, ErrVotingClosed
	}
	if _, ok := e.voted[id][voter]; ok {
		return Vote{}, ErrAlreadyVoted
	}
	weight := e.stakes.VotingPower(voter)
	if weight == 0 || !e.stakes.IsMember(voter) {
		return Vote{}, ErrNotMember
	}
	if !p.Snapshot.Contains(voter) {
		return Vote{}, ErrNotInSnapshot
	}
	tally, err := p.Tally.add(option, weight)
	if err != nil {
		return Vote{}, err
	}

	v := Vote{ProposalID: id, Voter: voter, Tier: e.roles.TierOf(voter, now), Option: option, Weight: weight, CastAt: now}
	p.Tally = tally
	e.voted[id][voter] = len(e.votes[id])
	e.votes[id] = append(e.votes[id], v)
	return v, nil
}

// Finalize evaluates quorum and majority once voting has closed. The outcome
// is determined by the tally alone.
func (e *Engine) Finalize(caller string, id uint64, now time.Time) (Transition, error) {
	if !e.roles.IsAuthorized(caller, now) && !e.holdsProposalStake(caller) {
		return Transition{}, ErrNotEligible
	}
	p, err := e.lookup(id)
	if err != nil {
		return Transition{}, err
	}
	if p.Status != StatusActive {
		return Transition{}, errs.Wrapf(ErrNotActive, "status %s", p.Status)
	}
	if !e.guard.Elapsed(now, p.VotingEnd) {
		return Transition{}, ErrVotingOpen
	}

	cast, err := p.Tally.Total()
	if err != nil {
		return Transition{}, err
	}
	staked := e.stakes.TotalStaked()
	if cast > staked {
		return Transition{}, errs.Wrapf(ErrTallyExceedsStake, "%d votes, %d staked", cast, staked)
	}

	to, reason := StatusRejected, ReasonNoStake
	if staked > 0 {
		quorum, err := safemath.MulDiv(cast, 100, staked)
		if err != nil {
			return Transition{}, err
		}
		switch {
		case quorum < p.QuorumPercent:
			reason = ReasonQuorumNotMet
		case p.Tally.Yes > p.Tally.No:
			to, reason = StatusPassed, ReasonMajorityYes
		default:
			reason = ReasonMajorityNotReached
		}
	}

	t, err := e.move(p, to, reason)
	if err != nil {
		return Transition{}, err
	}
	p.StakedAtFinal = staked
	p.FinalizedAt = now
	return t, nil
}

func (e *Engine) proposerOrAdmin(caller string, p *Proposal, now time.Time) error {
	if caller == p.Proposer || e.roles.IsAuthorized(caller, now) {
		return nil
	}
	return ErrNotProposer
}

// Execute marks a Passed proposal executed within its execution window.
func (e *Engine) Execute(caller string, id uint64, now time.Time) (Transition, error) {
	p, err := e.lookup(id)
	if err != nil {
		return Transition{}, err
	}
	if err := e.proposerOrAdmin(caller, p, now); err != nil {
		return Transition{}, err
	}
	if p.Status != StatusPassed {
		return Transition{}, errs.Wrapf(ErrInvalidTransition, "%s -> %s", p.Status, StatusExecuted)
	}
	if now.After(p.ExecutionDeadline()) {
		return Transition{}, ErrWindowClosed
	}
	t, err := e.move(p, StatusExecuted, ReasonExecuted)
	if err != nil {
		return Transition{}, err
	}
	p.ExecutedAt = now
	return t, nil
}

// Cancel withdraws a Draft or Active proposal.
func (e *Engine) Cancel(caller string, id uint64, now time.Time) (Transition, error) {
	p, err := e.lookup(id)
	if err != nil {
		return Transition{}, err
	}
	if err := e.proposerOrAdmin(caller, p, now); err != nil {
		return Transition{}, err
	}
	t, err := e.move(p, StatusCancelled, ReasonCancelled)
	if err != nil {
		return Transition{}, err
	}
	p.CancelledAt = now
	return t, nil
}

func (e *Engine) Get(id uint64) (Proposal, error) {
	p, err := e.lookup(id)
	if err != nil {
		return Proposal{}, err
	}
	return p.clone(), nil
}

// List returns all proposals ordered by id.
func (e *Engine) List() []Proposal {
	out := make([]Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Votes returns the votes of a proposal in cast order.
func (e *Engine) Votes(id uint64) ([]Vote, error) {
	if _, err := e.lookup(id); err != nil {
		return nil, err
	}
	return append([]Vote(nil), e.votes[id]...), nil
}

func (e *Engine) VoteOf(id uint64, voter string) (Vote, error) {
	if _, err := e.lookup(id); err != nil {
		return Vote{}, err
	}
	i, ok := e.voted[id][voter]
	if !ok {
		return Vote{}, ErrVoteNotFound
	}
	return e.votes[id][i], nil
}

// State is the stored form of an Engine.
type State struct {
	LastID      uint64               `json:"last_id"`
	Proposals   []Proposal           `json:"proposals"`
	Votes       []Vote               `json:"votes"`
	LastCreated map[string]time.Time `json:"last_created,omitempty"`
}

// Export returns the engine contents for storage. Votes keep their cast
// order per proposal.
func (e *Engine) Export() State {
	st := State{LastID: e.lastID, Proposals: e.List(), LastCreated: make(map[string]time.Time, len(e.lastCreated))}
	for _, p := range st.Proposals {
		st.Votes = append(st.Votes, e.votes[p.ID]...)
	}
	for who, at := range e.lastCreated {
		st.LastCreated[who] = at
	}
	return st
}

// Restore replaces the engine contents with a stored State.
func (e *Engine) Restore(st State) error {
	props := make(map[uint64]*Proposal, len(st.Proposals))
	voted := make(map[uint64]map[string]int, len(st.Proposals))
	for _, p := range st.Proposals {
		if p.ID == 0 || p.ID > st.LastID {
			return errs.Wrapf(ErrCorruptState, "proposal %d beyond last id %d", p.ID, st.LastID)
		}
		cp := p.clone()
		props[p.ID] = &cp
		voted[p.ID] = make(map[string]int)
	}
	votes := make(map[uint64][]Vote, len(st.Proposals))
	for _, v := range st.Votes {
		byVoter, ok := voted[v.ProposalID]
		if !ok {
			return errs.Wrapf(ErrCorruptState, "vote for unknown proposal %d", v.ProposalID)
		}
		if _, dup := byVoter[v.Voter]; dup {
			return errs.Wrapf(ErrCorruptState, "second vote of %s on %d", v.Voter, v.ProposalID)
		}
		byVoter[v.Voter] = len(votes[v.ProposalID])
		votes[v.ProposalID] = append(votes[v.ProposalID], v)
	}
	lastCreated := make(map[string]time.Time, len(st.LastCreated))
	for who, at := range st.LastCreated {
		lastCreated[who] = at
	}
	e.lastID = st.LastID
	e.proposals = props
	e.votes = votes
	e.voted = voted
	e.lastCreated = lastCreated
	return nil
}
