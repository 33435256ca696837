package proposals

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"guildhall.org/internal/errs"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/safemath"
)

// Status is a proposal lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPassed    Status = "passed"
	StatusRejected  Status = "rejected"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive, StatusCancelled},
	StatusActive: {StatusPassed, StatusRejected, StatusCancelled},
	StatusPassed: {StatusExecuted},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

// Reasons attached to status transitions.
const (
	ReasonCreated            = "created"
	ReasonActivated          = "activated"
	ReasonQuorumNotMet       = "quorum_not_met"
	ReasonMajorityYes        = "majority_yes"
	ReasonMajorityNotReached = "majority_not_reached"
	ReasonNoStake            = "no_stake"
	ReasonExecuted           = "executed"
	ReasonCancelled          = "cancelled"
)

// Option is a ballot choice.
type Option string

const (
	OptionYes     Option = "yes"
	OptionNo      Option = "no"
	OptionAbstain Option = "abstain"
)

func ParseOption(s string) (Option, error) {
	switch o := Option(strings.ToLower(strings.TrimSpace(s))); o {
	case OptionYes, OptionNo, OptionAbstain:
		return o, nil
	}
	return "", errs.Wrapf(ErrInvalidOption, "%q", s)
}

// Tally holds the weight recorded per option.
type Tally struct {
	Yes     uint64 `json:"yes"`
	No      uint64 `json:"no"`
	Abstain uint64 `json:"abstain"`
}

func (t Tally) Total() (uint64, error) {
	return safemath.Sum(t.Yes, t.No, t.Abstain)
}

func (t Tally) add(o Option, weight uint64) (Tally, error) {
	var err error
	switch o {
	case OptionYes:
		t.Yes, err = safemath.Add(t.Yes, weight)
	case OptionNo:
		t.No, err = safemath.Add(t.No, weight)
	case OptionAbstain:
		t.Abstain, err = safemath.Add(t.Abstain, weight)
	default:
		return t, ErrInvalidOption
	}
	return t, err
}

// Snapshot is the immutable eligible-voter list taken at creation.
type Snapshot struct {
	Voters     []string `json:"voters"`
	Commitment string   `json:"commitment"`
}

func newSnapshot(id uint64, voters []string) Snapshot {
	seen := make(map[string]struct{}, len(voters))
	uniq := make([]string, 0, len(voters))
	for _, v := range voters {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		uniq = append(uniq, v)
	}
	sort.Strings(uniq)

	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(id, 10)))
	for _, v := range uniq {
		h.Write([]byte{'\n'})
		h.Write([]byte(v))
	}
	return Snapshot{Voters: uniq, Commitment: hex.EncodeToString(h.Sum(nil))}
}

// Contains reports whether addr was eligible at creation.
func (s Snapshot) Contains(addr string) bool {
	i := sort.SearchStrings(s.Voters, addr)
	return i < len(s.Voters) && s.Voters[i] == addr
}

// Params are the caller-chosen fields of a new proposal.
type Params struct {
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	VotingStart     time.Time     `json:"voting_start"`
	VotingEnd       time.Time     `json:"voting_end"`
	ExecutionWindow time.Duration `json:"execution_window"`
	QuorumPercent   uint64        `json:"quorum_percent"`
}

type Proposal struct {
	ID              uint64        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Proposer        string        `json:"proposer"`
	ProposerTier    roles.Tier    `json:"proposer_tier"`
	Status          Status        `json:"status"`
	Tally           Tally         `json:"tally"`
	CreatedAt       time.Time     `json:"created_at"`
	VotingStart     time.Time     `json:"voting_start"`
	VotingEnd       time.Time     `json:"voting_end"`
	ExecutionWindow time.Duration `json:"execution_window"`
	QuorumPercent   uint64        `json:"quorum_percent"`
	Snapshot        Snapshot      `json:"snapshot"`
	Fee             uint64        `json:"fee"`
	StakedAtFinal   uint64        `json:"staked_at_finalization,omitempty"`
	FinalizedAt     time.Time     `json:"finalized_at,omitzero"`
	ExecutedAt      time.Time     `json:"executed_at,omitzero"`
	CancelledAt     time.Time     `json:"cancelled_at,omitzero"`
	Reason          string        `json:"reason,omitempty"`
}

// ExecutionDeadline is the last instant Execute is accepted.
func (p Proposal) ExecutionDeadline() time.Time {
	return p.VotingEnd.Add(p.ExecutionWindow)
}

func (p Proposal) clone() Proposal {
	p.Snapshot.Voters = append([]string(nil), p.Snapshot.Voters...)
	return p
}

type Vote struct {
	ProposalID uint64     `json:"proposal_id"`
	Voter      string     `json:"voter"`
	Tier       roles.Tier `json:"tier"`
	Option     Option     `json:"option"`
	Weight     uint64     `json:"weight"`
	CastAt     time.Time  `json:"cast_at"`
}

// Transition records one status change.
type Transition struct {
	ProposalID uint64 `json:"proposal_id"`
	From       Status `json:"from"`
	To         Status `json:"to"`
	Reason     string `json:"reason"`
}

var (
	ErrInvalidConfig     = errs.New(errs.Validation, "invalid_proposal_config", "invalid proposal configuration")
	ErrInvalidAddress    = errs.New(errs.Validation, "invalid_address", "address is required")
	ErrInvalidTitle      = errs.New(errs.Validation, "invalid_title", "title is required (max 200 chars)")
	ErrInvalidQuorum     = errs.New(errs.Validation, "invalid_quorum", "quorum percent must be in (0, 100]")
	ErrInvalidOption     = errs.New(errs.Validation, "invalid_option", "vote option must be yes, no or abstain")
	ErrNotAdmin          = errs.New(errs.Authorization, "not_admin", "caller holds no administrator role")
	ErrNotEligible       = errs.New(errs.Authorization, "proposal_stake_required", "caller is neither admin nor holds the proposal stake")
	ErrNotMember         = errs.New(errs.Authorization, "not_member", "voter is not a member with voting power")
	ErrNotInSnapshot     = errs.New(errs.Authorization, "not_in_snapshot", "voter was not eligible when the proposal was created")
	ErrNotProposer       = errs.New(errs.Authorization, "not_proposer_or_admin", "only the proposer or an admin may do this")
	ErrCooldown          = errs.New(errs.State, "proposal_cooldown", "creator is within the proposal cooldown")
	ErrInvalidTransition = errs.New(errs.State, "invalid_transition", "transition not allowed from current status")
	ErrNotActive         = errs.New(errs.State, "proposal_not_active", "proposal is not active")
	ErrVotingNotStarted  = errs.New(errs.State, "voting_not_started", "voting has not started")
	ErrVotingClosed      = errs.New(errs.State, "voting_closed", "voting has ended")
	ErrVotingOpen        = errs.New(errs.State, "voting_open", "voting period has not ended")
	ErrAlreadyVoted      = errs.New(errs.State, "already_voted", "voter already voted on this proposal")
	ErrWindowClosed      = errs.New(errs.State, "execution_window_closed", "execution window has closed")
	ErrTallyExceedsStake = errs.New(errs.Consistency, "tally_exceeds_stake", "recorded votes exceed total staked supply")
	ErrCorruptState      = errs.New(errs.Consistency, "corrupt_proposal_state", "stored proposal state is inconsistent")
	ErrNotFound          = errs.New(errs.NotFound, "proposal_not_found", "proposal not found")
	ErrVoteNotFound      = errs.New(errs.NotFound, "vote_not_found", "vote not found")
)
