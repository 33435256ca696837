package proposals

import (
	"context"
	"errors"
	"testing"
	"time"

	"guildhall.org/internal/errs"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/staking"
	"guildhall.org/internal/timeguard"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	roles  *roles.Registry
	stakes *staking.Ledger
	engine *Engine
	fees   uint64
}

func newFixture(t *testing.T, minStake uint64, cfg Config, stakes map[string]uint64) *fixture {
	t.Helper()
	ctx := context.Background()
	r, err := roles.NewRegistry(roles.DefaultConfig())
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if _, err := r.Initialize("admin", t0); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	bank := ledger.NewInMemory()
	s, err := staking.NewLedger("org", staking.Config{MinStake: minStake, MinLockPeriod: time.Hour}, bank)
	if err != nil {
		t.Fatalf("staking: %v", err)
	}
	for who, amt := range stakes {
		if _, err := bank.Mint(ctx, who, ledger.Native(amt)); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if _, err := s.Stake(ctx, who, amt, t0); err != nil {
			t.Fatalf("stake %s: %v", who, err)
		}
	}
	e, err := NewEngine(cfg, timeguard.Default(), r, s)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &fixture{roles: r, stakes: s, engine: e}
}

func (f *fixture) pay(fee uint64) error {
	f.fees += fee
	return nil
}

func params(quorum uint64) Params {
	return Params{
		Title:           "Fund the community garden",
		VotingStart:     t0,
		VotingEnd:       t0.Add(2 * time.Hour),
		ExecutionWindow: 24 * time.Hour,
		QuorumPercent:   quorum,
	}
}

func (f *fixture) activeProposal(t *testing.T, quorum uint64) Proposal {
	t.Helper()
	p, _, err := f.engine.Create("admin", params(quorum), t0, f.pay)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.engine.Activate("admin", p.ID, t0); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return p
}

var afterVoting = t0.Add(2*time.Hour + 16*time.Second)

func TestQuorumNotMetEvenIfAllYes(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), map[string]uint64{"yes-voter": 150, "whale": 850})
	p := f.activeProposal(t, 20)

	if _, err := f.engine.CastVote("yes-voter", p.ID, OptionYes, t0.Add(time.Hour)); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	tr, err := f.engine.Finalize("admin", p.ID, afterVoting)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tr.To != StatusRejected || tr.Reason != ReasonQuorumNotMet {
		t.Fatalf("expected rejected/quorum_not_met, got %+v", tr)
	}
	got, _ := f.engine.Get(p.ID)
	total, _ := got.Tally.Total()
	if total > got.StakedAtFinal {
		t.Fatalf("tally %d exceeds staked %d", total, got.StakedAtFinal)
	}
}

func TestPassedAndExecuted(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), map[string]uint64{"a": 300, "b": 200, "c": 500})
	p := f.activeProposal(t, 50)
	at := t0.Add(time.Hour)
	_, _ = f.engine.CastVote("a", p.ID, OptionYes, at)
	_, _ = f.engine.CastVote("b", p.ID, OptionNo, at)
	_, _ = f.engine.CastVote("c", p.ID, OptionAbstain, at)

	tr, err := f.engine.Finalize("a", p.ID, afterVoting)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tr.From != StatusActive || tr.To != StatusPassed || tr.Reason != ReasonMajorityYes {
		t.Fatalf("unexpected transition: %+v", tr)
	}
	if _, err := f.engine.Finalize("admin", p.ID, afterVoting); !errors.Is(err, ErrNotActive) {
		t.Fatalf("finalizing twice: expected ErrNotActive, got %v", err)
	}
	if _, err := f.engine.Execute("b", p.ID, afterVoting); !errors.Is(err, ErrNotProposer) {
		t.Fatalf("expected ErrNotProposer, got %v", err)
	}
	if _, err := f.engine.Execute("admin", p.ID, afterVoting); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := f.engine.Get(p.ID)
	if got.Status != StatusExecuted || got.ExecutedAt.IsZero() {
		t.Fatalf("unexpected proposal: %+v", got)
	}
	if f.fees != DefaultConfig().ProposalFee {
		t.Fatalf("fee not charged: %d", f.fees)
	}
}

func TestFinalizeWithVeryLargeStake(t *testing.T) {
	whale := uint64(1) << 60
	f := newFixture(t, 1, DefaultConfig(), map[string]uint64{"whale": whale, "minnow": 1 << 62})
	p := f.activeProposal(t, 20)
	if _, err := f.engine.CastVote("whale", p.ID, OptionYes, t0.Add(time.Hour)); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	tr, err := f.engine.Finalize("admin", p.ID, afterVoting)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// 2^60 of 5*2^60 staked is exactly 20%.
	if tr.To != StatusPassed || tr.Reason != ReasonMajorityYes {
		t.Fatalf("expected passed/majority_yes, got %+v", tr)
	}
}

func TestTieIsRejected(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), map[string]uint64{"a": 100, "b": 100})
	p := f.activeProposal(t, 10)
	_, _ = f.engine.CastVote("a", p.ID, OptionYes, t0)
	_, _ = f.engine.CastVote("b", p.ID, OptionNo, t0)
	tr, err := f.engine.Finalize("admin", p.ID, afterVoting)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tr.To != StatusRejected || tr.Reason != ReasonMajorityNotReached {
		t.Fatalf("unexpected transition: %+v", tr)
	}
}

func TestNoStakeIsRejected(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), nil)
	p := f.activeProposal(t, 10)
	tr, err := f.engine.Finalize("admin", p.ID, afterVoting)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tr.Reason != ReasonNoStake {
		t.Fatalf("expected no_stake, got %+v", tr)
	}
}

func TestFinalizeWaitsForVotingEndPlusTolerance(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), map[string]uint64{"a": 100})
	p := f.activeProposal(t, 10)
	if _, err := f.engine.Finalize("admin", p.ID, t0.Add(2*time.Hour+15*time.Second)); !errors.Is(err, ErrVotingOpen) {
		t.Fatalf("expected ErrVotingOpen, got %v", err)
	}
	if _, err := f.engine.Finalize("outsider", p.ID, afterVoting); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestSecondVoteAlwaysFails(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), map[string]uint64{"a": 100})
	p := f.activeProposal(t, 10)
	if _, err := f.engine.CastVote("a", p.ID, OptionNo, t0); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	for _, o := range []Option{OptionYes, OptionNo, OptionAbstain} {
		_, err := f.engine.CastVote("a", p.ID, o, t0.Add(time.Minute))
		if !errors.Is(err, ErrAlreadyVoted) || errs.CategoryOf(err) != errs.State {
			t.Fatalf("option %s: expected already_voted state error, got %v", o, err)
		}
	}
	got, _ := f.engine.Get(p.ID)
	if got.Tally.No != 100 || got.Tally.Yes != 0 {
		t.Fatalf("tally changed by rejected vote: %+v", got.Tally)
	}
	v, err := f.engine.VoteOf(p.ID, "a")
	if err != nil || v.Option != OptionNo || v.Weight != 100 {
		t.Fatalf("VoteOf: %+v, %v", v, err)
	}
}

func TestMinStakeVersusProposalStake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProposalStake = 50
	f := newFixture(t, 6, cfg, map[string]uint64{"member": 6})

	if _, _, err := f.engine.Create("member", params(10), t0, f.pay); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if f.fees != 0 {
		t.Fatal("fee charged for a rejected proposal")
	}
	p := f.activeProposal(t, 10)
	if _, err := f.engine.CastVote("member", p.ID, OptionYes, t0); err != nil {
		t.Fatalf("member with minimum stake should vote: %v", err)
	}
}

func TestVoteEligibility(t *testing.T) {
	f := newFixture(t, 10, DefaultConfig(), map[string]uint64{"member": 10, "small": 5})
	p, _, err := f.engine.Create("admin", params(10), t0, f.pay)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.engine.CastVote("member", p.ID, OptionYes, t0); !errors.Is(err, ErrNotActive) {
		t.Fatalf("draft vote: expected ErrNotActive, got %v", err)
	}
	_, _ = f.engine.Activate("admin", p.ID, t0)

	if _, err := f.engine.CastVote("small", p.ID, OptionYes, t0); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if _, err := f.engine.CastVote("admin", p.ID, OptionYes, t0); !errors.Is(err, ErrNotMember) {
		t.Fatalf("admin without stake: expected ErrNotMember, got %v", err)
	}

	if !p.Snapshot.Contains("member") || p.Snapshot.Contains("small") {
		t.Fatalf("unexpected snapshot: %v", p.Snapshot.Voters)
	}
	if _, err := f.engine.CastVote("member", p.ID, OptionYes, t0.Add(3*time.Hour)); !errors.Is(err, ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed, got %v", err)
	}
	if _, err := f.engine.CastVote("member", p.ID, Option("maybe"), t0); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
}

func TestLateStakerNotInSnapshot(t *testing.T) {
	ctx := context.Background()
	r, _ := roles.NewRegistry(roles.DefaultConfig())
	_, _ = r.Initialize("admin", t0)
	bank := ledger.NewInMemory()
	_, _ = bank.Mint(ctx, "early", ledger.Native(10))
	_, _ = bank.Mint(ctx, "late", ledger.Native(10))
	s, _ := staking.NewLedger("org", staking.DefaultConfig(), bank)
	_, _ = s.Stake(ctx, "early", 10, t0)
	e, _ := NewEngine(DefaultConfig(), timeguard.Default(), r, s)

	p, _, err := e.Create("admin", params(10), t0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, _ = e.Activate("admin", p.ID, t0)
	if _, err := s.Stake(ctx, "late", 10, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if _, err := e.CastVote("late", p.ID, OptionYes, t0.Add(time.Minute)); !errors.Is(err, ErrNotInSnapshot) {
		t.Fatalf("expected ErrNotInSnapshot, got %v", err)
	}
	if _, err := e.CastVote("early", p.ID, OptionYes, t0.Add(time.Minute)); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), nil)
	bad := func(mut func(*Params)) Params {
		p := params(10)
		mut(&p)
		return p
	}
	cases := []struct {
		name string
		p    Params
		want error
	}{
		{"zero quorum", bad(func(p *Params) { p.QuorumPercent = 0 }), ErrInvalidQuorum},
		{"quorum over 100", bad(func(p *Params) { p.QuorumPercent = 101 }), ErrInvalidQuorum},
		{"end before start", bad(func(p *Params) { p.VotingEnd = p.VotingStart }), timeguard.ErrInvalidWindow},
		{"start in past", bad(func(p *Params) { p.VotingStart = t0.Add(-time.Minute) }), timeguard.ErrStartInPast},
		{"voting too short", bad(func(p *Params) { p.VotingEnd = t0.Add(time.Minute) }), timeguard.ErrWindowTooShort},
		{"no execution window", bad(func(p *Params) { p.ExecutionWindow = 0 }), timeguard.ErrInvalidWindow},
		{"empty title", bad(func(p *Params) { p.Title = "  " }), ErrInvalidTitle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.engine.Create("admin", tc.p, t0, f.pay); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(f.engine.List()) != 0 || f.fees != 0 {
		t.Fatal("rejected creations left state behind")
	}
}

func TestCooldownAndFeeFailure(t *testing.T) {
	f := newFixture(t, 1, DefaultConfig(), nil)
	if _, _, err := f.engine.Create("admin", params(10), t0, f.pay); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := f.engine.Create("admin", params(10), t0.Add(59*time.Second), f.pay); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}

	broke := errors.New("treasury unavailable")
	later := t0.Add(time.Minute)
	p := params(10)
	p.VotingStart, p.VotingEnd = later, later.Add(2*time.Hour)
	if _, _, err := f.engine.Create("admin", p, later, func(uint64) error { return broke }); !errors.Is(err, broke) {
		t.Fatalf("expected fee error, got %v", err)
	}
	if n := len(f.engine.List()); n != 1 {
		t.Fatalf("failed fee left a proposal behind: %d", n)
	}
	second, _, err := f.engine.Create("admin", p, later, f.pay)
	if err != nil {
		t.Fatalf("Create after cooldown: %v", err)
	}
	if second.ID != 2 {
		t.Fatalf("ids must stay monotonic without gaps, got %d", second.ID)
	}
}

func TestCancelAndExecutionWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	f := newFixture(t, 1, cfg, map[string]uint64{"a": 100})
	p, _, _ := f.engine.Create("admin", params(10), t0, f.pay)
	if _, err := f.engine.Cancel("a", p.ID, t0); !errors.Is(err, ErrNotProposer) {
		t.Fatalf("expected ErrNotProposer, got %v", err)
	}
	tr, err := f.engine.Cancel("admin", p.ID, t0)
	if err != nil || tr.To != StatusCancelled {
		t.Fatalf("Cancel: %+v, %v", tr, err)
	}
	if _, err := f.engine.Activate("admin", p.ID, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	q := f.activeProposal(t, 10)
	_, _ = f.engine.CastVote("a", q.ID, OptionYes, t0)
	if _, err := f.engine.Finalize("admin", q.ID, afterVoting); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := f.engine.Cancel("admin", q.ID, afterVoting); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after finalize: expected ErrInvalidTransition, got %v", err)
	}
	tooLate := q.VotingEnd.Add(q.ExecutionWindow + time.Second)
	if _, err := f.engine.Execute("admin", q.ID, tooLate); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := [][2]Status{
		{StatusDraft, StatusActive}, {StatusDraft, StatusCancelled},
		{StatusActive, StatusPassed}, {StatusActive, StatusRejected}, {StatusActive, StatusCancelled},
		{StatusPassed, StatusExecuted},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be allowed", pair[0], pair[1])
		}
	}
	if CanTransition(StatusRejected, StatusExecuted) || CanTransition(StatusPassed, StatusCancelled) {
		t.Fatal("unexpected transition allowed")
	}
	for _, s := range []Status{StatusRejected, StatusExecuted, StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}
