package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/errs"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/proposals"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/staking"
	"guildhall.org/internal/timeguard"
	"guildhall.org/internal/treasury"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc   *Service
	bank  *ledger.InMemory
	clock *fakeClock
	rec   *activity.Recorder
}

func newHarness(t *testing.T, balances map[string]uint64) *harness {
	t.Helper()
	bank := ledger.NewInMemory()
	for who, amt := range balances {
		if _, err := bank.Mint(context.Background(), who, ledger.Native(amt)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	clock := &fakeClock{t: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)}
	rec := &activity.Recorder{}
	svc := New(bank, WithClock(clock.Now), WithNotifier(rec))
	return &harness{svc: svc, bank: bank, clock: clock, rec: rec}
}

func (h *harness) createOrg(t *testing.T, id string, cfg *OrgConfig) {
	t.Helper()
	if _, err := h.svc.CreateOrganization(context.Background(), CreateOrgParams{ID: id, Name: id, Owner: "owner", Config: cfg}); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
}

func TestProposalLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"owner": 10, "alice": 600, "bob": 400})
	h.createOrg(t, "acme", nil)

	for who, amt := range map[string]uint64{"alice": 600, "bob": 400} {
		if _, err := h.svc.Stake(ctx, "acme", who, amt); err != nil {
			t.Fatalf("Stake %s: %v", who, err)
		}
	}
	now := h.clock.Now()
	prop, err := h.svc.CreateProposal(ctx, "acme", "owner", proposals.Params{
		Title:           "Upgrade the guild hall",
		VotingStart:     now,
		VotingEnd:       now.Add(3 * time.Hour),
		ExecutionWindow: 48 * time.Hour,
		QuorumPercent:   50,
	})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if prop.Status != proposals.StatusDraft || prop.Fee != 1 {
		t.Fatalf("unexpected proposal: %+v", prop)
	}
	tr, err := h.svc.Treasury(ctx, "acme")
	if err != nil || tr.NativeBalance != 1 {
		t.Fatalf("fee not in treasury: %+v, %v", tr, err)
	}

	if _, err := h.svc.ActivateProposal(ctx, "acme", "owner", prop.ID); err != nil {
		t.Fatalf("ActivateProposal: %v", err)
	}
	h.clock.Advance(time.Hour)
	if _, err := h.svc.CastVote(ctx, "acme", "alice", prop.ID, proposals.OptionYes); err != nil {
		t.Fatalf("CastVote alice: %v", err)
	}
	if _, err := h.svc.CastVote(ctx, "acme", "bob", prop.ID, proposals.OptionNo); err != nil {
		t.Fatalf("CastVote bob: %v", err)
	}
	if _, err := h.svc.CastVote(ctx, "acme", "bob", prop.ID, proposals.OptionYes); !errors.Is(err, proposals.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}

	h.clock.Advance(2*time.Hour + time.Minute)
	got, err := h.svc.FinalizeProposal(ctx, "acme", "alice", prop.ID)
	if err != nil {
		t.Fatalf("FinalizeProposal: %v", err)
	}
	if got.Status != proposals.StatusPassed || got.Reason != proposals.ReasonMajorityYes {
		t.Fatalf("unexpected outcome: %s/%s", got.Status, got.Reason)
	}
	got, err = h.svc.ExecuteProposal(ctx, "acme", "owner", prop.ID)
	if err != nil || got.Status != proposals.StatusExecuted {
		t.Fatalf("ExecuteProposal: %+v, %v", got, err)
	}

	votes, err := h.svc.Votes(ctx, "acme", prop.ID)
	if err != nil || len(votes) != 2 {
		t.Fatalf("Votes: %v, %v", votes, err)
	}

	want := []activity.Kind{
		activity.OrganizationCreated, activity.RoleGranted,
		activity.StakeAdded, activity.StakeAdded,
		activity.ProposalCreated, activity.ProposalStatusChanged,
		activity.VoteCast, activity.VoteCast,
		activity.ProposalStatusChanged, activity.ProposalStatusChanged,
	}
	kinds := h.rec.Kinds()
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("unexpected events:\n got %v\nwant %v", kinds, want)
	}
	for _, evt := range h.rec.Events() {
		if evt.OrganizationID != "acme" || evt.ID == "" || evt.OccurredAt.IsZero() {
			t.Fatalf("incomplete event: %+v", evt)
		}
	}
}

func TestReentrantWithdrawalThroughLedgerHook(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"owner": 1000})
	h.createOrg(t, "acme", nil)
	if _, err := h.svc.Deposit(ctx, "acme", "owner", 500); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	var nested error
	armed := true
	h.bank.OnReceive("attacker", func(ctx context.Context, tx ledger.Transaction) error {
		if armed {
			armed = false
			_, nested = h.svc.Withdraw(ctx, "acme", "owner", "attacker", 100)
		}
		return nil
	})

	if _, err := h.svc.Withdraw(ctx, "acme", "owner", "attacker", 100); err != nil {
		t.Fatalf("outer Withdraw: %v", err)
	}
	if !errors.Is(nested, treasury.ErrLocked) || errs.CategoryOf(nested) != errs.Concurrency {
		t.Fatalf("expected nested withdrawal to be blocked, got %v", nested)
	}
	acct, _ := h.svc.Treasury(ctx, "acme")
	if acct.NativeBalance != 400 || acct.Locked {
		t.Fatalf("unexpected treasury after blocked reentry: %+v", acct)
	}

	if _, err := h.svc.Withdraw(ctx, "acme", "owner", "attacker", 100); err != nil {
		t.Fatalf("Withdraw after release: %v", err)
	}
	got, _ := h.bank.Balance(ctx, "attacker", ledger.NativeAsset)
	if got != 200 {
		t.Fatalf("attacker balance %d", got)
	}
}

func TestFailedOperationsLeaveNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"rich": 100})
	h.createOrg(t, "acme", nil)
	before := len(h.rec.Events())

	now := h.clock.Now()
	_, err := h.svc.CreateProposal(ctx, "acme", "owner", proposals.Params{
		Title: "No fee funds", VotingStart: now, VotingEnd: now.Add(2 * time.Hour),
		ExecutionWindow: time.Hour * 2, QuorumPercent: 10,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected fee payment failure, got %v", err)
	}
	props, _ := h.svc.Proposals(ctx, "acme")
	if len(props) != 0 {
		t.Fatalf("proposal stored despite failed fee: %+v", props)
	}
	if _, err := h.svc.Stake(ctx, "acme", "rich", 101); !errors.Is(err, staking.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := h.svc.Withdraw(ctx, "acme", "owner", "rich", 1); !errors.Is(err, treasury.ErrInsufficientFunds) {
		t.Fatalf("expected treasury.ErrInsufficientFunds, got %v", err)
	}
	if total, _ := h.svc.TotalStaked(ctx, "acme"); total != 0 {
		t.Fatalf("total staked %d", total)
	}
	if len(h.rec.Events()) != before {
		t.Fatalf("failed operations emitted events: %v", h.rec.Kinds()[before:])
	}
}

func TestClockRegressionRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"alice": 10})
	h.createOrg(t, "acme", nil)
	if _, err := h.svc.Stake(ctx, "acme", "alice", 5); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	h.clock.Advance(-time.Minute)
	_, err := h.svc.Stake(ctx, "acme", "alice", 5)
	if !errors.Is(err, timeguard.ErrClockRegression) || errs.CategoryOf(err) != errs.Consistency {
		t.Fatalf("expected clock regression, got %v", err)
	}
	h.clock.Advance(time.Minute - 5*time.Second)
	if _, err := h.svc.Stake(ctx, "acme", "alice", 5); err != nil {
		t.Fatalf("skew within tolerance should pass: %v", err)
	}
}

func TestOrganizationRegistry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.createOrg(t, "acme", nil)

	if _, err := h.svc.CreateOrganization(ctx, CreateOrgParams{ID: "acme", Owner: "x"}); !errors.Is(err, ErrOrgExists) {
		t.Fatalf("expected ErrOrgExists, got %v", err)
	}
	if _, err := h.svc.CreateOrganization(ctx, CreateOrgParams{ID: "bad/id", Owner: "x"}); !errors.Is(err, ErrInvalidOrgID) {
		t.Fatalf("expected ErrInvalidOrgID, got %v", err)
	}
	if _, err := h.svc.Stake(ctx, "nope", "x", 1); !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("expected ErrOrgNotFound, got %v", err)
	}

	cfg := DefaultOrgConfig()
	cfg.Staking.MinStake = 100
	cfg.Proposals.ProposalStake = 50
	if _, err := h.svc.CreateOrganization(ctx, CreateOrgParams{ID: "x1", Owner: "x", Config: &cfg}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg = DefaultOrgConfig()
	cfg.Roles.MaxSuper = 6
	if _, err := h.svc.CreateOrganization(ctx, CreateOrgParams{ID: "x2", Owner: "x", Config: &cfg}); !errors.Is(err, roles.ErrInvalidConfig) {
		t.Fatalf("expected roles.ErrInvalidConfig, got %v", err)
	}

	generated, err := h.svc.CreateOrganization(ctx, CreateOrgParams{Owner: "y"})
	if err != nil || generated.ID == "" {
		t.Fatalf("generated id: %+v, %v", generated, err)
	}
	if n := len(h.svc.Organizations(ctx)); n != 2 {
		t.Fatalf("expected 2 organizations, got %d", n)
	}
}

func TestOrganizationsAreIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"alice": 100})
	h.createOrg(t, "one", nil)
	h.createOrg(t, "two", nil)

	if _, err := h.svc.Stake(ctx, "one", "alice", 60); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if total, _ := h.svc.TotalStaked(ctx, "two"); total != 0 {
		t.Fatalf("stake leaked into another organization: %d", total)
	}
	if _, err := h.svc.StakeOf(ctx, "two", "alice"); !errors.Is(err, staking.ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
	if _, err := h.svc.GrantRole(ctx, "one", "owner", "alice", roles.TierStandard, time.Hour); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if _, err := h.svc.Role(ctx, "two", "alice"); !errors.Is(err, roles.ErrRoleNotFound) {
		t.Fatalf("role leaked into another organization: %v", err)
	}
}

func TestRolesThroughService(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.createOrg(t, "acme", nil)

	a, err := h.svc.GrantRole(ctx, "acme", "owner", "temp", roles.TierTemporary, 10*time.Minute)
	if err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if !a.ExpiresAt.Equal(h.clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", a.ExpiresAt)
	}
	h.clock.Advance(11 * time.Minute)
	admins, _ := h.svc.Admins(ctx, "acme")
	if len(admins) != 1 || admins[0].Holder != "owner" {
		t.Fatalf("expired role still listed: %+v", admins)
	}
	if err := h.svc.RevokeRole(ctx, "acme", "owner", "owner"); !errors.Is(err, roles.ErrSuperFloor) {
		t.Fatalf("expected ErrSuperFloor, got %v", err)
	}
	evts := h.rec.Events()
	last := evts[len(evts)-1]
	if last.Kind != activity.RoleGranted || last.Tier != "temporary" || last.ExpiresAt.IsZero() {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestVaultsAndSettings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"owner": 100, "guest": 100})
	_, _ = h.bank.Mint(ctx, "guest", ledger.Money{Asset: "WETH", Amount: 50})
	h.createOrg(t, "acme", nil)

	if _, err := h.svc.Deposit(ctx, "acme", "guest", 10); !errors.Is(err, treasury.ErrDepositForbidden) {
		t.Fatalf("expected ErrDepositForbidden, got %v", err)
	}
	if _, err := h.svc.SetPublicDeposits(ctx, "acme", "owner", true); err != nil {
		t.Fatalf("SetPublicDeposits: %v", err)
	}
	tv, err := h.svc.CreateVault(ctx, "acme", "owner", "weth")
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if _, err := h.svc.DepositToVault(ctx, "acme", "guest", tv.ID, 50); err != nil {
		t.Fatalf("DepositToVault: %v", err)
	}
	got, err := h.svc.WithdrawFromVault(ctx, "acme", "owner", tv.ID, "owner", 20)
	if err != nil || got.Balance != 30 {
		t.Fatalf("WithdrawFromVault: %+v, %v", got, err)
	}
	if _, err := h.svc.Deposit(ctx, "acme", "guest", 100); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := h.svc.SetDailyLimit(ctx, "acme", "owner", 40); err != nil {
		t.Fatalf("SetDailyLimit: %v", err)
	}
	if _, err := h.svc.Withdraw(ctx, "acme", "owner", "owner", 41); !errors.Is(err, treasury.ErrDailyLimit) {
		t.Fatalf("expected ErrDailyLimit, got %v", err)
	}
	status, _ := h.svc.Treasury(ctx, "acme")
	if !status.Limited || status.RemainingToday != 40 || !status.PublicDeposits {
		t.Fatalf("unexpected treasury status: %+v", status)
	}
	vaults, _ := h.svc.Vaults(ctx, "acme")
	if len(vaults) != 1 || vaults[0].Asset != "WETH" {
		t.Fatalf("unexpected vaults: %+v", vaults)
	}
}

func TestRepairStakeSyncRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"alice": 10})
	h.createOrg(t, "acme", nil)
	_, _ = h.svc.Stake(ctx, "acme", "alice", 10)

	if _, err := h.svc.RepairStakeSync(ctx, "acme", "alice"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	fixed, err := h.svc.RepairStakeSync(ctx, "acme", "owner")
	if err != nil || len(fixed) != 0 {
		t.Fatalf("RepairStakeSync on a consistent index: %v, %v", fixed, err)
	}
	drifts, _ := h.svc.ValidateStakeSync(ctx, "acme")
	if len(drifts) != 0 {
		t.Fatalf("unexpected drift: %+v", drifts)
	}
}

func TestConcurrentStakesKeepTotals(t *testing.T) {
	ctx := context.Background()
	balances := map[string]uint64{}
	for i := 0; i < 20; i++ {
		balances[fmt.Sprintf("staker-%02d", i)] = 1000
	}
	h := newHarness(t, balances)
	h.createOrg(t, "acme", nil)

	var wg sync.WaitGroup
	for who := range balances {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = h.svc.Stake(ctx, "acme", who, 10)
			}
		}(who)
	}
	wg.Wait()

	total, _ := h.svc.TotalStaked(ctx, "acme")
	positions, _ := h.svc.Stakes(ctx, "acme")
	var sum uint64
	for _, p := range positions {
		sum += p.Amount
	}
	if total != 2000 || sum != total {
		t.Fatalf("total=%d sum=%d", total, sum)
	}
	held, _ := h.bank.Balance(ctx, staking.CustodyAccount("acme"), ledger.NativeAsset)
	if held != total {
		t.Fatalf("custody %d != total %d", held, total)
	}
}

func TestHookMutationsDoNotOutliveFailedWithdrawal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"owner": 100})
	h.createOrg(t, "acme", nil)
	if _, err := h.svc.Deposit(ctx, "acme", "owner", 100); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	before := len(h.rec.Events())

	var nested []error
	h.bank.OnReceive("mallory", func(ctx context.Context, tx ledger.Transaction) error {
		_, err := h.svc.SetPublicDeposits(ctx, "acme", "owner", true)
		nested = append(nested, err)
		_, err = h.svc.Deposit(ctx, "acme", "mallory", tx.Amount)
		nested = append(nested, err)
		return errors.New("mallory refuses")
	})

	_, err := h.svc.Withdraw(ctx, "acme", "owner", "mallory", 50)
	if err == nil || errors.Is(err, ledger.ErrUnreverted) {
		t.Fatalf("expected a reverted withdrawal failure, got %v", err)
	}
	for i, e := range nested {
		if !errors.Is(e, treasury.ErrLocked) {
			t.Fatalf("nested call %d: expected ErrLocked, got %v", i, e)
		}
	}
	status, _ := h.svc.Treasury(ctx, "acme")
	if status.NativeBalance != 100 || status.PublicDeposits || status.Locked || status.WithdrawnToday != 0 {
		t.Fatalf("failed withdrawal left state behind: %+v", status)
	}
	held, _ := h.bank.Balance(ctx, treasury.CustodyAccount("acme"), ledger.NativeAsset)
	kept, _ := h.bank.Balance(ctx, "mallory", ledger.NativeAsset)
	if held != 100 || kept != 0 {
		t.Fatalf("custody=%d mallory=%d", held, kept)
	}
	if len(h.rec.Events()) != before {
		t.Fatalf("failed withdrawal emitted events: %v", h.rec.Kinds()[before:])
	}
}

func TestSpentWithdrawalStaysBooked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"owner": 100})
	h.createOrg(t, "acme", nil)
	if _, err := h.svc.Deposit(ctx, "acme", "owner", 100); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	h.bank.OnReceive("mallory", func(ctx context.Context, tx ledger.Transaction) error {
		if _, err := h.bank.Transfer(ctx, "mallory", "accomplice", ledger.Native(tx.Amount), "forward"); err != nil {
			return err
		}
		return errors.New("mallory refuses")
	})
	_, err := h.svc.Withdraw(ctx, "acme", "owner", "mallory", 50)
	if !errors.Is(err, ledger.ErrUnreverted) || errs.CategoryOf(err) != errs.Consistency {
		t.Fatalf("expected a consistency abort, got %v", err)
	}

	status, _ := h.svc.Treasury(ctx, "acme")
	held, _ := h.bank.Balance(ctx, treasury.CustodyAccount("acme"), ledger.NativeAsset)
	if status.NativeBalance != 50 || held != 50 {
		t.Fatalf("record %d and custody %d must both show the funds gone", status.NativeBalance, held)
	}
	if status.WithdrawnToday != 50 || status.Locked {
		t.Fatalf("unexpected treasury: %+v", status)
	}

	h.bank.OnReceive("mallory", nil)
	if _, err := h.svc.Withdraw(ctx, "acme", "owner", "owner", 50); err != nil {
		t.Fatalf("Withdraw remaining: %v", err)
	}
	held, _ = h.bank.Balance(ctx, treasury.CustodyAccount("acme"), ledger.NativeAsset)
	if held != 0 {
		t.Fatalf("custody=%d", held)
	}
}

func TestNestedMutationsAreRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]uint64{"bob": 100})
	h.createOrg(t, "acme", nil)
	if _, err := h.svc.Stake(ctx, "acme", "bob", 100); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	h.clock.Advance(2 * time.Hour)

	var (
		nested  error
		seen    uint64
		readErr error
	)
	h.bank.OnReceive("bob", func(ctx context.Context, tx ledger.Transaction) error {
		seen, readErr = h.svc.TotalStaked(ctx, "acme")
		_, nested = h.svc.Stake(ctx, "acme", "bob", tx.Amount)
		return nil
	})

	pos, err := h.svc.Unstake(ctx, "acme", "bob", 40)
	if err != nil || pos.Amount != 60 {
		t.Fatalf("Unstake: %+v, %v", pos, err)
	}
	if !errors.Is(nested, ErrNestedCall) || errs.CategoryOf(nested) != errs.Concurrency {
		t.Fatalf("expected ErrNestedCall, got %v", nested)
	}
	if readErr != nil || seen != 100 {
		t.Fatalf("nested read: %d, %v", seen, readErr)
	}
	if total, _ := h.svc.TotalStaked(ctx, "acme"); total != 60 {
		t.Fatalf("total staked %d", total)
	}
}
