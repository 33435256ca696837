package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/governance"
	"guildhall.org/internal/ids"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/obs"
	"guildhall.org/internal/proposals"
	"guildhall.org/internal/store/pg"
)

// simClock lets the scenario skip through voting periods.
type simClock struct{ t time.Time }

func (c *simClock) Now() time.Time          { return c.t }
func (c *simClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func main() {
	log := obs.Logger()

	var (
		bank  ledger.Service = ledger.NewInMemory()
		state governance.StateStore
	)
	if dsn := os.Getenv("GUILDHALL_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		defer store.Close()
		bank = store
		state = store
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Unique names keep repeated runs against a persistent ledger apart.
	run := ids.New()
	owner, alice, bob := "owner-"+run, "alice-"+run, "bob-"+run
	for who, amt := range map[string]uint64{owner: 10, alice: 600, bob: 400} {
		if _, err := bank.Mint(ctx, who, ledger.Native(amt)); err != nil {
			log.WithError(err).Fatalf("mint %s", who)
		}
	}

	clock := &simClock{t: time.Now().UTC()}
	rec := &activity.Recorder{}
	opts := []governance.Option{governance.WithClock(clock.Now), governance.WithNotifier(rec)}
	if state != nil {
		opts = append(opts, governance.WithStateStore(state))
	}
	gov := governance.New(bank, opts...)

	org, err := gov.CreateOrganization(ctx, governance.CreateOrgParams{Name: "smoke guild", Owner: owner})
	must(err, "create organization")
	must2(gov.Stake(ctx, org.ID, alice, 600))("stake alice")
	must2(gov.Stake(ctx, org.ID, bob, 400))("stake bob")

	prop, err := gov.CreateProposal(ctx, org.ID, owner, proposals.Params{
		Title:           "smoke proposal",
		VotingStart:     clock.Now(),
		VotingEnd:       clock.Now().Add(2 * time.Hour),
		ExecutionWindow: 24 * time.Hour,
		QuorumPercent:   50,
	})
	must(err, "create proposal")
	must2(gov.ActivateProposal(ctx, org.ID, owner, prop.ID))("activate")
	clock.Advance(time.Minute)
	must2(gov.CastVote(ctx, org.ID, alice, prop.ID, proposals.OptionYes))("vote alice")
	must2(gov.CastVote(ctx, org.ID, bob, prop.ID, proposals.OptionNo))("vote bob")
	clock.Advance(2 * time.Hour)

	prop, err = gov.FinalizeProposal(ctx, org.ID, alice, prop.ID)
	must(err, "finalize")
	if prop.Status != proposals.StatusPassed {
		log.Fatalf("expected passed proposal, got %s (%s)", prop.Status, prop.Reason)
	}
	must2(gov.ExecuteProposal(ctx, org.ID, owner, prop.ID))("execute")

	must2(gov.Deposit(ctx, org.ID, owner, 5))("deposit")
	must2(gov.Withdraw(ctx, org.ID, owner, bob, 3))("withdraw")
	status, err := gov.Treasury(ctx, org.ID)
	must(err, "treasury")
	// fee 1 + deposit 5 - withdrawal 3
	if status.NativeBalance != 3 {
		log.Fatalf("unexpected treasury balance %d", status.NativeBalance)
	}
	drift, err := gov.ValidateStakeSync(ctx, org.ID)
	must(err, "validate stake sync")
	if len(drift) != 0 {
		log.Fatalf("stake index drift: %+v", drift)
	}

	if state != nil {
		// A fresh service must pick up where this one stopped.
		again := governance.New(bank, governance.WithClock(clock.Now), governance.WithStateStore(state))
		_, err := again.Restore(ctx)
		must(err, "restore")
		restored, err := again.Treasury(ctx, org.ID)
		must(err, "restored treasury")
		total, err := again.TotalStaked(ctx, org.ID)
		must(err, "restored stake")
		if restored.NativeBalance != status.NativeBalance || total != 1000 {
			log.Fatalf("restored treasury=%d staked=%d", restored.NativeBalance, total)
		}
	}

	fmt.Printf("✅ governance smoke test passed: org=%s proposal=%d events=%d\n", org.ID, prop.ID, len(rec.Events()))
}

func must(err error, what string) {
	if err != nil {
		obs.Logger().WithError(err).Fatal(what)
	}
}

func must2[T any](_ T, err error) func(string) {
	return func(what string) { must(err, what) }
}
