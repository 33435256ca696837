package governance

import (
	"context"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/proposals"
)

// CreateProposal stores a Draft proposal and charges the proposal fee to the
// creator in the same transaction.
func (s *Service) CreateProposal(ctx context.Context, orgID, creator string, p proposals.Params) (proposals.Proposal, error) {
	return transact(ctx, s, "create_proposal", orgID, func(t *txn) (proposals.Proposal, error) {
		pay := func(fee uint64) error {
			_, err := t.org.treasury.CollectFee(t.ctx, creator, fee)
			return err
		}
		prop, tr, err := t.org.props.Create(creator, p, t.now, pay)
		if err != nil {
			return proposals.Proposal{}, err
		}
		t.emit(activity.Event{
			Kind:       activity.ProposalCreated,
			Actor:      prop.Proposer,
			ProposalID: prop.ID,
			Amount:     prop.Fee,
			Asset:      ledger.NativeAsset,
			Status:     string(tr.To),
			Reason:     tr.Reason,
		})
		return prop, nil
	})
}

type transitionFunc func(caller string, id uint64, now time.Time) (proposals.Transition, error)

// advance runs one lifecycle transition and returns the updated proposal.
func (s *Service) advance(ctx context.Context, op, orgID, caller string, id uint64, pick func(e *proposals.Engine) transitionFunc) (proposals.Proposal, error) {
	return transact(ctx, s, op, orgID, func(t *txn) (proposals.Proposal, error) {
		tr, err := pick(t.org.props)(caller, id, t.now)
		if err != nil {
			return proposals.Proposal{}, err
		}
		t.emit(activity.Event{
			Kind:       activity.ProposalStatusChanged,
			Actor:      caller,
			ProposalID: tr.ProposalID,
			Status:     string(tr.To),
			Reason:     tr.Reason,
		})
		return t.org.props.Get(id)
	})
}

func (s *Service) ActivateProposal(ctx context.Context, orgID, admin string, id uint64) (proposals.Proposal, error) {
	return s.advance(ctx, "activate_proposal", orgID, admin, id, func(e *proposals.Engine) transitionFunc { return e.Activate })
}

// FinalizeProposal evaluates quorum and majority after voting closed.
func (s *Service) FinalizeProposal(ctx context.Context, orgID, caller string, id uint64) (proposals.Proposal, error) {
	return s.advance(ctx, "finalize_proposal", orgID, caller, id, func(e *proposals.Engine) transitionFunc { return e.Finalize })
}

func (s *Service) ExecuteProposal(ctx context.Context, orgID, caller string, id uint64) (proposals.Proposal, error) {
	return s.advance(ctx, "execute_proposal", orgID, caller, id, func(e *proposals.Engine) transitionFunc { return e.Execute })
}

func (s *Service) CancelProposal(ctx context.Context, orgID, caller string, id uint64) (proposals.Proposal, error) {
	return s.advance(ctx, "cancel_proposal", orgID, caller, id, func(e *proposals.Engine) transitionFunc { return e.Cancel })
}

func (s *Service) CastVote(ctx context.Context, orgID, voter string, id uint64, option proposals.Option) (proposals.Vote, error) {
	return transact(ctx, s, "cast_vote", orgID, func(t *txn) (proposals.Vote, error) {
		v, err := t.org.props.CastVote(voter, id, option, t.now)
		if err != nil {
			return proposals.Vote{}, err
		}
		t.emit(activity.Event{
			Kind:       activity.VoteCast,
			Actor:      v.Voter,
			ProposalID: id,
			Option:     string(v.Option),
			Amount:     v.Weight,
			Tier:       v.Tier.String(),
		})
		return v, nil
	})
}

func (s *Service) Proposal(ctx context.Context, orgID string, id uint64) (proposals.Proposal, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) (proposals.Proposal, error) {
		return o.props.Get(id)
	})
}

func (s *Service) Proposals(ctx context.Context, orgID string) ([]proposals.Proposal, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) ([]proposals.Proposal, error) {
		return o.props.List(), nil
	})
}

func (s *Service) Votes(ctx context.Context, orgID string, id uint64) ([]proposals.Vote, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) ([]proposals.Vote, error) {
		return o.props.Votes(id)
	})
}
