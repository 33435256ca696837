package governance

import (
	"context"
	"fmt"
	"time"

	"guildhall.org/internal/obs"
	"guildhall.org/internal/proposals"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/staking"
	"guildhall.org/internal/timeguard"
	"guildhall.org/internal/treasury"
)

// OrgSnapshot is the durable form of one organization.
type OrgSnapshot struct {
	Organization Organization       `json:"organization"`
	Guard        timeguard.Guard    `json:"guard"`
	LastSeen     time.Time          `json:"last_seen"`
	Roles        []roles.Assignment `json:"roles"`
	Stakes       []staking.Position `json:"stakes"`
	Proposals    proposals.State    `json:"proposals"`
	Treasury     treasury.State     `json:"treasury"`
}

// StateStore keeps organization snapshots keyed by organization id.
type StateStore interface {
	SaveOrganization(ctx context.Context, snap OrgSnapshot) error
	LoadOrganizations(ctx context.Context) ([]OrgSnapshot, error)
}

// WithStateStore makes every committed transaction write the organization's
// snapshot to st.
func WithStateStore(st StateStore) Option {
	return func(s *Service) { s.state = st }
}

func snapshotOf(o *org) OrgSnapshot {
	return OrgSnapshot{
		Organization: o.info,
		Guard:        o.info.Config.Guard,
		LastSeen:     o.lastSeen,
		Roles:        o.roles.Export(),
		Stakes:       o.stakes.Positions(),
		Proposals:    o.props.Export(),
		Treasury:     o.treasury.Export(),
	}
}

// save writes o's snapshot. Callers hold o.mu.
func (s *Service) save(ctx context.Context, o *org) error {
	if s.state == nil {
		return nil
	}
	if err := s.state.SaveOrganization(context.WithoutCancel(ctx), snapshotOf(o)); err != nil {
		return fmt.Errorf("save organization %s: %w", o.info.ID, err)
	}
	return nil
}

// persist saves o after a transaction. The in-memory state has already
// changed and may have moved funds, so a failed write is logged and counted
// and the next transaction on o writes the full snapshot again.
func (s *Service) persist(ctx context.Context, o *org) {
	if err := s.save(ctx, o); err != nil {
		obs.ObserveStateSaveFailure()
		obs.Logger().WithError(err).WithField("org", o.info.ID).Error("organization state not persisted")
	}
}

// Restore rebuilds every organization held by the state store. It runs
// before the service takes traffic and returns the number of organizations
// loaded.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.state == nil {
		return 0, nil
	}
	snaps, err := s.state.LoadOrganizations(ctx)
	if err != nil {
		return 0, fmt.Errorf("load organizations: %w", err)
	}
	loaded := make(map[string]*org, len(snaps))
	for _, snap := range snaps {
		o, err := s.revive(snap)
		if err != nil {
			return 0, fmt.Errorf("restore organization %s: %w", snap.Organization.ID, err)
		}
		loaded[o.info.ID] = o
	}

	s.mu.Lock()
	for id, o := range loaded {
		s.orgs[id] = o
	}
	count := len(s.orgs)
	s.mu.Unlock()
	obs.SetOrganizations(count)
	return len(loaded), nil
}

func (s *Service) revive(snap OrgSnapshot) (*org, error) {
	info := snap.Organization
	info.Config.Guard = snap.Guard
	if info.Config.Guard == (timeguard.Guard{}) {
		info.Config.Guard = s.defaults.Guard
	}
	if !orgIDPattern.MatchString(info.ID) {
		return nil, ErrInvalidOrgID
	}
	if err := info.Config.Validate(); err != nil {
		return nil, err
	}
	o, err := s.assemble(info)
	if err != nil {
		return nil, err
	}
	if err := o.roles.Restore(snap.Roles); err != nil {
		return nil, err
	}
	if err := o.stakes.Restore(snap.Stakes); err != nil {
		return nil, err
	}
	if err := o.props.Restore(snap.Proposals); err != nil {
		return nil, err
	}
	if err := o.treasury.Restore(snap.Treasury); err != nil {
		return nil, err
	}
	o.lastSeen = snap.LastSeen
	return o, nil
}
