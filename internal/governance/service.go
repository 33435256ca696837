// Package governance is the entry point layer of the DAO core. It keeps the
// registry of organizations, runs every mutation as one serialized
// transaction per organization, and emits activity notifications after
// success.
//
// A transaction locks its organization, samples the clock once and rejects
// clock regression before any component runs. Calls issued from inside a
// running transaction (for example by a ledger receive hook) carry a context
// marker. Reads join the running transaction; mutations are refused, with
// the treasury reentrancy error while a withdrawal holds its flag, so a
// failing outer call never leaves a nested change behind.
package governance

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/errs"
	"guildhall.org/internal/ids"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/obs"
	"guildhall.org/internal/proposals"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/staking"
	"guildhall.org/internal/timeguard"
	"guildhall.org/internal/treasury"
)

var orgIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type org struct {
	mu       sync.Mutex
	info     Organization
	roles    *roles.Registry
	stakes   *staking.Ledger
	props    *proposals.Engine
	treasury *treasury.Vault
	lastSeen time.Time
}

// Service hosts every organization.
type Service struct {
	bank     ledger.Bank
	notifier activity.Notifier
	state    StateStore
	now      func() time.Time
	defaults OrgConfig

	mu   sync.RWMutex
	orgs map[string]*org
}

type Option func(*Service)

// WithClock sets the transaction clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the activity-log collaborator.
func WithNotifier(n activity.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithDefaults sets the configuration of organizations created without one.
func WithDefaults(cfg OrgConfig) Option {
	return func(s *Service) { s.defaults = cfg }
}

func New(bank ledger.Bank, opts ...Option) *Service {
	s := &Service{
		bank:     bank,
		now:      func() time.Time { return time.Now().UTC() },
		defaults: DefaultOrgConfig(),
		orgs:     make(map[string]*org),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{ orgID string }

// txn is the state of one running transaction.
type txn struct {
	ctx    context.Context
	now    time.Time
	org    *org
	events []activity.Event
}

func (t *txn) emit(evt activity.Event) {
	evt.OrganizationID = t.org.info.ID
	evt.OccurredAt = t.now
	t.events = append(t.events, evt.Stamp())
}

func (s *Service) lookup(orgID string) (*org, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, errs.Wrapf(ErrOrgNotFound, "%s", orgID)
	}
	return o, nil
}

// enter locks o unless ctx already runs inside a transaction on it, in
// which case nested is true and nothing is locked.
func enter(ctx context.Context, o *org) (_ context.Context, leave func(), nested bool) {
	key := txKey{o.info.ID}
	if ctx.Value(key) != nil {
		return ctx, func() {}, true
	}
	o.mu.Lock()
	return context.WithValue(ctx, key, true), o.mu.Unlock, false
}

// refuseNested is the error for a mutation issued from inside a running
// transaction on o.
func refuseNested(o *org) error {
	if o.treasury.Account().Locked {
		return errs.Wrapf(treasury.ErrLocked, "nested call during withdrawal")
	}
	return ErrNestedCall
}

// transact runs fn as one transaction on orgID.
func transact[T any](ctx context.Context, s *Service, op, orgID string, fn func(t *txn) (T, error)) (T, error) {
	var zero T
	o, err := s.lookup(orgID)
	if err != nil {
		s.observe(op, err)
		return zero, err
	}
	ctx, leave, nested := enter(ctx, o)
	defer leave()
	if nested {
		err := refuseNested(o)
		s.observe(op, err)
		return zero, err
	}

	now := s.now()
	if err := o.info.Config.Guard.CheckClock(o.lastSeen, now); err != nil {
		s.observe(op, err)
		return zero, err
	}
	if now.After(o.lastSeen) {
		o.lastSeen = now
	}

	t := &txn{ctx: ctx, now: now, org: o}
	out, err := fn(t)
	s.observe(op, err)
	if err != nil {
		// Funds moved by an unreverted transfer are already booked.
		if errs.CategoryOf(err) == errs.Consistency {
			s.persist(ctx, o)
		}
		return zero, err
	}
	s.persist(ctx, o)
	for _, evt := range t.events {
		s.notify(ctx, evt)
	}
	return out, nil
}

// view runs a read-only fn under the organization lock.
func view[T any](ctx context.Context, s *Service, orgID string, fn func(o *org, now time.Time) (T, error)) (T, error) {
	var zero T
	o, err := s.lookup(orgID)
	if err != nil {
		return zero, err
	}
	_, leave, _ := enter(ctx, o)
	defer leave()
	return fn(o, s.now())
}

func (s *Service) observe(op string, err error) {
	if err == nil {
		obs.ObserveOperation(op, "ok")
		return
	}
	category := errs.CategoryOf(err)
	obs.ObserveOperation(op, string(category))
	if errors.Is(err, treasury.ErrLocked) {
		obs.ObserveReentrancyBlocked()
	}
	if category == errs.Consistency {
		obs.Logger().WithError(err).WithField("op", op).Error("consistency abort")
	}
}

func (s *Service) notify(ctx context.Context, evt activity.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		obs.Logger().WithError(err).WithField("event", string(evt.Kind)).Warn("activity notification failed")
	}
}

// CreateOrganization registers a new organization with owner as its first
// super admin.
func (s *Service) CreateOrganization(ctx context.Context, p CreateOrgParams) (Organization, error) {
	info, err := s.createOrganization(ctx, p)
	s.observe("create_organization", err)
	return info, err
}

func (s *Service) createOrganization(ctx context.Context, p CreateOrgParams) (Organization, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = ids.Lower()
	}
	if !orgIDPattern.MatchString(id) {
		return Organization{}, ErrInvalidOrgID
	}
	cfg := s.defaults
	if p.Config != nil {
		cfg = *p.Config
		if cfg.Guard == (timeguard.Guard{}) {
			cfg.Guard = s.defaults.Guard
		}
	}
	if err := cfg.Validate(); err != nil {
		return Organization{}, err
	}
	now := s.now()

	o, err := s.assemble(Organization{ID: id, Name: strings.TrimSpace(p.Name), CreatedAt: now, Config: cfg})
	if err != nil {
		return Organization{}, err
	}
	grant, err := o.roles.Initialize(p.Owner, now)
	if err != nil {
		return Organization{}, err
	}
	o.info.Owner = grant.Target
	o.lastSeen = now
	if err := s.requireEmptyCustody(ctx, o); err != nil {
		return Organization{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	s.mu.Lock()
	if _, ok := s.orgs[id]; ok {
		s.mu.Unlock()
		return Organization{}, errs.Wrapf(ErrOrgExists, "%s", id)
	}
	s.orgs[id] = o
	count := len(s.orgs)
	s.mu.Unlock()

	if err := s.save(ctx, o); err != nil {
		s.mu.Lock()
		delete(s.orgs, id)
		s.mu.Unlock()
		return Organization{}, err
	}
	obs.SetOrganizations(count)

	for _, evt := range []activity.Event{
		{Kind: activity.OrganizationCreated, Actor: grant.Actor},
		{Kind: activity.RoleGranted, Actor: grant.Actor, Target: grant.Target, Tier: grant.Tier.String()},
	} {
		evt.OrganizationID = id
		evt.OccurredAt = now
		s.notify(ctx, evt.Stamp())
	}
	return o.info, nil
}

// assemble wires the components of an organization described by info.
func (s *Service) assemble(info Organization) (*org, error) {
	cfg := info.Config
	reg, err := roles.NewRegistry(cfg.Roles)
	if err != nil {
		return nil, err
	}
	stakes, err := staking.NewLedger(info.ID, cfg.Staking, s.bank)
	if err != nil {
		return nil, err
	}
	engine, err := proposals.NewEngine(cfg.Proposals, cfg.Guard, reg, stakes)
	if err != nil {
		return nil, err
	}
	return &org{
		info:     info,
		roles:    reg,
		stakes:   stakes,
		props:    engine,
		treasury: treasury.New(info.ID, cfg.Treasury, s.bank, reg, stakes),
	}, nil
}

// requireEmptyCustody refuses an id whose custody accounts still hold native
// funds, which happens when an organization's records were lost.
func (s *Service) requireEmptyCustody(ctx context.Context, o *org) error {
	for _, account := range []string{o.stakes.Custody(), o.treasury.Custody()} {
		held, err := s.bank.Balance(ctx, account, ledger.NativeAsset)
		if err != nil {
			return err
		}
		if held > 0 {
			return errs.Wrapf(ErrCustodyInUse, "%s holds %d", account, held)
		}
	}
	return nil
}

func (s *Service) Organization(ctx context.Context, orgID string) (Organization, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) (Organization, error) {
		return o.info, nil
	})
}

// Organizations lists every organization sorted by id.
func (s *Service) Organizations(ctx context.Context) []Organization {
	s.mu.RLock()
	out := make([]Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o.info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
