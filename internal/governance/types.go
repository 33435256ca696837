package governance

import (
	"time"

	"guildhall.org/internal/errs"
	"guildhall.org/internal/proposals"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/staking"
	"guildhall.org/internal/timeguard"
	"guildhall.org/internal/treasury"
)

// OrgConfig is the full set of per-organization limits.
type OrgConfig struct {
	Roles     roles.Config     `json:"roles"`
	Staking   staking.Config   `json:"staking"`
	Proposals proposals.Config `json:"proposals"`
	Treasury  treasury.Config  `json:"treasury"`
	Guard     timeguard.Guard  `json:"-"`
}

func DefaultOrgConfig() OrgConfig {
	return OrgConfig{
		Roles:     roles.DefaultConfig(),
		Staking:   staking.DefaultConfig(),
		Proposals: proposals.DefaultConfig(),
		Guard:     timeguard.Default(),
	}
}

func (c OrgConfig) Validate() error {
	if err := c.Roles.Validate(); err != nil {
		return err
	}
	if err := c.Staking.Validate(); err != nil {
		return err
	}
	if err := c.Proposals.Validate(); err != nil {
		return err
	}
	if c.Proposals.ProposalStake < c.Staking.MinStake {
		return errs.Wrapf(ErrInvalidConfig, "proposal stake %d below minimum stake %d", c.Proposals.ProposalStake, c.Staking.MinStake)
	}
	return nil
}

// Organization describes a registered DAO.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Config    OrgConfig `json:"config"`
}

// CreateOrgParams are the inputs of CreateOrganization. A nil Config uses the
// service defaults and a Config with a zero Guard inherits the default guard.
// An empty ID is generated.
type CreateOrgParams struct {
	ID     string
	Name   string
	Owner  string
	Config *OrgConfig
}

// TreasuryStatus is the treasury account plus today's remaining allowance.
type TreasuryStatus struct {
	treasury.Account
	RemainingToday uint64 `json:"remaining_today"`
	Limited        bool   `json:"limited"`
}

var (
	ErrInvalidOrgID  = errs.New(errs.Validation, "invalid_organization_id", "organization id must be 1-64 characters of [a-zA-Z0-9_-]")
	ErrInvalidConfig = errs.New(errs.Validation, "invalid_organization_config", "invalid organization configuration")
	ErrNotAdmin      = errs.New(errs.Authorization, "not_admin", "caller holds no administrator role")
	ErrOrgExists     = errs.New(errs.State, "organization_exists", "organization already exists")
	ErrOrgNotFound   = errs.New(errs.NotFound, "organization_not_found", "organization not found")
	ErrNestedCall    = errs.New(errs.Concurrency, "nested_call", "organization is already inside a transaction")
	ErrCustodyInUse  = errs.New(errs.State, "custody_not_empty", "custody accounts for this organization id already hold funds")
)
