// Package config loads process configuration from GUILDHALL_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"guildhall.org/internal/governance"
	"guildhall.org/internal/proposals"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/staking"
	"guildhall.org/internal/timeguard"
	"guildhall.org/internal/treasury"
)

type Config struct {
	HTTPAddr string `env:"GUILDHALL_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GUILDHALL_GRPC_ADDR" envDefault:":9090"`
	PGDSN    string `env:"GUILDHALL_PG_DSN"`
	LogLevel string `env:"GUILDHALL_LOG_LEVEL" envDefault:"info"`

	Auth       Auth
	RateLimit  RateLimit
	CORSOrigin string `env:"GUILDHALL_CORS_ORIGIN" envDefault:"*"`
	DevFaucet  bool   `env:"GUILDHALL_DEV_FAUCET"`

	Governance Governance
}

type Auth struct {
	Secret   string        `env:"GUILDHALL_AUTH_SECRET"`
	Issuer   string        `env:"GUILDHALL_AUTH_ISSUER" envDefault:"guildhall"`
	TokenTTL time.Duration `env:"GUILDHALL_AUTH_TOKEN_TTL" envDefault:"1h"`
}

// RateLimit is a per-client token bucket. A zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `env:"GUILDHALL_RATE_LIMIT_RPS" envDefault:"20"`
	Burst int     `env:"GUILDHALL_RATE_LIMIT_BURST" envDefault:"40"`
}

// Governance holds the defaults applied to organizations created without
// their own configuration.
type Governance struct {
	MinSuper             int           `env:"GUILDHALL_MIN_SUPER" envDefault:"1"`
	MaxSuper             int           `env:"GUILDHALL_MAX_SUPER" envDefault:"5"`
	MinTemporaryDuration time.Duration `env:"GUILDHALL_MIN_TEMPORARY_DURATION" envDefault:"5m"`

	MinStake      uint64        `env:"GUILDHALL_MIN_STAKE" envDefault:"1"`
	MinLockPeriod time.Duration `env:"GUILDHALL_MIN_LOCK_PERIOD" envDefault:"1h"`

	ProposalStake    uint64        `env:"GUILDHALL_PROPOSAL_STAKE" envDefault:"50"`
	ProposalFee      uint64        `env:"GUILDHALL_PROPOSAL_FEE" envDefault:"1"`
	ProposalCooldown time.Duration `env:"GUILDHALL_PROPOSAL_COOLDOWN" envDefault:"60s"`

	MinVotingPeriod time.Duration `env:"GUILDHALL_MIN_VOTING_PERIOD" envDefault:"1h"`
	MaxVotingPeriod time.Duration `env:"GUILDHALL_MAX_VOTING_PERIOD" envDefault:"720h"`
	MinLockWindow   time.Duration `env:"GUILDHALL_MIN_LOCK_WINDOW" envDefault:"1h"`
	MaxLockWindow   time.Duration `env:"GUILDHALL_MAX_LOCK_WINDOW" envDefault:"35040h"`
	MaxPast         time.Duration `env:"GUILDHALL_MAX_TIMESTAMP_PAST" envDefault:"5m"`
	MaxFuture       time.Duration `env:"GUILDHALL_MAX_TIMESTAMP_FUTURE" envDefault:"8760h"`
	ClockTolerance  time.Duration `env:"GUILDHALL_CLOCK_TOLERANCE" envDefault:"15s"`

	DailyLimit     uint64 `env:"GUILDHALL_DAILY_LIMIT"`
	PublicDeposits bool   `env:"GUILDHALL_PUBLIC_DEPOSITS"`
}

// Load parses the environment and validates the governance defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		return Config{}, fmt.Errorf("rate limit must not be negative")
	}
	if err := cfg.Governance.OrgConfig().Validate(); err != nil {
		return Config{}, fmt.Errorf("governance defaults: %w", err)
	}
	return cfg, nil
}

// OrgConfig maps the defaults onto the component configurations.
func (g Governance) OrgConfig() governance.OrgConfig {
	return governance.OrgConfig{
		Roles: roles.Config{
			MinSuper:             g.MinSuper,
			MaxSuper:             g.MaxSuper,
			MinTemporaryDuration: g.MinTemporaryDuration,
		},
		Staking: staking.Config{
			MinStake:      g.MinStake,
			MinLockPeriod: g.MinLockPeriod,
		},
		Proposals: proposals.Config{
			ProposalStake: g.ProposalStake,
			ProposalFee:   g.ProposalFee,
			Cooldown:      g.ProposalCooldown,
		},
		Treasury: treasury.Config{
			DailyLimit:     g.DailyLimit,
			PublicDeposits: g.PublicDeposits,
		},
		Guard: timeguard.Guard{
			Voting:    timeguard.Bounds{Min: g.MinVotingPeriod, Max: g.MaxVotingPeriod},
			Lock:      timeguard.Bounds{Min: g.MinLockWindow, Max: g.MaxLockWindow},
			MaxPast:   g.MaxPast,
			MaxFuture: g.MaxFuture,
			Tolerance: g.ClockTolerance,
		},
	}
}
