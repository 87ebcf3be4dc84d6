package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
	"genproxy/pkg/backoff"
)

// Outcome describes how a lease ended, driving account bookkeeping.
type Outcome int

const (
	// OutcomeSuccess returns the account to rotation and clears its failure
	// streak.
	OutcomeSuccess Outcome = iota
	// OutcomeTransient puts the account into cooldown with exponential
	// backoff.
	OutcomeTransient
	// OutcomeAuth marks the account invalid until its credentials are
	// replaced externally.
	OutcomeAuth
)

// PoolConfig tunes account cooldown behaviour.
type PoolConfig struct {
	CooldownBase time.Duration
	CooldownMax  time.Duration
}

// DefaultPoolConfig returns the stock cooldown policy: 30s doubling to a
// 30 minute ceiling.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		CooldownBase: 30 * time.Second,
		CooldownMax:  30 * time.Minute,
	}
}

// AccountPool holds provider accounts in a mutable in-memory table keyed by
// id, write-through persisted via the account repository. Lease and Release
// are the only mutation points and are serialized by the pool mutex, so no
// two callers can lease the same account.
type AccountPool struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	repo     domain.AccountRepository
	cfg      PoolConfig
	logger   infra.Logger
	now      func() time.Time
}

// NewAccountPool constructs an empty pool; call Sync to populate it from the
// credential source.
func NewAccountPool(repo domain.AccountRepository, cfg PoolConfig, logger infra.Logger) *AccountPool {
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = DefaultPoolConfig().CooldownBase
	}
	if cfg.CooldownMax <= 0 {
		cfg.CooldownMax = DefaultPoolConfig().CooldownMax
	}
	return &AccountPool{
		accounts: make(map[string]*domain.Account),
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Sync merges the repository's account list into the pool: new accounts are
// added, removed accounts dropped, and credential updates picked up. In-memory
// scheduling state (lease, cooldown, failure streak) wins over stored state
// for accounts the pool already tracks.
func (p *AccountPool) Sync(ctx context.Context) error {
	listed, err := p.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("sync accounts: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]struct{}, len(listed))
	for _, acct := range listed {
		seen[acct.ID] = struct{}{}
		existing, ok := p.accounts[acct.ID]
		if !ok {
			p.accounts[acct.ID] = acct.Clone()
			continue
		}
		existing.Label = acct.Label
		existing.Credentials = append([]byte(nil), acct.Credentials...)
		// Credential replacement is the external recovery path for invalid
		// accounts.
		if existing.State == domain.AccountStateInvalid && acct.State == domain.AccountStateActive {
			existing.State = domain.AccountStateActive
			existing.ConsecutiveFailures = 0
		}
	}
	for id, acct := range p.accounts {
		if _, ok := seen[id]; !ok && acct.State != domain.AccountStateLeased {
			delete(p.accounts, id)
		}
	}
	return nil
}

// Lease atomically selects the eligible account with the oldest last use and
// transitions it to leased. A nil account with nil error means no account is
// currently eligible; the caller defers the task to a later tick.
func (p *AccountPool) Lease(ctx context.Context) (*domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var chosen *domain.Account
	for _, acct := range p.accounts {
		if !acct.Eligible(now) {
			continue
		}
		if chosen == nil || acct.LastUsedAt.Before(chosen.LastUsedAt) {
			chosen = acct
		}
	}
	if chosen == nil {
		return nil, nil
	}

	chosen.State = domain.AccountStateLeased
	chosen.LastUsedAt = now
	chosen.UpdatedAt = now
	if err := p.repo.UpdateState(ctx, chosen); err != nil {
		return nil, fmt.Errorf("persist lease for account %s: %w", chosen.ID, err)
	}
	return chosen.Clone(), nil
}

// Release returns a leased account to the pool according to the outcome.
func (p *AccountPool) Release(ctx context.Context, accountID string, outcome Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[accountID]
	if !ok {
		return fmt.Errorf("release: unknown account %s", accountID)
	}
	now := p.now()
	acct.UpdatedAt = now

	switch outcome {
	case OutcomeSuccess:
		acct.State = domain.AccountStateActive
		acct.ConsecutiveFailures = 0
		acct.CooldownUntil = time.Time{}
	case OutcomeTransient:
		acct.ConsecutiveFailures++
		acct.State = domain.AccountStateCoolingDown
		acct.CooldownUntil = now.Add(backoff.Exponential(p.cfg.CooldownBase, p.cfg.CooldownMax, acct.ConsecutiveFailures))
		p.logger.Warn().
			Str("account_id", acct.ID).
			Int("consecutive_failures", acct.ConsecutiveFailures).
			Time("cooldown_until", acct.CooldownUntil).
			Msg("scheduler: account cooling down")
	case OutcomeAuth:
		acct.State = domain.AccountStateInvalid
		acct.CooldownUntil = time.Time{}
		p.logger.Error().
			Str("account_id", acct.ID).
			Msg("scheduler: account session invalid, removed from rotation")
	}

	if err := p.repo.UpdateState(ctx, acct); err != nil {
		return fmt.Errorf("persist release for account %s: %w", acct.ID, err)
	}
	return nil
}

// Restore re-marks an account leased without choosing it, used at startup for
// accounts still referenced by in-flight tasks.
func (p *AccountPool) Restore(ctx context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[accountID]
	if !ok {
		return fmt.Errorf("restore: unknown account %s", accountID)
	}
	acct.State = domain.AccountStateLeased
	acct.UpdatedAt = p.now()
	return p.repo.UpdateState(ctx, acct)
}

// Credentials returns the credential blob for an account, used for polls and
// cancellations on an existing lease.
func (p *AccountPool) Credentials(accountID string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.accounts[accountID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), acct.Credentials...), true
}

// Snapshot returns copies of all tracked accounts, oldest last use first.
func (p *AccountPool) Snapshot() []*domain.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*domain.Account, 0, len(p.accounts))
	for _, acct := range p.accounts {
		out = append(out, acct.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.Before(out[j].LastUsedAt) })
	return out
}
