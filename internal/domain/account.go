package domain

import (
	"encoding/json"
	"time"
)

// AccountState enumerates provider account eligibility states.
type AccountState string

const (
	AccountStateActive      AccountState = "active"
	AccountStateLeased      AccountState = "leased"
	AccountStateCoolingDown AccountState = "cooling_down"
	AccountStateInvalid     AccountState = "invalid"
)

// Account is one provider-side session usable to submit jobs. Accounts are a
// scarce rotating resource: exactly one task may hold an account leased at a
// time, and an invalid account is never selected until its credentials are
// replaced externally.
type Account struct {
	ID                  string
	Label               string
	Credentials         json.RawMessage
	State               AccountState
	CooldownUntil       time.Time
	LastUsedAt          time.Time
	ConsecutiveFailures int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Clone returns a deep copy of the account record.
func (a *Account) Clone() *Account {
	cp := *a
	if a.Credentials != nil {
		cp.Credentials = append(json.RawMessage(nil), a.Credentials...)
	}
	return &cp
}

// Eligible reports whether the account may be leased at the given instant.
func (a *Account) Eligible(now time.Time) bool {
	switch a.State {
	case AccountStateActive:
		return true
	case AccountStateCoolingDown:
		return !a.CooldownUntil.After(now)
	}
	return false
}
