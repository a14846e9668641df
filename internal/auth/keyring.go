// Package auth gates privileged venue operations behind capability tokens.
// It is deliberately minimal: a token maps to a set of capabilities, checked
// before any admin mutation. It is not an authentication system for traders.
package auth

import "sync"

// Capability names one privileged operation class.
type Capability string

const (
	CapRiskWrite    Capability = "risk:write"
	CapMarketPause  Capability = "market:pause"
	CapReserveReset Capability = "reserves:reset"
)

// Keyring maps bearer tokens to capability sets.
type Keyring struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]bool
}

func NewKeyring() *Keyring {
	return &Keyring{grants: make(map[string]map[Capability]bool)}
}

// Grant attaches capabilities to a token.
func (k *Keyring) Grant(token string, caps ...Capability) {
	k.mu.Lock()
	defer k.mu.Unlock()
	set := k.grants[token]
	if set == nil {
		set = make(map[Capability]bool)
		k.grants[token] = set
	}
	for _, c := range caps {
		set[c] = true
	}
}

// Allowed reports whether the token carries the capability. A nil Keyring
// allows everything, for single-operator deployments and tests.
func (k *Keyring) Allowed(token string, c Capability) bool {
	if k == nil {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.grants[token][c]
}
