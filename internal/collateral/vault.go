// Package collateral implements the clearing engine's collateral ledger:
// per-account per-token available and reserved buckets, deposits and
// withdrawals with native-unit conversion, seizures, and realized-PnL
// settlement. All internal accounting is X18; conversions to native token
// units round up when collecting and down when paying out.
package collateral

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"PerpClear/internal/fixedpoint"
)

var (
	// ErrUnknownToken is returned for tokens without a configuration.
	ErrUnknownToken = errors.New("collateral: unknown token")

	// ErrTokenDisabled is returned when a token is configured but disabled.
	ErrTokenDisabled = errors.New("collateral: token disabled")

	// ErrInsufficientAvailable is returned when a debit or reservation
	// exceeds the free balance.
	ErrInsufficientAvailable = errors.New("collateral: insufficient available balance")

	// ErrInsufficientReserved is returned when a release exceeds the
	// reserved balance.
	ErrInsufficientReserved = errors.New("collateral: insufficient reserved balance")

	// ErrZeroAmount is returned for zero or negative amounts.
	ErrZeroAmount = errors.New("collateral: amount must be positive")
)

// TokenConfig describes a collateral token. BaseUnit is 10^decimals of the
// native representation.
type TokenConfig struct {
	Symbol   string
	BaseUnit *big.Int
	Enabled  bool
}

type accountToken struct {
	Account uuid.UUID
	Token   string
}

type buckets struct {
	available *big.Int
	reserved  *big.Int
}

// Vault is the in-memory collateral ledger. It is mutated only by the
// clearing engine's single writer.
type Vault struct {
	tokens   map[string]TokenConfig
	balances map[accountToken]*buckets
}

func NewVault(tokens []TokenConfig) *Vault {
	m := make(map[string]TokenConfig, len(tokens))
	for _, tc := range tokens {
		m[tc.Symbol] = tc
	}
	return &Vault{
		tokens:   m,
		balances: make(map[accountToken]*buckets),
	}
}

// TokenConfig returns the configuration for a token.
func (v *Vault) TokenConfig(token string) (TokenConfig, bool) {
	tc, ok := v.tokens[token]
	return tc, ok
}

func (v *Vault) bucket(account uuid.UUID, token string) *buckets {
	key := accountToken{Account: account, Token: token}
	b := v.balances[key]
	if b == nil {
		b = &buckets{available: new(big.Int), reserved: new(big.Int)}
		v.balances[key] = b
	}
	return b
}

// Available returns the free (unreserved) X18 balance.
func (v *Vault) Available(account uuid.UUID, token string) *big.Int {
	return fixedpoint.Clone(v.bucket(account, token).available)
}

// Reserved returns the margin-locked X18 balance.
func (v *Vault) Reserved(account uuid.UUID, token string) *big.Int {
	return fixedpoint.Clone(v.bucket(account, token).reserved)
}

// BalanceOf returns available + reserved in X18.
func (v *Vault) BalanceOf(account uuid.UUID, token string) *big.Int {
	b := v.bucket(account, token)
	return new(big.Int).Add(b.available, b.reserved)
}

// AccountCollateralValue returns the total quote-denominated collateral value
// of an account across enabled tokens. Tokens are USD-stable in this ledger,
// so the value is the X18 sum.
func (v *Vault) AccountCollateralValue(account uuid.UUID) *big.Int {
	total := new(big.Int)
	for key, b := range v.balances {
		if key.Account != account {
			continue
		}
		if tc, ok := v.tokens[key.Token]; !ok || !tc.Enabled {
			continue
		}
		total.Add(total, b.available)
		total.Add(total, b.reserved)
	}
	return total
}

// Deposit credits native token units to the account's available bucket and
// returns the credited X18 amount. The X18 credit rounds down so the vault
// never credits more than was received.
func (v *Vault) Deposit(account uuid.UUID, token string, units *big.Int) (*big.Int, error) {
	tc, ok := v.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if !tc.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrTokenDisabled, token)
	}
	if units == nil || units.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	x18 := fixedpoint.ScaleFromToken(units, tc.BaseUnit, fixedpoint.RoundDown)
	b := v.bucket(account, token)
	b.available.Add(b.available, x18)
	return x18, nil
}

// Withdraw debits an X18 amount from the available bucket and returns the
// native units actually paid out (rounded down). The engine performs the
// margin-backing checks before calling this.
func (v *Vault) Withdraw(account uuid.UUID, token string, x18 *big.Int) (*big.Int, error) {
	tc, ok := v.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if x18 == nil || x18.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	b := v.bucket(account, token)
	if b.available.Cmp(x18) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientAvailable, b.available, x18)
	}
	b.available.Sub(b.available, x18)
	return fixedpoint.ScaleToToken(x18, tc.BaseUnit, fixedpoint.RoundDown), nil
}

// Reserve moves an X18 amount from available to reserved (margin lock).
func (v *Vault) Reserve(account uuid.UUID, token string, x18 *big.Int) error {
	if x18 == nil || x18.Sign() < 0 {
		return ErrZeroAmount
	}
	if x18.Sign() == 0 {
		return nil
	}
	b := v.bucket(account, token)
	if b.available.Cmp(x18) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAvailable, b.available, x18)
	}
	b.available.Sub(b.available, x18)
	b.reserved.Add(b.reserved, x18)
	return nil
}

// Release moves an X18 amount from reserved back to available.
func (v *Vault) Release(account uuid.UUID, token string, x18 *big.Int) error {
	if x18 == nil || x18.Sign() < 0 {
		return ErrZeroAmount
	}
	if x18.Sign() == 0 {
		return nil
	}
	b := v.bucket(account, token)
	if b.reserved.Cmp(x18) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientReserved, b.reserved, x18)
	}
	b.reserved.Sub(b.reserved, x18)
	b.available.Add(b.available, x18)
	return nil
}

// DebitReserved removes value from the reserved bucket outright (funding
// debit, liquidation penalty). Returns the amount actually taken.
func (v *Vault) DebitReserved(account uuid.UUID, token string, x18 *big.Int) *big.Int {
	b := v.bucket(account, token)
	take := fixedpoint.Min(b.reserved, x18)
	b.reserved.Sub(b.reserved, take)
	return take
}

// DebitAvailable removes value from the available bucket outright, capped at
// the balance. Returns the amount actually taken.
func (v *Vault) DebitAvailable(account uuid.UUID, token string, x18 *big.Int) *big.Int {
	b := v.bucket(account, token)
	take := fixedpoint.Min(b.available, x18)
	b.available.Sub(b.available, take)
	return take
}

// CreditAvailable adds value to the available bucket.
func (v *Vault) CreditAvailable(account uuid.UUID, token string, x18 *big.Int) {
	if x18 == nil || x18.Sign() <= 0 {
		return
	}
	b := v.bucket(account, token)
	b.available.Add(b.available, x18)
}

// CreditReserved adds value to the reserved bucket (funding credit flowing
// into position margin).
func (v *Vault) CreditReserved(account uuid.UUID, token string, x18 *big.Int) {
	if x18 == nil || x18.Sign() <= 0 {
		return
	}
	b := v.bucket(account, token)
	b.reserved.Add(b.reserved, x18)
}

// Seize moves up to x18 of available balance from one account to another
// (liquidator compensation). Returns the amount moved.
func (v *Vault) Seize(from, to uuid.UUID, token string, x18 *big.Int) *big.Int {
	taken := v.DebitAvailable(from, token, x18)
	if taken.Sign() > 0 {
		v.CreditAvailable(to, token, taken)
	}
	return taken
}

// SettlePnL applies a signed realized-PnL amount to the available bucket.
// Credits apply in full. Debits drain the available bucket and return the
// uncovered remainder, which the engine escalates (reserved margin already
// drained, then bad debt). The vault itself never goes negative.
func (v *Vault) SettlePnL(account uuid.UUID, token string, signedX18 *big.Int) (uncovered *big.Int) {
	if signedX18 == nil || signedX18.Sign() == 0 {
		return new(big.Int)
	}
	if signedX18.Sign() > 0 {
		v.CreditAvailable(account, token, signedX18)
		return new(big.Int)
	}

	owed := fixedpoint.Abs(signedX18)
	taken := v.DebitAvailable(account, token, owed)
	return new(big.Int).Sub(owed, taken)
}

// BalanceRecord is one account/token bucket pair, for state snapshots.
type BalanceRecord struct {
	Account      uuid.UUID
	Token        string
	AvailableX18 *big.Int
	ReservedX18  *big.Int
}

// Dump returns every non-empty bucket in the vault.
func (v *Vault) Dump() []BalanceRecord {
	out := make([]BalanceRecord, 0, len(v.balances))
	for key, b := range v.balances {
		if b.available.Sign() == 0 && b.reserved.Sign() == 0 {
			continue
		}
		out = append(out, BalanceRecord{
			Account:      key.Account,
			Token:        key.Token,
			AvailableX18: fixedpoint.Clone(b.available),
			ReservedX18:  fixedpoint.Clone(b.reserved),
		})
	}
	return out
}

// SetBalance overwrites an account's buckets for a token. Restore path only.
func (v *Vault) SetBalance(account uuid.UUID, token string, availableX18, reservedX18 *big.Int) {
	b := v.bucket(account, token)
	b.available.Set(availableX18)
	b.reserved.Set(reservedX18)
}

// AccountSnapshot captures one account's buckets across tokens for the
// engine's transactional rollback.
type AccountSnapshot struct {
	account uuid.UUID
	state   map[string]buckets
}

// SnapshotAccount copies every bucket the account holds.
func (v *Vault) SnapshotAccount(account uuid.UUID) *AccountSnapshot {
	snap := &AccountSnapshot{account: account, state: make(map[string]buckets)}
	for key, b := range v.balances {
		if key.Account != account {
			continue
		}
		snap.state[key.Token] = buckets{
			available: fixedpoint.Clone(b.available),
			reserved:  fixedpoint.Clone(b.reserved),
		}
	}
	return snap
}

// RestoreAccount reverts an account's buckets to a snapshot. Tokens touched
// after the snapshot but absent from it are zeroed.
func (v *Vault) RestoreAccount(snap *AccountSnapshot) {
	for key, b := range v.balances {
		if key.Account != snap.account {
			continue
		}
		if saved, ok := snap.state[key.Token]; ok {
			b.available.Set(saved.available)
			b.reserved.Set(saved.reserved)
		} else {
			b.available.SetInt64(0)
			b.reserved.SetInt64(0)
		}
	}
}
