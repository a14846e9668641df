package collateral_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"PerpClear/internal/collateral"
	"PerpClear/internal/fixedpoint"
)

const usd = "USDC"

func newVault() *collateral.Vault {
	return collateral.NewVault([]collateral.TokenConfig{
		{Symbol: usd, BaseUnit: big.NewInt(1_000_000), Enabled: true},
		{Symbol: "OLD", BaseUnit: big.NewInt(1_000_000), Enabled: false},
	})
}

func TestDeposit_CreditsAvailable(t *testing.T) {
	v := newVault()
	acct := uuid.New()

	x18, err := v.Deposit(acct, usd, big.NewInt(250_000_000)) // 250 USDC
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if x18.Cmp(fixedpoint.FromInt(250)) != 0 {
		t.Errorf("credited: got %s, want 250e18", x18)
	}
	if v.Available(acct, usd).Cmp(fixedpoint.FromInt(250)) != 0 {
		t.Errorf("available: got %s", v.Available(acct, usd))
	}
}

func TestDeposit_UnknownAndDisabledTokens(t *testing.T) {
	v := newVault()
	acct := uuid.New()

	if _, err := v.Deposit(acct, "DOGE", big.NewInt(1)); !errors.Is(err, collateral.ErrUnknownToken) {
		t.Errorf("unknown token: got %v", err)
	}
	if _, err := v.Deposit(acct, "OLD", big.NewInt(1)); !errors.Is(err, collateral.ErrTokenDisabled) {
		t.Errorf("disabled token: got %v", err)
	}
}

func TestWithdraw_RoundsPayoutDown(t *testing.T) {
	v := newVault()
	acct := uuid.New()
	if _, err := v.Deposit(acct, usd, big.NewInt(10_000_000)); err != nil {
		t.Fatal(err)
	}

	// Withdraw 1 + 1e-18 USD: the sub-unit dust must not be paid out.
	amt := new(big.Int).Add(fixedpoint.FromInt(1), big.NewInt(1))
	units, err := v.Withdraw(acct, usd, amt)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if units.Int64() != 1_000_000 {
		t.Errorf("payout: got %d units, want 1_000_000", units.Int64())
	}
}

func TestWithdraw_InsufficientAvailable(t *testing.T) {
	v := newVault()
	acct := uuid.New()
	if _, err := v.Withdraw(acct, usd, fixedpoint.FromInt(1)); !errors.Is(err, collateral.ErrInsufficientAvailable) {
		t.Errorf("got %v", err)
	}
}

func TestReserveRelease_MovesBetweenBuckets(t *testing.T) {
	v := newVault()
	acct := uuid.New()
	if _, err := v.Deposit(acct, usd, big.NewInt(100_000_000)); err != nil {
		t.Fatal(err)
	}

	if err := v.Reserve(acct, usd, fixedpoint.FromInt(60)); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if v.Available(acct, usd).Cmp(fixedpoint.FromInt(40)) != 0 {
		t.Errorf("available after reserve: %s", v.Available(acct, usd))
	}
	if v.Reserved(acct, usd).Cmp(fixedpoint.FromInt(60)) != 0 {
		t.Errorf("reserved after reserve: %s", v.Reserved(acct, usd))
	}

	if err := v.Reserve(acct, usd, fixedpoint.FromInt(41)); !errors.Is(err, collateral.ErrInsufficientAvailable) {
		t.Errorf("over-reserve: got %v", err)
	}

	if err := v.Release(acct, usd, fixedpoint.FromInt(60)); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if v.BalanceOf(acct, usd).Cmp(fixedpoint.FromInt(100)) != 0 {
		t.Errorf("total after release: %s", v.BalanceOf(acct, usd))
	}

	if err := v.Release(acct, usd, fixedpoint.FromInt(1)); !errors.Is(err, collateral.ErrInsufficientReserved) {
		t.Errorf("over-release: got %v", err)
	}
}

func TestSettlePnL_DebitReportsUncovered(t *testing.T) {
	v := newVault()
	acct := uuid.New()
	if _, err := v.Deposit(acct, usd, big.NewInt(30_000_000)); err != nil {
		t.Fatal(err)
	}

	uncovered := v.SettlePnL(acct, usd, fixedpoint.Neg(fixedpoint.FromInt(50)))
	if uncovered.Cmp(fixedpoint.FromInt(20)) != 0 {
		t.Errorf("uncovered: got %s, want 20e18", uncovered)
	}
	if v.Available(acct, usd).Sign() != 0 {
		t.Errorf("available must be fully drained, got %s", v.Available(acct, usd))
	}
}

func TestSettlePnL_CreditInFull(t *testing.T) {
	v := newVault()
	acct := uuid.New()

	uncovered := v.SettlePnL(acct, usd, fixedpoint.FromInt(7))
	if uncovered.Sign() != 0 {
		t.Errorf("credit must never be uncovered: %s", uncovered)
	}
	if v.Available(acct, usd).Cmp(fixedpoint.FromInt(7)) != 0 {
		t.Errorf("available: %s", v.Available(acct, usd))
	}
}

func TestSeize_MovesUpToBalance(t *testing.T) {
	v := newVault()
	from, to := uuid.New(), uuid.New()
	if _, err := v.Deposit(from, usd, big.NewInt(10_000_000)); err != nil {
		t.Fatal(err)
	}

	moved := v.Seize(from, to, usd, fixedpoint.FromInt(25))
	if moved.Cmp(fixedpoint.FromInt(10)) != 0 {
		t.Errorf("seized: got %s, want 10e18", moved)
	}
	if v.Available(to, usd).Cmp(fixedpoint.FromInt(10)) != 0 {
		t.Errorf("recipient: %s", v.Available(to, usd))
	}
}

func TestSnapshotRestore_RevertsAccount(t *testing.T) {
	v := newVault()
	acct := uuid.New()
	other := uuid.New()
	if _, err := v.Deposit(acct, usd, big.NewInt(100_000_000)); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Deposit(other, usd, big.NewInt(5_000_000)); err != nil {
		t.Fatal(err)
	}

	snap := v.SnapshotAccount(acct)

	if err := v.Reserve(acct, usd, fixedpoint.FromInt(80)); err != nil {
		t.Fatal(err)
	}
	v.DebitAvailable(acct, usd, fixedpoint.FromInt(15))

	v.RestoreAccount(snap)

	if v.Available(acct, usd).Cmp(fixedpoint.FromInt(100)) != 0 {
		t.Errorf("available after restore: %s", v.Available(acct, usd))
	}
	if v.Reserved(acct, usd).Sign() != 0 {
		t.Errorf("reserved after restore: %s", v.Reserved(acct, usd))
	}
	// Unrelated accounts untouched.
	if v.Available(other, usd).Cmp(fixedpoint.FromInt(5)) != 0 {
		t.Errorf("other account disturbed: %s", v.Available(other, usd))
	}
}

func TestAccountCollateralValue_SkipsDisabledTokens(t *testing.T) {
	v := newVault()
	acct := uuid.New()
	if _, err := v.Deposit(acct, usd, big.NewInt(50_000_000)); err != nil {
		t.Fatal(err)
	}
	if err := v.Reserve(acct, usd, fixedpoint.FromInt(20)); err != nil {
		t.Fatal(err)
	}

	got := v.AccountCollateralValue(acct)
	if got.Cmp(fixedpoint.FromInt(50)) != 0 {
		t.Errorf("collateral value: got %s, want 50e18", got)
	}
}
