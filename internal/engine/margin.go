package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"PerpClear/internal/event"
	"PerpClear/internal/fixedpoint"
)

// Deposit credits collateral in native token units. requestID deduplicates
// retried transfer confirmations.
func (ch *Clearinghouse) Deposit(account uuid.UUID, token string, units *big.Int, requestID string) (*event.Deposited, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.idempotency.seen(requestID) {
		return nil, ErrDuplicateRequest
	}
	x18, err := ch.vault.Deposit(account, token, units)
	if err != nil {
		return nil, err
	}
	ch.idempotency.record(requestID)

	evt := &event.Deposited{
		Account:   account,
		Token:     token,
		Units:     fixedpoint.Clone(units),
		AmountX18: x18,
	}
	ch.emit("", evt)
	return evt, nil
}

// Withdraw releases free collateral after settling funding and proving the
// remaining collateral still backs every reserved margin and that no active
// position turns liquidatable. Returns the native units paid out.
func (ch *Clearinghouse) Withdraw(account uuid.UUID, token string, amountX18 *big.Int, requestID string) (*event.Withdrawn, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.idempotency.seen(requestID) {
		return nil, ErrDuplicateRequest
	}

	ch.settleAccountFunding(account)

	// Remaining collateral must cover total reserved margin.
	remaining := new(big.Int).Sub(ch.vault.AccountCollateralValue(account), amountX18)
	if remaining.Cmp(ch.totalReservedMargin(account)) < 0 {
		return nil, fmt.Errorf("%w: reserved margin unbacked", ErrWithdrawBlocked)
	}

	// No active position may become liquidatable. Withdrawal only touches the
	// available bucket, so margins are unchanged and the check is the current
	// maintenance check per position.
	for _, pos := range ch.book.ForAccount(account) {
		if pos.IsFlat() {
			continue
		}
		m, err := ch.markets.Get(pos.MarketID)
		if err != nil {
			continue
		}
		params, ok := ch.risk.Get(pos.MarketID)
		if !ok {
			continue
		}
		liq, err := ch.isLiquidatableLocked(pos, m, params)
		if err != nil {
			return nil, err
		}
		if liq {
			return nil, fmt.Errorf("%w: position in %s is liquidatable", ErrWithdrawBlocked, pos.MarketID)
		}
	}

	units, err := ch.vault.Withdraw(account, token, amountX18)
	if err != nil {
		return nil, err
	}
	ch.idempotency.record(requestID)

	evt := &event.Withdrawn{
		Account:   account,
		Token:     token,
		Units:     units,
		AmountX18: fixedpoint.Clone(amountX18),
	}
	ch.emit("", evt)
	return evt, nil
}

// AddMargin moves free collateral into a position's margin.
func (ch *Clearinghouse) AddMargin(account uuid.UUID, marketID string, amountX18 *big.Int) (*event.MarginAdded, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if amountX18 == nil || amountX18.Sign() <= 0 {
		return nil, ErrZeroSize
	}
	m, err := ch.markets.Get(marketID)
	if err != nil {
		return nil, err
	}
	ch.pokeFundingLocked(m)
	ch.settleAccountFunding(account)

	pos := ch.book.Get(account, marketID)
	if pos == nil || pos.IsFlat() {
		return nil, ErrNoPosition
	}
	if err := ch.vault.Reserve(account, m.QuoteToken, amountX18); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientCollateral, amountX18)
	}
	pos.MarginX18.Add(pos.MarginX18, amountX18)
	pos.Version++

	evt := &event.MarginAdded{
		Account:   account,
		MarketID:  marketID,
		AmountX18: fixedpoint.Clone(amountX18),
		MarginX18: fixedpoint.Clone(pos.MarginX18),
	}
	ch.emit(marketID, evt)
	return evt, nil
}

// RemoveMargin releases position margin back to free collateral. The
// remaining margin must still satisfy the initial requirement at the risk
// price, the stricter bound, so a removal can never leave the position at
// the edge of liquidation.
func (ch *Clearinghouse) RemoveMargin(account uuid.UUID, marketID string, amountX18 *big.Int) (*event.MarginRemoved, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if amountX18 == nil || amountX18.Sign() <= 0 {
		return nil, ErrZeroSize
	}
	m, err := ch.markets.Get(marketID)
	if err != nil {
		return nil, err
	}
	params, ok := ch.risk.Get(marketID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRiskParams, marketID)
	}
	ch.pokeFundingLocked(m)
	ch.settleAccountFunding(account)

	pos := ch.book.Get(account, marketID)
	if pos == nil || pos.IsFlat() {
		return nil, ErrNoPosition
	}
	if pos.MarginX18.Cmp(amountX18) < 0 {
		return nil, fmt.Errorf("%w: margin %s, requested %s", ErrMarginRemovalBlocked, pos.MarginX18, amountX18)
	}

	price, err := ch.riskPrice(m)
	if err != nil {
		return nil, err
	}
	afterMargin := new(big.Int).Sub(pos.MarginX18, amountX18)
	eff := new(big.Int).Add(afterMargin, pos.UnrealizedAt(price))
	if eff.Cmp(requiredAt(pos, price, params.IMRBps)) < 0 {
		return nil, ErrMarginRemovalBlocked
	}

	if err := ch.vault.Release(account, m.QuoteToken, amountX18); err != nil {
		return nil, fmt.Errorf("engine: margin release: %w", err)
	}
	pos.MarginX18.Set(afterMargin)
	pos.Version++

	evt := &event.MarginRemoved{
		Account:   account,
		MarketID:  marketID,
		AmountX18: fixedpoint.Clone(amountX18),
		MarginX18: fixedpoint.Clone(pos.MarginX18),
	}
	ch.emit(marketID, evt)
	return evt, nil
}

// totalReservedMargin sums the account's position margins.
func (ch *Clearinghouse) totalReservedMargin(account uuid.UUID) *big.Int {
	total := new(big.Int)
	for _, pos := range ch.book.ForAccount(account) {
		total.Add(total, pos.MarginX18)
	}
	return total
}
