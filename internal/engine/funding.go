package engine

import (
	"math/big"

	"github.com/google/uuid"

	"PerpClear/internal/event"
	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/market"
	"PerpClear/internal/position"
)

// SettleFunding brings one position's funding checkpoint up to the market's
// current index, moving the payment through real collateral. Calling it twice
// with no elapsed time is a no-op.
func (ch *Clearinghouse) SettleFunding(account uuid.UUID, marketID string) (*event.FundingSettled, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	m, err := ch.markets.Get(marketID)
	if err != nil {
		return nil, err
	}
	ch.pokeFundingLocked(m)

	pos := ch.book.Get(account, marketID)
	if pos == nil || pos.IsFlat() {
		return nil, ErrNoPosition
	}
	return ch.settlePositionFunding(pos, m), nil
}

// settleAccountFunding settles every active position the account holds, so
// that margin figures used by the caller are current. It never fails:
// uncovered debits become bad debt.
func (ch *Clearinghouse) settleAccountFunding(account uuid.UUID) {
	for _, pos := range ch.book.ForAccount(account) {
		if pos.IsFlat() {
			continue
		}
		m, err := ch.markets.Get(pos.MarketID)
		if err != nil {
			continue
		}
		ch.settlePositionFunding(pos, m)
	}
}

// settlePositionFunding applies funding = -(index - lastIndex) * size. A
// credit flows into position margin; a debit drains margin first, then free
// collateral, then the insurance fund, and any remainder is bad debt. The
// settlement commits immediately and is excluded from trade rollbacks, which
// is why trades settle funding before taking their checkpoint.
func (ch *Clearinghouse) settlePositionFunding(pos *position.Position, m *market.Market) *event.FundingSettled {
	index := m.Pricing.FundingIndex()
	before := fixedpoint.Clone(pos.LastFundingIndexX18)
	payment := pendingFunding(pos, index)
	pos.LastFundingIndexX18 = fixedpoint.Clone(index)

	if payment.Sign() == 0 {
		return &event.FundingSettled{
			Account:       pos.Account,
			MarketID:      pos.MarketID,
			IndexBefore:   before,
			IndexAfter:    index,
			PositionX18:   fixedpoint.Clone(pos.SizeX18),
			PaymentX18:    new(big.Int),
			UncoveredX18:  new(big.Int),
			InsuranceUsed: new(big.Int),
		}
	}

	uncovered := new(big.Int)
	insuranceUsed := new(big.Int)

	if payment.Sign() > 0 {
		pos.MarginX18.Add(pos.MarginX18, payment)
		ch.vault.CreditReserved(pos.Account, m.QuoteToken, payment)
	} else {
		owed := fixedpoint.Abs(payment)

		fromMargin := fixedpoint.Min(owed, pos.MarginX18)
		taken := ch.vault.DebitReserved(pos.Account, m.QuoteToken, fromMargin)
		pos.MarginX18.Sub(pos.MarginX18, taken)
		owed.Sub(owed, taken)

		if owed.Sign() > 0 {
			owed.Sub(owed, ch.vault.DebitAvailable(pos.Account, m.QuoteToken, owed))
		}
		if owed.Sign() > 0 {
			insuranceUsed = ch.insurance.Payout(owed)
			owed.Sub(owed, insuranceUsed)
		}
		if owed.Sign() > 0 {
			uncovered = fixedpoint.Clone(owed)
			ch.recordBadDebt(pos.Account, pos.MarketID, "funding", uncovered)
		}
	}

	evt := &event.FundingSettled{
		Account:       pos.Account,
		MarketID:      pos.MarketID,
		IndexBefore:   before,
		IndexAfter:    index,
		PositionX18:   fixedpoint.Clone(pos.SizeX18),
		PaymentX18:    payment,
		UncoveredX18:  uncovered,
		InsuranceUsed: insuranceUsed,
	}
	ch.emit(pos.MarketID, evt)
	return evt
}

func (ch *Clearinghouse) recordBadDebt(account uuid.UUID, marketID, origin string, debtX18 *big.Int) {
	ch.logger.Warn().
		Stringer("account", account).
		Str("market", marketID).
		Str("origin", origin).
		Str("debt_x18", debtX18.String()).
		Msg("bad debt recorded")
	if ch.metrics != nil {
		ch.metrics.BadDebtTotal.WithLabelValues(marketID, origin).Add(x18ToFloat(debtX18))
	}
	ch.emit(marketID, &event.BadDebtRecorded{
		Account:  account,
		MarketID: marketID,
		Origin:   origin,
		DebtX18:  fixedpoint.Clone(debtX18),
	})
}

// x18ToFloat is for metrics only; precision loss is acceptable there.
func x18ToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18)).Float64()
	return f
}
