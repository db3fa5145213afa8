/*
credit.go - Card used-credit accounting

PURPOSE:
  Owns the rule for how a card's UsedAmount moves. Every change is staged
  as a relative AdjustCardUsed write inside the same batch as the purchase
  or installment writes that justify it; nothing here reads a card and
  writes back a computed total.

RULES:
  Reserve:  purchase created        -> +TotalAmount (full exposure up front,
                                       whatever the installment count)
  Release:  installment paid        -> -installment amount
            financial edit          -> -original TotalAmount (full reset)
            recurring cancelled     -> -TotalAmount per removed occurrence
  ReleaseProportional:
            purchase deleted        -> -TotalAmount * (1 - paid/cycles)
                                       so amounts already freed by payments
                                       are not released twice

INVARIANT:
  For each card, UsedAmount == sum of pending installment amounts on it.
  Recurring purchases only approximate this: they reserve one flat amount
  but release one flat amount per paid occurrence. The asymmetry is kept
  as observed behaviour.

SEE ALSO:
  - store.go: AdjustCardUsed write
  - manager.go: Callers
*/
package billing

import "github.com/shopspring/decimal"

// CreditLedger stages used-credit deltas into batches.
type CreditLedger struct{}

// Reserve increases the card's used credit by amount.
func (CreditLedger) Reserve(b *Batch, groupID GroupID, cardID CardID, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	b.Add(AdjustCardUsed{GroupID: groupID, CardID: cardID, Delta: amount})
}

// Release decreases the card's used credit by amount.
func (CreditLedger) Release(b *Batch, groupID GroupID, cardID CardID, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	b.Add(AdjustCardUsed{GroupID: groupID, CardID: cardID, Delta: amount.Neg()})
}

// ReleaseProportional releases what the purchase still holds on its card and
// returns the released amount.
func (l CreditLedger) ReleaseProportional(b *Batch, p Purchase) decimal.Decimal {
	remaining := RemainingExposure(p)
	if remaining.IsPositive() {
		l.Release(b, p.GroupID, p.CardID, remaining)
	}
	return remaining
}

// RemainingExposure is TotalAmount * (1 - paid/cycles), never negative.
func RemainingExposure(p Purchase) decimal.Decimal {
	if p.PaidInstallmentCount <= 0 {
		return p.TotalAmount
	}
	cycles := decimal.NewFromInt(int64(p.Cycles()))
	paid := decimal.NewFromInt(int64(p.PaidInstallmentCount))

	alreadyPaid := p.TotalAmount.Mul(paid).Div(cycles)
	remaining := p.TotalAmount.Sub(alreadyPaid).Round(2)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}
