package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PURCHASE EDITS - Cosmetic vs financial classification
// =============================================================================

// EditKind tells the manager which update path an edit takes.
type EditKind string

const (
	// EditNone: nothing changed.
	EditNone EditKind = "none"

	// EditCosmetic: display fields only. Purchase and installment snapshots
	// are rewritten in place; amounts, status, due dates and used credit
	// are untouched.
	EditCosmetic EditKind = "cosmetic"

	// EditFinancial: amount, count, date, card or payment type changed. The
	// purchase is reset: full release, installments regenerated, payment
	// progress back to zero.
	EditFinancial EditKind = "financial"
)

// PurchaseChanges is a partial update. Nil fields are left unchanged.
type PurchaseChanges struct {
	Description      *string
	TotalAmount      *decimal.Decimal
	PurchaseDate     *Date
	InstallmentCount *int
	Category         *string
	PaymentType      *PaymentType
	CardID           *CardID
}

// Apply returns p with the changes merged in.
func (c PurchaseChanges) Apply(p Purchase) Purchase {
	if c.Description != nil {
		p.Description = strings.TrimSpace(*c.Description)
	}
	if c.TotalAmount != nil {
		p.TotalAmount = *c.TotalAmount
	}
	if c.PurchaseDate != nil {
		p.PurchaseDate = *c.PurchaseDate
	}
	if c.InstallmentCount != nil {
		p.InstallmentCount = *c.InstallmentCount
	}
	if c.Category != nil {
		p.Category = strings.TrimSpace(*c.Category)
	}
	if c.PaymentType != nil {
		p.PaymentType = *c.PaymentType
	}
	if c.CardID != nil {
		p.CardID = *c.CardID
	}
	return p
}

// ClassifyEdit compares the stored purchase with the merged one.
func ClassifyEdit(old, updated Purchase) EditKind {
	if old.TotalAmount.Sub(updated.TotalAmount).Abs().GreaterThan(EditTolerance) ||
		old.InstallmentCount != updated.InstallmentCount ||
		!old.PurchaseDate.Equal(updated.PurchaseDate) ||
		old.CardID != updated.CardID ||
		old.PaymentType != updated.PaymentType {
		return EditFinancial
	}
	if old.Description != updated.Description || old.Category != updated.Category {
		return EditCosmetic
	}
	return EditNone
}
