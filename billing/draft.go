package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PURCHASE DRAFT - Input to AddPurchase
// =============================================================================

const (
	MinDescriptionLength = 3
	MinInstallments      = 2
	MaxInstallments      = 24
)

// PurchaseDraft is a purchase as entered by a member, before IDs, snapshots
// and projection.
type PurchaseDraft struct {
	Description      string
	TotalAmount      decimal.Decimal
	PurchaseDate     Date
	InstallmentCount int
	Category         string
	PaymentType      PaymentType
	CardID           CardID
}

// Normalize trims text fields and fixes the installment count for payment
// types that do not use it.
func (d PurchaseDraft) Normalize() PurchaseDraft {
	d.Description = strings.TrimSpace(d.Description)
	d.Category = strings.TrimSpace(d.Category)
	if d.PaymentType == "" {
		d.PaymentType = PaymentSingle
	}
	if d.PaymentType != PaymentInstallment {
		d.InstallmentCount = 1
	}
	return d
}

// Validate checks a normalized draft. The first failing field is reported.
func (d PurchaseDraft) Validate() error {
	if len([]rune(d.Description)) < MinDescriptionLength {
		return invalid("description", "must have at least 3 characters")
	}
	if d.TotalAmount.LessThan(Cent) {
		return invalid("total_amount", "must be at least 0.01")
	}
	if !IsCents(d.TotalAmount) {
		return invalid("total_amount", "must not have more than 2 decimal places")
	}
	if d.PurchaseDate.IsZero() {
		return invalid("purchase_date", "is required")
	}
	if d.CardID == "" {
		return invalid("card_id", "is required")
	}
	if d.Category == "" {
		return invalid("category", "is required")
	}
	if !d.PaymentType.Valid() {
		return invalid("payment_type", "must be single, installment or recurring")
	}
	if d.PaymentType == PaymentInstallment &&
		(d.InstallmentCount < MinInstallments || d.InstallmentCount > MaxInstallments) {
		return invalid("installment_count", "must be between 2 and 24")
	}
	return nil
}

// validateMerged checks a purchase after an edit. The category rule is not
// re-applied so purchases created without one can still be edited.
func validateMerged(p Purchase) error {
	draft := PurchaseDraft{
		Description:      p.Description,
		TotalAmount:      p.TotalAmount,
		PurchaseDate:     p.PurchaseDate,
		InstallmentCount: p.InstallmentCount,
		Category:         p.Category,
		PaymentType:      p.PaymentType,
		CardID:           p.CardID,
	}
	if draft.Category == "" {
		draft.Category = "-"
	}
	return draft.Validate()
}
