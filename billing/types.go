/*
Package billing provides the card billing engine.

PURPOSE:
  This package contains the types and algorithms that turn credit-card
  purchases into monthly installments, roll installments up into invoices,
  and keep each card's consumed-credit accumulator consistent across
  create, edit, delete, cancel and pay operations.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal with two implied decimal places
  - Card: a credit card with closing/due days and a used-credit accumulator
  - Purchase: a single, installment or recurring charge on a card
  - Installment: one projected monthly charge belonging to a purchase
  - Category: a household-defined label for purchases

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64 arithmetic
  2. Type Safety: Strong typing for IDs prevents mixing card/purchase IDs
  3. Ownership: Every record belongs to exactly one group (household)
  4. Snapshots: Display fields copied from a parent are snapshots, not links

USAGE:
  purchase := billing.Purchase{
      TotalAmount:      billing.MustParseMoney("100.00"),
      InstallmentCount: 3,
      PaymentType:      billing.PaymentInstallment,
  }
  installments := billing.Project(purchase, card)

SEE ALSO:
  - projection.go: Installment projection (best-day rule, cent remainder)
  - credit.go: Used-credit reserve/release rules
  - manager.go: Atomic purchase operations
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount in the local currency unit
// =============================================================================

// Cent is the smallest representable money step.
var Cent = decimal.New(1, -2)

// EditTolerance is the largest total-amount change still treated as cosmetic.
var EditTolerance = Cent

// IsCents reports whether the amount has no fraction smaller than a cent.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type CardID string
type PurchaseID string
type InstallmentID string
type CategoryID string
type UserID string

// =============================================================================
// CARD
// =============================================================================

type Card struct {
	ID          CardID
	GroupID     GroupID
	Name        string
	Network     string // "Visa", "Mastercard", "Elo", "Amex"
	CreditLimit decimal.Decimal

	// UsedAmount is an accumulator. It only changes through AdjustCardUsed
	// writes staged by the CreditLedger; it is never recomputed.
	UsedAmount decimal.Decimal

	ClosingDay int // 1-31
	DueDay     int // 1-31
	Color      string

	CreatedBy     UserID
	CreatedByName string
}

// Available returns the unused credit. Negative when the card is over limit.
func (c Card) Available() decimal.Decimal {
	return c.CreditLimit.Sub(c.UsedAmount)
}

// =============================================================================
// PURCHASE
// =============================================================================

type PaymentType string

const (
	PaymentSingle      PaymentType = "single"
	PaymentInstallment PaymentType = "installment"
	PaymentRecurring   PaymentType = "recurring"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentSingle, PaymentInstallment, PaymentRecurring:
		return true
	}
	return false
}

type PurchaseStatus string

const (
	PurchaseActive    PurchaseStatus = "active"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// RecurringHorizon is how many monthly occurrences a recurring purchase
// projects up front.
const RecurringHorizon = 12

type Purchase struct {
	ID               PurchaseID
	GroupID          GroupID
	Description      string
	TotalAmount      decimal.Decimal
	PurchaseDate     Date
	InstallmentCount int
	Category         string
	PaymentType      PaymentType
	CardID           CardID

	// Snapshots of the card at creation (or last financial edit).
	CardName  string
	CardColor string

	PaidInstallmentCount int
	Status               PurchaseStatus
	CancellationDate     *Date

	CreatedBy     UserID
	CreatedByName string
}

// Cycles returns how many installments the purchase is divided into.
func (p Purchase) Cycles() int {
	switch p.PaymentType {
	case PaymentRecurring:
		return RecurringHorizon
	case PaymentSingle:
		return 1
	}
	if p.InstallmentCount < 1 {
		return 1
	}
	return p.InstallmentCount
}

func (p Purchase) IsRecurring() bool { return p.PaymentType == PaymentRecurring }
func (p Purchase) IsCancelled() bool { return p.Status == PurchaseCancelled }

// =============================================================================
// INSTALLMENT
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
)

type Installment struct {
	ID         InstallmentID
	GroupID    GroupID
	PurchaseID PurchaseID
	CardID     CardID
	Number     int
	Amount     decimal.Decimal
	Month      InvoiceMonth
	Status     InstallmentStatus
	DueDate    Date

	// Display snapshots of the parent purchase and card.
	PurchaseDescription string
	CardName            string
	Category            string
}

func (i Installment) IsPending() bool { return i.Status == InstallmentPending }

// =============================================================================
// CATEGORY
// =============================================================================

type Category struct {
	ID            CategoryID
	GroupID       GroupID
	Name          string
	Color         string
	CreatedBy     UserID
	CreatedByName string
}
