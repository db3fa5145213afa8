/*
store.go - Document store interface and atomic write batches

PURPOSE:
  Defines the interface between the billing logic and persistence. The
  store keeps one document per card, purchase, installment, category,
  group and member, and applies writes only through atomic batches.

KEY INTERFACES:
  Reader:  One-shot reads and filtered installment queries
  Watcher: Live subscriptions (initial snapshot + push per commit)
  Store:   Reader + Watcher + Commit

ATOMIC BATCHES:
  Commit() applies every staged write or none of them. Adding a purchase
  writes the purchase, all of its installments and the card's used-credit
  delta in one batch, so no reader ever sees a purchase without its
  installments or installments without the credit reservation.

RELATIVE UPDATES:
  AdjustCardUsed and IncrementPaidCount carry deltas, not absolute values.
  Two members paying invoices at the same time cannot overwrite each
  other's release.

MISSING DOCUMENTS:
  Update-type writes (UpdateCardDetails, AdjustCardUsed, UpdatePurchaseDetails,
  CancelPurchase, IncrementPaidCount, MarkInstallmentPaid,
  RefreshInstallmentDisplay) against a missing document fail the whole
  batch with ErrNotFound. Deletes of missing documents are no-ops.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - watch.go: Subscription hub used by both implementations
  - manager.go: Builds the batches
*/
package billing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

// Reader provides one-shot reads. All lookups are scoped to a group except
// the repair lookups, which search across groups.
type Reader interface {
	GetCard(ctx context.Context, groupID GroupID, id CardID) (Card, error)
	ListCards(ctx context.Context, groupID GroupID) ([]Card, error)

	GetPurchase(ctx context.Context, groupID GroupID, id PurchaseID) (Purchase, error)
	// ListPurchases returns purchases ordered by purchase date, newest first.
	ListPurchases(ctx context.Context, groupID GroupID) ([]Purchase, error)

	GetInstallment(ctx context.Context, groupID GroupID, id InstallmentID) (Installment, error)
	QueryInstallments(ctx context.Context, groupID GroupID, q InstallmentQuery) ([]Installment, error)

	ListCategories(ctx context.Context, groupID GroupID) ([]Category, error)

	GetGroup(ctx context.Context, id GroupID) (Group, error)
	GetMember(ctx context.Context, groupID GroupID, userID UserID) (Member, error)
	ListMembers(ctx context.Context, groupID GroupID) ([]Member, error)
	// FindMembership returns the membership of a user, or ErrNotFound.
	FindMembership(ctx context.Context, userID UserID) (Member, error)

	// UnattributedInstallments returns installments missing their group or card.
	UnattributedInstallments(ctx context.Context) ([]Installment, error)
	// LookupPurchase finds a purchase by ID regardless of group.
	LookupPurchase(ctx context.Context, id PurchaseID) (Purchase, error)
}

// Watcher provides live subscriptions. fn receives the initial snapshot
// before Watch returns and then one snapshot per committed batch that
// touched the group.
type Watcher interface {
	WatchCards(ctx context.Context, groupID GroupID, fn func([]Card, error)) (Subscription, error)
	WatchPurchases(ctx context.Context, groupID GroupID, fn func([]Purchase, error)) (Subscription, error)
	WatchInstallments(ctx context.Context, groupID GroupID, q InstallmentQuery, fn func([]Installment, error)) (Subscription, error)
}

type Store interface {
	Reader
	Watcher

	// Commit applies the batch atomically.
	Commit(ctx context.Context, b *Batch) error
}

// =============================================================================
// INSTALLMENT QUERY - Composable predicates
// =============================================================================

type InstallmentOrder string

const (
	OrderByNumber  InstallmentOrder = "number"
	OrderByDueDate InstallmentOrder = "due_date"
)

// InstallmentQuery filters installments. Zero-valued fields are ignored.
// From/To are inclusive invoice-month bounds. Results are ordered by
// SortInstallments and truncated to Limit when it is positive.
type InstallmentQuery struct {
	PurchaseID PurchaseID
	CardID     CardID
	Month      *InvoiceMonth
	From       *InvoiceMonth
	To         *InvoiceMonth
	Status     InstallmentStatus
	OrderBy    InstallmentOrder
	Limit      int
}

// ForMonth returns a query for one invoice month.
func ForMonth(m InvoiceMonth) InstallmentQuery { return InstallmentQuery{Month: &m} }

// ForPurchase returns a query for every installment of a purchase.
func ForPurchase(id PurchaseID) InstallmentQuery {
	return InstallmentQuery{PurchaseID: id, OrderBy: OrderByNumber}
}

// Matches reports whether an installment satisfies every predicate.
// Stores without native query support filter with it.
func (q InstallmentQuery) Matches(i Installment) bool {
	if q.PurchaseID != "" && i.PurchaseID != q.PurchaseID {
		return false
	}
	if q.CardID != "" && i.CardID != q.CardID {
		return false
	}
	if q.Month != nil && i.Month != *q.Month {
		return false
	}
	if q.From != nil && i.Month.Before(*q.From) {
		return false
	}
	if q.To != nil && i.Month.After(*q.To) {
		return false
	}
	if q.Status != "" && i.Status != q.Status {
		return false
	}
	return true
}

// SortInstallments orders installments the way every store returns them:
// by purchase and number for OrderByNumber, otherwise by due date first.
func SortInstallments(installments []Installment, order InstallmentOrder) {
	sort.SliceStable(installments, func(i, j int) bool {
		a, b := installments[i], installments[j]
		if order != OrderByNumber && !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.PurchaseID != b.PurchaseID {
			return a.PurchaseID < b.PurchaseID
		}
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// GROUP / MEMBER - Household documents
// =============================================================================

type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

type Group struct {
	ID        GroupID
	Name      string
	OwnerID   UserID
	CreatedAt time.Time
}

type Member struct {
	UserID      UserID
	GroupID     GroupID
	Email       string
	DisplayName string
	Role        Role
	Permissions PermissionSet
	JoinedAt    time.Time
}

// Actor builds the session actor for this membership.
func (m Member) Actor() Actor {
	return Actor{
		UserID:      m.UserID,
		GroupID:     m.GroupID,
		DisplayName: m.DisplayName,
		Email:       m.Email,
		Permissions: m.Permissions,
	}
}

// =============================================================================
// BATCH - Atomic multi-document write
// =============================================================================

// Write is one staged document mutation. The set of writes is closed.
type Write interface {
	// Scope returns the group whose subscribers must be notified.
	Scope() GroupID
	write()
}

type PutCard struct{ Card Card }

// UpdateCardDetails rewrites a card's settings. UsedAmount is not touched.
type UpdateCardDetails struct {
	GroupID     GroupID
	ID          CardID
	Name        string
	Network     string
	CreditLimit decimal.Decimal
	ClosingDay  int
	DueDay      int
	Color       string
}

type DeleteCard struct {
	GroupID GroupID
	ID      CardID
}

// AdjustCardUsed adds Delta to the card's UsedAmount.
type AdjustCardUsed struct {
	GroupID GroupID
	CardID  CardID
	Delta   decimal.Decimal
}

type PutPurchase struct{ Purchase Purchase }

type DeletePurchase struct {
	GroupID GroupID
	ID      PurchaseID
}

// UpdatePurchaseDetails rewrites the display fields of a purchase.
type UpdatePurchaseDetails struct {
	GroupID     GroupID
	ID          PurchaseID
	Description string
	Category    string
}

// CancelPurchase marks a purchase cancelled as of On.
type CancelPurchase struct {
	GroupID GroupID
	ID      PurchaseID
	On      Date
}

// IncrementPaidCount adds By to the purchase's PaidInstallmentCount.
type IncrementPaidCount struct {
	GroupID    GroupID
	PurchaseID PurchaseID
	By         int
}

type PutInstallment struct{ Installment Installment }

type DeleteInstallment struct {
	GroupID GroupID
	ID      InstallmentID
}

type MarkInstallmentPaid struct {
	GroupID GroupID
	ID      InstallmentID
}

// RefreshInstallmentDisplay rewrites the display snapshots of an installment.
type RefreshInstallmentDisplay struct {
	GroupID             GroupID
	ID                  InstallmentID
	PurchaseDescription string
	CardName            string
	Category            string
}

type PutCategory struct{ Category Category }

type DeleteCategory struct {
	GroupID GroupID
	ID      CategoryID
}

type PutGroup struct{ Group Group }

type PutMember struct{ Member Member }

type DeleteMember struct {
	GroupID GroupID
	UserID  UserID
}

func (w PutCard) Scope() GroupID                   { return w.Card.GroupID }
func (w UpdateCardDetails) Scope() GroupID         { return w.GroupID }
func (w DeleteCard) Scope() GroupID                { return w.GroupID }
func (w AdjustCardUsed) Scope() GroupID            { return w.GroupID }
func (w PutPurchase) Scope() GroupID               { return w.Purchase.GroupID }
func (w DeletePurchase) Scope() GroupID            { return w.GroupID }
func (w UpdatePurchaseDetails) Scope() GroupID     { return w.GroupID }
func (w CancelPurchase) Scope() GroupID            { return w.GroupID }
func (w IncrementPaidCount) Scope() GroupID        { return w.GroupID }
func (w PutInstallment) Scope() GroupID            { return w.Installment.GroupID }
func (w DeleteInstallment) Scope() GroupID         { return w.GroupID }
func (w MarkInstallmentPaid) Scope() GroupID       { return w.GroupID }
func (w RefreshInstallmentDisplay) Scope() GroupID { return w.GroupID }
func (w PutCategory) Scope() GroupID               { return w.Category.GroupID }
func (w DeleteCategory) Scope() GroupID            { return w.GroupID }
func (w PutGroup) Scope() GroupID                  { return w.Group.ID }
func (w PutMember) Scope() GroupID                 { return w.Member.GroupID }
func (w DeleteMember) Scope() GroupID              { return w.GroupID }

func (PutCard) write()                   {}
func (UpdateCardDetails) write()         {}
func (DeleteCard) write()                {}
func (AdjustCardUsed) write()            {}
func (PutPurchase) write()               {}
func (DeletePurchase) write()            {}
func (UpdatePurchaseDetails) write()     {}
func (CancelPurchase) write()            {}
func (IncrementPaidCount) write()        {}
func (PutInstallment) write()            {}
func (DeleteInstallment) write()         {}
func (MarkInstallmentPaid) write()       {}
func (RefreshInstallmentDisplay) write() {}
func (PutCategory) write()               {}
func (DeleteCategory) write()            {}
func (PutGroup) write()                  {}
func (PutMember) write()                 {}
func (DeleteMember) write()              {}

// Batch collects writes for one atomic commit.
type Batch struct {
	writes []Write
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Add(w ...Write) *Batch {
	b.writes = append(b.writes, w...)
	return b
}

func (b *Batch) Writes() []Write { return b.writes }
func (b *Batch) Len() int        { return len(b.writes) }
func (b *Batch) Empty() bool     { return len(b.writes) == 0 }

// Groups returns the distinct groups touched by the batch, in first-seen order.
func (b *Batch) Groups() []GroupID {
	seen := make(map[GroupID]bool)
	var out []GroupID
	for _, w := range b.writes {
		g := w.Scope()
		if g != "" && !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}
