/*
manager.go - Atomic purchase, payment and card operations

PURPOSE:
  The Manager is the only component that mutates billing documents. Each
  operation checks the actor's permission, reads what it needs, stages
  every write into one Batch and commits it. A failed commit leaves no
  partial effects, so there is never anything to compensate.

OPERATIONS:
  Purchases (managePurchases):
    AddPurchase      purchase + projected installments + reserve total
    UpdatePurchase   cosmetic: rewrite display fields everywhere
                     financial: release, regenerate, reserve again
    DeletePurchase   purchase + installments + proportional release
    CancelRecurring  drop future pending occurrences, release each one
    Preview          project a draft without writing

  Payments (payInvoices):
    PayInvoiceMonth  every pending installment of an invoice month
    PayInstallment   one installment

  Cards (manageCards), categories (manageCategories)

  Maintenance:
    RepairOwnership  re-attribute installments missing group or card

CONSISTENCY:
  Reads happen before the batch is built, so an operation racing another
  member may act on slightly stale data (for example the proportional
  refund on delete). Card usage is always moved with relative deltas.

SEE ALSO:
  - projection.go: Project
  - credit.go: Reserve/Release rules
  - edit.go: ClassifyEdit
*/
package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Manager runs billing mutations against a Store.
type Manager struct {
	store  Store
	credit CreditLedger
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

type ManagerOption func(*Manager)

// WithClock overrides the clock used for "today" (cancellation dates and
// the current invoice month).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides document ID generation.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Today returns the current calendar date.
func (m *Manager) Today() Date { return DateOf(m.now()) }

func (m *Manager) commit(ctx context.Context, op string, b *Batch) error {
	if err := m.store.Commit(ctx, b); err != nil {
		m.logger.ErrorContext(ctx, "billing commit failed", "op", op, "writes", b.Len(), "error", err)
		return &CommitError{Op: op, Err: err}
	}
	return nil
}

// cardExists reports whether the card is still present. Deleted cards are
// skipped by release paths rather than failing the operation.
func (m *Manager) cardExists(ctx context.Context, groupID GroupID, id CardID) (bool, error) {
	if id == "" {
		return false, nil
	}
	_, err := m.store.GetCard(ctx, groupID, id)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// =============================================================================
// PURCHASES
// =============================================================================

// AddPurchase creates a purchase, its installments and the credit
// reservation in one commit.
func (m *Manager) AddPurchase(ctx context.Context, actor Actor, draft PurchaseDraft) (Purchase, error) {
	if err := actor.Require(PermManagePurchases); err != nil {
		return Purchase{}, err
	}
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return Purchase{}, err
	}

	card, err := m.store.GetCard(ctx, actor.GroupID, draft.CardID)
	if err != nil {
		return Purchase{}, err
	}

	p := Purchase{
		ID:               PurchaseID(m.newID()),
		GroupID:          actor.GroupID,
		Description:      draft.Description,
		TotalAmount:      draft.TotalAmount,
		PurchaseDate:     draft.PurchaseDate,
		InstallmentCount: draft.InstallmentCount,
		Category:         draft.Category,
		PaymentType:      draft.PaymentType,
		CardID:           card.ID,
		CardName:         card.Name,
		CardColor:        card.Color,
		Status:           PurchaseActive,
		CreatedBy:        actor.UserID,
		CreatedByName:    actor.Name(),
	}

	b := NewBatch().Add(PutPurchase{Purchase: p})
	installments := m.stageProjection(b, p, card)
	m.credit.Reserve(b, p.GroupID, card.ID, p.TotalAmount)

	if err := m.commit(ctx, "add purchase", b); err != nil {
		return Purchase{}, err
	}
	m.logger.InfoContext(ctx, "purchase added",
		"group_id", p.GroupID, "purchase_id", p.ID, "card_id", card.ID,
		"total", p.TotalAmount.StringFixed(2), "installments", installments)
	return p, nil
}

func (m *Manager) stageProjection(b *Batch, p Purchase, card Card) int {
	installments := Project(p, card)
	for _, inst := range installments {
		inst.ID = InstallmentID(m.newID())
		b.Add(PutInstallment{Installment: inst})
	}
	return len(installments)
}

// Preview projects a draft against its card without writing anything. The
// category is not required.
func (m *Manager) Preview(ctx context.Context, actor Actor, draft PurchaseDraft) ([]Installment, error) {
	if err := actor.Require(PermManagePurchases); err != nil {
		return nil, err
	}
	draft = draft.Normalize()
	p := Purchase{
		GroupID:          actor.GroupID,
		Description:      draft.Description,
		TotalAmount:      draft.TotalAmount,
		PurchaseDate:     draft.PurchaseDate,
		InstallmentCount: draft.InstallmentCount,
		Category:         draft.Category,
		PaymentType:      draft.PaymentType,
		CardID:           draft.CardID,
		Status:           PurchaseActive,
	}
	if err := validateMerged(p); err != nil {
		return nil, err
	}
	card, err := m.store.GetCard(ctx, actor.GroupID, draft.CardID)
	if err != nil {
		return nil, err
	}
	p.CardName = card.Name
	return Project(p, card), nil
}

// UpdatePurchase merges changes into a purchase and applies the cosmetic or
// financial path. EditNone commits nothing.
func (m *Manager) UpdatePurchase(ctx context.Context, actor Actor, id PurchaseID, changes PurchaseChanges) (Purchase, EditKind, error) {
	if err := actor.Require(PermManagePurchases); err != nil {
		return Purchase{}, EditNone, err
	}
	old, err := m.store.GetPurchase(ctx, actor.GroupID, id)
	if err != nil {
		return Purchase{}, EditNone, err
	}

	updated := changes.Apply(old)
	if updated.PaymentType != PaymentInstallment {
		updated.InstallmentCount = 1
	}

	kind := ClassifyEdit(old, updated)
	switch kind {
	case EditNone:
		return old, EditNone, nil
	case EditFinancial:
		if old.IsCancelled() {
			return Purchase{}, kind, invalid("status", "cancelled purchases only accept description and category changes")
		}
	}
	if err := validateMerged(updated); err != nil {
		return Purchase{}, kind, err
	}

	installments, err := m.store.QueryInstallments(ctx, actor.GroupID, ForPurchase(id))
	if err != nil {
		return Purchase{}, kind, err
	}

	if kind == EditCosmetic {
		updated, err = m.applyCosmetic(ctx, old, updated, installments)
	} else {
		updated, err = m.applyFinancial(ctx, old, updated, installments)
	}
	if err != nil {
		return Purchase{}, kind, err
	}
	return updated, kind, nil
}

func (m *Manager) applyCosmetic(ctx context.Context, old, updated Purchase, installments []Installment) (Purchase, error) {
	b := NewBatch().Add(UpdatePurchaseDetails{
		GroupID:     old.GroupID,
		ID:          old.ID,
		Description: updated.Description,
		Category:    updated.Category,
	})
	for _, inst := range installments {
		b.Add(RefreshInstallmentDisplay{
			GroupID:             inst.GroupID,
			ID:                  inst.ID,
			PurchaseDescription: updated.Description,
			CardName:            updated.CardName,
			Category:            updated.Category,
		})
	}
	if err := m.commit(ctx, "update purchase", b); err != nil {
		return Purchase{}, err
	}
	m.logger.InfoContext(ctx, "purchase updated",
		"group_id", old.GroupID, "purchase_id", old.ID, "kind", EditCosmetic,
		"installments", len(installments))

	// Only the display fields were written; a total within EditTolerance
	// stays as stored.
	stored := old
	stored.Description = updated.Description
	stored.Category = updated.Category
	return stored, nil
}

func (m *Manager) applyFinancial(ctx context.Context, old, updated Purchase, installments []Installment) (Purchase, error) {
	card, err := m.store.GetCard(ctx, old.GroupID, updated.CardID)
	if err != nil {
		return Purchase{}, err
	}
	oldCardExists := old.CardID == card.ID
	if !oldCardExists {
		if oldCardExists, err = m.cardExists(ctx, old.GroupID, old.CardID); err != nil {
			return Purchase{}, err
		}
	}

	updated.CardName = card.Name
	updated.CardColor = card.Color
	updated.PaidInstallmentCount = 0

	b := NewBatch()
	if oldCardExists {
		m.credit.Release(b, old.GroupID, old.CardID, old.TotalAmount)
	}
	for _, inst := range installments {
		b.Add(DeleteInstallment{GroupID: inst.GroupID, ID: inst.ID})
	}
	b.Add(PutPurchase{Purchase: updated})
	count := m.stageProjection(b, updated, card)
	m.credit.Reserve(b, updated.GroupID, card.ID, updated.TotalAmount)

	if err := m.commit(ctx, "update purchase", b); err != nil {
		return Purchase{}, err
	}
	m.logger.InfoContext(ctx, "purchase updated",
		"group_id", old.GroupID, "purchase_id", old.ID, "kind", EditFinancial,
		"removed", len(installments), "installments", count,
		"old_total", old.TotalAmount.StringFixed(2), "total", updated.TotalAmount.StringFixed(2))
	return updated, nil
}

// DeletePurchase removes a purchase with all of its installments and
// releases whatever the purchase still holds on its card.
func (m *Manager) DeletePurchase(ctx context.Context, actor Actor, id PurchaseID) error {
	if err := actor.Require(PermManagePurchases); err != nil {
		return err
	}
	p, err := m.store.GetPurchase(ctx, actor.GroupID, id)
	if err != nil {
		return err
	}
	installments, err := m.store.QueryInstallments(ctx, actor.GroupID, ForPurchase(id))
	if err != nil {
		return err
	}
	exists, err := m.cardExists(ctx, p.GroupID, p.CardID)
	if err != nil {
		return err
	}

	b := NewBatch().Add(DeletePurchase{GroupID: p.GroupID, ID: p.ID})
	for _, inst := range installments {
		b.Add(DeleteInstallment{GroupID: inst.GroupID, ID: inst.ID})
	}
	released := decimal.Zero
	if exists {
		released = m.credit.ReleaseProportional(b, p)
	}

	if err := m.commit(ctx, "delete purchase", b); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "purchase deleted",
		"group_id", p.GroupID, "purchase_id", p.ID,
		"installments", len(installments), "released", released.StringFixed(2))
	return nil
}

// CancelRecurring stops a recurring purchase. Pending occurrences billed
// after the current month are removed; the current month and earlier stay.
// Returns how many occurrences were removed.
func (m *Manager) CancelRecurring(ctx context.Context, actor Actor, id PurchaseID) (int, error) {
	if err := actor.Require(PermManagePurchases); err != nil {
		return 0, err
	}
	p, err := m.store.GetPurchase(ctx, actor.GroupID, id)
	if err != nil {
		return 0, err
	}
	if !p.IsRecurring() {
		return 0, invalid("payment_type", "only recurring purchases can be cancelled")
	}
	if p.IsCancelled() {
		return 0, invalid("status", "purchase is already cancelled")
	}

	today := m.Today()
	current := today.InvoiceMonth()

	pending, err := m.store.QueryInstallments(ctx, actor.GroupID, InstallmentQuery{
		PurchaseID: id,
		Status:     InstallmentPending,
		OrderBy:    OrderByNumber,
	})
	if err != nil {
		return 0, err
	}
	exists, err := m.cardExists(ctx, p.GroupID, p.CardID)
	if err != nil {
		return 0, err
	}

	b := NewBatch().Add(CancelPurchase{GroupID: p.GroupID, ID: p.ID, On: today})
	removed := 0
	for _, inst := range pending {
		if inst.Month.After(current) {
			b.Add(DeleteInstallment{GroupID: inst.GroupID, ID: inst.ID})
			removed++
		}
	}
	released := p.TotalAmount.Mul(decimal.NewFromInt(int64(removed)))
	if exists {
		m.credit.Release(b, p.GroupID, p.CardID, released)
	}

	if err := m.commit(ctx, "cancel recurring", b); err != nil {
		return 0, err
	}
	m.logger.InfoContext(ctx, "recurring purchase cancelled",
		"group_id", p.GroupID, "purchase_id", p.ID, "removed", removed,
		"released", released.StringFixed(2))
	return removed, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PayInvoiceMonth pays every pending installment of the month and returns
// how many were paid. A month with nothing pending returns 0 and no error.
func (m *Manager) PayInvoiceMonth(ctx context.Context, actor Actor, month InvoiceMonth) (int, error) {
	if err := actor.Require(PermPayInvoices); err != nil {
		return 0, err
	}
	if !month.Valid() {
		return 0, invalid("month", "must be between 1 and 12")
	}

	pending, err := m.store.QueryInstallments(ctx, actor.GroupID, InstallmentQuery{
		Month:   &month,
		Status:  InstallmentPending,
		OrderBy: OrderByDueDate,
	})
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	cards, err := m.store.ListCards(ctx, actor.GroupID)
	if err != nil {
		return 0, err
	}
	purchases, err := m.store.ListPurchases(ctx, actor.GroupID)
	if err != nil {
		return 0, err
	}
	knownCards := make(map[CardID]bool, len(cards))
	for _, c := range cards {
		knownCards[c.ID] = true
	}
	knownPurchases := make(map[PurchaseID]bool, len(purchases))
	for _, p := range purchases {
		knownPurchases[p.ID] = true
	}

	b := NewBatch()
	released := make(map[CardID]decimal.Decimal)
	paidPer := make(map[PurchaseID]int)
	var cardOrder []CardID
	var purchaseOrder []PurchaseID

	for _, inst := range pending {
		b.Add(MarkInstallmentPaid{GroupID: inst.GroupID, ID: inst.ID})
		if knownCards[inst.CardID] {
			if _, seen := released[inst.CardID]; !seen {
				cardOrder = append(cardOrder, inst.CardID)
			}
			released[inst.CardID] = released[inst.CardID].Add(inst.Amount)
		}
		if knownPurchases[inst.PurchaseID] {
			if paidPer[inst.PurchaseID] == 0 {
				purchaseOrder = append(purchaseOrder, inst.PurchaseID)
			}
			paidPer[inst.PurchaseID]++
		}
	}
	for _, id := range cardOrder {
		m.credit.Release(b, actor.GroupID, id, released[id])
	}
	for _, id := range purchaseOrder {
		b.Add(IncrementPaidCount{GroupID: actor.GroupID, PurchaseID: id, By: paidPer[id]})
	}

	if err := m.commit(ctx, "pay invoice", b); err != nil {
		return 0, err
	}
	m.logger.InfoContext(ctx, "invoice paid",
		"group_id", actor.GroupID, "month", month.String(), "installments", len(pending))
	return len(pending), nil
}

// PayInstallment pays a single installment.
func (m *Manager) PayInstallment(ctx context.Context, actor Actor, id InstallmentID) error {
	if err := actor.Require(PermPayInvoices); err != nil {
		return err
	}
	inst, err := m.store.GetInstallment(ctx, actor.GroupID, id)
	if err != nil {
		return err
	}
	if !inst.IsPending() {
		return invalid("status", "installment is already paid")
	}
	exists, err := m.cardExists(ctx, inst.GroupID, inst.CardID)
	if err != nil {
		return err
	}
	_, err = m.store.GetPurchase(ctx, inst.GroupID, inst.PurchaseID)
	if err != nil && !IsNotFound(err) {
		return err
	}
	hasPurchase := err == nil

	b := NewBatch().Add(MarkInstallmentPaid{GroupID: inst.GroupID, ID: inst.ID})
	if exists {
		m.credit.Release(b, inst.GroupID, inst.CardID, inst.Amount)
	}
	if hasPurchase {
		b.Add(IncrementPaidCount{GroupID: inst.GroupID, PurchaseID: inst.PurchaseID, By: 1})
	}

	if err := m.commit(ctx, "pay installment", b); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "installment paid",
		"group_id", inst.GroupID, "installment_id", inst.ID, "purchase_id", inst.PurchaseID,
		"amount", inst.Amount.StringFixed(2))
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Manager) Cards(ctx context.Context, actor Actor) ([]Card, error) {
	if err := actor.Require(PermViewDashboard); err != nil {
		return nil, err
	}
	return m.store.ListCards(ctx, actor.GroupID)
}

// Purchases lists the group's purchases, newest first.
func (m *Manager) Purchases(ctx context.Context, actor Actor) ([]Purchase, error) {
	if err := actor.Require(PermViewDashboard); err != nil {
		return nil, err
	}
	return m.store.ListPurchases(ctx, actor.GroupID)
}

func (m *Manager) Categories(ctx context.Context, actor Actor) ([]Category, error) {
	if err := actor.Require(PermViewDashboard); err != nil {
		return nil, err
	}
	return m.store.ListCategories(ctx, actor.GroupID)
}

// =============================================================================
// CARDS
// =============================================================================

// CardDraft is the editable part of a card. Used credit is never set
// through it.
type CardDraft struct {
	Name        string
	Network     string
	CreditLimit decimal.Decimal
	ClosingDay  int
	DueDay      int
	Color       string
}

func (d CardDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return invalid("name", "is required")
	}
	if d.CreditLimit.IsNegative() {
		return invalid("credit_limit", "must not be negative")
	}
	if !IsCents(d.CreditLimit) {
		return invalid("credit_limit", "must not have more than 2 decimal places")
	}
	if d.ClosingDay < 1 || d.ClosingDay > 31 {
		return invalid("closing_day", "must be between 1 and 31")
	}
	if d.DueDay < 1 || d.DueDay > 31 {
		return invalid("due_day", "must be between 1 and 31")
	}
	return nil
}

func (m *Manager) AddCard(ctx context.Context, actor Actor, draft CardDraft) (Card, error) {
	if err := actor.Require(PermManageCards); err != nil {
		return Card{}, err
	}
	if err := draft.Validate(); err != nil {
		return Card{}, err
	}
	card := Card{
		ID:            CardID(m.newID()),
		GroupID:       actor.GroupID,
		Name:          strings.TrimSpace(draft.Name),
		Network:       draft.Network,
		CreditLimit:   draft.CreditLimit,
		UsedAmount:    decimal.Zero,
		ClosingDay:    draft.ClosingDay,
		DueDay:        draft.DueDay,
		Color:         draft.Color,
		CreatedBy:     actor.UserID,
		CreatedByName: actor.Name(),
	}
	if err := m.commit(ctx, "add card", NewBatch().Add(PutCard{Card: card})); err != nil {
		return Card{}, err
	}
	m.logger.InfoContext(ctx, "card added", "group_id", card.GroupID, "card_id", card.ID)
	return card, nil
}

// UpdateCard changes a card's settings. Existing installments keep the
// billing months and due dates they were projected with.
func (m *Manager) UpdateCard(ctx context.Context, actor Actor, id CardID, draft CardDraft) (Card, error) {
	if err := actor.Require(PermManageCards); err != nil {
		return Card{}, err
	}
	if err := draft.Validate(); err != nil {
		return Card{}, err
	}
	card, err := m.store.GetCard(ctx, actor.GroupID, id)
	if err != nil {
		return Card{}, err
	}
	w := UpdateCardDetails{
		GroupID:     card.GroupID,
		ID:          card.ID,
		Name:        strings.TrimSpace(draft.Name),
		Network:     draft.Network,
		CreditLimit: draft.CreditLimit,
		ClosingDay:  draft.ClosingDay,
		DueDay:      draft.DueDay,
		Color:       draft.Color,
	}
	if err := m.commit(ctx, "update card", NewBatch().Add(w)); err != nil {
		return Card{}, err
	}
	card.Name, card.Network, card.CreditLimit = w.Name, w.Network, w.CreditLimit
	card.ClosingDay, card.DueDay, card.Color = w.ClosingDay, w.DueDay, w.Color
	return card, nil
}

// DeleteCard removes the card document only. Purchases and installments
// keep their card snapshots and are reported under "Deleted card".
func (m *Manager) DeleteCard(ctx context.Context, actor Actor, id CardID) error {
	if err := actor.Require(PermManageCards); err != nil {
		return err
	}
	if _, err := m.store.GetCard(ctx, actor.GroupID, id); err != nil {
		return err
	}
	if err := m.commit(ctx, "delete card", NewBatch().Add(DeleteCard{GroupID: actor.GroupID, ID: id})); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "card deleted", "group_id", actor.GroupID, "card_id", id)
	return nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (m *Manager) AddCategory(ctx context.Context, actor Actor, name, color string) (Category, error) {
	if err := actor.Require(PermManageCategories); err != nil {
		return Category{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, invalid("name", "is required")
	}
	existing, err := m.store.ListCategories(ctx, actor.GroupID)
	if err != nil {
		return Category{}, err
	}
	for _, c := range existing {
		if strings.EqualFold(c.Name, name) {
			return Category{}, invalid("name", "already exists")
		}
	}

	cat := Category{
		ID:            CategoryID(m.newID()),
		GroupID:       actor.GroupID,
		Name:          name,
		Color:         color,
		CreatedBy:     actor.UserID,
		CreatedByName: actor.Name(),
	}
	if err := m.commit(ctx, "add category", NewBatch().Add(PutCategory{Category: cat})); err != nil {
		return Category{}, err
	}
	return cat, nil
}

// DeleteCategory removes a category. Purchases keep the category name.
func (m *Manager) DeleteCategory(ctx context.Context, actor Actor, id CategoryID) error {
	if err := actor.Require(PermManageCategories); err != nil {
		return err
	}
	categories, err := m.store.ListCategories(ctx, actor.GroupID)
	if err != nil {
		return err
	}
	found := false
	for _, c := range categories {
		if c.ID == id {
			found = true
			break
		}
	}
	if !found {
		return notFound("category", string(id))
	}
	return m.commit(ctx, "delete category", NewBatch().Add(DeleteCategory{GroupID: actor.GroupID, ID: id}))
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// RepairReport summarizes an ownership repair run.
type RepairReport struct {
	Scanned  int
	Repaired int
	Orphans  []InstallmentID
}

// RepairOwnership copies group and card from the parent purchase onto
// installments that lack them. Installments whose purchase no longer exists
// are reported, not deleted. Card usage is not recomputed.
func (m *Manager) RepairOwnership(ctx context.Context) (RepairReport, error) {
	broken, err := m.store.UnattributedInstallments(ctx)
	if err != nil {
		return RepairReport{}, err
	}
	report := RepairReport{Scanned: len(broken)}
	if len(broken) == 0 {
		return report, nil
	}

	parents := make(map[PurchaseID]*Purchase)
	b := NewBatch()
	for _, inst := range broken {
		parent, ok := parents[inst.PurchaseID]
		if !ok {
			p, err := m.store.LookupPurchase(ctx, inst.PurchaseID)
			switch {
			case err == nil:
				parent = &p
			case !IsNotFound(err):
				return report, err
			}
			parents[inst.PurchaseID] = parent
		}
		if parent == nil {
			report.Orphans = append(report.Orphans, inst.ID)
			continue
		}

		fixed := inst
		if fixed.GroupID == "" {
			fixed.GroupID = parent.GroupID
		}
		if fixed.CardID == "" {
			fixed.CardID = parent.CardID
		}
		if fixed.CardName == "" {
			fixed.CardName = parent.CardName
		}
		b.Add(PutInstallment{Installment: fixed})
		report.Repaired++
	}

	if !b.Empty() {
		if err := m.commit(ctx, "repair ownership", b); err != nil {
			return RepairReport{}, err
		}
	}
	m.logger.InfoContext(ctx, "ownership repair finished",
		"scanned", report.Scanned, "repaired", report.Repaired, "orphans", len(report.Orphans))
	return report, nil
}
