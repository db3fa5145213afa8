package billing_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/card-engine/billing"
	"github.com/warp/card-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fixedNow is "today" for every manager test: invoice month March 2024.
var fixedNow = time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	store *store.Memory
	m     *billing.Manager
	owner billing.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	seq := 0
	m := billing.NewManager(mem,
		billing.WithClock(func() time.Time { return fixedNow }),
		billing.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{
		ctx:   context.Background(),
		store: mem,
		m:     m,
		owner: billing.Actor{
			UserID:      "ana",
			GroupID:     "group-1",
			DisplayName: "Ana",
			Permissions: billing.NewPermissionSet(billing.AllPermissions...),
		},
	}
}

func (f *fixture) addCard(t *testing.T, name string, closingDay, dueDay int) billing.Card {
	t.Helper()
	c, err := f.m.AddCard(f.ctx, f.owner, billing.CardDraft{
		Name:        name,
		Network:     "Visa",
		CreditLimit: money("5000.00"),
		ClosingDay:  closingDay,
		DueDay:      dueDay,
		Color:       "#123456",
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) addPurchase(t *testing.T, card billing.Card, total, date string, kind billing.PaymentType, count int) billing.Purchase {
	t.Helper()
	p, err := f.m.AddPurchase(f.ctx, f.owner, billing.PurchaseDraft{
		Description:      "Purchase " + total,
		TotalAmount:      money(total),
		PurchaseDate:     billing.MustParseDate(date),
		InstallmentCount: count,
		Category:         "General",
		PaymentType:      kind,
		CardID:           card.ID,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) card(t *testing.T, id billing.CardID) billing.Card {
	t.Helper()
	c, err := f.store.GetCard(f.ctx, f.owner.GroupID, id)
	require.NoError(t, err)
	return c
}

func (f *fixture) purchase(t *testing.T, id billing.PurchaseID) billing.Purchase {
	t.Helper()
	p, err := f.store.GetPurchase(f.ctx, f.owner.GroupID, id)
	require.NoError(t, err)
	return p
}

func (f *fixture) installments(t *testing.T, id billing.PurchaseID) []billing.Installment {
	t.Helper()
	insts, err := f.store.QueryInstallments(f.ctx, f.owner.GroupID, billing.ForPurchase(id))
	require.NoError(t, err)
	return insts
}

func (f *fixture) viewer() billing.Actor {
	a := f.owner
	a.UserID = "bruno"
	a.Permissions = billing.NewPermissionSet(billing.PermViewDashboard)
	return a
}

// failingStore commits nothing and fails every batch.
type failingStore struct {
	billing.Store
	err error
}

func (s failingStore) Commit(context.Context, *billing.Batch) error { return s.err }

// =============================================================================
// ADD PURCHASE
// =============================================================================

func TestAddPurchase_ReservesTotalAndProjects(t *testing.T) {
	// GIVEN: a card closing on 5, due on 10
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)

	// WHEN: adding 100.00 in 3 installments on January 6
	p := f.addPurchase(t, card, "100.00", "2024-01-06", billing.PaymentInstallment, 3)

	// THEN: the full amount is reserved and 3 installments start in February
	assert.Equal(t, "100.00", f.card(t, card.ID).UsedAmount.StringFixed(2))
	assert.Equal(t, billing.PurchaseActive, p.Status)
	assert.Equal(t, 0, p.PaidInstallmentCount)
	assert.Equal(t, "Nubank", p.CardName)
	assert.Equal(t, "#123456", p.CardColor)
	assert.Equal(t, "Ana", p.CreatedByName)

	insts := f.installments(t, p.ID)
	require.Len(t, insts, 3)
	assert.Equal(t, []string{"33.34", "33.33", "33.33"}, amounts(insts))
	assert.Equal(t, "2024-02-10", insts[0].DueDate.String())
	assert.Equal(t, "2024-04-10", insts[2].DueDate.String())
	for _, inst := range insts {
		assert.NotEmpty(t, inst.ID)
		assert.Equal(t, p.ID, inst.PurchaseID)
	}
}

func TestAddPurchase_OverLimitIsAllowed(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)

	f.addPurchase(t, card, "7500.00", "2024-01-02", billing.PaymentSingle, 1)

	got := f.card(t, card.ID)
	assert.True(t, got.UsedAmount.GreaterThan(got.CreditLimit))
	assert.Equal(t, "-2500.00", got.Available().StringFixed(2))
}

func TestAddPurchase_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)

	_, err := f.m.AddPurchase(f.ctx, f.viewer(), validDraftFor(card))

	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
	purchases, _ := f.store.ListPurchases(f.ctx, f.owner.GroupID)
	assert.Empty(t, purchases)
}

func TestAddPurchase_UnknownCard(t *testing.T) {
	f := newFixture(t)
	d := validDraft()
	d.CardID = "missing"

	_, err := f.m.AddPurchase(f.ctx, f.owner, d)

	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestAddPurchase_ValidationBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	d := validDraftFor(card)
	d.TotalAmount = money("0")

	_, err := f.m.AddPurchase(f.ctx, f.owner, d)

	assert.ErrorIs(t, err, billing.ErrValidation)
	assert.True(t, f.card(t, card.ID).UsedAmount.IsZero())
}

func TestAddPurchase_CommitFailureLeavesNothing(t *testing.T) {
	// GIVEN: a store whose commits fail
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	broken := billing.NewManager(failingStore{Store: f.store, err: errors.New("disk full")},
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	// WHEN: adding a purchase
	_, err := broken.AddPurchase(f.ctx, f.owner, validDraftFor(card))

	// THEN: the whole operation fails as a transaction failure
	assert.ErrorIs(t, err, billing.ErrTransactionFailed)
	assert.ErrorContains(t, err, "disk full")
	var commitErr *billing.CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, "add purchase", commitErr.Op)
	assert.True(t, f.card(t, card.ID).UsedAmount.IsZero())
}

func validDraftFor(card billing.Card) billing.PurchaseDraft {
	d := validDraft()
	d.CardID = card.ID
	return d
}

// =============================================================================
// DELETE PURCHASE
// =============================================================================

func TestDeletePurchase_RoundTripRestoresUsedCredit(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	f.addPurchase(t, card, "250.00", "2024-01-02", billing.PaymentSingle, 1)
	before := f.card(t, card.ID).UsedAmount

	p := f.addPurchase(t, card, "1234.57", "2024-02-11", billing.PaymentInstallment, 7)
	require.NoError(t, f.m.DeletePurchase(f.ctx, f.owner, p.ID))

	assert.True(t, f.card(t, card.ID).UsedAmount.Equal(before))
	assert.Empty(t, f.installments(t, p.ID))
	_, err := f.store.GetPurchase(f.ctx, f.owner.GroupID, p.ID)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestDeletePurchase_AfterPaymentReleasesOnlyRemainder(t *testing.T) {
	// GIVEN: 90.00 in 3, first installment paid (30.00 already released)
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "90.00", "2024-01-02", billing.PaymentInstallment, 3)
	require.NoError(t, f.m.PayInstallment(f.ctx, f.owner, f.installments(t, p.ID)[0].ID))
	require.Equal(t, "60.00", f.card(t, card.ID).UsedAmount.StringFixed(2))

	// WHEN: deleting the purchase
	require.NoError(t, f.m.DeletePurchase(f.ctx, f.owner, p.ID))

	// THEN: only the unpaid two thirds are released
	assert.Equal(t, "0.00", f.card(t, card.ID).UsedAmount.StringFixed(2))
}

func TestDeletePurchase_DeletedCardSkipsRelease(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "90.00", "2024-01-02", billing.PaymentInstallment, 3)
	require.NoError(t, f.m.DeleteCard(f.ctx, f.owner, card.ID))

	err := f.m.DeletePurchase(f.ctx, f.owner, p.ID)

	assert.NoError(t, err)
	assert.Empty(t, f.installments(t, p.ID))
}

func TestDeletePurchase_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.m.DeletePurchase(f.ctx, f.owner, "missing")

	assert.ErrorIs(t, err, billing.ErrNotFound)
}

// =============================================================================
// UPDATE PURCHASE
// =============================================================================

func TestUpdatePurchase_CosmeticEditIsolation(t *testing.T) {
	// GIVEN: a 3x purchase with the first installment paid
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentInstallment, 3)
	before := f.installments(t, p.ID)
	require.NoError(t, f.m.PayInstallment(f.ctx, f.owner, before[0].ID))
	before = f.installments(t, p.ID)
	usedBefore := f.card(t, card.ID).UsedAmount

	// WHEN: only the description and category change
	desc, cat := "Noise cancelling headphones", "Gifts"
	updated, kind, err := f.m.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{
		Description: &desc,
		Category:    &cat,
	})

	// THEN: amounts, statuses and dates are untouched; display fields follow
	require.NoError(t, err)
	assert.Equal(t, billing.EditCosmetic, kind)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, 1, f.purchase(t, p.ID).PaidInstallmentCount)
	assert.True(t, f.card(t, card.ID).UsedAmount.Equal(usedBefore))

	after := f.installments(t, p.ID)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.True(t, before[i].Amount.Equal(after[i].Amount))
		assert.Equal(t, before[i].Status, after[i].Status)
		assert.Equal(t, before[i].DueDate, after[i].DueDate)
		assert.Equal(t, before[i].Month, after[i].Month)
		assert.Equal(t, desc, after[i].PurchaseDescription)
		assert.Equal(t, cat, after[i].Category)
	}
}

func TestUpdatePurchase_CosmeticEditKeepsStoredTotal(t *testing.T) {
	// GIVEN: a 100.00 single payment
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentSingle, 1)

	// WHEN: the total moves by one cent along with the description
	desc, total := "Headphones (gift)", money("100.01")
	updated, kind, err := f.m.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{
		Description: &desc,
		TotalAmount: &total,
	})

	// THEN: the edit is cosmetic and the returned purchase matches the stored one
	require.NoError(t, err)
	assert.Equal(t, billing.EditCosmetic, kind)
	stored, err := f.store.GetPurchase(f.ctx, f.owner.GroupID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", updated.TotalAmount.StringFixed(2))
	assert.True(t, stored.TotalAmount.Equal(updated.TotalAmount))
	assert.Equal(t, stored.Description, updated.Description)
	assert.Equal(t, desc, stored.Description)
	assert.Equal(t, stored.Category, updated.Category)
	assert.Equal(t, stored.PaidInstallmentCount, updated.PaidInstallmentCount)
}

func TestUpdatePurchase_FinancialEditResetsProgress(t *testing.T) {
	// GIVEN: 100.00 in 3 with one installment paid (used 66.66)
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentInstallment, 3)
	require.NoError(t, f.m.PayInstallment(f.ctx, f.owner, f.installments(t, p.ID)[0].ID))

	// WHEN: the total changes to 200.00 in 2
	total, count := money("200.00"), 2
	updated, kind, err := f.m.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{
		TotalAmount:      &total,
		InstallmentCount: &count,
	})

	// THEN: the old total is released in full, the new one reserved, and the
	// installments are regenerated as pending
	require.NoError(t, err)
	assert.Equal(t, billing.EditFinancial, kind)
	assert.Equal(t, 0, updated.PaidInstallmentCount)
	assert.Equal(t, 0, f.purchase(t, p.ID).PaidInstallmentCount)
	assert.Equal(t, "166.66", f.card(t, card.ID).UsedAmount.StringFixed(2))

	insts := f.installments(t, p.ID)
	assert.Equal(t, []string{"100.00", "100.00"}, amounts(insts))
	for _, inst := range insts {
		assert.Equal(t, billing.InstallmentPending, inst.Status)
	}
}

func TestUpdatePurchase_MoveToAnotherCard(t *testing.T) {
	f := newFixture(t)
	from := f.addCard(t, "Nubank", 5, 10)
	to := f.addCard(t, "Itau", 25, 5)
	p := f.addPurchase(t, from, "300.00", "2024-01-02", billing.PaymentInstallment, 3)

	cardID := to.ID
	updated, kind, err := f.m.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{CardID: &cardID})

	require.NoError(t, err)
	assert.Equal(t, billing.EditFinancial, kind)
	assert.Equal(t, "Itau", updated.CardName)
	assert.True(t, f.card(t, from.ID).UsedAmount.IsZero())
	assert.Equal(t, "300.00", f.card(t, to.ID).UsedAmount.StringFixed(2))
	for _, inst := range f.installments(t, p.ID) {
		assert.Equal(t, to.ID, inst.CardID)
		assert.Equal(t, 5, inst.DueDate.Day())
	}
}

func TestUpdatePurchase_NoChangeCommitsNothing(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentSingle, 1)
	broken := billing.NewManager(failingStore{Store: f.store, err: errors.New("must not commit")})

	same := p.Description
	_, kind, err := broken.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{Description: &same})

	assert.NoError(t, err)
	assert.Equal(t, billing.EditNone, kind)
}

func TestUpdatePurchase_InvalidMergeRejected(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentInstallment, 3)

	count := 30
	_, _, err := f.m.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{InstallmentCount: &count})

	assert.ErrorIs(t, err, billing.ErrValidation)
	assert.Len(t, f.installments(t, p.ID), 3)
}

func TestUpdatePurchase_CancelledOnlyAcceptsCosmetic(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "39.90", "2024-01-02", billing.PaymentRecurring, 1)
	_, err := f.m.CancelRecurring(f.ctx, f.owner, p.ID)
	require.NoError(t, err)

	total := money("49.90")
	_, _, err = f.m.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{TotalAmount: &total})
	assert.ErrorIs(t, err, billing.ErrValidation)

	desc := "Old streaming plan"
	_, kind, err := f.m.UpdatePurchase(f.ctx, f.owner, p.ID, billing.PurchaseChanges{Description: &desc})
	assert.NoError(t, err)
	assert.Equal(t, billing.EditCosmetic, kind)
}

// =============================================================================
// CANCEL RECURRING
// =============================================================================

func TestCancelRecurring_RemovesFutureOccurrences(t *testing.T) {
	// GIVEN: a subscription billed February 2024 to January 2025; today is
	// March 15 2024
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "39.90", "2024-01-10", billing.PaymentRecurring, 1)
	require.Len(t, f.installments(t, p.ID), 12)

	// WHEN: cancelling
	removed, err := f.m.CancelRecurring(f.ctx, f.owner, p.ID)

	// THEN: April onwards is removed; February and March stay
	require.NoError(t, err)
	assert.Equal(t, 10, removed)

	left := f.installments(t, p.ID)
	require.Len(t, left, 2)
	assert.Equal(t, time.February, left[0].Month.Month)
	assert.Equal(t, time.March, left[1].Month.Month)

	got := f.purchase(t, p.ID)
	assert.Equal(t, billing.PurchaseCancelled, got.Status)
	require.NotNil(t, got.CancellationDate)
	assert.Equal(t, "2024-03-15", got.CancellationDate.String())

	// One flat reserve, ten flat releases.
	assert.Equal(t, "-359.10", f.card(t, card.ID).UsedAmount.StringFixed(2))
}

func TestCancelRecurring_Rejections(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	single := f.addPurchase(t, card, "10.00", "2024-01-02", billing.PaymentSingle, 1)
	recurring := f.addPurchase(t, card, "39.90", "2024-01-02", billing.PaymentRecurring, 1)

	_, err := f.m.CancelRecurring(f.ctx, f.owner, single.ID)
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = f.m.CancelRecurring(f.ctx, f.owner, recurring.ID)
	require.NoError(t, err)
	_, err = f.m.CancelRecurring(f.ctx, f.owner, recurring.ID)
	assert.ErrorIs(t, err, billing.ErrValidation, "already cancelled")

	_, err = f.m.CancelRecurring(f.ctx, f.viewer(), recurring.ID)
	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayInvoiceMonth_PaysEverythingPending(t *testing.T) {
	// GIVEN: three purchases with installments in February 2024 on two cards
	f := newFixture(t)
	nubank := f.addCard(t, "Nubank", 5, 10)
	itau := f.addCard(t, "Itau", 25, 5)
	a := f.addPurchase(t, nubank, "100.00", "2024-01-06", billing.PaymentInstallment, 3) // Feb: 33.34
	b := f.addPurchase(t, nubank, "50.00", "2024-01-20", billing.PaymentSingle, 1)       // Feb: 50.00
	c := f.addPurchase(t, itau, "80.00", "2024-02-01", billing.PaymentInstallment, 2)    // Feb: 40.00
	feb := billing.NewInvoiceMonth(2024, time.February)

	// WHEN: paying February
	paid, err := f.m.PayInvoiceMonth(f.ctx, f.owner, feb)

	// THEN: N installments paid, used credit down by their total X
	require.NoError(t, err)
	assert.Equal(t, 3, paid)
	assert.Equal(t, "66.66", f.card(t, nubank.ID).UsedAmount.StringFixed(2)) // 150.00 - 83.34
	assert.Equal(t, "40.00", f.card(t, itau.ID).UsedAmount.StringFixed(2))   // 80.00 - 40.00

	for _, id := range []billing.PurchaseID{a.ID, b.ID, c.ID} {
		assert.Equal(t, 1, f.purchase(t, id).PaidInstallmentCount)
	}
	febInsts, err := f.store.QueryInstallments(f.ctx, f.owner.GroupID, billing.ForMonth(feb))
	require.NoError(t, err)
	for _, inst := range febInsts {
		assert.Equal(t, billing.InstallmentPaid, inst.Status)
	}

	// AND: paying again finds nothing to pay
	again, err := f.m.PayInvoiceMonth(f.ctx, f.owner, feb)
	assert.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestPayInvoiceMonth_EmptyMonthIsNotAnError(t *testing.T) {
	f := newFixture(t)

	paid, err := f.m.PayInvoiceMonth(f.ctx, f.owner, billing.NewInvoiceMonth(2030, time.July))

	assert.NoError(t, err)
	assert.Equal(t, 0, paid)
}

func TestPayInvoiceMonth_RequiresPayInvoices(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.PayInvoiceMonth(f.ctx, f.viewer(), billing.NewInvoiceMonth(2024, time.March))

	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
}

func TestPayInvoiceMonth_DeletedCardStillPays(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	f.addPurchase(t, card, "50.00", "2024-01-20", billing.PaymentSingle, 1)
	require.NoError(t, f.m.DeleteCard(f.ctx, f.owner, card.ID))

	paid, err := f.m.PayInvoiceMonth(f.ctx, f.owner, billing.NewInvoiceMonth(2024, time.February))

	assert.NoError(t, err)
	assert.Equal(t, 1, paid)
}

func TestPayInstallment(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentInstallment, 3)
	first := f.installments(t, p.ID)[0]

	require.NoError(t, f.m.PayInstallment(f.ctx, f.owner, first.ID))

	assert.Equal(t, "66.66", f.card(t, card.ID).UsedAmount.StringFixed(2))
	assert.Equal(t, 1, f.purchase(t, p.ID).PaidInstallmentCount)

	err := f.m.PayInstallment(f.ctx, f.owner, first.ID)
	assert.ErrorIs(t, err, billing.ErrValidation, "already paid")

	err = f.m.PayInstallment(f.ctx, f.owner, "missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_WritesNothing(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	d := validDraftFor(card)
	d.Category = ""
	d.PaymentType = billing.PaymentInstallment
	d.InstallmentCount = 4

	preview, err := f.m.Preview(f.ctx, f.owner, d)

	require.NoError(t, err)
	assert.Equal(t, []string{"12.50", "12.50", "12.50", "12.50"}, amounts(preview))
	assert.True(t, f.card(t, card.ID).UsedAmount.IsZero())
	purchases, _ := f.store.ListPurchases(f.ctx, f.owner.GroupID)
	assert.Empty(t, purchases)
}

// =============================================================================
// CARDS AND CATEGORIES
// =============================================================================

func TestCards_UpdateKeepsUsedCredit(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentSingle, 1)

	updated, err := f.m.UpdateCard(f.ctx, f.owner, card.ID, billing.CardDraft{
		Name:        "Nubank Ultravioleta",
		CreditLimit: money("9000.00"),
		ClosingDay:  7,
		DueDay:      14,
	})

	require.NoError(t, err)
	assert.Equal(t, "Nubank Ultravioleta", updated.Name)
	stored := f.card(t, card.ID)
	assert.Equal(t, "100.00", stored.UsedAmount.StringFixed(2))
	assert.Equal(t, "9000.00", stored.CreditLimit.StringFixed(2))
}

func TestCards_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []billing.CardDraft{
		{Name: "", CreditLimit: money("100"), ClosingDay: 1, DueDay: 1},
		{Name: "X", CreditLimit: money("-1"), ClosingDay: 1, DueDay: 1},
		{Name: "X", CreditLimit: money("100"), ClosingDay: 0, DueDay: 1},
		{Name: "X", CreditLimit: money("100"), ClosingDay: 1, DueDay: 32},
	}
	for _, d := range tests {
		_, err := f.m.AddCard(f.ctx, f.owner, d)
		assert.ErrorIs(t, err, billing.ErrValidation)
	}

	_, err := f.m.AddCard(f.ctx, f.viewer(), billing.CardDraft{Name: "X", ClosingDay: 1, DueDay: 1})
	assert.ErrorIs(t, err, billing.ErrPermissionDenied)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)

	cat, err := f.m.AddCategory(f.ctx, f.owner, " Groceries ", "#4CAF50")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", cat.Name)

	_, err = f.m.AddCategory(f.ctx, f.owner, "groceries", "")
	assert.ErrorIs(t, err, billing.ErrValidation, "names are unique ignoring case")

	require.NoError(t, f.m.DeleteCategory(f.ctx, f.owner, cat.ID))
	assert.ErrorIs(t, f.m.DeleteCategory(f.ctx, f.owner, cat.ID), billing.ErrNotFound)

	categories, err := f.m.Categories(f.ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

// =============================================================================
// OWNERSHIP REPAIR
// =============================================================================

func TestRepairOwnership(t *testing.T) {
	// GIVEN: one installment missing its group and card, and one whose
	// purchase no longer exists
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	p := f.addPurchase(t, card, "100.00", "2024-01-02", billing.PaymentSingle, 1)

	legacy := billing.Installment{
		ID:         "legacy-1",
		PurchaseID: p.ID,
		Number:     1,
		Amount:     money("100.00"),
		Month:      billing.NewInvoiceMonth(2024, time.January),
		Status:     billing.InstallmentPending,
		DueDate:    billing.MustParseDate("2024-01-10"),
	}
	orphan := legacy
	orphan.ID = "orphan-1"
	orphan.PurchaseID = "gone"
	require.NoError(t, f.store.Commit(f.ctx, billing.NewBatch().Add(
		billing.PutInstallment{Installment: legacy},
		billing.PutInstallment{Installment: orphan},
	)))
	usedBefore := f.card(t, card.ID).UsedAmount

	// WHEN: repairing
	report, err := f.m.RepairOwnership(f.ctx)

	// THEN: the legacy installment is re-attributed, the orphan reported
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, []billing.InstallmentID{"orphan-1"}, report.Orphans)

	fixed, err := f.store.GetInstallment(f.ctx, f.owner.GroupID, "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, card.ID, fixed.CardID)
	assert.Equal(t, "Nubank", fixed.CardName)
	assert.True(t, f.card(t, card.ID).UsedAmount.Equal(usedBefore), "used credit is not recomputed")

	// AND: a second run only finds the orphan
	again, err := f.m.RepairOwnership(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Scanned)
	assert.Equal(t, 0, again.Repaired)
}
