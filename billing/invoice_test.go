package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/card-engine/billing"
)

// =============================================================================
// PURE AGGREGATES
// =============================================================================

func inst(card billing.CardID, category, amount string, status billing.InstallmentStatus) billing.Installment {
	return billing.Installment{
		CardID:              card,
		Category:            category,
		PurchaseDescription: "Purchase",
		Amount:              money(amount),
		Status:              status,
	}
}

func TestMonthAndPendingTotals(t *testing.T) {
	installments := []billing.Installment{
		inst("c1", "Food", "33.34", billing.InstallmentPaid),
		inst("c1", "Food", "50.00", billing.InstallmentPending),
		inst("c2", "Travel", "16.66", billing.InstallmentPending),
	}

	assert.Equal(t, "100.00", billing.MonthTotal(installments).StringFixed(2))
	assert.Equal(t, "66.66", billing.PendingTotal(installments).StringFixed(2))
	assert.True(t, billing.MonthTotal(nil).IsZero())
}

func TestCreditAggregates(t *testing.T) {
	a := testCard(5, 10)
	a.UsedAmount = money("1250.00")
	b := testCard(25, 5)
	b.ID, b.CreditLimit, b.UsedAmount = "card-2", money("3000.00"), money("3500.00")
	cards := []billing.Card{a, b}

	assert.Equal(t, "8000.00", billing.TotalLimit(cards).StringFixed(2))
	assert.Equal(t, "4750.00", billing.UsedCredit(cards).StringFixed(2))
	// An over-limit card contributes a negative amount.
	assert.Equal(t, "3250.00", billing.AvailableCredit(cards).StringFixed(2))
	assert.Equal(t, "59.4", billing.Utilization(cards).StringFixed(1))
	assert.True(t, billing.Utilization(nil).IsZero(), "no limit, no utilization")
}

func TestGroupByCard_UnknownCardsShareDeletedSlice(t *testing.T) {
	cards := []billing.Card{{ID: "c1", Name: "Nubank"}}
	installments := []billing.Installment{
		inst("c1", "Food", "10.00", billing.InstallmentPending),
		inst("gone-1", "Food", "20.00", billing.InstallmentPending),
		inst("gone-2", "Food", "5.00", billing.InstallmentPaid),
		inst("c1", "Food", "2.50", billing.InstallmentPaid),
	}

	slices := billing.GroupByCard(installments, cards)

	require.Len(t, slices, 2)
	assert.Equal(t, billing.DeletedCardLabel, slices[0].Label)
	assert.Equal(t, "25.00", slices[0].Total.StringFixed(2))
	assert.Equal(t, 2, slices[0].Count)
	assert.Equal(t, "Nubank", slices[1].Label)
	assert.Equal(t, "12.50", slices[1].Total.StringFixed(2))
}

func TestTopCategories(t *testing.T) {
	installments := []billing.Installment{
		inst("c1", "Food", "10.00", billing.InstallmentPending),
		inst("c1", "Travel", "300.00", billing.InstallmentPending),
		inst("c1", "Food", "95.00", billing.InstallmentPending),
		inst("c1", "Games", "105.00", billing.InstallmentPending),
		inst("c1", "", "7.00", billing.InstallmentPending),
	}
	noLabel := inst("c1", "", "1.00", billing.InstallmentPending)
	noLabel.PurchaseDescription = ""
	installments = append(installments, noLabel)

	top := billing.TopCategories(installments, 3)

	require.Len(t, top, 3)
	assert.Equal(t, "Travel", top[0].Label)
	// Ties are broken by label.
	assert.Equal(t, "Food", top[1].Label)
	assert.Equal(t, "Games", top[2].Label)

	all := billing.TopCategories(installments, 0)
	require.Len(t, all, 5)
	assert.Equal(t, "Purchase", all[3].Label, "falls back to the description")
	assert.Equal(t, billing.UncategorizedLabel, all[4].Label)
}

// =============================================================================
// AGGREGATOR
// =============================================================================

func TestDashboard(t *testing.T) {
	// GIVEN: two cards with February installments, one card later deleted
	f := newFixture(t)
	nubank := f.addCard(t, "Nubank", 5, 10)
	itau := f.addCard(t, "Itau", 25, 5)
	f.addPurchase(t, nubank, "100.00", "2024-01-06", billing.PaymentInstallment, 3)
	f.addPurchase(t, itau, "80.00", "2024-02-01", billing.PaymentInstallment, 2)
	require.NoError(t, f.m.DeleteCard(f.ctx, f.owner, itau.ID))
	agg := billing.NewAggregator(f.store)

	// WHEN: reading February
	view, err := agg.Dashboard(f.ctx, f.owner, billing.NewInvoiceMonth(2024, time.February))

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "73.34", view.MonthTotal.StringFixed(2))
	assert.Equal(t, "73.34", view.PendingTotal.StringFixed(2))
	assert.Equal(t, "5000.00", view.TotalLimit.StringFixed(2))
	assert.Equal(t, "4900.00", view.AvailableCredit.StringFixed(2))
	require.Len(t, view.Installments, 2)
	assert.Equal(t, "2024-02-05", view.Installments[0].DueDate.String(), "ordered by due date")

	labels := []string{view.ByCard[0].Label, view.ByCard[1].Label}
	assert.Equal(t, []string{billing.DeletedCardLabel, "Nubank"}, labels)
}

func TestDashboard_RequiresViewPermission(t *testing.T) {
	f := newFixture(t)
	agg := billing.NewAggregator(f.store)
	actor := f.owner
	actor.Permissions = billing.NewPermissionSet(billing.PermManagePurchases)

	_, err := agg.Dashboard(f.ctx, actor, billing.NewInvoiceMonth(2024, time.March))
	assert.ErrorIs(t, err, billing.ErrPermissionDenied)

	_, err = agg.Dashboard(f.ctx, f.owner, billing.InvoiceMonth{Year: 2024, Month: 13})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestHistory(t *testing.T) {
	// GIVEN: purchases billed in January and March 2024
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	f.addPurchase(t, card, "120.00", "2024-01-02", billing.PaymentSingle, 1)
	f.addPurchase(t, card, "45.50", "2024-03-01", billing.PaymentSingle, 1)
	agg := billing.NewAggregator(f.store)

	// WHEN: reading four months ending in March
	points, err := agg.History(f.ctx, f.owner, 4, billing.NewInvoiceMonth(2024, time.March))

	// THEN: oldest first, empty months still reported
	require.NoError(t, err)
	require.Len(t, points, 4)
	got := make([]string, len(points))
	for i, p := range points {
		got[i] = p.Label + "=" + p.Total.StringFixed(2)
	}
	assert.Equal(t, []string{"Dec/23=0.00", "Jan/24=120.00", "Feb/24=0.00", "Mar/24=45.50"}, got)
}

func TestHistory_Bounds(t *testing.T) {
	f := newFixture(t)
	agg := billing.NewAggregator(f.store)
	march := billing.NewInvoiceMonth(2024, time.March)

	for _, months := range []int{0, -1, 25} {
		_, err := agg.History(f.ctx, f.owner, months, march)
		assert.ErrorIs(t, err, billing.ErrValidation, "months=%d", months)
	}
	points, err := agg.History(f.ctx, f.owner, billing.MaxHistoryMonths, march)
	require.NoError(t, err)
	assert.Len(t, points, billing.MaxHistoryMonths)
}

// erroringStore fails installment queries.
type erroringStore struct {
	billing.Store
}

func (erroringStore) QueryInstallments(context.Context, billing.GroupID, billing.InstallmentQuery) ([]billing.Installment, error) {
	return nil, errors.New("query timeout")
}

func TestHistory_AnyFailureFailsTheCall(t *testing.T) {
	f := newFixture(t)
	agg := billing.NewAggregator(erroringStore{Store: f.store})

	points, err := agg.History(f.ctx, f.owner, 6, billing.NewInvoiceMonth(2024, time.March))

	assert.ErrorContains(t, err, "query timeout")
	assert.Nil(t, points)
}

// =============================================================================
// LIVE DASHBOARD
// =============================================================================

func TestWatchDashboard_FollowsCommits(t *testing.T) {
	// GIVEN: a watched February dashboard
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	agg := billing.NewAggregator(f.store)

	var mu sync.Mutex
	var views []billing.DashboardView
	sub, err := agg.WatchDashboard(f.ctx, f.owner, billing.NewInvoiceMonth(2024, time.February),
		func(v billing.DashboardView, err error) {
			require.NoError(t, err)
			mu.Lock()
			views = append(views, v)
			mu.Unlock()
		})
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, views, 1, "one view once cards and installments are both loaded")
	assert.True(t, views[0].MonthTotal.IsZero())
	mu.Unlock()

	// WHEN: a purchase billed in February is added
	f.addPurchase(t, card, "50.00", "2024-01-20", billing.PaymentSingle, 1)

	// THEN: the latest view carries it
	mu.Lock()
	last := views[len(views)-1]
	mu.Unlock()
	assert.Equal(t, "50.00", last.MonthTotal.StringFixed(2))
	assert.Equal(t, "50.00", last.UsedCredit.StringFixed(2))

	// AND: nothing is delivered after unsubscribing
	sub.Unsubscribe()
	assert.Equal(t, 0, f.store.Subscribers())
	mu.Lock()
	count := len(views)
	mu.Unlock()
	f.addPurchase(t, card, "10.00", "2024-01-21", billing.PaymentSingle, 1)
	mu.Lock()
	assert.Len(t, views, count)
	mu.Unlock()
}

func TestWatchDashboard_ContextEndsSubscription(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, "Nubank", 5, 10)
	agg := billing.NewAggregator(f.store)
	ctx, cancel := context.WithCancel(f.ctx)

	calls := 0
	_, err := agg.WatchDashboard(ctx, f.owner, billing.NewInvoiceMonth(2024, time.February),
		func(billing.DashboardView, error) { calls++ })
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	cancel()
	f.addPurchase(t, card, "50.00", "2024-01-20", billing.PaymentSingle, 1)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.store.Subscribers())
}
