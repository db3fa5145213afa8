/*
invoice.go - Read-side aggregation of installments into invoices

PURPOSE:
  Computes the figures the dashboard shows: what is billed in a month,
  how it splits per card and per category, how much credit is left, and
  the totals of the trailing months. Nothing here writes.

PURE FUNCTIONS:
  MonthTotal       sum of installment amounts (paid and pending)
  AvailableCredit  sum of (limit - used) over cards
  TotalLimit       sum of limits
  GroupByCard      per-card totals, unknown cards under "Deleted card"
  TopCategories    per-category totals, largest first

AGGREGATOR:
  Wraps a Store and an Actor for the one-shot and live variants. Every
  read requires viewDashboard.

SEE ALSO:
  - period.go: InvoiceMonth.Trailing for the history window
  - watch.go: Subscriptions behind WatchDashboard
*/
package billing

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	DeletedCardLabel   = "Deleted card"
	UncategorizedLabel = "Uncategorized"

	DefaultHistoryMonths = 6
	MaxHistoryMonths     = 24
	DefaultTopCategories = 5
)

// =============================================================================
// PURE AGGREGATES
// =============================================================================

func MonthTotal(installments []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(inst.Amount)
	}
	return total
}

// PendingTotal sums only what is still unpaid.
func PendingTotal(installments []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		if inst.IsPending() {
			total = total.Add(inst.Amount)
		}
	}
	return total
}

func AvailableCredit(cards []Card) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cards {
		total = total.Add(c.Available())
	}
	return total
}

func TotalLimit(cards []Card) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cards {
		total = total.Add(c.CreditLimit)
	}
	return total
}

func UsedCredit(cards []Card) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cards {
		total = total.Add(c.UsedAmount)
	}
	return total
}

// Utilization is used/limit as a percentage with one decimal place.
// Zero when there is no limit.
func Utilization(cards []Card) decimal.Decimal {
	limit := TotalLimit(cards)
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return UsedCredit(cards).Div(limit).Mul(decimal.NewFromInt(100)).Round(1)
}

// Slice is one labelled share of a month's total.
type Slice struct {
	Label string
	Total decimal.Decimal
	Count int
}

// GroupByCard totals installments per card, labelled with the card's
// current name. Installments of cards that no longer exist share the
// DeletedCardLabel slice. Slices are ordered by label.
func GroupByCard(installments []Installment, cards []Card) []Slice {
	names := make(map[CardID]string, len(cards))
	for _, c := range cards {
		names[c.ID] = c.Name
	}
	byLabel := make(map[string]*Slice)
	for _, inst := range installments {
		label, ok := names[inst.CardID]
		if !ok {
			label = DeletedCardLabel
		}
		accumulate(byLabel, label, inst.Amount)
	}
	out := flatten(byLabel)
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// TopCategories totals installments per category and returns the n
// largest. Installments without a category fall back to the purchase
// description, then to UncategorizedLabel. n <= 0 returns every slice.
func TopCategories(installments []Installment, n int) []Slice {
	byLabel := make(map[string]*Slice)
	for _, inst := range installments {
		label := inst.Category
		if label == "" {
			label = inst.PurchaseDescription
		}
		if label == "" {
			label = UncategorizedLabel
		}
		accumulate(byLabel, label, inst.Amount)
	}
	out := flatten(byLabel)
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Label < out[j].Label
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func accumulate(byLabel map[string]*Slice, label string, amount decimal.Decimal) {
	s, ok := byLabel[label]
	if !ok {
		s = &Slice{Label: label, Total: decimal.Zero}
		byLabel[label] = s
	}
	s.Total = s.Total.Add(amount)
	s.Count++
}

func flatten(byLabel map[string]*Slice) []Slice {
	out := make([]Slice, 0, len(byLabel))
	for _, s := range byLabel {
		out = append(out, *s)
	}
	return out
}

// =============================================================================
// DASHBOARD
// =============================================================================

// DashboardView is everything the dashboard renders for one invoice month.
type DashboardView struct {
	Month           InvoiceMonth
	Cards           []Card
	Installments    []Installment
	MonthTotal      decimal.Decimal
	PendingTotal    decimal.Decimal
	TotalLimit      decimal.Decimal
	UsedCredit      decimal.Decimal
	AvailableCredit decimal.Decimal
	Utilization     decimal.Decimal
	ByCard          []Slice
	TopCategories   []Slice
}

// BuildDashboard computes a view from already loaded cards and installments.
func BuildDashboard(month InvoiceMonth, cards []Card, installments []Installment) DashboardView {
	return DashboardView{
		Month:           month,
		Cards:           cards,
		Installments:    installments,
		MonthTotal:      MonthTotal(installments),
		PendingTotal:    PendingTotal(installments),
		TotalLimit:      TotalLimit(cards),
		UsedCredit:      UsedCredit(cards),
		AvailableCredit: AvailableCredit(cards),
		Utilization:     Utilization(cards),
		ByCard:          GroupByCard(installments, cards),
		TopCategories:   TopCategories(installments, DefaultTopCategories),
	}
}

// HistoryPoint is one month of the trailing-totals chart.
type HistoryPoint struct {
	Month InvoiceMonth
	Label string
	Total decimal.Decimal
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator answers dashboard reads for an actor's group.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// InstallmentsForMonth returns the month's installments ordered by due date.
func (a *Aggregator) InstallmentsForMonth(ctx context.Context, actor Actor, month InvoiceMonth) ([]Installment, error) {
	if err := actor.Require(PermViewDashboard); err != nil {
		return nil, err
	}
	if !month.Valid() {
		return nil, invalid("month", "must be between 1 and 12")
	}
	return a.store.QueryInstallments(ctx, actor.GroupID, monthQuery(month))
}

func (a *Aggregator) Dashboard(ctx context.Context, actor Actor, month InvoiceMonth) (DashboardView, error) {
	installments, err := a.InstallmentsForMonth(ctx, actor, month)
	if err != nil {
		return DashboardView{}, err
	}
	cards, err := a.store.ListCards(ctx, actor.GroupID)
	if err != nil {
		return DashboardView{}, err
	}
	return BuildDashboard(month, cards, installments), nil
}

// History returns the totals of the `months` invoice months ending at
// current, oldest first. Months are read in parallel; if any read fails
// the whole call fails.
func (a *Aggregator) History(ctx context.Context, actor Actor, months int, current InvoiceMonth) ([]HistoryPoint, error) {
	if err := actor.Require(PermViewDashboard); err != nil {
		return nil, err
	}
	if months < 1 || months > MaxHistoryMonths {
		return nil, invalid("months", "must be between 1 and 24")
	}
	if !current.Valid() {
		return nil, invalid("month", "must be between 1 and 12")
	}

	window := current.Trailing(months)
	points := make([]HistoryPoint, len(window))

	g, gctx := errgroup.WithContext(ctx)
	for i, month := range window {
		i, month := i, month
		g.Go(func() error {
			installments, err := a.store.QueryInstallments(gctx, actor.GroupID, ForMonth(month))
			if err != nil {
				return err
			}
			points[i] = HistoryPoint{Month: month, Label: month.Label(), Total: MonthTotal(installments)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}

// WatchDashboard keeps a dashboard view live. fn is first called once both
// the cards and the month's installments have been loaded, then after
// every change to either.
func (a *Aggregator) WatchDashboard(ctx context.Context, actor Actor, month InvoiceMonth, fn func(DashboardView, error)) (Subscription, error) {
	if err := actor.Require(PermViewDashboard); err != nil {
		return nil, err
	}
	if !month.Valid() {
		return nil, invalid("month", "must be between 1 and 12")
	}

	var (
		mu           sync.Mutex
		cards        []Card
		installments []Installment
		haveCards    bool
		haveInst     bool
	)
	emit := func() {
		mu.Lock()
		ready := haveCards && haveInst
		c, i := cards, installments
		mu.Unlock()
		if ready {
			fn(BuildDashboard(month, c, i), nil)
		}
	}

	cardSub, err := a.store.WatchCards(ctx, actor.GroupID, func(latest []Card, err error) {
		if err != nil {
			fn(DashboardView{}, err)
			return
		}
		mu.Lock()
		cards, haveCards = latest, true
		mu.Unlock()
		emit()
	})
	if err != nil {
		return nil, err
	}

	instSub, err := a.store.WatchInstallments(ctx, actor.GroupID, monthQuery(month), func(latest []Installment, err error) {
		if err != nil {
			fn(DashboardView{}, err)
			return
		}
		mu.Lock()
		installments, haveInst = latest, true
		mu.Unlock()
		emit()
	})
	if err != nil {
		cardSub.Unsubscribe()
		return nil, err
	}
	return Subscriptions{cardSub, instSub}, nil
}

func monthQuery(month InvoiceMonth) InstallmentQuery {
	q := ForMonth(month)
	q.OrderBy = OrderByDueDate
	return q
}
