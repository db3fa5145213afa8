/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Seeds a fresh household with cards, categories and purchases that show
	the engine's behaviour. Everything goes through billing.Manager, so a
	seeded household is indistinguishable from one built by hand.

AVAILABLE SCENARIOS:

	family:       Two cards, split installments, a subscription, a member
	              with limited permissions
	cycle-edge:   Closing-day purchases, December rollover, due day 31
	              clamped in short months
	paid-history: Six months of purchases with the past invoices paid

HOW SCENARIOS WORK:
 1. Create demo users with a unique suffix (loads never collide)
 2. Bootstrap the owner's household
 3. Add cards, categories, purchases and payments as the owner
 4. Return signed tokens for every demo user

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "family"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(s *seeder)
 3. Register it in scenarioLoaders

NOTE:

	Only routed when demo mode is enabled.

SEE ALSO:
  - handlers.go: Handler wiring
  - server.go: Demo-only routes
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/card-engine/billing"
	"github.com/warp/card-engine/household"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "family",
		Name:        "Family Household",
		Description: "Two cards, a 3x installment with a cent remainder, a streaming subscription and a member who can only add purchases",
	},
	{
		ID:          "cycle-edge",
		Name:        "Billing Cycle Edges",
		Description: "Purchases on and after the closing day, a December purchase billed in January, and due day 31 in February",
	},
	{
		ID:          "paid-history",
		Name:        "Paid History",
		Description: "Six months of spending with every past invoice paid, for the history chart",
	},
}

var scenarioLoaders = map[string]func(*seeder){
	"family":       loadFamilyScenario,
	"cycle-edge":   loadCycleEdgeScenario,
	"paid-history": loadPaidHistoryScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario seeds a new demo household.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	s, err := h.newSeeder(r.Context(), req.ScenarioID)
	if err != nil {
		writeBillingError(w, "Failed to create demo household", err)
		return
	}
	load(s)
	if s.err != nil {
		writeBillingError(w, "Failed to load scenario", s.err)
		return
	}

	tokens := make(map[string]string, len(s.users))
	if h.Tokens != nil {
		for key, id := range s.users {
			token, err := h.Tokens.Issue(id, s.owner.GroupID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to issue demo token", err)
				return
			}
			tokens[key] = token
		}
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.logger.InfoContext(r.Context(), "scenario loaded", "scenario", req.ScenarioID, "group_id", s.owner.GroupID)

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		GroupID:    string(s.owner.GroupID),
		Tokens:     tokens,
	})
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder builds a demo household. After the first failure every step is
// a no-op and err holds the cause.
type seeder struct {
	ctx    context.Context
	h      *Handler
	suffix string
	today  billing.Date
	owner  billing.Actor
	users  map[string]household.Identity
	cards  map[string]billing.CardID
	err    error
}

func (h *Handler) newSeeder(ctx context.Context, scenarioID string) (*seeder, error) {
	s := &seeder{
		ctx:    ctx,
		h:      h,
		suffix: strings.SplitN(uuid.NewString(), "-", 2)[0],
		today:  billing.DateOf(h.now()),
		users:  make(map[string]household.Identity),
		cards:  make(map[string]billing.CardID),
	}
	owner := s.identity("owner", "Ana")
	member, _, err := h.Households.EnsureHousehold(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.owner = member.Actor()
	if _, err := h.Households.Rename(ctx, s.owner, "Demo: "+scenarioID); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *seeder) identity(key, name string) household.Identity {
	id := household.Identity{
		UserID:      billing.UserID("demo-" + key + "-" + s.suffix),
		Email:       strings.ToLower(name) + "+" + s.suffix + "@demo.local",
		DisplayName: name,
	}
	s.users[key] = id
	return id
}

func (s *seeder) member(key, name string, perms ...billing.Permission) {
	if s.err != nil {
		return
	}
	id := s.identity(key, name)
	if _, s.err = s.h.Households.AddMember(s.ctx, s.owner, id); s.err != nil {
		return
	}
	_, s.err = s.h.Households.UpdateMemberPermissions(s.ctx, s.owner, id.UserID, perms)
}

func (s *seeder) card(name, network, limit string, closingDay, dueDay int, color string) {
	if s.err != nil {
		return
	}
	var c billing.Card
	c, s.err = s.h.Manager.AddCard(s.ctx, s.owner, billing.CardDraft{
		Name:        name,
		Network:     network,
		CreditLimit: billing.MustParseMoney(limit),
		ClosingDay:  closingDay,
		DueDay:      dueDay,
		Color:       color,
	})
	s.cards[name] = c.ID
}

func (s *seeder) category(name, color string) {
	if s.err != nil {
		return
	}
	_, s.err = s.h.Manager.AddCategory(s.ctx, s.owner, name, color)
}

func (s *seeder) purchase(card, description, total string, date billing.Date, category string, paymentType billing.PaymentType, count int) billing.PurchaseID {
	if s.err != nil {
		return ""
	}
	var p billing.Purchase
	p, s.err = s.h.Manager.AddPurchase(s.ctx, s.owner, billing.PurchaseDraft{
		Description:      description,
		TotalAmount:      billing.MustParseMoney(total),
		PurchaseDate:     date,
		InstallmentCount: count,
		Category:         category,
		PaymentType:      paymentType,
		CardID:           s.cards[card],
	})
	return p.ID
}

func (s *seeder) payMonth(month billing.InvoiceMonth) {
	if s.err != nil {
		return
	}
	_, s.err = s.h.Manager.PayInvoiceMonth(s.ctx, s.owner, month)
}

// daysAgo returns a date relative to the seeding day.
func (s *seeder) daysAgo(n int) billing.Date {
	return billing.DateOf(s.today.Time.AddDate(0, 0, -n))
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFamilyScenario(s *seeder) {
	s.card("Nubank", "Mastercard", "5000.00", 5, 12, "#8A05BE")
	s.card("Itau Visa", "Visa", "8000.00", 25, 5, "#EC7000")

	s.category("Groceries", "#4CAF50")
	s.category("Streaming", "#E50914")
	s.category("Electronics", "#2196F3")

	s.purchase("Nubank", "Weekly groceries", "312.47", s.daysAgo(3), "Groceries", billing.PaymentSingle, 1)
	// 100.00 / 3 puts the extra cent on the first installment.
	s.purchase("Itau Visa", "Headphones", "100.00", s.daysAgo(10), "Electronics", billing.PaymentInstallment, 3)
	s.purchase("Itau Visa", "Laptop", "4599.90", s.daysAgo(40), "Electronics", billing.PaymentInstallment, 10)
	s.purchase("Nubank", "Video streaming", "39.90", s.daysAgo(20), "Streaming", billing.PaymentRecurring, 1)

	s.member("partner", "Bruno", billing.PermViewDashboard, billing.PermManagePurchases)
}

func loadCycleEdgeScenario(s *seeder) {
	year := s.today.Year() - 1

	s.card("Closing 10 / Due 31", "Elo", "3000.00", 10, 31, "#FFCB05")
	s.category("Edge cases", "#9E9E9E")

	// Bought before the closing day: billed the same month.
	s.purchase("Closing 10 / Due 31", "Before closing", "90.00", billing.NewDate(year, time.March, 9), "Edge cases", billing.PaymentSingle, 1)
	// Bought on the closing day: billed the following month.
	s.purchase("Closing 10 / Due 31", "On closing day", "90.00", billing.NewDate(year, time.March, 10), "Edge cases", billing.PaymentSingle, 1)
	// December after closing rolls into January of the next year.
	s.purchase("Closing 10 / Due 31", "Holiday gifts", "600.00", billing.NewDate(year, time.December, 20), "Edge cases", billing.PaymentInstallment, 3)
	// Second installment lands in February, due on its last day.
	s.purchase("Closing 10 / Due 31", "Winter coat", "250.01", billing.NewDate(year, time.December, 5), "Edge cases", billing.PaymentInstallment, 3)
}

func loadPaidHistoryScenario(s *seeder) {
	s.card("Everyday", "Visa", "6000.00", 1, 10, "#1A1F71")
	s.category("Groceries", "#4CAF50")
	s.category("Transport", "#FF9800")

	// Closing day 1 bills every purchase in the following month.
	current := s.today.InvoiceMonth()
	for back := 6; back >= 1; back-- {
		billed := current.Add(-back + 1)
		bought := billed.Prev().Day(15)
		s.purchase("Everyday", "Market run", "420.35", bought, "Groceries", billing.PaymentSingle, 1)
		s.purchase("Everyday", "Fuel", "180.00", bought, "Transport", billing.PaymentSingle, 1)
	}
	for back := 5; back >= 1; back-- {
		s.payMonth(current.Add(-back))
	}
}
