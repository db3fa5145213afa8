/*
handlers.go - HTTP API handlers for the card engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Manager (writes),
  billing.Aggregator (reads) and household.Service (membership).

ENDPOINTS:
  Cards:
    GET    /api/cards                       List cards with available credit
    POST   /api/cards                       Create card
    PUT    /api/cards/{id}                  Update card settings
    DELETE /api/cards/{id}                  Delete card (purchases keep snapshots)

  Purchases:
    GET    /api/purchases                   List purchases, newest first
    POST   /api/purchases                   Create purchase + installments
    POST   /api/purchases/preview           Project without saving
    PUT    /api/purchases/{id}              Partial edit (cosmetic or financial)
    DELETE /api/purchases/{id}              Delete with proportional release
    POST   /api/purchases/{id}/cancel       Cancel a recurring purchase

  Invoices:
    GET    /api/invoices/{year}/{month}     Installments of an invoice month
    POST   /api/invoices/{year}/{month}/pay Pay every pending installment
    POST   /api/installments/{id}/pay       Pay one installment
    GET    /api/dashboard                   Dashboard for ?year=&month=
    GET    /api/history                     Trailing month totals

  Household:
    POST   /api/households                  Create the caller's household
    GET    /api/household/members           List members
    POST   /api/household/members           Add member (owner)
    PUT    /api/household/members/{userID}/permissions
    DELETE /api/household/members/{userID}
    POST   /api/household/leave
    PUT    /api/household                   Rename (owner)

  Admin:
    POST   /api/admin/repair                Ownership repair (owner)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing or invalid token
  - 403: Missing permission
  - 404: Resource not found
  - 409: Repair already running
  - 500: Commit failures and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution
  - stream.go: Live invoice feed
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/card-engine/billing"
	"github.com/warp/card-engine/household"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      billing.Store
	Manager    *billing.Manager
	Aggregator *billing.Aggregator
	Households *household.Service
	Tokens     *TokenIssuer
	Repair     *RepairScheduler

	logger *slog.Logger
	now    func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the billing services around a store. now drives
// "today" for every service; pass time.Now outside tests.
func NewHandler(store billing.Store, tokens *TokenIssuer, logger *slog.Logger, now func() time.Time) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	manager := billing.NewManager(store, billing.WithClock(now), billing.WithLogger(logger))
	return &Handler{
		Store:      store,
		Manager:    manager,
		Aggregator: billing.NewAggregator(store),
		Households: household.NewService(store, household.WithClock(now), household.WithLogger(logger)),
		Tokens:     tokens,
		Repair:     NewRepairScheduler(manager, logger),
		logger:     logger,
		now:        now,
	}
}

func (h *Handler) currentMonth() billing.InvoiceMonth {
	return billing.DateOf(h.now()).InvoiceMonth()
}

// actor returns the request's actor. A missing actor is the zero Actor,
// which every billing operation rejects with a permission error.
func actor(r *http.Request) billing.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and database reachability when the store can tell.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CARD HANDLERS
// =============================================================================

// ListCards returns the household's cards.
// GET /api/cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.Manager.Cards(r.Context(), actor(r))
	if err != nil {
		writeBillingError(w, "Failed to list cards", err)
		return
	}
	dtos := make([]CardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toCardDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCard registers a card with zero used credit.
// POST /api/cards
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if !decode(w, r, &req) {
		return
	}
	card, err := h.Manager.AddCard(r.Context(), actor(r), req.draft())
	if err != nil {
		writeBillingError(w, "Failed to create card", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardDTO(card))
}

// UpdateCard changes a card's settings.
// PUT /api/cards/{id}
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if !decode(w, r, &req) {
		return
	}
	id := billing.CardID(chi.URLParam(r, "id"))
	card, err := h.Manager.UpdateCard(r.Context(), actor(r), id, req.draft())
	if err != nil {
		writeBillingError(w, "Failed to update card", err)
		return
	}
	writeJSON(w, http.StatusOK, toCardDTO(card))
}

// DeleteCard removes a card.
// DELETE /api/cards/{id}
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id := billing.CardID(chi.URLParam(r, "id"))
	if err := h.Manager.DeleteCard(r.Context(), actor(r), id); err != nil {
		writeBillingError(w, "Failed to delete card", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// GET /api/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Manager.Categories(r.Context(), actor(r))
	if err != nil {
		writeBillingError(w, "Failed to list categories", err)
		return
	}
	dtos := make([]CategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/categories
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !decode(w, r, &req) {
		return
	}
	cat, err := h.Manager.AddCategory(r.Context(), actor(r), req.Name, req.Color)
	if err != nil {
		writeBillingError(w, "Failed to create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(cat))
}

// DELETE /api/categories/{id}
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := billing.CategoryID(chi.URLParam(r, "id"))
	if err := h.Manager.DeleteCategory(r.Context(), actor(r), id); err != nil {
		writeBillingError(w, "Failed to delete category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// ListPurchases returns purchases, newest first.
// GET /api/purchases
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.Manager.Purchases(r.Context(), actor(r))
	if err != nil {
		writeBillingError(w, "Failed to list purchases", err)
		return
	}
	cardID := r.URL.Query().Get("card_id")
	dtos := make([]PurchaseDTO, 0, len(purchases))
	for _, p := range purchases {
		if cardID != "" && string(p.CardID) != cardID {
			continue
		}
		dtos = append(dtos, toPurchaseDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePurchase records a purchase and projects its installments.
// POST /api/purchases
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	draft, err := req.draft()
	if err != nil {
		writeBillingError(w, "Invalid purchase", err)
		return
	}
	p, err := h.Manager.AddPurchase(r.Context(), actor(r), draft)
	if err != nil {
		writeBillingError(w, "Failed to create purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(p))
}

// PreviewPurchase returns the installments a purchase would produce.
// POST /api/purchases/preview
func (h *Handler) PreviewPurchase(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decode(w, r, &req) {
		return
	}
	draft, err := req.draft()
	if err != nil {
		writeBillingError(w, "Invalid purchase", err)
		return
	}
	installments, err := h.Manager.Preview(r.Context(), actor(r), draft)
	if err != nil {
		writeBillingError(w, "Failed to preview purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Installments: toInstallmentDTOs(installments),
		Total:        money(billing.MonthTotal(installments)),
	})
}

// UpdatePurchase applies a partial edit.
// PUT /api/purchases/{id}
func (h *Handler) UpdatePurchase(w http.ResponseWriter, r *http.Request) {
	var req UpdatePurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	changes, err := req.changes()
	if err != nil {
		writeBillingError(w, "Invalid purchase", err)
		return
	}
	id := billing.PurchaseID(chi.URLParam(r, "id"))
	p, kind, err := h.Manager.UpdatePurchase(r.Context(), actor(r), id, changes)
	if err != nil {
		writeBillingError(w, "Failed to update purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, UpdatePurchaseResponse{Purchase: toPurchaseDTO(p), EditKind: string(kind)})
}

// DELETE /api/purchases/{id}
func (h *Handler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
	id := billing.PurchaseID(chi.URLParam(r, "id"))
	if err := h.Manager.DeletePurchase(r.Context(), actor(r), id); err != nil {
		writeBillingError(w, "Failed to delete purchase", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelPurchase stops a recurring purchase from the next month on.
// POST /api/purchases/{id}/cancel
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	id := billing.PurchaseID(chi.URLParam(r, "id"))
	removed, err := h.Manager.CancelRecurring(r.Context(), actor(r), id)
	if err != nil {
		writeBillingError(w, "Failed to cancel purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, CancelRecurringResponse{Removed: removed})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// GetInvoice returns one invoice month.
// GET /api/invoices/{year}/{month}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(chi.URLParam(r, "year"), chi.URLParam(r, "month"))
	if err != nil {
		writeBillingError(w, "Invalid invoice month", err)
		return
	}
	installments, err := h.Aggregator.InstallmentsForMonth(r.Context(), actor(r), month)
	if err != nil {
		writeBillingError(w, "Failed to load invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, InvoiceDTO{
		Month:        month.String(),
		Label:        month.Label(),
		Total:        money(billing.MonthTotal(installments)),
		Pending:      money(billing.PendingTotal(installments)),
		Installments: toInstallmentDTOs(installments),
	})
}

// PayInvoice pays every pending installment of the month. Paying a month
// with nothing pending is not an error.
// POST /api/invoices/{year}/{month}/pay
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(chi.URLParam(r, "year"), chi.URLParam(r, "month"))
	if err != nil {
		writeBillingError(w, "Invalid invoice month", err)
		return
	}
	paid, err := h.Manager.PayInvoiceMonth(r.Context(), actor(r), month)
	if err != nil {
		writeBillingError(w, "Failed to pay invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, PayInvoiceResponse{Paid: paid})
}

// POST /api/installments/{id}/pay
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	id := billing.InstallmentID(chi.URLParam(r, "id"))
	if err := h.Manager.PayInstallment(r.Context(), actor(r), id); err != nil {
		writeBillingError(w, "Failed to pay installment", err)
		return
	}
	writeJSON(w, http.StatusOK, PayInvoiceResponse{Paid: 1})
}

// GetDashboard returns the dashboard for ?year=&month=, defaulting to the
// current invoice month.
// GET /api/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	month, err := h.queryMonth(r)
	if err != nil {
		writeBillingError(w, "Invalid invoice month", err)
		return
	}
	view, err := h.Aggregator.Dashboard(r.Context(), actor(r), month)
	if err != nil {
		writeBillingError(w, "Failed to load dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(view))
}

// GetHistory returns trailing month totals, oldest first.
// GET /api/history?year=&month=&months=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	month, err := h.queryMonth(r)
	if err != nil {
		writeBillingError(w, "Invalid invoice month", err)
		return
	}
	months := billing.DefaultHistoryMonths
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid months parameter", err)
			return
		}
		months = n
	}
	points, err := h.Aggregator.History(r.Context(), actor(r), months, month)
	if err != nil {
		writeBillingError(w, "Failed to load history", err)
		return
	}
	dtos := make([]HistoryPointDTO, len(points))
	for i, p := range points {
		dtos[i] = HistoryPointDTO{Month: p.Month.String(), Label: p.Label, Total: money(p.Total)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) queryMonth(r *http.Request) (billing.InvoiceMonth, error) {
	q := r.URL.Query()
	year, month := q.Get("year"), q.Get("month")
	if year == "" && month == "" {
		return h.currentMonth(), nil
	}
	current := h.currentMonth()
	if year == "" {
		year = strconv.Itoa(current.Year)
	}
	if month == "" {
		month = strconv.Itoa(int(current.Month))
	}
	return parseMonth(year, month)
}

// =============================================================================
// HOUSEHOLD HANDLERS
// =============================================================================

// CreateHousehold creates a household for the token's user, or returns the
// existing membership.
// POST /api/households
func (h *Handler) CreateHousehold(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", ErrMissingToken)
		return
	}
	member, created, err := h.Households.EnsureHousehold(r.Context(), id)
	if err != nil {
		writeBillingError(w, "Failed to create household", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, HouseholdResponse{
		GroupID: string(member.GroupID),
		Created: created,
		Member:  toMemberDTO(member),
	})
}

// GET /api/household/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Households.Members(r.Context(), actor(r))
	if err != nil {
		writeBillingError(w, "Failed to list members", err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/household/members
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.Households.AddMember(r.Context(), actor(r), household.Identity{
		UserID:      billing.UserID(req.UserID),
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeBillingError(w, "Failed to add member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// PUT /api/household/members/{userID}/permissions
func (h *Handler) UpdateMemberPermissions(w http.ResponseWriter, r *http.Request) {
	var req PermissionsRequest
	if !decode(w, r, &req) {
		return
	}
	perms := make([]billing.Permission, len(req.Permissions))
	for i, p := range req.Permissions {
		perms[i] = billing.Permission(p)
	}
	userID := billing.UserID(chi.URLParam(r, "userID"))
	m, err := h.Households.UpdateMemberPermissions(r.Context(), actor(r), userID, perms)
	if err != nil {
		writeBillingError(w, "Failed to update permissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

// DELETE /api/household/members/{userID}
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := billing.UserID(chi.URLParam(r, "userID"))
	if err := h.Households.RemoveMember(r.Context(), actor(r), userID); err != nil {
		writeBillingError(w, "Failed to remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/household/leave
func (h *Handler) LeaveHousehold(w http.ResponseWriter, r *http.Request) {
	if err := h.Households.Leave(r.Context(), actor(r)); err != nil {
		writeBillingError(w, "Failed to leave household", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/household
func (h *Handler) RenameHousehold(w http.ResponseWriter, r *http.Request) {
	var req RenameHouseholdRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.Households.Rename(r.Context(), actor(r), req.Name)
	if err != nil {
		writeBillingError(w, "Failed to rename household", err)
		return
	}
	writeJSON(w, http.StatusOK, GroupDTO{ID: string(g.ID), Name: g.Name, OwnerID: string(g.OwnerID)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunRepair runs the ownership repair now. Owner only.
// POST /api/admin/repair
func (h *Handler) RunRepair(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Households.RequireOwner(r.Context(), actor(r)); err != nil {
		writeBillingError(w, "Repair not allowed", err)
		return
	}
	report, err := h.Repair.RunOnce(r.Context())
	if err != nil {
		writeBillingError(w, "Repair failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRepairResponse(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeBillingError maps billing error kinds to HTTP statuses.
func writeBillingError(w http.ResponseWriter, message string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, billing.ErrPermissionDenied):
		status, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, ErrRepairRunning):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, billing.ErrTransactionFailed):
		status, code = http.StatusInternalServerError, "transaction_failed"
	case errors.Is(err, billing.ErrValidation), errors.Is(err, household.ErrOwnerCannotLeave):
		status, code = http.StatusBadRequest, "validation_failed"
	case billing.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	}
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
