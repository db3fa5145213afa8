/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  billing types from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Money goes out as fixed two-decimal strings ("33.34") and comes in as
  either a JSON number or a string. Dates are "YYYY-MM-DD"; invoice months
  are "YYYY-MM" with a short "Jan/24" label.

VALIDATION:
  Validation is done in the billing package, not in DTOs. DTOs only parse.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/card-engine/billing"
)

// =============================================================================
// CARDS
// =============================================================================

type CardDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Network     string `json:"network,omitempty"`
	CreditLimit string `json:"credit_limit"`
	UsedAmount  string `json:"used_amount"`
	Available   string `json:"available"`
	ClosingDay  int    `json:"closing_day"`
	DueDay      int    `json:"due_day"`
	Color       string `json:"color,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
}

type CardRequest struct {
	Name        string          `json:"name"`
	Network     string          `json:"network"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	ClosingDay  int             `json:"closing_day"`
	DueDay      int             `json:"due_day"`
	Color       string          `json:"color"`
}

func (r CardRequest) draft() billing.CardDraft {
	return billing.CardDraft{
		Name:        r.Name,
		Network:     r.Network,
		CreditLimit: r.CreditLimit,
		ClosingDay:  r.ClosingDay,
		DueDay:      r.DueDay,
		Color:       r.Color,
	}
}

func toCardDTO(c billing.Card) CardDTO {
	return CardDTO{
		ID:          string(c.ID),
		Name:        c.Name,
		Network:     c.Network,
		CreditLimit: money(c.CreditLimit),
		UsedAmount:  money(c.UsedAmount),
		Available:   money(c.Available()),
		ClosingDay:  c.ClosingDay,
		DueDay:      c.DueDay,
		Color:       c.Color,
		CreatedBy:   c.CreatedByName,
	}
}

// =============================================================================
// CATEGORIES
// =============================================================================

type CategoryDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CategoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func toCategoryDTO(c billing.Category) CategoryDTO {
	return CategoryDTO{ID: string(c.ID), Name: c.Name, Color: c.Color}
}

// =============================================================================
// PURCHASES
// =============================================================================

type PurchaseDTO struct {
	ID                   string `json:"id"`
	Description          string `json:"description"`
	TotalAmount          string `json:"total_amount"`
	PurchaseDate         string `json:"purchase_date"`
	InstallmentCount     int    `json:"installment_count"`
	Category             string `json:"category,omitempty"`
	PaymentType          string `json:"payment_type"`
	CardID               string `json:"card_id"`
	CardName             string `json:"card_name"`
	CardColor            string `json:"card_color,omitempty"`
	PaidInstallmentCount int    `json:"paid_installment_count"`
	Status               string `json:"status"`
	CancellationDate     string `json:"cancellation_date,omitempty"`
	CreatedBy            string `json:"created_by,omitempty"`
}

// PurchaseRequest creates a purchase.
type PurchaseRequest struct {
	Description      string          `json:"description"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PurchaseDate     string          `json:"purchase_date"`
	InstallmentCount int             `json:"installment_count"`
	Category         string          `json:"category"`
	PaymentType      string          `json:"payment_type"`
	CardID           string          `json:"card_id"`
}

func (r PurchaseRequest) draft() (billing.PurchaseDraft, error) {
	d := billing.PurchaseDraft{
		Description:      r.Description,
		TotalAmount:      r.TotalAmount,
		InstallmentCount: r.InstallmentCount,
		Category:         r.Category,
		PaymentType:      billing.PaymentType(r.PaymentType),
		CardID:           billing.CardID(r.CardID),
	}
	if r.PurchaseDate != "" {
		date, err := billing.ParseDate(r.PurchaseDate)
		if err != nil {
			return d, &billing.ValidationError{Field: "purchase_date", Message: "must be YYYY-MM-DD"}
		}
		d.PurchaseDate = date
	}
	return d, nil
}

// UpdatePurchaseRequest is a partial update; absent fields are unchanged.
type UpdatePurchaseRequest struct {
	Description      *string          `json:"description"`
	TotalAmount      *decimal.Decimal `json:"total_amount"`
	PurchaseDate     *string          `json:"purchase_date"`
	InstallmentCount *int             `json:"installment_count"`
	Category         *string          `json:"category"`
	PaymentType      *string          `json:"payment_type"`
	CardID           *string          `json:"card_id"`
}

func (r UpdatePurchaseRequest) changes() (billing.PurchaseChanges, error) {
	c := billing.PurchaseChanges{
		Description:      r.Description,
		TotalAmount:      r.TotalAmount,
		InstallmentCount: r.InstallmentCount,
		Category:         r.Category,
	}
	if r.PurchaseDate != nil {
		date, err := billing.ParseDate(*r.PurchaseDate)
		if err != nil {
			return c, &billing.ValidationError{Field: "purchase_date", Message: "must be YYYY-MM-DD"}
		}
		c.PurchaseDate = &date
	}
	if r.PaymentType != nil {
		t := billing.PaymentType(*r.PaymentType)
		c.PaymentType = &t
	}
	if r.CardID != nil {
		id := billing.CardID(*r.CardID)
		c.CardID = &id
	}
	return c, nil
}

type UpdatePurchaseResponse struct {
	Purchase PurchaseDTO `json:"purchase"`
	EditKind string      `json:"edit_kind"`
}

type CancelRecurringResponse struct {
	Removed int `json:"removed"`
}

// PreviewRequest projects a purchase on a card without saving anything.
type PreviewRequest struct {
	PurchaseRequest
}

type PreviewResponse struct {
	Installments []InstallmentDTO `json:"installments"`
	Total        string           `json:"total"`
}

func toPurchaseDTO(p billing.Purchase) PurchaseDTO {
	dto := PurchaseDTO{
		ID:                   string(p.ID),
		Description:          p.Description,
		TotalAmount:          money(p.TotalAmount),
		PurchaseDate:         p.PurchaseDate.String(),
		InstallmentCount:     p.InstallmentCount,
		Category:             p.Category,
		PaymentType:          string(p.PaymentType),
		CardID:               string(p.CardID),
		CardName:             p.CardName,
		CardColor:            p.CardColor,
		PaidInstallmentCount: p.PaidInstallmentCount,
		Status:               string(p.Status),
		CreatedBy:            p.CreatedByName,
	}
	if p.CancellationDate != nil {
		dto.CancellationDate = p.CancellationDate.String()
	}
	return dto
}

// =============================================================================
// INSTALLMENTS / INVOICES
// =============================================================================

type InstallmentDTO struct {
	ID                  string `json:"id,omitempty"`
	PurchaseID          string `json:"purchase_id,omitempty"`
	CardID              string `json:"card_id"`
	Number              int    `json:"number"`
	Amount              string `json:"amount"`
	Month               string `json:"month"`
	Status              string `json:"status"`
	DueDate             string `json:"due_date"`
	PurchaseDescription string `json:"purchase_description"`
	CardName            string `json:"card_name"`
	Category            string `json:"category,omitempty"`
}

func toInstallmentDTO(i billing.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:                  string(i.ID),
		PurchaseID:          string(i.PurchaseID),
		CardID:              string(i.CardID),
		Number:              i.Number,
		Amount:              money(i.Amount),
		Month:               i.Month.String(),
		Status:              string(i.Status),
		DueDate:             i.DueDate.String(),
		PurchaseDescription: i.PurchaseDescription,
		CardName:            i.CardName,
		Category:            i.Category,
	}
}

func toInstallmentDTOs(installments []billing.Installment) []InstallmentDTO {
	out := make([]InstallmentDTO, len(installments))
	for i, inst := range installments {
		out[i] = toInstallmentDTO(inst)
	}
	return out
}

type InvoiceDTO struct {
	Month        string           `json:"month"`
	Label        string           `json:"label"`
	Total        string           `json:"total"`
	Pending      string           `json:"pending"`
	Installments []InstallmentDTO `json:"installments"`
}

type PayInvoiceResponse struct {
	Paid int `json:"paid"`
}

type SliceDTO struct {
	Label string `json:"label"`
	Total string `json:"total"`
	Count int    `json:"count"`
}

func toSliceDTOs(slices []billing.Slice) []SliceDTO {
	out := make([]SliceDTO, len(slices))
	for i, s := range slices {
		out[i] = SliceDTO{Label: s.Label, Total: money(s.Total), Count: s.Count}
	}
	return out
}

type DashboardDTO struct {
	Month           string           `json:"month"`
	Label           string           `json:"label"`
	MonthTotal      string           `json:"month_total"`
	PendingTotal    string           `json:"pending_total"`
	TotalLimit      string           `json:"total_limit"`
	UsedCredit      string           `json:"used_credit"`
	AvailableCredit string           `json:"available_credit"`
	Utilization     string           `json:"utilization_percent"`
	Cards           []CardDTO        `json:"cards"`
	Installments    []InstallmentDTO `json:"installments"`
	ByCard          []SliceDTO       `json:"by_card"`
	TopCategories   []SliceDTO       `json:"top_categories"`
}

func toDashboardDTO(v billing.DashboardView) DashboardDTO {
	cards := make([]CardDTO, len(v.Cards))
	for i, c := range v.Cards {
		cards[i] = toCardDTO(c)
	}
	return DashboardDTO{
		Month:           v.Month.String(),
		Label:           v.Month.Label(),
		MonthTotal:      money(v.MonthTotal),
		PendingTotal:    money(v.PendingTotal),
		TotalLimit:      money(v.TotalLimit),
		UsedCredit:      money(v.UsedCredit),
		AvailableCredit: money(v.AvailableCredit),
		Utilization:     v.Utilization.StringFixed(1),
		Cards:           cards,
		Installments:    toInstallmentDTOs(v.Installments),
		ByCard:          toSliceDTOs(v.ByCard),
		TopCategories:   toSliceDTOs(v.TopCategories),
	}
}

type HistoryPointDTO struct {
	Month string `json:"month"`
	Label string `json:"label"`
	Total string `json:"total"`
}

// =============================================================================
// HOUSEHOLDS
// =============================================================================

type MemberDTO struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	JoinedAt    string   `json:"joined_at"`
}

type HouseholdResponse struct {
	GroupID string    `json:"group_id"`
	Created bool      `json:"created"`
	Member  MemberDTO `json:"member"`
}

type AddMemberRequest struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type RenameHouseholdRequest struct {
	Name string `json:"name"`
}

type GroupDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

type PermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func toMemberDTO(m billing.Member) MemberDTO {
	perms := []string{}
	for _, p := range m.Permissions.List() {
		perms = append(perms, string(p))
	}
	return MemberDTO{
		UserID:      string(m.UserID),
		Email:       m.Email,
		DisplayName: m.DisplayName,
		Role:        string(m.Role),
		Permissions: perms,
		JoinedAt:    m.JoinedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// ADMIN / SCENARIOS
// =============================================================================

type RepairResponse struct {
	Scanned  int      `json:"scanned"`
	Repaired int      `json:"repaired"`
	Orphans  []string `json:"orphans"`
}

func toRepairResponse(r billing.RepairReport) RepairResponse {
	orphans := make([]string, len(r.Orphans))
	for i, id := range r.Orphans {
		orphans[i] = string(id)
	}
	return RepairResponse{Scanned: r.Scanned, Repaired: r.Repaired, Orphans: orphans}
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string            `json:"scenario_id"`
	GroupID    string            `json:"group_id"`
	Tokens     map[string]string `json:"tokens"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func parseMonth(yearStr, monthStr string) (billing.InvoiceMonth, error) {
	var year, month int
	if _, err := fmt.Sscanf(yearStr, "%d", &year); err != nil {
		return billing.InvoiceMonth{}, &billing.ValidationError{Field: "year", Message: "must be a number"}
	}
	if _, err := fmt.Sscanf(monthStr, "%d", &month); err != nil {
		return billing.InvoiceMonth{}, &billing.ValidationError{Field: "month", Message: "must be a number"}
	}
	m := billing.NewInvoiceMonth(year, time.Month(month))
	if !m.Valid() {
		return billing.InvoiceMonth{}, &billing.ValidationError{Field: "month", Message: "must be between 1 and 12"}
	}
	return m, nil
}
