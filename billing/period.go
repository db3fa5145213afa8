package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// INVOICE MONTH - The reference month/year an installment is billed in
// =============================================================================

// InvoiceMonth identifies one monthly invoice (fatura).
//
// Examples:
//   - {2024, February}: the invoice every installment with reference 02/2024
//     belongs to, due on the card's due day in February
type InvoiceMonth struct {
	Year  int
	Month time.Month
}

func NewInvoiceMonth(year int, month time.Month) InvoiceMonth {
	return InvoiceMonth{Year: year, Month: month}
}

// Next returns the following month, rolling December into January.
func (m InvoiceMonth) Next() InvoiceMonth { return m.Add(1) }

// Prev returns the preceding month, rolling January into December.
func (m InvoiceMonth) Prev() InvoiceMonth { return m.Add(-1) }

// Add moves n months forward (or backward when n < 0).
func (m InvoiceMonth) Add(n int) InvoiceMonth {
	idx := m.index() + n
	year := idx / 12
	month := idx % 12
	if month < 0 {
		month += 12
		year--
	}
	return InvoiceMonth{Year: year, Month: time.Month(month + 1)}
}

func (m InvoiceMonth) index() int { return m.Year*12 + int(m.Month) - 1 }

func (m InvoiceMonth) Before(other InvoiceMonth) bool { return m.index() < other.index() }
func (m InvoiceMonth) After(other InvoiceMonth) bool  { return m.index() > other.index() }

func (m InvoiceMonth) Valid() bool { return m.Month >= time.January && m.Month <= time.December }

// Day returns the given day of this month, clamped to the month length.
func (m InvoiceMonth) Day(day int) Date { return NewDateClamped(m.Year, m.Month, day) }

// Label returns the short chart label, e.g. "Jan/24".
func (m InvoiceMonth) Label() string {
	return fmt.Sprintf("%s/%02d", m.Month.String()[:3], m.Year%100)
}

func (m InvoiceMonth) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// Trailing returns the n months ending at (and including) m, oldest first.
func (m InvoiceMonth) Trailing(n int) []InvoiceMonth {
	if n <= 0 {
		return nil
	}
	months := make([]InvoiceMonth, n)
	for i := 0; i < n; i++ {
		months[i] = m.Add(i - n + 1)
	}
	return months
}

// =============================================================================
// BILLING CYCLE - Best-day rule
// =============================================================================

// FirstInvoiceMonth applies the best-day rule: a purchase made on or after
// the card's closing day is billed in the next cycle.
func FirstInvoiceMonth(purchaseDate Date, closingDay int) InvoiceMonth {
	m := purchaseDate.InvoiceMonth()
	if purchaseDate.Day() >= closingDay {
		return m.Next()
	}
	return m
}
