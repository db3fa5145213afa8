/*
projection.go - Purchase to installment projection

PURPOSE:
  Turns a purchase and its card's billing configuration into the ordered
  list of installments the purchase will produce. Pure function: no I/O,
  no clock, no ID generation.

ALGORITHM:
  1. Best-day rule: purchase day >= closing day moves the first installment
     to the next invoice month (December rolls into January of next year).
  2. Count: recurring = 12 occurrences, single = 1, installment = N.
  3. Amounts:
       recurring:           every occurrence is the full amount (it repeats,
                            it is not divided)
       single/installment:  base = total / N floored to the cent,
                            remainder = total - base*N goes on installment 1
  4. Due date: the card's due day in each occurrence's own invoice month,
     clamped to the last day of that month (due day 31 in February is the
     28th/29th).

EXAMPLE:
  total 100.00, 3 installments -> [33.34, 33.33, 33.33]

  card closes on 5, due on 10; purchase on 2024-01-06, single payment
  -> one installment, invoice 2024-02, due 2024-02-10

SEE ALSO:
  - period.go: InvoiceMonth arithmetic and FirstInvoiceMonth
  - manager.go: assigns IDs and persists the projection
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// Project returns the installments for a purchase on a card.
// Installment IDs are left empty; the caller assigns them.
func Project(p Purchase, c Card) []Installment {
	count := p.Cycles()
	first, rest := SplitAmount(p.TotalAmount, count, p.IsRecurring())

	month := FirstInvoiceMonth(p.PurchaseDate, c.ClosingDay)
	installments := make([]Installment, 0, count)

	for i := 1; i <= count; i++ {
		amount := rest
		if i == 1 {
			amount = first
		}
		installments = append(installments, Installment{
			GroupID:             p.GroupID,
			PurchaseID:          p.ID,
			CardID:              c.ID,
			Number:              i,
			Amount:              amount,
			Month:               month,
			Status:              InstallmentPending,
			DueDate:             month.Day(c.DueDay),
			PurchaseDescription: p.Description,
			CardName:            c.Name,
			Category:            p.Category,
		})
		month = month.Next()
	}
	return installments
}

// SplitAmount divides total into count parts floored to the cent, returning
// the first part (which absorbs the remainder) and the value of every other
// part. Recurring amounts are not divided.
func SplitAmount(total decimal.Decimal, count int, recurring bool) (first, rest decimal.Decimal) {
	if recurring {
		return total, total
	}
	if count < 1 {
		count = 1
	}
	n := decimal.NewFromInt(int64(count))

	// QuoRem with precision 2 yields the quotient truncated to cents.
	base, _ := total.QuoRem(n, 2)
	remainder := total.Sub(base.Mul(n))
	return base.Add(remainder), base
}
