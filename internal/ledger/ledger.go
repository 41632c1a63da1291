// Package ledger holds the pure arithmetic behind a reservation's
// financial fields. Nothing here keeps state: callers pass the
// constituent amounts in and store what comes back. The total of a
// reservation is only ever produced by Recompute.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/iliyamo/hotel-settlement/internal/model"
)

// defaultMinorUnits applies to currencies missing from the table.
const defaultMinorUnits = 2

// Currencies maps ISO currency codes to the number of fractional digits
// of their minor unit (2 for USD, 0 for VND).
type Currencies struct {
	minor map[string]int
}

// NewCurrencies builds a table from code -> minor unit digits. Codes are
// upper-cased.
func NewCurrencies(table map[string]int) Currencies {
	m := make(map[string]int, len(table))
	for code, digits := range table {
		m[strings.ToUpper(strings.TrimSpace(code))] = digits
	}
	return Currencies{minor: m}
}

// ParseCurrencies parses the "VND:0,USD:2" form used by CURRENCY_MINOR_UNITS.
func ParseCurrencies(s string) (Currencies, error) {
	table := map[string]int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, digits, ok := strings.Cut(part, ":")
		if !ok {
			return Currencies{}, fmt.Errorf("currency entry %q: want CODE:DIGITS", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(digits))
		if err != nil || n < 0 || n > 4 {
			return Currencies{}, fmt.Errorf("currency entry %q: invalid digits", part)
		}
		table[code] = n
	}
	return NewCurrencies(table), nil
}

// MinorUnits returns the fractional digits for code.
func (c Currencies) MinorUnits(code string) int {
	if d, ok := c.minor[strings.ToUpper(code)]; ok {
		return d
	}
	return defaultMinorUnits
}

// Known reports whether code has an explicit entry.
func (c Currencies) Known(code string) bool {
	_, ok := c.minor[strings.ToUpper(code)]
	return ok
}

// Round rounds amount half away from zero to the currency's minor unit.
func (c Currencies) Round(amount float64, currency string) float64 {
	p := math.Pow10(c.MinorUnits(currency))
	return math.Round(amount*p) / p
}

// Recompute returns base + tax - discount + service rounded to the minor unit.
func (c Currencies) Recompute(base, tax, discount, service float64, currency string) float64 {
	return c.Round(base+tax-discount+service, currency)
}

// Subtract returns current - amount clamped at zero. The second return
// value is true when the clamp was applied.
func (c Currencies) Subtract(current, amount float64, currency string) (float64, bool) {
	v := c.Round(current-amount, currency)
	if v < 0 {
		return 0, true
	}
	return v, false
}

// ServiceCharge is the gross amount of a service line: amount * (1 + tax).
func (c Currencies) ServiceCharge(amount, taxRate float64, currency string) float64 {
	return c.Round(amount*(1+taxRate), currency)
}

// ToMinor converts a major-unit amount to an integer count of minor
// units, the form payment gateways expect.
func (c Currencies) ToMinor(amount float64, currency string) int64 {
	return int64(math.Round(amount * math.Pow10(c.MinorUnits(currency))))
}

// FromMinor converts minor units back to a rounded major-unit amount.
func (c Currencies) FromMinor(minor int64, currency string) float64 {
	return c.Round(float64(minor)/math.Pow10(c.MinorUnits(currency)), currency)
}

// OutstandingBalance is total - paid. A negative value means the guest
// overpaid and is returned as is.
func OutstandingBalance(total, paid float64) float64 {
	return total - paid
}

// PaymentStatusFor derives the payment status from the amounts. Refunded
// is never derived; it is set explicitly by a refund.
func PaymentStatusFor(total, paid float64) model.PaymentStatus {
	switch {
	case paid <= 0:
		return model.PaymentUnpaid
	case paid < total:
		return model.PaymentPartial
	}
	return model.PaymentPaid
}

// Nights counts the nights between two calendar dates.
func Nights(r model.DateRange) int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// TaxBreakdown is the result of a tax lookup for one amount.
type TaxBreakdown struct {
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// TaxCalculator resolves the tax owed on an amount at a property.
type TaxCalculator interface {
	Tax(ctx context.Context, amount float64, propertyID uint64) (TaxBreakdown, error)
}

// FlatTax applies one rate to every property.
type FlatTax struct {
	Rate float64
}

func (f FlatTax) Tax(_ context.Context, amount float64, _ uint64) (TaxBreakdown, error) {
	return TaxBreakdown{Rate: f.Rate, Amount: amount * f.Rate}, nil
}
