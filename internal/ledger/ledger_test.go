package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-settlement/internal/model"
)

func table(t *testing.T) Currencies {
	t.Helper()
	c, err := ParseCurrencies("VND:0, usd:2,JPY:0")
	require.NoError(t, err)
	return c
}

func TestOutstandingBalance_AddService(t *testing.T) {
	c := table(t)
	total := 2500000.0

	assert.Equal(t, 2500000.0, OutstandingBalance(total, 0))

	service := c.ServiceCharge(100000, 0.10, "VND")
	total = c.Recompute(2500000, 0, 0, service, "VND")
	assert.Equal(t, 2610000.0, total)
}

func TestOutstandingBalance_Overpaid(t *testing.T) {
	assert.Equal(t, -50.0, OutstandingBalance(100, 150))
}

func TestRecompute_RoundsToMinorUnit(t *testing.T) {
	c := table(t)

	assert.Equal(t, 110.01, c.Recompute(100.006, 10, 0, 0, "USD"))
	assert.Equal(t, 1001.0, c.Recompute(1000.5, 0, 0, 0, "VND"))
	assert.Equal(t, 95.5, c.Recompute(100, 5.5, 10, 0, "USD"))
	// unknown currencies fall back to two digits
	assert.Equal(t, 2, c.MinorUnits("GBP"))
	assert.False(t, c.Known("GBP"))
	assert.True(t, c.Known("usd"))
}

func TestSubtract_ClampsAtZero(t *testing.T) {
	c := table(t)

	v, under := c.Subtract(50, 20, "USD")
	assert.Equal(t, 30.0, v)
	assert.False(t, under)

	v, under = c.Subtract(50, 80, "USD")
	assert.Equal(t, 0.0, v)
	assert.True(t, under)
}

func TestParseCurrencies_Invalid(t *testing.T) {
	_, err := ParseCurrencies("VND")
	assert.Error(t, err)
	_, err = ParseCurrencies("VND:x")
	assert.Error(t, err)
}

func TestPaymentStatusFor(t *testing.T) {
	assert.Equal(t, model.PaymentUnpaid, PaymentStatusFor(100, 0))
	assert.Equal(t, model.PaymentPartial, PaymentStatusFor(100, 40))
	assert.Equal(t, model.PaymentPaid, PaymentStatusFor(100, 100))
	assert.Equal(t, model.PaymentPaid, PaymentStatusFor(100, 120))
}

func TestNights(t *testing.T) {
	r := model.DateRange{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, 3, Nights(r))
}

func TestFlatTax(t *testing.T) {
	tb, err := FlatTax{Rate: 0.08}.Tax(context.Background(), 1000, 1)
	require.NoError(t, err)
	assert.Equal(t, 80.0, tb.Amount)
	assert.Equal(t, 0.08, tb.Rate)
}

func TestMinorUnitConversion(t *testing.T) {
	c := NewCurrencies(map[string]int{"VND": 0, "USD": 2})
	assert.Equal(t, int64(2_610_000), c.ToMinor(2_610_000, "VND"))
	assert.Equal(t, int64(32997), c.ToMinor(329.97, "USD"))
	assert.Equal(t, 329.97, c.FromMinor(32997, "USD"))
	assert.Equal(t, 2_610_000.0, c.FromMinor(2_610_000, "vnd"))
}
