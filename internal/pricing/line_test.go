package pricing_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/emirsalihagic/miniERP-sub001/internal/money"
	"github.com/emirsalihagic/miniERP-sub001/internal/pricing"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s got %s", want, got.String())
}

func TestComputeLineExample(t *testing.T) {
	rule := baseRule(uuid.New(), "50")
	line, err := pricing.ComputeLine(rule, d("2"))
	require.NoError(t, err)
	requireDec(t, "100", line.Subtotal)
	requireDec(t, "0", line.Discount)
	requireDec(t, "20", line.Tax)
	requireDec(t, "120", line.Total)
}

func TestComputeLineTaxesDiscountedBase(t *testing.T) {
	rule := baseRule(uuid.New(), "85")
	rule.DiscountPercent = pct("5")
	line, err := pricing.ComputeLine(rule, d("3"))
	require.NoError(t, err)
	requireDec(t, "255", line.Subtotal)
	requireDec(t, "12.75", line.Discount)
	// 20% of 242.25, not of 255
	requireDec(t, "48.45", line.Tax)
	requireDec(t, "290.70", line.Total)
}

func TestComputeLineIdentityHolds(t *testing.T) {
	cases := []struct{ price, qty, tax, disc string }{
		{"19.99", "3", "7.7", "12.5"},
		{"0.005", "1", "20", "0"},
		{"1234.5678", "0.3333", "21", "33.3333"},
		{"0", "5", "20", "10"},
		{"9.95", "1.5", "0", "100"},
	}
	for _, tc := range cases {
		rule := pricing.Rule{Price: d(tc.price), TaxRatePercent: pct(tc.tax), DiscountPercent: pct(tc.disc)}
		line, err := pricing.ComputeLine(rule, d(tc.qty))
		require.NoError(t, err)
		require.True(t, line.Total.Equal(line.Subtotal.Sub(line.Discount).Add(line.Tax)))
		wantTax := money.Round2(money.MulPercent(line.Subtotal.Sub(line.Discount), d(tc.tax)))
		require.True(t, line.Tax.Equal(wantTax))
		for _, v := range []decimal.Decimal{line.Subtotal, line.Discount, line.Tax, line.Total} {
			require.LessOrEqual(t, -v.Exponent(), int32(2), "value %s has more than 2 decimals", v)
		}
	}
}

func TestComputeLineRoundsHalfUp(t *testing.T) {
	rule := pricing.Rule{Price: d("0.125")}
	line, err := pricing.ComputeLine(rule, d("1"))
	require.NoError(t, err)
	requireDec(t, "0.13", line.Subtotal)
}

func TestComputeLineRejectsBadQuantity(t *testing.T) {
	rule := baseRule(uuid.New(), "10")
	for _, q := range []string{"0", "-1", "0.00001"} {
		_, err := pricing.ComputeLine(rule, d(q))
		require.ErrorIs(t, err, pricing.ErrInvalidQuantity, q)
	}
}

func TestComputeLineOverflowIsFatal(t *testing.T) {
	rule := pricing.Rule{Price: d("99999999999999")}
	_, err := pricing.ComputeLine(rule, d("10"))
	require.ErrorIs(t, err, money.ErrOverflow)
}

func TestRequantifyUsesSnapshot(t *testing.T) {
	rule := baseRule(uuid.New(), "50")
	rule.DiscountPercent = pct("10")
	line, err := pricing.ComputeLine(rule, d("1"))
	require.NoError(t, err)

	// the rule changing afterwards must not leak into the line
	rule.Price = d("999")
	updated, err := line.Requantify(d("4"))
	require.NoError(t, err)
	requireDec(t, "50", updated.UnitPrice)
	requireDec(t, "200", updated.Subtotal)
	requireDec(t, "20", updated.Discount)
	requireDec(t, "36", updated.Tax)
	requireDec(t, "216", updated.Total)

	_, err = line.Requantify(d("0"))
	require.ErrorIs(t, err, pricing.ErrInvalidQuantity)
}

func TestSummarizeDocumentDiscount(t *testing.T) {
	line := pricing.Line{Subtotal: d("100"), Tax: d("20"), Discount: d("0"), Total: d("120")}
	totals, err := pricing.Summarize([]pricing.Line{line, line}, d("10"))
	require.NoError(t, err)
	requireDec(t, "200", totals.Subtotal)
	requireDec(t, "40", totals.TaxTotal)
	requireDec(t, "20", totals.DocumentDiscount)
	requireDec(t, "20", totals.DiscountTotal)
	requireDec(t, "220", totals.GrandTotal)
}

func TestSummarizeDiscountsNetOfLineDiscounts(t *testing.T) {
	line := pricing.Line{Subtotal: d("100"), Discount: d("10"), Tax: d("18")}
	totals, err := pricing.Summarize([]pricing.Line{line}, d("10"))
	require.NoError(t, err)
	requireDec(t, "9", totals.DocumentDiscount)
	requireDec(t, "19", totals.DiscountTotal)
	requireDec(t, "99", totals.GrandTotal)
}

func TestSummarizeIsIdempotent(t *testing.T) {
	lines := []pricing.Line{
		{Subtotal: d("33.33"), Discount: d("1.67"), Tax: d("6.33")},
		{Subtotal: d("12.10"), Tax: d("2.42")},
	}
	first, err := pricing.Summarize(lines, d("7.5"))
	require.NoError(t, err)
	second, err := pricing.Summarize(lines, d("7.5"))
	require.NoError(t, err)
	require.True(t, first.Equal(second))

	empty, err := pricing.Summarize(nil, d("0"))
	require.NoError(t, err)
	require.True(t, empty.Equal(pricing.Totals{}))
}

func TestSummarizeRejectsBadPercent(t *testing.T) {
	_, err := pricing.Summarize(nil, d("100.01"))
	require.ErrorIs(t, err, money.ErrPercentOutOfRange)
}
