// Package zakat computes the zakat breakdown for a set of personal assets and
// liabilities against a nisab threshold.
//
// All monetary values are shopspring/decimal values, so sums and the rate
// multiplication are exact and repeated calls return identical results.
//
// # Usage
//
//	import (
//	    "github.com/sadaka-platform/zakat"
//	    "github.com/shopspring/decimal"
//	)
//
//	func main() {
//	    in := zakat.Inputs{
//	        BankAccounts: decimal.NewFromInt(2000000),
//	    }
//
//	    result := zakat.DefaultConfig().Compute(in)
//
//	    fmt.Printf("Zakat due: %s\n", result.ZakatAmount.StringFixed(2))
//	}
//
// # Negative values
//
// Compute sums whatever it receives and does not reject or clamp negative
// fields. Callers validate input before computing, or call Inputs.Normalize
// if clamping to zero is wanted.
package zakat

import (
	"github.com/shopspring/decimal"
)

// DefaultNisab is the nisab threshold used when none can be fetched, in RUB.
var DefaultNisab = decimal.NewFromInt(952389)

// DefaultRate is the zakat rate (2.5%).
var DefaultRate = decimal.RequireFromString("0.025")

// DefaultCurrency is the currency DefaultNisab is expressed in.
const DefaultCurrency = "RUB"

// Config holds the zakat calculation parameters.
type Config struct {
	// NisabAmount is the threshold the zakatable amount must strictly exceed
	NisabAmount decimal.Decimal
	// Rate is applied to the zakatable amount when it exceeds the nisab
	Rate decimal.Decimal
	// Currency of NisabAmount and of all input fields
	Currency string
}

// DefaultConfig returns the static fallback configuration.
func DefaultConfig() Config {
	return Config{
		NisabAmount: DefaultNisab,
		Rate:        DefaultRate,
		Currency:    DefaultCurrency,
	}
}

// WithNisab returns a copy of the config with the given nisab threshold.
func (c Config) WithNisab(nisab decimal.Decimal) Config {
	c.NisabAmount = nisab
	return c
}

// WithRate returns a copy of the config with the given rate.
func (c Config) WithRate(rate decimal.Decimal) Config {
	c.Rate = rate
	return c
}

// Compute runs Compute with the config's nisab and rate.
func (c Config) Compute(in Inputs) Result {
	return Compute(in, c.NisabAmount, WithRate(c.rate()))
}

func (c Config) rate() decimal.Decimal {
	if c.Rate.IsZero() {
		return DefaultRate
	}
	return c.Rate
}

// Inputs holds the assets and liabilities entered for one calculation.
// A field left at its zero value counts as 0.
type Inputs struct {
	// CashAtHome - cash held outside of banks
	CashAtHome decimal.Decimal `json:"cash_at_home"`
	// BankAccounts - balances on current and savings accounts
	BankAccounts decimal.Decimal `json:"bank_accounts"`
	// SharesValue - market value of shares held
	SharesValue decimal.Decimal `json:"shares_value"`
	// GoodsProfit - trade goods and business profit
	GoodsProfit decimal.Decimal `json:"goods_profit"`
	// GoldSilverValue - value of gold and silver
	GoldSilverValue decimal.Decimal `json:"gold_silver_value"`
	// PropertyInvestments - property held as an investment
	PropertyInvestments decimal.Decimal `json:"property_investments"`
	// OtherIncome - any other qualifying income
	OtherIncome decimal.Decimal `json:"other_income"`
	// Debts - debts due now
	Debts decimal.Decimal `json:"debts"`
	// Expenses - expenses due now
	Expenses decimal.Decimal `json:"expenses"`
}

// TotalAssets is the sum of the seven asset fields.
func (in Inputs) TotalAssets() decimal.Decimal {
	return decimal.Sum(
		in.CashAtHome,
		in.BankAccounts,
		in.SharesValue,
		in.GoodsProfit,
		in.GoldSilverValue,
		in.PropertyInvestments,
		in.OtherIncome,
	)
}

// TotalLiabilities is Debts + Expenses.
func (in Inputs) TotalLiabilities() decimal.Decimal {
	return in.Debts.Add(in.Expenses)
}

// Normalize returns a copy of the inputs with every negative field set to 0.
func (in Inputs) Normalize() Inputs {
	for _, f := range in.fields() {
		if f.IsNegative() {
			*f = decimal.Zero
		}
	}
	return in
}

// fields returns pointers to every field, assets first.
func (in *Inputs) fields() []*decimal.Decimal {
	return []*decimal.Decimal{
		&in.CashAtHome,
		&in.BankAccounts,
		&in.SharesValue,
		&in.GoodsProfit,
		&in.GoldSilverValue,
		&in.PropertyInvestments,
		&in.OtherIncome,
		&in.Debts,
		&in.Expenses,
	}
}

// Result holds the outcome of a zakat calculation.
type Result struct {
	// TotalAssets - sum of all asset fields
	TotalAssets decimal.Decimal `json:"total_assets"`
	// TotalLiabilities - debts plus expenses
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	// ZakatableAmount - assets minus liabilities, may be negative
	ZakatableAmount decimal.Decimal `json:"zakatable_amount"`
	// NisabAmount - the threshold the calculation was compared against
	NisabAmount decimal.Decimal `json:"nisab_amount"`
	// Rate - the rate applied when the nisab is exceeded
	Rate decimal.Decimal `json:"zakat_rate"`
	// ZakatAmount - zakat due, zero unless ExceedsNisab
	ZakatAmount decimal.Decimal `json:"zakat_amount"`
	// ExceedsNisab - whether ZakatableAmount is strictly greater than NisabAmount
	ExceedsNisab bool `json:"exceeds_nisab"`
}

// ZakatAmountString returns the zakat due rounded to two decimal places.
func (r Result) ZakatAmountString() string {
	return r.ZakatAmount.StringFixed(2)
}

// IsPayable reports whether there is anything to pay.
func (r Result) IsPayable() bool {
	return r.ExceedsNisab && r.ZakatAmount.IsPositive()
}

type computeOptions struct {
	rate decimal.Decimal
}

// Option customises a single Compute call.
type Option func(*computeOptions)

// WithRate overrides the default 2.5% rate.
func WithRate(rate decimal.Decimal) Option {
	return func(o *computeOptions) {
		o.rate = rate
	}
}

// Compute derives the zakat breakdown for in against nisab.
//
// Zakat is due only when the zakatable amount is strictly greater than the
// nisab: an amount exactly equal to the nisab yields zero. A negative
// zakatable amount (liabilities above assets) also yields zero.
func Compute(in Inputs, nisab decimal.Decimal, opts ...Option) Result {
	o := computeOptions{rate: DefaultRate}
	for _, opt := range opts {
		opt(&o)
	}

	totalAssets := in.TotalAssets()
	totalLiabilities := in.TotalLiabilities()
	zakatable := totalAssets.Sub(totalLiabilities)

	exceeds := zakatable.GreaterThan(nisab)
	amount := decimal.Zero
	if exceeds {
		amount = zakatable.Mul(o.rate)
	}

	return Result{
		TotalAssets:      totalAssets,
		TotalLiabilities: totalLiabilities,
		ZakatableAmount:  zakatable,
		NisabAmount:      nisab,
		Rate:             o.rate,
		ZakatAmount:      amount,
		ExceedsNisab:     exceeds,
	}
}
