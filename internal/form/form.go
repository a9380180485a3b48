// Package form turns raw calculator field values into zakat.Inputs.
//
// Values arrive as the strings a user typed. Blank fields count as zero.
// Anything that is not a finite, non-negative number is rejected here so
// the engine only ever sees clean input.
package form

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sadaka-platform/zakat"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput wraps every field validation failure.
	ErrInvalidInput = errors.New("invalid calculator input")
	// ErrTermsNotAccepted is returned when a submission lacks consent.
	ErrTermsNotAccepted = errors.New("terms of data processing not accepted")
)

// Field names as sent by the calculator form.
const (
	FieldCashAtHome          = "cash_at_home"
	FieldBankAccounts        = "bank_accounts"
	FieldSharesValue         = "shares_value"
	FieldGoodsProfit         = "goods_profit"
	FieldGoldSilverValue     = "gold_silver_value"
	FieldPropertyInvestments = "property_investments"
	FieldOtherIncome         = "other_income"
	FieldDebts               = "debts"
	FieldExpenses            = "expenses"
)

// Fields lists every accepted field name in form order.
var Fields = []string{
	FieldCashAtHome,
	FieldBankAccounts,
	FieldSharesValue,
	FieldGoodsProfit,
	FieldGoldSilverValue,
	FieldPropertyInvestments,
	FieldOtherIncome,
	FieldDebts,
	FieldExpenses,
}

// FieldError describes why a single field was rejected.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

// FieldErrors extracts every *FieldError from err.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *FieldError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		default:
			walk(errors.Unwrap(err))
		}
	}
	walk(err)
	return out
}

// Parse converts raw field values into zakat.Inputs.
// All invalid fields are reported together, in form order.
func Parse(raw map[string]string) (zakat.Inputs, error) {
	var in zakat.Inputs
	targets := map[string]*decimal.Decimal{
		FieldCashAtHome:          &in.CashAtHome,
		FieldBankAccounts:        &in.BankAccounts,
		FieldSharesValue:         &in.SharesValue,
		FieldGoodsProfit:         &in.GoodsProfit,
		FieldGoldSilverValue:     &in.GoldSilverValue,
		FieldPropertyInvestments: &in.PropertyInvestments,
		FieldOtherIncome:         &in.OtherIncome,
		FieldDebts:               &in.Debts,
		FieldExpenses:            &in.Expenses,
	}

	var errs []error

	unknown := make([]string, 0)
	for name := range raw {
		if _, ok := targets[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, &FieldError{Field: name, Value: raw[name], Reason: "unknown field"})
	}

	for _, name := range Fields {
		value, ok := raw[name]
		if !ok {
			continue
		}
		amount, err := ParseAmount(value)
		if err != nil {
			errs = append(errs, &FieldError{Field: name, Value: value, Reason: err.Error()})
			continue
		}
		*targets[name] = amount
	}

	if len(errs) > 0 {
		return zakat.Inputs{}, errors.Join(errs...)
	}
	return in, nil
}

// ParseValues is Parse for url.Values; the first value of each key is used.
func ParseValues(values url.Values) (zakat.Inputs, error) {
	raw := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			raw[k] = v[0]
		} else {
			raw[k] = ""
		}
	}
	return Parse(raw)
}

// Bounds on a single amount. Anything outside them is not an ordinary
// financial magnitude and is rejected before it reaches the engine.
var (
	// MaxAmount is the largest accepted amount.
	MaxAmount = decimal.New(1, 15)
	// MaxScale is the most fractional digits an amount may carry.
	MaxScale int32 = 8
)

// ParseAmount coerces a single user-typed amount.
// Blank means zero. Spaces, non-breaking spaces and underscores are
// treated as digit grouping, and a single comma as the decimal separator.
// A comma followed by exactly three digits, as in "1,000", is rejected as
// ambiguous.
func ParseAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return decimal.Zero, nil
	}

	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "_", "").Replace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		if isDigits(s[strings.Index(s, ",")+1:], 3) {
			return decimal.Zero, errors.New("ambiguous comma, use a space for grouping or a dot for decimals")
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "inf", "infinity":
		return decimal.Zero, errors.New("must be a finite number")
	}

	if strings.Contains(s, ".") && !strings.ContainsAny(s, "eE") {
		s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("must be a number")
	}
	if amount.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	// Exponent before GreaterThan, which rescales to the larger exponent.
	if exp := amount.Exponent(); exp < -MaxScale || exp > 15 || amount.GreaterThan(MaxAmount) {
		return decimal.Zero, errors.New("out of range")
	}
	return amount, nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Submission is a calculator submit event.
type Submission struct {
	Inputs        zakat.Inputs
	AcceptedTerms bool
}

// Validate checks the submit preconditions.
func (s Submission) Validate() error {
	if !s.AcceptedTerms {
		return ErrTermsNotAccepted
	}
	return nil
}
