package zakat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is returned for a nisab or rate the engine cannot use.
var ErrInvalidConfig = errors.New("invalid zakat config")

var one = decimal.NewFromInt(1)

// ParseDecimal converts a string amount, as found in config files and
// backend payloads, to a decimal.Decimal.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidConfig, s)
	}
	return d, nil
}

// Validate rejects a negative nisab and a rate outside (0, 1].
// A zero rate is rejected too: Compute treats it as unset.
func (c Config) Validate() error {
	if c.NisabAmount.IsNegative() {
		return fmt.Errorf("%w: nisab amount %s must not be negative", ErrInvalidConfig, c.NisabAmount)
	}
	if !c.Rate.IsPositive() || c.Rate.GreaterThan(one) {
		return fmt.Errorf("%w: rate %s must be in (0, 1]", ErrInvalidConfig, c.Rate)
	}
	return nil
}
