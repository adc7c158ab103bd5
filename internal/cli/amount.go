package cli

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

var maxAmount = decimal.NewFromUint64(math.MaxUint64)

// parseAmount reads a whole, non-negative amount. "49" and "49.00" are
// accepted; "49.5" and "-1" are not.
func parseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	switch {
	case d.IsNegative():
		return 0, fmt.Errorf("amount %q: must not be negative", s)
	case !d.IsInteger():
		return 0, fmt.Errorf("amount %q: must be a whole number", s)
	case d.GreaterThan(maxAmount):
		return 0, fmt.Errorf("amount %q: out of range", s)
	}
	return d.BigInt().Uint64(), nil
}

func parseAccountID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("account id %q: must be a non-negative integer", s)
	}
	return id, nil
}
