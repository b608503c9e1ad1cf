// Package commission computes transaction fees on integer smallest-unit
// amounts. Every function here is pure.
package commission

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

var (
	ErrNegativeAmount = errors.New("gross amount must not be negative")
	ErrRateRange      = errors.New("commission rate must be between 0 and 1")
)

// Compute returns the commission and net amount for gross at rate.
// Commission is gross*rate rounded half-up to the smallest unit, and
// commission + net == gross.
func Compute(gross int64, rate decimal.Decimal) (commission, net int64, err error) {
	if gross < 0 {
		return 0, 0, ErrNegativeAmount
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return 0, 0, ErrRateRange
	}
	// Round is half away from zero, which is half-up for non-negative values.
	commission = decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
	return commission, gross - commission, nil
}

// Convert applies an externally quoted rate (units of `to` per one major
// unit of `from`) to an amount in `from` smallest units, returning `to`
// smallest units rounded half-up.
func Convert(amount int64, from, to models.Currency, rate decimal.Decimal) int64 {
	major := from.FromMinor(amount)
	return major.Mul(rate).Shift(to.Exponent()).Round(0).IntPart()
}
