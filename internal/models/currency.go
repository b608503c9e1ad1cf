package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is one of the fixed set of currencies the ledger accepts.
type Currency string

const (
	UGX  Currency = "UGX"
	BTC  Currency = "BTC"
	USDT Currency = "USDT"
)

// Currencies lists every supported currency.
var Currencies = []Currency{UGX, BTC, USDT}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &ValidationError{Field: "currency", Reason: fmt.Sprintf("unsupported currency %q", s)}
	}
	return c, nil
}

func (c Currency) Valid() bool {
	switch c {
	case UGX, BTC, USDT:
		return true
	}
	return false
}

// Exponent is the number of decimal places of the smallest unit
// (UGX has none, BTC counts satoshis, USDT micro-units).
func (c Currency) Exponent() int32 {
	switch c {
	case BTC:
		return 8
	case USDT:
		return 6
	default:
		return 0
	}
}

func (c Currency) IsCrypto() bool {
	return c == BTC || c == USDT
}

// ToMinor converts a major-unit amount into integer smallest units. Amounts
// carrying more precision than the currency allows are rejected.
func (c Currency) ToMinor(amount decimal.Decimal) (int64, error) {
	scaled := amount.Shift(c.Exponent())
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, &ValidationError{Field: "amount", Reason: fmt.Sprintf("%s supports at most %d decimal places", c, c.Exponent())}
	}
	if scaled.GreaterThan(decimal.NewFromInt(maxMinor)) || scaled.LessThan(decimal.NewFromInt(-maxMinor)) {
		return 0, &ValidationError{Field: "amount", Reason: "amount out of range"}
	}
	return scaled.IntPart(), nil
}

// FromMinor renders smallest units back into a major-unit decimal.
func (c Currency) FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.Exponent())
}

const maxMinor = 1 << 62

// CurrencyPair names a quoted conversion, e.g. BTC/UGX.
type CurrencyPair struct {
	Base  Currency
	Quote Currency
}

func (p CurrencyPair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}
