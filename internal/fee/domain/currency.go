package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"JOD": 3,
	"TND": 3,
}

// CurrencyExponent returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ToMinor scales a major-unit amount to minor units without rounding.
func ToMinor(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Shift(CurrencyExponent(currency))
}

// ToMinorInt rounds a major-unit amount half away from zero to whole minor units.
func ToMinorInt(amount decimal.Decimal, currency string) int64 {
	return ToMinor(amount, currency).Round(0).IntPart()
}
