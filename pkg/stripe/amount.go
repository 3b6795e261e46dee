package stripe

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists the currencies Stripe charges in major units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

// CurrencyExponent returns the number of minor-unit digits Stripe uses for currency.
func CurrencyExponent(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ToMinorUnits converts a major-unit amount to the integer Stripe expects.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits converts a Stripe integer amount back to major units.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}
