package currency

import (
	"fmt"
	"math"
)

// minorUnitsPerMajor maps currency codes to the number of minor units in one
// major unit (kobo per naira, cents per shilling, ...).
var minorUnitsPerMajor = map[string]int64{
	"NGN": 100, // Nigerian Naira (kobo)
	"KES": 100, // Kenyan Shilling
	"ZAR": 100, // South African Rand
	"GHS": 100, // Ghanaian Cedi (pesewa)
	"USD": 100,
}

// ToMinor converts a major-unit amount (e.g. 77.00 NGN) to minor units
// (7700 kobo), rounding to the nearest unit. Sign is preserved.
func ToMinor(amount float64, currency string) (int64, error) {
	factor, ok := minorUnitsPerMajor[currency]
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", currency)
	}
	return int64(math.Round(amount * float64(factor))), nil
}

// FromMinor converts minor units back to a major-unit amount.
func FromMinor(minor int64, currency string) (float64, error) {
	factor, ok := minorUnitsPerMajor[currency]
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", currency)
	}
	return float64(minor) / float64(factor), nil
}

// Factor returns the number of minor units per major unit for a currency.
func Factor(currency string) (int64, error) {
	factor, ok := minorUnitsPerMajor[currency]
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", currency)
	}
	return factor, nil
}
