package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultMinorExponent int32 = 2

// minorExponents перечисляет валюты, у которых число знаков после запятой отличается от двух.
var minorExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"MGA": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "JOD": 3, "KWD": 3, "OMR": 3, "TND": 3,
}

// MinorExponent возвращает количество минимальных единиц валюты в степенях десяти.
func MinorExponent(currency string) int32 {
	if exp, ok := minorExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return defaultMinorExponent
}

// ToMinorUnits переводит сумму в минимальные единицы без округления.
// Если сумма не представима целым числом минимальных единиц, возвращается ErrAmountNotRepresentable.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	shifted := amount.Shift(MinorExponent(currency))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s %s", ErrAmountNotRepresentable, amount.String(), currency)
	}
	if shifted.GreaterThan(decimal.NewFromInt(maxMinor)) || shifted.LessThan(decimal.NewFromInt(-maxMinor)) {
		return 0, fmt.Errorf("%w: %s %s overflows int64", ErrAmountNotRepresentable, amount.String(), currency)
	}
	return shifted.IntPart(), nil
}

// FromMinorUnits выполняет обратное преобразование.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-MinorExponent(currency))
}

const maxMinor = int64(1<<63 - 1)
