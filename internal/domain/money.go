package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies — валюты без дробной части (ISO 4217 exponent 0).
var zeroDecimalCurrencies = map[string]bool{
	"jpy": true, "krw": true, "vnd": true, "clp": true, "isk": true, "ugx": true,
}

// CurrencyExponent возвращает количество знаков после запятой для валюты.
func CurrencyExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// MinorToMajor переводит сумму в минимальных единицах в основную (центы -> доллары).
func MinorToMajor(amountMinor int64, currency string) decimal.Decimal {
	return decimal.New(amountMinor, -CurrencyExponent(currency))
}

// MajorToMinor переводит сумму в основной единице в минимальные, округляя до ближайшей.
func MajorToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
}

// FormatMinor форматирует сумму для логов и уведомлений: "12.50 USD".
func FormatMinor(amountMinor int64, currency string) string {
	exp := CurrencyExponent(currency)
	return MinorToMajor(amountMinor, currency).StringFixed(exp) + " " + strings.ToUpper(currency)
}

// LineTotalMinor считает цену позиции UnitPriceMinor * qty. Произведение, не помещающееся
// в int64, возвращается как ErrAmountOverflow.
func LineTotalMinor(priceMinor int64, qty int32) (int64, error) {
	if qty > 0 && priceMinor > math.MaxInt64/int64(qty) {
		return 0, ErrAmountOverflow
	}
	return priceMinor * int64(qty), nil
}

// AddMinor складывает неотрицательные суммы с проверкой переполнения.
func AddMinor(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}
