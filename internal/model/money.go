package model

import "github.com/shopspring/decimal"

// Round2 округляет денежную сумму до копеек.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToCents переводит сумму в целое число копеек для хранения.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromCents восстанавливает сумму из копеек.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
