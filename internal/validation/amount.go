// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount возвращается, если сумма не является положительным числом
// с не более чем двумя знаками после запятой.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount разбирает введённую пользователем десятичную сумму и переводит
// её в минорные единицы (центы). Допускаются только положительные значения
// с точностью не выше двух знаков после запятой.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	if d.Exponent() < -2 {
		return 0, ErrInvalidAmount
	}

	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, ErrInvalidAmount
	}
	if !cents.IsPositive() {
		return 0, ErrInvalidAmount
	}

	return cents.IntPart(), nil
}

// IsValidQuantity проверяет, что количество товара является положительным.
func IsValidQuantity(quantity int64) bool {
	return quantity > 0
}

// IsValidBarcode проверяет, что штрихкод является положительным числом.
func IsValidBarcode(barcode int64) bool {
	return barcode > 0
}
