// Package currency форматирует суммы в минорных единицах для отображения.
package currency

import "fmt"

// DefaultFactor — число минорных единиц в основной (копейки, центы).
const DefaultFactor = 100

// DefaultSymbol — символ валюты по умолчанию.
const DefaultSymbol = "€"

// Formatter переводит целую сумму в минорных единицах в строку вида "-3.50€".
type Formatter struct {
	Factor int64
	Symbol string
}

// NewFormatter создаёт форматтер с указанным делителем и символом валюты.
// Для нулевых значений подставляются значения по умолчанию.
func NewFormatter(factor int64, symbol string) Formatter {
	if factor <= 0 {
		factor = DefaultFactor
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}
	return Formatter{Factor: factor, Symbol: symbol}
}

// Format возвращает строковое представление суммы. Знак выводится только для
// отрицательных значений, минорная часть дополняется нулями до двух знаков.
func (f Formatter) Format(value int64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s%d.%02d%s", sign, value/f.Factor, value%f.Factor, f.Symbol)
}
