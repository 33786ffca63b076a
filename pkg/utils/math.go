package utils

import (
	"math"
)

// math.go - математические утилиты движка исполнения
//
// Все функции являются чистыми (pure functions) без побочных эффектов.

// WeightedAverage возвращает средневзвешенную цену двух слоёв позиции.
//
// Используется при наращивании позиции в ту же сторону: новая средняя
// цена входа учитывает объёмы обоих слоёв.
//
// Параметры:
//   - price1, qty1: цена и объём существующего слоя
//   - price2, qty2: цена и объём добавляемого слоя
//
// Возвращает:
//   - Средневзвешенную цену
//   - Если суммарный объём <= 0, возвращает price2
//
// Примеры:
//   - WeightedAverage(100, 10, 110, 10) = 105
//   - WeightedAverage(50, 30, 60, 10) = 52.5
func WeightedAverage(price1, qty1, price2, qty2 float64) float64 {
	total := qty1 + qty2
	if total <= 0 {
		return price2
	}
	return (price1*qty1 + price2*qty2) / total
}

// RoundToTick округляет цену к ближайшему кратному tickSize.
//
// Параметры:
//   - price: исходная цена
//   - tickSize: минимальный шаг цены инструмента
//
// Возвращает:
//   - Округлённую цену; если tickSize <= 0, исходную цену
func RoundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Round(price/tickSize) * tickSize
}

// IsValidPrice проверяет, что цена конечна и положительна.
//
// Нулевые, отрицательные, NaN и Inf цены считаются невалидными
// и отбрасываются на границе кэша котировок.
func IsValidPrice(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}
