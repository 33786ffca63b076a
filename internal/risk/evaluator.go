package risk

import (
	"sort"

	"brokerage/internal/models"
)

// evaluator.go - чистая логика риск-решений
//
// Ни одной операции I/O: вход - позиции с текущими ценами и пороги,
// выход - рекомендация. Применяет рекомендацию воркер исполнения;
// evaluator никогда не зовет ledger или персистентность напрямую.

// PositionQuote - позиция с текущей ценой ее инструмента
//
// Price <= 0 означает отсутствие свежей котировки: такая позиция
// вносит нулевой PNL в агрегат и не попадает в кандидаты на закрытие.
type PositionQuote struct {
	Position *models.Position
	Price    float64
}

// Assessment - результат риск-оценки счета
type Assessment struct {
	// Утилизация маржи как доля: max(0, -netPnl) / totalFunds
	MarginUtilization float64
	// Утилизация достигла warning-порога
	ShouldWarn bool
	// Утилизация достигла auto-close порога
	ShouldAutoClose bool
	// Убыточные позиции к принудительному закрытию, худшие первыми
	PositionsToClose []*models.Position
}

// IsStopLossHit проверяет достижение Stop Loss
//
// Лонг (quantity > 0): сработал при currentPrice <= stopLoss.
// Шорт (quantity < 0): сработал при currentPrice >= stopLoss.
// Возвращает false при quantity == 0, невалидной цене или отсутствующем/
// невалидном stopLoss.
func IsStopLossHit(quantity int64, currentPrice float64, stopLoss *float64) bool {
	if quantity == 0 || currentPrice <= 0 || stopLoss == nil || *stopLoss <= 0 {
		return false
	}

	if quantity > 0 {
		return currentPrice <= *stopLoss
	}
	return currentPrice >= *stopLoss
}

// IsTargetHit проверяет достижение Target (зеркально Stop Loss)
//
// Лонг: сработал при currentPrice >= target.
// Шорт: сработал при currentPrice <= target.
func IsTargetHit(quantity int64, currentPrice float64, target *float64) bool {
	if quantity == 0 || currentPrice <= 0 || target == nil || *target <= 0 {
		return false
	}

	if quantity > 0 {
		return currentPrice >= *target
	}
	return currentPrice <= *target
}

// MarginUtilization возвращает утилизацию маржи как долю общих средств
//
// Утилизация считается только по убытку: max(0, -netPnl) / totalFunds.
// Прибыльный агрегатный PNL дает 0. При totalFunds <= 0 возвращает 0
// (защита от деления на ноль и отрицательный знаменатель).
func MarginUtilization(netPnl, totalFunds float64) float64 {
	if totalFunds <= 0 {
		return 0
	}

	loss := -netPnl
	if loss < 0 {
		return 0
	}

	return loss / totalFunds
}

// PickAutoClosePositions вычисляет риск-оценку счета
//
// Агрегатный нереализованный PNL собирается по всем позициям с ценами.
// При ShouldAutoClose кандидаты - только убыточные позиции,
// отсортированные по убыванию убытка (самый большой убыток первым).
// maxToClose > 0 обрезает список; 0 = закрыть все убыточные.
//
// Tie-break при равном PNL - стабильный порядок входа (позиции читаются
// из БД упорядоченными по id); вторичный ключ сортировки не вводится.
func PickAutoClosePositions(positions []PositionQuote, totalFunds float64, thresholds models.RiskThresholds, maxToClose int) Assessment {
	var netPnl float64
	type candidate struct {
		position *models.Position
		pnl      float64
	}
	var losers []candidate

	for _, pq := range positions {
		if pq.Position == nil {
			continue
		}
		pnl := pq.Position.UnrealizedPnl(pq.Price)
		netPnl += pnl
		if pq.Price > 0 && pnl < 0 {
			losers = append(losers, candidate{position: pq.Position, pnl: pnl})
		}
	}

	utilization := MarginUtilization(netPnl, totalFunds)

	assessment := Assessment{
		MarginUtilization: utilization,
		ShouldWarn:        utilization >= thresholds.WarningThreshold,
		ShouldAutoClose:   utilization >= thresholds.AutoCloseThreshold,
	}

	if !assessment.ShouldAutoClose {
		return assessment
	}

	// Худший убыток первым; SliceStable сохраняет порядок входа при равенстве
	sort.SliceStable(losers, func(i, j int) bool {
		return losers[i].pnl < losers[j].pnl
	})

	if maxToClose > 0 && len(losers) > maxToClose {
		losers = losers[:maxToClose]
	}

	for _, c := range losers {
		assessment.PositionsToClose = append(assessment.PositionsToClose, c.position)
	}

	return assessment
}
