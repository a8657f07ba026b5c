// Package metrics derives portfolio risk and performance figures from the
// account snapshot. Everything is computed locally from the positions; the
// server is never consulted.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/tradedeck/internal/domain"
)

// riskFreeRate is the annual rate used for the Sharpe ratio.
const riskFreeRate = 0.03

// Summary is the derived metrics snapshot for the current portfolio.
type Summary struct {
	DailyPnL             float64 `json:"daily_pnl"`
	WinRate              float64 `json:"win_rate"`
	DiversificationScore float64 `json:"diversification_score"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	Volatility           float64 `json:"volatility"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	RiskScore            float64 `json:"risk_score"`
	RiskLevel            string  `json:"risk_level"`
}

// Calculate derives the metrics summary from an account snapshot. An empty
// portfolio yields the zero summary with a "low" risk level.
func Calculate(balance domain.AccountBalance) Summary {
	if len(balance.Positions) == 0 {
		return Summary{RiskLevel: "low"}
	}
	s := Summary{
		DailyPnL:             dailyPnL(balance.Positions),
		WinRate:              winRate(balance.Positions),
		DiversificationScore: diversification(balance.Positions),
		MaxDrawdown:          maxDrawdown(balance.Positions),
		Volatility:           volatility(balance.Positions),
	}
	s.SharpeRatio = sharpeRatio(balance.TotalProfitLossRate, s.Volatility)
	s.RiskScore = riskScore(s.Volatility, s.MaxDrawdown, s.DiversificationScore)
	s.RiskLevel = riskLevel(s.RiskScore)
	return s
}

// dailyPnL is the sum over positions of today's price move times quantity.
func dailyPnL(positions []domain.Position) float64 {
	var total float64
	for _, p := range positions {
		if p.YesterdayPrice <= 0 {
			continue
		}
		total += (p.CurrentPrice - p.YesterdayPrice) * p.Quantity
	}
	return total
}

// winRate is the share of positions currently in profit, in percent.
func winRate(positions []domain.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	profitable := 0
	for _, p := range positions {
		if p.ProfitLoss > 0 {
			profitable++
		}
	}
	return float64(profitable) / float64(len(positions)) * 100
}

// diversification scores concentration via the Herfindahl index of position
// weights: 0 for a single holding, approaching 100 as weights equalize.
func diversification(positions []domain.Position) float64 {
	var totalEval float64
	for _, p := range positions {
		totalEval += p.EvaluationAmount
	}
	if totalEval <= 0 {
		return 0
	}
	var hhi float64
	for _, p := range positions {
		w := p.EvaluationAmount / totalEval
		hhi += w * w
	}
	return clamp(math.Round((1-hhi)*100), 0, 100)
}

// maxDrawdown is the worst per-position profit rate, floored at zero when
// every position is in profit.
func maxDrawdown(positions []domain.Position) float64 {
	worst := 0.0
	for _, p := range positions {
		if p.ProfitRate < worst {
			worst = p.ProfitRate
		}
	}
	return worst
}

// volatility is the mean absolute daily change rate across positions,
// expressed as a fraction.
func volatility(positions []domain.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	changes := make([]float64, 0, len(positions))
	for _, p := range positions {
		changes = append(changes, math.Abs(p.ChangeRate))
	}
	return stat.Mean(changes, nil) / 100
}

func sharpeRatio(totalProfitLossRate, vol float64) float64 {
	if vol == 0 {
		return 0
	}
	return (totalProfitLossRate/100 - riskFreeRate) / vol
}

// riskScore blends volatility, drawdown and concentration into a 0–100
// score.
func riskScore(vol, maxDD, diversificationScore float64) float64 {
	volPart := math.Min(vol*100, 100)
	ddPart := math.Min(math.Abs(maxDD), 100)
	concentrationPart := 100 - diversificationScore
	return clamp(math.Round((volPart+ddPart+concentrationPart)/3), 0, 100)
}

func riskLevel(score float64) string {
	switch {
	case score < 30:
		return "low"
	case score < 70:
		return "medium"
	default:
		return "high"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
