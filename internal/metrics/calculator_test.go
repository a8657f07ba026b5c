package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/tradedeck/internal/domain"
)

func position(code string, qty, current, yesterday, eval, profitRate, changeRate float64) domain.Position {
	return domain.Position{
		StockCode:        code,
		Quantity:         qty,
		CurrentPrice:     current,
		YesterdayPrice:   yesterday,
		EvaluationAmount: eval,
		ProfitLoss:       profitRate, // sign is all winRate looks at
		ProfitRate:       profitRate,
		ChangeRate:       changeRate,
	}
}

func TestEmptyPortfolio(t *testing.T) {
	s := Calculate(domain.AccountBalance{})

	assert.Zero(t, s.DailyPnL)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.DiversificationScore)
	assert.Zero(t, s.Volatility)
	assert.Zero(t, s.SharpeRatio)
	assert.Zero(t, s.RiskScore)
	assert.Equal(t, "low", s.RiskLevel)
}

func TestDailyPnLSumsTodayMoves(t *testing.T) {
	s := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("005930", 150, 71500, 71000, 10725000, 2.1, 0.7),
		position("000660", 10, 179000, 180000, 1790000, -1.0, -0.55),
	}})

	// 150×500 − 10×1000
	assert.Equal(t, float64(65000), s.DailyPnL)
}

func TestDailyPnLSkipsMissingYesterdayPrice(t *testing.T) {
	s := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("005930", 150, 71500, 0, 10725000, 2.1, 0),
	}})
	assert.Zero(t, s.DailyPnL)
}

func TestWinRateCountsProfitablePositions(t *testing.T) {
	s := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 100, 100, 100, 5, 0),
		position("b", 1, 100, 100, 100, -2, 0),
		position("c", 1, 100, 100, 100, 1, 0),
		position("d", 1, 100, 100, 100, 0, 0),
	}})
	assert.Equal(t, float64(50), s.WinRate)
}

func TestDiversificationSinglePositionIsZero(t *testing.T) {
	s := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("005930", 150, 71500, 71000, 10725000, 2.1, 0.7),
	}})
	assert.Zero(t, s.DiversificationScore)
}

func TestDiversificationGrowsAsWeightsEqualize(t *testing.T) {
	lopsided := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 9000, 0, 0),
		position("b", 1, 1, 1, 1000, 0, 0),
	}})
	even := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 5000, 0, 0),
		position("b", 1, 1, 1, 5000, 0, 0),
	}})

	assert.Equal(t, float64(50), even.DiversificationScore, "two equal weights halve the index")
	assert.Greater(t, even.DiversificationScore, lopsided.DiversificationScore)

	evenFour := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 2500, 0, 0),
		position("b", 1, 1, 1, 2500, 0, 0),
		position("c", 1, 1, 1, 2500, 0, 0),
		position("d", 1, 1, 1, 2500, 0, 0),
	}})
	assert.Equal(t, float64(75), evenFour.DiversificationScore)
}

func TestMaxDrawdownIsWorstLosingPosition(t *testing.T) {
	s := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 100, 4.0, 0),
		position("b", 1, 1, 1, 100, -7.5, 0),
		position("c", 1, 1, 1, 100, -2.0, 0),
	}})
	assert.Equal(t, -7.5, s.MaxDrawdown)
}

func TestMaxDrawdownZeroWhenAllProfitable(t *testing.T) {
	s := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 100, 4.0, 0),
		position("b", 1, 1, 1, 100, 0.5, 0),
	}})
	assert.Zero(t, s.MaxDrawdown)
}

func TestVolatilityIsMeanAbsoluteChange(t *testing.T) {
	s := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 100, 0, 2.0),
		position("b", 1, 1, 1, 100, 0, -4.0),
	}})
	assert.InDelta(t, 0.03, s.Volatility, 1e-9)
}

func TestSharpeRatio(t *testing.T) {
	s := Calculate(domain.AccountBalance{
		TotalProfitLossRate: 8,
		Positions: []domain.Position{
			position("a", 1, 1, 1, 100, 0, 2.0),
		},
	})
	// (0.08 − 0.03) / 0.02
	assert.InDelta(t, 2.5, s.SharpeRatio, 1e-9)
}

func TestSharpeRatioZeroWithoutVolatility(t *testing.T) {
	s := Calculate(domain.AccountBalance{
		TotalProfitLossRate: 8,
		Positions: []domain.Position{
			position("a", 1, 1, 1, 100, 0, 0),
		},
	})
	assert.Zero(t, s.SharpeRatio)
}

func TestRiskScoreAndLevel(t *testing.T) {
	concentrated := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 10000, -40, 5.0),
	}})
	// vol part 5, drawdown part 40, concentration part 100 → round(145/3) = 48
	assert.Equal(t, float64(48), concentrated.RiskScore)
	assert.Equal(t, "medium", concentrated.RiskLevel)

	calm := Calculate(domain.AccountBalance{Positions: []domain.Position{
		position("a", 1, 1, 1, 5000, 1, 0.5),
		position("b", 1, 1, 1, 5000, 2, 0.5),
	}})
	// vol part 0.5, drawdown 0, concentration 50 → round(50.5/3) = 17
	assert.Equal(t, float64(17), calm.RiskScore)
	assert.Equal(t, "low", calm.RiskLevel)
}

func TestRiskLevelCutoffs(t *testing.T) {
	assert.Equal(t, "low", riskLevel(29))
	assert.Equal(t, "medium", riskLevel(30))
	assert.Equal(t, "medium", riskLevel(69))
	assert.Equal(t, "high", riskLevel(70))
}
