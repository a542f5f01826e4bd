package market

import (
	"trading_assistant/internal/models"

	"gonum.org/v1/gonum/stat"
)

const (
	rsiPeriod       = 14
	bollingerPeriod = 20
	bollingerK      = 2.0
	rangeBars       = 5
)

// ComputeIndicators derives the technical indicators from daily bars, oldest first.
// Each indicator is only filled when there is enough history for it; with fewer than
// five bars the result is nil.
func ComputeIndicators(bars []models.Bar) *models.Indicators {
	if len(bars) < rangeBars {
		return nil
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}

	ind := &models.Indicators{}
	if len(closes) >= 20 {
		ind.SMA20 = sma(closes, 20)
	}
	if len(closes) >= 50 {
		ind.SMA50 = sma(closes, 50)
	}
	if len(closes) > rsiPeriod {
		ind.RSI14 = rsi(closes, rsiPeriod)
	}
	if len(closes) >= bollingerPeriod {
		window := closes[len(closes)-bollingerPeriod:]
		mean, std := stat.MeanStdDev(window, nil)
		ind.BollingerUpper = mean + bollingerK*std
		ind.BollingerLower = mean - bollingerK*std
		ind.BollingerWidth = ind.BollingerUpper - ind.BollingerLower
	}

	// Position of the last close within the recent high/low range.
	recent := bars[len(bars)-rangeBars:]
	high, low := recent[0].High, recent[0].Low
	for _, b := range recent[1:] {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}
	if !high.Equal(low) {
		last := bars[len(bars)-1].Close
		ind.PricePosition = last.Sub(low).Div(high.Sub(low)).InexactFloat64()
	}
	return ind
}

func sma(closes []float64, period int) float64 {
	return stat.Mean(closes[len(closes)-period:], nil)
}

// rsi is the simple-average RSI over the last period price changes.
func rsi(closes []float64, period int) float64 {
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	if loss == 0 {
		return 100
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100 - 100/(1+rs)
}
