package market

import (
	"math"
	"testing"
	"time"
)

func flatCandles(n int, price float64) []Candle {
	candles := make([]Candle, n)
	for i := range candles {
		candles[i] = Candle{
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    100,
			Timestamp: time.Unix(int64(i*60), 0),
		}
	}
	return candles
}

func risingCandles(n int, start, step float64) []Candle {
	candles := make([]Candle, n)
	for i := range candles {
		open := start + float64(i)*step
		candles[i] = Candle{
			Open:      open,
			High:      open + step*1.5,
			Low:       open - step*0.5,
			Close:     open + step,
			Volume:    100,
			Timestamp: time.Unix(int64(i*60), 0),
		}
	}
	return candles
}

// TestSMA verifies the simple moving average over a known series
func TestSMA(t *testing.T) {
	candles := make([]Candle, 5)
	for i, close := range []float64{10, 20, 30, 40, 50} {
		candles[i] = Candle{Close: close}
	}

	got := SMA(candles, 5)
	if got != 30 {
		t.Errorf("SMA(5) = %v, want 30", got)
	}

	got = SMA(candles, 2)
	if got != 45 {
		t.Errorf("SMA(2) = %v, want 45", got)
	}
}

// TestSMAInsufficientData verifies the zero return on short series
func TestSMAInsufficientData(t *testing.T) {
	candles := flatCandles(3, 100)
	if got := SMA(candles, 5); got != 0 {
		t.Errorf("SMA on short series = %v, want 0", got)
	}
	if got := EMA(candles, 5); got != 0 {
		t.Errorf("EMA on short series = %v, want 0", got)
	}
}

// TestEMAConvergesToConstant verifies EMA equals the price on a flat series
func TestEMAConvergesToConstant(t *testing.T) {
	candles := flatCandles(50, 100)
	got := EMA(candles, 9)
	if math.Abs(got-100) > 1e-9 {
		t.Errorf("EMA on flat series = %v, want 100", got)
	}
}

// TestRSIExtremes verifies RSI behavior on one-way and flat markets
func TestRSIExtremes(t *testing.T) {
	up := risingCandles(30, 100, 1)
	if got := RSI(up, 14); got != 100 {
		t.Errorf("RSI on rising series = %v, want 100", got)
	}

	short := flatCandles(5, 100)
	if got := RSI(short, 14); got != 50 {
		t.Errorf("RSI on short series = %v, want neutral 50", got)
	}

	down := make([]Candle, 30)
	for i := range down {
		down[i] = Candle{Close: 200 - float64(i)}
	}
	if got := RSI(down, 14); got != 0 {
		t.Errorf("RSI on falling series = %v, want 0", got)
	}
}

// TestBollingerBands verifies band symmetry around the middle
func TestBollingerBands(t *testing.T) {
	candles := risingCandles(40, 100, 0.5)
	bb := BollingerBands(candles, 20, 2.0)

	if bb.Upper <= bb.Middle || bb.Middle <= bb.Lower {
		t.Errorf("band ordering broken: upper %v middle %v lower %v", bb.Upper, bb.Middle, bb.Lower)
	}
	if math.Abs((bb.Upper-bb.Middle)-(bb.Middle-bb.Lower)) > 1e-9 {
		t.Error("bands should be symmetric around the middle")
	}
}

// TestBollingerBandsFlatSeries verifies zero-width bands on constant prices
func TestBollingerBandsFlatSeries(t *testing.T) {
	bb := BollingerBands(flatCandles(30, 100), 20, 2.0)
	if bb.Upper != bb.Lower || bb.Middle != 100 {
		t.Errorf("flat series bands = %+v, want collapsed at 100", bb)
	}
}

// TestATR verifies the average true range on a constant-range series
func TestATR(t *testing.T) {
	candles := make([]Candle, 20)
	for i := range candles {
		candles[i] = Candle{Open: 100, High: 101, Low: 99, Close: 100}
	}
	got := ATR(candles, 14)
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("ATR = %v, want 2", got)
	}

	if got := ATR(candles[:5], 14); got != 0 {
		t.Errorf("ATR on short series = %v, want 0", got)
	}
}

// TestMomentum verifies fractional change over the period
func TestMomentum(t *testing.T) {
	candles := make([]Candle, 11)
	for i := range candles {
		candles[i] = Candle{Close: 100}
	}
	candles[10].Close = 110

	got := Momentum(candles, 10)
	if math.Abs(got-0.10) > 1e-9 {
		t.Errorf("Momentum = %v, want 0.10", got)
	}
}

// TestMeanBodyAndRange verifies body and range averages
func TestMeanBodyAndRange(t *testing.T) {
	candles := make([]Candle, 10)
	for i := range candles {
		candles[i] = Candle{Open: 100, High: 103, Low: 99, Close: 102}
	}

	if got := MeanBody(candles, 10); math.Abs(got-2) > 1e-9 {
		t.Errorf("MeanBody = %v, want 2", got)
	}
	if got := MeanRange(candles, 10); math.Abs(got-4) > 1e-9 {
		t.Errorf("MeanRange = %v, want 4", got)
	}
	// n larger than the series clamps to the series length
	if got := MeanRange(candles, 50); math.Abs(got-4) > 1e-9 {
		t.Errorf("MeanRange with oversized window = %v, want 4", got)
	}
}

// TestFindLevels verifies pivot detection and nearby-pivot merging
func TestFindLevels(t *testing.T) {
	candles := flatCandles(30, 100)
	// Two pivot highs at nearly the same price should merge
	candles[10].High = 105
	candles[20].High = 105.05

	levels := FindLevels(candles, 30, 0.0015)

	var resistance *Level
	for i := range levels {
		if levels[i].Kind == "resistance" {
			resistance = &levels[i]
		}
	}
	if resistance == nil {
		t.Fatal("expected a resistance level from the pivot highs")
	}
	if resistance.Touches != 2 {
		t.Errorf("merged level touches = %d, want 2", resistance.Touches)
	}
	if math.Abs(resistance.Price-105.025) > 0.01 {
		t.Errorf("merged level price = %v, want ~105.025", resistance.Price)
	}
}

// TestFindLevelsSupport verifies pivot-low detection
func TestFindLevelsSupport(t *testing.T) {
	candles := flatCandles(30, 100)
	candles[15].Low = 95

	levels := FindLevels(candles, 30, 0.0015)
	found := false
	for _, lvl := range levels {
		if lvl.Kind == "support" && lvl.Price == 95 {
			found = true
		}
	}
	if !found {
		t.Error("expected a support level at the pivot low")
	}
}

// TestDetectTrend verifies regime classification from SMA spread
func TestDetectTrend(t *testing.T) {
	if got := DetectTrend(risingCandles(60, 100, 1), 20, 50); got != TrendUp {
		t.Errorf("rising series trend = %v, want UP", got)
	}

	falling := make([]Candle, 60)
	for i := range falling {
		falling[i] = Candle{Close: 200 - float64(i)}
	}
	if got := DetectTrend(falling, 20, 50); got != TrendDown {
		t.Errorf("falling series trend = %v, want DOWN", got)
	}

	if got := DetectTrend(flatCandles(60, 100), 20, 50); got != TrendNeutral {
		t.Errorf("flat series trend = %v, want NEUTRAL", got)
	}

	if got := DetectTrend(flatCandles(10, 100), 20, 50); got != TrendNeutral {
		t.Errorf("short series trend = %v, want NEUTRAL", got)
	}
}
