package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"signal_executor/internal/models"
)

// AdjustVolume clamps qty into [minVol, maxVol] and rounds it to the nearest
// multiple of step. Zero maxVol or step means "no constraint".
func AdjustVolume(qty, minVol, maxVol, step float64) float64 {
	v := decimal.NewFromFloat(qty)
	lo := decimal.NewFromFloat(minVol)
	hi := decimal.NewFromFloat(maxVol)

	if hi.IsPositive() && v.GreaterThan(hi) {
		v = hi
	}
	if v.LessThan(lo) {
		v = lo
	}

	if st := decimal.NewFromFloat(step); st.IsPositive() {
		v = v.Div(st).Round(0).Mul(st)
	}

	out, _ := v.Float64()
	return out
}

// StopLevels converts SL/TP distances into absolute prices for an order
// filled at price.
func StopLevels(side models.Side, price float64, slDist, tpDist *float64) (sl, tp *float64) {
	p := decimal.NewFromFloat(price)
	level := func(dist float64, up bool) *float64 {
		d := decimal.NewFromFloat(dist)
		var v decimal.Decimal
		if up {
			v = p.Add(d)
		} else {
			v = p.Sub(d)
		}
		f, _ := v.Float64()
		return &f
	}

	buy := side == models.SideBuy
	if slDist != nil {
		sl = level(*slDist, !buy)
	}
	if tpDist != nil {
		tp = level(*tpDist, buy)
	}
	return sl, tp
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO-8601; the latter is UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported timestamp %q", s)
}
