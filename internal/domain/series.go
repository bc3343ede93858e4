package domain

// SeriesPoint is one entry of a plotting series.
type SeriesPoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// DeriveSeries maps a weight window onto a 1-based series. Order is
// preserved and no samples are dropped.
func DeriveSeries(weights []float64) []SeriesPoint {
	out := make([]SeriesPoint, len(weights))
	for i, w := range weights {
		out[i] = SeriesPoint{Index: i + 1, Value: w}
	}
	return out
}

// DeriveSeriesIn is DeriveSeries with every value converted from kilograms
// to unit.
func DeriveSeriesIn(weights []float64, unit Unit) []SeriesPoint {
	out := DeriveSeries(weights)
	for i := range out {
		out[i].Value = ConvertWeight(out[i].Value, UnitKg, unit)
	}
	return out
}
