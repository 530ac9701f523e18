package domain

// HistoricalReading is one month of metered consumption and the amount billed for it.
type HistoricalReading struct {
	Units float64 `json:"units"`
	Bill  float64 `json:"bill"`
}

// TrendPrediction is the latest next-month estimate held for a session.
type TrendPrediction struct {
	PredictedUnits int                 `json:"predictedUnits"`
	PredictedBill  float64             `json:"predictedBill"`
	Readings       []HistoricalReading `json:"readings,omitempty"`
}

// SeriesPoint is one month on the actual-vs-predicted chart.
type SeriesPoint struct {
	Month     string  `json:"month"`
	Units     float64 `json:"units"`
	Bill      float64 `json:"bill"`
	Predicted bool    `json:"predicted,omitempty"`
}

// Series labels the readings oldest to newest and appends the prediction as
// the final point.
func (p TrendPrediction) Series() []SeriesPoint {
	labels := []string{"3-mo", "2-mo", "Last"}
	readings := p.Readings
	if len(readings) > len(labels) {
		readings = readings[len(readings)-len(labels):]
	}
	offset := len(labels) - len(readings)

	points := make([]SeriesPoint, 0, len(readings)+1)
	for i, r := range readings {
		points = append(points, SeriesPoint{Month: labels[offset+i], Units: r.Units, Bill: r.Bill})
	}
	return append(points, SeriesPoint{
		Month:     "Next (pred)",
		Units:     float64(p.PredictedUnits),
		Bill:      p.PredictedBill,
		Predicted: true,
	})
}
