package models

// CityReading is the latest reading for a city.
type CityReading struct {
	City       string             `json:"city"`
	AQI        float64            `json:"aqi"`
	RecordedAt *Timestamp         `json:"recorded_at,omitempty"`
	Pollutants map[string]float64 `json:"pollutants,omitempty"`
}

// CityHistory is the yearly mean-AQI trajectory for a city.
type CityHistory struct {
	City  string        `json:"city"`
	Years []YearSummary `json:"years"`
}

// YearSummary is the mean AQI over one calendar year.
type YearSummary struct {
	Year     int     `json:"year"`
	MeanAQI  float64 `json:"mean_aqi"`
	Readings int     `json:"readings"`
}

// CompareResponse ranks cities by their most recent AQI reading.
type CompareResponse struct {
	Cities []CityReading `json:"cities"`
}

// ImprovingCity is one qualifying downward-trend result.
type ImprovingCity struct {
	City         string  `json:"city"`
	SlopePerYear float64 `json:"slope_per_year"`
	Points       int     `json:"n_points"`
}

// TrendDiagnostics summarises what the detector saw and skipped.
type TrendDiagnostics struct {
	CitiesEvaluated int            `json:"cities_evaluated"`
	NotImproving    int            `json:"not_improving"`
	Skipped         map[string]int `json:"skipped,omitempty"`
	DroppedRows     int            `json:"dropped_rows"`
}

// ImprovingResponse is the trend analytics payload.
type ImprovingResponse struct {
	Improving   []ImprovingCity  `json:"improving"`
	Diagnostics TrendDiagnostics `json:"diagnostics"`
}

// ForecastRequest asks for an AQI forecast.
type ForecastRequest struct {
	City     string           `json:"city"`
	Days     int              `json:"days"`
	Strategy ForecastStrategy `json:"strategy,omitempty"`
}

// ForecastPoint is one predicted AQI value.
type ForecastPoint struct {
	Date         DateOnly `json:"date"`
	PredictedAQI float64  `json:"predicted_aqi"`
}

// ForecastResponse is the predicted AQI series for a city.
type ForecastResponse struct {
	City        string           `json:"city"`
	Strategy    ForecastStrategy `json:"strategy"`
	LowestAQI   float64          `json:"lowest_aqi"`
	HighestAQI  float64          `json:"highest_aqi"`
	Predictions []ForecastPoint  `json:"predictions"`
}

// TrainResponse reports the outcome of a training run.
type TrainResponse struct {
	Status           string   `json:"status"`
	Message          string   `json:"message"`
	MeanSquaredError *float64 `json:"mean_squared_error,omitempty"`
}
