package models

import "time"

// ForecastPoint is the estimate for one horizon date.
type ForecastPoint struct {
	Date          time.Time `json:"date"`
	PointEstimate float64   `json:"point_estimate"`
	LowerBound    float64   `json:"lower_bound"`
	UpperBound    float64   `json:"upper_bound"`
}

// Degraded reason codes.
const (
	DegradedNoModel     = "no_model"
	DegradedExpired     = "model_expired"
	DegradedUnreadable  = "model_unreadable"
	FallbackLatestPrice = "latest_price"
	FallbackClassAvg    = "class_average"
	FallbackBaseline    = "class_baseline"
)

// ForecastResult answers a forecast request. ModelVersionID is nil when degraded.
type ForecastResult struct {
	RouteID        string          `json:"route_id"`
	ModelVersionID *int64          `json:"model_version_id"`
	Degraded       bool            `json:"degraded"`
	Reason         string          `json:"reason,omitempty"`
	Fallback       string          `json:"fallback,omitempty"`
	GeneratedAt    time.Time       `json:"generated_at"`
	Points         []ForecastPoint `json:"points"`
	CheapestDate   *time.Time      `json:"cheapest_date,omitempty"`
}

// MonthSummary aggregates daily estimates over a calendar month.
type MonthSummary struct {
	Month    string  `json:"month"`
	Days     int     `json:"days"`
	MinPrice float64 `json:"min_price"`
	AvgPrice float64 `json:"avg_price"`
	Cheapest bool    `json:"cheapest"`
}

// MonthlyOutlook is the per-month view of a long horizon forecast.
type MonthlyOutlook struct {
	RouteID        string         `json:"route_id"`
	ModelVersionID *int64         `json:"model_version_id"`
	Degraded       bool           `json:"degraded"`
	Months         []MonthSummary `json:"months"`
}
