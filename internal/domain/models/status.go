package models

import "time"

// RouteStatus is a consolidated operator view of one route.
// Note: no transport (json/http) concerns beyond field tags.
type RouteStatus struct {
	RouteID     string            `json:"route_id"`
	Timestamp   time.Time         `json:"timestamp"`
	ActiveModel *ModelVersion     `json:"active_model,omitempty"`
	Verdict     *StalenessVerdict `json:"verdict,omitempty"`
	Latest      *FareObservation  `json:"latest_observation,omitempty"`
	Forecast    *ForecastResult   `json:"forecast,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}
