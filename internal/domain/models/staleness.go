package models

import "time"

// StalenessReason is the diagnostic attached to a verdict.
type StalenessReason string

const (
	ReasonNoModel    StalenessReason = "no_model"
	ReasonAge        StalenessReason = "age"
	ReasonVolume     StalenessReason = "volume"
	ReasonErrorDrift StalenessReason = "error_drift"
	ReasonFresh      StalenessReason = "fresh"
)

// StalenessVerdict says whether a route's model must be retrained.
type StalenessVerdict struct {
	RouteID      string          `json:"route_id"`
	NeedsRetrain bool            `json:"needs_retrain"`
	Reason       StalenessReason `json:"reason"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
}

// ParseStalenessReason validates a configured reason name.
func ParseStalenessReason(s string) (StalenessReason, bool) {
	switch r := StalenessReason(s); r {
	case ReasonNoModel, ReasonAge, ReasonVolume, ReasonErrorDrift:
		return r, true
	}
	return "", false
}
