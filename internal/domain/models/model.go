package models

import "time"

// ModelStatus is the lifecycle state of a trained model version.
type ModelStatus string

const (
	StatusCandidate ModelStatus = "candidate"
	StatusActive    ModelStatus = "active"
	StatusRetired   ModelStatus = "retired"
	StatusFailed    ModelStatus = "failed"
)

// TrainingWindow is the slice of the series a model was fitted on.
type TrainingWindow struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Observations int       `json:"observations"`
}

// ModelVersion is an immutable trained model plus registry metadata.
// Artifact is opaque to everything but the forecasting package.
type ModelVersion struct {
	RouteID         string         `json:"route_id"`
	VersionID       int64          `json:"version_id"`
	TrainedAt       time.Time      `json:"trained_at"`
	Window          TrainingWindow `json:"training_window"`
	ValidationScore float64        `json:"validation_score"`
	Artifact        []byte         `json:"-"`
	Status          ModelStatus    `json:"status"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	ActivatedAt     *time.Time     `json:"activated_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a copy safe to hand out of the registry.
func (m *ModelVersion) Clone() ModelVersion {
	c := *m
	if m.ActivatedAt != nil {
		t := *m.ActivatedAt
		c.ActivatedAt = &t
	}
	return c
}

// Model event types.
const (
	EventActivated  = "activated"
	EventRolledBack = "rolled_back"
	EventRetired    = "retired"
	EventFailed     = "failed"
)

// ModelEvent announces a registry status change.
type ModelEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	RouteID   string    `json:"route_id"`
	VersionID int64     `json:"version_id"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// RetrainResult reports what a retrain did with its candidate.
type RetrainResult struct {
	Version   ModelVersion `json:"version"`
	Activated bool         `json:"activated"`
	Reason    string       `json:"reason,omitempty"`
}
