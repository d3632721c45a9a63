package service

import (
	"context"
	"time"

	"FareCast/internal/domain/models"
)

// Trainer fits a candidate model from a route's series snapshot.
type Trainer interface {
	Train(ctx context.Context, routeID string, series []models.FareObservation) (models.ModelVersion, error)
}

// PriceModel produces estimates from a decoded artifact.
type PriceModel interface {
	Predict(departure, asOf time.Time) models.ForecastPoint
}

// ModelDecoder turns an opaque artifact back into a PriceModel.
type ModelDecoder interface {
	Decode(artifact []byte) (PriceModel, error)
}
