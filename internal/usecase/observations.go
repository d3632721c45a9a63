package usecase

import (
	"context"
	"fmt"
	"time"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
)

// ObservationsUseCase reads a route's stored series.
type ObservationsUseCase struct {
	catalog domrepo.RouteCatalog
	store   domrepo.SeriesStore
}

func NewObservationsUseCase(catalog domrepo.RouteCatalog, store domrepo.SeriesStore) *ObservationsUseCase {
	return &ObservationsUseCase{catalog: catalog, store: store}
}

type GetObservationsParams struct {
	RouteID string
	From    time.Time
	To      time.Time
	Limit   int
}

type GetObservationsResult struct {
	RouteID      string                   `json:"route_id"`
	From         *time.Time               `json:"from,omitempty"`
	To           *time.Time               `json:"to,omitempty"`
	Count        int                      `json:"count"`
	Truncated    bool                     `json:"truncated"`
	Observations []models.FareObservation `json:"observations"`
}

// GetObservations returns up to Limit observations ordered by observed_at.
// Zero bounds are open.
func (uc *ObservationsUseCase) GetObservations(ctx context.Context, p GetObservationsParams) (*GetObservationsResult, error) {
	if _, ok := uc.catalog.Route(p.RouteID); !ok {
		return nil, errs.New(errs.KindUnknownRoute, p.RouteID, "not in catalog")
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 1000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	res := &GetObservationsResult{RouteID: p.RouteID, Observations: []models.FareObservation{}}
	if !p.From.IsZero() {
		res.From = &p.From
	}
	if !p.To.IsZero() {
		res.To = &p.To
	}
	for obs := range uc.store.Range(p.RouteID, p.From, p.To) {
		if len(res.Observations) == p.Limit {
			res.Truncated = true
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Observations = append(res.Observations, obs)
	}
	res.Count = len(res.Observations)
	return res, nil
}
