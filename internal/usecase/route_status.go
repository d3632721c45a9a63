package usecase

import (
	"context"
	"sync"
	"time"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
)

// RouteStatusUseCase gathers an operator view of one route concurrently.
type RouteStatusUseCase struct {
	catalog   domrepo.RouteCatalog
	registry  domrepo.ModelRegistry
	store     domrepo.SeriesStore
	evaluator *StalenessEvaluator
	forecasts *ForecastServer
	timeout   time.Duration
	days      int
	now       func() time.Time
}

func NewRouteStatusUseCase(catalog domrepo.RouteCatalog, registry domrepo.ModelRegistry, store domrepo.SeriesStore, evaluator *StalenessEvaluator, forecasts *ForecastServer) *RouteStatusUseCase {
	return &RouteStatusUseCase{
		catalog:   catalog,
		registry:  registry,
		store:     store,
		evaluator: evaluator,
		forecasts: forecasts,
		timeout:   10 * time.Second,
		days:      7,
		now:       time.Now,
	}
}

// GetStatus never fails for a known route; a part that cannot be produced
// is reported in Errors.
func (uc *RouteStatusUseCase) GetStatus(ctx context.Context, routeID string) (*models.RouteStatus, error) {
	if _, ok := uc.catalog.Route(routeID); !ok {
		return nil, errs.New(errs.KindUnknownRoute, routeID, "not in catalog")
	}

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	res := &models.RouteStatus{
		RouteID:   routeID,
		Timestamp: uc.now(),
		Errors:    map[string]string{},
	}

	type item struct {
		name string
		val  interface{}
		err  error
	}
	ch := make(chan item, 4)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		mv, ok := uc.registry.GetActive(routeID)
		if !ok {
			ch <- item{"model", nil, nil}
			return
		}
		ch <- item{"model", mv, nil}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch <- item{"verdict", uc.evaluator.Evaluate(routeID), nil}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		obs, ok := uc.store.Latest(routeID)
		if !ok {
			ch <- item{"latest", nil, nil}
			return
		}
		ch <- item{"latest", obs, nil}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := uc.now()
		dates := make([]time.Time, uc.days)
		for i := range dates {
			dates[i] = start.AddDate(0, 0, i+1)
		}
		v, err := uc.forecasts.Predict(ctx, routeID, dates)
		ch <- item{"forecast", v, err}
	}()

	go func() { wg.Wait(); close(ch) }()

	for it := range ch {
		if it.err != nil {
			res.Errors[it.name] = it.err.Error()
			continue
		}
		if it.val == nil {
			continue
		}
		switch it.name {
		case "model":
			v := it.val.(models.ModelVersion)
			res.ActiveModel = &v
		case "verdict":
			v := it.val.(models.StalenessVerdict)
			res.Verdict = &v
		case "latest":
			v := it.val.(models.FareObservation)
			res.Latest = &v
		case "forecast":
			v := it.val.(models.ForecastResult)
			res.Forecast = &v
		}
	}

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}
