package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	"FareCast/internal/domain/service"
	icache "FareCast/internal/service/cache"
	"FareCast/pkg/cache"
	applogger "FareCast/pkg/logger"
	"FareCast/pkg/util"
)

// ErrInvalidHorizon is returned for an empty or oversized set of dates.
var ErrInvalidHorizon = errors.New("invalid forecast horizon")

type ForecastOptions struct {
	HardCeiling     time.Duration
	DegradedBand    float64
	MaxHorizonDates int
	CacheTTL        time.Duration
	ModelCacheTTL   time.Duration
}

// ForecastServer answers predictions from the active model, or a degraded
// estimate when no model qualifies. It never blocks on training.
type ForecastServer struct {
	catalog  domrepo.RouteCatalog
	registry domrepo.ModelRegistry
	store    domrepo.SeriesStore
	decoder  service.ModelDecoder
	results  cache.Service
	decoded  *icache.TTLCache
	tracker  *PredictionTracker
	metrics  domrepo.Metrics
	log      *applogger.Logger
	opts     ForecastOptions
	now      func() time.Time
}

type ForecastOption func(*ForecastServer)

// WithResultCache caches computed results for CacheTTL.
func WithResultCache(c cache.Service) ForecastOption {
	return func(s *ForecastServer) { s.results = c }
}

func WithForecastTracker(t *PredictionTracker) ForecastOption {
	return func(s *ForecastServer) { s.tracker = t }
}

func WithForecastLogger(l *applogger.Logger) ForecastOption {
	return func(s *ForecastServer) {
		if l != nil {
			s.log = l
		}
	}
}

func WithForecastClock(now func() time.Time) ForecastOption {
	return func(s *ForecastServer) { s.now = now }
}

func NewForecastServer(catalog domrepo.RouteCatalog, registry domrepo.ModelRegistry, store domrepo.SeriesStore, decoder service.ModelDecoder, metrics domrepo.Metrics, opts ForecastOptions, o ...ForecastOption) *ForecastServer {
	if opts.MaxHorizonDates <= 0 {
		opts.MaxHorizonDates = 366
	}
	if opts.DegradedBand <= 0 {
		opts.DegradedBand = 0.15
	}
	s := &ForecastServer{
		catalog:  catalog,
		registry: registry,
		store:    store,
		decoder:  decoder,
		metrics:  metrics,
		log:      applogger.NewNop(),
		opts:     opts,
		now:      time.Now,
	}
	for _, fn := range o {
		fn(s)
	}
	s.decoded = icache.NewTTLCacheWithClock(s.now)
	return s
}

// Predict estimates each date independently from one model snapshot.
func (s *ForecastServer) Predict(ctx context.Context, routeID string, dates []time.Time) (models.ForecastResult, error) {
	start := s.now()
	route, ok := s.catalog.Route(routeID)
	if !ok {
		return models.ForecastResult{}, errs.New(errs.KindUnknownRoute, routeID, "not in catalog")
	}
	if len(dates) == 0 || len(dates) > s.opts.MaxHorizonDates {
		return models.ForecastResult{}, fmt.Errorf("%w: %d dates, want 1..%d", ErrInvalidHorizon, len(dates), s.opts.MaxHorizonDates)
	}
	days := make([]time.Time, len(dates))
	for i, d := range dates {
		days[i] = util.DayStart(d)
	}

	var res models.ForecastResult
	active, ok := s.registry.GetActive(routeID)
	switch {
	case !ok:
		res = s.degraded(route, days, models.DegradedNoModel)
	case s.opts.HardCeiling > 0 && start.Sub(active.TrainedAt) > s.opts.HardCeiling:
		res = s.degraded(route, days, models.DegradedExpired)
	default:
		var err error
		res, err = s.fromModel(ctx, active, days)
		if err != nil {
			s.metrics.RecordError("model_unreadable")
			s.log.Error("active model unreadable",
				applogger.Route(routeID),
				applogger.Int64("version_id", active.VersionID),
				applogger.Error(err))
			res = s.degraded(route, days, models.DegradedUnreadable)
		}
	}

	s.metrics.RecordForecast(routeID, res.Degraded)
	s.metrics.RecordLatency("forecast", s.now().Sub(start).Seconds())
	return res, nil
}

func (s *ForecastServer) fromModel(ctx context.Context, active models.ModelVersion, days []time.Time) (models.ForecastResult, error) {
	key := s.resultKey(active.RouteID, active.VersionID, days)
	var res models.ForecastResult
	if s.results != nil {
		err := s.results.Get(ctx, key, &res)
		if err == nil {
			s.record(res)
			return res, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Debug("forecast cache read", applogger.String("key", key), applogger.Error(err))
		}
	}

	m, err := s.model(active)
	if err != nil {
		return models.ForecastResult{}, err
	}
	vid := active.VersionID
	asOf := s.now()
	res = models.ForecastResult{
		RouteID:        active.RouteID,
		ModelVersionID: &vid,
		GeneratedAt:    asOf.UTC(),
		Points:         make([]models.ForecastPoint, len(days)),
	}
	for i, d := range days {
		res.Points[i] = m.Predict(d, asOf)
	}
	res.CheapestDate = cheapest(res.Points)

	if s.results != nil && s.opts.CacheTTL > 0 {
		if err := s.results.Set(ctx, key, res, s.opts.CacheTTL); err != nil {
			s.log.Warn("forecast cache write", applogger.String("key", key), applogger.Error(err))
		}
	}
	s.record(res)
	return res, nil
}

func (s *ForecastServer) record(res models.ForecastResult) {
	if s.tracker != nil && res.ModelVersionID != nil {
		s.tracker.RecordPrediction(res.RouteID, *res.ModelVersionID, res.Points)
	}
}

// model returns the decoded artifact, cached per version.
func (s *ForecastServer) model(mv models.ModelVersion) (service.PriceModel, error) {
	key := fmt.Sprintf("model:%s:%d", mv.RouteID, mv.VersionID)
	if v, ok := s.decoded.Get(key); ok {
		return v.(service.PriceModel), nil
	}
	m, err := s.decoder.Decode(mv.Artifact)
	if err != nil {
		return nil, err
	}
	s.decoded.Set(key, m, s.opts.ModelCacheTTL)
	return m, nil
}

// degraded serves a flat estimate with a fixed relative band.
func (s *ForecastServer) degraded(route models.Route, days []time.Time, reason string) models.ForecastResult {
	price, fallback := s.fallbackPrice(route)
	lo := round2(price * (1 - s.opts.DegradedBand))
	hi := round2(price * (1 + s.opts.DegradedBand))

	res := models.ForecastResult{
		RouteID:     route.ID,
		Degraded:    true,
		Reason:      reason,
		Fallback:    fallback,
		GeneratedAt: s.now().UTC(),
		Points:      make([]models.ForecastPoint, len(days)),
	}
	for i, d := range days {
		res.Points[i] = models.ForecastPoint{Date: d, PointEstimate: round2(price), LowerBound: lo, UpperBound: hi}
	}
	return res
}

// fallbackPrice is the latest observed price, else the mean latest price of
// the route's class, else the class baseline fare.
func (s *ForecastServer) fallbackPrice(route models.Route) (float64, string) {
	if obs, ok := s.store.Latest(route.ID); ok {
		return obs.Price, models.FallbackLatestPrice
	}
	var sum float64
	var n int
	for _, r := range s.catalog.RoutesInClass(route.Class) {
		if obs, ok := s.store.Latest(r.ID); ok {
			sum += obs.Price
			n++
		}
	}
	if n > 0 {
		return sum / float64(n), models.FallbackClassAvg
	}
	rc, ok := s.catalog.Class(route.Class)
	if !ok || rc.BaselineFare <= 0 {
		s.metrics.RecordError("no_fallback_price")
		s.log.Warn("no fallback price for route",
			applogger.Route(route.ID),
			applogger.String("class", route.Class),
			applogger.Bool("class_known", ok))
		return 0, models.FallbackBaseline
	}
	return rc.BaselineFare, models.FallbackBaseline
}

// MonthlyOutlook predicts every day from tomorrow through the given number
// of months and summarizes each calendar month, flagging the cheapest by
// average.
func (s *ForecastServer) MonthlyOutlook(ctx context.Context, routeID string, months int) (models.MonthlyOutlook, error) {
	if months <= 0 {
		return models.MonthlyOutlook{}, fmt.Errorf("%w: months must be positive", ErrInvalidHorizon)
	}
	from := util.DayStart(s.now()).AddDate(0, 0, 1)
	to := from.AddDate(0, months, 0)
	var dates []time.Time
	for d := from; d.Before(to) && len(dates) < s.opts.MaxHorizonDates; d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}

	res, err := s.Predict(ctx, routeID, dates)
	if err != nil {
		return models.MonthlyOutlook{}, err
	}
	out := models.MonthlyOutlook{RouteID: routeID, ModelVersionID: res.ModelVersionID, Degraded: res.Degraded}

	idx := map[string]int{}
	sums := []float64{}
	for _, p := range res.Points {
		month := p.Date.Format("2006-01")
		i, ok := idx[month]
		if !ok {
			i = len(out.Months)
			idx[month] = i
			out.Months = append(out.Months, models.MonthSummary{Month: month, MinPrice: math.Inf(1)})
			sums = append(sums, 0)
		}
		ms := &out.Months[i]
		ms.Days++
		ms.MinPrice = math.Min(ms.MinPrice, p.PointEstimate)
		sums[i] += p.PointEstimate
	}
	best := -1
	for i := range out.Months {
		out.Months[i].AvgPrice = round2(sums[i] / float64(out.Months[i].Days))
		if best < 0 || out.Months[i].AvgPrice < out.Months[best].AvgPrice {
			best = i
		}
	}
	if best >= 0 {
		out.Months[best].Cheapest = true
	}
	return out, nil
}

// Invalidate drops cached results for a route after its model changed.
func (s *ForecastServer) Invalidate(ctx context.Context, routeID string) {
	s.decoded.DeletePrefix("model:" + routeID + ":")
	if s.results == nil {
		return
	}
	if err := s.results.DeleteByPattern(ctx, cache.BuildPattern("forecast:"+routeID+":")); err != nil {
		s.log.Warn("forecast cache invalidate", applogger.Route(routeID), applogger.Error(err))
	}
}

func (s *ForecastServer) resultKey(routeID string, versionID int64, days []time.Time) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = d.Format(models.DateLayout)
	}
	return cache.GenerateKeyWithParams("forecast", routeID, versionID, cache.HashKey(strings.Join(parts, ",")))
}

func cheapest(points []models.ForecastPoint) *time.Time {
	if len(points) == 0 {
		return nil
	}
	best := points[0]
	for _, p := range points[1:] {
		if p.PointEstimate < best.PointEstimate {
			best = p
		}
	}
	d := best.Date
	return &d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
