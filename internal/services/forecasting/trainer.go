package forecasting

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	"FareCast/internal/domain/service"
	"FareCast/internal/services/features"
	"FareCast/pkg/logger"
	"FareCast/pkg/util"
)

// constantTol is the standard deviation below which a column carries no signal.
const constantTol = 1e-9

// Options tunes training.
type Options struct {
	MinObservations   int
	MinSpan           time.Duration
	Lookback          time.Duration
	HoldoutFraction   float64
	MinHoldout        int
	WeeklyOrders      int
	HolidayWindowDays int
	SigmaFloor        float64
	IntervalZ         float64
	HorizonScaleDays  float64
}

func DefaultOptions() Options {
	return Options{
		MinObservations:   30,
		MinSpan:           14 * 24 * time.Hour,
		Lookback:          180 * 24 * time.Hour,
		HoldoutFraction:   0.2,
		MinHoldout:        5,
		WeeklyOrders:      2,
		HolidayWindowDays: 2,
		SigmaFloor:        0.02,
		IntervalZ:         1.96,
		HorizonScaleDays:  7,
	}
}

// TrainerOption configures Trainer.
type TrainerOption func(*Trainer)

func WithClock(now func() time.Time) TrainerOption {
	return func(t *Trainer) {
		t.now = now
	}
}

func WithLogger(l *logger.Logger) TrainerOption {
	return func(t *Trainer) {
		t.log = l
	}
}

func WithExtractor(ext *features.Extractor) TrainerOption {
	return func(t *Trainer) {
		t.ext = ext
	}
}

// Trainer fits per-route log-price regressions. Stateless between calls.
type Trainer struct {
	opts Options
	ext  *features.Extractor
	now  func() time.Time
	log  *logger.Logger
}

var _ service.Trainer = (*Trainer)(nil)

func NewTrainer(opts Options, o ...TrainerOption) *Trainer {
	t := &Trainer{
		opts: opts,
		now:  time.Now,
		log:  logger.NewNop(),
	}
	for _, fn := range o {
		fn(t)
	}
	if t.ext == nil {
		t.ext = features.NewExtractor(nil)
	}
	return t
}

// point is one distinct (departure, observed_at) sample.
type point struct {
	departure  time.Time
	observedAt time.Time
	lead       float64
	logPrice   float64
	price      float64
}

// Train fits a candidate on the series snapshot. The returned version has no
// version id; the registry assigns it.
func (t *Trainer) Train(ctx context.Context, routeID string, series []models.FareObservation) (models.ModelVersion, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelVersion{}, cancelled(routeID, err)
	}

	pts := t.prepare(series)
	if len(pts) < t.opts.MinObservations {
		return models.ModelVersion{}, errs.Newf(errs.KindInsufficientData, routeID,
			"%d distinct observations, need %d", len(pts), t.opts.MinObservations)
	}
	first, last := pts[0].observedAt, pts[len(pts)-1].observedAt
	if span := last.Sub(first); span < t.opts.MinSpan {
		return models.ModelVersion{}, errs.Newf(errs.KindInsufficientData, routeID,
			"observations span %s, need %s", span, t.opts.MinSpan)
	}

	firstDep, lastDep := departureRange(pts)
	spec := features.Spec{
		Origin:            firstDep,
		HolidayWindowDays: t.opts.HolidayWindowDays,
	}
	if lastDep.Sub(firstDep) >= 14*24*time.Hour {
		spec.WeeklyOrders = t.opts.WeeklyOrders
	}
	spec.Columns = t.informativeColumns(spec, pts)

	nHold := int(math.Round(float64(len(pts)) * t.opts.HoldoutFraction))
	if nHold < t.opts.MinHoldout {
		nHold = t.opts.MinHoldout
	}
	nHead := len(pts) - nHold
	if nHead <= len(spec.Columns)+1 {
		return models.ModelVersion{}, errs.Newf(errs.KindInsufficientData, routeID,
			"%d points leave %d for fitting %d features", len(pts), nHead, len(spec.Columns)+1)
	}

	x, y := t.design(spec, pts)

	// validation fit on the head, scored on the tail
	head, err := fitOLS(x.Slice(0, nHead, 0, len(spec.Columns)+1).(*mat.Dense), y[:nHead])
	if err != nil {
		return models.ModelVersion{}, trainingFailed(routeID, "validation fit", err)
	}
	tail := x.Slice(nHead, len(pts), 0, len(spec.Columns)+1).(*mat.Dense)
	predicted := predictRows(tail, head.coef)
	actual := make([]float64, 0, nHold)
	for i := range predicted {
		predicted[i] = math.Exp(predicted[i])
		actual = append(actual, pts[nHead+i].price)
	}
	score, err := MAPE(predicted, actual)
	if err != nil {
		return models.ModelVersion{}, trainingFailed(routeID, "score", err)
	}
	if !finite(score) {
		return models.ModelVersion{}, errs.New(errs.KindTrainingFailed, routeID, "validation score is not finite")
	}

	if err := ctx.Err(); err != nil {
		return models.ModelVersion{}, cancelled(routeID, err)
	}

	full, err := fitOLS(x, y)
	if err != nil {
		return models.ModelVersion{}, trainingFailed(routeID, "fit", err)
	}
	fitted := predictRows(x, full.coef)
	var sse float64
	for i := range fitted {
		d := y[i] - fitted[i]
		sse += d * d
	}
	sigma := math.Max(math.Sqrt(sse/float64(len(pts)-full.used)), t.opts.SigmaFloor)
	if !finite(sigma) {
		return models.ModelVersion{}, errs.New(errs.KindTrainingFailed, routeID, "residual deviation is not finite")
	}

	minLead, maxLead := leadRange(pts)
	art := Artifact{
		Format:       ArtifactFormat,
		Features:     spec,
		Coef:         full.coef,
		Sigma:        sigma,
		Z:            t.opts.IntervalZ,
		HorizonScale: t.opts.HorizonScaleDays,
		LastObserved: last,
		MinLead:      minLead,
		MaxLead:      maxLead,
	}
	blob, err := art.Encode()
	if err != nil {
		return models.ModelVersion{}, trainingFailed(routeID, "encode artifact", err)
	}

	if err := ctx.Err(); err != nil {
		return models.ModelVersion{}, cancelled(routeID, err)
	}

	t.log.Debug("model fitted",
		logger.Route(routeID),
		logger.Int("observations", len(pts)),
		logger.Strings("columns", spec.Columns),
		logger.Float64("mape", score),
		logger.Float64("sigma", sigma))

	now := t.now().UTC()
	return models.ModelVersion{
		RouteID:   routeID,
		TrainedAt: now,
		Window: models.TrainingWindow{
			From:         first,
			To:           last,
			Observations: len(pts),
		},
		ValidationScore: score,
		Artifact:        blob,
		Status:          models.StatusCandidate,
		UpdatedAt:       now,
	}, nil
}

// prepare restricts the series to the lookback window and collapses
// observations sharing departure and observed_at into one mean log price.
func (t *Trainer) prepare(series []models.FareObservation) []point {
	if len(series) == 0 {
		return nil
	}
	obs := make([]models.FareObservation, 0, len(series))
	for _, o := range series {
		if o.Price > 0 {
			obs = append(obs, o)
		}
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].ObservedAt.Before(obs[j].ObservedAt) })
	if len(obs) == 0 {
		return nil
	}

	if t.opts.Lookback > 0 {
		from := obs[len(obs)-1].ObservedAt.Add(-t.opts.Lookback)
		i := sort.Search(len(obs), func(i int) bool { return !obs[i].ObservedAt.Before(from) })
		obs = obs[i:]
	}

	type key struct {
		dep int64
		at  int64
	}
	type acc struct {
		idx   int
		sum   float64
		price float64
		n     int
	}
	groups := make(map[key]*acc, len(obs))
	pts := make([]point, 0, len(obs))
	for _, o := range obs {
		k := key{dep: util.DayStart(o.DepartureDate).Unix(), at: o.ObservedAt.UnixNano()}
		if g, ok := groups[k]; ok {
			g.sum += math.Log(o.Price)
			g.price += o.Price
			g.n++
			continue
		}
		groups[k] = &acc{idx: len(pts), sum: math.Log(o.Price), price: o.Price, n: 1}
		pts = append(pts, point{
			departure:  util.DayStart(o.DepartureDate),
			observedAt: o.ObservedAt,
			lead:       o.LeadDays(),
		})
	}
	for _, g := range groups {
		pts[g.idx].logPrice = g.sum / float64(g.n)
		pts[g.idx].price = g.price / float64(g.n)
	}
	return pts
}

// informativeColumns drops candidate columns that are constant over the window.
func (t *Trainer) informativeColumns(spec features.Spec, pts []point) []string {
	cands := features.Candidates(spec.WeeklyOrders)
	values := make([][]float64, len(cands))
	for _, p := range pts {
		row := t.ext.RowFor(spec, cands, p.departure, p.lead)
		for j, v := range row {
			values[j] = append(values[j], v)
		}
	}
	cols := make([]string, 0, len(cands))
	for j, col := range cands {
		if features.StdDev(values[j]) >= constantTol {
			cols = append(cols, col)
		}
	}
	return cols
}

// design builds [1 | features] and the log-price target.
func (t *Trainer) design(spec features.Spec, pts []point) (*mat.Dense, []float64) {
	width := len(spec.Columns) + 1
	x := mat.NewDense(len(pts), width, nil)
	y := make([]float64, len(pts))
	for i, p := range pts {
		x.Set(i, 0, 1)
		for j, v := range t.ext.Row(spec, p.departure, p.lead) {
			x.Set(i, j+1, v)
		}
		y[i] = p.logPrice
	}
	return x, y
}

func departureRange(pts []point) (time.Time, time.Time) {
	first, last := pts[0].departure, pts[0].departure
	for _, p := range pts[1:] {
		if p.departure.Before(first) {
			first = p.departure
		}
		if p.departure.After(last) {
			last = p.departure
		}
	}
	return first, last
}

func leadRange(pts []point) (float64, float64) {
	lo, hi := pts[0].lead, pts[0].lead
	for _, p := range pts[1:] {
		lo = math.Min(lo, p.lead)
		hi = math.Max(hi, p.lead)
	}
	return lo, hi
}

func trainingFailed(routeID, stage string, err error) error {
	return errs.Wrap(errs.KindTrainingFailed, routeID, stage, err)
}

func cancelled(routeID string, err error) error {
	reason := "training cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "training timed out"
	}
	return errs.Wrap(errs.KindTrainingFailed, routeID, reason, err)
}
