package usecase

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // source timezones resolve without a system zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	"FareCast/pkg/util"
)

var routeIDPattern = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}$`)

// ValidRouteID is the validator func behind the route_id tag.
func ValidRouteID(fl validator.FieldLevel) bool {
	return routeIDPattern.MatchString(fl.Field().String())
}

// CurrencyConverter expresses amounts in the base currency.
type CurrencyConverter interface {
	Base() string
	Convert(amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// Normalizer turns raw scraped records into canonical observations.
type Normalizer struct {
	catalog  domrepo.RouteCatalog
	sources  domrepo.SourceRegistry
	fx       CurrencyConverter
	validate *validator.Validate
	now      func() time.Time

	locMu sync.RWMutex
	locs  map[string]*time.Location
}

type NormalizerOption func(*Normalizer)

func WithNormalizerClock(now func() time.Time) NormalizerOption {
	return func(n *Normalizer) { n.now = now }
}

func NewNormalizer(catalog domrepo.RouteCatalog, sources domrepo.SourceRegistry, fx CurrencyConverter, opts ...NormalizerOption) (*Normalizer, error) {
	v := validator.New()
	if err := v.RegisterValidation("route_id", ValidRouteID); err != nil {
		return nil, fmt.Errorf("register route_id validation: %w", err)
	}
	n := &Normalizer{
		catalog:  catalog,
		sources:  sources,
		fx:       fx,
		validate: v,
		now:      time.Now,
		locs:     make(map[string]*time.Location),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Schema resolves an active source schema.
func (n *Normalizer) Schema(sourceID string) (models.SourceSchema, error) {
	s, ok := n.sources.Schema(sourceID)
	if !ok {
		return models.SourceSchema{}, errs.Newf(errs.KindInvalidObservation, "", "unknown source %q", sourceID)
	}
	if !s.Active {
		return models.SourceSchema{}, errs.Newf(errs.KindInvalidObservation, "", "source %q is inactive", sourceID)
	}
	return s, nil
}

// Normalize maps one raw record through the source schema. Every failure is
// an InvalidObservation.
func (n *Normalizer) Normalize(raw models.RawRecord, schema models.SourceSchema) (models.FareObservation, error) {
	now := n.now().UTC()
	loc := n.location(schema.Timezone)

	routeID, err := n.routeID(raw, schema)
	if err != nil {
		return models.FareObservation{}, err
	}
	if _, ok := n.catalog.Route(routeID); !ok {
		return models.FareObservation{}, errs.New(errs.KindInvalidObservation, routeID, "unknown route")
	}
	invalid := func(format string, a ...interface{}) error {
		return errs.Newf(errs.KindInvalidObservation, routeID, format, a...)
	}

	observedAt, ok := timeValue(lookup(raw, schema.Field("observed_at")), loc, schema.TimeLayouts)
	if !ok {
		return models.FareObservation{}, invalid("observed_at missing or malformed")
	}
	observedAt = observedAt.UTC()
	if observedAt.After(now) {
		return models.FareObservation{}, invalid("observed_at %s is after ingestion time", observedAt.Format(time.RFC3339))
	}

	dep, ok := timeValue(lookup(raw, schema.Field("departure_date")), loc, schema.TimeLayouts)
	if !ok {
		return models.FareObservation{}, invalid("departure_date missing or malformed")
	}
	departure := localDay(dep, loc)
	if !departure.After(localDay(observedAt, loc)) {
		return models.FareObservation{}, invalid("departure %s is not after the observation day", departure.Format(models.DateLayout))
	}

	price, currency, err := n.price(raw, schema)
	if err != nil {
		return models.FareObservation{}, invalid("%v", err)
	}

	obs := models.FareObservation{
		RouteID:       routeID,
		DepartureDate: departure,
		ObservedAt:    observedAt,
		Price:         price,
		Currency:      currency,
		SourceID:      schema.ID,
		Airline:       stringValue(lookup(raw, schema.Field("airline"))),
		CabinClass:    cabinClass(stringValue(lookup(raw, schema.Field("cabin_class")))),
		FareType:      stringValue(lookup(raw, schema.Field("fare_type"))),
		IngestedAt:    now,
	}
	if v := lookup(raw, schema.Field("seats_remaining")); v != nil {
		seats, ok := intValue(v)
		if !ok {
			return models.FareObservation{}, invalid("seats_remaining malformed")
		}
		obs.SeatsRemaining = &seats
	}

	if err := n.validate.Struct(obs); err != nil {
		return models.FareObservation{}, errs.Wrap(errs.KindInvalidObservation, routeID, "validation", err)
	}
	return obs, nil
}

func (n *Normalizer) routeID(raw models.RawRecord, schema models.SourceSchema) (string, error) {
	if id := strings.ToUpper(stringValue(lookup(raw, schema.Field("route_id")))); id != "" {
		return id, nil
	}
	origin := strings.ToUpper(stringValue(lookup(raw, schema.Field("origin"))))
	dest := strings.ToUpper(stringValue(lookup(raw, schema.Field("destination"))))
	if origin == "" || dest == "" {
		return "", errs.New(errs.KindInvalidObservation, "", "route missing")
	}
	return origin + "-" + dest, nil
}

// price returns the amount in the base currency rounded to cents.
func (n *Normalizer) price(raw models.RawRecord, schema models.SourceSchema) (float64, string, error) {
	amount, ok := decimalValue(lookup(raw, schema.Field("price")))
	if !ok {
		return 0, "", fmt.Errorf("price missing or malformed")
	}
	if !amount.IsPositive() {
		return 0, "", fmt.Errorf("price %s must be positive", amount)
	}
	if schema.PriceUnit == models.PriceUnitMinor {
		amount = amount.Shift(-2)
	}

	currency := strings.ToUpper(stringValue(lookup(raw, schema.Field("currency"))))
	if currency == "" {
		currency = strings.ToUpper(schema.DefaultCurrency)
	}
	if currency == "" {
		currency = n.fx.Base()
	}
	base, err := n.fx.Convert(amount, currency)
	if err != nil {
		return 0, "", err
	}
	base = base.Round(2)
	if !base.IsPositive() {
		return 0, "", fmt.Errorf("price rounds to %s %s", base, n.fx.Base())
	}
	return base.InexactFloat64(), n.fx.Base(), nil
}

func (n *Normalizer) location(name string) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}
	n.locMu.RLock()
	loc, ok := n.locs[name]
	n.locMu.RUnlock()
	if ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	n.locMu.Lock()
	n.locs[name] = loc
	n.locMu.Unlock()
	return loc
}

// lookup resolves a dotted key through nested objects.
func lookup(raw models.RawRecord, key string) interface{} {
	var cur interface{} = map[string]interface{}(raw)
	for _, part := range strings.Split(key, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			cur = m[part]
		case models.RawRecord:
			cur = m[part]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func cabinClass(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

func timeValue(v interface{}, loc *time.Location, layouts []string) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		return util.ParseTimeIn(strings.TrimSpace(x), loc, layouts...)
	case float64:
		if x <= 0 || math.IsInf(x, 0) || math.IsNaN(x) {
			return time.Time{}, false
		}
		return util.FromUnix(x), true
	case int64:
		if x <= 0 {
			return time.Time{}, false
		}
		return util.FromUnix(float64(x)), true
	case int:
		if x <= 0 {
			return time.Time{}, false
		}
		return util.FromUnix(float64(x)), true
	case time.Time:
		return x, !x.IsZero()
	}
	return time.Time{}, false
}

// localDay is the calendar day of t in loc, as midnight UTC.
func localDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func decimalValue(v interface{}) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(x), ",", ""))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

func intValue(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		return i, err == nil
	}
	return 0, false
}
