package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"FareCast/pkg/util"
)

const (
	ColTrend   = "trend"
	ColLead    = "lead"
	ColHoliday = "holiday"

	weekPeriodDays = 7.0
	secondsPerDay  = 86400.0
)

// Spec is the feature layout of a fitted model. It travels inside the
// artifact so prediction rebuilds exactly the columns the model saw.
type Spec struct {
	Origin            time.Time `json:"origin"`
	WeeklyOrders      int       `json:"weekly_orders"`
	HolidayWindowDays int       `json:"holiday_window_days"`
	Columns           []string  `json:"columns"`
}

// WeeklyColumn names the Fourier column of an order and component.
func WeeklyColumn(order int, comp string) string {
	return fmt.Sprintf("weekly_%02d_%s", order, comp)
}

// Candidates lists every column the builder can produce.
func Candidates(weeklyOrders int) []string {
	cols := []string{ColTrend, ColLead}
	for o := 1; o <= weeklyOrders; o++ {
		cols = append(cols, WeeklyColumn(o, "sin"), WeeklyColumn(o, "cos"))
	}
	return append(cols, ColHoliday)
}

// Extractor computes feature values for a spec.
type Extractor struct {
	cal *Calendar
}

func NewExtractor(c *Calendar) *Extractor {
	if c == nil {
		c = NewCalendar()
	}
	return &Extractor{cal: c}
}

// Row returns the values of spec.Columns for a fare departing on departure,
// quoted lead days ahead. Trend and calendar columns follow the departure
// day; only the lead column depends on when the fare was seen.
func (e *Extractor) Row(spec Spec, departure time.Time, lead float64) []float64 {
	return e.RowFor(spec, spec.Columns, departure, lead)
}

// RowFor is Row over an explicit column list.
func (e *Extractor) RowFor(spec Spec, cols []string, departure time.Time, lead float64) []float64 {
	day := util.DayStart(departure)
	row := make([]float64, len(cols))
	for i, col := range cols {
		row[i] = e.value(spec, col, day, lead)
	}
	return row
}

func (e *Extractor) value(spec Spec, col string, day time.Time, lead float64) float64 {
	switch col {
	case ColTrend:
		return day.Sub(spec.Origin).Hours() / 24
	case ColLead:
		return lead
	case ColHoliday:
		if e.cal.Near(day, spec.HolidayWindowDays) {
			return 1
		}
		return 0
	}

	if order, comp, ok := parseWeekly(col); ok {
		sin, cos := fourier(float64(day.Unix())/secondsPerDay, order, weekPeriodDays)
		if comp == "sin" {
			return sin
		}
		return cos
	}
	return 0
}

func parseWeekly(col string) (int, string, bool) {
	rest, ok := strings.CutPrefix(col, "weekly_")
	if !ok {
		return 0, "", false
	}
	num, comp, ok := strings.Cut(rest, "_")
	if !ok || (comp != "sin" && comp != "cos") {
		return 0, "", false
	}
	order, err := strconv.Atoi(num)
	if err != nil || order < 1 {
		return 0, "", false
	}
	return order, comp, true
}

// Known reports whether col is a column the extractor understands.
func Known(col string) bool {
	switch col {
	case ColTrend, ColLead, ColHoliday:
		return true
	}
	_, _, ok := parseWeekly(col)
	return ok
}

// fourier mirrors the seasonal component used by additive time series models:
// omega = 2*pi*order/period applied to the time feature.
func fourier(t float64, order int, period float64) (float64, float64) {
	rad := 2.0 * math.Pi * float64(order) / period * t
	return math.Sin(rad), math.Cos(rad)
}

// StdDev is the population standard deviation; used to drop constant columns.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	_, sd := stat.PopMeanStdDev(xs, nil)
	return sd
}
