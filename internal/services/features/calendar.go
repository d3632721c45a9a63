package features

import (
	"sync"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// Philippine public holidays that move airfare demand. Fixed-date ones use
// cal.CalcDayOfMonth; Holy Week is anchored on Easter.
var (
	NewYearsDay = &cal.Holiday{
		Name: "New Year's Day", Type: cal.ObservancePublic,
		Month: time.January, Day: 1, Func: cal.CalcDayOfMonth,
	}
	MaundyThursday = &cal.Holiday{
		Name: "Maundy Thursday", Type: cal.ObservancePublic,
		Offset: -3, Func: cal.CalcEasterOffset,
	}
	GoodFriday = &cal.Holiday{
		Name: "Good Friday", Type: cal.ObservancePublic,
		Offset: -2, Func: cal.CalcEasterOffset,
	}
	DayOfValor = &cal.Holiday{
		Name: "Araw ng Kagitingan", Type: cal.ObservancePublic,
		Month: time.April, Day: 9, Func: cal.CalcDayOfMonth,
	}
	LabourDay = &cal.Holiday{
		Name: "Labour Day", Type: cal.ObservancePublic,
		Month: time.May, Day: 1, Func: cal.CalcDayOfMonth,
	}
	IndependenceDay = &cal.Holiday{
		Name: "Independence Day", Type: cal.ObservancePublic,
		Month: time.June, Day: 12, Func: cal.CalcDayOfMonth,
	}
	AllSaintsDay = &cal.Holiday{
		Name: "All Saints' Day", Type: cal.ObservancePublic,
		Month: time.November, Day: 1, Func: cal.CalcDayOfMonth,
	}
	BonifacioDay = &cal.Holiday{
		Name: "Bonifacio Day", Type: cal.ObservancePublic,
		Month: time.November, Day: 30, Func: cal.CalcDayOfMonth,
	}
	RizalDay = &cal.Holiday{
		Name: "Rizal Day", Type: cal.ObservancePublic,
		Month: time.December, Day: 30, Func: cal.CalcDayOfMonth,
	}
	NewYearsEve = &cal.Holiday{
		Name: "New Year's Eve", Type: cal.ObservancePublic,
		Month: time.December, Day: 31, Func: cal.CalcDayOfMonth,
	}

	// PhilippineHolidays is the default holiday set.
	PhilippineHolidays = []*cal.Holiday{
		NewYearsDay,
		MaundyThursday,
		GoodFriday,
		DayOfValor,
		LabourDay,
		IndependenceDay,
		AllSaintsDay,
		BonifacioDay,
		us.ChristmasDay,
		RizalDay,
		NewYearsEve,
	}
)

// Calendar answers holiday proximity questions. Safe for concurrent use.
type Calendar struct {
	holidays []*cal.Holiday
	mu       sync.Mutex
	years    map[int][]time.Time
}

func NewCalendar(holidays ...*cal.Holiday) *Calendar {
	if len(holidays) == 0 {
		holidays = PhilippineHolidays
	}
	return &Calendar{holidays: holidays, years: make(map[int][]time.Time)}
}

// Dates returns the actual (not observed) holiday dates of a year as UTC midnights.
func (c *Calendar) Dates(year int) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.years[year]; ok {
		return d
	}
	out := make([]time.Time, 0, len(c.holidays))
	for _, h := range c.holidays {
		actual, _ := h.Calc(year)
		if actual.IsZero() {
			continue
		}
		y, m, d := actual.Date()
		out = append(out, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	}
	c.years[year] = out
	return out
}

// Near reports whether t's calendar day is within window days of a holiday.
func (c *Calendar) Near(t time.Time, window int) bool {
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, yr := range []int{y - 1, y, y + 1} {
		for _, h := range c.Dates(yr) {
			diff := day.Sub(h).Hours() / 24
			if diff < 0 {
				diff = -diff
			}
			if diff <= float64(window) {
				return true
			}
		}
	}
	return false
}
