package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalendarDates(t *testing.T) {
	c := NewCalendar()
	dates := c.Dates(2026)

	assert.Len(t, dates, len(PhilippineHolidays))
	assert.Contains(t, dates, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, dates, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, dates, time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, dates, time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC))
}

func TestCalendarNear(t *testing.T) {
	c := NewCalendar()
	testData := map[string]struct {
		at     time.Time
		window int
		want   bool
	}{
		"on holiday":            {at: time.Date(2026, 6, 12, 15, 0, 0, 0, time.UTC), window: 0, want: true},
		"after good friday":     {at: time.Date(2026, 4, 5, 8, 0, 0, 0, time.UTC), window: 2, want: true},
		"quiet february":        {at: time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC), window: 2, want: false},
		"day after new year":    {at: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), window: 0, want: false},
		"new year in window":    {at: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), window: 1, want: true},
		"crosses year boundary": {at: time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC), window: 2, want: true},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.want, c.Near(td.at, td.window))
		})
	}
}
