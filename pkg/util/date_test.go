package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}

	got, ok = ParseTime(strconv.FormatInt(ts*1000, 10))
	if !ok || got.Unix() != ts {
		t.Fatalf("millis not detected: %v", got)
	}
}

func TestParseTimeInLocation(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	got, ok := ParseTimeIn("10/03/2026 08:00", manila, "02/01/2006 15:04")
	if !ok {
		t.Fatalf("expected ok")
	}
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got.UTC(), want)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestDayStart(t *testing.T) {
	got := DayStart(time.Date(2026, 2, 3, 23, 59, 0, 0, time.UTC))
	if !got.Equal(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault("x", 7) != 7 || ParseIntDefault("3", 7) != 3 {
		t.Fatalf("unexpected parse")
	}
}
