package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	pkgch "FareCast/pkg/clickhouse"
	applogger "FareCast/pkg/logger"
)

const observationColumns = "signature, route_id, departure_date, observed_at, price, currency, source_id, airline, cabin_class, fare_type, seats_remaining, ingested_at"

// ObservationSchema returns the DDL for the observation log. Duplicate
// deliveries collapse on signature; rows expire after retention.
func ObservationSchema(table string, retention time.Duration) []string {
	days := int(retention.Hours() / 24)
	if days < 1 {
		days = 1
	}
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            signature String,
            route_id LowCardinality(String),
            departure_date Date,
            observed_at DateTime64(3, 'UTC'),
            price Float64,
            currency LowCardinality(String),
            source_id LowCardinality(String),
            airline String,
            cabin_class LowCardinality(String),
            fare_type String,
            seats_remaining Nullable(Int32),
            ingested_at DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree(ingested_at)
        PARTITION BY toYYYYMM(observed_at)
        ORDER BY (route_id, observed_at, signature)
        TTL toDateTime(observed_at) + INTERVAL %d DAY
    `, table, days)}
}

// CHObservationLog implements ObservationLog backed by ClickHouse.
type CHObservationLog struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.ObservationLog = (*CHObservationLog)(nil)

func NewCHObservationLog(ch *pkgch.Client, table string, l *applogger.Logger) *CHObservationLog {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHObservationLog{db: ch.DB(), table: table, l: l}
}

func (s *CHObservationLog) Write(ctx context.Context, obs []models.FareObservation) error {
	if len(obs) == 0 {
		return nil
	}
	start := time.Now()
	// chunked multi-row VALUES to reduce round-trips
	const chunkSize = 2000
	for from := 0; from < len(obs); from += chunkSize {
		to := min(from+chunkSize, len(obs))
		q, args := buildObservationInsert(s.table, obs[from:to])
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse write_observations error",
				applogger.String("table", s.table),
				applogger.Int("rows", to-from),
				applogger.Error(err))
			return fmt.Errorf("insert observations: %w", err)
		}
	}
	s.l.Debug("clickhouse write_observations ok",
		applogger.String("table", s.table),
		applogger.Int("rows", len(obs)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func buildObservationInsert(table string, obs []models.FareObservation) (string, []interface{}) {
	values := make([]string, 0, len(obs))
	args := make([]interface{}, 0, len(obs)*12)
	for _, o := range obs {
		var seats interface{}
		if o.SeatsRemaining != nil {
			seats = int32(*o.SeatsRemaining)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			o.Signature(),
			o.RouteID,
			o.DepartureDate.UTC(),
			o.ObservedAt.UTC(),
			o.Price,
			o.Currency,
			o.SourceID,
			o.Airline,
			o.CabinClass,
			o.FareType,
			seats,
			o.IngestedAt.UTC(),
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, observationColumns, strings.Join(values, ","))
	return q, args
}

// Load returns observations with observed_at >= since ordered per route.
func (s *CHObservationLog) Load(ctx context.Context, since time.Time) ([]models.FareObservation, error) {
	q := fmt.Sprintf(`
        SELECT %s
        FROM %s FINAL
        WHERE observed_at >= ?
        ORDER BY route_id, observed_at
    `, observationColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q, since.UTC())
	if err != nil {
		s.l.Error("clickhouse load_observations query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	out := make([]models.FareObservation, 0, 1024)
	for rows.Next() {
		var (
			o     models.FareObservation
			sig   string
			seats sql.NullInt32
		)
		if err := rows.Scan(&sig, &o.RouteID, &o.DepartureDate, &o.ObservedAt, &o.Price, &o.Currency,
			&o.SourceID, &o.Airline, &o.CabinClass, &o.FareType, &seats, &o.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if seats.Valid {
			n := int(seats.Int32)
			o.SeatsRemaining = &n
		}
		o.DepartureDate = o.DepartureDate.UTC()
		o.ObservedAt = o.ObservedAt.UTC()
		o.IngestedAt = o.IngestedAt.UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
