package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	pkgch "FareCast/pkg/clickhouse"
	applogger "FareCast/pkg/logger"
)

const modelColumns = "route_id, version_id, trained_at, window_from, window_to, window_observations, validation_score, artifact, status, failure_reason, activated_at, updated_at"

// ModelSchema returns the DDL for model version history. The newest
// updated_at row of a version wins.
func ModelSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            route_id LowCardinality(String),
            version_id Int64,
            trained_at DateTime64(3, 'UTC'),
            window_from DateTime64(3, 'UTC'),
            window_to DateTime64(3, 'UTC'),
            window_observations UInt32,
            validation_score Float64,
            artifact String,
            status LowCardinality(String),
            failure_reason String,
            activated_at Nullable(DateTime64(3, 'UTC')),
            updated_at DateTime64(6, 'UTC')
        ) ENGINE = ReplacingMergeTree(updated_at)
        ORDER BY (route_id, version_id)
    `, table)}
}

// CHModelStore implements ModelStore backed by ClickHouse.
type CHModelStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.ModelStore = (*CHModelStore)(nil)

func NewCHModelStore(ch *pkgch.Client, table string, l *applogger.Logger) *CHModelStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHModelStore{db: ch.DB(), table: table, l: l}
}

func (s *CHModelStore) Save(ctx context.Context, mv models.ModelVersion) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, modelColumns)
	if _, err := s.db.ExecContext(ctx, q, modelArgs(mv)...); err != nil {
		s.l.Error("clickhouse save_model error",
			applogger.Route(mv.RouteID),
			applogger.Int64("version_id", mv.VersionID),
			applogger.Error(err))
		return fmt.Errorf("save model version: %w", err)
	}
	return nil
}

func modelArgs(mv models.ModelVersion) []interface{} {
	var activated interface{}
	if mv.ActivatedAt != nil {
		activated = mv.ActivatedAt.UTC()
	}
	return []interface{}{
		mv.RouteID,
		mv.VersionID,
		mv.TrainedAt.UTC(),
		mv.Window.From.UTC(),
		mv.Window.To.UTC(),
		uint32(mv.Window.Observations),
		mv.ValidationScore,
		string(mv.Artifact),
		string(mv.Status),
		mv.FailureReason,
		activated,
		mv.UpdatedAt.UTC(),
	}
}

func (s *CHModelStore) LoadAll(ctx context.Context) ([]models.ModelVersion, error) {
	start := time.Now()
	q := fmt.Sprintf("SELECT %s FROM %s FINAL ORDER BY route_id, version_id", modelColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		s.l.Error("clickhouse load_models query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("load model versions: %w", err)
	}
	defer rows.Close()

	var out []models.ModelVersion
	for rows.Next() {
		var (
			mv        models.ModelVersion
			obs       uint32
			artifact  string
			status    string
			activated sql.NullTime
		)
		if err := rows.Scan(&mv.RouteID, &mv.VersionID, &mv.TrainedAt, &mv.Window.From, &mv.Window.To, &obs,
			&mv.ValidationScore, &artifact, &status, &mv.FailureReason, &activated, &mv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		mv.Window.Observations = int(obs)
		mv.Artifact = []byte(artifact)
		mv.Status = models.ModelStatus(status)
		if activated.Valid {
			t := activated.Time.UTC()
			mv.ActivatedAt = &t
		}
		out = append(out, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Info("clickhouse load_models ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}
