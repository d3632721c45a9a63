package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	applogger "FareCast/pkg/logger"
)

// Ingest results as recorded in metrics.
const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
)

// Ingestor normalizes raw batches and appends them to the series store.
type Ingestor struct {
	normalizer *Normalizer
	store      domrepo.SeriesStore
	tracker    *PredictionTracker
	metrics    domrepo.Metrics
	log        *applogger.Logger
}

func NewIngestor(n *Normalizer, store domrepo.SeriesStore, tracker *PredictionTracker, metrics domrepo.Metrics, l *applogger.Logger) *Ingestor {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Ingestor{normalizer: n, store: store, tracker: tracker, metrics: metrics, log: l}
}

// Ingest stores every valid record of the batch. Invalid records are
// reported in the IngestReport and never fail the batch; only a store
// failure is returned as an error, and retrying the batch is idempotent.
func (i *Ingestor) Ingest(ctx context.Context, batch *models.IngestBatch) (models.IngestReport, error) {
	start := time.Now()
	report := models.IngestReport{BatchID: uuid.NewString(), SourceID: batch.SourceID}

	schema, err := i.normalizer.Schema(batch.SourceID)
	if err != nil {
		report.Rejected = len(batch.Records)
		report.Rejections = []models.Rejection{{Index: -1, Reason: errs.ReasonOf(err)}}
		i.metrics.RecordIngested(batch.SourceID, resultRejected)
		i.log.Warn("batch from unusable source",
			applogger.String("batch_id", report.BatchID),
			applogger.String("source_id", batch.SourceID),
			applogger.Error(err))
		return report, nil
	}

	valid := make([]models.FareObservation, 0, len(batch.Records))
	for idx, raw := range batch.Records {
		obs, err := i.normalizer.Normalize(raw, schema)
		if err != nil {
			report.Rejected++
			report.Rejections = append(report.Rejections, models.Rejection{Index: idx, Reason: err.Error()})
			i.metrics.RecordIngested(batch.SourceID, resultRejected)
			continue
		}
		valid = append(valid, obs)
	}

	if len(valid) > 0 {
		inserted, err := i.store.AppendBatch(ctx, valid)
		if err != nil {
			i.metrics.RecordError("series_append")
			return report, fmt.Errorf("append batch %s: %w", report.BatchID, err)
		}
		for k, ok := range inserted {
			if !ok {
				report.Duplicates++
				i.metrics.RecordIngested(batch.SourceID, resultDuplicate)
				continue
			}
			report.Accepted++
			i.metrics.RecordIngested(batch.SourceID, resultAccepted)
			if i.tracker != nil {
				i.tracker.Observe(valid[k])
			}
		}
	}

	if report.Rejected > 0 {
		i.log.Warn("records rejected",
			applogger.String("batch_id", report.BatchID),
			applogger.String("source_id", batch.SourceID),
			applogger.Int("rejected", report.Rejected),
			applogger.String("first_reason", report.Rejections[0].Reason))
	}
	i.log.Debug("batch ingested",
		applogger.String("batch_id", report.BatchID),
		applogger.String("source_id", batch.SourceID),
		applogger.Int("accepted", report.Accepted),
		applogger.Int("duplicates", report.Duplicates))
	i.metrics.RecordLatency("ingest_batch", time.Since(start).Seconds())
	return report, nil
}
