package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	pkgkafka "FareCast/pkg/kafka"
)

// BatchIngester is what the Kafka handler feeds.
type BatchIngester interface {
	Ingest(ctx context.Context, batch *models.IngestBatch) (models.IngestReport, error)
}

// KafkaIngestHandler consumes raw scraped fares from Kafka.
type KafkaIngestHandler struct {
	topic    string
	ingester BatchIngester
	metrics  domrepo.Metrics
}

func NewKafkaIngestHandler(topic string, ingester BatchIngester, metrics domrepo.Metrics) *KafkaIngestHandler {
	return &KafkaIngestHandler{topic: topic, ingester: ingester, metrics: metrics}
}

func (h *KafkaIngestHandler) Topic() string { return h.topic }

// incoming message schema: {source_id, record} or {source_id, records}
func (h *KafkaIngestHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		SourceID string             `json:"source_id"`
		Record   models.RawRecord   `json:"record"`
		Records  []models.RawRecord `json:"records"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode fare message: %w", err))
	}
	if m.Record != nil {
		m.Records = append(m.Records, m.Record)
	}
	if m.SourceID == "" || len(m.Records) == 0 {
		h.metrics.RecordError("consumer_invalid")
		return pkgkafka.Permanent(fmt.Errorf("fare message without source_id or records"))
	}

	start := time.Now()
	_, err := h.ingester.Ingest(ctx, &models.IngestBatch{SourceID: m.SourceID, Records: m.Records})
	h.metrics.RecordLatency("consumer_ingest_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaIngestHandler)(nil)
