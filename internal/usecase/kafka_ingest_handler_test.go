package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/models"
	pkgkafka "FareCast/pkg/kafka"
)

type fakeIngester struct {
	batches []*models.IngestBatch
	err     error
}

func (f *fakeIngester) Ingest(_ context.Context, b *models.IngestBatch) (models.IngestReport, error) {
	f.batches = append(f.batches, b)
	return models.IngestReport{Accepted: len(b.Records)}, f.err
}

func TestKafkaIngestHandler_Handle(t *testing.T) {
	testData := map[string]struct {
		msg       string
		ingestErr error
		permanent bool
		wantErr   bool
		records   int
	}{
		"single record": {
			msg:     `{"source_id":"cebpac","record":{"route_id":"MNL-CEB","price":2499}}`,
			records: 1,
		},
		"record list": {
			msg:     `{"source_id":"cebpac","records":[{"route_id":"MNL-CEB"},{"route_id":"MNL-DVO"}]}`,
			records: 2,
		},
		"malformed json": {
			msg:       `{"source_id":`,
			wantErr:   true,
			permanent: true,
		},
		"missing source": {
			msg:       `{"records":[{"route_id":"MNL-CEB"}]}`,
			wantErr:   true,
			permanent: true,
		},
		"no records": {
			msg:       `{"source_id":"cebpac"}`,
			wantErr:   true,
			permanent: true,
		},
		"store failure is retried": {
			msg:       `{"source_id":"cebpac","record":{"route_id":"MNL-CEB"}}`,
			ingestErr: errors.New("clickhouse down"),
			wantErr:   true,
			records:   1,
		},
	}

	for name, tc := range testData {
		t.Run(name, func(t *testing.T) {
			ing := &fakeIngester{err: tc.ingestErr}
			h := NewKafkaIngestHandler("fares.raw", ing, newRecMetrics())
			assert.Equal(t, "fares.raw", h.Topic())

			err := h.Handle(context.Background(), []byte(tc.msg))
			if !tc.wantErr {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tc.permanent, pkgkafka.IsPermanent(err))
			}
			if tc.records == 0 {
				assert.Empty(t, ing.batches)
				return
			}
			require.Len(t, ing.batches, 1)
			assert.Equal(t, "cebpac", ing.batches[0].SourceID)
			assert.Len(t, ing.batches[0].Records, tc.records)
		})
	}
}
