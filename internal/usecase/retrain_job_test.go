package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/errs"
)

func TestRetrainJob_Handle(t *testing.T) {
	testData := map[string]struct {
		payload   interface{}
		trainer   *fakeTrainer
		wantErr   bool
		activated bool
	}{
		"typed payload activates": {
			payload:   RetrainPayload{RouteID: "MNL-CEB"},
			trainer:   &fakeTrainer{score: 0.1},
			activated: true,
		},
		"raw json payload": {
			payload:   []byte(`{"route_id":"MNL-CEB"}`),
			trainer:   &fakeTrainer{score: 0.1},
			activated: true,
		},
		"insufficient data is final": {
			payload: &RetrainPayload{RouteID: "MNL-CEB"},
			trainer: &fakeTrainer{err: errs.New(errs.KindInsufficientData, "MNL-CEB", "too few")},
		},
		"trainer failure is final": {
			payload: &RetrainPayload{RouteID: "MNL-CEB"},
			trainer: &fakeTrainer{err: errors.New("diverged")},
		},
		"missing route is dropped": {
			payload: RetrainPayload{},
			trainer: &fakeTrainer{score: 0.1},
		},
		"undecodable payload is dropped": {
			payload: []byte(`not json`),
			trainer: &fakeTrainer{score: 0.1},
		},
	}

	for name, tc := range testData {
		t.Run(name, func(t *testing.T) {
			env := newRetrainEnv()
			job := NewRetrainJob(env.retrainer(tc.trainer, RetrainOptions{}), nil)
			assert.Equal(t, RetrainJobType, job.Type())

			err := job.Handle(context.Background(), tc.payload)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			_, ok := env.registry.GetActive("MNL-CEB")
			assert.Equal(t, tc.activated, ok)
		})
	}
}
