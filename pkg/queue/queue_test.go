package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retrainPayload struct {
	RouteID string `json:"route_id"`
	Force   bool   `json:"force"`
}

func TestParsePayload(t *testing.T) {
	testData := map[string]interface{}{
		"raw":     json.RawMessage(`{"route_id":"MNL-CEB","force":true}`),
		"bytes":   []byte(`{"route_id":"MNL-CEB","force":true}`),
		"map":     map[string]interface{}{"route_id": "MNL-CEB", "force": true},
		"value":   retrainPayload{RouteID: "MNL-CEB", Force: true},
		"pointer": &retrainPayload{RouteID: "MNL-CEB", Force: true},
	}

	for name, payload := range testData {
		t.Run(name, func(t *testing.T) {
			got, err := ParsePayload[retrainPayload](payload)
			require.NoError(t, err)
			assert.Equal(t, "MNL-CEB", got.RouteID)
			assert.True(t, got.Force)
		})
	}

	_, err := ParsePayload[retrainPayload](42)
	assert.Error(t, err)
}
