package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/vision-api/internal/model"
)

func TestCollectorCounts(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				c.RecordFailure(errors.New("bad image"))
				return
			}
			c.RecordSuccess(&model.PredictionResult{RequestID: "r"})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Metrics{Requests: 6, Errors: 4}, c.Snapshot())
}

func TestCollectorLogsPrediction(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf))
	c.RecordSuccess(&model.PredictionResult{RequestID: "abc", ModelVersion: "v1"})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "prediction", line["type"])
	assert.Equal(t, "abc", line["request_id"])
	assert.Equal(t, "telemetry", line["component"])
	payload, ok := line["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "v1", payload["model_version"])
}

func TestCollectorTruncatesLargePayload(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf))
	c.RecordSuccess(&model.PredictionResult{ModelVersion: strings.Repeat("x", 3000)})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, true, line["truncated"])
	payload, ok := line["payload"].(string)
	require.True(t, ok)
	assert.Len(t, payload, maxPayloadBytes)
}

func TestCollectorLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf))
	c.RecordFailure(errors.New("bad image"))

	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"error":"bad image"`)
}
