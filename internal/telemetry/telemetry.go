// Package telemetry counts prediction outcomes and logs them.
package telemetry

import (
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Brownie44l1/vision-api/internal/model"
)

// maxPayloadBytes caps the logged prediction payload.
const maxPayloadBytes = 2000

// Metrics is the cumulative view served on /metrics.
type Metrics struct {
	Requests uint64 `json:"requests" yaml:"requests"`
	Errors   uint64 `json:"errors" yaml:"errors"`
}

type Collector struct {
	log      zerolog.Logger
	requests atomic.Uint64
	errors   atomic.Uint64
}

func NewCollector(log zerolog.Logger) *Collector {
	return &Collector{log: log.With().Str("component", "telemetry").Logger()}
}

func (c *Collector) RecordSuccess(res *model.PredictionResult) {
	c.requests.Add(1)

	payload, err := json.Marshal(res)
	if err != nil {
		c.log.Warn().Err(err).Msg("marshal prediction")
		return
	}
	ev := c.log.Info().Str("type", "prediction").Str("request_id", res.RequestID)
	if len(payload) > maxPayloadBytes {
		ev.Str("payload", string(payload[:maxPayloadBytes])).Bool("truncated", true)
	} else {
		ev.RawJSON("payload", payload)
	}
	ev.Msg("prediction")
}

func (c *Collector) RecordFailure(err error) {
	c.errors.Add(1)
	c.log.Error().Err(err).Str("type", "error").Msg("prediction failed")
}

func (c *Collector) Snapshot() Metrics {
	return Metrics{
		Requests: c.requests.Load(),
		Errors:   c.errors.Load(),
	}
}
