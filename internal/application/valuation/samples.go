package valuation

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// ModelUpdater is the part of Service that consumes observed samples.
type ModelUpdater interface {
	UpdateModelWithNewData(ctx context.Context, samples []features.Sample) (*registry.FineTuneResult, error)
}

// SampleBatch is the envelope form of a samples message.
type SampleBatch struct {
	Samples []features.Sample `json:"samples"`
}

// DecodeSamples accepts a bare JSON array of samples or a SampleBatch.
func DecodeSamples(data []byte) ([]features.Sample, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.InvalidParam("empty samples payload")
	}
	var samples []features.Sample
	if data[0] == '[' {
		if err := json.Unmarshal(data, &samples); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode samples")
		}
	} else {
		var batch SampleBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode samples")
		}
		samples = batch.Samples
	}
	if len(samples) == 0 {
		return nil, errors.InvalidParam("no samples in payload")
	}
	return samples, nil
}

// SamplesHandler fine-tunes the heatmap model from each message on topic.
func SamplesHandler(u ModelUpdater, m *prometheus.AppMetrics, topic string, log logging.Logger) kafka.MessageHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.Named("samples")
	return func(ctx context.Context, value []byte) (err error) {
		start := time.Now()
		defer func() {
			if m != nil {
				prometheus.RecordMessage(m, topic, time.Since(start), err)
			}
		}()

		samples, err := DecodeSamples(value)
		if err != nil {
			return err
		}
		res, err := u.UpdateModelWithNewData(ctx, samples)
		if err != nil {
			return err
		}
		log.Info("heatmap model updated from topic",
			logging.String("topic", topic),
			logging.Int("samples", len(samples)),
			logging.String("version", res.Version))
		return nil
	}
}
