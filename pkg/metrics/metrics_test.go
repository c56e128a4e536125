package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/processor"
	"github.com/arzzra/rcs_media/pkg/stream"
)

// value ищет значение счетчика или gauge по имени и меткам
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			matched := 0
			for _, pair := range m.GetLabel() {
				if labels[pair.GetName()] == pair.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Registerer = reg
	return New(cfg), reg
}

func TestPipelineObserver(t *testing.T) {
	c, reg := newCollector(t)
	obs := c.Observer("receive")

	obs.Started()
	assert.Equal(t, 1.0, value(t, reg, "rcs_media_pipelines_active", map[string]string{"direction": "receive"}))

	obs.BufferProcessed(codec.BufferProcessedOK)
	obs.BufferProcessed(codec.BufferProcessedOK)
	obs.BufferProcessed(codec.OutputBufferNotFilled)
	obs.Stopped(processor.StopStreamEnded, nil)

	assert.Equal(t, 2.0, value(t, reg, "rcs_media_buffers_total",
		map[string]string{"direction": "receive", "result": "processed_ok"}))
	assert.Equal(t, 1.0, value(t, reg, "rcs_media_buffers_total",
		map[string]string{"direction": "receive", "result": "output_not_filled"}))
	assert.Equal(t, 1.0, value(t, reg, "rcs_media_pipeline_stops_total",
		map[string]string{"direction": "receive", "reason": "stream_ended"}))
	assert.Equal(t, 0.0, value(t, reg, "rcs_media_pipelines_active", map[string]string{"direction": "receive"}))
	assert.Equal(t, 1.0, value(t, reg, "rcs_media_pipeline_duration_seconds", map[string]string{"direction": "receive"}))
}

func TestStreamListenerAndSetupFailures(t *testing.T) {
	c, reg := newCollector(t)

	l := c.StreamListener("send")
	l.OnStreamEvent(stream.Event{Type: stream.EventTimeout})
	l.OnStreamEvent(stream.Event{Type: stream.EventTimeout})
	c.SetupFailed("send")

	assert.Equal(t, 2.0, value(t, reg, "rcs_media_stream_events_total",
		map[string]string{"direction": "send", "event": "timeout"}))
	assert.Equal(t, 1.0, value(t, reg, "rcs_media_session_setup_failures_total",
		map[string]string{"direction": "send"}))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Registerer = reg
	New(cfg)

	assert.Panics(t, func() { New(cfg) })
}
