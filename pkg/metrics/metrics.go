// Package metrics экспортирует метрики медиа конвейеров в Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/processor"
	"github.com/arzzra/rcs_media/pkg/stream"
)

// Config конфигурация метрик
type Config struct {
	Namespace string
	Subsystem string

	// Registerer реестр, в котором регистрируются метрики.
	// nil означает prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Namespace: "rcs",
		Subsystem: "media",
	}
}

// Collector набор метрик медиа движка
type Collector struct {
	pipelinesActive  *prometheus.GaugeVec
	buffersTotal     *prometheus.CounterVec
	stopsTotal       *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	setupFailures    *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
}

// New создает и регистрирует метрики
func New(cfg Config) *Collector {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		pipelinesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pipelines_active",
			Help:      "Number of running media pipelines",
		}, []string{"direction"}),
		buffersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "buffers_total",
			Help:      "Buffers passed through codec chains by result",
		}, []string{"direction", "result"}),
		stopsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pipeline_stops_total",
			Help:      "Pipeline terminations by reason",
		}, []string{"direction", "reason"}),
		pipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pipeline_duration_seconds",
			Help:      "Lifetime of media pipelines",
			Buckets:   []float64{1, 10, 30, 60, 180, 600, 1800, 3600},
		}, []string{"direction"}),
		setupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "session_setup_failures_total",
			Help:      "Failed session preparations",
		}, []string{"direction"}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stream_events_total",
			Help:      "Transport level stream events by type",
		}, []string{"direction", "event"}),
	}
}

// Observer возвращает наблюдателя одного конвейера
func (c *Collector) Observer(direction string) processor.Observer {
	return &pipelineObserver{
		collector: c,
		direction: direction,
		active:    c.pipelinesActive.WithLabelValues(direction),
	}
}

// StreamListener возвращает слушателя, считающего события потока
func (c *Collector) StreamListener(direction string) stream.Listener {
	return stream.ListenerFunc(func(ev stream.Event) {
		c.streamEvents.WithLabelValues(direction, ev.Type.String()).Inc()
	})
}

// SetupFailed учитывает неудачную подготовку сессии
func (c *Collector) SetupFailed(direction string) {
	c.setupFailures.WithLabelValues(direction).Inc()
}

type pipelineObserver struct {
	collector *Collector
	direction string
	active    prometheus.Gauge

	mu      sync.Mutex
	started time.Time
}

func (o *pipelineObserver) Started() {
	o.mu.Lock()
	o.started = time.Now()
	o.mu.Unlock()
	o.active.Inc()
}

func (o *pipelineObserver) BufferProcessed(result codec.Result) {
	o.collector.buffersTotal.WithLabelValues(o.direction, result.String()).Inc()
}

func (o *pipelineObserver) Stopped(reason processor.StopReason, _ error) {
	o.active.Dec()
	o.collector.stopsTotal.WithLabelValues(o.direction, reason.String()).Inc()

	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started.IsZero() {
		o.collector.pipelineDuration.WithLabelValues(o.direction).Observe(time.Since(started).Seconds())
	}
}
