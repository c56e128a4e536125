// media_loopback прогоняет аудио через весь медиа движок на одном хосте:
// тональный генератор -> G.711 кодер -> RTP -> G.711 декодер -> счетчик.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/logger"
	"github.com/arzzra/rcs_media/pkg/metrics"
	"github.com/arzzra/rcs_media/pkg/processor"
	"github.com/arzzra/rcs_media/pkg/registry"
	"github.com/arzzra/rcs_media/pkg/session"
	"github.com/arzzra/rcs_media/pkg/stream"
)

const frameDuration = 20 * time.Millisecond

func main() {
	var (
		codecName   = flag.String("codec", "PCMU", "Audio codec: PCMU or PCMA")
		duration    = flag.Duration("duration", 5*time.Second, "How long to run, 0 - until signal")
		tone        = flag.Float64("tone", 440, "Tone frequency, Hz")
		metricsAddr = flag.String("metrics", "", "Prometheus listen address, e.g. :9100")
		logLevel    = flag.String("log-level", "info", "Log level")
		jsonLogs    = flag.Bool("json", false, "JSON log format")
		printSDP    = flag.Bool("sdp", false, "Print SDP offer for the receiver")
	)
	flag.Parse()

	cfg := logger.DefaultConfig()
	cfg.Level = *logLevel
	cfg.JSON = *jsonLogs
	logger.Configure(cfg)
	log := logger.WithComponent("media_loopback")

	if err := run(log, options{
		codec:       *codecName,
		duration:    *duration,
		tone:        *tone,
		metricsAddr: *metricsAddr,
		printSDP:    *printSDP,
	}); err != nil {
		log.WithError(err).Error("ошибка")
		os.Exit(1)
	}
}

type options struct {
	codec       string
	duration    time.Duration
	tone        float64
	metricsAddr string
	printSDP    bool
}

func run(log *logrus.Entry, opts options) error {
	reg := registry.Default()
	format, ok := reg.FormatFor(opts.codec)
	if !ok || format.Kind != codec.KindAudio || len(reg.EncodingChain(format.Encoding)) == 0 {
		return fmt.Errorf("кодек %s не поддерживается демо", opts.codec)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	mcfg := metrics.DefaultConfig()
	mcfg.Registerer = promReg
	collector := metrics.New(mcfg)

	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("сервер метрик остановлен")
			}
		}()
		defer srv.Close()
		log.WithField("addr", opts.metricsAddr).Info("метрики доступны на /metrics")
	}

	terminated := make(chan string, 2)
	scfg := session.DefaultConfig()
	scfg.Registry = reg
	scfg.LocalAddress = "127.0.0.1"
	scfg.Metrics = collector
	scfg.OnTerminated = func(id string, reason processor.StopReason, err error) {
		log.WithFields(logrus.Fields{"session_id": id, "reason": reason}).WithError(err).Warn("сессия завершилась сама")
		terminated <- id
	}

	// Приемник слушает на свободном порту, удаленная сторона - отправитель
	sink := &countingSink{}
	receiver := session.NewReceiver(scfg)
	if err := receiver.PrepareSession("127.0.0.1", 0, sink, format, eventLogger(log)); err != nil {
		return err
	}
	defer receiver.StopSession()
	port := receiver.Endpoint().LocalPort

	if opts.printSDP {
		if err := writeOffer(reg, port); err != nil {
			return err
		}
	}

	source := newToneSource(opts.tone, format.ClockRate)
	sender := session.NewSender(format, scfg)
	if err := sender.PrepareSession(source, "127.0.0.1", port, nil, nil); err != nil {
		return err
	}
	defer sender.StopSession()

	receiver.StartSession()
	sender.StartSession()
	log.WithFields(logrus.Fields{"port": port, "format": format.String()}).Info("медиа запущено")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if opts.duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.duration)
		defer stop()
	}

	select {
	case <-ctx.Done():
	case id := <-terminated:
		return fmt.Errorf("сессия %s остановилась", id)
	}

	sender.StopSession()
	receiver.StopSession()

	log.WithFields(logrus.Fields{
		"frames":  sink.frames.Load(),
		"samples": sink.samples.Load(),
	}).Info("медиа остановлено")
	return nil
}

// writeOffer печатает SDP, которым приемник объявил бы свои форматы
func writeOffer(reg *registry.Registry, port int) error {
	desc, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return err
	}
	desc.SessionName = "media_loopback"
	desc = desc.WithMedia(reg.MediaDescription(codec.KindAudio, port, 0))

	raw, err := desc.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

// countingSink считает декодированные кадры
type countingSink struct {
	frames  atomic.Int64
	samples atomic.Int64
}

func (s *countingSink) Write(buf *codec.Buffer) error {
	s.frames.Add(1)
	s.samples.Add(int64(len(buf.Data) / 2))
	return nil
}

// toneSource генерирует синус PCM16LE кадрами по 20 мс в реальном времени
type toneSource struct {
	freq      float64
	clockRate uint32
	samples   int

	ticker    *time.Ticker
	closed    chan struct{}
	closeOnce sync.Once
	phase     uint32
}

func newToneSource(freq float64, clockRate uint32) *toneSource {
	return &toneSource{
		freq:      freq,
		clockRate: clockRate,
		samples:   int(clockRate) * int(frameDuration/time.Millisecond) / 1000,
		ticker:    time.NewTicker(frameDuration),
		closed:    make(chan struct{}),
	}
}

func (t *toneSource) Read() (*codec.Buffer, error) {
	select {
	case <-t.closed:
		return nil, nil
	case <-t.ticker.C:
	}

	data := make([]byte, t.samples*2)
	for i := 0; i < t.samples; i++ {
		n := float64(t.phase + uint32(i))
		v := int16(8000 * math.Sin(2*math.Pi*t.freq*n/float64(t.clockRate)))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	buf := &codec.Buffer{Data: data, Timestamp: t.phase}
	t.phase += uint32(t.samples)
	return buf, nil
}

func (t *toneSource) Close() error {
	t.closeOnce.Do(func() {
		t.ticker.Stop()
		close(t.closed)
	})
	return nil
}

var _ stream.MediaSource = (*toneSource)(nil)

// eventLogger пишет события RTP потока в лог. Метрики событий сессия
// собирает сама через Config.Metrics.
func eventLogger(log *logrus.Entry) stream.Listener {
	return stream.ListenerFunc(func(ev stream.Event) {
		entry := log.WithField("event", ev.Type.String())
		switch ev.Type {
		case stream.EventAborted:
			entry.WithError(ev.Err).Warn("RTP поток прерван")
		case stream.EventTimeout:
			entry.Warn("нет RTP пакетов")
		case stream.EventRTCP:
			entry.WithField("bytes", len(ev.Payload)).Debug("получен RTCP")
		default:
			entry.Info("событие RTP потока")
		}
	})
}
