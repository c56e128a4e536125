package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/stream"
)

const (
	// DefaultDummyInterval период отправки пустых пакетов
	DefaultDummyInterval = time.Second
	// DummyPayloadType payload type пустых пакетов (не назначен в RFC 3551)
	DummyPayloadType = 20
	dummyClockRate   = 8000
)

// DummyFormat формат пустых пакетов
var DummyFormat = codec.Format{
	Kind:        codec.KindAudio,
	Encoding:    "audio/DUMMY",
	PayloadType: DummyPayloadType,
	ClockRate:   dummyClockRate,
	Channels:    1,
}

// DummyPacketGenerator периодически отправляет пустые RTP пакеты с сокета
// сессии приема. Нужен, когда по плечу звонка медиа только принимается:
// пакеты открывают и поддерживают трансляцию в NAT на пути к удаленной стороне.
type DummyPacketGenerator struct {
	*session

	interval time.Duration
	output   stream.NetworkOutputStream
}

// NewDummyPacketGenerator создает генератор. interval <= 0 - DefaultDummyInterval.
func NewDummyPacketGenerator(cfg Config, interval time.Duration) *DummyPacketGenerator {
	if interval <= 0 {
		interval = DefaultDummyInterval
	}
	g := &DummyPacketGenerator{
		session:  newSession(DirectionDummy, cfg),
		interval: interval,
	}
	g.afterStop = g.closeOutput
	return g
}

// PrepareSession связывает генератор с входящим потоком сессии приема
func (g *DummyPacketGenerator) PrepareSession(remoteAddress string, remotePort int, peer stream.NetworkInputStream) error {
	ep := Endpoint{RemoteAddress: remoteAddress, RemotePort: remotePort}
	if err := g.checkPrepare(); err != nil {
		return err
	}
	if peer == nil || peer.SessionContext() == nil {
		return g.setupFailed(ep, errors.New("входящий поток не открыт"))
	}
	ctx := peer.SessionContext()

	source := newDummySource(g.interval)
	input := stream.NewMediaInputStream(source, DummyFormat)
	if err := input.Open(); err != nil {
		closeAll(input)
		return g.setupFailed(ep, err)
	}

	cfg := stream.DefaultRTPOutputConfig(DummyFormat)
	cfg.RemoteAddress = remoteAddress
	cfg.RemotePort = remotePort
	cfg.Peer = ctx
	cfg.Logger = g.log.WithField("component", "rtp-output")

	output := g.cfg.Network.NewOutputStream(cfg)
	if err := output.Open(); err != nil {
		closeAll(input, output)
		return g.setupFailed(ep, fmt.Errorf("открытие RTP потока: %w", err))
	}
	if addr := ctx.LocalAddr(); addr != nil {
		ep.LocalPort = portOf(addr)
	}

	g.mu.Lock()
	g.output = output
	g.mu.Unlock()

	return g.prepared(ep, DummyFormat, input, output, nil)
}

func (g *DummyPacketGenerator) closeOutput() {
	g.mu.Lock()
	output := g.output
	g.mu.Unlock()

	if output != nil {
		_ = output.Close()
	}
}

// dummySource отдает пустой буфер сразу и затем раз в interval
type dummySource struct {
	interval time.Duration
	started  time.Time
	sent     bool

	closeOnce sync.Once
	closed    chan struct{}
	ticker    *time.Ticker
}

func newDummySource(interval time.Duration) *dummySource {
	return &dummySource{
		interval: interval,
		closed:   make(chan struct{}),
	}
}

func (d *dummySource) Read() (*codec.Buffer, error) {
	if !d.sent {
		d.sent = true
		d.started = time.Now()
		d.ticker = time.NewTicker(d.interval)
		return d.buffer(), nil
	}

	select {
	case <-d.closed:
		d.ticker.Stop()
		return nil, nil
	case <-d.ticker.C:
		return d.buffer(), nil
	}
}

func (d *dummySource) buffer() *codec.Buffer {
	elapsed := time.Since(d.started)
	return &codec.Buffer{
		Data:      []byte{},
		Timestamp: uint32(elapsed.Milliseconds() * dummyClockRate / 1000),
	}
}

func (d *dummySource) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}
