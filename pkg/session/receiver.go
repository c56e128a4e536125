package session

import (
	"fmt"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/stream"
)

// Receiver сессия приема: сетевой RTP поток -> цепочка декодирования -> устройство
type Receiver struct {
	*session

	input stream.NetworkInputStream
}

// NewReceiver создает сессию приема
func NewReceiver(cfg Config) *Receiver {
	return &Receiver{session: newSession(DirectionReceive, cfg)}
}

// PrepareSession открывает входящий RTP поток и поток на устройство
// воспроизведения и строит процессор с цепочкой декодирования формата.
func (r *Receiver) PrepareSession(remoteAddress string, remotePort int, sink stream.MediaSink, format codec.Format, listener stream.Listener) error {
	return r.prepare(Endpoint{RemoteAddress: remoteAddress, RemotePort: remotePort}, sink, format, listener)
}

// NetworkInputStream возвращает входящий поток. Используется для связки
// с отправителем того же плеча звонка и генератором пустых пакетов.
func (r *Receiver) NetworkInputStream() stream.NetworkInputStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

func (r *Receiver) prepare(ep Endpoint, sink stream.MediaSink, format codec.Format, listener stream.Listener) error {
	if err := r.checkPrepare(); err != nil {
		return err
	}
	if err := r.cfg.Validate(); err != nil {
		return r.setupFailed(ep, err)
	}

	format, err := r.lookup(format)
	if err != nil {
		return r.setupFailed(ep, err)
	}
	if sink == nil {
		return r.setupFailed(ep, fmt.Errorf("устройство воспроизведения не задано"))
	}

	cfg := stream.DefaultRTPInputConfig(format)
	cfg.LocalAddress = r.cfg.LocalAddress
	cfg.LocalPort = r.cfg.LocalPort
	cfg.RemoteAddress = ep.RemoteAddress
	cfg.RemotePort = ep.RemotePort
	cfg.InactivityTimeout = r.cfg.InactivityTimeout
	cfg.Socket = r.cfg.socket(format.Kind)
	cfg.RTCP = r.cfg.RTCP
	cfg.Logger = r.log.WithField("component", "rtp-input")

	input := r.cfg.Network.NewInputStream(cfg)
	if ep.ExtensionHeaderID > 0 {
		// До Open: расширение должно распознаваться с первого пакета
		input.SetExtensionHeaderID(ep.ExtensionHeaderID)
	}
	if listener != nil {
		input.AddStreamListener(listener)
	}
	if r.cfg.Metrics != nil {
		input.AddStreamListener(r.cfg.Metrics.StreamListener(r.direction))
	}
	if err := input.Open(); err != nil {
		closeAll(input)
		return r.setupFailed(ep, fmt.Errorf("открытие RTP потока: %w", err))
	}

	output := stream.NewMediaOutputStream(sink)
	if err := output.Open(); err != nil {
		closeAll(input, output)
		return r.setupFailed(ep, fmt.Errorf("открытие устройства воспроизведения: %w", err))
	}

	ep.LocalPort = r.cfg.LocalPort
	if ctx := input.SessionContext(); ctx != nil {
		if addr := ctx.LocalAddr(); addr != nil {
			ep.LocalPort = portOf(addr)
		}
	}

	stages := r.cfg.Registry.DecodingChain(format.Encoding)
	if err := r.prepared(ep, format, input, output, stages); err != nil {
		return err
	}

	r.mu.Lock()
	r.input = input
	r.mu.Unlock()
	return nil
}

// VideoReceiver сессия приема видео с расширением ориентации (CVO)
type VideoReceiver struct {
	*Receiver
}

// NewVideoReceiver создает сессию приема видео
func NewVideoReceiver(cfg Config) *VideoReceiver {
	return &VideoReceiver{Receiver: NewReceiver(cfg)}
}

// PrepareSession аналогичен Receiver.PrepareSession, дополнительно задает
// id расширения RTP заголовка для ориентации видео
func (r *VideoReceiver) PrepareSession(remoteAddress string, remotePort int, orientationHeaderID uint8, sink stream.MediaSink, format codec.Format, listener stream.Listener) error {
	ep := Endpoint{
		RemoteAddress:     remoteAddress,
		RemotePort:        remotePort,
		ExtensionHeaderID: orientationHeaderID,
	}
	return r.prepare(ep, sink, format, listener)
}
