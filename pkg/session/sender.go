package session

import (
	"fmt"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/stream"
)

// Sender сессия отправки: устройство захвата -> цепочка кодирования -> сетевой RTP поток
type Sender struct {
	*session

	output stream.NetworkOutputStream
}

// NewSender создает сессию отправки в заданном формате
func NewSender(format codec.Format, cfg Config) *Sender {
	s := &Sender{session: newSession(DirectionSend, cfg)}
	s.format = format
	s.afterStop = s.closeOutput
	return s
}

// PrepareSession открывает поток с устройства захвата и исходящий RTP поток.
// Если peer задан, отправка идет с его сокета с общей RTP нумерацией.
func (s *Sender) PrepareSession(source stream.MediaSource, remoteAddress string, remotePort int, peer stream.NetworkInputStream, listener stream.Listener) error {
	return s.prepare(Endpoint{RemoteAddress: remoteAddress, RemotePort: remotePort}, source, peer, listener)
}

func (s *Sender) prepare(ep Endpoint, source stream.MediaSource, peer stream.NetworkInputStream, listener stream.Listener) error {
	if err := s.checkPrepare(); err != nil {
		return err
	}
	if err := s.cfg.Validate(); err != nil {
		return s.setupFailed(ep, err)
	}

	format, err := s.lookup(s.Format())
	if err != nil {
		return s.setupFailed(ep, err)
	}
	if source == nil {
		return s.setupFailed(ep, fmt.Errorf("устройство захвата не задано"))
	}

	input := stream.NewMediaInputStream(source, format)
	if err := input.Open(); err != nil {
		closeAll(input)
		return s.setupFailed(ep, fmt.Errorf("открытие устройства захвата: %w", err))
	}

	cfg := stream.DefaultRTPOutputConfig(format)
	cfg.LocalAddress = s.cfg.LocalAddress
	cfg.LocalPort = s.cfg.LocalPort
	cfg.RemoteAddress = ep.RemoteAddress
	cfg.RemotePort = ep.RemotePort
	cfg.ExtensionHeaderID = ep.ExtensionHeaderID
	cfg.Socket = s.cfg.socket(format.Kind)
	cfg.RTCP = s.cfg.RTCP
	cfg.Logger = s.log.WithField("component", "rtp-output")
	if peer != nil {
		cfg.Peer = peer.SessionContext()
	}

	output := s.cfg.Network.NewOutputStream(cfg)
	if listener != nil {
		output.AddStreamListener(listener)
	}
	if s.cfg.Metrics != nil {
		output.AddStreamListener(s.cfg.Metrics.StreamListener(s.direction))
	}
	if err := output.Open(); err != nil {
		closeAll(input, output)
		return s.setupFailed(ep, fmt.Errorf("открытие RTP потока: %w", err))
	}

	if cfg.Peer != nil {
		if addr := cfg.Peer.LocalAddr(); addr != nil {
			ep.LocalPort = portOf(addr)
		}
	}

	stages := s.cfg.Registry.EncodingChain(format.Encoding)
	s.mu.Lock()
	s.output = output
	s.mu.Unlock()

	return s.prepared(ep, format, input, output, stages)
}

// closeOutput закрывает сетевой поток после остановки процессора
func (s *Sender) closeOutput() {
	s.mu.Lock()
	output := s.output
	s.mu.Unlock()

	if output != nil {
		if err := output.Close(); err != nil {
			s.log.WithError(err).Debug("ошибка закрытия RTP потока")
		}
	}
}

// VideoSender сессия отправки видео с расширением ориентации (CVO)
type VideoSender struct {
	*Sender
}

// NewVideoSender создает сессию отправки видео
func NewVideoSender(format codec.Format, cfg Config) *VideoSender {
	return &VideoSender{Sender: NewSender(format, cfg)}
}

// PrepareSession аналогичен Sender.PrepareSession, дополнительно передает
// ориентацию кадров в расширении RTP заголовка с указанным id
func (s *VideoSender) PrepareSession(source stream.MediaSource, remoteAddress string, remotePort int, orientationHeaderID uint8, peer stream.NetworkInputStream, listener stream.Listener) error {
	ep := Endpoint{
		RemoteAddress:     remoteAddress,
		RemotePort:        remotePort,
		ExtensionHeaderID: orientationHeaderID,
	}
	return s.prepare(ep, source, peer, listener)
}
