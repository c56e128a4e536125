package stream

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/logger"
)

// MaxRTPPacketSize максимальный размер отправляемого пакета
const MaxRTPPacketSize = 1500

// RTPOutputConfig параметры исходящего RTP потока
type RTPOutputConfig struct {
	LocalAddress  string
	LocalPort     int
	RemoteAddress string
	RemotePort    int
	Format        codec.Format

	// ExtensionHeaderID id расширения CVO, 0 - ориентация не передается
	ExtensionHeaderID uint8

	// Peer контекст входящего потока того же плеча звонка. Если задан,
	// пакеты отправляются с его сокета с его SSRC и нумерацией.
	Peer *SessionContext

	Socket SocketConfig
	// RTCP отчеты отправляет поток, владеющий сокетом. С Peer их
	// отправляет входящий поток.
	RTCP   RTCPConfig
	Logger *logrus.Entry
}

// DefaultRTPOutputConfig возвращает конфигурацию исходящего потока
func DefaultRTPOutputConfig(format codec.Format) RTPOutputConfig {
	return RTPOutputConfig{
		Format: format,
		Socket: DefaultSocketConfig(format.Kind),
	}
}

// ApplyDefaults заполняет незаданные поля
func (c *RTPOutputConfig) ApplyDefaults() {
	c.RTCP.applyDefaults()
	if c.Logger == nil {
		c.Logger = logger.WithComponent("rtp-output")
	}
}

// Validate проверяет конфигурацию
func (c *RTPOutputConfig) Validate() error {
	if c.RemoteAddress == "" {
		return errors.New("удаленный адрес обязателен")
	}
	if c.RemotePort <= 0 || c.RemotePort > 65535 {
		return fmt.Errorf("некорректный удаленный порт %d", c.RemotePort)
	}
	if c.ExtensionHeaderID > 14 {
		return fmt.Errorf("id расширения должен быть в диапазоне 1-14: %d", c.ExtensionHeaderID)
	}
	return c.Socket.Validate()
}

// RTPOutputStream исходящий RTP поток поверх UDP
type RTPOutputStream struct {
	config RTPOutputConfig
	log    *logrus.Entry

	listeners listeners

	mu       sync.Mutex
	conn     *net.UDPConn
	ownsConn bool
	ctx      *SessionContext
	remote   *net.UDPAddr
	reporter *rtcpReporter
	opened   bool
	closed   bool
}

// NewRTPOutputStream создает поток. Сокет открывается (или берется у Peer) в Open.
func NewRTPOutputStream(config RTPOutputConfig) *RTPOutputStream {
	config.ApplyDefaults()
	return &RTPOutputStream{
		config: config,
		log:    config.Logger,
	}
}

// AddStreamListener регистрирует слушателя событий
func (s *RTPOutputStream) AddStreamListener(l Listener) {
	s.listeners.add(l)
}

// SessionContext возвращает RTP контекст потока, nil до Open
func (s *RTPOutputStream) SessionContext() *SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Open готовит сокет и RTP контекст
func (s *RTPOutputStream) Open() error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return ErrAlreadyOpen
	}

	remote, err := resolveRemote(s.config.RemoteAddress, s.config.RemotePort)
	if err != nil {
		return err
	}

	if peer := s.config.Peer; peer != nil && peer.conn != nil {
		s.conn = peer.conn
		s.ctx = peer
	} else {
		conn, err := listenUDP(s.config.LocalAddress, s.config.LocalPort, s.config.Socket, s.log)
		if err != nil {
			return err
		}
		s.conn = conn
		s.ownsConn = true
		s.ctx = newSessionContext(conn)
	}
	s.remote = remote
	s.opened = true

	if s.ownsConn && s.config.RTCP.Enabled() {
		s.reporter = newRTCPReporter(s.ctx, s.config.RTCP, func() *net.UDPAddr { return remote }, s.log)
		s.reporter.start()
	}

	s.log.WithFields(logrus.Fields{
		"local":  s.conn.LocalAddr().String(),
		"remote": remote.String(),
		"ssrc":   s.ctx.SSRC(),
		"shared": !s.ownsConn,
	}).Debug("RTP поток открыт")
	return nil
}

// Write отправляет буфер одним RTP пакетом. Буферы с Discard и nil пропускаются.
func (s *RTPOutputStream) Write(buf *codec.Buffer) error {
	if buf == nil || buf.Discard {
		return nil
	}

	s.mu.Lock()
	conn, ctx, remote, opened, closed := s.conn, s.ctx, s.remote, s.opened, s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !opened {
		return ErrNotOpen
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType(buf),
			Marker:         buf.Marker,
			SequenceNumber: ctx.NextSequence(),
			Timestamp:      ctx.TimestampBase() + buf.Timestamp,
			SSRC:           ctx.SSRC(),
		},
		Payload: buf.Data,
	}
	if id := s.config.ExtensionHeaderID; id > 0 && buf.Orientation != nil {
		if err := packet.Header.SetExtension(id, []byte{buf.Orientation.Byte()}); err != nil {
			return fmt.Errorf("ошибка установки расширения CVO: %w", err)
		}
	}

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
	}
	if len(data) > MaxRTPPacketSize {
		return fmt.Errorf("пакет слишком велик: %d байт (максимум %d)", len(data), MaxRTPPacketSize)
	}

	if _, err := conn.WriteToUDP(data, remote); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		classified := classifyNetworkError("UDP write", err)
		var netErr *NetworkError
		if errors.As(classified, &netErr) && netErr.Temporary() {
			// Удаленная сторона временно недоступна, пакет теряется
			s.log.WithError(err).Debug("RTP пакет не отправлен")
			return nil
		}
		s.listeners.notify(Event{Type: EventAborted, Err: err})
		return classified
	}
	ctx.packetSent(len(buf.Data), packet.Timestamp, s.config.Format.ClockRate, time.Now())
	return nil
}

func (s *RTPOutputStream) payloadType(buf *codec.Buffer) uint8 {
	if !s.config.Format.IsZero() {
		return s.config.Format.PayloadType
	}
	return buf.PayloadType
}

// Close закрывает поток. Собственный сокет закрывается после RTCP BYE,
// общий с входящим потоком сокет остается открытым.
func (s *RTPOutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil || !s.ownsConn {
		return nil
	}
	if s.reporter != nil {
		s.reporter.close()
	}
	s.log.Debug("RTP поток закрыт")
	return s.conn.Close()
}
