package stream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/logger"
)

const (
	// MinRTPPacketSize минимальный размер RTP заголовка
	MinRTPPacketSize = 12
	// DefaultReceiveBufferSize размер буфера чтения (MTU Ethernet)
	DefaultReceiveBufferSize = 1500
	// DefaultInactivityTimeout окно, после которого слушатели получают EventTimeout
	DefaultInactivityTimeout = 20 * time.Second
	// pollInterval период проверки неактивности при блокирующем чтении
	pollInterval = 100 * time.Millisecond
)

// RTPInputConfig параметры входящего RTP потока
type RTPInputConfig struct {
	LocalAddress  string // Пустая строка - все интерфейсы
	LocalPort     int    // 0 - выбрать свободный порт
	RemoteAddress string // Если задан, пакеты с других адресов отбрасываются
	RemotePort    int
	Format        codec.Format

	BufferSize        int
	InactivityTimeout time.Duration // Отрицательное значение отключает контроль
	Socket            SocketConfig
	RTCP              RTCPConfig

	Logger *logrus.Entry
}

// DefaultRTPInputConfig возвращает конфигурацию входящего потока
func DefaultRTPInputConfig(format codec.Format) RTPInputConfig {
	return RTPInputConfig{
		Format:            format,
		BufferSize:        DefaultReceiveBufferSize,
		InactivityTimeout: DefaultInactivityTimeout,
		Socket:            DefaultSocketConfig(format.Kind),
	}
}

// ApplyDefaults заполняет незаданные поля
func (c *RTPInputConfig) ApplyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultReceiveBufferSize
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	c.RTCP.applyDefaults()
	if c.Logger == nil {
		c.Logger = logger.WithComponent("rtp-input")
	}
}

// Validate проверяет конфигурацию
func (c *RTPInputConfig) Validate() error {
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("некорректный локальный порт %d", c.LocalPort)
	}
	if c.BufferSize < MinRTPPacketSize {
		return fmt.Errorf("буфер чтения меньше RTP заголовка: %d", c.BufferSize)
	}
	return c.Socket.Validate()
}

// RTPInputStream входящий RTP поток поверх UDP
type RTPInputStream struct {
	config RTPInputConfig
	remote *net.UDPAddr
	log    *logrus.Entry

	listeners listeners

	mu       sync.Mutex
	extID    uint8
	ctx      *SessionContext
	conn     *net.UDPConn
	reporter *rtcpReporter
	opened   bool
	closed   bool

	// Поля ниже используются только горутиной чтения
	buf        []byte
	lastPacket time.Time
	timedOut   bool
}

// NewRTPInputStream создает поток. Сокет открывается в Open.
func NewRTPInputStream(config RTPInputConfig) *RTPInputStream {
	config.ApplyDefaults()
	return &RTPInputStream{
		config: config,
		log:    config.Logger,
	}
}

// SetExtensionHeaderID задает id расширения CVO
func (s *RTPInputStream) SetExtensionHeaderID(id uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		s.log.WithField("ext_id", id).Warn("id расширения задан после открытия потока")
	}
	s.extID = id
}

// AddStreamListener регистрирует слушателя событий
func (s *RTPInputStream) AddStreamListener(l Listener) {
	s.listeners.add(l)
}

// SessionContext возвращает RTP контекст потока
func (s *RTPInputStream) SessionContext() *SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// LocalAddr возвращает адрес сокета, nil до Open
func (s *RTPInputStream) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Open открывает UDP сокет
func (s *RTPInputStream) Open() error {
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

	conn, err := listenUDP(s.config.LocalAddress, s.config.LocalPort, s.config.Socket, s.log)
	if err != nil {
		return err
	}

	s.conn = conn
	s.remote = remote
	s.ctx = newSessionContext(conn)
	s.buf = make([]byte, s.config.BufferSize)
	s.lastPacket = time.Now()
	s.opened = true

	if s.config.RTCP.Enabled() {
		s.reporter = newRTCPReporter(s.ctx, s.config.RTCP, s.rtcpTarget, s.log)
		s.reporter.start()
	}

	s.log.WithFields(logrus.Fields{
		"local":  conn.LocalAddr().String(),
		"format": s.config.Format.String(),
		"ext_id": s.extID,
	}).Debug("RTP поток открыт")
	return nil
}

// Read блокируется до получения RTP пакета подходящего формата.
// После Close возвращает io.EOF.
func (s *RTPInputStream) Read() (*codec.Buffer, error) {
	s.mu.Lock()
	conn, ctx, extID, opened, closed := s.conn, s.ctx, s.extID, s.opened, s.closed
	s.mu.Unlock()

	if closed {
		return nil, io.EOF
	}
	if !opened {
		return nil, ErrNotOpen
	}

	for {
		if s.config.InactivityTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		}

		n, addr, err := conn.ReadFromUDP(s.buf)
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.checkInactivity()
				continue
			}
			s.listeners.notify(Event{Type: EventAborted, Err: err})
			return nil, classifyNetworkError("UDP read", err)
		}

		if s.remote != nil && !s.remote.IP.Equal(addr.IP) {
			continue
		}
		if n < MinRTPPacketSize {
			continue
		}

		data := s.buf[:n]
		if isRTCP(data) {
			s.handleRTCP(ctx, data)
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(data); err != nil {
			s.log.WithError(err).Debug("отброшен некорректный RTP пакет")
			continue
		}
		if packet.Version != 2 {
			continue
		}
		if !s.config.Format.IsZero() && packet.PayloadType != s.config.Format.PayloadType {
			continue
		}

		s.markActive()
		ctx.packetReceived(&packet.Header, addr, s.config.Format.ClockRate, time.Now())

		return s.toBuffer(packet, extID), nil
	}
}

func (s *RTPInputStream) toBuffer(packet *rtp.Packet, extID uint8) *codec.Buffer {
	buf := &codec.Buffer{
		Data:           append([]byte(nil), packet.Payload...),
		Timestamp:      packet.Timestamp,
		SequenceNumber: packet.SequenceNumber,
		PayloadType:    packet.PayloadType,
		Marker:         packet.Marker,
		Format:         s.config.Format,
	}
	if extID > 0 {
		if ext := packet.GetExtension(extID); len(ext) > 0 {
			o := codec.ParseVideoOrientation(ext[0])
			buf.Orientation = &o
		}
	}
	return buf
}

// handleRTCP запоминает SR удаленной стороны и передает пакет слушателям
func (s *RTPInputStream) handleRTCP(ctx *SessionContext, data []byte) {
	payload := append([]byte(nil), data...)

	packets, err := rtcp.Unmarshal(payload)
	if err != nil {
		s.log.WithError(err).Debug("некорректный RTCP пакет")
	}
	for _, p := range packets {
		switch p := p.(type) {
		case *rtcp.SenderReport:
			ctx.senderReportReceived(p, time.Now())
		case *rtcp.Goodbye:
			s.log.WithField("sources", p.Sources).Debug("получен RTCP BYE")
		}
	}

	s.listeners.notify(Event{Type: EventRTCP, Payload: payload})
}

// rtcpTarget адрес для отчетов: заданный удаленный адрес или источник
// последнего RTP пакета
func (s *RTPInputStream) rtcpTarget() *net.UDPAddr {
	if s.remote != nil && s.remote.Port > 0 {
		return s.remote
	}
	return s.ctx.RemoteSource()
}

func (s *RTPInputStream) checkInactivity() {
	if s.timedOut || time.Since(s.lastPacket) < s.config.InactivityTimeout {
		return
	}
	s.timedOut = true
	s.log.WithField("timeout", s.config.InactivityTimeout).Info("нет входящих RTP пакетов")
	s.listeners.notify(Event{Type: EventTimeout})
}

func (s *RTPInputStream) markActive() {
	s.lastPacket = time.Now()
	if s.timedOut {
		s.timedOut = false
		s.listeners.notify(Event{Type: EventResumed})
	}
}

func (s *RTPInputStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close отправляет RTCP BYE, закрывает сокет и прерывает заблокированный
// Read. Повторный вызов ничего не делает.
func (s *RTPInputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn, reporter := s.conn, s.reporter
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if reporter != nil {
		reporter.close()
	}
	s.log.Debug("RTP поток закрыт")
	return conn.Close()
}

// isRTCP различает RTP и RTCP на одном порту (RFC 5761)
func isRTCP(data []byte) bool {
	return len(data) >= 2 && data[1] >= 192 && data[1] <= 223
}
