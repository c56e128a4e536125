package stream

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// SessionContext RTP контекст одной стороны звонка: UDP сокет, SSRC и
// счетчики sequence/timestamp.
//
// Создается входящим потоком при Open. Исходящий поток того же плеча звонка
// отправляет пакеты с этого сокета (symmetric RTP) и продолжает нумерацию,
// поэтому отправитель и генератор пустых пакетов согласованы между собой.
// Для отправителя контекст доступен только на чтение, кроме счетчика sequence
// и статистики отправки. Статистика обоих направлений попадает в отчеты RTCP.
type SessionContext struct {
	conn          *net.UDPConn
	ssrc          uint32
	timestampBase uint32
	sequence      atomic.Uint32

	// remoteSSRC 0 пока не получен ни один пакет, иначе 1<<32 | ssrc
	remoteSSRC atomic.Uint64

	mu     sync.Mutex
	sent   senderStats
	recv   receptionStats
	source *net.UDPAddr
}

func newSessionContext(conn *net.UDPConn) *SessionContext {
	c := &SessionContext{
		conn:          conn,
		ssrc:          randomUint32(),
		timestampBase: randomUint32(),
	}
	c.sequence.Store(randomUint32() & 0xFFFF)
	return c
}

// SSRC локальный идентификатор источника
func (c *SessionContext) SSRC() uint32 {
	return c.ssrc
}

// TimestampBase случайное начальное значение RTP timestamp
func (c *SessionContext) TimestampBase() uint32 {
	return c.timestampBase
}

// NextSequence возвращает следующий sequence number
func (c *SessionContext) NextSequence() uint16 {
	return uint16(c.sequence.Add(1) - 1)
}

// RemoteSSRC последний SSRC удаленной стороны
func (c *SessionContext) RemoteSSRC() (uint32, bool) {
	v := c.remoteSSRC.Load()
	if v == 0 {
		return 0, false
	}
	return uint32(v), true
}

// LocalAddr локальный адрес сокета
func (c *SessionContext) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// Statistics снимок счетчиков отправки и приема
func (c *SessionContext) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Statistics{
		PacketsSent:     c.sent.packets,
		OctetsSent:      c.sent.octets,
		PacketsReceived: c.recv.received,
		PacketsLost:     c.recv.lost(),
		Jitter:          uint32(c.recv.jitter),
	}
}

// RemoteSource адрес, с которого пришел последний RTP пакет
func (c *SessionContext) RemoteSource() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

func (c *SessionContext) packetReceived(h *rtp.Header, from *net.UDPAddr, clockRate uint32, now time.Time) {
	c.remoteSSRC.Store(1<<32 | uint64(h.SSRC))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv.update(h, clockRate, now)
	c.source = from
}

func (c *SessionContext) packetSent(payloadLen int, timestamp, clockRate uint32, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent.packets++
	c.sent.octets += uint32(payloadLen)
	c.sent.lastTS = timestamp
	c.sent.lastAt = now
	c.sent.clockRate = clockRate
}

// senderReportReceived запоминает SR удаленной стороны для полей LSR/DLSR
func (c *SessionContext) senderReportReceived(sr *rtcp.SenderReport, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recv.active || sr.SSRC != c.recv.ssrc {
		return
	}
	c.recv.lastSR = uint32(sr.NTPTime >> 16)
	c.recv.lastSRAt = now
}

// rtcpPackets составной пакет: SR, если мы отправляли RTP, иначе RR,
// затем SDES CNAME и при закрытии BYE
func (c *SessionContext) rtcpPackets(now time.Time, cname string, bye bool) []rtcp.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	var reports []rtcp.ReceptionReport
	if rr, ok := c.recv.report(now); ok {
		reports = append(reports, rr)
	}

	var first rtcp.Packet
	if c.sent.packets > 0 {
		first = &rtcp.SenderReport{
			SSRC:        c.ssrc,
			NTPTime:     ntpTime(now),
			RTPTime:     c.sent.rtpTimeAt(now),
			PacketCount: c.sent.packets,
			OctetCount:  c.sent.octets,
			Reports:     reports,
		}
	} else {
		first = &rtcp.ReceiverReport{SSRC: c.ssrc, Reports: reports}
	}

	packets := []rtcp.Packet{first, rtcp.NewCNAMESourceDescription(c.ssrc, cname)}
	if bye {
		packets = append(packets, &rtcp.Goodbye{Sources: []uint32{c.ssrc}})
	}
	return packets
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}
