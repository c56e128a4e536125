package stream

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// DefaultRTCPInterval базовый интервал отчетов RTCP (RFC 3550, 6.2)
const DefaultRTCPInterval = 5 * time.Second

// ntpEpochOffset секунды между 1900 и 1970 годом
const ntpEpochOffset = 2208988800

// RTCPConfig параметры отчетов RTCP. Отчеты отправляются с RTP сокета
// на RTP порт удаленной стороны (rtcp-mux, RFC 5761).
type RTCPConfig struct {
	// Interval 0 - DefaultRTCPInterval, отрицательное значение отключает RTCP
	Interval time.Duration
	// CNAME пустая строка - rcs@<локальный адрес>
	CNAME string
}

// Enabled сообщает, нужно ли отправлять отчеты
func (c RTCPConfig) Enabled() bool {
	return c.Interval >= 0
}

func (c *RTCPConfig) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultRTCPInterval
	}
}

// Statistics счетчики RTP для отчетов RTCP
type Statistics struct {
	PacketsSent     uint32
	OctetsSent      uint32
	PacketsReceived uint32
	PacketsLost     uint32
	Jitter          uint32 // В единицах RTP timestamp
}

// senderStats счетчики отправленных пакетов (RFC 3550, 6.4.1)
type senderStats struct {
	packets   uint32
	octets    uint32
	lastTS    uint32
	lastAt    time.Time
	clockRate uint32
}

// rtpTimeAt RTP timestamp, соответствующий моменту now
func (s *senderStats) rtpTimeAt(now time.Time) uint32 {
	if s.clockRate == 0 || s.lastAt.IsZero() {
		return s.lastTS
	}
	return s.lastTS + uint32(now.Sub(s.lastAt).Seconds()*float64(s.clockRate))
}

// receptionStats статистика приема одного источника (RFC 3550, A.1, A.3, A.8)
type receptionStats struct {
	ssrc     uint32
	active   bool
	baseSeq  uint32
	maxSeq   uint16
	cycles   uint32
	received uint32

	expectedPrior uint32
	receivedPrior uint32

	first       time.Time
	lastTransit uint32
	hasTransit  bool
	jitter      float64

	lastSR   uint32
	lastSRAt time.Time
}

func (s *receptionStats) update(h *rtp.Header, clockRate uint32, now time.Time) {
	if !s.active || h.SSRC != s.ssrc {
		*s = receptionStats{
			ssrc:    h.SSRC,
			active:  true,
			baseSeq: uint32(h.SequenceNumber),
			maxSeq:  h.SequenceNumber,
			first:   now,
		}
	} else if delta := h.SequenceNumber - s.maxSeq; delta != 0 && delta < 1<<15 {
		if h.SequenceNumber < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = h.SequenceNumber
	}
	s.received++

	if clockRate == 0 {
		return
	}
	arrival := uint32(now.Sub(s.first).Seconds() * float64(clockRate))
	transit := arrival - h.Timestamp
	if s.hasTransit {
		d := float64(int32(transit - s.lastTransit))
		if d < 0 {
			d = -d
		}
		s.jitter += (d - s.jitter) / 16
	}
	s.lastTransit = transit
	s.hasTransit = true
}

func (s *receptionStats) extendedMax() uint32 {
	return s.cycles + uint32(s.maxSeq)
}

func (s *receptionStats) lost() uint32 {
	expected := s.extendedMax() - s.baseSeq + 1
	if expected <= s.received {
		return 0
	}
	// поле cumulative lost занимает 24 бита
	return min(expected-s.received, 0x7FFFFF)
}

// report формирует блок отчета и сдвигает интервал для fraction lost
func (s *receptionStats) report(now time.Time) (rtcp.ReceptionReport, bool) {
	if !s.active {
		return rtcp.ReceptionReport{}, false
	}

	expected := s.extendedMax() - s.baseSeq + 1
	expectedInterval := int64(expected) - int64(s.expectedPrior)
	receivedInterval := int64(s.received) - int64(s.receivedPrior)
	s.expectedPrior, s.receivedPrior = expected, s.received

	var fraction uint8
	if lostInterval := expectedInterval - receivedInterval; expectedInterval > 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / expectedInterval)
	}

	var delay uint32
	if !s.lastSRAt.IsZero() {
		delay = uint32(now.Sub(s.lastSRAt).Seconds() * 65536)
	}

	return rtcp.ReceptionReport{
		SSRC:               s.ssrc,
		FractionLost:       fraction,
		TotalLost:          s.lost(),
		LastSequenceNumber: s.extendedMax(),
		Jitter:             uint32(s.jitter),
		LastSenderReport:   s.lastSR,
		Delay:              delay,
	}, true
}

// ntpTime 64-битный NTP timestamp
func ntpTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return secs<<32 | frac
}

// rtcpReporter периодически отправляет SR или RR с SDES CNAME, при
// закрытии добавляет BYE. Принадлежит потоку, который владеет сокетом.
type rtcpReporter struct {
	ctx      *SessionContext
	cname    string
	interval time.Duration
	target   func() *net.UDPAddr
	log      *logrus.Entry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newRTCPReporter(ctx *SessionContext, cfg RTCPConfig, target func() *net.UDPAddr, log *logrus.Entry) *rtcpReporter {
	cname := cfg.CNAME
	if cname == "" {
		cname = fmt.Sprintf("rcs@%s", ctx.LocalAddr())
	}
	return &rtcpReporter{
		ctx:      ctx,
		cname:    cname,
		interval: cfg.Interval,
		target:   target,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *rtcpReporter) start() {
	go r.run()
}

func (r *rtcpReporter) run() {
	defer close(r.done)

	// первый отчет через половину интервала (RFC 3550, 6.2)
	timer := time.NewTimer(r.interval / 2)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
			r.send(false)
			timer.Reset(r.nextInterval())
		}
	}
}

// nextInterval интервал со случайным множителем 0.5-1.5 (RFC 3550, 6.3.1)
func (r *rtcpReporter) nextInterval() time.Duration {
	return time.Duration(float64(r.interval) * (0.5 + rand.Float64()))
}

// close останавливает отправку и отправляет последний отчет с BYE
func (r *rtcpReporter) close() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		r.send(true)
	})
}

func (r *rtcpReporter) send(bye bool) {
	addr := r.target()
	if addr == nil {
		return
	}

	data, err := rtcp.Marshal(r.ctx.rtcpPackets(time.Now(), r.cname, bye))
	if err != nil {
		r.log.WithError(err).Warn("ошибка маршалинга RTCP")
		return
	}
	if _, err := r.ctx.conn.WriteToUDP(data, addr); err != nil {
		r.log.WithError(err).WithField("remote", addr.String()).Debug("RTCP отчет не отправлен")
		return
	}
	r.log.WithFields(logrus.Fields{"remote": addr.String(), "bye": bye}).Debug("RTCP отчет отправлен")
}
