package stream

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/codec"
	"github.com/arzzra/rcs_media/pkg/logger"
)

var testAudio = codec.NewAudioFormat("PCMU", 0, 8000, 1)

func TestReceptionStatsLoss(t *testing.T) {
	var stats receptionStats
	now := time.Now()
	for i, seq := range []uint16{10, 11, 13, 14} {
		stats.update(&rtp.Header{SSRC: 0xCAFE, SequenceNumber: seq, Timestamp: uint32(i) * 160}, 8000, now.Add(time.Duration(i)*20*time.Millisecond))
	}

	rr, ok := stats.report(now)
	require.True(t, ok)
	assert.Equal(t, uint32(0xCAFE), rr.SSRC)
	assert.Equal(t, uint32(14), rr.LastSequenceNumber)
	assert.Equal(t, uint32(1), rr.TotalLost)
	assert.Equal(t, uint8(256/5), rr.FractionLost, "1 из 5 ожидаемых")

	// без новых пакетов за интервал потерь нет
	rr, _ = stats.report(now)
	assert.Equal(t, uint8(0), rr.FractionLost)
	assert.Equal(t, uint32(1), rr.TotalLost)
}

func TestReceptionStatsSequenceWrap(t *testing.T) {
	var stats receptionStats
	for _, seq := range []uint16{65534, 65535, 0, 1} {
		stats.update(&rtp.Header{SSRC: 1, SequenceNumber: seq}, 0, time.Now())
	}

	rr, ok := stats.report(time.Now())
	require.True(t, ok)
	assert.Equal(t, uint32(1<<16+1), rr.LastSequenceNumber)
	assert.Zero(t, rr.TotalLost)
}

func TestReceptionStatsNewSourceResets(t *testing.T) {
	var stats receptionStats
	stats.update(&rtp.Header{SSRC: 1, SequenceNumber: 100}, 0, time.Now())
	stats.update(&rtp.Header{SSRC: 2, SequenceNumber: 7}, 0, time.Now())

	rr, ok := stats.report(time.Now())
	require.True(t, ok)
	assert.Equal(t, uint32(2), rr.SSRC)
	assert.Equal(t, uint32(7), rr.LastSequenceNumber)
	assert.Equal(t, uint32(1), stats.received)
}

func TestRTCPPacketsReceiverThenSender(t *testing.T) {
	ctx := &SessionContext{ssrc: 0x1234}
	now := time.Now()

	packets := ctx.rtcpPackets(now, "rcs@test", false)
	require.Len(t, packets, 2)
	rr, ok := packets[0].(*rtcp.ReceiverReport)
	require.True(t, ok, "без отправленных пакетов - RR")
	assert.Equal(t, uint32(0x1234), rr.SSRC)
	assert.Empty(t, rr.Reports)

	ctx.packetSent(160, 8000, 8000, now)
	ctx.packetSent(160, 8160, 8000, now)
	packets = ctx.rtcpPackets(now.Add(time.Second), "rcs@test", true)
	require.Len(t, packets, 3)

	sr, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(2), sr.PacketCount)
	assert.Equal(t, uint32(320), sr.OctetCount)
	assert.Equal(t, uint32(8160+8000), sr.RTPTime, "timestamp продолжается по часам формата")

	sdes, ok := packets[1].(*rtcp.SourceDescription)
	require.True(t, ok)
	assert.Equal(t, "rcs@test", sdes.Chunks[0].Items[0].Text)

	bye, ok := packets[2].(*rtcp.Goodbye)
	require.True(t, ok)
	assert.Equal(t, []uint32{0x1234}, bye.Sources)

	_, err := rtcp.Marshal(packets)
	assert.NoError(t, err)
}

func TestSenderReportFillsLastSR(t *testing.T) {
	ctx := &SessionContext{ssrc: 1}
	now := time.Now()
	ctx.packetReceived(&rtp.Header{SSRC: 0xBEEF, SequenceNumber: 1}, nil, 8000, now)
	ctx.senderReportReceived(&rtcp.SenderReport{SSRC: 0xBEEF, NTPTime: 0x0000_1111_2222_0000}, now)

	packets := ctx.rtcpPackets(now.Add(500*time.Millisecond), "c", false)
	rr := packets[0].(*rtcp.ReceiverReport)
	require.Len(t, rr.Reports, 1)
	assert.Equal(t, uint32(0x1111_2222), rr.Reports[0].LastSenderReport)
	assert.Equal(t, uint32(65536/2), rr.Reports[0].Delay, "DLSR в единицах 1/65536 с")
}

// rtcpCollector читает RTCP с обычного UDP сокета
func rtcpCollector(t *testing.T) (*net.UDPConn, <-chan []rtcp.Packet) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	out := make(chan []rtcp.Packet, 16)
	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if !isRTCP(buf[:n]) {
				continue
			}
			if packets, err := rtcp.Unmarshal(append([]byte(nil), buf[:n]...)); err == nil {
				out <- packets
			}
		}
	}()
	return conn, out
}

func waitRTCP(t *testing.T, ch <-chan []rtcp.Packet, match func([]rtcp.Packet) bool) []rtcp.Packet {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case packets := <-ch:
			if match(packets) {
				return packets
			}
		case <-deadline:
			t.Fatal("RTCP пакет не получен")
			return nil
		}
	}
}

func hasBye(packets []rtcp.Packet) bool {
	for _, p := range packets {
		if _, ok := p.(*rtcp.Goodbye); ok {
			return true
		}
	}
	return false
}

func TestRTPInputSendsReceiverReportsAndBye(t *testing.T) {
	remote, reports := rtcpCollector(t)

	cfg := DefaultRTPInputConfig(testAudio)
	cfg.LocalAddress = "127.0.0.1"
	cfg.RemoteAddress = "127.0.0.1"
	cfg.RemotePort = remote.LocalAddr().(*net.UDPAddr).Port
	cfg.Socket = SocketConfig{}
	cfg.RTCP = RTCPConfig{Interval: 40 * time.Millisecond, CNAME: "receiver@test"}
	cfg.Logger = logger.Discard()

	in := NewRTPInputStream(cfg)
	require.NoError(t, in.Open())

	for seq := uint16(1); seq <= 3; seq++ {
		packet := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: seq, Timestamp: uint32(seq) * 160, SSRC: 0xA1B2},
			Payload: make([]byte, 160),
		}
		data, err := packet.Marshal()
		require.NoError(t, err)
		_, err = remote.WriteToUDP(data, in.LocalAddr())
		require.NoError(t, err)

		_, err = in.Read()
		require.NoError(t, err)
	}

	packets := waitRTCP(t, reports, func(p []rtcp.Packet) bool {
		rr, ok := p[0].(*rtcp.ReceiverReport)
		return ok && len(rr.Reports) == 1
	})
	rr := packets[0].(*rtcp.ReceiverReport)
	assert.Equal(t, in.SessionContext().SSRC(), rr.SSRC)
	assert.Equal(t, uint32(0xA1B2), rr.Reports[0].SSRC)
	assert.Equal(t, uint32(3), rr.Reports[0].LastSequenceNumber)
	assert.Zero(t, rr.Reports[0].TotalLost)
	assert.Equal(t, uint32(3), in.SessionContext().Statistics().PacketsReceived)

	require.NoError(t, in.Close())
	packets = waitRTCP(t, reports, hasBye)
	assert.Equal(t, in.SessionContext().SSRC(), packets[len(packets)-1].(*rtcp.Goodbye).Sources[0])
}

func TestRTPOutputSendsSenderReports(t *testing.T) {
	in := openInput(t, testAudio, 0)

	var mu sync.Mutex
	var received [][]rtcp.Packet
	in.AddStreamListener(ListenerFunc(func(ev Event) {
		if ev.Type != EventRTCP {
			return
		}
		packets, err := rtcp.Unmarshal(ev.Payload)
		if err != nil {
			return
		}
		mu.Lock()
		received = append(received, packets)
		mu.Unlock()
	}))

	cfg := DefaultRTPOutputConfig(testAudio)
	cfg.LocalAddress = "127.0.0.1"
	cfg.RemoteAddress = "127.0.0.1"
	cfg.RemotePort = in.LocalAddr().Port
	cfg.Socket = SocketConfig{}
	cfg.RTCP = RTCPConfig{Interval: 40 * time.Millisecond}
	cfg.Logger = logger.Discard()
	out := NewRTPOutputStream(cfg)
	require.NoError(t, out.Open())

	for i := 0; i < 3; i++ {
		require.NoError(t, out.Write(&codec.Buffer{Data: make([]byte, 160), Timestamp: uint32(i) * 160}))
	}

	// RTCP обрабатывается внутри Read, поэтому чтение идет в фоне
	go func() {
		for {
			if _, err := in.Read(); err != nil {
				return
			}
		}
	}()

	findSR := func() *rtcp.SenderReport {
		mu.Lock()
		defer mu.Unlock()
		for _, packets := range received {
			if sr, ok := packets[0].(*rtcp.SenderReport); ok {
				return sr
			}
		}
		return nil
	}
	require.Eventually(t, func() bool { return findSR() != nil }, 2*time.Second, 10*time.Millisecond)

	sr := findSR()
	assert.Equal(t, out.SessionContext().SSRC(), sr.SSRC)
	assert.Equal(t, uint32(3), sr.PacketCount)
	assert.Equal(t, uint32(480), sr.OctetCount)

	require.NoError(t, out.Close())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, packets := range received {
			if hasBye(packets) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRTCPDisabled(t *testing.T) {
	cfg := DefaultRTPInputConfig(testAudio)
	cfg.LocalAddress = "127.0.0.1"
	cfg.Socket = SocketConfig{}
	cfg.RTCP = RTCPConfig{Interval: -1}
	cfg.Logger = logger.Discard()

	in := NewRTPInputStream(cfg)
	require.NoError(t, in.Open())
	assert.Nil(t, in.reporter)
	require.NoError(t, in.Close())

	cfg.RTCP = RTCPConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultRTCPInterval, cfg.RTCP.Interval)
}
