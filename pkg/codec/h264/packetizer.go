package h264

import (
	"github.com/pion/rtp/codecs"

	"github.com/arzzra/rcs_media/pkg/codec"
)

// Packetizer разбивает кадры H.264 на RTP payload.
//
// Фрагментация выполняется pion H264Payloader: NAL больше MTU передается
// FU-A фрагментами, SPS/PPS объединяются со следующим NAL в STAP-A.
// Ориентация CVO добавляется к последнему пакету кадра только для IDR или
// при смене ориентации.
type Packetizer struct {
	payloader codecs.H264Payloader
	mtu       uint16
	previous  *codec.VideoOrientation
}

// NewPacketizer создает пакетизатор. mtu == 0 означает DefaultMTU.
func NewPacketizer(mtu int) *Packetizer {
	if mtu <= fuHeaderSize {
		mtu = DefaultMTU
	}
	return &Packetizer{mtu: uint16(mtu)}
}

// Name возвращает имя стадии
func (p *Packetizer) Name() string {
	return "h264-packetizer"
}

// Process пакетизирует один кадр
func (p *Packetizer) Process(in, out *codec.Buffer) codec.Result {
	if in == nil || out == nil {
		return codec.BufferProcessedFailed
	}
	if in.Discard || len(in.Data) == 0 {
		out.Discard = true
		return codec.OutputBufferNotFilled
	}

	payloads := p.payloader.Payload(p.mtu, in.Data)
	if len(payloads) == 0 {
		// SPS/PPS накоплены до следующего NAL
		out.Discard = true
		return codec.OutputBufferNotFilled
	}
	if len(payloads) > MaxFragments {
		// Кадр не помещается в допустимое число пакетов
		out.Discard = true
		return codec.OutputBufferNotFilled
	}

	fragments := make([]*codec.Buffer, len(payloads))
	for i, payload := range payloads {
		fragment := &codec.Buffer{}
		fragment.CopyMetadata(in)
		fragment.Orientation = nil
		fragment.Marker = i == len(payloads)-1
		fragment.Data = payload
		fragments[i] = fragment
	}

	if p.needsOrientation(in) {
		o := *in.Orientation
		fragments[len(fragments)-1].Orientation = &o
		p.previous = &o
	}

	out.CopyMetadata(in)
	out.Orientation = nil
	out.Fragments = fragments
	return codec.BufferProcessedOK
}

func (p *Packetizer) needsOrientation(in *codec.Buffer) bool {
	if in.Orientation == nil {
		return false
	}
	switch nalType(in.Data) {
	case NALTypeIDR:
		return true
	case NALTypeNonIDR:
		return p.previous == nil || *p.previous != *in.Orientation
	default:
		return false
	}
}
