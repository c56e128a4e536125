package h264

import (
	"github.com/arzzra/rcs_media/pkg/codec"
)

// maxAssemblers количество кадров, собираемых одновременно.
// Позволяет собирать кадры при перемешивании пакетов соседних кадров.
const maxAssemblers = 5

// Depacketizer собирает кадры H.264 из RTP payload.
//
// Single NAL unit передается как есть. STAP-A разбирается по одному NAL за
// вызов с результатом InputBufferNotConsumed. FU-A фрагменты собираются по
// RTP timestamp, кадр отдается после получения всех фрагментов от стартового
// до конечного.
type Depacketizer struct {
	assemblers []*frameAssembler // от старых к новым
	stapOffset int
}

// NewDepacketizer создает депакетизатор
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{stapOffset: 1}
}

// Name возвращает имя стадии
func (d *Depacketizer) Name() string {
	return "h264-depacketizer"
}

// Process обрабатывает один RTP payload
func (d *Depacketizer) Process(in, out *codec.Buffer) codec.Result {
	if in == nil || out == nil {
		return codec.BufferProcessedFailed
	}
	if in.Discard || len(in.Data) == 0 || in.Data[0]&nalForbiddenMask != 0 {
		out.Discard = true
		return codec.OutputBufferNotFilled
	}

	switch t := int(in.Data[0] & nalTypeMask); {
	case t >= 1 && t <= 23:
		return d.single(in, out)
	case t == NALTypeSTAPA:
		return d.aggregation(in, out)
	case t == NALTypeFUA:
		return d.fragment(in, out)
	default:
		// STAP-B, MTAP, FU-B не используются в режиме 1
		out.Discard = true
		return codec.OutputBufferNotFilled
	}
}

// Pending возвращает количество незавершенных кадров
func (d *Depacketizer) Pending() int {
	return len(d.assemblers)
}

func (d *Depacketizer) single(in, out *codec.Buffer) codec.Result {
	out.CopyMetadata(in)
	out.Data = append([]byte(nil), in.Data...)
	return codec.BufferProcessedOK
}

func (d *Depacketizer) aggregation(in, out *codec.Buffer) codec.Result {
	data := in.Data
	if d.stapOffset+stapALengthLen > len(data) {
		// Все NAL из пакета уже отданы
		d.stapOffset = 1
		out.Discard = true
		return codec.BufferProcessedOK
	}

	size := int(data[d.stapOffset])<<8 | int(data[d.stapOffset+1])
	start := d.stapOffset + stapALengthLen
	if size == 0 || start+size > len(data) {
		d.stapOffset = 1
		return codec.BufferProcessedFailed
	}

	nal := data[start : start+size]
	if t := nal[0] & nalTypeMask; t < 1 || t > 23 {
		d.stapOffset = 1
		return codec.BufferProcessedFailed
	}
	d.stapOffset = start + size

	out.CopyMetadata(in)
	out.Data = append([]byte(nil), nal...)
	return codec.InputBufferNotConsumed
}

func (d *Depacketizer) fragment(in, out *codec.Buffer) codec.Result {
	a := d.assembler(in.Timestamp)
	a.put(in)

	if !a.complete() {
		if a.overflow() {
			d.remove(a)
		}
		out.Discard = true
		return codec.OutputBufferNotFilled
	}

	a.copyTo(out)
	d.removeUpTo(a)
	return codec.BufferProcessedOK
}

// assembler возвращает сборщик для timestamp, создавая новый при необходимости.
// При превышении лимита вытесняется самый старый.
func (d *Depacketizer) assembler(timestamp uint32) *frameAssembler {
	for _, a := range d.assemblers {
		if a.timestamp == timestamp {
			return a
		}
	}

	if len(d.assemblers) >= maxAssemblers {
		d.assemblers = d.assemblers[1:]
	}
	a := newFrameAssembler(timestamp)
	d.assemblers = append(d.assemblers, a)
	return a
}

func (d *Depacketizer) remove(target *frameAssembler) {
	kept := d.assemblers[:0]
	for _, a := range d.assemblers {
		if a != target {
			kept = append(kept, a)
		}
	}
	d.assemblers = kept
}

// removeUpTo удаляет собранный кадр и все более ранние по timestamp
func (d *Depacketizer) removeUpTo(done *frameAssembler) {
	kept := d.assemblers[:0]
	for _, a := range d.assemblers {
		if a == done || tsBefore(a.timestamp, done.timestamp) {
			continue
		}
		kept = append(kept, a)
	}
	d.assemblers = kept
}

// frameAssembler собирает один NAL unit из FU-A фрагментов
type frameAssembler struct {
	timestamp uint32
	meta      codec.Buffer

	nalHeader   byte
	orientation *codec.VideoOrientation
	fragments   map[uint16][]byte
	size        int

	hasStart, hasEnd bool
	start, end       uint16
}

func newFrameAssembler(timestamp uint32) *frameAssembler {
	return &frameAssembler{
		timestamp: timestamp,
		fragments: make(map[uint16][]byte),
	}
}

func (a *frameAssembler) put(buf *codec.Buffer) {
	if len(buf.Data) <= fuHeaderSize {
		// Пустой фрагмент (бывает с маркером) - хранить нечего
		return
	}
	if _, dup := a.fragments[buf.SequenceNumber]; dup {
		return
	}

	indicator, header := buf.Data[0], buf.Data[1]
	if len(a.fragments) == 0 {
		a.meta.CopyMetadata(buf)
	}
	if header&fuStartBit != 0 {
		a.hasStart = true
		a.start = buf.SequenceNumber
		a.nalHeader = indicator&nalRefIdcMask | header&nalTypeMask
		a.meta.CopyMetadata(buf)
	}
	if header&fuEndBit != 0 {
		a.hasEnd = true
		a.end = buf.SequenceNumber
	}
	if buf.Orientation != nil {
		o := *buf.Orientation
		a.orientation = &o
	}

	payload := append([]byte(nil), buf.Data[fuHeaderSize:]...)
	a.fragments[buf.SequenceNumber] = payload
	a.size += len(payload)
}

func (a *frameAssembler) span() int {
	return int(a.end-a.start) + 1
}

func (a *frameAssembler) overflow() bool {
	if len(a.fragments) > MaxFragments {
		return true
	}
	return a.hasStart && a.hasEnd && a.span() > MaxFragments
}

func (a *frameAssembler) complete() bool {
	if !a.hasStart || !a.hasEnd {
		return false
	}
	n := a.span()
	if n > MaxFragments {
		return false
	}
	for i := 0; i < n; i++ {
		if _, ok := a.fragments[a.start+uint16(i)]; !ok {
			return false
		}
	}
	return true
}

func (a *frameAssembler) copyTo(out *codec.Buffer) {
	data := make([]byte, 0, a.size+1)
	data = append(data, a.nalHeader)
	for i := 0; i < a.span(); i++ {
		data = append(data, a.fragments[a.start+uint16(i)]...)
	}

	out.CopyMetadata(&a.meta)
	out.Timestamp = a.timestamp
	out.SequenceNumber = a.start
	out.Marker = true
	if a.orientation != nil {
		out.Orientation = a.orientation
	}
	out.Data = data
}
