// Package opus реализует стадию декодирования Opus на основе pion/opus.
// Кодирование Opus выполняется нативным кодеком устройства, поэтому
// программной стадии для отправки нет.
package opus

import (
	"github.com/pion/opus"

	"github.com/arzzra/rcs_media/pkg/codec"
)

const (
	// SampleRate частота дискретизации на выходе декодера
	SampleRate = 48000
	// FrameBytes размер одного декодированного фрейма: 20 мс моно
	// при 48 кГц, 16 бит. pion/opus передискретизирует SILK в 48 кГц
	// независимо от полосы пакета, стерео не поддерживается.
	FrameBytes = SampleRate / 1000 * 20 * 2
)

// Decoder декодирует Opus в PCM16 little-endian, моно 48 кГц
type Decoder struct {
	decoder opus.Decoder
	pcm     []byte
}

// NewDecoder создает декодер
func NewDecoder() *Decoder {
	return &Decoder{
		decoder: opus.NewDecoder(),
		pcm:     make([]byte, FrameBytes),
	}
}

// Name возвращает имя стадии
func (d *Decoder) Name() string {
	return "opus-decoder"
}

// Process декодирует один RTP payload. Пакеты, которые декодер не
// поддерживает (CELT, гибридный режим), отбрасываются без остановки потока.
func (d *Decoder) Process(in, out *codec.Buffer) codec.Result {
	if in == nil || out == nil {
		return codec.BufferProcessedFailed
	}
	if in.Discard || len(in.Data) == 0 {
		out.Discard = true
		return codec.OutputBufferNotFilled
	}

	if _, _, err := d.decoder.Decode(in.Data, d.pcm); err != nil {
		out.Discard = true
		return codec.OutputBufferNotFilled
	}

	out.CopyMetadata(in)
	out.Data = append([]byte(nil), d.pcm...)
	return codec.BufferProcessedOK
}
