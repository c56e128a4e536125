// Package g711 реализует стадии кодирования и декодирования G.711 (PCMU/PCMA).
// Сырое аудио - 16-битный PCM little-endian, 8 кГц, моно.
package g711

import (
	"github.com/zaf/g711"

	"github.com/arzzra/rcs_media/pkg/codec"
)

// Law вариант компандирования G.711
type Law int

const (
	ULaw Law = iota // PCMU
	ALaw            // PCMA
)

func (l Law) String() string {
	if l == ALaw {
		return "alaw"
	}
	return "ulaw"
}

// Encoder кодирует PCM в G.711
type Encoder struct {
	law Law
}

// NewEncoder создает кодер
func NewEncoder(law Law) *Encoder {
	return &Encoder{law: law}
}

// Name возвращает имя стадии
func (e *Encoder) Name() string {
	return "g711-" + e.law.String() + "-encoder"
}

// Process кодирует один фрейм
func (e *Encoder) Process(in, out *codec.Buffer) codec.Result {
	if in == nil || out == nil {
		return codec.BufferProcessedFailed
	}
	if in.Discard || len(in.Data) == 0 {
		out.Discard = true
		return codec.OutputBufferNotFilled
	}
	if len(in.Data)%2 != 0 {
		// PCM16 всегда четной длины
		return codec.BufferProcessedFailed
	}

	out.CopyMetadata(in)
	if e.law == ALaw {
		out.Data = g711.EncodeAlaw(in.Data)
	} else {
		out.Data = g711.EncodeUlaw(in.Data)
	}
	return codec.BufferProcessedOK
}

// Decoder декодирует G.711 в PCM
type Decoder struct {
	law Law
}

// NewDecoder создает декодер
func NewDecoder(law Law) *Decoder {
	return &Decoder{law: law}
}

// Name возвращает имя стадии
func (d *Decoder) Name() string {
	return "g711-" + d.law.String() + "-decoder"
}

// Process декодирует один RTP payload
func (d *Decoder) Process(in, out *codec.Buffer) codec.Result {
	if in == nil || out == nil {
		return codec.BufferProcessedFailed
	}
	if in.Discard || len(in.Data) == 0 {
		out.Discard = true
		return codec.OutputBufferNotFilled
	}

	out.CopyMetadata(in)
	if d.law == ALaw {
		out.Data = g711.DecodeAlaw(in.Data)
	} else {
		out.Data = g711.DecodeUlaw(in.Data)
	}
	return codec.BufferProcessedOK
}
