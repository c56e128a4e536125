package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	buffers []*Buffer
	err     error
}

func (s *recordSink) Write(buf *Buffer) error {
	if s.err != nil {
		return s.err
	}
	s.buffers = append(s.buffers, buf)
	return nil
}

// funcCodec стадия на основе функции
type funcCodec struct {
	name string
	fn   func(in, out *Buffer) Result
}

func (c *funcCodec) Name() string                   { return c.name }
func (c *funcCodec) Process(in, out *Buffer) Result { return c.fn(in, out) }

func upper() Codec {
	return &funcCodec{name: "upper", fn: func(in, out *Buffer) Result {
		out.CopyMetadata(in)
		for _, b := range in.Data {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			out.Data = append(out.Data, b)
		}
		return BufferProcessedOK
	}}
}

func TestChainEmptyPassesThrough(t *testing.T) {
	sink := &recordSink{}
	chain := NewChain(sink)

	in := &Buffer{Data: []byte("abc"), SequenceNumber: 5}
	result, err := chain.Process(in)

	require.NoError(t, err)
	assert.Equal(t, BufferProcessedOK, result)
	require.Len(t, sink.buffers, 1)
	assert.Same(t, in, sink.buffers[0], "пустая цепочка не копирует буфер")
}

func TestChainStagesInOrder(t *testing.T) {
	sink := &recordSink{}
	suffix := &funcCodec{name: "suffix", fn: func(in, out *Buffer) Result {
		out.CopyMetadata(in)
		out.Data = append(append([]byte(nil), in.Data...), '!')
		return BufferProcessedOK
	}}
	chain := NewChain(sink, upper(), suffix)

	_, err := chain.Process(&Buffer{Data: []byte("hi")})

	require.NoError(t, err)
	require.Len(t, sink.buffers, 1)
	assert.Equal(t, "HI!", string(sink.buffers[0].Data))
	assert.Equal(t, []string{"upper", "suffix"}, chain.Names())
	assert.Equal(t, "[upper -> suffix]", chain.String())
}

func TestChainErrorResultAborts(t *testing.T) {
	sink := &recordSink{}
	failing := &funcCodec{name: "fail", fn: func(in, out *Buffer) Result { return BufferProcessedFailed }}
	chain := NewChain(sink, failing, upper())

	result, err := chain.Process(&Buffer{Data: []byte("x")})

	require.NoError(t, err)
	assert.Equal(t, BufferProcessedFailed, result)
	assert.False(t, result.Continue())
	assert.Empty(t, sink.buffers)
}

func TestChainNotFilledStopsPropagation(t *testing.T) {
	sink := &recordSink{}
	hold := &funcCodec{name: "hold", fn: func(in, out *Buffer) Result {
		out.Discard = true
		return OutputBufferNotFilled
	}}

	result, err := NewChain(sink, hold).Process(&Buffer{Data: []byte("x")})

	require.NoError(t, err)
	assert.Equal(t, OutputBufferNotFilled, result)
	assert.True(t, result.Continue())
	assert.Empty(t, sink.buffers)
}

func TestChainFragmentsForwardedSeparately(t *testing.T) {
	sink := &recordSink{}
	split := &funcCodec{name: "split", fn: func(in, out *Buffer) Result {
		for i, b := range in.Data {
			out.Fragments = append(out.Fragments, &Buffer{Data: []byte{b}, SequenceNumber: uint16(i)})
		}
		return BufferProcessedOK
	}}

	_, err := NewChain(sink, split, upper()).Process(&Buffer{Data: []byte("abc")})

	require.NoError(t, err)
	require.Len(t, sink.buffers, 3)
	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, want, string(sink.buffers[i].Data))
	}
}

func TestChainInputNotConsumedRepeats(t *testing.T) {
	sink := &recordSink{}
	calls := 0
	repeat := &funcCodec{name: "repeat", fn: func(in, out *Buffer) Result {
		calls++
		if calls < 3 {
			out.Data = []byte{byte('0' + calls)}
			return InputBufferNotConsumed
		}
		out.Discard = true
		return BufferProcessedOK
	}}

	result, err := NewChain(sink, repeat).Process(&Buffer{Data: []byte("x")})

	require.NoError(t, err)
	assert.Equal(t, BufferProcessedOK, result)
	assert.Equal(t, 3, calls)
	require.Len(t, sink.buffers, 2)
	assert.Equal(t, "1", string(sink.buffers[0].Data))
	assert.Equal(t, "2", string(sink.buffers[1].Data))
}

func TestChainInputNotConsumedBounded(t *testing.T) {
	forever := &funcCodec{name: "forever", fn: func(in, out *Buffer) Result {
		out.Data = []byte{1}
		return InputBufferNotConsumed
	}}

	result, err := NewChain(&recordSink{}, forever).Process(&Buffer{Data: []byte("x")})

	assert.Equal(t, BufferProcessedFailed, result)
	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, "forever", chainErr.Stage)
}

func TestChainSinkError(t *testing.T) {
	boom := errors.New("socket closed")
	sink := &recordSink{err: boom}

	result, err := NewChain(sink, upper()).Process(&Buffer{Data: []byte("x")})

	assert.ErrorIs(t, err, boom)
	assert.False(t, result.Continue())
}

func TestFormatCodecToken(t *testing.T) {
	assert.Equal(t, "H264", NewVideoFormat("H264", 96, 90000).Codec())
	assert.Equal(t, "video/H264", NewVideoFormat("video/H264", 96, 90000).Encoding)
	assert.Equal(t, "AMR-WB", Token("AMR-WB"))
	assert.Equal(t, "PCMU", Token(" audio/PCMU "))
	assert.Equal(t, 1, NewAudioFormat("PCMU", 0, 8000, 0).Channels)
}

func TestVideoOrientationByte(t *testing.T) {
	tests := []struct {
		b    byte
		want VideoOrientation
	}{
		{0x00, VideoOrientation{Camera: CameraFront, Rotation: RotationNone}},
		{0x01, VideoOrientation{Camera: CameraFront, Rotation: Rotation90}},
		{0x0B, VideoOrientation{Camera: CameraBack, Rotation: Rotation270}},
		{0x06, VideoOrientation{Camera: CameraFront, Flip: true, Rotation: Rotation180}},
	}

	for _, tt := range tests {
		got := ParseVideoOrientation(tt.b)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.b, got.Byte())
	}
	assert.Equal(t, 270, ParseVideoOrientation(0x0B).Degrees())
}

func TestBufferClone(t *testing.T) {
	o := VideoOrientation{Rotation: Rotation90}
	b := &Buffer{Data: []byte{1, 2}, Orientation: &o, Fragments: []*Buffer{{Data: []byte{3}}}}
	c := b.Clone()

	c.Data[0] = 9
	c.Orientation.Rotation = RotationNone
	c.Fragments[0].Data[0] = 9

	assert.Equal(t, byte(1), b.Data[0])
	assert.Equal(t, Rotation90, b.Orientation.Rotation)
	assert.Equal(t, byte(3), b.Fragments[0].Data[0])
	assert.Nil(t, (*Buffer)(nil).Clone())
	assert.Equal(t, 0, (*Buffer)(nil).Len())
}
