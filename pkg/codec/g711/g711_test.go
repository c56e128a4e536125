package g711

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_media/pkg/codec"
)

func pcmFrame(samples int) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16((i%40 - 20) * 800)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}

func TestEncoderDecoder(t *testing.T) {
	for _, law := range []Law{ULaw, ALaw} {
		t.Run(law.String(), func(t *testing.T) {
			pcm := pcmFrame(160)

			encoded := &codec.Buffer{}
			require.Equal(t, codec.BufferProcessedOK, NewEncoder(law).Process(&codec.Buffer{Data: pcm, Timestamp: 160}, encoded))
			assert.Len(t, encoded.Data, 160, "один байт на отсчет")
			assert.Equal(t, uint32(160), encoded.Timestamp)

			decoded := &codec.Buffer{}
			require.Equal(t, codec.BufferProcessedOK, NewDecoder(law).Process(encoded, decoded))
			require.Len(t, decoded.Data, len(pcm))

			// Компандирование с потерями, но знак и порядок величины сохраняются
			for i := 0; i < 160; i++ {
				orig := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
				got := int16(binary.LittleEndian.Uint16(decoded.Data[i*2:]))
				assert.InDelta(t, float64(orig), float64(got), 1100)
			}
		})
	}
}

func TestEncoderRejectsOddLength(t *testing.T) {
	assert.Equal(t, codec.BufferProcessedFailed, NewEncoder(ULaw).Process(&codec.Buffer{Data: []byte{1, 2, 3}}, &codec.Buffer{}))
}

func TestStageNames(t *testing.T) {
	assert.Equal(t, "g711-ulaw-encoder", NewEncoder(ULaw).Name())
	assert.Equal(t, "g711-alaw-decoder", NewDecoder(ALaw).Name())
}
