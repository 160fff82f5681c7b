package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityEncoder возвращает PCM как есть, без кодека
type identityEncoder struct{}

func (identityEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out, nil
}

func TestPCMSource(t *testing.T) {
	frameBytes := samplesPerFrame * channelCount * 2

	t.Run("ПолныеКадры", func(t *testing.T) {
		raw := bytes.Repeat([]byte{0x01, 0x02}, frameBytes) // два кадра
		source := NewPCMSource(io.NopCloser(bytes.NewReader(raw)), identityEncoder{})

		frame, err := source.NextFrame(context.Background())
		require.NoError(t, err)
		assert.Len(t, frame, frameBytes)
		assert.Equal(t, raw[:frameBytes], frame)

		_, err = source.NextFrame(context.Background())
		require.NoError(t, err)

		_, err = source.NextFrame(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("ХвостДобиваетсяТишиной", func(t *testing.T) {
		tail := bytes.Repeat([]byte{0x7F, 0x00}, 10)
		raw := append(bytes.Repeat([]byte{0x01, 0x02}, frameBytes/2), tail...)
		source := NewPCMSource(io.NopCloser(bytes.NewReader(raw)), identityEncoder{})

		frame, err := source.NextFrame(context.Background())
		require.NoError(t, err)

		frame, err = source.NextFrame(context.Background())
		require.NoError(t, err)
		require.Len(t, frame, frameBytes)
		assert.Equal(t, tail, frame[:len(tail)])
		assert.Equal(t, make([]byte, frameBytes-len(tail)), frame[len(tail):],
			"неполный кадр дополняется нулями")

		_, err = source.NextFrame(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("ПустойПоток", func(t *testing.T) {
		source := NewPCMSource(io.NopCloser(bytes.NewReader(nil)), identityEncoder{})
		_, err := source.NextFrame(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	})
}
