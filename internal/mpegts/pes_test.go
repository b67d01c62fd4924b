package mpegts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPES(streamID byte, pts, dts int64) []byte {
	b := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x84, 0xC0, 10}
	ts := make([]byte, 10)
	PutTimestamp(ts, 0x3, pts)
	PutTimestamp(ts[5:], 0x1, dts)
	b = append(b, ts...)
	return append(b, 0xAA, 0xBB)
}

func TestParsePESHeader(t *testing.T) {
	h, err := ParsePESHeader(buildPES(0xE0, 183600, 180000))
	require.NoError(t, err)

	assert.Equal(t, uint8(0xE0), h.StreamID)
	assert.True(t, h.HasPTS)
	assert.True(t, h.HasDTS)
	assert.Equal(t, int64(183600), h.PTS)
	assert.Equal(t, int64(180000), h.DTS)
	assert.Equal(t, 19, h.PayloadOffset)
	assert.Equal(t, uint8(0), h.Scrambling)
}

func TestParsePESHeaderScrambled(t *testing.T) {
	b := buildPES(0xC0, 1, 1)
	b[6] = 0x90 // scrambling control 01
	h, err := ParsePESHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), h.Scrambling)
}

func TestParsePESHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", []byte{0, 0, 1}, ErrShortPES},
		{"bad start code", []byte{0, 1, 1, 0xE0, 0, 0, 0x80, 0, 0}, ErrPESStartCode},
		{"header length past end", []byte{0, 0, 1, 0xE0, 0, 0, 0x80, 0x80, 20, 1, 2}, ErrShortPES},
		{"pts flag without room", []byte{0, 0, 1, 0xE0, 0, 0, 0x80, 0x80, 2, 0x21, 0}, ErrShortPES},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePESHeader(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParsePESHeaderPaddingStream(t *testing.T) {
	h, err := ParsePESHeader([]byte{0, 0, 1, 0xBE, 0, 4, 0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	assert.False(t, h.HasPTS)
	assert.Equal(t, 6, h.PayloadOffset)
	assert.Equal(t, 4, h.PacketLength)
}
