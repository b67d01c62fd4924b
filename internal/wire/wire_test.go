package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestHeaderRoundTrip(t *testing.T) {
	lengths := []uint32{0, 1, 511, 512, 199999, MaxPayloadLength}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		lengths = append(lengths, uint32(rng.Intn(MaxPayloadLength+1)))
	}

	for _, l := range lengths {
		h := RequestHeader{Channel: ChannelRequestResponse, ID: rng.Uint32(), Opcode: OpLogin, Length: l}
		got, err := DecodeRequestHeader(h.Encode())
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestRequestHeaderTooLarge(t *testing.T) {
	h := RequestHeader{Channel: ChannelRequestResponse, Length: MaxPayloadLength + 1}
	_, err := DecodeRequestHeader(h.Encode())
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	// the payload is never read
	_, err = ReadRequest(bytes.NewReader(h.Encode()))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestReadRequest(t *testing.T) {
	p := NewPayload()
	p.AddU32(ProtocolVersion)
	p.AddU8(0)
	p.AddString("kodi")
	p.AddS32(-3600)
	p.AddS64(-5)
	p.AddDouble(1.5)

	frame := EncodeRequest(42, OpLogin, p.Bytes())
	req, err := ReadRequest(bytes.NewReader(frame))
	require.NoError(t, err)

	assert.Equal(t, ChannelRequestResponse, req.Channel)
	assert.Equal(t, uint32(42), req.ID)
	assert.Equal(t, OpLogin, req.Opcode)

	v, err := req.ExtractU32()
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion, v)
	u8, err := req.ExtractU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), u8)
	s, err := req.ExtractString()
	require.NoError(t, err)
	assert.Equal(t, "kodi", s)
	s32, err := req.ExtractS32()
	require.NoError(t, err)
	assert.Equal(t, int32(-3600), s32)
	s64, err := req.ExtractS64()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), s64)
	d, err := req.ExtractDouble()
	require.NoError(t, err)
	assert.Equal(t, 1.5, d)

	assert.True(t, req.EOP())
	_, err = req.ExtractU8()
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestReadRequestTruncated(t *testing.T) {
	frame := EncodeRequest(1, OpPing, []byte{1, 2, 3, 4})
	_, err := ReadRequest(bytes.NewReader(frame[:len(frame)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadRequest(bytes.NewReader(frame[:5]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestExtractFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		extract func(r *Request) error
	}{
		{"u32 from 3 bytes", []byte{1, 2, 3}, func(r *Request) error { _, err := r.ExtractU32(); return err }},
		{"u64 from 7 bytes", make([]byte, 7), func(r *Request) error { _, err := r.ExtractU64(); return err }},
		{"unterminated string", []byte("abc"), func(r *Request) error { _, err := r.ExtractString(); return err }},
		{"bytes past end", []byte{1}, func(r *Request) error { _, err := r.ExtractBytes(2); return err }},
		{"negative length", []byte{1}, func(r *Request) error { _, err := r.ExtractBytes(-1); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Request{Payload: tt.payload}
			assert.ErrorIs(t, tt.extract(r), ErrShortPayload)
		})
	}
}

func TestResponseLayout(t *testing.T) {
	r := NewResponse(7)
	r.AddU32(RetOK)
	r.AddString("abc")
	b := r.Bytes()

	require.Len(t, b, ResponseHeaderSize+8)
	assert.Equal(t, ChannelRequestResponse, binary.BigEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(b[4:]))
	assert.Equal(t, uint32(8), binary.BigEndian.Uint32(b[8:]))
	assert.Equal(t, []byte{0, 0, 0, 0, 'a', 'b', 'c', 0}, b[12:])
}

func TestStreamFrameRoundTrip(t *testing.T) {
	r := NewStream(StreamMuxPkt, 0x100, 3600, 1<<33-1, -1, 9)
	r.AddBytes([]byte{0xAA, 0xBB})

	f, err := ReadFrame(bytes.NewReader(r.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ChannelStream, f.Channel)
	assert.Equal(t, StreamMuxPkt, f.ID)
	assert.Equal(t, uint32(0x100), f.StreamID)
	assert.Equal(t, uint32(3600), f.Duration)
	assert.Equal(t, int64(1<<33-1), f.PTS)
	assert.Equal(t, int64(-1), f.DTS)
	assert.Equal(t, uint32(9), f.Serial)
	assert.Equal(t, []byte{0xAA, 0xBB}, f.Payload)
}

func TestStatusFrame(t *testing.T) {
	r := NewStatus(StatusMessage)
	r.AddU32(0)
	r.AddString("hello")

	f, err := ReadFrame(bytes.NewReader(r.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ChannelStatus, f.Channel)
	assert.Equal(t, StatusMessage, f.ID)

	req := f.Request()
	typ, err := req.ExtractU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), typ)
	msg, err := req.ExtractString()
	require.NoError(t, err)
	assert.Equal(t, "hello", msg)
}

func TestFramesBackToBack(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewResponse(1).WriteTo(&buf)
	require.NoError(t, err)
	s := NewStream(StreamChange, 0, 0, 0, 0, 1)
	s.AddU32(0)
	_, err = s.WriteTo(&buf)
	require.NoError(t, err)
	_, err = NewScan(ScanFinished).WriteTo(&buf)
	require.NoError(t, err)

	for _, want := range []uint32{ChannelRequestResponse, ChannelStream, ChannelScan} {
		f, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, f.Channel)
	}
	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestResponseGrowth(t *testing.T) {
	r := NewResponse(1)
	chunk := bytes.Repeat([]byte{0x5A}, 700)
	for i := 0; i < 10; i++ {
		r.AddBytes(chunk)
	}
	assert.Equal(t, 7000, r.Len())
	b := r.Bytes()
	assert.Equal(t, uint32(7000), binary.BigEndian.Uint32(b[8:]))
	assert.Equal(t, chunk, b[12:712])
}

func TestAddAfterFinaliseIsDropped(t *testing.T) {
	r := NewResponse(1)
	r.AddU32(5)
	r.Finalise()
	r.AddU32(6)
	r.AddString("late")

	assert.True(t, r.Finalised())
	assert.Equal(t, 9, r.Dropped())
	b := r.Bytes()
	assert.Len(t, b, ResponseHeaderSize+4)
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(b[8:]))
}

func TestGroupOf(t *testing.T) {
	tests := []struct {
		op   uint32
		want string
		ok   bool
	}{
		{OpLogin, "general", true},
		{OpChannelStreamOpen, "live", true},
		{OpRecStreamGetBlock, "recstream", true},
		{OpChannelsGetChannels, "channels", true},
		{OpTimerAdd, "timers", true},
		{OpRecordingsDelete, "recordings", true},
		{OpEpgGetForChannel, "epg", true},
		{OpScanStart, "scan", true},
		{0, "", false},
		{500, "", false},
	}
	for _, tt := range tests {
		g, ok := GroupOf(tt.op)
		assert.Equal(t, tt.ok, ok, "opcode %d", tt.op)
		assert.Equal(t, tt.want, g.Name, "opcode %d", tt.op)
	}
}
