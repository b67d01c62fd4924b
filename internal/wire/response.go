package wire

import (
	"encoding/binary"
	"io"
	"math"
)

// growStep is the minimum payload buffer growth.
const growStep = 512

// Response is an outgoing frame under construction: a reply on the request
// channel, a stream packet, or a status or scan notification. Fields are
// appended in order; Finalise patches the length field.
type Response struct {
	buf       []byte
	header    int
	finalised bool
	dropped   int
}

func newFrame(header int) *Response {
	return &Response{buf: make([]byte, header, header+growStep), header: header}
}

// NewResponse starts a reply to the request with the given id.
func NewResponse(requestID uint32) *Response {
	r := newFrame(ResponseHeaderSize)
	binary.BigEndian.PutUint32(r.buf[0:], ChannelRequestResponse)
	binary.BigEndian.PutUint32(r.buf[4:], requestID)
	return r
}

// NewStream starts a stream channel frame.
func NewStream(opcode, streamID, duration uint32, pts, dts int64, serial uint32) *Response {
	r := newFrame(StreamHeaderSize)
	binary.BigEndian.PutUint32(r.buf[0:], ChannelStream)
	binary.BigEndian.PutUint32(r.buf[4:], opcode)
	binary.BigEndian.PutUint32(r.buf[8:], streamID)
	binary.BigEndian.PutUint32(r.buf[12:], duration)
	binary.BigEndian.PutUint64(r.buf[16:], uint64(pts))
	binary.BigEndian.PutUint64(r.buf[24:], uint64(dts))
	binary.BigEndian.PutUint32(r.buf[32:], serial)
	return r
}

// NewStatus starts an out-of-band status notification.
func NewStatus(opcode uint32) *Response {
	return newOutOfBand(ChannelStatus, opcode)
}

// NewScan starts a channel scan progress notification.
func NewScan(opcode uint32) *Response {
	return newOutOfBand(ChannelScan, opcode)
}

func newOutOfBand(channel, opcode uint32) *Response {
	r := newFrame(StatusHeaderSize)
	binary.BigEndian.PutUint32(r.buf[0:], channel)
	binary.BigEndian.PutUint32(r.buf[4:], opcode)
	return r
}

// NewPayload returns a headerless builder, used to assemble request
// payloads on the client side.
func NewPayload() *Response {
	return newFrame(0)
}

// extend returns n writable bytes at the end of the payload, or nil after
// Finalise.
func (r *Response) extend(n int) []byte {
	if r.finalised {
		r.dropped += n
		return nil
	}
	l := len(r.buf)
	if cap(r.buf)-l < n {
		grow := n
		if grow < growStep {
			grow = growStep
		}
		nb := make([]byte, l, cap(r.buf)+grow)
		copy(nb, r.buf)
		r.buf = nb
	}
	r.buf = r.buf[:l+n]
	return r.buf[l:]
}

func (r *Response) AddU8(v uint8) {
	if b := r.extend(1); b != nil {
		b[0] = v
	}
}

func (r *Response) AddU32(v uint32) {
	if b := r.extend(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

func (r *Response) AddS32(v int32) { r.AddU32(uint32(v)) }

func (r *Response) AddU64(v uint64) {
	if b := r.extend(8); b != nil {
		binary.BigEndian.PutUint64(b, v)
	}
}

func (r *Response) AddS64(v int64) { r.AddU64(uint64(v)) }

func (r *Response) AddDouble(v float64) { r.AddU64(math.Float64bits(v)) }

// AddString appends s followed by a NUL byte. s must already be UTF-8.
func (r *Response) AddString(s string) {
	if b := r.extend(len(s) + 1); b != nil {
		copy(b, s)
		b[len(s)] = 0
	}
}

// AddBytes appends raw bytes.
func (r *Response) AddBytes(p []byte) {
	if b := r.extend(len(p)); b != nil {
		copy(b, p)
	}
}

// Len returns the payload length written so far.
func (r *Response) Len() int { return len(r.buf) - r.header }

// Finalise writes the payload length into the header. Adds after
// Finalise are dropped and counted by Dropped.
func (r *Response) Finalise() {
	if r.finalised {
		return
	}
	if r.header > 0 {
		binary.BigEndian.PutUint32(r.buf[r.header-4:], uint32(r.Len()))
	}
	r.finalised = true
}

// Finalised reports whether the frame is sealed.
func (r *Response) Finalised() bool { return r.finalised }

// Dropped returns the number of bytes whose Add came after Finalise.
func (r *Response) Dropped() int { return r.dropped }

// Bytes finalises the frame and returns its wire form.
func (r *Response) Bytes() []byte {
	r.Finalise()
	return r.buf
}

// WriteTo writes the finalised frame to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}
