package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrPayloadTooLarge is returned when a request announces more than
	// MaxPayloadLength bytes. The connection cannot be resynchronised.
	ErrPayloadTooLarge = errors.New("request payload too large")
	// ErrShortPayload is returned by the Extract methods when the payload
	// ends before the requested field.
	ErrShortPayload = errors.New("request payload too short")
	// ErrUnexpectedChannel is returned for client frames on a channel other
	// than request/response.
	ErrUnexpectedChannel = errors.New("unexpected channel")
)

// Request is one decoded client request. Fields of the payload are read
// positionally with the Extract methods.
type Request struct {
	Channel uint32
	ID      uint32
	Opcode  uint32
	Payload []byte

	off int
}

// RequestHeader is the fixed part of a client frame.
type RequestHeader struct {
	Channel uint32
	ID      uint32
	Opcode  uint32
	Length  uint32
}

// Encode writes the header into a 16 byte slice.
func (h RequestHeader) Encode() []byte {
	b := make([]byte, RequestHeaderSize)
	binary.BigEndian.PutUint32(b[0:], h.Channel)
	binary.BigEndian.PutUint32(b[4:], h.ID)
	binary.BigEndian.PutUint32(b[8:], h.Opcode)
	binary.BigEndian.PutUint32(b[12:], h.Length)
	return b
}

// DecodeRequestHeader parses and validates a 16 byte request header.
func DecodeRequestHeader(b []byte) (RequestHeader, error) {
	var h RequestHeader
	if len(b) < RequestHeaderSize {
		return h, ErrShortPayload
	}
	h.Channel = binary.BigEndian.Uint32(b[0:])
	h.ID = binary.BigEndian.Uint32(b[4:])
	h.Opcode = binary.BigEndian.Uint32(b[8:])
	h.Length = binary.BigEndian.Uint32(b[12:])
	if h.Length > MaxPayloadLength {
		return h, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.Length)
	}
	return h, nil
}

// ReadRequest reads one complete request from r. An over-limit length is
// reported before any payload is read.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [RequestHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h, err := DecodeRequestHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	req := &Request{Channel: h.Channel, ID: h.ID, Opcode: h.Opcode}
	if h.Length > 0 {
		req.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, req.Payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return req, nil
}

// EncodeRequest returns a complete client frame on the request channel.
func EncodeRequest(id, opcode uint32, payload []byte) []byte {
	h := RequestHeader{Channel: ChannelRequestResponse, ID: id, Opcode: opcode, Length: uint32(len(payload))}
	return append(h.Encode(), payload...)
}

// EOP reports whether the whole payload has been consumed.
func (r *Request) EOP() bool { return r.off >= len(r.Payload) }

// Remaining returns the unread part of the payload.
func (r *Request) Remaining() []byte { return r.Payload[r.off:] }

func (r *Request) take(n int) ([]byte, error) {
	if n < 0 || len(r.Payload)-r.off < n {
		return nil, fmt.Errorf("%w: need %d at offset %d of %d", ErrShortPayload, n, r.off, len(r.Payload))
	}
	b := r.Payload[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Request) ExtractU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Request) ExtractU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Request) ExtractS32() (int32, error) {
	v, err := r.ExtractU32()
	return int32(v), err
}

func (r *Request) ExtractU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Request) ExtractS64() (int64, error) {
	v, err := r.ExtractU64()
	return int64(v), err
}

func (r *Request) ExtractDouble() (float64, error) {
	v, err := r.ExtractU64()
	return math.Float64frombits(v), err
}

// ExtractString reads a NUL terminated string.
func (r *Request) ExtractString() (string, error) {
	rest := r.Payload[r.off:]
	for i, c := range rest {
		if c == 0 {
			r.off += i + 1
			return string(rest[:i]), nil
		}
	}
	return "", fmt.Errorf("%w: unterminated string at offset %d", ErrShortPayload, r.off)
}

// ExtractBytes reads n raw bytes.
func (r *Request) ExtractBytes(n int) ([]byte, error) {
	return r.take(n)
}
