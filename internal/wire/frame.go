package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame is a decoded server frame as seen by a client.
type Frame struct {
	Channel uint32
	// RequestID on the request channel, the opcode on every other channel.
	ID       uint32
	StreamID uint32
	Duration uint32
	PTS      int64
	DTS      int64
	Serial   uint32
	Payload  []byte
}

// Request returns a reader over the frame payload.
func (f *Frame) Request() *Request {
	return &Request{Channel: f.Channel, ID: f.ID, Payload: f.Payload}
}

// ReadFrame reads one server frame of any channel from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [StreamHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		return nil, err
	}
	f := &Frame{Channel: binary.BigEndian.Uint32(hdr[0:])}

	var length uint32
	if f.Channel == ChannelStream {
		if _, err := io.ReadFull(r, hdr[4:StreamHeaderSize]); err != nil {
			return nil, err
		}
		f.ID = binary.BigEndian.Uint32(hdr[4:])
		f.StreamID = binary.BigEndian.Uint32(hdr[8:])
		f.Duration = binary.BigEndian.Uint32(hdr[12:])
		f.PTS = int64(binary.BigEndian.Uint64(hdr[16:]))
		f.DTS = int64(binary.BigEndian.Uint64(hdr[24:]))
		f.Serial = binary.BigEndian.Uint32(hdr[32:])
		length = binary.BigEndian.Uint32(hdr[36:])
	} else {
		if _, err := io.ReadFull(r, hdr[4:ResponseHeaderSize]); err != nil {
			return nil, err
		}
		f.ID = binary.BigEndian.Uint32(hdr[4:])
		length = binary.BigEndian.Uint32(hdr[8:])
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return f, nil
}
