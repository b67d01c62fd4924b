package mpegts

import "errors"

var (
	ErrShortPES     = errors.New("PES header too short")
	ErrPESStartCode = errors.New("invalid PES start code")
)

// PES stream ids that carry no optional header.
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// PESHeader is the fixed and optional PES header.
type PESHeader struct {
	StreamID      uint8
	PacketLength  int // 0 means unbounded (video)
	Scrambling    uint8
	HasPTS        bool
	HasDTS        bool
	PTS           int64
	DTS           int64
	PayloadOffset int
}

// ParsePESHeader parses the header at the start of a PES packet.
func ParsePESHeader(b []byte) (PESHeader, error) {
	var h PESHeader
	if len(b) < 6 {
		return h, ErrShortPES
	}
	if b[0] != 0x00 || b[1] != 0x00 || b[2] != 0x01 {
		return h, ErrPESStartCode
	}
	h.StreamID = b[3]
	h.PacketLength = int(b[4])<<8 | int(b[5])
	h.PayloadOffset = 6

	if !hasOptionalHeader(h.StreamID) {
		return h, nil
	}
	if len(b) < 9 {
		return h, ErrShortPES
	}

	h.Scrambling = (b[6] >> 4) & 0x03
	flags := (b[7] >> 6) & 0x03
	h.PayloadOffset = 9 + int(b[8])
	if h.PayloadOffset > len(b) {
		return h, ErrShortPES
	}

	offset := 9
	if flags&0x02 != 0 {
		pts, err := ReadTimestamp(b[offset:h.PayloadOffset])
		if err != nil {
			return h, err
		}
		h.PTS, h.HasPTS = pts, true
		offset += 5

		if flags&0x01 != 0 {
			dts, err := ReadTimestamp(b[offset:h.PayloadOffset])
			if err != nil {
				return h, err
			}
			h.DTS, h.HasDTS = dts, true
		}
	}
	return h, nil
}
