// Package mpegts holds bounds-checked views over MPEG transport stream
// packets, PES headers and PSI sections.
package mpegts

import (
	"errors"
	"fmt"
)

const (
	// MPEG-TS constants
	PacketSize = 188
	SyncByte   = 0x47
	MaxPID     = 8191

	// PIDs
	PIDProgramAssociation = 0x0000
	PIDConditionalAccess  = 0x0001
	PIDNull               = 0x1FFF
)

var (
	ErrPacketSize      = errors.New("invalid packet size")
	ErrNoSync          = errors.New("missing sync byte")
	ErrAdaptationField = errors.New("adaptation field exceeds packet")
)

// Packet is a parsed TS packet header. Payload aliases the input slice.
type Packet struct {
	PID             uint16
	TransportError  bool
	PayloadStart    bool
	Scrambling      uint8 // transport_scrambling_control
	AdaptationField bool
	HasPayload      bool
	Continuity      uint8
	Discontinuity   bool
	RandomAccess    bool
	HasPCR          bool
	PCR             int64 // 27 MHz
	Payload         []byte
}

// Scrambled reports whether the transport layer payload is encrypted.
func (p *Packet) Scrambled() bool { return p.Scrambling != 0 }

// ParsePacket parses exactly one 188 byte packet.
func ParsePacket(data []byte) (Packet, error) {
	var pkt Packet
	if len(data) != PacketSize {
		return pkt, fmt.Errorf("%w: %d", ErrPacketSize, len(data))
	}
	if data[0] != SyncByte {
		return pkt, ErrNoSync
	}

	pkt.TransportError = data[1]&0x80 != 0
	pkt.PayloadStart = data[1]&0x40 != 0
	pkt.PID = uint16(data[1]&0x1F)<<8 | uint16(data[2])
	pkt.Scrambling = data[3] >> 6
	afc := (data[3] >> 4) & 0x03
	pkt.AdaptationField = afc&0x02 != 0
	pkt.HasPayload = afc&0x01 != 0
	pkt.Continuity = data[3] & 0x0F

	offset := 4
	if pkt.AdaptationField {
		afLen := int(data[offset])
		offset++
		if offset+afLen > PacketSize {
			return pkt, ErrAdaptationField
		}
		if afLen > 0 {
			flags := data[offset]
			pkt.Discontinuity = flags&0x80 != 0
			pkt.RandomAccess = flags&0x40 != 0
			if flags&0x10 != 0 && afLen >= 7 {
				pcrBase := int64(data[offset+1])<<25 |
					int64(data[offset+2])<<17 |
					int64(data[offset+3])<<9 |
					int64(data[offset+4])<<1 |
					int64(data[offset+5]>>7)
				pcrExt := int64(data[offset+5]&0x01)<<8 | int64(data[offset+6])
				pkt.PCR = pcrBase*300 + pcrExt
				pkt.HasPCR = true
			}
		}
		offset += afLen
	}

	if pkt.HasPayload && offset < PacketSize {
		pkt.Payload = data[offset:]
	}
	return pkt, nil
}

// Sync returns the offset of the first plausible packet start in data: a
// sync byte that is followed one packet later by another sync byte, or one
// too close to the end to check. It returns len(data) when there is none,
// so the result is always the exact number of bytes to skip.
func Sync(data []byte) int {
	for i := 0; i < len(data); i++ {
		if data[i] != SyncByte {
			continue
		}
		if i+PacketSize < len(data) && data[i+PacketSize] != SyncByte {
			continue
		}
		return i
	}
	return len(data)
}
