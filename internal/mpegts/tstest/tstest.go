// Package tstest builds synthetic transport streams for tests.
package tstest

import (
	"github.com/vnsid/vnsid/internal/mpegts"
)

// PES builds a PES packet. dts < 0 omits the DTS; length 0 is written for
// video stream ids.
func PES(streamID byte, pts, dts int64, payload []byte) []byte {
	hdrLen := 5
	flags := byte(0x80)
	if dts >= 0 {
		hdrLen = 10
		flags = 0xC0
	}
	b := make([]byte, 9+hdrLen, 9+hdrLen+len(payload))
	b[2] = 0x01
	b[3] = streamID
	b[6] = 0x80
	b[7] = flags
	b[8] = byte(hdrLen)
	if dts >= 0 {
		mpegts.PutTimestamp(b[9:], 0x3, pts)
		mpegts.PutTimestamp(b[14:], 0x1, dts)
	} else {
		mpegts.PutTimestamp(b[9:], 0x2, pts)
	}
	b = append(b, payload...)

	if streamID&0xF0 != 0xE0 {
		n := len(b) - 6
		b[4], b[5] = byte(n>>8), byte(n)
	}
	return b
}

// Stream packetizes units on one PID, keeping its continuity counter.
type Stream struct {
	PID uint16
	// Scrambling is written into every packet header.
	Scrambling uint8
	cc         uint8
}

// Packets splits unit into TS packets, setting the payload unit start on
// the first one and stuffing the last one through the adaptation field.
func (s *Stream) Packets(unit []byte) []byte {
	var out []byte
	first := true
	for len(unit) > 0 || first {
		pkt := make([]byte, mpegts.PacketSize)
		pkt[0] = mpegts.SyncByte
		pkt[1] = byte(s.PID>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(s.PID)

		n := len(unit)
		if n >= 184 {
			n = 184
			pkt[3] = s.Scrambling<<6 | 0x10 | s.cc
			copy(pkt[4:], unit[:n])
		} else {
			stuff := 184 - n
			pkt[3] = s.Scrambling<<6 | 0x30 | s.cc
			pkt[4] = byte(stuff - 1)
			if stuff > 1 {
				pkt[5] = 0x00
				for i := 6; i < 4+stuff; i++ {
					pkt[i] = 0xFF
				}
			}
			copy(pkt[4+stuff:], unit[:n])
		}
		s.cc = (s.cc + 1) & 0x0F
		unit = unit[n:]
		first = false
		out = append(out, pkt...)
	}
	return out
}

// Section packetizes a PSI section with a zero pointer field.
func (s *Stream) Section(section []byte) []byte {
	payload := append([]byte{0x00}, section...)
	var out []byte
	first := true
	for len(payload) > 0 {
		pkt := make([]byte, mpegts.PacketSize)
		pkt[0] = mpegts.SyncByte
		pkt[1] = byte(s.PID>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(s.PID)
		pkt[3] = 0x10 | s.cc
		n := copy(pkt[4:], payload)
		for i := 4 + n; i < mpegts.PacketSize; i++ {
			pkt[i] = 0xFF
		}
		payload = payload[n:]
		s.cc = (s.cc + 1) & 0x0F
		first = false
		out = append(out, pkt...)
	}
	return out
}

// PATSection builds a PAT section for the given program to PMT PID map.
func PATSection(tsid uint16, programs map[uint16]uint16) []byte {
	var body []byte
	for program, pid := range programs {
		body = append(body, byte(program>>8), byte(program), 0xE0|byte(pid>>8), byte(pid))
	}
	return longSection(0x00, tsid, 0, body)
}

// PMTSection builds a PMT section.
func PMTSection(program, pcrPID uint16, version uint8, streams []mpegts.ElementaryStream) []byte {
	body := []byte{0xE0 | byte(pcrPID>>8), byte(pcrPID), 0xF0, 0x00}
	for _, es := range streams {
		var info []byte
		for _, d := range es.Descriptors {
			info = append(info, d.Tag, byte(len(d.Data)))
			info = append(info, d.Data...)
		}
		body = append(body, es.Type, 0xE0|byte(es.PID>>8), byte(es.PID),
			0xF0|byte(len(info)>>8), byte(len(info)))
		body = append(body, info...)
	}
	return longSection(0x02, program, version, body)
}

func longSection(tableID byte, idExt uint16, version uint8, body []byte) []byte {
	length := 5 + len(body) + 4
	s := []byte{
		tableID, 0xB0 | byte(length>>8), byte(length),
		byte(idExt >> 8), byte(idExt),
		0xC1 | (version&0x1F)<<1,
		0x00, 0x00,
	}
	s = append(s, body...)
	crc := mpegts.CRC32(s)
	return append(s, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

// LanguageDescriptor returns an ISO 639 language descriptor.
func LanguageDescriptor(lang string) mpegts.Descriptor {
	return mpegts.Descriptor{Tag: mpegts.DescriptorLanguage, Data: append([]byte(lang[:3]), 0x00)}
}

// SubtitlingDescriptor returns a DVB subtitling descriptor with one entry.
func SubtitlingDescriptor(lang string, composition, ancillary uint16) mpegts.Descriptor {
	d := append([]byte(lang[:3]), 0x10,
		byte(composition>>8), byte(composition), byte(ancillary>>8), byte(ancillary))
	return mpegts.Descriptor{Tag: mpegts.DescriptorSubtitling, Data: d}
}

// H264 access units in Annex B form. The SPS describes a 1920x1080
// baseline stream.
var (
	H264SPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	H264PPS = []byte{0x68, 0xcb, 0x8c, 0xb2}
)

// H264AccessUnit returns an IDR access unit with parameter sets when idr is
// set, a non-IDR slice otherwise.
func H264AccessUnit(idr bool) []byte {
	start := []byte{0x00, 0x00, 0x00, 0x01}
	var au []byte
	au = append(au, start...)
	au = append(au, 0x09, 0xF0) // access unit delimiter
	if idr {
		au = append(au, start...)
		au = append(au, H264SPS...)
		au = append(au, start...)
		au = append(au, H264PPS...)
		au = append(au, start...)
		au = append(au, 0x65, 0x88, 0x84, 0x00, 0x33, 0xFF)
	} else {
		au = append(au, start...)
		au = append(au, 0x41, 0x9A, 0x21, 0x6C, 0x41, 0xFF)
	}
	return au
}

// MPEG2Picture returns a sequence header (720x576, 4:3, 25 fps) plus an I
// picture when intra is set, a P picture otherwise.
func MPEG2Picture(intra bool) []byte {
	var b []byte
	if intra {
		b = append(b, 0x00, 0x00, 0x01, 0xB3,
			0x2D, 0x02, 0x40, // 720 x 576
			0x23, // aspect 4:3, 25 fps
			0xFF, 0xFF, 0xE0, 0x18)
		b = append(b, 0x00, 0x00, 0x01, 0x00, 0x00, 0x0F, 0xFF, 0xF8)
	} else {
		b = append(b, 0x00, 0x00, 0x01, 0x00, 0x00, 0x17, 0xFF, 0xF8)
	}
	return append(b, 0x00, 0x00, 0x01, 0x01, 0x12, 0x34, 0x56)
}
