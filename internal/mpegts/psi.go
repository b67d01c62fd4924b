package mpegts

import (
	"errors"
	"fmt"

	"github.com/Comcast/gots/v2/psi"
)

// Stream types carried in the PMT.
const (
	StreamTypeMPEG1Video = 0x01
	StreamTypeMPEG2Video = 0x02
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypePrivate    = 0x06
	StreamTypeAACADTS    = 0x0F
	StreamTypeAACLATM    = 0x11
	StreamTypeH264       = 0x1B
	StreamTypeHEVC       = 0x24
	StreamTypeAC3        = 0x81
	StreamTypeDTS        = 0x82
	StreamTypeEAC3       = 0x87
)

// Descriptor tags inspected by the demuxer.
const (
	DescriptorLanguage     = 0x0A
	DescriptorTeletext     = 0x56
	DescriptorSubtitling   = 0x59
	DescriptorAC3          = 0x6A
	DescriptorEAC3         = 0x7A
	DescriptorDTS          = 0x7B
	DescriptorAAC          = 0x7C
	DescriptorRegistration = 0x05
)

const (
	tablePAT = 0x00
	tablePMT = 0x02
)

var (
	ErrShortSection = errors.New("PSI section truncated")
	ErrTableID      = errors.New("unexpected table id")
	ErrSectionCRC   = errors.New("PSI section CRC mismatch")
)

// ParsePAT returns program number to PMT PID from a PAT packet payload that
// starts with the pointer field.
func ParsePAT(payload []byte) (map[uint16]uint16, error) {
	pat, err := psi.NewPAT(payload)
	if err != nil {
		return nil, fmt.Errorf("parse PAT: %w", err)
	}
	programs := make(map[uint16]uint16)
	for program, pid := range pat.ProgramMap() {
		if program == 0 {
			continue // network PID
		}
		programs[uint16(program)] = uint16(pid)
	}
	return programs, nil
}

// Descriptor is one tag/length/value entry.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// ElementaryStream is one PMT stream loop entry.
type ElementaryStream struct {
	Type        uint8
	PID         uint16
	Descriptors []Descriptor
}

// Descriptor returns the first descriptor with tag.
func (es *ElementaryStream) Descriptor(tag uint8) (Descriptor, bool) {
	for _, d := range es.Descriptors {
		if d.Tag == tag {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Language returns the ISO 639 code of the language or subtitling
// descriptor, if any.
func (es *ElementaryStream) Language() string {
	if d, ok := es.Descriptor(DescriptorLanguage); ok && len(d.Data) >= 3 {
		return string(d.Data[:3])
	}
	if d, ok := es.Descriptor(DescriptorSubtitling); ok && len(d.Data) >= 3 {
		return string(d.Data[:3])
	}
	if d, ok := es.Descriptor(DescriptorTeletext); ok && len(d.Data) >= 3 {
		return string(d.Data[:3])
	}
	return ""
}

// SubtitlePages returns composition and ancillary page ids of the first
// subtitling descriptor entry.
func (es *ElementaryStream) SubtitlePages() (composition, ancillary uint16, ok bool) {
	d, found := es.Descriptor(DescriptorSubtitling)
	if !found || len(d.Data) < 8 {
		return 0, 0, false
	}
	composition = uint16(d.Data[4])<<8 | uint16(d.Data[5])
	ancillary = uint16(d.Data[6])<<8 | uint16(d.Data[7])
	return composition, ancillary, true
}

// PMT is a parsed program map section.
type PMT struct {
	ProgramNumber uint16
	Version       uint8
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ParsePMT parses a complete PMT section starting at table_id.
func ParsePMT(section []byte) (*PMT, error) {
	body, err := checkSection(section, tablePMT)
	if err != nil {
		return nil, err
	}

	r := &reader{b: body}
	pmt := &PMT{}
	pmt.ProgramNumber = r.u16()
	pmt.Version = (r.u8() >> 1) & 0x1F
	r.skip(2) // section numbers
	pmt.PCRPID = r.u16() & 0x1FFF
	programInfo := int(r.u16() & 0x0FFF)
	r.skip(programInfo)

	for r.err == nil && r.remaining() > 0 {
		es := ElementaryStream{
			Type: r.u8(),
			PID:  r.u16() & 0x1FFF,
		}
		esInfo := r.bytes(int(r.u16() & 0x0FFF))
		d := &reader{b: esInfo}
		for d.err == nil && d.remaining() > 0 {
			tag := d.u8()
			data := d.bytes(int(d.u8()))
			if d.err == nil {
				es.Descriptors = append(es.Descriptors, Descriptor{Tag: tag, Data: data})
			}
		}
		if d.err != nil {
			return nil, fmt.Errorf("PMT descriptors of PID %d: %w", es.PID, d.err)
		}
		if r.err == nil {
			pmt.Streams = append(pmt.Streams, es)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("PMT stream loop: %w", r.err)
	}
	return pmt, nil
}

// checkSection validates the long section header and CRC and returns the
// bytes between the section length field and the CRC.
func checkSection(section []byte, tableID uint8) ([]byte, error) {
	if len(section) < 3 {
		return nil, ErrShortSection
	}
	if section[0] != tableID {
		return nil, fmt.Errorf("%w: 0x%02x", ErrTableID, section[0])
	}
	length := int(section[1]&0x0F)<<8 | int(section[2])
	if length < 9 || len(section) < 3+length {
		return nil, ErrShortSection
	}
	section = section[:3+length]
	if CRC32(section) != 0 {
		return nil, ErrSectionCRC
	}
	return section[3 : len(section)-4], nil
}

// SectionAssembler collects a PSI section spread across TS packets.
type SectionAssembler struct {
	buf  []byte
	want int
}

// Push feeds one packet payload and returns a complete section when one
// ends in this packet.
func (a *SectionAssembler) Push(payloadStart bool, payload []byte) ([]byte, bool) {
	if payloadStart {
		if len(payload) == 0 {
			a.Reset()
			return nil, false
		}
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			a.Reset()
			return nil, false
		}
		a.buf = append(a.buf[:0], payload[1+pointer:]...)
		a.want = 0
	} else {
		if a.buf == nil {
			return nil, false
		}
		a.buf = append(a.buf, payload...)
	}

	if a.want == 0 && len(a.buf) >= 3 {
		a.want = 3 + (int(a.buf[1]&0x0F)<<8 | int(a.buf[2]))
	}
	if a.want > 0 && len(a.buf) >= a.want {
		section := make([]byte, a.want)
		copy(section, a.buf)
		a.Reset()
		return section, true
	}
	return nil, false
}

// Reset drops any partial section.
func (a *SectionAssembler) Reset() {
	a.buf = nil
	a.want = 0
}

// reader is a big-endian cursor whose first out-of-range access sets err
// and turns all later reads into zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = ErrShortSection
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := uint16(r.b[r.off])<<8 | uint16(r.b[r.off+1])
	r.off += 2
	return v
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.off += n
	}
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}
