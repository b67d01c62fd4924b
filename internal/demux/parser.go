package demux

import (
	"bytes"
	"math"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/vnsid/vnsid/internal/mpegts"
	"github.com/vnsid/vnsid/internal/pvr"
)

// maxPES bounds the reassembly buffer of one elementary stream.
const maxPES = 4 * 1024 * 1024

// unit is one reassembled PES with its parsed header.
type unit struct {
	hdr     mpegts.PESHeader
	payload []byte
}

// esParser reassembles the PES packets of one PID and inspects their
// payload for frame type and stream parameters.
type esParser struct {
	info    StreamInfo
	buf     []byte
	started bool
	cc      int

	lastPTS  int64
	hasLast  bool
	duration uint32
}

func newParser(info StreamInfo) *esParser {
	return &esParser{info: info, cc: -1}
}

// reset drops partial data, used after seeks and discontinuities.
func (p *esParser) reset() {
	p.buf = p.buf[:0]
	p.started = false
	p.cc = -1
	p.hasLast = false
}

// continuity checks the counter and reports a gap. Duplicates are flagged
// so the caller can skip them.
func (p *esParser) continuity(pkt *mpegts.Packet) (gap, duplicate bool) {
	if !pkt.HasPayload {
		return false, false
	}
	cc := int(pkt.Continuity)
	prev := p.cc
	p.cc = cc
	if prev < 0 || pkt.Discontinuity {
		return false, false
	}
	if cc == prev {
		return false, true
	}
	return cc != (prev+1)&0x0F, false
}

// push adds a TS payload and returns a completed PES, if any. A payload
// start completes the PES collected so far; a bounded PES completes as
// soon as its announced length is reached.
func (p *esParser) push(pusi bool, payload []byte) ([]byte, bool) {
	var done []byte
	if pusi {
		if p.started && len(p.buf) > 0 {
			done = append([]byte(nil), p.buf...)
		}
		p.buf = append(p.buf[:0], payload...)
		p.started = true
	} else {
		if !p.started {
			return nil, false
		}
		p.buf = append(p.buf, payload...)
	}

	if len(p.buf) > maxPES {
		p.reset()
		return done, done != nil
	}

	if done == nil && len(p.buf) >= 6 {
		if n := int(p.buf[4])<<8 | int(p.buf[5]); n > 0 && len(p.buf) >= 6+n {
			done = append([]byte(nil), p.buf[:6+n]...)
			p.buf = p.buf[:0]
			p.started = false
		}
	}
	return done, done != nil
}

// inspect examines a unit's payload. It reports whether the unit starts an
// independently decodable frame and whether the stream parameters changed.
func (p *esParser) inspect(payload []byte) (independent, changed bool) {
	switch p.info.Type {
	case pvr.CodecMPEG2Video:
		return p.inspectMPEG2(payload)
	case pvr.CodecH264:
		return p.inspectH264(payload)
	case pvr.CodecHEVC:
		return p.inspectHEVC(payload)
	case pvr.CodecMPEG2Audio:
		return true, p.inspectMPEGAudio(payload)
	case pvr.CodecAC3, pvr.CodecEAC3:
		return true, p.inspectAC3(payload)
	case pvr.CodecAAC:
		return true, p.inspectADTS(payload)
	}
	return true, false
}

// track updates the frame duration from consecutive timestamps.
func (p *esParser) track(pts int64) uint32 {
	if p.hasLast {
		if d := pts - p.lastPTS; d > 0 && d < mpegts.ClockRate {
			p.duration = uint32(d)
		}
	}
	p.lastPTS, p.hasLast = pts, true
	return p.duration
}

func (p *esParser) setVideo(width, height, scale, rate uint32, aspect float64) bool {
	changed := false
	if width > 0 && height > 0 && (p.info.Width != width || p.info.Height != height) {
		p.info.Width, p.info.Height = width, height
		changed = true
	}
	if rate > 0 && (p.info.FPSRate != rate || p.info.FPSScale != scale) {
		p.info.FPSRate, p.info.FPSScale = rate, scale
		changed = true
	}
	if aspect > 0 && math.Abs(p.info.Aspect-aspect) > 0.001 {
		p.info.Aspect = aspect
		changed = true
	}
	return changed
}

func (p *esParser) setAudio(channels, rate uint32) bool {
	if channels == 0 || rate == 0 || (p.info.Channels == channels && p.info.SampleRate == rate) {
		return false
	}
	p.info.Channels, p.info.SampleRate = channels, rate
	return true
}

var (
	mpeg2Aspect = [...]float64{0, 1, 4.0 / 3, 16.0 / 9, 2.21}
	// frame_rate_code to (scale, rate)
	mpeg2FrameRate = [...][2]uint32{
		{0, 0}, {1001, 24000}, {1000, 24000}, {1000, 25000}, {1001, 30000},
		{1000, 30000}, {1000, 50000}, {1001, 60000}, {1000, 60000},
	}
)

func (p *esParser) inspectMPEG2(b []byte) (independent, changed bool) {
	for i := 0; i+4 < len(b); i++ {
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			continue
		}
		switch b[i+3] {
		case 0xB3: // sequence header
			if i+8 > len(b) {
				return independent, changed
			}
			w := uint32(b[i+4])<<4 | uint32(b[i+5])>>4
			h := uint32(b[i+5]&0x0F)<<8 | uint32(b[i+6])
			var aspect float64
			if a := int(b[i+7] >> 4); a < len(mpeg2Aspect) {
				aspect = mpeg2Aspect[a]
			}
			var fr [2]uint32
			if c := int(b[i+7] & 0x0F); c < len(mpeg2FrameRate) {
				fr = mpeg2FrameRate[c]
			}
			if p.setVideo(w, h, fr[0], fr[1], aspect) {
				changed = true
			}
		case 0x00: // picture header
			if i+5 >= len(b) {
				return independent, changed
			}
			return (b[i+5]>>3)&0x07 == 1, changed
		}
	}
	return independent, changed
}

// annexB splits a PES payload into NAL units.
func annexB(b []byte) [][]byte {
	if !bytes.HasPrefix(b, []byte{0, 0, 1}) && !bytes.HasPrefix(b, []byte{0, 0, 0, 1}) {
		return nil
	}
	var au h264.AnnexB
	if err := au.Unmarshal(b); err != nil {
		return nil
	}
	return au
}

func (p *esParser) inspectH264(b []byte) (independent, changed bool) {
	au := annexB(b)
	for _, nalu := range au {
		if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
			continue
		}
		var sps h264.SPS
		if err := sps.Unmarshal(nalu); err != nil {
			continue
		}
		scale, rate := fpsOf(sps.FPS())
		if p.setVideo(uint32(sps.Width()), uint32(sps.Height()), scale, rate, 0) {
			changed = true
		}
	}
	return h264.IsRandomAccess(au), changed
}

func (p *esParser) inspectHEVC(b []byte) (independent, changed bool) {
	au := annexB(b)
	for _, nalu := range au {
		if len(nalu) < 2 || h265.NALUType((nalu[0]>>1)&0x3F) != h265.NALUType_SPS_NUT {
			continue
		}
		var sps h265.SPS
		if err := sps.Unmarshal(nalu); err != nil {
			continue
		}
		scale, rate := fpsOf(sps.FPS())
		if p.setVideo(uint32(sps.Width()), uint32(sps.Height()), scale, rate, 0) {
			changed = true
		}
	}
	return h265.IsRandomAccess(au), changed
}

func fpsOf(fps float64) (scale, rate uint32) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, 0
	}
	return 1000, uint32(math.Round(fps * 1000))
}

var mpegAudioRates = [4][3]uint32{
	{11025, 12000, 8000},  // MPEG 2.5
	{0, 0, 0},             // reserved
	{22050, 24000, 16000}, // MPEG 2
	{44100, 48000, 32000}, // MPEG 1
}

func (p *esParser) inspectMPEGAudio(b []byte) bool {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	rateIdx := (b[2] >> 2) & 0x03
	if rateIdx == 3 {
		return false
	}
	channels := uint32(2)
	if b[3]>>6 == 3 {
		channels = 1
	}
	return p.setAudio(channels, mpegAudioRates[version][rateIdx])
}

var (
	ac3Rates    = [3]uint32{48000, 44100, 32000}
	ac3Channels = [8]uint32{2, 1, 2, 3, 3, 4, 4, 5}
)

func (p *esParser) inspectAC3(b []byte) bool {
	if len(b) < 7 || b[0] != 0x0B || b[1] != 0x77 {
		return false
	}
	if b[5]>>3 > 10 { // E-AC-3 bitstream id
		fscod := b[4] >> 6
		if fscod == 3 {
			return false
		}
		acmod := (b[4] >> 1) & 0x07
		lfe := uint32(b[4] & 0x01)
		return p.setAudio(ac3Channels[acmod]+lfe, ac3Rates[fscod])
	}
	fscod := b[4] >> 6
	if fscod == 3 {
		return false
	}
	acmod := b[6] >> 5
	return p.setAudio(ac3Channels[acmod], ac3Rates[fscod])
}

var adtsRates = [...]uint32{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

func (p *esParser) inspectADTS(b []byte) bool {
	if len(b) < 7 || b[0] != 0xFF || b[1]&0xF6 != 0xF0 {
		return false
	}
	idx := int(b[2]>>2) & 0x0F
	if idx >= len(adtsRates) {
		return false
	}
	channels := uint32(b[2]&0x01)<<2 | uint32(b[3]>>6)
	return p.setAudio(channels, adtsRates[idx])
}
