package demux

import (
	"github.com/vnsid/vnsid/internal/mpegts"
	"github.com/vnsid/vnsid/internal/pvr"
)

// Content classifies an elementary stream.
type Content int

const (
	ContentUnknown Content = iota
	ContentVideo
	ContentAudio
	ContentSubtitle
	ContentTeletext
)

func (c Content) String() string {
	switch c {
	case ContentVideo:
		return "video"
	case ContentAudio:
		return "audio"
	case ContentSubtitle:
		return "subtitle"
	case ContentTeletext:
		return "teletext"
	}
	return "unknown"
}

// StreamInfo describes one elementary stream as announced to clients.
type StreamInfo struct {
	PID           uint16  `json:"pid"`
	Content       Content `json:"content"`
	Type          string  `json:"type"`
	Language      string  `json:"language,omitempty"`
	CompositionID uint16  `json:"composition_id,omitempty"`
	AncillaryID   uint16  `json:"ancillary_id,omitempty"`
	Width         uint32  `json:"width,omitempty"`
	Height        uint32  `json:"height,omitempty"`
	FPSScale      uint32  `json:"fps_scale,omitempty"`
	FPSRate       uint32  `json:"fps_rate,omitempty"`
	Aspect        float64 `json:"aspect,omitempty"`
	Channels      uint32  `json:"channels,omitempty"`
	SampleRate    uint32  `json:"sample_rate,omitempty"`
}

// sameStream reports whether a parser for a can keep serving b.
func sameStream(a, b StreamInfo) bool {
	return a.PID == b.PID && a.Type == b.Type && a.Language == b.Language &&
		a.CompositionID == b.CompositionID && a.AncillaryID == b.AncillaryID
}

func contentOf(codec string) Content {
	switch codec {
	case pvr.CodecMPEG2Video, pvr.CodecH264, pvr.CodecHEVC:
		return ContentVideo
	case pvr.CodecMPEG2Audio, pvr.CodecAC3, pvr.CodecEAC3, pvr.CodecAAC, pvr.CodecLATM, pvr.CodecDTS:
		return ContentAudio
	case pvr.CodecDVBSub:
		return ContentSubtitle
	case pvr.CodecTeletext:
		return ContentTeletext
	}
	return ContentUnknown
}

// streamsOf lists the streams of a channel in announcement order: video,
// audio, AC3 family, subtitles, teletext.
func streamsOf(ch *pvr.Channel) []StreamInfo {
	var out []StreamInfo
	seen := make(map[uint16]bool)
	add := func(si StreamInfo) {
		if si.PID == 0 || si.PID >= mpegts.PIDNull || seen[si.PID] {
			return
		}
		si.Content = contentOf(si.Type)
		if si.Content == ContentUnknown {
			return
		}
		seen[si.PID] = true
		out = append(out, si)
	}

	vtype := ch.VType
	if vtype == "" {
		vtype = pvr.CodecMPEG2Video
	}
	add(StreamInfo{PID: ch.VPID, Type: vtype})
	for _, a := range ch.APIDs {
		t := a.Type
		if t == "" {
			t = pvr.CodecMPEG2Audio
		}
		add(StreamInfo{PID: a.PID, Type: t, Language: a.Lang})
	}
	for _, a := range ch.DPIDs {
		t := a.Type
		if t == "" {
			t = pvr.CodecAC3
		}
		add(StreamInfo{PID: a.PID, Type: t, Language: a.Lang})
	}
	for _, s := range ch.SPIDs {
		add(StreamInfo{PID: s.PID, Type: pvr.CodecDVBSub, Language: s.Lang,
			CompositionID: s.CompositionID, AncillaryID: s.AncillaryID})
	}
	add(StreamInfo{PID: ch.TPID, Type: pvr.CodecTeletext})
	return out
}

// codecOf maps a PMT entry to a codec name, "" for streams not served.
func codecOf(es *mpegts.ElementaryStream) string {
	switch es.Type {
	case mpegts.StreamTypeMPEG1Video, mpegts.StreamTypeMPEG2Video:
		return pvr.CodecMPEG2Video
	case mpegts.StreamTypeH264:
		return pvr.CodecH264
	case mpegts.StreamTypeHEVC:
		return pvr.CodecHEVC
	case mpegts.StreamTypeMPEG1Audio, mpegts.StreamTypeMPEG2Audio:
		return pvr.CodecMPEG2Audio
	case mpegts.StreamTypeAACADTS:
		return pvr.CodecAAC
	case mpegts.StreamTypeAACLATM:
		return pvr.CodecLATM
	case mpegts.StreamTypeAC3:
		return pvr.CodecAC3
	case mpegts.StreamTypeEAC3:
		return pvr.CodecEAC3
	case mpegts.StreamTypeDTS:
		return pvr.CodecDTS
	case mpegts.StreamTypePrivate:
		for _, d := range es.Descriptors {
			switch d.Tag {
			case mpegts.DescriptorAC3:
				return pvr.CodecAC3
			case mpegts.DescriptorEAC3:
				return pvr.CodecEAC3
			case mpegts.DescriptorDTS:
				return pvr.CodecDTS
			case mpegts.DescriptorAAC:
				return pvr.CodecAAC
			case mpegts.DescriptorSubtitling:
				return pvr.CodecDVBSub
			case mpegts.DescriptorTeletext:
				return pvr.CodecTeletext
			}
		}
	}
	return ""
}

// channelFromPMT returns a copy of ch with its elementary streams replaced
// by those announced in pmt.
func channelFromPMT(ch pvr.Channel, pmt *mpegts.PMT) pvr.Channel {
	ch.VPID, ch.VType, ch.TPID = 0, "", 0
	ch.APIDs, ch.DPIDs, ch.SPIDs = nil, nil, nil

	for i := range pmt.Streams {
		es := &pmt.Streams[i]
		codec := codecOf(es)
		switch contentOf(codec) {
		case ContentVideo:
			if ch.VPID == 0 {
				ch.VPID, ch.VType = es.PID, codec
			}
		case ContentAudio:
			a := pvr.AudioPID{PID: es.PID, Type: codec, Lang: es.Language()}
			if codec == pvr.CodecAC3 || codec == pvr.CodecEAC3 {
				ch.DPIDs = append(ch.DPIDs, a)
			} else {
				ch.APIDs = append(ch.APIDs, a)
			}
		case ContentSubtitle:
			comp, anc, _ := es.SubtitlePages()
			ch.SPIDs = append(ch.SPIDs, pvr.SubtitlePID{PID: es.PID, Lang: es.Language(),
				CompositionID: comp, AncillaryID: anc})
		case ContentTeletext:
			if ch.TPID == 0 {
				ch.TPID = es.PID
			}
		}
	}
	return ch
}
