// Package pvr defines the collaborators the streaming core consumes:
// channel, timer, recording, schedule and setup stores and the input
// device layer, together with their model types.
package pvr

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// Codec names as announced to clients in stream change packets.
const (
	CodecMPEG2Video = "MPEG2VIDEO"
	CodecH264       = "H264"
	CodecHEVC       = "HEVC"
	CodecMPEG2Audio = "MPEG2AUDIO"
	CodecAC3        = "AC3"
	CodecEAC3       = "EAC3"
	CodecAAC        = "AAC"
	CodecLATM       = "AAC_LATM"
	CodecDTS        = "DTS"
	CodecDVBSub     = "DVBSUB"
	CodecTeletext   = "TELETEXT"
)

// AudioPID is one audio elementary stream of a channel.
type AudioPID struct {
	PID  uint16 `json:"pid" yaml:"pid"`
	Type string `json:"type" yaml:"type"`
	Lang string `json:"lang,omitempty" yaml:"lang"`
}

// SubtitlePID is one DVB subtitle stream.
type SubtitlePID struct {
	PID           uint16 `json:"pid" yaml:"pid"`
	Lang          string `json:"lang,omitempty" yaml:"lang"`
	CompositionID uint16 `json:"composition_id" yaml:"composition_id"`
	AncillaryID   uint16 `json:"ancillary_id" yaml:"ancillary_id"`
}

// Channel is a tunable service together with its elementary streams.
type Channel struct {
	Source   string `json:"source" yaml:"source"`
	NID      uint16 `json:"nid" yaml:"nid"`
	TID      uint16 `json:"tid" yaml:"tid"`
	SID      uint16 `json:"sid" yaml:"sid"`
	Number   int    `json:"number" yaml:"number"`
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider" yaml:"provider"`
	Radio    bool   `json:"radio" yaml:"radio"`

	Groups []string `json:"groups,omitempty" yaml:"groups"`
	CAIDs  []uint16 `json:"caids,omitempty" yaml:"caids"`

	VPID   uint16        `json:"vpid" yaml:"vpid"`
	VType  string        `json:"vtype" yaml:"vtype"`
	APIDs  []AudioPID    `json:"apids,omitempty" yaml:"apids"`
	DPIDs  []AudioPID    `json:"dpids,omitempty" yaml:"dpids"`
	SPIDs  []SubtitlePID `json:"spids,omitempty" yaml:"spids"`
	TPID   uint16        `json:"tpid" yaml:"tpid"`
	PMTPID uint16        `json:"pmt_pid" yaml:"pmt_pid"`

	// InputURL tells the device layer where the transport stream comes
	// from: udp://, http(s):// or file://.
	InputURL string `json:"input_url" yaml:"input_url"`
}

// ID returns the textual channel identity "<source>-<nid>-<tid>-<sid>".
func (c *Channel) ID() string {
	return fmt.Sprintf("%s-%d-%d-%d", c.Source, c.NID, c.TID, c.SID)
}

// UID is the 32 bit hash clients address channels by.
func (c *Channel) UID() uint32 {
	return crc32.ChecksumIEEE([]byte(c.ID()))
}

// Encrypted reports whether the channel is conditional access protected.
func (c *Channel) Encrypted() bool { return len(c.CAIDs) > 0 }

// PIDs returns the sorted set of elementary stream PIDs of the channel.
func (c *Channel) PIDs() []uint16 {
	seen := make(map[uint16]struct{})
	add := func(pid uint16) {
		if pid != 0 && pid < 0x1FFF {
			seen[pid] = struct{}{}
		}
	}
	add(c.VPID)
	for _, a := range c.APIDs {
		add(a.PID)
	}
	for _, a := range c.DPIDs {
		add(a.PID)
	}
	for _, s := range c.SPIDs {
		add(s.PID)
	}
	add(c.TPID)

	pids := make([]uint16, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Provider is a whitelist entry: a provider name with an optional CAID.
type Provider struct {
	Name string `json:"name" yaml:"name"`
	CAID uint32 `json:"caid" yaml:"caid"`
}

// ChannelGroup is a named group of channels of one kind.
type ChannelGroup struct {
	Name  string `json:"name"`
	Radio bool   `json:"radio"`
}

// FilterChannels applies a provider whitelist and a channel blacklist. An
// empty whitelist admits every provider.
func FilterChannels(channels []Channel, whitelist []Provider, blacklist []uint32) []Channel {
	banned := make(map[uint32]struct{}, len(blacklist))
	for _, uid := range blacklist {
		banned[uid] = struct{}{}
	}

	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := banned[ch.UID()]; ok {
			continue
		}
		if len(whitelist) > 0 && !whitelisted(&ch, whitelist) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func whitelisted(ch *Channel, whitelist []Provider) bool {
	for _, p := range whitelist {
		if p.Name != ch.Provider {
			continue
		}
		if p.CAID == 0 && !ch.Encrypted() {
			return true
		}
		for _, caid := range ch.CAIDs {
			if uint32(caid) == p.CAID {
				return true
			}
		}
	}
	return false
}
