package streamer

import (
	"github.com/vnsid/vnsid/internal/demux"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/wire"
)

// streamChangeFrame announces the stream list. Every entry starts with the
// PID and codec name; the rest depends on the content type.
func streamChangeFrame(streams []demux.StreamInfo) *wire.Response {
	resp := wire.NewStream(wire.StreamChange, 0, 0, 0, 0, 0)
	for _, si := range streams {
		resp.AddU32(uint32(si.PID))
		resp.AddString(si.Type)
		switch si.Content {
		case demux.ContentVideo:
			resp.AddU32(si.FPSScale)
			resp.AddU32(si.FPSRate)
			resp.AddU32(si.Height)
			resp.AddU32(si.Width)
			resp.AddS64(int64(si.Aspect * 10000))
		case demux.ContentAudio:
			resp.AddString(si.Language)
			resp.AddU32(si.Channels)
			resp.AddU32(si.SampleRate)
		case demux.ContentSubtitle, demux.ContentTeletext:
			resp.AddString(si.Language)
			resp.AddU32(uint32(si.CompositionID))
			resp.AddU32(uint32(si.AncillaryID))
		}
	}
	return resp
}

func muxFrame(pkt *demux.Packet) *wire.Response {
	resp := wire.NewStream(wire.StreamMuxPkt, uint32(pkt.ID), pkt.Duration, pkt.PTS, pkt.DTS, pkt.Serial)
	resp.AddBytes(pkt.Data)
	return resp
}

// refTimeFrame anchors PTS to wall clock time for timeshift aware clients.
func refTimeFrame(pkt *demux.Packet) *wire.Response {
	resp := wire.NewStream(wire.StreamRefTime, 0, 0, 0, 0, pkt.Serial)
	resp.AddU32(uint32(pkt.RefTime.Unix()))
	resp.AddS64(pkt.RefPTS)
	return resp
}

func signalInfoFrame(si pvr.SignalInfo) *wire.Response {
	resp := wire.NewStream(wire.StreamSignalInfo, 0, 0, 0, 0, 0)
	resp.AddString(si.Adapter)
	resp.AddString(si.Status)
	resp.AddU32(si.SNR)
	resp.AddU32(si.Signal)
	resp.AddU32(si.BER)
	resp.AddU32(si.UNC)
	return resp
}

// bufferStatsFrame reports the seekable window in unix seconds; both are
// zero until the first timestamp was seen.
func bufferStatsFrame(st demux.BufferStats) *wire.Response {
	resp := wire.NewStream(wire.StreamBufferStats, 0, 0, 0, 0, 0)
	var timeshift uint8
	if st.Timeshift {
		timeshift = 1
	}
	resp.AddU8(timeshift)
	var start, end uint32
	if !st.Start.IsZero() {
		start, end = uint32(st.Start.Unix()), uint32(st.End.Unix())
	}
	resp.AddU32(start)
	resp.AddU32(end)
	return resp
}

func statusFrame(msg string) *wire.Response {
	resp := wire.NewStream(wire.StreamStatus, 0, 0, 0, 0, 0)
	resp.AddString(msg)
	return resp
}
