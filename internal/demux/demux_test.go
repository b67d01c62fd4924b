package demux

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/device"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/mpegts"
	"github.com/vnsid/vnsid/internal/mpegts/tstest"
	"github.com/vnsid/vnsid/internal/pvr"
)

func openLive(t *testing.T, ch *pvr.Channel, data []byte) (*Demuxer, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{data: data}
	d := New(testOptions(), dev, logger.NewNop())
	require.NoError(t, d.Open(context.Background(), ch, 0))
	t.Cleanup(func() { d.Close() })
	return d, dev
}

func TestReadDiscardsUntilIndependentFrame(t *testing.T) {
	ch := &pvr.Channel{
		Name: "h264", VPID: 0x100, VType: pvr.CodecH264,
		APIDs: []pvr.AudioPID{{PID: 0x101, Type: pvr.CodecMPEG2Audio, Lang: "deu"}},
	}
	data := newTSBuilder().
		audio(0x101, 1000).
		video(0x100, 2000, tstest.H264AccessUnit(false)).
		audio(0x101, 3000).
		video(0x100, 5000, tstest.H264AccessUnit(true)).
		audio(0x101, 6000).
		video(0x100, 8000, tstest.H264AccessUnit(false)).
		audio(0x101, 8500).
		video(0x100, 11000, tstest.H264AccessUnit(false)).
		bytes()

	d, _ := openLive(t, ch, data)
	pkts, last := readAll(d)
	assert.Equal(t, ReadNoData, last)
	require.Len(t, pkts, 3)

	first := pkts[0]
	assert.Equal(t, uint16(0x100), first.ID)
	assert.True(t, first.Independent)
	assert.True(t, first.StreamChange)
	assert.Equal(t, ContentVideo, first.Content)
	assert.Equal(t, int64(5000), first.PTS)
	assert.Equal(t, int64(5000), first.RefPTS)
	assert.False(t, first.RefTime.IsZero())

	assert.Equal(t, uint16(0x101), pkts[1].ID)
	assert.Equal(t, int64(8500), pkts[1].PTS)
	assert.False(t, pkts[1].StreamChange)
	assert.Equal(t, mpegAudioFrame, pkts[1].Data)

	assert.Equal(t, uint16(0x100), pkts[2].ID)
	assert.Equal(t, int64(8000), pkts[2].PTS)
	assert.False(t, pkts[2].Independent)
	assert.Equal(t, uint32(3000), pkts[2].Duration)

	for _, p := range pkts {
		assert.Equal(t, uint32(0), p.Serial)
	}
}

func TestStreamParametersFromMPEG2SequenceHeader(t *testing.T) {
	ch := &pvr.Channel{Name: "sd", VPID: 0x200, VType: pvr.CodecMPEG2Video,
		APIDs: []pvr.AudioPID{{PID: 0x201}}}
	data := newTSBuilder().
		video(0x200, 1000, tstest.MPEG2Picture(true)).
		audio(0x201, 1200).
		video(0x200, 4600, tstest.MPEG2Picture(false)).
		bytes()

	d, _ := openLive(t, ch, data)
	pkts, _ := readAll(d)
	require.NotEmpty(t, pkts)
	assert.True(t, pkts[0].Independent)
	assert.True(t, pkts[0].StreamChange)

	streams := d.Streams()
	require.Len(t, streams, 2)
	v := streams[0]
	assert.Equal(t, pvr.CodecMPEG2Video, v.Type)
	assert.Equal(t, uint32(720), v.Width)
	assert.Equal(t, uint32(576), v.Height)
	assert.InDelta(t, 4.0/3, v.Aspect, 0.001)
	assert.Equal(t, uint32(1000), v.FPSScale)
	assert.Equal(t, uint32(25000), v.FPSRate)

	a := streams[1]
	assert.Equal(t, pvr.CodecMPEG2Audio, a.Type)
	assert.Equal(t, ContentAudio, a.Content)
}

func TestH264IndependentFrameDetection(t *testing.T) {
	p := newParser(StreamInfo{PID: 1, Type: pvr.CodecH264, Content: ContentVideo})
	idr, _ := p.inspect(tstest.H264AccessUnit(true))
	assert.True(t, idr)
	nonIDR, changed := p.inspect(tstest.H264AccessUnit(false))
	assert.False(t, nonIDR)
	assert.False(t, changed)
}

func TestAudioParameters(t *testing.T) {
	p := newParser(StreamInfo{PID: 1, Type: pvr.CodecMPEG2Audio, Content: ContentAudio})
	_, changed := p.inspect(mpegAudioFrame)
	assert.True(t, changed)
	assert.Equal(t, uint32(2), p.info.Channels)
	assert.Equal(t, uint32(48000), p.info.SampleRate)

	_, changed = p.inspect(mpegAudioFrame)
	assert.False(t, changed)

	ac3 := newParser(StreamInfo{PID: 2, Type: pvr.CodecAC3, Content: ContentAudio})
	// fscod 0 (48 kHz), bsid 8, acmod 7 (3/2)
	_, changed = ac3.inspect([]byte{0x0B, 0x77, 0x00, 0x00, 0x00, 0x40, 0xE0})
	assert.True(t, changed)
	assert.Equal(t, uint32(5), ac3.info.Channels)
	assert.Equal(t, uint32(48000), ac3.info.SampleRate)

	aac := newParser(StreamInfo{PID: 3, Type: pvr.CodecAAC, Content: ContentAudio})
	// sampling index 3 (48 kHz), channel config 2
	_, changed = aac.inspect([]byte{0xFF, 0xF1, 0x4C, 0x80, 0x00, 0x1F, 0xFC})
	assert.True(t, changed)
	assert.Equal(t, uint32(2), aac.info.Channels)
	assert.Equal(t, uint32(48000), aac.info.SampleRate)
}

func TestScrambledPayloadSetsStickyBit(t *testing.T) {
	ch := &pvr.Channel{Name: "pay", APIDs: []pvr.AudioPID{{PID: 0x101}}}
	b := newTSBuilder()
	b.stream(0x101).Scrambling = 2
	data := b.audio(0x101, 1000).audio(0x101, 2000).bytes()

	d, _ := openLive(t, ch, data)
	pkts, _ := readAll(d)
	assert.Empty(t, pkts)
	assert.NotZero(t, d.Errors()&ErrorScrambled)
	assert.Contains(t, d.Errors().String(), "Scrambled")

	d.ClearErrors()
	assert.Zero(t, d.Errors()&ErrorScrambled)
}

func TestMissingStartCodeSetsStickyBit(t *testing.T) {
	ch := &pvr.Channel{Name: "broken", APIDs: []pvr.AudioPID{{PID: 0x101}}}
	b := newTSBuilder()
	pes := tstest.PES(0xC0, 1000, -1, mpegAudioFrame)
	pes[2] = 0x02
	data := b.raw(b.stream(0x101).Packets(pes)).audio(0x101, 2000).bytes()

	d, _ := openLive(t, ch, data)
	pkts, _ := readAll(d)
	require.Len(t, pkts, 1)
	assert.Equal(t, int64(2000), pkts[0].PTS)
	assert.NotZero(t, d.Errors()&ErrorStartCode)
}

func TestResyncAfterGarbage(t *testing.T) {
	ch := &pvr.Channel{Name: "radio", Radio: true, APIDs: []pvr.AudioPID{{PID: 0x101}}}
	data := newTSBuilder().raw([]byte{1, 2, 3, 4, 5}).audio(0x101, 1000).audio(0x101, 4600).bytes()

	d, _ := openLive(t, ch, data)

	var pkt Packet
	assert.Equal(t, ReadAgain, d.Read(&pkt))
	assert.NotZero(t, d.Errors()&ErrorTSSync)

	pkts, _ := readAll(d)
	require.Len(t, pkts, 2)
	assert.Equal(t, int64(1000), pkts[0].PTS)
	assert.Equal(t, int64(4600), pkts[1].PTS)
	assert.Equal(t, uint32(3600), pkts[1].Duration)
}

func TestContinuityErrorDropsPartialPES(t *testing.T) {
	ch := &pvr.Channel{Name: "cc", APIDs: []pvr.AudioPID{{PID: 0x101}}}
	big := make([]byte, 400)
	copy(big, mpegAudioFrame)

	b := newTSBuilder()
	s := b.stream(0x101)
	broken := s.Packets(tstest.PES(0xC0, 1000, -1, big))
	// drop the middle packet of three
	b.raw(broken[:188]).raw(broken[376:])
	b.audio(0x101, 2000)

	d, _ := openLive(t, ch, b.bytes())
	pkts, _ := readAll(d)
	require.Len(t, pkts, 1)
	assert.Equal(t, int64(2000), pkts[0].PTS)
}

func pmtStreams() []mpegts.ElementaryStream {
	return []mpegts.ElementaryStream{
		{Type: mpegts.StreamTypeMPEG2Audio, PID: 0x101, Descriptors: []mpegts.Descriptor{tstest.LanguageDescriptor("deu")}},
		{Type: mpegts.StreamTypePrivate, PID: 0x102, Descriptors: []mpegts.Descriptor{
			{Tag: mpegts.DescriptorAC3, Data: []byte{0}},
			tstest.LanguageDescriptor("eng"),
		}},
	}
}

func TestPMTChangesStreamList(t *testing.T) {
	ch := &pvr.Channel{Name: "pmt", SID: 100, PMTPID: 0x1000, APIDs: []pvr.AudioPID{{PID: 0x101}}}
	ac3 := []byte{0x0B, 0x77, 0x00, 0x00, 0x00, 0x40, 0x40}
	data := newTSBuilder().
		section(0x1000, tstest.PMTSection(100, 0x101, 1, pmtStreams())).
		audio(0x101, 1000).
		private(0x102, 1100, ac3).
		bytes()

	d, _ := openLive(t, ch, data)
	pkts, _ := readAll(d)
	require.Len(t, pkts, 2)
	assert.True(t, pkts[0].StreamChange)
	assert.True(t, pkts[0].PmtChange)
	assert.False(t, pkts[1].PmtChange)
	assert.Equal(t, uint16(0x102), pkts[1].ID)

	streams := d.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, "deu", streams[0].Language)
	assert.Equal(t, pvr.CodecAC3, streams[1].Type)
	assert.Equal(t, "eng", streams[1].Language)
}

func TestPATLocatesPMT(t *testing.T) {
	ch := &pvr.Channel{Name: "pat", SID: 100, APIDs: []pvr.AudioPID{{PID: 0x101}}}
	data := newTSBuilder().
		section(mpegts.PIDProgramAssociation, tstest.PATSection(1, map[uint16]uint16{100: 0x1000, 200: 0x1100})).
		section(0x1000, tstest.PMTSection(100, 0x101, 0, pmtStreams())).
		audio(0x101, 1000).
		bytes()

	d, _ := openLive(t, ch, data)
	pkts, _ := readAll(d)
	require.Len(t, pkts, 1)
	assert.True(t, pkts[0].PmtChange)
	assert.Len(t, d.Streams(), 2)
}

func TestUpdateChannelRaisesStreamChange(t *testing.T) {
	ch := &pvr.Channel{Name: "upd", APIDs: []pvr.AudioPID{{PID: 0x101}}}
	b := newTSBuilder().audio(0x101, 1000)
	d, _ := openLive(t, ch, b.bytes())
	pkts, _ := readAll(d)
	require.Len(t, pkts, 1)

	updated := *ch
	updated.APIDs = append(updated.APIDs, pvr.AudioPID{PID: 0x105, Lang: "fra"})
	d.UpdateChannel(&updated)
	require.Len(t, d.Streams(), 2)

	// unchanged snapshot does not raise the flag again
	d.PidsChanged()

	d.ring.Put(b.audio(0x101, 4600).bytes()[188:])
	pkts, _ = readAll(d)
	require.Len(t, pkts, 1)
	assert.True(t, pkts[0].StreamChange)
	assert.False(t, pkts[0].PmtChange)
}

func TestNoDataAndClose(t *testing.T) {
	ch := &pvr.Channel{Name: "idle", APIDs: []pvr.AudioPID{{PID: 0x101}}}
	d, dev := openLive(t, ch, nil)

	var pkt Packet
	assert.Equal(t, ReadNoData, d.Read(&pkt))
	assert.NotZero(t, d.Errors()&ErrorNoData)
	assert.Equal(t, "LOCKED", d.SignalInfo().Status)
	assert.False(t, d.Seekable())

	_, err := d.SeekTime(time.Now().UnixMilli())
	assert.ErrorIs(t, err, ErrNotSeekable)

	require.NoError(t, d.Close())
	assert.True(t, dev.input.isClosed())
	assert.Equal(t, ReadEOF, d.Read(&pkt))
}

func TestOpenFailsWhenDeviceBusy(t *testing.T) {
	d := New(testOptions(), &fakeDevice{err: pvr.ErrDeviceBusy}, logger.NewNop())
	err := d.Open(context.Background(), &pvr.Channel{Name: "busy"}, 0)
	assert.ErrorIs(t, err, pvr.ErrDeviceBusy)

	var pkt Packet
	assert.Equal(t, ReadEOF, d.Read(&pkt))
}

// writeRecording writes n one-packet audio PES spaced 40ms apart starting
// at PTS first.
func writeRecording(t *testing.T, path string, b *tsBuilder, first int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		b.audio(0x101, first+int64(i)*3600)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(b.bytes())
	require.NoError(t, err)
	require.NoError(t, f.Close())
	b.buf.Reset()
}

func readUntil(t *testing.T, d *Demuxer, want int) (Packet, bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var pkt Packet
		r := d.Read(&pkt)
		if r == want {
			return pkt, true
		}
		if r == ReadEOF && want != ReadEOF {
			return pkt, false
		}
	}
	return Packet{}, false
}

func TestSeekTimeAndReopenOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.ts")
	b := newTSBuilder()
	writeRecording(t, path, b, 90000, 2500) // 100 seconds

	dev := device.NewManager(config.DeviceConfig{ReadBufferSize: 188 * 7}, logger.NewNop())
	d := New(testOptions(), dev, logger.NewNop())
	ch := &pvr.Channel{Name: "rec", APIDs: []pvr.AudioPID{{PID: 0x101}}}
	require.NoError(t, d.OpenFile(context.Background(), path, ch))
	defer d.Close()
	assert.True(t, d.Seekable())

	first, ok := readUntil(t, d, ReadOK)
	require.True(t, ok)
	assert.Equal(t, int64(90000), first.PTS)
	assert.Equal(t, uint32(0), first.Serial)

	target := first.RefTime.UnixMilli() + 50_000
	serial, err := d.SeekTime(target)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), serial)

	after, ok := readUntil(t, d, ReadOK)
	require.True(t, ok)
	assert.Equal(t, uint32(1), after.Serial)
	assert.True(t, after.StreamChange)
	wantPTS := int64(90000 + 50*mpegts.ClockRate)
	assert.InDelta(t, wantPTS, after.PTS, seekTolerance+3600)

	// drain to EOF; every packet carries the new serial
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no EOF")
		var pkt Packet
		r := d.Read(&pkt)
		if r == ReadEOF {
			break
		}
		if r == ReadOK {
			require.Equal(t, uint32(1), pkt.Serial)
			require.False(t, pkt.StreamChange)
		}
	}

	// the recording grows, reopen continues with a new serial
	writeRecording(t, path, b, 90000+2500*3600, 10)
	require.NoError(t, d.Reopen())
	assert.Equal(t, uint32(2), d.Serial())

	more, ok := readUntil(t, d, ReadOK)
	require.True(t, ok)
	assert.Equal(t, uint32(2), more.Serial)
	assert.Equal(t, int64(90000+2500*3600), more.PTS)

	stats := d.BufferStats()
	assert.True(t, stats.Timeshift)
	assert.True(t, stats.End.After(stats.Start))
}

// drainToEOF collects packets until the demuxer reports end of data.
func drainToEOF(t *testing.T, d *Demuxer) []Packet {
	t.Helper()
	var out []Packet
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no EOF")
		var pkt Packet
		switch d.Read(&pkt) {
		case ReadOK:
			out = append(out, pkt)
		case ReadEOF:
			return out
		}
	}
}

func TestReopenGrowingRecording(t *testing.T) {
	tests := []struct {
		name string
		cut  int
	}{
		{"packet aligned", 10 * mpegts.PacketSize},
		{"mid packet", 10*mpegts.PacketSize + 100},
		{"inside first packet", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTSBuilder()
			for i := 0; i < 20; i++ {
				b.audio(0x101, 90000+int64(i)*3600)
			}
			data := append([]byte(nil), b.bytes()...)
			require.Len(t, data, 20*mpegts.PacketSize)

			path := filepath.Join(t.TempDir(), "rec.ts")
			require.NoError(t, os.WriteFile(path, data[:tt.cut], 0o644))

			dev := device.NewManager(config.DeviceConfig{ReadBufferSize: 188 * 7}, logger.NewNop())
			d := New(testOptions(), dev, logger.NewNop())
			ch := &pvr.Channel{Name: "rec", APIDs: []pvr.AudioPID{{PID: 0x101}}}
			require.NoError(t, d.OpenFile(context.Background(), path, ch))
			defer d.Close()

			got := drainToEOF(t, d)
			assert.Len(t, got, tt.cut/mpegts.PacketSize)

			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			require.NoError(t, err)
			_, err = f.Write(data[tt.cut:])
			require.NoError(t, err)
			require.NoError(t, f.Close())

			require.NoError(t, d.Reopen())
			got = append(got, drainToEOF(t, d)...)

			require.Len(t, got, 20)
			for i, pkt := range got {
				assert.Equal(t, int64(90000+i*3600), pkt.PTS)
			}
			assert.Zero(t, d.Errors()&^ErrorNoData, "errors: %s", d.Errors())
		})
	}
}

func TestSeekBeforeFirstPacket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.ts")
	writeRecording(t, path, newTSBuilder(), 0, 10)

	dev := device.NewManager(config.DeviceConfig{}, logger.NewNop())
	d := New(testOptions(), dev, logger.NewNop())
	require.NoError(t, d.OpenFile(context.Background(), path, &pvr.Channel{APIDs: []pvr.AudioPID{{PID: 0x101}}}))
	defer d.Close()

	_, err := d.SeekTime(time.Now().UnixMilli())
	assert.ErrorIs(t, err, ErrNoTimestamp)
}
