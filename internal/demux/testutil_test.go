package demux

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/vnsid/vnsid/internal/mpegts/tstest"
	"github.com/vnsid/vnsid/internal/pvr"
)

// mpegAudioFrame is an MPEG-1 layer II header, 48 kHz stereo, plus filler.
var mpegAudioFrame = append([]byte{0xFF, 0xFD, 0x94, 0x00}, bytes.Repeat([]byte{0x55}, 16)...)

// tsBuilder writes synthetic transport streams.
type tsBuilder struct {
	streams map[uint16]*tstest.Stream
	buf     bytes.Buffer
}

func newTSBuilder() *tsBuilder {
	return &tsBuilder{streams: make(map[uint16]*tstest.Stream)}
}

func (b *tsBuilder) stream(pid uint16) *tstest.Stream {
	s, ok := b.streams[pid]
	if !ok {
		s = &tstest.Stream{PID: pid}
		b.streams[pid] = s
	}
	return s
}

func (b *tsBuilder) video(pid uint16, pts int64, au []byte) *tsBuilder {
	b.buf.Write(b.stream(pid).Packets(tstest.PES(0xE0, pts, -1, au)))
	return b
}

func (b *tsBuilder) audio(pid uint16, pts int64) *tsBuilder {
	b.buf.Write(b.stream(pid).Packets(tstest.PES(0xC0, pts, -1, mpegAudioFrame)))
	return b
}

func (b *tsBuilder) private(pid uint16, pts int64, payload []byte) *tsBuilder {
	b.buf.Write(b.stream(pid).Packets(tstest.PES(0xBD, pts, -1, payload)))
	return b
}

func (b *tsBuilder) section(pid uint16, section []byte) *tsBuilder {
	b.buf.Write(b.stream(pid).Section(section))
	return b
}

func (b *tsBuilder) raw(p []byte) *tsBuilder {
	b.buf.Write(p)
	return b
}

func (b *tsBuilder) bytes() []byte { return b.buf.Bytes() }

type fakeInput struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeInput) SignalInfo() pvr.SignalInfo {
	return pvr.SignalInfo{Adapter: "fake", Status: "LOCKED", SNR: 0xFFFF}
}

func (f *fakeInput) Seekable() bool { return false }

// fakeDevice hands its whole payload to the sink on Open.
type fakeDevice struct {
	data  []byte
	err   error
	input *fakeInput
}

func (f *fakeDevice) Open(ctx context.Context, ch *pvr.Channel, priority int32, sink pvr.Sink) (pvr.Input, error) {
	if f.err != nil {
		return nil, f.err
	}
	sink.Put(f.data)
	f.input = &fakeInput{}
	return f.input, nil
}

func (f *fakeDevice) OpenFile(ctx context.Context, path string, sink pvr.Sink) (pvr.FileInput, error) {
	return nil, pvr.ErrNotFound
}

func testOptions() Options {
	return Options{
		Name:       "test",
		RingSize:   2 * 1024 * 1024,
		RingMargin: 188,
		PutTimeout: 10 * time.Millisecond,
		GetTimeout: 5 * time.Millisecond,
	}
}

// readAll reads packets until the demuxer reports no data or EOF.
func readAll(d *Demuxer) ([]Packet, int) {
	var out []Packet
	for i := 0; i < 1_000_000; i++ {
		var pkt Packet
		switch r := d.Read(&pkt); r {
		case ReadOK:
			out = append(out, pkt)
		case ReadAgain:
		default:
			return out, r
		}
	}
	return out, ReadAgain
}
