// Package demux turns a raw transport stream into timed elementary stream
// packets for one channel.
package demux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/mpegts"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/ringbuffer"
)

// Read results.
const (
	ReadOK     = 1
	ReadAgain  = 0
	ReadEOF    = -1
	ReadNoData = -2
)

// ErrorBits is the sticky corruption mask reported to clients.
type ErrorBits uint32

const (
	ErrorScrambled ErrorBits = 1 << iota
	ErrorStartCode
	ErrorNoData
	ErrorTSSync
)

func (e ErrorBits) String() string {
	var parts []string
	if e&ErrorScrambled != 0 {
		parts = append(parts, "Scrambled")
	}
	if e&ErrorStartCode != 0 {
		parts = append(parts, "Start code corrupted")
	}
	if e&ErrorNoData != 0 {
		parts = append(parts, "No data")
	}
	if e&ErrorTSSync != 0 {
		parts = append(parts, "TS sync lost")
	}
	return strings.Join(parts, ", ")
}

var (
	ErrNotOpen     = errors.New("demuxer not open")
	ErrNotSeekable = errors.New("input not seekable")
	ErrNoTimestamp = errors.New("no timestamp reference")
)

// Packet is one demultiplexed elementary stream unit.
type Packet struct {
	ID           uint16
	Data         []byte
	PTS          int64
	DTS          int64
	Duration     uint32
	Serial       uint32
	RefTime      time.Time
	RefPTS       int64
	StreamChange bool
	PmtChange    bool
	Content      Content
	Independent  bool
}

// Options configures the ring buffer of a demuxer.
type Options struct {
	Name       string
	RingSize   int
	RingMargin int
	PutTimeout time.Duration
	GetTimeout time.Duration
}

// BufferStats describes the buffered window, in wall clock time, and the
// ring fill level.
type BufferStats struct {
	Timeshift bool
	Start     time.Time
	End       time.Time
	Ring      ringbuffer.Stats
}

// Demuxer reads one channel. Read is called from a single goroutine; the
// other methods may be called concurrently.
type Demuxer struct {
	opts   Options
	device pvr.Device
	log    *logger.SampledLogger

	mu      sync.Mutex
	ring    *ringbuffer.RingBuffer
	input   pvr.Input
	file    pvr.FileInput
	channel pvr.Channel
	streams []StreamInfo
	parsers map[uint16]*esParser
	wrap    PtsWrap
	serial  uint32
	errs    ErrorBits

	waitIFrame   bool
	streamChange bool
	pmtChange    bool

	hasRef  bool
	refTime time.Time
	refPTS  int64
	lastPTS int64

	pending []Packet

	pat        mpegts.SectionAssembler
	pmt        mpegts.SectionAssembler
	pmtPID     uint16
	pmtVersion int
}

// New creates a demuxer that acquires inputs from dev.
func New(opts Options, dev pvr.Device, log logger.Logger) *Demuxer {
	return &Demuxer{
		opts:       opts,
		device:     dev,
		log:        logger.NewStreamLogger(logger.WithComponent(log, "demux").WithField("stream", opts.Name)),
		parsers:    make(map[uint16]*esParser),
		pmtVersion: -1,
	}
}

func (d *Demuxer) newRing() *ringbuffer.RingBuffer {
	rb := ringbuffer.New(d.opts.Name, d.opts.RingSize, d.opts.RingMargin, d.log)
	rb.SetTimeouts(d.opts.PutTimeout, d.opts.GetTimeout)
	return rb
}

// Open acquires a live input for ch.
func (d *Demuxer) Open(ctx context.Context, ch *pvr.Channel, priority int32) error {
	rb := d.newRing()
	in, err := d.device.Open(ctx, ch, priority, rb)
	if err != nil {
		rb.Close()
		return err
	}
	fi, _ := in.(pvr.FileInput)
	d.start(ch, rb, in, fi)
	return nil
}

// OpenFile plays the transport stream file at path, typically a recording
// of ch still being written.
func (d *Demuxer) OpenFile(ctx context.Context, path string, ch *pvr.Channel) error {
	rb := d.newRing()
	fi, err := d.device.OpenFile(ctx, path, rb)
	if err != nil {
		rb.Close()
		return err
	}
	d.start(ch, rb, fi, fi)
	return nil
}

func (d *Demuxer) start(ch *pvr.Channel, rb *ringbuffer.RingBuffer, in pvr.Input, fi pvr.FileInput) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ring, d.input, d.file = rb, in, fi
	d.channel = *ch
	d.pmtPID = ch.PMTPID
	d.pmtVersion = -1
	d.pat.Reset()
	d.pmt.Reset()
	d.hasRef = false
	d.wrap = PtsWrap{}
	d.errs = 0
	d.pending = nil
	d.parsers = make(map[uint16]*esParser)
	d.streams = nil
	d.applyStreams(streamsOf(ch), false)
	d.resetParsers()
	d.streamChange = true
	d.pmtChange = false

	d.log.WithFields(map[string]interface{}{
		"channel":  ch.Name,
		"streams":  len(d.streams),
		"seekable": fi != nil,
	}).Info("Demuxer opened")
}

// Close releases the input and the ring buffer.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	in, rb := d.input, d.ring
	d.input, d.file, d.ring = nil, nil, nil
	d.mu.Unlock()

	var err error
	if rb != nil {
		rb.Close()
	}
	if in != nil {
		err = in.Close()
	}
	return err
}

// applyStreams diffs the stream list against the running parsers. Parsers
// of unchanged streams keep their state. Caller holds mu.
func (d *Demuxer) applyStreams(next []StreamInfo, fromPMT bool) bool {
	changed := len(next) != len(d.streams)
	if !changed {
		for i := range next {
			if !sameStream(next[i], d.streams[i]) {
				changed = true
				break
			}
		}
	}
	if !changed {
		return false
	}

	parsers := make(map[uint16]*esParser, len(next))
	for i, si := range next {
		if p, ok := d.parsers[si.PID]; ok && sameStream(p.info, si) {
			next[i] = p.info
			parsers[si.PID] = p
			continue
		}
		parsers[si.PID] = newParser(si)
	}
	d.parsers = parsers
	d.streams = next
	d.streamChange = true
	if fromPMT {
		d.pmtChange = true
	}
	return true
}

// PidsChanged re-reads the stream list of the current channel snapshot.
func (d *Demuxer) PidsChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.applyStreams(streamsOf(&d.channel), false) {
		d.log.WithField("streams", len(d.streams)).Info("Stream list changed")
	}
}

// UpdateChannel replaces the channel snapshot and applies PID changes.
func (d *Demuxer) UpdateChannel(ch *pvr.Channel) {
	d.mu.Lock()
	d.channel = *ch
	if ch.PMTPID != 0 && ch.PMTPID != d.pmtPID {
		d.pmtPID = ch.PMTPID
		d.pmtVersion = -1
		d.pmt.Reset()
	}
	d.mu.Unlock()
	d.PidsChanged()
}

// Streams returns the current stream list with detected parameters.
func (d *Demuxer) Streams() []StreamInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]StreamInfo, len(d.streams))
	for i, si := range d.streams {
		if p, ok := d.parsers[si.PID]; ok {
			si = p.info
		}
		out[i] = si
	}
	return out
}

// Serial returns the discontinuity serial.
func (d *Demuxer) Serial() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serial
}

// Errors returns the sticky error mask.
func (d *Demuxer) Errors() ErrorBits {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errs
}

// ClearErrors resets the sticky error mask.
func (d *Demuxer) ClearErrors() {
	d.mu.Lock()
	d.errs = 0
	d.mu.Unlock()
}

// Seekable reports whether SeekTime is possible.
func (d *Demuxer) Seekable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file != nil
}

// SignalInfo returns the input reception quality.
func (d *Demuxer) SignalInfo() pvr.SignalInfo {
	d.mu.Lock()
	in := d.input
	d.mu.Unlock()
	if in == nil {
		return pvr.SignalInfo{}
	}
	return in.SignalInfo()
}

// BufferStats describes the buffered window.
func (d *Demuxer) BufferStats() BufferStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	var st BufferStats
	if d.ring != nil {
		st.Ring = d.ring.Stats()
	}
	if d.hasRef {
		st.Timeshift = d.file != nil
		st.Start = d.refTime
		st.End = d.wallTime(d.lastPTS)
	}
	return st
}

// wallTime maps a linear timestamp through the reference anchor. Caller
// holds mu.
func (d *Demuxer) wallTime(pts int64) time.Time {
	return d.refTime.Add(time.Duration(pts-d.refPTS) * time.Second / mpegts.ClockRate)
}

func (d *Demuxer) resetParsers() {
	for _, p := range d.parsers {
		p.reset()
	}
	d.pending = nil
	d.waitIFrame = false
	for _, si := range d.streams {
		if si.Content == ContentVideo {
			d.waitIFrame = true
		}
	}
	d.wrap.Reset()
}

// Reopen continues a file input after EOF. The serial is incremented.
func (d *Demuxer) Reopen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrNotSeekable
	}
	if err := d.file.Resume(); err != nil {
		return fmt.Errorf("resume input: %w", err)
	}
	d.serial++
	d.resetParsers()
	d.streamChange = true
	return nil
}

// Read processes at most one TS packet and reports whether a packet is
// ready in pkt.
func (d *Demuxer) Read(pkt *Packet) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ring == nil {
		return ReadEOF
	}
	if d.popPending(pkt) {
		return ReadOK
	}

	data := d.ring.Get()
	if data == nil {
		if d.file != nil && d.file.Done() && d.ring.Available() == 0 {
			return ReadEOF
		}
		d.errs |= ErrorNoData
		return ReadNoData
	}
	d.errs &^= ErrorNoData

	if skip := mpegts.Sync(data); skip > 0 {
		d.ring.Del(skip)
		d.errs |= ErrorTSSync
		metrics.AddResyncBytes(skip)
		d.log.WarnWithCategory(logger.CategoryTSSync, "TS sync lost", logger.Fields{"skipped_bytes": skip})
		return ReadAgain
	}
	if len(data) < mpegts.PacketSize {
		// trailing partial packet at end of data
		d.ring.Del(len(data))
		return ReadAgain
	}

	ts, err := mpegts.ParsePacket(data[:mpegts.PacketSize])
	if err == nil {
		d.route(&ts)
	}
	d.ring.Del(mpegts.PacketSize)

	if d.popPending(pkt) {
		return ReadOK
	}
	return ReadAgain
}

func (d *Demuxer) popPending(pkt *Packet) bool {
	if len(d.pending) == 0 {
		return false
	}
	*pkt = d.pending[0]
	d.pending = d.pending[1:]
	return true
}

// route dispatches one TS packet. Caller holds mu.
func (d *Demuxer) route(ts *mpegts.Packet) {
	if ts.TransportError {
		if p, ok := d.parsers[ts.PID]; ok {
			p.reset()
		}
		metrics.IncrementDemuxError("transport_error")
		return
	}

	switch {
	case ts.PID == mpegts.PIDProgramAssociation && d.pmtPID == 0:
		d.handlePAT(ts)
		return
	case ts.PID == d.pmtPID && d.pmtPID != 0:
		d.handlePMT(ts)
		return
	}

	p, ok := d.parsers[ts.PID]
	if !ok || !ts.HasPayload {
		return
	}
	if ts.Scrambled() {
		d.flagScrambled(ts.PID)
		return
	}

	gap, dup := p.continuity(ts)
	if dup {
		return
	}
	if gap {
		metrics.IncrementDemuxError("continuity")
		d.log.DebugWithCategory(logger.CategoryContinuity, "Continuity error", logger.Fields{"pid": ts.PID})
		p.reset()
		p.cc = int(ts.Continuity)
		if !ts.PayloadStart {
			return
		}
	}

	if pes, done := p.push(ts.PayloadStart, ts.Payload); done {
		d.emit(p, pes)
	}
}

func (d *Demuxer) flagScrambled(pid uint16) {
	if d.errs&ErrorScrambled == 0 {
		metrics.IncrementDemuxError("scrambled")
	}
	d.errs |= ErrorScrambled
	d.log.WarnWithCategory(logger.CategoryScrambled, "Scrambled payload", logger.Fields{"pid": pid})
}

// emit turns a completed PES into a packet. Caller holds mu.
func (d *Demuxer) emit(p *esParser, pes []byte) {
	hdr, err := mpegts.ParsePESHeader(pes)
	if err != nil {
		if errors.Is(err, mpegts.ErrPESStartCode) {
			d.errs |= ErrorStartCode
			metrics.IncrementDemuxError("start_code")
		}
		return
	}
	if hdr.Scrambling != 0 {
		d.flagScrambled(p.info.PID)
		return
	}
	if !hdr.HasPTS {
		return
	}
	payload := pes[hdr.PayloadOffset:]

	pts := d.wrap.Linearize(hdr.PTS)
	dts := pts
	if hdr.HasDTS {
		dts = d.wrap.Linearize(hdr.DTS)
	}

	independent, changed := p.inspect(payload)
	if changed {
		d.streamChange = true
	}
	if d.waitIFrame {
		if p.info.Content != ContentVideo || !independent {
			return
		}
		d.waitIFrame = false
	}

	if !d.hasRef {
		d.hasRef = true
		d.refTime = time.Now()
		d.refPTS = dts
	}
	if dts > d.lastPTS {
		d.lastPTS = dts
	}

	pkt := Packet{
		ID:           p.info.PID,
		Data:         payload,
		PTS:          pts,
		DTS:          dts,
		Duration:     p.track(pts),
		Serial:       d.serial,
		RefTime:      d.refTime,
		RefPTS:       d.refPTS,
		StreamChange: d.streamChange,
		PmtChange:    d.pmtChange,
		Content:      p.info.Content,
		Independent:  independent,
	}
	d.streamChange, d.pmtChange = false, false
	d.pending = append(d.pending, pkt)
}

func (d *Demuxer) handlePAT(ts *mpegts.Packet) {
	if ts.PayloadStart {
		programs, err := mpegts.ParsePAT(ts.Payload)
		if err != nil {
			metrics.IncrementDemuxError("pat")
			return
		}
		if pid, ok := programs[d.channel.SID]; ok && pid != 0 {
			d.pmtPID = pid
			d.pmtVersion = -1
			d.pmt.Reset()
			d.log.WithField("pmt_pid", pid).Debug("PMT PID found in PAT")
		}
	}
}

func (d *Demuxer) handlePMT(ts *mpegts.Packet) {
	section, ok := d.pmt.Push(ts.PayloadStart, ts.Payload)
	if !ok {
		return
	}
	pmt, err := mpegts.ParsePMT(section)
	if err != nil {
		metrics.IncrementDemuxError("pmt")
		d.log.WarnWithCategory(logger.CategoryContinuity, "PMT rejected", logger.Fields{"error": err.Error()})
		return
	}
	if d.channel.SID != 0 && pmt.ProgramNumber != d.channel.SID {
		return
	}
	if int(pmt.Version) == d.pmtVersion {
		return
	}
	d.pmtVersion = int(pmt.Version)

	d.channel = channelFromPMT(d.channel, pmt)
	if d.applyStreams(streamsOf(&d.channel), true) {
		d.log.WithFields(map[string]interface{}{
			"version": pmt.Version,
			"streams": len(d.streams),
		}).Info("PMT changed stream list")
	}
}
