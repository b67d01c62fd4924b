package demux

import (
	"fmt"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/mpegts"
)

const (
	// A sample within this distance of the target ends the search.
	seekTolerance = 36000
	sampleSize    = mpegts.PacketSize * 512
	maxSeekSteps  = 64
)

// SeekTime moves a file input to the position whose timestamps match the
// wall clock time wallMs (unix milliseconds), resets all parsers and
// returns the incremented serial.
func (d *Demuxer) SeekTime(wallMs int64) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ring == nil {
		return 0, ErrNotOpen
	}
	if d.file == nil {
		return d.serial, ErrNotSeekable
	}
	if !d.hasRef {
		return d.serial, ErrNoTimestamp
	}

	target := d.refPTS + (wallMs-d.refTime.UnixMilli())*mpegts.ClockRate/1000
	pos := d.bisect(target)
	if err := d.file.Seek(pos); err != nil {
		metrics.ObserveSeek(false)
		return d.serial, fmt.Errorf("seek input: %w", err)
	}
	metrics.ObserveSeek(true)

	d.serial++
	d.resetParsers()
	d.wrap.ResetNear(target)
	d.streamChange = true

	d.log.WithFields(logger.Fields{
		"target_pts": target,
		"position":   pos,
		"serial":     d.serial,
	}).Debug("Seek")
	return d.serial, nil
}

// bisect narrows [lo, hi] until a sample lands within seekTolerance of
// target or the interval collapses. Caller holds mu.
func (d *Demuxer) bisect(target int64) int64 {
	lo, hi := int64(0), d.file.Size()
	for i := 0; i < maxSeekSteps && hi-lo > mpegts.PacketSize; i++ {
		mid := lo + (hi-lo)/2
		mid -= mid % mpegts.PacketSize

		ts, ok := d.sampleAt(mid, target)
		if !ok {
			hi = mid
			continue
		}
		diff := ts - target
		if diff >= -seekTolerance && diff <= seekTolerance {
			return mid
		}
		if diff < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo - lo%mpegts.PacketSize
}

// sampleAt returns the first PES timestamp of a served stream at or after
// off, linearised near ref. Caller holds mu.
func (d *Demuxer) sampleAt(off, ref int64) (int64, bool) {
	buf := make([]byte, sampleSize)
	n, _ := d.file.ReadAt(buf, off)
	buf = buf[:n]

	for i := mpegts.Sync(buf); i+mpegts.PacketSize <= len(buf); i += mpegts.PacketSize {
		if buf[i] != mpegts.SyncByte {
			skip := mpegts.Sync(buf[i:])
			if skip == 0 || i+skip >= len(buf) {
				return 0, false
			}
			i += skip - mpegts.PacketSize
			continue
		}
		ts, err := mpegts.ParsePacket(buf[i : i+mpegts.PacketSize])
		if err != nil || !ts.PayloadStart || ts.Scrambled() {
			continue
		}
		if _, ok := d.parsers[ts.PID]; !ok {
			continue
		}
		hdr, err := mpegts.ParsePESHeader(ts.Payload)
		if err != nil || !hdr.HasPTS {
			continue
		}
		return d.wrap.Nearest(hdr.PTS, ref), true
	}
	return 0, false
}
