package demux

import "github.com/vnsid/vnsid/internal/mpegts"

const halfWrap = mpegts.PtsWrap / 2

// PtsWrap linearises 33 bit timestamps of one demuxer across wraparounds.
// All parsers of a demuxer share one instance.
type PtsWrap struct {
	last  int64
	wraps int64
	valid bool

	anchor   int64
	anchored bool
}

// Linearize returns pts + wraps*2^33. A value more than 2^32 below the
// previous one counts as a wrap; a value more than 2^32 above it after a
// wrap is a late packet from before the wrap.
func (w *PtsWrap) Linearize(pts int64) int64 {
	pts &= mpegts.PtsMask
	if !w.valid {
		if w.anchored {
			w.anchored = false
			w.wraps = max((w.Nearest(pts, w.anchor)-pts)/mpegts.PtsWrap, 0)
		}
		w.last, w.valid = pts, true
		return pts + w.wraps*mpegts.PtsWrap
	}
	switch {
	case pts < w.last-halfWrap:
		w.wraps++
	case pts > w.last+halfWrap && w.wraps > 0:
		return pts + (w.wraps-1)*mpegts.PtsWrap
	}
	w.last = pts
	return pts + w.wraps*mpegts.PtsWrap
}

// Nearest returns the linear value of pts closest to ref without changing
// the wrap state.
func (w *PtsWrap) Nearest(pts, ref int64) int64 {
	pts &= mpegts.PtsMask
	return ref + mpegts.PtsDiff(ref, pts)
}

// Reset forgets the last value but keeps the wrap count.
func (w *PtsWrap) Reset() {
	w.valid = false
	w.anchored = false
}

// ResetNear forgets the last value and derives the wrap count from the
// next value, taking the linear value closest to ref.
func (w *PtsWrap) ResetNear(ref int64) {
	w.valid = false
	w.anchor, w.anchored = ref, true
}
