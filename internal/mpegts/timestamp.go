package mpegts

// PTS and DTS are 33 bit counters of a 90 kHz clock.
const (
	ClockRate       = 90000
	PtsWrap   int64 = 1 << 33
	PtsMask         = PtsWrap - 1
)

// PtsAdd adds two timestamps modulo 2^33. b may be negative.
func PtsAdd(a, b int64) int64 {
	return (a + b) & PtsMask
}

// PtsDiff returns the signed shortest distance from a to b on the 33 bit
// circle, so PtsDiff(a, b) == -PtsDiff(b, a).
func PtsDiff(a, b int64) int64 {
	d := (b & PtsMask) - (a & PtsMask)
	if d > PtsMask/2 {
		return d - PtsWrap
	}
	if d < -(PtsMask / 2) {
		return d + PtsWrap
	}
	return d
}

// ReadTimestamp decodes the 5 byte PTS/DTS field.
func ReadTimestamp(data []byte) (int64, error) {
	if len(data) < 5 {
		return 0, ErrShortPES
	}
	ts := int64(data[0]&0x0E)<<29 |
		int64(data[1])<<22 |
		int64(data[2]&0xFE)<<14 |
		int64(data[3])<<7 |
		int64(data[4])>>1
	return ts, nil
}

// PutTimestamp encodes ts into the 5 byte PTS/DTS field. prefix is 0x2 for
// PTS only, 0x3 for PTS followed by DTS and 0x1 for that DTS.
func PutTimestamp(b []byte, prefix byte, ts int64) {
	ts &= PtsMask
	b[0] = prefix<<4 | byte(ts>>29)&0x0E | 0x01
	b[1] = byte(ts >> 22)
	b[2] = byte(ts>>14)&0xFE | 0x01
	b[3] = byte(ts >> 7)
	b[4] = byte(ts<<1) | 0x01
}
