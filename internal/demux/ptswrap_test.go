package demux

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vnsid/vnsid/internal/mpegts"
)

func TestPtsWrapLinearize(t *testing.T) {
	var w PtsWrap
	assert.Equal(t, mpegts.PtsMask-100, w.Linearize(mpegts.PtsMask-100))
	assert.Equal(t, int64(50)+mpegts.PtsWrap, w.Linearize(50))
	// late packet from before the wrap
	assert.Equal(t, mpegts.PtsMask-10, w.Linearize(mpegts.PtsMask-10))
	assert.Equal(t, int64(200)+mpegts.PtsWrap, w.Linearize(200))
}

func TestPtsWrapMonotonicAcrossWraps(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var w PtsWrap
	raw := mpegts.PtsMask - 90000*10
	linear := w.Linearize(raw)
	start := linear
	for i := 0; i < 100000; i++ {
		step := int64(rng.Intn(90000))
		raw = mpegts.PtsAdd(raw, step)
		next := w.Linearize(raw)
		assert.Equal(t, linear+step, next)
		linear = next
	}
	assert.Greater(t, linear-start, mpegts.PtsWrap/4)
}

func TestPtsWrapNearest(t *testing.T) {
	var w PtsWrap
	ref := mpegts.PtsWrap + 1000
	assert.Equal(t, mpegts.PtsWrap+2000, w.Nearest(2000, ref))
	assert.Equal(t, mpegts.PtsWrap-1000, w.Nearest(mpegts.PtsMask-999, ref))
}

func TestPtsWrapResetKeepsWraps(t *testing.T) {
	var w PtsWrap
	w.Linearize(mpegts.PtsMask)
	w.Linearize(10)
	w.Reset()
	assert.Equal(t, int64(500)+mpegts.PtsWrap, w.Linearize(500))
}

func TestPtsWrapResetNear(t *testing.T) {
	tests := []struct {
		name string
		ref  int64
		pts  int64
		want int64
	}{
		{"back across the wrap", mpegts.PtsMask - 5000, mpegts.PtsMask - 4000, mpegts.PtsMask - 4000},
		{"forward after the wrap", mpegts.PtsWrap + 3000, 2000, mpegts.PtsWrap + 2000},
		{"two wraps on", 2*mpegts.PtsWrap + 100, mpegts.PtsMask - 50, 2*mpegts.PtsWrap - 51},
		{"near zero never goes negative", 100, mpegts.PtsMask - 10, mpegts.PtsMask - 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w PtsWrap
			w.Linearize(mpegts.PtsMask - 100)
			w.Linearize(10)
			w.ResetNear(tt.ref)
			assert.Equal(t, tt.want, w.Linearize(tt.pts))
		})
	}
}

func TestPtsWrapResetNearThenContinues(t *testing.T) {
	var w PtsWrap
	w.Linearize(mpegts.PtsMask - 100)
	w.Linearize(10)

	w.ResetNear(mpegts.PtsMask - 5000)
	assert.Equal(t, mpegts.PtsMask-4000, w.Linearize(mpegts.PtsMask-4000))
	// crossing the wrap again counts once
	assert.Equal(t, int64(300)+mpegts.PtsWrap, w.Linearize(300))
}
