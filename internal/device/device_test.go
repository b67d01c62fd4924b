package device

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/ringbuffer"
)

func testConfig() config.DeviceConfig {
	return config.DeviceConfig{
		MaxInputs:      1,
		ReadBufferSize: 188 * 7,
		DialTimeout:    time.Second,
		LockTimeout:    time.Second,
	}
}

func tsData(packets int) []byte {
	b := make([]byte, packets*188)
	for i := 0; i < packets; i++ {
		b[i*188] = 0x47
		b[i*188+1] = byte(i)
	}
	return b
}

func TestFileInputFeedsAndSeeks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.ts")
	data := tsData(50)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	rb := ringbuffer.New("file-test", 188*100, 188, logger.NewNop())
	m := NewManager(testConfig(), logger.NewNop())

	in, err := m.OpenFile(context.Background(), path, rb)
	require.NoError(t, err)
	defer in.Close()

	assert.True(t, in.Seekable())
	assert.Equal(t, int64(len(data)), in.Size())
	require.Eventually(t, in.Done, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, len(data), rb.Available())
	assert.True(t, rb.EndOfData())

	require.NoError(t, in.Seek(188*45))
	require.Eventually(t, func() bool { return in.Done() && rb.Available() == 188*5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, data[188*45:], rb.Get())

	p := make([]byte, 4)
	n, err := in.ReadAt(p, 188)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, data[188:192], p)
}

func TestFileInputResumeAfterGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growing.ts")
	require.NoError(t, os.WriteFile(path, tsData(10), 0o644))

	rb := ringbuffer.New("grow-test", 188*100, 188, logger.NewNop())
	m := NewManager(testConfig(), logger.NewNop())
	in, err := m.OpenFile(context.Background(), path, rb)
	require.NoError(t, err)
	defer in.Close()

	require.Eventually(t, in.Done, 2*time.Second, 5*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(tsData(5))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, in.Resume())
	require.Eventually(t, func() bool { return rb.Available() == 188*15 }, 2*time.Second, 5*time.Millisecond)
}

func TestOpenFileMissing(t *testing.T) {
	m := NewManager(testConfig(), logger.NewNop())
	rb := ringbuffer.New("missing", 1000, 10, logger.NewNop())
	_, err := m.OpenFile(context.Background(), filepath.Join(t.TempDir(), "nope.ts"), rb)
	assert.ErrorIs(t, err, pvr.ErrNotFound)
	assert.Empty(t, m.Inputs())
}

func TestHTTPInput(t *testing.T) {
	data := tsData(20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	rb := ringbuffer.New("http-test", 188*100, 188, logger.NewNop())
	m := NewManager(testConfig(), logger.NewNop())
	ch := &pvr.Channel{Name: "web", InputURL: srv.URL + "/stream.ts"}

	in, err := m.Open(context.Background(), ch, 0, rb)
	require.NoError(t, err)
	assert.False(t, in.Seekable())

	require.Eventually(t, func() bool { return rb.Available() == len(data) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "LOCKED", in.SignalInfo().Status)
	require.Len(t, m.Inputs(), 1)
	assert.True(t, m.Inputs()[0].Live)

	require.NoError(t, in.Close())
	assert.Empty(t, m.Inputs())
}

func TestHTTPInputNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := NewManager(testConfig(), logger.NewNop())
	rb := ringbuffer.New("http-404", 1000, 10, logger.NewNop())
	_, err := m.Open(context.Background(), &pvr.Channel{InputURL: srv.URL}, 0, rb)
	assert.ErrorIs(t, err, pvr.ErrNotFound)
	assert.Empty(t, m.Inputs())
}

func TestOpenLimits(t *testing.T) {
	m := NewManager(testConfig(), logger.NewNop())
	rb := ringbuffer.New("limits", 1000, 10, logger.NewNop())

	_, err := m.Open(context.Background(), &pvr.Channel{InputURL: "rtsp://camera/1"}, 0, rb)
	assert.ErrorIs(t, err, pvr.ErrUnsupportedInput)

	_, err = m.Open(context.Background(), &pvr.Channel{InputURL: "::bad"}, 0, rb)
	assert.ErrorIs(t, err, pvr.ErrInvalid)

	first, err := m.Open(context.Background(), &pvr.Channel{InputURL: "udp://127.0.0.1:0"}, 0, rb)
	require.NoError(t, err)
	defer first.Close()
	assert.Equal(t, "NO SIGNAL", first.SignalInfo().Status)

	_, err = m.Open(context.Background(), &pvr.Channel{InputURL: "udp://127.0.0.1:0"}, 0, rb)
	assert.ErrorIs(t, err, pvr.ErrDeviceBusy)
}

func TestStripRTP(t *testing.T) {
	payload := tsData(7)
	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 33, SequenceNumber: 1, Timestamp: 90000, SSRC: 1},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	var scratch rtp.Packet
	assert.Equal(t, payload, stripRTP(&scratch, raw))
	assert.Equal(t, payload, stripRTP(&scratch, payload))
	assert.True(t, bytes.Equal([]byte{0x01}, stripRTP(&scratch, []byte{0x01})))
}
