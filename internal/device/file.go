package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/pvr"
)

const (
	fileChunk = 188 * 348
	idlePoll  = 10 * time.Millisecond
)

// fileInput feeds a file, possibly still being written, into a sink. The
// feeder never hands the sink more than it has room for.
type fileInput struct {
	f    *os.File
	sink pvr.Sink
	log  logger.Logger

	mu   sync.Mutex
	pos  int64
	gen  uint64
	done bool

	wake      chan struct{}
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	release   func()
}

func openFile(path string, cfg config.DeviceConfig, sink pvr.Sink, log logger.Logger, release func()) (*fileInput, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", path, pvr.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	in := &fileInput{
		f:       f,
		sink:    sink,
		log:     log,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		release: release,
	}
	in.wg.Add(1)
	go in.feed()
	return in, nil
}

func (in *fileInput) feed() {
	defer in.wg.Done()

	buf := make([]byte, fileChunk)
	for {
		select {
		case <-in.quit:
			return
		default:
		}

		in.mu.Lock()
		if in.done {
			in.mu.Unlock()
			in.sleep(0)
			continue
		}
		pos, gen := in.pos, in.gen
		in.mu.Unlock()

		free := in.sink.Free()
		if free < len(buf) && free < 188 {
			in.sleep(idlePoll)
			continue
		}
		want := len(buf)
		if free < want {
			want = free - free%188
		}

		n, err := in.f.ReadAt(buf[:want], pos)
		// a packet the recorder has only partly flushed is read again
		// after Resume
		whole := n - n%188
		if whole > 0 {
			in.mu.Lock()
			if in.gen == gen {
				k := in.sink.Put(buf[:whole])
				in.pos += int64(k)
				metrics.AddInputBytes("file", k)
			}
			in.mu.Unlock()
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			in.log.WithError(err).Error("Recording read failed")
		}
		in.mu.Lock()
		if in.gen == gen && n < want {
			in.done = true
			in.sink.SetEndOfData(true)
		}
		in.mu.Unlock()
	}
}

func (in *fileInput) sleep(d time.Duration) {
	if d == 0 {
		select {
		case <-in.wake:
		case <-in.quit:
		}
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-in.wake:
	case <-in.quit:
	case <-t.C:
	}
}

func (in *fileInput) kick() {
	select {
	case in.wake <- struct{}{}:
	default:
	}
}

// Seek drops buffered data and restarts feeding at off.
func (in *fileInput) Seek(off int64) error {
	if off < 0 {
		return fmt.Errorf("seek to %d: %w", off, pvr.ErrInvalid)
	}
	in.mu.Lock()
	in.pos = off
	in.gen++
	in.done = false
	in.sink.Clear()
	in.mu.Unlock()
	in.kick()
	return nil
}

// Resume continues feeding after the end of file was reached, picking up
// whatever was appended since.
func (in *fileInput) Resume() error {
	in.mu.Lock()
	in.done = false
	in.sink.SetEndOfData(false)
	in.mu.Unlock()
	in.kick()
	return nil
}

func (in *fileInput) Done() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.done
}

// Position returns the file offset of the next byte handed to the sink.
func (in *fileInput) Position() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pos
}

func (in *fileInput) Size() int64 {
	st, err := in.f.Stat()
	if err != nil {
		return 0
	}
	return st.Size()
}

func (in *fileInput) ReadAt(p []byte, off int64) (int, error) {
	return in.f.ReadAt(p, off)
}

func (in *fileInput) Seekable() bool { return true }

func (in *fileInput) SignalInfo() pvr.SignalInfo {
	return pvr.SignalInfo{Adapter: "file", Status: "PLAYBACK"}
}

func (in *fileInput) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.quit)
		in.wg.Wait()
		err = in.f.Close()
		in.release()
	})
	return err
}
