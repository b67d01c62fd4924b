package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/registry"
)

// recPlayer serves byte ranges of one recording file. The file may still
// be growing, so its length is read on every call.
type recPlayer struct {
	rec    pvr.Recording
	f      *os.File
	stream string
	reg    registry.Registry
	log    logger.Logger

	blocks    int64
	served    int64
	lastStats time.Time
}

const statsInterval = time.Second

func recordingPath(dir string, rec *pvr.Recording) string {
	if filepath.IsAbs(rec.FileName) {
		return rec.FileName
	}
	return filepath.Join(dir, rec.FileName)
}

func openRecPlayer(ctx context.Context, dir string, rec *pvr.Recording, info registry.Stream, reg registry.Registry, log logger.Logger) (*recPlayer, error) {
	path := recordingPath(dir, rec)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", path, pvr.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	p := &recPlayer{
		rec:    *rec,
		f:      f,
		stream: info.ID,
		reg:    reg,
		log:    log.WithField("recording", rec.FileName),
	}
	if reg != nil {
		info.Kind = registry.KindRecording
		info.ChannelUID = rec.ChannelUID
		info.ChannelName = rec.ChannelName
		info.Status = registry.StatusActive
		if err := reg.Register(ctx, &info); err != nil {
			p.log.WithError(err).Warn("Failed to register playback")
		}
	}
	p.log.Info("Recording playback opened")
	return p, nil
}

// Length returns the current file size.
func (p *recPlayer) Length() (uint64, error) {
	st, err := p.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(st.Size()), nil
}

// Block reads up to n bytes at pos. Reading at or past the end returns an
// empty slice.
func (p *recPlayer) Block(pos uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	k, err := p.f.ReadAt(buf, int64(pos))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	p.blocks++
	p.served += int64(k)
	if p.reg != nil && time.Since(p.lastStats) >= statsInterval {
		p.lastStats = time.Now()
		stats := &registry.StreamStats{Packets: p.blocks, Bytes: p.served}
		if err := p.reg.UpdateStats(context.Background(), p.stream, stats); err != nil {
			p.log.WithError(err).Debug("Failed to update playback stats")
		}
	}
	return buf[:k], nil
}

func (p *recPlayer) Close(ctx context.Context) error {
	if p.reg != nil {
		if err := p.reg.Unregister(ctx, p.stream); err != nil && !errors.Is(err, registry.ErrStreamNotFound) {
			p.log.WithError(err).Debug("Failed to unregister playback")
		}
	}
	p.log.Info("Recording playback closed")
	return p.f.Close()
}
