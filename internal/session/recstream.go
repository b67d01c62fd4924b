package session

import (
	"context"
	"time"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/registry"
	"github.com/vnsid/vnsid/internal/ringbuffer"
	"github.com/vnsid/vnsid/internal/wire"
)

const defaultMaxBlock = 512 * 1024

var errNoRecording = apperrors.NewInvalidDataError("no recording open")

func (s *Session) handleRecOpen(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	uid, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	rec, err := s.deps.Recordings.Recording(uid)
	if err != nil {
		return nil, err
	}

	s.stopStreams()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	p, err := openRecPlayer(ctx, s.deps.Recordings.RecordingsDir(), rec, registry.Stream{
		ID:         registry.StreamID(registry.KindRecording, s.id),
		SessionID:  s.id,
		Client:     client,
		RemoteAddr: s.remote,
	}, s.deps.Registry, s.log)
	if err != nil {
		return nil, err
	}
	length, err := p.Length()
	if err != nil {
		_ = p.Close(ctx)
		return nil, apperrors.WrapTransientIO(err, "stat recording")
	}

	s.mu.Lock()
	s.player = p
	s.mu.Unlock()

	resp := okResponse(req)
	resp.AddU32(0) // frame count, no index
	resp.AddU64(length)
	resp.AddU8(1) // transport stream
	return resp, nil
}

func (s *Session) handleRecClose(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	s.mu.Lock()
	p := s.player
	s.player = nil
	s.mu.Unlock()
	if p != nil {
		if err := p.Close(ctx); err != nil {
			s.log.WithError(err).Debug("Closing recording")
		}
	}
	return okResponse(req), nil
}

// handleRecGetBlock returns raw bytes of the open recording. Bulk reads
// back off while a live ring buffer asks for the I/O throttle.
func (s *Session) handleRecGetBlock(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	pos, err := req.ExtractU64()
	if err != nil {
		return nil, err
	}
	amount, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	p := s.recording()
	if p == nil {
		return nil, errNoRecording
	}

	limit := s.opts.Recordings.MaxBlockLength
	if limit <= 0 {
		limit = defaultMaxBlock
	}
	n := int(min(amount, uint32(limit)))

	s.throttle(ctx)

	data, err := p.Block(pos, n)
	if err != nil {
		return nil, apperrors.WrapTransientIO(err, "reading recording")
	}
	resp := wire.NewResponse(req.ID)
	if len(data) == 0 {
		resp.AddU32(0)
		return resp, nil
	}
	resp.AddBytes(data)
	return resp, nil
}

// throttle waits while the global I/O throttle is engaged, at most for
// the read timeout.
func (s *Session) throttle(ctx context.Context) {
	pause := s.opts.Recordings.ThrottlePause
	if pause <= 0 || !ringbuffer.Throttled() {
		return
	}
	deadline := time.Now().Add(s.opts.Server.ReadTimeout)
	for ringbuffer.Throttled() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}

func (s *Session) handleRecGetLength(_ context.Context, req *wire.Request) (*wire.Response, error) {
	p := s.recording()
	if p == nil {
		return nil, errNoRecording
	}
	length, err := p.Length()
	if err != nil {
		return nil, apperrors.WrapTransientIO(err, "stat recording")
	}
	resp := wire.NewResponse(req.ID)
	resp.AddU64(length)
	resp.AddU32(0)
	return resp, nil
}

func (s *Session) recording() *recPlayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}
