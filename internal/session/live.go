package session

import (
	"context"
	"time"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/streamer"
	"github.com/vnsid/vnsid/internal/wire"
)

var errNoStream = apperrors.NewInvalidDataError("no live stream open")

// handleStreamOpen replaces any running stream with the requested
// channel. The streamer writes the reply, OK or error, itself.
func (s *Session) handleStreamOpen(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	uid, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	priority, err := req.ExtractS32()
	if err != nil {
		return nil, err
	}
	timeshift, err := req.ExtractU8()
	if err != nil {
		return nil, err
	}
	timeout, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}

	ch, err := s.deps.Channels.Lookup(uid)
	if err != nil {
		return nil, err
	}

	s.stopStreams()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	st := streamer.New(streamer.Options{
		Stream:      s.opts.Stream,
		StopTimeout: s.opts.Server.StopTimeout,
		SessionID:   s.id,
		Client:      client,
		RemoteAddr:  s.remote,
	}, streamer.Deps{
		Device:     s.deps.Device,
		Channels:   s.deps.Channels,
		Recordings: s.deps.Recordings,
		Registry:   s.deps.Registry,
	}, s, s.log.WithField("timeshift", timeshift != 0))

	err = st.Open(ctx, ch, priority, time.Duration(timeout)*time.Second, req.ID)
	metrics.ObserveRequest(req.Opcode, codeOf(err))
	if err != nil {
		// already answered with the error code
		return nil, nil
	}

	s.mu.Lock()
	s.streamer = st
	s.mu.Unlock()
	return nil, nil
}

func (s *Session) handleStreamClose(_ context.Context, req *wire.Request) (*wire.Response, error) {
	s.mu.Lock()
	st := s.streamer
	s.streamer = nil
	s.mu.Unlock()
	if st != nil {
		st.Stop()
	}
	return okResponse(req), nil
}

// handleStreamSeek takes a wall clock time in milliseconds and answers
// with the serial that packets after the seek carry.
func (s *Session) handleStreamSeek(_ context.Context, req *wire.Request) (*wire.Response, error) {
	wallMs, err := req.ExtractS64()
	if err != nil {
		return nil, err
	}
	st := s.liveStream()
	if st == nil {
		return nil, errNoStream
	}
	serial, err := st.SeekTime(wallMs)
	if err != nil {
		return nil, err
	}
	resp := okResponse(req)
	resp.AddU32(serial)
	return resp, nil
}

func (s *Session) handleStreamPause(_ context.Context, req *wire.Request) (*wire.Response, error) {
	on, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	st := s.liveStream()
	if st == nil {
		return nil, errNoStream
	}
	st.Pause(on != 0)
	return okResponse(req), nil
}

func (s *Session) handleStreamStatus(_ context.Context, req *wire.Request) (*wire.Response, error) {
	st := s.liveStream()
	if st == nil {
		return nil, errNoStream
	}
	st.RequestSignalInfo()
	return okResponse(req), nil
}

func (s *Session) liveStream() *streamer.Streamer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamer
}

func codeOf(err error) uint32 {
	if err == nil {
		return wire.RetOK
	}
	if appErr, ok := apperrors.GetAppError(err); ok {
		return appErr.Code
	}
	return wire.RetError
}
