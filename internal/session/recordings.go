package session

import (
	"context"

	"github.com/shirou/gopsutil/v4/disk"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/wire"
)

var errRecordingInUse = apperrors.NewLockedError("recording is being played")

func (s *Session) handleDiskSize(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	dir := s.deps.Recordings.RecordingsDir()
	if dir == "" {
		dir = "."
	}
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return nil, apperrors.WrapTransientIO(err, "disk usage")
	}
	const mb = 1024 * 1024
	resp := wire.NewResponse(req.ID)
	resp.AddU32(uint32(usage.Total / mb))
	resp.AddU32(uint32(usage.Free / mb))
	resp.AddU32(uint32(usage.UsedPercent))
	return resp, nil
}

func (s *Session) handleRecordingsCount(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	resp.AddU32(uint32(len(s.deps.Recordings.Recordings())))
	return resp, nil
}

func (s *Session) handleRecordingsList(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	for _, rec := range s.deps.Recordings.Recordings() {
		resp.AddU32(unixU32(rec.Start))
		resp.AddU32(uint32(rec.Duration.Seconds()))
		resp.AddU32(rec.Priority)
		resp.AddU32(rec.Lifetime)
		resp.AddString(toUTF8(rec.ChannelName))
		resp.AddString(toUTF8(rec.Title))
		resp.AddString(toUTF8(rec.ShortText))
		resp.AddString(toUTF8(rec.Description))
		resp.AddString(toUTF8(rec.Directory))
		resp.AddU32(rec.UID())
		resp.AddU32(boolU32(rec.New))
		resp.AddU32(boolU32(rec.Running))
		resp.AddU32(rec.ChannelUID)
	}
	return resp, nil
}

func (s *Session) handleRecordingRename(_ context.Context, req *wire.Request) (*wire.Response, error) {
	uid, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	name, err := req.ExtractString()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Recordings.Rename(uid, name); err != nil {
		return nil, err
	}
	return okResponse(req), nil
}

// handleRecordingDelete refuses a recording this session is playing and
// one still being written.
func (s *Session) handleRecordingDelete(_ context.Context, req *wire.Request) (*wire.Response, error) {
	uid, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	if p := s.recording(); p != nil && p.rec.UID() == uid {
		return nil, errRecordingInUse
	}
	if err := s.deps.Recordings.Delete(uid); err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{"uid": uid}).Info("Recording deleted")
	return okResponse(req), nil
}

// handleRecordingEdl answers with an empty cut list.
func (s *Session) handleRecordingEdl(_ context.Context, req *wire.Request) (*wire.Response, error) {
	if _, err := req.ExtractU32(); err != nil {
		return nil, err
	}
	return wire.NewResponse(req.ID), nil
}
