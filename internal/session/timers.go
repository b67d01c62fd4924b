package session

import (
	"context"
	"time"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/wire"
)

func unixU32(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix())
}

func fromUnix(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

func addTimer(resp *wire.Response, t *pvr.Timer) {
	typ := pvr.TimerTypeManual
	if t.WeekDays != 0 {
		typ = pvr.TimerTypeRepeat
	}
	resp.AddU32(typ)
	resp.AddU32(t.Index)
	resp.AddU32(boolU32(t.Active))
	resp.AddU32(boolU32(t.Recording))
	resp.AddU32(boolU32(t.Pending))
	resp.AddU32(t.Priority)
	resp.AddU32(t.Lifetime)
	resp.AddU32(t.ChannelUID)
	resp.AddU32(unixU32(t.Start))
	resp.AddU32(unixU32(t.Stop))
	resp.AddU32(unixU32(t.Day))
	resp.AddU32(t.WeekDays)
	resp.AddString(toUTF8(t.Filename))
}

// extractTimer reads the timer fields shared by TIMER_ADD and
// TIMER_UPDATE.
func (s *Session) extractTimer(req *wire.Request) (pvr.Timer, error) {
	var (
		t      pvr.Timer
		fields [9]uint32
		err    error
	)
	for i := range fields {
		if fields[i], err = req.ExtractU32(); err != nil {
			return t, err
		}
	}
	if t.Filename, err = req.ExtractString(); err != nil {
		return t, err
	}
	if !req.EOP() {
		if t.Aux, err = req.ExtractString(); err != nil {
			return t, err
		}
	}

	// fields[0] is the timer type, implied by the week days
	t.Active = fields[1] != 0
	t.Priority = fields[2]
	t.Lifetime = fields[3]
	t.ChannelUID = fields[4]
	t.Start = fromUnix(fields[5])
	t.Stop = fromUnix(fields[6])
	t.Day = fromUnix(fields[7])
	t.WeekDays = fields[8]

	if _, err := s.deps.Channels.Lookup(t.ChannelUID); err != nil {
		return t, apperrors.Wrap(err, apperrors.ErrorTypeInvalidData, "timer for unknown channel")
	}
	return t, nil
}

func (s *Session) handleTimersCount(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	resp.AddU32(uint32(len(s.deps.Timers.Timers())))
	return resp, nil
}

func (s *Session) handleTimerGet(_ context.Context, req *wire.Request) (*wire.Response, error) {
	index, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	t, err := s.deps.Timers.Timer(index)
	if err != nil {
		return nil, err
	}
	resp := okResponse(req)
	addTimer(resp, t)
	return resp, nil
}

func (s *Session) handleTimersList(_ context.Context, req *wire.Request) (*wire.Response, error) {
	timers := s.deps.Timers.Timers()
	resp := okResponse(req)
	resp.AddU32(uint32(len(timers)))
	for i := range timers {
		addTimer(resp, &timers[i])
	}
	return resp, nil
}

func (s *Session) handleTimerAdd(_ context.Context, req *wire.Request) (*wire.Response, error) {
	t, err := s.extractTimer(req)
	if err != nil {
		return nil, err
	}
	added, err := s.deps.Timers.Add(t)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{
		"timer":   added.Index,
		"channel": added.ChannelUID,
		"start":   added.Start,
	}).Info("Timer added")
	return okResponse(req), nil
}

func (s *Session) handleTimerDelete(_ context.Context, req *wire.Request) (*wire.Response, error) {
	index, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	force, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Timers.Delete(index, force != 0); err != nil {
		return nil, err
	}
	s.log.WithField("timer", index).Info("Timer deleted")
	return okResponse(req), nil
}

func (s *Session) handleTimerUpdate(_ context.Context, req *wire.Request) (*wire.Response, error) {
	index, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	t, err := s.extractTimer(req)
	if err != nil {
		return nil, err
	}
	t.Index = index
	if err := s.deps.Timers.Update(t); err != nil {
		return nil, err
	}
	return okResponse(req), nil
}

func (s *Session) handleTimerTypes(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	resp.AddU32(2)
	resp.AddU32(pvr.TimerTypeManual)
	resp.AddU32(pvr.TimerTypeRepeat)
	return resp, nil
}
