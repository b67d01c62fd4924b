package session

import (
	"context"
	"time"

	"github.com/vnsid/vnsid/internal/wire"
)

// handleEpg returns the events of a channel overlapping a time window and
// remembers the newest start seen so later additions trigger an EPG
// change notification.
func (s *Session) handleEpg(_ context.Context, req *wire.Request) (*wire.Response, error) {
	uid, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	start, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	duration, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Channels.Lookup(uid); err != nil {
		return nil, err
	}

	events := s.deps.Schedule.Events(uid, fromUnix(start), time.Duration(duration)*time.Second)

	last, ok := s.deps.Schedule.LastEventStart(uid)
	s.mu.Lock()
	if ok {
		s.epgUpdate[uid] = last
	} else if _, tracked := s.epgUpdate[uid]; !tracked {
		s.epgUpdate[uid] = time.Time{}
	}
	s.mu.Unlock()

	resp := wire.NewResponse(req.ID)
	if len(events) == 0 {
		resp.AddU32(0)
		return resp, nil
	}
	for _, e := range events {
		resp.AddU32(e.ID)
		resp.AddU32(unixU32(e.Start))
		resp.AddU32(uint32(e.Duration.Seconds()))
		resp.AddU32(e.Content & 0xF0)
		resp.AddU32(e.Content & 0x0F)
		resp.AddU32(e.ParentalRating)
		resp.AddString(toUTF8(e.Title))
		resp.AddString(toUTF8(e.ShortText))
		resp.AddString(toUTF8(e.Description))
	}
	return resp, nil
}
