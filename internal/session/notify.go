package session

import (
	"slices"
	"time"

	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/wire"
)

// Message types of STATUS_MESSAGE.
const (
	MessageInfo    uint32 = 0
	MessageWarning uint32 = 1
	MessageError   uint32 = 2
)

// StatusEnabled reports whether the client asked for notifications.
func (s *Session) StatusEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusEnabled && s.loggedIn
}

func (s *Session) notify(kind string, resp *wire.Response) error {
	if !s.StatusEnabled() {
		return nil
	}
	metrics.IncrementNotification(kind)
	return s.Send(resp)
}

func (s *Session) NotifyTimerChange() error {
	return s.notify("timer", wire.NewStatus(wire.StatusTimerChange))
}

func (s *Session) NotifyRecordingsChange() error {
	return s.notify("recordings", wire.NewStatus(wire.StatusRecordingsChange))
}

func (s *Session) NotifyChannelChange() error {
	return s.notify("channels", wire.NewStatus(wire.StatusChannelChange))
}

// NotifyRecording announces that rec started (on) or finished.
func (s *Session) NotifyRecording(rec *pvr.Recording, on bool) error {
	resp := wire.NewStatus(wire.StatusRecording)
	resp.AddU32(0)
	resp.AddU32(boolU32(on))
	resp.AddString(toUTF8(rec.Title))
	resp.AddString(toUTF8(rec.FileName))
	return s.notify("recording", resp)
}

// NotifyMessage shows text on the client.
func (s *Session) NotifyMessage(kind uint32, text string) error {
	resp := wire.NewStatus(wire.StatusMessage)
	resp.AddU32(kind)
	resp.AddString(toUTF8(text))
	return s.notify("message", resp)
}

// CheckEpg sends an EPG change for every channel the client fetched a
// schedule for whose newest event is later than what it has seen.
func (s *Session) CheckEpg(schedule pvr.ScheduleManager) error {
	if !s.StatusEnabled() {
		return nil
	}

	s.mu.Lock()
	seen := make(map[uint32]time.Time, len(s.epgUpdate))
	for uid, t := range s.epgUpdate {
		seen[uid] = t
	}
	s.mu.Unlock()

	latest := make(map[uint32]time.Time)
	for uid, t := range seen {
		if last, ok := schedule.LastEventStart(uid); ok && last.After(t) {
			latest[uid] = last
		}
	}

	var changed []uint32
	s.mu.Lock()
	for uid, last := range latest {
		// a concurrent EPG fetch may have moved the mark already
		if last.After(s.epgUpdate[uid]) {
			s.epgUpdate[uid] = last
			changed = append(changed, uid)
		}
	}
	s.mu.Unlock()
	slices.Sort(changed)

	for _, uid := range changed {
		resp := wire.NewStatus(wire.StatusEpgChange)
		resp.AddU32(uid)
		if err := s.notify("epg", resp); err != nil {
			return err
		}
	}
	return nil
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
