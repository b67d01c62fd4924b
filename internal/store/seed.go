package store

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
)

// seedFile is the YAML lineup format. Events and recordings refer to
// channels by number.
type seedFile struct {
	Channels   []pvr.Channel   `yaml:"channels"`
	Whitelist  []pvr.Provider  `yaml:"whitelist"`
	Blacklist  []int           `yaml:"blacklist"`
	EPG        []seedSchedule  `yaml:"epg"`
	Recordings []seedRecording `yaml:"recordings"`
	Timers     []seedTimer     `yaml:"timers"`
}

type seedSchedule struct {
	Channel int         `yaml:"channel"`
	Events  []seedEvent `yaml:"events"`
}

type seedEvent struct {
	ID          uint32        `yaml:"id"`
	Start       time.Time     `yaml:"start"`
	Duration    time.Duration `yaml:"duration"`
	Title       string        `yaml:"title"`
	ShortText   string        `yaml:"short_text"`
	Description string        `yaml:"description"`
	Content     uint32        `yaml:"content"`
	Rating      uint32        `yaml:"parental_rating"`
}

type seedRecording struct {
	Channel     int           `yaml:"channel"`
	File        string        `yaml:"file"`
	Start       time.Time     `yaml:"start"`
	Duration    time.Duration `yaml:"duration"`
	Title       string        `yaml:"title"`
	ShortText   string        `yaml:"short_text"`
	Description string        `yaml:"description"`
	Directory   string        `yaml:"directory"`
	Running     bool          `yaml:"running"`
}

type seedTimer struct {
	Channel  int       `yaml:"channel"`
	Start    time.Time `yaml:"start"`
	Stop     time.Time `yaml:"stop"`
	Priority uint32    `yaml:"priority"`
	Lifetime uint32    `yaml:"lifetime"`
	WeekDays uint32    `yaml:"weekdays"`
	Filename string    `yaml:"filename"`
}

// SeedFile loads a YAML lineup from path.
func (s *Store) SeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()
	return s.Seed(f)
}

// Seed replaces the lineup with the YAML document in r and adds the EPG,
// recordings and timers it lists.
func (s *Store) Seed(r io.Reader) error {
	var doc seedFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("decoding seed: %w", err)
	}

	if err := s.channels.Replace(doc.Channels); err != nil {
		return err
	}
	byNumber := make(map[int]*pvr.Channel, len(doc.Channels))
	for i := range doc.Channels {
		byNumber[doc.Channels[i].Number] = &doc.Channels[i]
	}
	uidOf := func(number int) (uint32, string, error) {
		ch, ok := byNumber[number]
		if !ok {
			return 0, "", fmt.Errorf("seed refers to unknown channel %d", number)
		}
		return ch.UID(), ch.Name, nil
	}

	if doc.Whitelist != nil {
		if err := s.channels.SetWhitelist(doc.Whitelist); err != nil {
			return err
		}
	}
	if doc.Blacklist != nil {
		uids := make([]uint32, 0, len(doc.Blacklist))
		for _, n := range doc.Blacklist {
			uid, _, err := uidOf(n)
			if err != nil {
				return err
			}
			uids = append(uids, uid)
		}
		if err := s.channels.SetBlacklist(uids); err != nil {
			return err
		}
	}

	for _, sched := range doc.EPG {
		uid, _, err := uidOf(sched.Channel)
		if err != nil {
			return err
		}
		events := make([]pvr.Event, len(sched.Events))
		for i, e := range sched.Events {
			events[i] = pvr.Event{
				ID: e.ID, Start: e.Start, Duration: e.Duration,
				Title: e.Title, ShortText: e.ShortText, Description: e.Description,
				Content: e.Content, ParentalRating: e.Rating,
			}
		}
		if err := s.schedule.Replace(uid, events); err != nil {
			return err
		}
	}

	for _, sr := range doc.Recordings {
		uid, name, err := uidOf(sr.Channel)
		if err != nil {
			return err
		}
		err = s.recordings.Add(pvr.Recording{
			ChannelUID: uid, ChannelName: name,
			Start: sr.Start, Duration: sr.Duration,
			Title: sr.Title, ShortText: sr.ShortText, Description: sr.Description,
			Directory: sr.Directory, FileName: sr.File,
			Lifetime: 99, Priority: 50, New: true, Running: sr.Running,
		})
		if err != nil {
			return err
		}
	}

	for _, st := range doc.Timers {
		uid, _, err := uidOf(st.Channel)
		if err != nil {
			return err
		}
		_, err = s.timers.Add(pvr.Timer{
			Active: true, ChannelUID: uid,
			Start: st.Start, Stop: st.Stop, Day: st.Start,
			Priority: st.Priority, Lifetime: st.Lifetime, WeekDays: st.WeekDays,
			Filename: st.Filename,
		})
		if err != nil {
			return err
		}
	}

	s.log.WithFields(logger.Fields{
		"channels":   len(doc.Channels),
		"schedules":  len(doc.EPG),
		"recordings": len(doc.Recordings),
		"timers":     len(doc.Timers),
	}).Info("Seed loaded")
	return nil
}
