package store

import (
	"time"

	"github.com/vnsid/vnsid/internal/pvr"
)

type channelRow struct {
	UID      uint32 `gorm:"column:uid;primaryKey;autoIncrement:false"`
	Number   int    `gorm:"column:number;index"`
	Source   string `gorm:"size:64"`
	NID      uint16 `gorm:"column:nid"`
	TID      uint16 `gorm:"column:tid"`
	SID      uint16 `gorm:"column:sid"`
	Name     string `gorm:"size:255;not null"`
	Provider string `gorm:"size:255"`
	Radio    bool   `gorm:"column:radio;index"`

	Groups []string          `gorm:"column:group_names;type:text;serializer:json"`
	CAIDs  []uint16          `gorm:"column:caids;type:text;serializer:json"`
	VPID   uint16            `gorm:"column:vpid"`
	VType  string            `gorm:"column:vtype;size:32"`
	APIDs  []pvr.AudioPID    `gorm:"column:apids;type:text;serializer:json"`
	DPIDs  []pvr.AudioPID    `gorm:"column:dpids;type:text;serializer:json"`
	SPIDs  []pvr.SubtitlePID `gorm:"column:spids;type:text;serializer:json"`
	TPID   uint16            `gorm:"column:tpid"`
	PMTPID uint16            `gorm:"column:pmt_pid"`

	InputURL string `gorm:"size:2048"`
}

func (channelRow) TableName() string { return "channels" }

func channelToRow(ch *pvr.Channel) channelRow {
	return channelRow{
		UID: ch.UID(), Number: ch.Number, Source: ch.Source,
		NID: ch.NID, TID: ch.TID, SID: ch.SID,
		Name: ch.Name, Provider: ch.Provider, Radio: ch.Radio,
		Groups: ch.Groups, CAIDs: ch.CAIDs,
		VPID: ch.VPID, VType: ch.VType,
		APIDs: ch.APIDs, DPIDs: ch.DPIDs, SPIDs: ch.SPIDs,
		TPID: ch.TPID, PMTPID: ch.PMTPID, InputURL: ch.InputURL,
	}
}

func (r *channelRow) channel() pvr.Channel {
	return pvr.Channel{
		Source: r.Source, NID: r.NID, TID: r.TID, SID: r.SID,
		Number: r.Number, Name: r.Name, Provider: r.Provider, Radio: r.Radio,
		Groups: r.Groups, CAIDs: r.CAIDs,
		VPID: r.VPID, VType: r.VType,
		APIDs: r.APIDs, DPIDs: r.DPIDs, SPIDs: r.SPIDs,
		TPID: r.TPID, PMTPID: r.PMTPID, InputURL: r.InputURL,
	}
}

type providerRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:255"`
	CAID uint32 `gorm:"column:caid"`
}

func (providerRow) TableName() string { return "provider_whitelist" }

type blacklistRow struct {
	UID uint32 `gorm:"column:uid;primaryKey;autoIncrement:false"`
}

func (blacklistRow) TableName() string { return "channel_blacklist" }

type timerRow struct {
	Index      uint32 `gorm:"column:idx;primaryKey;autoIncrement:false"`
	Active     bool
	Recording  bool
	Pending    bool
	Priority   uint32
	Lifetime   uint32
	ChannelUID uint32 `gorm:"index"`
	Start      time.Time
	Stop       time.Time
	Day        time.Time
	WeekDays   uint32
	Filename   string `gorm:"size:1024"`
	Aux        string `gorm:"type:text"`
}

func (timerRow) TableName() string { return "timers" }

func timerToRow(t *pvr.Timer) timerRow {
	return timerRow{
		Index: t.Index, Active: t.Active, Recording: t.Recording, Pending: t.Pending,
		Priority: t.Priority, Lifetime: t.Lifetime, ChannelUID: t.ChannelUID,
		Start: t.Start, Stop: t.Stop, Day: t.Day, WeekDays: t.WeekDays,
		Filename: t.Filename, Aux: t.Aux,
	}
}

func (r *timerRow) timer() pvr.Timer {
	return pvr.Timer{
		Index: r.Index, Active: r.Active, Recording: r.Recording, Pending: r.Pending,
		Priority: r.Priority, Lifetime: r.Lifetime, ChannelUID: r.ChannelUID,
		Start: r.Start, Stop: r.Stop, Day: r.Day, WeekDays: r.WeekDays,
		Filename: r.Filename, Aux: r.Aux,
	}
}

type recordingRow struct {
	UID         uint32 `gorm:"column:uid;primaryKey;autoIncrement:false"`
	FileName    string `gorm:"size:1024;uniqueIndex"`
	ChannelUID  uint32 `gorm:"index"`
	ChannelName string `gorm:"size:255"`
	Start       time.Time
	DurationSec int64
	Priority    uint32
	Lifetime    uint32
	Title       string `gorm:"size:512"`
	ShortText   string `gorm:"size:512"`
	Description string `gorm:"type:text"`
	Directory   string `gorm:"size:1024"`
	IsNew       bool
	Running     bool `gorm:"index"`
}

func (recordingRow) TableName() string { return "recordings" }

func recordingToRow(r *pvr.Recording) recordingRow {
	return recordingRow{
		UID: r.UID(), FileName: r.FileName,
		ChannelUID: r.ChannelUID, ChannelName: r.ChannelName,
		Start: r.Start, DurationSec: int64(r.Duration / time.Second),
		Priority: r.Priority, Lifetime: r.Lifetime,
		Title: r.Title, ShortText: r.ShortText, Description: r.Description,
		Directory: r.Directory, IsNew: r.New, Running: r.Running,
	}
}

func (r *recordingRow) recording() pvr.Recording {
	return pvr.Recording{
		ChannelUID: r.ChannelUID, ChannelName: r.ChannelName,
		Start: r.Start, Duration: time.Duration(r.DurationSec) * time.Second,
		Priority: r.Priority, Lifetime: r.Lifetime,
		Title: r.Title, ShortText: r.ShortText, Description: r.Description,
		Directory: r.Directory, FileName: r.FileName,
		New: r.IsNew, Running: r.Running,
	}
}

type eventRow struct {
	RowID          uint      `gorm:"column:row_id;primaryKey"`
	EventID        uint32    `gorm:"column:event_id"`
	ChannelUID     uint32    `gorm:"index:idx_event_channel_start,priority:1"`
	Start          time.Time `gorm:"index:idx_event_channel_start,priority:2"`
	DurationSec    int64
	Title          string `gorm:"size:512"`
	ShortText      string `gorm:"size:512"`
	Description    string `gorm:"type:text"`
	Content        uint32
	ParentalRating uint32
}

func (eventRow) TableName() string { return "events" }

func eventToRow(e *pvr.Event) eventRow {
	return eventRow{
		EventID: e.ID, ChannelUID: e.ChannelUID,
		Start: e.Start, DurationSec: int64(e.Duration / time.Second),
		Title: e.Title, ShortText: e.ShortText, Description: e.Description,
		Content: e.Content, ParentalRating: e.ParentalRating,
	}
}

func (r *eventRow) event() pvr.Event {
	return pvr.Event{
		ID: r.EventID, ChannelUID: r.ChannelUID,
		Start: r.Start, Duration: time.Duration(r.DurationSec) * time.Second,
		Title: r.Title, ShortText: r.ShortText, Description: r.Description,
		Content: r.Content, ParentalRating: r.ParentalRating,
	}
}

type setupRow struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value uint32
}

func (setupRow) TableName() string { return "setup" }
