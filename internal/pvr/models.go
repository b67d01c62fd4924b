package pvr

import (
	"hash/crc32"
	"time"
)

// Timer is a scheduled recording.
type Timer struct {
	Index      uint32    `json:"index"`
	Active     bool      `json:"active"`
	Recording  bool      `json:"recording"`
	Pending    bool      `json:"pending"`
	Priority   uint32    `json:"priority"`
	Lifetime   uint32    `json:"lifetime"`
	ChannelUID uint32    `json:"channel_uid"`
	Start      time.Time `json:"start"`
	Stop       time.Time `json:"stop"`
	Day        time.Time `json:"day"`
	WeekDays   uint32    `json:"weekdays"`
	Filename   string    `json:"filename"`
	Aux        string    `json:"aux,omitempty"`
}

// Timer types reported by TIMER_GETTYPES.
const (
	TimerTypeManual uint32 = 1
	TimerTypeRepeat uint32 = 2
)

// Recording is a finished or in-progress recording on disk.
type Recording struct {
	ChannelUID  uint32        `json:"channel_uid"`
	ChannelName string        `json:"channel_name"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	Priority    uint32        `json:"priority"`
	Lifetime    uint32        `json:"lifetime"`
	Title       string        `json:"title"`
	ShortText   string        `json:"short_text"`
	Description string        `json:"description"`
	Directory   string        `json:"directory"`
	// FileName is the transport stream file relative to the recordings
	// directory.
	FileName string `json:"file_name"`
	New      bool   `json:"new"`
	Running  bool   `json:"running"`
}

// UID identifies a recording by its file name.
func (r *Recording) UID() uint32 {
	return crc32.ChecksumIEEE([]byte(r.FileName))
}

// Event is one EPG entry.
type Event struct {
	ID             uint32        `json:"id"`
	ChannelUID     uint32        `json:"channel_uid"`
	Start          time.Time     `json:"start"`
	Duration       time.Duration `json:"duration"`
	Title          string        `json:"title"`
	ShortText      string        `json:"short_text"`
	Description    string        `json:"description"`
	Content        uint32        `json:"content"`
	ParentalRating uint32        `json:"parental_rating"`
}

// End returns the end time of the event.
func (e *Event) End() time.Time { return e.Start.Add(e.Duration) }

// SignalInfo is the reception quality of an input.
type SignalInfo struct {
	Adapter string `json:"adapter"`
	Status  string `json:"status"`
	// Strength values scaled to 0..0xFFFF.
	SNR    uint32 `json:"snr"`
	Signal uint32 `json:"signal"`
	BER    uint32 `json:"ber"`
	UNC    uint32 `json:"unc"`
}

// ScanOption is a country or satellite a scanner can be asked for.
type ScanOption struct {
	Index    uint32 `json:"index"`
	Name     string `json:"name"`
	LongName string `json:"long_name"`
}

// ScanSetup selects what a channel scan covers.
type ScanSetup struct {
	Type       uint32
	Country    uint32
	Satellite  uint32
	FreeToAir  bool
	Encrypted  bool
	HD         bool
	Radio      bool
	TV         bool
	Inversion  uint32
	SymbolRate uint32
	Modulation uint32
}

// ScanEventKind enumerates scanner progress notifications.
type ScanEventKind int

const (
	ScanEventPercentage ScanEventKind = iota
	ScanEventSignal
	ScanEventDevice
	ScanEventTransponder
	ScanEventFoundChannel
	ScanEventFinished
	ScanEventStatus
)

// ScanEvent is one progress notification from a running scan.
type ScanEvent struct {
	Kind    ScanEventKind
	Value   uint32
	Text    string
	Radio   bool
	Channel *Channel
}
