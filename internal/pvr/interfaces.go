package pvr

import (
	"context"
	"io"
	"net"
	"time"
)

// ChannelManager gives read access to the channel lineup plus the client
// visible provider whitelist and channel blacklist.
type ChannelManager interface {
	Lookup(uid uint32) (*Channel, error)
	LookupByNumber(number int) (*Channel, error)
	Snapshot() []Channel
	Groups(radio bool) []ChannelGroup
	ModificationCounter() uint64

	Whitelist() []Provider
	SetWhitelist(providers []Provider) error
	Blacklist() []uint32
	SetBlacklist(uids []uint32) error
}

// TimerManager manages scheduled recordings.
type TimerManager interface {
	Timers() []Timer
	Timer(index uint32) (*Timer, error)
	Add(t Timer) (*Timer, error)
	Update(t Timer) error
	// Delete fails with ErrRecordingRunning for a recording timer unless
	// force is set.
	Delete(index uint32, force bool) error
	ModificationCounter() uint64
}

// RecordingManager manages recordings on disk.
type RecordingManager interface {
	Recordings() []Recording
	Recording(uid uint32) (*Recording, error)
	Rename(uid uint32, name string) error
	Delete(uid uint32) error
	// ActiveRecording returns the in-progress recording of a channel so a
	// live stream can be served from the file being written.
	ActiveRecording(channelUID uint32) (*Recording, bool)
	Running() []Recording
	ModificationCounter() uint64
	RecordingsDir() string
}

// ScheduleManager gives access to EPG data.
type ScheduleManager interface {
	Events(channelUID uint32, start time.Time, duration time.Duration) []Event
	LastEventStart(channelUID uint32) (time.Time, bool)
	ModificationStamp() uint64
}

// SetupStore holds client visible numeric settings.
type SetupStore interface {
	Get(name string) (uint32, error)
	Set(name string, value uint32) error
}

// Scanner runs channel scans. It is optional; without one the scan
// opcodes answer NOTSUPPORTED.
type Scanner interface {
	SupportedTypes() uint32
	Countries() []ScanOption
	Satellites() []ScanOption
	Start(ctx context.Context, setup ScanSetup, progress func(ScanEvent)) error
	Stop() error
}

// Sink receives raw transport stream bytes from an input.
type Sink interface {
	// Put stores as much of p as fits and returns the stored count.
	Put(p []byte) int
	// Free returns how many bytes Put can take without dropping.
	Free() int
	// SetEndOfData marks that no further bytes follow for now.
	SetEndOfData(eod bool)
	// Clear drops everything not yet consumed.
	Clear()
}

// Input is an open stream source feeding a Sink.
type Input interface {
	io.Closer
	SignalInfo() SignalInfo
	Seekable() bool
}

// FileInput is an Input backed by a file that may still be growing.
type FileInput interface {
	Input
	io.ReaderAt
	Size() int64
	// Seek restarts feeding the sink from off.
	Seek(off int64) error
	// Resume continues feeding from the last position after Done.
	Resume() error
	// Done reports whether feeding reached the end of the file.
	Done() bool
}

// Device opens inputs.
type Device interface {
	Open(ctx context.Context, ch *Channel, priority int32, sink Sink) (Input, error)
	OpenFile(ctx context.Context, path string, sink Sink) (FileInput, error)
}

// AllowedHosts decides which peers may connect.
type AllowedHosts interface {
	Allowed(ip net.IP) bool
}
