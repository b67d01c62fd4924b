package registry

import (
	"fmt"
	"time"
)

// Kind tells live streams from recording playback.
type Kind string

const (
	KindLive      Kind = "live"
	KindRecording Kind = "recording"
)

// StreamStatus represents the current status of a stream
type StreamStatus string

const (
	StatusStarting StreamStatus = "starting"
	StatusActive   StreamStatus = "active"
	StatusPaused   StreamStatus = "paused"
	StatusStarved  StreamStatus = "starved"
	StatusClosed   StreamStatus = "closed"
)

// Stream is one client stream served by some vnsid process.
type Stream struct {
	ID            string       `json:"id"`
	Kind          Kind         `json:"kind"`
	SessionID     string       `json:"session_id"`
	Client        string       `json:"client"`
	RemoteAddr    string       `json:"remote_addr"`
	ChannelUID    uint32       `json:"channel_uid"`
	ChannelName   string       `json:"channel_name"`
	Status        StreamStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`

	// Statistics
	Serial  uint32 `json:"serial"`
	Packets int64  `json:"packets"`
	Bytes   int64  `json:"bytes"`
	Errors  string `json:"errors"`
}

// StreamStats is the part of a Stream refreshed by telemetry.
type StreamStats struct {
	Serial  uint32
	Packets int64
	Bytes   int64
	Errors  string
}

// StreamID builds the registry key of a session's stream.
func StreamID(kind Kind, sessionID string) string {
	return fmt.Sprintf("%s_%s", kind, sessionID)
}

// ApplyStats copies stats into s.
func (s *Stream) ApplyStats(stats *StreamStats) {
	s.Serial = stats.Serial
	s.Packets = stats.Packets
	s.Bytes = stats.Bytes
	s.Errors = stats.Errors
}
