// Package wire implements the VNSI framing: request decoding and response,
// stream and status frame encoding.
package wire

// Protocol versions announced and accepted in the login handshake.
const (
	ProtocolVersion    uint32 = 13
	MinProtocolVersion uint32 = 5
)

// MaxPayloadLength caps the data length of a client request.
const MaxPayloadLength = 200000

// Channel tags multiplexed over one connection.
const (
	ChannelRequestResponse uint32 = 1
	ChannelStream          uint32 = 2
	ChannelKeepAlive       uint32 = 3
	ChannelNetLog          uint32 = 4
	ChannelStatus          uint32 = 5
	ChannelScan            uint32 = 6
)

// Header sizes in bytes.
const (
	RequestHeaderSize  = 16 // channel, request id, opcode, data length
	ResponseHeaderSize = 12 // channel, request id, length
	StreamHeaderSize   = 40 // channel, opcode, stream id, duration, pts, dts, serial, length
	StatusHeaderSize   = 12 // channel, opcode, length
)

// Return codes carried as the first U32 of most responses.
const (
	RetOK           uint32 = 0
	RetRecRunning   uint32 = 1
	RetNotSupported uint32 = 995
	RetDataUnknown  uint32 = 996
	RetDataLocked   uint32 = 997
	RetDataInvalid  uint32 = 998
	RetError        uint32 = 999
)

// Request opcodes.
const (
	// General
	OpLogin                 uint32 = 1
	OpGetTime               uint32 = 2
	OpEnableStatusInterface uint32 = 3
	OpPing                  uint32 = 7
	OpGetSetup              uint32 = 8
	OpStoreSetup            uint32 = 9

	// Live streaming
	OpChannelStreamOpen          uint32 = 20
	OpChannelStreamClose         uint32 = 21
	OpChannelStreamSeek          uint32 = 22
	OpChannelStreamPause         uint32 = 23
	OpChannelStreamStatusRequest uint32 = 24

	// Recording playback
	OpRecStreamOpen       uint32 = 40
	OpRecStreamClose      uint32 = 41
	OpRecStreamGetBlock   uint32 = 42
	OpRecStreamPosToFrame uint32 = 43
	OpRecStreamFrameToPos uint32 = 44
	OpRecStreamGetIFrame  uint32 = 45
	OpRecStreamGetLength  uint32 = 46

	// Channels
	OpChannelsGetCount     uint32 = 61
	OpChannelsGetChannels  uint32 = 63
	OpChannelGroupGetCount uint32 = 65
	OpChannelGroupList     uint32 = 66
	OpChannelGroupMembers  uint32 = 67
	OpChannelsGetCaids     uint32 = 68
	OpChannelsGetWhitelist uint32 = 69
	OpChannelsGetBlacklist uint32 = 70
	OpChannelsSetWhitelist uint32 = 71
	OpChannelsSetBlacklist uint32 = 72

	// Timers
	OpTimerGetCount uint32 = 80
	OpTimerGet      uint32 = 81
	OpTimerGetList  uint32 = 82
	OpTimerAdd      uint32 = 83
	OpTimerDelete   uint32 = 84
	OpTimerUpdate   uint32 = 85
	OpTimerGetTypes uint32 = 86

	// Recordings
	OpRecordingsDiskSize               uint32 = 100
	OpRecordingsGetCount               uint32 = 101
	OpRecordingsGetList                uint32 = 102
	OpRecordingsRename                 uint32 = 103
	OpRecordingsDelete                 uint32 = 104
	OpRecordingsGetEdl                 uint32 = 105
	OpRecordingsDeletedAccessSupported uint32 = 106
	OpRecordingsDeletedGetCount        uint32 = 107
	OpRecordingsDeletedGetList         uint32 = 108
	OpRecordingsDeletedDelete          uint32 = 109
	OpRecordingsDeletedUndelete        uint32 = 110
	OpRecordingsDeletedDeleteAll       uint32 = 111

	// EPG
	OpEpgGetForChannel uint32 = 120

	// Channel scan
	OpScanSupported      uint32 = 140
	OpScanGetCountries   uint32 = 141
	OpScanGetSatellites  uint32 = 142
	OpScanStart          uint32 = 143
	OpScanStop           uint32 = 144
	OpScanSupportedTypes uint32 = 145
)

// OpcodeGroup is a contiguous opcode range served by one handler family.
type OpcodeGroup struct {
	Name     string
	From, To uint32
}

// OpcodeGroups lists the request ranges in ascending order.
var OpcodeGroups = []OpcodeGroup{
	{"general", 1, 19},
	{"live", 20, 39},
	{"recstream", 40, 59},
	{"channels", 60, 79},
	{"timers", 80, 99},
	{"recordings", 100, 119},
	{"epg", 120, 139},
	{"scan", 140, 169},
}

// GroupOf returns the group an opcode belongs to.
func GroupOf(op uint32) (OpcodeGroup, bool) {
	for _, g := range OpcodeGroups {
		if op >= g.From && op <= g.To {
			return g, true
		}
	}
	return OpcodeGroup{}, false
}

// Stream channel opcodes.
const (
	StreamChange      uint32 = 1
	StreamStatus      uint32 = 2
	StreamQueueStatus uint32 = 3
	StreamMuxPkt      uint32 = 4
	StreamSignalInfo  uint32 = 5
	StreamContentInfo uint32 = 6
	StreamBufferStats uint32 = 7
	StreamRefTime     uint32 = 8
)

// Status channel opcodes.
const (
	StatusTimerChange      uint32 = 1
	StatusRecording        uint32 = 2
	StatusMessage          uint32 = 3
	StatusChannelChange    uint32 = 4
	StatusRecordingsChange uint32 = 5
	StatusEpgChange        uint32 = 6
)

// Scan channel opcodes.
const (
	ScanPercentage   uint32 = 1
	ScanSignal       uint32 = 2
	ScanDevice       uint32 = 3
	ScanChannel      uint32 = 4
	ScanFoundChannel uint32 = 5
	ScanFinished     uint32 = 6
	ScanStatus       uint32 = 7
)
