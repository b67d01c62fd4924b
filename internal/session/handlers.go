package session

import (
	"context"
	"fmt"

	"github.com/vnsid/vnsid/internal/wire"
)

type handlerFunc func(s *Session, ctx context.Context, req *wire.Request) (*wire.Response, error)

type route struct {
	opcode uint32
	name   string
	fn     handlerFunc
}

// routes maps every served opcode to its handler. A handler returning a
// nil response and nil error has written its own reply.
var routes = []route{
	{wire.OpLogin, "login", (*Session).handleLogin},
	{wire.OpGetTime, "get_time", (*Session).handleGetTime},
	{wire.OpEnableStatusInterface, "enable_status", (*Session).handleEnableStatus},
	{wire.OpPing, "ping", (*Session).handlePing},
	{wire.OpGetSetup, "get_setup", (*Session).handleGetSetup},
	{wire.OpStoreSetup, "store_setup", (*Session).handleStoreSetup},

	{wire.OpChannelStreamOpen, "stream_open", (*Session).handleStreamOpen},
	{wire.OpChannelStreamClose, "stream_close", (*Session).handleStreamClose},
	{wire.OpChannelStreamSeek, "stream_seek", (*Session).handleStreamSeek},
	{wire.OpChannelStreamPause, "stream_pause", (*Session).handleStreamPause},
	{wire.OpChannelStreamStatusRequest, "stream_status", (*Session).handleStreamStatus},

	{wire.OpRecStreamOpen, "rec_open", (*Session).handleRecOpen},
	{wire.OpRecStreamClose, "rec_close", (*Session).handleRecClose},
	{wire.OpRecStreamGetBlock, "rec_get_block", (*Session).handleRecGetBlock},
	{wire.OpRecStreamPosToFrame, "rec_pos_to_frame", notSupported},
	{wire.OpRecStreamFrameToPos, "rec_frame_to_pos", notSupported},
	{wire.OpRecStreamGetIFrame, "rec_get_iframe", notSupported},
	{wire.OpRecStreamGetLength, "rec_get_length", (*Session).handleRecGetLength},

	{wire.OpChannelsGetCount, "channels_count", (*Session).handleChannelsCount},
	{wire.OpChannelsGetChannels, "channels_list", (*Session).handleChannelsList},
	{wire.OpChannelGroupGetCount, "groups_count", (*Session).handleGroupsCount},
	{wire.OpChannelGroupList, "groups_list", (*Session).handleGroupsList},
	{wire.OpChannelGroupMembers, "group_members", (*Session).handleGroupMembers},
	{wire.OpChannelsGetCaids, "channel_caids", (*Session).handleChannelCaids},
	{wire.OpChannelsGetWhitelist, "get_whitelist", (*Session).handleGetWhitelist},
	{wire.OpChannelsGetBlacklist, "get_blacklist", (*Session).handleGetBlacklist},
	{wire.OpChannelsSetWhitelist, "set_whitelist", (*Session).handleSetWhitelist},
	{wire.OpChannelsSetBlacklist, "set_blacklist", (*Session).handleSetBlacklist},

	{wire.OpTimerGetCount, "timers_count", (*Session).handleTimersCount},
	{wire.OpTimerGet, "timer_get", (*Session).handleTimerGet},
	{wire.OpTimerGetList, "timers_list", (*Session).handleTimersList},
	{wire.OpTimerAdd, "timer_add", (*Session).handleTimerAdd},
	{wire.OpTimerDelete, "timer_delete", (*Session).handleTimerDelete},
	{wire.OpTimerUpdate, "timer_update", (*Session).handleTimerUpdate},
	{wire.OpTimerGetTypes, "timer_types", (*Session).handleTimerTypes},

	{wire.OpRecordingsDiskSize, "disk_size", (*Session).handleDiskSize},
	{wire.OpRecordingsGetCount, "recordings_count", (*Session).handleRecordingsCount},
	{wire.OpRecordingsGetList, "recordings_list", (*Session).handleRecordingsList},
	{wire.OpRecordingsRename, "recording_rename", (*Session).handleRecordingRename},
	{wire.OpRecordingsDelete, "recording_delete", (*Session).handleRecordingDelete},
	{wire.OpRecordingsGetEdl, "recording_edl", (*Session).handleRecordingEdl},
	{wire.OpRecordingsDeletedAccessSupported, "deleted_supported", notSupported},
	{wire.OpRecordingsDeletedGetCount, "deleted_count", notSupported},
	{wire.OpRecordingsDeletedGetList, "deleted_list", notSupported},
	{wire.OpRecordingsDeletedDelete, "deleted_delete", notSupported},
	{wire.OpRecordingsDeletedUndelete, "deleted_undelete", notSupported},
	{wire.OpRecordingsDeletedDeleteAll, "deleted_delete_all", notSupported},

	{wire.OpEpgGetForChannel, "epg", (*Session).handleEpg},

	{wire.OpScanSupported, "scan_supported", (*Session).handleScanSupported},
	{wire.OpScanGetCountries, "scan_countries", (*Session).handleScanCountries},
	{wire.OpScanGetSatellites, "scan_satellites", (*Session).handleScanSatellites},
	{wire.OpScanStart, "scan_start", (*Session).handleScanStart},
	{wire.OpScanStop, "scan_stop", (*Session).handleScanStop},
	{wire.OpScanSupportedTypes, "scan_types", (*Session).handleScanTypes},
}

var handlers = buildHandlers(routes)

// buildHandlers indexes routes by opcode. It panics on a duplicate opcode
// or one outside its group's range, so a broken table fails at start.
func buildHandlers(rs []route) map[uint32]route {
	m := make(map[uint32]route, len(rs))
	for _, r := range rs {
		if err := validateRoute(m, r); err != nil {
			panic(err)
		}
		m[r.opcode] = r
	}
	return m
}

func validateRoute(m map[uint32]route, r route) error {
	if prev, dup := m[r.opcode]; dup {
		return fmt.Errorf("opcode %d registered twice (%s, %s)", r.opcode, prev.name, r.name)
	}
	if _, ok := wire.GroupOf(r.opcode); !ok {
		return fmt.Errorf("opcode %d (%s) outside every opcode group", r.opcode, r.name)
	}
	if r.fn == nil {
		return fmt.Errorf("opcode %d (%s) has no handler", r.opcode, r.name)
	}
	return nil
}

func notSupported(*Session, context.Context, *wire.Request) (*wire.Response, error) {
	return nil, errNotSupported
}

// okResponse starts a reply carrying RetOK.
func okResponse(req *wire.Request) *wire.Response {
	resp := wire.NewResponse(req.ID)
	resp.AddU32(wire.RetOK)
	return resp
}
