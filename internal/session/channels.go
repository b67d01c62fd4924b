package session

import (
	"context"
	"sort"

	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/wire"
)

// channelsFor returns the TV or radio lineup, optionally with the provider
// whitelist and channel blacklist applied.
func (s *Session) channelsFor(radio, filter bool) []pvr.Channel {
	all := s.deps.Channels.Snapshot()
	if filter {
		all = pvr.FilterChannels(all, s.deps.Channels.Whitelist(), s.deps.Channels.Blacklist())
	}
	out := all[:0]
	for _, ch := range all {
		if ch.Radio == radio {
			out = append(out, ch)
		}
	}
	return out
}

// optionalU8 reads a trailing flag older clients leave out.
func optionalU8(req *wire.Request) (uint8, error) {
	if req.EOP() {
		return 0, nil
	}
	return req.ExtractU8()
}

func (s *Session) handleChannelsCount(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	resp.AddU32(uint32(len(s.deps.Channels.Snapshot())))
	return resp, nil
}

func (s *Session) handleChannelsList(_ context.Context, req *wire.Request) (*wire.Response, error) {
	radio, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	filter, err := optionalU8(req)
	if err != nil {
		return nil, err
	}

	resp := wire.NewResponse(req.ID)
	for _, ch := range s.channelsFor(radio != 0, filter != 0) {
		var caid uint32
		if len(ch.CAIDs) > 0 {
			caid = uint32(ch.CAIDs[0])
		}
		resp.AddU32(uint32(ch.Number))
		resp.AddString(toUTF8(ch.Name))
		resp.AddString(toUTF8(ch.Provider))
		resp.AddU32(ch.UID())
		resp.AddU32(caid)
	}
	return resp, nil
}

func (s *Session) handleGroupsCount(_ context.Context, req *wire.Request) (*wire.Response, error) {
	radio, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	resp := wire.NewResponse(req.ID)
	resp.AddU32(uint32(len(s.deps.Channels.Groups(radio != 0))))
	return resp, nil
}

func (s *Session) handleGroupsList(_ context.Context, req *wire.Request) (*wire.Response, error) {
	radio, err := req.ExtractU8()
	if err != nil {
		return nil, err
	}
	resp := wire.NewResponse(req.ID)
	for _, g := range s.deps.Channels.Groups(radio != 0) {
		resp.AddString(toUTF8(g.Name))
		resp.AddU8(uint8(boolU32(g.Radio)))
	}
	return resp, nil
}

func (s *Session) handleGroupMembers(_ context.Context, req *wire.Request) (*wire.Response, error) {
	group, err := req.ExtractString()
	if err != nil {
		return nil, err
	}
	radio, err := req.ExtractU8()
	if err != nil {
		return nil, err
	}
	filter, err := optionalU8(req)
	if err != nil {
		return nil, err
	}

	resp := wire.NewResponse(req.ID)
	for _, ch := range s.channelsFor(radio != 0, filter != 0) {
		for _, g := range ch.Groups {
			if g == group {
				resp.AddU32(ch.UID())
				resp.AddU32(uint32(ch.Number))
				break
			}
		}
	}
	return resp, nil
}

// handleChannelCaids lists every provider and CAID pair of the lineup, the
// choices for a whitelist. Free channels contribute CAID 0.
func (s *Session) handleChannelCaids(_ context.Context, req *wire.Request) (*wire.Response, error) {
	seen := make(map[pvr.Provider]struct{})
	var providers []pvr.Provider
	add := func(p pvr.Provider) {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			providers = append(providers, p)
		}
	}
	for _, ch := range s.deps.Channels.Snapshot() {
		if !ch.Encrypted() {
			add(pvr.Provider{Name: ch.Provider})
			continue
		}
		for _, caid := range ch.CAIDs {
			add(pvr.Provider{Name: ch.Provider, CAID: uint32(caid)})
		}
	}
	sort.Slice(providers, func(i, j int) bool {
		if providers[i].Name != providers[j].Name {
			return providers[i].Name < providers[j].Name
		}
		return providers[i].CAID < providers[j].CAID
	})

	resp := wire.NewResponse(req.ID)
	for _, p := range providers {
		resp.AddString(toUTF8(p.Name))
		resp.AddU32(p.CAID)
	}
	return resp, nil
}

func (s *Session) handleGetWhitelist(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	for _, p := range s.deps.Channels.Whitelist() {
		resp.AddString(toUTF8(p.Name))
		resp.AddU32(p.CAID)
	}
	return resp, nil
}

func (s *Session) handleGetBlacklist(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	for _, uid := range s.deps.Channels.Blacklist() {
		resp.AddU32(uid)
	}
	return resp, nil
}

func (s *Session) handleSetWhitelist(_ context.Context, req *wire.Request) (*wire.Response, error) {
	var providers []pvr.Provider
	for !req.EOP() {
		name, err := req.ExtractString()
		if err != nil {
			return nil, err
		}
		caid, err := req.ExtractU32()
		if err != nil {
			return nil, err
		}
		providers = append(providers, pvr.Provider{Name: name, CAID: caid})
	}
	if err := s.deps.Channels.SetWhitelist(providers); err != nil {
		return nil, err
	}
	return okResponse(req), nil
}

func (s *Session) handleSetBlacklist(_ context.Context, req *wire.Request) (*wire.Response, error) {
	var uids []uint32
	for !req.EOP() {
		uid, err := req.ExtractU32()
		if err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	if err := s.deps.Channels.SetBlacklist(uids); err != nil {
		return nil, err
	}
	return okResponse(req), nil
}
