package session

import (
	"context"
	"time"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/wire"
	"github.com/vnsid/vnsid/pkg/version"
)

var errNotSupported = apperrors.NewNotSupportedError("opcode")

// handleLogin answers with the negotiated protocol version, server time
// and identity. A client below MinProtocolVersion still gets the reply,
// then the connection is closed.
func (s *Session) handleLogin(_ context.Context, req *wire.Request) (*wire.Response, error) {
	clientVersion, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	netLog, err := req.ExtractU8()
	if err != nil {
		return nil, err
	}
	client, err := req.ExtractString()
	if err != nil {
		return nil, err
	}

	negotiated := min(clientVersion, wire.ProtocolVersion)
	compatible := clientVersion >= wire.MinProtocolVersion

	s.mu.Lock()
	s.client = client
	s.protocol = negotiated
	s.loggedIn = compatible
	s.hangup = !compatible
	s.mu.Unlock()

	l := s.log.WithFields(logger.Fields{
		"client":           client,
		"client_version":   clientVersion,
		"protocol_version": negotiated,
		"netlog":           netLog != 0,
	})
	if compatible {
		l.Info("Client logged in")
	} else {
		l.Warn("Client protocol version too old, closing after login reply")
	}

	now := time.Now()
	_, offset := now.Zone()
	resp := wire.NewResponse(req.ID)
	resp.AddU32(negotiated)
	resp.AddU32(uint32(now.Unix()))
	resp.AddS32(int32(offset))
	name := s.opts.Server.ServerName
	if name == "" {
		name = version.ServerName
	}
	resp.AddString(name)
	resp.AddString(version.Version)
	return resp, nil
}

func (s *Session) handleGetTime(_ context.Context, req *wire.Request) (*wire.Response, error) {
	now := time.Now()
	_, offset := now.Zone()
	resp := wire.NewResponse(req.ID)
	resp.AddU32(uint32(now.Unix()))
	resp.AddS32(int32(offset))
	return resp, nil
}

func (s *Session) handleEnableStatus(_ context.Context, req *wire.Request) (*wire.Response, error) {
	on, err := req.ExtractU8()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.statusEnabled = on != 0
	s.mu.Unlock()
	s.log.WithField("enabled", on != 0).Debug("Status interface toggled")
	return okResponse(req), nil
}

func (s *Session) handlePing(_ context.Context, req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(req.ID)
	resp.AddU32(1)
	return resp, nil
}

func (s *Session) handleGetSetup(_ context.Context, req *wire.Request) (*wire.Response, error) {
	name, err := req.ExtractString()
	if err != nil {
		return nil, err
	}
	value, err := s.deps.Setup.Get(name)
	if err != nil {
		return nil, err
	}
	resp := wire.NewResponse(req.ID)
	resp.AddU32(value)
	return resp, nil
}

func (s *Session) handleStoreSetup(_ context.Context, req *wire.Request) (*wire.Response, error) {
	name, err := req.ExtractString()
	if err != nil {
		return nil, err
	}
	value, err := req.ExtractU32()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Setup.Set(name, value); err != nil {
		return nil, err
	}
	return okResponse(req), nil
}
