package session

import (
	"context"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/wire"
)

var errScanRunning = apperrors.NewLockedError("channel scan already running")

func (s *Session) scanner() (pvr.Scanner, error) {
	if s.deps.Scanner == nil {
		return nil, apperrors.NewNotSupportedError("channel scan")
	}
	return s.deps.Scanner, nil
}

func (s *Session) handleScanSupported(_ context.Context, req *wire.Request) (*wire.Response, error) {
	if _, err := s.scanner(); err != nil {
		return nil, err
	}
	return okResponse(req), nil
}

func (s *Session) handleScanTypes(_ context.Context, req *wire.Request) (*wire.Response, error) {
	sc, err := s.scanner()
	if err != nil {
		return nil, err
	}
	resp := wire.NewResponse(req.ID)
	resp.AddU32(sc.SupportedTypes())
	return resp, nil
}

func (s *Session) handleScanCountries(_ context.Context, req *wire.Request) (*wire.Response, error) {
	sc, err := s.scanner()
	if err != nil {
		return nil, err
	}
	return scanOptions(req, sc.Countries()), nil
}

func (s *Session) handleScanSatellites(_ context.Context, req *wire.Request) (*wire.Response, error) {
	sc, err := s.scanner()
	if err != nil {
		return nil, err
	}
	return scanOptions(req, sc.Satellites()), nil
}

func scanOptions(req *wire.Request, opts []pvr.ScanOption) *wire.Response {
	resp := okResponse(req)
	for _, o := range opts {
		resp.AddU32(o.Index)
		resp.AddString(toUTF8(o.Name))
		resp.AddString(toUTF8(o.LongName))
	}
	return resp
}

func extractScanSetup(req *wire.Request) (pvr.ScanSetup, error) {
	var setup pvr.ScanSetup
	var err error
	if setup.Type, err = req.ExtractU32(); err != nil {
		return setup, err
	}
	flags := make([]bool, 5)
	for i := range flags {
		v, err := req.ExtractU8()
		if err != nil {
			return setup, err
		}
		flags[i] = v != 0
	}
	setup.FreeToAir, setup.Encrypted, setup.HD, setup.Radio, setup.TV = flags[0], flags[1], flags[2], flags[3], flags[4]

	for _, dst := range []*uint32{&setup.Country, &setup.Satellite, &setup.Inversion, &setup.SymbolRate, &setup.Modulation} {
		if *dst, err = req.ExtractU32(); err != nil {
			return setup, err
		}
	}
	return setup, nil
}

// handleScanStart runs the scan in the background; progress arrives on the
// scan channel.
func (s *Session) handleScanStart(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	sc, err := s.scanner()
	if err != nil {
		return nil, err
	}
	setup, err := extractScanSetup(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.scanCancel != nil {
		s.mu.Unlock()
		return nil, errScanRunning
	}
	scanCtx, cancel := context.WithCancel(ctx)
	s.scanCancel = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.scanCancel = nil
			s.mu.Unlock()
			cancel()
		}()
		if err := sc.Start(scanCtx, setup, s.sendScanEvent); err != nil {
			s.log.WithError(err).Warn("Channel scan failed")
			return
		}
		s.log.Info("Channel scan finished")
	}()

	s.log.WithField("type", setup.Type).Info("Channel scan started")
	return okResponse(req), nil
}

func (s *Session) handleScanStop(_ context.Context, req *wire.Request) (*wire.Response, error) {
	sc, err := s.scanner()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	cancel := s.scanCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := sc.Stop(); err != nil {
		return nil, err
	}
	return okResponse(req), nil
}

func (s *Session) sendScanEvent(ev pvr.ScanEvent) {
	var resp *wire.Response
	switch ev.Kind {
	case pvr.ScanEventPercentage:
		resp = wire.NewScan(wire.ScanPercentage)
		resp.AddU32(ev.Value)
	case pvr.ScanEventSignal:
		resp = wire.NewScan(wire.ScanSignal)
		resp.AddU32(ev.Value)
	case pvr.ScanEventDevice:
		resp = wire.NewScan(wire.ScanDevice)
		resp.AddString(toUTF8(ev.Text))
	case pvr.ScanEventTransponder:
		resp = wire.NewScan(wire.ScanChannel)
		resp.AddU32(ev.Value)
	case pvr.ScanEventFoundChannel:
		resp = wire.NewScan(wire.ScanFoundChannel)
		resp.AddU32(boolU32(ev.Radio))
		name := ev.Text
		if ev.Channel != nil {
			name = ev.Channel.Name
		}
		resp.AddString(toUTF8(name))
	case pvr.ScanEventFinished:
		resp = wire.NewScan(wire.ScanFinished)
	case pvr.ScanEventStatus:
		resp = wire.NewScan(wire.ScanStatus)
		resp.AddU32(ev.Value)
	default:
		return
	}
	if err := s.Send(resp); err != nil {
		s.log.WithError(err).Debug("Dropping scan progress")
	}
}
