// Package session implements one VNSI client connection: the login
// handshake, request dispatch, and the serialized writer shared by
// responses, stream frames and out-of-band notifications.
package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vnsid/vnsid/internal/config"
	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/registry"
	"github.com/vnsid/vnsid/internal/streamer"
	"github.com/vnsid/vnsid/internal/wire"
)

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("session closed")

// Deps are the collaborators a session serves requests from.
type Deps struct {
	Channels   pvr.ChannelManager
	Timers     pvr.TimerManager
	Recordings pvr.RecordingManager
	Schedule   pvr.ScheduleManager
	Setup      pvr.SetupStore
	Device     pvr.Device
	// Scanner and Registry are optional.
	Scanner  pvr.Scanner
	Registry registry.Registry
}

type Options struct {
	Server     config.ServerConfig
	Stream     config.StreamConfig
	Recordings config.RecordingsConfig
}

// Info describes a session for the admin API.
type Info struct {
	ID              string          `json:"id"`
	RemoteAddr      string          `json:"remote_addr"`
	Client          string          `json:"client,omitempty"`
	ProtocolVersion uint32          `json:"protocol_version,omitempty"`
	LoggedIn        bool            `json:"logged_in"`
	StatusEnabled   bool            `json:"status_enabled"`
	Connected       time.Time       `json:"connected"`
	Stream          *streamer.Stats `json:"stream,omitempty"`
	Recording       string          `json:"recording,omitempty"`
}

// Session serves one client connection. Run owns the read side; Send may
// be called from any goroutine.
type Session struct {
	id        string
	remote    string
	conn      net.Conn
	br        *bufio.Reader
	opts      Options
	deps      Deps
	log       logger.Logger
	errs      *apperrors.ErrorHandler
	connected time.Time

	writeMu sync.Mutex

	mu            sync.Mutex
	loggedIn      bool
	hangup        bool
	protocol      uint32
	client        string
	statusEnabled bool
	streamer      *streamer.Streamer
	player        *recPlayer
	scanCancel    context.CancelFunc
	// last EPG event start announced per channel
	epgUpdate map[uint32]time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New wraps an accepted connection.
func New(conn net.Conn, opts Options, deps Deps, log logger.Logger) *Session {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	l := logger.WithSession(logger.WithComponent(log, "session"), id, remote)
	return &Session{
		id:        id,
		remote:    remote,
		conn:      conn,
		br:        bufio.NewReaderSize(conn, 64*1024),
		opts:      opts,
		deps:      deps,
		log:       l,
		errs:      apperrors.NewErrorHandler(l),
		connected: time.Now(),
		epgUpdate: make(map[uint32]time.Time),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Done is closed when Run has returned and all resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run reads and dispatches requests until the client disconnects, a
// protocol violation occurs or ctx is cancelled. A clean disconnect
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	metrics.SessionOpened()
	s.log.Info("Client connected")

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer func() {
		stop()
		s.release()
		metrics.SessionClosed(time.Since(s.connected).Seconds())
		close(s.done)
	}()

	for {
		req, err := s.readRequest()
		if err != nil {
			if s.closed.Load() || errors.Is(err, io.EOF) {
				s.log.Info("Client disconnected")
				return nil
			}
			if errors.Is(err, wire.ErrPayloadTooLarge) {
				err = apperrors.Wrap(err, apperrors.ErrorTypeProtocol, "oversized request")
			} else {
				err = apperrors.WrapFatalIO(err, "reading request")
			}
			s.errs.Resolve(err, logger.Fields{"stage": "read"})
			return err
		}

		if err := s.dispatch(ctx, req); err != nil {
			return err
		}
	}
}

// readRequest waits without a deadline for the next request to start and
// then reads it under the read timeout.
func (s *Session) readRequest() (*wire.Request, error) {
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	if _, err := s.br.Peek(1); err != nil {
		return nil, err
	}
	if s.opts.Server.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.Server.ReadTimeout)); err != nil {
			return nil, err
		}
	}
	return wire.ReadRequest(s.br)
}

func (s *Session) dispatch(ctx context.Context, req *wire.Request) error {
	fields := logger.Fields{"opcode": req.Opcode, "request_id": req.ID}

	if req.Channel != wire.ChannelRequestResponse {
		err := apperrors.NewProtocolError("request on channel %d", req.Channel)
		s.errs.Resolve(err, fields)
		return err
	}
	if !s.isLoggedIn() && req.Opcode != wire.OpLogin {
		err := apperrors.NewProtocolError("opcode %d before login", req.Opcode)
		s.errs.Resolve(err, fields)
		return err
	}

	var (
		resp *wire.Response
		err  error
	)
	if h, ok := handlers[req.Opcode]; ok {
		resp, err = h.fn(s, ctx, req)
	} else {
		err = apperrors.NewNotSupportedError("opcode")
	}
	if errors.Is(err, wire.ErrShortPayload) {
		err = apperrors.Wrap(err, apperrors.ErrorTypeProtocol, "malformed request")
	}

	code, fatal := s.errs.Resolve(err, fields)
	if fatal {
		return err
	}
	if err != nil {
		resp = wire.NewResponse(req.ID)
		resp.AddU32(code)
	}
	if resp == nil {
		// the handler replied itself
		return nil
	}
	metrics.ObserveRequest(req.Opcode, code)
	if err := s.Send(resp); err != nil {
		return err
	}

	s.mu.Lock()
	hangup := s.hangup
	s.mu.Unlock()
	if hangup {
		return apperrors.NewProtocolError("login rejected")
	}
	return nil
}

// Send writes one finalised frame. Write timeouts are retried up to
// WriteRetries times, resuming a partial write; any other failure closes
// the session.
func (s *Session) Send(resp *wire.Response) error {
	b := resp.Bytes()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	for attempt := 0; ; attempt++ {
		if s.opts.Server.WriteTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.Server.WriteTimeout))
		}
		n, err := s.conn.Write(b)
		b = b[n:]
		if err == nil {
			return nil
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() && attempt < s.opts.Server.WriteRetries {
			metrics.IncrementWriteRetries()
			s.log.WithFields(logger.Fields{
				"attempt":   attempt + 1,
				"remaining": len(b),
			}).Debug("Write timed out, retrying")
			continue
		}

		s.Close()
		return apperrors.WrapFatalIO(err, "writing frame")
	}
}

// Close shuts the connection down. It is safe to call more than once and
// from any goroutine; Run returns soon after.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.conn.Close(); err != nil {
			s.log.WithError(err).Debug("Closing connection")
		}
	})
}

// release stops everything the session started.
func (s *Session) release() {
	s.Close()
	s.stopStreams()

	s.mu.Lock()
	cancel := s.scanCancel
	s.scanCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		if s.deps.Scanner != nil {
			if err := s.deps.Scanner.Stop(); err != nil {
				s.log.WithError(err).Debug("Stopping scan")
			}
		}
	}
}

// stopStreams ends the live stream and the recording playback, if any.
func (s *Session) stopStreams() {
	s.mu.Lock()
	st, p := s.streamer, s.player
	s.streamer, s.player = nil, nil
	s.mu.Unlock()

	if st != nil {
		st.Stop()
	}
	if p != nil {
		if err := p.Close(context.Background()); err != nil {
			s.log.WithError(err).Debug("Closing recording")
		}
	}
}

func (s *Session) isLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Info returns a snapshot for the admin API.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:              s.id,
		RemoteAddr:      s.remote,
		Client:          s.client,
		ProtocolVersion: s.protocol,
		LoggedIn:        s.loggedIn,
		StatusEnabled:   s.statusEnabled,
		Connected:       s.connected,
	}
	st, p := s.streamer, s.player
	s.mu.Unlock()

	if st != nil {
		stats := st.Stats()
		info.Stream = &stats
	}
	if p != nil {
		info.Recording = p.rec.FileName
	}
	return info
}

// Streaming reports whether a live stream or a recording is open.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamer != nil || s.player != nil
}
