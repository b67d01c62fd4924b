package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/vnsid/vnsid/internal/config"
	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/health"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/session"
)

// ErrIdleShutdown is returned by Start when no client was connected for
// the configured idle period.
var ErrIdleShutdown = errors.New("idle shutdown")

type Options struct {
	Server     config.ServerConfig
	Stream     config.StreamConfig
	Recordings config.RecordingsConfig
	Metrics    config.MetricsConfig
}

// Server accepts VNSI clients, runs one Session per connection and pushes
// change notifications to them. It optionally serves the admin HTTP API.
type Server struct {
	opts         Options
	deps         session.Deps
	hosts        pvr.AllowedHosts
	logger       logger.Logger
	router       *mux.Router
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	limiter      *connLimiter

	mu       sync.Mutex
	sessions map[string]*session.Session
	listener net.Listener
	ready    chan struct{}

	// poll loop state, owned by the poll goroutine
	watch changeState
}

type changeState struct {
	channels   uint64
	timers     uint64
	recordings uint64
	epg        uint64
	running    map[uint32]pvr.Recording
}

// New creates a server. hosts may be nil to admit every peer; healthMgr
// may be nil when the admin API is not served.
func New(opts Options, deps session.Deps, hosts pvr.AllowedHosts, healthMgr *health.Manager, log logger.Logger) *Server {
	log = logger.WithComponent(log, "server")
	if healthMgr == nil {
		healthMgr = health.NewManager(log)
	}
	s := &Server{
		opts:         opts,
		deps:         deps,
		hosts:        hosts,
		logger:       log,
		router:       mux.NewRouter(),
		healthMgr:    healthMgr,
		errorHandler: apperrors.NewErrorHandler(log),
		sessions:     make(map[string]*session.Session),
		limiter:      newConnLimiter(opts.Server.MaxSessionsPerHost, opts.Server.MaxSessions),
		ready:        make(chan struct{}),
	}
	s.healthMgr.Register(health.NewCapacityChecker("sessions", s.SessionCount, opts.Server.MaxSessions))
	s.setupRoutes()
	return s
}

// Start listens for clients and blocks until ctx is cancelled, the idle
// timeout fires or a component fails.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Server.ListenAddr, strconv.Itoa(s.opts.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.logger.WithField("addr", ln.Addr().String()).Info("VNSI server listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return s.pollLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	if s.opts.Metrics.Enabled {
		g.Go(func() error { return s.serveAdmin(gctx) })
		if s.opts.Metrics.HTTP3Port > 0 {
			g.Go(func() error { return s.serveAdminHTTP3(gctx) })
		}
		g.Go(func() error {
			s.healthMgr.StartPeriodicChecks(gctx, 30*time.Second)
			return nil
		})
	}

	err = g.Wait()
	s.stopSessions()
	s.logger.Info("VNSI server stopped")

	if errors.Is(err, ErrIdleShutdown) {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr(), nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.WithError(err).Warn("Accept timed out, retrying")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	if s.hosts != nil && !s.hosts.Allowed(remoteIP(conn.RemoteAddr())) {
		s.logger.WithField("remote_addr", remote).Warn("Connection from disallowed host rejected")
		metrics.ConnectionRejected("acl")
		conn.Close()
		return
	}
	host := remoteIP(conn.RemoteAddr()).String()
	if reason, ok := s.limiter.tryAcquire(host); !ok {
		s.logger.WithFields(logger.Fields{
			"remote_addr":           remote,
			"reason":                reason,
			"max_sessions":          s.opts.Server.MaxSessions,
			"max_sessions_per_host": s.opts.Server.MaxSessionsPerHost,
		}).Warn("Connection rejected, session limit reached")
		metrics.ConnectionRejected(reason)
		conn.Close()
		return
	}

	sess := session.New(conn, session.Options{
		Server:     s.opts.Server,
		Stream:     s.opts.Stream,
		Recordings: s.opts.Recordings,
	}, s.deps, s.logger)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.logger.WithFields(logger.Fields{
		"session_id":  sess.ID(),
		"remote_addr": remote,
	}).Info("Client connected")

	go func() {
		defer s.limiter.release(host)
		if err := sess.Run(ctx); err != nil {
			s.logger.WithError(err).WithField("session_id", sess.ID()).Info("Session ended")
		}
	}()
}

func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// pollLoop reaps finished sessions, broadcasts changes of the shared
// collections and enforces the idle shutdown.
func (s *Server) pollLoop(ctx context.Context) error {
	interval := s.opts.Server.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.watch = s.snapshotState()
	lastNotify := time.Now()
	idleSince := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if s.reap() > 0 {
				idleSince = now
			} else if idle := s.opts.Server.IdleShutdown; idle > 0 && now.Sub(idleSince) >= idle {
				s.logger.WithField("idle", idle).Info("No clients connected, shutting down")
				return ErrIdleShutdown
			}

			if now.Sub(lastNotify) >= s.opts.Server.NotifyInterval {
				lastNotify = now
				s.checkChanges()
			}
		}
	}
}

// reap drops sessions whose connection is gone and returns how many are
// left.
func (s *Server) reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		select {
		case <-sess.Done():
			delete(s.sessions, id)
			s.logger.WithField("session_id", id).Debug("Session reaped")
		default:
		}
	}
	return len(s.sessions)
}

func (s *Server) snapshotState() changeState {
	st := changeState{running: make(map[uint32]pvr.Recording)}
	if s.deps.Channels != nil {
		st.channels = s.deps.Channels.ModificationCounter()
	}
	if s.deps.Timers != nil {
		st.timers = s.deps.Timers.ModificationCounter()
	}
	if s.deps.Recordings != nil {
		st.recordings = s.deps.Recordings.ModificationCounter()
		for _, rec := range s.deps.Recordings.Running() {
			st.running[rec.UID()] = rec
		}
	}
	if s.deps.Schedule != nil {
		st.epg = s.deps.Schedule.ModificationStamp()
	}
	return st
}

// checkChanges compares the collection counters with the last broadcast
// values and notifies every session of what moved.
func (s *Server) checkChanges() {
	cur := s.snapshotState()
	prev := s.watch
	s.watch = cur

	if cur.channels != prev.channels {
		s.broadcast("channels", (*session.Session).NotifyChannelChange)
	}
	if cur.timers != prev.timers {
		s.broadcast("timers", (*session.Session).NotifyTimerChange)
	}
	if cur.recordings != prev.recordings {
		s.broadcast("recordings", (*session.Session).NotifyRecordingsChange)
	}

	for uid, rec := range cur.running {
		if _, was := prev.running[uid]; !was {
			rec := rec
			s.logger.WithField("recording", rec.FileName).Info("Recording started")
			s.broadcast("recording", func(sess *session.Session) error { return sess.NotifyRecording(&rec, true) })
		}
	}
	for uid, rec := range prev.running {
		if _, still := cur.running[uid]; !still {
			rec := rec
			s.logger.WithField("recording", rec.FileName).Info("Recording finished")
			s.broadcast("recording", func(sess *session.Session) error { return sess.NotifyRecording(&rec, false) })
		}
	}

	if cur.epg != prev.epg && s.deps.Schedule != nil {
		s.broadcast("epg", func(sess *session.Session) error { return sess.CheckEpg(s.deps.Schedule) })
	}
}

func (s *Server) broadcast(kind string, notify func(*session.Session) error) {
	for _, sess := range s.snapshot() {
		if err := notify(sess); err != nil {
			s.logger.WithError(err).WithFields(logger.Fields{
				"session_id":   sess.ID(),
				"notification": kind,
			}).Debug("Notification not delivered")
		}
	}
}

func (s *Server) snapshot() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sessions describes every connected session.
func (s *Server) Sessions() []session.Info {
	sessions := s.snapshot()
	out := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	return out
}

// stopSessions closes every session and waits for them, bounded by the
// stop timeout.
func (s *Server) stopSessions() {
	sessions := s.snapshot()
	for _, sess := range sessions {
		sess.Close()
	}

	deadline := time.After(s.stopTimeout())
	for _, sess := range sessions {
		select {
		case <-sess.Done():
		case <-deadline:
			s.logger.WithField("pending", len(sessions)).Warn("Sessions did not stop in time")
			return
		}
	}
	s.reap()
}

func (s *Server) serveAdmin(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(s.opts.Server.ListenAddr, strconv.Itoa(s.opts.Metrics.Port)),
		Handler:      s.router,
		ReadTimeout:  s.opts.Server.ReadTimeout,
		WriteTimeout: s.opts.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("Starting admin HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}
	return nil
}

func (s *Server) stopTimeout() time.Duration {
	if s.opts.Server.StopTimeout > 0 {
		return s.opts.Server.StopTimeout
	}
	return 5 * time.Second
}

// Router returns the admin HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}
