// Package streamer pushes one demultiplexed channel to a VNSI client over
// the stream channel of its connection.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/demux"
	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/pvr"
	"github.com/vnsid/vnsid/internal/registry"
	"github.com/vnsid/vnsid/internal/wire"
)

const (
	pausePoll   = 50 * time.Millisecond
	reopenDelay = 500 * time.Millisecond
)

// Status strings sent in StreamStatus frames.
const (
	StatusNoData      = "No data"
	StatusEndOfStream = "End of stream"
)

// Sender writes a finalised frame to the client. Implementations
// serialize concurrent callers.
type Sender interface {
	Send(resp *wire.Response) error
}

// Deps are the collaborators a Streamer reads from.
type Deps struct {
	Device     pvr.Device
	Channels   pvr.ChannelManager
	Recordings pvr.RecordingManager
	// Registry is optional.
	Registry registry.Registry
}

// Options identify the owning session and tune the pipeline.
type Options struct {
	Stream      config.StreamConfig
	StopTimeout time.Duration
	SessionID   string
	Client      string
	RemoteAddr  string
}

// Stats is a point in time view of a running stream.
type Stats struct {
	Channel   string    `json:"channel"`
	UID       uint32    `json:"uid"`
	Recording string    `json:"recording,omitempty"`
	Serial    uint32    `json:"serial"`
	Packets   int64     `json:"packets"`
	Bytes     int64     `json:"bytes"`
	Paused    bool      `json:"paused"`
	Errors    string    `json:"errors,omitempty"`
	Started   time.Time `json:"started"`
}

// Streamer runs the read and push loop of one live channel. Open, Stop,
// SeekTime, Pause and RequestSignalInfo are called from the session
// goroutine; the loop runs on its own.
type Streamer struct {
	opts   Options
	deps   Deps
	out    Sender
	log    *logger.SampledLogger
	errs   *apperrors.ErrorHandler
	demux  *demux.Demuxer
	stream string

	mu        sync.Mutex
	channel   pvr.Channel
	recording *pvr.Recording
	timeout   time.Duration
	started   time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	paused     atomic.Bool
	wantSignal atomic.Bool
	packets    atomic.Int64
	bytes      atomic.Int64

	// owned by the run loop
	announced   bool
	lastRef     time.Time
	lastErrs    demux.ErrorBits
	chanCounter uint64
}

// New creates an idle streamer writing to out.
func New(opts Options, deps Deps, out Sender, log logger.Logger) *Streamer {
	l := logger.WithComponent(log, "streamer")
	return &Streamer{
		opts:   opts,
		deps:   deps,
		out:    out,
		log:    logger.NewStreamLogger(l),
		errs:   apperrors.NewErrorHandler(l),
		stream: registry.StreamID(registry.KindLive, opts.SessionID),
	}
}

// Open starts streaming ch and answers the open request with requestID.
// The reply, OK or error, is always written before any stream frame.
// A positive timeout overrides the configured inactivity timeout.
func (s *Streamer) Open(ctx context.Context, ch *pvr.Channel, priority int32, timeout time.Duration, requestID uint32) error {
	if s.done != nil {
		return apperrors.NewInternalError("streamer already open")
	}
	s.channel = *ch
	s.timeout = s.opts.Stream.InactivityTimeout
	if timeout > 0 {
		s.timeout = timeout
	}
	s.log = logger.NewStreamLogger(s.log.WithFields(logger.Fields{
		"channel": ch.Name,
		"uid":     ch.UID(),
	}))
	s.demux = demux.New(demux.Options{
		Name:       fmt.Sprintf("%s/%d", s.opts.SessionID, ch.UID()),
		RingSize:   s.opts.Stream.RingSize,
		RingMargin: s.opts.Stream.RingMargin,
		PutTimeout: s.opts.Stream.PutTimeout,
		GetTimeout: s.opts.Stream.GetTimeout,
	}, s.deps.Device, s.log)

	err := s.openInput(ctx, ch, priority)
	code, _ := s.errs.Resolve(err, logger.Fields{"operation": "channel_stream_open"})
	resp := wire.NewResponse(requestID)
	resp.AddU32(code)
	resp.Finalise()
	if sendErr := s.out.Send(resp); sendErr != nil && err == nil {
		s.demux.Close()
		return sendErr
	}
	if err != nil {
		return err
	}

	if s.deps.Channels != nil {
		s.chanCounter = s.deps.Channels.ModificationCounter()
	}
	s.started = time.Now()
	s.register(ctx)
	metrics.StreamStarted()

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)

	s.log.WithFields(logger.Fields{
		"priority":  priority,
		"recording": s.recording != nil,
	}).Info("Live stream started")
	return nil
}

// openInput prefers the file of a recording in progress on ch so the
// client sees what is already on disk.
func (s *Streamer) openInput(ctx context.Context, ch *pvr.Channel, priority int32) error {
	if s.deps.Recordings != nil {
		if rec, ok := s.deps.Recordings.ActiveRecording(ch.UID()); ok {
			path := filepath.Join(s.deps.Recordings.RecordingsDir(), rec.FileName)
			err := s.demux.OpenFile(ctx, path, ch)
			if err == nil {
				s.recording = rec
				return nil
			}
			s.log.WithError(err).Warn("Failed to open active recording, tuning live")
		}
	}
	if err := s.demux.Open(ctx, ch, priority); err != nil {
		return fmt.Errorf("open channel %s: %w", ch.Name, err)
	}
	return nil
}

func (s *Streamer) register(ctx context.Context) {
	if s.deps.Registry == nil {
		return
	}
	err := s.deps.Registry.Register(ctx, &registry.Stream{
		ID:          s.stream,
		Kind:        registry.KindLive,
		SessionID:   s.opts.SessionID,
		Client:      s.opts.Client,
		RemoteAddr:  s.opts.RemoteAddr,
		ChannelUID:  s.channel.UID(),
		ChannelName: s.channel.Name,
		Status:      registry.StatusActive,
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to register stream")
	}
}

func (s *Streamer) setStatus(status registry.StreamStatus) {
	if s.deps.Registry == nil {
		return
	}
	if err := s.deps.Registry.UpdateStatus(context.Background(), s.stream, status); err != nil {
		s.log.WithError(err).Debug("Failed to update stream status")
	}
}

// Channel returns the channel being streamed.
func (s *Streamer) Channel() pvr.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Done is closed when the run loop has ended.
func (s *Streamer) Done() <-chan struct{} { return s.done }

// SeekTime moves a file backed stream to wall clock time wallMs and
// returns the new serial.
func (s *Streamer) SeekTime(wallMs int64) (uint32, error) {
	serial, err := s.demux.SeekTime(wallMs)
	if err != nil {
		if errors.Is(err, demux.ErrNotSeekable) || errors.Is(err, demux.ErrNoTimestamp) {
			return serial, apperrors.Wrap(err, apperrors.ErrorTypeNotSupported, "seek not possible")
		}
		return serial, err
	}
	return serial, nil
}

// Pause stops or resumes pushing packets.
func (s *Streamer) Pause(on bool) {
	if s.paused.Swap(on) != on {
		status := registry.StatusActive
		if on {
			status = registry.StatusPaused
		}
		s.setStatus(status)
		s.log.WithField("paused", on).Debug("Pause state changed")
	}
}

// RequestSignalInfo makes the loop send a SignalInfo frame right away.
func (s *Streamer) RequestSignalInfo() {
	s.wantSignal.Store(true)
}

// Stats returns a snapshot of the stream counters.
func (s *Streamer) Stats() Stats {
	ch := s.Channel()
	st := Stats{
		Channel: ch.Name,
		UID:     ch.UID(),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Paused:  s.paused.Load(),
		Started: s.started,
	}
	if s.recording != nil {
		st.Recording = s.recording.FileName
	}
	if s.demux != nil {
		st.Serial = s.demux.Serial()
		st.Errors = (s.demux.Errors() &^ demux.ErrorNoData).String()
	}
	return st
}

// Stop ends the loop and releases the input. The loop gets StopTimeout to
// finish cooperatively; after that the input is closed under it.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		if s.done == nil {
			if s.demux != nil {
				s.demux.Close()
			}
			return
		}
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(s.opts.StopTimeout):
			s.log.Warn("Streamer did not stop in time, closing input")
			s.demux.Close()
			select {
			case <-s.done:
			case <-time.After(s.opts.StopTimeout):
				s.log.Error("Streamer loop abandoned")
			}
		}
		if err := s.demux.Close(); err != nil {
			s.log.WithError(err).Debug("Closing input")
		}

		metrics.StreamStopped()
		metrics.RemoveStream(s.channel.Name)
		if s.deps.Registry != nil {
			if err := s.deps.Registry.Unregister(context.Background(), s.stream); err != nil &&
				!errors.Is(err, registry.ErrStreamNotFound) {
				s.log.WithError(err).Debug("Failed to unregister stream")
			}
		}
		s.log.WithFields(logger.Fields{
			"packets":  s.packets.Load(),
			"bytes":    s.bytes.Load(),
			"duration": time.Since(s.started).Round(time.Millisecond),
		}).Info("Live stream stopped")
	})
}

func (s *Streamer) run(ctx context.Context) {
	defer close(s.done)

	interval := s.opts.Stream.TelemetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	telemetry := time.NewTicker(interval)
	defer telemetry.Stop()

	var (
		pkt       demux.Packet
		idleSince time.Time
		starved   bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-telemetry.C:
			if err := s.sendTelemetry(); err != nil {
				s.log.WithError(err).Debug("Stream closed by write failure")
				return
			}
		default:
		}

		if s.wantSignal.Swap(false) {
			if err := s.sendSignalInfo(); err != nil {
				return
			}
		}
		if s.paused.Load() {
			idleSince = time.Time{}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausePoll):
			}
			continue
		}

		switch s.demux.Read(&pkt) {
		case demux.ReadOK:
			if starved {
				starved = false
				s.setStatus(registry.StatusActive)
				s.log.Info("Stream data resumed")
			}
			idleSince = time.Time{}
			if err := s.sendPacket(&pkt); err != nil {
				s.log.WithError(err).Debug("Stream closed by write failure")
				return
			}

		case demux.ReadAgain:

		case demux.ReadNoData:
			if idleSince.IsZero() {
				idleSince = time.Now()
				continue
			}
			if !starved && s.timeout > 0 && time.Since(idleSince) >= s.timeout {
				starved = true
				s.setStatus(registry.StatusStarved)
				s.log.WarnWithCategory(logger.CategoryStarvation, "No stream data", logger.Fields{
					"idle": time.Since(idleSince).Round(time.Millisecond),
				})
				if err := s.sendStatus(StatusNoData); err != nil {
					return
				}
			}

		case demux.ReadEOF:
			if s.reopen(ctx) {
				continue
			}
			s.log.Info("End of stream")
			s.sendStatus(StatusEndOfStream)
			s.setStatus(registry.StatusClosed)
			return
		}
	}
}

// reopen continues a recording that is still being written. The demuxer
// bumps the serial.
func (s *Streamer) reopen(ctx context.Context) bool {
	if s.recording == nil || s.deps.Recordings == nil {
		return false
	}
	rec, ok := s.deps.Recordings.ActiveRecording(s.channel.UID())
	if !ok || rec.FileName != s.recording.FileName {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(reopenDelay):
	}
	if err := s.demux.Reopen(); err != nil {
		s.log.WithError(err).Warn("Failed to reopen recording")
		return false
	}
	s.log.WithField("serial", s.demux.Serial()).Debug("Recording reopened")
	return true
}

// sendTelemetry emits signal and buffer state, reports new error bits and
// follows channel edits.
func (s *Streamer) sendTelemetry() error {
	if err := s.sendSignalInfo(); err != nil {
		return err
	}
	if err := s.sendInfo(bufferStatsFrame(s.demux.BufferStats())); err != nil {
		return err
	}

	errs := s.demux.Errors() &^ demux.ErrorNoData
	if errs != s.lastErrs {
		s.lastErrs = errs
		if errs != 0 {
			metrics.IncrementDemuxError(errs.String())
			if err := s.sendStatus(errs.String()); err != nil {
				return err
			}
		}
	}

	s.refreshChannel()

	if s.deps.Registry != nil {
		err := s.deps.Registry.UpdateStats(context.Background(), s.stream, &registry.StreamStats{
			Serial:  s.demux.Serial(),
			Packets: s.packets.Load(),
			Bytes:   s.bytes.Load(),
			Errors:  errs.String(),
		})
		if err != nil {
			s.log.WithError(err).Debug("Failed to update stream stats")
		}
	}
	return nil
}

// refreshChannel hands edited PIDs to the demuxer. Only edits made through
// the channel manager count, so PMT driven changes are not undone.
func (s *Streamer) refreshChannel() {
	if s.deps.Channels == nil {
		return
	}
	counter := s.deps.Channels.ModificationCounter()
	if counter == s.chanCounter {
		return
	}
	s.chanCounter = counter
	ch, err := s.deps.Channels.Lookup(s.channel.UID())
	if err != nil {
		return
	}
	s.mu.Lock()
	s.channel = *ch
	s.mu.Unlock()
	s.demux.UpdateChannel(ch)
}

func (s *Streamer) sendPacket(pkt *demux.Packet) error {
	if pkt.StreamChange {
		s.announced = true
		if err := s.send(streamChangeFrame(s.demux.Streams())); err != nil {
			return err
		}
	}
	if !pkt.RefTime.IsZero() && !pkt.RefTime.Equal(s.lastRef) {
		s.lastRef = pkt.RefTime
		if err := s.send(refTimeFrame(pkt)); err != nil {
			return err
		}
	}
	if err := s.send(muxFrame(pkt)); err != nil {
		return err
	}
	s.packets.Add(1)
	s.bytes.Add(int64(len(pkt.Data)))
	metrics.AddStreamPacket(s.channel.Name, len(pkt.Data))
	return nil
}

func (s *Streamer) sendSignalInfo() error {
	return s.sendInfo(signalInfoFrame(s.demux.SignalInfo()))
}

func (s *Streamer) sendStatus(msg string) error {
	return s.sendInfo(statusFrame(msg))
}

// sendInfo writes a frame that is not a packet. Stream traffic starts with
// the stream list, so one is sent first when no packet has announced it.
func (s *Streamer) sendInfo(resp *wire.Response) error {
	if !s.announced {
		s.announced = true
		if err := s.send(streamChangeFrame(s.demux.Streams())); err != nil {
			return err
		}
	}
	return s.send(resp)
}

func (s *Streamer) send(resp *wire.Response) error {
	resp.Finalise()
	return s.out.Send(resp)
}
