// Package device opens transport stream inputs for channels and
// recordings and feeds them into a sink.
package device

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/pvr"
)

// Manager implements pvr.Device over udp://, rtp://, http(s):// and file:// inputs.
// Live inputs occupy one of MaxInputs slots; recording playback does not.
type Manager struct {
	cfg    config.DeviceConfig
	log    logger.Logger
	client *http.Client

	mu     sync.Mutex
	inputs map[uint64]*Info
	nextID uint64
}

// Info describes an open input.
type Info struct {
	ID       uint64    `json:"id"`
	Scheme   string    `json:"scheme"`
	Target   string    `json:"target"`
	Channel  string    `json:"channel,omitempty"`
	Priority int32     `json:"priority"`
	Live     bool      `json:"live"`
	Opened   time.Time `json:"opened"`
}

// NewManager creates a device manager.
func NewManager(cfg config.DeviceConfig, log logger.Logger) *Manager {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Manager{
		cfg: cfg,
		log: logger.WithComponent(log, "device"),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: cfg.DialTimeout,
			},
		},
		inputs: make(map[uint64]*Info),
	}
}

// Open acquires an input for ch and starts feeding sink.
func (m *Manager) Open(ctx context.Context, ch *pvr.Channel, priority int32, sink pvr.Sink) (pvr.Input, error) {
	u, err := url.Parse(ch.InputURL)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("channel %s input %q: %w", ch.Name, ch.InputURL, pvr.ErrInvalid)
	}

	if u.Scheme == "file" {
		in, err := m.OpenFile(ctx, u.Path, sink)
		if err != nil {
			return nil, err
		}
		return in, nil
	}

	id, err := m.acquire(u, ch, priority)
	if err != nil {
		return nil, err
	}
	release := func() { m.release(id, u.Scheme) }

	log := m.log.WithFields(map[string]interface{}{
		"channel": ch.Name,
		"input":   u.Redacted(),
	})

	var in pvr.Input
	switch u.Scheme {
	case "udp", "rtp":
		in, err = openUDP(ctx, u, m.cfg, sink, log, release)
	case "http", "https":
		in, err = openHTTP(ctx, m.client, u, m.cfg, sink, log, release)
	default:
		err = fmt.Errorf("%s: %w", u.Scheme, pvr.ErrUnsupportedInput)
	}
	if err != nil {
		release()
		return nil, err
	}
	log.WithField("priority", priority).Info("Input opened")
	return in, nil
}

// OpenFile opens a recording file for playback.
func (m *Manager) OpenFile(ctx context.Context, path string, sink pvr.Sink) (pvr.FileInput, error) {
	id := m.track(&Info{Scheme: "file", Target: path, Opened: time.Now()})
	in, err := openFile(path, m.cfg, sink, m.log.WithField("file", path), func() { m.release(id, "file") })
	if err != nil {
		m.release(id, "file")
		return nil, err
	}
	return in, nil
}

func (m *Manager) acquire(u *url.URL, ch *pvr.Channel, priority int32) (uint64, error) {
	m.mu.Lock()
	live := 0
	for _, info := range m.inputs {
		if info.Live {
			live++
		}
	}
	m.mu.Unlock()
	if m.cfg.MaxInputs > 0 && live >= m.cfg.MaxInputs {
		return 0, fmt.Errorf("%d inputs in use: %w", live, pvr.ErrDeviceBusy)
	}
	return m.track(&Info{
		Scheme:   u.Scheme,
		Target:   u.Redacted(),
		Channel:  ch.Name,
		Priority: priority,
		Live:     true,
		Opened:   time.Now(),
	}), nil
}

func (m *Manager) track(info *Info) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	info.ID = m.nextID
	m.inputs[info.ID] = info
	metrics.InputOpened(info.Scheme)
	return info.ID
}

func (m *Manager) release(id uint64, scheme string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inputs[id]; !ok {
		return
	}
	delete(m.inputs, id)
	metrics.InputClosed(scheme)
}

// Inputs lists the open inputs.
func (m *Manager) Inputs() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.inputs))
	for _, info := range m.inputs {
		out = append(out, *info)
	}
	return out
}
