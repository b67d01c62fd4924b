package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
	"github.com/vnsid/vnsid/internal/pvr"
)

// streamInput pumps a live byte source into a sink until closed.
type streamInput struct {
	scheme  string
	adapter string
	sink    pvr.Sink
	log     logger.Logger
	lockTTL time.Duration

	lastData atomic.Int64 // unix nanos of the last received bytes
	bytes    atomic.Int64

	cancel    context.CancelFunc
	closer    io.Closer
	wg        sync.WaitGroup
	closeOnce sync.Once
	release   func()
}

func newStreamInput(scheme, adapter string, cfg config.DeviceConfig, sink pvr.Sink, log logger.Logger, release func()) *streamInput {
	return &streamInput{
		scheme:  scheme,
		adapter: adapter,
		sink:    sink,
		log:     log,
		lockTTL: cfg.LockTimeout,
		release: release,
	}
}

func (s *streamInput) deliver(p []byte) {
	if len(p) == 0 {
		return
	}
	s.lastData.Store(time.Now().UnixNano())
	s.bytes.Add(int64(len(p)))
	metrics.AddInputBytes(s.scheme, len(p))
	s.sink.Put(p)
}

// Close stops the pump and releases the device slot.
func (s *streamInput) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.closer != nil {
			s.closer.Close()
		}
		s.wg.Wait()
		s.release()
		s.log.WithField("bytes", s.bytes.Load()).Info("Input closed")
	})
	return nil
}

// SignalInfo reports the input locked while data arrives.
func (s *streamInput) SignalInfo() pvr.SignalInfo {
	info := pvr.SignalInfo{Adapter: s.adapter, Status: "NO SIGNAL"}
	last := s.lastData.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < s.lockTTL {
		info.Status = "LOCKED"
		info.SNR = 0xFFFF
		info.Signal = 0xFFFF
	}
	return info
}

func (s *streamInput) Seekable() bool { return false }

func openUDP(ctx context.Context, u *url.URL, cfg config.DeviceConfig, sink pvr.Sink, log logger.Logger, release func()) (*streamInput, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", u.Host, err)
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", u.Host, err)
	}
	if err := conn.SetReadBuffer(cfg.ReadBufferSize); err != nil {
		log.WithError(err).Warn("Failed to set UDP read buffer size")
	}

	s := newStreamInput(u.Scheme, "udp "+u.Host, cfg, sink, log, release)
	ctx, s.cancel = context.WithCancel(ctx)
	s.closer = conn
	s.wg.Add(1)
	go s.readUDP(ctx, conn)
	return s, nil
}

func (s *streamInput) readUDP(ctx context.Context, conn *net.UDPConn) {
	defer s.wg.Done()

	buf := make([]byte, 65536)
	var pkt rtp.Packet
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() == nil {
				s.log.WithError(err).Warn("UDP input read failed")
			}
			return
		}
		s.deliver(stripRTP(&pkt, buf[:n]))
	}
}

// stripRTP returns the TS payload of an RTP datagram, or the datagram
// itself when it already starts with a TS sync byte.
func stripRTP(pkt *rtp.Packet, datagram []byte) []byte {
	if len(datagram) == 0 || datagram[0] == 0x47 {
		return datagram
	}
	if datagram[0]>>6 != 2 {
		return datagram
	}
	if err := pkt.Unmarshal(datagram); err != nil {
		return datagram
	}
	return pkt.Payload
}

func openHTTP(ctx context.Context, client *http.Client, u *url.URL, cfg config.DeviceConfig, sink pvr.Sink, log logger.Logger, release func()) (*streamInput, error) {
	s := newStreamInput(u.Scheme, u.Scheme+" "+u.Host, cfg, sink, log, release)
	ctx, s.cancel = context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		s.cancel()
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("GET %s: %w", u.Redacted(), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		s.cancel()
		return nil, fmt.Errorf("GET %s: status %d: %w", u.Redacted(), resp.StatusCode, pvr.ErrNotFound)
	}

	s.closer = resp.Body
	s.wg.Add(1)
	go s.readHTTP(ctx, resp.Body, cfg.ReadBufferSize)
	return s, nil
}

func (s *streamInput) readHTTP(ctx context.Context, body io.Reader, size int) {
	defer s.wg.Done()

	if size <= 0 {
		size = 64 * 1024
	}
	buf := make([]byte, size)
	for {
		n, err := body.Read(buf)
		s.deliver(buf[:n])
		if err != nil {
			if ctx.Err() == nil {
				s.log.WithError(err).Warn("HTTP input ended")
			}
			s.sink.SetEndOfData(true)
			return
		}
	}
}
