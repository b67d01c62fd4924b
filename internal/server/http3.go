package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// adminTLSConfig loads the certificate for the HTTP/3 admin listener.
func (s *Server) adminTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.opts.Metrics.TLSCertFile, s.opts.Metrics.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{http3.NextProtoH3},
		Certificates: []tls.Certificate{cert},
	}, nil
}

// serveAdminHTTP3 serves the admin router over QUIC until ctx is done.
func (s *Server) serveAdminHTTP3(ctx context.Context) error {
	tlsConfig, err := s.adminTLSConfig()
	if err != nil {
		return err
	}

	srv := &http3.Server{
		Addr:      net.JoinHostPort(s.opts.Server.ListenAddr, strconv.Itoa(s.opts.Metrics.HTTP3Port)),
		Handler:   s.router,
		TLSConfig: tlsConfig,
		QUICConfig: &quic.Config{
			MaxIdleTimeout: s.stopTimeout() * 6,
		},
	}

	// http3.Server has no context aware shutdown
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	s.logger.WithField("addr", srv.Addr).Info("Starting admin HTTP/3 server")
	err = srv.ListenAndServe()
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("admin HTTP/3 server failed: %w", err)
}
