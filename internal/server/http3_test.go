package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/logger"
)

// writeSelfSigned writes a localhost certificate and key into dir.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "admin.crt")
	keyFile = filepath.Join(dir, "admin.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func freePort(t *testing.T, network string) int {
	t.Helper()
	switch network {
	case "udp":
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		defer pc.Close()
		return pc.LocalAddr().(*net.UDPAddr).Port
	default:
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		return ln.Addr().(*net.TCPAddr).Port
	}
}

func TestAdminOverHTTP3(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t, t.TempDir())
	opts := testOptions()
	opts.Metrics.Enabled = true
	opts.Metrics.Path = "/metrics"
	opts.Metrics.Port = freePort(t, "tcp")
	opts.Metrics.HTTP3Port = freePort(t, "udp")
	opts.Metrics.TLSCertFile = certFile
	opts.Metrics.TLSKeyFile = keyFile

	s := New(opts, depsFor(newStore(t)), nil, nil, logger.NewNop())
	startServer(t, s)

	tr := &http3.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	defer tr.Close()
	client := &http.Client{Transport: tr, Timeout: 2 * time.Second}
	url := "https://127.0.0.1:" + strconv.Itoa(opts.Metrics.HTTP3Port) + "/live"

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := client.Get(url)
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 5*time.Second, 50*time.Millisecond)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, resp.ProtoMajor)
}

func TestAdminHTTP3NeedsCertificate(t *testing.T) {
	opts := testOptions()
	opts.Metrics.Enabled = true
	opts.Metrics.Path = "/metrics"
	opts.Metrics.Port = freePort(t, "tcp")
	opts.Metrics.HTTP3Port = freePort(t, "udp")
	opts.Metrics.TLSCertFile = filepath.Join(t.TempDir(), "missing.crt")
	opts.Metrics.TLSKeyFile = filepath.Join(t.TempDir(), "missing.key")

	s := New(opts, depsFor(newStore(t)), nil, nil, logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS certificates")
}
