package server

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/logger"
)

func TestParseAllowedHosts(t *testing.T) {
	input := `
# local network
192.168.1.0/24
10.0.0.5      # nas
not-an-address
fd00::/8
::1
`
	nets, err := parseAllowedHosts(strings.NewReader(input), logger.NewNop())
	require.NoError(t, err)
	require.Len(t, nets, 4)

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.77", true},
		{"192.168.2.1", false},
		{"10.0.0.5", true},
		{"10.0.0.6", false},
		{"fd12::1", true},
		{"::1", true},
		{"2001:db8::1", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			got := false
			for _, n := range nets {
				if n.Contains(ip) {
					got = true
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllowedHostsMissingFileAdmitsLoopback(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.conf")} {
		a := NewAllowedHosts(path, logger.NewNop())
		assert.True(t, a.Allowed(net.ParseIP("127.0.0.1")))
		assert.True(t, a.Allowed(net.ParseIP("::1")))
		assert.False(t, a.Allowed(net.ParseIP("192.168.1.10")))
	}
}

func TestAllowedHostsReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed_hosts.conf")
	require.NoError(t, os.WriteFile(path, []byte("192.168.1.0/24\n"), 0o644))

	a := NewAllowedHosts(path, logger.NewNop())
	assert.True(t, a.Allowed(net.ParseIP("192.168.1.10")))
	assert.False(t, a.Allowed(net.ParseIP("10.1.1.1")))
	// a present file replaces the loopback default
	assert.False(t, a.Allowed(net.ParseIP("127.0.0.1")))

	require.NoError(t, os.WriteFile(path, []byte("10.1.1.0/24\n127.0.0.1\n"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	assert.True(t, a.Allowed(net.ParseIP("10.1.1.1")))
	assert.True(t, a.Allowed(net.ParseIP("127.0.0.1")))
	assert.False(t, a.Allowed(net.ParseIP("192.168.1.10")))

	require.NoError(t, os.Remove(path))
	assert.True(t, a.Allowed(net.ParseIP("127.0.0.1")))
	assert.False(t, a.Allowed(net.ParseIP("10.1.1.1")))
}
