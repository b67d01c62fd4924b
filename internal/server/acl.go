package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
)

// AllowedHosts is the client ACL read from a file with one IP address or
// CIDR block per line. Text after '#' is a comment. The file is reloaded
// when its modification time changes. Without a file only loopback peers
// are admitted.
type AllowedHosts struct {
	path string
	log  logger.Logger

	mu      sync.Mutex
	modTime time.Time
	present bool
	nets    []*net.IPNet
}

var _ pvr.AllowedHosts = (*AllowedHosts)(nil)

func NewAllowedHosts(path string, log logger.Logger) *AllowedHosts {
	return &AllowedHosts{
		path: path,
		log:  logger.WithComponent(log, "acl"),
	}
}

// Allowed reports whether ip may connect.
func (a *AllowedHosts) Allowed(ip net.IP) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.refresh()
	if !a.present {
		return ip.IsLoopback()
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// refresh reloads the file if it appeared, vanished or changed. A file
// that fails to parse keeps the previous list.
func (a *AllowedHosts) refresh() {
	if a.path == "" {
		a.present = false
		return
	}
	fi, err := os.Stat(a.path)
	if err != nil {
		if a.present {
			a.log.WithField("file", a.path).Warn("Allowed hosts file gone, admitting loopback only")
		}
		a.present = false
		a.nets = nil
		return
	}
	if a.present && fi.ModTime().Equal(a.modTime) {
		return
	}

	f, err := os.Open(a.path)
	if err != nil {
		a.log.WithError(err).Warn("Failed to open allowed hosts file")
		return
	}
	defer f.Close()

	nets, err := parseAllowedHosts(f, a.log)
	if err != nil {
		a.log.WithError(err).Warn("Failed to read allowed hosts file")
		return
	}
	a.nets = nets
	a.modTime = fi.ModTime()
	a.present = true
	a.log.WithFields(logger.Fields{
		"file":    a.path,
		"entries": len(nets),
	}).Info("Loaded allowed hosts")
}

func parseAllowedHosts(r io.Reader, log logger.Logger) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		n, err := parseHost(text)
		if err != nil {
			log.WithFields(logger.Fields{"line": line, "entry": text}).Warn("Skipping invalid allowed hosts entry")
			continue
		}
		nets = append(nets, n)
	}
	return nets, sc.Err()
}

func parseHost(s string) (*net.IPNet, error) {
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		return n, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}
