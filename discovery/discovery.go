// Package discovery announces sharecore servers on the local network over
// mDNS and browses for them.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceType is the DNS-SD service sharecore servers register.
	ServiceType = "_sharecore._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
	// ProtocolVersion is advertised in the TXT record.
	ProtocolVersion = "1"
)

// Peer is a discovered server.
type Peer struct {
	Instance string
	Host     string
	Addr     string
	Port     int
	Version  string
	Files    int
}

// Announcer keeps a server registered until Shutdown.
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers a server listening on port. An empty instance uses the
// host name.
func Announce(instance string, port, files int) (*Announcer, error) {
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		instance = hostname
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, Text(files), nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Announce",
			"instance": instance,
			"port":     port,
			"error":    err.Error(),
		}).Error("Failed to register service")
		return nil, fmt.Errorf("register %s: %w", ServiceType, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Announce",
		"instance": instance,
		"port":     port,
	}).Info("Announcing server")

	return &Announcer{server: server}, nil
}

// UpdateFiles refreshes the advertised file count.
func (a *Announcer) UpdateFiles(files int) {
	a.server.SetText(Text(files))
}

// Shutdown withdraws the announcement.
func (a *Announcer) Shutdown() {
	a.server.Shutdown()
}

// Text builds the TXT record for a server sharing files entries.
func Text(files int) []string {
	return []string{
		"version=" + ProtocolVersion,
		"files=" + strconv.Itoa(files),
	}
}

// Browse collects servers until ctx is done. Duplicate answers for the same
// instance are merged.
func Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	found := make(map[string]Peer)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if p, ok := PeerFromEntry(entry); ok {
					found[p.Instance] = p
					logrus.WithFields(logrus.Fields{
						"function": "Browse",
						"instance": p.Instance,
						"addr":     p.Addr,
					}).Debug("Discovered server")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}
	<-ctx.Done()
	<-collected

	peers := make([]Peer, 0, len(found))
	for _, p := range found {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Instance < peers[j].Instance })
	return peers, nil
}

// PeerFromEntry converts a resolved service entry, preferring IPv4. Entries
// without an address or port are rejected.
func PeerFromEntry(e *zeroconf.ServiceEntry) (Peer, bool) {
	if e == nil || e.Port <= 0 {
		return Peer{}, false
	}

	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return Peer{}, false
	}

	p := Peer{
		Instance: e.Instance,
		Host:     strings.TrimSuffix(e.HostName, "."),
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
		Port:     e.Port,
	}
	for _, kv := range e.Text {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case "version":
			p.Version = value
		case "files":
			p.Files, _ = strconv.Atoi(value)
		}
	}
	return p, true
}
