package addresscache

import (
	"fmt"
	"net"
	"time"
)

// Endpoint is an (ip, port) pair identifying one candidate API frontend. Endpoints compare by
// value: two Endpoints with equal IP and Port are interchangeable regardless of which net.IP
// representation (4-byte vs 16-byte) produced them.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// Key returns a normalized, comparable string form of the endpoint, used as a map key so that
// IPv4 and IPv4-in-IPv6 representations of the same address are never treated as distinct.
func (e Endpoint) Key() string {
	ip := e.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return fmt.Sprintf("%s:%d", ip.String(), e.Port)
}

// Equal reports whether two endpoints denote the same address and port.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Key() == other.Key()
}

// String renders the endpoint as "ip:port", using bracket notation for IPv6 addresses.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprintf("%d", e.Port))
}

// Source records the provenance of the current snapshot: where it was last loaded from.
// It is recorded at bootstrap and reported by Cache.Source; no other behavior depends on it.
type Source string

const (
	SourceDisk    Source = "disk"
	SourceBundle  Source = "bundle"
	SourceDefault Source = "default"
)

// Snapshot is a timestamped, ordered list of candidate endpoints. The first element is always
// the current endpoint; invariant: len(Endpoints) >= 1 whenever a Snapshot is observable from
// outside the Cache.
type Snapshot struct {
	UpdatedAt time.Time
	Endpoints []Endpoint
}

// sameEndpointSet reports whether two endpoint lists contain the same endpoints, ignoring
// order. Lists of different lengths never match, and duplicates are not collapsed: [a, a, b]
// and [a, b, b] are reported as different.
func sameEndpointSet(a, b []Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, e := range a {
		seen[e.Key()] = struct{}{}
	}
	for _, e := range b {
		if _, ok := seen[e.Key()]; !ok {
			return false
		}
		delete(seen, e.Key())
	}
	return len(seen) == 0
}
