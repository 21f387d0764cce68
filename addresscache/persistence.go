package addresscache

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// diskRecord is the self-describing on-disk format: updatedAt plus an ordered endpoint list.
// Field names match the wire contract in the external-interfaces section of the spec.
type diskRecord struct {
	UpdatedAt time.Time      `json:"updatedAt"`
	Endpoints []endpointJSON `json:"endpoints"`
}

// endpointJSON is the textual wire representation of one Endpoint: ip as a string literal
// (v4 or v6), port as an unsigned 16-bit integer.
type endpointJSON struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func toEndpointJSON(e Endpoint) endpointJSON {
	return endpointJSON{IP: e.IP.String(), Port: e.Port}
}

func fromEndpointJSON(e endpointJSON) (Endpoint, error) {
	ip := net.ParseIP(e.IP)
	if ip == nil {
		return Endpoint{}, fmt.Errorf("invalid IP literal %q", e.IP)
	}
	return Endpoint{IP: ip, Port: e.Port}, nil
}

func encodeEndpoints(eps []Endpoint) []endpointJSON {
	out := make([]endpointJSON, len(eps))
	for i, e := range eps {
		out[i] = toEndpointJSON(e)
	}
	return out
}

func decodeEndpoints(eps []endpointJSON) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(eps))
	for _, e := range eps {
		ep, err := fromEndpointJSON(e)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q:%s: %w", e.IP, strconv.Itoa(int(e.Port)), err)
		}
		out = append(out, ep)
	}
	return out, nil
}

// readDiskSnapshot loads and decodes the on-disk cache file. It returns an error wrapping
// read_cache or decode_cache per the error taxonomy; callers treat any error as "fall through
// to the next bootstrap source."
func readDiskSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, errReadCache(path, err)
	}
	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, errDecodeCache(path, err)
	}
	eps, err := decodeEndpoints(rec.Endpoints)
	if err != nil {
		return Snapshot{}, errDecodeCache(path, err)
	}
	return Snapshot{UpdatedAt: rec.UpdatedAt, Endpoints: eps}, nil
}

// readBundleSnapshot loads and decodes the bundled seed file: a bare JSON array of endpoint
// records, no wrapping object and no updatedAt. The returned snapshot always has a zero
// UpdatedAt ("epoch-0"), and bootstrap adopts it with that zero timestamp.
func readBundleSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, errReadBundle(path, err)
	}
	var raw []endpointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, errDecodeBundle(path, err)
	}
	eps, err := decodeEndpoints(raw)
	if err != nil {
		return Snapshot{}, errDecodeBundle(path, err)
	}
	return Snapshot{Endpoints: eps}, nil
}

// writeDiskSnapshotAtomic encodes the snapshot and writes it to path using a temp-file-then-
// rename discipline, so a crash mid-write can never leave a partial file behind. The parent
// directory is created on demand.
func writeDiskSnapshotAtomic(path string, snap Snapshot) error {
	rec := diskRecord{UpdatedAt: snap.UpdatedAt, Endpoints: encodeEndpoints(snap.Endpoints)}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errEncodeCache(err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errWriteCache(path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-addresscache-*")
	if err != nil {
		return errWriteCache(path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errWriteCache(path, err)
	}
	if err := tmp.Close(); err != nil {
		return errWriteCache(path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errWriteCache(path, err)
	}
	return nil
}
