package blocklist

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cuemby/coco/pkg/cocoerr"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/log"
	"github.com/rs/zerolog"
)

type document struct {
	BlocklistHosts []string `json:"blocklist_hosts"`
}

// Blocklist is the mutable, persisted set of hosts excluded from
// forwarding. Every element must belong to the known-hosts table built
// from the configured groups.
type Blocklist struct {
	mu   sync.RWMutex
	path string

	hosts map[hostset.Host]struct{}

	knownAll     map[hostset.Host]struct{}
	knownByName  map[string][]hostset.Host

	logger zerolog.Logger
}

// Open loads (or initialises) the blocklist document at path and builds
// the known-hosts lookup from known.
func Open(path string, known []hostset.Host) (*Blocklist, error) {
	b := &Blocklist{
		path:        path,
		hosts:       make(map[hostset.Host]struct{}),
		knownAll:    make(map[hostset.Host]struct{}),
		knownByName: make(map[string][]hostset.Host),
		logger:      log.WithComponent("blocklist"),
	}
	b.addKnownHosts(known)

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return b, b.persistLocked()
	case err != nil:
		return nil, fmt.Errorf("blocklist: read %s: %w", path, err)
	}

	var doc document
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("blocklist: decode %s: %w", path, err)
		}
	}
	for _, hs := range doc.BlocklistHosts {
		h, err := hostset.Parse(hs)
		if err != nil {
			return nil, fmt.Errorf("blocklist: stored entry %q: %w", hs, err)
		}
		b.hosts[h] = struct{}{}
	}
	return b, nil
}

func (b *Blocklist) addKnownHosts(hosts []hostset.Host) {
	for _, h := range hosts {
		b.knownAll[h] = struct{}{}
		b.knownByName[h.Hostname] = append(b.knownByName[h.Hostname], h)
	}
}

// Hosts returns the current blocklisted hosts, sorted for stable display.
func (b *Blocklist) Hosts() []hostset.Host {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]hostset.Host, 0, len(b.hosts))
	for h := range b.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsBlocked reports whether h is currently blocklisted.
func (b *Blocklist) IsBlocked(h hostset.Host) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hosts[h]
	return ok
}

// Add adds hosts to the blocklist. If any entry doesn't resolve to a
// known host, the whole request is rejected and nothing changes.
func (b *Blocklist) Add(raw []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	resolved, err := b.resolveLocked(raw)
	if err != nil {
		return err
	}
	changed := false
	for _, h := range resolved {
		if _, already := b.hosts[h]; already {
			continue
		}
		b.hosts[h] = struct{}{}
		changed = true
	}
	if !changed {
		return nil
	}
	b.logger.Info().Strs("hosts", hostStrings(resolved)).Msg("adding hosts to blocklist")
	return b.persistLocked()
}

// Remove removes hosts from the blocklist. If any entry doesn't resolve
// to a known host, the whole request is rejected and nothing changes.
func (b *Blocklist) Remove(raw []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	resolved, err := b.resolveLocked(raw)
	if err != nil {
		return err
	}
	changed := false
	for _, h := range resolved {
		if _, present := b.hosts[h]; !present {
			continue
		}
		delete(b.hosts, h)
		changed = true
	}
	if !changed {
		return nil
	}
	b.logger.Info().Strs("hosts", hostStrings(resolved)).Msg("removing hosts from blocklist")
	return b.persistLocked()
}

// Clear empties the blocklist.
func (b *Blocklist) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts = make(map[hostset.Host]struct{})
	return b.persistLocked()
}

// resolveLocked validates and normalises a request's host list against
// the known-hosts table. A bare hostname is resolved only if exactly one
// known host carries it; a host:port must match a known entry exactly.
// Any unresolvable entry fails the whole call.
func (b *Blocklist) resolveLocked(raw []string) ([]hostset.Host, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	resolved := make([]hostset.Host, 0, len(raw))
	var bad []string

	for _, hs := range raw {
		h, err := hostset.Parse(hs)
		if err != nil {
			bad = append(bad, hs)
			continue
		}

		if h.HasPort() {
			if _, ok := b.knownAll[h]; !ok {
				bad = append(bad, hs)
				continue
			}
			resolved = append(resolved, h)
			continue
		}

		candidates := b.knownByName[h.Hostname]
		if len(candidates) != 1 {
			bad = append(bad, hs)
			continue
		}
		resolved = append(resolved, candidates[0])
	}

	if len(bad) > 0 {
		return nil, cocoerr.NewInvalidUsage(
			fmt.Sprintf("requested hosts unknown: %v", bad), bad...,
		)
	}
	return resolved, nil
}

func (b *Blocklist) persistLocked() error {
	hosts := make([]string, 0, len(b.hosts))
	for h := range b.hosts {
		hosts = append(hosts, h.String())
	}
	sort.Strings(hosts)

	data, err := json.MarshalIndent(document{BlocklistHosts: hosts}, "", "  ")
	if err != nil {
		return fmt.Errorf("blocklist: marshal: %w", err)
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".tmp-blocklist-*")
	if err != nil {
		return fmt.Errorf("blocklist: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blocklist: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("blocklist: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blocklist: close temp file: %w", err)
	}
	return os.Rename(tmpName, b.path)
}

func hostStrings(hosts []hostset.Host) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.String()
	}
	return out
}

// blocklistGetResponse shapes GET /blocklist per spec §6:
// {"coco": [["host:port", ...], 200]}.
type blocklistGetResponse struct {
	Coco []interface{} `json:"coco"`
}

// ServeGet implements GET /blocklist.
func (b *Blocklist) ServeGet(w http.ResponseWriter, _ *http.Request) {
	hosts := b.Hosts()
	strs := make([]string, len(hosts))
	for i, h := range hosts {
		strs[i] = h.String()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(blocklistGetResponse{Coco: []interface{}{strs, http.StatusOK}})
}

type updateRequest struct {
	Command string   `json:"command"`
	Hosts   []string `json:"hosts"`
}

// ServePost implements POST /update-blocklist.
func (b *Blocklist) ServePost(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cocoerr.NewInvalidUsage("malformed update-blocklist body"))
		return
	}
	if req.Command == "" {
		writeError(w, cocoerr.NewInvalidUsage("no blocklist command sent"))
		return
	}

	var err error
	switch req.Command {
	case "add":
		err = b.Add(req.Hosts)
	case "remove":
		err = b.Remove(req.Hosts)
	case "clear":
		err = b.Clear()
	default:
		writeError(w, cocoerr.NewInvalidUsage(fmt.Sprintf("unknown command %q", req.Command)))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cocoerr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
