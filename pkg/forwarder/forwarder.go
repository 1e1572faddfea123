package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/coco/pkg/blocklist"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/log"
	"github.com/cuemby/coco/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HostResult is one host's outcome from a fan-out: a decoded JSON body
// (or a structured error descriptor) and the HTTP status that produced
// it. Status 0 denotes a transport-level failure (timeout, connection
// refused) rather than an upstream response.
type HostResult struct {
	Body   interface{} `json:"body"`
	Status int         `json:"status"`
}

// Reply is a fan-out's per-host result map, keyed by "hostname:port".
// Blocklisted hosts never appear; their absence is not an error.
type Reply map[string]HostResult

// Forwarder issues concurrent HTTP calls to a set of hosts, bounded by a
// global session-concurrency cap, honouring the blocklist.
type Forwarder struct {
	client    *http.Client
	blocklist *blocklist.Blocklist
	tokens    chan struct{} // buffered channel acting as a counting semaphore
	logger    zerolog.Logger
}

// New builds a Forwarder with the given global session concurrency limit
// and per-host call timeout.
func New(sessionLimit int, timeout time.Duration, bl *blocklist.Blocklist) *Forwarder {
	if sessionLimit <= 0 {
		sessionLimit = 1
	}
	return &Forwarder{
		client:    &http.Client{Timeout: timeout},
		blocklist: bl,
		tokens:    make(chan struct{}, sessionLimit),
		logger:    log.WithComponent("forwarder"),
	}
}

// Forward fans body out to hosts (minus any blocklisted member) over
// method/path concurrently, under the global session-concurrency cap, and
// returns one Reply entry per non-blocklisted target. A per-host timeout
// bounds each call; exceeding it yields a per-host failure result without
// cancelling the others.
func (f *Forwarder) Forward(ctx context.Context, hosts []hostset.Host, method, path string, body interface{}) (Reply, error) {
	targets := make([]hostset.Host, 0, len(hosts))
	for _, h := range hosts {
		if f.blocklist != nil && f.blocklist.IsBlocked(h) {
			continue
		}
		targets = append(targets, h)
	}

	reply := make(Reply, len(targets))
	var mu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	for _, h := range targets {
		h := h
		group.Go(func() error {
			select {
			case f.tokens <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-f.tokens }()

			result := f.call(gctx, h, method, path, body)

			mu.Lock()
			reply[h.String()] = result
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return reply, nil
}

func (f *Forwarder) call(ctx context.Context, h hostset.Host, method, path string, body interface{}) HostResult {
	hostLogger := log.WithHost(h.String())
	timer := metrics.NewTimer()
	defer func() { timer.ObserveDurationVec(metrics.ForwardDuration, h.String()) }()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return f.fail(h, fmt.Sprintf("encode request body: %v", err))
		}
		reader = bytes.NewReader(encoded)
	}

	url := fmt.Sprintf("http://%s%s", h.String(), path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return f.fail(h, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		hostLogger.Warn().Err(err).Msg("forward failed")
		metrics.ForwardRequestsTotal.WithLabelValues(h.String(), "error").Inc()
		return f.fail(h, err.Error())
	}
	defer resp.Body.Close()

	var decoded interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		metrics.ForwardRequestsTotal.WithLabelValues(h.String(), "decode_error").Inc()
		return HostResult{
			Body:   map[string]string{"error": fmt.Sprintf("non-decodable body: %v", err)},
			Status: resp.StatusCode,
		}
	}

	metrics.ForwardRequestsTotal.WithLabelValues(h.String(), statusClass(resp.StatusCode)).Inc()
	return HostResult{Body: decoded, Status: resp.StatusCode}
}

func (f *Forwarder) fail(h hostset.Host, msg string) HostResult {
	return HostResult{
		Body:   map[string]string{"error": msg},
		Status: 0,
	}
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
