package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/coco/pkg/blocklist"
	"github.com/cuemby/coco/pkg/cocoerr"
	"github.com/cuemby/coco/pkg/endpoint"
	"github.com/cuemby/coco/pkg/log"
	"github.com/cuemby/coco/pkg/metrics"
	"github.com/cuemby/coco/pkg/queue"
	"github.com/cuemby/coco/pkg/worker"
	"github.com/rs/zerolog"
)

// Config holds the fields of the top-level config that shape the
// frontend's listener and per-request behaviour.
type Config struct {
	Port     int
	Timeout  time.Duration // frontend_timeout: bound on the rendezvous wait
	NWorkers int           // cap on concurrent in-flight handlers
}

// Frontend is coco's HTTP entrypoint. It owns no state of its own: every
// handler either enqueues onto the shared queue and awaits the worker's
// rendezvous, or (blocklist, /wait) serves directly against a
// self-synchronising dependency.
type Frontend struct {
	cfg      Config
	registry *endpoint.Registry
	queue    *queue.Queue

	server *http.Server
	tokens chan struct{}
	logger zerolog.Logger
}

// New builds a Frontend and registers every route up front: one per
// declared endpoint, plus the built-ins of spec §6.
func New(cfg Config, registry *endpoint.Registry, q *queue.Queue, bl *blocklist.Blocklist) *Frontend {
	if cfg.NWorkers <= 0 {
		cfg.NWorkers = 1
	}

	f := &Frontend{
		cfg:      cfg,
		registry: registry,
		queue:    q,
		tokens:   make(chan struct{}, cfg.NWorkers),
		logger:   log.WithComponent("frontend"),
	}

	mux := http.NewServeMux()
	for _, spec := range registry.Specs() {
		mux.Handle("/"+spec.Name, f.limit(f.handleEndpoint(spec.Name)))
	}

	mux.HandleFunc("/blocklist", bl.ServeGet)
	mux.HandleFunc("/update-blocklist", bl.ServePost)
	mux.Handle("/saved-states", f.limit(f.handleControl(worker.ControlSavedStates)))
	mux.Handle("/save-state", f.limit(f.handleControl(worker.ControlSaveState)))
	mux.Handle("/load-state", f.limit(f.handleControl(worker.ControlLoadState)))
	mux.Handle("/reset-state", f.limit(f.handleControl(worker.ControlResetState)))
	mux.HandleFunc("/wait", f.handleWait)

	f.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return f
}

// limit wraps h with the n_workers concurrency cap, the same buffered-
// channel counting semaphore pkg/forwarder uses for session_limit.
func (f *Frontend) limit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case f.tokens <- struct{}{}:
		case <-r.Context().Done():
			return
		}
		defer func() { <-f.tokens }()
		h(w, r)
	}
}

// handleEndpoint enqueues a request against a declared endpoint and
// waits for the worker's rendezvous result, bounded by frontend_timeout.
func (f *Frontend) handleEndpoint(name string) http.HandlerFunc {
	endpointLogger := log.WithEndpoint(name)
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		body, err := decodeBody(r)
		if err != nil {
			f.writeError(w, name, cocoerr.NewInvalidUsage(fmt.Sprintf("malformed body: %v", err)))
			return
		}

		status, result, err := f.dispatch(r, name, body)
		timer.ObserveDurationVec(metrics.FrontendRequestDuration, name)
		if err != nil {
			endpointLogger.Warn().Err(err).Msg("request failed")
			f.writeError(w, name, err)
			return
		}
		f.writeJSON(w, name, status, result)
	}
}

// handleControl enqueues a request against a reserved worker-side
// control endpoint (the state-store built-ins), since the state store
// is owned by the worker process exclusively (spec §5).
func (f *Frontend) handleControl(controlName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(r)
		if err != nil {
			f.writeError(w, controlName, cocoerr.NewInvalidUsage(fmt.Sprintf("malformed body: %v", err)))
			return
		}
		status, result, err := f.dispatch(r, controlName, body)
		if err != nil {
			f.writeError(w, controlName, err)
			return
		}
		f.writeJSON(w, controlName, status, result)
	}
}

// handleWait implements POST /wait directly: it touches no shared
// resource, so routing it through the strictly-serial worker would
// stall every other endpoint for the sleep duration. Mirrors
// wait.py's process_post: a missing or non-numeric seconds field is
// rejected rather than silently defaulted.
func (f *Frontend) handleWait(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		f.writeError(w, "wait", cocoerr.NewInvalidUsage(fmt.Sprintf("malformed body: %v", err)))
		return
	}

	raw, ok := body["seconds"]
	if !ok {
		f.writeError(w, "wait", cocoerr.NewInvalidUsage("no duration in seconds sent"))
		return
	}
	seconds, ok := raw.(float64)
	if !ok {
		f.writeError(w, "wait", cocoerr.NewInvalidUsage("value for seconds is not a number"))
		return
	}

	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	case <-r.Context().Done():
		return
	}
	f.writeJSON(w, "wait", http.StatusOK, map[string]bool{"success": true})
}

// dispatch enqueues one entry and blocks for the worker's answer.
func (f *Frontend) dispatch(r *http.Request, endpointName string, body map[string]interface{}) (int, interface{}, error) {
	entry := queue.Entry{
		Key:        queue.NewKey(),
		Method:     r.Method,
		Endpoint:   endpointName,
		Body:       body,
		Params:     queryParams(r),
		ReceivedAt: time.Now(),
	}

	if err := f.queue.Enqueue(entry); err != nil {
		if errors.Is(err, queue.ErrFull) {
			return 0, nil, err
		}
		return 0, nil, cocoerr.WrapInternalError("enqueue", err)
	}

	ctx := r.Context()
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	res, err := f.queue.Await(ctx, entry.Key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, err
		}
		return 0, nil, cocoerr.WrapInternalError("await", err)
	}
	return res.Status, res.Body, nil
}

func (f *Frontend) writeJSON(w http.ResponseWriter, endpointName string, status int, body interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	metrics.FrontendRequestsTotal.WithLabelValues(endpointName, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		f.logger.Error().Err(err).Str("endpoint", endpointName).Msg("failed to encode response")
	}
}

func (f *Frontend) writeError(w http.ResponseWriter, endpointName string, err error) {
	if errors.Is(err, queue.ErrFull) {
		f.writeJSON(w, endpointName, http.StatusServiceUnavailable,
			map[string]interface{}{"reply": "Coco queue is full.", "status": http.StatusServiceUnavailable})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		f.writeJSON(w, endpointName, http.StatusGatewayTimeout,
			map[string]string{"error": "timed out waiting for a worker reply"})
		return
	}
	status := cocoerr.HTTPStatus(err)
	f.writeJSON(w, endpointName, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return map[string]interface{}{}, nil
	}
	var body map[string]interface{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func queryParams(r *http.Request) map[string]string {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

// Start begins serving and blocks until ctx is cancelled, then shuts
// down gracefully.
func (f *Frontend) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", f.server.Addr)
	if err != nil {
		return fmt.Errorf("frontend: listen %s: %w", f.server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		f.logger.Info().Str("addr", f.server.Addr).Msg("frontend listening")
		if err := f.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	f.logger.Info().Msg("frontend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return f.server.Shutdown(shutdownCtx)
}
