package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/coco/pkg/cocoerr"
	"github.com/cuemby/coco/pkg/endpoint"
	"github.com/cuemby/coco/pkg/log"
	"github.com/cuemby/coco/pkg/metrics"
	"github.com/cuemby/coco/pkg/queue"
	"github.com/cuemby/coco/pkg/state"
	"github.com/rs/zerolog"
)

// Reserved endpoint names the frontend uses to route state-store
// operations through the worker, since the state store is owned by the
// worker process exclusively (spec §5). The blocklist and /wait don't
// need this: the blocklist guards its own concurrent access, and /wait
// touches no shared resource at all.
const (
	ControlSavedStates = "__coco_saved_states__"
	ControlSaveState   = "__coco_save_state__"
	ControlLoadState   = "__coco_load_state__"
	ControlResetState  = "__coco_reset_state__"
)

// Worker is coco's single consumer: it pops queue entries one at a
// time, executes the endpoint's chain, and writes the rendezvous
// result. It also owns the periodic schedulers for endpoints that
// declare schedule.period.
type Worker struct {
	queue    *queue.Queue
	engine   *endpoint.Engine
	registry *endpoint.Registry
	state    *state.State
	logger   zerolog.Logger

	stopSchedulers chan struct{}
	wg             sync.WaitGroup
}

// New builds a Worker over the shared queue, execution engine,
// endpoint registry, and state store.
func New(q *queue.Queue, eng *endpoint.Engine, registry *endpoint.Registry, st *state.State) *Worker {
	return &Worker{
		queue:          q,
		engine:         eng,
		registry:       registry,
		state:          st,
		logger:         log.WithComponent("worker"),
		stopSchedulers: make(chan struct{}),
	}
}

// RunStartupEndpoints runs every call_on_start endpoint once, before the
// frontend begins accepting traffic (spec §4.5's "Scheduling"). The
// endpoints run in Registry.Specs order, which is not defined.
func (w *Worker) RunStartupEndpoints(ctx context.Context) {
	for _, spec := range w.registry.Specs() {
		if !spec.CallOnStart {
			continue
		}
		w.logger.Info().Str("endpoint", spec.Name).Msg("running call_on_start endpoint")
		w.invoke(ctx, spec.Name, nil)
	}
}

// Start launches the consumer loop and any periodic schedulers as
// background goroutines. It returns immediately.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.consume()

	for _, spec := range w.registry.Specs() {
		if spec.Schedule == nil || spec.Schedule.Period <= 0 {
			continue
		}
		w.wg.Add(1)
		go w.schedule(spec.Name, spec.Schedule.Period)
	}
}

// Stop enqueues the shutdown sentinel, stops the schedulers, and waits
// for every goroutine Start launched to return.
func (w *Worker) Stop() {
	close(w.stopSchedulers)
	w.queue.Shutdown()
	w.wg.Wait()
}

func (w *Worker) consume() {
	defer w.wg.Done()
	for {
		entry, ok, err := w.queue.Dequeue()
		if err != nil {
			w.logger.Error().Err(err).Msg("dequeue failed")
			continue
		}
		if !ok {
			w.logger.Info().Msg("worker consumer stopping")
			return
		}

		if handled, status, body := w.handleControl(entry); handled {
			w.queue.Complete(entry.Key, status, body)
			continue
		}

		ctx := context.Background()
		timer := metrics.NewTimer()
		result, err := w.engine.Invoke(ctx, entry.Endpoint, entry.Body)
		timer.ObserveDurationVec(metrics.EndpointDuration, entry.Endpoint)
		status, body := outcome(result, err)

		metrics.EndpointInvocationsTotal.WithLabelValues(entry.Endpoint, outcomeLabel(err)).Inc()
		if err != nil {
			log.WithQueueKey(entry.Key).Error().Err(err).Str("endpoint", entry.Endpoint).Msg("endpoint invocation failed")
		}

		w.queue.Complete(entry.Key, status, body)
	}
}

// handleControl dispatches the built-in state-store operations that
// must run on the worker side. handled is false for any ordinary,
// config-declared endpoint, which the caller then runs through the
// execution engine.
func (w *Worker) handleControl(entry queue.Entry) (handled bool, status int, body interface{}) {
	switch entry.Endpoint {
	case ControlSavedStates:
		names, err := w.state.ListSaved()
		if err != nil {
			return true, 500, errBody(err)
		}
		return true, 200, names

	case ControlSaveState:
		name, _ := entry.Body["name"].(string)
		if name == "" {
			return true, 400, errBody(fmt.Errorf("missing name"))
		}
		if err := w.state.Save(name); err != nil {
			return true, 500, errBody(err)
		}
		return true, 200, map[string]bool{"success": true}

	case ControlLoadState:
		name, _ := entry.Body["name"].(string)
		if name == "" {
			return true, 400, errBody(fmt.Errorf("missing name"))
		}
		if err := w.state.Load(name); err != nil {
			return true, 500, errBody(err)
		}
		return true, 200, map[string]bool{"success": true}

	case ControlResetState:
		if err := w.state.Reset(); err != nil {
			return true, 500, errBody(err)
		}
		return true, 200, map[string]bool{"success": true}

	default:
		return false, 0, nil
	}
}

func errBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

// schedule invokes name every period until Stop is called, as if an
// empty body had been submitted by a client (spec §4.5). Each tick is
// enqueued rather than invoked directly: consume() is the only
// goroutine allowed to call the engine, so a scheduled invocation's
// chain never interleaves with a concurrently-dequeued client request
// against the shared state store (spec §5(ii)).
func (w *Worker) schedule(name string, period time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopSchedulers:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			w.invokeQueued(ctx, name)
		case <-w.stopSchedulers:
			return
		}
	}
}

// invokeQueued submits name as an ordinary queue entry and waits for
// the worker consumer to process it, so the invocation is serialised
// with every other entry instead of racing consume() directly.
func (w *Worker) invokeQueued(ctx context.Context, name string) {
	entry := queue.Entry{
		Key:        queue.NewKey(),
		Endpoint:   name,
		ReceivedAt: time.Now(),
	}
	if err := w.queue.Enqueue(entry); err != nil {
		w.logger.Error().Err(err).Str("endpoint", name).Msg("scheduled endpoint enqueue failed")
		return
	}
	if _, err := w.queue.Await(ctx, entry.Key); err != nil {
		w.logger.Warn().Err(err).Str("endpoint", name).Msg("scheduled endpoint did not complete")
	}
}

// invoke runs name directly, bypassing the queue. Only RunStartupEndpoints
// calls this: it executes before Start launches consume(), so there is no
// concurrent executor to race the engine with.
func (w *Worker) invoke(ctx context.Context, name string, body map[string]interface{}) {
	timer := metrics.NewTimer()
	_, err := w.engine.Invoke(ctx, name, body)
	timer.ObserveDurationVec(metrics.EndpointDuration, name)
	metrics.EndpointInvocationsTotal.WithLabelValues(name, outcomeLabel(err)).Inc()
	if err != nil {
		w.logger.Error().Err(err).Str("endpoint", name).Msg("scheduled endpoint invocation failed")
	}
}

func outcome(result endpoint.Result, err error) (int, interface{}) {
	if err != nil {
		return cocoerr.HTTPStatus(err), map[string]string{"error": err.Error()}
	}
	status := result.Status
	if status == 0 {
		status = 200
	}
	return status, result.Body
}

func outcomeLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
