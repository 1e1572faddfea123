package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/coco/pkg/log"
	"github.com/cuemby/coco/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

// shutdownKey is the sentinel that tells the worker's Dequeue loop to
// exit. It is never persisted to the entries bucket.
const shutdownKey = "coco_shutdown"

// ErrFull is returned by Enqueue when the queue is at its configured
// bound; the caller maps it to the 503 "Coco queue is full." reply.
var ErrFull = errors.New("queue: full")

// Entry is one client request awaiting worker execution (spec §3).
type Entry struct {
	Key        string                 `json:"key"`
	Method     string                 `json:"method"`
	Endpoint   string                 `json:"endpoint"`
	Body       map[string]interface{} `json:"body"`
	Params     map[string]string      `json:"params"`
	ReceivedAt time.Time              `json:"received_at"`
}

// Result is the worker's answer to one Entry.
type Result struct {
	Status int
	Body   interface{}
}

// Queue is the persistent FIFO shared between the frontend and the
// worker. Entry metadata survives a restart in a bbolt bucket; pending
// results live only in memory, since no frontend handler survives a
// worker-process restart to collect them anyway.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	fifo     []string
	maxLen   int

	db *bolt.DB

	resultsMu sync.Mutex
	results   map[string]chan Result

	logger zerolog.Logger
}

// Open opens (or creates) the queue's durable store at path and
// recovers any entries left over from a prior run, in key order.
// maxLen <= 0 means unbounded, per spec §6's queue_length: 0.
func Open(path string, maxLen int) (*Queue, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: init bucket: %w", err)
	}

	q := &Queue{
		maxLen:  maxLen,
		db:      db,
		results: make(map[string]chan Result),
		logger:  log.WithComponent("queue"),
	}
	q.notEmpty = sync.NewCond(&q.mu)

	if err := q.recover(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// recover clears any leftover shutdown sentinel (it must be idempotently
// removable on startup) and rebuilds the in-memory FIFO order from the
// durable bucket, in key order. Keys are time-prefixed so bucket order
// is submission order.
func (q *Queue) recover() error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if err := b.Delete([]byte(shutdownKey)); err != nil {
			return err
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			q.fifo = append(q.fifo, string(k))
		}
		return nil
	})
}

// Close releases the durable store handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// NewKey mints a unique, time-ordered entry key (pid-timestamp in the
// source; here a nanosecond timestamp plus a uuid suffix, which keeps
// the same "sortable, unique, human-legible" properties).
func NewKey() string {
	return fmt.Sprintf("%020d-%s", time.Now().UnixNano(), uuid.New().String()[:8])
}

// Enqueue appends e to the queue, atomically checking the length bound
// against maxLen first (spec §4.6's enqueue protocol). It returns
// ErrFull without writing any metadata if the queue is at capacity.
func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	if q.maxLen > 0 && len(q.fifo) >= q.maxLen {
		q.mu.Unlock()
		metrics.QueueDroppedTotal.WithLabelValues(e.Endpoint).Inc()
		return ErrFull
	}

	data, err := json.Marshal(e)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("queue: marshal entry: %w", err)
	}
	if err := q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(e.Key), data)
	}); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("queue: persist entry: %w", err)
	}

	q.fifo = append(q.fifo, e.Key)
	depth := len(q.fifo)
	q.notEmpty.Signal()
	q.mu.Unlock()

	q.resultsMu.Lock()
	q.results[e.Key] = make(chan Result, 1)
	q.resultsMu.Unlock()

	metrics.QueueEnqueuedTotal.WithLabelValues(e.Endpoint).Inc()
	metrics.QueueLength.Set(float64(depth))
	return nil
}

// Dequeue blocks until an entry is available and returns it. ok is
// false when the shutdown sentinel was popped instead of a real entry.
func (q *Queue) Dequeue() (entry Entry, ok bool, err error) {
	q.mu.Lock()
	for len(q.fifo) == 0 {
		q.notEmpty.Wait()
	}
	metrics.WorkerQueueDepth.Set(float64(len(q.fifo)))
	key := q.fifo[0]
	q.fifo = q.fifo[1:]
	metrics.QueueLength.Set(float64(len(q.fifo)))
	q.mu.Unlock()

	if key == shutdownKey {
		return Entry{}, false, nil
	}

	var data []byte
	if err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		data = b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("queue: entry %q missing from store", key)
		}
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		data = dataCopy
		return b.Delete([]byte(key))
	}); err != nil {
		return Entry{}, false, err
	}

	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("queue: decode entry %q: %w", key, err)
	}
	return entry, true, nil
}

// Shutdown enqueues the sentinel that makes the next Dequeue return
// ok=false, so the worker's consumer loop can exit cleanly.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.fifo = append(q.fifo, shutdownKey)
	q.notEmpty.Signal()
	q.mu.Unlock()
}

// Await blocks until the worker completes the entry at key, or ctx is
// done first (the frontend timeout). On a timed-out Await, the worker
// still completes normally; Complete finds no reader and drops the
// value, so the slot never leaks.
func (q *Queue) Await(ctx context.Context, key string) (Result, error) {
	q.resultsMu.Lock()
	ch, ok := q.results[key]
	q.resultsMu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("queue: no pending result for %q", key)
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Complete hands status and body to whatever handler is awaiting key,
// and releases the slot. Safe to call even if no one is waiting
// anymore (an expired frontend timeout), in which case it's a no-op
// beyond freeing the slot.
func (q *Queue) Complete(key string, status int, body interface{}) {
	q.resultsMu.Lock()
	ch, ok := q.results[key]
	delete(q.results, key)
	q.resultsMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- Result{Status: status, Body: body}:
	default:
	}
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}
