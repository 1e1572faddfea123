// Package frontend serves coco's HTTP surface: one handler per
// config-declared endpoint plus the built-ins of spec §6. A request is
// enqueued onto the shared queue and the handler blocks on the
// rendezvous until the worker completes it or frontend_timeout elapses.
// Handlers that go through the queue are capped at n_workers in flight,
// following the same buffered-channel counting-semaphore idiom
// pkg/forwarder uses for session_limit; /blocklist, /update-blocklist and
// /wait are served outside that cap.
package frontend
