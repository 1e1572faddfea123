// Package queue implements the bounded, persistent FIFO of spec §4.6: a
// single producer-side enqueue protocol with drop-on-overflow, a
// single-worker blocking dequeue with a shutdown sentinel, and a
// result rendezvous that hands a reply back to the frontend handler
// that submitted it.
//
// The rendezvous is a buffered channel per in-flight key rather than
// the source's two-key blocking-pop (<key>:res, <key>:code): a single
// channel send already makes the status and body visible to the
// reader atomically, so there's no separate ordering rule to encode.
package queue
