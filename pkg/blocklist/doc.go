// Package blocklist holds the set of hosts the forwarder must never send
// requests to. The set is a subset of the configured groups' hosts,
// persisted atomically on every mutation, and always updated all-or-
// nothing: a single unknown host in a request aborts the whole update.
package blocklist
