// Package forwarder fans a single request out to a set of hosts
// concurrently, honouring the blocklist and a global session-concurrency
// cap, and collects the per-host replies into a Reply aggregate (spec
// §4.3). CocoForward (re-entering the controller to run a sibling
// endpoint) is not implemented here: spec §9 calls for a direct in-worker
// dispatch rather than an HTTP loopback, so that lives in pkg/endpoint.
package forwarder
