// Package metrics registers coco's Prometheus collectors and exposes them
// over the worker's metrics port via Handler(). Metrics are package-level
// vars registered in init(), following the one-registry-per-process
// pattern: call Handler() once per process, update the vars from any
// package without needing a reference to a collector instance.
package metrics
