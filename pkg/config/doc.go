// Package config loads coco's YAML configuration into the typed
// structures every other package consumes: endpoint.Registry,
// hostset.Group, state.InitialStateFile, and the frontend/forwarder/
// queue/notify tunables. Every malformed field is collected into one
// aggregated cocoerr.ConfigError rather than failing on the first one,
// so an operator sees every mistake in a single run.
package config
