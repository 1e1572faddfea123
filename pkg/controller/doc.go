// Package controller wires coco's components into a running process: it
// is the Go analogue of the source's Core class. Controller owns the
// lifecycle of every collaborator (config, state, blocklist, forwarder,
// the execution engine, the queue, the worker, the frontend, and the
// optional notify hooks) and brings them up and down in the order spec
// §9's process model describes.
package controller
