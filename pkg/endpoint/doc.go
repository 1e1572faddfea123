// Package endpoint implements the declarative execution engine of spec
// §4.5: a named endpoint resolves into before chain, external forward,
// coco-forwards, state effects, after chain, and get_state, in that
// order. Endpoint descriptors are built once at config-validation time
// and are immutable thereafter; Engine.Invoke runs them against the
// shared Forwarder and State.
package endpoint
