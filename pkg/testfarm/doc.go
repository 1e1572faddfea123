// Package testfarm spins up a set of in-process HTTP backends for
// exercising pkg/forwarder and pkg/endpoint against multiple hosts, the
// Go analogue of the source's endpoint_farm.py. Unlike the source, a
// Farm is an explicit value threaded through test code rather than a
// set of module-level globals (spec §9's module-level-state question),
// so parallel tests never share counters or callbacks by accident.
package testfarm
