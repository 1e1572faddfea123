// Package check implements the five reply-check kinds of spec §4.4 as a
// tagged variant: a Check interface with one Evaluate method, and one
// struct per kind (Identical, Type, Value, State, StateHash) rather than
// an inheritance hierarchy, per the design note in spec §9.
package check
