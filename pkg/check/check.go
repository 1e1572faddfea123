package check

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/cuemby/coco/pkg/forwarder"
	"github.com/cuemby/coco/pkg/state"
)

// Check is a declarative predicate over the per-host replies of one
// forward. A failing check does not raise by itself; it reports
// diagnostics and lets the caller decide how to escalate.
type Check interface {
	// Name identifies the check kind for metrics and diagnostics.
	Name() string
	// Evaluate inspects reply (and, for state-aware checks, st) and
	// reports whether the check held, plus a per-host diagnostic map
	// for any host that didn't satisfy it.
	Evaluate(reply forwarder.Reply, st *state.State) (ok bool, diagnostics map[string]string)
}

// Identical requires all non-blocklisted hosts to have returned equal
// bodies. Every body is compared against the reply of the host whose key
// sorts first; each host whose body differs from it gets a diagnostic.
type Identical struct{}

func (Identical) Name() string { return "identical" }

func (Identical) Evaluate(reply forwarder.Reply, _ *state.State) (bool, map[string]string) {
	hosts := make([]string, 0, len(reply))
	for host := range reply {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	diagnostics := map[string]string{}

	for i, host := range hosts {
		if i == 0 {
			continue
		}
		body := reply[host].Body
		if !reflect.DeepEqual(body, reply[hosts[0]].Body) {
			diagnostics[host] = fmt.Sprintf("reply differs from %s: %v", hosts[0], body)
		}
	}
	return len(diagnostics) == 0, diagnostics
}

// FieldType names the kinds TypeReplyCheck can assert against a JSON
// value decoded into interface{}.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
)

// Type requires each body to match a declared per-field JSON type.
type Type struct {
	Schema map[string]FieldType
}

func (Type) Name() string { return "type" }

func (t Type) Evaluate(reply forwarder.Reply, _ *state.State) (bool, map[string]string) {
	diagnostics := map[string]string{}
	for host, result := range reply {
		obj, ok := result.Body.(map[string]interface{})
		if !ok {
			diagnostics[host] = "reply body is not a JSON object"
			continue
		}
		for field, want := range t.Schema {
			v, present := obj[field]
			if !present {
				diagnostics[host] = fmt.Sprintf("missing field %q", field)
				break
			}
			if !matchesType(v, want) {
				diagnostics[host] = fmt.Sprintf("field %q has wrong type, want %s", field, want)
				break
			}
		}
	}
	return len(diagnostics) == 0, diagnostics
}

func matchesType(v interface{}, want FieldType) bool {
	switch want {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return false
	}
}

// Value requires named fields in each body to equal declared constants.
type Value struct {
	Fields map[string]interface{}
}

func (Value) Name() string { return "value" }

func (v Value) Evaluate(reply forwarder.Reply, _ *state.State) (bool, map[string]string) {
	diagnostics := map[string]string{}
	for host, result := range reply {
		obj, ok := result.Body.(map[string]interface{})
		if !ok {
			diagnostics[host] = "reply body is not a JSON object"
			continue
		}
		for field, want := range v.Fields {
			got, present := obj[field]
			if !present || !reflect.DeepEqual(got, want) {
				diagnostics[host] = fmt.Sprintf("field %q = %v, want %v", field, got, want)
				break
			}
		}
	}
	return len(diagnostics) == 0, diagnostics
}

// State requires each body to equal the controller state at Path.
type State struct {
	Path string
}

func (State) Name() string { return "state" }

func (c State) Evaluate(reply forwarder.Reply, st *state.State) (bool, map[string]string) {
	want, err := st.Read(c.Path)
	if err != nil {
		return false, map[string]string{"_state": err.Error()}
	}

	diagnostics := map[string]string{}
	for host, result := range reply {
		if !reflect.DeepEqual(result.Body, want) {
			diagnostics[host] = fmt.Sprintf("reply does not match state at %q", c.Path)
		}
	}
	return len(diagnostics) == 0, diagnostics
}

// StateHash requires the canonical hash of each body to equal the hash
// of the state at Path.
type StateHash struct {
	Path string
}

func (StateHash) Name() string { return "state_hash" }

func (c StateHash) Evaluate(reply forwarder.Reply, st *state.State) (bool, map[string]string) {
	want, err := st.Hash(c.Path)
	if err != nil {
		return false, map[string]string{"_state": err.Error()}
	}

	diagnostics := map[string]string{}
	for host, result := range reply {
		got, err := state.HashBytes(result.Body)
		if err != nil {
			diagnostics[host] = err.Error()
			continue
		}
		if got != want {
			diagnostics[host] = fmt.Sprintf("reply hash %s does not match state hash %s at %q", got, want, c.Path)
		}
	}
	return len(diagnostics) == 0, diagnostics
}
