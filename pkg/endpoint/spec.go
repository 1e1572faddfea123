package endpoint

import (
	"time"

	"github.com/cuemby/coco/pkg/check"
	"github.com/cuemby/coco/pkg/hostset"
)

// ValueType names the kinds a declared value field may require.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeNumber ValueType = "number"
	TypeBool   ValueType = "bool"
	TypeArray  ValueType = "array"
	TypeObject ValueType = "object"
)

// ValueSpec declares one field of an endpoint's input schema.
type ValueSpec struct {
	Type     ValueType
	Required bool
}

// ChainRef names a sibling endpoint invoked as part of a before/after
// chain or a forward_to_coco list. Identical marks that the chain
// entry's own external-forward replies must satisfy IdenticalReplyCheck
// before the chain may proceed.
type ChainRef struct {
	Name      string
	Identical bool
}

// ForwardSpec is an endpoint's external forward: call.forward in the
// config. Group is resolved to hosts at invoke time so blocklist
// changes are honoured without reloading.
type ForwardSpec struct {
	Group  string
	Method string
	Path   string
	Checks []check.Check
}

// ScheduleSpec declares periodic invocation, spec §4.5 "Scheduling".
type ScheduleSpec struct {
	Period time.Duration
}

// Spec is an endpoint descriptor, built once at startup from config and
// never mutated afterwards.
type Spec struct {
	Name   string
	Method string // GET or POST

	Before        []ChainRef
	After         []ChainRef
	ForwardToCoco []ChainRef
	Forward       *ForwardSpec

	Values    map[string]ValueSpec
	SaveState []string
	SetState  map[string]interface{}
	GetState  string

	Schedule    *ScheduleSpec
	CallOnStart bool

	ContinueOnFail bool
	OnFailureCode  int
}

// Registry resolves group names to hosts for Spec.Forward, shared by
// every endpoint under one controller.
type Registry struct {
	groups map[string]hostset.Group
	specs  map[string]*Spec
}

// NewRegistry builds a Registry from configured groups and specs. It
// does not validate cross-references; validation lives in pkg/config
// since it needs the full config to report every error at once.
func NewRegistry(groups []hostset.Group, specs []*Spec) *Registry {
	r := &Registry{
		groups: make(map[string]hostset.Group, len(groups)),
		specs:  make(map[string]*Spec, len(specs)),
	}
	for _, g := range groups {
		r.groups[g.Name] = g
	}
	for _, s := range specs {
		r.specs[s.Name] = s
	}
	return r
}

// Spec returns the named endpoint descriptor, or false if unknown.
func (r *Registry) Spec(name string) (*Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Specs returns all registered endpoint descriptors.
func (r *Registry) Specs() []*Spec {
	out := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// GroupHosts resolves a group name to its member hosts.
func (r *Registry) GroupHosts(name string) ([]hostset.Host, bool) {
	g, ok := r.groups[name]
	if !ok {
		return nil, false
	}
	return g.Hosts, true
}
