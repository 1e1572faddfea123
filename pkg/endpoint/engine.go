package endpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/coco/pkg/check"
	"github.com/cuemby/coco/pkg/cocoerr"
	"github.com/cuemby/coco/pkg/forwarder"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/log"
	"github.com/cuemby/coco/pkg/metrics"
	"github.com/cuemby/coco/pkg/state"
	"github.com/rs/zerolog"
)

// Result is the outer shape of one endpoint invocation: an HTTP status
// and a body keyed by forwarded endpoint name (plus an optional "state"
// entry), per spec §4.5's result-aggregation rule.
type Result struct {
	Status int
	Body   map[string]interface{}
}

// Engine runs endpoint chains against a shared Forwarder and State.
type Engine struct {
	registry  *Registry
	forwarder *forwarder.Forwarder
	state     *state.State
	logger    zerolog.Logger
}

// New builds an Engine over a Registry, Forwarder, and State, all
// already constructed by the controller at startup.
func New(registry *Registry, fwd *forwarder.Forwarder, st *state.State) *Engine {
	return &Engine{
		registry:  registry,
		forwarder: fwd,
		state:     st,
		logger:    log.WithComponent("endpoint"),
	}
}

// Invoke runs the named endpoint's chain (spec §4.5 steps 1-7) against
// body and returns the aggregated result. body may be nil for a
// scheduled or call_on_start invocation, which runs as if an empty body
// had been sent.
func (e *Engine) Invoke(ctx context.Context, name string, body map[string]interface{}) (Result, error) {
	res, _, err := e.invoke(ctx, name, body)
	return res, err
}

func (e *Engine) invoke(ctx context.Context, name string, body map[string]interface{}) (Result, forwarder.Reply, error) {
	spec, ok := e.registry.Spec(name)
	if !ok {
		return Result{}, nil, cocoerr.NewInternalError(fmt.Sprintf("unknown endpoint %q", name))
	}
	if body == nil {
		body = map[string]interface{}{}
	}

	if err := validateValues(spec, body); err != nil {
		return Result{}, nil, err
	}

	out := Result{Status: 200, Body: map[string]interface{}{}}

	if err := e.runChain(ctx, spec.Before, body, out.Body); err != nil {
		return Result{}, nil, err
	}

	var forwardReply forwarder.Reply
	if spec.Forward != nil {
		hosts, ok := e.registry.GroupHosts(spec.Forward.Group)
		if !ok {
			return Result{}, nil, cocoerr.NewInternalError(fmt.Sprintf("endpoint %q: unknown group %q", spec.Name, spec.Forward.Group))
		}
		method := spec.Forward.Method
		if method == "" {
			method = spec.Method
		}

		reply, err := e.forwarder.Forward(ctx, hosts, method, spec.Forward.Path, body)
		if err != nil {
			return Result{}, nil, cocoerr.WrapInternalError("forward", err)
		}
		forwardReply = reply
		out.Body[spec.Name] = replyToJSON(reply)

		for _, c := range spec.Forward.Checks {
			if ok, diag := c.Evaluate(reply, e.state); !ok {
				metrics.CheckFailuresTotal.WithLabelValues(spec.Name, c.Name()).Inc()
				if !spec.ContinueOnFail {
					return Result{}, forwardReply, checkFailure(spec, c.Name(), diag)
				}
				e.logger.Warn().Str("endpoint", spec.Name).Str("check", c.Name()).Msg("check failed, continuing")
			}
		}
	}

	for _, ref := range spec.ForwardToCoco {
		subRes, _, err := e.invoke(ctx, ref.Name, body)
		if err != nil {
			return Result{}, nil, err
		}
		out.Body[ref.Name] = map[string]interface{}{
			hostset.Coco: map[string]interface{}{"body": subRes.Body, "status": subRes.Status},
		}
	}

	filtered := filterValues(spec.Values, body)
	for _, path := range spec.SaveState {
		if err := e.writeState(path, filtered); err != nil {
			return Result{}, nil, err
		}
	}
	for path, value := range spec.SetState {
		if err := e.writeState(path, value); err != nil {
			return Result{}, nil, err
		}
	}

	if err := e.runChain(ctx, spec.After, body, out.Body); err != nil {
		return Result{}, nil, err
	}

	if spec.GetState != "" {
		val, err := e.state.Extract(spec.GetState)
		if err != nil {
			return Result{}, nil, cocoerr.WrapInternalError("get_state", err)
		}
		out.Body["state"] = val
	}

	return out, forwardReply, nil
}

// runChain executes a before/after chain in declared order, merging
// each sub-invocation's result into merge and honouring the identical
// flag against that sub-invocation's own external-forward replies.
func (e *Engine) runChain(ctx context.Context, refs []ChainRef, body map[string]interface{}, merge map[string]interface{}) error {
	for _, ref := range refs {
		subRes, subReply, err := e.invoke(ctx, ref.Name, body)
		if err != nil {
			return err
		}
		if ref.Identical {
			if ok, diag := (check.Identical{}).Evaluate(subReply, e.state); !ok {
				return cocoerr.NewCheckFailure("identical", diag)
			}
		}
		for k, v := range subRes.Body {
			merge[k] = v
		}
	}
	return nil
}

func (e *Engine) writeState(path string, value interface{}) error {
	if _, err := e.state.FindOrCreate(parentPath(path)); err != nil {
		return cocoerr.WrapInternalError("state write", err)
	}
	if err := e.state.Write(path, value); err != nil {
		return cocoerr.WrapInternalError("state write", err)
	}
	return nil
}

func checkFailure(spec *Spec, name string, diag map[string]string) *cocoerr.CheckFailure {
	cf := cocoerr.NewCheckFailure(name, diag)
	if spec.OnFailureCode != 0 {
		cf.StatusCode = spec.OnFailureCode
	}
	return cf
}

func replyToJSON(r forwarder.Reply) map[string]interface{} {
	out := make(map[string]interface{}, len(r))
	for host, res := range r {
		out[host] = map[string]interface{}{"body": res.Body, "status": res.Status}
	}
	return out
}

func validateValues(spec *Spec, body map[string]interface{}) error {
	for name, vs := range spec.Values {
		v, present := body[name]
		if !present {
			if vs.Required {
				return cocoerr.NewInvalidUsage(fmt.Sprintf("endpoint %q: missing required value %q", spec.Name, name))
			}
			continue
		}
		if !matchesValueType(v, vs.Type) {
			return cocoerr.NewInvalidUsage(fmt.Sprintf("endpoint %q: value %q has wrong type, want %s", spec.Name, name, vs.Type))
		}
	}
	return nil
}

func matchesValueType(v interface{}, t ValueType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt, TypeNumber:
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

func filterValues(values map[string]ValueSpec, body map[string]interface{}) map[string]interface{} {
	if len(values) == 0 {
		return body
	}
	out := make(map[string]interface{}, len(values))
	for name := range values {
		if v, ok := body[name]; ok {
			out[name] = v
		}
	}
	return out
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
