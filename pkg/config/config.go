package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/coco/pkg/check"
	"github.com/cuemby/coco/pkg/cocoerr"
	"github.com/cuemby/coco/pkg/endpoint"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/state"
	"gopkg.in/yaml.v3"
)

// builtinEndpoints names the frontend's built-in local endpoints, always
// resolvable as before/after/forward_to_coco targets even though they
// are never declared in the config's endpoints list.
var builtinEndpoints = map[string]bool{
	"blocklist":        true,
	"update-blocklist": true,
	"saved-states":     true,
	"save-state":       true,
	"load-state":       true,
	"reset-state":      true,
	"wait":             true,
}

// SlackRule is one entry of slack_rules: forward a logger's records at
// or above level to a Slack channel.
type SlackRule struct {
	Logger  string
	Channel string
	Level   string
}

// SlackConfig is the optional slack integration block.
type SlackConfig struct {
	Token string
	Rules []SlackRule
}

// CometBrokerConfig is the optional comet_broker schema-registration block.
type CometBrokerConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// Config is the fully validated, typed form of coco's YAML document.
type Config struct {
	Port            int
	MetricsPort     int
	NWorkers        int
	LogLevel        string
	StoragePath     string
	BlocklistPath   string
	QueueLength     int
	Timeout         time.Duration
	FrontendTimeout time.Duration
	SessionLimit    int

	Groups           []hostset.Group
	Registry         *endpoint.Registry
	InitialState     []state.InitialStateFile
	ExcludeFromReset []string

	Slack       SlackConfig
	CometBroker CometBrokerConfig
}

// Load reads and validates the YAML document at path, returning a
// single aggregated *cocoerr.ConfigError listing every malformed field
// if any are found.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cocoerr.WrapConfigError(fmt.Sprintf("read config %s", path), err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, cocoerr.WrapConfigError("parse config YAML", err)
	}

	b := &builder{base: filepath.Dir(path)}
	cfg := b.build(raw)
	if len(b.errs) > 0 {
		return nil, cocoerr.NewConfigError(strings.Join(b.errs, "; "))
	}
	return cfg, nil
}

// builder accumulates every validation error found while resolving one
// raw document, instead of failing on the first.
type builder struct {
	base string // directory of the config file, for resolving relative load_state file paths
	errs []string
}

func (b *builder) fail(format string, args ...interface{}) {
	b.errs = append(b.errs, fmt.Sprintf(format, args...))
}

func (b *builder) build(raw rawConfig) *Config {
	cfg := &Config{
		Port:        raw.Port,
		MetricsPort: raw.MetricsPort,
		NWorkers:    raw.NWorkers,
		LogLevel:    defaultString(raw.LogLevel, "info"),

		StoragePath:   raw.StoragePath,
		BlocklistPath: raw.BlocklistPath,

		QueueLength:      raw.QueueLength,
		SessionLimit:     raw.SessionLimit,
		ExcludeFromReset: raw.ExcludeFromReset,
	}

	if cfg.StoragePath == "" {
		b.fail("storage_path is required")
	} else if !filepath.IsAbs(cfg.StoragePath) {
		b.fail("storage_path %q must be absolute", cfg.StoragePath)
	}

	if cfg.BlocklistPath == "" {
		b.fail("blocklist_path is required")
	} else if !filepath.IsAbs(cfg.BlocklistPath) {
		b.fail("blocklist_path %q must be absolute", cfg.BlocklistPath)
	}

	cfg.Timeout = b.duration("timeout", raw.Timeout, 30*time.Second)
	cfg.FrontendTimeout = b.duration("frontend_timeout", raw.FrontendTimeout, 60*time.Second)

	cfg.Groups, cfg.Registry = b.buildGroupsAndEndpoints(raw)
	cfg.InitialState = b.buildInitialState(raw.LoadState)
	cfg.Slack = b.buildSlack(raw)
	cfg.CometBroker = CometBrokerConfig{
		Enabled: raw.CometBroker != nil && raw.CometBroker.Enabled,
	}
	if raw.CometBroker != nil {
		cfg.CometBroker.Host = raw.CometBroker.Host
		cfg.CometBroker.Port = raw.CometBroker.Port
		if cfg.CometBroker.Enabled && (cfg.CometBroker.Host == "" || cfg.CometBroker.Port == 0) {
			b.fail("comet_broker: host and port are required when enabled")
		}
	}

	return cfg
}

func (b *builder) duration(field string, raw rawDuration, fallback time.Duration) time.Duration {
	if raw.raw == "" {
		return fallback
	}
	d, err := raw.Duration()
	if err != nil {
		b.fail("%s: %v", field, err)
		return fallback
	}
	return d
}

func (b *builder) buildGroupsAndEndpoints(raw rawConfig) ([]hostset.Group, *endpoint.Registry) {
	groups := make([]hostset.Group, 0, len(raw.Groups))
	groupNames := make(map[string]bool, len(raw.Groups))
	for name, hostStrs := range raw.Groups {
		hosts := make([]hostset.Host, 0, len(hostStrs))
		for _, hs := range hostStrs {
			h, err := hostset.Parse(hs)
			if err != nil {
				b.fail("group %q: %v", name, err)
				continue
			}
			hosts = append(hosts, h)
		}
		groups = append(groups, hostset.Group{Name: name, Hosts: hosts})
		groupNames[name] = true
	}

	knownNames := make(map[string]bool, len(raw.Endpoints)+len(builtinEndpoints))
	for name := range builtinEndpoints {
		knownNames[name] = true
	}
	for _, re := range raw.Endpoints {
		if re.Name == "" {
			b.fail("endpoint with empty name")
			continue
		}
		if knownNames[re.Name] {
			b.fail("endpoint %q declared more than once", re.Name)
		}
		knownNames[re.Name] = true
	}

	specs := make([]*endpoint.Spec, 0, len(raw.Endpoints))
	forwardedByCoco := make(map[string]bool)
	hasOwnForward := make(map[string]bool)

	for _, re := range raw.Endpoints {
		if re.Name == "" {
			continue
		}
		spec := b.buildEndpointSpec(re, groupNames)
		specs = append(specs, spec)
		if spec.Forward != nil {
			hasOwnForward[spec.Name] = true
		}
		for _, ref := range spec.ForwardToCoco {
			forwardedByCoco[ref.Name] = true
		}
	}

	for _, spec := range specs {
		for _, ref := range append(append([]endpoint.ChainRef{}, spec.Before...), spec.After...) {
			if !knownNames[ref.Name] {
				b.fail("endpoint %q references unknown endpoint %q", spec.Name, ref.Name)
			}
		}
		for _, ref := range spec.ForwardToCoco {
			if !knownNames[ref.Name] {
				b.fail("endpoint %q references unknown endpoint %q", spec.Name, ref.Name)
			}
		}
	}

	// Open Question (a): an endpoint used as a coco-forward target must
	// not itself declare a call.forward of its own; the two roles are
	// ambiguous in the source and rejected here at validation time.
	for name := range forwardedByCoco {
		if hasOwnForward[name] {
			b.fail("endpoint %q is used as a coco-forward target and also declares its own call.forward", name)
		}
	}

	return groups, endpoint.NewRegistry(groups, specs)
}

func (b *builder) buildEndpointSpec(re rawEndpoint, groupNames map[string]bool) *endpoint.Spec {
	spec := &endpoint.Spec{
		Name:           re.Name,
		Method:         defaultString(strings.ToUpper(re.Type), "GET"),
		Before:         b.buildChainRefs(re.Before),
		After:          b.buildChainRefs(re.After),
		ForwardToCoco:  b.buildChainRefs(re.ForwardToCoco),
		SaveState:      re.SaveState,
		SetState:       re.SetState,
		GetState:       re.GetState,
		CallOnStart:    re.CallOnStart,
		ContinueOnFail: re.ContinueOnFail,
	}

	// spec §9 Open Question (b): require `values` whenever `save_state`
	// is set, rather than accepting an unvalidated body.
	if re.SaveState != nil && len(re.Values) == 0 {
		b.fail("endpoint %q: save_state requires a values schema", re.Name)
	}

	if len(re.Values) > 0 {
		spec.Values = make(map[string]endpoint.ValueSpec, len(re.Values))
		for name, v := range re.Values {
			t, err := parseValueType(v.Type)
			if err != nil {
				b.fail("endpoint %q: value %q: %v", re.Name, name, err)
				continue
			}
			spec.Values[name] = endpoint.ValueSpec{Type: t, Required: v.Required}
		}
	}

	if re.OnFailure != nil {
		spec.OnFailureCode = re.OnFailure.Code
	}

	if re.Schedule != nil && re.Schedule.Period != "" {
		period, err := time.ParseDuration(re.Schedule.Period)
		if err != nil {
			b.fail("endpoint %q: schedule.period: %v", re.Name, err)
		} else {
			spec.Schedule = &endpoint.ScheduleSpec{Period: period}
		}
	}

	if re.Call != nil && re.Call.Forward != nil {
		fwd := re.Call.Forward
		group := defaultString(fwd.Group, re.Group)
		if group == "" {
			b.fail("endpoint %q: call.forward requires a group", re.Name)
		} else if !groupNames[group] {
			b.fail("endpoint %q: call.forward references unknown group %q", re.Name, group)
		}
		checks := make([]check.Check, 0, len(fwd.Checks))
		for _, rc := range fwd.Checks {
			c, err := buildCheck(rc)
			if err != nil {
				b.fail("endpoint %q: check: %v", re.Name, err)
				continue
			}
			checks = append(checks, c)
		}
		spec.Forward = &endpoint.ForwardSpec{
			Group:  group,
			Method: strings.ToUpper(fwd.Method),
			Path:   defaultString(fwd.Path, "/"+re.Name),
			Checks: checks,
		}
	}

	return spec
}

func (b *builder) buildChainRefs(entries []rawChainEntry) []endpoint.ChainRef {
	refs := make([]endpoint.ChainRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, endpoint.ChainRef{Name: e.Name, Identical: e.Identical})
	}
	return refs
}

func (b *builder) buildInitialState(loadState map[string]string) []state.InitialStateFile {
	out := make([]state.InitialStateFile, 0, len(loadState))
	for path, file := range loadState {
		if !filepath.IsAbs(file) {
			file = filepath.Join(b.base, file)
		}
		out = append(out, state.InitialStateFile{Path: path, File: file})
	}
	return out
}

func (b *builder) buildSlack(raw rawConfig) SlackConfig {
	cfg := SlackConfig{}
	if raw.Slack != nil {
		cfg.Token = raw.Slack.Token
	}
	for _, r := range raw.SlackRules {
		if r.Logger == "" || r.Channel == "" {
			b.fail("slack_rules: entry missing logger or channel")
			continue
		}
		cfg.Rules = append(cfg.Rules, SlackRule{
			Logger:  r.Logger,
			Channel: r.Channel,
			Level:   defaultString(strings.ToUpper(r.Level), "INFO"),
		})
	}
	return cfg
}

func buildCheck(rc rawCheck) (check.Check, error) {
	switch rc.Type {
	case "identical":
		return check.Identical{}, nil
	case "type":
		schema := make(map[string]check.FieldType, len(rc.Schema))
		for k, v := range rc.Schema {
			schema[k] = check.FieldType(v)
		}
		return check.Type{Schema: schema}, nil
	case "value":
		return check.Value{Fields: rc.Fields}, nil
	case "state":
		return check.State{Path: rc.Path}, nil
	case "state_hash":
		return check.StateHash{Path: rc.Path}, nil
	default:
		return nil, fmt.Errorf("unknown check type %q", rc.Type)
	}
}

func parseValueType(raw string) (endpoint.ValueType, error) {
	switch endpoint.ValueType(raw) {
	case endpoint.TypeString, endpoint.TypeInt, endpoint.TypeNumber, endpoint.TypeBool, endpoint.TypeArray, endpoint.TypeObject:
		return endpoint.ValueType(raw), nil
	default:
		return "", fmt.Errorf("unknown value type %q", raw)
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// rawDuration accepts either a bare number of seconds or a Go duration
// string ("30s", "2m") in the YAML document, matching the source's
// str2total_seconds flexibility.
type rawDuration struct {
	raw string
}

func (d *rawDuration) UnmarshalYAML(value *yaml.Node) error {
	d.raw = strings.TrimSpace(value.Value)
	return nil
}

func (d rawDuration) Duration() (time.Duration, error) {
	if secs, err := strconv.ParseFloat(d.raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(d.raw)
}

type rawConfig struct {
	Port             int                 `yaml:"port"`
	MetricsPort      int                 `yaml:"metrics_port"`
	NWorkers         int                 `yaml:"n_workers"`
	LogLevel         string              `yaml:"log_level"`
	StoragePath      string              `yaml:"storage_path"`
	BlocklistPath    string              `yaml:"blocklist_path"`
	QueueLength      int                 `yaml:"queue_length"`
	Timeout          rawDuration         `yaml:"timeout"`
	FrontendTimeout  rawDuration         `yaml:"frontend_timeout"`
	SessionLimit     int                 `yaml:"session_limit"`
	LoadState        map[string]string   `yaml:"load_state"`
	ExcludeFromReset []string            `yaml:"exclude_from_reset"`
	Groups           map[string][]string `yaml:"groups"`
	Endpoints        []rawEndpoint       `yaml:"endpoints"`
	Slack            *rawSlack           `yaml:"slack"`
	SlackRules       []rawSlackRule      `yaml:"slack_rules"`
	CometBroker      *rawCometBroker     `yaml:"comet_broker"`
}

type rawEndpoint struct {
	Name           string                  `yaml:"name"`
	Type           string                  `yaml:"type"`
	Group          string                  `yaml:"group"`
	Before         []rawChainEntry         `yaml:"before"`
	After          []rawChainEntry         `yaml:"after"`
	ForwardToCoco  []rawChainEntry         `yaml:"forward_to_coco"`
	Call           *rawCall                `yaml:"call"`
	Values         map[string]rawValueSpec `yaml:"values"`
	SaveState      []string                `yaml:"save_state"`
	SetState       map[string]interface{}  `yaml:"set_state"`
	GetState       string                  `yaml:"get_state"`
	Schedule       *rawSchedule            `yaml:"schedule"`
	CallOnStart    bool                    `yaml:"call_on_start"`
	ContinueOnFail bool                    `yaml:"continue_on_fail"`
	OnFailure      *rawOnFailure           `yaml:"on_failure"`
}

// rawChainEntry accepts either a bare endpoint name or a single-key
// mapping `name: {identical: true}`, matching the two forms
// Core._check_endpoint_links tolerates in the source.
type rawChainEntry struct {
	Name      string
	Identical bool
}

func (c *rawChainEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		c.Name = value.Value
		return nil
	}
	if value.Kind == yaml.MappingNode {
		var m map[string]struct {
			Identical bool `yaml:"identical"`
		}
		if err := value.Decode(&m); err != nil {
			return err
		}
		if len(m) != 1 {
			return fmt.Errorf("chain entry must have exactly one key, got %d", len(m))
		}
		for name, opts := range m {
			c.Name = name
			c.Identical = opts.Identical
		}
		return nil
	}
	return fmt.Errorf("chain entry must be a string or single-key mapping")
}

type rawCall struct {
	Forward *rawForward `yaml:"forward"`
}

type rawForward struct {
	Group  string     `yaml:"group"`
	Method string     `yaml:"method"`
	Path   string     `yaml:"path"`
	Checks []rawCheck `yaml:"checks"`
}

type rawCheck struct {
	Type   string                 `yaml:"type"`
	Schema map[string]string      `yaml:"schema"`
	Fields map[string]interface{} `yaml:"fields"`
	Path   string                 `yaml:"path"`
}

type rawValueSpec struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

type rawSchedule struct {
	Period string `yaml:"period"`
}

type rawOnFailure struct {
	Code int `yaml:"code"`
}

type rawSlack struct {
	Token string `yaml:"token"`
}

type rawSlackRule struct {
	Logger  string `yaml:"logger"`
	Channel string `yaml:"channel"`
	Level   string `yaml:"level"`
}

type rawCometBroker struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}
