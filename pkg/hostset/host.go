package hostset

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Coco is the symbolic host denoting the controller itself, used to key
// the replies of local (non-forwarded) results such as forward_to_coco
// sub-executions.
const Coco = "coco"

// Host is a (hostname, port) pair. Equality is componentwise; display
// form is "hostname:port", or just "hostname" when no port was given
// (the symbolic "coco" host never carries a port).
type Host struct {
	Hostname string
	Port     int // 0 means "no port"
}

// Parse accepts "hostname:port", a bare "hostname", or a URL such as
// "http://hostname:port/". The symbolic host "coco" is always valid with
// no port.
func Parse(s string) (Host, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Host{}, fmt.Errorf("hostset: empty host string")
	}
	if s == Coco {
		return Host{Hostname: Coco}, nil
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Host{}, fmt.Errorf("hostset: invalid host URL %q: %w", s, err)
		}
		s = u.Host
	}

	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		hostname := s[:idx]
		portStr := s[idx+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Host{}, fmt.Errorf("hostset: invalid port in %q: %w", s, err)
		}
		return Host{Hostname: hostname, Port: port}, nil
	}

	return Host{Hostname: s}, nil
}

// MustParse is Parse but panics on error; used for config-time literals
// that have already passed validation.
func MustParse(s string) Host {
	h, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return h
}

// HasPort reports whether the host carries an explicit port.
func (h Host) HasPort() bool { return h.Port != 0 }

// String renders the display form "hostname:port", or bare "hostname"
// when no port was set.
func (h Host) String() string {
	if !h.HasPort() {
		return h.Hostname
	}
	return fmt.Sprintf("%s:%d", h.Hostname, h.Port)
}

// IsCoco reports whether this is the symbolic controller host.
func (h Host) IsCoco() bool { return h.Hostname == Coco }

// PrintList renders a set of hosts for log messages, sorted for
// deterministic output.
func PrintList(hosts []Host) string {
	strs := make([]string, len(hosts))
	for i, h := range hosts {
		strs[i] = h.String()
	}
	sort.Strings(strs)
	return "[" + strings.Join(strs, ", ") + "]"
}

// Group is a named, ordered collection of hosts. Groups are configured at
// startup and immutable thereafter.
type Group struct {
	Name  string
	Hosts []Host
}
