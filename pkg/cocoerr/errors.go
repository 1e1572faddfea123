package cocoerr

import "fmt"

// InvalidUsage is a client error: malformed body, unknown host, wrong type.
// It short-circuits the current invocation without mutating any state.
type InvalidUsage struct {
	Message string
	Context []string
}

func (e *InvalidUsage) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%v)", e.Message, e.Context)
}

// Status is the HTTP status an InvalidUsage maps to.
func (e *InvalidUsage) Status() int { return 400 }

// NewInvalidUsage builds an InvalidUsage with optional context (e.g. the
// list of hosts that failed validation).
func NewInvalidUsage(msg string, context ...string) *InvalidUsage {
	return &InvalidUsage{Message: msg, Context: context}
}

// ConfigError is fatal at startup: malformed configuration, a missing
// file, an endpoint reference to an unknown sibling, a non-absolute path.
type ConfigError struct {
	Message string
	Wrapped error
}

func (e *ConfigError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error { return e.Wrapped }

func NewConfigError(msg string) *ConfigError {
	return &ConfigError{Message: msg}
}

func WrapConfigError(msg string, err error) *ConfigError {
	return &ConfigError{Message: msg, Wrapped: err}
}

// InternalError is an unexpected failure in the worker or forwarder. It
// is logged and returned as 500; the worker continues with the next
// queue entry.
type InternalError struct {
	Message string
	Wrapped error
}

func (e *InternalError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *InternalError) Unwrap() error { return e.Wrapped }

func (e *InternalError) Status() int { return 500 }

func NewInternalError(msg string) *InternalError {
	return &InternalError{Message: msg}
}

func WrapInternalError(msg string, err error) *InternalError {
	return &InternalError{Message: msg, Wrapped: err}
}

// CheckFailure records that a declared reply-check did not hold. It
// short-circuits the remainder of the endpoint's chain unless the
// endpoint declares continue_on_fail. StatusCode defaults to 503 unless
// the endpoint's on_failure overrides it.
type CheckFailure struct {
	CheckName   string
	Diagnostics map[string]string
	StatusCode  int
}

func (e *CheckFailure) Error() string {
	return fmt.Sprintf("check %q failed: %v", e.CheckName, e.Diagnostics)
}

func (e *CheckFailure) Status() int {
	if e.StatusCode == 0 {
		return 503
	}
	return e.StatusCode
}

func NewCheckFailure(name string, diagnostics map[string]string) *CheckFailure {
	return &CheckFailure{CheckName: name, Diagnostics: diagnostics}
}

// BackendError is a per-host failure (timeout, connection refused,
// non-decodable body). It is not fatal by itself: it flows into the reply
// aggregate and whether it fails the endpoint depends on applicable
// checks.
type BackendError struct {
	Host    string
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s", e.Host, e.Message)
}

func NewBackendError(host, msg string) *BackendError {
	return &BackendError{Host: host, Message: msg}
}

// HTTPStatus extracts the status code an error maps to at the frontend,
// defaulting to 500 for anything not in the taxonomy.
func HTTPStatus(err error) int {
	switch e := err.(type) {
	case *InvalidUsage:
		return e.Status()
	case *InternalError:
		return e.Status()
	case *CheckFailure:
		return e.Status()
	default:
		return 500
	}
}
