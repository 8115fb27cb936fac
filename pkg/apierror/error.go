package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
)

// Kind classifies an error for propagation: internal defects are surfaced
// and logged as bugs, user errors are rendered as client-facing rejections.
type Kind string

const (
	// KindInternal marks an unexpected failure inside FleetMesh itself.
	KindInternal Kind = "internal"

	// KindUser marks a controlled rejection of a bad request.
	KindUser Kind = "user"
)

// NodeError is the failure detail attributed to a single node in a
// distributed request. LogFile optionally points at the log on that node
// where the full failure was recorded.
type NodeError struct {
	Message string `json:"error"`
	LogFile string `json:"logfile,omitempty"`
}

// Error is a taxonomy error: a numeric code from the fixed subsystem
// ranges, a resolved message, optional remediation, and an optional
// per-node attribution map populated when the error aggregates failures
// from a distributed fan-out.
type Error struct {
	code        int
	kind        Kind
	message     string
	remediation string
	raw         bool
	nodeErrors  map[string]NodeError
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

func newError(kind Kind, code int) *Error {
	msg, rem, ok := Template(code)
	if !ok {
		return &Error{
			code:    CodeInternal,
			kind:    KindInternal,
			message: fmt.Sprintf("Internal manager error: unknown error code %d", code),
		}
	}
	return &Error{code: code, kind: kind, message: msg, remediation: rem}
}

// NewUser creates a user-kind error for the given taxonomy code.
func NewUser(code int) *Error { return newError(KindUser, code) }

// NewInternal creates an internal-kind error for the given taxonomy code.
func NewInternal(code int) *Error { return newError(KindInternal, code) }

// WithMessage appends extra detail to the code's message template,
// separated by ": ".
func (e *Error) WithMessage(extra string) *Error {
	if extra == "" {
		return e
	}
	msg, _, _ := Template(e.code)
	e.message = msg + ": " + extra
	e.raw = false
	return e
}

// WithMessageMap fills the named placeholders of the code's message
// template. A placeholder with no corresponding entry is a formatting
// defect: the result degrades to an internal error describing it.
func (e *Error) WithMessageMap(fields map[string]any) *Error {
	msg, _, _ := Template(e.code)
	var missing string
	resolved := placeholderRe.ReplaceAllStringFunc(msg, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := fields[name]
		if !ok {
			missing = name
			return m
		}
		return fmt.Sprint(v)
	})
	if missing != "" {
		return NewInternal(CodeInternal).WithMessage(
			fmt.Sprintf("missing placeholder %q formatting message for code %d", missing, e.code))
	}
	e.message = resolved
	e.raw = false
	return e
}

// WithRawMessage replaces the templated message entirely. Used when the
// message originates from an external command's own output.
func (e *Error) WithRawMessage(msg string) *Error {
	e.message = msg
	e.raw = true
	return e
}

// WithRemediation appends extra remediation to whatever the code already
// carries, separated by ". ".
func (e *Error) WithRemediation(extra string) *Error {
	if extra == "" {
		return e
	}
	if e.remediation == "" {
		e.remediation = extra
	} else {
		e.remediation = e.remediation + ". " + extra
	}
	return e
}

// WithNodeError records the failure detail attributed to one node.
func (e *Error) WithNodeError(node string, detail NodeError) *Error {
	if e.nodeErrors == nil {
		e.nodeErrors = make(map[string]NodeError, 1)
	}
	e.nodeErrors[node] = detail
	return e
}

// Code returns the taxonomy code.
func (e *Error) Code() int { return e.code }

// Kind returns the propagation kind.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the resolved message.
func (e *Error) Message() string { return e.message }

// Remediation returns the resolved remediation text, empty if none.
func (e *Error) Remediation() string { return e.remediation }

// Raw reports whether the message replaced the template rather than
// extending it.
func (e *Error) Raw() bool { return e.raw }

// NodeErrors returns the per-node attribution map. The returned map is a
// copy; mutating it does not affect the error.
func (e *Error) NodeErrors() map[string]NodeError {
	if len(e.nodeErrors) == 0 {
		return nil
	}
	return maps.Clone(e.nodeErrors)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.nodeErrors) == 0 {
		return fmt.Sprintf("Error %d - %s", e.code, e.message)
	}
	nodes := make([]string, 0, len(e.nodeErrors))
	for n := range e.nodeErrors {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return fmt.Sprintf("Error %d - %s (affected nodes: %s)", e.code, e.message, strings.Join(nodes, ", "))
}

// Is implements matching for errors.Is: two taxonomy errors match when
// code and kind agree, regardless of extra detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code && e.kind == t.kind
}

// Equal reports full structural equality: code, kind, resolved message,
// remediation, raw flag and node-error map.
func (e *Error) Equal(other *Error) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.code == other.code &&
		e.kind == other.kind &&
		e.message == other.message &&
		e.remediation == other.remediation &&
		e.raw == other.raw &&
		maps.Equal(e.nodeErrors, other.nodeErrors)
}

// Clone returns a deep copy.
func (e *Error) Clone() *Error {
	c := *e
	if e.nodeErrors != nil {
		c.nodeErrors = maps.Clone(e.nodeErrors)
	}
	return &c
}

// Merge combines two taxonomy errors: the result is identical to a except
// its node-error map is the union of both maps, with b's entries winning
// on key collision. Merge is associative, which keeps fold order across
// many nodes irrelevant. Either operand may be nil.
func Merge(a, b *Error) *Error {
	if a == nil {
		if b == nil {
			return nil
		}
		return b.Clone()
	}
	out := a.Clone()
	if b == nil || len(b.nodeErrors) == 0 {
		return out
	}
	if out.nodeErrors == nil {
		out.nodeErrors = make(map[string]NodeError, len(b.nodeErrors))
	}
	maps.Copy(out.nodeErrors, b.nodeErrors)
	return out
}

// As extracts a taxonomy error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsInternal reports whether err is (or wraps) an internal-kind taxonomy
// error.
func IsInternal(err error) bool {
	e, ok := As(err)
	return ok && e.kind == KindInternal
}

// IsUser reports whether err is (or wraps) a user-kind taxonomy error.
func IsUser(err error) bool {
	e, ok := As(err)
	return ok && e.kind == KindUser
}

// CodeOf returns the taxonomy code of err, or 0 when err carries none.
func CodeOf(err error) int {
	if e, ok := As(err); ok {
		return e.code
	}
	return 0
}

// wireError is the JSON shape a taxonomy error travels in between manager
// nodes. The resolved message is carried as-is so templates are never
// re-applied on the receiving side.
type wireError struct {
	Code        int                  `json:"code"`
	Kind        Kind                 `json:"kind"`
	Message     string               `json:"message"`
	Remediation string               `json:"remediation,omitempty"`
	Raw         bool                 `json:"raw,omitempty"`
	NodeErrors  map[string]NodeError `json:"node_errors,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireError{
		Code:        e.code,
		Kind:        e.kind,
		Message:     e.message,
		Remediation: e.remediation,
		Raw:         e.raw,
		NodeErrors:  e.nodeErrors,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.code = w.Code
	e.kind = w.Kind
	e.message = w.Message
	e.remediation = w.Remediation
	e.raw = w.Raw
	e.nodeErrors = w.NodeErrors
	return nil
}
