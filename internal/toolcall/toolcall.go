package toolcall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Priorities lists every level from highest to lowest precedence.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority converts a case-insensitive name into a Priority.
// An empty name means PriorityNormal.
func ParsePriority(name string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", name)
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Request is a single tool call. It is never mutated once submitted.
type Request struct {
	Name      string
	Backend   string
	Arguments map[string]any
	Priority  Priority
	Timeout   time.Duration

	// Candidates lists interchangeable backends. When set and a load
	// balancer is configured, Backend is chosen among them.
	Candidates []string

	// Key pins requests to a backend under keyed strategies such as the
	// consistent hash. Name is used when Key is empty.
	Key string
}

// RoutingKey is the key keyed strategies hash for r.
func (r Request) RoutingKey() string {
	if r.Key != "" {
		return r.Key
	}
	return r.Name
}

// Result is the outcome of one Request. Data is meaningful only when
// Success is true, Error and Kind only when it is false.
type Result struct {
	Name     string
	Backend  string
	Success  bool
	Data     any
	Error    string
	Kind     failure.Kind
	Elapsed  time.Duration
	Attempts int
}

// Executor performs a tool call against the request's backend.
type Executor interface {
	Execute(ctx context.Context, req Request) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}
