package handler

import (
	"fmt"
	"time"

	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

// Batch is the wire form of a set of tool calls. The same shape is read from
// YAML batch files by the CLI.
type Batch struct {
	Requests []Call `json:"requests" yaml:"requests"`
}

type Call struct {
	Name       string         `json:"name" yaml:"name"`
	Backend    string         `json:"backend,omitempty" yaml:"backend,omitempty"`
	Candidates []string       `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Key        string         `json:"key,omitempty" yaml:"key,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Priority   string         `json:"priority,omitempty" yaml:"priority,omitempty"`
	Timeout    string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ToRequests validates every call and converts it. The first invalid call
// aborts the conversion.
func (b Batch) ToRequests() ([]toolcall.Request, error) {
	reqs := make([]toolcall.Request, 0, len(b.Requests))

	for i, c := range b.Requests {
		if c.Name == "" {
			return nil, fmt.Errorf("request %d: name is required", i)
		}
		if c.Backend == "" && len(c.Candidates) == 0 {
			return nil, fmt.Errorf("request %d (%s): backend or candidates required", i, c.Name)
		}

		priority, err := toolcall.ParsePriority(c.Priority)
		if err != nil {
			return nil, fmt.Errorf("request %d (%s): %w", i, c.Name, err)
		}

		var timeout time.Duration
		if c.Timeout != "" {
			timeout, err = time.ParseDuration(c.Timeout)
			if err != nil {
				return nil, fmt.Errorf("request %d (%s): invalid timeout: %w", i, c.Name, err)
			}
			if timeout < 0 {
				return nil, fmt.Errorf("request %d (%s): timeout must not be negative", i, c.Name)
			}
		}

		reqs = append(reqs, toolcall.Request{
			Name:       c.Name,
			Backend:    c.Backend,
			Candidates: c.Candidates,
			Key:        c.Key,
			Arguments:  c.Arguments,
			Priority:   priority,
			Timeout:    timeout,
		})
	}

	return reqs, nil
}

type Outcome struct {
	Name      string `json:"name"`
	Backend   string `json:"backend"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Attempts  int    `json:"attempts"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type BatchResult struct {
	Results []Outcome `json:"results"`
}

func NewBatchResult(results []toolcall.Result) BatchResult {
	out := BatchResult{Results: make([]Outcome, len(results))}

	for i, r := range results {
		out.Results[i] = Outcome{
			Name:      r.Name,
			Backend:   r.Backend,
			Success:   r.Success,
			Data:      r.Data,
			Error:     r.Error,
			Kind:      string(r.Kind),
			Attempts:  r.Attempts,
			ElapsedMS: r.Elapsed.Milliseconds(),
		}
	}

	return out
}
