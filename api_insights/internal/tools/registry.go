// Package tools exposes the analytics operations as named, self-describing
// units that the agent loop and the MCP server invoke by name.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kolinsights/api_insights/internal/contract"
	"kolinsights/api_insights/internal/sanitize"
	"kolinsights/pkg/llm"
	"kolinsights/pkg/logging"
)

const defaultToolTimeout = 20 * time.Second

// Executor runs a decoded operation for one tenant.
type Executor interface {
	Execute(ctx context.Context, tenantID string, in contract.Input) (any, error)
}

// Unit describes one tool.
type Unit struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Config struct {
	Executor    Executor
	ToolTimeout time.Duration
	Logger      logging.Logger
}

// Registry is immutable after NewRegistry and safe for concurrent use.
type Registry struct {
	units   []Unit
	byName  map[string]Unit
	exec    Executor
	timeout time.Duration
	logger  logging.Logger
}

func NewRegistry(cfg Config) *Registry {
	timeout := cfg.ToolTimeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	r := &Registry{
		byName:  make(map[string]Unit),
		exec:    cfg.Executor,
		timeout: timeout,
		logger:  cfg.Logger,
	}
	for _, name := range contract.Names() {
		u := Unit{
			Name:        name,
			Description: contract.Description(name),
			Parameters:  contract.Schema(name),
		}
		r.units = append(r.units, u)
		r.byName[name] = u
	}
	return r
}

// Units returns the tools in advertisement order.
func (r *Registry) Units() []Unit {
	out := make([]Unit, len(r.units))
	copy(out, r.units)
	return out
}

// LLMTools converts the units into provider tool definitions.
func (r *Registry) LLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, llm.Tool{Name: u.Name, Description: u.Description, Parameters: u.Parameters})
	}
	return out
}

func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Invoke sanitizes, validates and executes one call for tenantID. Failures of
// any kind come back as an Err result; Invoke never returns a Go error.
func (r *Registry) Invoke(ctx context.Context, tenantID, name string, args json.RawMessage) Result {
	start := time.Now()
	status := "ok"
	defer func() {
		invocationsTotal.WithLabelValues(metricLabel(r, name), status).Inc()
		invocationDuration.WithLabelValues(metricLabel(r, name)).Observe(time.Since(start).Seconds())
	}()

	if !r.Has(name) {
		status = "unknown"
		return Err(name, fmt.Sprintf("unknown tool %q", name))
	}

	cleaned, dropped := sanitize.Arguments(name, args)
	if len(dropped) > 0 && r.logger != nil {
		r.logger.WithFields(logging.Fields{
			"tool":      name,
			"tenant_id": tenantID,
			"dropped":   dropped,
		}).Debug("Dropped invalid tool arguments")
	}

	input, err := contract.Decode(name, cleaned)
	if err != nil {
		status = "invalid"
		return Err(name, err.Error())
	}

	payload, err := r.execute(ctx, tenantID, input)
	if err != nil {
		status = "error"
		var timeout *timeoutError
		if errors.As(err, &timeout) {
			status = "timeout"
		}
		if r.logger != nil {
			r.logger.WithError(err).WithFields(logging.Fields{
				"tool":      name,
				"tenant_id": tenantID,
			}).Warn("Tool execution failed")
		}
		return Err(name, err.Error())
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		status = "error"
		return Err(name, "serialize result: "+err.Error())
	}
	return Ok(name, encoded)
}

type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("tool timed out after %s", e.after)
}

type execOutcome struct {
	payload any
	err     error
}

// execute bounds the executor by the per-tool timeout. The executor honours
// ctx, but the select guarantees the bound even if a driver call does not.
func (r *Registry) execute(ctx context.Context, tenantID string, input contract.Input) (any, error) {
	if r.exec == nil {
		return nil, errors.New("executor unavailable")
	}
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan execOutcome, 1)
	go func() {
		payload, err := r.exec.Execute(tctx, tenantID, input)
		done <- execOutcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &timeoutError{after: r.timeout}
		}
		return out.payload, out.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool cancelled: %w", ctx.Err())
		}
		return nil, &timeoutError{after: r.timeout}
	}
}

// metricLabel keeps label cardinality bounded when the model invents names.
func metricLabel(r *Registry, name string) string {
	if r.Has(name) {
		return name
	}
	return "unknown"
}
