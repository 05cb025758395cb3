// Package agent drives the bounded model/tool loop that turns a question into
// an answer grounded in tool results.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kolinsights/api_insights/internal/contract"
	"kolinsights/api_insights/internal/tools"
	"kolinsights/pkg/ctxkeys"
	"kolinsights/pkg/llm"
	"kolinsights/pkg/logging"
)

const (
	defaultMaxRounds       = 6
	defaultToolConcurrency = 4
)

var (
	ErrInvalidTenant = errors.New("tenant id must be a UUID")
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrModel wraps provider failures so the boundary can tell them apart
	// from deadlines and bad input.
	ErrModel = errors.New("language model call failed")
)

// State is the orchestrator's position in one request.
type State string

const (
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateFinalized      State = "finalized"
	StateInconclusive   State = "inconclusive"
)

// ToolInvoker is satisfied by *tools.Registry.
type ToolInvoker interface {
	Invoke(ctx context.Context, tenantID, name string, args json.RawMessage) tools.Result
	LLMTools() []llm.Tool
}

type Config struct {
	Provider        llm.Provider
	Tools           ToolInvoker
	Logger          logging.Logger
	MaxRounds       int
	ToolConcurrency int
}

type Orchestrator struct {
	provider    llm.Provider
	tools       ToolInvoker
	logger      logging.Logger
	maxRounds   int
	concurrency int
	now         func() time.Time
}

// ToolCallRecord is one executed call, in the order the model requested it.
type ToolCallRecord struct {
	Round     int    `json:"round"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToolOutput is the payload of a successful call.
type ToolOutput struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

type Result struct {
	Answer    string
	State     State
	Rounds    int
	ToolCalls []ToolCallRecord
	Outputs   []ToolOutput
}

func NewOrchestrator(cfg Config) *Orchestrator {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	concurrency := cfg.ToolConcurrency
	if concurrency <= 0 {
		concurrency = defaultToolConcurrency
	}
	return &Orchestrator{
		provider:    cfg.Provider,
		tools:       cfg.Tools,
		logger:      cfg.Logger,
		maxRounds:   maxRounds,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Run answers question for tenantID. The tenant is handed to every tool
// invocation explicitly. Provider failures abort with an error wrapping
// ErrModel; running out of rounds does not.
func (o *Orchestrator) Run(ctx context.Context, tenantID, question string) (Result, error) {
	if o == nil || o.provider == nil || o.tools == nil {
		return Result{}, errors.New("orchestrator is not configured")
	}
	if !contract.IsUUID(tenantID) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}

	log := o.entry(ctx, tenantID)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(o.now())},
		{Role: llm.RoleUser, Content: question},
	}
	toolDefs := o.tools.LLMTools()

	var (
		result   Result
		lastText string
		state    = StateAwaitingModel
	)

	for round := 0; round < o.maxRounds && state == StateAwaitingModel; round++ {
		if err := ctx.Err(); err != nil {
			agentOutcomesTotal.WithLabelValues("error").Inc()
			return Result{}, err
		}

		content, calls, err := o.complete(ctx, messages, toolDefs)
		result.Rounds = round + 1
		if err != nil {
			agentOutcomesTotal.WithLabelValues("error").Inc()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			return Result{}, fmt.Errorf("%w: %w", ErrModel, err)
		}
		if strings.TrimSpace(content) != "" {
			lastText = content
		}

		if len(calls) == 0 {
			state = StateFinalized
			break
		}
		if round == o.maxRounds-1 {
			// no model call remains to read these results
			log.WithField("tools", toolNames(calls)).Warn("Round limit reached with pending tool calls")
			break
		}

		state = StateExecutingTools
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		results := o.executeTools(ctx, tenantID, calls)
		for i, call := range calls {
			res := results[i]
			record := ToolCallRecord{Round: round + 1, Name: call.Name, Arguments: call.Arguments}
			if res.IsErr() {
				record.Error = res.Message()
			} else {
				result.Outputs = append(result.Outputs, ToolOutput{Name: call.Name, Payload: res.Payload()})
			}
			result.ToolCalls = append(result.ToolCalls, record)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    res.Content(),
			})
		}

		if round == o.maxRounds-2 {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: finalRoundNote})
		}
		state = StateAwaitingModel
	}

	switch {
	case state == StateFinalized && strings.TrimSpace(lastText) != "":
		result.Answer = lastText
	case lastText != "":
		result.Answer = lastText
		state = StateInconclusive
	default:
		result.Answer = fallbackApology
		state = StateInconclusive
	}
	result.State = state

	agentRounds.Observe(float64(result.Rounds))
	agentOutcomesTotal.WithLabelValues(string(state)).Inc()
	log.WithFields(logging.Fields{
		"state":  state,
		"rounds": result.Rounds,
		"tools":  len(result.ToolCalls),
	}).Info("Question answered")
	return result, nil
}

// complete runs one model call and drains its stream, merging streamed tool
// call fragments into whole calls.
func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message, toolDefs []llm.Tool) (string, []llm.ToolCall, error) {
	start := time.Now()
	stream, err := o.provider.Complete(ctx, messages, toolDefs)
	if err != nil {
		llmCallsTotal.WithLabelValues("error").Inc()
		llmDuration.Observe(time.Since(start).Seconds())
		return "", nil, err
	}
	defer stream.Close()

	var (
		content strings.Builder
		calls   []llm.ToolCall
	)
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			llmCallsTotal.WithLabelValues("error").Inc()
			llmDuration.Observe(time.Since(start).Seconds())
			return "", nil, err
		}
		content.WriteString(chunk.Content)
		if len(chunk.ToolCalls) > 0 {
			calls = mergeToolCalls(calls, chunk.ToolCalls)
		}
	}
	llmCallsTotal.WithLabelValues("success").Inc()
	llmDuration.Observe(time.Since(start).Seconds())

	return content.String(), normalizeCalls(calls), nil
}

// executeTools runs one batch concurrently and returns results in call
// order. Every result is in place before it returns.
func (o *Orchestrator) executeTools(ctx context.Context, tenantID string, calls []llm.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = o.tools.Invoke(ctx, tenantID, call.Name, json.RawMessage(call.Arguments))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// mergeToolCalls folds streamed fragments into calls. Fragments of one call
// share an Index; a fragment with a different non-empty ID starts a new call
// even at a reused index, which some providers emit for complete calls.
func mergeToolCalls(existing, incoming []llm.ToolCall) []llm.ToolCall {
	for _, inc := range incoming {
		merged := false
		for i := len(existing) - 1; i >= 0; i-- {
			ex := &existing[i]
			if ex.Index != inc.Index {
				continue
			}
			if inc.ID != "" && ex.ID != "" && inc.ID != ex.ID {
				break
			}
			if inc.ID != "" {
				ex.ID = inc.ID
			}
			if inc.Name != "" {
				ex.Name = inc.Name
			}
			ex.Arguments += inc.Arguments
			merged = true
			break
		}
		if !merged {
			existing = append(existing, inc)
		}
	}
	return existing
}

// normalizeCalls drops nameless fragments and fills IDs and empty arguments
// so every tool message can answer its call.
func normalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := calls[:0]
	for i, call := range calls {
		if strings.TrimSpace(call.Name) == "" {
			continue
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", i)
		}
		if strings.TrimSpace(call.Arguments) == "" {
			call.Arguments = "{}"
		}
		out = append(out, call)
	}
	return out
}

func toolNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

func (o *Orchestrator) entry(ctx context.Context, tenantID string) logging.Entry {
	logger := o.logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return logger.WithFields(logging.Fields{
		"request_id": ctxkeys.GetRequestID(ctx),
		"tenant_id":  tenantID,
	})
}
