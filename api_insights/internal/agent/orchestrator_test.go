package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolinsights/api_insights/internal/tools"
	"kolinsights/pkg/llm"
)

const tenant = "3f1c2a9e-6b7d-4e8f-9a0b-1c2d3e4f5a6b"

type fakeStream struct {
	chunks []llm.Chunk
	index  int
}

func (s *fakeStream) Recv() (llm.Chunk, error) {
	if s.index >= len(s.chunks) {
		return llm.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.index]
	s.index++
	return chunk, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	mu        sync.Mutex
	sequences [][]llm.Chunk
	call      int
	err       error
	seen      [][]llm.Message
}

func (p *fakeProvider) Complete(_ context.Context, messages []llm.Message, _ []llm.Tool) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, append([]llm.Message(nil), messages...))
	if p.err != nil {
		return nil, p.err
	}
	if p.call >= len(p.sequences) {
		return &fakeStream{}, nil
	}
	seq := p.sequences[p.call]
	p.call++
	return &fakeStream{chunks: seq}, nil
}

type invocation struct {
	tenantID string
	name     string
	args     string
}

type fakeTools struct {
	mu       sync.Mutex
	calls    []invocation
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     map[string]string
}

func (f *fakeTools) Invoke(_ context.Context, tenantID, name string, args json.RawMessage) tools.Result {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.inFlight.Add(-1)

	f.mu.Lock()
	f.calls = append(f.calls, invocation{tenantID: tenantID, name: name, args: string(args)})
	f.mu.Unlock()

	if msg, ok := f.fail[name]; ok {
		return tools.Err(name, msg)
	}
	return tools.Ok(name, json.RawMessage(`{"type":"`+name+`","count":1}`))
}

func (f *fakeTools) LLMTools() []llm.Tool {
	return []llm.Tool{{Name: "kol_recommendation"}, {Name: "post_analysis"}}
}

func newTestOrchestrator(p llm.Provider, tl ToolInvoker, maxRounds int) *Orchestrator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	o := NewOrchestrator(Config{Provider: p, Tools: tl, Logger: logger, MaxRounds: maxRounds})
	o.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return o
}

func toolChunk(index int, id, name, args string) llm.Chunk {
	return llm.Chunk{ToolCalls: []llm.ToolCall{{Index: index, ID: id, Name: name, Arguments: args}}}
}

func TestRunFinalizesWithoutTools(t *testing.T) {
	p := &fakeProvider{sequences: [][]llm.Chunk{{{Content: "Hello "}, {Content: "there."}}}}
	ft := &fakeTools{}
	o := newTestOrchestrator(p, ft, 0)

	res, err := o.Run(context.Background(), tenant, "  who is trending?  ")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, "Hello there.", res.Answer)
	assert.Equal(t, 1, res.Rounds)
	assert.Empty(t, ft.calls)

	require.Len(t, p.seen, 1)
	msgs := p.seen[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "2026-03-14")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "who is trending?"}, msgs[1])
}

func TestRunExecutesToolRoundInModelOrder(t *testing.T) {
	p := &fakeProvider{sequences: [][]llm.Chunk{
		{
			toolChunk(0, "a", "kol_recommendation", `{"limit":5}`),
			toolChunk(1, "b", "post_analysis", `{}`),
		},
		{{Content: "Top KOLs are listed."}},
	}}
	ft := &fakeTools{delay: 20 * time.Millisecond, fail: map[string]string{"post_analysis": "boom"}}
	o := newTestOrchestrator(p, ft, 0)

	res, err := o.Run(context.Background(), tenant, "recommend KOLs")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "Top KOLs are listed.", res.Answer)

	require.Len(t, ft.calls, 2)
	for _, c := range ft.calls {
		assert.Equal(t, tenant, c.tenantID)
	}

	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, ToolCallRecord{Round: 1, Name: "kol_recommendation", Arguments: `{"limit":5}`}, res.ToolCalls[0])
	assert.Equal(t, "boom", res.ToolCalls[1].Error)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "kol_recommendation", res.Outputs[0].Name)

	// second model call sees assistant message then both tool messages in order
	require.Len(t, p.seen, 2)
	msgs := p.seen[1]
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 2)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "a", msgs[3].ToolCallID)
	assert.Equal(t, "kol_recommendation", msgs[3].Name)
	assert.Equal(t, "b", msgs[4].ToolCallID)
	assert.JSONEq(t, `{"error":"boom","type":"post_analysis"}`, msgs[4].Content)
}

func TestRunMergesStreamedFragments(t *testing.T) {
	p := &fakeProvider{sequences: [][]llm.Chunk{
		{
			toolChunk(0, "call-1", "kol_recommendation", `{"crit`),
			toolChunk(0, "", "", `eria":{}}`),
			toolChunk(1, "", "post_analysis", ``),
		},
		{{Content: "done"}},
	}}
	ft := &fakeTools{}
	o := newTestOrchestrator(p, ft, 0)

	_, err := o.Run(context.Background(), tenant, "q")
	require.NoError(t, err)
	require.Len(t, ft.calls, 2)

	byName := map[string]string{}
	for _, c := range ft.calls {
		byName[c.name] = c.args
	}
	assert.Equal(t, `{"criteria":{}}`, byName["kol_recommendation"])
	assert.Equal(t, `{}`, byName["post_analysis"])

	assistant := p.seen[1][2]
	assert.Equal(t, "call-1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "call_1", assistant.ToolCalls[1].ID)
}

func TestMergeToolCallsDistinctIDsAtSameIndex(t *testing.T) {
	calls := mergeToolCalls(nil, []llm.ToolCall{{Index: 0, ID: "x", Name: "a", Arguments: "{}"}})
	calls = mergeToolCalls(calls, []llm.ToolCall{{Index: 0, ID: "y", Name: "b", Arguments: "{}"}})
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, "b", calls[1].Name)
}

func TestRunRoundLimitFallsBackToLastText(t *testing.T) {
	loop := []llm.Chunk{{Content: "Let me check."}, toolChunk(0, "", "kol_recommendation", "{}")}
	p := &fakeProvider{sequences: [][]llm.Chunk{loop, loop, loop}}
	ft := &fakeTools{}
	o := newTestOrchestrator(p, ft, 3)

	res, err := o.Run(context.Background(), tenant, "q")
	require.NoError(t, err)
	assert.Equal(t, StateInconclusive, res.State)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, "Let me check.", res.Answer)
	// the final round's calls are not executed
	assert.Len(t, ft.calls, 2)

	// the note precedes the last model call only
	last := p.seen[2]
	assert.Equal(t, finalRoundNote, last[len(last)-1].Content)
	for _, m := range p.seen[1] {
		assert.NotEqual(t, finalRoundNote, m.Content)
	}
}

func TestRunRoundLimitWithoutTextApologizes(t *testing.T) {
	loop := []llm.Chunk{toolChunk(0, "", "kol_recommendation", "{}")}
	p := &fakeProvider{sequences: [][]llm.Chunk{loop, loop}}
	o := newTestOrchestrator(p, &fakeTools{}, 2)

	res, err := o.Run(context.Background(), tenant, "q")
	require.NoError(t, err)
	assert.Equal(t, StateInconclusive, res.State)
	assert.Equal(t, fallbackApology, res.Answer)
}

func TestRunBlankFinalAnswerApologizes(t *testing.T) {
	p := &fakeProvider{sequences: [][]llm.Chunk{{{Content: "   "}}}}
	o := newTestOrchestrator(p, &fakeTools{}, 0)

	res, err := o.Run(context.Background(), tenant, "q")
	require.NoError(t, err)
	assert.Equal(t, fallbackApology, res.Answer)
	assert.Equal(t, StateInconclusive, res.State)
}

func TestRunRejectsBadInput(t *testing.T) {
	p := &fakeProvider{}
	o := newTestOrchestrator(p, &fakeTools{}, 0)

	_, err := o.Run(context.Background(), "tenant-1", "q")
	assert.ErrorIs(t, err, ErrInvalidTenant)

	_, err = o.Run(context.Background(), tenant, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Empty(t, p.seen)
}

func TestRunWrapsProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("503 upstream")}
	o := newTestOrchestrator(p, &fakeTools{}, 0)

	_, err := o.Run(context.Background(), tenant, "q")
	require.ErrorIs(t, err, ErrModel)
	assert.True(t, strings.Contains(err.Error(), "503 upstream"))
}

func TestRunReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newTestOrchestrator(&fakeProvider{}, &fakeTools{}, 0)

	_, err := o.Run(ctx, tenant, "q")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteToolsRespectsConcurrencyLimit(t *testing.T) {
	ft := &fakeTools{delay: 30 * time.Millisecond}
	o := NewOrchestrator(Config{Provider: &fakeProvider{}, Tools: ft, ToolConcurrency: 2})

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: "c", Name: "kol_recommendation", Arguments: "{}"}
	}
	results := o.executeTools(context.Background(), tenant, calls)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.False(t, r.IsErr())
	}
	assert.LessOrEqual(t, ft.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, ft.peak.Load(), int32(1))
}
