package agent

import (
	"context"
	"sync"
	"time"

	"pulsecheck/internal/integrations/llm"
)

type scriptedReply struct {
	text string
	err  error
}

// scriptedGenerator replays replies in order and repeats the last one once
// the script runs out.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []llm.Request
}

func newScripted(replies ...scriptedReply) *scriptedGenerator {
	return &scriptedGenerator{replies: replies}
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := len(g.requests)
	g.requests = append(g.requests, req)
	if idx >= len(g.replies) {
		idx = len(g.replies) - 1
	}
	reply := g.replies[idx]
	resp := llm.Response{
		Text:     reply.text,
		Provider: "fake",
		Model:    "fake-model",
		Usage:    llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
	if reply.err != nil {
		return llm.Response{}, reply.err
	}
	return resp, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

func newTestInvoker(gen llm.Generator, rec *sleepRecorder) *Invoker {
	inv := NewInvoker(gen, nil, nil)
	if rec == nil {
		rec = &sleepRecorder{}
	}
	inv.sleep = rec.sleep
	return inv
}

func newTestOrchestrator(gen llm.Generator, alwaysGenerate bool) *Orchestrator {
	inv := newTestInvoker(gen, nil)
	return &Orchestrator{
		engine: NewEngine(inv, nil),
		policy: NewPolicy(inv, alwaysGenerate, nil),
		logger: inv.logger,
	}
}

func replyText(text string) scriptedReply { return scriptedReply{text: text} }

func replyErr(err error) scriptedReply { return scriptedReply{err: err} }

const sampleNotes = "Finished auth refactor. Still blocked on API keys from DevOps."

const twoItemsLowBlocker = `{
  "items": [
    {"type": "WINS", "text": "Finished auth refactor", "confidence": 0.95},
    {"type": "BLOCKERS", "text": "Blocked on API keys from DevOps", "confidence": 0.62}
  ],
  "preferences": {}
}`

const twoItemsConfident = `{
  "items": [
    {"type": "WINS", "text": "Finished auth refactor", "confidence": 0.95},
    {"type": "BLOCKERS", "text": "Blocked on API keys from DevOps", "confidence": 0.9}
  ],
  "preferences": {"pov": "third_limited", "format": "paragraph", "tone": "escalation", "attributionName": "Sam"}
}`

const generatedFollowups = `{
  "questions": [
    {"field": "pov", "question": "Whose voice should the update use?"},
    {"field": "format", "question": "Bullets or a paragraph?"},
    {"field": "tone", "question": "How formal should it sound?"}
  ]
}`
