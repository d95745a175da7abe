package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/changedetector"
	"github.com/haasonsaas/nexus/pkg/models"
)

// scriptedProvider replays a fixed sequence of completions, one per call to
// Complete, regardless of the request contents.
type scriptedProvider struct {
	turns [][]*CompletionChunk
	calls int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		p.calls++
		ch := make(chan *CompletionChunk, 1)
		ch <- &CompletionChunk{Done: true, StopReason: "end_turn"}
		close(ch)
		return ch, nil
	}
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan *CompletionChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []Model       { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return true }

func textTurn(text string) []*CompletionChunk {
	return []*CompletionChunk{
		{Text: text},
		{Done: true, StopReason: "end_turn", InputTokens: 10, OutputTokens: 5},
	}
}

// TestProcessMessageRecordsUsage verifies that the tokens a provider reports
// on its Done chunk end up in the loop's per-provider UsageSummary.
func TestProcessMessageRecordsUsage(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("hi")}}
	loop := NewLoop(provider, NewToolRegistry(), nil, LoopConfig{})

	if err := loop.ProcessMessage(context.Background(), "hi", func(models.AgentEvent) {}); err != nil {
		t.Fatalf("ProcessMessage returned error: %v", err)
	}

	usage, ok := loop.UsageSummary().Provider("scripted")
	if !ok {
		t.Fatal("expected a usage entry for the scripted provider")
	}
	if usage.TokensUsed != 15 {
		t.Errorf("TokensUsed = %d, want 15", usage.TokensUsed)
	}
	if usage.RequestCount != 1 {
		t.Errorf("RequestCount = %d, want 1", usage.RequestCount)
	}
}

func TestProcessMessageSingleTurnNoTools(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("hello there")}}
	loop := NewLoop(provider, NewToolRegistry(), nil, LoopConfig{})

	var events []models.AgentEvent
	err := loop.ProcessMessage(context.Background(), "hi", func(ev models.AgentEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("ProcessMessage returned error: %v", err)
	}

	var sawText, sawDone bool
	for _, ev := range events {
		if ev.Type == models.EventText {
			sawText = true
		}
		if ev.Type == models.EventDone {
			sawDone = true
		}
	}
	if !sawText {
		t.Error("expected an agent:text event")
	}
	if !sawDone {
		t.Error("expected an agent:done event")
	}
}

func TestProcessMessageRejectsConcurrentTurn(t *testing.T) {
	block := make(chan struct{})
	provider := &blockingProvider{release: block}
	loop := NewLoop(provider, NewToolRegistry(), nil, LoopConfig{})

	go func() {
		_ = loop.ProcessMessage(context.Background(), "first", func(models.AgentEvent) {})
	}()

	// Wait for the loop to mark itself busy before trying the second call.
	for !loop.busy.Load() {
		time.Sleep(time.Millisecond)
	}

	err := loop.ProcessMessage(context.Background(), "second", func(models.AgentEvent) {})
	if err != ErrLoopBusy {
		t.Fatalf("expected ErrLoopBusy, got %v", err)
	}
	close(block)
}

// blockingProvider blocks its first Complete call until release is closed.
type blockingProvider struct {
	release chan struct{}
	calls   int
}

func (p *blockingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.calls++
	ch := make(chan *CompletionChunk)
	go func() {
		defer close(ch)
		<-p.release
		ch <- &CompletionChunk{Done: true, StopReason: "end_turn"}
	}()
	return ch, nil
}

func (p *blockingProvider) Name() string        { return "blocking" }
func (p *blockingProvider) Models() []Model     { return nil }
func (p *blockingProvider) SupportsTools() bool { return true }

func TestProcessMessageStopsAtIterationLimit(t *testing.T) {
	toolCallTurn := func() []*CompletionChunk {
		input, _ := json.Marshal(map[string]string{})
		return []*CompletionChunk{
			{ToolCall: &ToolCallChunk{ID: "1", Name: "noop", Input: input}},
			{Done: true, StopReason: "tool_use"},
		}
	}
	turns := make([][]*CompletionChunk, 5)
	for i := range turns {
		turns[i] = toolCallTurn()
	}
	provider := &scriptedProvider{turns: turns}

	registry := NewToolRegistry()
	registry.Register(&noopTool{})

	loop := NewLoop(provider, registry, nil, LoopConfig{IterationLimit: 3})

	var errEvents int
	err := loop.ProcessMessage(context.Background(), "go", func(ev models.AgentEvent) {
		if ev.Type == models.EventError {
			errEvents++
		}
	})
	if err == nil {
		t.Fatal("expected an iteration-limit error")
	}
	if errEvents == 0 {
		t.Error("expected at least one agent:error event")
	}
}

type noopTool struct{}

func (t *noopTool) Name() string                   { return "noop" }
func (t *noopTool) Description() string             { return "does nothing" }
func (t *noopTool) Schema() json.RawMessage         { return json.RawMessage(`{"type":"object"}`) }
func (t *noopTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: "{}"}, nil
}

// TestPrependSystemEventsSurfacesBackgroundChanges verifies that a file
// mutation picked up by the snapshot watcher between turns (e.g. a
// background Bash process still writing after the prior turn ended) is
// surfaced as a plain-text note ahead of the next user message, rather than
// silently dropped.
func TestPrependSystemEventsSurfacesBackgroundChanges(t *testing.T) {
	dir := t.TempDir()
	watcher, err := changedetector.NewWatcher(dir, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer watcher.Close()

	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("noted")}}
	loop := NewLoop(provider, NewToolRegistry(), nil, LoopConfig{})
	loop.SetSnapshotWatcher(watcher)

	path := filepath.Join(dir, "background.txt")
	if err := os.WriteFile(path, []byte("written by a background process"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Give fsnotify a moment to deliver the event to the watcher's goroutine
	// before draining it via prependSystemEvents; Drain is consuming, so the
	// event must not be polled-and-discarded ahead of the real check.
	deadline := time.Now().Add(2 * time.Second)
	var result string
	for time.Now().Before(deadline) {
		result = loop.prependSystemEvents("please continue")
		if result != "please continue" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if result == "please continue" {
		t.Skip("fsnotify did not deliver the write event in time")
	}
}
