package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/internal/changedetector"
	"github.com/haasonsaas/nexus/internal/infra"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Process-wide constants from spec.md §6.
const (
	DefaultIterationLimit   = 30
	DefaultReasoningBudget  = 8192
	DefaultMaxOutputTokens  = 16384
	DefaultMaxSubagentDepth = 3

	// taskToolName is the recursive sub-agent tool intercepted by
	// dispatchTool before it ever reaches the ordinary tool registry.
	taskToolName = "Task"

	// loopEventsKey is the SystemEventsQueue session key. One Loop serves
	// one participant's session, so a single fixed key is enough; a
	// sub-agent's childLoop does not share it (its turn is synchronous and
	// done before any background process could report back).
	loopEventsKey = "loop"
)

// LoopConfig configures an AgentLoop's model call and safety limits.
type LoopConfig struct {
	Model          string
	SystemPreamble string

	IterationLimit        int
	ReasoningBudgetTokens int
	MaxOutputTokens       int
	MaxSubagentDepth      int
}

// withDefaults fills in zero fields and enforces the maxOutput >
// reasoningBudget invariant (spec.md §6).
func (c LoopConfig) withDefaults() LoopConfig {
	if c.IterationLimit <= 0 {
		c.IterationLimit = DefaultIterationLimit
	}
	if c.ReasoningBudgetTokens <= 0 {
		c.ReasoningBudgetTokens = DefaultReasoningBudget
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.MaxOutputTokens <= c.ReasoningBudgetTokens {
		c.MaxOutputTokens = c.ReasoningBudgetTokens + 4096
	}
	if c.MaxSubagentDepth <= 0 {
		c.MaxSubagentDepth = DefaultMaxSubagentDepth
	}
	return c
}

// fileMutatingTools names the tool calls whose success implies a
// file_changed notification should be synthesized immediately — the
// tool-driven half of the Change Detector (spec.md §4.4). Mutations made by
// the Bash tool are instead caught by the snapshot-driven strategy in
// internal/changedetector, since the loop cannot know which paths a shell
// command touched.
var fileMutatingTools = map[string]bool{
	"write_file": true,
	"edit_file":  true,
}

// FileReader reads a project file's current on-disk content by
// project-relative path, for the file_changed notification synthesized
// after a successful edit_file (write_file instead uses its own echoed
// content, avoiding a redundant read).
type FileReader func(path string) (content string, ok bool)

// ErrLoopBusy is returned by ProcessMessage or Reset when a turn is already
// in progress on this loop (spec.md §4.1: a gateway may choose to queue or
// reject a concurrent chat; this loop always rejects and lets the caller
// decide).
var ErrLoopBusy = fmt.Errorf("agent loop: a turn is already in progress")

// Loop drives one participant's agentic tool-use session: the per-turn
// streaming decode, sequential tool dispatch, and Task sub-agent recursion
// described in spec.md §4.2. One Loop owns one History; sub-agents get
// their own Loop and History (§4.2.1).
type Loop struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *Executor
	config   LoopConfig
	readFile FileReader

	// snapshotWatcher drains change notifications for tools (Bash) that
	// can mutate files indirectly, since their tool input carries no path
	// to synthesize a notification from directly (spec.md §4.4 strategy 2).
	// Nil disables snapshot-driven detection (e.g. in tests).
	snapshotWatcher *changedetector.Watcher

	// breaker trips after repeated back-to-back provider failures (auth
	// errors, connection refusals) so a broken provider fails fast for the
	// rest of the iteration limit instead of retrying every turn.
	breaker *infra.CircuitBreaker

	// events carries ephemeral system notes (background-process file
	// changes observed between turns) to be prefixed onto the next user
	// message, per internal/infra's SystemEventsQueue doc comment.
	events *infra.SystemEventsQueue

	// usage tallies tokens spent per provider across the root loop and any
	// Task sub-agents it spawns, so a deployment can surface or cap spend
	// per session without instrumenting every provider call site itself.
	usage *infra.UsageTracker

	mu      sync.Mutex
	history models.History
	repoMap string

	depth int // 0 for the root loop, >0 for Task sub-agents

	busy       atomic.Bool
	cancelFunc atomic.Pointer[context.CancelFunc]
}

// NewLoop constructs a root agent loop (depth 0) around the given provider
// and tool registry. readFile may be nil if edit_file's post-write content
// read-back is not needed (e.g. in tests); a nil FileReader degrades
// file_changed events to ContentRead=false.
func NewLoop(provider LLMProvider, registry *ToolRegistry, readFile FileReader, config LoopConfig) *Loop {
	return &Loop{
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, DefaultExecutorConfig()),
		config:   config.withDefaults(),
		readFile: readFile,
		breaker: infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name:             "llm-provider",
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
		events: infra.NewSystemEventsQueue(),
		usage:  infra.NewUsageTracker(),
	}
}

// childLoop constructs a sub-agent loop at depth+1, sharing the provider,
// tool registry, and current repo-map snapshot but owning a fresh, empty
// History — sub-agents never see or mutate the parent's conversation
// (spec.md §4.2.1).
func (l *Loop) childLoop() *Loop {
	l.mu.Lock()
	repoMap := l.repoMap
	l.mu.Unlock()

	return &Loop{
		provider: l.provider,
		registry: l.registry,
		executor: l.executor,
		config:   l.config,
		readFile: l.readFile,
		repoMap:  repoMap,
		depth:    l.depth + 1,
		breaker:  l.breaker,
		events:   infra.NewSystemEventsQueue(),
		usage:    l.usage,

		snapshotWatcher: l.snapshotWatcher,
	}
}

// SetRepoMap installs the current repo-map summary (C4/Repo-Map builder
// output), included in the system prompt on the loop's next turn.
func (l *Loop) SetRepoMap(summary string) {
	l.mu.Lock()
	l.repoMap = summary
	l.mu.Unlock()
}

// SetSnapshotWatcher installs the snapshot-driven change detector used to
// attribute file mutations made by Bash (spec.md §4.4 strategy 2).
func (l *Loop) SetSnapshotWatcher(w *changedetector.Watcher) {
	l.snapshotWatcher = w
}

// UsageSummary reports tokens spent per provider across this loop and every
// Task sub-agent it has spawned, for a deployment's own quota/cost tracking.
func (l *Loop) UsageSummary() *infra.UsageSummary {
	return l.usage.Summary()
}

// Reset clears conversation history. Returns ErrLoopBusy if a turn is in
// progress — the client must cancel first (spec.md §4.1 "reset").
func (l *Loop) Reset() error {
	if l.busy.Load() {
		return ErrLoopBusy
	}
	l.mu.Lock()
	l.history.Reset()
	l.mu.Unlock()
	return nil
}

// Cancel aborts the in-flight turn, if any. The model stream read is
// abandoned, the partial assistant message is discarded, and no further
// tool calls are dispatched; no agent:error is emitted for a cancellation
// (spec.md §7).
func (l *Loop) Cancel() {
	if fn := l.cancelFunc.Load(); fn != nil {
		(*fn)()
	}
}

// ProcessMessage runs the full per-turn algorithm (spec.md §4.2) for one
// user message: append it to history, stream the model's response,
// dispatch any requested tools in strict order, and repeat until the model
// stops requesting tools or the iteration limit is reached.
//
// emit is invoked, in order, for every outbound event produced during the
// turn (thinking/text/tool_call/tool_result/file_changed/done/error). It
// runs on the loop's own goroutine and must not block for long.
func (l *Loop) ProcessMessage(ctx context.Context, userText string, emit func(models.AgentEvent)) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrLoopBusy
	}
	defer l.busy.Store(false)

	turnCtx, cancel := context.WithCancel(ctx)
	l.cancelFunc.Store(&cancel)
	defer func() {
		l.cancelFunc.Store(nil)
		cancel()
	}()

	userText = l.prependSystemEvents(userText)

	l.mu.Lock()
	l.history.Append(models.Message{
		Role:    models.RoleUser,
		Content: []models.ContentBlock{models.NewTextBlock(userText)},
	})
	l.mu.Unlock()

	var seq uint64
	nextSeq := func() uint64 {
		seq++
		return seq
	}

	for iteration := 0; iteration < l.config.IterationLimit; iteration++ {
		blocks, stopReason, err := l.streamTurn(turnCtx, emit, nextSeq)
		if err != nil {
			if turnCtx.Err() != nil {
				return nil
			}
			loopErr := &LoopError{Phase: PhaseStream, Iteration: iteration, Message: err.Error(), Cause: err}
			emit(models.AgentEvent{Type: models.EventError, Time: time.Now(), Sequence: nextSeq(), Error: &models.ErrorPayload{Message: loopErr.Error()}})
			return loopErr
		}

		l.mu.Lock()
		l.history.Append(models.Message{Role: models.RoleAssistant, Content: blocks})
		l.mu.Unlock()

		for _, b := range blocks {
			if b.Kind == models.BlockText && b.Text != "" {
				emit(models.AgentEvent{Type: models.EventText, Time: time.Now(), Sequence: nextSeq(), Text: &models.TextPayload{Content: b.Text}})
			}
		}

		toolUses := blockToolUses(blocks)
		if len(toolUses) == 0 || stopReason != "tool_use" {
			emit(models.AgentEvent{Type: models.EventDone, Time: time.Now(), Sequence: nextSeq()})
			return nil
		}

		resultBlocks := make([]models.ContentBlock, 0, len(toolUses))
		for _, tu := range toolUses {
			if turnCtx.Err() != nil {
				return nil
			}

			emit(models.AgentEvent{
				Type:     models.EventToolCall,
				Time:     time.Now(),
				Sequence: nextSeq(),
				ToolCall: &models.ToolCallPayload{ToolUseID: tu.ToolUseID, Name: tu.ToolName, Input: rawJSONToAny(tu.ToolInput)},
			})

			resultBlock := l.dispatchTool(turnCtx, tu)
			resultBlocks = append(resultBlocks, resultBlock)

			emit(models.AgentEvent{
				Type:       models.EventToolResult,
				Time:       time.Now(),
				Sequence:   nextSeq(),
				ToolResult: &models.ToolResultPayload{ToolUseID: tu.ToolUseID, Name: tu.ToolName, Result: resultBlock.ToolResultContent},
			})

			if fileMutatingTools[tu.ToolName] && !resultBlock.IsError {
				if note, ok := l.changeNotificationFor(tu); ok {
					emit(models.AgentEvent{
						Type:        models.EventFileChanged,
						Time:        time.Now(),
						Sequence:    nextSeq(),
						FileChanged: &models.FileChangedPayload{Path: note.Path, Content: note.Content},
					})
				}
			}

			if tu.ToolName == "Bash" && l.snapshotWatcher != nil {
				for _, note := range l.snapshotWatcher.Drain() {
					emit(models.AgentEvent{
						Type:        models.EventFileChanged,
						Time:        time.Now(),
						Sequence:    nextSeq(),
						FileChanged: &models.FileChangedPayload{Path: note.Path, Content: note.Content},
					})
				}
			}
		}

		l.mu.Lock()
		l.history.Append(models.Message{Role: models.RoleUser, Content: resultBlocks})
		l.mu.Unlock()
	}

	loopErr := &LoopError{Phase: PhaseComplete, Iteration: l.config.IterationLimit, Message: ErrMaxIterations.Error(), Cause: ErrMaxIterations}
	emit(models.AgentEvent{Type: models.EventError, Time: time.Now(), Sequence: nextSeq(), Error: &models.ErrorPayload{Message: loopErr.Error()}})
	return loopErr
}

// prependSystemEvents surfaces any file mutations a background Bash process
// made between turns (the snapshot watcher accumulates these even while no
// turn is running) as a plain-text note ahead of the user's own message, so
// the model learns about them without a dedicated wire event.
func (l *Loop) prependSystemEvents(userText string) string {
	if l.depth == 0 && l.snapshotWatcher != nil {
		for _, note := range l.snapshotWatcher.Drain() {
			l.events.Enqueue(loopEventsKey, fmt.Sprintf("%s changed on disk since your last turn, likely from a background process.", note.Path), "")
		}
	}
	notes := l.events.DrainText(loopEventsKey)
	if len(notes) == 0 {
		return userText
	}
	return strings.Join(notes, "\n") + "\n\n" + userText
}

// streamTurn composes the system prompt, issues one Complete call, and
// decodes the chunk stream into finalized ContentBlocks. Text and Reasoning
// deltas are forwarded as agent:thinking events as they arrive (spec.md
// §4.2 step 3); a block only becomes part of the returned slice once it has
// fully finalized (ToolCall arrival, ThinkingEnd, or Done).
func (l *Loop) streamTurn(ctx context.Context, emit func(models.AgentEvent), nextSeq func() uint64) ([]models.ContentBlock, string, error) {
	l.mu.Lock()
	system := l.buildSystemPrompt()
	messages := append([]models.Message(nil), l.history.Messages()...)
	l.mu.Unlock()

	req := &CompletionRequest{
		Model:                l.config.Model,
		System:               system,
		Messages:             messages,
		Tools:                l.registry.AsLLMTools(),
		MaxTokens:            l.config.MaxOutputTokens,
		EnableThinking:       true,
		ThinkingBudgetTokens: l.config.ReasoningBudgetTokens,
	}

	var chunks <-chan *CompletionChunk
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		var completeErr error
		chunks, completeErr = l.provider.Complete(ctx, req)
		return completeErr
	})
	if err != nil {
		return nil, "", fmt.Errorf("starting completion: %w", err)
	}

	var blocks []models.ContentBlock
	var textBuf strings.Builder
	var reasoningBuf strings.Builder
	var stopReason string
	var inputTokens, outputTokens int

	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, "", chunk.Error
		}

		if chunk.ThinkingStart {
			reasoningBuf.Reset()
		}
		if chunk.Thinking != "" {
			reasoningBuf.WriteString(chunk.Thinking)
			emit(models.AgentEvent{Type: models.EventThinking, Time: time.Now(), Sequence: nextSeq(), Thinking: &models.ThinkingPayload{Text: chunk.Thinking}})
		}
		if chunk.ThinkingEnd {
			blocks = append(blocks, models.NewReasoningBlock(reasoningBuf.String(), chunk.Signature))
			reasoningBuf.Reset()
		}
		if chunk.Text != "" {
			textBuf.WriteString(chunk.Text)
			emit(models.AgentEvent{Type: models.EventThinking, Time: time.Now(), Sequence: nextSeq(), Thinking: &models.ThinkingPayload{Text: chunk.Text}})
		}
		if chunk.ToolCall != nil {
			if textBuf.Len() > 0 {
				blocks = append(blocks, models.NewTextBlock(textBuf.String()))
				textBuf.Reset()
			}
			blocks = append(blocks, models.NewToolUseBlock(chunk.ToolCall.ID, chunk.ToolCall.Name, chunk.ToolCall.Input))
		}
		if chunk.Done {
			stopReason = chunk.StopReason
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
			if textBuf.Len() > 0 {
				blocks = append(blocks, models.NewTextBlock(textBuf.String()))
				textBuf.Reset()
			}
		}
	}

	l.usage.RecordRequest(l.provider.Name(), int64(inputTokens+outputTokens))

	return blocks, stopReason, nil
}

// buildSystemPrompt assembles the fixed preamble plus the current repo-map
// section (spec.md §4.2 step 1).
func (l *Loop) buildSystemPrompt() string {
	if l.repoMap == "" {
		return l.config.SystemPreamble
	}
	var b strings.Builder
	b.WriteString(l.config.SystemPreamble)
	b.WriteString("\n\n## Project Map\n\n")
	b.WriteString(l.repoMap)
	return b.String()
}

// dispatchTool executes a single ToolUse block and returns its ToolResult
// block. The Task tool is intercepted here rather than routed through the
// ordinary tool registry, since it recurses back into this same loop
// machinery (spec.md §4.2.1) rather than performing a sandboxed side effect.
func (l *Loop) dispatchTool(ctx context.Context, tu models.ContentBlock) models.ContentBlock {
	if tu.ToolName == taskToolName {
		return l.runSubagent(ctx, tu)
	}

	res := l.executor.Execute(ctx, tu)
	if res.Error != nil {
		return models.NewToolResultBlock(tu.ToolUseID, errorJSON(res.Error.Error()), true)
	}
	return models.NewToolResultBlock(tu.ToolUseID, res.Result.Content, res.Result.IsError)
}

// runSubagent runs a synchronous, blocking Task sub-agent: its own fresh
// History, running to completion (or its own iteration limit) before this
// call returns. Only the parent-level tool_call/tool_result pair is visible
// to the client; the child's own thinking/text/tool events are swallowed.
// Depth is bounded by LoopConfig.MaxSubagentDepth (spec.md §4.2.1).
func (l *Loop) runSubagent(ctx context.Context, tu models.ContentBlock) models.ContentBlock {
	if l.depth+1 > l.config.MaxSubagentDepth {
		return models.NewToolResultBlock(tu.ToolUseID, errorJSON("Sub-agent error: maximum recursion depth exceeded"), true)
	}

	var input struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(tu.ToolInput, &input); err != nil || strings.TrimSpace(input.Prompt) == "" {
		return models.NewToolResultBlock(tu.ToolUseID, errorJSON("Sub-agent error: missing prompt"), true)
	}

	child := l.childLoop()
	var text strings.Builder
	err := child.ProcessMessage(ctx, input.Prompt, func(ev models.AgentEvent) {
		if ev.Type == models.EventText && ev.Text != nil {
			text.WriteString(ev.Text.Content)
		}
	})
	if err != nil {
		return models.NewToolResultBlock(tu.ToolUseID, errorJSON("Sub-agent failed: "+err.Error()), true)
	}
	return models.NewToolResultBlock(tu.ToolUseID, text.String(), false)
}

// changeNotificationFor builds the file_changed payload for a successful
// write_file or edit_file call. write_file's own echoed content is used
// directly; edit_file requires a read-back since its input carries only the
// old/new fragments, not the resulting file body. ContentRead is false (and
// Content absent) when that read-back fails.
func (l *Loop) changeNotificationFor(tu models.ContentBlock) (models.ChangeNotification, bool) {
	var payload struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(tu.ToolInput, &payload); err != nil || payload.Path == "" {
		return models.ChangeNotification{}, false
	}

	if tu.ToolName == "write_file" {
		return models.ChangeNotification{Path: payload.Path, Content: payload.Content, ContentRead: true}, true
	}

	if l.readFile == nil {
		return models.ChangeNotification{Path: payload.Path, ContentRead: false}, true
	}
	content, ok := l.readFile(payload.Path)
	return models.ChangeNotification{Path: payload.Path, Content: content, ContentRead: ok}, true
}

func blockToolUses(blocks []models.ContentBlock) []models.ContentBlock {
	var out []models.ContentBlock
	for _, b := range blocks {
		if b.Kind == models.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// rawJSONToAny decodes a tool call's input for inclusion in an outbound
// ToolCallPayload; malformed JSON degrades to its raw string rather than
// failing the event.
func rawJSONToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
