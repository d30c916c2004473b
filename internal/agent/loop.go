// Package agent implements the orchestration loop that mediates between the
// language model and the tool layer: it calls the model, interprets the
// response, applies guardrails, executes tool batches, and decides whether to
// continue, finalize, or escalate for confirmation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhearth/hearth/internal/entities"
	"github.com/openhearth/hearth/internal/providers"
	"github.com/openhearth/hearth/internal/sessions"
	"github.com/openhearth/hearth/internal/sink"
	"github.com/openhearth/hearth/internal/tools"
)

// Guardrail policy constants. Tuned defaults; adjust with care.
const (
	defaultMaxIterations         = 8
	maxMalformedRetries          = 2
	maxProseImitationRetries     = 1
	maxMissingRouteChecks        = 1
	maxConsecutiveClarifications = 3
	searchStallThreshold         = 2
	recentEventWindow            = 10 * time.Minute

	defaultToolRetries     = 1
	defaultLatencyBudgetMs = 10000
)

// criticalDomains are the entity domains whose control actions must be
// explicitly confirmed by the user before they execute.
var criticalDomains = map[string]bool{
	"lock":         true,
	"garage_door":  true,
	"alarm_system": true,
	"door":         true,
	"gate":         true,
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	ID              string
	Provider        providers.Provider
	Model           string
	Registry        *tools.Registry
	State           sessions.State
	Entities        *entities.Store
	Sink            sink.Sink
	Classifier      *Classifier
	MaxIterations   int
	ToolRetries     int
	LatencyBudgetMs int
	InjectionAction string // log | warn | block | off
	InputGuard      *InputGuard
}

// Loop runs one bounded model-tool iteration cycle per Run call. A Loop is
// safe to reuse across turns; the transcript is per-Run and never shared.
type Loop struct {
	id              string
	provider        providers.Provider
	model           string
	registry        *tools.Registry
	executor        *tools.Executor
	state           sessions.State
	entities        *entities.Store
	sink            sink.Sink
	classifier      *Classifier
	maxIterations   int
	toolRetries     int
	latencyBudgetMs int
	inputGuard      *InputGuard
	injectionAction string

	running atomic.Bool
	tracer  trace.Tracer
}

// RunRequest is one turn: the user's message plus prior transcript.
type RunRequest struct {
	SessionKey         string
	Message            string
	History            []providers.Message
	CachedPrefixLength int
	MaxIterations      int // 0 = loop default
}

// RunResult is the turn's outcome.
type RunResult struct {
	Content           string
	NeedsFollowup     bool
	Iterations        int
	Records           []tools.CallRecord
	Announce          bool
	HitIterationLimit bool
}

func NewLoop(cfg LoopConfig) *Loop {
	action := cfg.InjectionAction
	switch action {
	case "log", "warn", "block", "off":
	default:
		action = "warn"
	}
	guard := cfg.InputGuard
	if action == "off" {
		guard = nil
	} else if guard == nil {
		guard = NewInputGuard()
	}

	classifier := cfg.Classifier
	if classifier == nil && cfg.Provider != nil {
		classifier = NewClassifier(cfg.Provider, cfg.Model)
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	retries := cfg.ToolRetries
	if retries <= 0 {
		retries = defaultToolRetries
	}
	budget := cfg.LatencyBudgetMs
	if budget <= 0 {
		budget = defaultLatencyBudgetMs
	}

	var executor *tools.Executor
	if cfg.Registry != nil {
		executor = tools.NewExecutor(cfg.Registry)
	}

	return &Loop{
		id:              cfg.ID,
		provider:        cfg.Provider,
		model:           cfg.Model,
		registry:        cfg.Registry,
		executor:        executor,
		state:           cfg.State,
		entities:        cfg.Entities,
		sink:            cfg.Sink,
		classifier:      classifier,
		maxIterations:   maxIter,
		toolRetries:     retries,
		latencyBudgetMs: budget,
		inputGuard:      guard,
		injectionAction: action,
		tracer:          otel.Tracer("hearth/agent"),
	}
}

func (l *Loop) ID() string      { return l.id }
func (l *Loop) Model() string   { return l.model }
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Run executes one turn. Backend failures propagate; every guardrail path
// returns a sanitized result instead of an error.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	l.running.Store(true)
	defer l.running.Store(false)

	ctx, span := l.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agent.id", l.id),
			attribute.String("session.key", req.SessionKey),
		))
	defer span.End()

	if err := l.guardInput(req.Message); err != nil {
		return nil, err
	}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = l.maxIterations
	}

	// A pending critical action short-circuits the whole turn.
	if res, handled, err := l.resolvePendingAction(ctx, req); err != nil {
		return nil, err
	} else if handled {
		return res, nil
	}

	messages := make([]providers.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, providers.Message{Role: "user", Content: req.Message})

	st := &turnState{announce: WantsAnnouncement(req.Message)}

	for st.iterations = 1; st.iterations <= maxIter; st.iterations++ {
		resp, err := l.callModel(ctx, req, messages, st)
		if err != nil {
			return nil, err
		}

		text := strings.TrimSpace(resp.Content)
		if text != "" {
			st.lastText = text
		}

		if st.evidenceOnly {
			// Forced tool-free answer after a search stall.
			return l.finish(st, text, false), nil
		}

		if !resp.HasToolCalls() {
			res, retry := l.interpretToolless(ctx, req, text, st, &messages)
			if !retry {
				return res, nil
			}
			continue
		}

		res, retry, err := l.handleToolCalls(ctx, req, resp, st, &messages)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
		if retry {
			continue
		}
	}

	// Iteration limit is a defined exit, not a failure.
	slog.Warn("iteration limit reached",
		"agent", l.id, "session", req.SessionKey, "iterations", maxIter)
	text := st.lastText
	if text == "" {
		text = "I wasn't able to complete that request."
	}
	res := l.finish(st, text, false)
	res.Iterations = maxIter
	res.HitIterationLimit = true
	return res, nil
}

// turnState is the per-turn bookkeeping threaded through one Run.
type turnState struct {
	iterations   int
	lastText     string
	records      []tools.CallRecord
	announce     bool
	evidenceOnly bool

	proseRetries     int
	malformedRetries int
	routeChecks      int
	emptyNudged      bool

	searchSucceeded bool
	searchStalls    int
}

func (l *Loop) finish(st *turnState, text string, needsFollowup bool) *RunResult {
	return &RunResult{
		Content:       text,
		NeedsFollowup: needsFollowup,
		Iterations:    st.iterations,
		Records:       st.records,
		Announce:      st.announce,
	}
}

func (l *Loop) guardInput(message string) error {
	if l.inputGuard == nil || l.injectionAction == "off" {
		return nil
	}
	matches := l.inputGuard.Scan(message)
	if len(matches) == 0 {
		return nil
	}
	switch l.injectionAction {
	case "block":
		return fmt.Errorf("message rejected by input guard: %s", strings.Join(matches, ", "))
	case "log":
		slog.Info("input guard matched", "agent", l.id, "patterns", matches)
	default:
		slog.Warn("input guard matched", "agent", l.id, "patterns", matches)
	}
	return nil
}

// resolvePendingAction handles an outstanding critical action before any
// model call. Returns handled=true when the turn is fully resolved here.
func (l *Loop) resolvePendingAction(ctx context.Context, req RunRequest) (*RunResult, bool, error) {
	if req.SessionKey == "" || l.state == nil {
		return nil, false, nil
	}
	pending, err := l.state.GetPendingCriticalAction(ctx, req.SessionKey)
	if err != nil {
		return nil, false, fmt.Errorf("read pending action: %w", err)
	}
	if pending == nil {
		return nil, false, nil
	}

	decision := l.classifier.ClassifyConfirmation(ctx, req.Message, pending)
	slog.Info("pending action classified",
		"session", req.SessionKey,
		"tool", pending.ToolName,
		"decision", decision.Decision,
		"confidence", decision.Confidence,
	)

	switch {
	case decision.Decision == DecisionDeny:
		if err := l.state.ClearPendingCriticalAction(ctx, req.SessionKey); err != nil {
			return nil, false, fmt.Errorf("clear pending action: %w", err)
		}
		return &RunResult{Content: "Okay, I won't do that.", Iterations: 0}, true, nil

	case decision.Decision == DecisionConfirm && decision.Confidence != ConfidenceLow:
		if err := l.state.ClearPendingCriticalAction(ctx, req.SessionKey); err != nil {
			return nil, false, fmt.Errorf("clear pending action: %w", err)
		}
		return l.executePending(ctx, pending), true, nil

	default:
		// Unclear, or confirm without enough confidence: re-ask, keep pending.
		return &RunResult{
			Content:       confirmationPrompt(pending),
			NeedsFollowup: true,
			Iterations:    0,
		}, true, nil
	}
}

// executePending runs a confirmed critical action directly, bypassing the
// model for this step.
func (l *Loop) executePending(ctx context.Context, pending *sessions.PendingCriticalAction) *RunResult {
	if l.executor == nil {
		slog.Error("confirmed action has no tool registry", "tool", pending.ToolName)
		return &RunResult{Content: "Something went wrong performing that action.", Iterations: 0}
	}
	call := providers.ToolCall{
		ID:        uuid.NewString(),
		Name:      pending.ToolName,
		Arguments: pending.Arguments,
	}
	executions := l.executor.ExecuteBatch(ctx, []providers.ToolCall{call}, l.toolRetries, l.latencyBudgetMs)
	exec := executions[0]

	res := &RunResult{Iterations: 0, Records: []tools.CallRecord{exec.Record}}
	switch {
	case exec.Err != nil:
		slog.Error("confirmed action failed", "tool", pending.ToolName, "error", exec.Err)
		res.Content = "Something went wrong performing that action."
	case !exec.Result.Success:
		res.Content = "I couldn't complete that: " + exec.Result.Message
	default:
		res.Content = "Done. " + exec.Result.Message
	}
	return res
}

func confirmationPrompt(pending *sessions.PendingCriticalAction) string {
	return fmt.Sprintf("This is a sensitive action: %s %s. Should I go ahead? (yes/no)",
		pending.ToolName, tools.SummarizeArguments(pending.Arguments))
}

// callModel performs the model call for one iteration. The first iteration
// streams to the transcript sink when one is attached; streaming setup
// failure falls back to the blocking call within the same iteration.
func (l *Loop) callModel(ctx context.Context, req RunRequest, messages []providers.Message, st *turnState) (*providers.ChatResponse, error) {
	chatReq := providers.ChatRequest{
		Model:              l.model,
		Messages:           messages,
		CachedPrefixLength: req.CachedPrefixLength,
	}
	if st.evidenceOnly {
		chatReq.Messages = append(chatReq.Messages, providers.Message{
			Role:    "system",
			Content: "Answer now using only the information already gathered above. Do not call any tools.",
		})
	} else if l.registry != nil {
		chatReq.Tools = l.registry.ProviderDefs()
	}

	if st.iterations == 1 && l.sink != nil {
		resp, err := l.provider.ChatStream(ctx, chatReq, func(chunk providers.StreamChunk) {
			_ = l.sink.SendDelta(sink.Delta{
				Role:     "assistant",
				Content:  chunk.Content,
				Thinking: chunk.Thinking,
				Done:     chunk.Done,
			})
		})
		if err == nil {
			return resp, nil
		}
		slog.Warn("stream failed, using blocking call", "agent", l.id, "error", err)
	}

	resp, err := l.provider.Chat(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return resp, nil
}

// interpretToolless decides what to do with a response that carries no tool
// calls: accept it, or inject a corrective nudge and retry. retry=true means
// the caller should run another iteration.
func (l *Loop) interpretToolless(ctx context.Context, req RunRequest, text string, st *turnState, messages *[]providers.Message) (*RunResult, bool) {
	if LooksLikeProseToolCall(text) {
		if st.proseRetries < maxProseImitationRetries {
			st.proseRetries++
			l.injectNudge(messages, text,
				"You described a tool call instead of making one. Issue the actual structured tool call.")
			return nil, true
		}
		return l.finish(st, "I had trouble with that request. Could you rephrase it?", true), false
	}

	if text == "" && !st.emptyNudged {
		st.emptyNudged = true
		l.injectNudge(messages, text,
			"You returned an empty response. Use the available tools or answer the question.")
		return nil, true
	}

	if st.routeChecks < maxMissingRouteChecks {
		st.routeChecks++
		route := l.classifier.ClassifyRoute(ctx, req.Message)
		if route.NeedsRetry && route.Route != RouteNone {
			if IsRelativeIntent(req.Message) && !l.hasRecentEvent(route.Route) {
				// A relative adjustment with nothing recent to adjust is a
				// false positive; accept the text answer.
				return l.finish(st, text, false), false
			}
			slog.Info("missing route detected", "route", route.Route, "confidence", route.Confidence)
			l.injectNudge(messages, text, fmt.Sprintf(
				"The user asked for a %s action. Use the timer_alarm tool to perform it instead of just replying.",
				route.Route))
			return nil, true
		}
	}

	return l.finish(st, text, false), false
}

func (l *Loop) hasRecentEvent(kind string) bool {
	if l.entities == nil {
		return false
	}
	return l.entities.HasRecentEvent(kind, recentEventWindow)
}

// injectNudge appends the assistant's rejected output and a corrective system
// instruction so the retry can see both.
func (l *Loop) injectNudge(messages *[]providers.Message, assistantText, nudge string) {
	if assistantText != "" {
		*messages = append(*messages, providers.Message{Role: "assistant", Content: assistantText})
	}
	*messages = append(*messages, providers.Message{Role: "system", Content: nudge})
}

// handleToolCalls runs interpretation steps 4-8 for a response that carries
// tool calls. Exactly one of (res, retry) is meaningful: a non-nil res ends
// the turn; retry=true runs another iteration.
func (l *Loop) handleToolCalls(ctx context.Context, req RunRequest, resp *providers.ChatResponse, st *turnState, messages *[]providers.Message) (*RunResult, bool, error) {
	if hasMalformed(resp.ToolCalls) {
		if st.malformedRetries < maxMalformedRetries {
			st.malformedRetries++
			l.injectNudge(messages, resp.Content,
				"The previous tool call had malformed arguments. Retry it exactly once with well-formed JSON arguments.")
			return nil, true, nil
		}
		return l.finish(st, "I couldn't work out the details of that request. Could you say it differently?", true), false, nil
	}

	calls, signal := l.interceptSentinels(resp.ToolCalls)
	switch signal.kind {
	case tools.KindSentinelCancel:
		return l.finish(st, signal.message, false), false, nil
	case tools.KindSentinelAwait:
		if len(calls) == 0 {
			return l.awaitClarification(ctx, req, st, signal.message)
		}
		// Clarification alongside real work: the work wins.
		slog.Debug("dropping await_response issued alongside tool calls")
	}
	if len(calls) == 0 {
		return l.finish(st, st.lastText, false), false, nil
	}
	if l.executor == nil {
		slog.Warn("model issued tool calls but no tool registry is configured", "agent", l.id)
		return l.finish(st, "I don't have any tools available right now.", false), false, nil
	}

	// Critical-action gating: a sensitive call never executes in the turn
	// that proposed it.
	if res, err := l.gateCritical(ctx, req, calls, st); err != nil {
		return nil, false, err
	} else if res != nil {
		return res, false, nil
	}

	calls = NormalizeControlCalls(calls, l.entities)

	*messages = append(*messages, providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: calls,
	})
	l.sendDelta(sink.Delta{Role: "assistant", Content: resp.Content, ToolCalls: calls})

	executions := l.executor.ExecuteBatch(ctx, calls, l.toolRetries, l.latencyBudgetMs)

	anySuccess := false
	missingQuery := false
	for _, exec := range executions {
		st.records = append(st.records, exec.Record)

		content := toolMessageContent(exec)
		*messages = append(*messages, providers.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: exec.Call.ID,
		})
		l.sendDelta(sink.Delta{Role: "tool", Content: content})

		kind := tools.Classify(exec.Call.Name)
		if exec.Result != nil && exec.Result.Success {
			anySuccess = true
			if kind == tools.KindSearch {
				st.searchSucceeded = true
			}
		}
		if kind == tools.KindSearch && exec.Result != nil && !exec.Result.Success {
			if reason, _ := exec.Result.Data["reason"].(string); reason == tools.ReasonMissingQuery {
				missingQuery = true
			}
		}
	}

	if anySuccess && req.SessionKey != "" && l.state != nil {
		if err := l.state.ResetFollowup(ctx, req.SessionKey); err != nil {
			slog.Warn("reset followup counter failed", "error", err)
		}
	}

	// Search stall: repeated structural "missing query" failures after an
	// earlier success convert the retry loop into one evidence-only answer.
	if missingQuery && st.searchSucceeded {
		st.searchStalls++
	} else if !missingQuery {
		st.searchStalls = 0
	}
	if st.searchStalls >= searchStallThreshold {
		slog.Warn("search stall detected, forcing evidence-only answer", "agent", l.id)
		st.evidenceOnly = true
	}

	return nil, true, nil
}

// sentinelSignal is the loop-control outcome of sentinel interception.
type sentinelSignal struct {
	kind    tools.Kind
	message string
}

// interceptSentinels strips loop-control sentinel calls from the batch. A
// cancel signal dominates: the whole batch is discarded.
func (l *Loop) interceptSentinels(calls []providers.ToolCall) ([]providers.ToolCall, sentinelSignal) {
	signal := sentinelSignal{kind: tools.KindOther}
	rest := make([]providers.ToolCall, 0, len(calls))
	for _, call := range calls {
		kind := tools.Classify(call.Name)
		if !kind.IsSentinel() {
			rest = append(rest, call)
			continue
		}
		msg, _ := call.Arguments["message"].(string)
		if kind == tools.KindSentinelCancel {
			if dropped := len(calls) - 1; dropped > 0 {
				slog.Info("cancel signal discards batch", "dropped", dropped)
			}
			if msg == "" {
				msg = "Okay, cancelled."
			}
			return nil, sentinelSignal{kind: kind, message: msg}
		}
		// await_response
		if msg == "" {
			msg = "Could you give me a bit more detail?"
		}
		signal = sentinelSignal{kind: kind, message: msg}
	}
	return rest, signal
}

// awaitClarification ends the turn asking the user for input, guarded by the
// session's consecutive-clarification counter.
func (l *Loop) awaitClarification(ctx context.Context, req RunRequest, st *turnState, message string) (*RunResult, bool, error) {
	if req.SessionKey != "" && l.state != nil {
		count, err := l.state.IncrementFollowup(ctx, req.SessionKey)
		if err != nil {
			slog.Warn("followup counter unavailable", "error", err)
		} else if count > maxConsecutiveClarifications {
			if err := l.state.ResetFollowup(ctx, req.SessionKey); err != nil {
				slog.Warn("reset followup counter failed", "error", err)
			}
			return l.finish(st, "I'm not getting anywhere with this. Let's start over.", false), false, nil
		}
	}
	return l.finish(st, message, true), false, nil
}

// gateCritical intercepts the first critical call in the batch, stores it as
// the session's pending action, and turns the turn into a confirmation
// request. Returns nil when nothing in the batch is critical.
func (l *Loop) gateCritical(ctx context.Context, req RunRequest, calls []providers.ToolCall, st *turnState) (*RunResult, error) {
	if req.SessionKey == "" || l.state == nil {
		return nil, nil
	}
	for _, call := range calls {
		domains := l.criticalTargetDomains(call)
		if len(domains) == 0 {
			continue
		}
		pending := &sessions.PendingCriticalAction{
			ToolName:      call.Name,
			Arguments:     call.Arguments,
			CreatedAt:     st.iterations,
			TargetDomains: domains,
		}
		if err := l.state.SetPendingCriticalAction(ctx, req.SessionKey, pending); err != nil {
			return nil, fmt.Errorf("store pending action: %w", err)
		}
		slog.Info("critical action intercepted",
			"session", req.SessionKey, "tool", call.Name, "domains", domains)
		return l.finish(st, confirmationPrompt(pending), true), nil
	}
	return nil, nil
}

// criticalTargetDomains returns the sensitive domains a control call touches,
// or nil when the call is not critical.
func (l *Loop) criticalTargetDomains(call providers.ToolCall) []string {
	if tools.Classify(call.Name) != tools.KindControl {
		return nil
	}
	var domains []string
	for _, id := range tools.StringSliceArg(call.Arguments, "targets") {
		domain := l.domainOf(id)
		if criticalDomains[domain] {
			domains = append(domains, domain)
		}
	}
	return domains
}

func (l *Loop) domainOf(id string) string {
	if l.entities != nil {
		if e := l.entities.Get(id); e != nil && e.Domain != "" {
			return e.Domain
		}
	}
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}

func (l *Loop) sendDelta(delta sink.Delta) {
	if l.sink == nil {
		return
	}
	_ = l.sink.SendDelta(delta)
}

func hasMalformed(calls []providers.ToolCall) bool {
	for _, call := range calls {
		if call.Malformed {
			return true
		}
	}
	return false
}

// toolMessageContent serializes one execution outcome for the transcript.
// Errors are included so the model can react, but raw internals never reach
// the user directly.
func toolMessageContent(exec tools.Execution) string {
	if exec.Err != nil {
		return fmt.Sprintf("error: %v", exec.Err)
	}
	if exec.Result.Success {
		return exec.Result.Message
	}
	return "failed: " + exec.Result.Message
}
