// Package agent answers one user turn with a bounded reasoning loop: the
// model either calls a movie tool or gives a final answer, and every
// failure becomes a fallback answer instead of an error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultMaxToolCalls    = 6
	DefaultMaxTurnDuration = 60 * time.Second
)

// ChatModel generates the next reply for a message sequence.
type ChatModel interface {
	Chat(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// Config bounds a turn. Zero values select the defaults.
type Config struct {
	MaxToolCalls    int
	MaxTurnDuration time.Duration
}

// Request is the input of one turn.
type Request struct {
	Query string
	// Context is the rendered conversation before this turn.
	Context string
	// Instruction tells the model which language to answer in.
	Instruction string
}

// Response is the result of one turn. Answer is never empty.
type Response struct {
	Answer    string
	Outcome   Outcome
	ToolCalls int
	Sources   []vectorstore.Document
	// Err is the failure behind a fallback answer, for logging only.
	Err error
}

// Orchestrator runs turns against a model and a fixed set of tools. It
// holds no per-turn state and is safe for concurrent use.
type Orchestrator struct {
	model   ChatModel
	tools   []Tool
	byName  map[string]Tool
	system  string
	cfg     Config
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates an Orchestrator.
func New(model ChatModel, tools []Tool, cfg Config, collector *metrics.Collector, logger *slog.Logger) *Orchestrator {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}
	if cfg.MaxTurnDuration <= 0 {
		cfg.MaxTurnDuration = DefaultMaxTurnDuration
	}
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}

	return &Orchestrator{
		model:   model,
		tools:   tools,
		byName:  byName,
		system:  systemPrompt(tools),
		cfg:     cfg,
		metrics: collector,
		logger:  logger,
	}
}

// Config returns the effective turn limits.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Answer runs one turn. It has no error return: model, tool, parse and
// timeout failures produce a fallback answer and are reported in
// Response.Err.
func (o *Orchestrator) Answer(ctx context.Context, req Request) Response {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.MaxTurnDuration)
	defer cancel()

	t := &turn{o: o, req: req, seen: make(map[string]bool)}
	resp := t.run(ctx)
	duration := time.Since(start)

	o.metrics.RecordTurn(string(resp.Outcome), duration, resp.ToolCalls)
	attrs := []any{"outcome", resp.Outcome, "tool_calls", resp.ToolCalls, "duration_ms", duration.Milliseconds()}
	if resp.Err != nil {
		o.logger.Warn("turn failed", append(attrs, "error", resp.Err)...)
	} else {
		o.logger.Info("turn complete", attrs...)
	}
	return resp
}

// turn is the state of one Answer call.
type turn struct {
	o         *Orchestrator
	req       Request
	human     string
	state     State
	steps     []step
	toolCalls int
	sources   []vectorstore.Document
	seen      map[string]bool
}

func (t *turn) transition(s State) {
	t.o.logger.Debug("agent state", "from", t.state, "to", s, "tool_calls", t.toolCalls)
	t.state = s
}

func (t *turn) run(ctx context.Context) Response {
	human, err := humanMessage(t.req)
	if err != nil {
		return t.fail(ctx, fmt.Errorf("render prompt: %w", err))
	}
	t.human = human

	for {
		t.transition(StateReasoning)
		action, output, err := t.reason(ctx)
		if err != nil {
			return t.fail(ctx, err)
		}
		if action.Final {
			return t.respond(action.Answer, OutcomeAnswered, nil)
		}
		if t.toolCalls >= t.o.cfg.MaxToolCalls {
			return t.force(ctx)
		}

		t.transition(StateToolInvoking)
		if err := t.invoke(ctx, action, output); err != nil {
			return t.fail(ctx, err)
		}
	}
}

// reason asks the model for the next action. Output that does not parse
// gets exactly one corrective retry.
func (t *turn) reason(ctx context.Context) (Action, string, error) {
	output, err := t.chat(ctx)
	if err != nil {
		return Action{}, "", err
	}
	action, err := ParseAction(output)
	if err == nil {
		return action, output, nil
	}

	t.o.logger.Warn("unparsable model output, retrying", "error", err)
	output, err = t.chat(ctx, correction(output, err)...)
	if err != nil {
		return Action{}, "", err
	}
	action, err = ParseAction(output)
	if err != nil {
		return Action{}, "", err
	}
	return action, output, nil
}

func (t *turn) invoke(ctx context.Context, action Action, output string) error {
	t.toolCalls++

	tool, ok := t.o.byName[action.Tool]
	if !ok {
		t.o.logger.Warn("model requested unknown tool", "tool", action.Tool)
		t.steps = append(t.steps, step{
			output:      output,
			observation: fmt.Sprintf("%s is not a valid tool, try one of [%s].", action.Tool, t.toolNames()),
		})
		return nil
	}

	input := action.Input
	if strings.TrimSpace(input) == "" {
		input = t.req.Query
	}

	start := time.Now()
	obs, err := runStep(ctx, func(ctx context.Context) (Observation, error) {
		return tool.Run(ctx, input)
	})
	duration := time.Since(start)
	if err != nil {
		t.o.metrics.RecordFailure(metrics.OpToolCall, duration)
		return err
	}
	t.o.metrics.RecordTiming(metrics.OpToolCall, duration)
	t.o.logger.Debug("tool call", "tool", tool.Name(), "input", input, "sources", len(obs.Sources), "duration_ms", duration.Milliseconds())

	t.addSources(obs.Sources)
	t.steps = append(t.steps, step{output: output, observation: obs.Text})
	return nil
}

// force runs the final-answer step after the tool budget is spent. The
// answer is synthesized from the observations when the model still does
// not give one.
func (t *turn) force(ctx context.Context) Response {
	t.o.logger.Info("tool call limit reached, forcing final answer", "tool_calls", t.toolCalls)
	t.transition(StateReasoning)

	output, err := t.chat(ctx, llms.TextParts(llms.ChatMessageTypeHuman, forceAnswerPrompt))
	if err != nil {
		if timedOut(ctx) {
			return t.fail(ctx, err)
		}
		return t.respond(t.synthesize(), OutcomeForced, err)
	}
	if action, err := ParseAction(output); err == nil && action.Final {
		return t.respond(action.Answer, OutcomeForced, nil)
	}
	return t.respond(t.synthesize(), OutcomeForced, nil)
}

func (t *turn) synthesize() string {
	if len(t.sources) == 0 {
		return "I could not find a confident answer to your question in the movie database."
	}
	var b strings.Builder
	b.WriteString("I could not finish my search, but these movies looked most relevant:")
	for _, doc := range t.sources {
		year, _ := doc.Metadata[vectorstore.FieldYear].(string)
		fmt.Fprintf(&b, "\n- %s", doc.Title())
		if year != "" {
			fmt.Fprintf(&b, " (%s)", year)
		}
	}
	return b.String()
}

func (t *turn) fail(ctx context.Context, err error) Response {
	outcome := OutcomeError
	if timedOut(ctx) {
		outcome = OutcomeTimeout
		err = fmt.Errorf("%w after %s: %w", ErrTurnTimeout, t.o.cfg.MaxTurnDuration, err)
	}
	return t.respond(FallbackAnswer(err), outcome, err)
}

func (t *turn) respond(answer string, outcome Outcome, err error) Response {
	t.transition(StateResponding)
	resp := Response{
		Answer:    answer,
		Outcome:   outcome,
		ToolCalls: t.toolCalls,
		Sources:   t.sources,
		Err:       err,
	}
	t.transition(StateIdle)
	return resp
}

func (t *turn) chat(ctx context.Context, extra ...llms.MessageContent) (string, error) {
	msgs := buildMessages(t.o.system, t.human, t.steps, extra...)
	return runStep(ctx, func(ctx context.Context) (string, error) {
		return t.o.model.Chat(ctx, msgs)
	})
}

func (t *turn) addSources(docs []vectorstore.Document) {
	for _, doc := range docs {
		key, _ := doc.Metadata[vectorstore.FieldID].(string)
		if key == "" {
			key = doc.Content
		}
		if t.seen[key] {
			continue
		}
		t.seen[key] = true
		t.sources = append(t.sources, doc)
	}
}

func (t *turn) toolNames() string {
	names := make([]string, len(t.o.tools))
	for i, tool := range t.o.tools {
		names[i] = tool.Name()
	}
	return strings.Join(names, ", ")
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// runStep runs fn in its own goroutine and stops waiting when ctx is done,
// so a model or tool that ignores cancellation cannot stall the turn.
func runStep[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{value: zero, err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
