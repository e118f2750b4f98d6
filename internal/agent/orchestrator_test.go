package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/moviechat/internal/llm"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel replies with the scripted outputs in order and repeats the
// last one once the script runs out.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	delay   time.Duration
	calls   int
	seen    [][]llms.MessageContent
}

func (s *scriptedModel) Chat(_ context.Context, msgs []llms.MessageContent) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, msgs)
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	i := s.calls - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func (s *scriptedModel) lastMessages() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return messagesText(s.seen[len(s.seen)-1])
}

func messagesText(msgs []llms.MessageContent) string {
	var b strings.Builder
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				b.WriteString(text.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// stubTool returns a fixed observation and counts its invocations.
type stubTool struct {
	obs    Observation
	err    error
	calls  atomic.Int32
	mu     sync.Mutex
	inputs []string
}

func (s *stubTool) Name() string        { return SearchToolName }
func (s *stubTool) Description() string { return "Searches movies." }

func (s *stubTool) Run(_ context.Context, input string) (Observation, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()
	return s.obs, s.err
}

func (s *stubTool) Call(ctx context.Context, input string) (string, error) {
	obs, err := s.Run(ctx, input)
	return obs.Text, err
}

func toolCall(input string) string {
	return fmt.Sprintf("```json\n{\"action\": \"search_movies\", \"action_input\": %q}\n```", input)
}

func finalAnswer(answer string) string {
	return fmt.Sprintf("```json\n{\"action\": \"Final Answer\", \"action_input\": %q}\n```", answer)
}

func witchObservation() Observation {
	doc := vectorstore.NewDocument("3f1c0a52-0000-4000-8000-000000000001", vectorstore.MoviePayload{
		Title: "The Witch", Year: "2015", Genre: "Horror", Rating: 6.9,
		Overview: "A Puritan family is torn apart by witchcraft.",
	})
	return Observation{Text: "[1] " + doc.Content, Sources: []vectorstore.Document{doc}}
}

func request(query string) Request {
	return Request{Query: query, Instruction: "Answer in English."}
}

func TestAnswerDirect(t *testing.T) {
	model := &scriptedModel{replies: []string{finalAnswer("Hi! Ask me about movies.")}}
	tool := &stubTool{}
	o := New(model, []Tool{tool}, Config{}, nil, nil)

	resp := o.Answer(context.Background(), Request{
		Query:       "hello",
		Context:     "user: earlier question\nassistant: earlier answer",
		Instruction: "Answer in English.",
	})

	assert.Equal(t, "Hi! Ask me about movies.", resp.Answer)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Zero(t, resp.ToolCalls)
	assert.NoError(t, resp.Err)
	assert.Zero(t, tool.calls.Load())

	prompt := model.lastMessages()
	assert.Contains(t, prompt, "> search_movies: Searches movies.")
	assert.Contains(t, prompt, "Conversation so far:\nuser: earlier question")
	assert.Contains(t, prompt, "user: hello\nAnswer in English.")
}

func TestAnswerToolThenAnswer(t *testing.T) {
	model := &scriptedModel{replies: []string{
		toolCall("puritan family film"),
		finalAnswer("That is The Witch (2015)."),
	}}
	tool := &stubTool{obs: witchObservation()}
	o := New(model, []Tool{tool}, Config{}, nil, nil)

	resp := o.Answer(context.Background(), request("Who directed a film about a Puritan family?"))

	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, "That is The Witch (2015).", resp.Answer)
	assert.Equal(t, 1, resp.ToolCalls)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "The Witch", resp.Sources[0].Title())
	assert.Equal(t, []string{"puritan family film"}, tool.inputs)

	second := model.lastMessages()
	assert.Contains(t, second, "TOOL RESPONSE:")
	assert.Contains(t, second, "A Puritan family is torn apart")
}

func TestAnswerEmptyToolInputUsesQuery(t *testing.T) {
	model := &scriptedModel{replies: []string{toolCall(""), finalAnswer("done")}}
	tool := &stubTool{obs: witchObservation()}
	o := New(model, []Tool{tool}, Config{}, nil, nil)

	o.Answer(context.Background(), request("witch movies"))
	assert.Equal(t, []string{"witch movies"}, tool.inputs)
}

func TestAnswerStopsAtToolLimit(t *testing.T) {
	model := &scriptedModel{replies: []string{toolCall("again")}}
	tool := &stubTool{obs: witchObservation()}
	o := New(model, []Tool{tool}, Config{}, nil, nil)

	resp := o.Answer(context.Background(), request("loop forever"))

	assert.Equal(t, OutcomeForced, resp.Outcome)
	assert.Equal(t, DefaultMaxToolCalls, resp.ToolCalls)
	assert.Equal(t, int32(DefaultMaxToolCalls), tool.calls.Load())
	assert.NotEmpty(t, strings.TrimSpace(resp.Answer))
	assert.Contains(t, resp.Answer, "The Witch (2015)")
	assert.Contains(t, model.lastMessages(), "You have used all available tool calls")
}

func TestAnswerForcedFinalAnswer(t *testing.T) {
	replies := make([]string, 0, 4)
	for i := 0; i < 2; i++ {
		replies = append(replies, toolCall("again"))
	}
	replies = append(replies, toolCall("one more"), finalAnswer("Best guess: The Witch."))
	model := &scriptedModel{replies: replies}
	o := New(model, []Tool{&stubTool{obs: witchObservation()}}, Config{MaxToolCalls: 2}, nil, nil)

	resp := o.Answer(context.Background(), request("q"))

	assert.Equal(t, OutcomeForced, resp.Outcome)
	assert.Equal(t, 2, resp.ToolCalls)
	assert.Equal(t, "Best guess: The Witch.", resp.Answer)
}

func TestAnswerForcedWithoutSources(t *testing.T) {
	model := &scriptedModel{replies: []string{toolCall("x")}}
	o := New(model, []Tool{&stubTool{obs: Observation{Text: "No matching movies found."}}}, Config{MaxToolCalls: 1}, nil, nil)

	resp := o.Answer(context.Background(), request("q"))
	assert.Equal(t, OutcomeForced, resp.Outcome)
	assert.NotEmpty(t, resp.Answer)
}

func TestAnswerTimeout(t *testing.T) {
	model := &scriptedModel{replies: []string{finalAnswer("too late")}, delay: 2 * time.Second}
	o := New(model, nil, Config{MaxTurnDuration: 50 * time.Millisecond}, nil, nil)

	start := time.Now()
	resp := o.Answer(context.Background(), request("slow"))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, OutcomeTimeout, resp.Outcome)
	assert.ErrorIs(t, resp.Err, ErrTurnTimeout)
	assert.True(t, strings.HasPrefix(resp.Answer, "An error occurred: "), resp.Answer)
}

func TestAnswerParseRetry(t *testing.T) {
	t.Run("recovers after one retry", func(t *testing.T) {
		model := &scriptedModel{replies: []string{"I think it is The Witch.", finalAnswer("The Witch (2015).")}}
		o := New(model, nil, Config{}, nil, nil)

		resp := o.Answer(context.Background(), request("q"))
		assert.Equal(t, OutcomeAnswered, resp.Outcome)
		assert.Equal(t, "The Witch (2015).", resp.Answer)
		assert.Equal(t, 2, model.calls)
		assert.Contains(t, model.lastMessages(), "could not be parsed")
	})

	t.Run("gives up after the retry", func(t *testing.T) {
		model := &scriptedModel{replies: []string{"no json here", "still no json"}}
		o := New(model, nil, Config{}, nil, nil)

		resp := o.Answer(context.Background(), request("q"))
		assert.Equal(t, OutcomeError, resp.Outcome)
		assert.ErrorIs(t, resp.Err, ErrToolParse)
		assert.Equal(t, 2, model.calls)
		assert.True(t, strings.HasPrefix(resp.Answer, "An error occurred: "))
	})
}

func TestAnswerModelError(t *testing.T) {
	model := &scriptedModel{err: fmt.Errorf("%w: 503 service unavailable", llm.ErrLanguageModel)}
	o := New(model, nil, Config{}, nil, nil)

	resp := o.Answer(context.Background(), request("q"))
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.ErrorIs(t, resp.Err, llm.ErrLanguageModel)
	assert.Equal(t, "An error occurred: the language model request failed", resp.Answer)
}

func TestAnswerToolError(t *testing.T) {
	model := &scriptedModel{replies: []string{toolCall("witch")}}
	tool := &stubTool{err: fmt.Errorf("search movies: %w", vectorstore.ErrStoreUnavailable)}
	o := New(model, []Tool{tool}, Config{}, nil, nil)

	resp := o.Answer(context.Background(), request("q"))
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.ErrorIs(t, resp.Err, vectorstore.ErrStoreUnavailable)
	assert.Equal(t, "An error occurred: the movie database is unavailable", resp.Answer)
}

func TestAnswerUnknownTool(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"action": "imdb_lookup", "action_input": "witch"}`,
		finalAnswer("ok"),
	}}
	o := New(model, []Tool{&stubTool{}}, Config{}, nil, nil)

	resp := o.Answer(context.Background(), request("q"))
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, 1, resp.ToolCalls)
	assert.Contains(t, model.lastMessages(), "imdb_lookup is not a valid tool, try one of [search_movies].")
}

func TestAnswerRecordsMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	model := &scriptedModel{replies: []string{toolCall("witch"), finalAnswer("The Witch")}}
	o := New(model, []Tool{&stubTool{obs: witchObservation()}}, Config{}, collector, nil)

	// The second turn answers directly since the script repeats its last reply.
	o.Answer(context.Background(), request("q"))
	o.Answer(context.Background(), request("q"))

	snap := collector.Snapshot()
	assert.Equal(t, int64(2), snap.Outcomes[string(OutcomeAnswered)])
	assert.Equal(t, int64(1), snap.ToolCalls)
	require.NotNil(t, snap.ToolCall)
	assert.Equal(t, int64(1), snap.ToolCall.Count)
	require.NotNil(t, snap.Turn)
	assert.Equal(t, int64(2), snap.Turn.Count)
}

func TestAnswerParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &scriptedModel{replies: []string{finalAnswer("x")}, delay: 100 * time.Millisecond}
	o := New(model, nil, Config{}, nil, nil)

	resp := o.Answer(ctx, request("q"))
	assert.Equal(t, OutcomeError, resp.Outcome)
	assert.True(t, errors.Is(resp.Err, context.Canceled))
}
