package graph

import (
	"fmt"
	"sort"

	"github.com/raphaelgruber/moviechat/internal/memory"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

// replyToGraphQL converts a session.Reply to a GraphQL Reply.
func replyToGraphQL(r session.Reply) *Reply {
	out := &Reply{
		Answer:    r.Answer,
		Language:  string(r.Language),
		Outcome:   string(r.Outcome),
		ToolCalls: r.ToolCalls,
		Sources:   make([]Source, 0, len(r.Sources)),
	}
	if r.SessionID != "" {
		id := r.SessionID
		out.SessionID = &id
	}
	for _, doc := range r.Sources {
		out.Sources = append(out.Sources, sourceToGraphQL(doc))
	}
	return out
}

func sourceToGraphQL(doc vectorstore.Document) Source {
	p := vectorstore.PayloadFromMap(doc.Metadata)
	id, _ := doc.Metadata[vectorstore.FieldID].(string)
	return Source{
		ID:       id,
		Title:    p.Title,
		Year:     p.Year,
		Genre:    p.Genre,
		Rating:   p.Rating,
		Overview: p.Overview,
		Content:  doc.Content,
	}
}

func turnsToGraphQL(turns []memory.Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = Turn{Role: string(t.Role), Content: t.Content}
	}
	return out
}

// turnsFromInput validates roles and converts prior turns for memory.
func turnsFromInput(in []TurnInput) ([]memory.Turn, error) {
	out := make([]memory.Turn, len(in))
	for i, t := range in {
		role, err := memory.ParseRole(t.Role)
		if err != nil {
			return nil, fmt.Errorf("priorTurns[%d]: %w", i, err)
		}
		out[i] = memory.Turn{Role: role, Content: t.Content}
	}
	return out, nil
}

// statsToGraphQL converts a collector snapshot to GraphQL ServerStats.
func statsToGraphQL(sessions int, snap metrics.Snapshot) *ServerStats {
	out := &ServerStats{
		Sessions:      sessions,
		UptimeSeconds: snap.UptimeSeconds,
		Embedding:     opToGraphQL(snap.Embedding),
		LLMGenerate:   opToGraphQL(snap.LLMGenerate),
		VectorSearch:  opToGraphQL(snap.VectorSearch),
		VectorUpsert:  opToGraphQL(snap.VectorUpsert),
		ToolCall:      opToGraphQL(snap.ToolCall),
		Turn:          opToGraphQL(snap.Turn),
		Outcomes:      make([]OutcomeCount, 0, len(snap.Outcomes)),
		ToolCalls:     snap.ToolCalls,
	}
	for outcome, n := range snap.Outcomes {
		out.Outcomes = append(out.Outcomes, OutcomeCount{Outcome: outcome, Count: n})
	}
	sort.Slice(out.Outcomes, func(i, j int) bool {
		return out.Outcomes[i].Outcome < out.Outcomes[j].Outcome
	})
	return out
}

func opToGraphQL(s *metrics.OperationSnapshot) *OperationStats {
	if s == nil {
		return nil
	}
	return &OperationStats{
		Count:             s.Count,
		Errors:            s.Errors,
		TotalTimeMs:       s.TotalTimeMs,
		AvgTimeMs:         s.AvgTimeMs,
		MinTimeMs:         s.MinTimeMs,
		MaxTimeMs:         s.MaxTimeMs,
		TotalInputTokens:  s.TotalInputTokens,
		TotalOutputTokens: s.TotalOutputTokens,
		AvgInputTokens:    s.AvgInputTokens,
		AvgOutputTokens:   s.AvgOutputTokens,
		MinInputTokens:    s.MinInputTokens,
		MaxInputTokens:    s.MaxInputTokens,
		MinOutputTokens:   s.MinOutputTokens,
		MaxOutputTokens:   s.MaxOutputTokens,
	}
}
