package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const finalAnswerAction = "Final Answer"

// Action is a parsed reasoning step: either a tool call or a final answer.
type Action struct {
	Tool   string
	Input  string
	Final  bool
	Answer string
}

type actionBlob struct {
	Action      string          `json:"action"`
	ActionInput json.RawMessage `json:"action_input"`
}

var (
	fencedBlock     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	reactFinal      = regexp.MustCompile(`(?s)Final Answer:\s*(.*)$`)
	reactAction     = regexp.MustCompile(`Action:\s*(.+)`)
	reactInput      = regexp.MustCompile(`(?s)Action Input:\s*(.*)$`)
	finalActionName = regexp.MustCompile(`(?i)^final[ _]?answer$`)
)

// ParseAction reads model output as a JSON action blob, fenced or bare,
// falling back to the ReAct "Action:" / "Final Answer:" text form. Output
// matching neither wraps ErrToolParse.
func ParseAction(output string) (Action, error) {
	text := strings.TrimSpace(output)
	if text == "" {
		return Action{}, fmt.Errorf("%w: empty model output", ErrToolParse)
	}

	if blob, ok := extractJSON(text); ok {
		action, err := parseBlob(blob)
		if err == nil {
			return action, nil
		}
		if !hasReActMarkers(text) {
			return Action{}, err
		}
	}

	return parseReAct(text)
}

func extractJSON(text string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func parseBlob(blob string) (Action, error) {
	var raw actionBlob
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return Action{}, fmt.Errorf("%w: invalid json: %w", ErrToolParse, err)
	}
	name := strings.TrimSpace(raw.Action)
	if name == "" {
		return Action{}, fmt.Errorf("%w: missing action", ErrToolParse)
	}
	input := decodeInput(raw.ActionInput)

	if finalActionName.MatchString(name) {
		if strings.TrimSpace(input) == "" {
			return Action{}, fmt.Errorf("%w: empty final answer", ErrToolParse)
		}
		return Action{Final: true, Answer: strings.TrimSpace(input)}, nil
	}
	return Action{Tool: name, Input: strings.TrimSpace(input)}, nil
}

// decodeInput accepts a string, or an object carrying a query, or any other
// JSON value verbatim.
func decodeInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"query", "question", "input"} {
			if v, ok := obj[key].(string); ok {
				return v
			}
		}
	}
	return string(raw)
}

func hasReActMarkers(text string) bool {
	return strings.Contains(text, "Final Answer:") || strings.Contains(text, "Action:")
}

func parseReAct(text string) (Action, error) {
	if m := reactFinal.FindStringSubmatch(text); m != nil {
		answer := strings.TrimSpace(m[1])
		if answer == "" {
			return Action{}, fmt.Errorf("%w: empty final answer", ErrToolParse)
		}
		return Action{Final: true, Answer: answer}, nil
	}

	action := reactAction.FindStringSubmatch(text)
	input := reactInput.FindStringSubmatch(text)
	if action == nil || input == nil {
		return Action{}, fmt.Errorf("%w: no action or final answer in %q", ErrToolParse, abbreviate(text, 80))
	}
	return Action{
		Tool:  strings.TrimSpace(action[1]),
		Input: strings.Trim(strings.TrimSpace(input[1]), `"`),
	}, nil
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
