package agent

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

const systemPrefix = `You are a friendly movie assistant for the IMDB Top 1000 movie dataset.
You understand questions in many languages.
When the user asks a follow-up such as "who directed it?" or "what is its rating?", it refers to the film discussed most recently in the conversation.
Look movies up with the tools instead of answering from memory, and never invent titles the tools did not return.
If the tools do not return a matching movie, say so honestly.`

const formatInstructions = `RESPONSE FORMAT
---------------
Reply with exactly one markdown code block holding a JSON blob in one of two forms.

To use a tool:
` + "```json" + `
{"action": "<tool name>", "action_input": "<tool input>"}
` + "```" + `

To answer the user:
` + "```json" + `
{"action": "Final Answer", "action_input": "<your answer>"}
` + "```"

const humanTemplate = `{{if .history}}Conversation so far:
{{.history}}

{{end}}user: {{.query}}
{{.instruction}}`

const observationTemplate = `TOOL RESPONSE:
---------------------
%s

Use the tool response to answer the user, or call a tool again if you need more information. Remember to reply with the JSON blob.`

const correctionTemplate = `Your last reply could not be parsed (%v).
Reply again with exactly one JSON blob as described in RESPONSE FORMAT.`

const forceAnswerPrompt = `You have used all available tool calls for this question.
Reply now with the "Final Answer" JSON blob, using only the tool responses above.`

var humanPrompt = prompts.NewPromptTemplate(humanTemplate, []string{"history", "query", "instruction"})

// systemPrompt describes the assistant, its tools and the reply format.
func systemPrompt(tools []Tool) string {
	var b strings.Builder
	b.WriteString(systemPrefix)
	b.WriteString("\n\nTOOLS\n-----\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "> %s: %s\n", t.Name(), t.Description())
	}
	b.WriteString("\n")
	b.WriteString(formatInstructions)
	return b.String()
}

// humanMessage renders the user's request with conversation context and the
// answer-language instruction.
func humanMessage(req Request) (string, error) {
	return humanPrompt.Format(map[string]any{
		"history":     req.Context,
		"query":       req.Query,
		"instruction": req.Instruction,
	})
}

// step is one completed tool invocation.
type step struct {
	output      string
	observation string
}

// buildMessages assembles the conversation for the next reasoning call:
// system, request, the scratchpad of completed steps, then any extra
// messages for this call.
func buildMessages(system, human string, steps []step, extra ...llms.MessageContent) []llms.MessageContent {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}
	for _, s := range steps {
		msgs = append(msgs,
			llms.TextParts(llms.ChatMessageTypeAI, s.output),
			llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(observationTemplate, s.observation)),
		)
	}
	return append(msgs, extra...)
}

// correction asks the model to repeat a reply that failed to parse.
func correction(output string, err error) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeAI, output),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(correctionTemplate, err)),
	}
}
