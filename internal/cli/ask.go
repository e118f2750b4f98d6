package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/moviechat/internal/client"
	"github.com/raphaelgruber/moviechat/internal/language"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/spf13/cobra"
)

var (
	askDirect bool
	askServer string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question about movies",
	Long: `Ask one question and print the answer.

The question is answered by the agent, which searches the movie collection
as often as it needs. Questions in Indonesian are answered in Indonesian,
everything else in English.

Use --direct for a single retrieval-QA call without the agent, or --server
to ask a running moviechat server instead of the local stack.

Examples:
  moviechat ask "What is The Witch about?"
  moviechat ask "Film horor apa yang bagus?"
  moviechat ask "Best war movies of the 90s" --direct
  moviechat ask "Who directed Parasite?" --server http://localhost:8484`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askDirect, "direct", false, "single retrieval-QA call, no agent")
	askCmd.Flags().StringVar(&askServer, "server", "", "ask a moviechat server at this URL")
}

// answerView is an answer from any backend, ready to print.
type answerView struct {
	Answer    string
	Language  string
	Outcome   string
	ToolCalls int
	Sources   []string
}

func viewFromReply(r session.Reply) answerView {
	return answerView{
		Answer:    r.Answer,
		Language:  string(r.Language),
		Outcome:   string(r.Outcome),
		ToolCalls: r.ToolCalls,
		Sources:   sourceTitles(r.Sources),
	}
}

func viewFromClientReply(r *client.Reply) answerView {
	v := answerView{
		Answer:    r.Answer,
		Language:  r.Language,
		Outcome:   r.Outcome,
		ToolCalls: r.ToolCalls,
	}
	for _, s := range r.Sources {
		if t := s.Title; t != "" {
			v.Sources = append(v.Sources, t)
		}
	}
	return v
}

func sourceTitles(docs []vectorstore.Document) []string {
	var titles []string
	for _, d := range docs {
		if t := d.Title(); t != "" {
			titles = append(titles, t)
		}
	}
	return titles
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := args[0]
	ctx := cmd.Context()

	if askServer != "" {
		reply, err := client.New(askServer).Ask(ctx, question, nil)
		if err != nil {
			return fmt.Errorf("ask server: %w", err)
		}
		printAnswer(os.Stdout, viewFromClientReply(reply), verbose)
		return nil
	}

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	if askDirect {
		tag, instruction := a.Policy.Instruction(question)
		ans, err := a.QA.Ask(ctx, question+"\n"+instruction)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		printAnswer(os.Stdout, answerView{
			Answer:   ans.Text,
			Language: string(tag),
			Outcome:  "direct",
			Sources:  sourceTitles(ans.Sources),
		}, verbose)
		return nil
	}

	reply := session.Answer(ctx, a.Orchestrator, a.Policy, question, nil)
	printAnswer(os.Stdout, viewFromReply(reply), verbose)
	return nil
}

// printAnswer writes the answer, its sources and, when detailed, how it
// was produced.
func printAnswer(w io.Writer, v answerView, detailed bool) {
	fmt.Fprintln(w, strings.TrimSpace(v.Answer))
	if len(v.Sources) > 0 {
		fmt.Fprintf(w, "\nSources: %s\n", strings.Join(v.Sources, ", "))
	}
	if detailed {
		fmt.Fprintf(w, "\n[language=%s outcome=%s tool_calls=%d]\n", languageOrDefault(v.Language), v.Outcome, v.ToolCalls)
	}
}

func languageOrDefault(tag string) string {
	if tag == "" {
		return string(language.English)
	}
	return tag
}
