package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
)

const qaTemplate = `You are a movie expert answering questions about films from the IMDB dataset.
Use only the movies below to answer. If they do not contain the answer, say you don't know.

{{.context}}

Question: {{.question}}
Answer:`

const (
	qaOutputKey    = "text"
	qaSourcesKey   = "source_documents"
	qaDocSeparator = "\n---\n"
)

// ErrEmptyQuestion is returned by QA.Ask for a blank question.
var ErrEmptyQuestion = errors.New("empty question")

// Answer is the result of a retrieval-QA call.
type Answer struct {
	Text    string
	Sources []vectorstore.Document
}

// QA answers a question in a single model call over the retrieved movies.
type QA struct {
	chain chains.RetrievalQA
}

// NewQA builds a stuff-documents QA chain over r using k documents per
// question (the retriever default when k <= 0).
func NewQA(model llms.Model, r *Retriever, k int) *QA {
	prompt := prompts.NewPromptTemplate(qaTemplate, []string{"context", "question"})
	stuff := chains.NewStuffDocuments(chains.NewLLMChain(model, prompt))
	stuff.Separator = qaDocSeparator

	chain := chains.NewRetrievalQA(stuff, documentRetriever{retriever: r, k: k})
	chain.ReturnSourceDocuments = true
	return &QA{chain: chain}
}

// Ask retrieves movies for question and answers it from them.
func (q *QA) Ask(ctx context.Context, question string) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, ErrEmptyQuestion
	}

	out, err := chains.Call(ctx, q.chain, map[string]any{"query": question})
	if err != nil {
		return Answer{}, fmt.Errorf("retrieval qa: %w", err)
	}

	text, _ := out[qaOutputKey].(string)
	docs, _ := out[qaSourcesKey].([]schema.Document)

	sources := make([]vectorstore.Document, len(docs))
	for i, d := range docs {
		sources[i] = vectorstore.Document{Content: d.PageContent, Metadata: d.Metadata}
	}
	return Answer{Text: strings.TrimSpace(text), Sources: sources}, nil
}

// documentRetriever adapts Retriever to schema.Retriever.
type documentRetriever struct {
	retriever *Retriever
	k         int
}

func (d documentRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	scored, err := d.retriever.RetrieveScored(ctx, query, d.k)
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, len(scored))
	for i, s := range scored {
		docs[i] = schema.Document{
			PageContent: s.Content,
			Metadata:    s.Metadata,
			Score:       s.Score,
		}
	}
	return docs, nil
}

var _ schema.Retriever = documentRetriever{}
