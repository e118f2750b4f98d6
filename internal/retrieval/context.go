package retrieval

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

// DefaultContextChars bounds the context block when no limit is given.
const DefaultContextChars = 4000

const (
	contextSeparator = "\n---\n"
	truncatedMarker  = "\n[context truncated]"
	noResults        = "No matching movies found."
)

// BuildContext formats documents into a numbered context block for the
// model. The block never exceeds maxChars (DefaultContextChars when <= 0);
// when documents are cut off the block ends with a truncation marker.
func BuildContext(docs []vectorstore.Document, maxChars int) string {
	if len(docs) == 0 {
		return noResults
	}
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}

	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		parts = append(parts, fmt.Sprintf("[%d] %s", i+1, doc.Content))
	}
	block := strings.Join(parts, contextSeparator)
	if len(block) <= maxChars {
		return block
	}

	limit := maxChars - len(truncatedMarker)
	if limit < 0 {
		return truncatedMarker[:maxChars]
	}
	return truncateUTF8(block, limit) + truncatedMarker
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
