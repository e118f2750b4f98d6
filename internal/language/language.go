// Package language detects the language of a user query and chooses the
// instruction that tells the model which language to answer in.
package language

import (
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// Tag is an ISO 639-1 language code.
type Tag string

const (
	Indonesian Tag = "id"
	English    Tag = "en"
)

const (
	IndonesianInstruction = "Jawab dalam Bahasa Indonesia."
	EnglishInstruction    = "Answer in English."
)

// ErrUndetermined is returned when the language cannot be detected.
var ErrUndetermined = errors.New("language undetermined")

// minLetters is the shortest input the detector will classify.
const minLetters = 3

// Detector classifies text by language.
type Detector interface {
	Detect(text string) (Tag, error)
}

// candidates restricts detection to languages users are expected to write
// in. Javanese, Malay and Tagalog are left out so short Indonesian queries
// are not classified as a close neighbour.
var candidates = map[whatlanggo.Lang]Tag{
	whatlanggo.Ind: Indonesian,
	whatlanggo.Eng: English,
	whatlanggo.Deu: "de",
	whatlanggo.Fra: "fr",
	whatlanggo.Spa: "es",
	whatlanggo.Nld: "nl",
	whatlanggo.Por: "pt",
	whatlanggo.Ita: "it",
}

// WhatlangDetector is a trigram detector backed by whatlanggo.
type WhatlangDetector struct {
	options whatlanggo.Options
}

// NewDetector creates a WhatlangDetector over the supported languages.
func NewDetector() *WhatlangDetector {
	whitelist := make(map[whatlanggo.Lang]bool, len(candidates))
	for lang := range candidates {
		whitelist[lang] = true
	}
	return &WhatlangDetector{options: whatlanggo.Options{Whitelist: whitelist}}
}

// Detect returns the language of text, or ErrUndetermined for empty,
// too short or unclassifiable input.
func (d *WhatlangDetector) Detect(text string) (Tag, error) {
	if countLetters(text) < minLetters {
		return "", ErrUndetermined
	}
	info := whatlanggo.DetectWithOptions(text, d.options)
	tag, ok := candidates[info.Lang]
	if !ok {
		return "", ErrUndetermined
	}
	return tag, nil
}

func countLetters(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// InstructionFor maps a tag to the answer-language instruction. Only
// Indonesian gets its own instruction; everything else is answered in
// English.
func InstructionFor(tag Tag) string {
	if Tag(strings.ToLower(string(tag))) == Indonesian {
		return IndonesianInstruction
	}
	return EnglishInstruction
}

// Policy detects the query language and returns the instruction to
// append to the prompt.
type Policy struct {
	detector Detector
	logger   *slog.Logger
}

// NewPolicy creates a Policy. A nil detector selects NewDetector.
func NewPolicy(detector Detector, logger *slog.Logger) *Policy {
	if detector == nil {
		detector = NewDetector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{detector: detector, logger: logger}
}

// Instruction returns the detected tag (English on failure) and the
// instruction for it. Detection failure never fails the turn.
func (p *Policy) Instruction(query string) (Tag, string) {
	tag, err := p.detector.Detect(query)
	if err != nil {
		p.logger.Debug("language detection failed, defaulting to english", "error", err)
		return English, EnglishInstruction
	}
	return tag, InstructionFor(tag)
}
