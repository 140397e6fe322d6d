package answer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/docqa/core"
)

// RefusalAnswer is returned when the sources are not close enough to answer.
// The generator is instructed to use the same string.
const RefusalAnswer = "I don't know."

// SystemInstruction restricts the generator to the supplied sources.
const SystemInstruction = "You are a careful assistant. Answer the question using only the numbered sources provided. " +
	"Cite sources as [source N] where helpful. " +
	"If the sources do not contain enough information to answer, reply with exactly: " + RefusalAnswer

// IntentCues mark a question as being about "the" document, which scopes an
// otherwise unscoped question to the most recently created document.
var IntentCues = []string{"summarize", "summary", "this pdf", "the pdf", "this document", "the document"}

// Policy holds the guardrail thresholds.
type Policy struct {
	// ScopedMaxDistance applies when the question is scoped to one document.
	ScopedMaxDistance float64
	// UnscopedMaxDistance applies to a search across all documents.
	UnscopedMaxDistance float64
	// DefaultK is the number of sources front ends request by default.
	DefaultK int
	// AllowUnscoped searches every document when no scope resolves, instead
	// of failing with core.ErrNoDocumentSelected.
	AllowUnscoped bool
}

// DefaultPolicy returns the stock thresholds. They are not calibrated for any
// particular embedding model.
func DefaultPolicy() Policy {
	return Policy{
		ScopedMaxDistance:   0.95,
		UnscopedMaxDistance: 0.75,
		DefaultK:            5,
	}
}

// Validate checks that distances are within the cosine range and DefaultK is positive.
func (p Policy) Validate() error {
	if p.ScopedMaxDistance < 0 || p.ScopedMaxDistance > 2 {
		return fmt.Errorf("policy: scoped max distance %v outside [0, 2]", p.ScopedMaxDistance)
	}
	if p.UnscopedMaxDistance < 0 || p.UnscopedMaxDistance > 2 {
		return fmt.Errorf("policy: unscoped max distance %v outside [0, 2]", p.UnscopedMaxDistance)
	}
	if p.DefaultK <= 0 {
		return errors.New("policy: default k must be positive")
	}
	return nil
}

// MaxDistance returns the threshold for a scoped or unscoped search.
func (p Policy) MaxDistance(scoped bool) float64 {
	if scoped {
		return p.ScopedMaxDistance
	}
	return p.UnscopedMaxDistance
}

// ShouldAnswer reports whether the best distance is within max.
// No candidate means no answer.
func ShouldAnswer(best *float64, max float64) bool {
	return best != nil && *best <= max
}

// HasIntentCue reports whether question contains one of IntentCues, ignoring case.
func HasIntentCue(question string) bool {
	q := strings.ToLower(question)
	for _, cue := range IntentCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}

// BuildContext labels each source "[source N]" in rank order and separates
// them with blank lines.
func BuildContext(sources []core.Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = fmt.Sprintf("[source %d] %s", i+1, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// BuildUserPrompt combines the grounding context with the question.
func BuildUserPrompt(sources []core.Source, question string) string {
	return "Sources:\n\n" + BuildContext(sources) + "\n\nQuestion: " + question
}
