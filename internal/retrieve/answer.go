package retrieve

import (
	"context"
	"fmt"
	"strings"
)

// Generator is the reasoning capability used for answer synthesis.
type Generator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// Synthesizer turns a retrieval context into an answer. No retry logic
// here: a generation failure propagates to the caller.
type Synthesizer struct {
	gen   Generator
	model string
}

// NewSynthesizer creates an answer synthesizer.
func NewSynthesizer(gen Generator, model string) *Synthesizer {
	return &Synthesizer{gen: gen, model: model}
}

// Answer asks the reasoning capability to answer the question strictly
// from the supplied context.
func (s *Synthesizer) Answer(ctx context.Context, c Context, question string) (string, error) {
	prompt := fmt.Sprintf(`You are an expert Email Analyst.
You have been provided with a list of emails filtered by TIME and COUNT.
Now, answer the user's specific question based on these emails.
If the user asked for specific senders or topics, find them within this provided list.

EMAILS FOUND:
%s

QUESTION: %s
`, FormatContext(c), question)

	return s.gen.GenerateText(ctx, s.model, prompt)
}

// FormatContext renders the retained records as delimited blocks in
// context order.
func FormatContext(c Context) string {
	var sb strings.Builder
	for _, r := range c.Records {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "Date: %s\n", r.Date.Format("2006-01-02 15:04"))
		fmt.Fprintf(&sb, "From: %s\n", r.Sender)
		fmt.Fprintf(&sb, "Subject: %s\n", r.Subject)
		fmt.Fprintf(&sb, "Content: %s\n", r.Text)
	}
	return sb.String()
}
