package ask

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"inboxrag/internal/planner"
	"inboxrag/internal/retrieve"
	"inboxrag/internal/store"
)

// Engine answers one question at a time: plan, retrieve, synthesize.
type Engine struct {
	planner   *planner.Planner
	retriever *retrieve.Retriever
	synth     *retrieve.Synthesizer
	store     *store.Store
}

// NewEngine wires the question-answering path.
func NewEngine(p *planner.Planner, r *retrieve.Retriever, s *retrieve.Synthesizer, st *store.Store) *Engine {
	return &Engine{planner: p, retriever: r, synth: s, store: st}
}

// Ask answers a single question. An empty answer with nil error means no
// stored email matched the plan.
func (e *Engine) Ask(ctx context.Context, question string) (string, error) {
	fmt.Println("Applying time & limit filters...")
	planSQL, err := e.planner.Plan(ctx, question, time.Now())
	if err != nil {
		return "", err
	}
	fmt.Printf("  Executing SQL: %s\n", planSQL)

	result, err := e.retriever.Retrieve(ctx, planSQL, question)
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		fmt.Println("  No emails matched your criteria.")
		return "", nil
	}

	fmt.Println("Answering question...")
	answer, err := e.synth.Answer(ctx, result, question)
	if err != nil {
		return "", err
	}

	e.store.LogRetrieval(ctx, question, planSQL, len(result.Records), result.Reranked)
	return answer, nil
}

// Loop runs the interactive read-question/print-answer loop until the
// sentinel input (q/quit) or EOF. A failed question is printed with its
// full error and the loop re-prompts; it never terminates on one
// question's error.
func (e *Engine) Loop(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nAsk your inbox (or 'q' to quit): ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if lower := strings.ToLower(question); lower == "q" || lower == "quit" {
			return nil
		}

		answer, err := e.Ask(ctx, question)
		if err != nil {
			fmt.Fprintf(out, "Error: %+v\n", err)
			continue
		}
		if answer != "" {
			fmt.Fprintf(out, "\nANSWER:\n%s\n", answer)
		}
	}
}
