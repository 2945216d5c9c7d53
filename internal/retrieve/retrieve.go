package retrieve

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"inboxrag/internal/store"
)

const defaultTopK = 7

// Embedder is the vector capability used by the rerank path.
type Embedder interface {
	// EmbedDocuments embeds every text in order; failures degrade to
	// zero vectors rather than errors.
	EmbedDocuments(ctx context.Context, texts []string) [][]float64
	// EmbedQuery embeds the question once.
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// ScoredRecord is a retrieved record, annotated with a similarity score
// when the rerank path was taken.
type ScoredRecord struct {
	store.EmailRecord
	Score float64
}

// Context is the ordered row set selected for one question.
type Context struct {
	Records  []ScoredRecord
	Reranked bool
}

// Retriever executes a query plan and conditionally refines the result
// with an embedding rerank: when the structured filter already narrowed
// the set to defaultLimit rows or fewer, no embedding calls are made.
type Retriever struct {
	store        *store.Store
	embedder     Embedder
	defaultLimit int
	topK         int
}

// New creates a retriever. topK bounds the reranked context size (<=0
// uses 7).
func New(st *store.Store, embedder Embedder, defaultLimit, topK int) *Retriever {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Retriever{store: st, embedder: embedder, defaultLimit: defaultLimit, topK: topK}
}

// Retrieve runs the plan and returns the context rows for the question.
func (r *Retriever) Retrieve(ctx context.Context, planSQL, question string) (Context, error) {
	rows, err := r.store.Query(ctx, planSQL)
	if err != nil {
		return Context{}, err
	}
	fmt.Printf("  Found %d emails.\n", len(rows))

	if len(rows) <= r.defaultLimit {
		records := make([]ScoredRecord, len(rows))
		for i, row := range rows {
			records[i] = ScoredRecord{EmailRecord: row}
		}
		return Context{Records: records}, nil
	}

	fmt.Printf("  Count is high (%d); refining with vector search...\n", len(rows))
	return r.rerank(ctx, rows, question)
}

// rerank embeds every row's text and the question, scores rows by raw
// dot product, and keeps the topK highest, descending. Dot product is
// used without normalization: both sides come from the same embedding
// model and task pairing.
func (r *Retriever) rerank(ctx context.Context, rows []store.EmailRecord, question string) (Context, error) {
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Text
	}
	vectors := r.embedder.EmbedDocuments(ctx, texts)

	queryVec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return Context{}, fmt.Errorf("embed question: %w", err)
	}

	scored := make([]ScoredRecord, len(rows))
	for i, row := range rows {
		scored[i] = ScoredRecord{EmailRecord: row, Score: dot(vectors[i], queryVec)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}

	log.Debug().Int("candidates", len(rows)).Int("kept", len(scored)).Msg("vector rerank complete")
	return Context{Records: scored, Reranked: true}, nil
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
