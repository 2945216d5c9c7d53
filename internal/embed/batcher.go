package embed

import (
	"context"
	"sync"
	"time"

	"inboxrag/internal/gemini"
)

const (
	defaultMaxBatchSize  = 100 // Gemini batchEmbedContents limit
	defaultFlushInterval = 500 * time.Millisecond
)

// Client is the embedding surface of the Gemini API client.
type Client interface {
	EmbedContent(ctx context.Context, req *gemini.EmbedContentRequest) (*gemini.EmbedContentResponse, error)
	BatchEmbedContents(ctx context.Context, model string, requests []gemini.EmbedContentRequest) (*gemini.BatchEmbedContentsResponse, error)
}

// task is a single pending document embedding.
type task struct {
	text       string
	resultChan chan result
}

type result struct {
	embedding []float64
	err       error
}

// Batcher groups document-embedding requests into batchEmbedContents
// calls so the pipeline can overlap API waits across rows. Submissions
// block until their batch resolves; batches flush when full or on a
// timer.
type Batcher struct {
	client        Client
	model         string
	dim           int
	maxBatchSize  int
	flushInterval time.Duration

	mu    sync.Mutex
	batch []task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatcher creates a batcher for the given embedding model and output
// dimension.
func NewBatcher(client Client, model string, dim int, maxBatchSize int) *Batcher {
	if maxBatchSize <= 0 || maxBatchSize > defaultMaxBatchSize {
		maxBatchSize = defaultMaxBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		client:        client,
		model:         model,
		dim:           dim,
		maxBatchSize:  maxBatchSize,
		flushInterval: defaultFlushInterval,
		batch:         make([]task, 0, maxBatchSize),
		ctx:           ctx,
		cancel:        cancel,
	}

	b.wg.Add(1)
	go b.timerLoop()

	return b
}

// Submit queues one document text and waits for its embedding.
func (b *Batcher) Submit(ctx context.Context, text string) ([]float64, error) {
	resultChan := make(chan result, 1)

	b.mu.Lock()
	b.batch = append(b.batch, task{text: text, resultChan: resultChan})
	if len(b.batch) >= b.maxBatchSize {
		b.flushLocked()
	}
	b.mu.Unlock()

	select {
	case r := <-resultChan:
		return r.embedding, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, b.ctx.Err()
	}
}

// EmbedDocuments embeds every text, preserving order. A failed or empty
// embedding degrades to the zero vector so one bad row can never abort
// the batch; such rows simply rank lowest.
func (b *Batcher) EmbedDocuments(ctx context.Context, texts []string) [][]float64 {
	vectors := make([][]float64, len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			v, err := b.Submit(ctx, text)
			if err != nil || len(v) == 0 {
				v = make([]float64, b.dim)
			}
			vectors[i] = v
		}(i, text)
	}
	wg.Wait()
	b.Flush()
	return vectors
}

// EmbedQuery embeds the question once with the query task type.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	resp, err := b.client.EmbedContent(ctx, &gemini.EmbedContentRequest{
		Model:                b.model,
		Content:              gemini.Content{Parts: []gemini.Part{{Text: text}}},
		TaskType:             gemini.TaskRetrievalQuery,
		OutputDimensionality: b.dim,
	})
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, errEmptyEmbedding
	}
	return resp.Embedding.Values, nil
}

// Flush sends any pending tasks immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if len(b.batch) == 0 {
		return
	}
	tasks := make([]task, len(b.batch))
	copy(tasks, b.batch)
	b.batch = b.batch[:0]

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processBatch(tasks)
	}()
}

func (b *Batcher) processBatch(tasks []task) {
	requests := make([]gemini.EmbedContentRequest, len(tasks))
	for i, t := range tasks {
		requests[i] = gemini.EmbedContentRequest{
			Content:              gemini.Content{Parts: []gemini.Part{{Text: t.text}}},
			TaskType:             gemini.TaskRetrievalDocument,
			OutputDimensionality: b.dim,
		}
	}

	resp, err := b.client.BatchEmbedContents(b.ctx, b.model, requests)
	for i, t := range tasks {
		r := result{err: err}
		if err == nil && i < len(resp.Embeddings) {
			r = result{embedding: resp.Embeddings[i].Values}
		}
		select {
		case t.resultChan <- r:
		default:
		}
	}
}

func (b *Batcher) timerLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.ctx.Done():
			return
		}
	}
}

// Close flushes pending work and stops the timer loop.
func (b *Batcher) Close() {
	b.Flush()
	b.cancel()
	b.wg.Wait()
}
