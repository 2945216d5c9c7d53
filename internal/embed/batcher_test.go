package embed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"inboxrag/internal/gemini"
)

// fakeClient answers embeddings deterministically: each text embeds to a
// single-element vector of its length.
type fakeClient struct {
	mu         sync.Mutex
	batchCalls [][]gemini.EmbedContentRequest
	batchErr   error
	queryReq   *gemini.EmbedContentRequest
	queryResp  *gemini.EmbedContentResponse
	queryErr   error
}

func (f *fakeClient) EmbedContent(_ context.Context, req *gemini.EmbedContentRequest) (*gemini.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryReq = req
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryResp != nil {
		return f.queryResp, nil
	}
	return &gemini.EmbedContentResponse{Embedding: &gemini.Embedding{Values: []float64{1, 2}}}, nil
}

func (f *fakeClient) BatchEmbedContents(_ context.Context, _ string, requests []gemini.EmbedContentRequest) (*gemini.BatchEmbedContentsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, requests)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	resp := &gemini.BatchEmbedContentsResponse{}
	for _, req := range requests {
		n := float64(len(req.Content.Parts[0].Text))
		resp.Embeddings = append(resp.Embeddings, gemini.Embedding{Values: []float64{n}})
	}
	return resp, nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batchCalls)
}

func TestEmbedDocumentsPreservesOrder(t *testing.T) {
	client := &fakeClient{}
	b := NewBatcher(client, "embed-model", 2, 100)
	defer b.Close()

	texts := []string{"a", "bb", "ccc", "dddd"}
	vectors := b.EmbedDocuments(context.Background(), texts)

	if len(vectors) != len(texts) {
		t.Fatalf("vectors = %d, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		if len(vectors[i]) != 1 || vectors[i][0] != float64(len(text)) {
			t.Errorf("vectors[%d] = %v, want [%d]", i, vectors[i], len(text))
		}
	}
}

func TestEmbedDocumentsDegradesToZeroVectors(t *testing.T) {
	client := &fakeClient{batchErr: errors.New("backend down")}
	b := NewBatcher(client, "embed-model", 3, 100)
	defer b.Close()

	vectors := b.EmbedDocuments(context.Background(), []string{"a", "b"})

	for i, v := range vectors {
		if len(v) != 3 {
			t.Fatalf("vectors[%d] len = %d, want configured dim 3", i, len(v))
		}
		for _, x := range v {
			if x != 0 {
				t.Fatalf("vectors[%d] = %v, want zeros", i, v)
			}
		}
	}
}

func TestSubmitFlushesFullBatches(t *testing.T) {
	client := &fakeClient{}
	b := NewBatcher(client, "embed-model", 2, 2)
	defer b.Close()

	b.EmbedDocuments(context.Background(), []string{"a", "b", "c", "d"})

	// With a batch cap of 2, four documents need at least two API calls.
	if got := client.calls(); got < 2 {
		t.Errorf("batch calls = %d, want >= 2", got)
	}
	for _, reqs := range client.batchCalls {
		if len(reqs) > 2 {
			t.Errorf("batch of %d exceeds cap 2", len(reqs))
		}
		for _, req := range reqs {
			if req.TaskType != gemini.TaskRetrievalDocument {
				t.Errorf("task type = %q", req.TaskType)
			}
		}
	}
}

func TestEmbedQueryUsesQueryTaskType(t *testing.T) {
	client := &fakeClient{}
	b := NewBatcher(client, "embed-model", 2, 100)
	defer b.Close()

	v, err := b.EmbedQuery(context.Background(), "what happened?")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}
	if len(v) != 2 {
		t.Errorf("vector = %v", v)
	}
	if client.queryReq.TaskType != gemini.TaskRetrievalQuery {
		t.Errorf("task type = %q, want query", client.queryReq.TaskType)
	}
	if client.queryReq.OutputDimensionality != 2 {
		t.Errorf("output dim = %d, want 2", client.queryReq.OutputDimensionality)
	}
}

func TestEmbedQueryEmptyEmbeddingIsAnError(t *testing.T) {
	client := &fakeClient{queryResp: &gemini.EmbedContentResponse{}}
	b := NewBatcher(client, "embed-model", 2, 100)
	defer b.Close()

	if _, err := b.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
