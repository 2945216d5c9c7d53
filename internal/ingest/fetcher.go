package ingest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"inboxrag/internal/gmail"
	"inboxrag/internal/store"
)

const (
	defaultChunkSize = 50
	backoffCapSec    = 10.0
	jitterMaxSec     = 0.1
)

// BatchClient is the grouped-fetch capability of the mail source.
type BatchClient interface {
	GetMessageBatch(ctx context.Context, ids []string) ([]gmail.FetchResult, error)
}

// Fetcher downloads message payloads for a set of IDs in fixed-size
// chunks. Chunks resolve sequentially; within a chunk, transient failures
// (429/500/503 and whole-request transport errors) are retried with capped
// exponential backoff until none remain. There is no attempt ceiling:
// backoff is bounded by the cap, not by a retry count.
type Fetcher struct {
	client    BatchClient
	chunkSize int

	// sleep is swappable so tests can observe backoff without waiting.
	sleep func(time.Duration)
}

// NewFetcher creates a fetcher with the given chunk size (<=0 uses the
// default of 50).
func NewFetcher(client BatchClient, chunkSize int) *Fetcher {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Fetcher{
		client:    client,
		chunkSize: chunkSize,
		sleep:     time.Sleep,
	}
}

// FetchAll downloads and normalizes the given message IDs. Fatal per-item
// failures are logged and dropped; the returned records cover every ID
// that eventually succeeded, in original order within each chunk.
func (f *Fetcher) FetchAll(ctx context.Context, ids []string) []store.EmailRecord {
	if len(ids) == 0 {
		return nil
	}

	var records []store.EmailRecord
	for start := 0; start < len(ids); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		resolved, dropped := f.resolveChunk(ctx, chunk)
		records = append(records, resolved...)
		if dropped > 0 {
			log.Warn().Int("dropped", dropped).Msg("chunk resolved with fatal losses")
		}
		fmt.Printf("  ...progress: %d/%d\n", len(records), len(ids))
	}
	return records
}

// resolveChunk is a pure reducer over one chunk: each round issues a
// grouped fetch for the working subset, accumulates successes, drops
// fatal failures, and carries the retryable subset into the next round
// after a backoff sleep. The chunk is resolved when the retryable subset
// is empty.
func (f *Fetcher) resolveChunk(ctx context.Context, chunk []string) (records []store.EmailRecord, dropped int) {
	working := chunk
	attempt := 0

	for len(working) > 0 && ctx.Err() == nil {
		results, err := f.client.GetMessageBatch(ctx, working)

		var retryable []string
		if err != nil {
			// The grouped request itself failed before any per-item
			// result: every ID in the working subset is retryable.
			log.Warn().Err(err).Int("ids", len(working)).Msg("entire batch request failed")
			retryable = working
		} else {
			for _, res := range results {
				switch {
				case res.OK():
					records = append(records, Normalize(res.Message))
				case res.Retryable():
					retryable = append(retryable, res.ID)
				default:
					log.Error().Str("id", res.ID).Err(res.Err).Msg("fatal fetch error, dropping message")
					dropped++
				}
			}
		}

		if len(retryable) == 0 {
			break
		}
		attempt++
		delay := backoffDelay(attempt)
		log.Info().Int("retryable", len(retryable)).Dur("backoff", delay).Msg("backing off before retry")
		f.sleep(delay)
		working = retryable
	}
	return records, dropped
}

// backoffBoundSec is the deterministic part of the retry sleep in seconds:
// 2^attempt/10, capped at 10s.
func backoffBoundSec(attempt int) float64 {
	return math.Min(backoffCapSec, math.Pow(2, float64(attempt))/10)
}

func backoffDelay(attempt int) time.Duration {
	sec := backoffBoundSec(attempt) + rand.Float64()*jitterMaxSec
	return time.Duration(sec * float64(time.Second))
}
