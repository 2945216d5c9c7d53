package ingest

import (
	"context"
	"fmt"
	"time"

	"inboxrag/internal/store"
)

// Lister is the paginated ID-listing capability of the mail source.
type Lister interface {
	ListMessageIDs(ctx context.Context, since string) ([]string, error)
}

// Runner drives one incremental ingestion pass: compute the fetch window
// from the store, list candidate IDs, skip everything already mirrored,
// download and normalize the rest, and append.
type Runner struct {
	source     Lister
	fetcher    *Fetcher
	store      *store.Store
	windowDays int
}

// NewRunner wires an ingestion pass. windowDays bounds the initial fetch
// window when the store holds no prior sync (<=0 uses 30).
func NewRunner(source Lister, fetcher *Fetcher, st *store.Store, windowDays int) *Runner {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Runner{source: source, fetcher: fetcher, store: st, windowDays: windowDays}
}

// Run performs one ingestion pass and returns the number of appended
// records. Re-running with no new mail appends nothing.
func (r *Runner) Run(ctx context.Context) (int, error) {
	existing := r.store.ExistingIDs(ctx)

	since, ok := r.store.LatestDate(ctx)
	if !ok {
		since = time.Now().UTC().AddDate(0, 0, -r.windowDays).Format("2006/01/02")
	}

	fmt.Printf("Fetching email IDs after %s...\n", since)
	ids, err := r.source.ListMessageIDs(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list message ids: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No new emails found.")
		return 0, nil
	}

	// Already-mirrored IDs are never fetched again; the one-day window
	// overlap makes re-listing them routine.
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, seen := existing[id]; !seen {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		fmt.Println("DB is up to date.")
		return 0, nil
	}

	fmt.Printf("Found %d new emails. Downloading content...\n", len(fresh))
	records := r.fetcher.FetchAll(ctx, fresh)
	if len(records) == 0 {
		fmt.Println("DB is up to date.")
		return 0, nil
	}

	fmt.Printf("Saving %d new emails...\n", len(records))
	appended, err := r.store.Append(ctx, records)
	if err != nil {
		return appended, fmt.Errorf("append records: %w", err)
	}
	return appended, nil
}
