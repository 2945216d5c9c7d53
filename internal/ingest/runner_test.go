package ingest

import (
	"context"
	"testing"
	"time"

	"inboxrag/internal/db"
	"inboxrag/internal/gmail"
	"inboxrag/internal/store"
	"inboxrag/internal/testutil"
)

type fakeSource struct {
	ids       []string
	listCalls []string
	batch     scriptedBatch
}

func (f *fakeSource) ListMessageIDs(_ context.Context, since string) ([]string, error) {
	f.listCalls = append(f.listCalls, since)
	return f.ids, nil
}

// fetchAllOK answers every requested ID with a well-formed message.
func fetchAllOK(ids []string) ([]gmail.FetchResult, error) {
	results := make([]gmail.FetchResult, len(ids))
	for i, id := range ids {
		results[i] = okResult(id)
	}
	return results, nil
}

func TestRunIngestsFreshIDsOnly(t *testing.T) {
	ctx := context.Background()
	st := store.New(testutil.OpenTestDB(t), db.Schema())

	// Seed "a" as already mirrored.
	seed := store.EmailRecord{ID: "a", Date: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), Sender: "s", Subject: "x", Text: "t"}
	if _, err := st.Append(ctx, []store.EmailRecord{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	source := &fakeSource{ids: []string{"a", "b", "c"}}
	source.batch.scripts = append(source.batch.scripts, fetchAllOK)

	runner := NewRunner(source, NewFetcher(&source.batch, 50), st, 30)
	appended, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if appended != 2 {
		t.Fatalf("appended = %d, want 2", appended)
	}

	// The already-stored ID must never reach the download path.
	if got := source.batch.calls[0]; len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("downloaded ids = %v, want [b c]", got)
	}

	n, _ := st.Count(ctx)
	if n != 3 {
		t.Fatalf("store count = %d, want 3", n)
	}
}

func TestRunListsFromLatestDateMinusOneDay(t *testing.T) {
	ctx := context.Background()
	st := store.New(testutil.OpenTestDB(t), db.Schema())

	seed := store.EmailRecord{ID: "a", Date: time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC), Sender: "s", Subject: "x", Text: "t"}
	if _, err := st.Append(ctx, []store.EmailRecord{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	source := &fakeSource{}
	runner := NewRunner(source, NewFetcher(&source.batch, 50), st, 30)
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(source.listCalls) != 1 || source.listCalls[0] != "2026/08/14" {
		t.Fatalf("list since = %v, want [2026/08/14]", source.listCalls)
	}
}

func TestRunEmptyStoreUsesWindow(t *testing.T) {
	ctx := context.Background()
	st := store.New(testutil.OpenTestDB(t), db.Schema())

	source := &fakeSource{}
	runner := NewRunner(source, NewFetcher(&source.batch, 50), st, 30)
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := time.Now().UTC().AddDate(0, 0, -30).Format("2006/01/02")
	if len(source.listCalls) != 1 || source.listCalls[0] != want {
		t.Fatalf("list since = %v, want [%s]", source.listCalls, want)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.New(testutil.OpenTestDB(t), db.Schema())

	source := &fakeSource{ids: []string{"a", "b"}}
	source.batch.scripts = append(source.batch.scripts, fetchAllOK)

	runner := NewRunner(source, NewFetcher(&source.batch, 50), st, 30)
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same listing again: everything is already mirrored.
	appended, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if appended != 0 {
		t.Fatalf("second run appended %d, want 0", appended)
	}
	if len(source.batch.calls) != 1 {
		t.Fatalf("second run must not download; batch calls = %d", len(source.batch.calls))
	}
}
