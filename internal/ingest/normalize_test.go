package ingest

import (
	"strings"
	"testing"
	"time"

	"inboxrag/internal/gmail"
)

func msgWithHeaders(headers map[string]string) *gmail.Message {
	m := &gmail.Message{ID: "m1", Snippet: "lunch on friday?"}
	for name, value := range headers {
		m.Payload.Headers = append(m.Payload.Headers, gmail.Header{Name: name, Value: value})
	}
	return m
}

func TestNormalizeFullHeaders(t *testing.T) {
	msg := msgWithHeaders(map[string]string{
		"From":    "Bob <bob@example.com>",
		"Subject": "Lunch",
		"Date":    "Fri, 14 Aug 2026 12:30:00 -0400",
	})

	rec := Normalize(msg)
	if rec.ID != "m1" {
		t.Errorf("id = %q", rec.ID)
	}
	if rec.Sender != "Bob <bob@example.com>" {
		t.Errorf("sender = %q", rec.Sender)
	}
	if rec.Subject != "Lunch" {
		t.Errorf("subject = %q", rec.Subject)
	}
	want := time.Date(2026, 8, 14, 16, 30, 0, 0, time.UTC)
	if !rec.Date.Equal(want) {
		t.Errorf("date = %v, want %v", rec.Date, want)
	}
	if rec.Date.Location() != time.UTC {
		t.Errorf("date zone = %v, want UTC", rec.Date.Location())
	}
}

func TestNormalizeMissingHeadersUsePlaceholders(t *testing.T) {
	now := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	rec := normalizeAt(msgWithHeaders(nil), now)

	if rec.Subject != "No Subject" {
		t.Errorf("subject = %q, want placeholder", rec.Subject)
	}
	if rec.Sender != "Unknown" {
		t.Errorf("sender = %q, want placeholder", rec.Sender)
	}
	if !rec.Date.Equal(now) {
		t.Errorf("date = %v, want ingestion time %v", rec.Date, now)
	}
}

func TestNormalizeTextLayout(t *testing.T) {
	msg := msgWithHeaders(map[string]string{
		"From":    "bob@example.com",
		"Subject": "Lunch",
		"Date":    "Fri, 14 Aug 2026 12:30:00 -0400",
	})

	rec := Normalize(msg)
	want := "From: bob@example.com\nDate: Fri, 14 Aug 2026 12:30:00 -0400\nSubject: Lunch\nContent: lunch on friday?"
	if rec.Text != want {
		t.Errorf("text:\n%q\nwant:\n%q", rec.Text, want)
	}
}

func TestNormalizeUnparseableDateFallsBackToNow(t *testing.T) {
	now := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	rec := normalizeAt(msgWithHeaders(map[string]string{"Date": "not a date at all"}), now)

	if !rec.Date.Equal(now) {
		t.Errorf("date = %v, want fallback %v", rec.Date, now)
	}
	// The raw header still appears in the composed text.
	if !strings.Contains(rec.Text, "Date: not a date at all") {
		t.Errorf("text lost raw date header: %q", rec.Text)
	}
}

func TestParseLenientDateLayouts(t *testing.T) {
	cases := []struct {
		raw string
		ok  bool
	}{
		{"Fri, 14 Aug 2026 12:30:00 -0400", true},
		{"14 Aug 26 12:30 -0400", true},
		{"2026-08-14T12:30:00Z", true},
		{"2026-08-14 12:30:00 +0000", true},
		{"", false},
		{"yesterday", false},
	}
	for _, tc := range cases {
		if _, ok := parseLenientDate(tc.raw); ok != tc.ok {
			t.Errorf("parseLenientDate(%q) ok = %v, want %v", tc.raw, ok, tc.ok)
		}
	}
}
