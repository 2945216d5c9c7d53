package ingest

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"inboxrag/internal/gmail"
	"inboxrag/internal/store"
)

const (
	defaultSubject = "No Subject"
	defaultSender  = "Unknown"
)

// fallbackLayouts covers date formats seen in the wild that net/mail's
// RFC5322 parser rejects.
var fallbackLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
}

// Normalize converts a raw Gmail payload into the canonical record. It
// never fails: missing headers fall back to placeholders and an
// unparseable Date header falls back to the current UTC wall clock.
func Normalize(msg *gmail.Message) store.EmailRecord {
	return normalizeAt(msg, time.Now().UTC())
}

func normalizeAt(msg *gmail.Message, now time.Time) store.EmailRecord {
	subject, ok := msg.Header("Subject")
	if !ok {
		subject = defaultSubject
	}
	sender, ok := msg.Header("From")
	if !ok {
		sender = defaultSender
	}
	rawDate, _ := msg.Header("Date")

	date, ok := parseLenientDate(rawDate)
	if !ok {
		date = now
	}

	// The composed text is the unit indexed for semantic similarity; the
	// raw date string is kept here even though the record stores the
	// parsed one.
	text := fmt.Sprintf("From: %s\nDate: %s\nSubject: %s\nContent: %s",
		sender, rawDate, subject, msg.Snippet)

	return store.EmailRecord{
		ID:      msg.ID,
		Date:    date.UTC(),
		Sender:  sender,
		Subject: subject,
		Text:    text,
	}
}

func parseLenientDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return t, true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
