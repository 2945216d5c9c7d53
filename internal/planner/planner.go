package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Generator is the reasoning capability the planner delegates to.
type Generator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// Planner turns a natural-language question into a SQL statement that
// filters the emails table by date and row count only. Content columns
// are off limits: a textual guard replaces any statement mentioning them
// with the safe default.
type Planner struct {
	gen          Generator
	model        string
	defaultLimit int
	loc          *time.Location
}

// New creates a planner. loc determines how "now" is presented to the
// model; nil uses the system local zone.
func New(gen Generator, model string, defaultLimit int, loc *time.Location) *Planner {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if loc == nil {
		loc = time.Local
	}
	return &Planner{gen: gen, model: model, defaultLimit: defaultLimit, loc: loc}
}

// SafeDefault is the statement substituted whenever the generated SQL is
// unusable or unsafe.
func (p *Planner) SafeDefault() string {
	return fmt.Sprintf("SELECT * FROM emails ORDER BY date DESC LIMIT %d", p.defaultLimit)
}

// Plan generates the constrained SQL for a question. Generation errors
// propagate; unsafe or empty output degrades to the safe default.
func (p *Planner) Plan(ctx context.Context, question string, now time.Time) (string, error) {
	raw, err := p.gen.GenerateText(ctx, p.model, p.buildPrompt(question, now))
	if err != nil {
		return "", fmt.Errorf("generate query plan: %w", err)
	}

	sql := stripFences(raw)
	if sql == "" {
		log.Warn().Msg("planner returned empty SQL, using safe default")
		return p.SafeDefault(), nil
	}

	// Substring check, not a parser: can over-trigger on benign text but
	// never misses the two forbidden column names.
	lower := strings.ToLower(sql)
	if strings.Contains(lower, "sender") || strings.Contains(lower, "subject") {
		log.Warn().Str("sql", sql).Msg("planner attempted content filtering, reverting to default recent")
		return p.SafeDefault(), nil
	}

	return sql, nil
}

func (p *Planner) buildPrompt(question string, now time.Time) string {
	return fmt.Sprintf(`You are a SQL Query Generator specialized in Time and Quantity filtering.
Current Local Time: %s

Table Schema: 'emails'
Column: 'date' (TEXT, RFC3339 UTC, so lexicographic comparison is chronological)

Goal: Generate a SQL query to retrieve emails based ONLY on TIME and QUANTITY constraints.

STRICT RULES:
1. FILTER ONLY BY TIME (WHERE) AND QUANTITY (LIMIT).
2. Do NOT add WHERE clauses for 'sender', 'subject', or 'content'.
3. "Recent" generally means the last 4-7 days unless a specific count (e.g. "top 5") is requested.
4. ALWAYS use 'SELECT *'. Do NOT use 'SELECT COUNT(*)'. Even if the user asks "how many", select the actual emails so the client can count them.
5. Use SQLite syntax for date logic (e.g., datetime('now', '-7 days')).

SCENARIOS:
- "10 most recent emails" -> SELECT * FROM emails ORDER BY date DESC LIMIT 10
- "First 5 emails after Nov 5th" -> SELECT * FROM emails WHERE date > '202X-11-05' ORDER BY date ASC LIMIT 5
- "Last 3 emails from October" -> SELECT * FROM emails WHERE date >= '202X-10-01' AND date < '202X-11-01' ORDER BY date DESC LIMIT 3
- "Summarize my emails" (Vague) -> SELECT * FROM emails ORDER BY date DESC LIMIT %d
- "How many emails last week?" -> SELECT * FROM emails WHERE date >= datetime('now', '-7 days') ORDER BY date DESC LIMIT %d

6. Output ONLY the raw SQL query. No markdown.

7. Use the context of the question to decide on specific values for the SQL query. "Recent" could mean very different time ranges depending on the question.

8. DO NOT filter the emails at all if the question doesn't indicate a need to filter (ex. there's no need to filter by time or quantity if the user asks "What did my English teacher say about the final essay?" but there is a need to filter if the user asks "Summarize my recent emails.")

User Question: "%s"
`, now.In(p.loc).Format("2006-01-02 15:04:05"), p.defaultLimit, p.defaultLimit, question)
}

// stripFences removes markdown code-fence markup from model output.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```sql", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
