package gemini

import (
	"math"
	"testing"
	"time"
)

func TestIsRetryableStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{200, false},
		{400, false},
		{404, false},
	}
	for _, tc := range cases {
		if got := isRetryableStatus(tc.code); got != tc.want {
			t.Errorf("isRetryableStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	for attempt := 1; attempt <= 12; attempt++ {
		base := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
		if base > float64(maxBackoff) {
			base = float64(maxBackoff)
		}
		lo := time.Duration(base * 0.75)
		hi := time.Duration(base * 1.25)
		got := calculateBackoff(attempt)
		if got < lo || got > hi {
			t.Errorf("calculateBackoff(%d) = %v, want in [%v, %v]", attempt, got, lo, hi)
		}
	}
}

func TestUsageStatsAccumulate(t *testing.T) {
	c := NewClient("test-key")

	c.recordGenerateUsage(&UsageMetadata{PromptTokenCount: 1000, CandidatesTokenCount: 500})
	c.recordGenerateUsage(nil) // ignored
	c.recordEmbedUsage(2000)

	stats := c.GetUsageStats()
	if stats.GenerateCalls != 1 || stats.EmbedCalls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", stats.GenerateCalls, stats.EmbedCalls)
	}
	if stats.PromptTokens != 1000 || stats.OutputTokens != 500 || stats.EmbedChars != 2000 {
		t.Errorf("totals = %d/%d/%d", stats.PromptTokens, stats.OutputTokens, stats.EmbedChars)
	}
	want := 1000*0.075/1_000_000 + 500*0.30/1_000_000 + 2000*0.00001/1_000
	if math.Abs(stats.EstimatedCostUSD-want) > 1e-12 {
		t.Errorf("cost = %v, want %v", stats.EstimatedCostUSD, want)
	}
}

func TestSetRPMLifecycle(t *testing.T) {
	c := NewClient("test-key")
	if c.genLimiter != nil {
		t.Fatal("limiter should start disabled")
	}
	c.SetGenerateRPM(60)
	if c.genLimiter == nil {
		t.Fatal("limiter should be enabled")
	}
	first := c.genLimiter
	c.SetGenerateRPM(120)
	if c.genLimiter != first {
		t.Error("raising the rate must reuse the limiter")
	}
	c.SetGenerateRPM(0)
	if c.genLimiter != nil {
		t.Error("rpm<=0 must disable the limiter")
	}
}
