package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"inboxrag/internal/ratelimit"
)

const (
	baseURL             = "https://generativelanguage.googleapis.com/v1beta"
	maxRetries          = 5
	initialBackoff      = 500 * time.Millisecond
	maxBackoff          = 30 * time.Second
	defaultTimeout      = 120 * time.Second
	maxConnsPerHost     = 100
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// Client is a Gemini API client with connection pooling and capped-backoff
// retries on 429/5xx responses.
type Client struct {
	httpClient   *http.Client
	apiKey       string
	genLimiter   *ratelimit.LeakyBucket
	embedLimiter *ratelimit.LeakyBucket

	usageMu           sync.Mutex
	totalPromptTokens int64
	totalOutputTokens int64
	totalEmbedChars   int64
	generateCalls     int64
	embedCalls        int64
}

// NewClient creates a Gemini client authenticated by API key.
func NewClient(apiKey string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxConnsPerHost,
		MaxIdleConnsPerHost: maxConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   defaultTimeout,
		},
		apiKey: apiKey,
	}
}

// SetGenerateRPM sets a smooth rate limit for generateContent requests.
// rpm<=0 disables rate limiting.
func (c *Client) SetGenerateRPM(rpm int) {
	c.genLimiter = updateLimiter(c.genLimiter, rpm)
}

// SetEmbedRPM sets a smooth rate limit for embedContent requests.
// rpm<=0 disables rate limiting.
func (c *Client) SetEmbedRPM(rpm int) {
	c.embedLimiter = updateLimiter(c.embedLimiter, rpm)
}

func updateLimiter(lb *ratelimit.LeakyBucket, rpm int) *ratelimit.LeakyBucket {
	if rpm <= 0 {
		if lb != nil {
			lb.Close()
		}
		return nil
	}
	if lb == nil {
		return ratelimit.NewLeakyBucketFromRPM(rpm)
	}
	lb.SetRPM(rpm)
	return lb
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text,omitempty"`
}

// GenerateContentRequest for the generateContent API
type GenerateContentRequest struct {
	Contents []Content `json:"contents"`
}

type GenerateContentResponse struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	Error         *APIError      `json:"error,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata contains token usage information from the API
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API error %d (%s): %s", e.Code, e.Status, e.Message)
}

// EmbedContentRequest for the embedContent API. TaskType distinguishes
// retrieval_document from retrieval_query embeddings.
type EmbedContentRequest struct {
	Model                string  `json:"model,omitempty"`
	Content              Content `json:"content"`
	TaskType             string  `json:"taskType,omitempty"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type EmbedContentResponse struct {
	Embedding *Embedding `json:"embedding,omitempty"`
	Error     *APIError  `json:"error,omitempty"`
}

type BatchEmbedContentsRequest struct {
	Requests []EmbedContentRequest `json:"requests"`
}

type BatchEmbedContentsResponse struct {
	Embeddings []Embedding `json:"embeddings,omitempty"`
	Error      *APIError   `json:"error,omitempty"`
}

type Embedding struct {
	Values []float64 `json:"values"`
}

// TaskType values for embedContent requests.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// apiResult is implemented by response types so the shared retry loop can
// surface embedded API errors uniformly.
type apiResult interface {
	apiError() *APIError
}

func (r *GenerateContentResponse) apiError() *APIError    { return r.Error }
func (r *EmbedContentResponse) apiError() *APIError       { return r.Error }
func (r *BatchEmbedContentsResponse) apiError() *APIError { return r.Error }

// post issues a JSON POST with retries, decoding the response into out.
func (c *Client) post(ctx context.Context, limiter *ratelimit.LeakyBucket, endpoint string, payload any, out apiResult) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/%s?key=%s", baseURL, endpoint, c.apiKey)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		if apiErr := out.apiError(); apiErr != nil {
			if isRetryableStatus(apiErr.Code) {
				lastErr = apiErr
				continue
			}
			return apiErr
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GenerateContent calls the Gemini generateContent API.
func (c *Client) GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	endpoint := fmt.Sprintf("models/%s:generateContent", model)
	var result GenerateContentResponse
	if err := c.post(ctx, c.genLimiter, endpoint, req, &result); err != nil {
		return nil, err
	}
	c.recordGenerateUsage(result.UsageMetadata)
	return &result, nil
}

// GenerateText is a convenience wrapper returning the first candidate's text.
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.GenerateContent(ctx, model, &GenerateContentRequest{
		Contents: []Content{{Parts: []Part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty generation response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// EmbedContent calls the Gemini embedContent API.
func (c *Client) EmbedContent(ctx context.Context, req *EmbedContentRequest) (*EmbedContentResponse, error) {
	charCount := 0
	for _, part := range req.Content.Parts {
		charCount += len(part.Text)
	}
	endpoint := fmt.Sprintf("models/%s:embedContent", req.Model)
	var result EmbedContentResponse
	if err := c.post(ctx, c.embedLimiter, endpoint, req, &result); err != nil {
		return nil, err
	}
	c.recordEmbedUsage(charCount)
	return &result, nil
}

// BatchEmbedContents calls the batchEmbedContents API. The model on each
// request is overwritten with the fully-qualified endpoint model.
func (c *Client) BatchEmbedContents(ctx context.Context, model string, requests []EmbedContentRequest) (*BatchEmbedContentsResponse, error) {
	totalChars := 0
	fullModel := "models/" + model
	for i := range requests {
		requests[i].Model = fullModel
		for _, part := range requests[i].Content.Parts {
			totalChars += len(part.Text)
		}
	}
	endpoint := fmt.Sprintf("models/%s:batchEmbedContents", model)
	var result BatchEmbedContentsResponse
	if err := c.post(ctx, c.embedLimiter, endpoint, &BatchEmbedContentsRequest{Requests: requests}, &result); err != nil {
		return nil, err
	}
	c.recordEmbedUsage(totalChars)
	return &result, nil
}

func isRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

// UsageStats contains accumulated usage statistics.
type UsageStats struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EmbedChars       int64   `json:"embed_chars"`
	GenerateCalls    int64   `json:"generate_calls"`
	EmbedCalls       int64   `json:"embed_calls"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// GetUsageStats returns accumulated usage statistics and estimated cost.
// Pricing (Gemini Flash tier):
//   - Input: $0.075 per 1M tokens
//   - Output: $0.30 per 1M tokens
//   - Embeddings: $0.00001 per 1K characters
func (c *Client) GetUsageStats() UsageStats {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	stats := UsageStats{
		PromptTokens:  c.totalPromptTokens,
		OutputTokens:  c.totalOutputTokens,
		EmbedChars:    c.totalEmbedChars,
		GenerateCalls: c.generateCalls,
		EmbedCalls:    c.embedCalls,
	}
	inputCost := float64(c.totalPromptTokens) * 0.075 / 1_000_000
	outputCost := float64(c.totalOutputTokens) * 0.30 / 1_000_000
	embedCost := float64(c.totalEmbedChars) * 0.00001 / 1_000
	stats.EstimatedCostUSD = inputCost + outputCost + embedCost
	return stats
}

func (c *Client) recordGenerateUsage(usage *UsageMetadata) {
	if usage == nil {
		return
	}
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.totalPromptTokens += int64(usage.PromptTokenCount)
	c.totalOutputTokens += int64(usage.CandidatesTokenCount)
	c.generateCalls++
}

func (c *Client) recordEmbedUsage(charCount int) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.totalEmbedChars += int64(charCount)
	c.embedCalls++
}
