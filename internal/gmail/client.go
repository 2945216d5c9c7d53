package gmail

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	apiBase      = "https://gmail.googleapis.com/gmail/v1"
	batchURL     = "https://gmail.googleapis.com/batch/gmail/v1"
	listPageSize = 500
	maxListPages = 500
)

// Client wraps an already-authenticated Gmail HTTP client. Obtaining and
// refreshing the OAuth token is not this package's concern; the token is
// read pre-acquired from disk.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client from an OAuth-authorized http.Client.
func NewClient(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient}
}

// NewClientFromTokenFile reads a stored OAuth token (token.json layout:
// access_token / refresh_token / token_type / expiry) and wraps it in an
// oauth2 transport.
func NewClientFromTokenFile(ctx context.Context, path string) (*Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gmail token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse gmail token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("gmail token %s has no access_token", path)
	}
	return NewClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(&tok))), nil
}

// ListMessageIDs returns all message IDs matching after:<since>, exhausting
// pagination tokens. since is a Gmail date bound (YYYY/MM/DD); empty lists
// the whole mailbox.
func (c *Client) ListMessageIDs(ctx context.Context, since string) ([]string, error) {
	query := ""
	if since != "" {
		query = "after:" + since
	}

	var ids []string
	pageToken := ""
	for page := 0; page < maxListPages; page++ {
		params := url.Values{}
		params.Set("maxResults", fmt.Sprintf("%d", listPageSize))
		if query != "" {
			params.Set("q", query)
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp listResponse
		if err := c.get(ctx, "/users/me/messages?"+params.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
		}
		log.Debug().Int("page", page+1).Int("total", len(ids)).Msg("gmail message list page")

		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// FetchResult is the tagged outcome for one requested message in a batch:
// either a payload, or an HTTP status classifying the failure.
type FetchResult struct {
	ID      string
	Status  int
	Message *Message
	Err     error
}

// Retryable reports whether the failure is transient (rate limiting or a
// server-side error).
func (r FetchResult) Retryable() bool {
	return r.Status == http.StatusTooManyRequests ||
		r.Status == http.StatusInternalServerError ||
		r.Status == http.StatusServiceUnavailable
}

// OK reports whether the message was fetched.
func (r FetchResult) OK() bool {
	return r.Message != nil && r.Err == nil
}

// GetMessageBatch fetches the given message IDs as one multipart/mixed
// batch request and returns one FetchResult per requested ID, in request
// order. A transport-level failure (the grouped request itself) returns a
// non-nil error and no results.
func (c *Client) GetMessageBatch(ctx context.Context, ids []string) ([]FetchResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	boundary := fmt.Sprintf("batch_%d", time.Now().UnixNano())
	var body bytes.Buffer
	for i, id := range ids {
		fmt.Fprintf(&body, "--%s\r\n", boundary)
		body.WriteString("Content-Type: application/http\r\n")
		fmt.Fprintf(&body, "Content-ID: <item-%d>\r\n", i)
		body.WriteString("Content-Transfer-Encoding: binary\r\n\r\n")
		fmt.Fprintf(&body, "GET /gmail/v1/users/me/messages/%s?format=metadata HTTP/1.1\r\n\r\n", id)
	}
	fmt.Fprintf(&body, "--%s--\r\n", boundary)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, batchURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/mixed; boundary="+boundary)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmail batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gmail batch API: %s: %s", resp.Status, apiErrorMessage(respBody))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("unexpected batch content type: %s", resp.Header.Get("Content-Type"))
	}

	results := make([]FetchResult, len(ids))
	for i, id := range ids {
		results[i] = FetchResult{ID: id, Err: fmt.Errorf("no response part for message %s", id)}
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read batch part: %w", err)
		}

		idx := partIndex(part.Header.Get("Content-ID"))
		partBytes, err := io.ReadAll(part)
		_ = part.Close()
		if idx < 0 || idx >= len(ids) || err != nil {
			continue
		}

		results[idx] = parsePartResponse(ids[idx], partBytes)
	}

	return results, nil
}

// partIndex extracts the request index from a batch response Content-ID
// header ("<response-item-N>").
func partIndex(contentID string) int {
	contentID = strings.Trim(contentID, "<>")
	contentID = strings.TrimPrefix(contentID, "response-")
	contentID = strings.TrimPrefix(contentID, "item-")
	var idx int
	if _, err := fmt.Sscanf(contentID, "%d", &idx); err != nil {
		return -1
	}
	return idx
}

func parsePartResponse(id string, partBytes []byte) FetchResult {
	httpResp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(partBytes)), nil)
	if err != nil {
		return FetchResult{ID: id, Err: fmt.Errorf("parse batch part: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return FetchResult{ID: id, Status: httpResp.StatusCode, Err: fmt.Errorf("read batch part body: %w", err)}
	}

	if httpResp.StatusCode >= 400 {
		return FetchResult{
			ID:     id,
			Status: httpResp.StatusCode,
			Err:    fmt.Errorf("message %s: status %d: %s", id, httpResp.StatusCode, apiErrorMessage(respBody)),
		}
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return FetchResult{ID: id, Status: httpResp.StatusCode, Err: fmt.Errorf("parse message %s: %w", id, err)}
	}
	if msg.ID == "" {
		msg.ID = id
	}
	return FetchResult{ID: id, Status: httpResp.StatusCode, Message: &msg}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gmail API: %s: %s", resp.Status, apiErrorMessage(respBody))
	}
	return json.Unmarshal(respBody, out)
}

func apiErrorMessage(body []byte) string {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return strings.TrimSpace(string(body))
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}
