// Package worker is the HTTP client for the upstream message worker that
// relays the chat provider's webhooks and send API.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/wahub/internal/types"
)

// DefaultRequestTimeout bounds pull and send requests. Long polls get
// their own timeout on top of the server-side wait.
const DefaultRequestTimeout = 30 * time.Second

// Client talks to the worker's /pull, /lp and /send endpoints.
type Client struct {
	baseURL    string
	phoneID    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a client for the worker at baseURL. phoneID is the
// provider phone number id used for outbound sends.
func New(baseURL, phoneID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		phoneID: phoneID,
		// Per-request deadlines come from the context; a client-wide
		// timeout would cut long polls short.
		httpClient: &http.Client{},
		timeout:    DefaultRequestTimeout,
	}
}

// SetToken sets a bearer token sent with every request. Empty disables
// the Authorization header.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// PhoneID returns the configured phone number id.
func (c *Client) PhoneID() string {
	return c.phoneID
}

// Page is one batch of provider payloads returned by /pull or /lp.
type Page struct {
	Messages  []json.RawMessage
	NextSince int64
	Count     int64
}

// pageResponse is the worker's batch response body.
type pageResponse struct {
	Messages  []json.RawMessage `json:"messages"`
	NextSince *int64            `json:"next_since"`
	Count     *int64            `json:"count"`
}

// StatusError is returned for non-2xx worker responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("worker error (status %d): %s", e.Code, e.Body)
}

// Pull fetches the next batch of history after since.
func (c *Client) Pull(ctx context.Context, since int64, limit int) (*Page, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("limit", strconv.Itoa(limit))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.getPage(ctx, "/pull", q, since)
}

// Poll long-polls for new payloads after since. The worker holds the
// request for up to timeout before answering with an empty batch.
func (c *Client) Poll(ctx context.Context, since int64, timeout time.Duration, limit int) (*Page, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	q.Set("limit", strconv.Itoa(limit))

	ctx, cancel := context.WithTimeout(ctx, timeout+c.timeout)
	defer cancel()
	return c.getPage(ctx, "/lp", q, since)
}

func (c *Client) getPage(ctx context.Context, path string, q url.Values, since int64) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var pr pageResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	page := &Page{Messages: pr.Messages, NextSince: since, Count: int64(len(pr.Messages))}
	if pr.NextSince != nil {
		page.NextSince = *pr.NextSince
	}
	if pr.Count != nil {
		page.Count = *pr.Count
	}
	return page, nil
}

// sendRequest is the /send request body.
type sendRequest struct {
	PhoneNumberID string `json:"phone_number_id"`
	To            string `json:"to"`
	Text          string `json:"text"`
}

// sendResponse covers both the success and error shapes of /send.
type sendResponse struct {
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Code      int    `json:"code"`
		Type      string `json:"type"`
		Message   string `json:"message"`
		ErrorData *struct {
			Details string `json:"details"`
		} `json:"error_data"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// SendResult is what the worker answered to a send. Exactly one of
// Receipt and Failure is set.
type SendResult struct {
	HTTP    int
	Receipt *types.SendReceipt
	Failure *types.SendFailure
}

// OK reports whether the worker accepted the message.
func (r *SendResult) OK() bool {
	return r.HTTP/100 == 2
}

// Send posts one text message to number to. Transport failures are
// reported as a failed result with HTTP 0 alongside the error.
func (c *Client) Send(ctx context.Context, to, text string) (*SendResult, error) {
	body, err := json.Marshal(sendRequest{PhoneNumberID: c.phoneID, To: to, Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendResult{Failure: &types.SendFailure{Message: err.Error()}}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SendResult{HTTP: resp.StatusCode, Failure: &types.SendFailure{Message: err.Error()}}, fmt.Errorf("reading response: %w", err)
	}

	return decodeSend(resp.StatusCode, raw), nil
}

func decodeSend(code int, raw []byte) *SendResult {
	result := &SendResult{HTTP: code}

	var sr sendResponse
	parsed := json.Unmarshal(raw, &sr) == nil

	if code/100 == 2 {
		receipt := &types.SendReceipt{}
		if parsed {
			if len(sr.Contacts) > 0 {
				receipt.WaID = sr.Contacts[0].WaID
			}
			if len(sr.Messages) > 0 {
				receipt.MessageID = sr.Messages[0].ID
			}
		}
		result.Receipt = receipt
		return result
	}

	if !parsed || sr.Error == nil {
		result.Failure = &types.SendFailure{Message: "non-JSON or empty response", Raw: string(raw)}
		return result
	}

	failure := &types.SendFailure{
		Code:      sr.Error.Code,
		Type:      sr.Error.Type,
		Message:   sr.Error.Message,
		FBTraceID: sr.Error.FBTraceID,
	}
	if sr.Error.ErrorData != nil {
		failure.Details = sr.Error.ErrorData.Details
	}
	result.Failure = failure
	return result
}
