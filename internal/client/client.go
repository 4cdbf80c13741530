// Package client talks to a Marginalia server over HTTP. Client implements
// traversal.Backend so the traversal engine can run against a remote server.
package client

import (
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"Marginalia/internal/core/traversal"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/schema"
	"github.com/hashicorp/go-retryablehttp"
)

// Options configures a Client
type Options struct {
	Logger       *slog.Logger
	BaseURL      string
	Token        string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// Client is an HTTP client for the Marginalia API
type Client struct {
	http    *retryablehttp.Client
	query   *schema.Encoder
	baseURL string
	token   string
}

var _ traversal.Backend = (*Client)(nil)

// New creates a client for the server at opts.BaseURL
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	if opts.RetryMax > 0 {
		rc.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	} else {
		rc.HTTPClient.Timeout = 15 * time.Second
	}
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:    rc,
		query:   schema.NewEncoder(),
		baseURL: base,
		token:   opts.Token,
	}, nil
}

type noRetryKey struct{}

// checkRetry retries transport failures and gateway errors of reads. A 503
// means the server is up but not ready; the traversal engine owns that retry.
// Writes are sent once: the server may have committed before the failure and
// replies are append-only.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if noRetry, _ := ctx.Value(noRetryKey{}).(bool); noRetry {
		return false, nil
	}
	if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// APIError is a non-2xx answer from the server
type APIError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound checks if error is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsValidationError checks if error is a 400 from the server
func IsValidationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	if method != http.MethodGet && method != http.MethodHead {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Code, apiErr.Message = e.Error, e.Message
		} else {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %w", traversal.ErrServiceNotReady, apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreatePost creates a post as the token's subject
func (c *Client) CreatePost(ctx context.Context, content string) (string, error) {
	var resp posts.CreatePostResponse
	if err := c.do(ctx, http.MethodPost, "/posts", posts.CreatePostRequest{Content: content}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) GetPost(ctx context.Context, id string) (*posts.Post, error) {
	var post posts.Post
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), nil, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// GetReply fetches a single reply
func (c *Client) GetReply(ctx context.Context, id string) (*replies.Reply, error) {
	var reply replies.Reply
	if err := c.do(ctx, http.MethodGet, "/replies/"+url.PathEscape(id), nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GetNodeText returns the text of a post or reply, trying the post first
func (c *Client) GetNodeText(ctx context.Context, id string) (string, error) {
	post, err := c.GetPost(ctx, id)
	if err == nil {
		return post.Content, nil
	}
	if !IsNotFound(err) {
		return "", err
	}
	reply, err := c.GetReply(ctx, id)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (c *Client) GetQuoteCounts(ctx context.Context, nodeID string) ([]quotes.Count, error) {
	var resp struct {
		Data []quotes.Count `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/quoteCounts/"+url.PathEscape(nodeID), nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Data {
		if key, err := quotes.DeriveKey(resp.Data[i].Quote); err == nil {
			resp.Data[i].Key = key
		}
	}
	if resp.Data == nil {
		resp.Data = []quotes.Count{}
	}
	return resp.Data, nil
}

type pageQuery struct {
	Cursor string `schema:"cursor,omitempty"`
	Limit  int    `schema:"limit,omitempty"`
}

type pageResponse struct {
	Data       []*replies.Reply `json:"data"`
	Pagination struct {
		NextCursor *string `json:"nextCursor,omitempty"`
		HasMore    bool    `json:"hasMore"`
		TotalCount int     `json:"totalCount"`
	} `json:"pagination"`
}

func (r *pageResponse) page() *replies.Page {
	items := r.Data
	if items == nil {
		items = []*replies.Reply{}
	}
	return &replies.Page{
		Items:      items,
		NextCursor: r.Pagination.NextCursor,
		HasMore:    r.Pagination.HasMore,
		TotalCount: r.Pagination.TotalCount,
	}
}

func (c *Client) encodeQuery(q pageQuery) (string, error) {
	values := url.Values{}
	if err := c.query.Encode(q, values); err != nil {
		return "", fmt.Errorf("failed to encode query: %w", err)
	}
	if len(values) == 0 {
		return "", nil
	}
	return "?" + values.Encode(), nil
}

func (c *Client) ListReplies(ctx context.Context, parentID string, quote quotes.Quote, cursor string, limit int) (*replies.Page, error) {
	encoded, err := quotes.EncodePath(quote)
	if err != nil {
		return nil, err
	}
	query, err := c.encodeQuery(pageQuery{Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/replies/%s/%s/%s%s", url.PathEscape(parentID), encoded, replies.SortMostRecent, query)

	var resp pageResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.page(), nil
}

// ListByAuthor fetches one page of an author's replies
func (c *Client) ListByAuthor(ctx context.Context, authorID, cursor string, limit int) (*replies.Page, error) {
	query, err := c.encodeQuery(pageQuery{Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, err
	}
	var resp pageResponse
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(authorID)+"/replies"+query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.page(), nil
}

func (c *Client) CreateReply(ctx context.Context, parentID string, quote quotes.Quote, text string) (string, error) {
	var resp replies.CreateReplyResponse
	req := replies.CreateReplyRequest{Text: text, ParentID: parentID, Quote: quote}
	if err := c.do(ctx, http.MethodPost, "/replies", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
