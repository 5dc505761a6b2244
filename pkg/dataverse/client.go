package dataverse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
)

const (
	// DefaultMaxConcurrent caps in-flight API requests. A permit is held
	// across a request's whole retry budget.
	DefaultMaxConcurrent = 50

	// preferHeader asks for 5000-record pages with display-value
	// annotations, which option-set detection depends on.
	preferHeader = `odata.maxpagesize=5000,odata.include-annotations="OData.Community.Display.V1.FormattedValue"`
)

// TokenProvider supplies bearer tokens for API requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// FetchOptions narrow a paged entity fetch.
type FetchOptions struct {
	OrderBy string
	Filter  string
	Select  string
}

// Client talks to the Dataverse Web API: metadata, counts, and paged entity
// reads with retry and concurrency control.
type Client struct {
	apiURL      string
	tokens      TokenProvider
	httpClient  *http.Client
	permits     chan struct{}
	retryDelays []time.Duration
	logger      *zap.Logger
}

// NewClient creates an API client. maxConcurrent <= 0 selects
// DefaultMaxConcurrent.
func NewClient(apiURL string, tokens TokenProvider, maxConcurrent int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Client{
		apiURL: apiURL,
		tokens: tokens,
		// Generous timeouts: the $metadata document alone runs to
		// several megabytes.
		httpClient: &http.Client{
			Timeout: 600 * time.Second,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 60 * time.Second}).DialContext,
				ResponseHeaderTimeout: 300 * time.Second,
			},
		},
		permits:     make(chan struct{}, maxConcurrent),
		retryDelays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second},
		logger:      logger,
	}
}

// Metadata fetches the CSDL $metadata document as XML.
func (c *Client) Metadata(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "$metadata")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// EntityCount returns the record count of an entity set via /$count.
func (c *Client) EntityCount(ctx context.Context, entity string) (int, error) {
	body, err := c.get(ctx, entity+"/$count")
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, fmt.Errorf("invalid count response for %s: %q", entity, string(body))
	}
	return count, nil
}

// get performs a single unretried GET. $metadata endpoints are requested as
// XML, everything else as JSON.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	fullURL := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		fullURL = c.apiURL + "/" + endpoint
	}

	accept := "application/json"
	if strings.Contains(endpoint, "$metadata") {
		accept = "application/xml"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	if err := c.setHeaders(ctx, req, accept); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(ErrorTypeTransport, fmt.Sprintf("request for %s failed", endpoint), true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrorTypeTransport, fmt.Sprintf("failed to read response for %s", endpoint), true, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, endpoint, body)
	}
	return body, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, accept string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	return nil
}

func (c *Client) statusError(status int, endpoint string, body []byte) *Error {
	apiErr := &Error{
		StatusCode: status,
		Endpoint:   endpoint,
		Message:    fmt.Sprintf("API request failed with status %d: %s", status, string(body)),
	}
	switch {
	case status == http.StatusUnauthorized:
		apiErr.Type = ErrorTypeAuth
		apiErr.Message = "token expired - need to re-authenticate"
		apiErr.Cause = apperrors.ErrTokenExpired
	case status == http.StatusTooManyRequests:
		apiErr.Type = ErrorTypeRateLimit
		apiErr.Retryable = true
	case status >= http.StatusInternalServerError:
		apiErr.Type = ErrorTypeServer
		apiErr.Retryable = true
	default:
		apiErr.Type = ErrorTypeRequest
	}
	return apiErr
}

// odataPage is one page of an entity-set response.
type odataPage struct {
	Value    []map[string]any `json:"value"`
	NextLink string           `json:"@odata.nextLink"`
}

// FetchAllPages reads all records of an entity set, following
// @odata.nextLink. When the server rejects the $orderby column with a 400,
// it falls back to a single unordered page (at most one page of records).
func (c *Client) FetchAllPages(ctx context.Context, entity string, opts FetchOptions) ([]map[string]any, error) {
	if opts.OrderBy != "" {
		records, err := c.fetchPagesOrdered(ctx, entity, opts)
		if err == nil {
			return records, nil
		}
		if !isOrderByRejection(err) {
			return nil, err
		}
		c.logger.Warn("Cannot order entity set, fetching without orderby",
			zap.String("entity", entity),
			zap.String("orderby", opts.OrderBy))
	}
	return c.fetchSinglePage(ctx, entity, opts)
}

// isOrderByRejection detects the 400 responses Dataverse sends for columns
// that cannot be sorted on.
func isOrderByRejection(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "orderby") ||
		strings.Contains(msg, "attribute") ||
		strings.Contains(msg, "principal")
}

func (c *Client) fetchPagesOrdered(ctx context.Context, entity string, opts FetchOptions) ([]map[string]any, error) {
	params := url.Values{"$orderby": {opts.OrderBy}}
	if opts.Filter != "" {
		params.Set("$filter", opts.Filter)
	}
	if opts.Select != "" {
		params.Set("$select", opts.Select)
	}

	var all []map[string]any
	pageURL := c.apiURL + "/" + entity
	for page := 1; pageURL != ""; page++ {
		// Query parameters ride only on the first request; nextLink
		// already carries the continuation.
		if page > 1 {
			params = nil
		}
		resp, err := c.fetchPage(ctx, pageURL, params)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Value...)
		c.logger.Debug("Fetched page",
			zap.String("entity", entity),
			zap.Int("page", page),
			zap.Int("page_records", len(resp.Value)),
			zap.Int("total_records", len(all)))
		pageURL = resp.NextLink
	}
	return all, nil
}

func (c *Client) fetchSinglePage(ctx context.Context, entity string, opts FetchOptions) ([]map[string]any, error) {
	params := url.Values{}
	if opts.Filter != "" {
		params.Set("$filter", opts.Filter)
	}
	if opts.Select != "" {
		params.Set("$select", opts.Select)
	}
	if len(params) == 0 {
		params = nil
	}

	resp, err := c.fetchPage(ctx, c.apiURL+"/"+entity, params)
	if err != nil {
		return nil, err
	}
	if resp.NextLink != "" {
		c.logger.Warn("Entity has more records but cannot be ordered; only the first page was fetched",
			zap.String("entity", entity),
			zap.Int("records", len(resp.Value)))
	}
	return resp.Value, nil
}

// fetchPage GETs one page under the permit pool, retrying per the backoff
// schedule: 429 honors an integer Retry-After, 5xx and transport errors back
// off, 401 and other statuses fail immediately.
func (c *Client) fetchPage(ctx context.Context, pageURL string, params url.Values) (*odataPage, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	fullURL := pageURL
	if len(params) > 0 {
		fullURL = pageURL + "?" + params.Encode()
	}

	for attempt := 0; ; attempt++ {
		page, retryDelay, err := c.tryFetchPage(ctx, fullURL, attempt)
		if err == nil {
			return page, nil
		}
		if retryDelay < 0 || attempt >= len(c.retryDelays) {
			return nil, err
		}
		c.logger.Debug("Retrying request",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", retryDelay),
			zap.Error(err))
		if err := sleepContext(ctx, retryDelay); err != nil {
			return nil, err
		}
	}
}

// tryFetchPage performs one attempt. A negative delay means the error is
// not retryable.
func (c *Client) tryFetchPage(ctx context.Context, fullURL string, attempt int) (*odataPage, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to build request: %w", err)
	}
	if err := c.setHeaders(ctx, req, "application/json"); err != nil {
		return nil, -1, err
	}
	req.Header.Set("Prefer", preferHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		return nil, c.delayFor(attempt),
			NewError(ErrorTypeTransport, fmt.Sprintf("network error after %d attempts", attempt+1), true, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay := c.delayFor(attempt)
		if retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			delay = time.Duration(retryAfter) * time.Second
		}
		drain(resp.Body)
		apiErr := c.statusError(resp.StatusCode, fullURL, nil)
		apiErr.Message = fmt.Sprintf("rate limited after %d attempts", attempt+1)
		return nil, delay, apiErr

	case resp.StatusCode == http.StatusUnauthorized:
		drain(resp.Body)
		c.tokens.Invalidate()
		return nil, -1, c.statusError(resp.StatusCode, fullURL, nil)

	case resp.StatusCode >= http.StatusInternalServerError:
		body, _ := io.ReadAll(resp.Body)
		apiErr := c.statusError(resp.StatusCode, fullURL, body)
		apiErr.Message = fmt.Sprintf("server error after %d attempts: %d - %s", attempt+1, resp.StatusCode, string(body))
		return nil, c.delayFor(attempt), apiErr

	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, -1, c.statusError(resp.StatusCode, fullURL, body)
	}

	// UseNumber keeps numeric literals intact for canonical payloads.
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var page odataPage
	if err := dec.Decode(&page); err != nil {
		return nil, c.delayFor(attempt),
			NewError(ErrorTypeTransport, "failed to decode response", true, err)
	}
	return &page, 0, nil
}

func (c *Client) delayFor(attempt int) time.Duration {
	if attempt >= len(c.retryDelays) {
		attempt = len(c.retryDelays) - 1
	}
	return c.retryDelays[attempt]
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.permits
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
