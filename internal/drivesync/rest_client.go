package drivesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultRESTBaseURL = "https://www.googleapis.com/drive/v3"

// RESTClient is the secondary backend: plain Drive v3 REST calls with
// shared-drive support switched on.
type RESTClient interface {
	GetFile(ctx context.Context, fileID, fields string) (RemoteItem, error)
	ListChildren(ctx context.Context, parentID, pageToken, scopeID string) (ChildPage, error)
}

// TokenProvider returns the bearer token for the next request.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken always hands out the same token.
func StaticToken(token string) TokenProvider {
	token = strings.TrimSpace(token)
	return func(context.Context) (string, error) {
		return token, nil
	}
}

type HTTPClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	// MaxRetries applies to transport errors, 429 and 5xx. Zero disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type HTTPClient struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultRESTBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

func (c *HTTPClient) GetFile(ctx context.Context, fileID, fields string) (RemoteItem, error) {
	q := url.Values{}
	if fields != "" {
		q.Set("fields", fields)
	}
	q.Set("supportsAllDrives", "true")
	var out RemoteItem
	err := c.doJSON(ctx, fmt.Sprintf("/files/%s?%s", url.PathEscape(fileID), q.Encode()), &out)
	return out, err
}

// ListChildren fetches one page of the non-trashed direct children of
// parentID. A non-empty scopeID limits the corpus to that shared drive.
func (c *HTTPClient) ListChildren(ctx context.Context, parentID, pageToken, scopeID string) (ChildPage, error) {
	q := url.Values{}
	q.Set("q", childrenQuery(parentID, ""))
	q.Set("fields", "nextPageToken,files("+ListFields+")")
	q.Set("pageSize", strconv.Itoa(MaxPageSize))
	q.Set("supportsAllDrives", "true")
	q.Set("includeItemsFromAllDrives", "true")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if scopeID != "" {
		q.Set("corpora", "drive")
		q.Set("driveId", scopeID)
	}
	var out ChildPage
	if err := c.doJSON(ctx, "/files?"+q.Encode(), &out); err != nil {
		return ChildPage{}, &ListingError{ContainerID: parentID, Err: err}
	}
	return out, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, requestPath string, out any) error {
	token := ""
	if c.tokenProvider != nil {
		var err error
		token, err = c.tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("bearer token: %w", err)
		}
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		// Drive error bodies look like {"error":{"code":404,"message":"...","errors":[{"reason":"notFound"}]}}.
		var errPayload struct {
			Error struct {
				Message string `json:"message"`
				Errors  []struct {
					Reason string `json:"reason"`
				} `json:"errors"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errPayload.Error.Message,
		}
		if len(errPayload.Error.Errors) > 0 {
			httpErr.Code = errPayload.Error.Errors[0].Reason
		}
		if httpErr.Message == "" {
			httpErr.Message = strings.TrimSpace(string(payloadBytes))
		}
		return httpErr
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// childrenQuery builds the Drive search expression for direct, non-trashed
// children of parentID. A non-empty extra clause is ANDed on.
func childrenQuery(parentID, extra string) string {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryValue(parentID))
	if extra != "" {
		q += " and " + extra
	}
	return q
}

func escapeQueryValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
