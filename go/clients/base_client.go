package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RetryConfig bounds a single FetchWithRetry call.
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // fixed delay between attempts
	Timeout    time.Duration // deadline applied to each attempt
}

// DefaultRetryConfig returns the retry policy used by the display and admin clients.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		Timeout:    10 * time.Second,
	}
}

type BaseClient struct {
	baseURL  string
	client   *http.Client
	headers  map[string]string
	retry    RetryConfig
	clock    clockwork.Clock
	username string
	password string
}

// Response is a fully read HTTP response. Non-2xx responses are returned as-is;
// call Err to apply the status-check policy.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Err returns an *HTTPError for non-2xx responses and nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return newHTTPError(r.StatusCode, r.Body)
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: baseURL,
		// per-attempt deadlines come from RetryConfig.Timeout
		client:  &http.Client{},
		headers: make(map[string]string),
		retry:   DefaultRetryConfig(),
		clock:   clockwork.NewRealClock(),
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetRetryConfig(cfg RetryConfig) {
	c.retry = cfg
}

func (c *BaseClient) RetryConfig() RetryConfig {
	return c.retry
}

// SetHTTPClient replaces the underlying transport client.
func (c *BaseClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// SetClock replaces the clock used for delays between attempts.
func (c *BaseClient) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// SetBasicAuth attaches HTTP Basic credentials to every request.
func (c *BaseClient) SetBasicAuth(username, password string) {
	c.username = username
	c.password = password
}

func (c *BaseClient) BaseURL() string {
	return c.baseURL
}

// FetchWithRetry performs a request with a per-attempt deadline. Transport
// failures and attempt timeouts are retried up to cfg.MaxRetries times with a
// fixed delay. Any HTTP response, whatever its status, ends the loop.
// Cancelling ctx aborts immediately with ctx's error.
func (c *BaseClient) FetchWithRetry(ctx context.Context, method, endpoint string, body []byte, cfg RetryConfig) (*Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, method, endpoint, body, cfg.Timeout)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}

		log.Warn().
			Err(err).
			Str("method", method).
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Msg("request failed, retrying")

		if waitErr := c.waitWithContext(ctx, cfg.RetryDelay); waitErr != nil {
			return nil, waitErr
		}
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, endpoint, cfg.MaxRetries+1, lastErr)
}

func (c *BaseClient) do(ctx context.Context, method, endpoint string, body []byte, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       responseBody,
	}, nil
}

func (c *BaseClient) waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := c.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// MakeRequest runs FetchWithRetry with the client's retry policy and treats
// non-2xx responses as errors.
func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	resp, err := c.FetchWithRetry(ctx, method, endpoint, body, c.retry)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body)
}

// GetJSON decodes a successful GET response into out.
func (c *BaseClient) GetJSON(ctx context.Context, endpoint string, out any) error {
	data, err := c.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	return decodeJSON(data, out)
}

// PostJSON encodes in (when non-nil) and decodes a successful response into out (when non-nil).
func (c *BaseClient) PostJSON(ctx context.Context, endpoint string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	data, err := c.Post(ctx, endpoint, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(data, out)
}

func decodeJSON(data []byte, out any) error {
	if len(data) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
