package vkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vkphotos/pkg/config"
	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
)

const defaultUserAgent = "vkphotos/0.1 (+https://github.com/vkphotos/vkphotos)"

// Client calls methods of the remote JSON API. It performs exactly one HTTP
// request per Call; retrying and rate limiting belong to the caller.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	version    string
	token      string
	lang       string
	logger     logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAccessToken overrides the token from the configuration.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a new API client
func NewClient(cfg config.APIConfig, log logger.Logger, opts ...Option) *Client {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Accept":          "application/json",
			"Accept-Language": "en-US,en;q=0.9",
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		version: cfg.Version,
		token:   cfg.AccessToken,
		lang:    cfg.Lang,
		logger:  logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// envelope is the top-level shape of every API response.
type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *apiError       `json:"error"`
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// Call invokes method with params and returns the raw "response" member.
// Transport failures, HTTP errors and API error envelopes are all returned
// as *errors.Error so callers can decide on retries by type.
func (c *Client) Call(ctx context.Context, method string, params map[string]string) (json.RawMessage, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	if c.version != "" {
		form.Set("v", c.version)
	}
	if c.lang != "" {
		form.Set("lang", c.lang)
	}
	if c.token != "" {
		form.Set("access_token", c.token)
	}

	endpoint := c.baseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.doRequest(req, method)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp, method); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"method":       method,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return nil, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}

	if env.Error != nil {
		apiErr := errs.New(ClassifyErrorCode(env.Error.Code), env.Error.Code, "%s: %s", method, env.Error.Message)
		c.logger.WarnWithFields("API returned an error", map[string]interface{}{
			"method":     method,
			"error_code": env.Error.Code,
			"error_msg":  env.Error.Message,
			"retryable":  errs.IsRetryable(apiErr.Type),
		})
		return nil, apiErr
	}
	if len(env.Response) == 0 {
		return nil, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "%s: response member missing", method)
	}

	return env.Response, nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request, method string) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}

	logger.LogRequest(c.logger, method, resp.StatusCode, duration)
	return resp, nil
}

// checkResponseStatus maps HTTP status codes onto typed errors
func (c *Client) checkResponseStatus(resp *http.Response, method string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.New(errs.ErrorTypeAuth, resp.StatusCode, "%s: authentication required", method)
	case resp.StatusCode == http.StatusNotFound:
		return errs.New(errs.ErrorTypeNotFound, resp.StatusCode, "%s: resource not found", method)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errs.New(errs.ErrorTypeRateLimit, resp.StatusCode, "%s: rate limit exceeded", method)
	case resp.StatusCode >= 500:
		return errs.New(errs.ErrorTypeServerError, resp.StatusCode, "%s: server error", method)
	case resp.StatusCode >= 400:
		return errs.New(errs.ErrorTypeUnknown, resp.StatusCode, "%s: unexpected status code: %d", method, resp.StatusCode)
	}
	return nil
}

// String identifies the client in logs.
func (c *Client) String() string {
	return fmt.Sprintf("vkapi(%s v%s)", c.baseURL, c.version)
}
