// Package webcounter reads like and comment counts from the platform's web
// pages. It is a best-effort source used when the API omits counters.
package webcounter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"vkphotos/pkg/config"
	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/ratelimit"
)

const maxBodySize = 2 << 20

// Client scrapes counters over plain HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimiter makes every request wait on l.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New creates a client for the fallback web surface.
func New(cfg config.FallbackConfig, log logger.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers: map[string]string{
			"User-Agent":       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			"X-Requested-With": "XMLHttpRequest",
			"Content-Type":     "application/x-www-form-urlencoded",
		},
		limiter: ratelimit.Chain(),
		logger:  logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Likes returns the like count of a photo inside an album. Both ids are
// composite ids.
func (c *Client) Likes(ctx context.Context, photoID, albumID string) (int, error) {
	body, err := c.post(ctx, "/like.php", url.Values{
		"act":    {"a_get_stats"},
		"al":     {"1"},
		"list":   {"album" + albumID},
		"object": {"photo" + photoID},
	})
	if err != nil {
		return 0, err
	}
	n, ok := firstNumericValue(stripEnvelope(body))
	if !ok {
		return 0, errs.New(errs.ErrorTypeParsing, 0, "no like counter for photo %s", photoID)
	}
	return n, nil
}

// Comments returns the number of comments rendered for a photo. Only an ajax
// response is trusted, so a login or captcha page is an error rather than
// zero comments.
func (c *Client) Comments(ctx context.Context, photoID string) (int, error) {
	body, err := c.post(ctx, "/al_photos.php", url.Values{
		"act":    {"photo_comments"},
		"al":     {"1"},
		"offset": {"0"},
		"photo":  {photoID},
	})
	if err != nil {
		return 0, err
	}
	if !isAjaxResponse(body) {
		return 0, errs.New(errs.ErrorTypeParsing, 0, "no comments response for photo %s", photoID)
	}
	return countComments(stripEnvelope(body)), nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, path, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.ErrorTypeRateLimit, resp.StatusCode, "%s: rate limit exceeded", path)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.ErrorTypeNotFound, resp.StatusCode, "%s: not found", path)
	case resp.StatusCode >= 500:
		return nil, errs.New(errs.ErrorTypeServerError, resp.StatusCode, "%s: server error", path)
	case resp.StatusCode != http.StatusOK:
		return nil, errs.New(errs.ErrorTypeUnknown, resp.StatusCode, "%s: unexpected status code: %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}
	return bytes.TrimSpace(body), nil
}

// isAjaxResponse reports whether body carries the "<!--" envelope with its
// "<!>" field separators.
func isAjaxResponse(body []byte) bool {
	return bytes.HasPrefix(body, []byte("<!--")) && bytes.Contains(body, []byte("<!>"))
}

// stripEnvelope drops the "<!--" that opens ajax responses. Left in place
// it would turn the whole payload into one unterminated comment.
func stripEnvelope(body []byte) []byte {
	return bytes.TrimPrefix(bytes.TrimSpace(body), []byte("<!--"))
}

// firstNumericValue returns the first value="N" attribute in document order.
func firstNumericValue(body []byte) (int, bool) {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return 0, false
		case html.StartTagToken, html.SelfClosingTagToken:
			for _, attr := range z.Token().Attr {
				if attr.Key != "value" {
					continue
				}
				if !isDigits(attr.Val) {
					continue
				}
				if n, err := strconv.Atoi(attr.Val); err == nil {
					return n, true
				}
			}
		}
	}
}

// countComments counts rendered comment blocks.
func countComments(body []byte) int {
	z := html.NewTokenizer(bytes.NewReader(body))
	count := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return count
		case html.StartTagToken:
			tok := z.Token()
			if tok.Data != "div" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key == "class" && hasClass(attr.Val, "pv_comment") {
					count++
					break
				}
			}
		}
	}
}

func hasClass(classes, name string) bool {
	for _, c := range strings.Fields(classes) {
		if c == name {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
