package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/ifrs9-ecl/pkg/config"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Options tunes the client; zero values disable the feature
type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	RatePerSecond int
}

// FXOptions builds the options of the exchange-rate client from FX_* settings
func FXOptions(cfg config.FXConfig) Options {
	return Options{
		Timeout:       cfg.Timeout,
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		RatePerSecond: cfg.RatePerSecond,
	}
}

// Client is an HTTP client wrapper with retry, rate limiting and logging
// ⭐ SSOT: 모든 외부 HTTP 요청은 이 클라이언트를 통해서만 수행
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
	opts       Options
	limiter    *rate.Limiter
}

// New creates a client
// ⭐ SSOT: http.Client 인스턴스는 여기서만 생성
func New(opts Options, log *logger.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     log.WithField("module", "httputil"),
		opts:       opts,
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	return c
}

// GetJSON performs a GET request and decodes a 200 JSON body into dest
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
	return nil
}

// StatusError is a non-200 response that survived the retries
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Code, e.Body)
}

// do runs the request under the rate limit, retrying 5xx/429 and transport errors
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := c.logger.WithFields(map[string]interface{}{"method": req.Method, "url": req.URL.Redacted()})

	delay := c.opts.InitialDelay
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit wait failed: %w", err)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err == nil && !IsRetryableError(resp.StatusCode) {
			log.WithFields(map[string]interface{}{
				"status_code": resp.StatusCode,
				"attempts":    attempt + 1,
				"duration":    time.Since(start),
			}).Debug("HTTP request completed")
			return resp, nil
		}

		if attempt >= c.opts.MaxRetries {
			if err != nil {
				log.WithError(err).Error("HTTP request failed")
				return nil, err
			}
			return resp, nil
		}

		wait := delay
		if err == nil {
			if after, ok := retryAfter(resp.Header.Get("Retry-After")); ok && after > wait {
				wait = after
			}
			resp.Body.Close()
		}
		if c.opts.MaxDelay > 0 && wait > c.opts.MaxDelay {
			wait = c.opts.MaxDelay
		}

		log.WithFields(map[string]interface{}{"attempt": attempt + 1, "delay": wait}).Warn("Retrying HTTP request")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}

// retryAfter parses a Retry-After header given in seconds
func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// IsRetryableError checks if a status code should be retried
func IsRetryableError(statusCode int) bool {
	// 5xx + 429 Too Many Requests
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
