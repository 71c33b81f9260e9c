package fxrate

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/httputil"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Client fetches live exchange rates from a JSON convert endpoint
// ⭐ SSOT: 환율 API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	apiKey     string
	baseURL    string
}

// NewClient creates a new exchange-rate API client
func NewClient(httpClient *httputil.Client, baseURL, apiKey string, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("module", "fxrate"),
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// convertResponse is the /convert payload
type convertResponse struct {
	Success bool `json:"success"`
	Info    struct {
		Rate float64 `json:"rate"`
	} `json:"info"`
	Result float64 `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
}

// Fetch returns the from→to rate on date
func (c *Client) Fetch(ctx context.Context, from, to string, date time.Time) (float64, error) {
	params := url.Values{}
	params.Set("from", from)
	params.Set("to", to)
	params.Set("amount", "1")
	params.Set("date", contracts.DateKey(date))
	if c.apiKey != "" {
		params.Set("access_key", c.apiKey)
	}

	var resp convertResponse
	if err := c.httpClient.GetJSON(ctx, c.baseURL+"/convert?"+params.Encode(), &resp); err != nil {
		return 0, fmt.Errorf("fetch %s/%s: %w", from, to, err)
	}
	if !resp.Success {
		if resp.Error != nil {
			return 0, fmt.Errorf("fetch %s/%s: api error %d: %s", from, to, resp.Error.Code, resp.Error.Info)
		}
		return 0, fmt.Errorf("fetch %s/%s: api reported failure", from, to)
	}

	rate := resp.Info.Rate
	if rate == 0 {
		rate = resp.Result
	}
	if rate <= 0 {
		return 0, fmt.Errorf("fetch %s/%s: non-positive rate %v", from, to, rate)
	}

	c.logger.WithFields(map[string]interface{}{
		"from": from,
		"to":   to,
		"date": contracts.DateKey(date),
		"rate": rate,
	}).Debug("Fetched exchange rate")
	return rate, nil
}
