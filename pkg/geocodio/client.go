// Package geocodio is a client for the Geocodio forward geocoding API.
package geocodio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/license-watch/internal/resilience"
)

const (
	defaultBaseURL = "https://api.geocod.io/v1.7"

	// MaxBatchSize is the largest number of addresses accepted per batch request.
	MaxBatchSize = 10000
)

// Client geocodes free-form addresses.
type Client interface {
	// Geocode geocodes a single address.
	Geocode(ctx context.Context, address string) (*Result, error)

	// BatchGeocode geocodes up to MaxBatchSize addresses in one request. Results
	// are returned in input order.
	BatchGeocode(ctx context.Context, addresses []string) ([]Result, error)
}

// Result holds the best match for one address.
type Result struct {
	Query            string
	Matched          bool
	Latitude         float64
	Longitude        float64
	Zipcode          string
	FormattedAddress string
	Accuracy         float64
	AccuracyType     string
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the API root, e.g. for a different API version.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) {
		c.retry = cfg
	}
}

type client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a Geocodio client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("geocodio", "geocode")
	}
	return c
}

type addressComponents struct {
	Zip string `json:"zip"`
}

type match struct {
	AddressComponents addressComponents `json:"address_components"`
	FormattedAddress  string            `json:"formatted_address"`
	Location          struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy     float64 `json:"accuracy"`
	AccuracyType string  `json:"accuracy_type"`
}

type singleResponse struct {
	Results []match `json:"results"`
}

type batchResponse struct {
	Results []struct {
		Query    string `json:"query"`
		Response struct {
			Results []match `json:"results"`
			Error   string  `json:"error"`
		} `json:"response"`
	} `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Geocode geocodes a single address. An address with no match is not an error.
func (c *client) Geocode(ctx context.Context, address string) (*Result, error) {
	params := url.Values{"q": {address}, "api_key": {c.apiKey}}

	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/geocode?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp singleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocodio: parse response")
	}

	r := toResult(address, resp.Results)
	return &r, nil
}

// BatchGeocode geocodes addresses in a single POST. Results are matched to
// inputs by position.
func (c *client) BatchGeocode(ctx context.Context, addresses []string) ([]Result, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	if len(addresses) > MaxBatchSize {
		return nil, eris.Errorf("geocodio: batch of %d exceeds limit of %d", len(addresses), MaxBatchSize)
	}

	payload, err := json.Marshal(addresses)
	if err != nil {
		return nil, eris.Wrap(err, "geocodio: encode batch")
	}

	params := url.Values{"api_key": {c.apiKey}}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/geocode?"+params.Encode(), payload)
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocodio: parse batch response")
	}
	if len(resp.Results) != len(addresses) {
		return nil, eris.Errorf("geocodio: batch returned %d results for %d addresses", len(resp.Results), len(addresses))
	}

	results := make([]Result, len(addresses))
	for i, item := range resp.Results {
		results[i] = toResult(addresses[i], item.Response.Results)
	}
	return results, nil
}

// do sends one request with rate limiting and retries on 429/5xx and
// transport errors.
func (c *client) do(ctx context.Context, method, reqURL string, payload []byte) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "geocodio: rate limit")
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, eris.Wrap(err, "geocodio: build request")
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "geocodio: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "geocodio: read body")
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := eris.Errorf("geocodio: status %d: %s", resp.StatusCode, errorMessage(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
			}
			return nil, apiErr
		}
		return body, nil
	})
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// toResult keeps the first, highest ranked, match.
func toResult(query string, matches []match) Result {
	if len(matches) == 0 {
		return Result{Query: query}
	}
	m := matches[0]
	return Result{
		Query:            query,
		Matched:          true,
		Latitude:         m.Location.Lat,
		Longitude:        m.Location.Lng,
		Zipcode:          m.AddressComponents.Zip,
		FormattedAddress: m.FormattedAddress,
		Accuracy:         m.Accuracy,
		AccuracyType:     m.AccuracyType,
	}
}
