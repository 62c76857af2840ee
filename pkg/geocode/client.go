// Package geocode resolves named locations to coordinates through the
// OpenCage geocoding API, with a durable result cache in front of it.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/resilience"
)

// DefaultBaseURL is the OpenCage forward geocoding endpoint.
const DefaultBaseURL = "https://api.opencagedata.com/geocode/v1/json"

// DefaultProbeQuery is the address used to check service health and quota.
const DefaultProbeQuery = "London"

// ErrQuotaExceeded is returned when the service reports the account is out
// of quota or requires payment.
var ErrQuotaExceeded = errors.New("geocode: quota exceeded or payment required")

// StatusError is a non-200 response from the geocoding service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geocode: service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("geocode: service returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes ErrQuotaExceeded for 402 responses.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusPaymentRequired {
		return ErrQuotaExceeded
	}
	return nil
}

// Client is the geocoding service contract the Resolver needs.
type Client interface {
	// Probe issues a lightweight request and returns an error when the
	// service is unhealthy, out of quota, or rejects the key.
	Probe(ctx context.Context) error

	// Geocode resolves a free-text address. A response without matches
	// returns Matched=false and a nil error.
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Coordinate geo.Coordinate
	Formatted  string
	Confidence int
	Matched    bool
}

// Option configures the OpenCage client.
type Option func(*openCage)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *openCage) {
		g.httpClient = hc
	}
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(g *openCage) {
		g.baseURL = u
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *openCage) {
		g.httpClient.Timeout = d
	}
}

// WithRateLimit sets the requests-per-second rate limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(g *openCage) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithProbeQuery overrides the address used by Probe.
func WithProbeQuery(q string) Option {
	return func(g *openCage) {
		if q != "" {
			g.probeQuery = q
		}
	}
}

type openCage struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	probeQuery string
	limiter    *rate.Limiter
}

// NewClient creates an OpenCage Client for the given API key.
func NewClient(apiKey string, opts ...Option) Client {
	g := &openCage{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		probeQuery: DefaultProbeQuery,
		limiter:    rate.NewLimiter(1, 1), // free tier: 1 req/s
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// openCageResponse is the JSON response from the OpenCage API.
type openCageResponse struct {
	Results []struct {
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
		Formatted  string `json:"formatted"`
		Confidence int    `json:"confidence"`
	} `json:"results"`
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	TotalResults int `json:"total_results"`
}

// Probe implements Client.
func (g *openCage) Probe(ctx context.Context) error {
	_, err := g.do(ctx, g.probeQuery)
	return err
}

// Geocode implements Client.
func (g *openCage) Geocode(ctx context.Context, address string) (*Result, error) {
	resp, err := g.do(ctx, address)
	if err != nil {
		return nil, err
	}

	for _, r := range resp.Results {
		c := geo.Coordinate{Latitude: r.Geometry.Lat, Longitude: r.Geometry.Lng}
		if !c.Valid() {
			continue
		}
		return &Result{
			Coordinate: c,
			Formatted:  r.Formatted,
			Confidence: r.Confidence,
			Matched:    true,
		}, nil
	}
	return &Result{Matched: false}, nil
}

func (g *openCage) do(ctx context.Context, q string) (*openCageResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"q":              {q},
		"key":            {g.apiKey},
		"limit":          {"1"},
		"no_annotations": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: request"), 0)
		}
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: read body"), resp.StatusCode)
	}

	var parsed openCageResponse
	parseErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: parsed.Status.Message}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	if parseErr != nil {
		return nil, eris.Wrap(parseErr, "geocode: parse response")
	}
	return &parsed, nil
}
