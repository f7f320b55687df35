package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	DefaultUserAgent    = "GeoQuiz/1.0"
	defaultTimeout      = 10 * time.Second
)

var (
	// ErrNoCountry is returned when the lookup succeeded but carried no
	// country.
	ErrNoCountry = errors.New("no country in reverse geocoding response")
	// ErrPermissionDenied is returned by sources that were refused access.
	ErrPermissionDenied = errors.New("location permission denied")
)

// ReverseGeocoder turns coordinates into a country name.
type ReverseGeocoder interface {
	CountryAt(ctx context.Context, c Coordinates) (string, error)
}

// NominatimClient queries an OpenStreetMap Nominatim /reverse endpoint.
type NominatimClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NominatimOption configures a NominatimClient.
type NominatimOption func(*NominatimClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) NominatimOption {
	return func(c *NominatimClient) {
		c.client = client
	}
}

// WithUserAgent sets the User-Agent header. Nominatim rejects requests that
// do not identify the application.
func WithUserAgent(ua string) NominatimOption {
	return func(c *NominatimClient) {
		c.userAgent = ua
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) NominatimOption {
	return func(c *NominatimClient) {
		c.client = &http.Client{Timeout: d}
	}
}

// NewNominatimClient creates a client for baseURL (DefaultNominatimURL when
// empty).
func NewNominatimClient(baseURL string, opts ...NominatimOption) *NominatimClient {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	c := &NominatimClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: DefaultUserAgent,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type reverseResponse struct {
	Address *struct {
		Country string `json:"country"`
	} `json:"address"`
}

// CountryAt performs one GET /reverse lookup.
func (c *NominatimClient) CountryAt(ctx context.Context, coords Coordinates) (string, error) {
	params := url.Values{
		"lat":    {strconv.FormatFloat(coords.Latitude, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(coords.Longitude, 'f', -1, 64)},
		"format": {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("nominatim error (status %d): %s", resp.StatusCode, string(body))
	}

	var payload reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	// Any non-empty country counts, whitespace included.
	if payload.Address == nil || payload.Address.Country == "" {
		return "", ErrNoCountry
	}
	return payload.Address.Country, nil
}
