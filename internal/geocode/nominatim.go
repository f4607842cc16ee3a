// Package geocode resolves a position fix to a human-readable address via
// Nominatim. Resolution is best-effort: failures degrade to a fallback string
// and never block the intake flow.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"civiclens-service/internal/domain/report"
)

// Nominatim usage policy: at most one request per second.
const minRequestInterval = time.Second

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	log        zerolog.Logger

	rateLimitLock sync.Mutex
	lastRequest   time.Time
}

func NewClient(baseURL, userAgent string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// Resolve maps a fix to address text. It always returns a usable resolution:
// the fallback sentinel on any failure.
func (c *Client) Resolve(ctx context.Context, fix report.GPSFix) report.AddressResolution {
	text, err := c.reverse(ctx, fix.Lat, fix.Lng)
	if err != nil {
		c.log.Warn().
			Err(err).
			Float64("lat", fix.Lat).
			Float64("lng", fix.Lng).
			Msg("reverse geocoding failed, using fallback")
		return report.AddressResolution{Text: report.AddressFallback}
	}
	if text == "" {
		return report.AddressResolution{Text: "Unknown Location"}
	}
	return report.AddressResolution{Text: text}
}

func (c *Client) reverse(ctx context.Context, lat, lng float64) (string, error) {
	c.enforceRateLimit()

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))

	endpoint := fmt.Sprintf("%s/reverse?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nominatim returned %d", resp.StatusCode)
	}

	var payload reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return payload.DisplayName, nil
}

func (c *Client) enforceRateLimit() {
	c.rateLimitLock.Lock()
	defer c.rateLimitLock.Unlock()

	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	c.lastRequest = time.Now()
}
