package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"metals_scanner/services"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// Metals-API latest rates endpoint
const MetalsAPIURL = "https://metals-api.com/api/latest"

// MetalsAPIResponse represents the Metals-API latest response. Rates are
// quoted as metal units per base currency unit, so the USD price per ounce
// is the inverse of the rate.
type MetalsAPIResponse struct {
	Success bool               `json:"success"`
	Base    string             `json:"base"`
	Rates   map[string]float64 `json:"rates"`
	Error   struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// MetalsAPIClient fetches spot prices from Metals-API.
type MetalsAPIClient struct {
	apiKey     string
	httpClient *http.Client
	retries    int
	baseURL    string
}

// NewMetalsAPIClient creates a Metals-API client.
func NewMetalsAPIClient(apiKey string, timeout time.Duration, retries int) *MetalsAPIClient {
	return &MetalsAPIClient{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
		baseURL: MetalsAPIURL,
	}
}

// Fetch returns the USD spot price per troy ounce for a metal symbol
// (XAU, XAG). Transient failures are retried with exponential backoff;
// client errors (4xx) are not.
func (c *MetalsAPIClient) Fetch(symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)

	params := url.Values{}
	params.Set("access_key", c.apiKey)
	params.Set("base", "USD")
	params.Set("symbols", symbol)
	reqURL := c.baseURL + "?" + params.Encode()

	var price decimal.Decimal
	attempts := 0
	started := time.Now()

	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewExponential(500*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		attempts++
		p, status, err := c.fetchOnce(ctx, reqURL, symbol)
		if err != nil {
			if status >= 400 && status < 500 {
				return err
			}
			return retry.RetryableError(err)
		}
		price = p
		return nil
	})

	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		services.LogAPICall(services.PricingAPIName, "latest/"+symbol, 0, false, err.Error(), elapsed)
		return decimal.Zero, &services.UpstreamError{
			APIName: services.PricingAPIName,
			Err:     err,
			Retries: attempts - 1,
		}
	}
	services.LogAPICall(services.PricingAPIName, "latest/"+symbol, http.StatusOK, true, "", elapsed)
	return price, nil
}

func (c *MetalsAPIClient) fetchOnce(ctx context.Context, reqURL, symbol string) (decimal.Decimal, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, resp.StatusCode, fmt.Errorf("metals API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp MetalsAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return decimal.Zero, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	if !apiResp.Success {
		return decimal.Zero, resp.StatusCode, fmt.Errorf("metals API failure (code %d): %s", apiResp.Error.Code, apiResp.Error.Info)
	}

	rate, ok := apiResp.Rates[symbol]
	if !ok || rate <= 0 {
		return decimal.Zero, resp.StatusCode, fmt.Errorf("no usable rate for %s", symbol)
	}

	// Rates come back as ounces per dollar; invert to dollars per ounce.
	price := decimal.NewFromInt(1).Div(decimal.NewFromFloat(rate)).Round(4)
	return price, resp.StatusCode, nil
}

// SpotService answers spot-price lookups through the TTL cache, falling
// back to Metals-API when the cache is stale. It implements the scan
// orchestrator's PriceProvider.
type SpotService struct {
	cache   *services.PriceCache
	client  *MetalsAPIClient
	symbols map[string]string
}

// NewSpotService wires the price cache to the Metals-API client. symbols
// maps metal names to API symbols (gold -> XAU).
func NewSpotService(cache *services.PriceCache, client *MetalsAPIClient, symbols map[string]string) *SpotService {
	return &SpotService{cache: cache, client: client, symbols: symbols}
}

// SpotPrice returns the current USD price per troy ounce for a metal.
func (s *SpotService) SpotPrice(metalType string) (decimal.Decimal, error) {
	symbol, ok := s.symbols[metalType]
	if !ok {
		return decimal.Zero, fmt.Errorf("no pricing symbol configured for %s", metalType)
	}

	spot, err := s.cache.GetOrFetch(metalType, func() (decimal.Decimal, error) {
		return s.client.Fetch(symbol)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return spot.PricePerOz, nil
}
