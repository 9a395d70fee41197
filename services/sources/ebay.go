package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"metals_scanner/services"
	"metals_scanner/services/scanner"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// eBay Finding API endpoint
const EbayFindingAPIURL = "https://svcs.ebay.com/services/search/FindingService/v1"

// API name used for quota accounting and call logging
const EbayAPIName = "ebay"

// EbayFindingResponse represents the eBay Finding API response. The Finding
// API wraps every field in a single-element array.
type EbayFindingResponse struct {
	FindItemsByKeywordsResponse []struct {
		Ack          []string `json:"ack"`
		SearchResult []struct {
			Count string `json:"@count"`
			Item  []struct {
				ItemID        []string `json:"itemId"`
				Title         []string `json:"title"`
				ViewItemURL   []string `json:"viewItemURL"`
				SellingStatus []struct {
					CurrentPrice []struct {
						CurrencyID string `json:"@currencyId"`
						Value      string `json:"__value__"`
					} `json:"currentPrice"`
				} `json:"sellingStatus"`
			} `json:"item"`
		} `json:"searchResult"`
		ErrorMessage []struct {
			Error []struct {
				Message []string `json:"message"`
			} `json:"error"`
		} `json:"errorMessage"`
	} `json:"findItemsByKeywordsResponse"`
}

// EbaySource fetches bullion listings from the eBay Finding API. Every
// search term costs one quota-ledger call; a term that hits the quota wall
// stops the fetch and returns whatever was collected so far.
type EbaySource struct {
	apiKey     string
	quota      *services.QuotaLedger
	httpClient *http.Client
	retries    int
	baseURL    string
}

// NewEbaySource creates the eBay listing source.
func NewEbaySource(apiKey string, quota *services.QuotaLedger, timeout time.Duration, retries int) *EbaySource {
	return &EbaySource{
		apiKey: apiKey,
		quota:  quota,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
		baseURL: EbayFindingAPIURL,
	}
}

// Name implements scanner.ListingSource.
func (s *EbaySource) Name() string { return EbayAPIName }

// Fetch searches eBay for every configured term. Listings collected before
// a failure are returned alongside the error.
func (s *EbaySource) Fetch(searchTerms []string, maxResults int) ([]scanner.RawListing, error) {
	var listings []scanner.RawListing

	for _, term := range searchTerms {
		if err := s.quota.CheckAndIncrement(EbayAPIName); err != nil {
			if services.IsQuotaExceeded(err) {
				log.Printf("eBay quota exhausted, stopping after %d listings", len(listings))
				return listings, err
			}
			return listings, fmt.Errorf("quota check for %q: %w", term, err)
		}

		items, err := s.search(term, maxResults)
		if err != nil {
			return listings, &services.SourceUnavailableError{
				Source: EbayAPIName,
				Err:    fmt.Errorf("search %q: %w", term, err),
			}
		}
		listings = append(listings, items...)
	}
	return listings, nil
}

// search runs one Finding API call with exponential-backoff retries.
// Client errors (4xx) are not retried.
func (s *EbaySource) search(term string, maxResults int) ([]scanner.RawListing, error) {
	reqURL := s.buildURL(term, maxResults)

	var listings []scanner.RawListing
	attempts := 0
	started := time.Now()

	backoff := retry.WithMaxRetries(uint64(s.retries), retry.NewExponential(500*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		attempts++
		items, status, err := s.doSearch(ctx, reqURL)
		if err != nil {
			if status >= 400 && status < 500 {
				return err
			}
			return retry.RetryableError(err)
		}
		listings = items
		return nil
	})

	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		services.LogAPICall(EbayAPIName, "findItemsByKeywords", 0, false, err.Error(), elapsed)
		return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	services.LogAPICall(EbayAPIName, "findItemsByKeywords", http.StatusOK, true, "", elapsed)
	return listings, nil
}

func (s *EbaySource) buildURL(term string, maxResults int) string {
	params := url.Values{}
	params.Set("OPERATION-NAME", "findItemsByKeywords")
	params.Set("SERVICE-VERSION", "1.0.0")
	params.Set("SECURITY-APPNAME", s.apiKey)
	params.Set("RESPONSE-DATA-FORMAT", "JSON")
	params.Set("keywords", term)
	params.Set("paginationInput.entriesPerPage", strconv.Itoa(maxResults))
	return s.baseURL + "?" + params.Encode()
}

func (s *EbaySource) doSearch(ctx context.Context, reqURL string) ([]scanner.RawListing, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("eBay API error (status %d): %s", resp.StatusCode, string(body))
	}

	var findingResp EbayFindingResponse
	if err := json.Unmarshal(body, &findingResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return parseFindingResponse(&findingResp)
}

// parseFindingResponse unwraps the Finding API's array-wrapped fields.
// Items missing an ID, title, or parsable price are skipped.
func parseFindingResponse(resp *EbayFindingResponse) ([]scanner.RawListing, int, error) {
	if len(resp.FindItemsByKeywordsResponse) == 0 {
		return nil, http.StatusOK, fmt.Errorf("empty findItemsByKeywordsResponse")
	}
	outer := resp.FindItemsByKeywordsResponse[0]

	if len(outer.Ack) > 0 && outer.Ack[0] == "Failure" {
		msg := "unknown error"
		if len(outer.ErrorMessage) > 0 && len(outer.ErrorMessage[0].Error) > 0 &&
			len(outer.ErrorMessage[0].Error[0].Message) > 0 {
			msg = outer.ErrorMessage[0].Error[0].Message[0]
		}
		return nil, http.StatusOK, fmt.Errorf("eBay API failure: %s", msg)
	}

	var listings []scanner.RawListing
	if len(outer.SearchResult) == 0 {
		return listings, http.StatusOK, nil
	}
	for _, item := range outer.SearchResult[0].Item {
		if len(item.ItemID) == 0 || len(item.Title) == 0 {
			continue
		}
		if len(item.SellingStatus) == 0 || len(item.SellingStatus[0].CurrentPrice) == 0 {
			continue
		}
		price, err := decimal.NewFromString(item.SellingStatus[0].CurrentPrice[0].Value)
		if err != nil || !price.IsPositive() {
			continue
		}

		listing := scanner.RawListing{
			ExternalID: item.ItemID[0],
			Title:      item.Title[0],
			Price:      price,
		}
		if len(item.ViewItemURL) > 0 {
			listing.URL = item.ViewItemURL[0]
		}
		listings = append(listings, listing)
	}
	return listings, http.StatusOK, nil
}
