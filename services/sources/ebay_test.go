package sources

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"metals_scanner/models"
	"metals_scanner/services"

	"github.com/shopspring/decimal"
)

type memQuotaStore struct {
	counters map[string]*models.QuotaCounter
}

func newMemQuotaStore() *memQuotaStore {
	return &memQuotaStore{counters: make(map[string]*models.QuotaCounter)}
}

func (s *memQuotaStore) QuotaCounter(apiName string) (*models.QuotaCounter, error) {
	c, ok := s.counters[apiName]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *memQuotaStore) QuotaCounters() ([]models.QuotaCounter, error) {
	var out []models.QuotaCounter
	for _, c := range s.counters {
		out = append(out, *c)
	}
	return out, nil
}

func (s *memQuotaStore) SaveQuotaCounter(counter *models.QuotaCounter) error {
	copied := *counter
	s.counters[counter.APIName] = &copied
	return nil
}

func newTestLedger(t *testing.T, limit int) *services.QuotaLedger {
	t.Helper()
	ledger := services.NewQuotaLedger(newMemQuotaStore(), 0)
	if err := ledger.Ensure(EbayAPIName, models.ScopeDaily, limit); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return ledger
}

const findingOK = `{
  "findItemsByKeywordsResponse": [{
    "ack": ["Success"],
    "searchResult": [{
      "@count": "2",
      "item": [
        {
          "itemId": ["1001"],
          "title": ["1 oz Gold American Eagle"],
          "viewItemURL": ["https://www.ebay.com/itm/1001"],
          "sellingStatus": [{"currentPrice": [{"@currencyId": "USD", "__value__": "2050.00"}]}]
        },
        {
          "itemId": ["1002"],
          "title": ["10 oz Silver Bar"],
          "viewItemURL": ["https://www.ebay.com/itm/1002"],
          "sellingStatus": [{"currentPrice": [{"@currencyId": "USD", "__value__": "260.50"}]}]
        }
      ]
    }]
  }]
}`

func newTestSource(serverURL string, ledger *services.QuotaLedger, retries int) *EbaySource {
	s := NewEbaySource("test-app-id", ledger, 5*time.Second, retries)
	s.baseURL = serverURL
	return s
}

func TestFetchParsesArrayWrappedFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, findingOK)
	}))
	defer server.Close()

	source := newTestSource(server.URL, newTestLedger(t, 100), 0)
	listings, err := source.Fetch([]string{"gold bullion"}, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}
	first := listings[0]
	if first.ExternalID != "1001" {
		t.Errorf("ExternalID = %q", first.ExternalID)
	}
	if first.Title != "1 oz Gold American Eagle" {
		t.Errorf("Title = %q", first.Title)
	}
	if !first.Price.Equal(decimal.NewFromFloat(2050.00)) {
		t.Errorf("Price = %s", first.Price)
	}
	if first.URL != "https://www.ebay.com/itm/1001" {
		t.Errorf("URL = %q", first.URL)
	}
}

func TestFetchConsumesOneQuotaCallPerTerm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, findingOK)
	}))
	defer server.Close()

	ledger := newTestLedger(t, 100)
	source := newTestSource(server.URL, ledger, 0)
	if _, err := source.Fetch([]string{"gold bullion", "silver bullion", "gold eagle"}, 100); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	status, err := ledger.Status(EbayAPIName)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Used != 3 {
		t.Errorf("Used = %d, want 3", status.Used)
	}
}

func TestFetchStopsAtQuotaWallWithPartialResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, findingOK)
	}))
	defer server.Close()

	// Two calls allowed, three terms requested.
	source := newTestSource(server.URL, newTestLedger(t, 2), 0)
	listings, err := source.Fetch([]string{"a", "b", "c"}, 100)
	if err == nil {
		t.Fatal("expected quota error")
	}
	if !services.IsQuotaExceeded(err) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if len(listings) != 4 {
		t.Errorf("got %d listings, want 4 from the two allowed calls", len(listings))
	}
}

func TestFetchReportsAPIFailure(t *testing.T) {
	body := `{"findItemsByKeywordsResponse":[{"ack":["Failure"],"errorMessage":[{"error":[{"message":["Invalid AppID"]}]}]}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	source := newTestSource(server.URL, newTestLedger(t, 100), 0)
	if _, err := source.Fetch([]string{"gold"}, 100); err == nil {
		t.Fatal("expected error for API failure ack")
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, findingOK)
	}))
	defer server.Close()

	source := newTestSource(server.URL, newTestLedger(t, 100), 2)
	listings, err := source.Fetch([]string{"gold"}, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 2 {
		t.Errorf("got %d listings, want 2", len(listings))
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestFetchSkipsMalformedItems(t *testing.T) {
	body := `{
	  "findItemsByKeywordsResponse": [{
	    "ack": ["Success"],
	    "searchResult": [{
	      "item": [
	        {"itemId": ["1"], "title": ["1 oz gold"], "sellingStatus": [{"currentPrice": [{"__value__": "not-a-number"}]}]},
	        {"itemId": [], "title": ["missing id"], "sellingStatus": [{"currentPrice": [{"__value__": "10.00"}]}]},
	        {"itemId": ["3"], "title": ["valid"], "sellingStatus": [{"currentPrice": [{"__value__": "10.00"}]}]}
	      ]
	    }]
	  }]
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	source := newTestSource(server.URL, newTestLedger(t, 100), 0)
	listings, err := source.Fetch([]string{"gold"}, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 1 || listings[0].ExternalID != "3" {
		t.Errorf("listings = %+v, want only item 3", listings)
	}
}
