package services

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"metals_scanner/models"

	"golang.org/x/time/rate"
)

// QuotaLedger enforces per-API call budgets with daily/monthly reset
// semantics, plus burst smoothing between consecutive calls to the same API.
// Mutation is single-writer (the active scan run); the mutex only keeps the
// read-modify-write of a counter atomic against concurrent status reads.
type QuotaLedger struct {
	store    QuotaStore
	spacing  time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// QuotaStatus is the reporting view of one counter.
type QuotaStatus struct {
	APIName     string     `json:"api_name"`
	Scope       string     `json:"scope"`
	Limit       int        `json:"limit"`
	Used        int        `json:"used"`
	Remaining   int        `json:"remaining"`
	PercentUsed float64    `json:"percentage_used"`
	ResetAt     time.Time  `json:"reset_at"`
	LastCallAt  *time.Time `json:"last_call_at"`
}

// NewQuotaLedger creates a ledger over the given store. spacing is the
// minimum interval enforced between calls to the same API; zero disables
// burst smoothing.
func NewQuotaLedger(store QuotaStore, spacing time.Duration) *QuotaLedger {
	return &QuotaLedger{
		store:    store,
		spacing:  spacing,
		limiters: make(map[string]*rate.Limiter),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ensure seeds the counter for an API if it does not exist yet, and keeps a
// changed configured limit in sync.
func (l *QuotaLedger) Ensure(apiName, scope string, limit int) error {
	counter, err := l.store.QuotaCounter(apiName)
	if err != nil {
		return err
	}
	if counter == nil {
		counter = &models.QuotaCounter{
			APIName: apiName,
			Scope:   scope,
			Limit:   limit,
			Used:    0,
			ResetAt: models.NextReset(scope, l.now()),
		}
		log.Printf("Seeding quota counter for %s (%s limit %d)", apiName, scope, limit)
		return l.store.SaveQuotaCounter(counter)
	}
	if counter.Limit != limit || counter.Scope != scope {
		counter.Limit = limit
		counter.Scope = scope
		return l.store.SaveQuotaCounter(counter)
	}
	return nil
}

// CheckAndIncrement applies the lazy reset rule, fails with
// QuotaExceededError when the budget is used up, and otherwise consumes one
// call. The invariant used <= limit holds immediately after every return.
func (l *QuotaLedger) CheckAndIncrement(apiName string) error {
	// Burst protection: keep a minimum spacing between calls to one API.
	// The wait happens before the ledger lock so status reads never stall
	// behind it.
	if l.spacing > 0 {
		if err := l.limiter(apiName).Wait(context.Background()); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	counter, err := l.store.QuotaCounter(apiName)
	if err != nil {
		return err
	}
	if counter == nil {
		// No budget configured for this API; calls are unrestricted.
		log.Printf("No quota counter found for %s", apiName)
		return nil
	}

	now := l.now()
	resetApplied := counter.ResetIfDue(now)

	if counter.Used >= counter.Limit {
		if resetApplied {
			// Persist the reset even though this call is rejected; the
			// rejection can only happen here when limit is zero.
			if err := l.store.SaveQuotaCounter(counter); err != nil {
				return err
			}
		}
		return &QuotaExceededError{
			APIName: apiName,
			Limit:   counter.Limit,
			ResetAt: counter.ResetAt,
		}
	}

	counter.Used++
	callAt := l.now()
	counter.LastCallAt = &callAt
	return l.store.SaveQuotaCounter(counter)
}

// Status returns the reporting view for one API, applying the lazy reset for
// consistency. Nothing beyond the reset itself is mutated.
func (l *QuotaLedger) Status(apiName string) (*QuotaStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counter, err := l.store.QuotaCounter(apiName)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, nil
	}
	return l.status(counter)
}

// Statuses returns the reporting view for every configured API.
func (l *QuotaLedger) Statuses() ([]QuotaStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counters, err := l.store.QuotaCounters()
	if err != nil {
		return nil, err
	}
	statuses := make([]QuotaStatus, 0, len(counters))
	for i := range counters {
		st, err := l.status(&counters[i])
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *st)
	}
	return statuses, nil
}

func (l *QuotaLedger) status(counter *models.QuotaCounter) (*QuotaStatus, error) {
	if counter.ResetIfDue(l.now()) {
		if err := l.store.SaveQuotaCounter(counter); err != nil {
			return nil, err
		}
	}

	percent := 0.0
	if counter.Limit > 0 {
		percent = math.Round(float64(counter.Used)/float64(counter.Limit)*10000) / 100
	}
	return &QuotaStatus{
		APIName:     counter.APIName,
		Scope:       counter.Scope,
		Limit:       counter.Limit,
		Used:        counter.Used,
		Remaining:   counter.Remaining(),
		PercentUsed: percent,
		ResetAt:     counter.ResetAt,
		LastCallAt:  counter.LastCallAt,
	}, nil
}

func (l *QuotaLedger) limiter(apiName string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[apiName]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.spacing), 1)
		l.limiters[apiName] = lim
	}
	return lim
}
