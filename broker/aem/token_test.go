package aem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	empty bool
}

func (f *countingFetcher) FetchToken(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	if f.empty {
		return "", false, nil
	}
	return fmt.Sprintf("token-%d", f.calls), true, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestTokenCacheWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := &countingFetcher{}
	cache := NewTokenCache(fetcher, 5*time.Minute, clock)
	ctx := context.Background()

	first, err := cache.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	clock.Advance(4 * time.Minute)
	second, err := cache.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first != second {
		t.Errorf("token within window = %q, want cached %q", second, first)
	}
	if fetcher.count() != 1 {
		t.Errorf("fetches = %d, want 1", fetcher.count())
	}

	clock.Advance(time.Minute)
	third, err := cache.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if third == first {
		t.Errorf("token after window = %q, want a new token", third)
	}
	if fetcher.count() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.count())
	}
}

func TestTokenCacheSingleFlight(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewTokenCache(fetcher, time.Minute, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Token(context.Background()); err != nil {
				t.Errorf("Token: %v", err)
			}
		}()
	}
	wg.Wait()

	if fetcher.count() != 1 {
		t.Errorf("fetches = %d, want 1", fetcher.count())
	}
}

func TestTokenCacheFetchError(t *testing.T) {
	wantErr := errors.New("token endpoint unavailable")
	fetcher := &countingFetcher{err: wantErr}
	cache := NewTokenCache(fetcher, 0, clockwork.NewFakeClock())

	if _, err := cache.Token(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
	// failures are not cached
	if _, err := cache.Token(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
	if fetcher.count() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.count())
	}
}

func TestTokenCacheEmptyResponse(t *testing.T) {
	cache := NewTokenCache(&countingFetcher{empty: true}, 0, nil)

	if _, err := cache.Token(context.Background()); err == nil {
		t.Error("expected error for missing access_token")
	}
}

func TestTokenCacheInvalidate(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewTokenCache(fetcher, time.Hour, clockwork.NewFakeClock())

	_, _ = cache.Token(context.Background())
	cache.Invalidate()
	_, _ = cache.Token(context.Background())

	if fetcher.count() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.count())
	}
}
