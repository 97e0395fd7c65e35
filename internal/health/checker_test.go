package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestCheck_ShallowIsAlwaysHealthy(t *testing.T) {
	c := NewChecker("vod-worker", nil)
	c.Register("bucket", func(ctx context.Context) error {
		return errors.New("unreachable")
	})

	status := c.Check(context.Background(), false)
	if status.Status != "healthy" {
		t.Errorf("shallow check status = %s, want healthy", status.Status)
	}
	if len(status.Checks) != 0 {
		t.Errorf("shallow check ran probes: %v", status.Checks)
	}
}

func TestCheck_DeepRunsProbes(t *testing.T) {
	c := NewChecker("vod-worker", nil)
	c.Register("bucket", func(ctx context.Context) error { return nil })
	c.Register("queue", func(ctx context.Context) error {
		return errors.New("queue does not exist")
	})

	status := c.Check(context.Background(), true)
	if status.Status != "degraded" {
		t.Errorf("deep check status = %s, want degraded", status.Status)
	}
	if status.Checks["bucket"].Status != "healthy" {
		t.Errorf("bucket check = %v, want healthy", status.Checks["bucket"])
	}
	if status.Checks["queue"].Status != "unhealthy" {
		t.Errorf("queue check = %v, want unhealthy", status.Checks["queue"])
	}
	if status.Checks["queue"].Error == "" {
		t.Error("queue check should carry the probe error")
	}
}

func TestCheck_CachesShallowResult(t *testing.T) {
	c := NewChecker("vod-worker", nil)

	first := c.Check(context.Background(), false)
	second := c.Check(context.Background(), false)
	if first != second {
		t.Error("expected cached status on second shallow check")
	}
}

func TestHandler_StatusCodes(t *testing.T) {
	c := NewChecker("vod-worker", nil)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("handler status = %d, want 200", rec.Code)
	}

	var status Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.Service != "vod-worker" {
		t.Errorf("service = %s, want vod-worker", status.Service)
	}
}

func TestDeepHandler_RateLimited(t *testing.T) {
	c := NewChecker("vod-worker", nil)
	c.RecordDeepCheck()

	rec := httptest.NewRecorder()
	c.DeepHandler()(rec, httptest.NewRequest("GET", "/health/deep", nil))
	if rec.Code != 429 {
		t.Errorf("rate-limited deep check status = %d, want 429", rec.Code)
	}
}

func TestDeepHandler_RateLimitDoesNotPolluteCache(t *testing.T) {
	c := NewChecker("vod-worker", nil)
	c.RecordDeepCheck()

	// Prime the shallow cache, then serve concurrent rate-limited requests
	// against it. Each must annotate its own copy of the cached status.
	c.Check(context.Background(), false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			c.DeepHandler()(rec, httptest.NewRequest("GET", "/health/deep", nil))

			var status Status
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Errorf("decode response: %v", err)
				return
			}
			if _, ok := status.Checks["rate_limited"]; !ok {
				t.Error("rate-limited response missing rate_limited check")
			}
		}()
	}
	wg.Wait()

	cached := c.Check(context.Background(), false)
	if _, ok := cached.Checks["rate_limited"]; ok {
		t.Error("rate_limited annotation leaked into the cached status")
	}
}
