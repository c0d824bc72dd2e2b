package usage

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPeriodKeys_TimezoneAware(t *testing.T) {
	utc := time.UTC
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 01:30 UTC is still the previous calendar day in New York.
	at := time.Date(2026, 3, 10, 1, 30, 0, 0, utc)

	if got := DayKey(at, utc); got != "2026-03-10" {
		t.Errorf("utc day key = %q", got)
	}
	if got := DayKey(at, ny); got != "2026-03-09" {
		t.Errorf("ny day key = %q", got)
	}
	if got := HourKey(at, utc); got != "2026-03-10T01" {
		t.Errorf("utc hour key = %q", got)
	}
}

func TestNextBoundaries(t *testing.T) {
	utc := time.UTC
	at := time.Date(2026, 12, 31, 23, 45, 12, 0, utc)

	if got := NextDayStart(at, utc); !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, utc)) {
		t.Errorf("next day start = %v", got)
	}
	if got := NextHourStart(at, utc); !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, utc)) {
		t.Errorf("next hour start = %v", got)
	}
}

func TestMemoryStore_IncrementAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Absent counter reads as zero.
	if n, err := s.Get(ctx, "u1", KindAnalysis, "2026-09-01"); err != nil || n != 0 {
		t.Fatalf("fresh counter: n=%d err=%v", n, err)
	}

	for i := int64(1); i <= 3; i++ {
		n, err := s.Increment(ctx, "u1", KindAnalysis, "2026-09-01")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != i {
			t.Fatalf("increment %d returned %d", i, n)
		}
	}

	// Different period key is an independent counter.
	if n, _ := s.Get(ctx, "u1", KindAnalysis, "2026-09-02"); n != 0 {
		t.Errorf("next day counter = %d, want 0", n)
	}
	// Different kind is independent too.
	if n, _ := s.Get(ctx, "u1", KindAPI, "2026-09-01"); n != 0 {
		t.Errorf("api counter = %d, want 0", n)
	}
}

func TestMemoryStore_TotalForPeriod(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s.Increment(ctx, "u1", KindAnalysis, "2026-09-01")
	}
	s.Increment(ctx, "u2", KindAnalysis, "2026-09-01")
	s.Increment(ctx, "u2", KindAnalysis, "2026-09-02")
	s.Increment(ctx, "u2", KindAPI, "2026-09-01")

	total, err := s.TotalForPeriod(ctx, KindAnalysis, "2026-09-01")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
}

func TestMemoryStore_ConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if _, err := s.Increment(ctx, "u1", KindAnalysis, "2026-09-01"); err != nil {
					t.Errorf("increment: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	n, _ := s.Get(ctx, "u1", KindAnalysis, "2026-09-01")
	if n != goroutines*perGoroutine {
		t.Fatalf("count = %d, want %d", n, goroutines*perGoroutine)
	}
}
