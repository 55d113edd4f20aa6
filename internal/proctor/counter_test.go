package proctor

import (
	"strings"
	"sync"
	"testing"
)

func TestCounter_ForcesOnceAtLimit(t *testing.T) {
	t.Parallel()
	var reasons []string
	var mu sync.Mutex
	c := NewCounter(3, func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, reason)
	})

	for i, kind := range []string{"tab_switch", "tab_switch", "window_blur", "tab_switch"} {
		n, fired := c.Report(Violation{Kind: kind, Detail: "hidden 4s"})
		if n != i+1 {
			t.Fatalf("count = %d, want %d", n, i+1)
		}
		if fired != (i == 2) {
			t.Fatalf("violation %d fired = %v", i+1, fired)
		}
	}
	if len(reasons) != 1 {
		t.Fatalf("force calls = %d, want 1", len(reasons))
	}
	if !strings.Contains(reasons[0], "window_blur") || !strings.Contains(reasons[0], "hidden 4s") {
		t.Fatalf("reason = %q", reasons[0])
	}
	if c.Remaining() != 0 || c.Count() != 4 {
		t.Fatalf("remaining = %d, count = %d", c.Remaining(), c.Count())
	}
}

func TestCounter_Concurrent(t *testing.T) {
	t.Parallel()
	var fired int
	var mu sync.Mutex
	c := NewCounter(5, func(string) {
		mu.Lock()
		defer mu.Unlock()
		fired++
	})
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Report(Violation{Kind: "tab_switch"})
		}()
	}
	wg.Wait()
	if fired != 1 || c.Count() != 50 {
		t.Fatalf("fired = %d, count = %d", fired, c.Count())
	}
}

func TestCounter_DefaultLimit(t *testing.T) {
	t.Parallel()
	c := NewCounter(0, nil)
	if c.Remaining() != DefaultMaxViolations {
		t.Fatalf("remaining = %d", c.Remaining())
	}
	c.Report(Violation{Kind: "x"})
	c.Report(Violation{Kind: "x"})
	if _, fired := c.Report(Violation{Kind: "x"}); !fired {
		t.Fatal("default limit not applied")
	}
}
