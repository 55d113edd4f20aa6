package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errPermanent = errors.New("permission denied")

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("a", "primary", cfg)
	fg.AddFallback("secondary", "b")
	return fg
}

func TestFallbackGroup_UsesPrimaryFirst(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{})

	var got []string
	err := fg.Execute(func(v string) error { got = append(got, v); return nil })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("calls = %v, want [a]", got)
	}
	if names := fg.Names(); len(names) != 2 || names[1] != "secondary" {
		t.Fatalf("Names = %v", names)
	}
}

func TestExecuteWithResult_FailsOver(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{})

	got, err := ExecuteWithResult(fg, func(v string) (int, error) {
		if v == "a" {
			return 0, errTest
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v", got, err)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{})

	_, err := ExecuteWithResult(fg, func(string) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
	}
}

func TestFallbackGroup_PermanentErrorStopsFailover(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{Permanent: func(err error) bool { return errors.Is(err, errPermanent) }})

	var calls int
	err := fg.Execute(func(string) error { calls++; return errPermanent })
	if !errors.Is(err, errPermanent) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})

	_ = fg.Execute(func(v string) error {
		if v == "a" {
			return errTest
		}
		return nil
	})

	var got []string
	_ = fg.Execute(func(v string) error { got = append(got, v); return nil })
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("calls = %v, want [b]", got)
	}
}

func TestFallbackGroup_Observe(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen = map[string]int{}
		errs int
	)
	fg := newGroup(FallbackConfig{Observe: func(provider string, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen[provider]++
		if err != nil {
			errs++
		}
	}})

	_ = fg.Execute(func(v string) error {
		if v == "a" {
			return errTest
		}
		return nil
	})
	if seen["primary"] != 1 || seen["secondary"] != 1 || errs != 1 {
		t.Fatalf("seen = %v, errs = %d", seen, errs)
	}
}
