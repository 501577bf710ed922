package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// providerChain builds a group over provider names, so the value passed to
// the callback identifies the provider being tried.
func providerChain(cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], cfg)
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestExecuteWithResult_Failover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failing   []string
		wantFrom  string
		wantTried []string
		wantAll   bool
	}{
		{"primary serves", nil, "deepgram", []string{"deepgram"}, false},
		{"first fallback serves", []string{"deepgram"}, "openai", []string{"deepgram", "openai"}, false},
		{"last fallback serves", []string{"deepgram", "openai"}, "whisper", []string{"deepgram", "openai", "whisper"}, false},
		{"every provider fails", []string{"deepgram", "openai", "whisper"}, "", []string{"deepgram", "openai", "whisper"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := providerChain(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}},
				"deepgram", "openai", "whisper")

			var tried []string
			got, from, err := ExecuteWithResult(context.Background(), fg, func(p string) (string, error) {
				tried = append(tried, p)
				if slices.Contains(tt.failing, p) {
					return "", errTest
				}
				return "words from " + p, nil
			})

			if !slices.Equal(tried, tt.wantTried) {
				t.Errorf("tried %v, want %v", tried, tt.wantTried)
			}
			if tt.wantAll {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping the provider error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if from != tt.wantFrom || got != "words from "+tt.wantFrom {
				t.Errorf("result %q from %q, want %q", got, from, tt.wantFrom)
			}
		})
	}
}

func TestFallbackGroup_OpenBreakerIsSkipped(t *testing.T) {
	t.Parallel()
	fg := providerChain(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	}, "deepgram", "openai")

	primaryCalls := 0
	call := func(p string) error {
		if p == "deepgram" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	for range 5 {
		if err := fg.Execute(context.Background(), call); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if primaryCalls != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", primaryCalls)
	}
	if st := fg.States(); st["deepgram"] != StateOpen || st["openai"] != StateClosed {
		t.Errorf("States() = %v", st)
	}
	if !fg.Available() {
		t.Error("Available() = false with a closed fallback")
	}
}

func TestFallbackGroup_StopsEarly(t *testing.T) {
	t.Parallel()
	errRejectedAudio := errors.New("rejected audio")

	t.Run("permanent error", func(t *testing.T) {
		t.Parallel()
		fg := providerChain(FallbackConfig{
			Permanent: func(err error) bool { return errors.Is(err, errRejectedAudio) },
		}, "deepgram", "openai")

		calls := 0
		_, from, err := ExecuteWithResult(context.Background(), fg, func(string) (string, error) {
			calls++
			return "", errRejectedAudio
		})
		if !errors.Is(err, errRejectedAudio) || errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want the bare permanent error", err)
		}
		if calls != 1 || from != "deepgram" {
			t.Errorf("calls = %d from %q, want a single call on deepgram", calls, from)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		fg := providerChain(FallbackConfig{}, "deepgram", "openai")

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, _, err := ExecuteWithResult(ctx, fg, func(string) (string, error) {
			calls++
			cancel()
			return "", context.Canceled
		})
		if !errors.Is(err, context.Canceled) || calls != 1 {
			t.Fatalf("err = %v after %d calls, want context.Canceled after 1", err, calls)
		}
		if st := fg.States()["deepgram"]; st != StateClosed {
			t.Errorf("cancellation tripped the breaker: %v", st)
		}
	})
}

func TestFallbackGroup_NamesAndAvailability(t *testing.T) {
	t.Parallel()
	fg := providerChain(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}, "google", "whisper")

	if got := fg.Names(); !slices.Equal(got, []string{"google", "whisper"}) {
		t.Fatalf("Names() = %v", got)
	}
	_ = fg.Execute(context.Background(), func(string) error { return errTest })
	if fg.Available() {
		t.Error("Available() = true with every breaker open")
	}
}
