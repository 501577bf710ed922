package resilience

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

const (
	scenarioTimeout = 20 * time.Millisecond
	scenarioWait    = 30 * time.Millisecond
)

// runScenario drives a breaker through ops and returns the recorded
// transitions and the number of calls rejected with ErrCircuitOpen.
//
//	F  failing call        S  successful call
//	C  cancelled call      W  wait past the reset timeout
//	R  manual Reset
func runScenario(t *testing.T, cb *CircuitBreaker, ops string) int {
	t.Helper()
	rejected := 0
	call := func(ret error) {
		err := cb.Execute(func() error { return ret })
		switch {
		case errors.Is(err, ErrCircuitOpen):
			rejected++
		case !errors.Is(err, ret):
			t.Fatalf("Execute returned %v, want %v", err, ret)
		}
	}
	for _, op := range ops {
		switch op {
		case 'F':
			call(errTest)
		case 'S':
			call(nil)
		case 'C':
			call(context.Canceled)
		case 'W':
			time.Sleep(scenarioWait)
		case 'R':
			cb.Reset()
		default:
			t.Fatalf("unknown op %q", op)
		}
	}
	return rejected
}

func TestCircuitBreaker_Scenarios(t *testing.T) {
	t.Parallel()

	const (
		c2o = "closed->open"
		o2h = "open->half-open"
		h2c = "half-open->closed"
		h2o = "half-open->open"
		o2c = "open->closed"
	)
	tests := []struct {
		name         string
		ops          string
		wantState    State
		wantRejected int
		wantTrans    []string
	}{
		{"successes keep it closed", "SSS", StateClosed, 0, nil},
		{"success resets the failure count", "FSFSF", StateClosed, 0, nil},
		{"consecutive failures open", "FF", StateOpen, 0, []string{c2o}},
		{"open rejects without calling", "FFSS", StateOpen, 2, []string{c2o}},
		{"probes close after budget", "FFWSS", StateClosed, 0, []string{c2o, o2h, h2c}},
		{"single probe keeps half-open", "FFWS", StateHalfOpen, 0, []string{c2o, o2h}},
		{"failed probe reopens", "FFWFS", StateOpen, 1, []string{c2o, o2h, h2o}},
		{"cancellation is not a failure", "CCCC", StateClosed, 0, nil},
		{"cancelled probe frees its slot", "FFWCSS", StateClosed, 0, []string{c2o, o2h, h2c}},
		{"reset closes an open breaker", "FFRS", StateClosed, 0, []string{c2o, o2c}},
		{"reset while closed is silent", "SR", StateClosed, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				mu    sync.Mutex
				trans []string
			)
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				Name:         "deepgram",
				MaxFailures:  2,
				ResetTimeout: scenarioTimeout,
				HalfOpenMax:  2,
				OnStateChange: func(name string, from, to State) {
					if name != "deepgram" {
						t.Errorf("callback name = %q", name)
					}
					mu.Lock()
					trans = append(trans, from.String()+"->"+to.String())
					mu.Unlock()
				},
			})

			if got := runScenario(t, cb, tt.ops); got != tt.wantRejected {
				t.Errorf("rejected calls = %d, want %d", got, tt.wantRejected)
			}

			cb.mu.Lock()
			state := cb.state
			cb.mu.Unlock()
			if state != tt.wantState {
				t.Errorf("state = %v, want %v", state, tt.wantState)
			}

			mu.Lock()
			defer mu.Unlock()
			if !slices.Equal(trans, tt.wantTrans) {
				t.Errorf("transitions = %v, want %v", trans, tt.wantTrans)
			}
		})
	}
}

func TestCircuitBreaker_StateReportsHalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper", MaxFailures: 1, ResetTimeout: scenarioTimeout})

	runScenario(t, cb, "F")
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v right after opening", got)
	}
	time.Sleep(scenarioWait)
	if got := cb.State(); got != StateHalfOpen {
		t.Errorf("State() = %v after the reset timeout, want half-open", got)
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "openai"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed || cb.Name() != "openai" {
		t.Errorf("new breaker: state %v, name %q", cb.State(), cb.Name())
	}
}

func TestCircuitBreaker_CustomIsFailure(t *testing.T) {
	t.Parallel()
	errRejectedAudio := errors.New("rejected audio")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "google",
		MaxFailures: 2,
		IsFailure:   func(err error) bool { return !errors.Is(err, errRejectedAudio) },
	})

	for range 5 {
		_ = cb.Execute(func() error { return errRejectedAudio })
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after ignored errors", cb.State())
	}
	runScenario(t, cb, "FF")
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
