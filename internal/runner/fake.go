package runner

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeCall records one invocation seen by a Fake.
type FakeCall struct {
	Name    string
	Args    []string
	Context RunContext
	Timeout time.Duration
}

// FakeResponse is what a Fake returns for one invocation.
type FakeResponse struct {
	Result Result
	Err    error
}

// Fake is a scripted Runner for tests. Responses are consumed in FIFO order;
// once the script is exhausted the last response repeats. A nil script
// returns empty successful results.
type Fake struct {
	mu        sync.Mutex
	script    []FakeResponse
	calls     []FakeCall
	OnRun     func(call FakeCall) // optional observation hook
	RunDelay  time.Duration       // simulated command latency
	callCount int
}

func NewFake(script ...FakeResponse) *Fake {
	return &Fake{script: script}
}

func (f *Fake) Run(ctx context.Context, name string, args []string, rc RunContext, timeout time.Duration) (Result, error) {
	f.mu.Lock()
	call := FakeCall{Name: name, Args: args, Context: rc, Timeout: timeout}
	f.calls = append(f.calls, call)
	idx := f.callCount
	f.callCount++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	var resp FakeResponse
	if idx >= 0 {
		resp = f.script[idx]
	}
	hook := f.OnRun
	delay := f.RunDelay
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return resp.Result, resp.Err
}

// Append adds responses to the end of the script.
func (f *Fake) Append(resp ...FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, resp...)
}

func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// Arg joins of the i-th call, for readable assertions.
func (f *Fake) ArgLine(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.calls) {
		return ""
	}
	return f.calls[i].Name + " " + strings.Join(f.calls[i].Args, " ")
}
