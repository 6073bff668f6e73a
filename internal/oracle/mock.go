package oracle

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const mockModel = "mock-oracle-v1"

// MockOracle returns a fixed verdict. The default is a deterministic high-confidence pass.
type MockOracle struct {
	mu      sync.Mutex
	verdict Verdict
	err     error
	delay   time.Duration
	calls   int
}

func NewMockOracle() *MockOracle {
	return &MockOracle{verdict: Verdict{
		Passed:     true,
		Confidence: 0.95,
		Checks:     map[string]interface{}{"mock": true},
		Reasoning:  "mock oracle approves all evidence",
		Flags:      []string{},
	}}
}

func (o *MockOracle) Name() string { return "mock" }

// Respond sets the verdict returned by later calls.
func (o *MockOracle) Respond(passed bool, confidence float64, flags ...string) *MockOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdict.Passed = passed
	o.verdict.Confidence = confidence
	o.verdict.Flags = flags
	o.err = nil
	return o
}

// Fail makes later calls return err.
func (o *MockOracle) Fail(err error) *MockOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
	return o
}

// Delay makes later calls block for d or until the context is done.
func (o *MockOracle) Delay(d time.Duration) *MockOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = d
	return o
}

func (o *MockOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *MockOracle) Verify(ctx context.Context, req Request) (*Verdict, error) {
	o.mu.Lock()
	o.calls++
	v, err, delay := o.verdict, o.err, o.delay
	o.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	v.Flags = append([]string{}, v.Flags...)
	checks := make(map[string]interface{}, len(v.Checks))
	for k, val := range v.Checks {
		checks[k] = val
	}
	v.Checks = checks
	v.Raw, _ = json.Marshal(v)
	v.Metrics = Metrics{Model: mockModel}
	return &v, nil
}
