package provider

import (
	"context"
	"sync"
)

// CaptureProvider records attempts for use in tests. Fail, when set, is
// returned from every attempt after it is recorded.
type CaptureProvider struct {
	ID   string
	Fail error

	mu    sync.Mutex
	Calls []Request
}

// NewCaptureProvider creates a CaptureProvider that always succeeds.
func NewCaptureProvider(name string) *CaptureProvider {
	return &CaptureProvider{ID: name}
}

func (c *CaptureProvider) Name() string { return c.ID }

func (c *CaptureProvider) Attempt(_ context.Context, req Request) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, req)
	if c.Fail != nil {
		return nil, c.Fail
	}
	return &Result{Status: "captured"}, nil
}

// Count returns the number of recorded attempts.
func (c *CaptureProvider) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Last returns the most recent request, or false if none was recorded.
func (c *CaptureProvider) Last() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return Request{}, false
	}
	return c.Calls[len(c.Calls)-1], true
}

// Reset clears all recorded calls.
func (c *CaptureProvider) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}
