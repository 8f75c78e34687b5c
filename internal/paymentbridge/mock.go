package paymentbridge

import (
	"context"
	"fmt"
	"sync"
)

// MockClient records refund requests for tests and sandbox runs. Errors can
// be queued to simulate payment service outages.
type MockClient struct {
	mu       sync.Mutex
	seq      int
	errs     []error
	requests []RefundRequest
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

// FailWith queues errors consumed by subsequent InitiateRefund calls, one
// per call, before the default success behavior resumes.
func (c *MockClient) FailWith(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, errs...)
}

func (c *MockClient) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return nil, err
	}

	c.seq++
	c.requests = append(c.requests, req)
	return &RefundResult{RefundReference: fmt.Sprintf("REFUND-%06d", c.seq)}, nil
}

// Requests returns a copy of every refund successfully initiated.
func (c *MockClient) Requests() []RefundRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RefundRequest, len(c.requests))
	copy(out, c.requests)
	return out
}
