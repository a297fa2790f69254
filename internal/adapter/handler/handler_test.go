package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

var testSecret = []byte("test-secret")

type stubAdmitter struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (s *stubAdmitter) Admit(ctx context.Context, userID, username, productID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID+"|"+username+"|"+productID)
	if s.err != nil {
		return "", s.err
	}
	return "job-1", nil
}

var admissionErrors = []struct {
	name   string
	err    error
	status int
	reason domain.Reason
}{
	{"not started", domain.ErrSaleNotStarted, 403, domain.ReasonNotStarted},
	{"expired", domain.ErrSaleExpired, 410, domain.ReasonExpired},
	{"sale not found", domain.ErrSaleNotFound, 404, domain.ReasonNotFound},
	{"product not found", domain.ErrProductNotFound, 404, domain.ReasonNotFound},
	{"already purchased", domain.ErrAlreadyPurchased, 409, domain.ReasonAlreadyPurchased},
	{"out of stock", domain.ErrOutOfStock, 410, domain.ReasonOutOfStock},
	{"enqueue failed", fmt.Errorf("%w: broker down", domain.ErrEnqueueFailed), 503, domain.ReasonEnqueueFailed},
	{"internal", fmt.Errorf("redis: connection refused"), 500, domain.ReasonInternal},
}
