package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrProductNotFound   = errors.New("product not found")
	ErrSaleNotFound      = errors.New("flash sale not found")
	ErrSaleNotStarted    = errors.New("flash sale has not started")
	ErrSaleExpired       = errors.New("flash sale has ended")
	ErrAlreadyPurchased  = errors.New("already purchased")
	ErrOutOfStock        = errors.New("out of stock")
	ErrEnqueueFailed     = errors.New("enqueue failed")
	ErrProcessingFailed  = errors.New("processing failed")
	ErrDurableOutOfStock = errors.New("durable stock exhausted")
	ErrCounterNotSeeded  = errors.New("stock counter not seeded")
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonValidation       Reason = "VALIDATION_ERROR"
	ReasonNotFound         Reason = "NOT_FOUND"
	ReasonNotStarted       Reason = "NOT_STARTED"
	ReasonExpired          Reason = "EXPIRED"
	ReasonAlreadyPurchased Reason = "ALREADY_PURCHASED"
	ReasonOutOfStock       Reason = "OUT_OF_STOCK"
	ReasonEnqueueFailed    Reason = "ENQUEUE_FAILED"
	ReasonProcessingFailed Reason = "PROCESSING_FAILED"
	ReasonInternal         Reason = "INTERNAL"
)

// ReasonOf maps an error to the reason reported to callers.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrSaleNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrSaleNotStarted):
		return ReasonNotStarted
	case errors.Is(err, ErrSaleExpired):
		return ReasonExpired
	case errors.Is(err, ErrAlreadyPurchased):
		return ReasonAlreadyPurchased
	case errors.Is(err, ErrOutOfStock):
		return ReasonOutOfStock
	case errors.Is(err, ErrEnqueueFailed):
		return ReasonEnqueueFailed
	case errors.Is(err, ErrProcessingFailed), errors.Is(err, ErrDurableOutOfStock):
		return ReasonProcessingFailed
	default:
		return ReasonInternal
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsRetryable(err error) bool {
	var p *permanentError
	return err != nil && !errors.As(err, &p)
}
