package port

import "errors"

var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
