package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/flashsale-orders/internal/port"
)

type WindowValidator struct {
	source port.WindowSource
	now    func() time.Time
}

func NewWindowValidator(source port.WindowSource, now func() time.Time) *WindowValidator {
	if now == nil {
		now = time.Now
	}
	return &WindowValidator{source: source, now: now}
}

// Validate returns nil while the product's sale is active, otherwise one of
// domain.ErrSaleNotFound, ErrSaleNotStarted or ErrSaleExpired.
func (v *WindowValidator) Validate(ctx context.Context, productID string) error {
	sale, err := v.source.FindByProductID(ctx, productID)
	if err != nil {
		return err
	}

	window, err := sale.Window()
	if err != nil {
		return fmt.Errorf("flash sale %s: %w", sale.ID, err)
	}

	if err := window.Check(v.now()); err != nil {
		return fmt.Errorf("product %s: %w", productID, err)
	}
	return nil
}
