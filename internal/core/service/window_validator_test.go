package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

func TestValidate_Window(t *testing.T) {
	t0 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	src := &mockWindowSource{sales: map[string]*domain.FlashSale{
		"item-1": {ID: "sale-1", ProductID: "item-1", StartDate: t0.Format(time.RFC3339), EndDate: t1.Format(time.RFC3339)},
	}}

	cases := []struct {
		name string
		now  time.Time
		want error
	}{
		{"before start", t0.Add(-time.Minute), domain.ErrSaleNotStarted},
		{"at start", t0, nil},
		{"inside", t0.Add(30 * time.Minute), nil},
		{"at end", t1, nil},
		{"after end", t1.Add(time.Second), domain.ErrSaleExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewWindowValidator(src, func() time.Time { return tc.now })
			err := v.Validate(context.Background(), "item-1")
			if tc.want == nil && err != nil {
				t.Errorf("expected pass, got: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_NotFound(t *testing.T) {
	v := NewWindowValidator(&mockWindowSource{sales: map[string]*domain.FlashSale{}}, nil)

	err := v.Validate(context.Background(), "missing")
	if !errors.Is(err, domain.ErrSaleNotFound) {
		t.Errorf("expected ErrSaleNotFound, got: %v", err)
	}
}

func TestValidate_MalformedDates(t *testing.T) {
	src := &mockWindowSource{sales: map[string]*domain.FlashSale{
		"item-1": {ID: "sale-1", ProductID: "item-1", StartDate: "tomorrow", EndDate: "2026-10-20"},
	}}
	v := NewWindowValidator(src, nil)

	err := v.Validate(context.Background(), "item-1")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}
