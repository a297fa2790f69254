package domain

import (
	"fmt"
	"strings"
	"time"
)

const dateOnlyLayout = "2006-01-02"

type FlashSale struct {
	ID        string
	ProductID string
	StartDate string
	EndDate   string
	CreatedBy string
	CreatedAt time.Time
}

// Window is the resolved, inclusive [Start, End] interval of a sale.
type Window struct {
	Start time.Time
	End   time.Time
}

// Window resolves the stored dates of the sale.
func (f FlashSale) Window() (Window, error) {
	return ParseWindow(f.StartDate, f.EndDate)
}

// ParseWindow accepts RFC3339 timestamps verbatim. A date-only start is
// 00:00:00.000 UTC and a date-only end is 23:59:59.999 UTC of that day.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseBound(start, false)
	if err != nil {
		return Window{}, fmt.Errorf("%w: invalid start date %q", ErrValidation, start)
	}
	e, err := parseBound(end, true)
	if err != nil {
		return Window{}, fmt.Errorf("%w: invalid end date %q", ErrValidation, end)
	}
	if !s.Before(e) {
		return Window{}, fmt.Errorf("%w: end date must be after start date", ErrValidation)
	}
	return Window{Start: s, End: e}, nil
}

func parseBound(v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	d, err := time.Parse(dateOnlyLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return d.Add(24*time.Hour - time.Millisecond), nil
	}
	return d, nil
}

// Check classifies now against the window.
func (w Window) Check(now time.Time) error {
	if now.Before(w.Start) {
		return ErrSaleNotStarted
	}
	if now.After(w.End) {
		return ErrSaleExpired
	}
	return nil
}
