package reorder

import (
	"errors"
	"testing"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name          string
		in            Input
		reorderPoint  int
		orderUpTo     int
		quantity      int
		alert         bool
		daysUntilZero *float64
	}{
		{
			name:         "defaults with steady demand",
			in:           Input{CurrentStock: 20, SalesVelocity: 2},
			reorderPoint: 20, orderUpTo: 48, quantity: 28, alert: true,
			daysUntilZero: ptr(10),
		},
		{
			name:         "well stocked",
			in:           Input{CurrentStock: 100, SalesVelocity: 2},
			reorderPoint: 20, orderUpTo: 48, quantity: 0, alert: false,
			daysUntilZero: ptr(50),
		},
		{
			name:         "one above the reorder point",
			in:           Input{CurrentStock: 21, SalesVelocity: 2},
			reorderPoint: 20, orderUpTo: 48, quantity: 27, alert: false,
			daysUntilZero: ptr(10.5),
		},
		{
			name:         "fractional demand rounds up once",
			in:           Input{CurrentStock: 0, SalesVelocity: 0.1, LeadTimeDays: days(27), SafetyDays: 3, ReviewPeriodDays: 10},
			reorderPoint: 3, orderUpTo: 4, quantity: 4, alert: true,
			daysUntilZero: ptr(0),
		},
		{
			name:         "no sales",
			in:           Input{CurrentStock: 5, SalesVelocity: 0},
			reorderPoint: 0, orderUpTo: 0, quantity: 0, alert: false,
		},
		{
			name:         "same-day supplier",
			in:           Input{CurrentStock: 5, SalesVelocity: 2, LeadTimeDays: days(0)},
			reorderPoint: 6, orderUpTo: 34, quantity: 29, alert: true,
			daysUntilZero: ptr(2.5),
		},
		{
			name:         "oversold stock",
			in:           Input{CurrentStock: -3, SalesVelocity: 1, LeadTimeDays: days(2), SafetyDays: 1, ReviewPeriodDays: 4},
			reorderPoint: 3, orderUpTo: 7, quantity: 10, alert: true,
			daysUntilZero: ptr(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.in)
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if got.ReorderPoint != tt.reorderPoint || got.OrderUpTo != tt.orderUpTo || got.ReorderQuantity != tt.quantity || got.LowStockAlert != tt.alert {
				t.Fatalf("got %+v", got)
			}
			switch {
			case tt.daysUntilZero == nil && got.DaysUntilStockOut != nil:
				t.Fatalf("expected no stock-out estimate, got %v", *got.DaysUntilStockOut)
			case tt.daysUntilZero != nil && (got.DaysUntilStockOut == nil || *got.DaysUntilStockOut != *tt.daysUntilZero):
				t.Fatalf("expected %v days until stock-out, got %v", *tt.daysUntilZero, got.DaysUntilStockOut)
			}
		})
	}
}

func TestComputeRejectsNegativeInputs(t *testing.T) {
	for _, in := range []Input{
		{SalesVelocity: -1},
		{SalesVelocity: 1, LeadTimeDays: days(-1)},
		{SalesVelocity: 1, SafetyDays: -2},
	} {
		if _, err := Compute(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
}

func TestComputeReportsEffectiveDays(t *testing.T) {
	got, err := Compute(Input{SalesVelocity: 1})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.LeadTimeDays != DefaultLeadTimeDays || got.ReviewPeriodDays != DefaultReviewPeriodDays || got.SafetyDays != DefaultSafetyDays {
		t.Fatalf("defaults not reported: %+v", got)
	}
}

func TestComputeZeroLeadTimeIsNotDefaulted(t *testing.T) {
	got, err := Compute(Input{SalesVelocity: 1, LeadTimeDays: days(0)})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.LeadTimeDays != 0 {
		t.Fatalf("expected same-day lead time, got %d", got.LeadTimeDays)
	}
}

func ptr(v float64) *float64 { return &v }

func days(v int) *int { return &v }
