package reorder

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	DefaultLeadTimeDays     = 7
	DefaultReviewPeriodDays = 14
	DefaultSafetyDays       = 3
)

var ErrInvalidInput = errors.New("invalid reorder input")

// Input describes one product. A nil LeadTimeDays and zero review or safety
// days fall back to the defaults; an explicit zero lead time is a same-day
// supplier. CurrentStock may be negative when a past oversell was allowed.
type Input struct {
	CurrentStock     int
	SalesVelocity    float64
	LeadTimeDays     *int
	ReviewPeriodDays int
	SafetyDays       int
}

type Result struct {
	ReorderPoint     int  `json:"reorderPoint"`
	OrderUpTo        int  `json:"orderUpTo"`
	ReorderQuantity  int  `json:"reorderQuantity"`
	LowStockAlert    bool `json:"lowStockAlert"`
	LeadTimeDays     int  `json:"leadTimeDays"`
	ReviewPeriodDays int  `json:"reviewPeriodDays"`
	SafetyDays       int  `json:"safetyDays"`
	// DaysUntilStockOut is nil when nothing sells.
	DaysUntilStockOut *float64 `json:"daysUntilStockOut,omitempty"`
}

// Compute applies the reorder-point policy:
//
//	reorderPoint = ceil(velocity*leadTime + velocity*safetyDays)
//	orderUpTo    = reorderPoint + ceil(velocity*reviewPeriod)
//	quantity     = max(0, orderUpTo - currentStock)
//	alert        = currentStock <= reorderPoint
//
// Arithmetic is decimal so that 0.1*30 rounds up to 3, not 4.
func Compute(in Input) (Result, error) {
	lead := DefaultLeadTimeDays
	if in.LeadTimeDays != nil {
		lead = *in.LeadTimeDays
	}
	if in.SalesVelocity < 0 || lead < 0 || in.ReviewPeriodDays < 0 || in.SafetyDays < 0 {
		return Result{}, ErrInvalidInput
	}
	review := orDefault(in.ReviewPeriodDays, DefaultReviewPeriodDays)
	safety := orDefault(in.SafetyDays, DefaultSafetyDays)

	velocity := decimal.NewFromFloat(in.SalesVelocity)
	leadDemand := velocity.Mul(decimal.NewFromInt(int64(lead)))
	safetyStock := velocity.Mul(decimal.NewFromInt(int64(safety)))
	reorderPoint := int(leadDemand.Add(safetyStock).Ceil().IntPart())
	orderUpTo := reorderPoint + int(velocity.Mul(decimal.NewFromInt(int64(review))).Ceil().IntPart())

	res := Result{
		ReorderPoint:     reorderPoint,
		OrderUpTo:        orderUpTo,
		ReorderQuantity:  max(0, orderUpTo-in.CurrentStock),
		LowStockAlert:    in.CurrentStock <= reorderPoint,
		LeadTimeDays:     lead,
		ReviewPeriodDays: review,
		SafetyDays:       safety,
	}
	if velocity.IsPositive() {
		days, _ := decimal.NewFromInt(int64(max(0, in.CurrentStock))).DivRound(velocity, 2).Float64()
		res.DaysUntilStockOut = &days
	}
	return res, nil
}

func orDefault(v int, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
