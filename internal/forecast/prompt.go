package forecast

import (
	"fmt"
	"strings"
)

func stockOutPrompt(in StockOutInput) string {
	var b strings.Builder
	b.WriteString("You are an inventory analyst for a small retail store.\n")
	b.WriteString("Estimate when the product will run out of stock and suggest a reorder.\n\n")
	fmt.Fprintf(&b, "Product: %s\n", in.ProductName)
	fmt.Fprintf(&b, "Current stock: %d units\n", in.CurrentStock)
	fmt.Fprintf(&b, "Sales velocity: %.2f units per day\n", in.SalesVelocity)
	if in.SupplierLeadTimeDays != nil {
		fmt.Fprintf(&b, "Supplier lead time: %d days\n", *in.SupplierLeadTimeDays)
	}
	if strings.TrimSpace(in.HistoricalTrends) != "" {
		fmt.Fprintf(&b, "Historical trends: %s\n", in.HistoricalTrends)
	}
	b.WriteString("\nAnswer with predictedStockOut and reorderSuggestion only.")
	return b.String()
}

func reorderPrompt(in ReorderInput) string {
	var b strings.Builder
	b.WriteString("You are an inventory planner for a small retail store.\n")
	fmt.Fprintf(&b, "Recommend a %s reorder quantity for the product below.\n\n", in.TimeFrame)
	fmt.Fprintf(&b, "Product: %s (%s)\n", in.ProductName, in.ProductID)
	fmt.Fprintf(&b, "Current stock: %d units\n", in.CurrentStock)
	fmt.Fprintf(&b, "Sales velocity: %.2f units per day\n", in.SalesVelocity)
	if in.SupplierLeadTimeDays != nil {
		fmt.Fprintf(&b, "Supplier lead time: %d days\n", *in.SupplierLeadTimeDays)
	}
	fmt.Fprintf(&b, "Historical sales data (JSON): %s\n", in.HistoricalSalesData)
	b.WriteString("\nAnswer with reorderQuantity (non-negative integer), lowStockAlert and reasoning only.")
	return b.String()
}
