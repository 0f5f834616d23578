package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/stock"
)

// Column is one exported field: an explicit header name plus its extractor.
type Column[T any] struct {
	Name  string
	Value func(T) string
}

// Write emits a header row of column names followed by one row per record.
// With no records (template mode) only the header is written.
func Write[T any](w io.Writer, columns []Column[T], records []T) error {
	if len(columns) == 0 {
		return fmt.Errorf("csvexport: no columns")
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(columns))
	for _, rec := range records {
		for i, c := range columns {
			row[i] = c.Value(rec)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Template writes the header row only.
func Template[T any](w io.Writer, columns []Column[T]) error {
	return Write(w, columns, nil)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var ProductColumns = []Column[domain.Product]{
	{"id", func(p domain.Product) string { return p.ID }},
	{"name", func(p domain.Product) string { return p.Name }},
	{"sku", func(p domain.Product) string { return p.SKU }},
	{"category", func(p domain.Product) string { return p.Category }},
	{"price", func(p domain.Product) string { return p.Price.StringFixed(2) }},
	{"stockQuantity", func(p domain.Product) string { return strconv.Itoa(p.StockQuantity) }},
	{"lowStockThreshold", func(p domain.Product) string { return optionalInt(p.LowStockThreshold) }},
	{"stockStatus", func(p domain.Product) string { return string(stock.Classify(p.StockQuantity, p.LowStockThreshold)) }},
	{"isVisibleOnPOS", func(p domain.Product) string { return strconv.FormatBool(p.IsVisibleOnPOS) }},
	{"supplier", func(p domain.Product) string { return p.Supplier }},
	{"barcode", func(p domain.Product) string { return p.Barcode }},
	{"lastUpdatedAt", func(p domain.Product) string { return timestamp(p.LastUpdatedAt) }},
}

var CustomerColumns = []Column[domain.Customer]{
	{"id", func(c domain.Customer) string { return c.ID }},
	{"name", func(c domain.Customer) string { return c.Name }},
	{"email", func(c domain.Customer) string { return c.Email }},
	{"phone", func(c domain.Customer) string { return c.Phone }},
	{"address", func(c domain.Customer) string { return c.Address }},
	{"totalSpent", func(c domain.Customer) string { return c.TotalSpent.StringFixed(2) }},
	{"loyaltyPoints", func(c domain.Customer) string { return strconv.Itoa(c.LoyaltyPoints) }},
	{"birthday", func(c domain.Customer) string { return c.Birthday }},
	{"createdAt", func(c domain.Customer) string { return timestamp(c.CreatedAt) }},
}

var TransactionColumns = []Column[domain.Transaction]{
	{"id", func(t domain.Transaction) string { return t.ID }},
	{"timestamp", func(t domain.Transaction) string { return timestamp(t.Timestamp) }},
	{"status", func(t domain.Transaction) string { return string(t.Status) }},
	{"cashierName", func(t domain.Transaction) string { return t.CashierName }},
	{"customerName", func(t domain.Transaction) string { return t.CustomerName }},
	{"paymentMethod", func(t domain.Transaction) string { return string(t.PaymentMethod) }},
	{"items", func(t domain.Transaction) string { return itemSummary(t.Items) }},
	{"subtotal", func(t domain.Transaction) string { return t.Subtotal.StringFixed(2) }},
	{"taxAmount", func(t domain.Transaction) string { return t.TaxAmount.StringFixed(2) }},
	{"discountAmount", func(t domain.Transaction) string { return t.DiscountAmount.StringFixed(2) }},
	{"totalAmount", func(t domain.Transaction) string { return t.TotalAmount.StringFixed(2) }},
	{"originalTransactionId", func(t domain.Transaction) string { return t.OriginalTransactionID }},
}

func itemSummary(items []domain.LineItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
	}
	return strings.Join(parts, "; ")
}
