package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/session"
	"posadmin/backend/internal/store"
	"posadmin/backend/internal/validate"
	"posadmin/backend/internal/xid"
)

// totalsTolerance is how far client-computed totals may drift from ours.
var totalsTolerance = decimal.RequireFromString("0.005")

type LineInput struct {
	ProductID string          `json:"productId" validate:"required"`
	Name      string          `json:"name" validate:"max=200"`
	SKU       string          `json:"sku" validate:"max=64"`
	Quantity  int             `json:"quantity" validate:"min=1,max=100000"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type CommitRequest struct {
	Items          []LineInput          `json:"items" validate:"required,min=1,dive"`
	DiscountAmount decimal.Decimal      `json:"discountAmount"`
	Subtotal       *decimal.Decimal     `json:"subtotal,omitempty"`
	TaxAmount      *decimal.Decimal     `json:"taxAmount,omitempty"`
	TotalAmount    *decimal.Decimal     `json:"totalAmount,omitempty"`
	PaymentMethod  domain.PaymentMethod `json:"paymentMethod" validate:"required,oneof=cash card mobile other"`
	CustomerID     string               `json:"customerId"`
	CustomerName   string               `json:"customerName" validate:"max=200"`
	IdempotencyKey string               `json:"idempotencyKey" validate:"max=128"`
}

type CommitResult struct {
	Transaction domain.Transaction `json:"transaction"`
	Duplicate   bool               `json:"duplicate"`
	Warnings    []string           `json:"warnings,omitempty"`
}

type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
}

// ComputeTotals prices a cart: tax is charged on the discounted subtotal and
// rounded to cents.
func ComputeTotals(items []domain.LineItem, discount decimal.Decimal, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	tax := subtotal.Sub(discount).Mul(taxRate).Round(2)
	return Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discount,
		TotalAmount:    subtotal.Add(tax).Sub(discount),
	}
}

// CommitSale records a sale, decrements stock and moves the customer's
// aggregates as one unit. A repeated idempotency key returns the first result.
func (s *Service) CommitSale(ctx context.Context, req CommitRequest) (CommitResult, error) {
	sess, err := s.authorize(ctx, rbac.TransactionCreate)
	if err != nil {
		return CommitResult{}, err
	}
	return s.commit(ctx, sess, req)
}

func (s *Service) commit(ctx context.Context, sess *session.Session, req CommitRequest) (CommitResult, error) {
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.repo.FindTransactionByIdempotency(ctx, sess.StoreID(), key)
		if err == nil {
			s.metrics.ObserveCommit("duplicate")
			return CommitResult{Transaction: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return CommitResult{}, translate(err)
		}
	}

	tx, err := s.buildTransaction(ctx, sess, req)
	if err != nil {
		s.metrics.ObserveCommit("rejected")
		return CommitResult{}, err
	}

	outcome, err := s.repo.CommitTransaction(ctx, tx, s.stockPolicy)
	if err != nil {
		s.metrics.ObserveCommit("rejected")
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"store_id": tx.StoreID,
			"error":    err.Error(),
		}), "transaction.commit_rejected")
		return CommitResult{}, translate(err)
	}

	result := CommitResult{Transaction: outcome.Transaction, Duplicate: outcome.Duplicate}
	if outcome.Duplicate {
		s.metrics.ObserveCommit("duplicate")
		return result, nil
	}

	s.metrics.ObserveCommit("completed")
	for _, productID := range outcome.Oversold {
		result.Warnings = append(result.Warnings, fmt.Sprintf("product %s is now below zero stock", productID))
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"transaction_id": outcome.Transaction.ID,
			"product_id":     productID,
		}), "inventory.oversold")
	}
	s.logAudit(ctx, sess, "transaction.commit", "transaction", outcome.Transaction.ID,
		fmt.Sprintf("total %s via %s", outcome.Transaction.TotalAmount.StringFixed(2), outcome.Transaction.PaymentMethod))
	return result, nil
}

func (s *Service) buildTransaction(ctx context.Context, sess *session.Session, req CommitRequest) (domain.Transaction, error) {
	if err := validate.Struct(req); err != nil {
		return domain.Transaction{}, err
	}
	for i, line := range req.Items {
		if !line.UnitPrice.IsPositive() {
			return domain.Transaction{}, apperr.Invalid(fmt.Sprintf("items[%d].unitPrice", i), "must be greater than 0")
		}
	}

	st, err := s.repo.GetStore(ctx, sess.StoreID())
	if err != nil {
		return domain.Transaction{}, translate(err)
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, line := range req.Items {
		name, sku := strings.TrimSpace(line.Name), strings.TrimSpace(line.SKU)
		if name == "" {
			// The commit itself reports unknown products.
			if p, err := s.repo.GetProduct(ctx, st.ID, line.ProductID); err == nil {
				name = p.Name
				if sku == "" {
					sku = p.SKU
				}
			}
		}
		unit := line.UnitPrice.Round(2)
		items = append(items, domain.LineItem{
			ProductID:  line.ProductID,
			Name:       name,
			SKU:        sku,
			Quantity:   line.Quantity,
			UnitPrice:  unit,
			TotalPrice: unit.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}

	discount := req.DiscountAmount.Round(2)
	totals := ComputeTotals(items, discount, st.TaxRate)
	if discount.IsNegative() || discount.GreaterThan(totals.Subtotal) {
		return domain.Transaction{}, apperr.Invalid("discountAmount", "must be between 0 and the subtotal")
	}
	fields := apperr.FieldErrors{}
	checkTotal(fields, "subtotal", req.Subtotal, totals.Subtotal)
	checkTotal(fields, "taxAmount", req.TaxAmount, totals.TaxAmount)
	checkTotal(fields, "totalAmount", req.TotalAmount, totals.TotalAmount)
	if len(fields) > 0 {
		return domain.Transaction{}, apperr.New(apperr.CodeValidation, "totals do not match the line items").WithFields(fields)
	}

	customerName := strings.TrimSpace(req.CustomerName)
	if req.CustomerID != "" && customerName == "" {
		if c, err := s.repo.GetCustomer(ctx, st.ID, req.CustomerID); err == nil {
			customerName = c.Name
		}
	}
	identity := sess.Identity()
	cashierName := identity.DisplayName
	if cashierName == "" {
		cashierName = identity.Email
	}

	return domain.Transaction{
		ID:             xid.New("tx"),
		StoreID:        st.ID,
		Timestamp:      s.now().UTC(),
		CashierID:      sess.UID(),
		CashierName:    cashierName,
		Items:          items,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.TaxAmount,
		DiscountAmount: totals.DiscountAmount,
		TotalAmount:    totals.TotalAmount,
		PaymentMethod:  req.PaymentMethod,
		CustomerID:     req.CustomerID,
		CustomerName:   customerName,
		Status:         domain.TxStatusCompleted,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}, nil
}

func checkTotal(fields apperr.FieldErrors, name string, given *decimal.Decimal, computed decimal.Decimal) {
	if given == nil {
		return
	}
	if given.Sub(computed).Abs().GreaterThanOrEqual(totalsTolerance) {
		fields[name] = "expected " + computed.StringFixed(2)
	}
}

type RefundLine struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1,max=100000"`
}

// RefundRequest refunds the listed lines, or everything still refundable
// when Items is empty.
type RefundRequest struct {
	Items  []RefundLine `json:"items" validate:"omitempty,dive"`
	Reason string       `json:"reason" validate:"max=500"`
}

func (s *Service) Refund(ctx context.Context, transactionID string, req RefundRequest) (domain.RefundOutcome, error) {
	sess, err := s.authorize(ctx, rbac.TransactionRefund)
	if err != nil {
		return domain.RefundOutcome{}, err
	}
	if err := validate.Struct(req); err != nil {
		s.metrics.ObserveRefund("rejected")
		return domain.RefundOutcome{}, err
	}

	refund, err := s.buildRefund(ctx, sess, transactionID, req)
	if err != nil {
		s.metrics.ObserveRefund("rejected")
		return domain.RefundOutcome{}, err
	}
	outcome, err := s.repo.RefundTransaction(ctx, refund)
	if err != nil {
		s.metrics.ObserveRefund("rejected")
		return domain.RefundOutcome{}, translate(err)
	}

	s.metrics.ObserveRefund(string(outcome.Original.Status))
	s.logAudit(ctx, sess, "transaction.refund", "transaction", outcome.Original.ID,
		fmt.Sprintf("refund %s total %s", outcome.Refund.ID, outcome.Refund.TotalAmount.StringFixed(2)))
	return outcome, nil
}

func (s *Service) buildRefund(ctx context.Context, sess *session.Session, transactionID string, req RefundRequest) (domain.Transaction, error) {
	original, err := s.repo.GetTransaction(ctx, sess.StoreID(), transactionID)
	if err != nil {
		return domain.Transaction{}, translate(err)
	}
	if original.IsRefund() {
		return domain.Transaction{}, apperr.New(apperr.CodeStateConflict, "a refund cannot be refunded")
	}
	if original.Status == domain.TxStatusRefunded {
		return domain.Transaction{}, apperr.New(apperr.CodeStateConflict, "transaction is already fully refunded")
	}
	previous, err := s.repo.ListRefunds(ctx, sess.StoreID(), original.ID)
	if err != nil {
		return domain.Transaction{}, translate(err)
	}

	order, sold, err := store.AggregateQuantities(original.Items)
	if err != nil {
		return domain.Transaction{}, translate(err)
	}
	returned := store.RefundedQuantities(previous)
	requested := map[string]int{}
	if len(req.Items) == 0 {
		for _, productID := range order {
			if left := sold[productID] - returned[productID]; left > 0 {
				requested[productID] = left
			}
		}
	} else {
		for _, line := range req.Items {
			requested[line.ProductID] += line.Quantity
		}
	}
	if len(requested) == 0 {
		return domain.Transaction{}, apperr.New(apperr.CodeStateConflict, "nothing left to refund")
	}

	unitPrice := unitPrices(original.Items)
	names := map[string]domain.LineItem{}
	for _, item := range original.Items {
		if _, ok := names[item.ProductID]; !ok {
			names[item.ProductID] = item
		}
	}

	items := make([]domain.LineItem, 0, len(requested))
	subtotal := decimal.Zero
	for _, productID := range refundOrder(order, requested) {
		qty := requested[productID]
		src, ok := names[productID]
		if !ok {
			return domain.Transaction{}, apperr.New(apperr.CodeValidation, "product was not part of the transaction").
				WithField("items", fmt.Sprintf("product %s was not sold in %s", productID, original.ID))
		}
		total := unitPrice[productID].Mul(decimal.NewFromInt(int64(qty))).Round(2)
		subtotal = subtotal.Add(total)
		items = append(items, domain.LineItem{
			ProductID:  productID,
			Name:       src.Name,
			SKU:        src.SKU,
			Quantity:   qty,
			UnitPrice:  unitPrice[productID],
			TotalPrice: total,
		})
	}

	amounts := refundAmounts(*original, previous, subtotal, completesRefund(sold, returned, requested))
	identity := sess.Identity()
	return domain.Transaction{
		ID:                    xid.New("refund"),
		StoreID:               original.StoreID,
		Timestamp:             s.now().UTC(),
		CashierID:             sess.UID(),
		CashierName:           identity.DisplayName,
		Items:                 items,
		Subtotal:              amounts.Subtotal,
		TaxAmount:             amounts.TaxAmount,
		DiscountAmount:        amounts.DiscountAmount,
		TotalAmount:           amounts.TotalAmount,
		PaymentMethod:         original.PaymentMethod,
		CustomerID:            original.CustomerID,
		CustomerName:          original.CustomerName,
		Status:                domain.TxStatusRefunded,
		OriginalTransactionID: original.ID,
		RefundReason:          strings.TrimSpace(req.Reason),
	}, nil
}

// unitPrices averages the price of each product over the lines it appeared on.
func unitPrices(items []domain.LineItem) map[string]decimal.Decimal {
	totals := map[string]decimal.Decimal{}
	qty := map[string]int64{}
	for _, item := range items {
		totals[item.ProductID] = totals[item.ProductID].Add(item.TotalPrice)
		qty[item.ProductID] += int64(item.Quantity)
	}
	out := make(map[string]decimal.Decimal, len(totals))
	for productID, total := range totals {
		out[productID] = total.Div(decimal.NewFromInt(qty[productID])).Round(2)
	}
	return out
}

func refundOrder(order []string, requested map[string]int) []string {
	out := make([]string, 0, len(requested))
	seen := map[string]bool{}
	for _, productID := range order {
		if _, ok := requested[productID]; ok {
			out = append(out, productID)
			seen[productID] = true
		}
	}
	for productID := range requested {
		if !seen[productID] {
			out = append(out, productID)
		}
	}
	return out
}

func completesRefund(sold map[string]int, returned map[string]int, requested map[string]int) bool {
	for productID, qty := range sold {
		if returned[productID]+requested[productID] < qty {
			return false
		}
	}
	return true
}

// refundAmounts splits tax and discount in proportion to the refunded
// subtotal. The refund that empties the transaction takes whatever remains so
// the refunds always add up to the original.
func refundAmounts(original domain.Transaction, previous []domain.Transaction, subtotal decimal.Decimal, final bool) Totals {
	if final {
		out := Totals{
			Subtotal:       original.Subtotal,
			TaxAmount:      original.TaxAmount,
			DiscountAmount: original.DiscountAmount,
			TotalAmount:    original.TotalAmount,
		}
		for _, r := range previous {
			out.Subtotal = out.Subtotal.Sub(r.Subtotal)
			out.TaxAmount = out.TaxAmount.Sub(r.TaxAmount)
			out.DiscountAmount = out.DiscountAmount.Sub(r.DiscountAmount)
			out.TotalAmount = out.TotalAmount.Sub(r.TotalAmount)
		}
		return out
	}
	if original.Subtotal.IsZero() {
		return Totals{Subtotal: subtotal, TaxAmount: decimal.Zero, DiscountAmount: decimal.Zero, TotalAmount: subtotal}
	}
	ratio := subtotal.Div(original.Subtotal)
	tax := original.TaxAmount.Mul(ratio).Round(2)
	discount := original.DiscountAmount.Mul(ratio).Round(2)
	return Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discount,
		TotalAmount:    subtotal.Add(tax).Sub(discount),
	}
}

func (s *Service) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	sess, err := s.authorize(ctx, rbac.TransactionView)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txs, err := s.repo.ListTransactions(ctx, sess.StoreID(), limit)
	if err != nil {
		return nil, translate(err)
	}
	return txs, nil
}

type TransactionDetail struct {
	domain.Transaction
	Refunds []domain.Transaction `json:"refunds"`
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (TransactionDetail, error) {
	sess, err := s.authorize(ctx, rbac.TransactionView)
	if err != nil {
		return TransactionDetail{}, err
	}
	tx, err := s.repo.GetTransaction(ctx, sess.StoreID(), transactionID)
	if err != nil {
		return TransactionDetail{}, translate(err)
	}
	refunds, err := s.repo.ListRefunds(ctx, sess.StoreID(), tx.ID)
	if err != nil {
		return TransactionDetail{}, translate(err)
	}
	return TransactionDetail{Transaction: *tx, Refunds: refunds}, nil
}

type OfflineSale struct {
	ClientTransactionID string        `json:"clientTransactionId" validate:"required,max=128"`
	Sale                CommitRequest `json:"sale"`
}

type SyncRequest struct {
	Sales []OfflineSale `json:"sales" validate:"required,min=1,max=200"`
}

const (
	SyncAccepted  = "accepted"
	SyncDuplicate = "duplicate"
	SyncRejected  = "rejected"
)

type SyncStatus struct {
	ClientTransactionID string `json:"clientTransactionId"`
	Status              string `json:"status"`
	TransactionID       string `json:"transactionId,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

type SyncResult struct {
	Accepted  int          `json:"accepted"`
	Duplicate int          `json:"duplicate"`
	Rejected  int          `json:"rejected"`
	Statuses  []SyncStatus `json:"statuses"`
}

// SyncOffline replays sales captured while the till was offline. Each sale
// commits on its own; the client transaction id doubles as the idempotency
// key so a resent batch is harmless.
func (s *Service) SyncOffline(ctx context.Context, req SyncRequest) (SyncResult, error) {
	sess, err := s.authorize(ctx, rbac.TransactionCreate)
	if err != nil {
		return SyncResult{}, err
	}
	if err := validate.Struct(req); err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{Statuses: make([]SyncStatus, 0, len(req.Sales))}
	for _, sale := range req.Sales {
		status := SyncStatus{ClientTransactionID: sale.ClientTransactionID}
		commitReq := sale.Sale
		if commitReq.IdempotencyKey == "" {
			commitReq.IdempotencyKey = sale.ClientTransactionID
		}

		out, err := s.commit(ctx, sess, commitReq)
		switch {
		case err != nil:
			status.Status = SyncRejected
			status.Reason = rejectionReason(err)
			result.Rejected++
		case out.Duplicate:
			status.Status = SyncDuplicate
			status.TransactionID = out.Transaction.ID
			result.Duplicate++
		default:
			status.Status = SyncAccepted
			status.TransactionID = out.Transaction.ID
			result.Accepted++
		}
		result.Statuses = append(result.Statuses, status)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"accepted":  result.Accepted,
		"duplicate": result.Duplicate,
		"rejected":  result.Rejected,
	}), "transaction.offline_sync")
	return result, nil
}

func rejectionReason(err error) string {
	appErr := apperr.As(err)
	if appErr == nil {
		return "internal error"
	}
	reason := appErr.Message()
	fields := appErr.Fields()
	for _, field := range slices.Sorted(maps.Keys(fields)) {
		reason += "; " + field + " " + fields[field]
	}
	return reason
}
