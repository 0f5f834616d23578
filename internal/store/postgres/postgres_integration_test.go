package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"posadmin/backend/internal/config"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSADMIN_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSADMIN_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, config.DBConfig{
		URL:             databaseURL,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

// seedStore creates an isolated store with two products and removes
// everything it owns afterwards.
func seedStore(t *testing.T, s *Store) (string, string, string) {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	storeID := fmt.Sprintf("store-it-%d", stamp)
	apple := fmt.Sprintf("prod-apple-%d", stamp)
	bread := fmt.Sprintf("prod-bread-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id IN (SELECT id FROM transactions WHERE store_id = $1)`, storeID)
		_, _ = s.db.ExecContext(ctx, `UPDATE transactions SET original_transaction_id = NULL WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM roles WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stores WHERE id = $1`, storeID)
	})

	_, err := s.CreateStore(ctx, domain.Store{ID: storeID, Name: "IT Store", TaxRate: decimal.RequireFromString("0.08"), Currency: "USD", IsActive: true})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{ID: apple, StoreID: storeID, Name: "Apple", Price: decimal.RequireFromString("3.00"), StockQuantity: 10, IsVisibleOnPOS: true})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{ID: bread, StoreID: storeID, Name: "Bread", Price: decimal.RequireFromString("2.50"), StockQuantity: 5, IsVisibleOnPOS: true})
	require.NoError(t, err)
	return storeID, apple, bread
}

func TestCommitAndRefundRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	storeID, apple, bread := seedStore(t, s)

	customer, err := s.CreateCustomer(ctx, domain.Customer{StoreID: storeID, Name: "Dana"})
	require.NoError(t, err)

	sale := domain.Transaction{
		StoreID:       storeID,
		CashierID:     "user-it",
		PaymentMethod: domain.PaymentCash,
		CustomerID:    customer.ID,
		Items: []domain.LineItem{
			{ProductID: apple, Name: "Apple", Quantity: 2, UnitPrice: decimal.RequireFromString("3.00"), TotalPrice: decimal.RequireFromString("6.00")},
			{ProductID: bread, Name: "Bread", Quantity: 1, UnitPrice: decimal.RequireFromString("2.50"), TotalPrice: decimal.RequireFromString("2.50")},
		},
		Subtotal:       decimal.RequireFromString("8.50"),
		TaxAmount:      decimal.RequireFromString("0.68"),
		DiscountAmount: decimal.Zero,
		TotalAmount:    decimal.RequireFromString("9.18"),
		IdempotencyKey: fmt.Sprintf("idem-%d", time.Now().UnixNano()),
	}

	out, err := s.CommitTransaction(ctx, sale, domain.StockPolicyReject)
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, domain.TxStatusCompleted, out.Transaction.Status)

	again, err := s.CommitTransaction(ctx, sale, domain.StockPolicyReject)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, out.Transaction.ID, again.Transaction.ID)

	p, err := s.GetProduct(ctx, storeID, apple)
	require.NoError(t, err)
	require.Equal(t, 8, p.StockQuantity)

	c, err := s.GetCustomer(ctx, storeID, customer.ID)
	require.NoError(t, err)
	require.True(t, c.TotalSpent.Equal(decimal.RequireFromString("9.18")))
	require.Equal(t, 9, c.LoyaltyPoints)

	stored, err := s.GetTransaction(ctx, storeID, out.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	require.Equal(t, apple, stored.Items[0].ProductID)

	refund, err := s.RefundTransaction(ctx, domain.Transaction{
		StoreID:               storeID,
		OriginalTransactionID: out.Transaction.ID,
		PaymentMethod:         domain.PaymentCash,
		Items:                 []domain.LineItem{{ProductID: apple, Quantity: 1, UnitPrice: decimal.RequireFromString("3.00"), TotalPrice: decimal.RequireFromString("3.00")}},
		Subtotal:              decimal.RequireFromString("3.00"),
		TaxAmount:             decimal.RequireFromString("0.24"),
		TotalAmount:           decimal.RequireFromString("3.24"),
		RefundReason:          "damaged",
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusPartiallyRefunded, refund.Original.Status)

	p, err = s.GetProduct(ctx, storeID, apple)
	require.NoError(t, err)
	require.Equal(t, 9, p.StockQuantity)

	refunds, err := s.ListRefunds(ctx, storeID, out.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
}

func TestCommitRejectsOversellWithoutSideEffects(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	storeID, apple, bread := seedStore(t, s)

	_, err := s.CommitTransaction(ctx, domain.Transaction{
		StoreID:       storeID,
		PaymentMethod: domain.PaymentCard,
		Items: []domain.LineItem{
			{ProductID: apple, Quantity: 1},
			{ProductID: bread, Quantity: 6},
		},
	}, domain.StockPolicyReject)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var lineErr *store.LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, bread, lineErr.ProductID)

	p, err := s.GetProduct(ctx, storeID, apple)
	require.NoError(t, err)
	require.Equal(t, 10, p.StockQuantity)

	txs, err := s.ListTransactions(ctx, storeID, 0)
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestCustomRoleRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	storeID, _, _ := seedStore(t, s)

	created, err := s.CreateRole(ctx, rbac.Role{StoreID: storeID, Name: "Stock Clerk", Permissions: []rbac.Permission{rbac.ProductView, rbac.InventoryManage}})
	require.NoError(t, err)

	got, err := s.GetRole(ctx, created.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []rbac.Permission{rbac.ProductView, rbac.InventoryManage}, got.Permissions)

	_, err = s.UpdateRole(ctx, rbac.Role{ID: rbac.RoleIDOwner, StoreID: storeID, Name: "x", Permissions: []rbac.Permission{rbac.ProductView}})
	require.ErrorIs(t, err, rbac.ErrPredefinedRole)

	require.NoError(t, s.DeleteRole(ctx, storeID, created.ID))
	_, err = s.GetRole(ctx, created.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
