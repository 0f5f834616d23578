package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/rbac"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
)

// LineError names the product that made a commit or refund fail.
type LineError struct {
	ProductID string
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("product %s: %v", e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type Repository interface {
	rbac.Directory

	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error)
	UpdateStore(ctx context.Context, st domain.Store) (*domain.Store, error)

	// ListProducts is ordered by name; limit <= 0 means no limit.
	ListProducts(ctx context.Context, storeID string, limit int) ([]domain.Product, error)
	GetProduct(ctx context.Context, storeID string, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct never touches StockQuantity; use SetStockQuantity.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SetStockQuantity(ctx context.Context, storeID string, productID string, qty int) (*domain.Product, error)
	DeleteProduct(ctx context.Context, storeID string, productID string) error

	ListCustomers(ctx context.Context, storeID string, limit int) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, storeID string, customerID string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// UpdateCustomer never touches TotalSpent or LoyaltyPoints.
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, storeID string, customerID string) error

	// CommitTransaction applies the sale as one unit: every referenced product
	// is read and decremented, the customer aggregates move and the record is
	// inserted, or nothing happens.
	CommitTransaction(ctx context.Context, tx domain.Transaction, policy domain.StockPolicy) (domain.CommitOutcome, error)
	// RefundTransaction inserts the refund record, restocks its lines and moves
	// the original to refunded or partially_refunded as one unit.
	RefundTransaction(ctx context.Context, refund domain.Transaction) (domain.RefundOutcome, error)
	GetTransaction(ctx context.Context, storeID string, transactionID string) (*domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, storeID string, key string) (*domain.Transaction, error)
	// ListTransactions is ordered by timestamp descending.
	ListTransactions(ctx context.Context, storeID string, limit int) ([]domain.Transaction, error)
	// ListRefunds returns the refund records linked to a transaction.
	ListRefunds(ctx context.Context, storeID string, originalID string) ([]domain.Transaction, error)

	// ListRoles returns the custom roles of a store; predefined roles are not persisted.
	ListRoles(ctx context.Context, storeID string) ([]rbac.Role, error)
	CreateRole(ctx context.Context, role rbac.Role) (*rbac.Role, error)
	UpdateRole(ctx context.Context, role rbac.Role) (*rbac.Role, error)
	DeleteRole(ctx context.Context, storeID string, roleID string) error

	GetUser(ctx context.Context, uid string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context, storeID string) ([]domain.User, error)
	UpdateUserRole(ctx context.Context, storeID string, uid string, roleID string) (*domain.User, error)
	// CountUsersWithRole is used to refuse deleting a role still in use.
	CountUsersWithRole(ctx context.Context, storeID string, roleID string) (int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error)
}

// AggregateQuantities folds line items per product, keeping first-seen order.
// A per-product sum that would not fit in an int is ErrInvalidTransaction.
func AggregateQuantities(items []domain.LineItem) ([]string, map[string]int, error) {
	order := make([]string, 0, len(items))
	qty := make(map[string]int, len(items))
	for _, item := range items {
		if _, seen := qty[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		if item.Quantity > 0 && qty[item.ProductID] > math.MaxInt-item.Quantity {
			return nil, nil, &LineError{ProductID: item.ProductID, Err: ErrInvalidTransaction}
		}
		qty[item.ProductID] += item.Quantity
	}
	return order, qty, nil
}

// LoyaltyPoints awards one point per whole currency unit spent.
func LoyaltyPoints(total decimal.Decimal) int {
	if total.IsNegative() {
		return 0
	}
	return int(total.Floor().IntPart())
}

// ValidateCommit checks the shape a transaction must have before any lock is taken.
func ValidateCommit(tx domain.Transaction) error {
	if tx.StoreID == "" || len(tx.Items) == 0 {
		return ErrInvalidTransaction
	}
	for _, item := range tx.Items {
		if item.ProductID == "" || item.Quantity < 1 {
			return ErrInvalidTransaction
		}
	}
	_, _, err := AggregateQuantities(tx.Items)
	return err
}

// RefundedQuantities sums the quantities already returned per product.
func RefundedQuantities(refunds []domain.Transaction) map[string]int {
	out := map[string]int{}
	for _, r := range refunds {
		for _, item := range r.Items {
			out[item.ProductID] += item.Quantity
		}
	}
	return out
}

// CheckRefundable verifies a refund against the original and the refunds
// already recorded, and returns the status the original moves to.
func CheckRefundable(original domain.Transaction, previous []domain.Transaction, refund domain.Transaction) (domain.TxStatus, error) {
	if original.IsRefund() || original.Status == domain.TxStatusRefunded {
		return "", ErrInvalidTransaction
	}
	if len(refund.Items) == 0 {
		return "", ErrInvalidTransaction
	}

	_, sold, err := AggregateQuantities(original.Items)
	if err != nil {
		return "", err
	}
	returned := RefundedQuantities(previous)
	_, requested, err := AggregateQuantities(refund.Items)
	if err != nil {
		return "", err
	}
	for productID, qty := range requested {
		if qty < 1 || qty > sold[productID]-returned[productID] {
			return "", &LineError{ProductID: productID, Err: ErrInvalidTransaction}
		}
		returned[productID] += qty
	}

	for productID, qty := range sold {
		if returned[productID] < qty {
			return domain.TxStatusPartiallyRefunded, nil
		}
	}
	return domain.TxStatusRefunded, nil
}
