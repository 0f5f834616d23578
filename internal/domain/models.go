package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TxStatus string

const (
	TxStatusCompleted         TxStatus = "completed"
	TxStatusRefunded          TxStatus = "refunded"
	TxStatusPartiallyRefunded TxStatus = "partially_refunded"
	TxStatusPendingSync       TxStatus = "pending_sync"
)

// StockPolicy decides what a commit does when a line asks for more than is on hand.
type StockPolicy string

const (
	StockPolicyReject        StockPolicy = "reject"
	StockPolicyAllowNegative StockPolicy = "allow_negative"
)

func ParseStockPolicy(value string) (StockPolicy, error) {
	switch StockPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", StockPolicyReject:
		return StockPolicyReject, nil
	case StockPolicyAllowNegative:
		return StockPolicyAllowNegative, nil
	}
	return "", fmt.Errorf("invalid stock policy %q", value)
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentMobile PaymentMethod = "mobile"
	PaymentOther  PaymentMethod = "other"
)

func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentOther:
		return true
	}
	return false
}

type Store struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	OwnerID   string          `json:"ownerId"`
	TaxRate   decimal.Decimal `json:"taxRate"`
	Currency  string          `json:"currency"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Product struct {
	ID                   string          `json:"id"`
	StoreID              string          `json:"storeId"`
	Name                 string          `json:"name"`
	SKU                  string          `json:"sku"`
	Price                decimal.Decimal `json:"price"`
	StockQuantity        int             `json:"stockQuantity"`
	Category             string          `json:"category"`
	IsVisibleOnPOS       bool            `json:"isVisibleOnPOS"`
	LowStockThreshold    *int            `json:"lowStockThreshold,omitempty"`
	ImageURL             string          `json:"imageUrl,omitempty"`
	Supplier             string          `json:"supplier,omitempty"`
	Barcode              string          `json:"barcode,omitempty"`
	SalesVelocity        float64         `json:"salesVelocity"`
	SupplierLeadTimeDays *int            `json:"supplierLeadTimeDays,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	LastUpdatedAt        time.Time       `json:"lastUpdatedAt"`
}

type Customer struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"storeId"`
	Name          string          `json:"name"`
	Email         string          `json:"email,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Address       string          `json:"address,omitempty"`
	TotalSpent    decimal.Decimal `json:"totalSpent"`
	LoyaltyPoints int             `json:"loyaltyPoints"`
	Birthday      string          `json:"birthday,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type LineItem struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type Transaction struct {
	ID                    string          `json:"id"`
	StoreID               string          `json:"storeId"`
	Timestamp             time.Time       `json:"timestamp"`
	CashierID             string          `json:"cashierId"`
	CashierName           string          `json:"cashierName"`
	Items                 []LineItem      `json:"items"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	TaxAmount             decimal.Decimal `json:"taxAmount"`
	DiscountAmount        decimal.Decimal `json:"discountAmount"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	PaymentMethod         PaymentMethod   `json:"paymentMethod"`
	CustomerID            string          `json:"customerId,omitempty"`
	CustomerName          string          `json:"customerName,omitempty"`
	Status                TxStatus        `json:"status"`
	OriginalTransactionID string          `json:"originalTransactionId,omitempty"`
	RefundReason          string          `json:"refundReason,omitempty"`
	IdempotencyKey        string          `json:"-"`
}

// IsRefund reports whether the record is the refund side of a status transition.
func (t Transaction) IsRefund() bool {
	return t.OriginalTransactionID != ""
}

type User struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	StoreID      string    `json:"storeId"`
	RoleID       string    `json:"roleId"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"storeId"`
	ActorUID   string    `json:"actorUid"`
	ActorRole  string    `json:"actorRole"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CommitOutcome is what the repository reports back from an atomic commit.
type CommitOutcome struct {
	Transaction Transaction
	Duplicate   bool
	// Oversold lists products whose stock went negative under the permissive policy.
	Oversold []string
}

type RefundOutcome struct {
	Refund   Transaction
	Original Transaction
}
