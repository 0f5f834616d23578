package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/store"
	"posadmin/backend/internal/xid"
)

const DefaultStoreID = "main-store"

type Store struct {
	mu           sync.RWMutex
	stores       map[string]domain.Store
	products     map[string]domain.Product
	customers    map[string]domain.Customer
	transactions map[string]*domain.Transaction
	txByIdem     map[string]string
	roles        map[string]rbac.Role
	users        map[string]domain.User
	uidByEmail   map[string]string
	auditLogs    []domain.AuditLog
}

func New() *Store {
	return &Store{
		stores:       make(map[string]domain.Store),
		products:     make(map[string]domain.Product),
		customers:    make(map[string]domain.Customer),
		transactions: make(map[string]*domain.Transaction),
		txByIdem:     make(map[string]string),
		roles:        make(map[string]rbac.Role),
		users:        make(map[string]domain.User),
		uidByEmail:   make(map[string]string),
		auditLogs:    make([]domain.AuditLog, 0, 128),
	}
}

// SeedCredentialsFromEnv reports whether both seed passwords were supplied.
func SeedCredentialsFromEnv() bool {
	return os.Getenv("SEED_OWNER_PASSWORD") != "" && os.Getenv("SEED_CASHIER_PASSWORD") != ""
}

// NewSeeded builds a dev/demo store with one shop, an owner, a cashier and a
// small catalogue. Passwords come from SEED_OWNER_PASSWORD and
// SEED_CASHIER_PASSWORD with dev fallbacks.
func NewSeeded() *Store {
	return NewSeededStore(DefaultStoreID)
}

// NewSeededStore is NewSeeded with the shop created under storeID.
func NewSeededStore(storeID string) *Store {
	if storeID == "" {
		storeID = DefaultStoreID
	}
	s := New()
	now := time.Now().UTC()

	s.stores[storeID] = domain.Store{
		ID:        storeID,
		Name:      "Main Store",
		OwnerID:   "user-owner",
		TaxRate:   decimal.RequireFromString("0.08"),
		Currency:  "USD",
		IsActive:  true,
		CreatedAt: now,
	}

	for _, u := range []struct {
		uid      string
		email    string
		name     string
		password string
		roleID   string
	}{
		{"user-owner", "owner@posadmin.local", "Store Owner", envOr("SEED_OWNER_PASSWORD", "owner123"), rbac.RoleIDOwner},
		{"user-cashier", "cashier@posadmin.local", "Front Cashier", envOr("SEED_CASHIER_PASSWORD", "cashier123"), rbac.RoleIDCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("hash seed password for %s: %v", u.email, err))
		}
		s.users[u.uid] = domain.User{
			UID:          u.uid,
			Email:        u.email,
			DisplayName:  u.name,
			PasswordHash: string(hash),
			StoreID:      storeID,
			RoleID:       u.roleID,
			Active:       true,
			CreatedAt:    now,
		}
		s.uidByEmail[u.email] = u.uid
	}

	threshold := 10
	for _, p := range []struct {
		id, name, sku, category, price string
		qty                            int
	}{
		{"prod-coffee", "Coffee Beans 250g", "SKU-COF-250", "beverage", "12.50", 40},
		{"prod-tea", "Green Tea 20 bags", "SKU-TEA-20", "beverage", "4.25", 60},
		{"prod-milk", "Whole Milk 1L", "SKU-MLK-1L", "dairy", "2.10", 24},
		{"prod-bread", "Sourdough Loaf", "SKU-BRD-SD", "bakery", "5.80", 12},
	} {
		s.products[p.id] = domain.Product{
			ID:                p.id,
			StoreID:           storeID,
			Name:              p.name,
			SKU:               p.sku,
			Category:          p.category,
			Price:             decimal.RequireFromString(p.price),
			StockQuantity:     p.qty,
			IsVisibleOnPOS:    true,
			LowStockThreshold: &threshold,
			CreatedAt:         now,
			LastUpdatedAt:     now,
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) CreateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if _, exists := s.stores[st.ID]; exists {
		return nil, store.ErrConflict
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	s.stores[st.ID] = st
	return &st, nil
}

func (s *Store) UpdateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.stores[st.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	st.CreatedAt = existing.CreatedAt
	s.stores[st.ID] = st
	return &st, nil
}

func (s *Store) ListProducts(_ context.Context, storeID string, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.StoreID != storeID {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return truncate(products, limit), nil
}

func (s *Store) GetProduct(_ context.Context, storeID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok || p.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stores[product.StoreID]; !ok {
		return nil, store.ErrNotFound
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.LastUpdatedAt = now
	s.products[product.ID] = cloneProduct(product)
	dup := cloneProduct(product)
	return &dup, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.StoreID != product.StoreID {
		return nil, store.ErrNotFound
	}
	product.StockQuantity = existing.StockQuantity
	product.CreatedAt = existing.CreatedAt
	product.LastUpdatedAt = time.Now().UTC()
	s.products[product.ID] = cloneProduct(product)
	dup := cloneProduct(product)
	return &dup, nil
}

func (s *Store) SetStockQuantity(_ context.Context, storeID string, productID string, qty int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok || p.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	p.StockQuantity = qty
	p.LastUpdatedAt = time.Now().UTC()
	s.products[productID] = p
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) DeleteProduct(_ context.Context, storeID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok || p.StoreID != storeID {
		return store.ErrNotFound
	}
	delete(s.products, productID)
	return nil
}

func (s *Store) ListCustomers(_ context.Context, storeID string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if c.StoreID != storeID {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return truncate(customers, limit), nil
}

func (s *Store) GetCustomer(_ context.Context, storeID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok || c.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stores[customer.StoreID]; !ok {
		return nil, store.ErrNotFound
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok || existing.StoreID != customer.StoreID {
		return nil, store.ErrNotFound
	}
	customer.TotalSpent = existing.TotalSpent
	customer.LoyaltyPoints = existing.LoyaltyPoints
	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, storeID string, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok || c.StoreID != storeID {
		return store.ErrNotFound
	}
	delete(s.customers, customerID)
	return nil
}

func (s *Store) CommitTransaction(_ context.Context, tx domain.Transaction, policy domain.StockPolicy) (domain.CommitOutcome, error) {
	if err := store.ValidateCommit(tx); err != nil {
		return domain.CommitOutcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stores[tx.StoreID]; !ok {
		return domain.CommitOutcome{}, fmt.Errorf("store %s: %w", tx.StoreID, store.ErrNotFound)
	}
	if tx.IdempotencyKey != "" {
		if id, ok := s.txByIdem[idemKey(tx.StoreID, tx.IdempotencyKey)]; ok {
			return domain.CommitOutcome{Transaction: cloneTransaction(s.transactions[id]), Duplicate: true}, nil
		}
	}

	// Validate everything before the first write.
	order, need, err := store.AggregateQuantities(tx.Items)
	if err != nil {
		return domain.CommitOutcome{}, err
	}
	oversold := make([]string, 0)
	for _, productID := range order {
		p, ok := s.products[productID]
		if !ok || p.StoreID != tx.StoreID {
			return domain.CommitOutcome{}, &store.LineError{ProductID: productID, Err: store.ErrNotFound}
		}
		if p.StockQuantity < need[productID] {
			if policy != domain.StockPolicyAllowNegative {
				return domain.CommitOutcome{}, &store.LineError{ProductID: productID, Err: store.ErrInsufficientStock}
			}
			oversold = append(oversold, productID)
		}
	}
	var customer domain.Customer
	if tx.CustomerID != "" {
		c, ok := s.customers[tx.CustomerID]
		if !ok || c.StoreID != tx.StoreID {
			return domain.CommitOutcome{}, fmt.Errorf("customer %s: %w", tx.CustomerID, store.ErrNotFound)
		}
		customer = c
	}

	now := time.Now().UTC()
	for _, productID := range order {
		p := s.products[productID]
		p.StockQuantity -= need[productID]
		p.LastUpdatedAt = now
		s.products[productID] = p
	}
	if tx.CustomerID != "" {
		customer.TotalSpent = customer.TotalSpent.Add(tx.TotalAmount)
		customer.LoyaltyPoints += store.LoyaltyPoints(tx.TotalAmount)
		customer.UpdatedAt = now
		s.customers[customer.ID] = customer
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	tx.Status = domain.TxStatusCompleted
	saved := cloneTransaction(&tx)
	s.transactions[tx.ID] = &saved
	if tx.IdempotencyKey != "" {
		s.txByIdem[idemKey(tx.StoreID, tx.IdempotencyKey)] = tx.ID
	}

	return domain.CommitOutcome{Transaction: cloneTransaction(&saved), Oversold: oversold}, nil
}

func (s *Store) RefundTransaction(_ context.Context, refund domain.Transaction) (domain.RefundOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.transactions[refund.OriginalTransactionID]
	if !ok || original.StoreID != refund.StoreID {
		return domain.RefundOutcome{}, fmt.Errorf("transaction %s: %w", refund.OriginalTransactionID, store.ErrNotFound)
	}

	previous := s.refundsOf(original.ID)
	status, err := store.CheckRefundable(*original, previous, refund)
	if err != nil {
		return domain.RefundOutcome{}, err
	}

	now := time.Now().UTC()
	order, qty, err := store.AggregateQuantities(refund.Items)
	if err != nil {
		return domain.RefundOutcome{}, err
	}
	for _, productID := range order {
		p, ok := s.products[productID]
		if !ok {
			// deleted since the sale; nothing to restock
			continue
		}
		p.StockQuantity += qty[productID]
		p.LastUpdatedAt = now
		s.products[productID] = p
	}
	if original.CustomerID != "" {
		if c, ok := s.customers[original.CustomerID]; ok {
			c.TotalSpent = decimal.Max(decimal.Zero, c.TotalSpent.Sub(refund.TotalAmount))
			c.LoyaltyPoints = max(0, c.LoyaltyPoints-store.LoyaltyPoints(refund.TotalAmount))
			c.UpdatedAt = now
			s.customers[c.ID] = c
		}
	}

	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.Timestamp.IsZero() {
		refund.Timestamp = now
	}
	refund.Status = domain.TxStatusRefunded
	refund.CustomerID = original.CustomerID
	refund.CustomerName = original.CustomerName
	saved := cloneTransaction(&refund)
	s.transactions[refund.ID] = &saved
	original.Status = status

	return domain.RefundOutcome{Refund: cloneTransaction(&saved), Original: cloneTransaction(original)}, nil
}

func (s *Store) refundsOf(originalID string) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.OriginalTransactionID == originalID {
			out = append(out, cloneTransaction(tx))
		}
	}
	return out
}

func (s *Store) GetTransaction(_ context.Context, storeID string, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[transactionID]
	if !ok || tx.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	dup := cloneTransaction(tx)
	return &dup, nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, storeID string, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByIdem[idemKey(storeID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneTransaction(s.transactions[id])
	return &dup, nil
}

func (s *Store) ListTransactions(_ context.Context, storeID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if tx.StoreID != storeID {
			continue
		}
		result = append(result, cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return truncate(result, limit), nil
}

func (s *Store) ListRefunds(_ context.Context, storeID string, originalID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	original, ok := s.transactions[originalID]
	if !ok || original.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	refunds := s.refundsOf(originalID)
	slices.SortFunc(refunds, func(a, b domain.Transaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return refunds, nil
}

func (s *Store) ListRoles(_ context.Context, storeID string) ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		if r.StoreID != storeID {
			continue
		}
		roles = append(roles, cloneRole(r))
	}
	slices.SortFunc(roles, func(a, b rbac.Role) int {
		return strings.Compare(a.Name, b.Name)
	})
	return roles, nil
}

func (s *Store) GetRole(_ context.Context, roleID string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[roleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneRole(r)
	return &dup, nil
}

func (s *Store) CreateRole(_ context.Context, role rbac.Role) (*rbac.Role, error) {
	if role.IsPredefined || rbac.IsPredefinedID(role.ID) {
		return nil, rbac.ErrPredefinedRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if role.ID == "" {
		role.ID = xid.New("role")
	}
	if _, exists := s.roles[role.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	s.roles[role.ID] = cloneRole(role)
	return &role, nil
}

func (s *Store) UpdateRole(_ context.Context, role rbac.Role) (*rbac.Role, error) {
	if role.IsPredefined || rbac.IsPredefinedID(role.ID) {
		return nil, rbac.ErrPredefinedRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.roles[role.ID]
	if !ok || existing.StoreID != role.StoreID {
		return nil, store.ErrNotFound
	}
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = time.Now().UTC()
	s.roles[role.ID] = cloneRole(role)
	return &role, nil
}

func (s *Store) DeleteRole(_ context.Context, storeID string, roleID string) error {
	if rbac.IsPredefinedID(roleID) {
		return rbac.ErrPredefinedRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.roles[roleID]
	if !ok || existing.StoreID != storeID {
		return store.ErrNotFound
	}
	delete(s.roles, roleID)
	return nil
}

func (s *Store) UserAssignment(_ context.Context, uid string) (rbac.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]
	if !ok {
		return rbac.Assignment{}, store.ErrNotFound
	}
	return rbac.Assignment{UID: u.UID, StoreID: u.StoreID, RoleID: u.RoleID}, nil
}

func (s *Store) GetUser(_ context.Context, uid string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.uidByEmail[normalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.users[uid]
	return &u, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.uidByEmail[user.Email]; exists {
		return nil, store.ErrConflict
	}
	if user.UID == "" {
		user.UID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.UID] = user
	s.uidByEmail[user.Email] = user.UID
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context, storeID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if u.StoreID != storeID {
			continue
		}
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUserRole(_ context.Context, storeID string, uid string, roleID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[uid]
	if !ok || u.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	u.RoleID = roleID
	s.users[uid] = u
	return &u, nil
}

func (s *Store) CountUsersWithRole(_ context.Context, storeID string, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.users {
		if u.StoreID == storeID && u.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.StoreID == storeID {
			result = append(result, entry)
		}
	}
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(result, limit), nil
}

func idemKey(storeID string, key string) string {
	return storeID + "|" + key
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneTransaction(src *domain.Transaction) domain.Transaction {
	dup := *src
	dup.Items = make([]domain.LineItem, len(src.Items))
	copy(dup.Items, src.Items)
	return dup
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if src.LowStockThreshold != nil {
		v := *src.LowStockThreshold
		dup.LowStockThreshold = &v
	}
	if src.SupplierLeadTimeDays != nil {
		v := *src.SupplierLeadTimeDays
		dup.SupplierLeadTimeDays = &v
	}
	return dup
}

func cloneRole(src rbac.Role) rbac.Role {
	dup := src
	dup.Permissions = make([]rbac.Permission, len(src.Permissions))
	copy(dup.Permissions, src.Permissions)
	return dup
}
