package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"posadmin/backend/internal/config"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/store"
	"posadmin/backend/internal/xid"
)

// maxTxAttempts bounds retries of a serializable unit that lost a conflict.
const maxTxAttempts = 3

type Store struct {
	db *sql.DB
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inSerializableTx runs fn in a serializable transaction and retries it when
// Postgres aborts the unit with a serialization failure.
func (s *Store) inSerializableTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(pgTx); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, tax_rate, currency, is_active, created_at
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Name, &st.OwnerID, &st.TaxRate, &st.Currency, &st.IsActive, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func (s *Store) CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, owner_id, tax_rate, currency, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, st.ID, st.Name, st.OwnerID, st.TaxRate, st.Currency, st.IsActive, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) UpdateStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	var updated domain.Store
	err := s.db.QueryRowContext(ctx, `
		UPDATE stores
		SET name = $2, owner_id = $3, tax_rate = $4, currency = $5, is_active = $6
		WHERE id = $1
		RETURNING id, name, owner_id, tax_rate, currency, is_active, created_at
	`, st.ID, st.Name, st.OwnerID, st.TaxRate, st.Currency, st.IsActive).Scan(
		&updated.ID, &updated.Name, &updated.OwnerID, &updated.TaxRate, &updated.Currency, &updated.IsActive, &updated.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

const productColumns = `id, store_id, name, sku, price, stock_quantity, category, is_visible_on_pos,
	low_stock_threshold, image_url, supplier, barcode, sales_velocity, supplier_lead_time_days,
	created_at, last_updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var threshold sql.NullInt64
	var leadTime sql.NullInt64
	err := row.Scan(
		&p.ID, &p.StoreID, &p.Name, &p.SKU, &p.Price, &p.StockQuantity, &p.Category, &p.IsVisibleOnPOS,
		&threshold, &p.ImageURL, &p.Supplier, &p.Barcode, &p.SalesVelocity, &leadTime,
		&p.CreatedAt, &p.LastUpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.LowStockThreshold = intPtr(threshold)
	p.SupplierLeadTimeDays = intPtr(leadTime)
	p.CreatedAt = p.CreatedAt.UTC()
	p.LastUpdatedAt = p.LastUpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string, limit int) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1
		ORDER BY name, id
		LIMIT $2
	`, storeID, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, storeID string, productID string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND store_id = $2
	`, productID, storeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (
			id, store_id, name, sku, price, stock_quantity, category, is_visible_on_pos,
			low_stock_threshold, image_url, supplier, barcode, sales_velocity, supplier_lead_time_days,
			created_at, last_updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
		RETURNING `+productColumns,
		product.ID, product.StoreID, product.Name, product.SKU, product.Price, product.StockQuantity,
		product.Category, product.IsVisibleOnPOS, nullInt(product.LowStockThreshold), product.ImageURL,
		product.Supplier, product.Barcode, product.SalesVelocity, nullInt(product.SupplierLeadTimeDays),
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, sku = $4, price = $5, category = $6, is_visible_on_pos = $7,
			low_stock_threshold = $8, image_url = $9, supplier = $10, barcode = $11,
			sales_velocity = $12, supplier_lead_time_days = $13, last_updated_at = now()
		WHERE id = $1 AND store_id = $2
		RETURNING `+productColumns,
		product.ID, product.StoreID, product.Name, product.SKU, product.Price, product.Category,
		product.IsVisibleOnPOS, nullInt(product.LowStockThreshold), product.ImageURL, product.Supplier,
		product.Barcode, product.SalesVelocity, nullInt(product.SupplierLeadTimeDays),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) SetStockQuantity(ctx context.Context, storeID string, productID string, qty int) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = $3, last_updated_at = now()
		WHERE id = $1 AND store_id = $2
		RETURNING `+productColumns,
		productID, storeID, qty,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, storeID string, productID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1 AND store_id = $2`, productID, storeID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

const customerColumns = `id, store_id, name, email, phone, address, total_spent, loyalty_points,
	birthday, notes, created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(
		&c.ID, &c.StoreID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.TotalSpent, &c.LoyaltyPoints,
		&c.Birthday, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Customer{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context, storeID string, limit int) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE store_id = $1
		ORDER BY name, id
		LIMIT $2
	`, storeID, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, storeID string, customerID string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1 AND store_id = $2
	`, customerID, storeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	created, err := scanCustomer(s.db.QueryRowContext(ctx, `
		INSERT INTO customers (
			id, store_id, name, email, phone, address, total_spent, loyalty_points,
			birthday, notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		RETURNING `+customerColumns,
		customer.ID, customer.StoreID, customer.Name, customer.Email, customer.Phone, customer.Address,
		customer.TotalSpent, customer.LoyaltyPoints, customer.Birthday, customer.Notes,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $3, email = $4, phone = $5, address = $6, birthday = $7, notes = $8, updated_at = now()
		WHERE id = $1 AND store_id = $2
		RETURNING `+customerColumns,
		customer.ID, customer.StoreID, customer.Name, customer.Email, customer.Phone, customer.Address,
		customer.Birthday, customer.Notes,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, storeID string, customerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1 AND store_id = $2`, customerID, storeID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) CommitTransaction(ctx context.Context, tx domain.Transaction, policy domain.StockPolicy) (domain.CommitOutcome, error) {
	if err := store.ValidateCommit(tx); err != nil {
		return domain.CommitOutcome{}, err
	}
	if tx.IdempotencyKey != "" {
		existing, err := s.FindTransactionByIdempotency(ctx, tx.StoreID, tx.IdempotencyKey)
		if err == nil {
			return domain.CommitOutcome{Transaction: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.CommitOutcome{}, err
		}
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	tx.Status = domain.TxStatusCompleted

	order, need, err := store.AggregateQuantities(tx.Items)
	if err != nil {
		return domain.CommitOutcome{}, err
	}
	var oversold []string
	err = s.inSerializableTx(ctx, func(pgTx *sql.Tx) error {
		oversold = make([]string, 0)

		var storeExists bool
		if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stores WHERE id = $1)`, tx.StoreID).Scan(&storeExists); err != nil {
			return err
		}
		if !storeExists {
			return fmt.Errorf("store %s: %w", tx.StoreID, store.ErrNotFound)
		}

		stock, err := lockStock(ctx, pgTx, tx.StoreID, order)
		if err != nil {
			return err
		}
		for _, productID := range order {
			onHand, ok := stock[productID]
			if !ok {
				return &store.LineError{ProductID: productID, Err: store.ErrNotFound}
			}
			if onHand < need[productID] {
				if policy != domain.StockPolicyAllowNegative {
					return &store.LineError{ProductID: productID, Err: store.ErrInsufficientStock}
				}
				oversold = append(oversold, productID)
			}
		}

		if tx.CustomerID != "" {
			res, err := pgTx.ExecContext(ctx, `
				UPDATE customers
				SET total_spent = total_spent + $3, loyalty_points = loyalty_points + $4, updated_at = now()
				WHERE id = $1 AND store_id = $2
			`, tx.CustomerID, tx.StoreID, tx.TotalAmount, store.LoyaltyPoints(tx.TotalAmount))
			if err != nil {
				return err
			}
			if err := expectAffected(res); err != nil {
				return fmt.Errorf("customer %s: %w", tx.CustomerID, err)
			}
		}

		for _, productID := range order {
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity - $1, last_updated_at = now()
				WHERE id = $2 AND store_id = $3
			`, need[productID], productID, tx.StoreID); err != nil {
				return err
			}
		}

		return insertTransaction(ctx, pgTx, tx)
	})
	if err != nil {
		if tx.IdempotencyKey != "" && isUniqueViolation(err) {
			existing, lookupErr := s.FindTransactionByIdempotency(ctx, tx.StoreID, tx.IdempotencyKey)
			if lookupErr == nil {
				return domain.CommitOutcome{Transaction: *existing, Duplicate: true}, nil
			}
		}
		return domain.CommitOutcome{}, err
	}

	return domain.CommitOutcome{Transaction: tx, Oversold: oversold}, nil
}

// lockStock reads and row-locks the stock of the given products, in id order
// so concurrent commits acquire locks the same way.
func lockStock(ctx context.Context, pgTx *sql.Tx, storeID string, productIDs []string) (map[string]int, error) {
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, stock_quantity
		FROM products
		WHERE store_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, storeID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stock := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stock[id] = qty
	}
	return stock, rows.Err()
}

func insertTransaction(ctx context.Context, q querier, tx domain.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, store_id, ts, cashier_id, cashier_name, subtotal, tax_amount, discount_amount,
			total_amount, payment_method, customer_id, customer_name, status,
			original_transaction_id, refund_reason, idempotency_key
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, tx.ID, tx.StoreID, tx.Timestamp, tx.CashierID, tx.CashierName, tx.Subtotal, tx.TaxAmount,
		tx.DiscountAmount, tx.TotalAmount, string(tx.PaymentMethod), nullIfEmpty(tx.CustomerID),
		tx.CustomerName, string(tx.Status), nullIfEmpty(tx.OriginalTransactionID), tx.RefundReason,
		nullIfEmpty(tx.IdempotencyKey))
	if err != nil {
		return err
	}

	for i, item := range tx.Items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, position, product_id, name, sku, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, tx.ID, i, item.ProductID, item.Name, item.SKU, item.Quantity, item.UnitPrice, item.TotalPrice); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RefundTransaction(ctx context.Context, refund domain.Transaction) (domain.RefundOutcome, error) {
	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.Timestamp.IsZero() {
		refund.Timestamp = time.Now().UTC()
	}
	refund.Status = domain.TxStatusRefunded

	var outcome domain.RefundOutcome
	err := s.inSerializableTx(ctx, func(pgTx *sql.Tx) error {
		original, err := getTransaction(ctx, pgTx, refund.StoreID, refund.OriginalTransactionID, true)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("transaction %s: %w", refund.OriginalTransactionID, err)
			}
			return err
		}
		previous, err := listRefunds(ctx, pgTx, original.ID)
		if err != nil {
			return err
		}
		status, err := store.CheckRefundable(*original, previous, refund)
		if err != nil {
			return err
		}

		order, qty, err := store.AggregateQuantities(refund.Items)
		if err != nil {
			return err
		}
		for _, productID := range order {
			// a product deleted since the sale has nothing to restock
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity + $1, last_updated_at = now()
				WHERE id = $2 AND store_id = $3
			`, qty[productID], productID, refund.StoreID); err != nil {
				return err
			}
		}
		if original.CustomerID != "" {
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE customers
				SET total_spent = GREATEST(total_spent - $3, 0),
					loyalty_points = GREATEST(loyalty_points - $4, 0),
					updated_at = now()
				WHERE id = $1 AND store_id = $2
			`, original.CustomerID, refund.StoreID, refund.TotalAmount, store.LoyaltyPoints(refund.TotalAmount)); err != nil {
				return err
			}
		}

		saved := refund
		saved.CustomerID = original.CustomerID
		saved.CustomerName = original.CustomerName
		if err := insertTransaction(ctx, pgTx, saved); err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`, original.ID, string(status)); err != nil {
			return err
		}

		original.Status = status
		outcome = domain.RefundOutcome{Refund: saved, Original: *original}
		return nil
	})
	if err != nil {
		return domain.RefundOutcome{}, err
	}
	return outcome, nil
}

const transactionColumns = `id, store_id, ts, cashier_id, cashier_name, subtotal, tax_amount, discount_amount,
	total_amount, payment_method, COALESCE(customer_id, ''), customer_name, status,
	COALESCE(original_transaction_id, ''), refund_reason, COALESCE(idempotency_key, '')`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var payment string
	var status string
	err := row.Scan(
		&tx.ID, &tx.StoreID, &tx.Timestamp, &tx.CashierID, &tx.CashierName, &tx.Subtotal, &tx.TaxAmount,
		&tx.DiscountAmount, &tx.TotalAmount, &payment, &tx.CustomerID, &tx.CustomerName, &status,
		&tx.OriginalTransactionID, &tx.RefundReason, &tx.IdempotencyKey,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.PaymentMethod = domain.PaymentMethod(payment)
	tx.Status = domain.TxStatus(status)
	tx.Timestamp = tx.Timestamp.UTC()
	return tx, nil
}

func getTransaction(ctx context.Context, q querier, storeID string, transactionID string, forUpdate bool) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND store_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	tx, err := scanTransaction(q.QueryRowContext(ctx, query, transactionID, storeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	withItems, err := attachItems(ctx, q, []domain.Transaction{tx})
	if err != nil {
		return nil, err
	}
	return &withItems[0], nil
}

func listRefunds(ctx context.Context, q querier, originalID string) ([]domain.Transaction, error) {
	return queryTransactions(ctx, q, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE original_transaction_id = $1
		ORDER BY ts ASC, id ASC
	`, originalID)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	txs := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	return attachItems(ctx, q, txs)
}

// attachItems loads the line items of every transaction in one query.
func attachItems(ctx context.Context, q querier, txs []domain.Transaction) ([]domain.Transaction, error) {
	if len(txs) == 0 {
		return txs, nil
	}
	ids := make([]string, 0, len(txs))
	index := make(map[string]int, len(txs))
	for i, tx := range txs {
		ids = append(ids, tx.ID)
		index[tx.ID] = i
		txs[i].Items = make([]domain.LineItem, 0, 4)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT transaction_id, product_id, name, sku, quantity, unit_price, total_price
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, position
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var txID string
		var item domain.LineItem
		if err := rows.Scan(&txID, &item.ProductID, &item.Name, &item.SKU, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		i := index[txID]
		txs[i].Items = append(txs[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) GetTransaction(ctx context.Context, storeID string, transactionID string) (*domain.Transaction, error) {
	return getTransaction(ctx, s.db, storeID, transactionID, false)
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, storeID string, key string) (*domain.Transaction, error) {
	txs, err := queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE store_id = $1 AND idempotency_key = $2
	`, storeID, key)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	return &txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, storeID string, limit int) ([]domain.Transaction, error) {
	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE store_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2
	`, storeID, nullLimit(limit))
}

func (s *Store) ListRefunds(ctx context.Context, storeID string, originalID string) ([]domain.Transaction, error) {
	if _, err := getTransaction(ctx, s.db, storeID, originalID, false); err != nil {
		return nil, err
	}
	return listRefunds(ctx, s.db, originalID)
}

func scanRole(row rowScanner) (rbac.Role, error) {
	var r rbac.Role
	var perms pq.StringArray
	if err := row.Scan(&r.ID, &r.StoreID, &r.Name, &perms, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return rbac.Role{}, err
	}
	r.Permissions = make([]rbac.Permission, 0, len(perms))
	for _, p := range perms {
		r.Permissions = append(r.Permissions, rbac.Permission(p))
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func permissionStrings(perms []rbac.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}

func (s *Store) ListRoles(ctx context.Context, storeID string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, name, permissions, created_at, updated_at
		FROM roles
		WHERE store_id = $1
		ORDER BY name, id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]rbac.Role, 0, 8)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*rbac.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `
		SELECT id, store_id, name, permissions, created_at, updated_at
		FROM roles
		WHERE id = $1
	`, roleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, role rbac.Role) (*rbac.Role, error) {
	if role.IsPredefined || rbac.IsPredefinedID(role.ID) {
		return nil, rbac.ErrPredefinedRole
	}
	if role.ID == "" {
		role.ID = xid.New("role")
	}
	created, err := scanRole(s.db.QueryRowContext(ctx, `
		INSERT INTO roles (id, store_id, name, permissions, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		RETURNING id, store_id, name, permissions, created_at, updated_at
	`, role.ID, role.StoreID, role.Name, pq.Array(permissionStrings(role.Permissions))))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateRole(ctx context.Context, role rbac.Role) (*rbac.Role, error) {
	if role.IsPredefined || rbac.IsPredefinedID(role.ID) {
		return nil, rbac.ErrPredefinedRole
	}
	updated, err := scanRole(s.db.QueryRowContext(ctx, `
		UPDATE roles
		SET name = $3, permissions = $4, updated_at = now()
		WHERE id = $1 AND store_id = $2
		RETURNING id, store_id, name, permissions, created_at, updated_at
	`, role.ID, role.StoreID, role.Name, pq.Array(permissionStrings(role.Permissions))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteRole(ctx context.Context, storeID string, roleID string) error {
	if rbac.IsPredefinedID(roleID) {
		return rbac.ErrPredefinedRole
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1 AND store_id = $2`, roleID, storeID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

const userColumns = `uid, email, display_name, password_hash, store_id, role_id, active, created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.UID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.StoreID, &u.RoleID, &u.Active, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) UserAssignment(ctx context.Context, uid string) (rbac.Assignment, error) {
	u, err := s.GetUser(ctx, uid)
	if err != nil {
		return rbac.Assignment{}, err
	}
	return rbac.Assignment{UID: u.UID, StoreID: u.StoreID, RoleID: u.RoleID}, nil
}

func (s *Store) GetUser(ctx context.Context, uid string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Email = normalizeEmail(user.Email)
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidTransaction
	}
	if user.UID == "" {
		user.UID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, display_name, password_hash, store_id, role_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, user.UID, user.Email, user.DisplayName, user.PasswordHash, user.StoreID, user.RoleID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, storeID string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE store_id = $1 ORDER BY email`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserRole(ctx context.Context, storeID string, uid string, roleID string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET role_id = $3
		WHERE uid = $1 AND store_id = $2
		RETURNING `+userColumns,
		uid, storeID, roleID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CountUsersWithRole(ctx context.Context, storeID string, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE store_id = $1 AND role_id = $2`, storeID, roleID).Scan(&count)
	return count, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_uid, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_uid, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// nullLimit maps "no limit" to NULL, which Postgres treats as LIMIT ALL.
func nullLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func intPtr(val sql.NullInt64) *int {
	if !val.Valid {
		return nil
	}
	v := int(val.Int64)
	return &v
}

var _ store.Repository = (*Store)(nil)
