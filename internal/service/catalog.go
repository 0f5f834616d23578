package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/stock"
	"posadmin/backend/internal/validate"
	"posadmin/backend/internal/xid"
)

// ProductView is a product as the admin screens see it, with its stock band.
type ProductView struct {
	domain.Product
	StockStatus stock.Status `json:"stockStatus"`
}

func productView(p domain.Product) ProductView {
	return ProductView{Product: p, StockStatus: stock.Classify(p.StockQuantity, p.LowStockThreshold)}
}

type ProductInput struct {
	Name                 string          `json:"name" validate:"required,max=200"`
	SKU                  string          `json:"sku" validate:"max=64"`
	Price                decimal.Decimal `json:"price"`
	StockQuantity        int             `json:"stockQuantity"`
	Category             string          `json:"category" validate:"max=100"`
	IsVisibleOnPOS       *bool           `json:"isVisibleOnPOS"`
	LowStockThreshold    *int            `json:"lowStockThreshold" validate:"omitempty,gte=0"`
	ImageURL             string          `json:"imageUrl" validate:"omitempty,url"`
	Supplier             string          `json:"supplier" validate:"max=200"`
	Barcode              string          `json:"barcode" validate:"max=64"`
	SalesVelocity        float64         `json:"salesVelocity" validate:"gte=0"`
	SupplierLeadTimeDays *int            `json:"supplierLeadTimeDays" validate:"omitempty,gte=0"`
}

// ProductPatch carries only the fields a caller wants to change.
type ProductPatch struct {
	Name                 *string          `json:"name" validate:"omitempty,min=1,max=200"`
	SKU                  *string          `json:"sku" validate:"omitempty,max=64"`
	Price                *decimal.Decimal `json:"price"`
	Category             *string          `json:"category" validate:"omitempty,max=100"`
	IsVisibleOnPOS       *bool            `json:"isVisibleOnPOS"`
	LowStockThreshold    *int             `json:"lowStockThreshold" validate:"omitempty,gte=0"`
	ImageURL             *string          `json:"imageUrl" validate:"omitempty,url"`
	Supplier             *string          `json:"supplier" validate:"omitempty,max=200"`
	Barcode              *string          `json:"barcode" validate:"omitempty,max=64"`
	SalesVelocity        *float64         `json:"salesVelocity" validate:"omitempty,gte=0"`
	SupplierLeadTimeDays *int             `json:"supplierLeadTimeDays" validate:"omitempty,gte=0"`
}

func (s *Service) ListProducts(ctx context.Context, limit int) ([]ProductView, error) {
	sess, err := s.authorize(ctx, rbac.ProductView)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, sess.StoreID(), limit)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		out = append(out, productView(p))
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (ProductView, error) {
	sess, err := s.authorize(ctx, rbac.ProductView)
	if err != nil {
		return ProductView{}, err
	}
	p, err := s.repo.GetProduct(ctx, sess.StoreID(), productID)
	if err != nil {
		return ProductView{}, translate(err)
	}
	return productView(*p), nil
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (ProductView, error) {
	sess, err := s.authorize(ctx, rbac.ProductCreate)
	if err != nil {
		return ProductView{}, err
	}
	if err := validate.Struct(in); err != nil {
		return ProductView{}, err
	}
	if !in.Price.IsPositive() {
		return ProductView{}, apperr.Invalid("price", "must be greater than 0")
	}
	if in.StockQuantity < 0 {
		return ProductView{}, apperr.Invalid("stockQuantity", "must be 0 or greater")
	}

	visible := true
	if in.IsVisibleOnPOS != nil {
		visible = *in.IsVisibleOnPOS
	}
	now := s.now().UTC()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:                   xid.New("prod"),
		StoreID:              sess.StoreID(),
		Name:                 strings.TrimSpace(in.Name),
		SKU:                  strings.TrimSpace(in.SKU),
		Price:                in.Price.Round(2),
		StockQuantity:        in.StockQuantity,
		Category:             strings.TrimSpace(in.Category),
		IsVisibleOnPOS:       visible,
		LowStockThreshold:    in.LowStockThreshold,
		ImageURL:             in.ImageURL,
		Supplier:             in.Supplier,
		Barcode:              in.Barcode,
		SalesVelocity:        in.SalesVelocity,
		SupplierLeadTimeDays: in.SupplierLeadTimeDays,
		CreatedAt:            now,
		LastUpdatedAt:        now,
	})
	if err != nil {
		return ProductView{}, translate(err)
	}
	s.logAudit(ctx, sess, "product.create", "product", created.ID, created.Name)
	return productView(*created), nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, patch ProductPatch) (ProductView, error) {
	sess, err := s.authorize(ctx, rbac.ProductUpdate)
	if err != nil {
		return ProductView{}, err
	}
	if err := validate.Struct(patch); err != nil {
		return ProductView{}, err
	}
	if patch.Price != nil && !patch.Price.IsPositive() {
		return ProductView{}, apperr.Invalid("price", "must be greater than 0")
	}

	current, err := s.repo.GetProduct(ctx, sess.StoreID(), productID)
	if err != nil {
		return ProductView{}, translate(err)
	}
	next := *current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
		if next.Name == "" {
			return ProductView{}, apperr.Invalid("name", "is required")
		}
	}
	if patch.SKU != nil {
		next.SKU = strings.TrimSpace(*patch.SKU)
	}
	if patch.Price != nil {
		next.Price = patch.Price.Round(2)
	}
	if patch.Category != nil {
		next.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.IsVisibleOnPOS != nil {
		next.IsVisibleOnPOS = *patch.IsVisibleOnPOS
	}
	if patch.LowStockThreshold != nil {
		next.LowStockThreshold = patch.LowStockThreshold
	}
	if patch.ImageURL != nil {
		next.ImageURL = *patch.ImageURL
	}
	if patch.Supplier != nil {
		next.Supplier = *patch.Supplier
	}
	if patch.Barcode != nil {
		next.Barcode = *patch.Barcode
	}
	if patch.SalesVelocity != nil {
		next.SalesVelocity = *patch.SalesVelocity
	}
	if patch.SupplierLeadTimeDays != nil {
		next.SupplierLeadTimeDays = patch.SupplierLeadTimeDays
	}
	next.LastUpdatedAt = s.now().UTC()

	updated, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return ProductView{}, translate(err)
	}
	s.logAudit(ctx, sess, "product.update", "product", updated.ID, updated.Name)
	return productView(*updated), nil
}

// SetStock overwrites the on-hand quantity after a count or delivery.
func (s *Service) SetStock(ctx context.Context, productID string, quantity int) (ProductView, error) {
	sess, err := s.authorize(ctx, rbac.InventoryManage)
	if err != nil {
		return ProductView{}, err
	}
	if quantity < 0 {
		return ProductView{}, apperr.Invalid("stockQuantity", "must be 0 or greater")
	}
	updated, err := s.repo.SetStockQuantity(ctx, sess.StoreID(), productID, quantity)
	if err != nil {
		return ProductView{}, translate(err)
	}
	s.logAudit(ctx, sess, "inventory.set", "product", updated.ID, "stock set")
	return productView(*updated), nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	sess, err := s.authorize(ctx, rbac.ProductDelete)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, sess.StoreID(), productID); err != nil {
		return translate(err)
	}
	s.logAudit(ctx, sess, "product.delete", "product", productID, "")
	return nil
}

type CustomerInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"max=40"`
	Address  string `json:"address" validate:"max=500"`
	Birthday string `json:"birthday" validate:"omitempty,datetime=2006-01-02"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type CustomerPatch struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Phone    *string `json:"phone" validate:"omitempty,max=40"`
	Address  *string `json:"address" validate:"omitempty,max=500"`
	Birthday *string `json:"birthday" validate:"omitempty,datetime=2006-01-02"`
	Notes    *string `json:"notes" validate:"omitempty,max=2000"`
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	sess, err := s.authorize(ctx, rbac.CustomerView)
	if err != nil {
		return nil, err
	}
	customers, err := s.repo.ListCustomers(ctx, sess.StoreID(), limit)
	if err != nil {
		return nil, translate(err)
	}
	return customers, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	sess, err := s.authorize(ctx, rbac.CustomerView)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.GetCustomer(ctx, sess.StoreID(), customerID)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func (s *Service) CreateCustomer(ctx context.Context, in CustomerInput) (*domain.Customer, error) {
	sess, err := s.authorize(ctx, rbac.CustomerCreate)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:         xid.New("cust"),
		StoreID:    sess.StoreID(),
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.TrimSpace(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
		Address:    in.Address,
		TotalSpent: decimal.Zero,
		Birthday:   in.Birthday,
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, translate(err)
	}
	s.logAudit(ctx, sess, "customer.create", "customer", created.ID, created.Name)
	return created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID string, patch CustomerPatch) (*domain.Customer, error) {
	sess, err := s.authorize(ctx, rbac.CustomerUpdate)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(patch); err != nil {
		return nil, err
	}
	current, err := s.repo.GetCustomer(ctx, sess.StoreID(), customerID)
	if err != nil {
		return nil, translate(err)
	}
	next := *current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
		if next.Name == "" {
			return nil, apperr.Invalid("name", "is required")
		}
	}
	if patch.Email != nil {
		next.Email = strings.TrimSpace(*patch.Email)
	}
	if patch.Phone != nil {
		next.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Address != nil {
		next.Address = *patch.Address
	}
	if patch.Birthday != nil {
		next.Birthday = *patch.Birthday
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	next.UpdatedAt = s.now().UTC()

	updated, err := s.repo.UpdateCustomer(ctx, next)
	if err != nil {
		return nil, translate(err)
	}
	s.logAudit(ctx, sess, "customer.update", "customer", updated.ID, updated.Name)
	return updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, customerID string) error {
	sess, err := s.authorize(ctx, rbac.CustomerDelete)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, sess.StoreID(), customerID); err != nil {
		return translate(err)
	}
	s.logAudit(ctx, sess, "customer.delete", "customer", customerID, "")
	return nil
}

type StorePatch struct {
	Name     *string          `json:"name" validate:"omitempty,min=1,max=200"`
	TaxRate  *decimal.Decimal `json:"taxRate"`
	Currency *string          `json:"currency" validate:"omitempty,iso4217"`
}

func (s *Service) GetStoreSettings(ctx context.Context) (*domain.Store, error) {
	sess, err := s.authorize(ctx, rbac.SettingsView)
	if err != nil {
		return nil, err
	}
	st, err := s.repo.GetStore(ctx, sess.StoreID())
	if err != nil {
		return nil, translate(err)
	}
	return st, nil
}

func (s *Service) UpdateStoreSettings(ctx context.Context, patch StorePatch) (*domain.Store, error) {
	sess, err := s.authorize(ctx, rbac.SettingsUpdate)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(patch); err != nil {
		return nil, err
	}
	if patch.TaxRate != nil && (patch.TaxRate.IsNegative() || patch.TaxRate.GreaterThan(decimal.NewFromInt(1))) {
		return nil, apperr.Invalid("taxRate", "must be between 0 and 1")
	}

	current, err := s.repo.GetStore(ctx, sess.StoreID())
	if err != nil {
		return nil, translate(err)
	}
	next := *current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.TaxRate != nil {
		next.TaxRate = *patch.TaxRate
	}
	if patch.Currency != nil {
		next.Currency = strings.ToUpper(*patch.Currency)
	}
	updated, err := s.repo.UpdateStore(ctx, next)
	if err != nil {
		return nil, translate(err)
	}
	s.logAudit(ctx, sess, "settings.update", "store", updated.ID, "tax "+updated.TaxRate.String()+" "+updated.Currency)
	return updated, nil
}
