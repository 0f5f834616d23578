package service

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/csvexport"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/forecast"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/reorder"
	"posadmin/backend/internal/stock"
	"posadmin/backend/internal/xid"
)

func (s *Service) ForecastEnabled() bool {
	return s.forecasts.Enabled()
}

func (s *Service) PredictStockOut(ctx context.Context, in forecast.StockOutInput) (forecast.StockOutPrediction, error) {
	if _, err := s.authorize(ctx, rbac.InventoryForecast); err != nil {
		return forecast.StockOutPrediction{}, err
	}
	out, err := s.forecasts.PredictStockOut(ctx, in)
	if err != nil {
		return forecast.StockOutPrediction{}, translate(err)
	}
	return out, nil
}

func (s *Service) SuggestReorder(ctx context.Context, in forecast.ReorderInput) (forecast.ReorderSuggestion, error) {
	if _, err := s.authorize(ctx, rbac.InventoryForecast); err != nil {
		return forecast.ReorderSuggestion{}, err
	}
	out, err := s.forecasts.SuggestReorder(ctx, in)
	if err != nil {
		return forecast.ReorderSuggestion{}, translate(err)
	}
	return out, nil
}

type ReorderPlan struct {
	ProductID   string         `json:"productId"`
	ProductName string         `json:"productName"`
	StockStatus stock.Status   `json:"stockStatus"`
	Plan        reorder.Result `json:"plan"`
}

// ReorderOptions overrides the planning defaults; zero keeps the default.
type ReorderOptions struct {
	ReviewPeriodDays int `json:"reviewPeriodDays"`
	SafetyDays       int `json:"safetyDays"`
}

func planFor(p domain.Product, opts ReorderOptions) (ReorderPlan, error) {
	result, err := reorder.Compute(reorder.Input{
		CurrentStock:     p.StockQuantity,
		SalesVelocity:    p.SalesVelocity,
		LeadTimeDays:     p.SupplierLeadTimeDays,
		ReviewPeriodDays: opts.ReviewPeriodDays,
		SafetyDays:       opts.SafetyDays,
	})
	if err != nil {
		return ReorderPlan{}, err
	}
	return ReorderPlan{
		ProductID:   p.ID,
		ProductName: p.Name,
		StockStatus: stock.Classify(p.StockQuantity, p.LowStockThreshold),
		Plan:        result,
	}, nil
}

// ReorderPlanFor works out the deterministic reorder point of one product
// from its velocity and supplier lead time.
func (s *Service) ReorderPlanFor(ctx context.Context, productID string, opts ReorderOptions) (ReorderPlan, error) {
	sess, err := s.authorize(ctx, rbac.InventoryForecast)
	if err != nil {
		return ReorderPlan{}, err
	}
	p, err := s.repo.GetProduct(ctx, sess.StoreID(), productID)
	if err != nil {
		return ReorderPlan{}, translate(err)
	}
	plan, err := planFor(*p, opts)
	if err != nil {
		return ReorderPlan{}, translate(err)
	}
	return plan, nil
}

// ReorderAlerts lists the products that should be reordered now.
func (s *Service) ReorderAlerts(ctx context.Context, opts ReorderOptions) ([]ReorderPlan, error) {
	sess, err := s.authorize(ctx, rbac.InventoryForecast)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, sess.StoreID(), 0)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]ReorderPlan, 0)
	for _, p := range products {
		plan, err := planFor(p, opts)
		if err != nil {
			return nil, translate(err)
		}
		if plan.Plan.LowStockAlert || plan.StockStatus != stock.StatusInStock {
			out = append(out, plan)
		}
	}
	return out, nil
}

type ExportKind string

const (
	ExportProducts     ExportKind = "products"
	ExportCustomers    ExportKind = "customers"
	ExportTransactions ExportKind = "transactions"
)

// Export streams a CSV of the requested collection. With template set only
// the header row is written.
func (s *Service) Export(ctx context.Context, w io.Writer, kind ExportKind, template bool) error {
	sess, err := s.authorize(ctx, rbac.ReportExport)
	if err != nil {
		return err
	}
	storeID := sess.StoreID()

	switch kind {
	case ExportProducts:
		if template {
			return csvexport.Template(w, csvexport.ProductColumns)
		}
		rows, err := s.repo.ListProducts(ctx, storeID, 0)
		if err != nil {
			return translate(err)
		}
		err = csvexport.Write(w, csvexport.ProductColumns, rows)
		s.logExport(ctx, kind, len(rows), err)
		return err
	case ExportCustomers:
		if template {
			return csvexport.Template(w, csvexport.CustomerColumns)
		}
		rows, err := s.repo.ListCustomers(ctx, storeID, 0)
		if err != nil {
			return translate(err)
		}
		err = csvexport.Write(w, csvexport.CustomerColumns, rows)
		s.logExport(ctx, kind, len(rows), err)
		return err
	case ExportTransactions:
		if template {
			return csvexport.Template(w, csvexport.TransactionColumns)
		}
		rows, err := s.repo.ListTransactions(ctx, storeID, 0)
		if err != nil {
			return translate(err)
		}
		err = csvexport.Write(w, csvexport.TransactionColumns, rows)
		s.logExport(ctx, kind, len(rows), err)
		return err
	}
	return apperr.Invalid("kind", "must be one of [products customers transactions]")
}

func (s *Service) logExport(ctx context.Context, kind ExportKind, rows int, err error) {
	fields := map[string]any{"kind": string(kind), "rows": rows}
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, fields), "export.failed", err)
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "export.completed")
}

type DemoStep struct {
	Entity string `json:"entity"`
	Name   string `json:"name"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type DemoResult struct {
	Created int        `json:"created"`
	Failed  int        `json:"failed"`
	Steps   []DemoStep `json:"steps"`
}

var demoProducts = []struct {
	name, sku, category, price string
	qty, threshold, lead       int
	velocity                   float64
}{
	{"Espresso Beans 1kg", "DEMO-ESP-1K", "beverage", "24.90", 18, 5, 10, 1.5},
	{"Oat Milk 1L", "DEMO-OAT-1L", "dairy", "3.40", 30, 8, 4, 4},
	{"Croissant", "DEMO-CRS", "bakery", "2.20", 6, 10, 1, 12},
	{"Paper Cups x50", "DEMO-CUP-50", "supplies", "5.75", 0, 4, 14, 0.5},
	{"Dark Chocolate Bar", "DEMO-CHO-100", "snacks", "3.10", 45, 10, 7, 2},
}

var demoCustomers = []struct {
	name, email, phone string
}{
	{"Ayu Lestari", "ayu@example.com", "+62 811 0000 001"},
	{"Budi Santoso", "budi@example.com", "+62 811 0000 002"},
	{"Citra Dewi", "citra@example.com", "+62 811 0000 003"},
}

// PopulateDemoData adds a sample catalogue and customer list. Every row is
// attempted; failures are reported per row and as one combined error.
func (s *Service) PopulateDemoData(ctx context.Context) (DemoResult, error) {
	sess, err := s.authorize(ctx, rbac.SettingsUpdate)
	if err != nil {
		return DemoResult{}, err
	}
	storeID := sess.StoreID()
	now := s.now().UTC()
	result := DemoResult{Steps: make([]DemoStep, 0, len(demoProducts)+len(demoCustomers))}
	var errs error

	record := func(step DemoStep, err error) {
		if err != nil {
			step.Error = publicMessage(err)
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("%s %q: %w", step.Entity, step.Name, err))
		} else {
			result.Created++
		}
		result.Steps = append(result.Steps, step)
	}

	for _, p := range demoProducts {
		threshold, lead := p.threshold, p.lead
		created, err := s.repo.CreateProduct(ctx, domain.Product{
			ID:                   xid.New("prod"),
			StoreID:              storeID,
			Name:                 p.name,
			SKU:                  p.sku,
			Category:             p.category,
			Price:                decimal.RequireFromString(p.price),
			StockQuantity:        p.qty,
			IsVisibleOnPOS:       true,
			LowStockThreshold:    &threshold,
			SalesVelocity:        p.velocity,
			SupplierLeadTimeDays: &lead,
			CreatedAt:            now,
			LastUpdatedAt:        now,
		})
		step := DemoStep{Entity: "product", Name: p.name}
		if created != nil {
			step.ID = created.ID
		}
		record(step, err)
	}

	for _, c := range demoCustomers {
		created, err := s.repo.CreateCustomer(ctx, domain.Customer{
			ID:         xid.New("cust"),
			StoreID:    storeID,
			Name:       c.name,
			Email:      c.email,
			Phone:      c.phone,
			TotalSpent: decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		step := DemoStep{Entity: "customer", Name: c.name}
		if created != nil {
			step.ID = created.ID
		}
		record(step, err)
	}

	s.logAudit(ctx, sess, "demo.populate", "store", storeID, fmt.Sprintf("created %d failed %d", result.Created, result.Failed))
	if errs != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"failed": len(multierr.Errors(errs)),
			"error":  errs.Error(),
		}), "demo.populate_partial")
	}
	return result, errs
}
