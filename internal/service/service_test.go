package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/forecast"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/session"
	"posadmin/backend/internal/stock"
	"posadmin/backend/internal/store"
	"posadmin/backend/internal/store/memory"
)

type fixture struct {
	svc      *Service
	repo     *memory.Store
	sessions *session.Manager
}

func newFixture(t *testing.T, policy domain.StockPolicy) fixture {
	t.Helper()
	repo := memory.NewSeeded()
	sessions := session.NewManager(rbac.NewResolver(repo, logger.Nop()), logger.Nop())
	svc := New(Options{
		Repo:        repo,
		Sessions:    sessions,
		Logger:      logger.Nop(),
		StockPolicy: policy,
	})
	return fixture{svc: svc, repo: repo, sessions: sessions}
}

func (f fixture) signIn(t *testing.T, uid string) context.Context {
	t.Helper()
	sess, err := f.sessions.Start(context.Background(), session.Identity{UID: uid, DisplayName: uid})
	if err != nil {
		t.Fatalf("start session for %s: %v", uid, err)
	}
	return session.WithSession(context.Background(), sess)
}

func (f fixture) stockOf(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.repo.GetProduct(context.Background(), memory.DefaultStoreID, productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	return p.StockQuantity
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func assertCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if !apperr.IsCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

// teaAndMilk is two tea at 3.00 and one milk at 2.50: 8.50 before 8% tax.
func teaAndMilk() CommitRequest {
	return CommitRequest{
		Items: []LineInput{
			{ProductID: "prod-tea", Quantity: 2, UnitPrice: dec("3.00")},
			{ProductID: "prod-milk", Quantity: 1, UnitPrice: dec("2.50")},
		},
		PaymentMethod: domain.PaymentCash,
	}
}

func TestCommitSaleComputesTotalsAndMovesAggregates(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	customer, err := f.svc.CreateCustomer(ctx, CustomerInput{Name: "Rina"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	req := teaAndMilk()
	req.CustomerID = customer.ID
	req.TotalAmount = decPtr("9.18")
	res, err := f.svc.CommitSale(ctx, req)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx := res.Transaction
	if !tx.Subtotal.Equal(dec("8.50")) || !tx.TaxAmount.Equal(dec("0.68")) || !tx.TotalAmount.Equal(dec("9.18")) {
		t.Fatalf("unexpected totals %s/%s/%s", tx.Subtotal, tx.TaxAmount, tx.TotalAmount)
	}
	if tx.Status != domain.TxStatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if tx.Items[0].Name != "Green Tea 20 bags" {
		t.Fatalf("expected line name from catalogue, got %q", tx.Items[0].Name)
	}
	if tx.CustomerName != "Rina" || tx.CashierID != "user-owner" {
		t.Fatalf("unexpected parties %q/%q", tx.CustomerName, tx.CashierID)
	}
	if got := f.stockOf(t, "prod-tea"); got != 58 {
		t.Fatalf("expected tea stock 58, got %d", got)
	}
	if got := f.stockOf(t, "prod-milk"); got != 23 {
		t.Fatalf("expected milk stock 23, got %d", got)
	}

	after, err := f.svc.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !after.TotalSpent.Equal(dec("9.18")) || after.LoyaltyPoints != 9 {
		t.Fatalf("unexpected aggregates %s/%d", after.TotalSpent, after.LoyaltyPoints)
	}
}

func TestCommitSaleAppliesDiscountBeforeTax(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	req := teaAndMilk()
	req.DiscountAmount = dec("0.50")
	res, err := f.svc.CommitSale(ctx, req)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	// (8.50 - 0.50) * 0.08 = 0.64
	if !res.Transaction.TaxAmount.Equal(dec("0.64")) || !res.Transaction.TotalAmount.Equal(dec("8.64")) {
		t.Fatalf("unexpected totals %s/%s", res.Transaction.TaxAmount, res.Transaction.TotalAmount)
	}
}

func TestCommitSaleRejectsBadInputWithoutWrites(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	cases := map[string]func(*CommitRequest){
		"mismatched total":   func(r *CommitRequest) { r.TotalAmount = decPtr("9.00") },
		"discount too large": func(r *CommitRequest) { r.DiscountAmount = dec("10") },
		"negative discount":  func(r *CommitRequest) { r.DiscountAmount = dec("-1") },
		"zero unit price":    func(r *CommitRequest) { r.Items[0].UnitPrice = decimal.Zero },
		"zero quantity":      func(r *CommitRequest) { r.Items[0].Quantity = 0 },
		"quantity above cap": func(r *CommitRequest) { r.Items[0].Quantity = 100001 },
		"summed lines overflow": func(r *CommitRequest) {
			r.Items = []LineInput{
				{ProductID: "prod-tea", Quantity: math.MaxInt, UnitPrice: dec("3.00")},
				{ProductID: "prod-tea", Quantity: math.MaxInt, UnitPrice: dec("3.00")},
			}
			r.TotalAmount = nil
		},
		"no items":           func(r *CommitRequest) { r.Items = nil },
		"bad payment method": func(r *CommitRequest) { r.PaymentMethod = "barter" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := teaAndMilk()
			mutate(&req)
			_, err := f.svc.CommitSale(ctx, req)
			assertCode(t, err, apperr.CodeValidation)
		})
	}
	if got := f.stockOf(t, "prod-tea"); got != 60 {
		t.Fatalf("stock moved on rejected commits: %d", got)
	}
}

func TestCommitSaleRejectsOversellAtomically(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	_, err := f.svc.CommitSale(ctx, CommitRequest{
		Items: []LineInput{
			{ProductID: "prod-tea", Quantity: 1, UnitPrice: dec("4.25")},
			{ProductID: "prod-bread", Quantity: 13, UnitPrice: dec("5.80")},
		},
		PaymentMethod: domain.PaymentCard,
	})
	assertCode(t, err, apperr.CodeConflict)
	if fields := apperr.As(err).Fields(); !strings.Contains(fields["items"], "prod-bread") {
		t.Fatalf("expected offending product in details, got %v", fields)
	}
	if f.stockOf(t, "prod-tea") != 60 || f.stockOf(t, "prod-bread") != 12 {
		t.Fatalf("partial write after rejected commit")
	}

	txs, err := f.svc.ListTransactions(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func TestCommitSaleUnknownProductOrCustomerIsNotFound(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	req := teaAndMilk()
	req.Items = append(req.Items, LineInput{ProductID: "prod-ghost", Quantity: 1, UnitPrice: dec("1.00")})
	_, err := f.svc.CommitSale(ctx, req)
	assertCode(t, err, apperr.CodeNotFound)

	req = teaAndMilk()
	req.CustomerID = "cust-ghost"
	_, err = f.svc.CommitSale(ctx, req)
	assertCode(t, err, apperr.CodeNotFound)

	if got := f.stockOf(t, "prod-tea"); got != 60 {
		t.Fatalf("stock moved: %d", got)
	}
}

func TestCommitSaleAllowNegativeWarns(t *testing.T) {
	f := newFixture(t, domain.StockPolicyAllowNegative)
	ctx := f.signIn(t, "user-cashier")

	res, err := f.svc.CommitSale(ctx, CommitRequest{
		Items:         []LineInput{{ProductID: "prod-bread", Quantity: 13, UnitPrice: dec("5.80")}},
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one oversell warning, got %v", res.Warnings)
	}
	if got := f.stockOf(t, "prod-bread"); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
	view, err := f.svc.GetProduct(ctx, "prod-bread")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if view.StockStatus != stock.StatusOutOfStock {
		t.Fatalf("expected out_of_stock, got %s", view.StockStatus)
	}
}

func TestCommitSaleIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-cashier")

	req := teaAndMilk()
	req.IdempotencyKey = "till-1-0001"
	first, err := f.svc.CommitSale(ctx, req)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	second, err := f.svc.CommitSale(ctx, req)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if !second.Duplicate || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Transaction.ID, second)
	}
	if got := f.stockOf(t, "prod-tea"); got != 58 {
		t.Fatalf("expected a single decrement, got stock %d", got)
	}
}

func TestPermissionsFailClosed(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)

	_, err := f.svc.ListProducts(context.Background(), 0)
	assertCode(t, err, apperr.CodeUnauthorized)

	cashier := f.signIn(t, "user-cashier")
	_, err = f.svc.CreateProduct(cashier, ProductInput{Name: "Gum", Price: dec("1.00")})
	assertCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.Refund(cashier, "tx-any", RefundRequest{})
	assertCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.ListAuditLogs(cashier, 10)
	assertCode(t, err, apperr.CodeForbidden)

	f.sessions.End("user-cashier")
	_, err = f.svc.ListProducts(cashier, 0)
	assertCode(t, err, apperr.CodeUnauthorized)
}

func TestRefundPartialThenRemainder(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	customer, err := f.svc.CreateCustomer(ctx, CustomerInput{Name: "Dewi"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	req := teaAndMilk()
	req.CustomerID = customer.ID
	sale, err := f.svc.CommitSale(ctx, req)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	saleID := sale.Transaction.ID

	partial, err := f.svc.Refund(ctx, saleID, RefundRequest{
		Items:  []RefundLine{{ProductID: "prod-tea", Quantity: 1}},
		Reason: "damaged box",
	})
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if partial.Original.Status != domain.TxStatusPartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", partial.Original.Status)
	}
	if !partial.Refund.TotalAmount.Equal(dec("3.24")) || partial.Refund.OriginalTransactionID != saleID {
		t.Fatalf("unexpected refund %s for %s", partial.Refund.TotalAmount, partial.Refund.OriginalTransactionID)
	}
	if got := f.stockOf(t, "prod-tea"); got != 59 {
		t.Fatalf("expected tea restocked to 59, got %d", got)
	}

	_, err = f.svc.Refund(ctx, saleID, RefundRequest{Items: []RefundLine{{ProductID: "prod-tea", Quantity: 2}}})
	assertCode(t, err, apperr.CodeStateConflict)

	rest, err := f.svc.Refund(ctx, saleID, RefundRequest{})
	if err != nil {
		t.Fatalf("remainder refund: %v", err)
	}
	if rest.Original.Status != domain.TxStatusRefunded {
		t.Fatalf("expected refunded, got %s", rest.Original.Status)
	}
	if !rest.Refund.TotalAmount.Equal(dec("5.94")) || !rest.Refund.TaxAmount.Equal(dec("0.44")) {
		t.Fatalf("unexpected remainder %s/%s", rest.Refund.TotalAmount, rest.Refund.TaxAmount)
	}
	if f.stockOf(t, "prod-tea") != 60 || f.stockOf(t, "prod-milk") != 24 {
		t.Fatalf("stock not fully restored")
	}

	after, err := f.svc.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !after.TotalSpent.IsZero() {
		t.Fatalf("expected totalSpent back to zero, got %s", after.TotalSpent)
	}

	_, err = f.svc.Refund(ctx, saleID, RefundRequest{})
	assertCode(t, err, apperr.CodeStateConflict)
	_, err = f.svc.Refund(ctx, rest.Refund.ID, RefundRequest{})
	assertCode(t, err, apperr.CodeStateConflict)

	detail, err := f.svc.GetTransaction(ctx, saleID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if len(detail.Refunds) != 2 {
		t.Fatalf("expected two linked refunds, got %d", len(detail.Refunds))
	}
}

func TestSyncOfflineReportsEachSale(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-cashier")

	oversell := CommitRequest{
		Items:         []LineInput{{ProductID: "prod-bread", Quantity: 99, UnitPrice: dec("5.80")}},
		PaymentMethod: domain.PaymentCash,
	}
	res, err := f.svc.SyncOffline(ctx, SyncRequest{Sales: []OfflineSale{
		{ClientTransactionID: "offline-1", Sale: teaAndMilk()},
		{ClientTransactionID: "offline-1", Sale: teaAndMilk()},
		{ClientTransactionID: "offline-2", Sale: oversell},
	}})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Accepted != 1 || res.Duplicate != 1 || res.Rejected != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Statuses[0].Status != SyncAccepted || res.Statuses[1].Status != SyncDuplicate || res.Statuses[2].Status != SyncRejected {
		t.Fatalf("unexpected statuses %+v", res.Statuses)
	}
	if res.Statuses[0].TransactionID != res.Statuses[1].TransactionID {
		t.Fatalf("duplicate should point at the accepted transaction")
	}
	if !strings.Contains(res.Statuses[2].Reason, "insufficient stock") {
		t.Fatalf("unexpected reason %q", res.Statuses[2].Reason)
	}
	if got := f.stockOf(t, "prod-tea"); got != 58 {
		t.Fatalf("expected one decrement, got %d", got)
	}
}

func TestProductLifecycleAndStockStatus(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	_, err := f.svc.CreateProduct(ctx, ProductInput{Name: "Gum", Price: decimal.Zero})
	assertCode(t, err, apperr.CodeValidation)
	_, err = f.svc.CreateProduct(ctx, ProductInput{Name: "  ", Price: dec("1.00")})
	assertCode(t, err, apperr.CodeValidation)

	threshold := 5
	created, err := f.svc.CreateProduct(ctx, ProductInput{
		Name:              "Mint Gum",
		Price:             dec("1.25"),
		StockQuantity:     3,
		LowStockThreshold: &threshold,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.StockStatus != stock.StatusLowStock || !created.IsVisibleOnPOS {
		t.Fatalf("unexpected view %+v", created)
	}

	name := "Spearmint Gum"
	updated, err := f.svc.UpdateProduct(ctx, created.ID, ProductPatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || !updated.Price.Equal(dec("1.25")) || updated.StockQuantity != 3 {
		t.Fatalf("partial update touched other fields: %+v", updated)
	}

	zeroed, err := f.svc.SetStock(ctx, created.ID, 0)
	if err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if zeroed.StockStatus != stock.StatusOutOfStock {
		t.Fatalf("expected out_of_stock, got %s", zeroed.StockStatus)
	}

	if err := f.svc.DeleteProduct(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = f.svc.GetProduct(ctx, created.ID)
	assertCode(t, err, apperr.CodeNotFound)
}

func TestStoreSettingsValidateTaxRate(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	_, err := f.svc.UpdateStoreSettings(ctx, StorePatch{TaxRate: decPtr("1.5")})
	assertCode(t, err, apperr.CodeValidation)

	st, err := f.svc.UpdateStoreSettings(ctx, StorePatch{TaxRate: decPtr("0.10")})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if !st.TaxRate.Equal(dec("0.10")) {
		t.Fatalf("unexpected rate %s", st.TaxRate)
	}

	res, err := f.svc.CommitSale(ctx, teaAndMilk())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !res.Transaction.TaxAmount.Equal(dec("0.85")) {
		t.Fatalf("expected new rate applied, got %s", res.Transaction.TaxAmount)
	}
}

func TestCustomRoleLifecycleRefreshesSessions(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	owner := f.signIn(t, "user-owner")

	_, err := f.svc.CreateRole(owner, RoleInput{Name: "Stocker", Permissions: []string{"product:fly"}})
	assertCode(t, err, apperr.CodeValidation)

	role, err := f.svc.CreateRole(owner, RoleInput{Name: " Stocker ", Permissions: []string{"product:view"}})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if role.Name != "Stocker" {
		t.Fatalf("expected trimmed name, got %q", role.Name)
	}

	user, err := f.svc.CreateUser(owner, UserInput{
		Email:    "stocker@posadmin.local",
		Password: "stocker-pass",
		RoleID:   role.ID,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, err = f.svc.CreateUser(owner, UserInput{Email: "STOCKER@posadmin.local", Password: "another-pass", RoleID: rbac.RoleIDViewer})
	assertCode(t, err, apperr.CodeConflict)

	stocker := f.signIn(t, user.UID)
	sess := session.FromContext(stocker)
	if sess.HasPermission(rbac.InventoryManage) {
		t.Fatalf("stocker should not manage inventory yet")
	}

	if _, err := f.svc.UpdateRole(owner, role.ID, RoleInput{Name: "Stocker", Permissions: []string{"product:view", "inventory:manage"}}); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if !sess.HasPermission(rbac.InventoryManage) {
		t.Fatalf("live session did not pick up the new permission")
	}
	if _, err := f.svc.SetStock(stocker, "prod-tea", 70); err != nil {
		t.Fatalf("stocker set stock: %v", err)
	}

	err = f.svc.DeleteRole(owner, role.ID)
	assertCode(t, err, apperr.CodeConflict)

	_, err = f.svc.UpdateRole(owner, rbac.RoleIDCashier, RoleInput{Name: "Cashier", Permissions: []string{"product:view"}})
	assertCode(t, err, apperr.CodeStateConflict)
	err = f.svc.DeleteRole(owner, rbac.RoleIDOwner)
	assertCode(t, err, apperr.CodeStateConflict)

	if _, err := f.svc.AssignRole(owner, user.UID, rbac.RoleIDViewer); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if sess.HasPermission(rbac.InventoryManage) {
		t.Fatalf("session kept permissions of the old role")
	}
	if err := f.svc.DeleteRole(owner, role.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}

	list, err := f.svc.ListRoles(owner)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(list.Roles) != len(rbac.PredefinedRoles()) || len(list.Groups) == 0 {
		t.Fatalf("unexpected role list %+v", list)
	}
}

func TestUserManagersCannotGrantMoreThanTheyHold(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	owner := f.signIn(t, "user-owner")

	role, err := f.svc.CreateRole(owner, RoleInput{Name: "HR", Permissions: []string{"user:manage", "product:view"}})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	hr, err := f.svc.CreateUser(owner, UserInput{Email: "hr@posadmin.local", Password: "hr-password", RoleID: role.ID})
	if err != nil {
		t.Fatalf("create hr user: %v", err)
	}
	ctx := f.signIn(t, hr.UID)

	_, err = f.svc.AssignRole(ctx, "user-cashier", rbac.RoleIDOwner)
	assertCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.CreateUser(ctx, UserInput{Email: "boss@posadmin.local", Password: "boss-password", RoleID: rbac.RoleIDOwner})
	assertCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.CreateUser(ctx, UserInput{Email: "till@posadmin.local", Password: "till-password", RoleID: rbac.RoleIDCashier})
	assertCode(t, err, apperr.CodeForbidden)

	cashier, err := f.repo.GetUser(context.Background(), "user-cashier")
	if err != nil || cashier.RoleID != rbac.RoleIDCashier {
		t.Fatalf("cashier role changed: %+v / %v", cashier, err)
	}

	peer, err := f.svc.CreateUser(ctx, UserInput{Email: "hr2@posadmin.local", Password: "hr-password", RoleID: role.ID})
	if err != nil {
		t.Fatalf("expected a role within the caller's permissions to be grantable: %v", err)
	}
	if peer.RoleID != role.ID {
		t.Fatalf("unexpected role %s", peer.RoleID)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := context.Background()

	user, err := f.svc.Authenticate(ctx, " Owner@posadmin.local ", "owner123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.UID != "user-owner" {
		t.Fatalf("unexpected user %s", user.UID)
	}

	_, err = f.svc.Authenticate(ctx, "owner@posadmin.local", "wrong")
	assertCode(t, err, apperr.CodeUnauthorized)
	_, err = f.svc.Authenticate(ctx, "nobody@posadmin.local", "owner123")
	assertCode(t, err, apperr.CodeUnauthorized)
}

func TestPopulateDemoDataReportsEachStep(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	res, err := f.svc.PopulateDemoData(ctx)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if res.Created != len(demoProducts)+len(demoCustomers) || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	products, err := f.svc.ListProducts(ctx, 0)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 4+len(demoProducts) {
		t.Fatalf("expected %d products, got %d", 4+len(demoProducts), len(products))
	}

	alerts, err := f.svc.ReorderAlerts(ctx, ReorderOptions{})
	if err != nil {
		t.Fatalf("reorder alerts: %v", err)
	}
	found := false
	for _, a := range alerts {
		if a.ProductName == "Paper Cups x50" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the empty demo product among alerts")
	}
}

// failingDemoRepo fails demo inserts with driver-level errors.
type failingDemoRepo struct {
	*memory.Store
}

func (failingDemoRepo) CreateProduct(context.Context, domain.Product) (*domain.Product, error) {
	return nil, fmt.Errorf(`insert product: duplicate key value violates unique constraint "products_sku_key": %w`, store.ErrConflict)
}

func (failingDemoRepo) CreateCustomer(context.Context, domain.Customer) (*domain.Customer, error) {
	return nil, errors.New("pq: connection reset by peer on 10.0.0.5:5432")
}

func TestPopulateDemoDataHidesInternalErrors(t *testing.T) {
	repo := memory.NewSeeded()
	sessions := session.NewManager(rbac.NewResolver(repo, logger.Nop()), logger.Nop())
	svc := New(Options{Repo: failingDemoRepo{repo}, Sessions: sessions, Logger: logger.Nop()})
	f := fixture{svc: svc, repo: repo, sessions: sessions}
	ctx := f.signIn(t, "user-owner")

	res, err := svc.PopulateDemoData(ctx)
	if err == nil {
		t.Fatalf("expected a combined error")
	}
	if res.Created != 0 || res.Failed != len(demoProducts)+len(demoCustomers) {
		t.Fatalf("unexpected result %+v", res)
	}
	internal := apperr.MetadataFor(apperr.CodeInternal).PublicMessage
	for _, step := range res.Steps {
		if strings.Contains(step.Error, "pq:") || strings.Contains(step.Error, "products_sku_key") {
			t.Fatalf("step %s %q leaks %q", step.Entity, step.Name, step.Error)
		}
		want := "resource already exists"
		if step.Entity == "customer" {
			want = internal
		}
		if step.Error != want {
			t.Fatalf("step %s %q error = %q, want %q", step.Entity, step.Name, step.Error, want)
		}
	}
}

func TestReorderPlanUsesSupplierLeadTime(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	lead := 5
	p, err := f.svc.CreateProduct(ctx, ProductInput{
		Name:                 "Honey Jar",
		Price:                dec("7.00"),
		StockQuantity:        10,
		SalesVelocity:        2,
		SupplierLeadTimeDays: &lead,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	plan, err := f.svc.ReorderPlanFor(ctx, p.ID, ReorderOptions{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// 2*5 + 2*3 = 16, plus 2*14 review demand.
	if plan.Plan.ReorderPoint != 16 || plan.Plan.OrderUpTo != 44 || plan.Plan.ReorderQuantity != 34 || !plan.Plan.LowStockAlert {
		t.Fatalf("unexpected plan %+v", plan.Plan)
	}
}

func TestReorderPlanSameDaySupplier(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	lead := 0
	p, err := f.svc.CreateProduct(ctx, ProductInput{
		Name:                 "Fresh Bagels",
		Price:                dec("1.20"),
		StockQuantity:        10,
		SalesVelocity:        2,
		SupplierLeadTimeDays: &lead,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	plan, err := f.svc.ReorderPlanFor(ctx, p.ID, ReorderOptions{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Plan.LeadTimeDays != 0 || plan.Plan.ReorderPoint != 6 || plan.Plan.OrderUpTo != 34 {
		t.Fatalf("unexpected same-day plan %+v", plan.Plan)
	}
}

func TestForecastWithoutGeneratorIsDependencyError(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	if f.svc.ForecastEnabled() {
		t.Fatalf("forecast should be disabled without a generator")
	}
	_, err := f.svc.PredictStockOut(ctx, forecast.StockOutInput{ProductName: "Coffee", SalesVelocity: 1, CurrentStock: 4})
	assertCode(t, err, apperr.CodeDependency)

	_, err = f.svc.SuggestReorder(ctx, forecast.ReorderInput{ProductName: "Coffee"})
	assertCode(t, err, apperr.CodeValidation)
}

func TestExportWritesCSV(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	var buf bytes.Buffer
	if err := f.svc.Export(ctx, &buf, ExportProducts, false); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\r\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "id,name,sku") {
		t.Fatalf("unexpected export %q", buf.String())
	}

	buf.Reset()
	if err := f.svc.Export(ctx, &buf, ExportCustomers, true); err != nil {
		t.Fatalf("template: %v", err)
	}
	if strings.Count(buf.String(), "\r\n") != 1 {
		t.Fatalf("template should be a header only, got %q", buf.String())
	}

	err := f.svc.Export(ctx, &buf, "suppliers", false)
	assertCode(t, err, apperr.CodeValidation)
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	f := newFixture(t, domain.StockPolicyReject)
	ctx := f.signIn(t, "user-owner")

	if _, err := f.svc.CommitSale(ctx, teaAndMilk()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	logs, err := f.svc.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) == 0 || logs[0].Action != "transaction.commit" || logs[0].ActorUID != "user-owner" {
		t.Fatalf("unexpected audit trail %+v", logs)
	}
}
