package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/forecast"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/service"
	"posadmin/backend/internal/validate"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func listLimit(r *http.Request) int {
	return parsePositiveLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := a.service.GetStoreSettings(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store": st})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch service.StorePatch
	if err := validate.DecodeJSON(r.Body, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	st, err := a.service.UpdateStoreSettings(r.Context(), patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store": st})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in service.ProductInput
	if err := validate.DecodeJSON(r.Body, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var patch service.ProductPatch
	if err := validate.DecodeJSON(r.Body, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stockRequest struct {
	StockQuantity *int `json:"stockQuantity" validate:"required"`
}

func (a *API) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := validate.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.SetStock(r.Context(), chi.URLParam(r, "productID"), *req.StockQuantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func reorderOptions(r *http.Request) (service.ReorderOptions, error) {
	review, err := parseOptionalInt(r, "reviewPeriodDays")
	if err != nil {
		return service.ReorderOptions{}, err
	}
	safety, err := parseOptionalInt(r, "safetyDays")
	if err != nil {
		return service.ReorderOptions{}, err
	}
	return service.ReorderOptions{ReviewPeriodDays: review, SafetyDays: safety}, nil
}

func (a *API) handleReorderPlan(w http.ResponseWriter, r *http.Request) {
	opts, err := reorderOptions(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	plan, err := a.service.ReorderPlanFor(r.Context(), chi.URLParam(r, "productID"), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

func (a *API) handleReorderAlerts(w http.ResponseWriter, r *http.Request) {
	opts, err := reorderOptions(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	alerts, err := a.service.ReorderAlerts(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handlePredictStockOut(w http.ResponseWriter, r *http.Request) {
	var in forecast.StockOutInput
	if err := validate.DecodeJSON(r.Body, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.service.PredictStockOut(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSuggestReorder(w http.ResponseWriter, r *http.Request) {
	var in forecast.ReorderInput
	if err := validate.DecodeJSON(r.Body, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.service.SuggestReorder(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var in service.CustomerInput
	if err := validate.DecodeJSON(r.Body, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var patch service.CustomerPatch
	if err := validate.DecodeJSON(r.Body, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	customer, err := a.service.UpdateCustomer(r.Context(), chi.URLParam(r, "customerID"), patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCustomer(r.Context(), chi.URLParam(r, "customerID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"permissionGroups": rbac.Groups()})
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.ListRoles(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var in service.RoleInput
	if err := validate.DecodeJSON(r.Body, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	role, err := a.service.CreateRole(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"role": role})
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var in service.RoleInput
	if err := validate.DecodeJSON(r.Body, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	role, err := a.service.UpdateRole(r.Context(), chi.URLParam(r, "roleID"), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role})
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteRole(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in service.UserInput
	if err := validate.DecodeJSON(r.Body, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.service.CreateUser(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

type assignRoleRequest struct {
	RoleID string `json:"roleId" validate:"required"`
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := validate.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.service.AssignRole(r.Context(), chi.URLParam(r, "uid"), req.RoleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := a.service.ListTransactions(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": detail})
}

func (a *API) handleCommitSale(w http.ResponseWriter, r *http.Request) {
	var req service.CommitRequest
	if err := validate.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	result, err := a.service.CommitSale(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req service.RefundRequest
	if r.ContentLength != 0 {
		if err := validate.DecodeJSON(r.Body, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	outcome, err := a.service.Refund(r.Context(), chi.URLParam(r, "transactionID"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

func (a *API) handleOfflineSync(w http.ResponseWriter, r *http.Request) {
	var req service.SyncRequest
	if err := validate.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.SyncOffline(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExport serves /export/{kind}.csv. The CSV is buffered so a failure
// half way still produces a JSON error instead of a truncated download.
func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "kind")
	kind, ok := strings.CutSuffix(name, ".csv")
	if !ok {
		a.writeError(w, r, apperr.Invalid("kind", "must end in .csv"))
		return
	}
	template, _ := strconv.ParseBool(r.URL.Query().Get("template"))

	var buf bytes.Buffer
	if err := a.service.Export(r.Context(), &buf, service.ExportKind(kind), template); err != nil {
		a.writeError(w, r, err)
		return
	}
	filename := kind
	if template {
		filename += "-template"
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleDemoData(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.PopulateDemoData(r.Context())
	if err != nil {
		if len(result.Steps) == 0 {
			a.writeError(w, r, err)
			return
		}
		messages := make([]string, 0, result.Failed)
		for _, step := range result.Steps {
			if step.Error != "" {
				messages = append(messages, fmt.Sprintf("%s %q: %s", step.Entity, step.Name, step.Error))
			}
		}
		writeJSON(w, http.StatusMultiStatus, map[string]any{"result": result, "errors": messages})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"result": result})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.service.ListAuditLogs(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auditLogs": logs})
}
