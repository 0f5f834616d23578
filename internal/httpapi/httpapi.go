package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/service"
)

type Options struct {
	Service        *service.Service
	Auth           *AuthManager
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	AllowedOrigins []string
	LoginAttempts  int
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	logg           *logger.Logger
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	allowedOrigins []string
	loginLimiter   *attemptLimiter
	ready          func(ctx context.Context) error
}

func New(opts Options) *API {
	attempts := opts.LoginAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &API{
		service:        opts.Service,
		auth:           opts.Auth,
		logg:           opts.Logger,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		allowedOrigins: opts.AllowedOrigins,
		loginLimiter:   newAttemptLimiter(attempts, time.Minute),
		ready:          opts.Ready,
	}
}

// middlewares wraps every route. The recoverer sits inside logging so a
// panicking request is still logged and counted with its 500.
func (a *API) middlewares() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		a.requestID,
		a.logging,
		a.recoverer,
		securityHeaders,
		corsHandler(a.allowedOrigins),
		limitBody,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.middlewares()...)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperr.New(apperr.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "method not allowed",
		}})
	})

	r.Get("/healthz", a.handleHealth)
	if a.metricsHandler != nil {
		r.Handle("/metrics", a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/auth/me", a.handleMe)

			r.Get("/settings", a.handleGetSettings)
			r.Patch("/settings", a.handleUpdateSettings)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", a.handleListProducts)
				r.Post("/", a.handleCreateProduct)
				r.Get("/{productID}", a.handleGetProduct)
				r.Patch("/{productID}", a.handleUpdateProduct)
				r.Delete("/{productID}", a.handleDeleteProduct)
				r.Put("/{productID}/stock", a.handleSetStock)
				r.Get("/{productID}/reorder-plan", a.handleReorderPlan)
			})
			r.Get("/inventory/reorder-alerts", a.handleReorderAlerts)
			r.Post("/forecast/stock-out", a.handlePredictStockOut)
			r.Post("/forecast/reorder", a.handleSuggestReorder)

			r.Route("/customers", func(r chi.Router) {
				r.Get("/", a.handleListCustomers)
				r.Post("/", a.handleCreateCustomer)
				r.Get("/{customerID}", a.handleGetCustomer)
				r.Patch("/{customerID}", a.handleUpdateCustomer)
				r.Delete("/{customerID}", a.handleDeleteCustomer)
			})

			r.Get("/permissions", a.handlePermissions)
			r.Route("/roles", func(r chi.Router) {
				r.Get("/", a.handleListRoles)
				r.Post("/", a.handleCreateRole)
				r.Patch("/{roleID}", a.handleUpdateRole)
				r.Delete("/{roleID}", a.handleDeleteRole)
			})
			r.Route("/users", func(r chi.Router) {
				r.Get("/", a.handleListUsers)
				r.Post("/", a.handleCreateUser)
				r.Put("/{uid}/role", a.handleAssignRole)
			})

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", a.handleListTransactions)
				r.Post("/", a.handleCommitSale)
				r.Get("/{transactionID}", a.handleGetTransaction)
				r.Post("/{transactionID}/refunds", a.handleRefund)
			})
			r.Post("/sync/offline-transactions", a.handleOfflineSync)

			r.Get("/export/{kind}", a.handleExport)
			r.Post("/demo-data", a.handleDemoData)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	}
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.logg.Warn(a.logg.WithField(r.Context(), "error", err.Error()), "health.not_ready")
			status = http.StatusServiceUnavailable
			body["ok"] = false
		}
	}
	writeJSON(w, status, body)
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details apperr.FieldErrors `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError maps err onto its HTTP status and public envelope. Messages of
// server-side failures never leave the process.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	if appErr == nil {
		appErr = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.MetadataFor(appErr.Code())

	body := errorBody{Code: string(appErr.Code()), Message: meta.PublicMessage}
	if meta.HTTPStatus < http.StatusInternalServerError && appErr.Message() != "" {
		body.Message = appErr.Message()
	}
	if meta.DetailsAllowed && len(appErr.Fields()) > 0 {
		body.Details = appErr.Fields()
	}

	ctx := a.logg.WithFields(r.Context(), map[string]any{
		"code":   string(appErr.Code()),
		"status": meta.HTTPStatus,
	})
	if meta.HTTPStatus >= http.StatusInternalServerError {
		a.logg.Error(ctx, "request.error", err)
	} else {
		a.logg.Debug(a.logg.WithField(ctx, "error", err.Error()), "request.error")
	}
	writeJSON(w, meta.HTTPStatus, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseOptionalInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Invalid(name, "must be a non-negative integer")
	}
	return v, nil
}
