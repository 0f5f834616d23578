package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/forecast"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/reorder"
	"posadmin/backend/internal/session"
	"posadmin/backend/internal/store"
	"posadmin/backend/internal/xid"
)

// SessionRefresher is told when a role or a user's assignment changes so live
// sessions pick up the new permissions.
type SessionRefresher interface {
	Refresh(ctx context.Context, uid string) error
	RefreshRole(ctx context.Context, roleID string) error
}

type Options struct {
	Repo        store.Repository
	Sessions    SessionRefresher
	Forecasts   *forecast.Service
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
	StockPolicy domain.StockPolicy
}

type Service struct {
	repo        store.Repository
	sessions    SessionRefresher
	forecasts   *forecast.Service
	logg        *logger.Logger
	metrics     *metrics.Metrics
	stockPolicy domain.StockPolicy
	now         func() time.Time
}

func New(opts Options) *Service {
	policy := opts.StockPolicy
	if policy == "" {
		policy = domain.StockPolicyReject
	}
	forecasts := opts.Forecasts
	if forecasts == nil {
		forecasts = forecast.NewService(forecast.Options{Logger: opts.Logger})
	}
	return &Service{
		repo:        opts.Repo,
		sessions:    opts.Sessions,
		forecasts:   forecasts,
		logg:        opts.Logger,
		metrics:     opts.Metrics,
		stockPolicy: policy,
		now:         time.Now,
	}
}

// authorize returns the caller's session when it holds p. Requests without a
// live session are unauthorized; a session without p is forbidden.
func (s *Service) authorize(ctx context.Context, p rbac.Permission) (*session.Session, error) {
	sess := session.FromContext(ctx)
	if sess == nil || sess.Ended() {
		return nil, apperr.New(apperr.CodeUnauthorized, "sign-in required")
	}
	if !sess.HasPermission(p) {
		return nil, apperr.Newf(apperr.CodeForbidden, "missing permission %s", p)
	}
	if sess.StoreID() == "" {
		return nil, apperr.New(apperr.CodeForbidden, "user is not bound to a store")
	}
	return sess, nil
}

func (s *Service) logAudit(ctx context.Context, sess *session.Session, action string, entityType string, entityID string, detail string) {
	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    sess.StoreID(),
		ActorUID:   sess.UID(),
		ActorRole:  sess.RoleID(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}
	if entry.ActorUID == "" {
		entry.ActorUID = "system"
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"action": action,
			"entity": entityType + "/" + entityID,
			"error":  err.Error(),
		}), "audit.write_failed")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	sess, err := s.authorize(ctx, rbac.SettingsView)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	logs, err := s.repo.ListAuditLogs(ctx, sess.StoreID(), limit)
	if err != nil {
		return nil, translate(err)
	}
	return logs, nil
}

// translate maps repository and collaborator errors onto the public error codes.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if apperr.As(err) != nil {
		return err
	}

	var lineErr *store.LineError
	if errors.As(err, &lineErr) {
		field := "items"
		switch {
		case errors.Is(err, store.ErrInsufficientStock):
			return apperr.Wrap(apperr.CodeConflict, err, "insufficient stock").
				WithField(field, fmt.Sprintf("product %s has insufficient stock", lineErr.ProductID))
		case errors.Is(err, store.ErrNotFound):
			return apperr.Wrap(apperr.CodeNotFound, err, "product not found").
				WithField(field, fmt.Sprintf("product %s not found", lineErr.ProductID))
		case errors.Is(err, store.ErrInvalidTransaction):
			return apperr.Wrap(apperr.CodeStateConflict, err, "refund exceeds the remaining quantity").
				WithField(field, fmt.Sprintf("product %s cannot be refunded in that quantity", lineErr.ProductID))
		}
	}

	switch {
	case errors.Is(err, rbac.ErrPredefinedRole):
		return apperr.Wrap(apperr.CodeStateConflict, err, "predefined roles cannot be modified")
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, err.Error())
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.CodeConflict, err, "resource already exists")
	case errors.Is(err, store.ErrInsufficientStock):
		return apperr.Wrap(apperr.CodeConflict, err, "insufficient stock")
	case errors.Is(err, store.ErrInvalidTransaction):
		return apperr.Wrap(apperr.CodeStateConflict, err, "transaction cannot be changed")
	case errors.Is(err, forecast.ErrGeneration):
		return apperr.Wrap(apperr.CodeDependency, err, "forecast is unavailable, try again later")
	case errors.Is(err, reorder.ErrInvalidInput):
		return apperr.Wrap(apperr.CodeValidation, err, "invalid reorder input")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.CodeDependency, err, "request timed out")
	}
	return apperr.Wrap(apperr.CodeInternal, err, "internal error")
}

// publicMessage is the text a client may see for err. Server-side failures
// collapse to the code's public message.
func publicMessage(err error) string {
	appErr := apperr.As(translate(err))
	meta := apperr.MetadataFor(appErr.Code())
	if meta.HTTPStatus >= 500 {
		return meta.PublicMessage
	}
	return appErr.Message()
}
