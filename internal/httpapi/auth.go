package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/session"
	"posadmin/backend/internal/validate"
)

const tokenIssuer = "posadmin"

var errInvalidToken = apperr.New(apperr.CodeUnauthorized, "invalid or expired token")

// Authenticator checks credentials; the service layer implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, email string, password string) (*domain.User, error)
}

// AuthManager issues access tokens and binds them to live sessions.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    Authenticator
	sessions *session.Manager
	logg     *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string      `json:"accessToken"`
	ExpiresAt   string      `json:"expiresAt"`
	Session     SessionView `json:"session"`
}

// SessionView is what the admin UI needs to gate its screens.
type SessionView struct {
	UID         string            `json:"uid"`
	Email       string            `json:"email"`
	DisplayName string            `json:"displayName"`
	StoreID     string            `json:"storeId"`
	RoleID      string            `json:"roleId"`
	RoleName    string            `json:"roleName"`
	Permissions []rbac.Permission `json:"permissions"`
}

func sessionView(s *session.Session) SessionView {
	identity := s.Identity()
	view := SessionView{
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		StoreID:     s.StoreID(),
		RoleID:      s.RoleID(),
		Permissions: s.Permissions(),
	}
	if role := s.Role(); role != nil {
		view.RoleName = role.Name
	}
	if view.Permissions == nil {
		view.Permissions = []rbac.Permission{}
	}
	return view
}

func NewAuthManager(secret string, tokenTTL time.Duration, users Authenticator, sessions *session.Manager, logg *logger.Logger) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		sessions: sessions,
		logg:     logg,
		now:      time.Now,
		revoked:  make(map[string]time.Time),
	}
}

// Login verifies credentials, starts the user's session and signs a token for it.
func (a *AuthManager) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	user, err := a.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return LoginResponse{}, err
	}
	sess, err := a.sessions.Start(ctx, session.Identity{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})
	if err != nil {
		return LoginResponse{}, apperr.Wrap(apperr.CodeForbidden, err, "account is not bound to a store")
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(sess.Identity(), expiresAt)
	if err != nil {
		return LoginResponse{}, apperr.Wrap(apperr.CodeInternal, err, "sign token")
	}
	return LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Session:     sessionView(sess),
	}, nil
}

func (a *AuthManager) sign(identity session.Identity, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.UID,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) parse(tokenStr string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errInvalidToken
	}
	if a.isRevoked(claims.ID) {
		return nil, errInvalidToken
	}
	return claims, nil
}

// SessionFor returns the live session behind a token. A valid token whose
// session is gone (process restart) starts a fresh one so permissions are
// re-resolved from the store.
func (a *AuthManager) SessionFor(ctx context.Context, tokenStr string) (*session.Session, *sessionClaims, error) {
	claims, err := a.parse(tokenStr)
	if err != nil {
		return nil, nil, err
	}
	if sess, ok := a.sessions.Get(claims.Subject); ok && !sess.Ended() {
		return sess, claims, nil
	}
	sess, err := a.sessions.Start(ctx, session.Identity{
		UID:         claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
	})
	if err != nil {
		a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
			"user_id": claims.Subject,
			"error":   err.Error(),
		}), "session.restore_failed")
		return nil, nil, errInvalidToken
	}
	return sess, claims, nil
}

// Logout revokes the token and ends the user's session.
func (a *AuthManager) Logout(claims *sessionClaims) {
	expires := a.now().Add(a.tokenTTL)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	a.mu.Lock()
	now := a.now()
	for id, until := range a.revoked {
		if until.Before(now) {
			delete(a.revoked, id)
		}
	}
	a.revoked[claims.ID] = expires
	a.mu.Unlock()

	a.sessions.End(claims.Subject)
}

func (a *AuthManager) isRevoked(tokenID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.revoked[tokenID]
	return ok
}

type claimsCtxKey struct{}

// requireSession loads the caller's session from the bearer token and puts it
// on the request context for the service layer.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}
		token := strings.TrimSpace(authorization[len("Bearer "):])

		sess, claims, err := a.auth.SessionFor(r.Context(), token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		ctx := session.WithSession(r.Context(), sess)
		ctx = context.WithValue(ctx, claimsCtxKey{}, claims)
		ctx = a.logg.WithUserID(ctx, sess.UID())
		ctx = a.logg.WithStoreID(ctx, sess.StoreID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, apperr.New(apperr.CodeRateLimit, "too many login attempts"))
		return
	}

	var req LoginRequest
	if err := validate.DecodeJSON(r.Body, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logg.Info(a.logg.WithUserID(r.Context(), resp.Session.UID), "auth.login")
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := r.Context().Value(claimsCtxKey{}).(*sessionClaims)
	if claims != nil {
		a.auth.Logout(claims)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		a.writeError(w, r, apperr.New(apperr.CodeUnauthorized, "sign-in required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":          sessionView(sess),
		"forecastEnabled":  a.service.ForecastEnabled(),
		"permissionGroups": rbac.Groups(),
	})
}
