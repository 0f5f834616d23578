package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"posadmin/backend/internal/apperr"
	"posadmin/backend/internal/domain"
	"posadmin/backend/internal/rbac"
	"posadmin/backend/internal/session"
	"posadmin/backend/internal/store"
	"posadmin/backend/internal/validate"
	"posadmin/backend/internal/xid"
)

var ErrInvalidCredentials = apperr.New(apperr.CodeUnauthorized, "invalid email or password")

// dummyHash keeps the unknown-email path as slow as a real password check.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("posadmin-timing-equalizer"), bcrypt.DefaultCost)

// Authenticate checks email and password and returns the active user.
func (s *Service) Authenticate(ctx context.Context, email string, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, translate(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, apperr.New(apperr.CodeForbidden, "account is disabled")
	}
	return user, nil
}

type RoleInput struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

// RoleList carries the assignable roles and the permission catalogue they draw from.
type RoleList struct {
	Roles  []rbac.Role            `json:"roles"`
	Groups []rbac.PermissionGroup `json:"permissionGroups"`
}

func (s *Service) ListRoles(ctx context.Context) (RoleList, error) {
	sess, err := s.authorize(ctx, rbac.RoleView)
	if err != nil {
		return RoleList{}, err
	}
	custom, err := s.repo.ListRoles(ctx, sess.StoreID())
	if err != nil {
		return RoleList{}, translate(err)
	}
	roles := append(rbac.PredefinedRoles(), custom...)
	return RoleList{Roles: roles, Groups: rbac.Groups()}, nil
}

func (s *Service) CreateRole(ctx context.Context, in RoleInput) (*rbac.Role, error) {
	sess, err := s.authorize(ctx, rbac.RoleManage)
	if err != nil {
		return nil, err
	}
	name, perms, err := parseRoleInput(in)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	created, err := s.repo.CreateRole(ctx, rbac.Role{
		ID:          xid.New("role"),
		StoreID:     sess.StoreID(),
		Name:        name,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, translate(err)
	}
	s.logAudit(ctx, sess, "role.create", "role", created.ID, created.Name)
	return created, nil
}

// UpdateRole replaces a custom role's name and permissions. Live sessions
// holding the role are re-resolved.
func (s *Service) UpdateRole(ctx context.Context, roleID string, in RoleInput) (*rbac.Role, error) {
	sess, err := s.authorize(ctx, rbac.RoleManage)
	if err != nil {
		return nil, err
	}
	if rbac.IsPredefinedID(roleID) {
		return nil, translate(rbac.ErrPredefinedRole)
	}
	name, perms, err := parseRoleInput(in)
	if err != nil {
		return nil, err
	}
	current, err := s.customRole(ctx, sess.StoreID(), roleID)
	if err != nil {
		return nil, err
	}
	current.Name = name
	current.Permissions = perms
	current.UpdatedAt = s.now().UTC()
	updated, err := s.repo.UpdateRole(ctx, *current)
	if err != nil {
		return nil, translate(err)
	}
	s.logAudit(ctx, sess, "role.update", "role", updated.ID, updated.Name)
	s.refreshRole(ctx, updated.ID)
	return updated, nil
}

func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	sess, err := s.authorize(ctx, rbac.RoleManage)
	if err != nil {
		return err
	}
	if rbac.IsPredefinedID(roleID) {
		return translate(rbac.ErrPredefinedRole)
	}
	if _, err := s.customRole(ctx, sess.StoreID(), roleID); err != nil {
		return err
	}
	inUse, err := s.repo.CountUsersWithRole(ctx, sess.StoreID(), roleID)
	if err != nil {
		return translate(err)
	}
	if inUse > 0 {
		return apperr.Newf(apperr.CodeConflict, "role is assigned to %d user(s)", inUse)
	}
	if err := s.repo.DeleteRole(ctx, sess.StoreID(), roleID); err != nil {
		return translate(err)
	}
	s.logAudit(ctx, sess, "role.delete", "role", roleID, "")
	s.refreshRole(ctx, roleID)
	return nil
}

func (s *Service) customRole(ctx context.Context, storeID string, roleID string) (*rbac.Role, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, translate(err)
	}
	if role.StoreID != storeID {
		return nil, apperr.New(apperr.CodeNotFound, "role not found")
	}
	return role, nil
}

func (s *Service) refreshRole(ctx context.Context, roleID string) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RefreshRole(ctx, roleID); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"role_id": roleID,
			"error":   err.Error(),
		}), "session.refresh_failed")
	}
}

func parseRoleInput(in RoleInput) (string, []rbac.Permission, error) {
	if err := validate.Struct(in); err != nil {
		return "", nil, err
	}
	perms := make([]rbac.Permission, 0, len(in.Permissions))
	for _, raw := range in.Permissions {
		perms = append(perms, rbac.Permission(strings.TrimSpace(raw)))
	}
	return rbac.ValidateCustom(in.Name, perms)
}

type UserInput struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName" validate:"max=200"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	RoleID      string `json:"roleId" validate:"required"`
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	sess, err := s.authorize(ctx, rbac.UserManage)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, sess.StoreID())
	if err != nil {
		return nil, translate(err)
	}
	return users, nil
}

func (s *Service) CreateUser(ctx context.Context, in UserInput) (*domain.User, error) {
	sess, err := s.authorize(ctx, rbac.UserManage)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if err := s.checkAssignableRole(ctx, sess, in.RoleID); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, translate(err)
	}
	created, err := s.repo.CreateUser(ctx, domain.User{
		UID:          xid.New("user"),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: string(hash),
		StoreID:      sess.StoreID(),
		RoleID:       in.RoleID,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Wrap(apperr.CodeConflict, err, "email is already registered").WithField("email", "is already registered")
		}
		return nil, translate(err)
	}
	s.logAudit(ctx, sess, "user.create", "user", created.UID, created.Email+" as "+created.RoleID)
	return created, nil
}

// AssignRole moves a user to another role; their live session follows.
func (s *Service) AssignRole(ctx context.Context, uid string, roleID string) (*domain.User, error) {
	sess, err := s.authorize(ctx, rbac.UserManage)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(roleID) == "" {
		return nil, apperr.Invalid("roleId", "is required")
	}
	if err := s.checkAssignableRole(ctx, sess, roleID); err != nil {
		return nil, err
	}
	if uid == sess.UID() && roleID != sess.RoleID() {
		return nil, apperr.New(apperr.CodeStateConflict, "you cannot change your own role")
	}
	updated, err := s.repo.UpdateUserRole(ctx, sess.StoreID(), uid, roleID)
	if err != nil {
		return nil, translate(err)
	}
	s.logAudit(ctx, sess, "user.assign_role", "user", uid, roleID)
	if s.sessions != nil {
		if err := s.sessions.Refresh(ctx, uid); err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"target_uid": uid,
				"error":      err.Error(),
			}), "session.refresh_failed")
		}
	}
	return updated, nil
}

// checkAssignableRole requires roleID to exist in the caller's store and to
// grant nothing the caller does not already hold.
func (s *Service) checkAssignableRole(ctx context.Context, sess *session.Session, roleID string) error {
	role, ok := rbac.Predefined(roleID)
	if !ok {
		custom, err := s.customRole(ctx, sess.StoreID(), roleID)
		if err != nil {
			if apperr.IsCode(err, apperr.CodeNotFound) {
				return apperr.Invalid("roleId", "does not exist")
			}
			return err
		}
		role = *custom
	}
	for _, perm := range role.Permissions {
		if !sess.HasPermission(perm) {
			return apperr.Newf(apperr.CodeForbidden, "cannot grant role %s: missing permission %s", role.Name, perm)
		}
	}
	return nil
}
