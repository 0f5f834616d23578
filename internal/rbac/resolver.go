package rbac

import (
	"context"
	"fmt"

	"posadmin/backend/internal/logger"
)

// Assignment binds a user to exactly one store and one role.
type Assignment struct {
	UID     string
	StoreID string
	RoleID  string
}

// Directory is the lookup surface the resolver needs from persistence.
type Directory interface {
	UserAssignment(ctx context.Context, uid string) (Assignment, error)
	GetRole(ctx context.Context, roleID string) (*Role, error)
}

type Resolution struct {
	UID     string
	StoreID string
	// Role is nil when the assignment could not be resolved.
	Role        *Role
	Permissions PermissionSet
}

func (r Resolution) Has(p Permission) bool {
	return r.Permissions.Has(p)
}

type Resolver struct {
	dir  Directory
	logg *logger.Logger
}

func NewResolver(dir Directory, logg *logger.Logger) *Resolver {
	return &Resolver{dir: dir, logg: logg}
}

// Resolve maps a user id to its store, role and effective permissions. A
// missing user is an error. A missing, foreign or unreadable role yields an
// empty permission set.
func (r *Resolver) Resolve(ctx context.Context, uid string) (Resolution, error) {
	assignment, err := r.dir.UserAssignment(ctx, uid)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve user %s: %w", uid, err)
	}

	res := Resolution{
		UID:         uid,
		StoreID:     assignment.StoreID,
		Permissions: PermissionSet{},
	}

	role, err := r.role(ctx, assignment.RoleID)
	if err != nil {
		r.warn(ctx, uid, assignment.RoleID, fmt.Sprintf("role lookup failed: %v", err))
		return res, nil
	}
	if !role.IsPredefined && role.StoreID != assignment.StoreID {
		r.warn(ctx, uid, assignment.RoleID, "role belongs to another store")
		return res, nil
	}

	res.Role = role
	res.Permissions = role.PermissionSet()
	return res, nil
}

func (r *Resolver) role(ctx context.Context, roleID string) (*Role, error) {
	if roleID == "" {
		return nil, fmt.Errorf("user has no role")
	}
	if role, ok := Predefined(roleID); ok {
		return &role, nil
	}
	return r.dir.GetRole(ctx, roleID)
}

func (r *Resolver) warn(ctx context.Context, uid string, roleID string, reason string) {
	if r.logg == nil {
		return
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"user_id": uid,
		"role_id": roleID,
		"reason":  reason,
	})
	r.logg.Warn(ctx, "rbac.resolve.denied_all")
}
