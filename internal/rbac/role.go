package rbac

import (
	"errors"
	"strings"
	"time"

	"posadmin/backend/internal/apperr"
)

var ErrPredefinedRole = errors.New("predefined roles cannot be modified")

const (
	RoleIDOwner   = "role-owner"
	RoleIDManager = "role-manager"
	RoleIDCashier = "role-cashier"
	RoleIDViewer  = "role-viewer"
)

type Role struct {
	ID           string       `json:"id"`
	StoreID      string       `json:"storeId,omitempty"`
	Name         string       `json:"name"`
	Permissions  []Permission `json:"permissions"`
	IsPredefined bool         `json:"isPredefined"`
	CreatedAt    time.Time    `json:"createdAt,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt,omitempty"`
}

var predefinedRoles = []Role{
	{
		ID:           RoleIDOwner,
		Name:         "Owner",
		Permissions:  AllPermissions(),
		IsPredefined: true,
	},
	{
		ID:   RoleIDManager,
		Name: "Manager",
		Permissions: []Permission{
			ProductView, ProductCreate, ProductUpdate, ProductDelete,
			InventoryManage, InventoryForecast,
			CustomerView, CustomerCreate, CustomerUpdate, CustomerDelete,
			TransactionView, TransactionCreate, TransactionRefund,
			RoleView,
			SettingsView,
			ReportExport,
		},
		IsPredefined: true,
	},
	{
		ID:   RoleIDCashier,
		Name: "Cashier",
		Permissions: []Permission{
			ProductView,
			CustomerView, CustomerCreate,
			TransactionView, TransactionCreate,
		},
		IsPredefined: true,
	},
	{
		ID:   RoleIDViewer,
		Name: "Viewer",
		Permissions: []Permission{
			ProductView,
			CustomerView,
			TransactionView,
			SettingsView,
		},
		IsPredefined: true,
	},
}

// PredefinedRoles returns copies of the system roles.
func PredefinedRoles() []Role {
	out := make([]Role, 0, len(predefinedRoles))
	for _, role := range predefinedRoles {
		out = append(out, role.clone())
	}
	return out
}

// Predefined looks up a system role by id.
func Predefined(id string) (Role, bool) {
	for _, role := range predefinedRoles {
		if role.ID == id {
			return role.clone(), true
		}
	}
	return Role{}, false
}

func IsPredefinedID(id string) bool {
	_, ok := Predefined(id)
	return ok
}

func (r Role) PermissionSet() PermissionSet {
	return NewPermissionSet(r.Permissions...)
}

func (r Role) clone() Role {
	dup := r
	dup.Permissions = make([]Permission, len(r.Permissions))
	copy(dup.Permissions, r.Permissions)
	return dup
}

// ValidateCustom checks the fields a store-defined role must carry. Duplicate
// permissions are collapsed; order of first appearance is kept.
func ValidateCustom(name string, perms []Permission) (string, []Permission, error) {
	fields := apperr.FieldErrors{}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		fields["name"] = "is required"
	}

	seen := make(map[Permission]struct{}, len(perms))
	unique := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if !p.IsValid() {
			fields["permissions"] = "contains unknown permission " + string(p)
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	if len(unique) == 0 {
		if _, already := fields["permissions"]; !already {
			fields["permissions"] = "must contain at least one permission"
		}
	}

	if len(fields) > 0 {
		return "", nil, apperr.New(apperr.CodeValidation, "invalid role").WithFields(fields)
	}
	return trimmed, unique, nil
}
