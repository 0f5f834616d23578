package rbac

import (
	"fmt"
	"strings"
)

// Permission is a resource:action capability token from a closed vocabulary.
type Permission string

const (
	ProductView   Permission = "product:view"
	ProductCreate Permission = "product:create"
	ProductUpdate Permission = "product:update"
	ProductDelete Permission = "product:delete"

	InventoryManage   Permission = "inventory:manage"
	InventoryForecast Permission = "inventory:forecast"

	CustomerView   Permission = "customer:view"
	CustomerCreate Permission = "customer:create"
	CustomerUpdate Permission = "customer:update"
	CustomerDelete Permission = "customer:delete"

	TransactionView   Permission = "transaction:view"
	TransactionCreate Permission = "transaction:create"
	TransactionRefund Permission = "transaction:refund"

	RoleView   Permission = "role:view"
	RoleManage Permission = "role:manage"

	UserManage Permission = "user:manage"

	SettingsView   Permission = "settings:view"
	SettingsUpdate Permission = "settings:update"

	ReportExport Permission = "report:export"
)

var validPermissions = []Permission{
	ProductView,
	ProductCreate,
	ProductUpdate,
	ProductDelete,
	InventoryManage,
	InventoryForecast,
	CustomerView,
	CustomerCreate,
	CustomerUpdate,
	CustomerDelete,
	TransactionView,
	TransactionCreate,
	TransactionRefund,
	RoleView,
	RoleManage,
	UserManage,
	SettingsView,
	SettingsUpdate,
	ReportExport,
}

// IsValid reports whether the value is part of the permission vocabulary.
func (p Permission) IsValid() bool {
	for _, candidate := range validPermissions {
		if candidate == p {
			return true
		}
	}
	return false
}

// Resource returns the part before the colon.
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(string(p), ":")
	return resource
}

// ParsePermission converts the raw string to a Permission.
func ParsePermission(value string) (Permission, error) {
	for _, candidate := range validPermissions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid permission %q", value)
}

// ParsePermissions parses every token and fails on the first unknown one.
func ParsePermissions(values []string) ([]Permission, error) {
	out := make([]Permission, 0, len(values))
	for _, value := range values {
		p, err := ParsePermission(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func AllPermissions() []Permission {
	out := make([]Permission, len(validPermissions))
	copy(out, validPermissions)
	return out
}

type PermissionGroup struct {
	Resource    string       `json:"resource"`
	Permissions []Permission `json:"permissions"`
}

// Groups returns the vocabulary grouped by resource in declaration order.
func Groups() []PermissionGroup {
	groups := make([]PermissionGroup, 0, 8)
	index := map[string]int{}
	for _, p := range validPermissions {
		resource := p.Resource()
		i, ok := index[resource]
		if !ok {
			i = len(groups)
			index[resource] = i
			groups = append(groups, PermissionGroup{Resource: resource})
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	return groups
}

// PermissionSet is the effective capability set of a resolved user.
// The zero value grants nothing.
type PermissionSet struct {
	members map[Permission]struct{}
}

// NewPermissionSet ignores tokens outside the vocabulary.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := PermissionSet{members: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		if !p.IsValid() {
			continue
		}
		set.members[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(p Permission) bool {
	if s.members == nil {
		return false
	}
	_, ok := s.members[p]
	return ok
}

func (s PermissionSet) Len() int {
	return len(s.members)
}

// List returns the members in vocabulary order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s.members))
	for _, p := range validPermissions {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}
