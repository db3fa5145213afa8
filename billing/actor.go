package billing

// =============================================================================
// ACTOR - Session-scoped identity passed to every operation
// =============================================================================

// Permission is a capability a household member may hold.
type Permission string

const (
	PermViewDashboard    Permission = "viewDashboard"
	PermManageCards      Permission = "manageCards"
	PermManagePurchases  Permission = "managePurchases"
	PermManageCategories Permission = "manageCategories"
	PermPayInvoices      Permission = "payInvoices"
)

// AllPermissions lists every capability in display order.
var AllPermissions = []Permission{
	PermViewDashboard,
	PermManageCards,
	PermManagePurchases,
	PermManageCategories,
	PermPayInvoices,
}

func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// PermissionSet is the set of capabilities granted to a member.
type PermissionSet map[Permission]bool

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

func (s PermissionSet) Has(p Permission) bool { return s[p] }

// List returns the granted permissions in display order.
func (s PermissionSet) List() []Permission {
	var out []Permission
	for _, p := range AllPermissions {
		if s[p] {
			out = append(out, p)
		}
	}
	return out
}

// Actor is the caller of a billing operation: who they are, which household
// they act on, and what they may do there. It is built once per session (or
// request) and threaded explicitly; nothing in this package caches it.
type Actor struct {
	UserID      UserID
	GroupID     GroupID
	DisplayName string
	Email       string
	Permissions PermissionSet
}

func (a Actor) HasPermission(p Permission) bool { return a.Permissions.Has(p) }

// Name returns the best human-readable name for audit fields.
func (a Actor) Name() string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.Email != "":
		return a.Email
	}
	return "Unknown"
}

// Require returns a PermissionError when the actor lacks p.
func (a Actor) Require(p Permission) error {
	if a.GroupID == "" || !a.HasPermission(p) {
		return &PermissionError{UserID: a.UserID, Permission: p}
	}
	return nil
}
