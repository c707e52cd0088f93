package rbac

import (
	"sort"

	"github.com/odyssey-erp/logistics-ledger/internal/shared"
)

// RoleSpec describes a role provisioned at startup.
type RoleSpec struct {
	Code        string
	Name        string
	Description string
}

// PermissionSpec describes a permission provisioned at startup.
type PermissionSpec struct {
	Code        string
	Description string
}

var permissionDescriptions = map[string]string{
	shared.PermPaymentView:             "View payment ledgers and statements",
	shared.PermPaymentCreate:           "Record payment transactions",
	shared.PermPaymentEdit:             "Change invoice totals",
	shared.PermPaymentDelete:           "Remove payment transactions",
	shared.PermPaymentAmend:            "File amendments against invoices",
	shared.PermPaymentApproveAmendment: "Approve or reject amendments",
	shared.PermInvoiceView:             "View invoices",
	shared.PermInvoiceCreate:           "Open invoice ledgers",
	shared.PermInvoiceEdit:             "Edit invoice details",
	shared.PermInvoiceDelete:           "Delete invoice ledgers",
	shared.PermUsersView:               "View users",
	shared.PermUsersCreate:             "Create users",
	shared.PermUsersEdit:               "Edit users",
	shared.PermUsersDelete:             "Delete users",
	shared.PermRolesView:               "View roles",
	shared.PermRolesEdit:               "Edit roles",
	shared.PermPermissionsView:         "View permissions",
	shared.PermJobsRun:                 "Trigger maintenance jobs",
}

// managementModules are reserved for user and role administration.
var managementModules = map[string]struct{}{
	"users":       {},
	"roles":       {},
	"permissions": {},
}

// Catalog lists every permission the service knows about, sorted by code.
func Catalog() []PermissionSpec {
	codes := make([]string, 0, 32)
	codes = append(codes, shared.PaymentScopes()...)
	codes = append(codes, shared.InvoiceScopes()...)
	codes = append(codes, shared.CoreScopes()...)
	codes = append(codes, shared.JobsScopes()...)
	sort.Strings(codes)
	specs := make([]PermissionSpec, 0, len(codes))
	for _, code := range codes {
		specs = append(specs, PermissionSpec{Code: code, Description: permissionDescriptions[code]})
	}
	return specs
}

// Roles lists the provisioned roles.
func Roles() []RoleSpec {
	return []RoleSpec{
		{Code: RoleSuperAdmin, Name: "Super Admin", Description: "Full access"},
		{Code: RoleAdmin, Name: "Admin", Description: "Everything except user and role management"},
		{Code: RoleManager, Name: "Manager", Description: "View, create and edit without delete or approval"},
		{Code: RoleViewer, Name: "Viewer", Description: "Read only"},
	}
}

// Grants computes the permission codes a role receives from the catalog.
func Grants(roleCode string, catalog []PermissionSpec) []string {
	out := make([]string, 0, len(catalog))
	for _, spec := range catalog {
		if grants(roleCode, Permission{Code: spec.Code}) {
			out = append(out, spec.Code)
		}
	}
	return out
}

// DefaultAssignments expands Roles over Catalog.
func DefaultAssignments() map[string][]string {
	catalog := Catalog()
	out := make(map[string][]string, len(Roles()))
	for _, role := range Roles() {
		out[role.Code] = Grants(role.Code, catalog)
	}
	return out
}

func grants(roleCode string, perm Permission) bool {
	_, management := managementModules[perm.Module()]
	switch roleCode {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return !management
	case RoleManager:
		if management {
			return false
		}
		switch perm.Action() {
		case "view", "create", "edit", "amend":
			return true
		}
		return false
	case RoleViewer:
		return !management && perm.Action() == "view"
	default:
		return false
	}
}
