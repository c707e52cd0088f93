package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/logistics-ledger/internal/shared"
)

func TestRoleMatrix(t *testing.T) {
	gate := DefaultGate()
	cases := []struct {
		perm                               string
		superAdmin, admin, manager, viewer bool
	}{
		{shared.PermPaymentView, true, true, true, true},
		{shared.PermPaymentCreate, true, true, true, false},
		{shared.PermPaymentEdit, true, true, true, false},
		{shared.PermPaymentAmend, true, true, true, false},
		{shared.PermPaymentDelete, true, true, false, false},
		{shared.PermPaymentApproveAmendment, true, true, false, false},
		{shared.PermInvoiceCreate, true, true, true, false},
		{shared.PermInvoiceDelete, true, true, false, false},
		{shared.PermUsersEdit, true, false, false, false},
		{shared.PermRolesView, true, false, false, false},
		{shared.PermPermissionsView, true, false, false, false},
		{shared.PermJobsRun, true, true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.perm, func(t *testing.T) {
			require.Equal(t, tc.superAdmin, gate.Authorize(RoleSuperAdmin, tc.perm))
			require.Equal(t, tc.admin, gate.Authorize(RoleAdmin, tc.perm))
			require.Equal(t, tc.manager, gate.Authorize(RoleManager, tc.perm))
			require.Equal(t, tc.viewer, gate.Authorize(RoleViewer, tc.perm))
		})
	}
}

func TestCatalogIsSortedAndDescribed(t *testing.T) {
	catalog := Catalog()
	require.NotEmpty(t, catalog)
	for i, spec := range catalog {
		require.NotEmpty(t, spec.Description, spec.Code)
		if i > 0 {
			require.Less(t, catalog[i-1].Code, spec.Code)
		}
	}
}

func TestGateUnknownRoleAndNormalisation(t *testing.T) {
	gate := NewGate(map[string][]string{" Clerk ": {"Payment.View "}})
	require.True(t, gate.Authorize("clerk", "payment.view"))
	require.False(t, gate.Authorize("clerk", "payment.create"))
	require.False(t, gate.Authorize("ghost", "payment.view"))
	require.Equal(t, []string{"payment.view"}, gate.Permissions("CLERK"))

	var nilGate *Gate
	require.False(t, nilGate.Authorize(RoleSuperAdmin, shared.PermPaymentView))
}

func TestPermissionCodeParts(t *testing.T) {
	p := Permission{Code: "payment.approve_amendment"}
	require.Equal(t, "payment", p.Module())
	require.Equal(t, "approve_amendment", p.Action())
	require.Equal(t, "", Permission{Code: "orphan"}.Action())
}
