package rbac

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/logistics-ledger/internal/shared"
)

type memoryRBACRepo struct {
	roles       map[string]Role
	permissions map[string]Permission
	assigned    map[int64]map[int64]struct{}
	nextID      int64
}

func newMemoryRBACRepo() *memoryRBACRepo {
	return &memoryRBACRepo{
		roles:       map[string]Role{},
		permissions: map[string]Permission{},
		assigned:    map[int64]map[int64]struct{}{},
	}
}

func (r *memoryRBACRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRBACRepo) UpsertRole(ctx context.Context, spec RoleSpec) (Role, error) {
	role, ok := r.roles[spec.Code]
	if !ok {
		r.nextID++
		role.ID = r.nextID
	}
	role.Code, role.Name, role.Description = spec.Code, spec.Name, spec.Description
	r.roles[spec.Code] = role
	return role, nil
}

func (r *memoryRBACRepo) UpsertPermission(ctx context.Context, spec PermissionSpec) (Permission, error) {
	perm, ok := r.permissions[spec.Code]
	if !ok {
		r.nextID++
		perm.ID = r.nextID
	}
	perm.Code, perm.Description = spec.Code, spec.Description
	r.permissions[spec.Code] = perm
	return perm, nil
}

func (r *memoryRBACRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	set := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	r.assigned[roleID] = set
	return nil
}

func (r *memoryRBACRepo) ListRoles(ctx context.Context) ([]Role, error) {
	out := []Role{}
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *memoryRBACRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := []Permission{}
	for _, perm := range r.permissions {
		out = append(out, perm)
	}
	return out, nil
}

func (r *memoryRBACRepo) ListAssignments(ctx context.Context) ([]Assignment, error) {
	byID := map[int64]string{}
	for code, perm := range r.permissions {
		byID[perm.ID] = code
	}
	out := []Assignment{}
	for code, role := range r.roles {
		for permID := range r.assigned[role.ID] {
			out = append(out, Assignment{RoleCode: code, PermissionCode: byID[permID]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoleCode == out[j].RoleCode {
			return out[i].PermissionCode < out[j].PermissionCode
		}
		return out[i].RoleCode < out[j].RoleCode
	})
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSyncCatalogIsRepeatable(t *testing.T) {
	repo := newMemoryRBACRepo()
	svc := NewService(repo, discardLogger())
	ctx := context.Background()

	_, err := svc.LoadGate(ctx)
	require.ErrorIs(t, err, ErrNotProvisioned)

	require.NoError(t, svc.SyncCatalog(ctx))
	first, err := repo.ListAssignments(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.SyncCatalog(ctx))
	second, err := repo.ListAssignments(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, repo.roles, len(Roles()))
	require.Len(t, repo.permissions, len(Catalog()))

	gate, err := svc.LoadGate(ctx)
	require.NoError(t, err)
	defaults := DefaultGate()
	for _, role := range Roles() {
		require.Equal(t, defaults.Permissions(role.Code), gate.Permissions(role.Code), role.Code)
	}
}

func TestListRolesIncludesPermissions(t *testing.T) {
	repo := newMemoryRBACRepo()
	svc := NewService(repo, discardLogger())
	require.NoError(t, svc.SyncCatalog(context.Background()))

	roles, err := svc.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 4)
	require.Equal(t, RoleAdmin, roles[0].Role.Code)
	for _, role := range roles {
		if role.Role.Code == RoleViewer {
			require.Equal(t, []string{shared.PermInvoiceView, shared.PermPaymentView}, role.Permissions)
		}
	}
}

func TestHandlerRoutes(t *testing.T) {
	repo := newMemoryRBACRepo()
	svc := NewService(repo, discardLogger())
	require.NoError(t, svc.SyncCatalog(context.Background()))
	gate := DefaultGate()
	h := NewHandler(discardLogger(), svc, gate, Middleware{Gate: gate, Logger: discardLogger()})
	r := chi.NewRouter()
	h.MountRoutes(r)

	call := func(path string, actor *shared.Actor) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if actor != nil {
			req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	root := &shared.Actor{UserID: 1, Role: RoleSuperAdmin}
	admin := &shared.Actor{UserID: 2, Role: RoleAdmin}
	require.Equal(t, http.StatusOK, call("/roles", root))
	require.Equal(t, http.StatusOK, call("/permissions", root))
	require.Equal(t, http.StatusForbidden, call("/roles", admin))
	require.Equal(t, http.StatusOK, call("/me", admin))
	require.Equal(t, http.StatusUnauthorized, call("/me", nil))
	require.Equal(t, http.StatusUnauthorized, call("/roles", nil))
}

func TestRequireAll(t *testing.T) {
	gate := DefaultGate()
	mw := Middleware{Gate: gate}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := mw.RequireAll(shared.PermPaymentCreate, shared.PermPaymentDelete)(ok)

	serve := func(role string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 5, Role: role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusNoContent, serve(RoleAdmin))
	require.Equal(t, http.StatusForbidden, serve(RoleManager))
}
