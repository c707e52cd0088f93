package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrNotProvisioned indicates the catalog was never synced.
	ErrNotProvisioned = errors.New("rbac: catalog not provisioned")
)

// Repository defines RBAC data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
}

// TxRepository exposes provisioning writes.
type TxRepository interface {
	UpsertRole(ctx context.Context, spec RoleSpec) (Role, error)
	UpsertPermission(ctx context.Context, spec PermissionSpec) (Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}

// Service orchestrates RBAC operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SyncCatalog provisions roles, permissions and their assignments from the
// built-in catalog. Running it twice yields the same state.
func (s *Service) SyncCatalog(ctx context.Context) error {
	catalog := Catalog()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := make(map[string]int64, len(catalog))
		for _, spec := range catalog {
			perm, err := tx.UpsertPermission(ctx, spec)
			if err != nil {
				return fmt.Errorf("rbac: upsert permission %s: %w", spec.Code, err)
			}
			ids[perm.Code] = perm.ID
		}
		for _, spec := range Roles() {
			role, err := tx.UpsertRole(ctx, spec)
			if err != nil {
				return fmt.Errorf("rbac: upsert role %s: %w", spec.Code, err)
			}
			granted := Grants(spec.Code, catalog)
			permIDs := make([]int64, 0, len(granted))
			for _, code := range granted {
				permIDs = append(permIDs, ids[code])
			}
			if err := tx.ReplaceRolePermissions(ctx, role.ID, permIDs); err != nil {
				return fmt.Errorf("rbac: assign %s: %w", spec.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("rbac catalog synced", slog.Int("permissions", len(catalog)), slog.Int("roles", len(Roles())))
	}
	return nil
}

// LoadGate builds a Gate from persisted assignments.
func (s *Service) LoadGate(ctx context.Context) (*Gate, error) {
	assignments, err := s.repo.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, ErrNotProvisioned
	}
	byRole := make(map[string][]string)
	for _, a := range assignments {
		byRole[a.RoleCode] = append(byRole[a.RoleCode], a.PermissionCode)
	}
	return NewGate(byRole), nil
}

// ListRoles returns roles with their permission codes, ordered by code.
func (s *Service) ListRoles(ctx context.Context) ([]RoleWithPermissions, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	byRole := make(map[string][]string)
	for _, a := range assignments {
		byRole[a.RoleCode] = append(byRole[a.RoleCode], a.PermissionCode)
	}
	out := make([]RoleWithPermissions, 0, len(roles))
	for _, role := range roles {
		perms := byRole[role.Code]
		sort.Strings(perms)
		out = append(out, RoleWithPermissions{Role: role, Permissions: perms})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role.Code < out[j].Role.Code })
	return out, nil
}

// ListPermissions returns all permissions ordered by code.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}
