package shared

// Core platform permissions.
const (
	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersEdit   = "users.edit"
	PermUsersDelete = "users.delete"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersCreate,
		PermUsersEdit,
		PermUsersDelete,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
	}
}

// JobsScopes lists permissions for background job operations.
func JobsScopes() []string {
	return []string{PermJobsRun}
}

// PermJobsRun allows enqueueing maintenance jobs on demand.
const PermJobsRun = "jobs.run"
