package auth

// Known OAuth scopes used by the backend services.
const (
	ScopeActivitiesRead = "activities:read"
	ScopeSyncRead       = "sync:read"
	ScopeSyncWrite      = "sync:write"
	ScopeTokensRead     = "tokens:read"
	ScopeUsersWrite     = "users:write"
	// ScopeInternal lets trusted services act on any user.
	ScopeInternal = "internal"
)
