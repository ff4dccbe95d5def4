package auth

// Scopes understood by the scheduler API.
const (
	ScopeSessionsRead    = "sessions:read"
	ScopeSessionsWrite   = "sessions:write"
	ScopeActivitiesAdmin = "activities:admin"
)
