package auth

const (
	ScopeOpenID          = "openid"
	ScopeProfile         = "profile"
	ScopeEmail           = "email"
	ScopeOnboardingRead  = "onboarding:read"
	ScopeOnboardingWrite = "onboarding:write"
)

// AllScopes defines the full set of scopes used by the Swagger UI / Frontend
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeOnboardingRead,
	ScopeOnboardingWrite,
}
