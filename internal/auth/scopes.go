package auth

// Known OAuth scopes used by the backend services.
const (
	ScopeChallengesWrite = "challenges:write"
	ScopeChallengesRead  = "challenges:read"
)
