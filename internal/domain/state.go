package domain

import "time"

// OAuthState binds one authorization attempt to a user, entity, redirect
// URI, and scope set. States are single-use and expire with their store TTL.
type OAuthState struct {
	State       string    `json:"state"`
	UserID      string    `json:"user_id"`
	EntityID    string    `json:"entity_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      []string  `json:"scopes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
