package domain

import "errors"

var (
	// ErrUnauthenticated signals a missing or unverifiable bearer token.
	ErrUnauthenticated = errors.New("hmrc: invalid authentication")
	// ErrAccessDenied signals the caller has no permission on the entity.
	ErrAccessDenied = errors.New("hmrc: access denied")
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("hmrc: invalid request")
	// ErrInvalidState indicates an unknown, expired, or already-used state.
	ErrInvalidState = errors.New("hmrc: invalid or expired oauth state")
	// ErrConnectionNotFound signals an unknown connection ID.
	ErrConnectionNotFound = errors.New("hmrc: connection not found")
	// ErrExchangeFailed indicates the authorization code exchange failed.
	ErrExchangeFailed = errors.New("hmrc: token exchange failed")
	// ErrSyncFailed indicates business discovery failed during a sync.
	ErrSyncFailed = errors.New("hmrc: business sync failed")
)
