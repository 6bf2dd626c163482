package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gocalceum/calc/internal/domain"
)

// OAuthStateStore persists short-lived, single-use authorization states.
type OAuthStateStore interface {
	SaveState(ctx context.Context, state domain.OAuthState, ttl time.Duration) error
	// ConsumeState atomically retrieves and invalidates a state. It fails
	// for unknown, expired, already-consumed, or wrong-user states.
	ConsumeState(ctx context.Context, state, userID string) (*domain.OAuthState, error)
}

// ConnectionRepository exposes persistence for HMRC connections.
type ConnectionRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Connection, error)
	GetByOAuthState(ctx context.Context, state string) (domain.Connection, error)
	FindByBusiness(ctx context.Context, entityID, hmrcBusinessID string) (domain.Connection, error)
	Create(ctx context.Context, conn domain.Connection) (domain.Connection, error)
	// UpdateAuthorization refreshes token material after a re-authorization
	// and resets the row to pending/active.
	UpdateAuthorization(ctx context.Context, id int64, tokens domain.OAuthTokens, scopes []string, oauthState string) error
	UpdateTokens(ctx context.Context, id int64, tokens domain.OAuthTokens) error
	UpdateSyncResult(ctx context.Context, conn domain.Connection) error
	UpdateSyncError(ctx context.Context, id int64, message string) error
	MergeDetails(ctx context.Context, id int64, details, obligations json.RawMessage) error
	Deactivate(ctx context.Context, id int64) error
}

// AuditLogRepository appends HMRC interaction records. Entries are never
// updated or deleted here.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}

// EntityRepository answers entity access questions.
type EntityRepository interface {
	HasEntityPermission(ctx context.Context, entityID, userID string) (bool, error)
	IsOrganizationMember(ctx context.Context, entityID, userID string) (bool, error)
}
