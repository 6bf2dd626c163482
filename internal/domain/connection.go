package domain

import (
	"encoding/json"
	"time"
)

// PlaceholderBusinessID marks a connection created before any business could
// be discovered. A later sync replaces it with the real HMRC business ID.
const PlaceholderBusinessID = "PENDING_SYNC"

// BusinessType is the internal classification of an HMRC business.
type BusinessType string

const (
	BusinessSoleTrader     BusinessType = "sole_trader"
	BusinessLandlord       BusinessType = "landlord"
	BusinessPartnership    BusinessType = "partnership"
	BusinessLimitedCompany BusinessType = "limited_company"
	BusinessTrust          BusinessType = "trust"
	BusinessOther          BusinessType = "other"
)

// BusinessTypeFromHMRC maps HMRC's typeOfBusiness vocabulary onto the
// internal enum. Unrecognized values map to BusinessOther.
func BusinessTypeFromHMRC(hmrcType string) BusinessType {
	switch hmrcType {
	case "self-employment":
		return BusinessSoleTrader
	case "uk-property", "foreign-property":
		return BusinessLandlord
	case "partnership":
		return BusinessPartnership
	case "limited-company":
		return BusinessLimitedCompany
	case "trust":
		return BusinessTrust
	default:
		return BusinessOther
	}
}

// SyncStatus tracks the lifecycle of a connection's cached business data.
type SyncStatus string

const (
	SyncPending      SyncStatus = "pending"
	SyncInProgress   SyncStatus = "syncing"
	SyncCompleted    SyncStatus = "completed"
	SyncFailed       SyncStatus = "failed"
	SyncDisconnected SyncStatus = "disconnected"
)

// OAuthTokens holds the HMRC token pair. AccessToken and RefreshToken are
// ciphertext whenever the struct has been persisted.
type OAuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
}

// Expired reports whether the access token is past its expiry.
func (t OAuthTokens) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Connection is one authorized link between an internal entity and an HMRC
// business. At most one row exists per (EntityID, HMRCBusinessID).
type Connection struct {
	ID                        int64
	EntityID                  string
	UserID                    string
	HMRCBusinessID            string
	BusinessType              BusinessType
	BusinessName              string
	NINO                      string // ciphertext
	UTR                       string // ciphertext
	VATRegistrationNumber     string
	CompanyRegistrationNumber string
	OAuthScopes               []string
	OAuthState                string
	Tokens                    OAuthTokens
	SyncStatus                SyncStatus
	LastSyncAt                *time.Time
	LastSyncError             string
	BusinessDetails           json.RawMessage
	Obligations               json.RawMessage
	IsActive                  bool
	ConnectedAt               *time.Time
	DisconnectedAt            *time.Time
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}
