package connect

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gocalceum/calc/internal/adapter/hmrc"
	"github.com/gocalceum/calc/internal/cryptox"
	"github.com/gocalceum/calc/internal/domain"
	"github.com/gocalceum/calc/internal/repository"
)

// AlreadyProcessedMessage is returned when a callback replays a state that a
// previous callback already consumed and persisted.
const AlreadyProcessedMessage = "OAuth already processed"

// Authorizer decides whether a user may act on an entity.
type Authorizer interface {
	Authorize(ctx context.Context, userID, entityID string) error
}

// Options carries the tunable behavior of the service.
type Options struct {
	StateTTL      time.Duration
	DefaultScopes []string
}

// Service implements the HMRC connection lifecycle: initiate, callback,
// sync, disconnect.
type Service struct {
	connections repository.ConnectionRepository
	audit       repository.AuditLogRepository
	states      repository.OAuthStateStore
	authorizer  Authorizer
	api         hmrc.API
	cipher      *cryptox.FieldCipher
	logger      *zap.Logger
	opts        Options

	now func() time.Time
}

// NewService constructs the service.
func NewService(
	connections repository.ConnectionRepository,
	audit repository.AuditLogRepository,
	states repository.OAuthStateStore,
	authorizer Authorizer,
	api hmrc.API,
	cipher *cryptox.FieldCipher,
	logger *zap.Logger,
	opts Options,
) *Service {
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if len(opts.DefaultScopes) == 0 {
		opts.DefaultScopes = []string{"read:self-assessment", "write:self-assessment"}
	}
	return &Service{
		connections: connections,
		audit:       audit,
		states:      states,
		authorizer:  authorizer,
		api:         api,
		cipher:      cipher,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
	}
}

// InitiateResult is the outcome of starting an authorization.
type InitiateResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// Initiate begins the OAuth flow for an entity: it mints a single-use state
// bound to the caller and returns the HMRC authorization URL.
func (s *Service) Initiate(ctx context.Context, userID, entityID, redirectURI string, scopes []string) (*InitiateResult, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", domain.ErrInvalidRequest)
	}
	if err := s.authorizer.Authorize(ctx, userID, entityID); err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = s.opts.DefaultScopes
	}

	stateValue, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	now := s.now().UTC()
	state := domain.OAuthState{
		State:       stateValue,
		UserID:      userID,
		EntityID:    entityID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.opts.StateTTL),
	}
	if err := s.states.SaveState(ctx, state, s.opts.StateTTL); err != nil {
		return nil, err
	}

	authURL := s.api.AuthorizationURL(stateValue, scopes, redirectURI)

	s.recordAudit(ctx, userID, "oauth_initiate", "/oauth/authorize", http.MethodGet, map[string]any{
		"entity_id": entityID,
		"scopes":    scopes,
	}, http.StatusOK, nil, "", 0)

	s.logger.Info("authorization initiated",
		zap.String("user_id", userID),
		zap.String("entity_id", entityID))
	return &InitiateResult{AuthURL: authURL, State: stateValue}, nil
}

// CallbackStatus discriminates the two terminal outcomes of a callback.
type CallbackStatus string

const (
	CallbackCompleted        CallbackStatus = "completed"
	CallbackAlreadyProcessed CallbackStatus = "already_processed"
)

// ConnectionSummary is the caller-facing view of one connection touched by a
// callback or sync.
type ConnectionSummary struct {
	ID             int64               `json:"connection_id,string"`
	HMRCBusinessID string              `json:"business_id"`
	BusinessType   domain.BusinessType `json:"business_type"`
	BusinessName   string              `json:"business_name"`
	IsNew          bool                `json:"is_new"`
}

// CallbackResult is the outcome of processing an authorization callback.
type CallbackResult struct {
	Status      CallbackStatus
	EntityID    string
	Connections []ConnectionSummary
	Message     string
}

// Callback completes the OAuth flow. A state can only ever be consumed once;
// a retried callback for a state that already produced connections returns
// already_processed instead of failing.
func (s *Service) Callback(ctx context.Context, userID, code, stateValue string) (*CallbackResult, error) {
	started := s.now()
	if code == "" || stateValue == "" {
		return nil, fmt.Errorf("%w: code and state are required", domain.ErrInvalidRequest)
	}

	// Replay detection runs before state consumption: the first callback
	// deleted the state, so a retry would otherwise look like an invalid
	// state rather than a duplicate.
	if existing, err := s.connections.GetByOAuthState(ctx, stateValue); err == nil {
		if existing.UserID != userID {
			return nil, domain.ErrInvalidState
		}
		return &CallbackResult{
			Status:   CallbackAlreadyProcessed,
			EntityID: existing.EntityID,
			Connections: []ConnectionSummary{{
				ID:             existing.ID,
				HMRCBusinessID: existing.HMRCBusinessID,
				BusinessType:   existing.BusinessType,
				BusinessName:   existing.BusinessName,
			}},
			Message: AlreadyProcessedMessage,
		}, nil
	} else if !errors.Is(err, domain.ErrConnectionNotFound) {
		return nil, err
	}

	state, err := s.states.ConsumeState(ctx, stateValue, userID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizer.Authorize(ctx, userID, state.EntityID); err != nil {
		return nil, err
	}

	tokens, err := s.api.ExchangeCode(ctx, code, state.RedirectURI)
	if err != nil {
		s.recordAudit(ctx, userID, "oauth_callback", "/oauth/token", http.MethodPost, map[string]any{
			"entity_id": state.EntityID,
		}, http.StatusBadGateway, nil, err.Error(), s.now().Sub(started).Milliseconds())
		return nil, fmt.Errorf("%w: %v", domain.ErrExchangeFailed, err)
	}

	encryptedTokens, err := s.cipher.EncryptTokens(tokens)
	if err != nil {
		return nil, err
	}

	// Business discovery is best-effort here. HMRC sometimes responds slowly
	// right after authorization; a placeholder connection keeps the tokens
	// and lets a later sync fill in the business identity.
	businesses, listErr := s.api.ListBusinesses(ctx, tokens.AccessToken, "")
	if listErr != nil {
		s.logger.Warn("business discovery failed during callback, deferring to sync",
			zap.String("entity_id", state.EntityID),
			zap.Error(listErr))
	}

	var summaries []ConnectionSummary
	if len(businesses) == 0 {
		summary, err := s.upsertConnection(ctx, state, userID, stateValue, encryptedTokens, domain.Business{
			BusinessID: domain.PlaceholderBusinessID,
		})
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	} else {
		for _, business := range businesses {
			summary, err := s.upsertConnection(ctx, state, userID, stateValue, encryptedTokens, business)
			if err != nil {
				return nil, err
			}
			summaries = append(summaries, summary)
		}
	}

	s.recordAudit(ctx, userID, "oauth_callback", "/oauth/token", http.MethodPost, map[string]any{
		"entity_id":  state.EntityID,
		"businesses": len(businesses),
	}, http.StatusOK, nil, "", s.now().Sub(started).Milliseconds())

	s.logger.Info("authorization completed",
		zap.String("user_id", userID),
		zap.String("entity_id", state.EntityID),
		zap.Int("connections", len(summaries)))
	return &CallbackResult{
		Status:      CallbackCompleted,
		EntityID:    state.EntityID,
		Connections: summaries,
	}, nil
}

// upsertConnection creates or re-authorizes the connection for one business.
func (s *Service) upsertConnection(ctx context.Context, state *domain.OAuthState, userID, stateValue string, tokens domain.OAuthTokens, business domain.Business) (ConnectionSummary, error) {
	existing, err := s.connections.FindByBusiness(ctx, state.EntityID, business.BusinessID)
	if err == nil {
		if err := s.connections.UpdateAuthorization(ctx, existing.ID, tokens, state.Scopes, stateValue); err != nil {
			return ConnectionSummary{}, err
		}
		return ConnectionSummary{
			ID:             existing.ID,
			HMRCBusinessID: business.BusinessID,
			BusinessType:   domain.BusinessTypeFromHMRC(business.TypeOfBusiness),
			BusinessName:   business.Name(),
		}, nil
	}
	if !errors.Is(err, domain.ErrConnectionNotFound) {
		return ConnectionSummary{}, err
	}

	nino, err := s.cipher.EncryptString(business.NINO)
	if err != nil {
		return ConnectionSummary{}, err
	}
	utr, err := s.cipher.EncryptString(business.UTR)
	if err != nil {
		return ConnectionSummary{}, err
	}

	now := s.now().UTC()
	conn := domain.Connection{
		EntityID:                  state.EntityID,
		UserID:                    userID,
		HMRCBusinessID:            business.BusinessID,
		BusinessType:              domain.BusinessTypeFromHMRC(business.TypeOfBusiness),
		BusinessName:              business.Name(),
		NINO:                      nino,
		UTR:                       utr,
		VATRegistrationNumber:     business.VATRegistrationNumber,
		CompanyRegistrationNumber: business.CompanyRegistrationNumber,
		OAuthScopes:               state.Scopes,
		OAuthState:                stateValue,
		Tokens:                    tokens,
		SyncStatus:                domain.SyncPending,
		IsActive:                  true,
		ConnectedAt:               &now,
	}
	if business.BusinessID == domain.PlaceholderBusinessID {
		conn.BusinessName = ""
		conn.BusinessType = domain.BusinessOther
	}

	created, err := s.connections.Create(ctx, conn)
	if err != nil {
		return ConnectionSummary{}, err
	}
	return ConnectionSummary{
		ID:             created.ID,
		HMRCBusinessID: created.HMRCBusinessID,
		BusinessType:   created.BusinessType,
		BusinessName:   created.BusinessName,
		IsNew:          true,
	}, nil
}

// SyncResult is the outcome of a business sync.
type SyncResult struct {
	ConnectionID     int64 `json:"connection_id,string"`
	BusinessesSynced int   `json:"businesses_synced"`
}

// Sync refreshes a connection's business identity from HMRC. All businesses
// visible to the token are reconciled: the target connection absorbs the
// first one (replacing a placeholder if present), and every other business
// is upserted as its own connection under the same entity.
func (s *Service) Sync(ctx context.Context, userID string, connectionID int64) (*SyncResult, error) {
	started := s.now()
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizer.Authorize(ctx, userID, conn.EntityID); err != nil {
		return nil, err
	}

	tokens, err := s.cipher.DecryptTokens(conn.Tokens)
	if err != nil {
		return nil, err
	}
	if tokens.Expired(s.now()) {
		refreshed, err := s.api.RefreshToken(ctx, tokens.RefreshToken)
		if err != nil {
			s.failSync(ctx, conn.ID, fmt.Sprintf("token refresh: %v", err))
			s.recordAudit(ctx, userID, "sync_business", "/oauth/token", http.MethodPost, map[string]any{
				"connection_id": conn.ID,
			}, statusOf(err), nil, err.Error(), s.now().Sub(started).Milliseconds())
			return nil, fmt.Errorf("%w: token refresh: %v", domain.ErrSyncFailed, err)
		}
		tokens = refreshed

		encrypted, err := s.cipher.EncryptTokens(refreshed)
		if err != nil {
			return nil, err
		}
		if err := s.connections.UpdateTokens(ctx, conn.ID, encrypted); err != nil {
			return nil, err
		}
		// Siblings created below copy this ciphertext; HMRC rotates the
		// refresh token on use, so the pre-refresh pair is dead.
		conn.Tokens = encrypted
	}

	businesses, err := s.api.ListBusinesses(ctx, tokens.AccessToken, "")
	if err != nil {
		s.failSync(ctx, conn.ID, err.Error())
		s.recordAudit(ctx, userID, "sync_business", "/individuals/business/details", http.MethodGet, map[string]any{
			"connection_id": conn.ID,
		}, statusOf(err), nil, err.Error(), s.now().Sub(started).Milliseconds())
		return nil, fmt.Errorf("%w: %v", domain.ErrSyncFailed, err)
	}
	if len(businesses) == 0 {
		s.failSync(ctx, conn.ID, "no businesses returned")
		return nil, fmt.Errorf("%w: no businesses returned", domain.ErrSyncFailed)
	}

	synced := 0
	if err := s.applyBusiness(ctx, &conn, businesses[0]); err != nil {
		return nil, err
	}
	synced++

	for _, business := range businesses[1:] {
		if business.BusinessID == conn.HMRCBusinessID {
			continue
		}
		if err := s.reconcileSibling(ctx, conn, business); err != nil {
			s.logger.Warn("sibling business reconciliation failed",
				zap.String("business_id", business.BusinessID),
				zap.Error(err))
			continue
		}
		synced++
	}

	s.enrichConnection(ctx, conn.ID, tokens.AccessToken, businesses[0])

	s.recordAudit(ctx, userID, "sync_business", "/individuals/business/details", http.MethodGet, map[string]any{
		"connection_id": conn.ID,
	}, http.StatusOK, map[string]any{"businesses": len(businesses)}, "", s.now().Sub(started).Milliseconds())

	s.logger.Info("business sync completed",
		zap.Int64("connection_id", conn.ID),
		zap.Int("businesses", synced))
	return &SyncResult{ConnectionID: conn.ID, BusinessesSynced: synced}, nil
}

// applyBusiness writes one discovered business onto the connection row.
func (s *Service) applyBusiness(ctx context.Context, conn *domain.Connection, business domain.Business) error {
	nino, err := s.cipher.EncryptString(business.NINO)
	if err != nil {
		return err
	}
	utr, err := s.cipher.EncryptString(business.UTR)
	if err != nil {
		return err
	}

	conn.HMRCBusinessID = business.BusinessID
	conn.BusinessType = domain.BusinessTypeFromHMRC(business.TypeOfBusiness)
	conn.BusinessName = business.Name()
	conn.NINO = nino
	conn.UTR = utr
	conn.VATRegistrationNumber = business.VATRegistrationNumber
	conn.CompanyRegistrationNumber = business.CompanyRegistrationNumber
	conn.SyncStatus = domain.SyncCompleted
	return s.connections.UpdateSyncResult(ctx, *conn)
}

// reconcileSibling upserts a connection for a business discovered alongside
// the one being synced.
func (s *Service) reconcileSibling(ctx context.Context, primary domain.Connection, business domain.Business) error {
	existing, err := s.connections.FindByBusiness(ctx, primary.EntityID, business.BusinessID)
	if err == nil {
		existing.HMRCBusinessID = business.BusinessID
		return s.applyBusiness(ctx, &existing, business)
	}
	if !errors.Is(err, domain.ErrConnectionNotFound) {
		return err
	}

	nino, err := s.cipher.EncryptString(business.NINO)
	if err != nil {
		return err
	}
	utr, err := s.cipher.EncryptString(business.UTR)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	_, err = s.connections.Create(ctx, domain.Connection{
		EntityID:                  primary.EntityID,
		UserID:                    primary.UserID,
		HMRCBusinessID:            business.BusinessID,
		BusinessType:              domain.BusinessTypeFromHMRC(business.TypeOfBusiness),
		BusinessName:              business.Name(),
		NINO:                      nino,
		UTR:                       utr,
		VATRegistrationNumber:     business.VATRegistrationNumber,
		CompanyRegistrationNumber: business.CompanyRegistrationNumber,
		OAuthScopes:               primary.OAuthScopes,
		Tokens:                    primary.Tokens,
		SyncStatus:                domain.SyncCompleted,
		IsActive:                  true,
		ConnectedAt:               &now,
	})
	return err
}

// enrichConnection fetches the extended business details and open
// obligations. Failures are logged and swallowed; the sync already
// succeeded.
func (s *Service) enrichConnection(ctx context.Context, connectionID int64, accessToken string, business domain.Business) {
	var details, obligations json.RawMessage

	if fields, err := s.api.BusinessDetails(ctx, accessToken, business.NINO, business.BusinessID); err == nil && fields != nil {
		if encoded, err := json.Marshal(fields); err == nil {
			details = encoded
		}
	} else if err != nil {
		s.logger.Debug("business details fetch failed", zap.Error(err))
	}

	from := s.now().AddDate(-1, 0, 0).Format("2006-01-02")
	to := s.now().Format("2006-01-02")
	if entries, err := s.api.Obligations(ctx, accessToken, business.NINO, "", from, to); err == nil && entries != nil {
		if encoded, err := json.Marshal(entries); err == nil {
			obligations = encoded
		}
	} else if err != nil {
		s.logger.Debug("obligations fetch failed", zap.Error(err))
	}

	if details == nil && obligations == nil {
		return
	}
	if err := s.connections.MergeDetails(ctx, connectionID, details, obligations); err != nil {
		s.logger.Warn("merge details failed", zap.Int64("connection_id", connectionID), zap.Error(err))
	}
}

// Disconnect deactivates a connection and clears its token material. A
// later reconnect goes through the full authorization flow again.
func (s *Service) Disconnect(ctx context.Context, userID string, connectionID int64) error {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := s.authorizer.Authorize(ctx, userID, conn.EntityID); err != nil {
		return err
	}
	if err := s.connections.Deactivate(ctx, conn.ID); err != nil {
		return err
	}

	s.recordAudit(ctx, userID, "disconnect", "", http.MethodPost, map[string]any{
		"connection_id": conn.ID,
	}, http.StatusOK, nil, "", 0)
	s.logger.Info("connection disconnected", zap.Int64("connection_id", conn.ID))
	return nil
}

func (s *Service) failSync(ctx context.Context, connectionID int64, message string) {
	if err := s.connections.UpdateSyncError(ctx, connectionID, message); err != nil {
		s.logger.Warn("record sync error failed", zap.Int64("connection_id", connectionID), zap.Error(err))
	}
}

// recordAudit appends an audit entry. Audit failures never fail the
// operation; they are logged instead.
func (s *Service) recordAudit(ctx context.Context, userID, operation, endpoint, method string, params map[string]any, status int, response map[string]any, errMessage string, durationMS int64) {
	entry := domain.AuditEntry{
		UserID:         userID,
		Operation:      operation,
		Endpoint:       endpoint,
		Method:         method,
		RequestParams:  params,
		ResponseStatus: status,
		ResponseData:   response,
		ErrorMessage:   errMessage,
		DurationMS:     durationMS,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", zap.String("operation", operation), zap.Error(err))
	}
}

func statusOf(err error) int {
	var apiErr *hmrc.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

func secureRandomString(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
