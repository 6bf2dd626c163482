package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gocalceum/calc/internal/domain"
)

// PostgresConnectionRepo implements ConnectionRepository on pgx.
type PostgresConnectionRepo struct {
	pool *pgxpool.Pool
	node *snowflake.Node
}

var _ ConnectionRepository = (*PostgresConnectionRepo)(nil)

// NewPostgresConnectionRepo constructs the repository.
func NewPostgresConnectionRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{pool: pool, node: node}
}

const connectionColumns = `
	id, entity_id, user_id, hmrc_business_id, business_type, business_name,
	nino, utr, vat_registration_number, company_registration_number,
	oauth_scopes, oauth_state, oauth_tokens, sync_status, last_sync_at,
	last_sync_error, business_details, obligations, is_active,
	connected_at, disconnected_at, created_at, updated_at`

func (r *PostgresConnectionRepo) GetByID(ctx context.Context, id int64) (domain.Connection, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+connectionColumns+`
		FROM hmrc_connections WHERE id = $1`, id)
	return scanConnection(row)
}

func (r *PostgresConnectionRepo) GetByOAuthState(ctx context.Context, state string) (domain.Connection, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+connectionColumns+`
		FROM hmrc_connections WHERE oauth_state = $1`, state)
	return scanConnection(row)
}

func (r *PostgresConnectionRepo) FindByBusiness(ctx context.Context, entityID, hmrcBusinessID string) (domain.Connection, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+connectionColumns+`
		FROM hmrc_connections WHERE entity_id = $1 AND hmrc_business_id = $2`, entityID, hmrcBusinessID)
	return scanConnection(row)
}

func (r *PostgresConnectionRepo) Create(ctx context.Context, conn domain.Connection) (domain.Connection, error) {
	conn.ID = r.node.Generate().Int64()
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.SyncStatus == "" {
		conn.SyncStatus = domain.SyncPending
	}

	tokens, err := json.Marshal(conn.Tokens)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("encode tokens: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO hmrc_connections (
			id, entity_id, user_id, hmrc_business_id, business_type, business_name,
			nino, utr, vat_registration_number, company_registration_number,
			oauth_scopes, oauth_state, oauth_tokens, sync_status, last_sync_at,
			last_sync_error, business_details, obligations, is_active,
			connected_at, disconnected_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		conn.ID, conn.EntityID, conn.UserID, conn.HMRCBusinessID, string(conn.BusinessType), conn.BusinessName,
		conn.NINO, conn.UTR, conn.VATRegistrationNumber, conn.CompanyRegistrationNumber,
		conn.OAuthScopes, conn.OAuthState, tokens, string(conn.SyncStatus), conn.LastSyncAt,
		conn.LastSyncError, rawOrNull(conn.BusinessDetails), rawOrNull(conn.Obligations), conn.IsActive,
		conn.ConnectedAt, conn.DisconnectedAt, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("insert connection: %w", err)
	}
	return conn, nil
}

func (r *PostgresConnectionRepo) UpdateAuthorization(ctx context.Context, id int64, tokens domain.OAuthTokens, scopes []string, oauthState string) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE hmrc_connections
		SET oauth_tokens = $2, oauth_scopes = $3, oauth_state = $4,
		    sync_status = 'pending', is_active = TRUE,
		    connected_at = NOW(), disconnected_at = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, encoded, scopes, oauthState)
	if err != nil {
		return fmt.Errorf("update authorization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func (r *PostgresConnectionRepo) UpdateTokens(ctx context.Context, id int64, tokens domain.OAuthTokens) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE hmrc_connections SET oauth_tokens = $2, updated_at = NOW()
		WHERE id = $1`, id, encoded)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// UpdateSyncResult writes the business identity discovered during a sync. The
// placeholder business ID is replaced here once the real one is known.
func (r *PostgresConnectionRepo) UpdateSyncResult(ctx context.Context, conn domain.Connection) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE hmrc_connections
		SET hmrc_business_id = $2, business_type = $3, business_name = $4,
		    nino = $5, utr = $6, vat_registration_number = $7,
		    company_registration_number = $8, sync_status = $9,
		    last_sync_at = NOW(), last_sync_error = '', updated_at = NOW()
		WHERE id = $1`,
		conn.ID, conn.HMRCBusinessID, string(conn.BusinessType), conn.BusinessName,
		conn.NINO, conn.UTR, conn.VATRegistrationNumber,
		conn.CompanyRegistrationNumber, string(conn.SyncStatus))
	if err != nil {
		return fmt.Errorf("update sync result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func (r *PostgresConnectionRepo) UpdateSyncError(ctx context.Context, id int64, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE hmrc_connections
		SET sync_status = 'failed', last_sync_error = $2, updated_at = NOW()
		WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("update sync error: %w", err)
	}
	return nil
}

// MergeDetails stores the optional details and obligations documents. Either
// argument may be nil, in which case the stored value is left alone.
func (r *PostgresConnectionRepo) MergeDetails(ctx context.Context, id int64, details, obligations json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE hmrc_connections
		SET business_details = COALESCE($2, business_details),
		    obligations = COALESCE($3, obligations),
		    updated_at = NOW()
		WHERE id = $1`, id, rawOrNull(details), rawOrNull(obligations))
	if err != nil {
		return fmt.Errorf("merge details: %w", err)
	}
	return nil
}

// Deactivate marks the connection disconnected and drops its token
// ciphertext; reconnecting requires a fresh authorization.
func (r *PostgresConnectionRepo) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE hmrc_connections
		SET is_active = FALSE, sync_status = 'disconnected',
		    oauth_tokens = NULL, oauth_state = '',
		    disconnected_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (domain.Connection, error) {
	var (
		conn          domain.Connection
		businessType  string
		syncStatus    string
		tokens        []byte
		details       []byte
		obligations   []byte
		lastSyncError *string
	)
	err := row.Scan(
		&conn.ID, &conn.EntityID, &conn.UserID, &conn.HMRCBusinessID, &businessType, &conn.BusinessName,
		&conn.NINO, &conn.UTR, &conn.VATRegistrationNumber, &conn.CompanyRegistrationNumber,
		&conn.OAuthScopes, &conn.OAuthState, &tokens, &syncStatus, &conn.LastSyncAt,
		&lastSyncError, &details, &obligations, &conn.IsActive,
		&conn.ConnectedAt, &conn.DisconnectedAt, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Connection{}, domain.ErrConnectionNotFound
		}
		return domain.Connection{}, fmt.Errorf("scan connection: %w", err)
	}

	conn.BusinessType = domain.BusinessType(businessType)
	conn.SyncStatus = domain.SyncStatus(syncStatus)
	if lastSyncError != nil {
		conn.LastSyncError = *lastSyncError
	}
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &conn.Tokens); err != nil {
			return domain.Connection{}, fmt.Errorf("decode tokens: %w", err)
		}
	}
	conn.BusinessDetails = json.RawMessage(details)
	conn.Obligations = json.RawMessage(obligations)
	return conn, nil
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// PostgresAuditRepo implements AuditLogRepository on pgx.
type PostgresAuditRepo struct {
	pool *pgxpool.Pool
	node *snowflake.Node
}

var _ AuditLogRepository = (*PostgresAuditRepo)(nil)

// NewPostgresAuditRepo constructs the repository.
func NewPostgresAuditRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresAuditRepo {
	return &PostgresAuditRepo{pool: pool, node: node}
}

func (r *PostgresAuditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	params, err := json.Marshal(entry.RequestParams)
	if err != nil {
		return fmt.Errorf("encode request params: %w", err)
	}
	response, err := json.Marshal(entry.ResponseData)
	if err != nil {
		return fmt.Errorf("encode response data: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO hmrc_audit_logs (
			id, user_id, operation, endpoint, method, request_params,
			response_status, response_data, error_message, duration_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())`,
		r.node.Generate().Int64(), entry.UserID, entry.Operation, entry.Endpoint, entry.Method,
		params, entry.ResponseStatus, response, entry.ErrorMessage, entry.DurationMS)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// PostgresEntityRepo implements EntityRepository on pgx.
type PostgresEntityRepo struct {
	pool *pgxpool.Pool
}

var _ EntityRepository = (*PostgresEntityRepo)(nil)

// NewPostgresEntityRepo constructs the repository.
func NewPostgresEntityRepo(pool *pgxpool.Pool) *PostgresEntityRepo {
	return &PostgresEntityRepo{pool: pool}
}

func (r *PostgresEntityRepo) HasEntityPermission(ctx context.Context, entityID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entity_permissions
			WHERE entity_id = $1 AND user_id = $2
		)`, entityID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query entity permission: %w", err)
	}
	return exists, nil
}

func (r *PostgresEntityRepo) IsOrganizationMember(ctx context.Context, entityID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM entities e
			JOIN organization_members m ON m.organization_id = e.organization_id
			WHERE e.id = $1 AND m.user_id = $2
		)`, entityID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query organization membership: %w", err)
	}
	return exists, nil
}
