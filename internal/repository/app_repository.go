package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/luojidr/easypush/internal/domain"
)

// AppRepository handles database operations for application credentials.
type AppRepository struct {
	db *sqlx.DB
}

func NewAppRepository(db *sqlx.DB) *AppRepository {
	return &AppRepository{db: db}
}

const appColumns = `
	id, corp_id, app_name, agent_id, app_key, app_secret, app_token,
	expire_time, platform_type, is_deleted, created_at, updated_at
`

// Upsert creates the credential or updates the existing row keyed on
// (agent_id, platform_type). Credentials are never hard-deleted.
func (r *AppRepository) Upsert(ctx context.Context, cred *domain.AppCredential) (*domain.AppCredential, error) {
	existing, err := r.getByAgentAndPlatform(ctx, cred.AgentID, cred.PlatformType)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		query := `
			INSERT INTO app_credentials
				(corp_id, app_name, agent_id, app_key, app_secret, app_token,
				 expire_time, platform_type, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`

		result, err := r.db.ExecContext(ctx, query,
			cred.CorpID, cred.AppName, cred.AgentID, cred.AppKey, cred.AppSecret,
			cred.AppToken, cred.ExpireTime, cred.PlatformType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get last insert id: %w", err)
		}

		return r.GetByID(ctx, id)
	}

	query := `
		UPDATE app_credentials
		SET corp_id = ?, app_name = ?, app_key = ?, app_secret = ?,
		    app_token = ?, expire_time = ?, is_deleted = FALSE,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err = r.db.ExecContext(ctx, query,
		cred.CorpID, cred.AppName, cred.AppKey, cred.AppSecret,
		cred.AppToken, cred.ExpireTime, existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update credential: %w", err)
	}

	return r.GetByID(ctx, existing.ID)
}

func (r *AppRepository) GetByID(ctx context.Context, id int64) (*domain.AppCredential, error) {
	query := `SELECT ` + appColumns + ` FROM app_credentials WHERE id = ? AND is_deleted = FALSE`

	var cred domain.AppCredential
	if err := r.db.GetContext(ctx, &cred, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// GetByAgentID resolves a decrypted app token back to its credential.
func (r *AppRepository) GetByAgentID(ctx context.Context, agentID int64) (*domain.AppCredential, error) {
	query := `SELECT ` + appColumns + ` FROM app_credentials WHERE agent_id = ? AND is_deleted = FALSE`

	var cred domain.AppCredential
	if err := r.db.GetContext(ctx, &cred, query, agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential by agent id: %w", err)
	}

	return &cred, nil
}

func (r *AppRepository) getByAgentAndPlatform(
	ctx context.Context,
	agentID int64,
	platform domain.Platform,
) (*domain.AppCredential, error) {
	query := `SELECT ` + appColumns + ` FROM app_credentials WHERE agent_id = ? AND platform_type = ?`

	var cred domain.AppCredential
	if err := r.db.GetContext(ctx, &cred, query, agentID, platform); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

func (r *AppRepository) List(ctx context.Context, page, pageSize int) ([]domain.AppCredential, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM app_credentials WHERE is_deleted = FALSE"
	if err := r.db.GetContext(ctx, &totalCount, countQuery); err != nil {
		return nil, 0, fmt.Errorf("failed to count credentials: %w", err)
	}

	query := `
		SELECT ` + appColumns + `
		FROM app_credentials
		WHERE is_deleted = FALSE
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	var creds []domain.AppCredential
	if err := r.db.SelectContext(ctx, &creds, query, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list credentials: %w", err)
	}

	return creds, totalCount, nil
}

// SoftDelete tombstones a credential; the row is kept for auditability.
func (r *AppRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE app_credentials SET is_deleted = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no credential found with id %d", id)
	}

	return nil
}
