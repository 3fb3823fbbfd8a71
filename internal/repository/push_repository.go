package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/luojidr/easypush/internal/domain"
)

// PushRepository handles database operations for message bodies and push
// records.
type PushRepository struct {
	db *sqlx.DB
}

func NewPushRepository(db *sqlx.DB) *PushRepository {
	return &PushRepository{db: db}
}

const messageColumns = `
	id, app_id, msg_type, msg_body_json, platform_type, remark,
	is_deleted, created_at, updated_at
`

const pushColumns = `
	id, msg_id, sender, send_time, receiver_mobile, receiver_userid,
	receive_time, is_read, read_time, is_success, traceback, task_id,
	request_id, msg_uid, is_recall, recall_time, msg_type, platform_type,
	is_deleted, created_at, updated_at
`

// CreateMessage inserts one message body record. Single-row insert on
// purpose: the shortest possible lock hold on the hot path.
func (r *PushRepository) CreateMessage(ctx context.Context, msg *domain.MessageRecord) (int64, error) {
	query := `
		INSERT INTO message_records
			(app_id, msg_type, msg_body_json, platform_type, remark, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query,
		msg.AppID, msg.MsgType, msg.MsgBodyJSON, msg.PlatformType, msg.Remark,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create message record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

func (r *PushRepository) GetMessageByID(ctx context.Context, id int64) (*domain.MessageRecord, error) {
	query := `SELECT ` + messageColumns + ` FROM message_records WHERE id = ? AND is_deleted = FALSE`

	var msg domain.MessageRecord
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message record: %w", err)
	}

	return &msg, nil
}

func (r *PushRepository) GetMessagesByIDs(ctx context.Context, ids []int64) (map[int64]*domain.MessageRecord, error) {
	if len(ids) == 0 {
		return map[int64]*domain.MessageRecord{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+messageColumns+` FROM message_records WHERE id IN (?) AND is_deleted = FALSE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build message query: %w", err)
	}

	var messages []domain.MessageRecord
	if err := r.db.SelectContext(ctx, &messages, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get message records: %w", err)
	}

	mapping := make(map[int64]*domain.MessageRecord, len(messages))
	for i := range messages {
		mapping[messages[i].ID] = &messages[i]
	}

	return mapping, nil
}

// ListMessages returns all live message bodies, used by the fingerprint
// rebuild pass.
func (r *PushRepository) ListMessages(ctx context.Context) ([]domain.MessageRecord, error) {
	query := `SELECT ` + messageColumns + ` FROM message_records WHERE is_deleted = FALSE`

	var messages []domain.MessageRecord
	if err := r.db.SelectContext(ctx, &messages, query); err != nil {
		return nil, fmt.Errorf("failed to list message records: %w", err)
	}

	return messages, nil
}

// CreatePushRecords persists delivery intents one row at a time and fills in
// the generated ids. Per-row inserts keep database lock hold minimal and
// give us every id without relying on contiguous auto-increment blocks.
func (r *PushRepository) CreatePushRecords(ctx context.Context, records []*domain.PushRecord) error {
	query := `
		INSERT INTO push_records
			(msg_id, sender, send_time, receiver_mobile, receiver_userid,
			 is_read, is_success, traceback, task_id, request_id, msg_uid,
			 is_recall, msg_type, platform_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, FALSE, FALSE, '', '', '', ?, FALSE, ?, ?,
		        CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	for _, rec := range records {
		result, err := r.db.ExecContext(ctx, query,
			rec.MsgID, rec.Sender, rec.SendTime, rec.ReceiverMobile, rec.ReceiverUserID,
			rec.MsgUID, rec.MsgType, rec.PlatformType,
		)
		if err != nil {
			return fmt.Errorf("failed to create push record %q: %w", rec.MsgUID, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		rec.ID = id
	}

	return nil
}

// ListPending returns unresolved push records oldest-first, up to limit.
func (r *PushRepository) ListPending(ctx context.Context, limit int) ([]domain.PushRecord, error) {
	query := `
		SELECT ` + pushColumns + `
		FROM push_records
		WHERE is_success = FALSE AND traceback = '' AND is_recall = FALSE AND is_deleted = FALSE
		ORDER BY created_at ASC
		LIMIT ?
	`

	var records []domain.PushRecord
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending push records: %w", err)
	}

	return records, nil
}

// UpdateDeliveryResult resolves every record in the uid set with one vendor
// call's outcome. This is the single post-creation mutation a push record
// ever receives.
func (r *PushRepository) UpdateDeliveryResult(
	ctx context.Context,
	msgUIDs []string,
	success bool,
	taskID, requestID, errText string,
	receiveTime *time.Time,
) error {
	if len(msgUIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE push_records
		SET is_success = ?, task_id = ?, request_id = ?, traceback = ?,
		    receive_time = ?, updated_at = CURRENT_TIMESTAMP
		WHERE msg_uid IN (?)
	`, success, taskID, requestID, errText, receiveTime, msgUIDs)
	if err != nil {
		return fmt.Errorf("failed to build delivery update: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to update delivery result: %w", err)
	}

	return nil
}

func (r *PushRepository) GetPushByUID(ctx context.Context, msgUID string) (*domain.PushRecord, error) {
	query := `SELECT ` + pushColumns + ` FROM push_records WHERE msg_uid = ? AND is_deleted = FALSE`

	var rec domain.PushRecord
	if err := r.db.GetContext(ctx, &rec, query, msgUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get push record: %w", err)
	}

	return &rec, nil
}

// GetPushByUIDs loads the records behind a queued delivery task.
func (r *PushRepository) GetPushByUIDs(ctx context.Context, msgUIDs []string) ([]domain.PushRecord, error) {
	if len(msgUIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+pushColumns+` FROM push_records WHERE msg_uid IN (?) AND is_deleted = FALSE`, msgUIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build push query: %w", err)
	}

	var records []domain.PushRecord
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get push records: %w", err)
	}

	return records, nil
}

// MarkRecalled flags one record recalled after the vendor accepted the
// recall call.
func (r *PushRepository) MarkRecalled(ctx context.Context, msgUID string, recallTime time.Time) error {
	query := `
		UPDATE push_records
		SET is_recall = TRUE, recall_time = ?, updated_at = CURRENT_TIMESTAMP
		WHERE msg_uid = ? AND is_deleted = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, recallTime, msgUID)
	if err != nil {
		return fmt.Errorf("failed to mark push record recalled: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no push record found with msg_uid %s", msgUID)
	}

	return nil
}

// ListPushSince returns push records created within the retention window,
// for the fingerprint rebuild pass.
func (r *PushRepository) ListPushSince(ctx context.Context, since time.Time) ([]domain.PushRecord, error) {
	query := `
		SELECT ` + pushColumns + `
		FROM push_records
		WHERE send_time >= ? AND is_deleted = FALSE
	`

	var records []domain.PushRecord
	if err := r.db.SelectContext(ctx, &records, query, since); err != nil {
		return nil, fmt.Errorf("failed to list push history: %w", err)
	}

	return records, nil
}

// ListPush pages through push records, optionally filtered to a delivery
// state: "pending", "sent" or "failed".
func (r *PushRepository) ListPush(ctx context.Context, state string, page, pageSize int) ([]domain.PushRecord, int64, error) {
	where := "WHERE is_deleted = FALSE"
	switch state {
	case "pending":
		where += " AND is_success = FALSE AND traceback = ''"
	case "sent":
		where += " AND is_success = TRUE"
	case "failed":
		where += " AND is_success = FALSE AND traceback != ''"
	case "":
	default:
		return nil, 0, fmt.Errorf("unknown state filter %q", state)
	}

	var totalCount int64
	if err := r.db.GetContext(ctx, &totalCount, "SELECT COUNT(*) FROM push_records "+where); err != nil {
		return nil, 0, fmt.Errorf("failed to count push records: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + pushColumns + ` FROM push_records ` + where + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	var records []domain.PushRecord
	if err := r.db.SelectContext(ctx, &records, query, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list push records: %w", err)
	}

	return records, totalCount, nil
}

// GetStats returns record counts per delivery state.
func (r *PushRepository) GetStats(ctx context.Context) (pending, sent, failed int64, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN is_success = FALSE AND traceback = '' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN is_success = TRUE THEN 1 ELSE 0 END), 0)                     AS sent,
			COALESCE(SUM(CASE WHEN is_success = FALSE AND traceback != '' THEN 1 ELSE 0 END), 0) AS failed
		FROM push_records
		WHERE is_deleted = FALSE
	`

	var stats struct {
		Pending int64 `db:"pending"`
		Sent    int64 `db:"sent"`
		Failed  int64 `db:"failed"`
	}

	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get stats: %w", err)
	}

	return stats.Pending, stats.Sent, stats.Failed, nil
}

// ReplayFailed resets failed records to pending so the delivery worker picks
// them up again. With an id it targets one record, otherwise all failures.
func (r *PushRepository) ReplayFailed(ctx context.Context, msgUID string) (int64, error) {
	query := `
		UPDATE push_records
		SET traceback = '', task_id = '', request_id = '', updated_at = CURRENT_TIMESTAMP
		WHERE is_success = FALSE AND traceback != '' AND is_deleted = FALSE
	`
	args := []any{}

	if msgUID != "" {
		query += " AND msg_uid = ?"
		args = append(args, msgUID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to replay failed push records: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}
