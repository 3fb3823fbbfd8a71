package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

func RunMigrations(db *sqlx.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS app_credentials (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			corp_id VARCHAR(64) NOT NULL DEFAULT '',
			app_name VARCHAR(128) NOT NULL,
			agent_id BIGINT NOT NULL,
			app_key VARCHAR(128) NOT NULL,
			app_secret VARCHAR(256) NOT NULL,
			app_token VARCHAR(512) NOT NULL DEFAULT '',
			expire_time BIGINT NOT NULL DEFAULT 0,
			platform_type VARCHAR(20) NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_app_agent_platform (agent_id, platform_type),
			INDEX idx_app_agent_id (agent_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS message_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			app_id BIGINT NOT NULL,
			msg_type VARCHAR(32) NOT NULL,
			msg_body_json MEDIUMTEXT NOT NULL,
			platform_type VARCHAR(20) NOT NULL,
			remark VARCHAR(256) NOT NULL DEFAULT '',
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_message_app_id (app_id),
			INDEX idx_message_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS push_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			msg_id BIGINT NOT NULL,
			sender VARCHAR(64) NOT NULL DEFAULT 'sys',
			send_time DATETIME NOT NULL,
			receiver_mobile VARCHAR(20) NOT NULL DEFAULT '',
			receiver_userid VARCHAR(64) NOT NULL DEFAULT '',
			receive_time DATETIME,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_time DATETIME,
			is_success BOOLEAN NOT NULL DEFAULT FALSE,
			traceback TEXT,
			task_id VARCHAR(128) NOT NULL DEFAULT '',
			request_id VARCHAR(128) NOT NULL DEFAULT '',
			msg_uid VARCHAR(64) NOT NULL,
			is_recall BOOLEAN NOT NULL DEFAULT FALSE,
			recall_time DATETIME,
			msg_type VARCHAR(32) NOT NULL,
			platform_type VARCHAR(20) NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_push_msg_uid (msg_uid),
			INDEX idx_push_msg_id (msg_id),
			INDEX idx_push_send_time (send_time),
			INDEX idx_push_state (is_success, is_recall, is_deleted)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

// SeedDemoData inserts a demo message with a few pending push records for the
// given app so a fresh install has something for the sweep to pick up.
func SeedDemoData(db *sqlx.DB, appID int64) error {
	var count int

	if err := db.Get(&count, "SELECT COUNT(*) FROM push_records"); err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d push records, skipping seed", count)
		return nil
	}

	result, err := db.Exec(
		`INSERT INTO message_records (app_id, msg_type, msg_body_json, platform_type, remark)
		 VALUES (?, 'text', '{"content":"Welcome to easypush!"}', 'dingtalk', 'seed')`,
		appID,
	)
	if err != nil {
		return fmt.Errorf("failed to seed message record: %w", err)
	}

	msgID, err := result.LastInsertId()
	if err != nil {
		return err
	}

	seedUsers := []struct {
		userID string
		msgUID string
	}{
		{"demo-user-1", "seed-0001"},
		{"demo-user-2", "seed-0002"},
		{"demo-user-3", "seed-0003"},
	}

	for _, u := range seedUsers {
		_, err := db.Exec(
			`INSERT INTO push_records
				(msg_id, sender, send_time, receiver_userid, traceback, msg_uid, msg_type, platform_type)
			 VALUES (?, 'sys', NOW(), ?, '', ?, 'text', 'dingtalk')`,
			msgID, u.userID, u.msgUID,
		)
		if err != nil {
			return fmt.Errorf("failed to seed push record: %w", err)
		}
	}

	logger.Infof("Seeded 1 demo message with %d push records", len(seedUsers))
	return nil
}
