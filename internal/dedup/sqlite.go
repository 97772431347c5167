package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iabetor/snswatch/internal/database"
	"github.com/iabetor/snswatch/internal/logger"
)

// SQLiteStore 把去重记录保存在 announcements 表中。
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore 创建 SQLite 存储，db 必须已完成迁移。
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load 读取 key 的最后通知标识。
func (s *SQLiteStore) Load(ctx context.Context, key string) string {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_id FROM announcements WHERE source_key = ?`, key).Scan(&id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warnf("[dedup] 查询 %s 失败，视为从未通知: %v", key, err)
		}
		return ""
	}
	return id
}

// Commit 在单条语句中插入或覆盖 key 的记录。
func (s *SQLiteStore) Commit(ctx context.Context, key, id string) error {
	if strings.TrimSpace(id) == "" {
		logger.Warnf("[dedup] 拒绝为 %s 写入空标识", key)
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO announcements (source_key, last_id, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(source_key) DO UPDATE SET last_id = excluded.last_id, updated_at = CURRENT_TIMESTAMP`,
		key, id)
	if err != nil {
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	logger.Infof("[dedup] 已更新 %s: %s", key, id)
	return nil
}
