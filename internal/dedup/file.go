package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/iabetor/snswatch/internal/logger"
)

// FileStore 每个订阅源一个 JSON 文件：<dir>/<key>_latest.json。
type FileStore struct {
	dir string
}

type fileRecord struct {
	LastID string `json:"last_id"`
}

// NewFileStore 创建文件存储，并清理上次崩溃遗留的临时文件。
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	s := &FileStore{dir: dir}
	if leftovers, err := filepath.Glob(filepath.Join(dir, "*_latest.json.*.tmp")); err == nil {
		for _, p := range leftovers {
			if err := os.Remove(p); err == nil {
				logger.Infof("[dedup] 已清理残留临时文件: %s", p)
			}
		}
	}
	return s, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+"_latest.json")
}

// Load 读取 key 的最后通知标识。
func (s *FileStore) Load(_ context.Context, key string) string {
	if !ValidKey(key) {
		logger.Warnf("[dedup] 非法的存储键 %q，视为从未通知", key)
		return ""
	}
	p := s.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("[dedup] 读取 %s 失败，视为从未通知: %v", p, err)
		}
		return ""
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warnf("[dedup] 记录 %s 已损坏，视为从未通知: %v", p, err)
		return ""
	}
	return rec.LastID
}

// Commit 以先写临时文件再 rename 的方式覆盖 key 的记录。
func (s *FileStore) Commit(_ context.Context, key, id string) error {
	if strings.TrimSpace(id) == "" {
		logger.Warnf("[dedup] 拒绝为 %s 写入空标识", key)
		return ErrEmptyID
	}
	if !ValidKey(key) {
		logger.Warnf("[dedup] 拒绝写入非法的存储键 %q", key)
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	data, err := json.MarshalIndent(fileRecord{LastID: id}, "", "    ")
	if err != nil {
		return err
	}
	p := s.path(key)
	if err := writeFileAtomic(p, append(data, '\n')); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", p, err)
	}
	logger.Infof("[dedup] 已更新 %s: %s", p, id)
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir 持久化目录项，使 rename 在断电后仍然可见。部分平台不支持，忽略错误。
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
