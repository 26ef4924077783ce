package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/storage"
)

// 列顺序与旧版工具的持久化格式保持兼容
var columns = []string{"Name", "ForwardingAddress", "FirstSeen", "LastSeen", "Guid"}

// Store 平面文件实现的转发历史仓库（兼容后端，也是默认后端）。
//
// 时间戳以 RFC 3339 往返，Guid 以规范 UUID 字符串往返。
// 写入先落到同目录的临时文件再原子改名，避免中断留下半个文件。
type Store struct {
	path string
}

// NewStore 创建平面文件仓库，必要时建出所在目录。
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Load 读取历史文件。文件不存在时返回空集合。
//
// 每行记录在加载边界做字段校验，拒绝信任损坏的数据。
func (s *Store) Load(ctx context.Context) (*domain.ForwardingStore, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.EmptyForwardingStore(), nil
		}
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	if len(rows) == 0 {
		return domain.EmptyForwardingStore(), nil
	}
	if len(rows[0]) != len(columns) {
		return nil, fmt.Errorf("unexpected header in %s: %v", s.path, rows[0])
	}

	records := make([]domain.ForwardingRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return domain.NewForwardingStore(records), nil
}

// Save 整体替换历史文件，执行收缩保护。
//
// 保护判定失败时磁盘上的文件保持原样。
func (s *Store) Save(ctx context.Context, store *domain.ForwardingStore) error {
	existing, err := s.existingCount()
	if err != nil {
		return err
	}
	if store.Len() < existing {
		return fmt.Errorf("have %d records on disk, got %d: %w", existing, store.Len(), storage.ErrStoreShrunk)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.Write(columns); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, rec := range store.Records() {
		row := []string{
			rec.Name,
			rec.ForwardingAddress,
			rec.FirstSeen.UTC().Format(time.RFC3339),
			rec.LastSeen.UTC().Format(time.RFC3339),
			rec.Guid.String(),
		}
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// Close 无资源可释放。
func (s *Store) Close() error {
	return nil
}

// existingCount 返回磁盘上现有的记录数，文件不存在视为 0。
func (s *Store) existingCount() (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to read history file: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows) - 1, nil
}

func parseRow(row []string) (domain.ForwardingRecord, error) {
	var rec domain.ForwardingRecord
	if len(row) != len(columns) {
		return rec, fmt.Errorf("expected %d columns, got %d", len(columns), len(row))
	}

	firstSeen, err := time.Parse(time.RFC3339, row[2])
	if err != nil {
		return rec, fmt.Errorf("bad first seen timestamp: %w", err)
	}
	lastSeen, err := time.Parse(time.RFC3339, row[3])
	if err != nil {
		return rec, fmt.Errorf("bad last seen timestamp: %w", err)
	}
	guid, err := uuid.Parse(row[4])
	if err != nil {
		return rec, fmt.Errorf("bad guid: %w", err)
	}

	rec = domain.ForwardingRecord{
		Name:              row[0],
		ForwardingAddress: row[1],
		Guid:              guid,
		FirstSeen:         firstSeen.UTC(),
		LastSeen:          lastSeen.UTC(),
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}
