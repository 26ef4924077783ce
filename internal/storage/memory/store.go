package memory

import (
	"context"
	"fmt"
	"sync"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/storage"
)

// Store 内存实现的转发历史仓库（测试与一次性试运行用）。
type Store struct {
	mu      sync.RWMutex
	records []domain.ForwardingRecord
}

// NewStore 创建空的内存仓库。
func NewStore() *Store {
	return &Store{}
}

// Load 返回当前集合的副本。
func (s *Store) Load(ctx context.Context) (*domain.ForwardingStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.ForwardingRecord, len(s.records))
	copy(records, s.records)
	return domain.NewForwardingStore(records), nil
}

// Save 整体替换集合，执行收缩保护。
func (s *Store) Save(ctx context.Context, store *domain.ForwardingStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store.Len() < len(s.records) {
		return fmt.Errorf("have %d records, got %d: %w", len(s.records), store.Len(), storage.ErrStoreShrunk)
	}
	s.records = store.Records()
	return nil
}

// Close 无资源可释放。
func (s *Store) Close() error {
	return nil
}
