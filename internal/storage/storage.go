package storage

import (
	"context"
	"errors"

	"forwardwatch/toolkit/internal/domain"
)

var (
	// ErrStoreShrunk 表示新集合的记录数少于已持久化的集合。
	// 收缩保护在持久化边界执行，不在合并引擎内部：相信一个被截断的
	// 集合会让下次合并产生误判，所以整个运行在任何处置动作之前中止。
	ErrStoreShrunk = errors.New("refusing to persist a store smaller than the existing one")
)

// HistoryRepository 定义转发历史的持久化操作。
//
// Load 在历史不存在时返回空集合而不是错误；Save 整体替换已持久化的
// 集合，并执行收缩保护。
type HistoryRepository interface {
	Load(ctx context.Context) (*domain.ForwardingStore, error)
	Save(ctx context.Context, store *domain.ForwardingStore) error
	Close() error
}
