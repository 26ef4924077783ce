package domain

import (
	"errors"
	"time"
)

// ErrConflictingBounds 表示同时给出了时间上界与下界。
// 两种时间模式互斥，由调用方二选一，这里拒绝而不是猜测优先级。
var ErrConflictingBounds = errors.New("newer-than and older-than are mutually exclusive")

// QueryCriteria 定义针对转发历史的筛选条件。
type QueryCriteria struct {
	// NewerThan 选出 (UseLastSeen ? LastSeen : FirstSeen) > NewerThan 的记录
	NewerThan *time.Time
	// OlderThan 选出 LastSeen < OlderThan 的记录（“陈旧”查询，始终用 LastSeen）
	OlderThan *time.Time
	// UseLastSeen 控制 NewerThan 模式比较哪个时间戳
	UseLastSeen bool
	// OnlyDuplicates 只保留转发地址与其它记录（任意年代）相同的记录
	OnlyDuplicates bool
}

// Query 按条件筛选历史集合，返回命中的记录。
//
// 重复地址的判定在整个集合上进行，先于时间过滤：一条记录只有在
// 集合中存在另一条同地址记录（无论多旧）时才算重复。因此
// OnlyDuplicates 与 NewerThan 组合的含义是“本期仍活跃、且地址与
// 任何时期的其它记录相撞”。
//
// 输出顺序与集合内记录顺序一致，本层不承诺排序。
func Query(store *ForwardingStore, criteria QueryCriteria) ([]ForwardingRecord, error) {
	if criteria.NewerThan != nil && criteria.OlderThan != nil {
		return nil, ErrConflictingBounds
	}

	candidates := store.Records()

	if criteria.OnlyDuplicates {
		byAddress := BuildMultiIndex(candidates, func(r ForwardingRecord) string {
			return r.ForwardingAddress
		})
		narrowed := make([]ForwardingRecord, 0, len(candidates))
		for _, rec := range candidates {
			if len(byAddress[rec.ForwardingAddress]) > 1 {
				narrowed = append(narrowed, rec)
			}
		}
		candidates = narrowed
	}

	switch {
	case criteria.NewerThan != nil:
		bound := *criteria.NewerThan
		filtered := make([]ForwardingRecord, 0, len(candidates))
		for _, rec := range candidates {
			seen := rec.FirstSeen
			if criteria.UseLastSeen {
				seen = rec.LastSeen
			}
			if seen.After(bound) {
				filtered = append(filtered, rec)
			}
		}
		candidates = filtered
	case criteria.OlderThan != nil:
		bound := *criteria.OlderThan
		filtered := make([]ForwardingRecord, 0, len(candidates))
		for _, rec := range candidates {
			if rec.LastSeen.Before(bound) {
				filtered = append(filtered, rec)
			}
		}
		candidates = filtered
	}

	return candidates, nil
}
