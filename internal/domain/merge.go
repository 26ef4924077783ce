package domain

import "github.com/google/uuid"

// Merge 将一批观测折叠进历史集合，返回新的集合（不修改入参）。
//
// 逐条处理观测（按到达顺序）：
//   - 原始转发地址不带可识别前缀的观测直接丢弃；
//   - Guid 已存在：无条件更新 Name/DisplayName；规范化地址与存量不同时
//     替换地址并把 FirstSeen 重置为本次 ObservedAt；LastSeen 无条件前移；
//   - Guid 不存在：插入新记录，FirstSeen = LastSeen = ObservedAt。
//
// 对同一批观测重复执行 Merge 会到达不动点（时间戳稳定，无漂移），
// 因此运行中断后从上次成功持久化的集合重试是安全的。
func Merge(store *ForwardingStore, observations []ObservedForward) *ForwardingStore {
	records := store.Records()
	position := make(map[uuid.UUID]int, len(records))
	for i, rec := range records {
		position[rec.Guid] = i
	}

	for _, obs := range observations {
		address, ok := obs.Address()
		if !ok {
			continue
		}
		observedAt := obs.ObservedAt.UTC()

		if i, exists := position[obs.Guid]; exists {
			rec := &records[i]
			rec.Name = obs.Name
			rec.DisplayName = obs.DisplayName
			if rec.ForwardingAddress != address {
				// 新的转发目标重新起算 first seen
				rec.ForwardingAddress = address
				rec.FirstSeen = observedAt
			}
			rec.LastSeen = observedAt
			continue
		}

		records = append(records, ForwardingRecord{
			Name:              obs.Name,
			DisplayName:       obs.DisplayName,
			Guid:              obs.Guid,
			ForwardingAddress: address,
			FirstSeen:         observedAt,
			LastSeen:          observedAt,
		})
		position[obs.Guid] = len(records) - 1
	}

	return NewForwardingStore(records)
}
