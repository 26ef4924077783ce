package domain

// BuildUniqueIndex 构建唯一键索引。
//
// 键按值相等比较；同键出现多个元素时，迭代顺序靠后的静默覆盖先出现的
// （last-write-wins，不视为错误）。
func BuildUniqueIndex[K comparable, V any](items []V, keyFn func(V) K) map[K]V {
	index := make(map[K]V, len(items))
	for _, item := range items {
		index[keyFn(item)] = item
	}
	return index
}

// BuildMultiIndex 构建多值索引。
//
// 同键元素按到达顺序累积，不做去重。
func BuildMultiIndex[K comparable, V any](items []V, keyFn func(V) K) map[K][]V {
	index := make(map[K][]V, len(items))
	for _, item := range items {
		key := keyFn(item)
		index[key] = append(index[key], item)
	}
	return index
}
