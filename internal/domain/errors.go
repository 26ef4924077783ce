package domain

import (
	"errors"
	"fmt"
	"time"
)

// 生命周期与编排层共享的错误种类
var (
	// ErrIdentityNotFound 表示身份在上游不存在，只中止该身份的操作
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrNoDisableMarker 表示身份没有封禁标记，解封被拒绝（非致命，上报给调用方）
	ErrNoDisableMarker = errors.New("identity has no disable marker")
)

// TooSoonError 表示封禁冷却期未满，解封被拒绝。
// 属于预期中的非致命拒绝，上报而不是抛出。
type TooSoonError struct {
	Remaining time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("cooldown not elapsed, %s remaining", e.Remaining.Round(time.Second))
}

// CapacityExceededError 表示重复转发候选数超出了本次运行的处置预算。
// 运行不因此失败；未处置的记录需要人工跟进。
type CapacityExceededError struct {
	Capacity  int
	Unhandled []ForwardingRecord
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("remediation capacity %d exceeded, %d records need manual follow-up",
		e.Capacity, len(e.Unhandled))
}
