package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ForwardingSchemePrefix 是地址型转发的方案前缀。
// 只有带该前缀的转发目标（smtp:someone@example.com）才会被纳入历史，
// 指向租户内邮箱对象的转发不带前缀，合并阶段会被静默丢弃。
const ForwardingSchemePrefix = "smtp:"

// 存储加载边界的校验错误
var (
	ErrMissingGuid              = errors.New("forwarding record missing guid")
	ErrMissingForwardingAddress = errors.New("forwarding record missing forwarding address")
	ErrSeenOutOfOrder           = errors.New("forwarding record last seen before first seen")
)

// ForwardingRecord 表示一条被观测到开启转发的邮箱历史记录。
//
// 不变量：同一 Guid 的 FirstSeen 只在转发地址变化时重置；
// LastSeen 在每次观测时前移，且始终不早于 FirstSeen。
// 记录只增不删，一次运行中未被观测到不代表记录消失。
type ForwardingRecord struct {
	Name              string
	DisplayName       string
	Guid              uuid.UUID
	ForwardingAddress string // 规范化地址，已去除 smtp: 前缀并统一小写
	FirstSeen         time.Time
	LastSeen          time.Time
}

// Validate 校验必填字段与时间不变量。
//
// 存储后端在加载边界调用，拒绝信任缺字段或时间错乱的持久化数据。
func (r *ForwardingRecord) Validate() error {
	if r.Guid == uuid.Nil {
		return ErrMissingGuid
	}
	if strings.TrimSpace(r.ForwardingAddress) == "" {
		return ErrMissingForwardingAddress
	}
	if r.LastSeen.Before(r.FirstSeen) {
		return ErrSeenOutOfOrder
	}
	return nil
}

// ObservedForward 表示枚举器产出的一次转发观测（瞬态快照项）。
//
// 同一次枚举调用产出的所有观测共享同一个 ObservedAt。
type ObservedForward struct {
	Name                 string
	DisplayName          string
	Guid                 uuid.UUID
	RawForwardingAddress string
	ObservedAt           time.Time
}

// Address 返回规范化后的转发地址。
// 第二个返回值为 false 表示原始值不带可识别的方案前缀，
// 该观测不参与合并。
func (o *ObservedForward) Address() (string, bool) {
	raw := strings.TrimSpace(o.RawForwardingAddress)
	if len(raw) <= len(ForwardingSchemePrefix) {
		return "", false
	}
	if !strings.EqualFold(raw[:len(ForwardingSchemePrefix)], ForwardingSchemePrefix) {
		return "", false
	}
	return strings.ToLower(raw[len(ForwardingSchemePrefix):]), true
}

// ForwardingStore 是按 Guid 唯一键组织的转发历史集合。
//
// 一次对账运行独占一个 store：运行开始时加载，结束时整体替换。
// Merge 不会原地修改传入的 store，而是产出新的 store（写时复制语义）。
type ForwardingStore struct {
	records []ForwardingRecord
}

// NewForwardingStore 以给定记录构建历史集合。记录的去重由调用方保证。
func NewForwardingStore(records []ForwardingRecord) *ForwardingStore {
	return &ForwardingStore{records: records}
}

// EmptyForwardingStore 返回空的历史集合。
func EmptyForwardingStore() *ForwardingStore {
	return &ForwardingStore{}
}

// Records 返回记录的副本切片，调用方可以安全修改。
func (s *ForwardingStore) Records() []ForwardingRecord {
	out := make([]ForwardingRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len 返回记录数量。
func (s *ForwardingStore) Len() int {
	return len(s.records)
}

// Identity 表示远程租户中的一个账户身份（仅含核心检查所需字段）。
type Identity struct {
	ID                string
	UserPrincipalName string
	DisplayName       string
	AccountEnabled    bool
}

// InboxRule 表示邮箱收件规则中与转发相关的摘要信息。
type InboxRule struct {
	ID           string
	DisplayName  string
	Enabled      bool
	ForwardingTo []string
}
