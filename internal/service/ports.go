package service

import (
	"context"
	"time"

	"forwardwatch/toolkit/internal/domain"
)

// MailboxEnumerator 抽象远端租户的只读枚举能力。
// 生产实现是 graph.Client，测试里用假实现替换。
type MailboxEnumerator interface {
	// ListForwardingMailboxes 枚举所有配置了转发的邮箱，
	// 返回共享同一观测时刻的瞬态快照。
	ListForwardingMailboxes(ctx context.Context) ([]domain.ObservedForward, error)
	// ListSignInBlockedIdentities 枚举当前被禁止登录的身份。
	ListSignInBlockedIdentities(ctx context.Context) ([]domain.Identity, error)
}

// AccountActions 抽象远端租户的账户写操作。
type AccountActions interface {
	GetIdentity(ctx context.Context, identityID string) (*domain.Identity, error)
	BlockSignIn(ctx context.Context, identityID string) error
	UnblockSignIn(ctx context.Context, identityID string) error
	RevokeSessions(ctx context.Context, identityID string) error
	ResetPassword(ctx context.Context, identityID string) (string, error)
	// SetProtocols 启用或禁用旧式邮件协议
	SetProtocols(ctx context.Context, identityID string, enabled bool) error
	EnableMfa(ctx context.Context, identityID string) error
	// SetDisableMarker 写入封禁时刻，nil 表示清除
	SetDisableMarker(ctx context.Context, identityID string, marker *time.Time) error
	GetDisableMarker(ctx context.Context, identityID string) (*time.Time, error)
	// RemoveForwarding 停用身份的全部转发规则，返回停用条数
	RemoveForwarding(ctx context.Context, identityID string) (int, error)
}
