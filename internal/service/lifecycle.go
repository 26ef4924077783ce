package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/domain"
)

// MarkerCache 缓存封禁标记，批量解封时省去逐身份的远端往返。
// 缓存未命中时回落到远端，命中结果以标记写入时间为准。
type MarkerCache interface {
	GetCachedDisableMarker(ctx context.Context, identityID string) (*time.Time, bool, error)
	CacheDisableMarker(ctx context.Context, identityID string, marker *time.Time, ttl time.Duration) error
	InvalidateDisableMarker(ctx context.Context, identityID string) error
}

// markerCacheTTL 缓存保留时长，略长于常见冷却期即可
const markerCacheTTL = 2 * time.Hour

// LifecycleService 封装身份的封禁/解封生命周期。
//
// 封禁总是连带撤销会话并盖上时间标记；解封受冷却期约束，
// 防止“刚封就解”绕过调查窗口。
type LifecycleService struct {
	actions AccountActions
	cache   MarkerCache
	log     *zap.Logger
	now     func() time.Time
}

// NewLifecycleService 创建生命周期服务。
func NewLifecycleService(actions AccountActions, log *zap.Logger) *LifecycleService {
	return &LifecycleService{
		actions: actions,
		log:     log,
		now:     time.Now,
	}
}

// SetMarkerCache 设置可选的标记缓存（未设置时全部走远端）。
func (s *LifecycleService) SetMarkerCache(cache MarkerCache) {
	s.cache = cache
}

// loadMarker 读取封禁标记，优先命中缓存。缓存故障只记日志不阻断。
func (s *LifecycleService) loadMarker(ctx context.Context, identityID string) (*time.Time, error) {
	if s.cache != nil {
		marker, ok, err := s.cache.GetCachedDisableMarker(ctx, identityID)
		if err != nil {
			s.log.Warn("marker cache read failed", zap.String("identity", identityID), zap.Error(err))
		} else if ok {
			return marker, nil
		}
	}
	marker, err := s.actions.GetDisableMarker(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.CacheDisableMarker(ctx, identityID, marker, markerCacheTTL); err != nil {
			s.log.Warn("marker cache write failed", zap.String("identity", identityID), zap.Error(err))
		}
	}
	return marker, nil
}

// invalidateMarker 标记变更后使缓存失效。
func (s *LifecycleService) invalidateMarker(ctx context.Context, identityID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDisableMarker(ctx, identityID); err != nil {
		s.log.Warn("marker cache invalidation failed", zap.String("identity", identityID), zap.Error(err))
	}
}

// Block 封禁身份：禁止登录、撤销全部会话、写入封禁标记。
//
// 对已封禁的身份重复调用是幂等的，但会刷新标记时间，
// 相应地延长解封冷却期。
func (s *LifecycleService) Block(ctx context.Context, identityID string) error {
	if _, err := s.actions.GetIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("block %s: %w", identityID, err)
	}
	if err := s.actions.BlockSignIn(ctx, identityID); err != nil {
		return fmt.Errorf("block %s: %w", identityID, err)
	}
	if err := s.actions.RevokeSessions(ctx, identityID); err != nil {
		return fmt.Errorf("block %s: revoke sessions: %w", identityID, err)
	}
	at := s.now().UTC()
	if err := s.actions.SetDisableMarker(ctx, identityID, &at); err != nil {
		return fmt.Errorf("block %s: set marker: %w", identityID, err)
	}
	s.invalidateMarker(ctx, identityID)
	s.log.Info("identity blocked", zap.String("identity", identityID), zap.Time("marker", at))
	return nil
}

// UnblockOptions 控制解封的守卫行为。
type UnblockOptions struct {
	// MinElapsed 封禁后必须经过的最短时间，冷却期未满时拒绝解封
	MinElapsed time.Duration
	// Force 跳过标记检查与冷却期检查
	Force bool
	// EnableProtocols 解封时同时恢复旧式邮件协议
	EnableProtocols bool
}

// Unblock 解封身份。
//
// 没有封禁标记的身份返回 ErrNoDisableMarker（说明封禁并非本工具
// 所为，需要人工确认）；冷却期未满返回 *TooSoonError，其中带有
// 剩余等待时长。两者都可用 Force 越过。解封成功后清除标记。
func (s *LifecycleService) Unblock(ctx context.Context, identityID string, opts UnblockOptions) error {
	if !opts.Force {
		marker, err := s.loadMarker(ctx, identityID)
		if err != nil {
			return fmt.Errorf("unblock %s: %w", identityID, err)
		}
		if marker == nil {
			return domain.ErrNoDisableMarker
		}
		if elapsed := s.now().UTC().Sub(*marker); elapsed < opts.MinElapsed {
			return &domain.TooSoonError{Remaining: opts.MinElapsed - elapsed}
		}
	}

	if err := s.actions.UnblockSignIn(ctx, identityID); err != nil {
		return fmt.Errorf("unblock %s: %w", identityID, err)
	}
	if opts.EnableProtocols {
		if err := s.actions.SetProtocols(ctx, identityID, true); err != nil {
			return fmt.Errorf("unblock %s: enable protocols: %w", identityID, err)
		}
	}
	if err := s.actions.SetDisableMarker(ctx, identityID, nil); err != nil {
		return fmt.Errorf("unblock %s: clear marker: %w", identityID, err)
	}
	s.invalidateMarker(ctx, identityID)
	s.log.Info("identity unblocked", zap.String("identity", identityID), zap.Bool("force", opts.Force))
	return nil
}

// UnblockOutcome 记录批量解封中单个身份的结果。
type UnblockOutcome struct {
	IdentityID        string
	UserPrincipalName string
	Err               error
}

// SweepUnblock 对一批身份逐个尝试解封，单个失败不中断其余身份。
//
// 冷却期未满与缺失标记都以 outcome 的形式上报，调用方自行决定
// 如何呈现；返回的 error 只在遍历本身无法进行时非空。
func (s *LifecycleService) SweepUnblock(ctx context.Context, identities []domain.Identity, opts UnblockOptions) ([]UnblockOutcome, error) {
	outcomes := make([]UnblockOutcome, 0, len(identities))
	for _, identity := range identities {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		err := s.Unblock(ctx, identity.ID, opts)
		if err != nil {
			s.log.Warn("unblock skipped",
				zap.String("identity", identity.ID),
				zap.String("upn", identity.UserPrincipalName),
				zap.Error(err))
		}
		outcomes = append(outcomes, UnblockOutcome{
			IdentityID:        identity.ID,
			UserPrincipalName: identity.UserPrincipalName,
			Err:               err,
		})
	}
	return outcomes, nil
}
