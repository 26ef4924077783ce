package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"forwardwatch/toolkit/internal/domain"
)

// RemediationService 对命中异常查询的身份执行处置序列。
//
// 单次运行的处置数量受容量上限约束：超出部分不动，整体运行
// 也不失败，留给人工跟进。身份间并发处置，身份内步骤串行。
type RemediationService struct {
	actions  AccountActions
	log      *zap.Logger
	capacity int
	workers  int
	dryRun   bool
	now      func() time.Time
}

// NewRemediationService 创建处置服务。
// capacity <= 0 表示不限量；workers <= 0 时退化为串行。
func NewRemediationService(actions AccountActions, capacity, workers int, dryRun bool, log *zap.Logger) *RemediationService {
	if workers <= 0 {
		workers = 1
	}
	return &RemediationService{
		actions:  actions,
		log:      log,
		capacity: capacity,
		workers:  workers,
		dryRun:   dryRun,
		now:      time.Now,
	}
}

// RemediationFailure 记录单个身份处置中积累的错误。
// 处置是尽力而为的：一步失败不阻止后续步骤，错误聚合上报。
type RemediationFailure struct {
	Record domain.ForwardingRecord
	Err    error
}

// RemediationResult 汇总一次处置批的结果。
type RemediationResult struct {
	// Remediated 是全部步骤成功的记录
	Remediated []domain.ForwardingRecord
	// Failed 是至少一步失败的记录及其聚合错误
	Failed []RemediationFailure
	// Overflow 是超出容量、完全未动的记录
	Overflow []domain.ForwardingRecord
	// DryRun 为真时以上记录只是预演分类，未触碰任何账户
	DryRun bool
}

// Remediate 对候选记录执行处置。
//
// 超容量时返回 *domain.CapacityExceededError 供调用方上报，
// 同时仍然处置容量内的记录，结果照常返回；该错误不代表运行失败。
func (s *RemediationService) Remediate(ctx context.Context, candidates []domain.ForwardingRecord) (*RemediationResult, error) {
	result := &RemediationResult{DryRun: s.dryRun}

	selected := candidates
	if s.capacity > 0 && len(candidates) > s.capacity {
		selected = candidates[:s.capacity]
		result.Overflow = append(result.Overflow, candidates[s.capacity:]...)
	}

	if s.dryRun {
		result.Remediated = append(result.Remediated, selected...)
		for _, rec := range selected {
			s.log.Info("dry-run: would remediate",
				zap.String("identity", rec.Guid.String()),
				zap.String("name", rec.Name),
				zap.String("forwarding", rec.ForwardingAddress))
		}
		return result, s.capacityError(result)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, rec := range selected {
		rec := rec
		g.Go(func() error {
			err := s.remediateOne(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, RemediationFailure{Record: rec, Err: err})
				return nil
			}
			result.Remediated = append(result.Remediated, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, s.capacityError(result)
}

func (s *RemediationService) capacityError(result *RemediationResult) error {
	if len(result.Overflow) == 0 {
		return nil
	}
	return &domain.CapacityExceededError{Capacity: s.capacity, Unhandled: result.Overflow}
}

// remediateOne 对单个身份执行完整处置序列：
// 禁止登录、撤销会话、写入封禁标记、重置密码、摘除转发规则、
// 禁用旧式协议、强制 MFA。步骤尽力而为，错误聚合返回。
func (s *RemediationService) remediateOne(ctx context.Context, rec domain.ForwardingRecord) error {
	identityID := rec.Guid.String()
	log := s.log.With(zap.String("identity", identityID), zap.String("name", rec.Name))

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			log.Error("remediation step failed", zap.String("step", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		log.Info("remediation step done", zap.String("step", name))
	}

	step("block sign-in", func() error { return s.actions.BlockSignIn(ctx, identityID) })
	step("revoke sessions", func() error { return s.actions.RevokeSessions(ctx, identityID) })
	step("set disable marker", func() error {
		at := s.now().UTC()
		return s.actions.SetDisableMarker(ctx, identityID, &at)
	})
	step("reset password", func() error {
		_, err := s.actions.ResetPassword(ctx, identityID)
		return err
	})
	step("remove forwarding", func() error {
		n, err := s.actions.RemoveForwarding(ctx, identityID)
		if err == nil {
			log.Info("forwarding removed", zap.Int("rules", n))
		}
		return err
	})
	step("disable protocols", func() error { return s.actions.SetProtocols(ctx, identityID, false) })
	step("enable mfa", func() error { return s.actions.EnableMfa(ctx, identityID) })

	return errors.Join(errs...)
}
