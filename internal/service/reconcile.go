package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/storage"
)

// RunReport 汇总一次对账运行的全部产出，供通知与指标消费。
type RunReport struct {
	StartedAt time.Time
	Duration  time.Duration
	// Observed 是本次枚举产出的观测数
	Observed int
	// StoreSize 是合并后历史集合的记录数
	StoreSize int
	// New 是回看窗口内首次出现的记录
	New []domain.ForwardingRecord
	// Duplicates 是窗口内活跃且地址与其它记录相撞的记录
	Duplicates []domain.ForwardingRecord
	// Remediation 是对 Duplicates 的处置结果
	Remediation *RemediationResult
	// CapacityExceeded 表示候选超出处置预算，Overflow 需人工跟进
	CapacityExceeded bool
}

// ReconcileService 编排一次完整的对账运行：
// 枚举、合并历史、持久化、异常查询、处置。
type ReconcileService struct {
	enum       MailboxEnumerator
	repo       storage.HistoryRepository
	remediator *RemediationService
	log        *zap.Logger
	lookback   time.Duration
	now        func() time.Time
}

// NewReconcileService 创建对账编排服务。
func NewReconcileService(
	enum MailboxEnumerator,
	repo storage.HistoryRepository,
	remediator *RemediationService,
	lookback time.Duration,
	log *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		enum:       enum,
		repo:       repo,
		remediator: remediator,
		log:        log,
		lookback:   lookback,
		now:        time.Now,
	}
}

// Run 执行一次对账。
//
// 持久化失败立即中止：历史没有落盘就处置，等于在下一次运行里
// 丢失“已处置过”的记忆。尤其是 ErrStoreShrunk，说明磁盘上的
// 历史比内存里的新，覆盖会吞掉别处写入的记录。
func (s *ReconcileService) Run(ctx context.Context) (*RunReport, error) {
	started := s.now().UTC()
	report := &RunReport{StartedAt: started}

	observations, err := s.enum.ListForwardingMailboxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate forwarding mailboxes: %w", err)
	}
	report.Observed = len(observations)
	s.log.Info("forwarding mailboxes enumerated", zap.Int("observations", len(observations)))

	prior, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load forwarding history: %w", err)
	}

	merged := domain.Merge(prior, observations)
	report.StoreSize = merged.Len()
	s.log.Info("history merged",
		zap.Int("before", prior.Len()), zap.Int("after", merged.Len()))

	if err := s.repo.Save(ctx, merged); err != nil {
		if errors.Is(err, storage.ErrStoreShrunk) {
			s.log.Error("history on disk is larger than merged result, aborting before remediation",
				zap.Error(err))
		}
		return nil, fmt.Errorf("save forwarding history: %w", err)
	}

	since := started.Add(-s.lookback)
	report.New, err = domain.Query(merged, domain.QueryCriteria{NewerThan: &since})
	if err != nil {
		return nil, fmt.Errorf("query new records: %w", err)
	}
	report.Duplicates, err = domain.Query(merged, domain.QueryCriteria{
		NewerThan:      &since,
		OnlyDuplicates: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query duplicate records: %w", err)
	}
	s.log.Info("anomaly query finished",
		zap.Int("new", len(report.New)), zap.Int("duplicates", len(report.Duplicates)))

	report.Remediation, err = s.remediator.Remediate(ctx, report.Duplicates)
	if err != nil {
		var capErr *domain.CapacityExceededError
		if !errors.As(err, &capErr) {
			return nil, fmt.Errorf("remediate duplicates: %w", err)
		}
		report.CapacityExceeded = true
		s.log.Warn("remediation capacity exceeded",
			zap.Int("capacity", capErr.Capacity), zap.Int("unhandled", len(capErr.Unhandled)))
	}

	report.Duration = s.now().UTC().Sub(started)
	return report, nil
}
