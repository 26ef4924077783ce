package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/storage"
	"forwardwatch/toolkit/internal/storage/memory"
)

// shrinkingRepo 的 Save 总是返回 ErrStoreShrunk，
// 模拟磁盘上的历史被其它进程追加过的情形。
type shrinkingRepo struct {
	*memory.Store
	saveCalls int
}

func (r *shrinkingRepo) Save(_ context.Context, _ *domain.ForwardingStore) error {
	r.saveCalls++
	return fmt.Errorf("2 records on disk, 1 in memory: %w", storage.ErrStoreShrunk)
}

func observation(n byte, address string, at time.Time) domain.ObservedForward {
	return domain.ObservedForward{
		Name:                 "user" + string(rune('a'+n)),
		Guid:                 guidN(n),
		RawForwardingAddress: "smtp:" + address,
		ObservedAt:           at,
	}
}

func TestReconcile_Run(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-72 * time.Hour)

	repo := memory.NewStore()
	// 历史里已有一条旧记录，其地址会与本期新观测相撞
	require.NoError(t, repo.Save(context.Background(), domain.NewForwardingStore(
		[]domain.ForwardingRecord{testRecord(1, "attacker@evil.test", old)})))

	enum := &fakeEnumerator{observations: []domain.ObservedForward{
		observation(1, "attacker@evil.test", now), // 旧记录，地址未变
		observation(2, "attacker@evil.test", now), // 新增且撞地址
		observation(3, "harmless@partner.test", now),
	}}

	actions := newFakeActions()
	remediator := NewRemediationService(actions, 10, 2, false, zap.NewNop())
	svc := NewReconcileService(enum, repo, remediator, 24*time.Hour, zap.NewNop())
	svc.now = func() time.Time { return now }

	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Observed)
	assert.Equal(t, 3, report.StoreSize)

	// 回看窗口内的新增：只有 2 和 3（1 的 FirstSeen 还是 72 小时前）
	require.Len(t, report.New, 2)
	// 重复判定覆盖全集合：2 与窗口外的 1 相撞
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, guidN(2), report.Duplicates[0].Guid)

	// 处置只针对重复者
	require.NotNil(t, report.Remediation)
	assert.Len(t, report.Remediation.Remediated, 1)
	assert.Equal(t, 1, actions.callCount(guidN(2).String(), "block"))
	assert.Equal(t, 0, actions.callCount(guidN(3).String(), "block"))

	// 合并结果已落盘
	persisted, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, persisted.Len())
}

func TestReconcile_AbortsOnShrunkStoreBeforeRemediation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &shrinkingRepo{Store: memory.NewStore()}
	enum := &fakeEnumerator{observations: []domain.ObservedForward{
		observation(1, "attacker@evil.test", now),
		observation(2, "attacker@evil.test", now),
	}}

	actions := newFakeActions()
	remediator := NewRemediationService(actions, 10, 2, false, zap.NewNop())
	svc := NewReconcileService(enum, repo, remediator, 24*time.Hour, zap.NewNop())
	svc.now = func() time.Time { return now }

	report, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreShrunk)
	assert.Nil(t, report)

	// 持久化失败时一个账户都不能动
	assert.Equal(t, 1, repo.saveCalls)
	assert.Equal(t, 0, actions.totalCalls())
}

func TestReconcile_CapacityOverflowIsNotFatal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewStore()

	observations := make([]domain.ObservedForward, 0, 12)
	for i := byte(1); i <= 12; i++ {
		observations = append(observations, observation(i, "attacker@evil.test", now))
	}
	enum := &fakeEnumerator{observations: observations}

	actions := newFakeActions()
	remediator := NewRemediationService(actions, 10, 4, false, zap.NewNop())
	svc := NewReconcileService(enum, repo, remediator, 24*time.Hour, zap.NewNop())
	svc.now = func() time.Time { return now }

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.CapacityExceeded)
	assert.Len(t, report.Remediation.Remediated, 10)
	assert.Len(t, report.Remediation.Overflow, 2)
}

func TestReconcile_EnumerationFailureAborts(t *testing.T) {
	enum := &fakeEnumerator{err: fmt.Errorf("tenant unreachable")}
	actions := newFakeActions()
	remediator := NewRemediationService(actions, 10, 2, false, zap.NewNop())
	svc := NewReconcileService(enum, memory.NewStore(), remediator, 24*time.Hour, zap.NewNop())

	report, err := svc.Run(context.Background())
	assert.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 0, actions.totalCalls())
}
