package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/domain"
)

func candidateRecords(n int) []domain.ForwardingRecord {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	out := make([]domain.ForwardingRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, testRecord(byte(i+1), "attacker@evil.test", base))
	}
	return out
}

func TestRemediate_FullSequencePerIdentity(t *testing.T) {
	actions := newFakeActions()
	svc := NewRemediationService(actions, 10, 2, false, zap.NewNop())

	records := candidateRecords(1)
	result, err := svc.Remediate(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, result.Remediated, 1)

	id := records[0].Guid.String()
	for _, op := range []string{
		"block", "revoke", "set-marker", "reset-password",
		"remove-forwarding", "protocols-off", "mfa",
	} {
		assert.Equal(t, 1, actions.callCount(id, op), op)
	}
}

func TestRemediate_CapacityCapsSelection(t *testing.T) {
	actions := newFakeActions()
	svc := NewRemediationService(actions, 10, 4, false, zap.NewNop())

	// 12 个候选、预算 10：处置前 10 个，后 2 个原样上报
	records := candidateRecords(12)
	result, err := svc.Remediate(context.Background(), records)

	var capErr *domain.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 10, capErr.Capacity)
	assert.Len(t, capErr.Unhandled, 2)

	assert.Len(t, result.Remediated, 10)
	assert.Len(t, result.Overflow, 2)
	assert.Equal(t, records[10].Guid, result.Overflow[0].Guid)
	assert.Equal(t, 0, actions.callCount(records[10].Guid.String(), "block"))
	assert.Equal(t, 0, actions.callCount(records[11].Guid.String(), "block"))
}

func TestRemediate_StepFailureDoesNotAbortSequence(t *testing.T) {
	actions := newFakeActions()
	records := candidateRecords(2)
	id0 := records[0].Guid.String()
	stepErr := errors.New("throttled")
	actions.failOn[id0+"/reset-password"] = stepErr

	svc := NewRemediationService(actions, 0, 1, false, zap.NewNop())
	result, err := svc.Remediate(context.Background(), records)
	require.NoError(t, err)

	// 失败的身份记入 Failed，但后续步骤与其它身份照常执行
	require.Len(t, result.Failed, 1)
	assert.Equal(t, records[0].Guid, result.Failed[0].Record.Guid)
	assert.ErrorIs(t, result.Failed[0].Err, stepErr)
	assert.Equal(t, 1, actions.callCount(id0, "mfa"))

	require.Len(t, result.Remediated, 1)
	assert.Equal(t, records[1].Guid, result.Remediated[0].Guid)
}

func TestRemediate_DryRunTouchesNothing(t *testing.T) {
	actions := newFakeActions()
	svc := NewRemediationService(actions, 10, 4, true, zap.NewNop())

	result, err := svc.Remediate(context.Background(), candidateRecords(3))
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Len(t, result.Remediated, 3)
	assert.Equal(t, 0, actions.totalCalls())
}

func TestRemediate_NoCapacityLimitWhenZero(t *testing.T) {
	actions := newFakeActions()
	svc := NewRemediationService(actions, 0, 4, false, zap.NewNop())

	result, err := svc.Remediate(context.Background(), candidateRecords(15))
	require.NoError(t, err)
	assert.Len(t, result.Remediated, 15)
	assert.Empty(t, result.Overflow)
}
