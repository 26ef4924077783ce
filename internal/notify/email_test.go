package notify

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/service"
)

func reportFixture() *service.RunReport {
	seen := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	newRec := domain.ForwardingRecord{
		Name:              "alice",
		Guid:              uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ForwardingAddress: "attacker@evil.test",
		FirstSeen:         seen,
		LastSeen:          seen,
	}
	dupRec := domain.ForwardingRecord{
		Name:              "bob",
		Guid:              uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		ForwardingAddress: "attacker@evil.test",
		FirstSeen:         seen,
		LastSeen:          seen,
	}
	return &service.RunReport{
		StartedAt:  seen,
		Duration:   42 * time.Second,
		Observed:   5,
		StoreSize:  7,
		New:        []domain.ForwardingRecord{newRec, dupRec},
		Duplicates: []domain.ForwardingRecord{dupRec},
		Remediation: &service.RemediationResult{
			Remediated: []domain.ForwardingRecord{dupRec},
			Overflow:   []domain.ForwardingRecord{newRec},
		},
	}
}

func TestRenderRunReport(t *testing.T) {
	body, err := renderRunReport(reportFixture())
	require.NoError(t, err)

	html := string(body)
	assert.Contains(t, html, "alice")
	assert.Contains(t, html, "bob")
	assert.Contains(t, html, "attacker@evil.test")
	assert.Contains(t, html, "需要人工跟进")
	assert.NotContains(t, html, "预演")
}

func TestRenderRunReport_DryRun(t *testing.T) {
	report := reportFixture()
	report.Remediation.DryRun = true
	body, err := renderRunReport(report)
	require.NoError(t, err)
	assert.Contains(t, string(body), "预演")
}

func TestRenderRunReport_EscapesAddresses(t *testing.T) {
	report := reportFixture()
	report.New[0].ForwardingAddress = `<script>alert(1)</script>@evil.test`
	body, err := renderRunReport(report)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "<script>")
}

func TestBuildMessage(t *testing.T) {
	body := []byte("<html></html>")
	msg := string(buildMessage("ops@contoso.test", []string{"a@contoso.test", "b@contoso.test"}, "摘要", body))

	assert.Contains(t, msg, "From: ops@contoso.test\r\n")
	assert.Contains(t, msg, "To: a@contoso.test, b@contoso.test\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.Contains(t, msg, "Subject: =?UTF-8?B?")
	assert.Contains(t, msg, "<html></html>")
}

func TestSendRunReport_SkipsWhenUnconfigured(t *testing.T) {
	n := NewEmailNotifier(Config{}, zap.NewNop())
	assert.NoError(t, n.SendRunReport(reportFixture()))
}
