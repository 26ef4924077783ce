package graph

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/domain"
)

// 封禁标记存放在身份的 open extension 上：一个槽位同时承载
// “是否被封禁”与“何时被封禁”，免去第二次往返。时间以 RFC 3339
// 序列化，平台中立，便于其它工具读取。
const (
	disableMarkerExtension = "com.forwardwatch.remediation"
	disableMarkerKey       = "disabledAt"
)

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%"
const passwordLength = 24

// GetIdentity 获取身份的基本信息，不存在时返回 ErrIdentityNotFound。
func (c *Client) GetIdentity(ctx context.Context, identityID string) (*domain.Identity, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	user, err := c.sdk.Users().ByUserId(identityID).Get(ctx, nil)
	if err != nil {
		return nil, translateError("get user", err)
	}
	identity := identityFromUser(user)
	return &identity, nil
}

// BlockSignIn 禁用身份的登录。
func (c *Client) BlockSignIn(ctx context.Context, identityID string) error {
	return c.setAccountEnabled(ctx, identityID, false)
}

// UnblockSignIn 恢复身份的登录。
func (c *Client) UnblockSignIn(ctx context.Context, identityID string) error {
	return c.setAccountEnabled(ctx, identityID, true)
}

func (c *Client) setAccountEnabled(ctx context.Context, identityID string, enabled bool) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return err
	}
	patch := models.NewUser()
	patch.SetAccountEnabled(&enabled)
	if _, err := c.sdk.Users().ByUserId(identityID).Patch(ctx, patch, nil); err != nil {
		return translateError("set account enabled", err)
	}
	c.log.Info("account sign-in updated", zap.String("identity", identityID), zap.Bool("enabled", enabled))
	return nil
}

// RevokeSessions 撤销身份的所有已签发会话令牌。
func (c *Client) RevokeSessions(ctx context.Context, identityID string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.sdk.Users().ByUserId(identityID).RevokeSignInSessions().Post(ctx, nil); err != nil {
		return translateError("revoke sessions", err)
	}
	return nil
}

// ResetPassword 把身份的密码重置为随机值并要求下次登录修改，返回新密码。
func (c *Client) ResetPassword(ctx context.Context, identityID string) (string, error) {
	password, err := generatePassword()
	if err != nil {
		return "", err
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	forceChange := true
	profile := models.NewPasswordProfile()
	profile.SetPassword(&password)
	profile.SetForceChangePasswordNextSignIn(&forceChange)
	patch := models.NewUser()
	patch.SetPasswordProfile(profile)
	if _, err := c.sdk.Users().ByUserId(identityID).Patch(ctx, patch, nil); err != nil {
		return "", translateError("reset password", err)
	}
	c.log.Info("password reset", zap.String("identity", identityID))
	return password, nil
}

// SetProtocols 启用或禁用身份的旧式邮件协议（POP/IMAP/SMTP 认证）。
//
// 协议开关通过“禁用旧式协议”安全组的成员关系实现：加入即禁用。
// 未配置该组时为空操作。
func (c *Client) SetProtocols(ctx context.Context, identityID string, enabled bool) error {
	if c.cfg.ProtocolsGroupID == "" {
		c.log.Debug("protocols group not configured, skipping", zap.String("identity", identityID))
		return nil
	}
	if enabled {
		return c.removeFromGroup(ctx, c.cfg.ProtocolsGroupID, identityID, "enable protocols")
	}
	return c.addToGroup(ctx, c.cfg.ProtocolsGroupID, identityID, "disable protocols")
}

// EnableMfa 把身份加入强制 MFA 安全组。未配置该组时为空操作。
func (c *Client) EnableMfa(ctx context.Context, identityID string) error {
	if c.cfg.MFAGroupID == "" {
		c.log.Debug("mfa group not configured, skipping", zap.String("identity", identityID))
		return nil
	}
	return c.addToGroup(ctx, c.cfg.MFAGroupID, identityID, "enable mfa")
}

func (c *Client) addToGroup(ctx context.Context, groupID, identityID, op string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return err
	}
	odataID := "https://graph.microsoft.com/v1.0/directoryObjects/" + identityID
	ref := models.NewReferenceCreate()
	ref.SetOdataId(&odataID)
	err := c.sdk.Groups().ByGroupId(groupID).Members().Ref().Post(ctx, ref, nil)
	if err != nil {
		// 已是成员时返回 400，视为幂等成功
		if statusCode(err) == http.StatusBadRequest {
			return nil
		}
		return translateError(op, err)
	}
	return nil
}

func (c *Client) removeFromGroup(ctx context.Context, groupID, identityID, op string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return err
	}
	err := c.sdk.Groups().ByGroupId(groupID).Members().ByDirectoryObjectId(identityID).Ref().Delete(ctx, nil)
	if err != nil {
		// 本来就不是成员，视为幂等成功
		if statusCode(err) == http.StatusNotFound {
			return nil
		}
		return translateError(op, err)
	}
	return nil
}

// SetDisableMarker 写入或清除身份的封禁标记。
//
// marker 为 nil 表示清除；标记本就不存在时清除是空操作而不是错误。
// 重复写入会覆盖旧时间戳（重复封禁延长冷却期）。
func (c *Client) SetDisableMarker(ctx context.Context, identityID string, marker *time.Time) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if marker == nil {
		if err := c.wait(ctx); err != nil {
			return err
		}
		err := c.sdk.Users().ByUserId(identityID).
			Extensions().ByExtensionId(disableMarkerExtension).
			Delete(ctx, nil)
		if err != nil && statusCode(err) != http.StatusNotFound {
			return translateError("clear disable marker", err)
		}
		return nil
	}

	name := disableMarkerExtension
	ext := models.NewOpenTypeExtension()
	ext.SetExtensionName(&name)
	ext.SetAdditionalData(map[string]any{
		disableMarkerKey: marker.UTC().Format(time.RFC3339),
	})

	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.sdk.Users().ByUserId(identityID).Extensions().Post(ctx, ext, nil)
	if err == nil {
		return nil
	}
	// 标记已存在则覆盖
	if statusCode(err) == http.StatusConflict {
		if err := c.wait(ctx); err != nil {
			return err
		}
		if _, err := c.sdk.Users().ByUserId(identityID).
			Extensions().ByExtensionId(disableMarkerExtension).
			Patch(ctx, ext, nil); err != nil {
			return translateError("update disable marker", err)
		}
		return nil
	}
	return translateError("set disable marker", err)
}

// GetDisableMarker 读取身份的封禁标记，标记不存在时返回 nil。
func (c *Client) GetDisableMarker(ctx context.Context, identityID string) (*time.Time, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	ext, err := c.sdk.Users().ByUserId(identityID).
		Extensions().ByExtensionId(disableMarkerExtension).
		Get(ctx, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, translateError("get disable marker", err)
	}

	var raw string
	switch v := ext.GetAdditionalData()[disableMarkerKey].(type) {
	case string:
		raw = v
	case *string:
		if v != nil {
			raw = *v
		}
	}
	if raw == "" {
		return nil, nil
	}
	marker, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt disable marker %q on %s: %w", raw, identityID, err)
	}
	utc := marker.UTC()
	return &utc, nil
}

// DisableInboxRule 停用指定的收件规则。
func (c *Client) DisableInboxRule(ctx context.Context, identityID, ruleID string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return err
	}
	disabled := false
	patch := models.NewMessageRule()
	patch.SetIsEnabled(&disabled)
	_, err := c.sdk.Users().ByUserId(identityID).
		MailFolders().ByMailFolderId("inbox").
		MessageRules().ByMessageRuleId(ruleID).
		Patch(ctx, patch, nil)
	if err != nil {
		return translateError("disable inbox rule", err)
	}
	return nil
}

// RemoveForwarding 停用身份的全部转发规则，返回停用条数。
func (c *Client) RemoveForwarding(ctx context.Context, identityID string) (int, error) {
	rules, err := c.ListForwardingInboxRules(ctx, identityID)
	if err != nil {
		return 0, err
	}
	disabled := 0
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := c.DisableInboxRule(ctx, identityID, rule.ID); err != nil {
			return disabled, err
		}
		disabled++
	}
	c.log.Info("forwarding rules disabled", zap.String("identity", identityID), zap.Int("count", disabled))
	return disabled, nil
}

func parseGuid(identityID string) (uuid.UUID, error) {
	return uuid.Parse(identityID)
}

// generatePassword 生成一次性随机密码。
func generatePassword() (string, error) {
	out := make([]byte, passwordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
