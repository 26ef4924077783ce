package graph

import (
	"context"
	"net/http"
	"time"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"forwardwatch/toolkit/internal/domain"
)

var userSelectFields = []string{"id", "userPrincipalName", "displayName", "mailNickname", "accountEnabled", "mail"}

// ListForwardingMailboxes 枚举当前开启了转发的邮箱。
//
// 遍历租户内有邮箱的用户并检查其收件箱规则，凡带有转发/重定向动作的
// 启用规则即产出一条观测。同一次调用的全部观测共享同一个 ObservedAt。
// 指向 SMTP 地址的转发带 smtp: 前缀；指向租户内邮箱对象的转发
// 没有可用地址，原始值不带前缀，由合并引擎丢弃。
func (c *Client) ListForwardingMailboxes(ctx context.Context) ([]domain.ObservedForward, error) {
	observedAt := time.Now().UTC()

	identities, err := c.listMailUsers(ctx)
	if err != nil {
		return nil, err
	}

	// 每个用户一次规则查询，受 worker 数与限速双重约束
	perUser := make([][]domain.ObservedForward, len(identities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, identity := range identities {
		i, identity := i, identity
		g.Go(func() error {
			rules, err := c.ListForwardingInboxRules(gctx, identity.ID)
			if err != nil {
				return err
			}
			perUser[i] = observationsFromRules(identity, rules, observedAt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var observations []domain.ObservedForward
	for _, obs := range perUser {
		observations = append(observations, obs...)
	}
	c.log.Info("enumerated forwarding mailboxes",
		zap.Int("users", len(identities)),
		zap.Int("forwarding", len(observations)),
		zap.Time("observed_at", observedAt),
	)
	return observations, nil
}

// listMailUsers 分页列出租户内有邮箱的用户。
func (c *Client) listMailUsers(ctx context.Context) ([]domain.Identity, error) {
	top := int32(999)
	requestConfig := &users.UsersRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.UsersRequestBuilderGetQueryParameters{
			Select: userSelectFields,
			Top:    &top,
		},
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.sdk.Users().Get(ctx, requestConfig)
	if err != nil {
		return nil, translateError("list users", err)
	}

	var identities []domain.Identity
	for {
		for _, user := range result.GetValue() {
			if user.GetMail() == nil {
				continue // 无邮箱的账户（服务账号等）没有收件规则
			}
			identities = append(identities, identityFromUser(user))
		}

		next := result.GetOdataNextLink()
		if next == nil || *next == "" {
			break
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		result, err = users.NewUsersRequestBuilder(*next, c.sdk.GetAdapter()).Get(ctx, nil)
		if err != nil {
			return nil, translateError("list users page", err)
		}
	}
	return identities, nil
}

// ListSignInBlockedIdentities 列出当前登录被禁用的身份（解封扫描的输入）。
func (c *Client) ListSignInBlockedIdentities(ctx context.Context) ([]domain.Identity, error) {
	filter := "accountEnabled eq false"
	count := true
	top := int32(999)

	// accountEnabled 过滤属于高级查询，需要 eventual 一致性头
	headers := abstractions.NewRequestHeaders()
	headers.Add("ConsistencyLevel", "eventual")

	requestConfig := &users.UsersRequestBuilderGetRequestConfiguration{
		Headers: headers,
		QueryParameters: &users.UsersRequestBuilderGetQueryParameters{
			Select: userSelectFields,
			Filter: &filter,
			Count:  &count,
			Top:    &top,
		},
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.sdk.Users().Get(ctx, requestConfig)
	if err != nil {
		return nil, translateError("list blocked users", err)
	}

	var identities []domain.Identity
	for {
		for _, user := range result.GetValue() {
			identities = append(identities, identityFromUser(user))
		}
		next := result.GetOdataNextLink()
		if next == nil || *next == "" {
			break
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		result, err = users.NewUsersRequestBuilder(*next, c.sdk.GetAdapter()).Get(ctx, nil)
		if err != nil {
			return nil, translateError("list blocked users page", err)
		}
	}
	return identities, nil
}

// ListForwardingInboxRules 返回某身份收件箱中带转发动作的规则摘要。
func (c *Client) ListForwardingInboxRules(ctx context.Context, identityID string) ([]domain.InboxRule, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.sdk.Users().ByUserId(identityID).
		MailFolders().ByMailFolderId("inbox").
		MessageRules().Get(ctx, nil)
	if err != nil {
		// 无邮箱许可的账户返回 404，当作没有规则
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, translateError("list inbox rules", err)
	}

	var rules []domain.InboxRule
	for _, rule := range result.GetValue() {
		targets := forwardingTargets(rule)
		if len(targets) == 0 {
			continue
		}
		summary := domain.InboxRule{ForwardingTo: targets}
		if id := rule.GetId(); id != nil {
			summary.ID = *id
		}
		if name := rule.GetDisplayName(); name != nil {
			summary.DisplayName = *name
		}
		if enabled := rule.GetIsEnabled(); enabled != nil {
			summary.Enabled = *enabled
		}
		rules = append(rules, summary)
	}
	return rules, nil
}

// forwardingTargets 提取规则的转发/重定向目标。
// 有 SMTP 地址的目标带 smtp: 前缀，否则用显示名占位（不带前缀）。
func forwardingTargets(rule models.MessageRuleable) []string {
	actions := rule.GetActions()
	if actions == nil {
		return nil
	}
	recipients := append(actions.GetForwardTo(), actions.GetRedirectTo()...)
	recipients = append(recipients, actions.GetForwardAsAttachmentTo()...)

	var targets []string
	for _, recipient := range recipients {
		email := recipient.GetEmailAddress()
		if email == nil {
			continue
		}
		if addr := email.GetAddress(); addr != nil && *addr != "" {
			targets = append(targets, domain.ForwardingSchemePrefix+*addr)
			continue
		}
		if name := email.GetName(); name != nil {
			targets = append(targets, *name)
		}
	}
	return targets
}

// observationsFromRules 把一个身份的转发规则折算成观测。
// 只取第一条启用的转发规则的第一个目标：一个邮箱一条转发记录。
func observationsFromRules(identity domain.Identity, rules []domain.InboxRule, observedAt time.Time) []domain.ObservedForward {
	for _, rule := range rules {
		if !rule.Enabled || len(rule.ForwardingTo) == 0 {
			continue
		}
		guid, err := parseGuid(identity.ID)
		if err != nil {
			return nil
		}
		return []domain.ObservedForward{{
			Name:                 identity.UserPrincipalName,
			DisplayName:          identity.DisplayName,
			Guid:                 guid,
			RawForwardingAddress: rule.ForwardingTo[0],
			ObservedAt:           observedAt,
		}}
	}
	return nil
}

func identityFromUser(user models.Userable) domain.Identity {
	var identity domain.Identity
	if id := user.GetId(); id != nil {
		identity.ID = *id
	}
	if upn := user.GetUserPrincipalName(); upn != nil {
		identity.UserPrincipalName = *upn
	}
	if name := user.GetDisplayName(); name != nil {
		identity.DisplayName = *name
	}
	if enabled := user.GetAccountEnabled(); enabled != nil {
		identity.AccountEnabled = *enabled
	}
	return identity
}
