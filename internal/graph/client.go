package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"forwardwatch/toolkit/internal/domain"
)

// graph 权限范围固定为应用默认范围，具体权限在应用注册上配置
var scopes = []string{"https://graph.microsoft.com/.default"}

// Config 定义 Graph 客户端的凭据与限流参数。
type Config struct {
	TenantID            string
	ClientID            string
	ClientSecret        string
	CertificatePath     string
	CertificatePassword string
	RequestsPerSecond   float64
	Workers             int
	// RequestTimeout 约束单次账户操作的耗时（分页枚举不受限）
	RequestTimeout time.Duration
	// ProtocolsGroupID 是“禁用旧式邮件协议”安全组；加入即禁用
	ProtocolsGroupID string
	// MFAGroupID 是“强制 MFA”安全组；加入即强制
	MFAGroupID string
}

// Client 封装 GraphServiceClient，是核心逻辑的全部远端协作者：
// 邮箱枚举、账户操作、审计日志抓取都经由它。
//
// 所有调用显式传入 context，并通过令牌桶做自我限速，
// 避免触发租户侧的 429 节流。
type Client struct {
	sdk     *msgraphsdk.GraphServiceClient
	limiter *rate.Limiter
	workers int
	cfg     Config
	log     *zap.Logger
}

// NewClient 依据配置构建 Graph 客户端。
//
// 凭据优先使用 client secret，否则回落到证书
// （与应用注册支持的两种方式一致）。
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	cred, err := buildCredential(cfg)
	if err != nil {
		return nil, err
	}

	sdk, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph client: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}

	return &Client{
		sdk:     sdk,
		limiter: rate.NewLimiter(rate.Limit(rps), workers),
		workers: workers,
		cfg:     cfg,
		log:     log,
	}, nil
}

func buildCredential(cfg Config) (azcore.TokenCredential, error) {
	if cfg.ClientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create client secret credential: %w", err)
		}
		return cred, nil
	}

	if cfg.CertificatePath == "" {
		return nil, fmt.Errorf("either client secret or certificate path is required")
	}
	data, err := os.ReadFile(cfg.CertificatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate %s: %w", cfg.CertificatePath, err)
	}
	var password []byte
	if cfg.CertificatePassword != "" {
		password = []byte(cfg.CertificatePassword)
	}
	certs, key, err := azidentity.ParseCertificates(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate %s: %w", cfg.CertificatePath, err)
	}
	cred, err := azidentity.NewClientCertificateCredential(cfg.TenantID, cfg.ClientID, certs, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate credential: %w", err)
	}
	return cred, nil
}

// wait 在每次远端调用前消费一个限速令牌。
func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// opCtx 给单次账户操作加上超时。零值配置不限制。
func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// translateError 把 Graph 的 OData 错误映射为领域错误。
// 404 映射为身份不存在；其余按瞬态错误包装后原样上抛。
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		if odataErr.ResponseStatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", op, domain.ErrIdentityNotFound)
		}
		if mainErr := odataErr.GetErrorEscaped(); mainErr != nil && mainErr.GetMessage() != nil {
			return fmt.Errorf("%s: graph error %d: %s: %w", op, odataErr.ResponseStatusCode, *mainErr.GetMessage(), err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// statusCode 提取 OData 错误的 HTTP 状态码，非 OData 错误返回 0。
func statusCode(err error) int {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		return odataErr.ResponseStatusCode
	}
	return 0
}
