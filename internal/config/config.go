package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// GraphConfig 定义访问租户 Graph API 的凭据与限流参数
type GraphConfig struct {
	TenantID            string
	ClientID            string
	ClientSecret        string        // 与证书二选一
	CertificatePath     string        // PEM/PFX 证书路径
	CertificatePassword string        // 证书口令（可选）
	RequestsPerSecond   float64       // 自我限速，默认 4
	Workers             int           // 枚举/处置扇出上限，默认 8
	RequestTimeout      time.Duration // 单次远端调用超时，默认 30s
	ProtocolsGroupID    string        // “禁用旧式邮件协议”安全组 ID
	MFAGroupID          string        // “强制 MFA”安全组 ID
}

// StoreConfig 定义转发历史的持久化后端
type StoreConfig struct {
	Backend string // csv | sql | postgres，默认 csv
	Path    string // csv 后端的历史文件路径
}

// DatabaseConfig 定义数据库连接配置（sql / postgres 后端）
type DatabaseConfig struct {
	Type            string // "mysql" 或 "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig 定义 Redis 配置（审计游标与标记缓存，可选）
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// PolicyConfig 定义对账与处置策略
type PolicyConfig struct {
	RemediationCap  int           // 单次运行最多处置的身份数，默认 10
	UnblockCooldown time.Duration // 封禁后允许自动解封的最短间隔，默认 58m
	LookbackWindow  time.Duration // “本期新增”的回看窗口，默认 24h
	DryRun          bool          // 只分类不动账户
}

// SMTPConfig 定义运行摘要邮件的提交通道（可选）
type SMTPConfig struct {
	Host     string // host:port，留空则不发通知
	Username string
	Password string
	From     string
	To       []string
	StartTLS bool
}

// MetricsConfig 定义运行指标推送（可选）
type MetricsConfig struct {
	PushgatewayURL string // 留空则不推送
	Job            string
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string
	Development bool
	LogFile     string
}

// Config 是工具包的根配置
type Config struct {
	Graph    GraphConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Policy   PolicyConfig
	SMTP     SMTPConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// Load 从环境变量和 .env 文件加载配置
//
// 优先级（从高到低）：系统环境变量 > .env 文件 > 默认值。
// 环境变量前缀 FORWARDWATCH_，例如 FORWARDWATCH_GRAPH_TENANT_ID。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("forwardwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("graph.tenant_id", "")
	v.SetDefault("graph.client_id", "")
	v.SetDefault("graph.client_secret", "")
	v.SetDefault("graph.certificate_path", "")
	v.SetDefault("graph.certificate_password", "")
	v.SetDefault("graph.requests_per_second", 4.0)
	v.SetDefault("graph.workers", 8)
	v.SetDefault("graph.request_timeout", "30s")
	v.SetDefault("graph.protocols_group_id", "")
	v.SetDefault("graph.mfa_group_id", "")

	v.SetDefault("store.backend", "csv")
	v.SetDefault("store.path", "./data/forwarding-history.csv")

	v.SetDefault("database.type", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("policy.remediation_cap", 10)
	v.SetDefault("policy.unblock_cooldown", "58m")
	v.SetDefault("policy.lookback_window", "24h")
	v.SetDefault("policy.dry_run", false)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.to", "")
	v.SetDefault("smtp.starttls", true)

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "forwardwatch")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")

	cfg := &Config{
		Graph: GraphConfig{
			TenantID:            v.GetString("graph.tenant_id"),
			ClientID:            v.GetString("graph.client_id"),
			ClientSecret:        v.GetString("graph.client_secret"),
			CertificatePath:     v.GetString("graph.certificate_path"),
			CertificatePassword: v.GetString("graph.certificate_password"),
			RequestsPerSecond:   v.GetFloat64("graph.requests_per_second"),
			Workers:             v.GetInt("graph.workers"),
			RequestTimeout:      v.GetDuration("graph.request_timeout"),
			ProtocolsGroupID:    v.GetString("graph.protocols_group_id"),
			MFAGroupID:          v.GetString("graph.mfa_group_id"),
		},
		Store: StoreConfig{
			Backend: v.GetString("store.backend"),
			Path:    v.GetString("store.path"),
		},
		Database: DatabaseConfig{
			Type:            v.GetString("database.type"),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Policy: PolicyConfig{
			RemediationCap:  v.GetInt("policy.remediation_cap"),
			UnblockCooldown: v.GetDuration("policy.unblock_cooldown"),
			LookbackWindow:  v.GetDuration("policy.lookback_window"),
			DryRun:          v.GetBool("policy.dry_run"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
			To:       splitList(v.GetString("smtp.to")),
			StartTLS: v.GetBool("smtp.starttls"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString("metrics.pushgateway_url"),
			Job:            v.GetString("metrics.job"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			LogFile:     v.GetString("log.file"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的一致性。
func (c *Config) Validate() error {
	if c.Graph.TenantID == "" || c.Graph.ClientID == "" {
		return fmt.Errorf("graph tenant_id and client_id are required")
	}
	if c.Graph.ClientSecret == "" && c.Graph.CertificatePath == "" {
		return fmt.Errorf("either graph client_secret or certificate_path is required")
	}
	if c.Graph.RequestsPerSecond <= 0 {
		return fmt.Errorf("graph requests_per_second must be positive")
	}
	if c.Graph.Workers <= 0 {
		return fmt.Errorf("graph workers must be positive")
	}

	switch c.Store.Backend {
	case "csv":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for csv backend")
		}
	case "sql":
		if c.Database.Type != "mysql" && c.Database.Type != "postgres" {
			return fmt.Errorf("database type must be mysql or postgres for sql backend")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for sql backend")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for postgres backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s (supported: csv, sql, postgres)", c.Store.Backend)
	}

	if c.Policy.RemediationCap < 0 {
		return fmt.Errorf("remediation_cap must not be negative")
	}
	if c.Policy.UnblockCooldown <= 0 {
		return fmt.Errorf("unblock_cooldown must be positive")
	}

	if c.SMTP.Host != "" {
		if c.SMTP.From == "" || len(c.SMTP.To) == 0 {
			return fmt.Errorf("smtp from and to are required when smtp host is set")
		}
	}
	return nil
}

// loadEnvFile 尝试加载 .env 文件（可选，静默失败）。
func loadEnvFile() {
	candidates := []string{".env", filepath.Join("..", ".env")}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
