package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/config"
	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/graph"
	"forwardwatch/toolkit/internal/logger"
	"forwardwatch/toolkit/internal/service"
	"forwardwatch/toolkit/internal/storage/redis"
)

// main 解封被处置的身份。
//
// 指定 -user 时解封单个身份；否则扫描租户里所有被禁止登录的
// 身份，对冷却期已满的逐个解封（sweep 模式）。
func main() {
	user := flag.String("user", "", "要解封的身份 ID 或 UPN，留空则扫描全部被封禁身份")
	force := flag.Bool("force", false, "跳过封禁标记与冷却期检查")
	minElapsed := flag.Duration("min-elapsed", 0, "覆盖解封冷却期（如 58m），零值用配置里的默认值")
	withProtocols := flag.Bool("enable-protocols", false, "解封时同时恢复旧式邮件协议")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.LogFile,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := graph.NewClient(graph.Config{
		TenantID:            cfg.Graph.TenantID,
		ClientID:            cfg.Graph.ClientID,
		ClientSecret:        cfg.Graph.ClientSecret,
		CertificatePath:     cfg.Graph.CertificatePath,
		CertificatePassword: cfg.Graph.CertificatePassword,
		RequestsPerSecond:   cfg.Graph.RequestsPerSecond,
		Workers:             cfg.Graph.Workers,
		RequestTimeout:      cfg.Graph.RequestTimeout,
		ProtocolsGroupID:    cfg.Graph.ProtocolsGroupID,
		MFAGroupID:          cfg.Graph.MFAGroupID,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize graph client", zap.Error(err))
	}

	lifecycle := service.NewLifecycleService(client, log)
	if cfg.Redis.Address != "" {
		cache, err := redis.New(redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("failed to connect to redis, marker cache disabled", zap.Error(err))
		} else {
			defer cache.Close()
			lifecycle.SetMarkerCache(cache)
		}
	}
	opts := service.UnblockOptions{
		MinElapsed:      cfg.Policy.UnblockCooldown,
		Force:           *force,
		EnableProtocols: *withProtocols,
	}
	if *minElapsed > 0 {
		opts.MinElapsed = *minElapsed
	}

	if *user != "" {
		if err := lifecycle.Unblock(ctx, *user, opts); err != nil {
			reportUnblockError(log, *user, err)
			os.Exit(1)
		}
		fmt.Printf("已解封 %s\n", *user)
		return
	}

	blocked, err := client.ListSignInBlockedIdentities(ctx)
	if err != nil {
		log.Fatal("failed to enumerate blocked identities", zap.Error(err))
	}
	log.Info("sweeping blocked identities", zap.Int("count", len(blocked)))

	outcomes, err := lifecycle.SweepUnblock(ctx, blocked, opts)
	if err != nil {
		log.Fatal("sweep aborted", zap.Error(err))
	}

	unblocked := 0
	for _, outcome := range outcomes {
		if outcome.Err == nil {
			unblocked++
			fmt.Printf("已解封 %s（%s）\n", outcome.UserPrincipalName, outcome.IdentityID)
			continue
		}
		var tooSoon *domain.TooSoonError
		switch {
		case errors.As(outcome.Err, &tooSoon):
			fmt.Printf("跳过 %s：冷却期还剩 %s\n",
				outcome.UserPrincipalName, tooSoon.Remaining.Round(time.Second))
		case errors.Is(outcome.Err, domain.ErrNoDisableMarker):
			fmt.Printf("跳过 %s：没有封禁标记，可能是人工封禁\n", outcome.UserPrincipalName)
		default:
			fmt.Printf("失败 %s：%v\n", outcome.UserPrincipalName, outcome.Err)
		}
	}
	fmt.Printf("共解封 %d/%d\n", unblocked, len(outcomes))
}

func reportUnblockError(log *zap.Logger, user string, err error) {
	var tooSoon *domain.TooSoonError
	switch {
	case errors.As(err, &tooSoon):
		fmt.Printf("拒绝解封 %s：冷却期还剩 %s（可用 -force 越过）\n",
			user, tooSoon.Remaining.Round(time.Second))
	case errors.Is(err, domain.ErrNoDisableMarker):
		fmt.Printf("拒绝解封 %s：没有封禁标记，请人工确认后用 -force\n", user)
	case errors.Is(err, domain.ErrIdentityNotFound):
		fmt.Printf("身份 %s 不存在\n", user)
	default:
		log.Error("unblock failed", zap.String("identity", user), zap.Error(err))
	}
}
