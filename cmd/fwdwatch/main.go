package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/config"
	"forwardwatch/toolkit/internal/graph"
	"forwardwatch/toolkit/internal/logger"
	"forwardwatch/toolkit/internal/monitoring"
	"forwardwatch/toolkit/internal/notify"
	"forwardwatch/toolkit/internal/service"
	"forwardwatch/toolkit/internal/storage"
	"forwardwatch/toolkit/internal/storage/csvfile"
	pgstore "forwardwatch/toolkit/internal/storage/postgres"
	gormstore "forwardwatch/toolkit/internal/storage/sql"
)

// main 执行一次完整的转发对账运行：
// 枚举租户里的转发邮箱、合并历史、持久化、查询异常、处置重复转发。
func main() {
	dryRun := flag.Bool("dry-run", false, "只分类不动账户")
	lookback := flag.Duration("since", 0, "覆盖回看窗口（如 24h），零值用配置里的默认值")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	if *dryRun {
		cfg.Policy.DryRun = true
	}
	if *lookback > 0 {
		cfg.Policy.LookbackWindow = *lookback
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

	log.Info("starting forwarding reconciliation",
		zap.Bool("dry_run", cfg.Policy.DryRun),
		zap.Duration("lookback", cfg.Policy.LookbackWindow),
		zap.String("store_backend", cfg.Store.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := buildRepository(cfg)
	if err != nil {
		log.Fatal("failed to initialize history store", zap.Error(err))
	}
	defer repo.Close()

	client, err := graph.NewClient(graphConfig(cfg), log)
	if err != nil {
		log.Fatal("failed to initialize graph client", zap.Error(err))
	}

	remediator := service.NewRemediationService(
		client, cfg.Policy.RemediationCap, cfg.Graph.Workers, cfg.Policy.DryRun, log)
	reconciler := service.NewReconcileService(
		client, repo, remediator, cfg.Policy.LookbackWindow, log)

	metrics := monitoring.NewMetrics()
	report, runErr := reconciler.Run(ctx)

	if report != nil {
		remediated, failed, overflow := 0, 0, 0
		if report.Remediation != nil {
			remediated = len(report.Remediation.Remediated)
			failed = len(report.Remediation.Failed)
			overflow = len(report.Remediation.Overflow)
		}
		metrics.RecordRun(report.Observed, report.StoreSize,
			len(report.New), len(report.Duplicates),
			remediated, failed, overflow,
			report.Duration, runErr == nil)
	} else {
		metrics.RecordRun(0, 0, 0, 0, 0, 0, 0, 0, false)
	}
	if err := metrics.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		log.Warn("failed to push metrics", zap.Error(err))
	}

	if runErr != nil {
		log.Error("reconciliation failed", zap.Error(runErr))
		os.Exit(1)
	}

	notifier := notify.NewEmailNotifier(notify.Config{
		Host:     cfg.SMTP.Host,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		To:       cfg.SMTP.To,
		StartTLS: cfg.SMTP.StartTLS,
	}, log)
	if err := notifier.SendRunReport(report); err != nil {
		log.Warn("failed to send run report", zap.Error(err))
	}

	log.Info("reconciliation finished",
		zap.Int("observed", report.Observed),
		zap.Int("store_size", report.StoreSize),
		zap.Int("new", len(report.New)),
		zap.Int("duplicates", len(report.Duplicates)),
		zap.Bool("capacity_exceeded", report.CapacityExceeded),
		zap.Duration("duration", report.Duration.Round(time.Millisecond)))
}

// buildRepository 根据配置选择历史持久化后端。
func buildRepository(cfg *config.Config) (storage.HistoryRepository, error) {
	switch cfg.Store.Backend {
	case "", "csv":
		return csvfile.NewStore(cfg.Store.Path)
	case "sql":
		return gormstore.NewStore(cfg.Database.Type, cfg.Database.DSN,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	case "postgres":
		return pgstore.NewStore(context.Background(), pgstore.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func graphConfig(cfg *config.Config) graph.Config {
	return graph.Config{
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
	}
}
