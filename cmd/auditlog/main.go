package main

import (
	"context"
	"encoding/json"
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
	"forwardwatch/toolkit/internal/storage/redis"
)

// cursorStream 是增量拉取在 Redis 里的游标名
const cursorStream = "directory-audits"

// main 拉取目录审计日志并以 JSONL 输出。
//
// 配置了 Redis 时维护增量游标：每次运行从上次停下的位置继续，
// -start 可以显式覆盖游标。
func main() {
	start := flag.String("start", "", "起始时间（RFC 3339），留空则用 Redis 游标或 24 小时前")
	end := flag.String("end", "", "结束时间（RFC 3339），留空则到当前时间")
	out := flag.String("out", "", "输出文件路径，留空则写到标准输出")
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

	var checkpoint *redis.Client
	if cfg.Redis.Address != "" {
		checkpoint, err = redis.New(redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer checkpoint.Close()
	}

	startAt, err := resolveStart(ctx, *start, checkpoint, log)
	if err != nil {
		log.Fatal("invalid start time", zap.Error(err))
	}
	var endAt time.Time
	if *end != "" {
		endAt, err = time.Parse(time.RFC3339, *end)
		if err != nil {
			log.Fatal("invalid end time", zap.Error(err))
		}
	}

	client, err := graph.NewClient(graph.Config{
		TenantID:            cfg.Graph.TenantID,
		ClientID:            cfg.Graph.ClientID,
		ClientSecret:        cfg.Graph.ClientSecret,
		CertificatePath:     cfg.Graph.CertificatePath,
		CertificatePassword: cfg.Graph.CertificatePassword,
		RequestsPerSecond:   cfg.Graph.RequestsPerSecond,
		Workers:             cfg.Graph.Workers,
		RequestTimeout:      cfg.Graph.RequestTimeout,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize graph client", zap.Error(err))
	}

	entries, cursor, err := client.FetchAuditLog(ctx, startAt, endAt)
	if err != nil {
		log.Fatal("failed to fetch audit log", zap.Error(err))
	}

	if err := writeEntries(*out, entries); err != nil {
		log.Fatal("failed to write entries", zap.Error(err))
	}

	if checkpoint != nil && *start == "" {
		if err := checkpoint.SetAuditCursor(ctx, cursorStream, cursor); err != nil {
			log.Warn("failed to advance audit cursor", zap.Error(err))
		}
	}

	log.Info("audit log export finished",
		zap.Int("entries", len(entries)),
		zap.Time("start", startAt),
		zap.Time("cursor", cursor))
}

// resolveStart 确定拉取起点：显式参数 > Redis 游标 > 24 小时前。
func resolveStart(ctx context.Context, explicit string, checkpoint *redis.Client, log *zap.Logger) (time.Time, error) {
	if explicit != "" {
		return time.Parse(time.RFC3339, explicit)
	}
	if checkpoint != nil {
		cursor, ok, err := checkpoint.GetAuditCursor(ctx, cursorStream)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			log.Info("resuming from audit cursor", zap.Time("cursor", cursor))
			return cursor, nil
		}
	}
	return time.Now().UTC().Add(-24 * time.Hour), nil
}

func writeEntries(path string, entries []graph.AuditEntry) error {
	w := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}
