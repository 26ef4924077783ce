package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config Redis 连接配置
type Config struct {
	Address  string
	Password string
	DB       int
}

// Client 封装 Redis 客户端，承载运行间的小块共享状态
// （审计日志游标、封禁标记缓存）。
type Client struct {
	rdb *goredis.Client
}

// New 创建 Redis 客户端并验证连通性。
func New(cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close 关闭 Redis 连接。
func (c *Client) Close() error {
	return c.rdb.Close()
}
