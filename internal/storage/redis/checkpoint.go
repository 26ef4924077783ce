package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	cursorKeyPrefix = "forwardwatch:auditlog:cursor:"
	markerKeyPrefix = "forwardwatch:disable-marker:"
)

// GetAuditCursor 读取指定审计流的上次抓取游标。
// 游标不存在时返回零值时间与 false。
func (c *Client) GetAuditCursor(ctx context.Context, stream string) (time.Time, bool, error) {
	val, err := c.rdb.Get(ctx, cursorKeyPrefix+stream).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read audit cursor: %w", err)
	}
	cursor, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt audit cursor %q: %w", val, err)
	}
	return cursor.UTC(), true, nil
}

// SetAuditCursor 持久化指定审计流的抓取游标（RFC 3339）。
func (c *Client) SetAuditCursor(ctx context.Context, stream string, cursor time.Time) error {
	err := c.rdb.Set(ctx, cursorKeyPrefix+stream, cursor.UTC().Format(time.RFC3339), 0).Err()
	if err != nil {
		return fmt.Errorf("failed to persist audit cursor: %w", err)
	}
	return nil
}

// CacheDisableMarker 缓存某身份的封禁标记，解封扫描时减少远端往返。
// 标记为 nil 表示缓存“无标记”这一事实。
func (c *Client) CacheDisableMarker(ctx context.Context, identityID string, marker *time.Time, ttl time.Duration) error {
	val := ""
	if marker != nil {
		val = marker.UTC().Format(time.RFC3339)
	}
	if err := c.rdb.Set(ctx, markerKeyPrefix+identityID, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache disable marker: %w", err)
	}
	return nil
}

// GetCachedDisableMarker 读取缓存的封禁标记。
// 第二个返回值为 false 表示缓存未命中，需要回源。
func (c *Client) GetCachedDisableMarker(ctx context.Context, identityID string) (*time.Time, bool, error) {
	val, err := c.rdb.Get(ctx, markerKeyPrefix+identityID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached disable marker: %w", err)
	}
	if val == "" {
		return nil, true, nil
	}
	marker, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cached disable marker %q: %w", val, err)
	}
	utc := marker.UTC()
	return &utc, true, nil
}

// InvalidateDisableMarker 删除某身份的标记缓存（封禁/解封后调用）。
func (c *Client) InvalidateDisableMarker(ctx context.Context, identityID string) error {
	return c.rdb.Del(ctx, markerKeyPrefix+identityID).Err()
}
