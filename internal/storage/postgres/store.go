package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/storage"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS forwarding_records (
	guid               UUID PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	display_name       TEXT NOT NULL DEFAULT '',
	forwarding_address TEXT NOT NULL,
	first_seen         TIMESTAMPTZ NOT NULL,
	last_seen          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forwarding_records_address ON forwarding_records (forwarding_address);
`

// Store PostgreSQL（pgx 连接池）实现的转发历史仓库。
type Store struct {
	pool *pgxpool.Pool
}

// Config 连接池参数
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 创建 PostgreSQL 仓库并初始化数据表。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(connectCtx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create forwarding_records table: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Load 读取全部历史记录，加载边界做字段校验。
func (s *Store) Load(ctx context.Context) (*domain.ForwardingStore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT guid, name, display_name, forwarding_address, first_seen, last_seen
		 FROM forwarding_records ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("failed to load forwarding records: %w", err)
	}
	defer rows.Close()

	var records []domain.ForwardingRecord
	for rows.Next() {
		var rec domain.ForwardingRecord
		var guid uuid.UUID
		if err := rows.Scan(&guid, &rec.Name, &rec.DisplayName, &rec.ForwardingAddress,
			&rec.FirstSeen, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan forwarding record: %w", err)
		}
		rec.Guid = guid
		rec.FirstSeen = rec.FirstSeen.UTC()
		rec.LastSeen = rec.LastSeen.UTC()
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record %s: %w", guid, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate forwarding records: %w", err)
	}
	return domain.NewForwardingStore(records), nil
}

// Save 在单个事务内整体替换历史，收缩保护在事务内判定。
func (s *Store) Save(ctx context.Context, store *domain.ForwardingStore) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM forwarding_records`).Scan(&existing); err != nil {
		return fmt.Errorf("failed to count existing records: %w", err)
	}
	if int64(store.Len()) < existing {
		return fmt.Errorf("have %d records, got %d: %w", existing, store.Len(), storage.ErrStoreShrunk)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM forwarding_records`); err != nil {
		return fmt.Errorf("failed to clear forwarding records: %w", err)
	}

	records := store.Records()
	if len(records) > 0 {
		rows := make([][]any, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []any{
				rec.Guid, rec.Name, rec.DisplayName, rec.ForwardingAddress,
				rec.FirstSeen.UTC(), rec.LastSeen.UTC(),
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"forwarding_records"},
			[]string{"guid", "name", "display_name", "forwarding_address", "first_seen", "last_seen"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to insert forwarding records: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Close 关闭连接池。
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
