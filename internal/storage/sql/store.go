package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/storage"
)

// forwardingRecordModel 转发历史数据表模型
type forwardingRecordModel struct {
	Guid              string    `gorm:"primaryKey;type:varchar(36)"`
	Name              string    `gorm:"type:varchar(255)"`
	DisplayName       string    `gorm:"type:varchar(255)"`
	ForwardingAddress string    `gorm:"type:varchar(320);index"`
	FirstSeen         time.Time `gorm:"index"`
	LastSeen          time.Time `gorm:"index"`
}

func (forwardingRecordModel) TableName() string {
	return "forwarding_records"
}

// Store SQL 数据库实现的转发历史仓库（支持 MySQL 5.7+ 和 PostgreSQL）。
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库仓库并执行自动迁移。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var db *gorm.DB
	if driverName == "mysql" {
		db, err = gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), gormConfig)
	} else {
		db, err = gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig)
	}
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	if err := db.AutoMigrate(&forwardingRecordModel{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, driverName: driverName}, nil
}

// Load 读取全部历史记录，加载边界做字段校验。
func (s *Store) Load(ctx context.Context) (*domain.ForwardingStore, error) {
	var models []forwardingRecordModel
	if err := s.db.WithContext(ctx).Order("first_seen").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to load forwarding records: %w", err)
	}

	records := make([]domain.ForwardingRecord, 0, len(models))
	for _, m := range models {
		guid, err := uuid.Parse(m.Guid)
		if err != nil {
			return nil, fmt.Errorf("invalid guid %q in forwarding_records: %w", m.Guid, err)
		}
		rec := domain.ForwardingRecord{
			Name:              m.Name,
			DisplayName:       m.DisplayName,
			Guid:              guid,
			ForwardingAddress: m.ForwardingAddress,
			FirstSeen:         m.FirstSeen.UTC(),
			LastSeen:          m.LastSeen.UTC(),
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record %s: %w", m.Guid, err)
		}
		records = append(records, rec)
	}
	return domain.NewForwardingStore(records), nil
}

// Save 在单个事务内整体替换历史，收缩保护在事务内判定。
func (s *Store) Save(ctx context.Context, store *domain.ForwardingStore) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&forwardingRecordModel{}).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to count existing records: %w", err)
		}
		if int64(store.Len()) < existing {
			return fmt.Errorf("have %d records, got %d: %w", existing, store.Len(), storage.ErrStoreShrunk)
		}

		if err := tx.Where("1 = 1").Delete(&forwardingRecordModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear forwarding records: %w", err)
		}

		records := store.Records()
		if len(records) == 0 {
			return nil
		}
		models := make([]forwardingRecordModel, 0, len(records))
		for _, rec := range records {
			models = append(models, forwardingRecordModel{
				Guid:              rec.Guid.String(),
				Name:              rec.Name,
				DisplayName:       rec.DisplayName,
				ForwardingAddress: rec.ForwardingAddress,
				FirstSeen:         rec.FirstSeen.UTC(),
				LastSeen:          rec.LastSeen.UTC(),
			})
		}
		if err := tx.CreateInBatches(models, 500).Error; err != nil {
			return fmt.Errorf("failed to insert forwarding records: %w", err)
		}
		return nil
	})
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
