// Package database 网络与高价值代币注册表的持久化
// 数据库提供链合约地址和高价值代币，静态表作为后备
package database

import (
	"fmt"
	"strings"
	"time"

	"defi-aggregator/split-router/internal/networks"
	"defi-aggregator/split-router/internal/types"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NetworkRow 链配置表模型
type NetworkRow struct {
	ID                  uint   `gorm:"primaryKey"`
	ChainID             uint   `gorm:"column:chain_id;uniqueIndex"`
	Name                string `gorm:"column:name"`
	AggregatorAddress   string `gorm:"column:aggregator_address"`
	QueryAddress        string `gorm:"column:query_address"`
	WrappedTokenAddress string `gorm:"column:wrapped_token_address"`
	NativeTokenMarker   string `gorm:"column:native_token_marker"`
	IsActive            bool   `gorm:"column:is_active"` // 控制该链是否生效
}

func (NetworkRow) TableName() string { return "split_router_networks" }

// HighValueTokenRow 高价值代币表模型
type HighValueTokenRow struct {
	ID       uint   `gorm:"primaryKey"`
	ChainID  uint   `gorm:"column:chain_id;index"`
	Address  string `gorm:"column:address"`
	Symbol   string `gorm:"column:symbol"`
	IsActive bool   `gorm:"column:is_active"`
}

func (HighValueTokenRow) TableName() string { return "split_router_high_value_tokens" }

// RegistryStore 注册表存储
type RegistryStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// Open 按驱动打开数据库连接
func Open(cfg types.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层数据库实例失败: %w", err)
	}
	// 注册表只在启动阶段读取，少量连接即可
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}
	return db, nil
}

// NewRegistryStore 创建注册表存储
func NewRegistryStore(db *gorm.DB, logger *logrus.Logger) *RegistryStore {
	return &RegistryStore{db: db, logger: logger}
}

// Migrate 创建或更新表结构
func (s *RegistryStore) Migrate() error {
	if err := s.db.AutoMigrate(&NetworkRow{}, &HighValueTokenRow{}); err != nil {
		return fmt.Errorf("迁移注册表结构失败: %w", err)
	}
	return nil
}

// SaveNetwork 写入或更新一条链配置
func (s *RegistryStore) SaveNetwork(cfg types.NetworkConfig) error {
	row := NetworkRow{
		ChainID:             cfg.ChainID,
		Name:                cfg.Name,
		AggregatorAddress:   cfg.AggregatorAddress,
		QueryAddress:        cfg.QueryAddress,
		WrappedTokenAddress: cfg.WrappedTokenAddress,
		NativeTokenMarker:   cfg.NativeTokenMarkerAddress,
		IsActive:            true,
	}
	err := s.db.Where(NetworkRow{ChainID: cfg.ChainID}).
		Assign(row).
		FirstOrCreate(&NetworkRow{}).Error
	if err != nil {
		return fmt.Errorf("保存链配置失败 (chainId=%d): %w", cfg.ChainID, err)
	}
	return nil
}

// SaveHighValueToken 写入一条高价值代币记录
func (s *RegistryStore) SaveHighValueToken(chainID uint, address, symbol string) error {
	row := HighValueTokenRow{
		ChainID:  chainID,
		Address:  strings.ToLower(address),
		Symbol:   symbol,
		IsActive: true,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("保存高价值代币失败 (chainId=%d): %w", chainID, err)
	}
	return nil
}

// ActiveNetworks 查询启用的链配置
func (s *RegistryStore) ActiveNetworks() ([]types.NetworkConfig, error) {
	var rows []NetworkRow
	if err := s.db.Where("is_active = ?", true).Order("chain_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询链配置失败: %w", err)
	}

	configs := make([]types.NetworkConfig, 0, len(rows))
	for _, row := range rows {
		if row.ChainID == 0 {
			s.logger.Warnf("⚠️ 跳过无效链配置: ID=%d", row.ID)
			continue
		}
		configs = append(configs, types.NetworkConfig{
			ChainID:                  row.ChainID,
			Name:                     row.Name,
			AggregatorAddress:        row.AggregatorAddress,
			QueryAddress:             row.QueryAddress,
			WrappedTokenAddress:      row.WrappedTokenAddress,
			NativeTokenMarkerAddress: row.NativeTokenMarker,
		})
	}
	return configs, nil
}

// ActiveHighValueTokens 查询启用的高价值代币，按链分组
func (s *RegistryStore) ActiveHighValueTokens() (map[uint][]string, error) {
	var rows []HighValueTokenRow
	if err := s.db.Where("is_active = ?", true).Order("chain_id ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询高价值代币失败: %w", err)
	}

	tokens := make(map[uint][]string)
	for _, row := range rows {
		if !networks.IsValidAddress(row.Address) {
			s.logger.Warnf("⚠️ 跳过无效代币地址: chainId=%d, address=%s", row.ChainID, row.Address)
			continue
		}
		tokens[row.ChainID] = append(tokens[row.ChainID], row.Address)
	}
	return tokens, nil
}

// LoadInto 将数据库记录合并到内存表
// 数据库中的链配置覆盖同ID的静态配置，高价值代币在静态集合上追加
func (s *RegistryStore) LoadInto(table *networks.Table, registry *networks.HighValueRegistry) error {
	s.logger.Info("🔄 从数据库加载网络注册表...")

	configs, err := s.ActiveNetworks()
	if err != nil {
		return err
	}
	tokens, err := s.ActiveHighValueTokens()
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		table.Upsert(cfg)
	}
	count := 0
	for chainID, addresses := range tokens {
		registry.Register(chainID, addresses...)
		count += len(addresses)
	}

	s.logger.Infof("✅ 注册表加载完成: %d 条链配置, %d 个高价值代币", len(configs), count)
	return nil
}

// Close 关闭数据库连接
func (s *RegistryStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadRegistry 按配置从数据库加载注册表
// 任何失败都只记录警告，内存表保持静态配置
func LoadRegistry(cfg types.DatabaseConfig, table *networks.Table, registry *networks.HighValueRegistry, log *logrus.Logger) {
	if !cfg.Enabled {
		return
	}

	db, err := Open(cfg)
	if err != nil {
		log.Warnf("打开注册表数据库失败: %v，使用静态注册表", err)
		return
	}
	store := NewRegistryStore(db, log)
	defer store.Close()

	if err := store.Migrate(); err != nil {
		log.Warnf("%v，使用静态注册表", err)
		return
	}
	if err := store.LoadInto(table, registry); err != nil {
		log.Warnf("从数据库加载注册表失败: %v，使用静态注册表", err)
		return
	}
	log.Info("🎉 成功使用数据库注册表")
}
