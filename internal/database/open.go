package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🔌 连接配置
// =============================================================================

// Config 数据库连接配置
type Config struct {
	// postgres | mysql | sqlite
	Driver   string `yaml:"driver" json:"driver" env:"DRIVER"`
	Host     string `yaml:"host" json:"host" env:"HOST"`
	Port     int    `yaml:"port" json:"port" env:"PORT"`
	User     string `yaml:"user" json:"user" env:"USER"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	Name     string `yaml:"name" json:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`

	// 直接指定 DSN 时忽略上面的分项；sqlite 下为文件路径或 ":memory:"
	URL string `yaml:"url" json:"url" env:"URL"`

	Pool PoolConfig `yaml:"pool" json:"pool" env:"POOL"`
}

// DSN 生成驱动对应的连接串
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	switch strings.ToLower(c.Driver) {
	case "postgres":
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, sslMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case "sqlite":
		if c.Name == "" {
			return ":memory:"
		}
		return c.Name
	}
	return ""
}

// Dialector 返回驱动对应的 GORM 方言
func (c Config) Dialector() (gorm.Dialector, error) {
	switch strings.ToLower(c.Driver) {
	case "postgres":
		return postgres.Open(c.DSN()), nil
	case "mysql":
		return mysql.Open(c.DSN()), nil
	case "sqlite":
		return sqlite.Open(c.DSN()), nil
	case "":
		return nil, fmt.Errorf("database driver not configured")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", c.Driver)
	}
}

// Open 建立 GORM 连接，GORM 自身的日志静默，由调用方记录
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	logger.Info("database connected", zap.String("driver", cfg.Driver))
	return db, nil
}
