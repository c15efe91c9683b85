package persistence

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/internal/database"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// StoreConfig is the configuration for transcript stores
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type" env:"TYPE"`

	// Mirror lists additional backends that receive every write
	Mirror []StoreType `json:"mirror,omitempty" yaml:"mirror" env:"MIRROR"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir" env:"BASE_DIR"`

	Redis RedisStoreConfig `json:"redis" yaml:"redis" env:"REDIS"`
	SQL   SQLStoreConfig   `json:"sql" yaml:"sql" env:"SQL"`
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo" env:"MONGO"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr" env:"ADDR"`
	Password  string `json:"password" yaml:"password" env:"PASSWORD"`
	DB        int    `json:"db" yaml:"db" env:"DB"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SQLStoreConfig contains relational database configuration
type SQLStoreConfig struct {
	Database database.Config `json:"database" yaml:"database" env:"DATABASE"`

	// SkipMigrate disables AutoMigrate on open
	SkipMigrate bool `json:"skip_migrate" yaml:"skip_migrate" env:"SKIP_MIGRATE"`
}

// MongoStoreConfig contains MongoDB configuration
type MongoStoreConfig struct {
	URI        string        `json:"uri" yaml:"uri" env:"URI"`
	Database   string        `json:"database" yaml:"database" env:"DATABASE"`
	Collection string        `json:"collection" yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/persistence",
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "chatflow:",
		},
		SQL: SQLStoreConfig{
			Database: database.Config{Driver: "sqlite", Name: "./data/chatflow.db", Pool: database.DefaultPoolConfig()},
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "chatflow",
			Collection: "turns",
			Timeout:    10 * time.Second,
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// TranscriptStore persists conversation transcripts turn by turn.
type TranscriptStore interface {
	Store

	// Append adds turns at the end of the conversation's transcript
	Append(ctx context.Context, conversationID string, turns ...transcript.Turn) error

	// Load returns all turns in order, or ErrNotFound if none were stored
	Load(ctx context.Context, conversationID string) ([]transcript.Turn, error)

	// Delete removes the whole transcript
	Delete(ctx context.Context, conversationID string) error

	// List returns stored conversation IDs in sorted order
	List(ctx context.Context) ([]string, error)
}

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateConversationID rejects IDs unsafe for keys and file names.
func ValidateConversationID(id string) error {
	if !conversationIDPattern.MatchString(id) {
		return ErrInvalidInput
	}
	return nil
}
