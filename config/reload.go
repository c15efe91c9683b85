package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🔄 配置热重载
// =============================================================================

// ReloadFunc 在新配置通过校验后调用；返回错误时新配置被丢弃
type ReloadFunc func(old, updated *Config) error

// Reloader 轮询配置文件内容，变化时重新加载并通知订阅者
type Reloader struct {
	loader   *Loader
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	current   *Config
	digest    [sha256.Size]byte
	callbacks []ReloadFunc

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewReloader 创建重载器；initial 为已加载的当前配置
func NewReloader(loader *Loader, initial *Config, interval time.Duration, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	r := &Reloader{
		loader:   loader,
		path:     loader.configPath,
		interval: interval,
		logger:   logger.With(zap.String("component", "config_reloader")),
		current:  initial,
	}
	if data, err := os.ReadFile(r.path); err == nil {
		r.digest = sha256.Sum256(data)
	}
	return r
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(fn ReloadFunc) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start 启动后台轮询（非阻塞）
func (r *Reloader) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return fmt.Errorf("reloader already running")
	}
	if r.path == "" {
		return fmt.Errorf("reloader needs a config path")
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(ctx, r.stop, r.done)
	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))
	return nil
}

// Stop 停止轮询并等待后台协程退出
func (r *Reloader) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return
	}
	close(r.stop)
	<-r.done
	r.running = false
}

func (r *Reloader) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.Check(); err != nil {
				r.logger.Warn("config reload rejected", zap.Error(err))
			}
		}
	}
}

// Check 读取配置文件，内容变化时重新加载。返回是否应用了新配置。
// 读取失败、校验失败或回调拒绝时保留旧配置。
func (r *Reloader) Check() (bool, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("read config: %w", err)
	}
	digest := sha256.Sum256(data)

	r.mu.RLock()
	unchanged := bytes.Equal(digest[:], r.digest[:])
	r.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	updated, err := r.loader.Load()
	if err != nil {
		r.remember(digest)
		return false, err
	}
	if err := updated.Validate(); err != nil {
		r.remember(digest)
		return false, err
	}

	r.mu.RLock()
	old := r.current
	callbacks := append([]ReloadFunc(nil), r.callbacks...)
	r.mu.RUnlock()

	for _, fn := range callbacks {
		if err := fn(old, updated); err != nil {
			r.remember(digest)
			return false, fmt.Errorf("reload callback: %w", err)
		}
	}

	r.mu.Lock()
	r.current = updated
	r.digest = digest
	r.mu.Unlock()
	r.logger.Info("config reloaded", zap.String("path", r.path))
	return true, nil
}

// remember 记录被拒绝内容的摘要，避免每次轮询重复报错
func (r *Reloader) remember(digest [sha256.Size]byte) {
	r.mu.Lock()
	r.digest = digest
	r.mu.Unlock()
}
