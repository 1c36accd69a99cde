/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	EngineApp  = "app"
	EngineSync = "sync"
)

// EngineOptions are the construction arguments of one engine. Pool is nil
// when the backing store does not support pooled connections.
type EngineOptions struct {
	Label              string
	Echo               bool
	EchoWriter         io.Writer
	Pool               *PoolConfig
	ConnectTimeout     time.Duration
	SlowQueryThreshold time.Duration
}

// BuildEngineOptions derives the application engine arguments for rawURL.
// Pool options are all present for pooling-capable stores and absent
// otherwise.
func BuildEngineOptions(rawURL string, s *Settings) EngineOptions {
	opts := EngineOptions{
		Label:              EngineApp,
		Echo:               s.Debug,
		ConnectTimeout:     s.ConnectTimeout,
		SlowQueryThreshold: s.SlowQueryThreshold,
	}
	if SupportsPooling(rawURL) {
		pool := s.Pool
		opts.Pool = &pool
	}
	return opts
}

// BuildSyncEngineOptions derives the migration engine arguments. Migration
// tooling runs one session at a time, so only echo is carried over.
func BuildSyncEngineOptions(s *Settings) EngineOptions {
	return EngineOptions{
		Label:          EngineSync,
		Echo:           s.Debug,
		ConnectTimeout: s.ConnectTimeout,
	}
}

// HealthStatus holds the result of a health check against an engine.
type HealthStatus struct {
	Engine        string        `json:"engine"`
	Healthy       bool          `json:"healthy"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql pool stats.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// Engine owns the connection pool for one database URL.
type Engine struct {
	info   ConnInfo
	opts   EngineOptions
	db     *bun.DB
	sqlDB  *sql.DB
	logger Logger

	mu     sync.Mutex
	closed bool
}

// NewEngine opens the pool for rawURL, applies opts and verifies the
// connection with a ping bounded by opts.ConnectTimeout.
func NewEngine(ctx context.Context, rawURL string, opts EngineOptions, logger Logger) (*Engine, error) {
	info, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(info.DriverName, info.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", info.Type, err)
	}

	e := &Engine{
		info:   info,
		opts:   opts,
		sqlDB:  sqlDB,
		db:     bun.NewDB(sqlDB, info.Dialect()),
		logger: logger,
	}
	e.configureConnectionPool()
	e.installHooks()

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	if err := e.db.PingContext(ctx); err != nil {
		_ = e.db.Close()
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}

	if logger != nil {
		logger.Info("Database engine created",
			"engine", opts.Label,
			"type", info.Type,
			"url", redact(rawURL),
			"pooled", opts.Pool != nil,
		)
	}
	return e, nil
}

func (e *Engine) configureConnectionPool() {
	pool := e.opts.Pool
	if pool == nil {
		return
	}
	e.sqlDB.SetMaxIdleConns(pool.Size)
	if maxOpen := pool.Size + pool.MaxOverflow; maxOpen > 0 {
		e.sqlDB.SetMaxOpenConns(maxOpen)
	}
	e.sqlDB.SetConnMaxLifetime(pool.Recycle)
}

func (e *Engine) installHooks() {
	if e.opts.Echo {
		e.db.AddQueryHook(NewEchoQueryHook(e.opts.Label, e.opts.EchoWriter))
	}
	// BUNDEBUG=1|2 turns on bun's own logging without touching settings.
	e.db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("BUNDEBUG"),
	))
	if e.opts.SlowQueryThreshold > 0 {
		e.db.AddQueryHook(&slowQueryHook{slowTime: e.opts.SlowQueryThreshold, logger: e.logger})
	}
}

func (e *Engine) Label() string { return e.opts.Label }

// Options returns the arguments the engine was built with.
func (e *Engine) Options() EngineOptions { return e.opts }

func (e *Engine) Info() ConnInfo { return e.info }

func (e *Engine) DB() *bun.DB { return e.db }

func (e *Engine) SQLDB() *sql.DB { return e.sqlDB }

func (e *Engine) Ping(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("database not connected")
	}
	return e.db.PingContext(ctx)
}

func (e *Engine) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{Engine: e.opts.Label, LastCheckTime: start}
	if e.db == nil {
		status.LastError = "database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := e.db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
	}

	stats := e.sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

func (e *Engine) Stats() *DBStats {
	if e.sqlDB == nil {
		return &DBStats{}
	}
	stats := e.sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// Close releases the pool. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.db == nil {
		e.closed = true
		return nil
	}
	e.closed = true
	err := e.db.Close()
	if e.logger != nil {
		if err != nil {
			e.logger.Error("Failed to close database engine", "engine", e.opts.Label, "error", err)
		} else {
			e.logger.Info("Database engine closed", "engine", e.opts.Label)
		}
	}
	return err
}
