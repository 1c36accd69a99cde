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
	"errors"
	"fmt"
	"sync"
)

var (
	ErrAlreadyInitialized = errors.New("database context already initialized")
	ErrNotInitialized     = errors.New("database context not initialized")
	ErrSessionClosed      = errors.New("session is closed")
)

// SessionFunc is the caller's unit of work inside a scoped session.
type SessionFunc func(ctx context.Context, sess Session) error

type engineBuilder func(ctx context.Context, rawURL string, opts EngineOptions, logger Logger) (*Engine, error)

// DatabaseContext holds the application engine, the migration engine and
// their session factories for the lifetime of the process. Build one at
// startup, Initialize it, pass it to handlers and Close it on shutdown.
type DatabaseContext struct {
	settings  *Settings
	logger    Logger
	newEngine engineBuilder

	mu           sync.RWMutex
	engine       *Engine
	syncEngine   *Engine
	sessions     SessionFactory
	syncSessions SessionFactory
}

type Option func(*DatabaseContext)

func WithLogger(logger Logger) Option {
	return func(dc *DatabaseContext) {
		if logger != nil {
			dc.logger = logger
		}
	}
}

func NewDatabaseContext(settings *Settings, opts ...Option) *DatabaseContext {
	if settings == nil {
		settings = DefaultSettings()
	}
	dc := &DatabaseContext{
		settings:  settings,
		logger:    GetLogger(),
		newEngine: NewEngine,
	}
	for _, opt := range opts {
		opt(dc)
	}
	return dc
}

// Initialize builds both engines and their session factories. Pool options
// reach the application engine only when its URL supports pooling.
func (dc *DatabaseContext) Initialize(ctx context.Context) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.engine != nil {
		return ErrAlreadyInitialized
	}
	if err := dc.settings.Validate(); err != nil {
		return err
	}

	appURL := dc.settings.DatabaseURL
	engine, err := dc.newEngine(ctx, appURL, BuildEngineOptions(appURL, dc.settings), dc.logger)
	if err != nil {
		return fmt.Errorf("failed to create application engine: %w", err)
	}
	syncEngine, err := dc.newEngine(ctx, dc.settings.SyncURL(), BuildSyncEngineOptions(dc.settings), dc.logger)
	if err != nil {
		_ = engine.Close()
		return fmt.Errorf("failed to create migration engine: %w", err)
	}

	dc.engine, dc.syncEngine = engine, syncEngine
	if dc.sessions == nil {
		dc.sessions = NewSessionFactory(engine, dc.logger)
	}
	if dc.syncSessions == nil {
		dc.syncSessions = NewSessionFactory(syncEngine, dc.logger)
	}
	dc.logger.Info("Database context initialized")
	return nil
}

// Close tears down both engines. The context cannot be initialized again.
func (dc *DatabaseContext) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var errs []error
	if dc.engine != nil {
		errs = append(errs, dc.engine.Close())
	}
	if dc.syncEngine != nil {
		errs = append(errs, dc.syncEngine.Close())
	}
	dc.sessions, dc.syncSessions = nil, nil
	return errors.Join(errs...)
}

func (dc *DatabaseContext) Settings() *Settings { return dc.settings }

func (dc *DatabaseContext) Logger() Logger { return dc.logger }

// Engine returns the application engine, nil before Initialize.
func (dc *DatabaseContext) Engine() *Engine {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.engine
}

// SyncEngine returns the migration engine, nil before Initialize.
func (dc *DatabaseContext) SyncEngine() *Engine {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.syncEngine
}

// Engines returns the engines built so far, application first.
func (dc *DatabaseContext) Engines() []*Engine {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	var engines []*Engine
	if dc.engine != nil {
		engines = append(engines, dc.engine)
	}
	if dc.syncEngine != nil {
		engines = append(engines, dc.syncEngine)
	}
	return engines
}

func (dc *DatabaseContext) factory(migration bool) (SessionFactory, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	f := dc.sessions
	if migration {
		f = dc.syncSessions
	}
	if f == nil {
		return nil, ErrNotInitialized
	}
	return f, nil
}

// WithSession runs fn inside a fresh application session. Committing is
// up to fn. If fn fails or panics the session is rolled back once and the
// original failure is returned (or re-panicked) unchanged. The session is
// closed on every path.
func (dc *DatabaseContext) WithSession(ctx context.Context, fn SessionFunc) (err error) {
	f, err := dc.factory(false)
	if err != nil {
		return err
	}
	sess, err := f.NewSession(ctx)
	if err != nil {
		return err
	}

	failed := true
	defer func() {
		if failed {
			if rbErr := sess.Rollback(); rbErr != nil {
				dc.logger.Error("Failed to rollback session", "error", rbErr)
			}
		}
		dc.closeSession(sess, &err)
	}()

	if err := fn(ctx, sess); err != nil {
		return err
	}
	failed = false
	return nil
}

// WithSyncSession runs fn inside a fresh migration session. There is no
// rollback branch: the session is closed on every path and any failure
// from fn propagates unchanged.
func (dc *DatabaseContext) WithSyncSession(ctx context.Context, fn SessionFunc) (err error) {
	f, err := dc.factory(true)
	if err != nil {
		return err
	}
	sess, err := f.NewSession(ctx)
	if err != nil {
		return err
	}
	defer dc.closeSession(sess, &err)

	return fn(ctx, sess)
}

// closeSession reports a close failure only when nothing else failed first.
func (dc *DatabaseContext) closeSession(sess Session, err *error) {
	cerr := sess.Close()
	if cerr == nil {
		return
	}
	if *err == nil {
		*err = fmt.Errorf("failed to close session: %w", cerr)
		return
	}
	dc.logger.Error("Failed to close session", "error", cerr)
}
