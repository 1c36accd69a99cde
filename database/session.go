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
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Session is one unit of work over one checked-out connection. Statements
// run inside a transaction that is begun on first use and ended by Commit or
// Rollback. A Session must not be shared between goroutines.
type Session interface {
	// IDB returns the transaction of the current unit of work.
	IDB(ctx context.Context) (bun.IDB, error)
	Commit() error
	Rollback() error
	// Close discards uncommitted work and returns the connection to the pool.
	Close() error
	InTransaction() bool
}

// SessionFactory produces new sessions bound to one engine.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

type sessionFactory struct {
	engine         *Engine
	acquireTimeout time.Duration
	prePing        bool
	logger         Logger
}

// NewSessionFactory returns a factory for engine. When the engine is pooled,
// checkout waits at most Pool.Timeout and, with Pool.PrePing, verifies the
// connection before handing it out.
func NewSessionFactory(engine *Engine, logger Logger) SessionFactory {
	f := &sessionFactory{engine: engine, logger: logger}
	if pool := engine.Options().Pool; pool != nil {
		f.acquireTimeout = pool.Timeout
		f.prePing = pool.PrePing
	}
	return f
}

func (f *sessionFactory) NewSession(ctx context.Context) (Session, error) {
	conn, err := f.checkout(ctx)
	if err != nil {
		return nil, err
	}
	if f.prePing {
		if err := conn.PingContext(ctx); err != nil {
			if f.logger != nil {
				f.logger.Warn("Pooled connection failed pre-ping, replacing it", "engine", f.engine.Label(), "error", err)
			}
			_ = conn.Close()
			if conn, err = f.checkout(ctx); err != nil {
				return nil, err
			}
			if err := conn.PingContext(ctx); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("connection pre-ping failed: %w", err)
			}
		}
	}
	return &session{conn: conn}, nil
}

func (f *sessionFactory) checkout(ctx context.Context) (bun.Conn, error) {
	if f.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.acquireTimeout)
		defer cancel()
	}
	conn, err := f.engine.DB().Conn(ctx)
	if err != nil {
		return bun.Conn{}, fmt.Errorf("failed to check out connection from %s pool: %w", f.engine.Label(), err)
	}
	return conn, nil
}

type session struct {
	conn   bun.Conn
	tx     *bun.Tx
	closed bool
}

func (s *session) IDB(ctx context.Context) (bun.IDB, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		s.tx = &tx
	}
	return s.tx, nil
}

func (s *session) InTransaction() bool { return s.tx != nil }

func (s *session) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

func (s *session) Rollback() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	// a cancelled context already rolled the transaction back
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	rbErr := s.Rollback()
	s.closed = true
	closeErr := s.conn.Close()
	if errors.Is(closeErr, sql.ErrConnDone) {
		closeErr = nil
	}
	return errors.Join(rbErr, closeErr)
}
