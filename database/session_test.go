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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

func createWidgets(t *testing.T, dc *DatabaseContext) {
	t.Helper()
	err := dc.WithSyncSession(context.Background(), func(ctx context.Context, sess Session) error {
		db, err := sess.IDB(ctx)
		if err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*widget)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		return sess.Commit()
	})
	require.NoError(t, err)
}

func insertWidget(ctx context.Context, sess Session, name string) error {
	db, err := sess.IDB(ctx)
	if err != nil {
		return err
	}
	_, err = db.NewInsert().Model(&widget{Name: name}).Exec(ctx)
	return err
}

func countWidgets(t *testing.T, dc *DatabaseContext) int {
	t.Helper()
	var n int
	err := dc.WithSession(context.Background(), func(ctx context.Context, sess Session) error {
		db, err := sess.IDB(ctx)
		if err != nil {
			return err
		}
		n, err = db.NewSelect().Model((*widget)(nil)).Count(ctx)
		return err
	})
	require.NoError(t, err)
	return n
}

func TestSessionCommitPersists(t *testing.T) {
	dc := newSQLiteContext(t)
	createWidgets(t, dc)

	err := dc.WithSession(context.Background(), func(ctx context.Context, sess Session) error {
		if err := insertWidget(ctx, sess, "gear"); err != nil {
			return err
		}
		return sess.Commit()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countWidgets(t, dc))
}

func TestSessionFailureDiscardsWrites(t *testing.T) {
	dc := newSQLiteContext(t)
	createWidgets(t, dc)
	boom := errors.New("handler failed")

	err := dc.WithSession(context.Background(), func(ctx context.Context, sess Session) error {
		if err := insertWidget(ctx, sess, "gear"); err != nil {
			return err
		}
		assert.True(t, sess.InTransaction())
		return boom
	})
	assert.Same(t, boom, err)
	assert.Zero(t, countWidgets(t, dc))
}

func TestSessionDriverErrorPropagatesUntranslated(t *testing.T) {
	dc := newSQLiteContext(t)
	createWidgets(t, dc)

	require.NoError(t, dc.WithSession(context.Background(), func(ctx context.Context, sess Session) error {
		if err := insertWidget(ctx, sess, "gear"); err != nil {
			return err
		}
		return sess.Commit()
	}))

	err := dc.WithSession(context.Background(), func(ctx context.Context, sess Session) error {
		return insertWidget(ctx, sess, "gear")
	})
	require.Error(t, err)
	ok, kind := IsSqlError(err)
	assert.True(t, ok)
	assert.Equal(t, DuplicateKeyErr, kind)
	assert.Equal(t, 1, countWidgets(t, dc))
}

func TestSyncSessionCloseDiscardsUncommittedWork(t *testing.T) {
	dc := newSQLiteContext(t)
	createWidgets(t, dc)

	err := dc.WithSyncSession(context.Background(), func(ctx context.Context, sess Session) error {
		return insertWidget(ctx, sess, "gear")
	})
	require.NoError(t, err)
	assert.Zero(t, countWidgets(t, dc))
}

func TestSessionLifecycle(t *testing.T) {
	dc := newSQLiteContext(t)
	createWidgets(t, dc)
	ctx := context.Background()

	f := NewSessionFactory(dc.Engine(), nil)
	sess, err := f.NewSession(ctx)
	require.NoError(t, err)

	assert.False(t, sess.InTransaction())
	assert.NoError(t, sess.Commit())
	assert.NoError(t, sess.Rollback())

	require.NoError(t, insertWidget(ctx, sess, "gear"))
	assert.True(t, sess.InTransaction())
	require.NoError(t, sess.Rollback())
	assert.False(t, sess.InTransaction())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	_, err = sess.IDB(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, sess.Commit(), ErrSessionClosed)
	assert.Zero(t, countWidgets(t, dc))
}

func TestSessionCheckoutHonoursPoolTimeout(t *testing.T) {
	pool := &PoolConfig{Size: 1, Timeout: 50 * time.Millisecond, PrePing: true}
	e, err := NewEngine(context.Background(), sqliteURL(t), EngineOptions{Label: EngineApp, Pool: pool}, nil)
	require.NoError(t, err)
	defer e.Close()
	f := NewSessionFactory(e, nil)
	ctx := context.Background()

	held, err := f.NewSession(ctx)
	require.NoError(t, err)

	_, err = f.NewSession(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, held.Close())
	next, err := f.NewSession(ctx)
	require.NoError(t, err)
	assert.NoError(t, next.Close())
}

func TestConcurrentWritersWaitForTheLock(t *testing.T) {
	dc := newSQLiteContext(t)
	createWidgets(t, dc)

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = dc.WithSession(context.Background(), func(ctx context.Context, sess Session) error {
				if err := insertWidget(ctx, sess, fmt.Sprintf("gear-%d", i)); err != nil {
					return err
				}
				time.Sleep(20 * time.Millisecond)
				return sess.Commit()
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "writer %d", i)
	}
	assert.Equal(t, writers, countWidgets(t, dc))
}
