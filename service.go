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

// Package sessionctx wires engines, scoped sessions and generic
// repositories into a per-entity Service.
package sessionctx

import (
	"context"

	"github.com/tomoncle/sessionctx/database"
	"github.com/tomoncle/sessionctx/repository"
	"github.com/tomoncle/sessionctx/types"
)

// Service exposes entity operations. Each call runs in its own application
// session; writes are committed when the call succeeds and rolled back when
// it fails.
type Service[T any] interface {
	// Get returns a single entity by its identifier.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Count returns the number of entities matching filter, all when nil.
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Save inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities based on fields and duplicate keys.
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error

	// Update modifies an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id any) error

	// InSession runs fn with a repository bound to a single session so that
	// several operations commit or roll back together.
	InSession(ctx context.Context, fn func(ctx context.Context, repo repository.Repository[T]) error) error
}

type baseServiceImpl[T any] struct {
	dbc *database.DatabaseContext
}

// NewService returns a Service backed by dbc's application engine.
func NewService[T any](dbc *database.DatabaseContext) Service[T] {
	return &baseServiceImpl[T]{dbc: dbc}
}

// read runs fn in a session that is closed without committing.
func (s *baseServiceImpl[T]) read(ctx context.Context, fn func(context.Context, repository.Repository[T]) error) error {
	return s.dbc.WithSession(ctx, func(ctx context.Context, sess database.Session) error {
		db, err := sess.IDB(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, repository.NewRepository[T](db))
	})
}

func (s *baseServiceImpl[T]) InSession(ctx context.Context, fn func(ctx context.Context, repo repository.Repository[T]) error) error {
	return s.dbc.WithSession(ctx, func(ctx context.Context, sess database.Session) error {
		db, err := sess.IDB(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, repository.NewRepository[T](db)); err != nil {
			return err
		}
		return sess.Commit()
	})
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (entity *T, err error) {
	err = s.read(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entity, err = repo.GetOne(ctx, id)
		return err
	})
	return entity, err
}

func (s *baseServiceImpl[T]) All(ctx context.Context) (entities []*T, err error) {
	err = s.read(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.GetAll(ctx)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) (entities []*T, err error) {
	err = s.read(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.List(ctx, filter)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (n int, err error) {
	err = s.read(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		n, err = repo.Count(ctx, filter)
		return err
	})
	return n, err
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (result *types.Pagination[T], err error) {
	err = s.read(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		result, err = repo.Page(ctx, page)
		return err
	})
	return result, err
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	return s.InSession(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Create(ctx, model...)
	})
}

func (s *baseServiceImpl[T]) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error {
	return s.InSession(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Upsert(ctx, fields, duplicateKeys, model...)
	})
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) error {
	return s.InSession(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Update(ctx, model)
	})
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any) error {
	return s.InSession(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Delete(ctx, id)
	})
}
