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

package repository

import (
	"context"

	"github.com/tomoncle/sessionctx/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// CrudRepository reads and writes entities of type T. Writes become visible
// to other sessions only after the owning session commits.
type CrudRepository[T any] interface {
	GetOne(ctx context.Context, id any) (*T, error)
	GetAll(ctx context.Context) ([]*T, error)
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)
	Exists(ctx context.Context, id any) (bool, error)

	Create(ctx context.Context, entity ...*T) error
	// Upsert inserts entity and overwrites fields on conflict with
	// duplicateKeys ("id" when empty). The conflict clause follows the
	// dialect: ON CONFLICT for postgres and sqlite, ON DUPLICATE KEY for mysql.
	Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, id any) error
}

// PageQueryRepository counts and reads one page in the same transaction.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// Repository is bound to one bun.IDB, normally the transaction of a
// database.Session, and must not outlive that session.
type Repository[T any] interface {
	CrudRepository[T]
	PageQueryRepository[T]

	// DB returns the handle the repository runs on.
	DB() bun.IDB
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}
