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
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

// Migration is an applied migration record.
type Migration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step executed inside the migration session's
// transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
}

// MigrationManager applies versioned migrations through the migration
// engine. Every version runs in its own sync session and is committed
// together with its tracking record.
type MigrationManager struct {
	dbc      *DatabaseContext
	registry *ModelRegistry
	items    []MigrationItem
	logger   Logger
}

// NewMigrationManager returns a manager whose first migration creates the
// tables of every model in registry.
func NewMigrationManager(dbc *DatabaseContext, registry *ModelRegistry) *MigrationManager {
	if registry == nil {
		registry = NewModelRegistry()
	}
	mm := &MigrationManager{
		dbc:      dbc,
		registry: registry,
		logger:   dbc.Logger(),
	}
	mm.items = []MigrationItem{{
		Version:     "001",
		Name:        "create_base_tables",
		Description: "Create base table structure",
		Up:          mm.createBaseTables,
	}}
	return mm
}

// Add registers further migrations. Versions sort lexically.
func (mm *MigrationManager) Add(items ...MigrationItem) {
	mm.items = append(mm.items, items...)
}

// RunMigrations creates the tracking table if needed and applies pending
// migrations in ascending version order.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		SilenceEcho(true)
		defer SilenceEcho(false)
	}

	if err := mm.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	items := make([]MigrationItem, len(mm.items))
	copy(items, mm.items)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Version < items[j].Version
	})

	for _, item := range items {
		if err := mm.runMigration(ctx, item); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", item.Version, err)
		}
	}
	mm.logger.Info("Database migrations completed!")
	return nil
}

func (mm *MigrationManager) createMigrationTable(ctx context.Context) error {
	return mm.dbc.WithSyncSession(ctx, func(ctx context.Context, sess Session) error {
		db, err := sess.IDB(ctx)
		if err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*Migration)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		return sess.Commit()
	})
}

func (mm *MigrationManager) runMigration(ctx context.Context, item MigrationItem) error {
	applied := false
	err := mm.dbc.WithSyncSession(ctx, func(ctx context.Context, sess Session) error {
		db, err := sess.IDB(ctx)
		if err != nil {
			return err
		}
		exists, err := db.NewSelect().
			Model((*Migration)(nil)).
			Where("version = ?", item.Version).
			Exists(ctx)
		if err != nil || exists {
			return err
		}

		if err := item.Up(ctx, db); err != nil {
			return err
		}
		record := &Migration{
			Version:     item.Version,
			Name:        item.Name,
			AppliedAt:   time.Now(),
			Description: item.Description,
		}
		if _, err := db.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}
		if err := sess.Commit(); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err == nil && applied {
		mm.logger.Info("Migration executed successfully", "version", item.Version, "name", item.Name)
	}
	return err
}

func (mm *MigrationManager) createBaseTables(ctx context.Context, db bun.IDB) error {
	for _, model := range mm.registry.Instances() {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		if err == nil {
			continue
		}
		if ok, kind := IsSqlError(err); ok && kind == ExistTableErr {
			mm.logger.Debug("Table already exists, skipping", "model", fmt.Sprintf("%T", model))
			continue
		}
		return fmt.Errorf("failed to create table %T: %w", model, err)
	}
	return nil
}

// AppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) AppliedMigrations(ctx context.Context) ([]Migration, error) {
	var migrations []Migration
	err := mm.dbc.WithSyncSession(ctx, func(ctx context.Context, sess Session) error {
		db, err := sess.IDB(ctx)
		if err != nil {
			return err
		}
		return db.NewSelect().Model(&migrations).Order("version ASC").Scan(ctx)
	})
	return migrations, err
}
