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

// Command migrate applies pending migrations through the migration engine
// and prints the applied versions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tomoncle/sessionctx/database"
	"github.com/tomoncle/sessionctx/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", utils.EnvDefaultString("DB_CONFIG", "configs/database.yaml"), "YAML settings file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	statusOnly := flag.Bool("status", false, "only list applied migrations")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}

	settings, err := database.LoadSettings(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbc := database.NewDatabaseContext(settings)
	if err := dbc.Initialize(ctx); err != nil {
		return err
	}
	defer func() { _ = dbc.Close() }()

	mm := database.NewMigrationManager(dbc, database.NewModelRegistry())
	if !*statusOnly {
		if err := mm.RunMigrations(ctx); err != nil {
			return err
		}
	}

	applied, err := mm.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	for _, m := range applied {
		fmt.Printf("%s\t%s\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"), m.Name)
	}
	return nil
}
