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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearDatabaseEnv blanks the variables OverrideFromEnv reads.
func clearDatabaseEnv(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "DATABASE_URL_SYNC", "DEBUG",
		"DB_POOL_SIZE", "DB_MAX_OVERFLOW", "DB_POOL_TIMEOUT",
		"DB_POOL_RECYCLE", "DB_POOL_PRE_PING", "DB_SLOW_QUERY_MS",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Empty(t, s.DatabaseURL)
	assert.Equal(t, 10, s.Pool.Size)
	assert.Equal(t, 20, s.Pool.MaxOverflow)
	assert.Equal(t, 30*time.Second, s.Pool.Timeout)
	assert.Equal(t, time.Hour, s.Pool.Recycle)
	assert.True(t, s.Pool.PrePing)
	assert.False(t, s.Debug)
}

func TestLoadSettingsFromYAML(t *testing.T) {
	clearDatabaseEnv(t)
	path := writeSettingsFile(t, `
database_url: postgresql+asyncpg://app:secret@db:5432/app
database_url_sync: postgresql+psycopg2://app:secret@db:5432/app
debug: true
pool:
  size: 5
  max_overflow: 2
  timeout: 15s
  recycle: 30m
  pre_ping: false
slow_query_threshold: 250ms
`)

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "postgresql+asyncpg://app:secret@db:5432/app", s.DatabaseURL)
	assert.Equal(t, "postgresql+psycopg2://app:secret@db:5432/app", s.SyncURL())
	assert.True(t, s.Debug)
	assert.Equal(t, PoolConfig{Size: 5, MaxOverflow: 2, Timeout: 15 * time.Second, Recycle: 30 * time.Minute}, s.Pool)
	assert.Equal(t, 250*time.Millisecond, s.SlowQueryThreshold)
	assert.Equal(t, 10*time.Second, s.ConnectTimeout)
}

func TestLoadSettingsEnvironmentOverridesFile(t *testing.T) {
	clearDatabaseEnv(t)
	path := writeSettingsFile(t, "database_url: postgres://file/app\n")
	t.Setenv("DATABASE_URL", "mysql://env/app")
	t.Setenv("DEBUG", "true")
	t.Setenv("DB_POOL_SIZE", "3")
	t.Setenv("DB_MAX_OVERFLOW", "1")
	t.Setenv("DB_POOL_TIMEOUT", "5")
	t.Setenv("DB_POOL_RECYCLE", "600")
	t.Setenv("DB_POOL_PRE_PING", "false")
	t.Setenv("DB_SLOW_QUERY_MS", "100")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql://env/app", s.DatabaseURL)
	assert.Equal(t, "mysql://env/app", s.SyncURL())
	assert.True(t, s.Debug)
	assert.Equal(t, PoolConfig{Size: 3, MaxOverflow: 1, Timeout: 5 * time.Second, Recycle: 10 * time.Minute}, s.Pool)
	assert.Equal(t, 100*time.Millisecond, s.SlowQueryThreshold)
}

func TestLoadSettingsMissingFileUsesEnvironment(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("DATABASE_URL", "sqlite:///./app.db")

	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///./app.db", s.DatabaseURL)
	assert.Equal(t, DefaultPoolConfig(), s.Pool)
}

func TestLoadSettingsRejectsMalformedYAML(t *testing.T) {
	path := writeSettingsFile(t, "pool: [1, 2\n")
	_, err := LoadSettings(path)
	assert.ErrorContains(t, err, "failed to parse settings file")
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	assert.Error(t, s.Validate())

	s.DatabaseURL = "postgres://db/app"
	assert.NoError(t, s.Validate())

	s.Pool.MaxOverflow = -1
	assert.Error(t, s.Validate())

	s.Pool.MaxOverflow = 0
	s.Pool.Recycle = -time.Second
	assert.Error(t, s.Validate())
}
