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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tomoncle/sessionctx/utils"
	"gopkg.in/yaml.v3"
)

// PoolConfig holds the pooling parameters applied to engines whose backing
// store supports pooled connections.
type PoolConfig struct {
	Size        int           `json:"size" yaml:"size"`
	MaxOverflow int           `json:"max_overflow" yaml:"max_overflow"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	Recycle     time.Duration `json:"recycle" yaml:"recycle"`
	PrePing     bool          `json:"pre_ping" yaml:"pre_ping"`
}

// Settings is everything DatabaseContext needs to build its engines.
type Settings struct {
	DatabaseURL        string        `json:"database_url" yaml:"database_url"`
	DatabaseURLSync    string        `json:"database_url_sync" yaml:"database_url_sync"` // migrations; DatabaseURL when empty
	Debug              bool          `json:"debug" yaml:"debug"`
	Pool               PoolConfig    `json:"pool" yaml:"pool"`
	ConnectTimeout     time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold"`
}

// DefaultPoolConfig returns the pool parameters used when nothing is configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:        10,
		MaxOverflow: 20,
		Timeout:     30 * time.Second,
		Recycle:     time.Hour,
		PrePing:     true,
	}
}

// DefaultSettings returns settings with default pooling and no URLs.
func DefaultSettings() *Settings {
	return &Settings{
		Pool:           DefaultPoolConfig(),
		ConnectTimeout: 10 * time.Second,
	}
}

// LoadSettings reads a YAML settings file over the defaults and then applies
// environment overrides. An empty or missing path yields defaults plus
// environment.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		default:
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("failed to parse settings file: %w", err)
			}
		}
	}
	s.OverrideFromEnv()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OverrideFromEnv overrides configuration values from environment variables.
func (s *Settings) OverrideFromEnv() {
	s.DatabaseURL = utils.EnvDefaultString("DATABASE_URL", s.DatabaseURL)
	s.DatabaseURLSync = utils.EnvDefaultString("DATABASE_URL_SYNC", s.DatabaseURLSync)
	s.Debug = utils.EnvDefaultBool("DEBUG", s.Debug)

	// Connection pool config
	s.Pool.Size = utils.EnvDefaultInt("DB_POOL_SIZE", s.Pool.Size)
	s.Pool.MaxOverflow = utils.EnvDefaultInt("DB_MAX_OVERFLOW", s.Pool.MaxOverflow)
	s.Pool.Timeout = utils.EnvDefaultSeconds("DB_POOL_TIMEOUT", s.Pool.Timeout)
	s.Pool.Recycle = utils.EnvDefaultSeconds("DB_POOL_RECYCLE", s.Pool.Recycle)
	s.Pool.PrePing = utils.EnvDefaultBool("DB_POOL_PRE_PING", s.Pool.PrePing)

	if ms := utils.EnvDefaultInt("DB_SLOW_QUERY_MS", -1); ms >= 0 {
		s.SlowQueryThreshold = time.Duration(ms) * time.Millisecond
	}
}

// SyncURL returns the URL used by migration tooling.
func (s *Settings) SyncURL() string {
	if s.DatabaseURLSync != "" {
		return s.DatabaseURLSync
	}
	return s.DatabaseURL
}

func (s *Settings) Validate() error {
	if s.DatabaseURL == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	if s.Pool.Size < 0 || s.Pool.MaxOverflow < 0 {
		return fmt.Errorf("pool size and overflow must not be negative: size=%d overflow=%d", s.Pool.Size, s.Pool.MaxOverflow)
	}
	if s.Pool.Timeout < 0 || s.Pool.Recycle < 0 {
		return fmt.Errorf("pool timeout and recycle must not be negative")
	}
	return nil
}
