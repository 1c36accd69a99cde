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
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/sessionctx/utils"
)

func TestDefaultLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	logger := NewDefaultLogger(l)
	logger.SetLevel(LogLevelWarn)
	logger.Info("hidden")
	logger.Warn("pool exhausted", "engine", "app", "waited", 3, "dangling")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "pool exhausted")
	assert.Contains(t, out, "engine=app")
	assert.Contains(t, out, "waited=3")
	assert.NotContains(t, out, "dangling")
}

func TestGetLoggerIsShared(t *testing.T) {
	assert.Same(t, GetLogger(), GetLogger())
	assert.Equal(t, "WARN", LogLevelWarn.String())
}

func TestWrappedLoggersDoNotReportCaller(t *testing.T) {
	l := logrus.New()
	l.SetReportCaller(true)
	NewDefaultLogger(l)
	assert.False(t, l.ReportCaller)

	def, ok := GetLogger().(*DefaultLogger)
	require.True(t, ok)
	assert.False(t, def.logger.ReportCaller)

	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.SetFormatter(&utils.TextLogFormatter{LoggerName: "DATABASE", NameWidth: 10})
	NewDefaultLogger(l).Info("Database context initialized")
	assert.NotContains(t, buf.String(), "logger.go:")
}
