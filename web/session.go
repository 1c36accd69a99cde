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

// Package web injects scoped database sessions into echo handlers and
// serves engine health and pool metrics.
package web

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tomoncle/sessionctx/database"
)

const sessionKey = "db.session"

// SessionMiddleware gives every request its own application session. A
// handler error rolls the session back; the session is closed when the
// request ends either way. Handlers commit explicitly.
func SessionMiddleware(dbc *database.DatabaseContext) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			return dbc.WithSession(ctx, func(ctx context.Context, sess database.Session) error {
				c.Set(sessionKey, sess)
				defer c.Set(sessionKey, nil)
				return next(c)
			})
		}
	}
}

// SessionFrom returns the request's session, or nil outside SessionMiddleware.
func SessionFrom(c echo.Context) database.Session {
	sess, _ := c.Get(sessionKey).(database.Session)
	return sess
}

// HealthHandler reports the health of every engine; 503 if any is down.
func HealthHandler(dbc *database.DatabaseContext) echo.HandlerFunc {
	return func(c echo.Context) error {
		engines := dbc.Engines()
		if len(engines) == 0 {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": database.ErrNotInitialized.Error()})
		}
		code := http.StatusOK
		statuses := make([]*database.HealthStatus, 0, len(engines))
		for _, e := range engines {
			st := e.HealthCheck(c.Request().Context())
			if !st.Healthy {
				code = http.StatusServiceUnavailable
			}
			statuses = append(statuses, st)
		}
		return c.JSON(code, statuses)
	}
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Register mounts /healthz and /metrics. The pool collectors of dbc, which
// must be initialized, are registered on reg.
func Register(e *echo.Echo, dbc *database.DatabaseContext, reg *prometheus.Registry) error {
	if err := database.RegisterPoolCollectors(reg, dbc); err != nil {
		return err
	}
	e.GET("/healthz", HealthHandler(dbc))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return nil
}
