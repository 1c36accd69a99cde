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
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// SQLiteBusyTimeout is how long a sqlite connection waits for a competing
// writer's lock before failing with SQLITE_BUSY.
const SQLiteBusyTimeout = 5000 // milliseconds

// ConnInfo is a database URL resolved into what database/sql and Bun need.
type ConnInfo struct {
	Type       string // postgres, mysql, sqlite
	DriverName string
	DSN        string
}

// Dialect returns a fresh Bun dialect for the connection type.
func (ci ConnInfo) Dialect() schema.Dialect {
	switch ci.Type {
	case TypeMySQL:
		return mysqldialect.New()
	case TypeSQLite:
		return sqlitedialect.New()
	default:
		return pgdialect.New()
	}
}

// SupportsPooling reports whether pool options can be applied to the store
// behind rawURL. Embedded sqlite files are the only stores that cannot. The
// match ignores case, like the scheme handling in ParseURL.
func SupportsPooling(rawURL string) bool {
	return !strings.Contains(strings.ToLower(rawURL), "sqlite")
}

// ParseURL resolves a database URL. SQLAlchemy style "dialect+driver://"
// schemes are accepted; the driver suffix is ignored.
func ParseURL(rawURL string) (ConnInfo, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == ":memory:" {
		return ConnInfo{Type: TypeSQLite, DriverName: sqliteshim.ShimName, DSN: sqliteDSN("")}, nil
	}
	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return ConnInfo{}, fmt.Errorf("invalid database url %q: missing scheme", redact(raw))
	}
	scheme := strings.ToLower(raw[:idx])
	if plus := strings.IndexByte(scheme, '+'); plus >= 0 {
		scheme = scheme[:plus]
	}
	rest := raw[idx+3:]

	switch scheme {
	case "postgres", "postgresql":
		dsn, err := postgresDSN(rest)
		if err != nil {
			return ConnInfo{}, err
		}
		return ConnInfo{Type: TypePostgres, DriverName: "postgres", DSN: dsn}, nil
	case "mysql", "mariadb":
		dsn, err := mysqlDSN(rest)
		if err != nil {
			return ConnInfo{}, err
		}
		return ConnInfo{Type: TypeMySQL, DriverName: "mysql", DSN: dsn}, nil
	case "sqlite", "sqlite3":
		return ConnInfo{Type: TypeSQLite, DriverName: sqliteshim.ShimName, DSN: sqliteDSN(rest)}, nil
	default:
		return ConnInfo{}, fmt.Errorf("unsupported database type: %s, supported types: %v",
			scheme, []string{TypePostgres, TypeMySQL, TypeSQLite})
	}
}

// sqliteDSN maps the part after "sqlite://": "/rel.db" is relative,
// "//abs.db" is absolute, "" or "/:memory:" is in-memory. A busy timeout is
// added unless the URL sets one.
func sqliteDSN(rest string) string {
	path := strings.TrimPrefix(rest, "/")
	query := ""
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path, query = path[:q], path[q+1:]
	}
	if path == "" || path == ":memory:" {
		path, query = "file::memory:", joinQuery("cache=shared", query)
	}
	if !strings.Contains(query, "busy_timeout") {
		query = joinQuery(query, sqliteBusyTimeoutParam())
	}
	return path + "?" + query
}

// sqliteBusyTimeoutParam spells the busy timeout for the driver sqliteshim
// picked at build time.
func sqliteBusyTimeoutParam() string {
	if sqliteshim.DriverName() == "sqlite3" { // mattn/go-sqlite3
		return fmt.Sprintf("_busy_timeout=%d", SQLiteBusyTimeout)
	}
	return fmt.Sprintf("_pragma=busy_timeout(%d)", SQLiteBusyTimeout)
}

func joinQuery(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "&" + b
	}
}

// postgresDSN keeps the URL as lib/pq reads it. lib/pq defaults to
// sslmode=require, so loopback hosts without an explicit sslmode get
// sslmode=disable; remote hosts keep the driver default.
func postgresDSN(rest string) (string, error) {
	dsn := "postgres://" + rest
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid postgres url: %w", err)
	}
	q := u.Query()
	if q.Get("sslmode") != "" || !isLoopbackHost(u.Hostname()) {
		return dsn, nil
	}
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isLoopbackHost(host string) bool {
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func mysqlDSN(rest string) (string, error) {
	u, err := url.Parse("mysql://" + rest)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" && u.Host != "" {
		cfg.Addr = u.Host + ":3306"
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.ParseTime = true
	for k, v := range u.Query() {
		if len(v) == 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[k] = v[0]
	}
	return cfg.FormatDSN(), nil
}

// redact hides credentials before a URL reaches logs or errors.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
