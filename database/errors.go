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
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// SQLError classifies driver errors. Session paths never translate errors;
// this is only consulted by tooling that must tolerate specific failures.
type SQLError int

const (
	UnknownErr SQLError = iota
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
)

var mysqlErrorNumbers = map[uint16]SQLError{
	1146: NoTableErr,
	1050: ExistTableErr,
	1062: DuplicateKeyErr,
	1048: NotNullViolationErr,
	1216: ForeignKeyViolationErr,
	1217: ForeignKeyViolationErr,
	1451: ForeignKeyViolationErr,
	1452: ForeignKeyViolationErr,
}

var postgresErrorCodes = map[pq.ErrorCode]SQLError{
	"42P01": NoTableErr,
	"42P07": ExistTableErr,
	"23505": DuplicateKeyErr,
	"23502": NotNullViolationErr,
	"23503": ForeignKeyViolationErr,
}

// sqlite and wrapped drivers only expose messages.
var messagePatterns = []struct {
	kind     SQLError
	contains []string
}{
	{NoTableErr, []string{"no such table"}},
	{ExistTableErr, []string{"table", "already exists"}},
	{DuplicateKeyErr, []string{"unique constraint failed"}},
	{NotNullViolationErr, []string{"not null constraint failed"}},
	{ForeignKeyViolationErr, []string{"foreign key constraint failed"}},
}

// IsSqlError reports whether err is a recognised SQL failure and its kind.
func IsSqlError(err error) (bool, SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if kind, ok := mysqlErrorNumbers[mysqlErr.Number]; ok {
			return true, kind
		}
		return true, UnknownErr
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind, ok := postgresErrorCodes[pqErr.Code]; ok {
			return true, kind
		}
		return true, UnknownErr
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if containsAll(msg, p.contains) {
			return true, p.kind
		}
	}
	return false, UnknownErr
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
