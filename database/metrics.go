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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PoolCollectors returns a database/sql stats collector for every engine of
// dbc. Series are labelled db_name with the engine label ("app", "sync").
func PoolCollectors(dbc *DatabaseContext) ([]prometheus.Collector, error) {
	engines := dbc.Engines()
	if len(engines) == 0 {
		return nil, ErrNotInitialized
	}
	cs := make([]prometheus.Collector, 0, len(engines))
	for _, e := range engines {
		if e.SQLDB() == nil {
			return nil, fmt.Errorf("engine %s is not connected", e.Label())
		}
		cs = append(cs, collectors.NewDBStatsCollector(e.SQLDB(), e.Label()))
	}
	return cs, nil
}

// RegisterPoolCollectors registers PoolCollectors(dbc) on reg. dbc must be
// initialized.
func RegisterPoolCollectors(reg prometheus.Registerer, dbc *DatabaseContext) error {
	cs, err := PoolCollectors(dbc)
	if err != nil {
		return err
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register pool collector: %w", err)
		}
	}
	return nil
}
