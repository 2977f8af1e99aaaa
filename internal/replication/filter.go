/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package replication

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"sync"
)

// Router maps source tables to their destination tables and applies the
// optional row filter of each mapping.
type Router struct {
	routes map[string]*route
}

type route struct {
	destination string
	filter      *rowFilter
}

func NewRouter(
	tables []config.TableMappingConfig,
) (*Router, error) {

	routes := make(map[string]*route, len(tables))
	for _, table := range tables {
		r := &route{
			destination: table.Destination,
		}
		if r.destination == "" {
			r.destination = table.Source
		}
		if table.Filter != "" {
			filter, err := newRowFilter(table.Filter)
			if err != nil {
				return nil, errors.Errorf("illegal filter for table %s: %s", table.Source, err)
			}
			r.filter = filter
		}
		routes[table.Source] = r
	}
	return &Router{
		routes: routes,
	}, nil
}

// Accepts returns true if the source table is mapped
func (r *Router) Accepts(
	sourceTable string,
) bool {

	_, ok := r.routes[sourceTable]
	return ok
}

// Destination returns the destination table of a mapped source table
func (r *Router) Destination(
	sourceTable string,
) (string, bool) {

	route, ok := r.routes[sourceTable]
	if !ok {
		return "", false
	}
	return route.destination, true
}

// Route returns the destination table of the event and whether the event
// passes the table's filter. DDL events are never filtered.
func (r *Router) Route(
	event changes.ChangeEvent,
) (string, bool, error) {

	route, ok := r.routes[event.SourceTable]
	if !ok {
		return "", false, nil
	}
	if event.IsDDL() || route.filter == nil {
		return route.destination, true, nil
	}
	accepted, err := route.filter.evaluate(event)
	if err != nil {
		return "", false, err
	}
	return route.destination, accepted, nil
}

type rowFilter struct {
	condition string
	prog      *vm.Program
	mutex     sync.Mutex
	vm        *vm.VM
}

func newRowFilter(
	condition string,
) (*rowFilter, error) {

	prog, err := expr.Compile(condition)
	if err != nil {
		return nil, err
	}
	return &rowFilter{
		condition: condition,
		prog:      prog,
		vm:        &vm.VM{},
	}, nil
}

func (f *rowFilter) evaluate(
	event changes.ChangeEvent,
) (bool, error) {

	env := map[string]any{
		"before": rowEnv(event.Before),
		"after":  rowEnv(event.After),
		"op":     string(event.Operation),
	}

	f.mutex.Lock()
	result, err := f.vm.Run(f.prog, env)
	f.mutex.Unlock()
	if err != nil {
		return false, faults.Decodef("failed to evaluate filter «%s»: %s", f.condition, err)
	}

	accepted, ok := result.(bool)
	if !ok {
		return false, faults.Decodef("result of filter «%s» isn't a boolean", f.condition)
	}
	return accepted, nil
}

// rowEnv never returns nil so that conditions can access the row of
// operations without that image.
func rowEnv(
	row changes.Row,
) map[string]any {

	if row == nil {
		return map[string]any{}
	}
	return row
}
