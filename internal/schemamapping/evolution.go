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

package schemamapping

import (
	"fmt"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/tableschema"
)

// Evolution is a single schema change. The set of evolutions is closed,
// Validate and Apply are pure and never modify the given schema.
type Evolution interface {
	fmt.Stringer
	Validate(schema *tableschema.TableSchema) error
	Apply(schema *tableschema.TableSchema) *tableschema.TableSchema
	sealed()
}

// AddColumn adds a new nullable column
type AddColumn struct {
	Column tableschema.Column
}

func (a AddColumn) Validate(
	schema *tableschema.TableSchema,
) error {

	if existing, found := schema.Column(a.Column.Name); found {
		if existing.Deprecated {
			return faults.Schemaf(
				"column %s was dropped before and cannot be added again", a.Column.Name,
			)
		}
		return faults.Schemaf("column %s already exists", a.Column.Name)
	}
	if !a.Column.Nullable {
		return faults.Schemaf("added column %s must be nullable", a.Column.Name)
	}
	if a.Column.PrimaryKey {
		return faults.Schemaf("added column %s cannot be part of the primary key", a.Column.Name)
	}
	return nil
}

func (a AddColumn) Apply(
	schema *tableschema.TableSchema,
) *tableschema.TableSchema {

	evolved := schema.Clone()
	evolved.Columns = append(evolved.Columns, a.Column)
	return evolved
}

func (a AddColumn) String() string {
	return fmt.Sprintf("add column %s %s", a.Column.Name, a.Column.Type)
}

func (AddColumn) sealed() {}

// WidenType promotes the type of a column or makes a required column
// optional.
type WidenType struct {
	Name     string
	Type     tableschema.LogicalType
	Nullable bool
}

func (w WidenType) Validate(
	schema *tableschema.TableSchema,
) error {

	existing, found := schema.Column(w.Name)
	if !found || existing.Deprecated {
		return faults.Schemaf("column %s does not exist", w.Name)
	}
	if existing.Type != w.Type && !existing.Type.CanWidenTo(w.Type) {
		return faults.Schemaf(
			"column %s cannot change type from %s to %s", w.Name, existing.Type, w.Type,
		)
	}
	if existing.Nullable && !w.Nullable {
		return faults.Schemaf("column %s cannot become required", w.Name)
	}
	if existing.Type == w.Type && existing.Nullable == w.Nullable {
		return faults.Schemaf("column %s is unchanged", w.Name)
	}
	return nil
}

func (w WidenType) Apply(
	schema *tableschema.TableSchema,
) *tableschema.TableSchema {

	evolved := schema.Clone()
	for i, column := range evolved.Columns {
		if column.Name == w.Name {
			column.Type = w.Type
			column.Nullable = w.Nullable
			evolved.Columns[i] = column
		}
	}
	return evolved
}

func (w WidenType) String() string {
	return fmt.Sprintf("widen column %s to %s", w.Name, w.Type)
}

func (WidenType) sealed() {}

// DeprecateColumn marks a column dropped at the source. The column stays
// part of the schema so historical snapshots remain readable.
type DeprecateColumn struct {
	Name string
}

func (d DeprecateColumn) Validate(
	schema *tableschema.TableSchema,
) error {

	existing, found := schema.Column(d.Name)
	if !found {
		return faults.Schemaf("column %s does not exist", d.Name)
	}
	if existing.Deprecated {
		return faults.Schemaf("column %s is already deprecated", d.Name)
	}
	if existing.PrimaryKey {
		return faults.Schemaf("primary key column %s cannot be dropped", d.Name)
	}
	if tableschema.IsMetadataColumn(d.Name) {
		return faults.Schemaf("change metadata column %s cannot be dropped", d.Name)
	}
	return nil
}

func (d DeprecateColumn) Apply(
	schema *tableschema.TableSchema,
) *tableschema.TableSchema {

	evolved := schema.Clone()
	for i, column := range evolved.Columns {
		if column.Name == d.Name {
			column.Deprecated = true
			column.Nullable = true
			evolved.Columns[i] = column
		}
	}
	return evolved
}

func (d DeprecateColumn) String() string {
	return fmt.Sprintf("deprecate column %s", d.Name)
}

func (DeprecateColumn) sealed() {}
