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

package tableschema

import (
	"github.com/samber/lo"
)

type Column struct {
	ID         int
	Name       string
	Type       LogicalType
	Nullable   bool
	PrimaryKey bool
	// Deprecated columns were dropped at the source. They stay part of
	// the schema and are written as null.
	Deprecated bool
	Doc        string
}

// Required columns are never null in written files. Source columns are
// nullable in the destination unless they are part of the key, deletes
// and unchanged values leave them empty.
func (c Column) Required() bool {
	if IsMetadataColumn(c.Name) {
		return !c.Nullable
	}
	return c.PrimaryKey
}

// TableSchema is one immutable version of a destination table schema.
// Evolving a schema always produces a new instance with SchemaID+1.
type TableSchema struct {
	SchemaID int
	Columns  []Column
}

func (s *TableSchema) Column(name string) (Column, bool) {
	return lo.Find(s.Columns, func(column Column) bool {
		return column.Name == name
	})
}

func (s *TableSchema) ActiveColumns() []Column {
	return lo.Filter(s.Columns, func(column Column, _ int) bool {
		return !column.Deprecated
	})
}

func (s *TableSchema) KeyColumns() []string {
	return lo.FilterMap(s.Columns, func(column Column, _ int) (string, bool) {
		return column.Name, column.PrimaryKey
	})
}

func (s *TableSchema) IdentifierFieldIDs() []int {
	return lo.FilterMap(s.Columns, func(column Column, _ int) (int, bool) {
		return column.ID, column.PrimaryKey
	})
}

func (s *TableSchema) NextColumnID() int {
	return lo.MaxBy(s.Columns, func(a, b Column) bool {
		return a.ID > b.ID
	}).ID + 1
}

// Clone returns a deep copy of the schema
func (s *TableSchema) Clone() *TableSchema {
	return &TableSchema{
		SchemaID: s.SchemaID,
		Columns:  append(make([]Column, 0, len(s.Columns)), s.Columns...),
	}
}

func (s *TableSchema) Equal(other *TableSchema) bool {
	if other == nil || s.SchemaID != other.SchemaID || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, column := range s.Columns {
		if column != other.Columns[i] {
			return false
		}
	}
	return true
}
