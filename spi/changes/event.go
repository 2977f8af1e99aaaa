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

package changes

import (
	"fmt"
	"github.com/samber/lo"
	"strings"
	"time"
)

type Operation string

const (
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
	DDL    Operation = "ddl"
)

// Row is a decoded tuple keyed by column name
type Row map[string]any

func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	clone := make(Row, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}

type RelationColumn struct {
	Name         string
	TypeOID      uint32
	TypeModifier int32
	PrimaryKey   bool
	Nullable     bool
}

// RelationDefinition is the column layout of a source table as announced
// by the source.
type RelationDefinition struct {
	RelationID      uint32
	Namespace       string
	Name            string
	ReplicaIdentity byte
	Columns         []RelationColumn
}

func (r *RelationDefinition) QualifiedName() string {
	return fmt.Sprintf("%s.%s", r.Namespace, r.Name)
}

func (r *RelationDefinition) KeyColumns() []string {
	return lo.FilterMap(r.Columns, func(column RelationColumn, _ int) (string, bool) {
		return column.Name, column.PrimaryKey
	})
}

// SameLayout returns true if both definitions describe the same
// columns in the same order.
func (r *RelationDefinition) SameLayout(other *RelationDefinition) bool {
	if other == nil || len(r.Columns) != len(other.Columns) {
		return false
	}
	for i, column := range r.Columns {
		if column != other.Columns[i] {
			return false
		}
	}
	return r.Namespace == other.Namespace && r.Name == other.Name
}

// ChangeEvent is a single decoded row change or schema change of a
// source table. Events are never mutated after being handed downstream.
type ChangeEvent struct {
	SourceTable   string
	Operation     Operation
	Before        Row
	After         Row
	Position      Position
	TransactionID uint32
	CommitTime    time.Time
	// KeyColumns are the replica identity columns of the relation, shared
	// between all events of the same relation layout.
	KeyColumns []string
	// Unchanged lists columns whose value was not sent by the source since
	// it did not change (TOASTed values).
	Unchanged []string
	// Relation is only set for DDL events.
	Relation *RelationDefinition
}

func (e ChangeEvent) IsDDL() bool {
	return e.Operation == DDL
}

func (e ChangeEvent) HasKey() bool {
	return len(e.KeyColumns) > 0
}

// Key renders the identity of the row the change applies to. Deletes are
// identified by their before image, everything else by the after image.
func (e ChangeEvent) Key() (string, bool) {
	if !e.HasKey() || e.IsDDL() {
		return "", false
	}
	row := e.After
	if e.Operation == Delete {
		row = e.Before
	}
	return renderKey(e.KeyColumns, row)
}

// PreviousKey renders the identity of the row before an update. It
// differs from Key only when an update changed the key columns.
func (e ChangeEvent) PreviousKey() (string, bool) {
	if e.Operation != Update || e.Before == nil {
		return e.Key()
	}
	return renderKey(e.KeyColumns, e.Before)
}

func (e ChangeEvent) IsUnchanged(column string) bool {
	return lo.Contains(e.Unchanged, column)
}

func renderKey(keyColumns []string, row Row) (string, bool) {
	if row == nil {
		return "", false
	}
	builder := strings.Builder{}
	for i, column := range keyColumns {
		value, present := row[column]
		if !present {
			return "", false
		}
		if i > 0 {
			builder.WriteByte(0)
		}
		builder.WriteString(fmt.Sprintf("%v", value))
	}
	return builder.String(), true
}

// EstimateSize approximates the memory held by an event. Used for the
// byte bounds of buffers and batches.
func EstimateSize(event ChangeEvent) uint64 {
	size := uint64(96 + len(event.SourceTable))
	size += rowSize(event.Before)
	size += rowSize(event.After)
	if event.Relation != nil {
		size += uint64(len(event.Relation.Columns) * 48)
	}
	return size
}

func rowSize(row Row) uint64 {
	size := uint64(0)
	for column, value := range row {
		size += uint64(len(column)) + 16
		switch v := value.(type) {
		case string:
			size += uint64(len(v))
		case []byte:
			size += uint64(len(v))
		case nil:
		default:
			size += 8
		}
	}
	return size
}
