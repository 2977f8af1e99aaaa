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

// Package schemamapping reconciles source table definitions announced by
// the change stream with the published destination schema.
package schemamapping

import (
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/samber/lo"
	"slices"
)

// CreateSchema derives the first schema version of a destination table
// from the source relation. Change metadata columns follow the source
// columns.
func CreateSchema(
	relation *changes.RelationDefinition,
) (*tableschema.TableSchema, error) {

	columns := make([]tableschema.Column, 0, len(relation.Columns))
	for i, column := range relation.Columns {
		if tableschema.IsMetadataColumn(column.Name) {
			return nil, faults.Schemaf(
				"source column %s of %s uses the reserved prefix %s",
				column.Name, relation.QualifiedName(), tableschema.MetadataPrefix,
			)
		}
		columns = append(columns, newColumn(i+1, column))
	}
	columns = append(columns, tableschema.MetadataColumns(len(columns)+1)...)

	return &tableschema.TableSchema{
		SchemaID: 1,
		Columns:  columns,
	}, nil
}

// Reconcile computes the evolutions required to make the destination
// schema match the relation carried by the ddl event. It returns the
// next schema version, or nil if the schema is already up to date.
// Incompatible changes yield a SchemaError and no new version.
func Reconcile(
	ddl changes.ChangeEvent, current *tableschema.TableSchema,
) (*tableschema.TableSchema, []Evolution, error) {

	relation := ddl.Relation
	if !ddl.IsDDL() || relation == nil {
		return nil, nil, faults.Schemaf("event at %s carries no table definition", ddl.Position)
	}

	if current == nil {
		schema, err := CreateSchema(relation)
		return schema, nil, err
	}

	if err := checkKeyColumns(relation, current); err != nil {
		return nil, nil, err
	}

	evolutions, err := Diff(relation, current)
	if err != nil {
		return nil, nil, err
	}
	if len(evolutions) == 0 {
		return nil, nil, nil
	}

	evolved := current
	for _, evolution := range evolutions {
		if err := evolution.Validate(evolved); err != nil {
			return nil, nil, err
		}
		evolved = evolution.Apply(evolved)
	}
	evolved.SchemaID = current.SchemaID + 1
	return evolved, evolutions, nil
}

// Diff lists the evolutions between the current schema and the relation
// without validating them.
func Diff(
	relation *changes.RelationDefinition, current *tableschema.TableSchema,
) ([]Evolution, error) {

	evolutions := make([]Evolution, 0)
	nextID := current.NextColumnID()

	for _, sourceColumn := range relation.Columns {
		if tableschema.IsMetadataColumn(sourceColumn.Name) {
			return nil, faults.Schemaf(
				"source column %s uses the reserved prefix %s", sourceColumn.Name, tableschema.MetadataPrefix,
			)
		}

		existing, found := current.Column(sourceColumn.Name)
		if !found || existing.Deprecated {
			evolutions = append(evolutions, AddColumn{Column: newColumn(nextID, sourceColumn)})
			nextID++
			continue
		}

		candidate := newColumn(existing.ID, sourceColumn)
		if candidate.Type != existing.Type || candidate.Nullable != existing.Nullable {
			evolutions = append(evolutions, WidenType{
				Name:     existing.Name,
				Type:     candidate.Type,
				Nullable: candidate.Nullable,
			})
		}
	}

	for _, column := range current.ActiveColumns() {
		if tableschema.IsMetadataColumn(column.Name) {
			continue
		}
		_, found := lo.Find(relation.Columns, func(item changes.RelationColumn) bool {
			return item.Name == column.Name
		})
		if !found {
			evolutions = append(evolutions, DeprecateColumn{Name: column.Name})
		}
	}
	return evolutions, nil
}

func checkKeyColumns(
	relation *changes.RelationDefinition, current *tableschema.TableSchema,
) error {

	sourceKey := relation.KeyColumns()
	destinationKey := current.KeyColumns()
	slices.Sort(sourceKey)
	slices.Sort(destinationKey)
	if !slices.Equal(sourceKey, destinationKey) {
		return faults.Schemaf(
			"primary key of %s changed from %v to %v", relation.QualifiedName(), destinationKey, sourceKey,
		)
	}
	return nil
}

func newColumn(
	id int, column changes.RelationColumn,
) tableschema.Column {

	return tableschema.Column{
		ID:         id,
		Name:       column.Name,
		Type:       LogicalTypeOf(column.TypeOID, column.TypeModifier),
		Nullable:   column.Nullable,
		PrimaryKey: column.PrimaryKey,
	}
}
