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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func Test_Widening_Lattice(t *testing.T) {
	assert.True(t, Primitive(Int).CanWidenTo(Primitive(Long)))
	assert.True(t, Primitive(Float).CanWidenTo(Primitive(Double)))
	assert.True(t, DecimalOf(10, 2).CanWidenTo(DecimalOf(12, 2)))

	assert.False(t, Primitive(Long).CanWidenTo(Primitive(Int)))
	assert.False(t, Primitive(Int).CanWidenTo(Primitive(Int)))
	assert.False(t, DecimalOf(10, 2).CanWidenTo(DecimalOf(12, 3)))
	assert.False(t, DecimalOf(12, 2).CanWidenTo(DecimalOf(10, 2)))
	assert.False(t, Primitive(String).CanWidenTo(Primitive(Binary)))
}

func Test_Type_Notation(t *testing.T) {
	for _, value := range []string{"long", "timestamptz", "decimal(38,10)", "uuid"} {
		parsed, err := ParseLogicalType(value)
		require.NoError(t, err)
		assert.Equal(t, value, parsed.String())
	}

	parsed, err := ParseLogicalType("decimal( 9, 2 )")
	require.NoError(t, err)
	assert.Equal(t, DecimalOf(9, 2), parsed)

	_, err = ParseLogicalType("varchar")
	assert.Error(t, err)
}

func Test_Schema_Accessors(t *testing.T) {
	schema := &TableSchema{
		SchemaID: 3,
		Columns: []Column{
			{ID: 1, Name: "id", Type: Primitive(Long), PrimaryKey: true},
			{ID: 4, Name: "legacy", Type: Primitive(String), Nullable: true, Deprecated: true},
			{ID: 2, Name: "name", Type: Primitive(String), Nullable: true},
		},
	}

	assert.Equal(t, []string{"id"}, schema.KeyColumns())
	assert.Equal(t, []int{1}, schema.IdentifierFieldIDs())
	assert.Equal(t, 5, schema.NextColumnID())
	assert.Len(t, schema.ActiveColumns(), 2)

	column, found := schema.Column("name")
	assert.True(t, found)
	assert.Equal(t, 2, column.ID)

	clone := schema.Clone()
	assert.True(t, schema.Equal(clone))
	clone.Columns[0].Name = "changed"
	assert.Equal(t, "id", schema.Columns[0].Name)
	assert.False(t, schema.Equal(clone))

	assert.Equal(t, 1, (&TableSchema{}).NextColumnID())
}
