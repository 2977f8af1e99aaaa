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

package batching

import (
	"fmt"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/noctarius/lakestream/internal/buffer"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reflect"
	"testing"
	"time"
)

var keyColumns = []string{"id"}

func event(seq uint32, op changes.Operation, before, after changes.Row) changes.ChangeEvent {
	return changes.ChangeEvent{
		SourceTable: "public.orders",
		Operation:   op,
		Before:      before,
		After:       after,
		Position:    changes.NewPosition(0x100, seq),
		KeyColumns:  keyColumns,
	}
}

func Test_Insert_Then_Update_Collapses_To_Insert(t *testing.T) {
	collapsed := Collapse([]changes.ChangeEvent{
		event(1, changes.Insert, nil, changes.Row{"id": 1, "val": "A"}),
		event(2, changes.Update, nil, changes.Row{"id": 1, "val": "B"}),
	}, false)

	require.Len(t, collapsed, 1)
	assert.Equal(t, changes.Insert, collapsed[0].Operation)
	assert.Equal(t, changes.Row{"id": 1, "val": "B"}, collapsed[0].After)
	assert.Nil(t, collapsed[0].Before)
	assert.Equal(t, uint32(2), collapsed[0].Position.Seq)
}

func Test_Updates_Keep_First_Before_And_Last_After(t *testing.T) {
	collapsed := Collapse([]changes.ChangeEvent{
		event(1, changes.Update, changes.Row{"id": 1, "val": "A"}, changes.Row{"id": 1, "val": "B"}),
		event(2, changes.Update, changes.Row{"id": 1, "val": "B"}, changes.Row{"id": 1, "val": "C"}),
	}, false)

	require.Len(t, collapsed, 1)
	assert.Equal(t, changes.Update, collapsed[0].Operation)
	assert.Equal(t, "A", collapsed[0].Before["val"])
	assert.Equal(t, "C", collapsed[0].After["val"])
}

func Test_Insert_Then_Delete(t *testing.T) {
	events := []changes.ChangeEvent{
		event(1, changes.Insert, nil, changes.Row{"id": 1, "val": "A"}),
		event(2, changes.Delete, changes.Row{"id": 1}, nil),
	}

	assert.Empty(t, Collapse(events, false))

	tombstone := Collapse(events, true)
	require.Len(t, tombstone, 1)
	assert.Equal(t, changes.Delete, tombstone[0].Operation)
	assert.Equal(t, changes.Row{"id": 1}, tombstone[0].Before)
}

func Test_Update_Then_Delete_Is_Delete(t *testing.T) {
	collapsed := Collapse([]changes.ChangeEvent{
		event(1, changes.Update, nil, changes.Row{"id": 7, "val": "B"}),
		event(2, changes.Delete, changes.Row{"id": 7}, nil),
	}, false)

	require.Len(t, collapsed, 1)
	assert.Equal(t, changes.Delete, collapsed[0].Operation)
	assert.Equal(t, changes.Row{"id": 7}, collapsed[0].Before)
}

func Test_Delete_Then_Insert_Is_Update(t *testing.T) {
	collapsed := Collapse([]changes.ChangeEvent{
		event(1, changes.Delete, changes.Row{"id": 7}, nil),
		event(2, changes.Insert, nil, changes.Row{"id": 7, "val": "N"}),
	}, false)

	require.Len(t, collapsed, 1)
	assert.Equal(t, changes.Update, collapsed[0].Operation)
	assert.Equal(t, "N", collapsed[0].After["val"])
}

func Test_Output_Follows_Last_Change_Of_Each_Row(t *testing.T) {
	collapsed := Collapse([]changes.ChangeEvent{
		event(1, changes.Insert, nil, changes.Row{"id": 1, "val": "A"}),
		event(2, changes.Insert, nil, changes.Row{"id": 2, "val": "A"}),
		event(3, changes.Update, nil, changes.Row{"id": 1, "val": "B"}),
	}, false)

	require.Len(t, collapsed, 2)
	assert.Equal(t, 2, collapsed[0].After["id"])
	assert.Equal(t, 1, collapsed[1].After["id"])
}

func Test_Keyless_Events_Are_Not_Collapsed(t *testing.T) {
	first := event(1, changes.Insert, nil, changes.Row{"val": "A"})
	first.KeyColumns = nil
	second := event(2, changes.Insert, nil, changes.Row{"val": "A"})
	second.KeyColumns = nil

	assert.Equal(t, []changes.ChangeEvent{first, second}, Collapse([]changes.ChangeEvent{first, second}, false))
}

func Test_Key_Change_Is_Split(t *testing.T) {
	collapsed := Collapse([]changes.ChangeEvent{
		event(1, changes.Insert, nil, changes.Row{"id": 1, "val": "A"}),
		event(2, changes.Update, changes.Row{"id": 1}, changes.Row{"id": 2, "val": "A"}),
	}, true)

	require.Len(t, collapsed, 2)
	assert.Equal(t, changes.Delete, collapsed[0].Operation)
	assert.Equal(t, changes.Row{"id": 1}, collapsed[0].Before)
	assert.Equal(t, changes.Insert, collapsed[1].Operation)
	assert.Equal(t, changes.Row{"id": 2, "val": "A"}, collapsed[1].After)
}

func Test_Unchanged_Values_Are_Filled(t *testing.T) {
	toasted := event(2, changes.Update, nil, changes.Row{"id": 1, "val": "B"})
	toasted.Unchanged = []string{"doc"}

	collapsed := Collapse([]changes.ChangeEvent{
		event(1, changes.Insert, nil, changes.Row{"id": 1, "val": "A", "doc": "large"}),
		toasted,
	}, false)

	require.Len(t, collapsed, 1)
	assert.Equal(t, changes.Row{"id": 1, "val": "B", "doc": "large"}, collapsed[0].After)
	assert.Empty(t, collapsed[0].Unchanged)
	// the source event is not modified
	assert.NotContains(t, toasted.After, "doc")
}

func Test_Assembler_Triggers(t *testing.T) {
	start := time.Unix(10000, 0)
	clk := clock.NewManual(start)
	buf := buffer.NewManager(buffer.Options{TableCapacity: 100, Clock: clk})
	assembler := NewAssembler(buf, Options{MaxRows: 3, MaxWait: time.Second * 30, Clock: clk}, nil)

	assert.Nil(t, assembler.Assemble("orders"))

	buf.TryEnqueue("orders", event(1, changes.Insert, nil, changes.Row{"id": 1}))
	assert.Equal(t, NoTrigger, assembler.Trigger("orders"))
	assert.Nil(t, assembler.Assemble("orders"))

	clk.Advance(time.Second * 30)
	assert.Equal(t, WaitTrigger, assembler.Trigger("orders"))
	batch := assembler.Assemble("orders")
	require.NotNil(t, batch)
	assert.Equal(t, 1, batch.Rows())

	for i := 2; i <= 5; i++ {
		buf.TryEnqueue("orders", event(uint32(i), changes.Insert, nil, changes.Row{"id": i}))
	}
	assert.Equal(t, RowsTrigger, assembler.Trigger("orders"))
	batch = assembler.Assemble("orders")
	require.NotNil(t, batch)
	assert.Equal(t, 3, batch.Rows())
	assert.Equal(t, uint32(2), batch.MinPosition.Seq)
	assert.Equal(t, uint32(4), batch.MaxPosition.Seq)

	assert.Nil(t, assembler.Assemble("orders"))
	flushed := assembler.Flush("orders")
	require.NotNil(t, flushed)
	assert.Equal(t, 1, flushed.Rows())
}

func Test_Assembler_Byte_Trigger(t *testing.T) {
	buf := buffer.NewManager(buffer.Options{TableCapacity: 100})
	e := event(1, changes.Insert, nil, changes.Row{"id": 1})
	assembler := NewAssembler(buf, Options{MaxRows: 100, MaxBytes: changes.EstimateSize(e), MaxWait: time.Hour}, nil)

	buf.TryEnqueue("orders", e)
	assert.Equal(t, BytesTrigger, assembler.Trigger("orders"))
}

func Test_Assembler_Schema_Batch(t *testing.T) {
	buf := buffer.NewManager(buffer.Options{TableCapacity: 100})
	assembler := NewAssembler(buf, Options{MaxRows: 100, MaxWait: time.Hour}, nil)

	buf.TryEnqueue("orders", event(1, changes.Insert, nil, changes.Row{"id": 1}))
	ddl := changes.ChangeEvent{
		SourceTable: "public.orders",
		Operation:   changes.DDL,
		Position:    changes.NewPosition(0x200, 0),
		Relation:    &changes.RelationDefinition{Namespace: "public", Name: "orders"},
	}
	buf.TryEnqueue("orders", ddl)

	rows := assembler.Flush("orders")
	require.NotNil(t, rows)
	assert.False(t, rows.IsSchemaChange())

	assert.Equal(t, SchemaTrigger, assembler.Trigger("orders"))
	schema := assembler.Assemble("orders")
	require.NotNil(t, schema)
	assert.True(t, schema.IsSchemaChange())
	schemaEvent, ok := schema.SchemaEvent()
	require.True(t, ok)
	assert.Same(t, ddl.Relation, schemaEvent.Relation)
}

func Test_Assembler_Collapse_Keeps_Positions(t *testing.T) {
	buf := buffer.NewManager(buffer.Options{TableCapacity: 100})
	assembler := NewAssembler(
		buf, Options{MaxRows: 100, MaxWait: time.Hour}, map[string]config.WriteMode{"orders": config.MergeOnRead},
	)

	buf.TryEnqueue("orders", event(1, changes.Insert, nil, changes.Row{"id": 1, "val": "A"}))
	buf.TryEnqueue("orders", event(2, changes.Delete, changes.Row{"id": 1}, nil))

	batch := assembler.Flush("orders")
	require.NotNil(t, batch)
	assert.Equal(t, 2, batch.SourceEvents)
	assert.Equal(t, uint32(1), batch.MinPosition.Seq)
	assert.Equal(t, uint32(2), batch.MaxPosition.Seq)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, changes.Delete, batch.Events[0].Operation)
}

// applyAll replays changes on a key value state the way a destination
// table would see them.
func applyAll(state map[int]changes.Row, events []changes.ChangeEvent) map[int]changes.Row {
	for _, e := range events {
		switch e.Operation {
		case changes.Insert:
			state[e.After["id"].(int)] = e.After
		case changes.Update:
			id := e.After["id"].(int)
			row := e.After.Clone()
			for _, column := range e.Unchanged {
				if previous, present := state[id]; present {
					row[column] = previous[column]
				}
			}
			state[id] = row
		case changes.Delete:
			delete(state, e.Before["id"].(int))
		}
	}
	return state
}

func initialState(existing int) map[int]changes.Row {
	state := make(map[int]changes.Row)
	for id := 0; id < 3; id++ {
		if existing&(1<<id) != 0 {
			state[id] = changes.Row{"id": id, "val": -1, "doc": fmt.Sprintf("doc%d", id)}
		}
	}
	return state
}

// scriptEvents turns generated numbers into a valid change sequence over
// three keys, consistent with which rows exist at each point.
func scriptEvents(existing int, script []int) []changes.ChangeEvent {
	exists := initialState(existing)
	events := make([]changes.ChangeEvent, 0, len(script))
	for i, n := range script {
		id := n % 3
		choice := (n / 3) % 3
		toast := (n/9)%2 == 1
		seq := uint32(i + 1)

		if _, present := exists[id]; !present {
			row := changes.Row{"id": id, "val": n, "doc": fmt.Sprintf("d%d", n)}
			events = append(events, event(seq, changes.Insert, nil, row))
			exists[id] = row
			continue
		}

		if choice == 1 {
			events = append(events, event(seq, changes.Delete, changes.Row{"id": id}, nil))
			delete(exists, id)
			continue
		}

		row := changes.Row{"id": id, "val": n}
		e := event(seq, changes.Update, nil, row)
		if toast {
			e.Unchanged = []string{"doc"}
		} else {
			row["doc"] = fmt.Sprintf("d%d", n)
		}
		events = append(events, e)
		exists[id] = row
	}
	return events
}

func Test_Property_Collapse_Equals_Sequential_Application(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("collapsed batch yields the same table state", prop.ForAll(
		func(existing int, script []int, tombstones bool) bool {
			events := scriptEvents(existing, script)
			expected := applyAll(initialState(existing), events)
			actual := applyAll(initialState(existing), Collapse(events, tombstones))
			return reflect.DeepEqual(expected, actual)
		},
		gen.IntRange(0, 7),
		gen.SliceOf(gen.IntRange(0, 999)),
		gen.Bool(),
	))

	properties.Property("collapsed batch holds at most one change per key", prop.ForAll(
		func(existing int, script []int) bool {
			seen := make(map[string]bool)
			for _, e := range Collapse(scriptEvents(existing, script), true) {
				key, _ := e.Key()
				if seen[key] {
					return false
				}
				seen[key] = true
			}
			return true
		},
		gen.IntRange(0, 7),
		gen.SliceOf(gen.IntRange(0, 999)),
	))

	properties.TestingRun(t)
}
