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

type BatchKind int

const (
	RowBatch BatchKind = iota
	SchemaBatch
)

func (k BatchKind) String() string {
	if k == SchemaBatch {
		return "schema"
	}
	return "rows"
}

// TableBatch is an ordered, collapsed set of changes for a single
// destination table. Min and max positions span every source event the
// batch was assembled from, including events removed by collapsing.
type TableBatch struct {
	DestinationTable string
	Kind             BatchKind
	Events           []ChangeEvent
	MinPosition      Position
	MaxPosition      Position
	// SourceEvents is the number of drained events before collapsing
	SourceEvents int
	Bytes        uint64
}

func (b *TableBatch) IsSchemaChange() bool {
	return b.Kind == SchemaBatch
}

// SchemaEvent returns the DDL event of a schema batch
func (b *TableBatch) SchemaEvent() (ChangeEvent, bool) {
	if b.Kind != SchemaBatch || len(b.Events) != 1 {
		return ChangeEvent{}, false
	}
	return b.Events[0], true
}

func (b *TableBatch) Rows() int {
	if b.Kind == SchemaBatch {
		return 0
	}
	return len(b.Events)
}
