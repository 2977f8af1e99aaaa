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

// Package columnar converts batches of change events into Arrow records
// and encodes them as Parquet data files carrying Iceberg field ids.
package columnar

import (
	"fmt"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/tableschema"
	"strconv"
)

// FieldIDKey is the Arrow field metadata key pqarrow maps to Parquet
// field ids.
const FieldIDKey = "PARQUET:field_id"

var allocator = memory.NewGoAllocator()

// ArrowSchema returns the Arrow schema for the given table columns
func ArrowSchema(
	columns []tableschema.Column,
) (*arrow.Schema, error) {

	fields := make([]arrow.Field, 0, len(columns))
	for _, column := range columns {
		dataType, err := ArrowType(column.Type)
		if err != nil {
			return nil, errors.Errorf("column %s: %s", column.Name, err.Error())
		}
		fields = append(fields, arrow.Field{
			Name:     column.Name,
			Type:     dataType,
			Nullable: !column.Required(),
			Metadata: arrow.NewMetadata([]string{FieldIDKey}, []string{strconv.Itoa(column.ID)}),
		})
	}
	return arrow.NewSchema(fields, nil), nil
}

func ArrowType(
	logicalType tableschema.LogicalType,
) (arrow.DataType, error) {

	switch logicalType.Kind {
	case tableschema.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case tableschema.Int:
		return arrow.PrimitiveTypes.Int32, nil
	case tableschema.Long:
		return arrow.PrimitiveTypes.Int64, nil
	case tableschema.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case tableschema.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case tableschema.Decimal:
		return &arrow.Decimal128Type{
			Precision: int32(logicalType.Precision),
			Scale:     int32(logicalType.Scale),
		}, nil
	case tableschema.Date:
		return arrow.FixedWidthTypes.Date32, nil
	case tableschema.Time:
		return arrow.FixedWidthTypes.Time64us, nil
	case tableschema.Timestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case tableschema.TimestampTz:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case tableschema.String:
		return arrow.BinaryTypes.String, nil
	case tableschema.UUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}, nil
	case tableschema.Binary:
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, errors.Errorf("unsupported logical type %s", logicalType)
}

// BuildRecord converts events into a record of all schema columns. The
// row image of an event is its after image, or the before image for
// deletes. Deprecated columns and values the source did not send are
// written as null.
func BuildRecord(
	schema *tableschema.TableSchema, events []changes.ChangeEvent,
) (arrow.Record, error) {

	return buildRecord(schema.Columns, events, rowImage)
}

// BuildKeyRecord converts the keys of the events into a record of the
// primary key columns, used for equality delete files.
func BuildKeyRecord(
	schema *tableschema.TableSchema, events []changes.ChangeEvent,
) (arrow.Record, error) {

	keyColumns := make([]tableschema.Column, 0)
	for _, column := range schema.Columns {
		if column.PrimaryKey {
			keyColumns = append(keyColumns, column)
		}
	}
	if len(keyColumns) == 0 {
		return nil, errors.Errorf("schema %d has no key columns", schema.SchemaID)
	}
	return buildRecord(keyColumns, events, keyImage)
}

func buildRecord(
	columns []tableschema.Column, events []changes.ChangeEvent,
	image func(event changes.ChangeEvent) changes.Row,
) (arrow.Record, error) {

	arrowSchema, err := ArrowSchema(columns)
	if err != nil {
		return nil, err
	}

	builder := array.NewRecordBuilder(allocator, arrowSchema)
	defer builder.Release()

	for _, event := range events {
		row := image(event)
		for i, column := range columns {
			field := builder.Field(i)
			if tableschema.IsMetadataColumn(column.Name) {
				appendMetadata(field, column.Name, event)
				continue
			}

			value, present := row[column.Name]
			if column.Deprecated || !present || value == nil {
				if column.Required() {
					return nil, errors.Errorf(
						"required column %s has no value at %s", column.Name, event.Position,
					)
				}
				field.AppendNull()
				continue
			}
			if err := AppendValue(field, value); err != nil {
				return nil, errors.Errorf("column %s: %s", column.Name, err.Error())
			}
		}
	}

	return builder.NewRecord(), nil
}

func rowImage(
	event changes.ChangeEvent,
) changes.Row {

	if event.After != nil {
		return event.After
	}
	return event.Before
}

func keyImage(
	event changes.ChangeEvent,
) changes.Row {

	if event.Operation == changes.Delete {
		return event.Before
	}
	return event.After
}

func appendMetadata(
	field array.Builder, name string, event changes.ChangeEvent,
) {

	switch name {
	case tableschema.OperationColumn:
		field.(*array.StringBuilder).Append(string(event.Operation))
	case tableschema.PositionColumn:
		field.(*array.StringBuilder).Append(event.Position.String())
	case tableschema.LSNColumn:
		field.(*array.Int64Builder).Append(int64(event.Position.LSN))
	case tableschema.TransactionIDColumn:
		field.(*array.Int64Builder).Append(int64(event.TransactionID))
	case tableschema.CommitTimeColumn:
		if event.CommitTime.IsZero() {
			field.AppendNull()
			return
		}
		field.(*array.TimestampBuilder).Append(arrow.Timestamp(event.CommitTime.UnixMicro()))
	default:
		field.AppendNull()
	}
}

func describe(
	value any,
) string {

	return fmt.Sprintf("%v (%T)", value, value)
}
