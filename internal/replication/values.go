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
	"fmt"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/faults"
	"time"
)

var typeMap = pgtype.NewMap()

// decodeTuple decodes the columns of a tuple into a row. Columns whose
// unchanged TOAST value was not sent are returned separately.
func decodeTuple(
	relation *changes.RelationDefinition, tuple *pglogrepl.TupleData,
) (changes.Row, []string, error) {

	if tuple == nil {
		return nil, nil, nil
	}
	if len(tuple.Columns) > len(relation.Columns) {
		return nil, nil, faults.Decodef(
			"tuple of %s has %d columns, relation defines %d",
			relation.QualifiedName(), len(tuple.Columns), len(relation.Columns),
		)
	}

	row := make(changes.Row, len(tuple.Columns))
	var unchanged []string
	for i, column := range tuple.Columns {
		definition := relation.Columns[i]
		switch column.DataType {
		case pglogrepl.TupleDataTypeNull:
			row[definition.Name] = nil
		case pglogrepl.TupleDataTypeToast:
			unchanged = append(unchanged, definition.Name)
		case pglogrepl.TupleDataTypeText:
			value, err := decodeValue(definition.TypeOID, pgtype.TextFormatCode, column.Data)
			if err != nil {
				return nil, nil, faults.Decodef(
					"column %s of %s: %s", definition.Name, relation.QualifiedName(), err,
				)
			}
			row[definition.Name] = value
		case pglogrepl.TupleDataTypeBinary:
			value, err := decodeValue(definition.TypeOID, pgtype.BinaryFormatCode, column.Data)
			if err != nil {
				return nil, nil, faults.Decodef(
					"column %s of %s: %s", definition.Name, relation.QualifiedName(), err,
				)
			}
			row[definition.Name] = value
		default:
			return nil, nil, faults.Decodef(
				"column %s of %s has unknown tuple data type '%c'",
				definition.Name, relation.QualifiedName(), column.DataType,
			)
		}
	}
	return row, unchanged, nil
}

// decodeValue decodes a column value into the Go representation the
// columnar writer understands.
func decodeValue(
	oid uint32, format int16, data []byte,
) (any, error) {

	// Values without a fixed width representation keep their text form
	if format == pgtype.TextFormatCode {
		switch oid {
		case pgtype.NumericOID, pgtype.JSONOID, pgtype.JSONBOID:
			return string(data), nil
		}
	}

	dataType, found := typeMap.TypeForOID(oid)
	if !found {
		if format == pgtype.TextFormatCode {
			return string(data), nil
		}
		return data, nil
	}

	value, err := dataType.Codec.DecodeValue(typeMap, oid, format, data)
	if err != nil {
		return nil, err
	}
	return normalize(value, format, data), nil
}

func normalize(
	value any, format int16, data []byte,
) any {

	switch v := value.(type) {
	case nil, bool, int16, int32, int64, float32, float64, string, []byte, time.Time, [16]byte:
		return v
	case uint32:
		return int64(v)
	case pgtype.Time:
		return time.Duration(v.Microseconds) * time.Microsecond
	case pgtype.Numeric:
		if numeric, err := v.Value(); err == nil && numeric != nil {
			return fmt.Sprint(numeric)
		}
	}
	if format == pgtype.TextFormatCode {
		return string(data)
	}
	return fmt.Sprint(value)
}
