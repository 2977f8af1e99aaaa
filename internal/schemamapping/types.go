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
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/noctarius/lakestream/spi/tableschema"
)

// Iceberg decimals are bounded to 38 digits
const maxDecimalPrecision = 38

// LogicalTypeOf maps a PostgreSQL type and its type modifier to the
// destination type. Types without a fixed representation are written
// as strings.
func LogicalTypeOf(
	oid uint32, typeModifier int32,
) tableschema.LogicalType {

	switch oid {
	case pgtype.BoolOID:
		return tableschema.Primitive(tableschema.Boolean)
	case pgtype.Int2OID, pgtype.Int4OID:
		return tableschema.Primitive(tableschema.Int)
	case pgtype.Int8OID, pgtype.OIDOID, pgtype.XIDOID:
		return tableschema.Primitive(tableschema.Long)
	case pgtype.Float4OID:
		return tableschema.Primitive(tableschema.Float)
	case pgtype.Float8OID:
		return tableschema.Primitive(tableschema.Double)
	case pgtype.NumericOID:
		precision, scale, constrained := numericModifier(typeModifier)
		if !constrained || precision > maxDecimalPrecision {
			return tableschema.Primitive(tableschema.String)
		}
		return tableschema.DecimalOf(precision, scale)
	case pgtype.DateOID:
		return tableschema.Primitive(tableschema.Date)
	case pgtype.TimeOID:
		return tableschema.Primitive(tableschema.Time)
	case pgtype.TimestampOID:
		return tableschema.Primitive(tableschema.Timestamp)
	case pgtype.TimestamptzOID:
		return tableschema.Primitive(tableschema.TimestampTz)
	case pgtype.UUIDOID:
		return tableschema.Primitive(tableschema.UUID)
	case pgtype.ByteaOID:
		return tableschema.Primitive(tableschema.Binary)
	}
	return tableschema.Primitive(tableschema.String)
}

// numericModifier decodes precision and scale from a numeric type
// modifier. Unconstrained numerics have a modifier of -1.
func numericModifier(
	typeModifier int32,
) (int, int, bool) {

	if typeModifier < 4 {
		return 0, 0, false
	}
	modifier := typeModifier - 4
	precision := int((modifier >> 16) & 0xffff)
	scale := int(modifier & 0xffff)
	return precision, scale, true
}
