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
	"fmt"
	"github.com/go-errors/errors"
	"regexp"
	"strconv"
)

type TypeKind string

const (
	Boolean     TypeKind = "boolean"
	Int         TypeKind = "int"
	Long        TypeKind = "long"
	Float       TypeKind = "float"
	Double      TypeKind = "double"
	Decimal     TypeKind = "decimal"
	Date        TypeKind = "date"
	Time        TypeKind = "time"
	Timestamp   TypeKind = "timestamp"
	TimestampTz TypeKind = "timestamptz"
	String      TypeKind = "string"
	UUID        TypeKind = "uuid"
	Binary      TypeKind = "binary"
)

var decimalTypeRegex = regexp.MustCompile(`^decimal\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)

// LogicalType is the destination type of a column. Precision and
// scale are only meaningful for decimals.
type LogicalType struct {
	Kind      TypeKind
	Precision int
	Scale     int
}

func Primitive(kind TypeKind) LogicalType {
	return LogicalType{Kind: kind}
}

func DecimalOf(precision, scale int) LogicalType {
	return LogicalType{Kind: Decimal, Precision: precision, Scale: scale}
}

// String renders the type in Iceberg notation
func (t LogicalType) String() string {
	if t.Kind == Decimal {
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	}
	return string(t.Kind)
}

func (t LogicalType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LogicalType) UnmarshalText(text []byte) error {
	parsed, err := ParseLogicalType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// CanWidenTo returns true if values of this type can be promoted to the
// other type without loss. Identical types are not a widening.
func (t LogicalType) CanWidenTo(other LogicalType) bool {
	switch {
	case t.Kind == Int && other.Kind == Long:
		return true
	case t.Kind == Float && other.Kind == Double:
		return true
	case t.Kind == Decimal && other.Kind == Decimal:
		return other.Scale == t.Scale && other.Precision > t.Precision
	}
	return false
}

func ParseLogicalType(value string) (LogicalType, error) {
	if matches := decimalTypeRegex.FindStringSubmatch(value); matches != nil {
		precision, err := strconv.Atoi(matches[1])
		if err != nil {
			return LogicalType{}, errors.Wrap(err, 0)
		}
		scale, err := strconv.Atoi(matches[2])
		if err != nil {
			return LogicalType{}, errors.Wrap(err, 0)
		}
		return DecimalOf(precision, scale), nil
	}

	switch kind := TypeKind(value); kind {
	case Boolean, Int, Long, Float, Double, Date, Time, Timestamp, TimestampTz, String, UUID, Binary:
		return Primitive(kind), nil
	}
	return LogicalType{}, errors.Errorf("unknown logical type '%s'", value)
}
