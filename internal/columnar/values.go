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

package columnar

import (
	"fmt"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-uuid"
	"math/big"
	"strconv"
	"time"
)

// AppendValue appends a decoded source value to the builder, converting
// between compatible Go representations.
func AppendValue(
	builder array.Builder, value any,
) error {

	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return errors.Errorf("cannot write %s as boolean", describe(value))
		}
		b.Append(v)

	case *array.Int32Builder:
		v, err := asInt64(value)
		if err != nil {
			return err
		}
		b.Append(int32(v))

	case *array.Int64Builder:
		v, err := asInt64(value)
		if err != nil {
			return err
		}
		b.Append(v)

	case *array.Float32Builder:
		v, err := asFloat64(value)
		if err != nil {
			return err
		}
		b.Append(float32(v))

	case *array.Float64Builder:
		v, err := asFloat64(value)
		if err != nil {
			return err
		}
		b.Append(v)

	case *array.Decimal128Builder:
		decimalType := b.Type().(*arrow.Decimal128Type)
		v, err := asDecimal(value, decimalType.Precision, decimalType.Scale)
		if err != nil {
			return err
		}
		b.Append(v)

	case *array.Date32Builder:
		v, ok := value.(time.Time)
		if !ok {
			return errors.Errorf("cannot write %s as date", describe(value))
		}
		b.Append(arrow.Date32FromTime(v))

	case *array.Time64Builder:
		switch v := value.(type) {
		case time.Duration:
			b.Append(arrow.Time64(v.Microseconds()))
		case int64:
			b.Append(arrow.Time64(v))
		default:
			return errors.Errorf("cannot write %s as time", describe(value))
		}

	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			return errors.Errorf("cannot write %s as timestamp", describe(value))
		}
		b.Append(arrow.Timestamp(v.UnixMicro()))

	case *array.StringBuilder:
		switch v := value.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		case [16]byte:
			formatted, err := uuid.FormatUUID(v[:])
			if err != nil {
				return errors.Wrap(err, 0)
			}
			b.Append(formatted)
		case time.Time:
			b.Append(v.Format(time.RFC3339Nano))
		default:
			b.Append(describeValue(value))
		}

	case *array.FixedSizeBinaryBuilder:
		switch v := value.(type) {
		case [16]byte:
			b.Append(v[:])
		case []byte:
			if len(v) != 16 {
				return errors.Errorf("uuid requires 16 bytes, got %d", len(v))
			}
			b.Append(v)
		case string:
			parsed, err := uuid.ParseUUID(v)
			if err != nil {
				return errors.Wrap(err, 0)
			}
			b.Append(parsed)
		default:
			return errors.Errorf("cannot write %s as uuid", describe(value))
		}

	case *array.BinaryBuilder:
		switch v := value.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.AppendString(v)
		default:
			return errors.Errorf("cannot write %s as binary", describe(value))
		}

	default:
		return errors.Errorf("unsupported builder %T", builder)
	}
	return nil
}

func asInt64(
	value any,
) (int64, error) {

	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, 0)
		}
		return parsed, nil
	}
	return 0, errors.Errorf("cannot write %s as integer", describe(value))
}

func asFloat64(
	value any,
) (float64, error) {

	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errors.Wrap(err, 0)
		}
		return parsed, nil
	}
	return 0, errors.Errorf("cannot write %s as floating point", describe(value))
}

func asDecimal(
	value any, precision, scale int32,
) (decimal128.Num, error) {

	switch v := value.(type) {
	case string:
		num, err := decimal128.FromString(v, precision, scale)
		if err != nil {
			return decimal128.Num{}, errors.Wrap(err, 0)
		}
		return num, nil
	case *big.Float:
		num, err := decimal128.FromString(v.Text('f', int(scale)), precision, scale)
		if err != nil {
			return decimal128.Num{}, errors.Wrap(err, 0)
		}
		return num, nil
	case int64:
		return decimal128.FromI64(v).IncreaseScaleBy(scale), nil
	case int32:
		return decimal128.FromI64(int64(v)).IncreaseScaleBy(scale), nil
	case float64:
		num, err := decimal128.FromFloat64(v, precision, scale)
		if err != nil {
			return decimal128.Num{}, errors.Wrap(err, 0)
		}
		return num, nil
	}
	return decimal128.Num{}, errors.Errorf("cannot write %s as decimal", describe(value))
}

func describeValue(
	value any,
) string {

	switch v := value.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(value)
}
