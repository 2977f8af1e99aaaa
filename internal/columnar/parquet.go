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
	"bytes"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/go-errors/errors"
)

// EncodeParquet writes the record as a single Parquet file and returns
// the file content and the number of rows.
func EncodeParquet(
	record arrow.Record,
) ([]byte, int64, error) {

	table := array.NewTableFromRecords(record.Schema(), []arrow.Record{record})
	defer table.Release()

	buffer := bytes.NewBuffer(nil)
	properties := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithCreatedBy("lakestream"),
	)
	arrowProperties := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	if err := pqarrow.WriteTable(table, buffer, max(table.NumRows(), 1), properties, arrowProperties); err != nil {
		return nil, 0, errors.Errorf("failed writing parquet: %s", err.Error())
	}
	return buffer.Bytes(), table.NumRows(), nil
}
