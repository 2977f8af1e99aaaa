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

package tablewriter

import (
	"context"
	"fmt"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-uuid"
	"github.com/noctarius/lakestream/internal/columnar"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/spaolacci/murmur3"
	"math"
	"path"
)

// bucketOf returns the bucket of a row key. Rows without a key all go
// into the first bucket.
func bucketOf(
	key string, hasKey bool, buckets int,
) int {

	if !hasKey || buckets <= 1 {
		return 0
	}
	hash := murmur3.Sum32([]byte(key))
	return int(hash&math.MaxInt32) % buckets
}

// partition splits events into buckets and the buckets into chunks of
// at most maxRows events. The order of events inside a chunk follows the
// batch order.
func partition(
	events []changes.ChangeEvent, buckets, maxRows int,
) [][]changes.ChangeEvent {

	if buckets < 1 {
		buckets = 1
	}
	grouped := make([][]changes.ChangeEvent, buckets)
	for _, event := range events {
		key, hasKey := event.Key()
		bucket := bucketOf(key, hasKey, buckets)
		grouped[bucket] = append(grouped[bucket], event)
	}

	chunks := make([][]changes.ChangeEvent, 0, buckets)
	for _, bucket := range grouped {
		for len(bucket) > 0 {
			size := len(bucket)
			if maxRows > 0 && size > maxRows {
				size = maxRows
			}
			chunks = append(chunks, bucket[:size])
			bucket = bucket[size:]
		}
	}
	return chunks
}

// deletedKeys returns the key images merge-on-read has to delete for a
// batch. Every event replaces whatever row its key pointed to before and
// an update that changed the key also removes the previous key.
func deletedKeys(
	events []changes.ChangeEvent,
) []changes.ChangeEvent {

	keys := make([]changes.ChangeEvent, 0, len(events))
	for _, event := range events {
		keys = append(keys, event)
		if event.Operation != changes.Update {
			continue
		}
		key, _ := event.Key()
		if previous, ok := event.PreviousKey(); ok && previous != key {
			keys = append(keys, changes.ChangeEvent{
				SourceTable:   event.SourceTable,
				Operation:     changes.Delete,
				Before:        event.Before,
				Position:      event.Position,
				TransactionID: event.TransactionID,
				CommitTime:    event.CommitTime,
				KeyColumns:    event.KeyColumns,
			})
		}
	}
	return keys
}

type fileWriter struct {
	store    objectstore.Store
	location string
	schema   *tableschema.TableSchema
	prefix   string
	counter  int
}

func newFileWriter(
	store objectstore.Store, location, pipelineId string, schema *tableschema.TableSchema,
) (*fileWriter, error) {

	relative, ok := objectstore.Relative(store, location)
	if !ok {
		return nil, faults.Schemaf("table location %s is outside of object store %s", location, store.Root())
	}
	prefix, err := uuid.GenerateUUID()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return &fileWriter{
		store:    store,
		location: path.Join(relative, "data", pipelineId),
		schema:   schema,
		prefix:   prefix,
	}, nil
}

// writeBatch encodes the batch into data files, plus equality delete
// files for merge-on-read, and uploads them.
func (f *fileWriter) writeBatch(
	ctx context.Context, events []changes.ChangeEvent, mode config.WriteMode, buckets, maxFileRows int,
) ([]catalog.DataFile, error) {

	files := make([]catalog.DataFile, 0)
	rows := events
	if mode == config.MergeOnRead {
		if len(f.schema.KeyColumns()) == 0 {
			return nil, faults.Schemaf("merge-on-read requires key columns in schema %d", f.schema.SchemaID)
		}
		rows = make([]changes.ChangeEvent, 0, len(events))
		for _, event := range events {
			if event.Operation != changes.Delete {
				rows = append(rows, event)
			}
		}
	}

	for _, chunk := range partition(rows, buckets, maxFileRows) {
		file, err := f.writeFile(ctx, chunk, catalog.DataContent, columnar.BuildRecord)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	if mode == config.MergeOnRead {
		for _, chunk := range partition(deletedKeys(events), buckets, maxFileRows) {
			file, err := f.writeFile(ctx, chunk, catalog.EqualityDeletesContent, columnar.BuildKeyRecord)
			if err != nil {
				return nil, err
			}
			file.EqualityFieldIDs = f.schema.IdentifierFieldIDs()
			files = append(files, file)
		}
	}
	return files, nil
}

func (f *fileWriter) writeFile(
	ctx context.Context, events []changes.ChangeEvent, content catalog.FileContent,
	build func(schema *tableschema.TableSchema, events []changes.ChangeEvent) (arrow.Record, error),
) (catalog.DataFile, error) {

	record, err := build(f.schema, events)
	if err != nil {
		return catalog.DataFile{}, faults.Decode(err)
	}
	defer record.Release()

	data, rows, err := columnar.EncodeParquet(record)
	if err != nil {
		return catalog.DataFile{}, faults.Decode(err)
	}

	f.counter++
	filePath := path.Join(f.location, fmt.Sprintf("%s-%d.parquet", f.prefix, f.counter))
	if err := f.store.Put(ctx, filePath, data); err != nil {
		return catalog.DataFile{}, faults.Transient(err)
	}
	return catalog.DataFile{
		Path:          objectstore.URI(f.store, filePath),
		Content:       content,
		RecordCount:   rows,
		FileSizeBytes: int64(len(data)),
	}, nil
}
