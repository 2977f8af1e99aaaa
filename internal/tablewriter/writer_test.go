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
	memorycatalog "github.com/noctarius/lakestream/internal/catalogs/memory"
	memorystore "github.com/noctarius/lakestream/internal/objectstores/memory"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func ordersSchema() *tableschema.TableSchema {
	columns := []tableschema.Column{
		{ID: 1, Name: "id", Type: tableschema.Primitive(tableschema.Long), PrimaryKey: true},
		{ID: 2, Name: "note", Type: tableschema.Primitive(tableschema.String), Nullable: true},
	}
	return &tableschema.TableSchema{
		SchemaID: 1,
		Columns:  append(columns, tableschema.MetadataColumns(3)...),
	}
}

func insert(lsn changes.LSN, seq uint32, id int64) changes.ChangeEvent {
	return changes.ChangeEvent{
		SourceTable: "public.orders",
		Operation:   changes.Insert,
		After:       changes.Row{"id": id, "note": fmt.Sprintf("note %d", id)},
		Position:    changes.NewPosition(lsn, seq),
		KeyColumns:  []string{"id"},
	}
}

func rowBatch(events ...changes.ChangeEvent) *changes.TableBatch {
	return &changes.TableBatch{
		DestinationTable: "orders",
		Kind:             changes.RowBatch,
		Events:           events,
		MinPosition:      events[0].Position,
		MaxPosition:      events[len(events)-1].Position,
		SourceEvents:     len(events),
	}
}

type fixture struct {
	catalog *memorycatalog.Catalog
	store   *memorystore.Store
	writer  *Writer
}

func newFixture(t *testing.T, options Options) fixture {
	if options.PipelineId == "" {
		options.PipelineId = "p1"
	}
	if options.Namespace == "" {
		options.Namespace = "lake"
	}
	c := memorycatalog.NewMemoryCatalog(nil)
	store := memorystore.NewMemoryStore("test")
	writer, err := NewWriter(c, store, "orders", options)
	require.NoError(t, err)
	return fixture{catalog: c, store: store, writer: writer}
}

func Test_Apply_Schema_Creates_Table(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	current, err := f.writer.CurrentSchema(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	require.NoError(t, f.writer.ApplySchema(ctx, ordersSchema()))

	metadata, err := f.catalog.LoadTable(ctx, catalog.ParseIdentifier("lake.orders", ""))
	require.NoError(t, err)
	assert.Equal(t, "memory://test/lake/orders", metadata.Location)
	assert.Equal(t, 1, metadata.CurrentSchemaID)
	assert.Equal(t, catalog.NoSnapshot, metadata.CurrentSnapshotID)

	// applying the same version again is a no-op
	require.NoError(t, f.writer.ApplySchema(ctx, ordersSchema()))
}

func Test_Apply_Schema_Evolves_And_Rejects_Divergence(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.writer.ApplySchema(ctx, ordersSchema()))

	evolved := ordersSchema()
	evolved.SchemaID = 2
	evolved.Columns = append(evolved.Columns, tableschema.Column{
		ID: 8, Name: "region", Type: tableschema.Primitive(tableschema.String), Nullable: true,
	})
	require.NoError(t, f.writer.ApplySchema(ctx, evolved))

	current, err := f.writer.CurrentSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, current.SchemaID)

	diverged := evolved.Clone()
	diverged.Columns = diverged.Columns[:len(diverged.Columns)-1]
	err = f.writer.ApplySchema(ctx, diverged)
	assert.True(t, faults.Is(err, faults.KindSchema))

	err = f.writer.ApplySchema(ctx, ordersSchema())
	assert.True(t, faults.Is(err, faults.KindSchema))
}

func Test_Commit_Append_Writes_Files_And_Summary(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	batch := rowBatch(insert(0x100, 1, 1), insert(0x100, 2, 2), insert(0x200, 1, 3))
	result, err := f.writer.Commit(ctx, batch, schema)
	require.NoError(t, err)
	assert.NotZero(t, result.SnapshotID)
	assert.Zero(t, result.Conflicts)
	require.Len(t, result.Files, 1)

	file := result.Files[0]
	assert.Equal(t, catalog.DataContent, file.Content)
	assert.Equal(t, int64(3), file.RecordCount)
	assert.True(t, strings.HasPrefix(file.Path, "memory://test/lake/orders/data/p1/"))
	assert.True(t, strings.HasSuffix(file.Path, "-1.parquet"))

	metadata, err := f.catalog.LoadTable(ctx, f.writer.Table())
	require.NoError(t, err)
	snapshot, found := metadata.CurrentSnapshot()
	require.True(t, found)
	assert.Equal(t, "p1", snapshot.Summary[catalog.SummaryPipelineID])
	assert.Equal(t, batch.MaxPosition.String(), snapshot.Summary[catalog.SummaryMaxPosition])
	assert.Equal(t, "3", snapshot.Summary[SummaryAddedRecords])

	watermark, found, err := f.writer.RecoverWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, batch.MaxPosition, watermark)
}

func Test_Commit_Splits_Buckets_And_File_Rows(t *testing.T) {
	f := newFixture(t, Options{Buckets: 4, MaxFileRows: 2})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	events := make([]changes.ChangeEvent, 0)
	for i := 1; i <= 20; i++ {
		events = append(events, insert(0x100, uint32(i), int64(i)))
	}
	result, err := f.writer.Commit(ctx, rowBatch(events...), schema)
	require.NoError(t, err)

	total := int64(0)
	for _, file := range result.Files {
		assert.LessOrEqual(t, file.RecordCount, int64(2))
		total += file.RecordCount
	}
	assert.Equal(t, int64(20), total)
	assert.GreaterOrEqual(t, len(result.Files), 10)
}

func Test_Bucket_Is_Stable(t *testing.T) {
	assert.Equal(t, bucketOf("42", true, 16), bucketOf("42", true, 16))
	assert.Equal(t, 0, bucketOf("", false, 16))
	assert.Equal(t, 0, bucketOf("42", true, 1))
	for i := 0; i < 100; i++ {
		bucket := bucketOf(fmt.Sprint(i), true, 8)
		assert.True(t, bucket >= 0 && bucket < 8)
	}
}

func Test_Commit_Merge_On_Read_Writes_Equality_Deletes(t *testing.T) {
	f := newFixture(t, Options{Mode: config.MergeOnRead})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	moved := changes.ChangeEvent{
		SourceTable: "public.orders",
		Operation:   changes.Update,
		Before:      changes.Row{"id": int64(7)},
		After:       changes.Row{"id": int64(8), "note": "moved"},
		Position:    changes.NewPosition(0x100, 2),
		KeyColumns:  []string{"id"},
	}
	deleted := changes.ChangeEvent{
		SourceTable: "public.orders",
		Operation:   changes.Delete,
		Before:      changes.Row{"id": int64(9)},
		Position:    changes.NewPosition(0x100, 3),
		KeyColumns:  []string{"id"},
	}
	result, err := f.writer.Commit(ctx, rowBatch(insert(0x100, 1, 1), moved, deleted), schema)
	require.NoError(t, err)
	require.Len(t, result.Files, 2)

	data := result.Files[0]
	assert.Equal(t, catalog.DataContent, data.Content)
	assert.Equal(t, int64(2), data.RecordCount)

	deletes := result.Files[1]
	assert.Equal(t, catalog.EqualityDeletesContent, deletes.Content)
	assert.Equal(t, int64(4), deletes.RecordCount)
	assert.Equal(t, []int{1}, deletes.EqualityFieldIDs)
}

func Test_Merge_On_Read_Requires_Keys(t *testing.T) {
	f := newFixture(t, Options{Mode: config.MergeOnRead})
	ctx := context.Background()
	schema := &tableschema.TableSchema{
		SchemaID: 1,
		Columns: append([]tableschema.Column{
			{ID: 1, Name: "note", Type: tableschema.Primitive(tableschema.String), Nullable: true},
		}, tableschema.MetadataColumns(2)...),
	}
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	event := changes.ChangeEvent{
		Operation: changes.Insert,
		After:     changes.Row{"note": "x"},
		Position:  changes.NewPosition(0x100, 1),
	}
	_, err := f.writer.Commit(ctx, rowBatch(event), schema)
	assert.True(t, faults.Is(err, faults.KindSchema))
}

func Test_Commit_Conflict_Once_Reuses_Files(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	// another writer moves the table forward after the writer loaded it
	_, err := f.catalog.Commit(ctx, catalog.CommitRequest{
		Table:              f.writer.Table(),
		ExpectedSnapshotID: catalog.NoSnapshot,
		SchemaID:           1,
		Summary:            map[string]string{catalog.SummaryPipelineID: "other"},
	})
	require.NoError(t, err)

	result, err := f.writer.Commit(ctx, rowBatch(insert(0x100, 1, 1)), schema)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.False(t, result.Recovered)

	for _, file := range result.Files {
		relative := strings.TrimPrefix(file.Path, f.store.Root()+"/")
		assert.Equal(t, 1, f.store.Uploads(relative))
	}
	assert.Len(t, f.store.Paths("lake/orders/data/"), len(result.Files))

	referenced := f.catalog.Files(f.writer.Table())
	assert.Equal(t, result.Files, referenced)
}

func Test_Commit_Conflict_Exhausts(t *testing.T) {
	f := newFixture(t, Options{CommitMaxAttempts: 3})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	commits := 0
	f.catalog.OnCommit(func(request catalog.CommitRequest) error {
		commits++
		return catalog.ErrCommitConflict
	})

	_, err := f.writer.Commit(ctx, rowBatch(insert(0x100, 1, 1)), schema)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindCommitConflict))
	assert.Equal(t, 3, commits)
}

func Test_Commit_Recognizes_Own_Snapshot(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	batch := rowBatch(insert(0x100, 1, 1))

	// the commit went through but the acknowledgment was lost
	_, err := f.catalog.Commit(ctx, catalog.CommitRequest{
		Table:              f.writer.Table(),
		ExpectedSnapshotID: catalog.NoSnapshot,
		SchemaID:           1,
		Summary: map[string]string{
			catalog.SummaryPipelineID:  "p1",
			catalog.SummaryMaxPosition: batch.MaxPosition.String(),
		},
	})
	require.NoError(t, err)

	result, err := f.writer.Commit(ctx, batch, schema)
	require.NoError(t, err)
	assert.True(t, result.Recovered)
	assert.Equal(t, 1, f.catalog.Commits())
}

func Test_Transient_Failure_Keeps_Files_For_Retry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	failing := true
	f.catalog.OnCommit(func(request catalog.CommitRequest) error {
		if failing {
			failing = false
			return fmt.Errorf("catalog unavailable")
		}
		return nil
	})

	batch := rowBatch(insert(0x100, 1, 1), insert(0x100, 2, 2))
	_, err := f.writer.Commit(ctx, batch, schema)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindTransientIO))

	result, err := f.writer.Commit(ctx, batch, schema)
	require.NoError(t, err)
	assert.Len(t, f.store.Paths("lake/orders/data/"), len(result.Files))
}

// lostAckCatalog applies a commit but reports a transport failure for it
type lostAckCatalog struct {
	*memorycatalog.Catalog
	lost int
}

func (c *lostAckCatalog) Commit(
	ctx context.Context, request catalog.CommitRequest,
) (int64, error) {

	snapshotID, err := c.Catalog.Commit(ctx, request)
	if err == nil && c.lost > 0 {
		c.lost--
		return 0, faults.Transientf("connection reset after commit")
	}
	return snapshotID, err
}

func Test_Lost_Commit_Acknowledgement_Is_Not_Committed_Twice(t *testing.T) {
	lake := &lostAckCatalog{Catalog: memorycatalog.NewMemoryCatalog(nil), lost: 1}
	writer, err := NewWriter(lake, memorystore.NewMemoryStore("test"), "orders", Options{
		PipelineId: "p1",
		Namespace:  "lake",
	})
	require.NoError(t, err)

	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, writer.ApplySchema(ctx, schema))

	batch := rowBatch(insert(0x100, 1, 1), insert(0x100, 2, 2))
	_, err = writer.Commit(ctx, batch, schema)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindTransientIO))

	result, err := writer.Commit(ctx, batch, schema)
	require.NoError(t, err)
	assert.True(t, result.Recovered)
	assert.Equal(t, 1, lake.Commits())

	rows := int64(0)
	for _, file := range lake.Files(writer.Table()) {
		rows += file.RecordCount
	}
	assert.Equal(t, int64(2), rows)

	next, err := writer.Commit(ctx, rowBatch(insert(0x200, 1, 3)), schema)
	require.NoError(t, err)
	assert.False(t, next.Recovered)
	assert.Equal(t, 2, lake.Commits())
}

func Test_Commit_Without_Table_Is_Schema_Error(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.writer.Commit(context.Background(), rowBatch(insert(0x100, 1, 1)), ordersSchema())
	assert.True(t, faults.Is(err, faults.KindSchema))
}

func Test_Empty_And_Schema_Batches_Commit_Nothing(t *testing.T) {
	f := newFixture(t, Options{})
	result, err := f.writer.Commit(context.Background(), &changes.TableBatch{Kind: changes.SchemaBatch}, ordersSchema())
	require.NoError(t, err)
	assert.Zero(t, result.SnapshotID)
	assert.Zero(t, f.catalog.Commits())
}

func Test_Recover_Watermark_Skips_Foreign_Snapshots(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	schema := ordersSchema()
	require.NoError(t, f.writer.ApplySchema(ctx, schema))

	batch := rowBatch(insert(0x100, 1, 1))
	first, err := f.writer.Commit(ctx, batch, schema)
	require.NoError(t, err)

	_, err = f.catalog.Commit(ctx, catalog.CommitRequest{
		Table:              f.writer.Table(),
		ExpectedSnapshotID: first.SnapshotID,
		SchemaID:           1,
		Summary:            map[string]string{catalog.SummaryPipelineID: "other"},
	})
	require.NoError(t, err)

	watermark, found, err := f.writer.RecoverWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, batch.MaxPosition, watermark)
}
