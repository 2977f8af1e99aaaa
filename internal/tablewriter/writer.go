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

// Package tablewriter writes collapsed batches as data files and commits
// them as new snapshots of the destination table.
package tablewriter

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/tableschema"
	"strconv"
)

const (
	SummaryAddedRecords     = "added-records"
	SummaryAddedDataFiles   = "added-data-files"
	SummaryAddedDeleteFiles = "added-delete-files"
)

type Options struct {
	PipelineId        string
	Namespace         string
	Mode              config.WriteMode
	Buckets           int
	MaxFileRows       int
	CommitMaxAttempts int
}

type CommitResult struct {
	SnapshotID int64
	Files      []catalog.DataFile
	Conflicts  int
	// Recovered is set when the batch turned out to be committed already
	Recovered bool
}

// pendingCommit remembers the uploaded files of a batch whose commit
// failed, a retry of the same batch references them instead of writing
// new files.
type pendingCommit struct {
	minPosition changes.Position
	maxPosition changes.Position
	schemaID    int
	files       []catalog.DataFile
}

// Writer is the single writer of one destination table. It is not safe
// for concurrent use, batches of a table are committed sequentially.
type Writer struct {
	logger   *logging.Logger
	catalog  catalog.Catalog
	store    objectstore.Store
	table    catalog.Identifier
	options  Options
	metadata *catalog.TableMetadata
	pending  *pendingCommit
}

func NewWriter(
	c catalog.Catalog, store objectstore.Store, destinationTable string, options Options,
) (*Writer, error) {

	logger, err := logging.NewPipelineLogger("TableWriter", options.PipelineId)
	if err != nil {
		return nil, err
	}
	if options.Mode == "" {
		options.Mode = config.AppendChangelog
	}
	if options.CommitMaxAttempts <= 0 {
		options.CommitMaxAttempts = config.DefaultCommitMaxAttempts
	}
	return &Writer{
		logger:  logger.Tagged(destinationTable),
		catalog: c,
		store:   store,
		table:   catalog.ParseIdentifier(destinationTable, options.Namespace),
		options: options,
	}, nil
}

func (w *Writer) Table() catalog.Identifier {
	return w.table
}

// Load refreshes the table metadata. A table which does not exist yet
// yields nil metadata without an error.
func (w *Writer) Load(
	ctx context.Context,
) (*catalog.TableMetadata, error) {

	metadata, err := w.catalog.LoadTable(ctx, w.table)
	if err != nil {
		if errors.Is(err, catalog.ErrNoSuchTable) {
			w.metadata = nil
			return nil, nil
		}
		return nil, w.classify(err)
	}
	w.metadata = metadata
	return metadata, nil
}

// CurrentSchema returns the current destination schema, or nil if the
// table does not exist.
func (w *Writer) CurrentSchema(
	ctx context.Context,
) (*tableschema.TableSchema, error) {

	metadata, err := w.Load(ctx)
	if err != nil || metadata == nil {
		return nil, err
	}
	return metadata.CurrentSchema(), nil
}

// ApplySchema makes the schema the current schema of the table, creating
// the table if it does not exist yet. Applying the current schema again
// is a no-op.
func (w *Writer) ApplySchema(
	ctx context.Context, schema *tableschema.TableSchema,
) error {

	for attempt := 1; ; attempt++ {
		metadata, err := w.Load(ctx)
		if err != nil {
			return err
		}

		if metadata == nil {
			location := objectstore.URI(w.store, w.table.Path())
			created, err := w.catalog.CreateTable(ctx, w.table, schema, location)
			if err == nil {
				w.metadata = created
				w.logger.Infof("Created table %s with schema version %d", w.table, schema.SchemaID)
				return nil
			}
			if !errors.Is(err, catalog.ErrTableAlreadyExists) || attempt >= w.options.CommitMaxAttempts {
				return w.classify(err)
			}
			continue
		}

		current := metadata.CurrentSchema()
		if current != nil && current.SchemaID == schema.SchemaID {
			if current.Equal(schema) {
				return nil
			}
			return faults.Schemaf(
				"schema version %d of %s differs from the published version", schema.SchemaID, w.table,
			)
		}
		if current != nil && current.SchemaID > schema.SchemaID {
			return faults.Schemaf(
				"schema version %d of %s is older than the current version %d",
				schema.SchemaID, w.table, current.SchemaID,
			)
		}

		expected := 0
		if current != nil {
			expected = current.SchemaID
		}
		updated, err := w.catalog.UpdateSchema(ctx, w.table, expected, schema)
		if err == nil {
			w.metadata = updated
			w.logger.Infof("Evolved table %s to schema version %d", w.table, schema.SchemaID)
			return nil
		}
		if !errors.Is(err, catalog.ErrCommitConflict) || attempt >= w.options.CommitMaxAttempts {
			return w.classify(err)
		}
		w.logger.Debugf("Schema update of %s conflicted, attempt %d", w.table, attempt)
	}
}

// Commit writes the batch and commits it as a new snapshot. The snapshot
// id is returned only after the catalog acknowledged the commit.
func (w *Writer) Commit(
	ctx context.Context, batch *changes.TableBatch, schema *tableschema.TableSchema,
) (CommitResult, error) {

	if batch == nil || batch.IsSchemaChange() || len(batch.Events) == 0 {
		return CommitResult{}, nil
	}
	if schema == nil {
		return CommitResult{}, faults.Schemaf("no schema published for %s", w.table)
	}

	if w.metadata == nil {
		if _, err := w.Load(ctx); err != nil {
			return CommitResult{}, err
		}
		if w.metadata == nil {
			return CommitResult{}, faults.Schemaf("table %s does not exist", w.table)
		}
	}

	// a commit whose acknowledgement got lost is already part of the table
	if snapshot, found := w.committedSnapshot(batch.MaxPosition); found {
		return w.recovered(batch, CommitResult{}, snapshot), nil
	}

	files, err := w.filesFor(ctx, batch, schema)
	if err != nil {
		return CommitResult{}, err
	}

	summary := w.summary(batch, files)
	result := CommitResult{Files: files}
	for {
		snapshotID, err := w.catalog.Commit(ctx, catalog.CommitRequest{
			Table:              w.table,
			ExpectedSnapshotID: w.metadata.CurrentSnapshotID,
			SchemaID:           schema.SchemaID,
			Files:              files,
			Summary:            summary,
		})
		if err == nil {
			w.pending = nil
			w.metadata.CurrentSnapshotID = snapshotID
			result.SnapshotID = snapshotID
			w.logger.Verbosef(
				"Committed snapshot %d of %s with %d rows in %d files up to %s",
				snapshotID, w.table, batch.Rows(), len(files), batch.MaxPosition,
			)
			return result, nil
		}
		if !errors.Is(err, catalog.ErrCommitConflict) {
			w.metadata = nil
			return result, w.classify(err)
		}

		result.Conflicts++
		if _, err := w.Load(ctx); err != nil {
			return result, err
		}
		if w.metadata == nil {
			return result, faults.Schemaf("table %s was dropped concurrently", w.table)
		}
		if snapshot, found := w.committedSnapshot(batch.MaxPosition); found {
			return w.recovered(batch, result, snapshot), nil
		}
		if result.Conflicts >= w.options.CommitMaxAttempts {
			return result, faults.Conflict(errors.WrapPrefix(catalog.ErrCommitConflict,
				"commit of "+w.table.String()+" conflicted "+strconv.Itoa(result.Conflicts)+" times", 0))
		}
		w.logger.Debugf("Commit of %s conflicted, retrying on snapshot %d", w.table, w.metadata.CurrentSnapshotID)
	}
}

func (w *Writer) recovered(
	batch *changes.TableBatch, result CommitResult, snapshot catalog.Snapshot,
) CommitResult {

	w.pending = nil
	result.SnapshotID = snapshot.SnapshotID
	result.Recovered = true
	w.logger.Infof("Batch up to %s of %s was already committed as snapshot %d",
		batch.MaxPosition, w.table, snapshot.SnapshotID)
	return result
}

// RecoverWatermark returns the highest source position this pipeline
// committed into the table, read from the snapshot summaries.
func (w *Writer) RecoverWatermark(
	ctx context.Context,
) (changes.Position, bool, error) {

	metadata, err := w.Load(ctx)
	if err != nil || metadata == nil {
		return changes.Position{}, false, err
	}
	snapshot, found := latestOfPipeline(metadata, w.options.PipelineId)
	if !found {
		return changes.Position{}, false, nil
	}
	position, err := changes.ParsePosition(snapshot.Summary[catalog.SummaryMaxPosition])
	if err != nil {
		return changes.Position{}, false, faults.Decode(err)
	}
	return position, true, nil
}

func (w *Writer) filesFor(
	ctx context.Context, batch *changes.TableBatch, schema *tableschema.TableSchema,
) ([]catalog.DataFile, error) {

	if p := w.pending; p != nil {
		if p.minPosition == batch.MinPosition && p.maxPosition == batch.MaxPosition && p.schemaID == schema.SchemaID {
			return p.files, nil
		}
		w.pending = nil
	}

	writer, err := newFileWriter(w.store, w.metadata.Location, w.options.PipelineId, schema)
	if err != nil {
		return nil, err
	}
	files, err := writer.writeBatch(ctx, batch.Events, w.options.Mode, w.options.Buckets, w.options.MaxFileRows)
	if err != nil {
		return nil, err
	}
	w.pending = &pendingCommit{
		minPosition: batch.MinPosition,
		maxPosition: batch.MaxPosition,
		schemaID:    schema.SchemaID,
		files:       files,
	}
	return files, nil
}

func (w *Writer) summary(
	batch *changes.TableBatch, files []catalog.DataFile,
) map[string]string {

	records := int64(0)
	dataFiles := 0
	deleteFiles := 0
	for _, file := range files {
		if file.Content == catalog.DataContent {
			records += file.RecordCount
			dataFiles++
		} else {
			deleteFiles++
		}
	}
	return map[string]string{
		catalog.SummaryPipelineID:  w.options.PipelineId,
		catalog.SummaryMaxPosition: batch.MaxPosition.String(),
		SummaryAddedRecords:        strconv.FormatInt(records, 10),
		SummaryAddedDataFiles:      strconv.Itoa(dataFiles),
		SummaryAddedDeleteFiles:    strconv.Itoa(deleteFiles),
	}
}

// committedSnapshot finds a snapshot of this pipeline in the current
// ancestry which already covers the position.
func (w *Writer) committedSnapshot(
	position changes.Position,
) (catalog.Snapshot, bool) {

	snapshot, found := latestOfPipeline(w.metadata, w.options.PipelineId)
	if !found {
		return catalog.Snapshot{}, false
	}
	committed, err := changes.ParsePosition(snapshot.Summary[catalog.SummaryMaxPosition])
	if err != nil || committed.Before(position) {
		return catalog.Snapshot{}, false
	}
	return snapshot, true
}

func (w *Writer) classify(
	err error,
) error {

	switch {
	case errors.Is(err, catalog.ErrNoSuchTable):
		return faults.Schemaf("table %s does not exist: %s", w.table, err.Error())
	case errors.Is(err, catalog.ErrCommitConflict):
		return faults.Conflict(err)
	case faults.KindOf(err) != faults.KindTransientIO:
		return err
	}
	return faults.Transient(err)
}

// latestOfPipeline walks the ancestry of the current snapshot and
// returns the newest snapshot committed by the pipeline.
func latestOfPipeline(
	metadata *catalog.TableMetadata, pipelineId string,
) (catalog.Snapshot, bool) {

	visited := make(map[int64]bool)
	snapshot, found := metadata.CurrentSnapshot()
	for found && !visited[snapshot.SnapshotID] {
		visited[snapshot.SnapshotID] = true
		if snapshot.Summary[catalog.SummaryPipelineID] == pipelineId {
			return snapshot, true
		}
		snapshot, found = metadata.Snapshot(snapshot.ParentID)
	}
	return catalog.Snapshot{}, false
}
