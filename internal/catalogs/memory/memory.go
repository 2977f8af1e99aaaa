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

// Package memory implements an in-process catalog with the conditional
// commit semantics of a real catalog. Used for development and tests.
package memory

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-uuid"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/spi/catalog"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/samber/lo"
	"sync"
)

func init() {
	catalog.RegisterCatalog(spiconfig.MemoryCatalog,
		func(_ *spiconfig.Config, _ objectstore.Store) (catalog.Catalog, error) {
			return NewMemoryCatalog(nil), nil
		},
	)
}

type table struct {
	metadata *catalog.TableMetadata
	files    map[int64][]catalog.DataFile
}

type Catalog struct {
	mutex          sync.Mutex
	clock          clock.Clock
	tables         map[string]*table
	nextSnapshotID int64
	commits        int
	// beforeCommit is called with the lock held, a returned error fails
	// the commit.
	beforeCommit func(request catalog.CommitRequest) error
}

func NewMemoryCatalog(
	clk clock.Clock,
) *Catalog {

	if clk == nil {
		clk = clock.System
	}
	return &Catalog{
		clock:          clk,
		tables:         make(map[string]*table),
		nextSnapshotID: 1000,
	}
}

// OnCommit installs a hook called before every commit is applied
func (c *Catalog) OnCommit(
	hook func(request catalog.CommitRequest) error,
) {

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.beforeCommit = hook
}

func (c *Catalog) LoadTable(
	_ context.Context, id catalog.Identifier,
) (*catalog.TableMetadata, error) {

	c.mutex.Lock()
	defer c.mutex.Unlock()

	t, present := c.tables[id.String()]
	if !present {
		return nil, errors.WrapPrefix(catalog.ErrNoSuchTable, id.String(), 0)
	}
	return cloneMetadata(t.metadata), nil
}

func (c *Catalog) CreateTable(
	_ context.Context, id catalog.Identifier, schema *tableschema.TableSchema, location string,
) (*catalog.TableMetadata, error) {

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, present := c.tables[id.String()]; present {
		return nil, errors.WrapPrefix(catalog.ErrTableAlreadyExists, id.String(), 0)
	}
	tableUUID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	metadata := &catalog.TableMetadata{
		Identifier:        id,
		Location:          location,
		FormatVersion:     2,
		CurrentSchemaID:   schema.SchemaID,
		Schemas:           []*tableschema.TableSchema{schema.Clone()},
		CurrentSnapshotID: catalog.NoSnapshot,
		Properties: map[string]string{
			"table-uuid": tableUUID,
		},
	}
	c.tables[id.String()] = &table{
		metadata: metadata,
		files:    make(map[int64][]catalog.DataFile),
	}
	return cloneMetadata(metadata), nil
}

func (c *Catalog) UpdateSchema(
	_ context.Context, id catalog.Identifier, expectedSchemaID int, schema *tableschema.TableSchema,
) (*catalog.TableMetadata, error) {

	c.mutex.Lock()
	defer c.mutex.Unlock()

	t, present := c.tables[id.String()]
	if !present {
		return nil, errors.WrapPrefix(catalog.ErrNoSuchTable, id.String(), 0)
	}
	metadata := t.metadata
	if metadata.CurrentSchemaID != expectedSchemaID {
		return nil, errors.WrapPrefix(catalog.ErrCommitConflict, "current schema changed", 0)
	}
	if lo.ContainsBy(metadata.Schemas, func(existing *tableschema.TableSchema) bool {
		return existing.SchemaID == schema.SchemaID
	}) {
		return nil, errors.Errorf("schema id %d already exists in %s", schema.SchemaID, id)
	}

	metadata.Schemas = append(metadata.Schemas, schema.Clone())
	metadata.CurrentSchemaID = schema.SchemaID
	return cloneMetadata(metadata), nil
}

func (c *Catalog) Commit(
	_ context.Context, request catalog.CommitRequest,
) (int64, error) {

	c.mutex.Lock()
	defer c.mutex.Unlock()

	t, present := c.tables[request.Table.String()]
	if !present {
		return 0, errors.WrapPrefix(catalog.ErrNoSuchTable, request.Table.String(), 0)
	}
	if c.beforeCommit != nil {
		if err := c.beforeCommit(request); err != nil {
			return 0, err
		}
	}

	metadata := t.metadata
	if metadata.CurrentSnapshotID != request.ExpectedSnapshotID {
		return 0, errors.WrapPrefix(catalog.ErrCommitConflict, "current snapshot changed", 0)
	}
	if !lo.ContainsBy(metadata.Schemas, func(schema *tableschema.TableSchema) bool {
		return schema.SchemaID == request.SchemaID
	}) {
		return 0, errors.Errorf("unknown schema id %d for %s", request.SchemaID, request.Table)
	}

	sequenceNumber := int64(1)
	if parent, found := metadata.CurrentSnapshot(); found {
		sequenceNumber = parent.SequenceNumber + 1
	}

	c.nextSnapshotID++
	snapshot := catalog.Snapshot{
		SnapshotID:     c.nextSnapshotID,
		ParentID:       metadata.CurrentSnapshotID,
		SequenceNumber: sequenceNumber,
		TimestampMs:    c.clock.Now().UnixMilli(),
		SchemaID:       request.SchemaID,
		Summary:        lo.Assign(request.Summary),
	}
	metadata.Snapshots = append(metadata.Snapshots, snapshot)
	metadata.CurrentSnapshotID = snapshot.SnapshotID
	t.files[snapshot.SnapshotID] = append([]catalog.DataFile{}, request.Files...)
	c.commits++
	return snapshot.SnapshotID, nil
}

// Commits returns the number of successful commits over all tables
func (c *Catalog) Commits() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.commits
}

// Files returns the files referenced by the current snapshot ancestry
// of the table, oldest snapshot first.
func (c *Catalog) Files(
	id catalog.Identifier,
) []catalog.DataFile {

	c.mutex.Lock()
	defer c.mutex.Unlock()

	t, present := c.tables[id.String()]
	if !present {
		return nil
	}

	chain := make([]int64, 0)
	snapshot, found := t.metadata.CurrentSnapshot()
	for found {
		chain = append(chain, snapshot.SnapshotID)
		snapshot, found = t.metadata.Snapshot(snapshot.ParentID)
	}

	files := make([]catalog.DataFile, 0)
	for i := len(chain) - 1; i >= 0; i-- {
		files = append(files, t.files[chain[i]]...)
	}
	return files
}

func cloneMetadata(
	metadata *catalog.TableMetadata,
) *catalog.TableMetadata {

	clone := *metadata
	clone.Schemas = lo.Map(metadata.Schemas, func(schema *tableschema.TableSchema, _ int) *tableschema.TableSchema {
		return schema.Clone()
	})
	clone.Snapshots = lo.Map(metadata.Snapshots, func(snapshot catalog.Snapshot, _ int) catalog.Snapshot {
		snapshot.Summary = lo.Assign(snapshot.Summary)
		return snapshot
	})
	clone.Properties = lo.Assign(metadata.Properties)
	return &clone
}
