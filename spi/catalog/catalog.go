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

package catalog

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/samber/lo"
	"strings"
)

var (
	ErrCommitConflict     = errors.Errorf("commit conflict, table changed concurrently")
	ErrNoSuchTable        = errors.Errorf("table does not exist")
	ErrTableAlreadyExists = errors.Errorf("table already exists")
)

// NoSnapshot is the expected snapshot id of a table without snapshots
const NoSnapshot int64 = -1

const (
	SummaryPipelineID  = "lakestream.pipeline-id"
	SummaryMaxPosition = "lakestream.max-position"
)

type FileContent int

const (
	DataContent            FileContent = 0
	EqualityDeletesContent FileContent = 2
)

// DataFile describes a file already written to object storage which is
// to be referenced by a new snapshot.
type DataFile struct {
	Path             string
	Content          FileContent
	RecordCount      int64
	FileSizeBytes    int64
	EqualityFieldIDs []int
}

type Snapshot struct {
	SnapshotID     int64
	ParentID       int64
	SequenceNumber int64
	TimestampMs    int64
	SchemaID       int
	ManifestList   string
	Summary        map[string]string
}

// TableMetadata is the view of a catalog table the writer needs
type TableMetadata struct {
	Identifier        Identifier
	Location          string
	FormatVersion     int
	CurrentSchemaID   int
	Schemas           []*tableschema.TableSchema
	CurrentSnapshotID int64
	Snapshots         []Snapshot
	Properties        map[string]string
}

func (m *TableMetadata) CurrentSchema() *tableschema.TableSchema {
	schema, found := lo.Find(m.Schemas, func(schema *tableschema.TableSchema) bool {
		return schema.SchemaID == m.CurrentSchemaID
	})
	if !found {
		return nil
	}
	return schema
}

func (m *TableMetadata) CurrentSnapshot() (Snapshot, bool) {
	return m.Snapshot(m.CurrentSnapshotID)
}

func (m *TableMetadata) Snapshot(snapshotID int64) (Snapshot, bool) {
	return lo.Find(m.Snapshots, func(snapshot Snapshot) bool {
		return snapshot.SnapshotID == snapshotID
	})
}

type CommitRequest struct {
	Table              Identifier
	ExpectedSnapshotID int64
	SchemaID           int
	Files              []DataFile
	Summary            map[string]string
}

// Catalog is the table catalog the writer commits snapshots to. Commits
// are conditional, a commit whose ExpectedSnapshotID does not match the
// current snapshot of the table fails with ErrCommitConflict.
type Catalog interface {
	LoadTable(ctx context.Context, table Identifier) (*TableMetadata, error)
	CreateTable(ctx context.Context, table Identifier, schema *tableschema.TableSchema, location string) (*TableMetadata, error)
	UpdateSchema(ctx context.Context, table Identifier, expectedSchemaID int, schema *tableschema.TableSchema) (*TableMetadata, error)
	Commit(ctx context.Context, request CommitRequest) (int64, error)
}

type Identifier struct {
	Namespace []string
	Name      string
}

// ParseIdentifier parses dot separated table names. Names without a
// namespace are placed into the default namespace.
func ParseIdentifier(value, defaultNamespace string) Identifier {
	parts := strings.Split(value, ".")
	if len(parts) == 1 {
		namespace := []string{}
		if defaultNamespace != "" {
			namespace = strings.Split(defaultNamespace, ".")
		}
		return Identifier{Namespace: namespace, Name: parts[0]}
	}
	return Identifier{Namespace: parts[:len(parts)-1], Name: parts[len(parts)-1]}
}

func (i Identifier) String() string {
	if len(i.Namespace) == 0 {
		return i.Name
	}
	return strings.Join(i.Namespace, ".") + "." + i.Name
}

func (i Identifier) Path() string {
	return strings.Join(append(append([]string{}, i.Namespace...), i.Name), "/")
}
