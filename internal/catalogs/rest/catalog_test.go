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

package rest

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/goccy/go-json"
	memorystore "github.com/noctarius/lakestream/internal/objectstores/memory"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeCatalog implements the subset of the Iceberg REST protocol the
// client uses, including requirement validation.
type fakeCatalog struct {
	mutex         sync.Mutex
	namespaces    map[string]bool
	tables        map[string]*icebergMetadata
	tokens        int
	rejectedToken string
	requireToken  bool
	failNext      int
	moveRef       bool
	paths         []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		namespaces: make(map[string]bool),
		tables:     make(map[string]*icebergMetadata),
	}
}

func (f *fakeCatalog) update(fn func(fake *fakeCatalog)) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	fn(f)
}

func (f *fakeCatalog) tokenCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.tokens
}

func (f *fakeCatalog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.paths = append(f.paths, r.Method+" "+r.URL.Path)

	if r.URL.Path == "/v1/oauth/tokens" {
		err := r.ParseForm()
		if err != nil || r.PostForm.Get("client_id") != "lake" || r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokens++
		f.reply(w, http.StatusOK, tokenResponse{AccessToken: "token-" + strconv.Itoa(f.tokens), ExpiresIn: 3600})
		return
	}

	if f.requireToken {
		header := r.Header.Get("Authorization")
		if header == "" || header == "Bearer "+f.rejectedToken {
			f.fail(w, http.StatusUnauthorized, "NotAuthorizedException", "token expired")
			return
		}
	}

	if f.failNext != 0 {
		status := f.failNext
		f.failNext = 0
		f.fail(w, status, "ServiceFailureException", "injected")
		return
	}

	if r.URL.Path == "/v1/config" {
		f.reply(w, http.StatusOK, configResponse{Overrides: map[string]string{"prefix": "wh"}})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/wh/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "namespaces" && r.Method == http.MethodPost:
		var request createNamespaceRequest
		f.decode(r, &request)
		key := strings.Join(request.Namespace, namespaceSeparator)
		if f.namespaces[key] {
			f.fail(w, http.StatusConflict, "AlreadyExistsException", "namespace exists")
			return
		}
		f.namespaces[key] = true
		f.reply(w, http.StatusOK, request)

	case len(parts) == 3 && parts[2] == "tables" && r.Method == http.MethodPost:
		if !f.namespaces[parts[1]] {
			f.fail(w, http.StatusNotFound, "NoSuchNamespaceException", "namespace missing")
			return
		}
		var request createTableRequest
		f.decode(r, &request)
		key := parts[1] + "/" + request.Name
		if _, present := f.tables[key]; present {
			f.fail(w, http.StatusConflict, "AlreadyExistsException", "table exists")
			return
		}
		schema := request.Schema
		schema.SchemaID = 0
		metadata := &icebergMetadata{
			FormatVersion:   2,
			TableUUID:       "uuid-" + request.Name,
			Location:        request.Location,
			CurrentSchemaID: 0,
			Schemas:         []icebergSchema{schema},
			Properties:      request.Properties,
			Refs:            map[string]icebergRef{},
		}
		f.tables[key] = metadata
		f.reply(w, http.StatusOK, loadTableResponse{Metadata: *metadata})

	case len(parts) == 4 && parts[2] == "tables":
		metadata, present := f.tables[parts[1]+"/"+parts[3]]
		if !present {
			f.fail(w, http.StatusNotFound, "NoSuchTableException", "table missing")
			return
		}
		if r.Method == http.MethodGet {
			f.reply(w, http.StatusOK, loadTableResponse{Metadata: *metadata})
			return
		}
		f.commit(w, r, metadata)

	default:
		f.fail(w, http.StatusBadRequest, "BadRequestException", "unexpected "+r.URL.Path)
	}
}

func (f *fakeCatalog) commit(w http.ResponseWriter, r *http.Request, metadata *icebergMetadata) {
	var request struct {
		Requirements []map[string]any `json:"requirements"`
		Updates      []update         `json:"updates"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&request); err != nil {
		f.fail(w, http.StatusBadRequest, "BadRequestException", err.Error())
		return
	}

	if f.moveRef {
		f.moveRef = false
		metadata.Refs[mainBranch] = icebergRef{SnapshotID: 99, Type: "branch"}
	}

	for _, requirement := range request.Requirements {
		switch requirement["type"] {
		case "assert-ref-snapshot-id":
			ref, present := metadata.Refs[requirement["ref"].(string)]
			expected, isNumber := requirement["snapshot-id"].(json.Number)
			if present != isNumber || (present && expected.String() != strconv.FormatInt(ref.SnapshotID, 10)) {
				f.fail(w, http.StatusConflict, "CommitFailedException", "ref changed")
				return
			}
		case "assert-current-schema-id":
			if requirement["current-schema-id"].(json.Number).String() != strconv.Itoa(metadata.CurrentSchemaID) {
				f.fail(w, http.StatusConflict, "CommitFailedException", "schema changed")
				return
			}
		}
	}

	for _, u := range request.Updates {
		switch u.Action {
		case "add-schema":
			schema := *u.Schema
			schema.SchemaID = len(metadata.Schemas)
			metadata.Schemas = append(metadata.Schemas, schema)
			metadata.LastColumnID = *u.LastColumnID
		case "set-current-schema":
			metadata.CurrentSchemaID = len(metadata.Schemas) - 1
		case "add-snapshot":
			metadata.Snapshots = append(metadata.Snapshots, *u.Snapshot)
			metadata.LastSequenceNumber = u.Snapshot.SequenceNumber
		case "set-snapshot-ref":
			metadata.Refs[u.RefName] = icebergRef{SnapshotID: *u.SnapshotID, Type: u.Type}
			metadata.CurrentSnapshotID = u.SnapshotID
		}
	}
	f.reply(w, http.StatusOK, loadTableResponse{Metadata: *metadata})
}

func (f *fakeCatalog) decode(r *http.Request, out any) {
	_ = json.NewDecoder(r.Body).Decode(out)
}

func (f *fakeCatalog) reply(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeCatalog) fail(w http.ResponseWriter, status int, kind, message string) {
	response := errorResponse{}
	response.Error.Type = kind
	response.Error.Message = message
	response.Error.Code = status
	f.reply(w, status, response)
}

func ordersSchema() *tableschema.TableSchema {
	columns := []tableschema.Column{
		{ID: 1, Name: "id", Type: tableschema.Primitive(tableschema.Long), PrimaryKey: true},
		{ID: 2, Name: "amount", Type: tableschema.DecimalOf(12, 2), Nullable: true},
		{ID: 3, Name: "legacy", Type: tableschema.Primitive(tableschema.Int), Nullable: true, Deprecated: true},
	}
	return &tableschema.TableSchema{
		SchemaID: 1,
		Columns:  append(columns, tableschema.MetadataColumns(4)...),
	}
}

type fixture struct {
	fake    *fakeCatalog
	store   *memorystore.Store
	catalog *Catalog
	table   catalog.Identifier
}

func newFixture(t *testing.T, options Options) fixture {
	fake := newFakeCatalog()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	options.URI = server.URL
	store := memorystore.NewMemoryStore("test")
	c, err := NewRestCatalog(options, store)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return fixture{
		fake:    fake,
		store:   store,
		catalog: c,
		table:   catalog.ParseIdentifier("lake.orders", ""),
	}
}

func (f fixture) create(t *testing.T) *catalog.TableMetadata {
	metadata, err := f.catalog.CreateTable(context.Background(), f.table, ordersSchema(), "memory://test/lake/orders")
	require.NoError(t, err)
	return metadata
}

func Test_Create_And_Load_Round_Trip(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.create(t)
	assert.True(t, created.CurrentSchema().Equal(ordersSchema()))

	loaded, err := f.catalog.LoadTable(context.Background(), f.table)
	require.NoError(t, err)
	assert.Equal(t, "memory://test/lake/orders", loaded.Location)
	assert.Equal(t, catalog.NoSnapshot, loaded.CurrentSnapshotID)
	assert.True(t, loaded.CurrentSchema().Equal(ordersSchema()))
	assert.Equal(t, []int{1}, loaded.CurrentSchema().IdentifierFieldIDs())

	assert.Contains(t, f.fake.paths, "POST /v1/wh/namespaces")
	assert.Contains(t, f.fake.paths, "GET /v1/wh/namespaces/lake/tables/orders")

	_, err = f.catalog.CreateTable(context.Background(), f.table, ordersSchema(), "")
	assert.True(t, errors.Is(err, catalog.ErrTableAlreadyExists))
}

func Test_Update_Schema_Asserts_Current_Schema(t *testing.T) {
	f := newFixture(t, Options{})
	f.create(t)
	ctx := context.Background()

	evolved := ordersSchema()
	evolved.SchemaID = 2
	evolved.Columns = append(evolved.Columns, tableschema.Column{
		ID: 9, Name: "region", Type: tableschema.Primitive(tableschema.String), Nullable: true,
	})
	metadata, err := f.catalog.UpdateSchema(ctx, f.table, 1, evolved)
	require.NoError(t, err)
	assert.Equal(t, 2, metadata.CurrentSchemaID)
	assert.True(t, metadata.CurrentSchema().Equal(evolved))

	stale := evolved.Clone()
	stale.SchemaID = 3
	_, err = f.catalog.UpdateSchema(ctx, f.table, 1, stale)
	assert.True(t, errors.Is(err, catalog.ErrCommitConflict))
}

func Test_Commit_Writes_Manifests(t *testing.T) {
	f := newFixture(t, Options{})
	f.create(t)
	ctx := context.Background()

	first, err := f.catalog.Commit(ctx, catalog.CommitRequest{
		Table:              f.table,
		ExpectedSnapshotID: catalog.NoSnapshot,
		SchemaID:           1,
		Files: []catalog.DataFile{
			{Path: "memory://test/lake/orders/data/p1/a-1.parquet", RecordCount: 10, FileSizeBytes: 100},
		},
		Summary: map[string]string{catalog.SummaryPipelineID: "p1", catalog.SummaryMaxPosition: "0/100#1"},
	})
	require.NoError(t, err)
	assert.Positive(t, first)

	second, err := f.catalog.Commit(ctx, catalog.CommitRequest{
		Table:              f.table,
		ExpectedSnapshotID: first,
		SchemaID:           1,
		Files: []catalog.DataFile{
			{Path: "memory://test/lake/orders/data/p1/b-1.parquet", RecordCount: 4, FileSizeBytes: 50},
			{
				Path:        "memory://test/lake/orders/data/p1/b-2.parquet", Content: catalog.EqualityDeletesContent,
				RecordCount: 2, FileSizeBytes: 20, EqualityFieldIDs: []int{1},
			},
		},
		Summary: map[string]string{catalog.SummaryPipelineID: "p1", catalog.SummaryMaxPosition: "0/200#1"},
	})
	require.NoError(t, err)

	metadata, err := f.catalog.LoadTable(ctx, f.table)
	require.NoError(t, err)
	assert.Equal(t, second, metadata.CurrentSnapshotID)

	snapshot, found := metadata.CurrentSnapshot()
	require.True(t, found)
	assert.Equal(t, first, snapshot.ParentID)
	assert.Equal(t, int64(2), snapshot.SequenceNumber)
	assert.Equal(t, 1, snapshot.SchemaID)
	assert.Equal(t, "overwrite", snapshot.Summary[summaryOperation])
	assert.Equal(t, "0/200#1", snapshot.Summary[catalog.SummaryMaxPosition])

	manifests, err := readManifestList(ctx, f.store, snapshot.ManifestList)
	require.NoError(t, err)
	require.Len(t, manifests, 3)
	assert.Equal(t, int32(manifestContentData), manifests[0].Content)
	assert.Equal(t, int32(manifestContentDeletes), manifests[1].Content)
	assert.Equal(t, first, manifests[2].AddedSnapshotID)
	assert.Equal(t, int64(10), manifests[2].AddedRowsCount)

	entries, err := readManifest(ctx, f.store, manifests[1].ManifestPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "memory://test/lake/orders/data/p1/b-2.parquet", entries[0].DataFile.FilePath)
	require.NotNil(t, entries[0].DataFile.EqualityIDs)
	assert.Equal(t, []int32{1}, *entries[0].DataFile.EqualityIDs)
	assert.Equal(t, second, *entries[0].SnapshotID)
}

func Test_Commit_Conflicts(t *testing.T) {
	f := newFixture(t, Options{})
	f.create(t)
	ctx := context.Background()

	request := catalog.CommitRequest{
		Table:              f.table,
		ExpectedSnapshotID: 42,
		SchemaID:           1,
		Files:              []catalog.DataFile{{Path: "memory://test/lake/orders/data/x.parquet", RecordCount: 1}},
	}
	_, err := f.catalog.Commit(ctx, request)
	assert.True(t, errors.Is(err, catalog.ErrCommitConflict))

	// another writer wins the race after the table was loaded
	f.fake.update(func(fake *fakeCatalog) {
		fake.moveRef = true
	})
	request.ExpectedSnapshotID = catalog.NoSnapshot
	_, err = f.catalog.Commit(ctx, request)
	assert.True(t, errors.Is(err, catalog.ErrCommitConflict))

	metadata, err := f.catalog.LoadTable(ctx, f.table)
	require.NoError(t, err)
	assert.Equal(t, int64(99), metadata.CurrentSnapshotID)
}

func Test_Status_Mapping(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.catalog.LoadTable(ctx, f.table)
	assert.True(t, errors.Is(err, catalog.ErrNoSuchTable))

	f.fake.update(func(fake *fakeCatalog) {
		fake.failNext = http.StatusServiceUnavailable
	})
	_, err = f.catalog.LoadTable(ctx, f.table)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindTransientIO))

	f.fake.update(func(fake *fakeCatalog) {
		fake.failNext = http.StatusBadRequest
	})
	_, err = f.catalog.LoadTable(ctx, f.table)
	assert.True(t, faults.Is(err, faults.KindSchema))
	assert.ErrorContains(t, err, "ServiceFailureException: injected")
}

func Test_OAuth2_Client_Credentials(t *testing.T) {
	f := newFixture(t, Options{Credential: "lake:secret"})
	f.fake.update(func(fake *fakeCatalog) {
		fake.requireToken = true
	})
	f.create(t)
	ctx := context.Background()

	_, err := f.catalog.LoadTable(ctx, f.table)
	require.NoError(t, err)
	assert.Equal(t, 1, f.fake.tokenCount())

	// an expired token is refreshed once
	f.fake.update(func(fake *fakeCatalog) {
		fake.rejectedToken = "token-1"
	})
	_, err = f.catalog.LoadTable(ctx, f.table)
	require.NoError(t, err)
	assert.Equal(t, 2, f.fake.tokenCount())
}

func Test_Static_Token_Rejected_Is_Fatal(t *testing.T) {
	f := newFixture(t, Options{Token: "static"})
	f.fake.update(func(fake *fakeCatalog) {
		fake.requireToken = true
		fake.rejectedToken = "static"
	})

	_, err := f.catalog.LoadTable(context.Background(), f.table)
	assert.True(t, faults.Is(err, faults.KindSchema))
}

func Test_Schema_Conversion(t *testing.T) {
	schema := ordersSchema()
	converted := toIcebergSchema(schema)
	assert.Equal(t, 0, converted.SchemaID)
	assert.Equal(t, "decimal(12,2)", converted.Fields[1].Type)
	assert.True(t, converted.Fields[0].Required)
	assert.False(t, converted.Fields[1].Required)
	assert.Equal(t, deprecatedDocPrefix, converted.Fields[2].Doc)

	back, err := fromIcebergSchema(converted)
	require.NoError(t, err)
	assert.True(t, back.Equal(schema))

	_, err = fromIcebergSchema(icebergSchema{Fields: []icebergField{{ID: 1, Name: "x", Type: "map"}}})
	assert.Error(t, err)
}
