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

// Package rest implements an Iceberg REST catalog client. Snapshot
// manifests are written by the client itself, the catalog only swaps
// the table metadata on commit.
package rest

import (
	"context"
	"encoding/binary"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-uuid"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/catalog"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/samber/lo"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const mainBranch = "main"

const (
	defaultTimeout   = time.Second * 30
	summaryOperation = "operation"
)

func init() {
	catalog.RegisterCatalog(spiconfig.RestCatalog, newRestCatalog)
}

type Options struct {
	URI        string
	Prefix     string
	Warehouse  string
	Token      string
	Credential string
	OAuth2URI  string
	Timeout    time.Duration
	Clock      clock.Clock
}

type Catalog struct {
	logger  *logging.Logger
	client  *httpClient
	store   objectstore.Store
	options Options

	prefixMutex    sync.Mutex
	prefixResolved bool
	prefix         string
}

func newRestCatalog(
	c *spiconfig.Config, store objectstore.Store,
) (catalog.Catalog, error) {

	options := Options{
		URI:        spiconfig.GetOrDefault(c, spiconfig.PropertyRestCatalogUri, ""),
		Prefix:     spiconfig.GetOrDefault(c, spiconfig.PropertyRestCatalogPrefix, ""),
		Warehouse:  spiconfig.GetOrDefault(c, spiconfig.PropertyRestCatalogWarehouse, ""),
		Token:      spiconfig.GetOrDefault(c, spiconfig.PropertyRestCatalogToken, ""),
		Credential: spiconfig.GetOrDefault(c, spiconfig.PropertyRestCatalogCredential, ""),
		OAuth2URI:  spiconfig.GetOrDefault(c, spiconfig.PropertyRestCatalogOAuth2Uri, ""),
		Timeout:    spiconfig.GetOrDefault(c, spiconfig.PropertyRestCatalogTimeout, defaultTimeout),
	}
	return NewRestCatalog(options, store)
}

func NewRestCatalog(
	options Options, store objectstore.Store,
) (*Catalog, error) {

	if options.URI == "" {
		return nil, errors.Errorf("rest catalog requires an uri")
	}
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.System
	}

	logger, err := logging.NewLogger("RestCatalog")
	if err != nil {
		return nil, err
	}

	client := newHttpClient(
		options.URI, options.Token, options.Credential, options.OAuth2URI, options.Timeout, options.Clock,
	)
	return &Catalog{
		logger:  logger,
		client:  client,
		store:   store,
		options: options,
		prefix:  options.Prefix,
	}, nil
}

func (c *Catalog) LoadTable(
	ctx context.Context, id catalog.Identifier,
) (*catalog.TableMetadata, error) {

	response, err := c.loadTable(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromIcebergMetadata(id, response.Metadata)
}

func (c *Catalog) CreateTable(
	ctx context.Context, id catalog.Identifier, schema *tableschema.TableSchema, location string,
) (*catalog.TableMetadata, error) {

	endpoint, err := c.namespaceEndpoint(ctx, id.Namespace)
	if err != nil {
		return nil, err
	}

	request := createTableRequest{
		Name:     id.Name,
		Location: location,
		Schema:   toIcebergSchema(schema),
		Properties: map[string]string{
			"format-version":       "2",
			"write.format.default": "parquet",
			"write.delete.mode":    "merge-on-read",
		},
	}

	var response loadTableResponse
	err = c.client.do(ctx, http.MethodPost, endpoint+"/tables", request, &response)
	if errors.Is(err, catalog.ErrNoSuchTable) && len(id.Namespace) > 0 {
		if err := c.createNamespace(ctx, id.Namespace); err != nil {
			return nil, err
		}
		err = c.client.do(ctx, http.MethodPost, endpoint+"/tables", request, &response)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrCommitConflict) {
			return nil, errors.WrapPrefix(catalog.ErrTableAlreadyExists, id.String(), 0)
		}
		return nil, err
	}
	c.logger.Infof("Created table %s at %s", id, response.Metadata.Location)
	return fromIcebergMetadata(id, response.Metadata)
}

func (c *Catalog) UpdateSchema(
	ctx context.Context, id catalog.Identifier, expectedSchemaID int, schema *tableschema.TableSchema,
) (*catalog.TableMetadata, error) {

	endpoint, err := c.tableEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}

	icebergSchema := toIcebergSchema(schema)
	lastColumnID := lo.MaxBy(schema.Columns, func(a, b tableschema.Column) bool {
		return a.ID > b.ID
	}).ID
	currentSchema := -1

	request := commitTableRequest{
		Requirements: []requirement{assertCurrentSchemaID(expectedSchemaID)},
		Updates: []update{
			{Action: "add-schema", Schema: &icebergSchema, LastColumnID: &lastColumnID},
			{Action: "set-current-schema", SchemaID: &currentSchema},
		},
	}

	var response loadTableResponse
	if err := c.client.do(ctx, http.MethodPost, endpoint, request, &response); err != nil {
		return nil, err
	}
	return fromIcebergMetadata(id, response.Metadata)
}

// Commit writes the manifests of the new snapshot and asks the catalog
// to make it the head of the main branch, asserting the expected parent.
func (c *Catalog) Commit(
	ctx context.Context, request catalog.CommitRequest,
) (int64, error) {

	current, err := c.loadTable(ctx, request.Table)
	if err != nil {
		return 0, err
	}
	metadata, err := fromIcebergMetadata(request.Table, current.Metadata)
	if err != nil {
		return 0, err
	}
	if metadata.CurrentSnapshotID != request.ExpectedSnapshotID {
		return 0, errors.WrapPrefix(catalog.ErrCommitConflict, "main branch moved", 0)
	}

	schema, found := lo.Find(metadata.Schemas, func(schema *tableschema.TableSchema) bool {
		return schema.SchemaID == request.SchemaID
	})
	if !found {
		return 0, faults.Schemaf("unknown schema id %d for %s", request.SchemaID, request.Table)
	}

	snapshotID, err := newSnapshotID()
	if err != nil {
		return 0, err
	}
	sequenceNumber := current.Metadata.LastSequenceNumber + 1

	parentManifestList := ""
	if parent, found := metadata.CurrentSnapshot(); found {
		parentManifestList = parent.ManifestList
	}

	writer, err := newSnapshotWriter(c.store, metadata.Location, schema, snapshotID, sequenceNumber)
	if err != nil {
		return 0, err
	}
	manifestList, err := writer.write(ctx, request.Files, parentManifestList)
	if err != nil {
		return 0, err
	}

	summary := lo.Assign(request.Summary)
	summary[summaryOperation] = "append"
	if lo.ContainsBy(request.Files, func(file catalog.DataFile) bool {
		return file.Content == catalog.EqualityDeletesContent
	}) {
		summary[summaryOperation] = "overwrite"
	}

	schemaID := icebergSchemaID(request.SchemaID)
	snapshot := icebergSnapshot{
		SnapshotID:     snapshotID,
		SequenceNumber: sequenceNumber,
		TimestampMs:    c.options.Clock.Now().UnixMilli(),
		ManifestList:   manifestList,
		Summary:        summary,
		SchemaID:       &schemaID,
	}
	if request.ExpectedSnapshotID != catalog.NoSnapshot {
		snapshot.ParentSnapshotID = &request.ExpectedSnapshotID
	}

	endpoint, err := c.tableEndpoint(ctx, request.Table)
	if err != nil {
		return 0, err
	}
	commit := commitTableRequest{
		Requirements: []requirement{assertRefSnapshotID(mainBranch, request.ExpectedSnapshotID)},
		Updates: []update{
			{Action: "add-snapshot", Snapshot: &snapshot},
			{Action: "set-snapshot-ref", RefName: mainBranch, Type: "branch", SnapshotID: &snapshotID},
		},
	}
	if err := c.client.do(ctx, http.MethodPost, endpoint, commit, nil); err != nil {
		return 0, err
	}
	return snapshotID, nil
}

func (c *Catalog) Close() {
	c.client.close()
}

func (c *Catalog) loadTable(
	ctx context.Context, id catalog.Identifier,
) (*loadTableResponse, error) {

	endpoint, err := c.tableEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	var response loadTableResponse
	if err := c.client.do(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Catalog) createNamespace(
	ctx context.Context, namespace []string,
) error {

	endpoint, err := c.rootEndpoint(ctx)
	if err != nil {
		return err
	}
	err = c.client.do(ctx, http.MethodPost, endpoint+"/namespaces", createNamespaceRequest{Namespace: namespace}, nil)
	if err != nil && !errors.Is(err, catalog.ErrCommitConflict) {
		return err
	}
	c.logger.Infof("Created namespace %v", namespace)
	return nil
}

func (c *Catalog) tableEndpoint(
	ctx context.Context, id catalog.Identifier,
) (string, error) {

	endpoint, err := c.namespaceEndpoint(ctx, id.Namespace)
	if err != nil {
		return "", err
	}
	return endpoint + "/tables/" + url.PathEscape(id.Name), nil
}

func (c *Catalog) namespaceEndpoint(
	ctx context.Context, namespace []string,
) (string, error) {

	endpoint, err := c.rootEndpoint(ctx)
	if err != nil {
		return "", err
	}
	return endpoint + "/namespaces/" + namespacePath(namespace), nil
}

// rootEndpoint resolves the catalog prefix through the config endpoint
// on first use. A prefix returned by the catalog overrides the
// configured one.
func (c *Catalog) rootEndpoint(
	ctx context.Context,
) (string, error) {

	c.prefixMutex.Lock()
	defer c.prefixMutex.Unlock()

	if !c.prefixResolved {
		endpoint := "/v1/config"
		if c.options.Warehouse != "" {
			endpoint += "?warehouse=" + url.QueryEscape(c.options.Warehouse)
		}
		var response configResponse
		if err := c.client.do(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
			if !errors.Is(err, catalog.ErrNoSuchTable) {
				return "", err
			}
			c.logger.Debugf("Catalog has no config endpoint, using configured prefix")
		}
		if prefix, present := response.Overrides["prefix"]; present {
			c.prefix = prefix
		}
		c.prefixResolved = true
	}

	if c.prefix == "" {
		return "/v1", nil
	}
	return "/v1/" + url.PathEscape(c.prefix), nil
}

func newSnapshotID() (int64, error) {
	data, err := uuid.GenerateRandomBytes(8)
	if err != nil {
		return 0, errors.Wrap(err, 0)
	}
	return int64(binary.BigEndian.Uint64(data) & math.MaxInt64), nil
}
