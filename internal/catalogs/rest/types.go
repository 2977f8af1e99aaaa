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
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/tableschema"
	"github.com/samber/lo"
	"slices"
	"strings"
)

const deprecatedDocPrefix = "[deprecated]"

// Iceberg assigns schema id 0 to the initial schema of a table while
// destination schema versions start at 1.
const schemaIDOffset = 1

func icebergSchemaID(id int) int {
	return id - schemaIDOffset
}

func versionOf(schemaID int) int {
	return schemaID + schemaIDOffset
}

type icebergField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Type     string `json:"type"`
	Doc      string `json:"doc,omitempty"`
}

type icebergSchema struct {
	Type               string         `json:"type"`
	SchemaID           int            `json:"schema-id"`
	IdentifierFieldIDs []int          `json:"identifier-field-ids,omitempty"`
	Fields             []icebergField `json:"fields"`
}

type icebergSnapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary"`
	SchemaID         *int              `json:"schema-id,omitempty"`
}

type icebergRef struct {
	SnapshotID int64  `json:"snapshot-id"`
	Type       string `json:"type"`
}

type icebergMetadata struct {
	FormatVersion      int                   `json:"format-version"`
	TableUUID          string                `json:"table-uuid"`
	Location           string                `json:"location"`
	LastSequenceNumber int64                 `json:"last-sequence-number"`
	LastColumnID       int                   `json:"last-column-id"`
	CurrentSchemaID    int                   `json:"current-schema-id"`
	Schemas            []icebergSchema       `json:"schemas"`
	CurrentSnapshotID  *int64                `json:"current-snapshot-id,omitempty"`
	Snapshots          []icebergSnapshot     `json:"snapshots,omitempty"`
	Refs               map[string]icebergRef `json:"refs,omitempty"`
	Properties         map[string]string     `json:"properties,omitempty"`
}

type loadTableResponse struct {
	MetadataLocation string            `json:"metadata-location"`
	Metadata         icebergMetadata   `json:"metadata"`
	Config           map[string]string `json:"config,omitempty"`
}

type createTableRequest struct {
	Name        string            `json:"name"`
	Location    string            `json:"location,omitempty"`
	Schema      icebergSchema     `json:"schema"`
	StageCreate bool              `json:"stage-create"`
	Properties  map[string]string `json:"properties,omitempty"`
}

type createNamespaceRequest struct {
	Namespace []string `json:"namespace"`
}

// requirement is kept as a map, assert-ref-snapshot-id requires an
// explicit null snapshot id for tables without snapshots.
type requirement map[string]any

func assertRefSnapshotID(
	ref string, snapshotID int64,
) requirement {

	if snapshotID == catalog.NoSnapshot {
		return requirement{"type": "assert-ref-snapshot-id", "ref": ref, "snapshot-id": nil}
	}
	return requirement{"type": "assert-ref-snapshot-id", "ref": ref, "snapshot-id": snapshotID}
}

func assertCurrentSchemaID(
	schemaID int,
) requirement {

	return requirement{"type": "assert-current-schema-id", "current-schema-id": icebergSchemaID(schemaID)}
}

type update struct {
	Action       string           `json:"action"`
	Schema       *icebergSchema   `json:"schema,omitempty"`
	LastColumnID *int             `json:"last-column-id,omitempty"`
	SchemaID     *int             `json:"schema-id,omitempty"`
	Snapshot     *icebergSnapshot `json:"snapshot,omitempty"`
	RefName      string           `json:"ref-name,omitempty"`
	Type         string           `json:"type,omitempty"`
	SnapshotID   *int64           `json:"snapshot-id,omitempty"`
}

type commitTableRequest struct {
	Requirements []requirement `json:"requirements"`
	Updates      []update      `json:"updates"`
}

type configResponse struct {
	Defaults  map[string]string `json:"defaults"`
	Overrides map[string]string `json:"overrides"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func toIcebergSchema(
	schema *tableschema.TableSchema,
) icebergSchema {

	fields := lo.Map(schema.Columns, func(column tableschema.Column, _ int) icebergField {
		doc := column.Doc
		if column.Deprecated {
			doc = strings.TrimSpace(deprecatedDocPrefix + " " + doc)
		}
		return icebergField{
			ID:       column.ID,
			Name:     column.Name,
			Required: column.Required(),
			Type:     column.Type.String(),
			Doc:      doc,
		}
	})
	return icebergSchema{
		Type:               "struct",
		SchemaID:           icebergSchemaID(schema.SchemaID),
		IdentifierFieldIDs: schema.IdentifierFieldIDs(),
		Fields:             fields,
	}
}

func fromIcebergSchema(
	schema icebergSchema,
) (*tableschema.TableSchema, error) {

	columns := make([]tableschema.Column, 0, len(schema.Fields))
	for _, field := range schema.Fields {
		logicalType, err := tableschema.ParseLogicalType(field.Type)
		if err != nil {
			return nil, errors.Errorf("field %s of schema %d: %s", field.Name, versionOf(schema.SchemaID), err.Error())
		}

		primaryKey := slices.Contains(schema.IdentifierFieldIDs, field.ID)
		column := tableschema.Column{
			ID:         field.ID,
			Name:       field.Name,
			Type:       logicalType,
			PrimaryKey: primaryKey,
			Doc:        field.Doc,
		}
		if tableschema.IsMetadataColumn(field.Name) {
			column.Nullable = !field.Required
		} else {
			column.Nullable = !primaryKey
		}
		if strings.HasPrefix(field.Doc, deprecatedDocPrefix) {
			column.Deprecated = true
			column.Doc = strings.TrimSpace(strings.TrimPrefix(field.Doc, deprecatedDocPrefix))
		}
		columns = append(columns, column)
	}
	return &tableschema.TableSchema{
		SchemaID: versionOf(schema.SchemaID),
		Columns:  columns,
	}, nil
}

func fromIcebergMetadata(
	id catalog.Identifier, metadata icebergMetadata,
) (*catalog.TableMetadata, error) {

	schemas := make([]*tableschema.TableSchema, 0, len(metadata.Schemas))
	for _, schema := range metadata.Schemas {
		converted, err := fromIcebergSchema(schema)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, converted)
	}

	currentSnapshotID := catalog.NoSnapshot
	if ref, present := metadata.Refs[mainBranch]; present {
		currentSnapshotID = ref.SnapshotID
	} else if metadata.CurrentSnapshotID != nil {
		currentSnapshotID = *metadata.CurrentSnapshotID
	}

	snapshots := lo.Map(metadata.Snapshots, func(snapshot icebergSnapshot, _ int) catalog.Snapshot {
		return catalog.Snapshot{
			SnapshotID:     snapshot.SnapshotID,
			ParentID:       lo.FromPtrOr(snapshot.ParentSnapshotID, catalog.NoSnapshot),
			SequenceNumber: snapshot.SequenceNumber,
			TimestampMs:    snapshot.TimestampMs,
			SchemaID:       versionOf(lo.FromPtrOr(snapshot.SchemaID, metadata.CurrentSchemaID)),
			ManifestList:   snapshot.ManifestList,
			Summary:        snapshot.Summary,
		}
	})

	return &catalog.TableMetadata{
		Identifier:        id,
		Location:          metadata.Location,
		FormatVersion:     metadata.FormatVersion,
		CurrentSchemaID:   versionOf(metadata.CurrentSchemaID),
		Schemas:           schemas,
		CurrentSnapshotID: currentSnapshotID,
		Snapshots:         snapshots,
		Properties:        metadata.Properties,
	}, nil
}
