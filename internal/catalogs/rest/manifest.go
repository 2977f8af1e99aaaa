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
	"bytes"
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/goccy/go-json"
	"github.com/hamba/avro/v2/ocf"
	"github.com/hashicorp/go-uuid"
	"github.com/noctarius/lakestream/spi/catalog"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/objectstore"
	"github.com/noctarius/lakestream/spi/tableschema"
	"path"
	"strconv"
)

const (
	entryStatusAdded = 1

	manifestContentData    = 0
	manifestContentDeletes = 1
)

// Iceberg v2 manifest entry schema with the field ids of the table
// format, unpartitioned.
const manifestEntrySchema = `{
  "type": "record",
  "name": "manifest_entry",
  "fields": [
    {"name": "status", "type": "int", "field-id": 0},
    {"name": "snapshot_id", "type": ["null", "long"], "default": null, "field-id": 1},
    {"name": "sequence_number", "type": ["null", "long"], "default": null, "field-id": 3},
    {"name": "file_sequence_number", "type": ["null", "long"], "default": null, "field-id": 4},
    {"name": "data_file", "field-id": 2, "type": {
      "type": "record",
      "name": "r2",
      "fields": [
        {"name": "content", "type": "int", "field-id": 134},
        {"name": "file_path", "type": "string", "field-id": 100},
        {"name": "file_format", "type": "string", "field-id": 101},
        {"name": "partition", "field-id": 102, "type": {"type": "record", "name": "r102", "fields": []}},
        {"name": "record_count", "type": "long", "field-id": 103},
        {"name": "file_size_in_bytes", "type": "long", "field-id": 104},
        {"name": "equality_ids", "field-id": 135, "default": null,
          "type": ["null", {"type": "array", "items": "int", "element-id": 136}]}
      ]
    }}
  ]
}`

const manifestFileSchema = `{
  "type": "record",
  "name": "manifest_file",
  "fields": [
    {"name": "manifest_path", "type": "string", "field-id": 500},
    {"name": "manifest_length", "type": "long", "field-id": 501},
    {"name": "partition_spec_id", "type": "int", "field-id": 502},
    {"name": "content", "type": "int", "field-id": 517},
    {"name": "sequence_number", "type": "long", "field-id": 515},
    {"name": "min_sequence_number", "type": "long", "field-id": 516},
    {"name": "added_snapshot_id", "type": "long", "field-id": 503},
    {"name": "added_files_count", "type": "int", "field-id": 504},
    {"name": "existing_files_count", "type": "int", "field-id": 505},
    {"name": "deleted_files_count", "type": "int", "field-id": 506},
    {"name": "added_rows_count", "type": "long", "field-id": 512},
    {"name": "existing_rows_count", "type": "long", "field-id": 513},
    {"name": "deleted_rows_count", "type": "long", "field-id": 514}
  ]
}`

type manifestDataFile struct {
	Content         int32          `avro:"content"`
	FilePath        string         `avro:"file_path"`
	FileFormat      string         `avro:"file_format"`
	Partition       map[string]any `avro:"partition"`
	RecordCount     int64          `avro:"record_count"`
	FileSizeInBytes int64          `avro:"file_size_in_bytes"`
	EqualityIDs     *[]int32       `avro:"equality_ids"`
}

type manifestEntry struct {
	Status             int32            `avro:"status"`
	SnapshotID         *int64           `avro:"snapshot_id"`
	SequenceNumber     *int64           `avro:"sequence_number"`
	FileSequenceNumber *int64           `avro:"file_sequence_number"`
	DataFile           manifestDataFile `avro:"data_file"`
}

type manifestFile struct {
	ManifestPath       string `avro:"manifest_path"`
	ManifestLength     int64  `avro:"manifest_length"`
	PartitionSpecID    int32  `avro:"partition_spec_id"`
	Content            int32  `avro:"content"`
	SequenceNumber     int64  `avro:"sequence_number"`
	MinSequenceNumber  int64  `avro:"min_sequence_number"`
	AddedSnapshotID    int64  `avro:"added_snapshot_id"`
	AddedFilesCount    int32  `avro:"added_files_count"`
	ExistingFilesCount int32  `avro:"existing_files_count"`
	DeletedFilesCount  int32  `avro:"deleted_files_count"`
	AddedRowsCount     int64  `avro:"added_rows_count"`
	ExistingRowsCount  int64  `avro:"existing_rows_count"`
	DeletedRowsCount   int64  `avro:"deleted_rows_count"`
}

// snapshotWriter writes the manifests and the manifest list of a new
// snapshot into the metadata directory of the table.
type snapshotWriter struct {
	store          objectstore.Store
	metadataPath   string
	schema         *tableschema.TableSchema
	snapshotID     int64
	sequenceNumber int64
	commitUUID     string
}

func newSnapshotWriter(
	store objectstore.Store, location string, schema *tableschema.TableSchema,
	snapshotID, sequenceNumber int64,
) (*snapshotWriter, error) {

	relative, ok := objectstore.Relative(store, location)
	if !ok {
		return nil, faults.Schemaf("table location %s is outside of object store %s", location, store.Root())
	}
	commitUUID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return &snapshotWriter{
		store:          store,
		metadataPath:   path.Join(relative, "metadata"),
		schema:         schema,
		snapshotID:     snapshotID,
		sequenceNumber: sequenceNumber,
		commitUUID:     commitUUID,
	}, nil
}

// write stores a manifest per file content and a manifest list holding
// the new manifests followed by the manifests of the parent snapshot.
// It returns the absolute location of the manifest list.
func (s *snapshotWriter) write(
	ctx context.Context, files []catalog.DataFile, parentManifestList string,
) (string, error) {

	manifests := make([]manifestFile, 0)
	dataFiles, deleteFiles := splitByContent(files)
	for i, group := range [][]catalog.DataFile{dataFiles, deleteFiles} {
		if len(group) == 0 {
			continue
		}
		manifest, err := s.writeManifest(ctx, group, i)
		if err != nil {
			return "", err
		}
		manifests = append(manifests, manifest)
	}

	if parentManifestList != "" {
		parents, err := readManifestList(ctx, s.store, parentManifestList)
		if err != nil {
			return "", err
		}
		manifests = append(manifests, parents...)
	}

	listPath := path.Join(s.metadataPath, fmt.Sprintf("snap-%d-1-%s.avro", s.snapshotID, s.commitUUID))
	data, err := encodeOCF(manifestFileSchema, s.listMetadata(), func(encoder *ocf.Encoder) error {
		for _, manifest := range manifests {
			if err := encoder.Encode(manifest); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, listPath, data); err != nil {
		return "", faults.Transient(err)
	}
	return objectstore.URI(s.store, listPath), nil
}

func (s *snapshotWriter) writeManifest(
	ctx context.Context, files []catalog.DataFile, index int,
) (manifestFile, error) {

	content := manifestContentData
	if files[0].Content == catalog.EqualityDeletesContent {
		content = manifestContentDeletes
	}

	rows := int64(0)
	manifestPath := path.Join(s.metadataPath, fmt.Sprintf("%s-m%d.avro", s.commitUUID, index))
	data, err := encodeOCF(manifestEntrySchema, s.manifestMetadata(content), func(encoder *ocf.Encoder) error {
		for _, file := range files {
			rows += file.RecordCount
			entry := manifestEntry{
				Status:         entryStatusAdded,
				SnapshotID:     &s.snapshotID,
				SequenceNumber: &s.sequenceNumber,
				DataFile: manifestDataFile{
					Content:         int32(file.Content),
					FilePath:        file.Path,
					FileFormat:      "PARQUET",
					Partition:       map[string]any{},
					RecordCount:     file.RecordCount,
					FileSizeInBytes: file.FileSizeBytes,
				},
			}
			entry.FileSequenceNumber = entry.SequenceNumber
			if len(file.EqualityFieldIDs) > 0 {
				ids := make([]int32, 0, len(file.EqualityFieldIDs))
				for _, id := range file.EqualityFieldIDs {
					ids = append(ids, int32(id))
				}
				entry.DataFile.EqualityIDs = &ids
			}
			if err := encoder.Encode(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return manifestFile{}, err
	}
	if err := s.store.Put(ctx, manifestPath, data); err != nil {
		return manifestFile{}, faults.Transient(err)
	}

	return manifestFile{
		ManifestPath:      objectstore.URI(s.store, manifestPath),
		ManifestLength:    int64(len(data)),
		Content:           int32(content),
		SequenceNumber:    s.sequenceNumber,
		MinSequenceNumber: s.sequenceNumber,
		AddedSnapshotID:   s.snapshotID,
		AddedFilesCount:   int32(len(files)),
		AddedRowsCount:    rows,
	}, nil
}

func (s *snapshotWriter) manifestMetadata(
	content int,
) map[string][]byte {

	schema, _ := json.Marshal(toIcebergSchema(s.schema))
	contentName := "data"
	if content == manifestContentDeletes {
		contentName = "deletes"
	}
	return map[string][]byte{
		"schema":            schema,
		"schema-id":         []byte(strconv.Itoa(icebergSchemaID(s.schema.SchemaID))),
		"partition-spec":    []byte("[]"),
		"partition-spec-id": []byte("0"),
		"format-version":    []byte("2"),
		"content":           []byte(contentName),
	}
}

func (s *snapshotWriter) listMetadata() map[string][]byte {
	return map[string][]byte{
		"snapshot-id":     []byte(strconv.FormatInt(s.snapshotID, 10)),
		"sequence-number": []byte(strconv.FormatInt(s.sequenceNumber, 10)),
		"format-version":  []byte("2"),
	}
}

func readManifestList(
	ctx context.Context, store objectstore.Store, location string,
) ([]manifestFile, error) {

	relative, ok := objectstore.Relative(store, location)
	if !ok {
		return nil, faults.Schemaf("manifest list %s is outside of object store %s", location, store.Root())
	}
	data, err := store.Get(ctx, relative)
	if err != nil {
		return nil, faults.Transient(err)
	}

	decoder, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Decode(err)
	}
	manifests := make([]manifestFile, 0)
	for decoder.HasNext() {
		var manifest manifestFile
		if err := decoder.Decode(&manifest); err != nil {
			return nil, faults.Decode(err)
		}
		manifests = append(manifests, manifest)
	}
	if err := decoder.Error(); err != nil {
		return nil, faults.Decode(err)
	}
	return manifests, nil
}

func readManifest(
	ctx context.Context, store objectstore.Store, location string,
) ([]manifestEntry, error) {

	relative, ok := objectstore.Relative(store, location)
	if !ok {
		return nil, faults.Schemaf("manifest %s is outside of object store %s", location, store.Root())
	}
	data, err := store.Get(ctx, relative)
	if err != nil {
		return nil, faults.Transient(err)
	}

	decoder, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Decode(err)
	}
	entries := make([]manifestEntry, 0)
	for decoder.HasNext() {
		var entry manifestEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, faults.Decode(err)
		}
		entries = append(entries, entry)
	}
	if err := decoder.Error(); err != nil {
		return nil, faults.Decode(err)
	}
	return entries, nil
}

func encodeOCF(
	schema string, metadata map[string][]byte, encode func(encoder *ocf.Encoder) error,
) ([]byte, error) {

	buffer := bytes.NewBuffer(nil)
	encoder, err := ocf.NewEncoder(schema, buffer, ocf.WithMetadata(metadata), ocf.WithCodec(ocf.Deflate))
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if err := encode(encoder); err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if err := encoder.Close(); err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return buffer.Bytes(), nil
}

func splitByContent(
	files []catalog.DataFile,
) ([]catalog.DataFile, []catalog.DataFile) {

	dataFiles := make([]catalog.DataFile, 0, len(files))
	deleteFiles := make([]catalog.DataFile, 0)
	for _, file := range files {
		if file.Content == catalog.DataContent {
			dataFiles = append(dataFiles, file)
		} else {
			deleteFiles = append(deleteFiles, file)
		}
	}
	return dataFiles, deleteFiles
}
