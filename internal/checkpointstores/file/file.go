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

package file

import (
	"context"
	"encoding/binary"
	"github.com/docker/docker/pkg/ioutils"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/supporting"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/spi/checkpoint"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"os"
	"path/filepath"
	"sync"
	"time"
)

func init() {
	checkpoint.RegisterStore(spiconfig.FileCheckpointStore, newFileStore)
}

type storeKey struct {
	pipelineId string
	table      string
}

// fileStore keeps all checkpoints in a single binary file which is
// rewritten atomically on every save.
type fileStore struct {
	path        string
	mutex       sync.Mutex
	logger      *logging.Logger
	checkpoints map[storeKey]checkpoint.Checkpoint
}

func newFileStore(
	config *spiconfig.Config,
) (checkpoint.Store, error) {

	path := spiconfig.GetOrDefault(config, spiconfig.PropertyFileCheckpointStorePath, "")
	if path == "" {
		return nil, errors.Errorf("FileCheckpointStore needs a path to be configured")
	}
	return NewFileStore(path)
}

func NewFileStore(
	path string,
) (checkpoint.Store, error) {

	logger, err := logging.NewLogger("FileCheckpointStore")
	if err != nil {
		return nil, err
	}

	directory := filepath.Dir(path)
	fi, err := os.Stat(directory)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, 0)
		}
		if err := os.MkdirAll(directory, 0777); err != nil {
			return nil, errors.Wrap(err, 0)
		}
	} else if !fi.IsDir() {
		return nil, errors.Errorf(
			"path '%s' cannot be created since the parent-path '%s' is no directory", path, directory,
		)
	}

	fi, err = os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, 0)
		}
	}

	if fi != nil && fi.IsDir() {
		return nil, errors.Errorf("path '%s' exists already but is not a file", path)
	}

	return &fileStore{
		path:        path,
		logger:      logger,
		checkpoints: make(map[storeKey]checkpoint.Checkpoint),
	}, nil
}

func (f *fileStore) Start() error {
	f.logger.Infof("Starting FileCheckpointStore at %s", f.path)
	return f.read()
}

func (f *fileStore) Stop() error {
	f.logger.Infof("Stopping FileCheckpointStore at %s", f.path)
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.write()
}

func (f *fileStore) Save(
	_ context.Context, cp checkpoint.Checkpoint,
) error {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	key := storeKey{pipelineId: cp.PipelineID, table: cp.DestinationTable}
	previous, existed := f.checkpoints[key]
	f.checkpoints[key] = cp
	if err := f.write(); err != nil {
		// Keep the in-memory state aligned with the file
		if existed {
			f.checkpoints[key] = previous
		} else {
			delete(f.checkpoints, key)
		}
		return err
	}
	return nil
}

func (f *fileStore) Load(
	_ context.Context, pipelineId, table string,
) (checkpoint.Checkpoint, bool, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	cp, ok := f.checkpoints[storeKey{pipelineId: pipelineId, table: table}]
	return cp, ok, nil
}

func (f *fileStore) List(
	_ context.Context, pipelineId string,
) ([]checkpoint.Checkpoint, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	tables := make(map[string]checkpoint.Checkpoint)
	for key, cp := range f.checkpoints {
		if key.pipelineId == pipelineId {
			tables[key.table] = cp
		}
	}

	checkpoints := make([]checkpoint.Checkpoint, 0, len(tables))
	for _, table := range supporting.SortedKeys(tables) {
		checkpoints = append(checkpoints, tables[table])
	}
	return checkpoints, nil
}

func (f *fileStore) Delete(
	_ context.Context, pipelineId string,
) error {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	for key := range f.checkpoints {
		if key.pipelineId == pipelineId {
			delete(f.checkpoints, key)
		}
	}
	return f.write()
}

func (f *fileStore) write() error {
	writer, err := ioutils.NewAtomicFileWriter(f.path, 0666)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	buffer := make([]byte, 8)
	writeUint32 := func(val uint32) error {
		binary.BigEndian.PutUint32(buffer[0:4], val)
		_, err := writer.Write(buffer[0:4])
		return err
	}

	writeInt64 := func(val int64) error {
		binary.BigEndian.PutUint64(buffer[0:8], uint64(val))
		_, err := writer.Write(buffer[0:8])
		return err
	}

	writeBytesWithLength := func(val []byte) error {
		if err := writeUint32(uint32(len(val))); err != nil {
			return err
		}
		_, err := writer.Write(val)
		return err
	}

	writeCheckpoint := func(cp checkpoint.Checkpoint) error {
		if err := writeBytesWithLength([]byte(cp.PipelineID)); err != nil {
			return err
		}
		if err := writeBytesWithLength([]byte(cp.DestinationTable)); err != nil {
			return err
		}
		data, err := cp.CommittedPosition.MarshalBinary()
		if err != nil {
			return err
		}
		if err := writeBytesWithLength(data); err != nil {
			return err
		}
		return writeInt64(cp.UpdatedAt.UnixNano())
	}

	if err := writeUint32(uint32(len(f.checkpoints))); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, 0)
	}
	for _, cp := range f.checkpoints {
		if err := writeCheckpoint(cp); err != nil {
			_ = writer.Close()
			return errors.Wrap(err, 0)
		}
	}

	// The atomic writer renames the file into place on close
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (f *fileStore) read() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.checkpoints = make(map[storeKey]checkpoint.Checkpoint)

	buffer, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, 0)
	}
	if len(buffer) == 0 {
		return nil
	}

	readerOffset := 0
	corrupted := errors.Errorf("checkpoint file '%s' is corrupted", f.path)

	readUint32 := func() (uint32, error) {
		if readerOffset+4 > len(buffer) {
			return 0, corrupted
		}
		val := binary.BigEndian.Uint32(buffer[readerOffset : readerOffset+4])
		readerOffset += 4
		return val, nil
	}

	readInt64 := func() (int64, error) {
		if readerOffset+8 > len(buffer) {
			return 0, corrupted
		}
		val := binary.BigEndian.Uint64(buffer[readerOffset : readerOffset+8])
		readerOffset += 8
		return int64(val), nil
	}

	readBytes := func() ([]byte, error) {
		length, err := readUint32()
		if err != nil {
			return nil, err
		}
		if readerOffset+int(length) > len(buffer) {
			return nil, corrupted
		}
		val := buffer[readerOffset : readerOffset+int(length)]
		readerOffset += int(length)
		return val, nil
	}

	numOfCheckpoints, err := readUint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < numOfCheckpoints; i++ {
		pipelineId, err := readBytes()
		if err != nil {
			return err
		}
		table, err := readBytes()
		if err != nil {
			return err
		}
		data, err := readBytes()
		if err != nil {
			return err
		}
		updatedAt, err := readInt64()
		if err != nil {
			return err
		}

		cp := checkpoint.Checkpoint{
			PipelineID:       string(pipelineId),
			DestinationTable: string(table),
			UpdatedAt:        time.Unix(0, updatedAt).UTC(),
		}
		if err := cp.CommittedPosition.UnmarshalBinary(data); err != nil {
			return errors.Wrap(err, 0)
		}
		f.checkpoints[storeKey{pipelineId: cp.PipelineID, table: cp.DestinationTable}] = cp
	}
	return nil
}
