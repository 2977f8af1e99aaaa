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

package memory

import (
	"context"
	"github.com/noctarius/lakestream/internal/supporting"
	"github.com/noctarius/lakestream/spi/checkpoint"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"sync"
)

func init() {
	checkpoint.RegisterStore(spiconfig.MemoryCheckpointStore, func(_ *spiconfig.Config) (checkpoint.Store, error) {
		return NewMemoryStore(), nil
	})
}

// Store keeps checkpoints in memory only, used for tests and dry runs
type Store struct {
	mutex       sync.RWMutex
	checkpoints map[string]map[string]checkpoint.Checkpoint
}

func NewMemoryStore() *Store {
	return &Store{
		checkpoints: make(map[string]map[string]checkpoint.Checkpoint),
	}
}

func (s *Store) Start() error {
	return nil
}

func (s *Store) Stop() error {
	return nil
}

func (s *Store) Save(
	_ context.Context, cp checkpoint.Checkpoint,
) error {

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tables, ok := s.checkpoints[cp.PipelineID]
	if !ok {
		tables = make(map[string]checkpoint.Checkpoint)
		s.checkpoints[cp.PipelineID] = tables
	}
	tables[cp.DestinationTable] = cp
	return nil
}

func (s *Store) Load(
	_ context.Context, pipelineId, table string,
) (checkpoint.Checkpoint, bool, error) {

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cp, ok := s.checkpoints[pipelineId][table]
	return cp, ok, nil
}

func (s *Store) List(
	_ context.Context, pipelineId string,
) ([]checkpoint.Checkpoint, error) {

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tables := s.checkpoints[pipelineId]
	checkpoints := make([]checkpoint.Checkpoint, 0, len(tables))
	for _, table := range supporting.SortedKeys(tables) {
		checkpoints = append(checkpoints, tables[table])
	}
	return checkpoints, nil
}

func (s *Store) Delete(
	_ context.Context, pipelineId string,
) error {

	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.checkpoints, pipelineId)
	return nil
}
