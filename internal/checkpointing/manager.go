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

package checkpointing

import (
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/checkpoint"
	"github.com/noctarius/lakestream/spi/faults"
	"sync"
)

var ErrRegression = errors.Errorf("checkpoint regression")

// Manager records committed source positions per destination table. A
// checkpoint only ever moves forward and is durable once Advance returns.
type Manager struct {
	store checkpoint.Store
	clock clock.Clock
	// serializes read-compare-write cycles for the same store key
	mutex sync.Mutex
}

func NewManager(
	store checkpoint.Store, clk clock.Clock,
) *Manager {

	if clk == nil {
		clk = clock.System
	}
	return &Manager{
		store: store,
		clock: clk,
	}
}

// Shutdown stops the checkpoint store, called by the wiring container
func (m *Manager) Shutdown() error {
	return m.store.Stop()
}

// Advance durably records position as the committed position of the
// table. Advancing to the stored position is a no-op, advancing to a
// lower one fails with ErrRegression.
func (m *Manager) Advance(
	ctx context.Context, pipelineId, table string, position changes.Position,
) error {

	if table == checkpoint.WatermarkTable {
		return errors.Errorf("table name '%s' is reserved", table)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored, found, err := m.load(ctx, pipelineId, table)
	if err != nil {
		return err
	}
	if found {
		switch position.Compare(stored) {
		case -1:
			return errors.WrapPrefix(ErrRegression, fmt.Sprintf(
				"pipeline %s, table %s: %s is behind %s", pipelineId, table, position, stored,
			), 0)
		case 0:
			return nil
		}
	}
	return m.save(ctx, pipelineId, table, position)
}

// Load returns the committed position of the table
func (m *Manager) Load(
	ctx context.Context, pipelineId, table string,
) (changes.Position, bool, error) {

	return m.load(ctx, pipelineId, table)
}

// AdvanceWatermark records the pipeline wide source watermark. Lower or
// equal positions are ignored.
func (m *Manager) AdvanceWatermark(
	ctx context.Context, pipelineId string, position changes.Position,
) (bool, error) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored, found, err := m.load(ctx, pipelineId, checkpoint.WatermarkTable)
	if err != nil {
		return false, err
	}
	if found && !position.After(stored) {
		return false, nil
	}
	if err := m.save(ctx, pipelineId, checkpoint.WatermarkTable, position); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) LoadWatermark(
	ctx context.Context, pipelineId string,
) (changes.Position, bool, error) {

	return m.load(ctx, pipelineId, checkpoint.WatermarkTable)
}

// ResumePosition returns the source position replication has to restart
// from. It is the lowest checkpoint of all tables, tables without
// checkpoint count with the initial position, but never lower than the
// pipeline watermark.
func (m *Manager) ResumePosition(
	ctx context.Context, pipelineId string, tables []string, initial changes.Position,
) (changes.Position, error) {

	watermark, _, err := m.LoadWatermark(ctx, pipelineId)
	if err != nil {
		return changes.Position{}, err
	}

	var lowest *changes.Position
	for _, table := range tables {
		position, found, err := m.Load(ctx, pipelineId, table)
		if err != nil {
			return changes.Position{}, err
		}
		if !found {
			position = initial
		}
		if lowest == nil || position.Before(*lowest) {
			lowest = &position
		}
	}

	if lowest == nil {
		return changes.MaxPosition(watermark, initial), nil
	}
	return changes.MaxPosition(watermark, *lowest), nil
}

// Reconcile repairs a checkpoint lagging behind the position recorded with
// the table's last snapshot in the catalog. It happens when the process
// stopped between the catalog commit and the checkpoint write.
func (m *Manager) Reconcile(
	ctx context.Context, pipelineId, table string, committed changes.Position,
) (bool, error) {

	if committed.IsZero() {
		return false, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored, found, err := m.load(ctx, pipelineId, table)
	if err != nil {
		return false, err
	}
	if found && !committed.After(stored) {
		return false, nil
	}
	if err := m.save(ctx, pipelineId, table, committed); err != nil {
		return false, err
	}
	return true, nil
}

// List returns all checkpoints of the pipeline, including the watermark
func (m *Manager) List(
	ctx context.Context, pipelineId string,
) ([]checkpoint.Checkpoint, error) {

	checkpoints, err := m.store.List(ctx, pipelineId)
	if err != nil {
		return nil, faults.Transient(err)
	}
	return checkpoints, nil
}

// Delete removes all checkpoints of the pipeline
func (m *Manager) Delete(
	ctx context.Context, pipelineId string,
) error {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.store.Delete(ctx, pipelineId); err != nil {
		return faults.Transient(err)
	}
	return nil
}

func (m *Manager) load(
	ctx context.Context, pipelineId, table string,
) (changes.Position, bool, error) {

	stored, found, err := m.store.Load(ctx, pipelineId, table)
	if err != nil {
		return changes.Position{}, false, faults.Transient(err)
	}
	if !found {
		return changes.Position{}, false, nil
	}
	return stored.CommittedPosition, true, nil
}

func (m *Manager) save(
	ctx context.Context, pipelineId, table string, position changes.Position,
) error {

	if err := m.store.Save(ctx, checkpoint.Checkpoint{
		PipelineID:        pipelineId,
		DestinationTable:  table,
		CommittedPosition: position,
		UpdatedAt:         m.clock.Now(),
	}); err != nil {
		return faults.Transient(err)
	}
	return nil
}
