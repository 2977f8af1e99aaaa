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

// Package buffer holds decoded change events in one ordered queue per
// destination table between the reader and the table workers.
//
// Events move through two stages. Pending events were enqueued but not
// yet handed to a batch. Drained events were handed out but are kept
// resident until the checkpoint covering them was written and Release
// is called. Resident events count against the capacity, which is what
// suspends the reader while commits are slow.
package buffer

import (
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/internal/supporting"
	"github.com/noctarius/lakestream/spi/changes"
	"sync"
	"time"
)

var (
	ErrOutOfOrder = errors.Errorf("event position is not after the last enqueued position")
	ErrClosed     = errors.Errorf("buffer is closed")
)

type Options struct {
	// TableCapacity is the maximum number of resident events per table
	TableCapacity int
	// TableMaxBytes bounds the estimated size of resident events per
	// table, 0 means unbounded.
	TableMaxBytes uint64
	// TotalCapacity is the maximum number of resident events over all
	// tables, 0 means unbounded.
	TotalCapacity int
	Clock         clock.Clock
}

type entry struct {
	event      changes.ChangeEvent
	size       uint64
	enqueuedAt time.Time
}

type queue struct {
	entries      []entry
	drained      int
	bytes        uint64
	pendingBytes uint64
	last         changes.Position
}

func (q *queue) pending() []entry {
	return q.entries[q.drained:]
}

type Manager struct {
	options Options
	mutex   sync.Mutex
	queues  map[string]*queue
	total   int
	closed  bool
	// space is closed and replaced whenever capacity is freed
	space chan struct{}
}

func NewManager(
	options Options,
) *Manager {

	if options.Clock == nil {
		options.Clock = clock.System
	}
	return &Manager{
		options: options,
		queues:  make(map[string]*queue),
		space:   make(chan struct{}),
	}
}

// Enqueue appends the event to the queue of the given table. While the
// table or the whole buffer is at capacity the call suspends until space
// is released, the context is cancelled or the buffer is closed.
func (m *Manager) Enqueue(
	ctx context.Context, table string, event changes.ChangeEvent,
) error {

	for {
		enqueued, space, err := m.tryEnqueue(table, event)
		if err != nil || enqueued {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-space:
		}
	}
}

// TryEnqueue is the non-suspending variant of Enqueue. It returns false
// if the event does not fit right now.
func (m *Manager) TryEnqueue(
	table string, event changes.ChangeEvent,
) (bool, error) {

	enqueued, _, err := m.tryEnqueue(table, event)
	return enqueued, err
}

func (m *Manager) tryEnqueue(
	table string, event changes.ChangeEvent,
) (bool, <-chan struct{}, error) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return false, nil, ErrClosed
	}

	q := m.queue(table)
	if !q.last.IsZero() && !event.Position.After(q.last) {
		return false, nil, errors.WrapPrefix(
			ErrOutOfOrder, fmt.Sprintf("table %s, %s after %s", table, event.Position, q.last), 0,
		)
	}

	size := changes.EstimateSize(event)
	if !m.fits(q, size) {
		return false, m.space, nil
	}

	q.entries = append(q.entries, entry{
		event:      event,
		size:       size,
		enqueuedAt: m.options.Clock.Now(),
	})
	q.bytes += size
	q.pendingBytes += size
	q.last = event.Position
	m.total++
	return true, nil, nil
}

func (m *Manager) fits(
	q *queue, size uint64,
) bool {

	// An empty queue always accepts one event, otherwise a single event
	// larger than the byte bound could never be enqueued.
	if len(q.entries) == 0 {
		return m.options.TotalCapacity <= 0 || m.total < m.options.TotalCapacity
	}
	if m.options.TableCapacity > 0 && len(q.entries) >= m.options.TableCapacity {
		return false
	}
	if m.options.TableMaxBytes > 0 && q.bytes+size > m.options.TableMaxBytes {
		return false
	}
	if m.options.TotalCapacity > 0 && m.total >= m.options.TotalCapacity {
		return false
	}
	return true
}

// Drain hands out the oldest contiguous run of pending events of the
// table, bounded by maxCount and maxBytes (0 means unbounded). A ddl
// event is always drained on its own.
func (m *Manager) Drain(
	table string, maxCount int, maxBytes uint64,
) []changes.ChangeEvent {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	q, present := m.queues[table]
	if !present {
		return nil
	}

	pending := q.pending()
	if len(pending) == 0 {
		return nil
	}

	if pending[0].event.IsDDL() {
		q.drained++
		q.pendingBytes -= pending[0].size
		return []changes.ChangeEvent{pending[0].event}
	}

	events := make([]changes.ChangeEvent, 0, min(len(pending), maxOrLen(maxCount, len(pending))))
	bytes := uint64(0)
	for _, e := range pending {
		if e.event.IsDDL() {
			break
		}
		if maxCount > 0 && len(events) >= maxCount {
			break
		}
		if maxBytes > 0 && len(events) > 0 && bytes+e.size > maxBytes {
			break
		}
		events = append(events, e.event)
		bytes += e.size
	}

	q.drained += len(events)
	q.pendingBytes -= bytes
	return events
}

// Release removes every resident event of the table at or below the
// given position. Called after the checkpoint covering them is durable.
func (m *Manager) Release(
	table string, position changes.Position,
) int {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	q, present := m.queues[table]
	if !present {
		return 0
	}

	released := 0
	for released < len(q.entries) && !q.entries[released].event.Position.After(position) {
		e := q.entries[released]
		q.bytes -= e.size
		if released >= q.drained {
			q.pendingBytes -= e.size
		}
		released++
	}
	if released == 0 {
		return 0
	}

	clear(q.entries[:released])
	q.entries = q.entries[released:]
	q.drained = max(0, q.drained-released)
	m.total -= released
	m.signalSpace()
	return released
}

// Rewind makes drained but unreleased events of the table pending again
func (m *Manager) Rewind(
	table string,
) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if q, present := m.queues[table]; present {
		q.drained = 0
		q.pendingBytes = q.bytes
	}
}

// Reset drops all buffered events of all tables
func (m *Manager) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.queues = make(map[string]*queue)
	m.total = 0
	m.signalSpace()
}

// Close wakes all suspended producers, which return ErrClosed
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.closed {
		m.closed = true
		close(m.space)
	}
}

// Oldest returns the oldest resident event of the table
func (m *Manager) Oldest(
	table string,
) (changes.ChangeEvent, bool) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if q, present := m.queues[table]; present && len(q.entries) > 0 {
		return q.entries[0].event, true
	}
	return changes.ChangeEvent{}, false
}

// Head returns the next event Drain would hand out
func (m *Manager) Head(
	table string,
) (changes.ChangeEvent, bool) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if q, present := m.queues[table]; present {
		if pending := q.pending(); len(pending) > 0 {
			return pending[0].event, true
		}
	}
	return changes.ChangeEvent{}, false
}

// Last returns the position of the most recently enqueued event of the
// table, including events that were released since.
func (m *Manager) Last(
	table string,
) (changes.Position, bool) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if q, present := m.queues[table]; present && !q.last.IsZero() {
		return q.last, true
	}
	return changes.Position{}, false
}

// OldestEnqueueTime returns when the oldest pending event of the table
// was enqueued.
func (m *Manager) OldestEnqueueTime(
	table string,
) (time.Time, bool) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if q, present := m.queues[table]; present {
		if pending := q.pending(); len(pending) > 0 {
			return pending[0].enqueuedAt, true
		}
	}
	return time.Time{}, false
}

// Pending returns the number of pending events and their estimated size
func (m *Manager) Pending(
	table string,
) (int, uint64) {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if q, present := m.queues[table]; present {
		return len(q.pending()), q.pendingBytes
	}
	return 0, 0
}

// Len returns the number of resident events of the table
func (m *Manager) Len(
	table string,
) int {

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if q, present := m.queues[table]; present {
		return len(q.entries)
	}
	return 0
}

func (m *Manager) Total() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.total
}

// Tables returns the sorted names of all tables with a queue
func (m *Manager) Tables() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return supporting.SortedKeys(m.queues)
}

func (m *Manager) queue(
	table string,
) *queue {

	q, present := m.queues[table]
	if !present {
		q = &queue{}
		m.queues[table] = q
	}
	return q
}

func (m *Manager) signalSpace() {
	if m.closed {
		return
	}
	close(m.space)
	m.space = make(chan struct{})
}

func maxOrLen(maxCount, length int) int {
	if maxCount <= 0 {
		return length
	}
	return maxCount
}
