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

// Package batching assembles the pending events of a destination table
// into batches once one of the configured triggers fires.
package batching

import (
	"github.com/noctarius/lakestream/internal/buffer"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/config"
	"time"
)

type Options struct {
	MaxRows  int
	MaxBytes uint64
	MaxWait  time.Duration
	Clock    clock.Clock
}

func OptionsFromConfig(
	c config.BatchConfig, clk clock.Clock,
) (Options, error) {

	maxBytes, err := config.ParseByteSize(c.MaxBytes)
	if err != nil {
		return Options{}, err
	}
	return Options{
		MaxRows:  c.MaxRows,
		MaxBytes: maxBytes,
		MaxWait:  c.MaxWait,
		Clock:    clk,
	}, nil
}

type Trigger string

const (
	NoTrigger     Trigger = ""
	RowsTrigger   Trigger = "rows"
	BytesTrigger  Trigger = "bytes"
	WaitTrigger   Trigger = "wait"
	SchemaTrigger Trigger = "schema"
	ForcedTrigger Trigger = "forced"
)

type Assembler struct {
	buffer  *buffer.Manager
	options Options
	modes   map[string]config.WriteMode
}

// NewAssembler creates an assembler draining the given buffer. Modes
// maps destination tables to their write mode, merge-on-read tables
// keep tombstones when collapsing.
func NewAssembler(
	buffer *buffer.Manager, options Options, modes map[string]config.WriteMode,
) *Assembler {

	if options.Clock == nil {
		options.Clock = clock.System
	}
	return &Assembler{
		buffer:  buffer,
		options: options,
		modes:   modes,
	}
}

// Trigger returns which batch trigger fired for the table, if any
func (a *Assembler) Trigger(
	table string,
) Trigger {

	head, present := a.buffer.Head(table)
	if !present {
		return NoTrigger
	}
	if head.IsDDL() {
		return SchemaTrigger
	}

	count, bytes := a.buffer.Pending(table)
	if a.options.MaxRows > 0 && count >= a.options.MaxRows {
		return RowsTrigger
	}
	if a.options.MaxBytes > 0 && bytes >= a.options.MaxBytes {
		return BytesTrigger
	}
	if enqueuedAt, ok := a.buffer.OldestEnqueueTime(table); ok {
		if a.options.Clock.Now().Sub(enqueuedAt) >= a.options.MaxWait {
			return WaitTrigger
		}
	}
	return NoTrigger
}

// Assemble drains and collapses the next batch of the table if one of
// the triggers fired. Returns nil otherwise.
func (a *Assembler) Assemble(
	table string,
) *changes.TableBatch {

	if a.Trigger(table) == NoTrigger {
		return nil
	}
	return a.assemble(table)
}

// Flush assembles the next batch regardless of the triggers
func (a *Assembler) Flush(
	table string,
) *changes.TableBatch {

	return a.assemble(table)
}

func (a *Assembler) assemble(
	table string,
) *changes.TableBatch {

	events := a.buffer.Drain(table, a.options.MaxRows, a.options.MaxBytes)
	if len(events) == 0 {
		return nil
	}

	bytes := uint64(0)
	for _, event := range events {
		bytes += changes.EstimateSize(event)
	}

	batch := &changes.TableBatch{
		DestinationTable: table,
		Kind:             changes.RowBatch,
		MinPosition:      events[0].Position,
		MaxPosition:      events[len(events)-1].Position,
		SourceEvents:     len(events),
		Bytes:            bytes,
	}

	if len(events) == 1 && events[0].IsDDL() {
		batch.Kind = changes.SchemaBatch
		batch.Events = events
		return batch
	}

	batch.Events = Collapse(events, a.modes[table] == config.MergeOnRead)
	return batch
}
