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

package supervisor

import (
	"context"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/buffer"
	"github.com/noctarius/lakestream/internal/replication"
	"github.com/noctarius/lakestream/spi/changes"
	"github.com/noctarius/lakestream/spi/faults"
	"io"
)

// open derives the resume position from checkpoints and catalog state
// and opens the change stream there. Checkpoints lagging behind a
// snapshot already committed to the catalog are repaired first.
func (s *Supervisor) open(
	ctx context.Context,
) (Source, error) {

	committed := make(map[string]changes.Position, len(s.tables))
	for _, table := range s.tables {
		worker := s.workers[table]
		recovered, found, err := worker.writer.RecoverWatermark(ctx)
		if err != nil {
			return nil, err
		}
		if found {
			repaired, err := s.deps.Checkpoints.Reconcile(ctx, s.config.Id, table, recovered)
			if err != nil {
				return nil, err
			}
			if repaired {
				s.logger.Infof("Repaired checkpoint of %s to %s from the table's snapshot history", table, recovered)
			}
		}

		position, found, err := s.deps.Checkpoints.Load(ctx, s.config.Id, table)
		if err != nil {
			return nil, err
		}
		if found {
			committed[table] = position
			// events kept across a pause may already be part of the table
			if released := s.buffer.Release(table, position); released > 0 {
				s.logger.Debugf("Released %d buffered events of %s committed up to %s", released, table, position)
			}
		}
	}

	watermark, _, err := s.deps.Checkpoints.LoadWatermark(ctx, s.config.Id)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	s.committed = committed
	s.watermark = watermark
	s.mutex.Unlock()

	resume, err := s.deps.Checkpoints.ResumePosition(ctx, s.config.Id, s.tables, s.initial)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Opening change stream at %s", resume)
	return s.deps.Sources(ctx, replication.Options{
		PipelineId: s.config.Id,
		Source:     s.config.Source,
		Tables:     s.sources,
		Accept:     s.router.Accepts,
	}, resume)
}

// readLoop is the reader stage. A failing stream is closed, the buffer
// dropped and the stream reopened at the resume position after backoff.
func (s *Supervisor) readLoop(
	r *run, source Source, openErr error,
) {

	defer r.group.Done()

	err := openErr
	for {
		if err == nil {
			r.setSource(source)
			err = s.read(r, source)
			r.setSource(nil)
			if closeErr := source.Close(); closeErr != nil {
				s.logger.Warnf("Failed to close change stream: %s", closeErr)
			}
		}

		if r.ctx.Err() != nil {
			return
		}
		if !s.recover(r, s.readerRetry, "Change stream", err) {
			return
		}
		s.resetBuffers()
		if !s.await(r, s.readerRetry) {
			return
		}

		if source, err = s.open(r.ctx); err == nil {
			s.readerRetry.Succeeded()
		}
	}
}

// read moves events from the stream into the buffer until the stream
// fails or the run is stopped.
func (s *Supervisor) read(
	r *run, source Source,
) error {

	for {
		event, err := source.Next(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return faults.Transientf("replication stream ended")
			}
			return err
		}

		destination, accepted, err := s.router.Route(event)
		if err != nil {
			return err
		}
		if !accepted {
			continue
		}

		// redelivered events after a restart or rewind
		if !event.Position.After(s.floor(destination)) {
			continue
		}

		if err := s.buffer.Enqueue(r.ctx, destination, event); err != nil {
			if r.ctx.Err() != nil || errors.Is(err, buffer.ErrClosed) {
				return nil
			}
			return err
		}
		s.reporter.Incr("reader.events")
		if worker, present := s.workers[destination]; present {
			worker.notify()
		}
	}
}

// floor is the highest position of the table which is committed,
// covered by the watermark or already buffered.
func (s *Supervisor) floor(
	table string,
) changes.Position {

	s.mutex.Lock()
	floor := changes.MaxPosition(s.committed[table], s.watermark)
	s.mutex.Unlock()

	if last, present := s.buffer.Last(table); present {
		floor = changes.MaxPosition(floor, last)
	}
	return floor
}

// resetBuffers drops all buffered and assembled but uncommitted events,
// they are redelivered by the reopened stream.
func (s *Supervisor) resetBuffers() {
	s.gate.Lock()
	defer s.gate.Unlock()

	s.buffer.Reset()
	for _, worker := range s.workers {
		worker.drop()
	}
}
