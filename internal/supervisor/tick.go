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
	"github.com/noctarius/lakestream/internal/supporting"
	"github.com/noctarius/lakestream/spi/changes"
)

// tickLoop drives time based batch triggers and pending retries, and
// advances the source watermark.
func (s *Supervisor) tickLoop(
	r *run,
) {

	defer r.group.Done()

	ticker := s.deps.Clock.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C():
		}
		s.tick(r)
	}
}

func (s *Supervisor) tick(
	r *run,
) {

	for _, worker := range s.workers {
		worker.notify()
	}

	source := r.currentSource()
	if source == nil {
		return
	}
	s.advanceWatermark(r.ctx, source)
	s.updateLag(source)
}

// advanceWatermark moves the pipeline watermark to the highest position
// below which every routed event is durably committed, and acknowledges
// it to the source.
func (s *Supervisor) advanceWatermark(
	ctx context.Context, source Source,
) {

	// read before the buffer, events of the transaction are enqueued then
	watermark := source.LastCommit()
	if watermark.IsZero() {
		return
	}
	for _, table := range s.tables {
		if oldest, present := s.buffer.Oldest(table); present {
			watermark = changes.MinPosition(watermark, oldest.Position.Previous())
		}
	}

	s.mutex.Lock()
	current := s.watermark
	s.mutex.Unlock()
	if watermark.IsZero() || !watermark.After(current) {
		return
	}

	if _, err := s.deps.Checkpoints.AdvanceWatermark(ctx, s.config.Id, watermark); err != nil {
		if ctx.Err() == nil {
			s.logger.Warnf("Failed to record watermark %s: %s", watermark, err)
		}
		return
	}

	s.mutex.Lock()
	s.watermark = changes.MaxPosition(s.watermark, watermark)
	s.mutex.Unlock()
	source.Acknowledge(watermark)
	s.logger.Debugf("Advanced watermark to %s", watermark)
}

func (s *Supervisor) updateLag(
	source Source,
) {

	received := source.Received()

	s.mutex.Lock()
	lag := supporting.Distance(received, s.watermark.LSN)
	byTable := make(map[string]uint64, len(s.tables))
	for _, table := range s.tables {
		byTable[table] = uint64(supporting.Distance(received, s.committed[table].LSN))
	}
	s.state.Lag = uint64(lag)
	s.state.LagByTable = byTable
	s.mutex.Unlock()

	s.reporter.Set("lag", uint64(lag))
	s.reporter.Set("buffer.pending", s.buffer.Total())
}
