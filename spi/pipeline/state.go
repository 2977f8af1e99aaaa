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

package pipeline

import (
	"github.com/go-errors/errors"
	"time"
)

var ErrIllegalTransition = errors.Errorf("illegal pipeline state transition")

type Status string

const (
	Idle    Status = "idle"
	Running Status = "running"
	Paused  Status = "paused"
	Failed  Status = "failed"
)

var transitions = map[Status][]Status{
	Idle:    {Running},
	Running: {Paused, Failed, Idle},
	Paused:  {Running, Idle},
	Failed:  {Idle},
}

// CanTransition returns true if a pipeline may move from one status to
// the other. Failed is terminal until an operator resets it to idle.
func CanTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// State is the externally visible state of a pipeline. Lag is measured
// in bytes of source log between the last received and the last
// committed position.
type State struct {
	PipelineID string            `json:"pipeline_id"`
	Status     Status            `json:"status"`
	LastError  string            `json:"last_error,omitempty"`
	Lag        uint64            `json:"lag"`
	LagByTable map[string]uint64 `json:"lag_by_table,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (s State) Clone() State {
	clone := s
	if s.LagByTable != nil {
		clone.LagByTable = make(map[string]uint64, len(s.LagByTable))
		for k, v := range s.LagByTable {
			clone.LagByTable[k] = v
		}
	}
	return clone
}
