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

// Package retry implements retries as an explicit state machine. A stage
// records a failure, the state computes the timestamp of the next attempt
// and the scheduler asks on every tick whether the attempt is due.
package retry

import (
	"github.com/cenkalti/backoff/v4"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/noctarius/lakestream/spi/config"
	"time"
)

type Policy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxAttempts         int
	RandomizationFactor float64
	Clock               clock.Clock
}

func PolicyFromConfig(
	c config.RetryConfig, clk clock.Clock,
) Policy {

	return Policy{
		InitialInterval:     c.InitialInterval,
		MaxInterval:         c.MaxInterval,
		MaxAttempts:         c.MaxAttempts,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Clock:               clk,
	}
}

type State struct {
	policy      Policy
	backoff     *backoff.ExponentialBackOff
	attempt     int
	nextAttempt time.Time
	lastError   error
}

func NewState(
	policy Policy,
) *State {

	if policy.Clock == nil {
		policy.Clock = clock.System
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.RandomizationFactor = policy.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Clock = policy.Clock
	b.Reset()

	return &State{
		policy:  policy,
		backoff: b,
	}
}

// Failed records a failed attempt and schedules the next one. It returns
// false when the attempt budget is exhausted.
func (s *State) Failed(
	err error,
) bool {

	s.attempt++
	s.lastError = err
	if s.policy.MaxAttempts > 0 && s.attempt >= s.policy.MaxAttempts {
		return false
	}
	s.nextAttempt = s.policy.Clock.Now().Add(s.backoff.NextBackOff())
	return true
}

// Succeeded resets the state after a successful attempt
func (s *State) Succeeded() {
	s.attempt = 0
	s.lastError = nil
	s.nextAttempt = time.Time{}
	s.backoff.Reset()
}

// Ready returns true if no retry is pending or the pending retry is due
func (s *State) Ready() bool {
	if s.attempt == 0 {
		return true
	}
	return !s.policy.Clock.Now().Before(s.nextAttempt)
}

func (s *State) Pending() bool {
	return s.attempt > 0
}

func (s *State) Attempt() int {
	return s.attempt
}

func (s *State) NextAttempt() time.Time {
	return s.nextAttempt
}

func (s *State) LastError() error {
	return s.lastError
}
