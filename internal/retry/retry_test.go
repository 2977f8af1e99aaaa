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

package retry

import (
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/clock"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func newDeterministicState(clk clock.Clock, maxAttempts int) *State {
	return NewState(Policy{
		InitialInterval: time.Second,
		MaxInterval:     time.Second * 4,
		MaxAttempts:     maxAttempts,
		Clock:           clk,
	})
}

func Test_Next_Attempt_Follows_Backoff(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	state := newDeterministicState(clk, 10)

	assert.True(t, state.Ready())
	assert.False(t, state.Pending())

	assert.True(t, state.Failed(errors.New("unavailable")))
	assert.Equal(t, start.Add(time.Second), state.NextAttempt())
	assert.False(t, state.Ready())

	clk.Advance(time.Millisecond * 999)
	assert.False(t, state.Ready())
	clk.Advance(time.Millisecond)
	assert.True(t, state.Ready())

	assert.True(t, state.Failed(errors.New("unavailable")))
	assert.Equal(t, clk.Now().Add(time.Millisecond*1500), state.NextAttempt())
	assert.Equal(t, 2, state.Attempt())
	assert.EqualError(t, state.LastError(), "unavailable")
}

func Test_Interval_Is_Capped(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	state := newDeterministicState(clk, 0)

	for i := 0; i < 10; i++ {
		assert.True(t, state.Failed(errors.New("down")))
	}
	assert.Equal(t, clk.Now().Add(time.Second*4), state.NextAttempt())
}

func Test_Attempts_Exhausted(t *testing.T) {
	state := newDeterministicState(clock.NewManual(time.Unix(0, 0)), 3)
	assert.True(t, state.Failed(errors.New("a")))
	assert.True(t, state.Failed(errors.New("b")))
	assert.False(t, state.Failed(errors.New("c")))
}

func Test_Success_Resets(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	state := newDeterministicState(clk, 3)
	state.Failed(errors.New("a"))
	state.Failed(errors.New("b"))
	state.Succeeded()

	assert.True(t, state.Ready())
	assert.Equal(t, 0, state.Attempt())
	assert.Nil(t, state.LastError())

	state.Failed(errors.New("c"))
	assert.Equal(t, clk.Now().Add(time.Second), state.NextAttempt())
}
