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
	"github.com/stretchr/testify/assert"
	"testing"
)

func Test_Transitions(t *testing.T) {
	assert.True(t, CanTransition(Idle, Running))
	assert.True(t, CanTransition(Running, Paused))
	assert.True(t, CanTransition(Running, Failed))
	assert.True(t, CanTransition(Paused, Running))
	assert.True(t, CanTransition(Failed, Idle))

	assert.False(t, CanTransition(Failed, Running))
	assert.False(t, CanTransition(Idle, Paused))
	assert.False(t, CanTransition(Paused, Failed))
	assert.False(t, CanTransition(Idle, Idle))
}

func Test_State_Clone_Is_Independent(t *testing.T) {
	state := State{Status: Running, LagByTable: map[string]uint64{"a": 10}}
	clone := state.Clone()
	clone.LagByTable["a"] = 20
	assert.Equal(t, uint64(10), state.LagByTable["a"])
}
