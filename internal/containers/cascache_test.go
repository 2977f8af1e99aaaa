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

package containers

import (
	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

func Test_CasCache_GetOrCompute(t *testing.T) {
	cache := NewCasCache[string, int]()

	_, found := cache.Get("a")
	assert.False(t, found)

	v, err := cache.GetOrCompute("a", func() (int, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = cache.GetOrCompute("a", func() (int, error) {
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = cache.GetOrCompute("b", func() (int, error) {
		return 0, errors.New("failed")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, cache.Length())
}

func Test_CasCache_Transform(t *testing.T) {
	cache := NewCasCache[string, int]()

	_, err := cache.Transform("a", func(old int) (int, error) {
		return old + 1, nil
	})
	assert.Error(t, err)

	cache.Set("a", 1)
	v, err := cache.Transform("a", func(old int) (int, error) {
		return old + 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = cache.Transform("missing", func(old int) (int, error) {
		return old, nil
	})
	assert.ErrorContains(t, err, "missing")
}

func Test_CasCache_Update_Failure_Keeps_Value(t *testing.T) {
	cache := NewCasCache[string, int]()
	cache.Set("a", 1)

	_, err := cache.Update("a", func(old int, present bool) (int, error) {
		assert.True(t, present)
		return 0, errors.New("rejected")
	})
	assert.Error(t, err)

	v, _ := cache.Get("a")
	assert.Equal(t, 1, v)
}

func Test_CasCache_Delete_And_Snapshot(t *testing.T) {
	cache := NewCasCache[string, int]()
	cache.Set("a", 1)
	cache.Set("b", 2)

	snapshot := cache.Snapshot()
	assert.True(t, cache.Delete("a"))
	assert.False(t, cache.Delete("a"))
	assert.Equal(t, 1, cache.Length())
	assert.Equal(t, 2, len(snapshot))
}

func Test_CasCache_Concurrent_Set(t *testing.T) {
	cache := NewCasCache[int, int]()
	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Set(i, i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, cache.Length())
}
