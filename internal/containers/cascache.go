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
	"github.com/gookit/goutil/reflects"
	"reflect"
	"sync/atomic"
)

// CasCache is a copy-on-write map. Readers never block, writers copy the
// whole map and publish it with a compare-and-swap.
type CasCache[K comparable, V any] struct {
	mapPtr atomic.Pointer[map[K]V]
}

func NewCasCache[K comparable, V any]() *CasCache[K, V] {
	return &CasCache[K, V]{}
}

func (cc *CasCache[K, V]) Get(
	key K,
) (value V, ok bool) {

	if m := cc.mapPtr.Load(); m != nil {
		value, ok = (*m)[key]
	}
	return
}

// GetOrCompute returns the present value or stores the produced one. The
// producer may run even if a concurrent caller stores the key first, in
// that case the concurrently stored value wins.
func (cc *CasCache[K, V]) GetOrCompute(
	key K, producer func() (V, error),
) (V, error) {

	if v, present := cc.Get(key); present {
		return v, nil
	}

	v, err := producer()
	if err != nil {
		return zero[V](), err
	}
	return cc.Update(key, func(old V, present bool) (V, error) {
		if present {
			return old, nil
		}
		return v, nil
	})
}

func (cc *CasCache[K, V]) Set(
	key K, value V,
) {

	_, _ = cc.Update(key, func(V, bool) (V, error) {
		return value, nil
	})
}

// Update replaces the value of the key with the result of the updater,
// which is retried whenever the map changed concurrently. If the updater
// fails, the map stays untouched.
func (cc *CasCache[K, V]) Update(
	key K, updater func(old V, present bool) (V, error),
) (V, error) {

	for {
		o := cc.mapPtr.Load()
		var old V
		present := false
		if o != nil {
			old, present = (*o)[key]
		}

		value, err := updater(old, present)
		if err != nil {
			return zero[V](), err
		}

		n := cc.copy(o, 1)
		n[key] = value
		if cc.mapPtr.CompareAndSwap(o, &n) {
			return value, nil
		}
	}
}

// Transform is Update for keys that must be present
func (cc *CasCache[K, V]) Transform(
	key K, transformer func(old V) (V, error),
) (V, error) {

	return cc.Update(key, func(old V, present bool) (V, error) {
		if !present {
			return zero[V](), errors.Errorf("Key %v not present", reflects.String(reflect.ValueOf(key)))
		}
		return transformer(old)
	})
}

// Delete removes the key, returns true if it was present
func (cc *CasCache[K, V]) Delete(
	key K,
) bool {

	for {
		o := cc.mapPtr.Load()
		if o == nil {
			return false
		}
		if _, present := (*o)[key]; !present {
			return false
		}

		n := cc.copy(o, 0)
		delete(n, key)
		if cc.mapPtr.CompareAndSwap(o, &n) {
			return true
		}
	}
}

// Snapshot returns a copy of the current content
func (cc *CasCache[K, V]) Snapshot() map[K]V {
	return cc.copy(cc.mapPtr.Load(), 0)
}

func (cc *CasCache[K, V]) Length() int {
	if m := cc.mapPtr.Load(); m != nil {
		return len(*m)
	}
	return 0
}

func (cc *CasCache[K, V]) copy(
	m *map[K]V, extra int,
) map[K]V {

	if m == nil {
		return make(map[K]V, extra)
	}
	n := make(map[K]V, len(*m)+extra)
	for k, v := range *m {
		n[k] = v
	}
	return n
}

func zero[T any]() (t T) {
	return
}
