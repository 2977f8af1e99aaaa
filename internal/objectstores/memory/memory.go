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

package memory

import (
	"context"
	"fmt"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/supporting"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/objectstore"
	"strings"
	"sync"
)

func init() {
	objectstore.RegisterStore(spiconfig.MemoryStorage, func(_ *spiconfig.Config) (objectstore.Store, error) {
		return NewMemoryStore("warehouse"), nil
	})
}

// Store is an in-memory object store, used for development mode and tests
type Store struct {
	name    string
	mutex   sync.RWMutex
	objects map[string][]byte
	puts    map[string]int
}

func NewMemoryStore(
	name string,
) *Store {

	return &Store{
		name:    name,
		objects: make(map[string][]byte),
		puts:    make(map[string]int),
	}
}

func (s *Store) Put(
	_ context.Context, path string, data []byte,
) error {

	s.mutex.Lock()
	defer s.mutex.Unlock()

	path = strings.TrimPrefix(path, "/")
	if _, ok := s.objects[path]; ok {
		return errors.WrapPrefix(objectstore.ErrAlreadyExists, path, 0)
	}
	s.objects[path] = append(make([]byte, 0, len(data)), data...)
	s.puts[path]++
	return nil
}

func (s *Store) Get(
	_ context.Context, path string,
) ([]byte, error) {

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, ok := s.objects[strings.TrimPrefix(path, "/")]
	if !ok {
		return nil, errors.WrapPrefix(objectstore.ErrNotFound, path, 0)
	}
	return append(make([]byte, 0, len(data)), data...), nil
}

func (s *Store) Exists(
	_ context.Context, path string,
) (bool, error) {

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, ok := s.objects[strings.TrimPrefix(path, "/")]
	return ok, nil
}

func (s *Store) Root() string {
	return fmt.Sprintf("memory://%s", s.name)
}

// Paths returns all stored paths with the given prefix in sorted order
func (s *Store) Paths(
	prefix string,
) []string {

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	paths := make([]string, 0)
	for _, path := range supporting.SortedKeys(s.objects) {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	return paths
}

// Uploads returns how often a path was written
func (s *Store) Uploads(
	path string,
) int {

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.puts[path]
}
