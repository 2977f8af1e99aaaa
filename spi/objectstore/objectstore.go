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

package objectstore

import (
	"context"
	"github.com/go-errors/errors"
	"strings"
)

var (
	ErrNotFound      = errors.Errorf("object not found")
	ErrAlreadyExists = errors.Errorf("object already exists")
)

// Store is a write-once object storage. Paths are relative to the
// store root, URI renders the absolute location used in table metadata.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Root() string
}

// URI returns the absolute location of path inside the store
func URI(store Store, path string) string {
	return strings.TrimSuffix(store.Root(), "/") + "/" + strings.TrimPrefix(path, "/")
}

// Relative resolves an absolute location back to a path inside the store.
// Returns false if the location does not belong to the store.
func Relative(store Store, uri string) (string, bool) {
	root := strings.TrimSuffix(store.Root(), "/") + "/"
	if !strings.HasPrefix(uri, root) {
		return "", false
	}
	return strings.TrimPrefix(uri, root), true
}
