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

package local

import (
	"context"
	"github.com/docker/docker/pkg/ioutils"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/objectstore"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

func init() {
	objectstore.RegisterStore(spiconfig.FileStorage, newLocalStore)
}

// localStore keeps objects as files below a root directory
type localStore struct {
	root   string
	logger *logging.Logger
	// guards the exists check and the write of the same path
	mutex sync.Mutex
}

func newLocalStore(
	config *spiconfig.Config,
) (objectstore.Store, error) {

	path := spiconfig.GetOrDefault(config, spiconfig.PropertyFileObjectStoragePath, "")
	if path == "" {
		return nil, errors.Errorf("FileStorage needs a path to be configured")
	}
	return NewLocalStore(path)
}

func NewLocalStore(
	root string,
) (objectstore.Store, error) {

	logger, err := logging.NewLogger("LocalObjectStore")
	if err != nil {
		return nil, err
	}

	root, err = filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if err := os.MkdirAll(root, 0777); err != nil {
		return nil, errors.Wrap(err, 0)
	}

	logger.Infof("Using local object storage at %s", root)
	return &localStore{
		root:   root,
		logger: logger,
	}, nil
}

func (l *localStore) Put(
	_ context.Context, path string, data []byte,
) error {

	file, err := l.resolve(path)
	if err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, err := os.Stat(file); err == nil {
		return errors.WrapPrefix(objectstore.ErrAlreadyExists, path, 0)
	} else if !os.IsNotExist(err) {
		return faults.Transient(err)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0777); err != nil {
		return faults.Transient(err)
	}
	if err := ioutils.AtomicWriteFile(file, data, 0666); err != nil {
		return faults.Transient(err)
	}
	return nil
}

func (l *localStore) Get(
	_ context.Context, path string,
) ([]byte, error) {

	file, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapPrefix(objectstore.ErrNotFound, path, 0)
		}
		return nil, faults.Transient(err)
	}
	return data, nil
}

func (l *localStore) Exists(
	_ context.Context, path string,
) (bool, error) {

	file, err := l.resolve(path)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, faults.Transient(err)
	}
	return true, nil
}

func (l *localStore) Root() string {
	return "file://" + filepath.ToSlash(l.root)
}

func (l *localStore) resolve(
	path string,
) (string, error) {

	file := filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if file != l.root && !strings.HasPrefix(file, l.root+string(filepath.Separator)) {
		return "", errors.Errorf("path '%s' escapes the storage root", path)
	}
	return file, nil
}
