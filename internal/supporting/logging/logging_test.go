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

package logging

import (
	"github.com/gookit/slog"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
	"time"
)

func Test_New_File_Handler_Disabled(t *testing.T) {
	found, handler, err := newFileHandler(spiconfig.LoggerFileConfig{})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, handler)
}

func Test_New_File_Handler_Max_Size(t *testing.T) {
	config := spiconfig.LoggerFileConfig{
		Enabled: lo.ToPtr(true),
		Path:    filepath.Join(t.TempDir(), "size.log"),
		Rotate:  lo.ToPtr(true),
		MaxSize: lo.ToPtr("5MB"),
	}

	found, handler, err := newFileHandler(config)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, handler)

	_, cached, err := newFileHandler(config)
	require.NoError(t, err)
	assert.Same(t, handler, cached)
}

func Test_New_File_Handler_Max_Duration(t *testing.T) {
	config := spiconfig.LoggerFileConfig{
		Enabled:     lo.ToPtr(true),
		Path:        filepath.Join(t.TempDir(), "duration.log"),
		Rotate:      lo.ToPtr(true),
		MaxDuration: lo.ToPtr(time.Duration(600)),
	}

	found, _, err := newFileHandler(config)
	assert.NoError(t, err)
	assert.True(t, found)
}

func Test_New_File_Handler_Illegal_Size(t *testing.T) {
	config := spiconfig.LoggerFileConfig{
		Enabled: lo.ToPtr(true),
		Path:    filepath.Join(t.TempDir(), "illegal.log"),
		Rotate:  lo.ToPtr(true),
		MaxSize: lo.ToPtr("huge"),
	}

	_, _, err := newFileHandler(config)
	assert.Error(t, err)
}

func Test_Level_Names(t *testing.T) {
	assert.Equal(t, slog.ErrorLevel, Name2Level("err"))
	assert.Equal(t, slog.WarnLevel, Name2Level("WARNING"))
	assert.Equal(t, VerboseLevel, Name2Level("verbose"))
	assert.Equal(t, slog.InfoLevel, Name2Level("unknown"))
}

func Test_Tagged_Logger_Prefix(t *testing.T) {
	logger, err := NewLogger("TableWorker")
	require.NoError(t, err)
	assert.Equal(t, "[TableWorker]", logger.prefix())

	tagged := logger.Tagged("orders")
	assert.Equal(t, "[TableWorker] [orders]", tagged.prefix())
	assert.Equal(t, "[TableWorker]", logger.prefix())
}
