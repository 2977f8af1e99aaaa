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

package config

import (
	"github.com/go-errors/errors"
	"github.com/inhies/go-bytesize"
	"github.com/samber/lo"
	"strings"
	"time"
)

const (
	DefaultBatchMaxRows       = 10000
	DefaultBatchMaxBytes      = "64MB"
	DefaultBatchMaxWait       = time.Second * 30
	DefaultBatchMaxFileRows   = 250000
	DefaultBufferTableMaxSize = 50000
	DefaultBufferTableBytes   = "256MB"
	DefaultRetryInitial       = time.Second
	DefaultRetryMaxInterval   = time.Minute
	DefaultRetryMaxAttempts   = 10
	DefaultCommitMaxAttempts  = 5
	DefaultTick               = time.Second
	DefaultPublication        = "lakestream"
)

type PipelineConfig struct {
	Id        string               `toml:"id"`
	AutoStart *bool                `toml:"autostart"`
	Source    SourceConfig         `toml:"source"`
	Batch     BatchConfig          `toml:"batch"`
	Buffer    BufferConfig         `toml:"buffer"`
	Retry     RetryConfig          `toml:"retry"`
	Commit    CommitConfig         `toml:"commit"`
	Tick      time.Duration        `toml:"tick"`
	Tables    []TableMappingConfig `toml:"tables"`
}

type SourceConfig struct {
	Connection      string                `toml:"connection"`
	Password        string                `toml:"password"`
	Publication     string                `toml:"publication"`
	ReplicationSlot ReplicationSlotConfig `toml:"replicationslot"`
	InitialPosition string                `toml:"initialposition"`
}

type ReplicationSlotConfig struct {
	Name   string `toml:"name"`
	Create *bool  `toml:"create"`
}

type BatchConfig struct {
	MaxRows     int           `toml:"maxrows"`
	MaxBytes    string        `toml:"maxbytes"`
	MaxWait     time.Duration `toml:"maxwait"`
	MaxFileRows int           `toml:"maxfilerows"`
}

type BufferConfig struct {
	TableCapacity int    `toml:"tablecapacity"`
	TotalCapacity int    `toml:"totalcapacity"`
	TableMaxBytes string `toml:"tablemaxbytes"`
}

type RetryConfig struct {
	InitialInterval time.Duration `toml:"initialinterval"`
	MaxInterval     time.Duration `toml:"maxinterval"`
	MaxAttempts     int           `toml:"maxattempts"`
}

type CommitConfig struct {
	MaxAttempts int `toml:"maxattempts"`
}

type TableMappingConfig struct {
	Source      string    `toml:"source"`
	Destination string    `toml:"destination"`
	Mode        WriteMode `toml:"mode"`
	Buckets     int       `toml:"buckets"`
	Filter      string    `toml:"filter"`
}

// WithDefaults returns a copy of the pipeline configuration with all
// unset values replaced by their defaults.
func (pc PipelineConfig) WithDefaults() PipelineConfig {
	if pc.AutoStart == nil {
		pc.AutoStart = lo.ToPtr(true)
	}
	if pc.Source.Publication == "" {
		pc.Source.Publication = DefaultPublication
	}
	if pc.Source.ReplicationSlot.Name == "" {
		pc.Source.ReplicationSlot.Name = strings.ReplaceAll("lakestream_"+pc.Id, "-", "_")
	}
	if pc.Source.ReplicationSlot.Create == nil {
		pc.Source.ReplicationSlot.Create = lo.ToPtr(true)
	}
	if pc.Batch.MaxRows <= 0 {
		pc.Batch.MaxRows = DefaultBatchMaxRows
	}
	if pc.Batch.MaxBytes == "" {
		pc.Batch.MaxBytes = DefaultBatchMaxBytes
	}
	if pc.Batch.MaxWait <= 0 {
		pc.Batch.MaxWait = DefaultBatchMaxWait
	}
	if pc.Batch.MaxFileRows <= 0 {
		pc.Batch.MaxFileRows = DefaultBatchMaxFileRows
	}
	if pc.Buffer.TableCapacity <= 0 {
		pc.Buffer.TableCapacity = DefaultBufferTableMaxSize
	}
	if pc.Buffer.TableMaxBytes == "" {
		pc.Buffer.TableMaxBytes = DefaultBufferTableBytes
	}
	if pc.Retry.InitialInterval <= 0 {
		pc.Retry.InitialInterval = DefaultRetryInitial
	}
	if pc.Retry.MaxInterval <= 0 {
		pc.Retry.MaxInterval = DefaultRetryMaxInterval
	}
	if pc.Retry.MaxAttempts <= 0 {
		pc.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if pc.Commit.MaxAttempts <= 0 {
		pc.Commit.MaxAttempts = DefaultCommitMaxAttempts
	}
	if pc.Tick <= 0 {
		pc.Tick = DefaultTick
	}

	tables := make([]TableMappingConfig, 0, len(pc.Tables))
	for _, table := range pc.Tables {
		if table.Mode == "" {
			table.Mode = AppendChangelog
		}
		if table.Buckets <= 0 {
			table.Buckets = 1
		}
		if table.Destination == "" {
			table.Destination = table.Source
		}
		tables = append(tables, table)
	}
	pc.Tables = tables
	return pc
}

// Validate checks the pipeline configuration for inconsistencies
// that would prevent the pipeline from being created.
func (pc PipelineConfig) Validate() error {
	if pc.Id == "" {
		return errors.Errorf("pipeline id is required")
	}
	if pc.Source.Connection == "" {
		return errors.Errorf("pipeline '%s' requires a source connection", pc.Id)
	}
	if len(pc.Tables) == 0 {
		return errors.Errorf("pipeline '%s' requires at least one table mapping", pc.Id)
	}

	sources := make(map[string]bool)
	destinations := make(map[string]bool)
	for _, table := range pc.Tables {
		if table.Source == "" {
			return errors.Errorf("pipeline '%s' has a table mapping without source", pc.Id)
		}
		if !strings.Contains(table.Source, ".") {
			return errors.Errorf(
				"pipeline '%s' table source '%s' must be schema qualified", pc.Id, table.Source,
			)
		}
		if sources[table.Source] {
			return errors.Errorf("pipeline '%s' maps source '%s' twice", pc.Id, table.Source)
		}
		if destinations[table.Destination] {
			return errors.Errorf("pipeline '%s' maps destination '%s' twice", pc.Id, table.Destination)
		}
		switch table.Mode {
		case AppendChangelog, MergeOnRead:
		default:
			return errors.Errorf("pipeline '%s' table '%s' has unknown mode '%s'", pc.Id, table.Source, table.Mode)
		}
		sources[table.Source] = true
		destinations[table.Destination] = true
	}

	if _, err := ParseByteSize(pc.Batch.MaxBytes); err != nil {
		return err
	}
	if _, err := ParseByteSize(pc.Buffer.TableMaxBytes); err != nil {
		return err
	}
	return nil
}

// TableMapping returns the mapping for the given schema qualified
// source table name.
func (pc PipelineConfig) TableMapping(source string) (TableMappingConfig, bool) {
	return lo.Find(pc.Tables, func(item TableMappingConfig) bool {
		return item.Source == source
	})
}

// ParseByteSize parses human-readable byte sizes such as 64MB. An empty
// string means unbounded and is returned as 0.
func ParseByteSize(value string) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	bs, err := bytesize.Parse(value)
	if err != nil {
		return 0, errors.Errorf("failed to parse byte size '%s' => %s", value, err.Error())
	}
	return uint64(bs), nil
}
