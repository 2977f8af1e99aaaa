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

package version

import (
	"fmt"
	"github.com/go-errors/errors"
	"regexp"
	"strconv"
)

// Set at build time through -ldflags
var (
	BinName    = "lakestream"
	Version    = "0.1.0"
	CommitHash = "unknown"
	Branch     = "unknown"
)

// PG_MIN_VERSION is the oldest supported server version
const PG_MIN_VERSION PostgresVersion = 140000

var serverVersionPattern = regexp.MustCompile(`^(\d+)(?:\.(\d+))?`)

// PostgresVersion is the server version as major*10000 + minor
type PostgresVersion uint

func (pv PostgresVersion) Major() uint {
	return uint(pv) / 10000
}

func (pv PostgresVersion) Minor() uint {
	return uint(pv) % 10000
}

func (pv PostgresVersion) String() string {
	return fmt.Sprintf("%d.%d", pv.Major(), pv.Minor())
}

func (pv PostgresVersion) Compare(
	other PostgresVersion,
) int {

	switch {
	case pv < other:
		return -1
	case pv > other:
		return 1
	}
	return 0
}

// ParsePostgresVersion parses the SHOW SERVER_VERSION output, for
// example "16.2 (Debian 16.2-1.pgdg120+2)" or "17beta1"
func ParsePostgresVersion(
	version string,
) (PostgresVersion, error) {

	matches := serverVersionPattern.FindStringSubmatch(version)
	if matches == nil {
		return 0, errors.Errorf("failed to extract postgresql version from '%s'", version)
	}

	major, err := strconv.ParseUint(matches[1], 10, 16)
	if err != nil {
		return 0, errors.Wrap(err, 0)
	}
	var minor uint64
	if matches[2] != "" {
		if minor, err = strconv.ParseUint(matches[2], 10, 16); err != nil {
			return 0, errors.Wrap(err, 0)
		}
	}
	return PostgresVersion(uint(major)*10000 + uint(minor)), nil
}
