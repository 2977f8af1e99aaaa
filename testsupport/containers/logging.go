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
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/testcontainers/testcontainers-go"
)

type logConsumer struct {
	logger *logging.Logger
}

func newLogConsumer(
	name string,
) (*logConsumer, error) {

	logger, err := logging.NewLogger(name)
	if err != nil {
		return nil, err
	}
	return &logConsumer{
		logger: logger,
	}, nil
}

func (l *logConsumer) Accept(
	log testcontainers.Log,
) {

	if log.LogType == testcontainers.StderrLog {
		l.logger.Errorln(string(log.Content))
	} else {
		l.logger.Verboseln(string(log.Content))
	}
}
