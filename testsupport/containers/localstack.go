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
	"context"
	"fmt"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// SetupLocalStackWithS3 starts LocalStack with only the S3 service and
// returns the endpoint URL.
func SetupLocalStackWithS3() (testcontainers.Container, string, error) {
	consumer, err := newLogConsumer("testcontainers-localstack")
	if err != nil {
		return nil, "", err
	}

	container, err := localstack.Run(context.Background(), "localstack/localstack:3.0.1",
		testcontainers.WithEnv(map[string]string{
			"SERVICES":              "s3",
			"EAGER_SERVICE_LOADING": "1",
		}),
		testcontainers.WithLogConsumers(consumer),
	)
	if err != nil {
		return nil, "", err
	}

	host, err := container.Host(context.Background())
	if err != nil {
		return nil, "", err
	}

	port, err := container.MappedPort(context.Background(), "4566/tcp")
	if err != nil {
		return nil, "", err
	}

	return container, fmt.Sprintf("http://%s:%d", host, port.Int()), nil
}
