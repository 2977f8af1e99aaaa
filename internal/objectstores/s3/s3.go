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

package s3

import (
	"bytes"
	"context"
	"fmt"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/go-errors/errors"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/faults"
	"github.com/noctarius/lakestream/spi/objectstore"
	"io"
	"net/http"
	"strings"
)

func init() {
	objectstore.RegisterStore(spiconfig.S3Storage, newS3Store)
}

type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyId     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
}

type s3Store struct {
	logger   *logging.Logger
	bucket   string
	prefix   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

func newS3Store(
	c *spiconfig.Config,
) (objectstore.Store, error) {

	options := Options{
		Bucket:          spiconfig.GetOrDefault(c, spiconfig.PropertyS3Bucket, ""),
		Prefix:          spiconfig.GetOrDefault(c, spiconfig.PropertyS3Prefix, ""),
		Region:          spiconfig.GetOrDefault(c, spiconfig.PropertyS3AwsRegion, ""),
		Endpoint:        spiconfig.GetOrDefault(c, spiconfig.PropertyS3AwsEndpoint, ""),
		AccessKeyId:     spiconfig.GetOrDefault(c, spiconfig.PropertyS3AwsAccessKeyId, ""),
		SecretAccessKey: spiconfig.GetOrDefault(c, spiconfig.PropertyS3AwsSecretAccessKey, ""),
		SessionToken:    spiconfig.GetOrDefault(c, spiconfig.PropertyS3AwsSessionToken, ""),
		ForcePathStyle:  spiconfig.GetOrDefault(c, spiconfig.PropertyS3AwsForcePathStyle, false),
	}
	return NewS3Store(options)
}

func NewS3Store(
	options Options,
) (objectstore.Store, error) {

	if options.Bucket == "" {
		return nil, errors.Errorf("S3 storage needs the bucket to be configured")
	}

	logger, err := logging.NewLogger("S3ObjectStore")
	if err != nil {
		return nil, err
	}

	awsConfig := aws.NewConfig().
		WithEndpoint(options.Endpoint).
		WithS3ForcePathStyle(options.ForcePathStyle)

	if options.AccessKeyId != "" && options.SecretAccessKey != "" {
		awsConfig = awsConfig.WithCredentials(
			credentials.NewStaticCredentials(options.AccessKeyId, options.SecretAccessKey, options.SessionToken),
		)
	}

	if options.Region != "" {
		awsConfig = awsConfig.WithRegion(options.Region)
	}

	awsSession, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	logger.Infof("Using S3 object storage at s3://%s/%s", options.Bucket, options.Prefix)
	return &s3Store{
		logger:   logger,
		bucket:   options.Bucket,
		prefix:   strings.Trim(options.Prefix, "/"),
		client:   s3.New(awsSession),
		uploader: s3manager.NewUploader(awsSession),
	}, nil
}

func (s *s3Store) Put(
	ctx context.Context, path string, data []byte,
) error {

	exists, err := s.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return errors.WrapPrefix(objectstore.ErrAlreadyExists, path, 0)
	}

	if _, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return faults.Transient(err)
	}
	s.logger.Verbosef("Uploaded %s (%d bytes)", path, len(data))
	return nil
}

func (s *s3Store) Get(
	ctx context.Context, path string,
) ([]byte, error) {

	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.WrapPrefix(objectstore.ErrNotFound, path, 0)
		}
		return nil, faults.Transient(err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, faults.Transient(err)
	}
	return data, nil
}

func (s *s3Store) Exists(
	ctx context.Context, path string,
) (bool, error) {

	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, faults.Transient(err)
	}
	return true, nil
}

func (s *s3Store) Root() string {
	if s.prefix == "" {
		return fmt.Sprintf("s3://%s", s.bucket)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}

func (s *s3Store) key(
	path string,
) string {

	path = strings.TrimPrefix(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func isNotFound(
	err error,
) bool {

	if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
		return true
	}
	if e, ok := err.(awserr.Error); ok {
		switch e.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
