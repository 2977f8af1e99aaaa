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

// Package faults defines the error taxonomy every pipeline stage classifies
// its failures into. The supervisor is the single place that decides what
// happens for each Kind.
package faults

import (
	stderrors "errors"
	"fmt"
	"github.com/go-errors/errors"
)

type Kind int

const (
	// KindTransientIO covers network, object storage and catalog availability
	// failures. Retried with backoff.
	KindTransientIO Kind = iota
	// KindCommitConflict is raised when the catalog rejected a commit because
	// the table moved on and the bounded conflict retries are exhausted.
	KindCommitConflict
	// KindSchema signals an incompatible source schema change.
	KindSchema
	// KindDecode signals a change record that could not be interpreted.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "TransientIOError"
	case KindCommitConflict:
		return "CommitConflict"
	case KindSchema:
		return "SchemaError"
	case KindDecode:
		return "DecodeError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fatal returns true for kinds that move a pipeline into failed state.
func (k Kind) Fatal() bool {
	return k != KindTransientIO
}

// Error is a classified pipeline error. The wrapped cause carries the
// stack trace.
type Error struct {
	kind  Kind
	cause *errors.Error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause.Error())
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) ErrorStack() string {
	return e.cause.ErrorStack()
}

func Transient(err error) error {
	return wrap(KindTransientIO, err)
}

func Conflict(err error) error {
	return wrap(KindCommitConflict, err)
}

func Decode(err error) error {
	return wrap(KindDecode, err)
}

func Schemaf(format string, args ...any) error {
	return &Error{kind: KindSchema, cause: errors.Wrap(fmt.Sprintf(format, args...), 1)}
}

func Decodef(format string, args ...any) error {
	return &Error{kind: KindDecode, cause: errors.Wrap(fmt.Sprintf(format, args...), 1)}
}

func Transientf(format string, args ...any) error {
	return &Error{kind: KindTransientIO, cause: errors.Wrap(fmt.Sprintf(format, args...), 1)}
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if stderrors.As(err, &classified) && classified.kind == kind {
		return err
	}
	return &Error{kind: kind, cause: errors.Wrap(err, 2)}
}

// KindOf classifies an arbitrary error. Errors that were never classified
// are considered transient.
func KindOf(err error) Kind {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.kind
	}
	return KindTransientIO
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Fatal()
}
