// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ctlogerr defines the log's error-kind taxonomy. The replicated
// control plane (cluster/store, cluster/election) returns one of these
// kinds, so callers can decide what to do without string-matching error
// text. The other packages (log, log/lookup, fetcher, storage, crypto,
// config) return plain wrapped errors that carry no kind.
package ctlogerr

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Status carries an error's kind, message and optional root cause.
type Status struct {
	Code  codes.Code
	Msg   string
	Cause error
}

func (s *Status) Error() string {
	if s.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", s.Code, s.Msg, s.Cause)
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Msg)
}

// Unwrap lets errors.Is/errors.As see through to the cause.
func (s *Status) Unwrap() error { return s.Cause }

// GRPCStatus lets this error cross a gRPC boundary with its code intact,
// for any future RPC frontend built atop this engine.
func (s *Status) GRPCStatus() *status.Status {
	return status.New(s.Code, s.Msg)
}

func new(code codes.Code, cause error, format string, args ...interface{}) *Status {
	return &Status{Code: code, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Validation wraps a malformed-input error: bad entry, bad signature, an
// invalid proof range. No local state changes; surfaced as HTTP 4xx.
func Validation(cause error, format string, args ...interface{}) *Status {
	return new(codes.InvalidArgument, cause, format, args...)
}

// Conflict wraps a CAS-lost or already-assigned error. Usually recovered
// by re-reading and retrying locally; surfaced to the frontend as a
// "duplicate" so add-chain can respond idempotently.
func Conflict(cause error, format string, args ...interface{}) *Status {
	return new(codes.AlreadyExists, cause, format, args...)
}

// Precondition wraps a conflict that isn't a plain duplicate -- e.g. a
// sequence number already claimed by a different leaf hash.
func Precondition(cause error, format string, args ...interface{}) *Status {
	return new(codes.FailedPrecondition, cause, format, args...)
}

// Transient wraps a retryable error: network timeout, lease not yet
// refreshed, backend unavailable. Callers should retry with backoff,
// bounded by their deadline.
func Transient(cause error, format string, args ...interface{}) *Status {
	return new(codes.Unavailable, cause, format, args...)
}

// DeadlineExceeded wraps a context deadline/cancellation.
func DeadlineExceeded(cause error, format string, args ...interface{}) *Status {
	return new(codes.DeadlineExceeded, cause, format, args...)
}

// Fatal wraps an unrecoverable invariant violation: entry DB corruption,
// unreadable signing key. The process must refuse to sign and exit;
// operator intervention is required.
func Fatal(cause error, format string, args ...interface{}) *Status {
	return new(codes.Internal, cause, format, args...)
}

// IsConflict reports whether err (or any error it wraps) is a Conflict or
// Precondition status -- the cases the frontend must treat idempotently.
func IsConflict(err error) bool {
	var s *Status
	if !asStatus(err, &s) {
		return false
	}
	return s.Code == codes.AlreadyExists || s.Code == codes.FailedPrecondition
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var s *Status
	if !asStatus(err, &s) {
		return false
	}
	return s.Code == codes.Unavailable || s.Code == codes.DeadlineExceeded
}

func asStatus(err error, target **Status) bool {
	for err != nil {
		if s, ok := err.(*Status); ok {
			*target = s
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
