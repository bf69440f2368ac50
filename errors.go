// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bulktransport

import (
	"errors"
	"fmt"

	"github.com/elastic/go-bulktransport/credential"
)

var (
	// ErrClosed is returned from methods of closed Transports.
	ErrClosed = errors.New("bulk transport closed")

	// ErrBatchTooLarge is returned by Send for batches holding more
	// documents than the configured batch size.
	ErrBatchTooLarge = errors.New("batch exceeds batch size")

	errInvalidJSON = errors.New("invalid JSON")
	errNotObject   = errors.New("document is not a JSON object")
)

// CredentialError is returned when the configured password cannot be
// resolved. The transport is not constructed.
type CredentialError = credential.Error

// ConfigError reports a missing or invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// EncodingError reports a document that could not be framed into a bulk
// request. The containing batch is not sent.
type EncodingError struct {
	// Position is the index of the document within its batch.
	Position int
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode document at position %d: %v", e.Position, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// TransportError reports a failed bulk request attempt: a connection level
// failure, a non-2xx status, or a 2xx response reporting failed documents.
type TransportError struct {
	// StatusCode is the HTTP status, or zero if no response was received.
	StatusCode int
	// FailedDocs holds the failed items reported in a 2xx response.
	FailedDocs []BulkResponseItem
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	msg := fmt.Sprintf("bulk request reported %d failed documents", len(e.FailedDocs))
	if len(e.FailedDocs) > 0 {
		first := e.FailedDocs[0]
		msg += fmt.Sprintf(", first in '%s' (%s): %s", first.Index, first.Error.Type, first.Error.Reason)
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeliveryFailure is returned once a batch has failed its last allowed
// attempt.
type DeliveryFailure struct {
	// Attempts is the number of bulk requests made for the batch.
	Attempts int
	// Err is the last observed error.
	Err error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.Err
}
