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

// Package credential resolves stored secrets into plaintext credentials.
//
// A stored secret is either plaintext, or the base64 encoding of a ciphertext
// blob produced by a KeyService, prefixed with "kms:". Plaintext secrets are
// returned unchanged, which keeps local and test setups simple.
package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// EncryptedPrefix marks a stored secret as an encrypted blob.
const EncryptedPrefix = "kms:"

// ErrNoKeyService is returned when an encrypted secret must be resolved
// without a KeyService.
var ErrNoKeyService = errors.New("no key service configured for encrypted secret")

// KeyService decrypts ciphertext blobs.
type KeyService interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Encrypter encrypts plaintext into ciphertext blobs understood by the
// matching KeyService.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
}

// Error is returned when a stored secret cannot be resolved. The partially
// resolved value is never returned alongside it.
type Error struct {
	// Op is the failed step: "decode", "decrypt" or "encrypt".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("credential %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsEncrypted reports whether stored is in the encrypted form.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, EncryptedPrefix)
}

// Resolve returns the plaintext for stored, decrypting it with keys when it
// is in the encrypted form.
func Resolve(ctx context.Context, keys KeyService, stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}
	if keys == nil {
		return "", &Error{Op: "decrypt", Err: ErrNoKeyService}
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", &Error{Op: "decode", Err: err}
	}
	if len(blob) == 0 {
		return "", &Error{Op: "decode", Err: errors.New("empty ciphertext")}
	}
	plaintext, err := keys.Decrypt(ctx, blob)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: err}
	}
	return string(plaintext), nil
}

// Encrypt returns the stored, encrypted form of plaintext.
func Encrypt(ctx context.Context, enc Encrypter, plaintext string) (string, error) {
	if enc == nil {
		return "", &Error{Op: "encrypt", Err: ErrNoKeyService}
	}
	blob, err := enc.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return "", &Error{Op: "encrypt", Err: err}
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(blob), nil
}
