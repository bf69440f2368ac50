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

package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Secretbox is a local KeyService sealing secrets with a symmetric key.
// Ciphertext blobs are the random nonce followed by the sealed box.
type Secretbox struct {
	key [32]byte
}

// NewSecretbox returns a Secretbox using key.
func NewSecretbox(key [32]byte) *Secretbox {
	return &Secretbox{key: key}
}

// NewSecretboxFromHex returns a Secretbox using a hex encoded 32 byte key.
func NewSecretboxFromHex(s string) (*Secretbox, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid secretbox key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 byte secretbox key, got %d", len(b))
	}
	var key [32]byte
	copy(key[:], b)
	return NewSecretbox(key), nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (s *Secretbox) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Decrypt opens a blob produced by Encrypt.
func (s *Secretbox) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("message authentication failed")
	}
	return plaintext, nil
}
