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
	"errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
)

// KMS is a KeyService backed by AWS Key Management Service.
type KMS struct {
	client kmsiface.KMSAPI
	keyID  string
}

// NewKMS returns a KMS key service using client. keyID is only needed for
// Encrypt; KMS derives the key from the ciphertext blob on Decrypt.
func NewKMS(client kmsiface.KMSAPI, keyID string) *KMS {
	return &KMS{client: client, keyID: keyID}
}

// NewKMSForRegion returns a KMS key service with a client for region, using
// the default AWS credential chain.
func NewKMSForRegion(region, keyID string) (*KMS, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return NewKMS(kms.New(sess), keyID), nil
}

// Decrypt decrypts a ciphertext blob.
func (k *KMS) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := k.client.DecryptWithContext(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

// Encrypt encrypts plaintext with the configured key.
func (k *KMS) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k.keyID == "" {
		return nil, errors.New("kms key id is empty")
	}
	out, err := k.client.EncryptWithContext(ctx, &kms.EncryptInput{
		KeyId:     aws.String(k.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, err
	}
	return out.CiphertextBlob, nil
}
