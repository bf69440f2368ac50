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
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkEncoderFraming(t *testing.T) {
	enc := newBulkEncoder(false)
	batch := Batch{Index: "logs-2024.01.02", Events: []string{`{"a":1}`, `{"b":"x"}`}}
	require.NoError(t, enc.encode(batch, "event", false))

	assert.Equal(t, 2, enc.Items())
	assert.Equal(t, ""+
		`{"index":{"_index":"logs-2024.01.02","_type":"event"}}`+"\n"+
		`{"a":1}`+"\n"+
		`{"index":{"_index":"logs-2024.01.02","_type":"event"}}`+"\n"+
		`{"b":"x"}`+"\n",
		string(enc.Bytes()),
	)
	assert.Equal(t, len(enc.Bytes()), enc.UncompressedLen())
}

func TestBulkEncoderHashID(t *testing.T) {
	enc := newBulkEncoder(false)
	doc := `{"message":"hello"}`
	require.NoError(t, enc.encode(Batch{Index: "logs", Events: []string{doc}}, "event", true))

	lines := strings.Split(strings.TrimSuffix(string(enc.Bytes()), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"index":{"_index":"logs","_type":"event","_id":"`+HashID([]byte(doc))+`"}}`, lines[0])
	assert.Equal(t, doc, lines[1])
}

func TestBulkEncoderCompactsMultilineDocuments(t *testing.T) {
	enc := newBulkEncoder(false)
	doc := "{\n  \"a\": 1,\n  \"b\": [1, 2]\n}"
	require.NoError(t, enc.encode(Batch{Index: "logs", Events: []string{doc}}, "event", true))

	lines := strings.Split(strings.TrimSuffix(string(enc.Bytes()), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":1,"b":[1,2]}`, lines[1])
	// The id is derived from the document as received.
	assert.Contains(t, lines[0], HashID([]byte(doc)))
}

func TestBulkEncoderInvalidDocument(t *testing.T) {
	for name, tc := range map[string]struct {
		doc string
		err error
	}{
		"malformed": {doc: `{"a":`, err: errInvalidJSON},
		"empty":     {doc: ``, err: errInvalidJSON},
		"array":     {doc: `[1,2]`, err: errNotObject},
		"string":    {doc: `"text"`, err: errNotObject},
		"trailing":  {doc: `{"a":1} x`, err: errInvalidJSON},
		"utf8":      {doc: "{\"a\":\"\xff\"}", err: errInvalidJSON},
		"comma":     {doc: `{"a":1,}`, err: errInvalidJSON},
	} {
		t.Run(name, func(t *testing.T) {
			enc := newBulkEncoder(false)
			err := enc.encode(Batch{Index: "logs", Events: []string{`{"ok":true}`, tc.doc, `{"ok":true}`}}, "event", false)
			var encErr *EncodingError
			require.ErrorAs(t, err, &encErr)
			assert.Equal(t, 1, encErr.Position)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 0, enc.Items())
			assert.Zero(t, len(enc.Bytes()))
		})
	}
}

func TestBulkEncoderGzip(t *testing.T) {
	enc := newBulkEncoder(true)
	events := make([]string, 100)
	for i := range events {
		events[i] = `{"message":"the quick brown fox jumps over the lazy dog"}`
	}
	require.NoError(t, enc.encode(Batch{Index: "logs", Events: events}, "event", false))
	assert.Less(t, len(enc.Bytes()), enc.UncompressedLen())

	r, err := gzip.NewReader(bytes.NewReader(enc.Bytes()))
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, enc.UncompressedLen(), len(plain))
	assert.Equal(t, 200, bytes.Count(plain, []byte("\n")))

	// The encoder is reusable once reset by the next encode.
	require.NoError(t, enc.encode(Batch{Index: "logs", Events: events[:1]}, "event", false))
	assert.Equal(t, 1, enc.Items())
	r, err = gzip.NewReader(bytes.NewReader(enc.Bytes()))
	require.NoError(t, err)
	plain, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(plain, []byte("\n")))
}

func TestDecodeBulkResponse(t *testing.T) {
	body := `{"took":3,"errors":true,"items":[
		{"index":{"_index":"logs","status":201}},
		{"index":{"_index":"logs","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [a] of type [long] in document. Preview of field's value: 'x'"}}},
		{"index":{"_index":"logs","status":200}},
		{"index":{"_index":"logs","status":429,"error":{"type":"es_rejected_execution_exception","reason":"queue full","caused_by":{"type":"x"}}}},
		{"create":{"_index":"old","status":500,"error":"legacy failure string"}}
	]}`
	resp, err := decodeBulkResponse(strings.NewReader(body))
	require.NoError(t, err)
	assert.True(t, resp.HasErrors)
	assert.Equal(t, int64(2), resp.Indexed)
	require.Len(t, resp.FailedDocs, 3)

	assert.Equal(t, 1, resp.FailedDocs[0].Position)
	assert.Equal(t, 400, resp.FailedDocs[0].Status)
	assert.Equal(t, "mapper_parsing_exception", resp.FailedDocs[0].Error.Type)
	assert.Equal(t, "failed to parse field [a] of type [long] in document", resp.FailedDocs[0].Error.Reason)

	assert.Equal(t, 3, resp.FailedDocs[1].Position)
	assert.Equal(t, "queue full", resp.FailedDocs[1].Error.Reason)

	assert.Equal(t, 4, resp.FailedDocs[2].Position)
	assert.Equal(t, "old", resp.FailedDocs[2].Index)
	assert.Equal(t, "legacy failure string", resp.FailedDocs[2].Error.Reason)
}

func TestDecodeBulkResponseSuccess(t *testing.T) {
	resp, err := decodeBulkResponse(strings.NewReader(`{"errors":false,"items":[{"index":{"_index":"logs","status":201,"error":{"type":"","reason":""}}}]}`))
	require.NoError(t, err)
	assert.False(t, resp.HasErrors)
	assert.Equal(t, int64(1), resp.Indexed)
	assert.Empty(t, resp.FailedDocs)
}

func TestDecodeBulkResponseMalformed(t *testing.T) {
	_, err := decodeBulkResponse(strings.NewReader(`{"errors":fals`))
	assert.ErrorContains(t, err, "error decoding bulk response")
}
