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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"

	jsoniter "github.com/json-iterator/go"
)

// bulkEncoder frames batches into _bulk request bodies. Each document is
// written as an action line followed by the document on a single line.
//
// An encoded body is never altered afterwards: retries resend the same
// bytes, so documents are neither split nor reordered.
type bulkEncoder struct {
	jsonw        fastjson.Writer
	writer       io.Writer
	gzipw        *gzip.Writer
	buf          bytes.Buffer
	compact      bytes.Buffer
	itemsAdded   int
	uncompressed int
}

func newBulkEncoder(compress bool) *bulkEncoder {
	e := &bulkEncoder{}
	if compress {
		e.gzipw, _ = gzip.NewWriterLevel(&e.buf, gzip.DefaultCompression)
		e.writer = e.gzipw
	} else {
		e.writer = &e.buf
	}
	return e
}

func (e *bulkEncoder) reset() {
	e.itemsAdded = 0
	e.uncompressed = 0
	e.buf.Reset()
	e.jsonw.Reset()
	if e.gzipw != nil {
		e.gzipw.Reset(&e.buf)
	}
}

// Items returns the number of encoded documents.
func (e *bulkEncoder) Items() int {
	return e.itemsAdded
}

// Bytes returns the encoded request body, valid until the next reset.
func (e *bulkEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

// UncompressedLen returns the size of the body before compression.
func (e *bulkEncoder) UncompressedLen() int {
	return e.uncompressed
}

// encode resets the encoder and frames every document of batch. Documents
// must be JSON objects; the first one that is not fails the whole batch.
func (e *bulkEncoder) encode(batch Batch, docType string, hashID bool) error {
	e.reset()
	for i, event := range batch.Events {
		doc := []byte(event)
		if err := checkDocument(doc); err != nil {
			e.reset()
			return &EncodingError{Position: i, Err: err}
		}
		var documentID string
		if hashID {
			documentID = HashID(doc)
		}
		if bytes.ContainsAny(doc, "\r\n") {
			e.compact.Reset()
			if err := json.Compact(&e.compact, doc); err != nil {
				e.reset()
				return &EncodingError{Position: i, Err: err}
			}
			doc = e.compact.Bytes()
		}
		if err := e.add(batch.Index, docType, documentID, doc); err != nil {
			e.reset()
			return err
		}
	}
	if e.gzipw != nil {
		if err := e.gzipw.Close(); err != nil {
			e.reset()
			return fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}
	return nil
}

func (e *bulkEncoder) add(index, docType, documentID string, doc []byte) error {
	if err := e.writeMeta(index, docType, documentID); err != nil {
		return fmt.Errorf("failed to write bulk action: %w", err)
	}
	if _, err := e.writer.Write(doc); err != nil {
		return fmt.Errorf("failed to write bulk document: %w", err)
	}
	if _, err := e.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	e.uncompressed += len(doc) + 1
	e.itemsAdded++
	return nil
}

func (e *bulkEncoder) writeMeta(index, docType, documentID string) error {
	e.jsonw.RawString(`{"index":{"_index":`)
	e.jsonw.String(index)
	if docType != "" {
		e.jsonw.RawString(`,"_type":`)
		e.jsonw.String(docType)
	}
	if documentID != "" {
		e.jsonw.RawString(`,"_id":`)
		e.jsonw.String(documentID)
	}
	e.jsonw.RawString("}}\n")
	n, err := e.writer.Write(e.jsonw.Bytes())
	e.uncompressed += n
	e.jsonw.Reset()
	return err
}

// checkDocument reports whether doc holds exactly one JSON object encoded
// as UTF-8.
func checkDocument(doc []byte) error {
	if !utf8.Valid(doc) {
		return errInvalidJSON
	}
	iter := jsoniter.ConfigDefault.BorrowIterator(doc)
	defer jsoniter.ConfigDefault.ReturnIterator(iter)
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
	case jsoniter.InvalidValue:
		return errInvalidJSON
	default:
		return errNotObject
	}
	iter.Skip()
	if iter.Error != nil {
		return errInvalidJSON
	}
	// Anything but whitespace after the object is trailing garbage.
	iter.WhatIsNext()
	if iter.Error != io.EOF {
		return errInvalidJSON
	}
	return nil
}

// BulkResponseItem represents a failed item of a bulk response.
type BulkResponseItem struct {
	Index  string `json:"_index"`
	Status int    `json:"status"`

	// Position is the index of the document within its batch.
	Position int

	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

type bulkResponse struct {
	HasErrors  bool
	Indexed    int64
	FailedDocs []BulkResponseItem
}

// decodeBulkResponse reads the top level errors flag and the items of a
// _bulk response. Items with an error or a status above 201 are failures.
func decodeBulkResponse(r io.Reader) (bulkResponse, error) {
	var resp bulkResponse
	iter := jsoniter.Parse(jsoniter.ConfigDefault, r, 4096)
	iter.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		switch field {
		case "errors":
			resp.HasErrors = i.ReadBool()
		case "items":
			var idx int
			i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
				return i.ReadMapCB(func(i *jsoniter.Iterator, _ string) bool {
					item := readResponseItem(i)
					item.Position = idx
					idx++
					if item.Error.Type != "" || item.Status > 201 {
						resp.FailedDocs = append(resp.FailedDocs, item)
					} else {
						resp.Indexed++
					}
					return true
				})
			})
		default:
			i.Skip()
		}
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return resp, fmt.Errorf("error decoding bulk response: %w", iter.Error)
	}
	return resp, nil
}

func readResponseItem(i *jsoniter.Iterator) BulkResponseItem {
	var item BulkResponseItem
	i.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		switch field {
		case "_index":
			item.Index = i.ReadString()
		case "status":
			item.Status = i.ReadInt()
		case "error":
			if i.WhatIsNext() == jsoniter.StringValue {
				item.Error.Type = "error"
				item.Error.Reason = i.ReadString()
				return true
			}
			i.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
				switch field {
				case "type":
					item.Error.Type = i.ReadString()
				case "reason":
					// Drop the field value preview Elasticsearch appends to
					// mapping errors; it may hold document content.
					item.Error.Reason, _, _ = strings.Cut(i.ReadString(), ". Preview")
				default:
					i.Skip()
				}
				return true
			})
		default:
			i.Skip()
		}
		return true
	})
	return item
}
