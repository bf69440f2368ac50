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

// Package bulktransporttest provides a mock Elasticsearch _bulk endpoint for
// testing bulk transports.
package bulktransporttest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// Action is the decoded action line preceding a document.
type Action struct {
	Name  string
	Index string
	Type  string
	ID    string
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// actions and documents and a response reporting every document created.
func DecodeBulkRequest(r *http.Request) ([]Action, [][]byte, esutil.BulkIndexerResponse) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var actions []Action
	var docs [][]byte
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		var line map[string]struct {
			Index string `json:"_index"`
			Type  string `json:"_type"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			panic(err)
		}
		if len(line) != 1 {
			panic(fmt.Errorf("expected one action, got %d", len(line)))
		}
		var action Action
		for name, meta := range line {
			action = Action{Name: name, Index: meta.Index, Type: meta.Type, ID: meta.ID}
		}
		if !scanner.Scan() {
			panic("expected source")
		}

		doc := append([]byte{}, scanner.Bytes()...)
		if !json.Valid(doc) {
			panic(fmt.Errorf("invalid JSON: %s", doc))
		}
		actions = append(actions, action)
		docs = append(docs, doc)

		item := esutil.BulkIndexerResponseItem{
			Index:      action.Index,
			DocumentID: action.ID,
			Status:     http.StatusCreated,
		}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{action.Name: item})
	}
	if err := scanner.Err(); err != nil {
		panic(err)
	}
	return actions, docs, result
}

// FailItems marks every item of result as failed with status.
func FailItems(result *esutil.BulkIndexerResponse, status int, errorType, reason string) {
	result.HasErrors = true
	for _, itemsMap := range result.Items {
		for k, item := range itemsMap {
			item.Status = status
			item.Error.Type = errorType
			item.Error.Reason = reason
			itemsMap[k] = item
		}
	}
}

// Server is a running mock Elasticsearch server.
type Server struct {
	URL  *url.URL
	Host string
	Port int
}

// NewServer starts an httptest.Server which sends /_bulk requests to
// bulkHandler. The server is closed via t.Cleanup.
func NewServer(t testing.TB, bulkHandler http.HandlerFunc) Server {
	return newServer(t, bulkHandler, false)
}

// NewTLSServer is like NewServer, serving HTTPS with a self-signed
// certificate.
func NewTLSServer(t testing.TB, bulkHandler http.HandlerFunc) Server {
	return newServer(t, bulkHandler, true)
}

func newServer(t testing.TB, bulkHandler http.HandlerFunc, useTLS bool) Server {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	var srv *httptest.Server
	if useTLS {
		srv = httptest.NewTLSServer(mux)
	} else {
		srv = httptest.NewServer(mux)
	}
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Server{URL: u, Host: u.Hostname(), Port: port}
}

// HandleBulk registers bulkHandler with mux for handling /_bulk requests.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	mux.HandleFunc("/_bulk", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		bulkHandler.ServeHTTP(w, r)
	})
}

// Respond writes result as the JSON response body.
func Respond(w http.ResponseWriter, result esutil.BulkIndexerResponse) {
	if err := json.NewEncoder(w).Encode(result); err != nil {
		panic(err)
	}
}
