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
	"context"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/elastic/go-bulktransport/credential"
)

// KindElasticsearch is the discriminator value selecting ElasticsearchConfig.
const KindElasticsearch = "ElasticSearch"

// KindField is the raw configuration key holding the discriminator.
const KindField = "kind"

const (
	defaultPort       = 9200
	defaultBatchSize  = 500
	defaultTimeout    = 40 * time.Second
	defaultRetryDelay = time.Second
)

// TransportConfig is implemented by the closed set of transport
// configuration variants.
type TransportConfig interface {
	// Kind returns the discriminator value of the variant.
	Kind() string

	// Validate reports the first invalid field as a *ConfigError.
	Validate() error

	// Resolve validates the config and derives the connection profile,
	// resolving any encrypted secret with keys.
	Resolve(ctx context.Context, keys credential.KeyService) (Endpoint, error)

	isTransportConfig()
}

// ElasticsearchConfig configures delivery into a self-hosted Elasticsearch
// cluster through the _bulk API.
//
// ElasticsearchConfig is an immutable value: it is only produced by the
// validating constructors, and its settings are read through accessors.
// The zero value is not valid.
type ElasticsearchConfig struct {
	s elasticsearchSettings
}

// elasticsearchSettings holds the decoded settings of an ElasticsearchConfig.
type elasticsearchSettings struct {
	// Hostname of the HTTP endpoint. Required.
	Hostname string `mapstructure:"hostname"`

	// Port of the HTTP endpoint, in the range [1,65535]. Defaults to 9200.
	Port int `mapstructure:"port"`

	// UseSSL connects over HTTPS. Server certificates are not validated.
	UseSSL bool `mapstructure:"useSSL"`

	// UseGzip compresses bulk request bodies.
	UseGzip bool `mapstructure:"useGzip"`

	// Username enables HTTP basic authentication.
	Username string `mapstructure:"username"`

	// Password for basic authentication, either plaintext or in the
	// encrypted form understood by the credential package.
	Password string `mapstructure:"password"`

	// Index is the base index name. Required.
	Index string `mapstructure:"index"`

	// Type is the document type written into each action line. Required.
	Type string `mapstructure:"type"`

	// BatchSize is the maximum number of documents per bulk request, in the
	// range [500,100000]. Defaults to 500.
	BatchSize int `mapstructure:"batchSize"`

	// IndexTimeFormat is an optional Go time layout. When set, the current
	// UTC time rendered with it is appended to Index.
	IndexTimeFormat string `mapstructure:"indexTimeFormat"`

	// UseHashID sets each document id to the hash of its content.
	UseHashID bool `mapstructure:"use_hashid"`

	// Timeout for connecting and for awaiting response headers, in the
	// range [1s,300s]. Defaults to 40s. Raw configs give milliseconds.
	Timeout time.Duration `mapstructure:"timeout"`

	// RetryCount is the number of retries after a failed bulk request, in
	// the range [0,10]. Zero disables retries.
	RetryCount int `mapstructure:"retryCount"`

	// RetryDelay is the wait before the first retry, doubled for each
	// following retry, in the range [1ms,60s]. Defaults to 1s. Raw configs
	// give milliseconds.
	RetryDelay time.Duration `mapstructure:"retryDelay"`
}

// Hostname returns the HTTP endpoint host name.
func (c ElasticsearchConfig) Hostname() string { return c.s.Hostname }

// Port returns the HTTP endpoint port.
func (c ElasticsearchConfig) Port() int { return c.s.Port }

// UseSSL reports whether the endpoint is reached over HTTPS.
func (c ElasticsearchConfig) UseSSL() bool { return c.s.UseSSL }

// UseGzip reports whether request bodies are gzip compressed.
func (c ElasticsearchConfig) UseGzip() bool { return c.s.UseGzip }

// Username returns the basic authentication user name.
func (c ElasticsearchConfig) Username() string { return c.s.Username }

// Index returns the base index name.
func (c ElasticsearchConfig) Index() string { return c.s.Index }

// Type returns the document type written into action lines.
func (c ElasticsearchConfig) Type() string { return c.s.Type }

// BatchSize returns the maximum number of documents per bulk request.
func (c ElasticsearchConfig) BatchSize() int { return c.s.BatchSize }

// IndexTimeFormat returns the time layout appended to the index name.
func (c ElasticsearchConfig) IndexTimeFormat() string { return c.s.IndexTimeFormat }

// UseHashID reports whether document ids are content hashes.
func (c ElasticsearchConfig) UseHashID() bool { return c.s.UseHashID }

// Timeout returns the connection and request attempt timeout.
func (c ElasticsearchConfig) Timeout() time.Duration { return c.s.Timeout }

// RetryCount returns the number of retries after a failed bulk request.
func (c ElasticsearchConfig) RetryCount() int { return c.s.RetryCount }

// RetryDelay returns the wait before the first retry.
func (c ElasticsearchConfig) RetryDelay() time.Duration { return c.s.RetryDelay }

var elasticsearchFields = []string{
	"hostname", "port", "useSSL", "useGzip", "username", "password",
	"index", "type", "batchSize", "indexTimeFormat", "use_hashid",
	"timeout", "retryCount", "retryDelay",
}

func defaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{s: elasticsearchSettings{
		Port:       defaultPort,
		BatchSize:  defaultBatchSize,
		Timeout:    defaultTimeout,
		RetryDelay: defaultRetryDelay,
	}}
}

// ConfigOption modifies an ElasticsearchConfig built by NewElasticsearchConfig.
type ConfigOption func(*ElasticsearchConfig)

// WithPort sets the endpoint port.
func WithPort(port int) ConfigOption {
	return func(c *ElasticsearchConfig) { c.s.Port = port }
}

// WithSSL enables HTTPS.
func WithSSL() ConfigOption {
	return func(c *ElasticsearchConfig) { c.s.UseSSL = true }
}

// WithGzip enables gzip compressed request bodies.
func WithGzip() ConfigOption {
	return func(c *ElasticsearchConfig) { c.s.UseGzip = true }
}

// WithBasicAuth sets the basic authentication credentials. password may be
// in the encrypted form.
func WithBasicAuth(username, password string) ConfigOption {
	return func(c *ElasticsearchConfig) {
		c.s.Username = username
		c.s.Password = password
	}
}

// WithBatchSize sets the maximum number of documents per bulk request.
func WithBatchSize(n int) ConfigOption {
	return func(c *ElasticsearchConfig) { c.s.BatchSize = n }
}

// WithIndexTimeFormat sets the time layout appended to the index name.
func WithIndexTimeFormat(layout string) ConfigOption {
	return func(c *ElasticsearchConfig) { c.s.IndexTimeFormat = layout }
}

// WithHashID enables content hash document ids.
func WithHashID() ConfigOption {
	return func(c *ElasticsearchConfig) { c.s.UseHashID = true }
}

// WithTimeout sets the connection timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *ElasticsearchConfig) { c.s.Timeout = d }
}

// WithRetry sets the retry count and initial retry delay.
func WithRetry(count int, delay time.Duration) ConfigOption {
	return func(c *ElasticsearchConfig) {
		c.s.RetryCount = count
		c.s.RetryDelay = delay
	}
}

// NewElasticsearchConfig returns a validated config with defaults applied
// before opts.
func NewElasticsearchConfig(hostname, index, docType string, opts ...ConfigOption) (ElasticsearchConfig, error) {
	c := defaultElasticsearchConfig()
	c.s.Hostname = hostname
	c.s.Index = index
	c.s.Type = docType
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return ElasticsearchConfig{}, err
	}
	return c, nil
}

// ParseElasticsearchConfig decodes and validates a raw configuration mapping.
// Missing optional fields take their defaults. Field names are matched
// exactly; unknown fields are rejected. A "kind" key, if present, is ignored.
func ParseElasticsearchConfig(raw map[string]any) (ElasticsearchConfig, error) {
	for key := range raw {
		if key == KindField {
			continue
		}
		if !slices.Contains(elasticsearchFields, key) {
			return ElasticsearchConfig{}, &ConfigError{Field: key, Reason: "unknown field"}
		}
	}

	c := defaultElasticsearchConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       millisecondsHook,
		WeaklyTypedInput: true,
		Result:           &c.s,
	})
	if err != nil {
		return ElasticsearchConfig{}, err
	}
	fields := make(map[string]any, len(raw))
	for key, value := range raw {
		if key != KindField {
			fields[key] = value
		}
	}
	if err := decoder.Decode(fields); err != nil {
		return ElasticsearchConfig{}, decodeConfigError(err)
	}
	if err := c.Validate(); err != nil {
		return ElasticsearchConfig{}, err
	}
	return c, nil
}

// LoadConfig selects the variant named by the "kind" key of raw, then
// decodes and validates it.
func LoadConfig(raw map[string]any) (TransportConfig, error) {
	kind, ok := raw[KindField].(string)
	if !ok || kind == "" {
		return nil, &ConfigError{Field: KindField, Reason: "missing transport kind"}
	}
	switch {
	case strings.EqualFold(kind, KindElasticsearch):
		c, err := ParseElasticsearchConfig(raw)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, &ConfigError{Field: KindField, Reason: fmt.Sprintf("unsupported transport kind %q", kind)}
	}
}

// LoadConfigYAML loads a transport config from a YAML document.
func LoadConfigYAML(data []byte) (TransportConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse transport config: %w", err)
	}
	return LoadConfig(raw)
}

func (c ElasticsearchConfig) Kind() string { return KindElasticsearch }

func (c ElasticsearchConfig) isTransportConfig() {}

// Validate checks required fields and value ranges.
func (c ElasticsearchConfig) Validate() error {
	if c.s.Hostname == "" {
		return missing("hostname")
	}
	if strings.Contains(c.s.Hostname, "/") {
		return &ConfigError{Field: "hostname", Reason: "expected a host name, not a URL"}
	}
	if err := checkRange("port", c.s.Port, 1, 65535); err != nil {
		return err
	}
	if c.s.Index == "" {
		return missing("index")
	}
	if c.s.Type == "" {
		return missing("type")
	}
	if err := checkRange("batchSize", c.s.BatchSize, 500, 100000); err != nil {
		return err
	}
	if c.s.IndexTimeFormat != "" && !validLayout(c.s.IndexTimeFormat) {
		return &ConfigError{
			Field:  "indexTimeFormat",
			Reason: fmt.Sprintf("layout %q contains no time elements", c.s.IndexTimeFormat),
		}
	}
	if err := checkRange("timeout", millis(c.s.Timeout), 1000, 300000); err != nil {
		return err
	}
	if err := checkRange("retryCount", c.s.RetryCount, 0, 10); err != nil {
		return err
	}
	return checkRange("retryDelay", millis(c.s.RetryDelay), 1, 60000)
}

// Resolve validates c and returns its connection profile with the password
// resolved through keys.
func (c ElasticsearchConfig) Resolve(ctx context.Context, keys credential.KeyService) (Endpoint, error) {
	if err := c.Validate(); err != nil {
		return Endpoint{}, err
	}
	password, err := credential.Resolve(ctx, keys, c.s.Password)
	if err != nil {
		return Endpoint{}, err
	}
	scheme := "http"
	if c.s.UseSSL {
		scheme = "https"
	}
	return Endpoint{
		URL: &url.URL{
			Scheme: scheme,
			Host:   net.JoinHostPort(c.s.Hostname, strconv.Itoa(c.s.Port)),
		},
		Username: c.s.Username,
		password: password,
		Gzip:     c.s.UseGzip,
		Timeout:  c.s.Timeout,
	}, nil
}

// String formats c with the password redacted.
func (c ElasticsearchConfig) String() string {
	if c.s.Password != "" {
		c.s.Password = "xxxxx"
	}
	return fmt.Sprintf("%+v", c.s)
}

// Endpoint is a resolved connection profile. The resolved password is held
// unexported and never formatted.
type Endpoint struct {
	URL      *url.URL
	Username string
	Gzip     bool
	Timeout  time.Duration

	password string
}

// Insecure reports whether TLS certificate validation is skipped, which
// is the case for every HTTPS endpoint.
func (e Endpoint) Insecure() bool {
	return e.URL != nil && e.URL.Scheme == "https"
}

func (e Endpoint) String() string {
	if e.URL == nil {
		return ""
	}
	if e.Username == "" {
		return e.URL.String()
	}
	u := *e.URL
	u.User = url.UserPassword(e.Username, "xxxxx")
	return u.String()
}

func missing(field string) error {
	return &ConfigError{Field: field, Reason: "required field is missing"}
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ConfigError{
			Field:  field,
			Reason: fmt.Sprintf("expected %s in range [%d,%d], got %d", field, lo, hi, v),
		}
	}
	return nil
}

func millis(d time.Duration) int {
	return int(d / time.Millisecond)
}

// validLayout reports whether layout renders differently from its literal
// text, i.e. it contains at least one time element.
func validLayout(layout string) bool {
	t := time.Date(2001, time.February, 3, 4, 5, 6, 0, time.UTC)
	return t.Format(layout) != layout
}

var durationType = reflect.TypeOf(time.Duration(0))

// millisecondsHook decodes numbers into time.Duration as milliseconds, and
// strings as either milliseconds or Go duration strings.
func millisecondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(v.Int()) * time.Millisecond, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(v.Uint()) * time.Millisecond, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(v.Float() * float64(time.Millisecond)), nil
	case reflect.String:
		s := strings.TrimSpace(v.String())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	}
	return data, nil
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// decodeConfigError names the first field mentioned by a mapstructure error.
func decodeConfigError(err error) error {
	msg := err.Error()
	if merr, ok := err.(*mapstructure.Error); ok && len(merr.Errors) > 0 {
		msg = merr.Errors[0]
	}
	field := ""
	if m := quotedName.FindStringSubmatch(msg); m != nil {
		field = m[1]
	}
	return &ConfigError{Field: field, Reason: msg}
}
