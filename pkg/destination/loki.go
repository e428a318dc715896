package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// LokiConfig configures the Loki destination.
type LokiConfig struct {
	URL          string
	PushEndpoint string // default "/loki/api/v1/push"
	TenantID     string
	Labels       map[string]string // static stream labels applied to every batch
	Headers      map[string]string
	Timeout      time.Duration
	TLS          TLSConfig
}

// lokiPayload mirrors Grafana Loki's push API request body.
type lokiPayload struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// Loki is the Grafana Loki network destination, grounded on the teacher's
// internal/sinks/loki_sink.go: one HTTP POST per flushed batch to
// /loki/api/v1/push, gzip-compressed JSON, with the same tenant-header and
// custom-header wiring. The teacher's own adaptive batching, circuit
// breaker, and DLQ wiring now live one layer up (pkg/batchctl, pkg/circuit,
// pkg/dlq respectively), so this type is purely the wire-format + transport
// concern.
type Loki struct {
	name       string
	url        string
	tenantID   string
	labels     map[string]string
	headers    map[string]string
	httpClient *http.Client
}

// NewLoki builds a Loki destination. No network I/O happens until the
// first WriteBatch.
func NewLoki(name string, cfg LokiConfig, logger *logrus.Logger) (*Loki, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: timeout,
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("loki tls: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	endpoint := cfg.PushEndpoint
	if endpoint == "" {
		endpoint = "/loki/api/v1/push"
	}

	return &Loki{
		name:     name,
		url:      cfg.URL + endpoint,
		tenantID: cfg.TenantID,
		labels:   cfg.Labels,
		headers:  cfg.Headers,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

func (d *Loki) Name() string { return d.name }

func (d *Loki) Write(record []byte) error {
	return d.WriteBatch([][]byte{record})
}

// WriteBatch wraps batch in a single Loki stream and POSTs it gzip-
// compressed, matching the teacher's sendToLoki.
func (d *Loki) WriteBatch(batch [][]byte) error {
	if len(batch) == 0 {
		return nil
	}

	values := make([][2]string, len(batch))
	now := time.Now()
	for i, record := range batch {
		values[i] = [2]string{strconv.FormatInt(now.UnixNano(), 10), string(record)}
	}

	payload := lokiPayload{Streams: []lokiStream{{Stream: d.labels, Values: values}}}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal loki payload: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return fmt.Errorf("gzip loki payload: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("build loki request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if d.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", d.tenantID)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("loki push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki push returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Loki) IsHealthy() bool { return d.httpClient != nil }

func (d *Loki) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}
