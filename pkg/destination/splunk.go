package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// SplunkConfig configures the Splunk HEC destination.
type SplunkConfig struct {
	HECURL     string // e.g. https://splunk.example.com:8088
	Token      string
	Index      string
	Source     string
	SourceType string
	Host       string
	Timeout    time.Duration
	TLS        TLSConfig
}

// splunkEvent mirrors the Splunk HTTP Event Collector event schema.
type splunkEvent struct {
	Host       string `json:"host,omitempty"`
	Source     string `json:"source,omitempty"`
	SourceType string `json:"sourcetype,omitempty"`
	Index      string `json:"index,omitempty"`
	Event      string `json:"event"`
}

// Splunk is the Splunk HEC network destination, grounded on the teacher's
// internal/sinks/splunk_sink.go sendBatch: events are newline-delimited
// JSON objects (HEC's documented "one JSON object per event, concatenated"
// framing for /services/collector/event) posted in one request per batch,
// authenticated with the "Splunk <token>" bearer scheme.
type Splunk struct {
	name       string
	eventURL   string
	token      string
	host       string
	source     string
	sourceType string
	index      string
	httpClient *http.Client
}

// NewSplunk builds a Splunk HEC destination.
func NewSplunk(name string, cfg SplunkConfig, logger *logrus.Logger) (*Splunk, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("splunk tls: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Splunk{
		name:       name,
		eventURL:   cfg.HECURL + "/services/collector/event",
		token:      cfg.Token,
		host:       cfg.Host,
		source:     cfg.Source,
		sourceType: cfg.SourceType,
		index:      cfg.Index,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

func (d *Splunk) Name() string { return d.name }

func (d *Splunk) Write(record []byte) error {
	return d.WriteBatch([][]byte{record})
}

// WriteBatch encodes every record as a Splunk HEC event and concatenates
// them into one request body, matching the teacher's multi-event
// json.Encoder.Encode loop.
func (d *Splunk) WriteBatch(batch [][]byte) error {
	if len(batch) == 0 {
		return nil
	}

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, record := range batch {
		event := splunkEvent{
			Host:       d.host,
			Source:     d.source,
			SourceType: d.sourceType,
			Index:      d.index,
			Event:      string(record),
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("encode splunk event: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.eventURL, bytes.NewReader(body.Bytes()))
	if err != nil {
		return fmt.Errorf("build splunk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Splunk "+d.token)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("splunk hec request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("splunk hec returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Splunk) IsHealthy() bool { return d.httpClient != nil }

func (d *Splunk) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}
