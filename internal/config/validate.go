package config

import (
	"fmt"
	"strings"

	"github.com/logxpy/logxpy-go/pkg/errors"
)

// Validate performs comprehensive configuration validation, grounded on the
// teacher's ConfigValidator: collect every error before failing, rather than
// bailing on the first one.
func Validate(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.validateQueue()
	v.validateFlush()
	v.validateSupervisor()
	v.validateCircuit()
	v.validateDestinations()

	if len(v.errs) > 0 {
		return v.build()
	}
	return nil
}

type validator struct {
	cfg  *Config
	errs []error
}

func (v *validator) addError(component, operation, message string) {
	v.errs = append(v.errs, errors.New(errors.CodeSerializationError, component, operation, message))
}

var validQueuePolicies = map[string]bool{"block": true, "drop_oldest": true, "drop_newest": true, "warn": true}
var validFlushModes = map[string]bool{"trigger": true, "loop": true, "manual": true}

func (v *validator) validateQueue() {
	if v.cfg.Queue.Capacity <= 0 {
		v.addError("queue", "validate_capacity", "queue capacity must be positive")
	}
	if !validQueuePolicies[v.cfg.Queue.Policy] {
		v.addError("queue", "validate_policy", fmt.Sprintf("invalid queue policy: %s", v.cfg.Queue.Policy))
	}
	if v.cfg.Queue.OverflowEnabled && v.cfg.Queue.OverflowDirectory == "" {
		v.addError("queue", "validate_overflow", "overflow_enabled requires overflow_directory")
	}
}

func (v *validator) validateFlush() {
	if !validFlushModes[v.cfg.Flush.Mode] {
		v.addError("flush", "validate_mode", fmt.Sprintf("invalid flush mode: %s", v.cfg.Flush.Mode))
	}
	if v.cfg.Flush.Mode == "trigger" && v.cfg.Flush.BatchSize <= 0 && v.cfg.Flush.BatchInterval <= 0 && v.cfg.Flush.MaxRecordAge <= 0 {
		v.addError("flush", "validate_triggers", "trigger mode requires at least one of batch_size, batch_interval, max_record_age")
	}
	if v.cfg.Flush.AdaptiveEnabled && v.cfg.Flush.AdaptiveMinBatch > 0 && v.cfg.Flush.AdaptiveMaxBatch > 0 &&
		v.cfg.Flush.AdaptiveMinBatch > v.cfg.Flush.AdaptiveMaxBatch {
		v.addError("flush", "validate_adaptive_bounds", "adaptive_min_batch cannot exceed adaptive_max_batch")
	}
}

func (v *validator) validateSupervisor() {
	if v.cfg.Supervisor.InitialBackoff <= 0 {
		v.addError("supervisor", "validate_backoff", "initial_backoff must be positive")
	}
	if v.cfg.Supervisor.MaxBackoff < v.cfg.Supervisor.InitialBackoff {
		v.addError("supervisor", "validate_backoff", "max_backoff cannot be smaller than initial_backoff")
	}
	if v.cfg.Supervisor.MaxAttempts <= 0 {
		v.addError("supervisor", "validate_max_attempts", "max_attempts must be positive")
	}
}

func (v *validator) validateCircuit() {
	if v.cfg.Circuit.FailureThreshold <= 0 {
		v.addError("circuit", "validate_failure_threshold", "failure_threshold must be positive")
	}
	if v.cfg.Circuit.SuccessThreshold <= 0 {
		v.addError("circuit", "validate_success_threshold", "success_threshold must be positive")
	}
}

func (v *validator) validateDestinations() {
	d := v.cfg.Destinations
	if len(d.Files) == 0 && len(d.Kafka) == 0 && len(d.Loki) == 0 && len(d.Elasticsearch) == 0 && len(d.Splunk) == 0 {
		v.addError("destinations", "validate_nonempty", "at least one destination must be configured")
	}
	for i, f := range d.Files {
		if f.Enabled && f.Path == "" {
			v.addError("destinations", "validate_file", fmt.Sprintf("files[%d]: path is required", i))
		}
		if f.Enabled && f.Variant != "" && f.Variant != "line" && f.Variant != "block" && f.Variant != "mmap" {
			v.addError("destinations", "validate_file", fmt.Sprintf("files[%d]: invalid variant %q", i, f.Variant))
		}
	}
	for i, k := range d.Kafka {
		if k.Enabled && (len(k.Brokers) == 0 || k.Topic == "") {
			v.addError("destinations", "validate_kafka", fmt.Sprintf("kafka[%d]: brokers and topic are required", i))
		}
	}
	for i, l := range d.Loki {
		if l.Enabled && l.URL == "" {
			v.addError("destinations", "validate_loki", fmt.Sprintf("loki[%d]: url is required", i))
		}
	}
	for i, e := range d.Elasticsearch {
		if e.Enabled && e.URL == "" {
			v.addError("destinations", "validate_elasticsearch", fmt.Sprintf("elasticsearch[%d]: url is required", i))
		}
	}
	for i, s := range d.Splunk {
		if s.Enabled && (s.HECURL == "" || s.Token == "") {
			v.addError("destinations", "validate_splunk", fmt.Sprintf("splunk[%d]: hec_url and token are required", i))
		}
	}
}

func (v *validator) build() error {
	if len(v.errs) == 1 {
		return v.errs[0]
	}
	msgs := make([]string, len(v.errs))
	for i, e := range v.errs {
		msgs[i] = e.Error()
	}
	return errors.New(errors.CodeSerializationError, "config", "validate", fmt.Sprintf("%d configuration errors: %s", len(v.errs), strings.Join(msgs, "; ")))
}
