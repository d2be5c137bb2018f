// Package config loads and validates the recognized runtime options of
// a midimesh node.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Options carries every recognized runtime option.
type Options struct {
	NodeName       string `yaml:"node_name"`
	DataDir        string `yaml:"data_dir"`
	ControlSocket  string `yaml:"control_socket"`
	LogLevel       string `yaml:"log_level"`

	AutoConnect             bool   `yaml:"auto_connect"`
	DeviceNameFilter        string `yaml:"device_name_filter"`
	InquiryTimeoutMs        uint32 `yaml:"inquiry_timeout_ms"`
	RetryAttempts           uint32 `yaml:"retry_attempts"`
	RetryDelayMs            uint32 `yaml:"retry_delay_ms"`
	HeartbeatIntervalMs     uint32 `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs      uint32 `yaml:"heartbeat_timeout_ms"`
	MaxHops                 uint8  `yaml:"max_hops"`
	EnableForwardingContext bool   `yaml:"enable_forwarding_context"`

	ControlPort int `yaml:"control_port"`
	DataPort    int `yaml:"data_port"`
}

// Defaults returns the option set with every spec-mandated default applied.
func Defaults() Options {
	return Options{
		DataDir:                 "/var/lib/midimesh",
		ControlSocket:           "/var/run/midimesh.sock",
		LogLevel:                "info",
		AutoConnect:             true,
		DeviceNameFilter:        "",
		InquiryTimeoutMs:        5000,
		RetryAttempts:           3,
		RetryDelayMs:            1000,
		HeartbeatIntervalMs:     1000,
		HeartbeatTimeoutMs:      3000,
		MaxHops:                 8,
		EnableForwardingContext: true,
	}
}

func (o Options) InquiryTimeout() time.Duration {
	return time.Duration(o.InquiryTimeoutMs) * time.Millisecond
}

func (o Options) RetryDelay() time.Duration {
	return time.Duration(o.RetryDelayMs) * time.Millisecond
}

func (o Options) HeartbeatInterval() time.Duration {
	return time.Duration(o.HeartbeatIntervalMs) * time.Millisecond
}

func (o Options) HeartbeatTimeout() time.Duration {
	return time.Duration(o.HeartbeatTimeoutMs) * time.Millisecond
}

// optionsSchema is the JSON Schema every loaded options file is
// validated against before being merged onto Defaults.
const optionsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "node_name": {"type": "string"},
    "data_dir": {"type": "string"},
    "control_socket": {"type": "string"},
    "log_level": {"enum": ["debug", "info", "warn", "error", ""]},
    "auto_connect": {"type": "boolean"},
    "device_name_filter": {"type": "string"},
    "inquiry_timeout_ms": {"type": "integer", "minimum": 0},
    "retry_attempts": {"type": "integer", "minimum": 0},
    "retry_delay_ms": {"type": "integer", "minimum": 0},
    "heartbeat_interval_ms": {"type": "integer", "minimum": 0},
    "heartbeat_timeout_ms": {"type": "integer", "minimum": 0},
    "max_hops": {"type": "integer", "minimum": 1, "maximum": 255},
    "enable_forwarding_context": {"type": "boolean"},
    "control_port": {"type": "integer", "minimum": 0, "maximum": 65535},
    "data_port": {"type": "integer", "minimum": 0, "maximum": 65535}
  },
  "additionalProperties": true
}`

// Load reads a YAML options file, validates it against optionsSchema,
// and layers it onto Defaults.
func Load(path string) (Options, error) {
	opts := Defaults()
	if path == "" {
		return opts, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("read options file: %w", err)
	}

	if err := validateYAML(raw); err != nil {
		return opts, fmt.Errorf("validate options file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return opts, fmt.Errorf("parse options file %s: %w", path, err)
	}
	return opts, nil
}

func validateYAML(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	doc = normalizeForSchema(doc)

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("options.json", bytes.NewReader([]byte(optionsSchema))); err != nil {
		return err
	}
	schema, err := compiler.Compile("options.json")
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}

// normalizeForSchema converts yaml.v3's map[string]any into the
// map[string]interface{} shape jsonschema expects, recursively.
func normalizeForSchema(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeForSchema(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeForSchema(val)
		}
		return out
	default:
		return v
	}
}
