package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Remote       Remote        `json:"remote"`
	Defaults     Defaults      `json:"defaults"`
	Destinations []Destination `json:"destinations"`
}

// Remote holds the streaming backend shared by every destination unless a
// destination overrides the endpoint.
type Remote struct {
	Endpoint     string `json:"endpoint"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Defaults captures baseline ingest behavior for destinations that do not
// set their own.
type Defaults struct {
	// Durable makes ingest wait for the remote acknowledgment by default.
	Durable bool `json:"durable"`
	// MaxInflight bounds unacknowledged sends per destination stream.
	MaxInflight int `json:"maxInflight"`
	// OpenTimeoutMs bounds one stream creation attempt.
	OpenTimeoutMs int `json:"openTimeoutMs"`
	// AckTimeoutMs bounds a durable ingest's wait for acknowledgment.
	AckTimeoutMs int `json:"ackTimeoutMs"`
	// DrainTimeoutMs bounds each destination's drain during shutdown.
	DrainTimeoutMs int `json:"drainTimeoutMs"`
}

// Field declares one record field by name and wire type.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Destination maps one ingest key onto a remote table.
type Destination struct {
	// Key is the path segment clients address this destination by.
	Key string `json:"key"`
	// Table is the fully qualified remote table name.
	Table string `json:"table"`
	// MessageName names the generated record message, e.g. "Orders".
	MessageName string `json:"messageName"`
	// Fields declare the record shape. Order matters: field numbers are
	// assigned in declaration order.
	Fields []Field `json:"fields"`
	// Filter is an optional CEL expression; records it rejects are dropped
	// before they reach the stream.
	Filter string `json:"filter,omitempty"`
	// Endpoint overrides Remote.Endpoint for this destination.
	Endpoint string `json:"endpoint,omitempty"`
	// Durable overrides Defaults.Durable when set.
	Durable *bool `json:"durable,omitempty"`
}

var keyRegex = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Defaults: Defaults{
			Durable:        true,
			MaxInflight:    1024,
			OpenTimeoutMs:  15_000,
			AckTimeoutMs:   30_000,
			DrainTimeoutMs: 10_000,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration is complete enough to serve. It runs
// once at startup; a bad config refuses to boot rather than failing per
// request.
func (c Config) Validate() error {
	if len(c.Destinations) == 0 {
		return errors.New("config: no destinations configured")
	}
	seen := make(map[string]struct{}, len(c.Destinations))
	for i, d := range c.Destinations {
		if !keyRegex.MatchString(d.Key) {
			return fmt.Errorf("config: destination %d: invalid key %q", i, d.Key)
		}
		if _, dup := seen[d.Key]; dup {
			return fmt.Errorf("config: duplicate destination key %q", d.Key)
		}
		seen[d.Key] = struct{}{}
		if d.Table == "" {
			return fmt.Errorf("config: destination %q: table required", d.Key)
		}
		if d.MessageName == "" {
			return fmt.Errorf("config: destination %q: messageName required", d.Key)
		}
		if len(d.Fields) == 0 {
			return fmt.Errorf("config: destination %q: at least one field required", d.Key)
		}
		if d.Endpoint == "" && c.Remote.Endpoint == "" {
			return fmt.Errorf("config: destination %q: no endpoint and no remote.endpoint", d.Key)
		}
	}
	return nil
}

// EndpointFor returns the destination's effective endpoint.
func (c Config) EndpointFor(d Destination) string {
	if d.Endpoint != "" {
		return d.Endpoint
	}
	return c.Remote.Endpoint
}

// DurableFor returns the destination's effective durability default.
func (c Config) DurableFor(d Destination) bool {
	if d.Durable != nil {
		return *d.Durable
	}
	return c.Defaults.Durable
}

// OpenTimeout returns Defaults.OpenTimeoutMs as a duration.
func (d Defaults) OpenTimeout() time.Duration {
	return time.Duration(d.OpenTimeoutMs) * time.Millisecond
}

// AckTimeout returns Defaults.AckTimeoutMs as a duration.
func (d Defaults) AckTimeout() time.Duration {
	return time.Duration(d.AckTimeoutMs) * time.Millisecond
}

// DrainTimeout returns Defaults.DrainTimeoutMs as a duration.
func (d Defaults) DrainTimeout() time.Duration {
	return time.Duration(d.DrainTimeoutMs) * time.Millisecond
}
