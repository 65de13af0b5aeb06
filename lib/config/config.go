// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for socialmux.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Matrix configures the social channel.
	Matrix MatrixConfig `yaml:"matrix"`

	// ICE configures NAT traversal for transport sessions.
	ICE ICEConfig `yaml:"ice"`

	// Transport configures transport session framing.
	Transport TransportConfig `yaml:"transport"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Matrix    *MatrixConfig    `yaml:"matrix,omitempty"`
	ICE       *ICEConfig       `yaml:"ice,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Metrics   *MetricsConfig   `yaml:"metrics,omitempty"`
}

// MatrixConfig configures the Matrix homeserver connection.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the homeserver, e.g.
	// "https://matrix.example.org".
	HomeserverURL string `yaml:"homeserver_url"`

	// Username is the login localpart or full user ID.
	Username string `yaml:"username"`

	// RoomID is the room every socialmux client joins. A room alias
	// ("#name:server") is accepted as well.
	RoomID string `yaml:"room_id"`

	// CredentialsFile caches the access token between runs when login
	// is remembered.
	// Default: ${XDG_CACHE_HOME:-${HOME}/.cache}/socialmux/credentials.cbor
	CredentialsFile string `yaml:"credentials_file"`

	// SyncTimeout is the /sync long-poll timeout.
	// Default: 30s
	SyncTimeout string `yaml:"sync_timeout"`

	// DeviceName is the display name given to new login devices.
	// Default: socialmux
	DeviceName string `yaml:"device_name"`
}

// SyncTimeoutDuration returns SyncTimeout parsed as a duration.
func (m MatrixConfig) SyncTimeoutDuration() (time.Duration, error) {
	duration, err := time.ParseDuration(m.SyncTimeout)
	if err != nil {
		return 0, fmt.Errorf("matrix.sync_timeout: %w", err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("matrix.sync_timeout must be positive, got %s", m.SyncTimeout)
	}
	return duration, nil
}

// ICEConfig configures ICE servers.
type ICEConfig struct {
	// Servers lists static STUN/TURN servers.
	Servers []ICEServer `yaml:"servers"`

	// HomeserverTURN adds the homeserver's TURN credentials
	// (/voip/turnServer) to Servers after login.
	// Default: true
	HomeserverTURN *bool `yaml:"homeserver_turn,omitempty"`
}

// UseHomeserverTURN reports whether homeserver TURN credentials are used.
func (i ICEConfig) UseHomeserverTURN() bool {
	return i.HomeserverTURN == nil || *i.HomeserverTURN
}

// ICEServer is one STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// TransportConfig configures transport sessions.
type TransportConfig struct {
	// CompressThreshold is the payload size in bytes above which frames
	// are zstd-compressed. Zero disables compression.
	// Default: 4096
	CompressThreshold *int `yaml:"compress_threshold,omitempty"`
}

// CompressThresholdBytes returns the effective compression threshold.
func (t TransportConfig) CompressThresholdBytes() int {
	if t.CompressThreshold == nil {
		return defaultCompressThreshold
	}
	return *t.CompressThreshold
}

const defaultCompressThreshold = 4096

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Listen is the address for the /metrics HTTP listener. Empty
	// disables it.
	// Default: "" (development), 127.0.0.1:9464 (production)
	Listen string `yaml:"listen"`
}

// Default returns the default configuration, used as the base before
// loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Matrix: MatrixConfig{
			CredentialsFile: "${XDG_CACHE_HOME:-${HOME}/.cache}/socialmux/credentials.cbor",
			SyncTimeout:     "30s",
			DeviceName:      "socialmux",
		},
	}
}

// Load loads configuration from the file named by SOCIALMUX_CONFIG.
// There are no fallbacks: if SOCIALMUX_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("SOCIALMUX_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SOCIALMUX_CONFIG environment variable not set; " +
			"set it to the path of your socialmux.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{}
		}
		if overrides.Metrics == nil && c.Metrics.Listen == "" {
			overrides.Metrics = &MetricsConfig{Listen: "127.0.0.1:9464"}
		}
	}

	if overrides == nil {
		return
	}

	if matrix := overrides.Matrix; matrix != nil {
		overrideString(&c.Matrix.HomeserverURL, matrix.HomeserverURL)
		overrideString(&c.Matrix.Username, matrix.Username)
		overrideString(&c.Matrix.RoomID, matrix.RoomID)
		overrideString(&c.Matrix.CredentialsFile, matrix.CredentialsFile)
		overrideString(&c.Matrix.SyncTimeout, matrix.SyncTimeout)
		overrideString(&c.Matrix.DeviceName, matrix.DeviceName)
	}

	if ice := overrides.ICE; ice != nil {
		if len(ice.Servers) > 0 {
			c.ICE.Servers = ice.Servers
		}
		if ice.HomeserverTURN != nil {
			c.ICE.HomeserverTURN = ice.HomeserverTURN
		}
	}

	if transport := overrides.Transport; transport != nil && transport.CompressThreshold != nil {
		c.Transport.CompressThreshold = transport.CompressThreshold
	}

	if metrics := overrides.Metrics; metrics != nil {
		overrideString(&c.Metrics.Listen, metrics.Listen)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns.
func (c *Config) expandVariables() {
	c.Matrix.HomeserverURL = expandVars(c.Matrix.HomeserverURL)
	c.Matrix.CredentialsFile = expandVars(c.Matrix.CredentialsFile)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^{}]*(?:\$\{[^}]*\}[^{}]*)*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// environment. A default may itself contain ${VAR} references.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return expandVars(parts[2])
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, errors.New("matrix.homeserver_url is required"))
	} else if parsed, err := url.Parse(c.Matrix.HomeserverURL); err != nil {
		errs = append(errs, fmt.Errorf("matrix.homeserver_url: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("matrix.homeserver_url must be http or https, got %q", c.Matrix.HomeserverURL))
	}

	if c.Matrix.Username == "" {
		errs = append(errs, errors.New("matrix.username is required"))
	}

	if c.Matrix.RoomID == "" {
		errs = append(errs, errors.New("matrix.room_id is required"))
	} else if !strings.HasPrefix(c.Matrix.RoomID, "!") && !strings.HasPrefix(c.Matrix.RoomID, "#") {
		errs = append(errs, fmt.Errorf("matrix.room_id must be a room ID (!...) or alias (#...), got %q", c.Matrix.RoomID))
	}

	if c.Matrix.CredentialsFile == "" {
		errs = append(errs, errors.New("matrix.credentials_file is required"))
	}

	if _, err := c.Matrix.SyncTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	for index, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d].urls is required", index))
		}
	}

	if c.Transport.CompressThresholdBytes() < 0 {
		errs = append(errs, fmt.Errorf("transport.compress_threshold must not be negative, got %d", c.Transport.CompressThresholdBytes()))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
