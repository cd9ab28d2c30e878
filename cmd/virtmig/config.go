// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/reporting"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"github.com/alexandremahdhaoui/virtmig/pkg/virsh"
	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path
	ConfigPathEnvKey = "VIRTMIG_CONFIG_PATH"

	BackendVirsh   = "virsh"
	BackendLibvirt = "libvirt"
)

// Config holds the configuration for virtmig
type Config struct {
	// SourceURI is the libvirt URI of the local (source) hypervisor
	SourceURI string `json:"sourceURI"`

	// Backend queries and controls jobs through "virsh" or "libvirt"
	Backend string `json:"backend"`

	// VirshBinary is the virsh executable used for commands and the migrate job
	VirshBinary string `json:"virshBinary"`

	// Sudo prefixes privileged commands with "sudo -n"
	Sudo bool `json:"sudo"`

	Destination DestinationConfig `json:"destination"`

	PollInterval metav1.Duration `json:"pollInterval"`
	PollCeiling  int             `json:"pollCeiling"`
	CancelGrace  metav1.Duration `json:"cancelGrace"`

	// CancelPattern confirms an abort when it matches the job's stderr
	CancelPattern string `json:"cancelPattern"`

	ScenarioDir  string `json:"scenarioDir"`
	ArtifactDir  string `json:"artifactDir"`
	ReportFormat string `json:"reportFormat"`
	TempDir      string `json:"tempDir,omitempty"`

	// DevelopmentMode enables development logging
	DevelopmentMode bool `json:"developmentMode"`

	// MetricsBind is the address of the metrics server; empty disables it
	MetricsBind string `json:"metricsBind,omitempty"`
}

// DestinationConfig holds the SSH credentials of the destination host.
type DestinationConfig struct {
	// Host is used when a scenario does not name one and its URI has no host
	Host           string `json:"host,omitempty"`
	Port           string `json:"port"`
	User           string `json:"user"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	Password       string `json:"password,omitempty"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	def := migration.DefaultConfig()
	return &Config{
		SourceURI:   vmm.DefaultURI,
		Backend:     BackendVirsh,
		VirshBinary: virsh.DefaultBinary,
		Destination: DestinationConfig{
			Port: "22",
			User: "root",
		},
		PollInterval:  metav1.Duration{Duration: def.PollInterval},
		PollCeiling:   def.PollCeiling,
		CancelGrace:   metav1.Duration{Duration: def.CancelGrace},
		CancelPattern: migration.DefaultCancelPattern,
		ScenarioDir:   scenario.DefaultScenarioPath(),
		ArtifactDir:   "artifacts",
		ReportFormat:  string(reporting.FormatText),
	}
}

// LoadConfig loads configuration from a YAML or JSON file, or returns
// defaults, then applies environment overrides and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}

		if err := yaml.UnmarshalStrict(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnvironmentOverrides() error {
	var errs []error

	strs := map[string]*string{
		"VIRTMIG_SOURCE_URI":           &c.SourceURI,
		"VIRTMIG_BACKEND":              &c.Backend,
		"VIRTMIG_VIRSH_BINARY":         &c.VirshBinary,
		"VIRTMIG_DESTINATION_HOST":     &c.Destination.Host,
		"VIRTMIG_DESTINATION_PORT":     &c.Destination.Port,
		"VIRTMIG_DESTINATION_USER":     &c.Destination.User,
		"VIRTMIG_DESTINATION_KEY_PATH": &c.Destination.PrivateKeyPath,
		"VIRTMIG_DESTINATION_PASSWORD": &c.Destination.Password,
		"VIRTMIG_CANCEL_PATTERN":       &c.CancelPattern,
		"VIRTMIG_SCENARIO_DIR":         &c.ScenarioDir,
		"VIRTMIG_ARTIFACT_DIR":         &c.ArtifactDir,
		"VIRTMIG_REPORT_FORMAT":        &c.ReportFormat,
		"VIRTMIG_TEMP_DIR":             &c.TempDir,
		"VIRTMIG_METRICS_ADDR":         &c.MetricsBind,
	}
	for key, dst := range strs {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	if val := os.Getenv("VIRTMIG_SUDO"); val != "" {
		c.Sudo = truthy(val)
	}
	if val := os.Getenv("VIRTMIG_DEV_MODE"); val != "" {
		c.DevelopmentMode = truthy(val)
	}

	durations := map[string]*metav1.Duration{
		"VIRTMIG_POLL_INTERVAL": &c.PollInterval,
		"VIRTMIG_CANCEL_GRACE":  &c.CancelGrace,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			dst.Duration = d
		}
	}

	if val := os.Getenv("VIRTMIG_POLL_CEILING"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("VIRTMIG_POLL_CEILING: %w", err))
		} else {
			c.PollCeiling = n
		}
	}

	return errors.Join(errs...)
}

func truthy(val string) bool {
	return val == "true" || val == "1" || val == "yes"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.SourceURI == "" {
		errs = append(errs, errors.New("sourceURI cannot be empty"))
	}

	switch c.Backend {
	case BackendVirsh, BackendLibvirt:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendVirsh, BackendLibvirt, c.Backend))
	}

	if c.VirshBinary == "" {
		errs = append(errs, errors.New("virshBinary cannot be empty"))
	}

	if c.Destination.User == "" {
		errs = append(errs, errors.New("destination.user cannot be empty"))
	}
	if c.Destination.PrivateKeyPath != "" && c.Destination.Password != "" {
		errs = append(errs, errors.New("destination.privateKeyPath and destination.password are mutually exclusive"))
	}
	if p, err := strconv.Atoi(c.Destination.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("destination.port must be a valid port, got %q", c.Destination.Port))
	}

	if c.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("pollInterval must be positive"))
	}
	if c.PollCeiling < 1 {
		errs = append(errs, errors.New("pollCeiling must be at least 1"))
	}
	if c.CancelGrace.Duration <= 0 {
		errs = append(errs, errors.New("cancelGrace must be positive"))
	}
	if _, err := regexp.Compile(c.CancelPattern); err != nil {
		errs = append(errs, fmt.Errorf("cancelPattern: %w", err))
	}

	if c.ScenarioDir == "" {
		errs = append(errs, errors.New("scenarioDir cannot be empty"))
	}
	if c.ArtifactDir == "" {
		errs = append(errs, errors.New("artifactDir cannot be empty"))
	}
	if _, err := reporting.ParseFormat(c.ReportFormat); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// MigrationConfig returns the controller tuning described by c.
func (c *Config) MigrationConfig() migration.Config {
	return migration.Config{
		PollInterval:  c.PollInterval.Duration,
		PollCeiling:   c.PollCeiling,
		CancelGrace:   c.CancelGrace.Duration,
		CancelPattern: regexp.MustCompile(c.CancelPattern),
	}
}
