// Package config loads the exporter configuration file.
//
// The file is JSON (the historical format) or YAML. Secrets can be kept out of
// it: a .env file next to the working directory is loaded first, and the
// CKP_* environment variables override the file values.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transports accepted by the transport key.
const (
	TransportSSH = "ssh"
	TransportWeb = "web"
)

// Environment variables overriding file values.
const (
	EnvMgmtUser     = "CKP_MGMT_USER"
	EnvMgmtPassword = "CKP_MGMT_PASSWORD"
	EnvRedisURL     = "CKP_REDIS_URL"
)

// ErrMissingParameter is matched by every *MissingParameterError.
var ErrMissingParameter = errors.New("missing configuration parameter")

// MissingParameterError names a required key absent from the file.
type MissingParameterError struct {
	Param string
	File  string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing configuration parameter: %s in file: %s", e.Param, e.File)
}

func (e *MissingParameterError) Unwrap() error {
	return ErrMissingParameter
}

// Config models the configuration file.
type Config struct {
	Transport string `json:"transport" yaml:"transport"`

	SSHHost    string `json:"ssh_host" yaml:"ssh_host"`
	SSHKey     string `json:"ssh_key" yaml:"ssh_key"`
	SSHUser    string `json:"ssh_user" yaml:"ssh_user"`
	KnownHosts string `json:"known_hosts" yaml:"known_hosts"`

	WebURL             string `json:"web_url" yaml:"web_url"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	MgmtUser     string `json:"mgmt_user" yaml:"mgmt_user"`
	MgmtPassword string `json:"mgmt_password" yaml:"mgmt_password"`

	MaxJob int `json:"max_job" yaml:"max_job"`
	// JobTimeout is in seconds.
	JobTimeout int `json:"job_timeout" yaml:"job_timeout"`

	AccessLayersNbObjects           int `json:"access_layers_nbobjects" yaml:"access_layers_nbobjects"`
	AccessRulebaseNbObjects         int `json:"access_rulebase_nbobjects" yaml:"access_rulebase_nbobjects"`
	HostsNbObjects                  int `json:"hosts_nbobjects" yaml:"hosts_nbobjects"`
	GroupsNbObjects                 int `json:"groups_nbobjects" yaml:"groups_nbobjects"`
	NetworksNbObjects               int `json:"networks_nbobjects" yaml:"networks_nbobjects"`
	AddressRangesNbObjects          int `json:"address_ranges_nbobjects" yaml:"address_ranges_nbobjects"`
	MulticastAddressRangesNbObjects int `json:"multicast_address_ranges_nbobjects" yaml:"multicast_address_ranges_nbobjects"`
	SimpleGatewaysNbObjects         int `json:"simple_gateways_nbobjects" yaml:"simple_gateways_nbobjects"`
	ServicesNbObjects               int `json:"services_nbobjects" yaml:"services_nbobjects"`

	RedisURL string `json:"redis_url" yaml:"redis_url"`
	// RedisTTL is in seconds.
	RedisTTL int `json:"redis_ttl" yaml:"redis_ttl"`
	// RedisPrefix replaces the first key segment, "ckp" by default.
	RedisPrefix string `json:"redis_prefix" yaml:"redis_prefix"`

	// File is the path the configuration was read from.
	File string `json:"-" yaml:"-"`
}

// commonParams are required for every transport, in reporting order.
var commonParams = []string{
	"mgmt_user",
	"mgmt_password",
	"max_job",
	"job_timeout",
	"access_layers_nbobjects",
	"access_rulebase_nbobjects",
	"hosts_nbobjects",
	"groups_nbobjects",
	"networks_nbobjects",
	"address_ranges_nbobjects",
	"multicast_address_ranges_nbobjects",
	"simple_gateways_nbobjects",
	"services_nbobjects",
}

var transportParams = map[string][]string{
	TransportSSH: {"ssh_host", "ssh_user", "ssh_key"},
	TransportWeb: {"web_url"},
}

// Load reads the configuration file at path, applies the environment
// overrides and validates it.
func Load(path string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, present, err := Parse(data, isJSON(path, data))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.File = path

	cfg.applyEnv(present)
	if err := cfg.validate(present); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads the given .env files, or ".env" when none is given, into the
// process environment. Missing files are ignored and variables already set
// win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Parse decodes a configuration document and reports which keys it sets.
func Parse(data []byte, asJSON bool) (*Config, map[string]bool, error) {
	var (
		cfg Config
		raw map[string]any
	)
	if asJSON {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, nil, err
		}
	}

	present := make(map[string]bool, len(raw))
	for k := range raw {
		present[k] = true
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportSSH
	}
	return &cfg, present, nil
}

func isJSON(path string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
}

func (c *Config) applyEnv(present map[string]bool) {
	if v, ok := os.LookupEnv(EnvMgmtUser); ok {
		c.MgmtUser = v
		present["mgmt_user"] = true
	}
	if v, ok := os.LookupEnv(EnvMgmtPassword); ok {
		c.MgmtPassword = v
		present["mgmt_password"] = true
	}
	if v, ok := os.LookupEnv(EnvRedisURL); ok {
		c.RedisURL = v
	}
}

func (c *Config) validate(present map[string]bool) error {
	extra, ok := transportParams[c.Transport]
	if !ok {
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportSSH, TransportWeb)
	}

	for _, param := range append(extra, commonParams...) {
		if !present[param] {
			return &MissingParameterError{Param: param, File: c.File}
		}
	}

	if c.MaxJob <= 0 {
		return fmt.Errorf("max_job must be > 0 (got %d)", c.MaxJob)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be > 0 (got %d)", c.JobTimeout)
	}
	for _, category := range PagedCategories {
		if n := c.PageSize(category); n <= 0 {
			return fmt.Errorf("page size of %s must be > 0 (got %d)", category, n)
		}
	}
	return nil
}

// Timeout returns the task timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.JobTimeout) * time.Second
}

// RedisExpiry returns the lifetime of archived pages; zero selects the
// archive default.
func (c *Config) RedisExpiry() time.Duration {
	return time.Duration(c.RedisTTL) * time.Second
}

// PagedCategories lists every category fetched by an export, in queueing
// order.
var PagedCategories = []string{
	"access-layers",
	"access-rulebase",
	"hosts",
	"groups",
	"groups-with-exclusion",
	"networks",
	"address-ranges",
	"multicast-address-ranges",
	"simple-gateways",
	"service-groups",
	"services-tcp",
	"services-udp",
	"services-icmp",
	"services-icmp6",
	"services-other",
	"services-dce-rpc",
	"services-rpc",
	"services-sctp",
}

// PageSize returns the number of objects per task of category. Unknown
// categories return 0.
func (c *Config) PageSize(category string) int {
	switch category {
	case "access-layers":
		return c.AccessLayersNbObjects
	case "access-rulebase":
		return c.AccessRulebaseNbObjects
	case "hosts":
		return c.HostsNbObjects
	case "groups", "groups-with-exclusion":
		return c.GroupsNbObjects
	case "networks":
		return c.NetworksNbObjects
	case "address-ranges":
		return c.AddressRangesNbObjects
	case "multicast-address-ranges":
		return c.MulticastAddressRangesNbObjects
	case "simple-gateways":
		return c.SimpleGatewaysNbObjects
	}
	if category == "service-groups" || strings.HasPrefix(category, "services-") {
		return c.ServicesNbObjects
	}
	return 0
}
