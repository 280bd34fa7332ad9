package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
	"ssh_host": "mgmt.example.org",
	"ssh_key": "/home/ro/.ssh/id_ed25519",
	"ssh_user": "ro",
	"mgmt_user": "readonly",
	"mgmt_password": "secret",
	"max_job": 8,
	"job_timeout": 120,
	"access_layers_nbobjects": 50,
	"access_rulebase_nbobjects": 100,
	"hosts_nbobjects": 500,
	"groups_nbobjects": 200,
	"networks_nbobjects": 500,
	"address_ranges_nbobjects": 500,
	"multicast_address_ranges_nbobjects": 50,
	"simple_gateways_nbobjects": 50,
	"services_nbobjects": 500
}`

const sampleYAML = `transport: web
web_url: https://mgmt.example.org
insecure_skip_verify: true
mgmt_user: readonly
mgmt_password: secret
max_job: 4
job_timeout: 60
access_layers_nbobjects: 50
access_rulebase_nbobjects: 100
hosts_nbobjects: 500
groups_nbobjects: 200
networks_nbobjects: 500
address_ranges_nbobjects: 500
multicast_address_ranges_nbobjects: 50
simple_gateways_nbobjects: 50
services_nbobjects: 500
redis_url: redis://localhost:6379/0
redis_ttl: 3600
redis_prefix: lab
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvMgmtUser, EnvMgmtPassword, EnvRedisURL} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_JSON(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "ckp.json", sampleJSON))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport != TransportSSH {
		t.Errorf("Transport = %s, want %s", cfg.Transport, TransportSSH)
	}
	if cfg.SSHHost != "mgmt.example.org" || cfg.MaxJob != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Timeout() != 120*time.Second {
		t.Errorf("Timeout() = %v, want 2m", cfg.Timeout())
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "ckp.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport != TransportWeb || cfg.WebURL != "https://mgmt.example.org" || !cfg.InsecureSkipVerify {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RedisExpiry() != time.Hour {
		t.Errorf("RedisExpiry() = %v, want 1h", cfg.RedisExpiry())
	}
	if cfg.RedisPrefix != "lab" {
		t.Errorf("RedisPrefix = %q, want lab", cfg.RedisPrefix)
	}
}

func TestLoad_MissingParameter(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "ckp.json", `{"ssh_host": "mgmt", "ssh_user": "ro"}`)

	_, err := Load(path)
	if !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("Load() error = %v, want ErrMissingParameter", err)
	}
	var missing *MissingParameterError
	if !errors.As(err, &missing) || missing.Param != "ssh_key" {
		t.Errorf("missing = %+v, want ssh_key", missing)
	}
	if missing.File != path {
		t.Errorf("File = %s, want %s", missing.File, path)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvMgmtUser, "svc-export")
	t.Setenv(EnvMgmtPassword, "from-env")
	t.Setenv(EnvRedisURL, "redis://cache:6379/1")

	// mgmt_password may be left out of the file entirely
	cfg, err := Load(writeConfig(t, "ckp.yaml", `transport: web
web_url: https://mgmt
mgmt_user: readonly
max_job: 1
job_timeout: 5
access_layers_nbobjects: 1
access_rulebase_nbobjects: 1
hosts_nbobjects: 1
groups_nbobjects: 1
networks_nbobjects: 1
address_ranges_nbobjects: 1
multicast_address_ranges_nbobjects: 1
simple_gateways_nbobjects: 1
services_nbobjects: 1
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MgmtUser != "svc-export" || cfg.MgmtPassword != "from-env" || cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown transport", "c.yaml", "transport: telnet\n"},
		{"zero max_job", "c.json", strings.Replace(sampleJSON, `"max_job": 8`, `"max_job": 0`, 1)},
		{"zero page size", "c.json", strings.Replace(sampleJSON, `"hosts_nbobjects": 500`, `"hosts_nbobjects": 0`, 1)},
		{"broken json", "c.json", `{"ssh_host":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.file, tt.content)); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load(missing file) error = nil, want error")
	}
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	env := writeConfig(t, ".env", EnvMgmtPassword+"=dotenv-secret\n")

	if err := LoadEnv(env, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv(EnvMgmtPassword) })

	if got := os.Getenv(EnvMgmtPassword); got != "dotenv-secret" {
		t.Errorf("%s = %q, want dotenv-secret", EnvMgmtPassword, got)
	}
}

func TestPageSize(t *testing.T) {
	cfg, _, err := Parse([]byte(sampleJSON), true)
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]int{
		"access-layers":         50,
		"access-rulebase":       100,
		"hosts":                 500,
		"groups":                200,
		"groups-with-exclusion": 200,
		"simple-gateways":       50,
		"service-groups":        500,
		"services-dce-rpc":      500,
		"unknown":               0,
	}
	for category, want := range tests {
		if got := cfg.PageSize(category); got != want {
			t.Errorf("PageSize(%s) = %d, want %d", category, got, want)
		}
	}

	for _, category := range PagedCategories {
		if cfg.PageSize(category) <= 0 {
			t.Errorf("PageSize(%s) not configured", category)
		}
	}
}
