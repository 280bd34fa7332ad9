package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/ckp-export/internal/testutil"
)

func writeConfig(t *testing.T, webURL string) string {
	t.Helper()
	content := fmt.Sprintf(`transport: web
web_url: %s
mgmt_user: admin
mgmt_password: secret
max_job: 2
job_timeout: 5
access_layers_nbobjects: 10
access_rulebase_nbobjects: 10
hosts_nbobjects: 2
groups_nbobjects: 10
networks_nbobjects: 10
address_ranges_nbobjects: 10
multicast_address_ranges_nbobjects: 10
simple_gateways_nbobjects: 10
services_nbobjects: 10
`, webURL)
	path := filepath.Join(t.TempDir(), "ckp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no config", nil, exitUsage},
		{"unknown flag", []string{"-x"}, exitUsage},
		{"help", []string{"-h"}, exitOK},
		{"missing config file", []string{"-c", filepath.Join(t.TempDir(), "none.json")}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := run(context.Background(), tt.args, &stdout, &stderr); got != tt.want {
				t.Errorf("run() = %d, want %d (stderr %s)", got, tt.want, stderr.String())
			}
			if stdout.Len() != 0 {
				t.Errorf("stdout = %q, want empty", stdout.String())
			}
		})
	}
}

func TestRun_Export(t *testing.T) {
	mock := testutil.NewMockManagement()
	defer mock.Close()
	mock.AddLayer(map[string]any{"uid": "L1", "name": "Network"}, []map[string]any{{"uid": "r1"}}, nil)
	mock.AddObjects("hosts", testutil.Objects("h", "host", 3)...)

	outDir := filepath.Join(t.TempDir(), "pages")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-c", writeConfig(t, mock.URL()), "-o", outDir}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("run() = %d, stderr:\n%s", code, stderr.String())
	}

	var doc map[string][]map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if len(doc["layers"]) != 1 || len(doc["objects-dictionary"]) != 3 {
		t.Errorf("document = %v", doc)
	}
	if !strings.HasPrefix(stderr.String(), "Running...") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if _, err := os.Stat(filepath.Join(outDir, "hosts_1.json")); err != nil {
		t.Errorf("page archive: %v", err)
	}
}

func TestRun_OutFile(t *testing.T) {
	mock := testutil.NewMockManagement()
	defer mock.Close()

	outFile := filepath.Join(t.TempDir(), "export.json")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-c", writeConfig(t, mock.URL()), "-out", outFile}, &stdout, &stderr); code != exitOK {
		t.Fatalf("run() = %d, stderr:\n%s", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\n  \"objects-dictionary\": [],\n  \"layers\": []\n}\n" {
		t.Errorf("empty export = %q", data)
	}
}

func TestRun_LoginFailure(t *testing.T) {
	mock := testutil.NewMockManagement()
	defer mock.Close()
	mock.Password = "other"

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-c", writeConfig(t, mock.URL())}, &stdout, &stderr); code != exitRun {
		t.Errorf("run() = %d, want %d", code, exitRun)
	}
}
