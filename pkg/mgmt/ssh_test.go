package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/ckp-export/internal/testutil"
	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/session"
)

func newSSHPair(t *testing.T) (*testutil.MockSSH, *SSHClient) {
	t.Helper()
	mock, err := testutil.NewMockSSH(t.TempDir())
	if err != nil {
		t.Fatalf("NewMockSSH() error = %v", err)
	}
	t.Cleanup(mock.Close)

	c, err := NewSSHClient(SSHConfig{
		Host:        mock.Addr(),
		User:        "admin",
		KeyFile:     mock.KeyFile,
		KnownHosts:  mock.KnownHostsFile,
		ConnTimeout: 30,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSSHClient() error = %v", err)
	}
	return mock, c
}

func TestNewSSHClientValidation(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  SSHConfig
	}{
		{"no host", SSHConfig{User: "admin", KeyFile: garbage}},
		{"no user", SSHConfig{Host: "mgmt", KeyFile: garbage}},
		{"missing key", SSHConfig{Host: "mgmt", User: "admin", KeyFile: filepath.Join(dir, "missing")}},
		{"bad key", SSHConfig{Host: "mgmt", User: "admin", KeyFile: garbage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSSHClient(tt.cfg); err == nil {
				t.Error("NewSSHClient() error = nil, want error")
			}
		})
	}
}

func TestSSHDefaultPort(t *testing.T) {
	mock, _ := newSSHPair(t)
	c, err := NewSSHClient(SSHConfig{Host: "mgmt.example.org", User: "admin", KeyFile: mock.KeyFile})
	if err != nil {
		t.Fatalf("NewSSHClient() error = %v", err)
	}
	if c.addr != "mgmt.example.org:22" {
		t.Errorf("addr = %s, want mgmt.example.org:22", c.addr)
	}
}

func TestSSHLoginShowLogout(t *testing.T) {
	mock, c := newSSHPair(t)
	mock.AddObjects("hosts", testutil.Objects("h", "host", 3)...)
	ctx := context.Background()

	s, err := c.Login(ctx, session.Credentials{User: "admin", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.ID != mock.SessionID {
		t.Errorf("session id = %s, want %s", s.ID, mock.SessionID)
	}

	h, err := c.Start(ctx, s, job.Request{Category: "hosts", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	out, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	var page struct {
		Total   int              `json:"total"`
		Objects []map[string]any `json:"objects"`
	}
	if err := json.Unmarshal(out, &page); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if page.Total != 3 || len(page.Objects) != 1 {
		t.Errorf("total = %d, objects = %d, want 3 and 1", page.Total, len(page.Objects))
	}

	if err := c.Logout(ctx, s); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if mock.Logouts() != 1 {
		t.Errorf("logouts = %d, want 1", mock.Logouts())
	}

	cmds := mock.Commands()
	if len(cmds) != 3 {
		t.Fatalf("commands = %d, want 3", len(cmds))
	}
	want := CommandLine(s.ID, 30, job.Request{Category: "hosts", Limit: 2, Offset: 2})
	if cmds[1] != want {
		t.Errorf("command = %s, want %s", cmds[1], want)
	}
}

func TestSSHQuotedPassword(t *testing.T) {
	mock, c := newSSHPair(t)
	mock.Password = "it's a secret"

	if _, err := c.Login(context.Background(), session.Credentials{User: "admin", Password: "it's a secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

func TestSSHCommandFailure(t *testing.T) {
	mock, c := newSSHPair(t)
	mock.FailCategory("networks", http.StatusInternalServerError)

	h, err := c.Start(context.Background(), &session.Session{ID: mock.SessionID}, job.Request{Category: "networks", Limit: 10})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, err = h.Wait()
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Wait() error = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassCommand {
		t.Errorf("Class = %s, want %s", apiErr.Class, ErrorClassCommand)
	}
	if !strings.Contains(apiErr.Message, "generic_server_error") {
		t.Errorf("Message = %q, want stderr of mgmt_cli", apiErr.Message)
	}
}

func TestSSHWrongPassword(t *testing.T) {
	_, c := newSSHPair(t)

	_, err := c.Login(context.Background(), session.Credentials{User: "admin", Password: "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassCommand {
		t.Errorf("Login() error = %v, want command APIError", err)
	}
}

func TestSSHUnknownHostKey(t *testing.T) {
	mock, _ := newSSHPair(t)

	other := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(other, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := NewSSHClient(SSHConfig{Host: mock.Addr(), User: "admin", KeyFile: mock.KeyFile, KnownHosts: other})
	if err != nil {
		t.Fatalf("NewSSHClient() error = %v", err)
	}

	// the connection is refused before a handle exists
	_, err = c.Start(context.Background(), &session.Session{ID: mock.SessionID}, job.Request{Category: "hosts", Limit: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassNetwork {
		t.Errorf("Start() error = %v, want network APIError", err)
	}
}
