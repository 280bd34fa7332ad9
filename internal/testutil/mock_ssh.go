package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// MockSSH is an in-process SSH server that answers mgmt_cli command lines
// from its Catalog.
type MockSSH struct {
	*Catalog

	User      string
	Password  string
	SessionID string

	// KeyFile holds the client private key accepted by the server.
	KeyFile string
	// KnownHostsFile lists the server host key.
	KnownHostsFile string

	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
	logouts  int
}

// NewMockSSH starts a mock SSH server on localhost. Key material is written
// to dir.
func NewMockSSH(dir string) (*MockSSH, error) {
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		return nil, err
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	authorized, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		return nil, err
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		return nil, err
	}
	keyFile := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, err
	}

	m := &MockSSH{
		Catalog:   NewCatalog(),
		User:      "admin",
		Password:  "secret",
		SessionID: "mock-session-id",
		KeyFile:   keyFile,
	}

	m.config = &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	m.config.AddHostKey(hostSigner)

	m.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	m.KnownHostsFile = filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(m.Addr())}, hostSigner.PublicKey())
	if err := os.WriteFile(m.KnownHostsFile, []byte(line+"\n"), 0o600); err != nil {
		m.listener.Close()
		return nil, err
	}

	m.wg.Add(1)
	go m.serve()
	return m, nil
}

// Addr returns the server address, "127.0.0.1:port".
func (m *MockSSH) Addr() string {
	return m.listener.Addr().String()
}

// Close stops the server.
func (m *MockSSH) Close() {
	m.listener.Close()
	m.wg.Wait()
}

// Commands returns the command lines received, in arrival order.
func (m *MockSSH) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Logouts returns the number of logout commands.
func (m *MockSSH) Logouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logouts
}

func (m *MockSSH) serve() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handleConn(conn)
	}
}

func (m *MockSSH) handleConn(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, m.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go m.handleSession(ch, requests)
	}
}

func (m *MockSSH) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		stdout, stderr, status := m.run(payload.Command)
		_, _ = ch.Write(stdout)
		_, _ = ch.Stderr().Write(stderr)
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

// run executes a mgmt_cli command line against the catalog.
func (m *MockSSH) run(line string) (stdout, stderr []byte, status uint32) {
	m.mu.Lock()
	m.commands = append(m.commands, line)
	m.mu.Unlock()

	args := splitShell(line)
	if len(args) == 0 || args[0] != "mgmt_cli" {
		return nil, []byte("command not found\n"), 127
	}

	flags := map[string]string{}
	var positional []string
	for i := 1; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") && i+1 < len(args) {
			flags[args[i]] = args[i+1]
			i++
			continue
		}
		positional = append(positional, args[i])
	}
	if len(positional) == 0 {
		return nil, []byte("missing command\n"), 1
	}

	switch positional[0] {
	case "login":
		if flags["-u"] != m.User || flags["-p"] != m.Password {
			return nil, []byte("Authentication to server failed.\n"), 1
		}
		return encode(map[string]any{"sid": m.SessionID}), nil, 0
	}

	if flags["--session-id"] != m.SessionID {
		return nil, []byte("Wrong session id\n"), 1
	}

	switch positional[0] {
	case "logout":
		m.mu.Lock()
		m.logouts++
		m.mu.Unlock()
		return encode(map[string]any{"message": "OK"}), nil, 0
	case "show":
		if len(positional) < 2 {
			return nil, []byte("missing object type\n"), 1
		}
		params := map[string]any{}
		rest := positional[2:]
		for i := 0; i+1 < len(rest); i += 2 {
			params[rest[i]] = rest[i+1]
		}
		body, code := m.Show(positional[1], params)
		if code >= 400 {
			return nil, []byte(fmt.Sprintf("%v: %v\n", body["code"], body["message"])), 1
		}
		return encode(body), nil, 0
	}
	return nil, []byte("unknown command " + positional[0] + "\n"), 1
}

func encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// splitShell splits a command line on spaces, honouring single quotes and
// backslash escapes outside quotes.
func splitShell(line string) []string {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		started bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\'':
			inQuote = !inQuote
			started = true
		case r == '\\' && !inQuote:
			escaped = true
			started = true
		case r == ' ' && !inQuote:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, cur.String())
	}
	return args
}
