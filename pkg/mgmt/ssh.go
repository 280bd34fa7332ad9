package mgmt

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/Sternrassler/ckp-export/pkg/session"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds the mgmt_cli over SSH configuration.
type SSHConfig struct {
	// Host is the management server, "host" or "host:port".
	Host string

	User string

	// KeyFile is the path of the private key used to authenticate.
	KeyFile string

	// KnownHosts is the known_hosts file used to verify the server. Empty
	// disables host key verification.
	KnownHosts string

	// ConnTimeout is passed to mgmt_cli as --conn-timeout, in seconds.
	ConnTimeout int

	// DialTimeout bounds the TCP connect and SSH handshake.
	DialTimeout time.Duration
}

// SSHClient runs mgmt_cli on the management server, one SSH connection per
// command.
type SSHClient struct {
	addr        string
	config      *ssh.ClientConfig
	connTimeout int
	logger      zerolog.Logger
}

// NewSSHClient creates an SSH client from cfg.
func NewSSHClient(cfg SSHConfig) (*SSHClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyFile, err)
	}

	logger := logging.NewLogger(logging.ComponentSSH)

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // only without known_hosts
	if cfg.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	} else {
		logger.Warn().Str("host", cfg.Host).Msg("Host key verification disabled")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	return &SSHClient{
		addr: addr,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         dialTimeout,
		},
		connTimeout: cfg.ConnTimeout,
		logger:      logger,
	}, nil
}

// Login implements session.Authenticator.
func (c *SSHClient) Login(ctx context.Context, creds session.Credentials) (*session.Session, error) {
	out, err := c.exec(ctx, "login", LoginCommandLine(creds, c.connTimeout))
	if err != nil {
		return nil, err
	}
	return parseLogin(out)
}

// Logout implements session.Authenticator.
func (c *SSHClient) Logout(ctx context.Context, s *session.Session) error {
	_, err := c.exec(ctx, "logout", LogoutCommandLine(s.ID))
	return err
}

// Start implements Client. The connection is set up synchronously so that
// unreachable servers fail the task at once.
func (c *SSHClient) Start(ctx context.Context, s *session.Session, req job.Request) (job.Handle, error) {
	return c.start(ctx, ShowCommand(req.Category), CommandLine(s.ID, c.connTimeout, req))
}

func (c *SSHClient) exec(ctx context.Context, command, line string) ([]byte, error) {
	h, err := c.start(ctx, command, line)
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

func (c *SSHClient) start(ctx context.Context, command, line string) (job.Handle, error) {
	client, err := c.dial(ctx)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{Command: command, Class: ErrorClassNetwork, Message: "ssh connect " + c.addr, Err: err}
	}
	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{Command: command, Class: ErrorClassNetwork, Message: "ssh session", Err: err}
	}

	c.logger.Debug().Str("command", command).Msg("Running mgmt_cli")

	return job.Go(ctx, func(ctx context.Context) ([]byte, error) {
		startTime := time.Now()
		defer client.Close()
		defer sess.Close()
		stop := context.AfterFunc(ctx, func() { client.Close() })
		defer stop()

		var stdout, stderr bytes.Buffer
		sess.Stdout = &stdout
		sess.Stderr = &stderr

		err := sess.Run(line)
		apiRequestDuration.WithLabelValues(command).Observe(time.Since(startTime).Seconds())
		if err != nil {
			apiErrorsTotal.WithLabelValues(string(ErrorClassCommand)).Inc()
			apiRequestsTotal.WithLabelValues(command, "exit_error").Inc()
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			return nil, &APIError{Command: command, Class: ErrorClassCommand, Message: msg, Err: err}
		}
		apiRequestsTotal.WithLabelValues(command, "ok").Inc()
		return stdout.Bytes(), nil
	}), nil
}

func (c *SSHClient) dial(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: c.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	// the handshake is bounded by the dial timeout too
	if err := conn.SetDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	sconn, chans, reqs, err := ssh.NewClientConn(conn, c.addr, c.config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sconn.Close()
		return nil, err
	}
	return ssh.NewClient(sconn, chans, reqs), nil
}
