package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	User          string        `toml:"user"`
	Port          int           `toml:"port"`
	KeyPath       string        `toml:"key"`
	Passphrase    string        `toml:"passphrase"`
	KnownHosts    string        `toml:"known_hosts"`
	StrictHostKey bool          `toml:"strict_host_key"`
	TTY           bool          `toml:"tty"`
	Timeout       time.Duration `toml:"timeout"`
	ConnTimeout   time.Duration `toml:"conn_timeout"`
}

func (c SSHConfig) String() string {
	return fmt.Sprintf("User: %v\nPort: %v\nKey: %v\nKnown Hosts: %v\nStrict Host Key: %v\nTTY: %v\nTimeout: %v\nConnection Timeout: %v\n",
		c.User, c.Port, c.KeyPath, c.KnownHosts, c.StrictHostKey, c.TTY, c.Timeout, c.ConnTimeout)
}

// sshClient and sshSession are the parts of x/crypto/ssh the runner
// needs, so tests can stand in for a real server.
type sshClient interface {
	NewSession() (sshSession, error)
	Close() error
}

type sshSession interface {
	RequestPty(term string, h, w int, modes ssh.TerminalModes) error
	Run(cmd string, stdout, stderr io.Writer) error
	Close() error
}

type dialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (sshClient, error)

type SSHRunner struct {
	config SSHConfig
	Stdout io.Writer
	Stderr io.Writer
	dial   dialFunc
}

func NewSSHRunner(c SSHConfig) (*SSHRunner, error) {
	if c.User == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("no ssh user configured and current user unknown: %w", err)
		}
		c.User = u.Username
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnTimeout == 0 {
		c.ConnTimeout = 15 * time.Second
	}
	return &SSHRunner{
		config: c,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		dial:   dialSSH,
	}, nil
}

func (r *SSHRunner) Run(ctx context.Context, host string, script string) error {
	if script == "" {
		return nil
	}
	clientConfig, closeAgent, err := r.clientConfig()
	if err != nil {
		return fmt.Errorf("%w: %v: %w", ErrFailed, host, err)
	}
	defer closeAgent()
	addr := hostAddr(host, r.config.Port)
	log.Debug("connecting", "host", host, "addr", addr, "user", r.config.User)
	client, err := r.dial(ctx, addr, clientConfig)
	if err != nil {
		return fmt.Errorf("%w: ssh connection to %v failed: %w", ErrFailed, host, err)
	}
	defer func() { _ = client.Close() }()

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: ssh session on %v: %w", ErrFailed, host, err)
	}
	defer func() { _ = sess.Close() }()

	if r.config.TTY {
		modes := ssh.TerminalModes{ssh.ECHO: 0}
		if err := sess.RequestPty("xterm", 40, 200, modes); err != nil {
			return fmt.Errorf("%w: pty on %v: %w", ErrFailed, host, err)
		}
	}

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run("bash -c "+ShellQuote(script), r.Stdout, r.Stderr) }()

	select {
	case err = <-done:
	case <-runCtx.Done():
		_ = sess.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v timed out after %v", ErrFailed, host, r.config.Timeout)
	}
	if err == nil {
		return nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %v exited with status %d", ErrFailed, host, exitErr.ExitStatus())
	}
	return fmt.Errorf("%w: %v: %w", ErrFailed, host, err)
}

// clientConfig also returns a func closing the agent connection, if one
// was opened.
func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, func(), error) {
	var auths []ssh.AuthMethod
	closeAgent := func() {}
	if r.config.KeyPath != "" {
		signer, err := loadSigner(r.config.KeyPath, r.config.Passphrase)
		if err != nil {
			return nil, closeAgent, fmt.Errorf("load key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	hostKeyCB, err := hostKeyCallback(r.config.KnownHosts, r.config.StrictHostKey)
	if err != nil {
		return nil, closeAgent, err
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closeAgent = func() { _ = conn.Close() }
		}
	}
	return &ssh.ClientConfig{
		User:            r.config.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
		Timeout:         r.config.ConnTimeout,
	}, closeAgent, nil
}

func hostKeyCallback(knownHostsPath string, strict bool) (ssh.HostKeyCallback, error) {
	if !strict {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if _, err := os.Stat(knownHostsPath); err != nil {
		return nil, fmt.Errorf("known_hosts file not found at %v and strict host key checking is enabled", knownHostsPath)
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	return cb, nil
}

// hostAddr appends the default port unless host already carries one.
func hostAddr(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(b, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(b)
	if err == nil {
		return s, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, errors.New("private key is encrypted; set ssh.passphrase")
	}
	return nil, err
}

type clientWrapper struct{ c *ssh.Client }

func (w clientWrapper) NewSession() (sshSession, error) {
	s, err := w.c.NewSession()
	if err != nil {
		return nil, err
	}
	return sessionWrapper{s}, nil
}

func (w clientWrapper) Close() error { return w.c.Close() }

type sessionWrapper struct{ s *ssh.Session }

func (w sessionWrapper) RequestPty(term string, h, wd int, modes ssh.TerminalModes) error {
	return w.s.RequestPty(term, h, wd, modes)
}

func (w sessionWrapper) Run(cmd string, stdout, stderr io.Writer) error {
	w.s.Stdout = stdout
	w.s.Stderr = stderr
	return w.s.Run(cmd)
}

func (w sessionWrapper) Close() error { return w.s.Close() }

func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (sshClient, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return clientWrapper{ssh.NewClient(c, chans, reqs)}, nil
}
