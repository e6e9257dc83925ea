package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// SSHDriver runs command steps over SSH.
type SSHDriver struct{}

// NewSSHDriver creates the SSH driver.
func NewSSHDriver() *SSHDriver {
	return &SSHDriver{}
}

// Protocol implements Driver.
func (d *SSHDriver) Protocol() models.Protocol {
	return models.ProtocolSSH
}

// Connect implements Driver. The secret buffer is the PEM private key for
// auth_type=key or the password for auth_type=password; it is consumed
// here and wiped by the caller.
func (d *SSHDriver) Connect(ctx context.Context, server *models.ServerCredential, secret []byte) (Session, error) {
	var authMethods []ssh.AuthMethod
	switch server.AuthType {
	case models.AuthKey:
		signer, err := ssh.ParsePrivateKey(secret)
		if err != nil {
			return nil, &DriverError{Kind: FailAuth, Err: fmt.Errorf("failed to parse private key for %s: %w", server.Name, err)}
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	case models.AuthPassword:
		authMethods = append(authMethods, ssh.Password(string(secret)))
	default:
		return nil, &DriverError{Kind: FailAuth, Err: fmt.Errorf("auth type %q not supported over ssh", server.AuthType)}
	}

	config := &ssh.ClientConfig{
		User:            server.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: optional known_hosts pinning
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(server.Hostname, strconv.Itoa(server.DefaultPort()))

	type dialed struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialed, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, config)
		ch <- dialed{client: client, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, classifyDialError(addr, res.err)
		}
		return &sshSession{client: res.client}, nil
	case <-ctx.Done():
		return nil, &DriverError{Kind: FailUnreachable, Err: fmt.Errorf("dial %s: %w", addr, ctx.Err())}
	}
}

func classifyDialError(addr string, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "handshake failed") {
		return &DriverError{Kind: FailAuth, Err: fmt.Errorf("ssh auth to %s: %w", addr, err)}
	}
	return &DriverError{Kind: FailUnreachable, Err: fmt.Errorf("dial %s: %w", addr, err)}
}

type sshSession struct {
	client *ssh.Client
}

// Run implements Session. The command is wrapped for elevation, working
// directory, and environment before dispatch; stdout and stderr stream to
// the sink while the session buffers them for persistence.
func (s *sshSession) Run(ctx context.Context, cmd Command, sink Sink) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, cmd.timeout())
	defer cancel()

	session, err := s.client.NewSession()
	if err != nil {
		return nil, &DriverError{Kind: FailUnreachable, Err: fmt.Errorf("failed to open session: %w", err)}
	}
	defer session.Close()

	stdout := newStreamBuffer("stdout", sink)
	stderr := newStreamBuffer("stderr", sink)
	session.Stdout = stdout
	session.Stderr = stderr

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(buildShellCommand(cmd))
	}()

	select {
	case err := <-done:
		res := &Result{
			ExitCode: 0,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(started),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
				return res, nil
			}
			res.ExitCode = -1
			return res, &DriverError{Kind: FailUnreachable, Err: fmt.Errorf("session failed: %w", err)}
		}
		return res, nil

	case <-ctx.Done():
		// Ask the remote process to stop, give it a second, then tear the
		// session down via the deferred Close.
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		res := &Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(started),
		}
		if ctx.Err() == context.DeadlineExceeded {
			return res, &DriverError{Kind: FailTimeout, Err: fmt.Errorf("command timed out after %s", cmd.timeout())}
		}
		return res, fmt.Errorf("session aborted: %w", ctx.Err())
	}
}

// Close implements Session.
func (s *sshSession) Close() error {
	return s.client.Close()
}

// buildShellCommand assembles the final remote invocation: environment
// assignments, working directory, and sudo elevation around the rendered
// command text.
func buildShellCommand(cmd Command) string {
	text := cmd.Text
	if cmd.Elevate && !strings.HasPrefix(strings.TrimSpace(text), "sudo ") {
		text = "sudo -n " + text
	}

	var parts []string
	if len(cmd.Environment) > 0 {
		keys := make([]string, 0, len(cmd.Environment))
		for k := range cmd.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("export %s=%s", k, shellQuote(cmd.Environment[k])))
		}
	}
	if cmd.WorkingDirectory != "" {
		parts = append(parts, "cd "+shellQuote(cmd.WorkingDirectory))
	}
	parts = append(parts, text)
	return strings.Join(parts, " && ")
}

// shellQuote single-quotes a value for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
