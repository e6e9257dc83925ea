package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// WinRMDriver runs command steps on Windows hosts. Commands execute via
// powershell.exe; the transport is plain HTTP, NTLM, or HTTPS per the
// server's winrm_transport.
type WinRMDriver struct{}

// NewWinRMDriver creates the WinRM driver.
func NewWinRMDriver() *WinRMDriver {
	return &WinRMDriver{}
}

// Protocol implements Driver.
func (d *WinRMDriver) Protocol() models.Protocol {
	return models.ProtocolWinRM
}

// Connect implements Driver. The secret buffer is the account password.
func (d *WinRMDriver) Connect(ctx context.Context, server *models.ServerCredential, secret []byte) (Session, error) {
	useTLS := server.WinRMTransport == models.WinRMSSL
	endpoint := winrm.NewEndpoint(
		server.Hostname, server.DefaultPort(),
		useTLS,
		true, // skip TLS verification; hosts carry self-signed certs
		nil, nil, nil,
		dialTimeout,
	)

	params := winrm.NewParameters("PT60S", "en-US", 153600)
	if server.WinRMTransport == models.WinRMNTLM {
		params.TransportDecorator = func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
	}

	client, err := winrm.NewClientWithParameters(endpoint, server.Username, string(secret), params)
	if err != nil {
		return nil, &DriverError{Kind: FailUnreachable, Err: fmt.Errorf("failed to build winrm client for %s: %w", server.Name, err)}
	}
	return &winrmSession{client: client}, nil
}

type winrmSession struct {
	client *winrm.Client
}

// Run implements Session.
func (s *winrmSession) Run(ctx context.Context, cmd Command, sink Sink) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, cmd.timeout())
	defer cancel()

	stdout := newStreamBuffer("stdout", sink)
	stderr := newStreamBuffer("stderr", sink)

	started := time.Now()
	exitCode, err := s.client.RunWithContext(ctx, winrm.Powershell(buildPowershellCommand(cmd)), stdout, stderr)
	res := &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if err != nil {
		res.ExitCode = -1
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return res, &DriverError{Kind: FailTimeout, Err: fmt.Errorf("command timed out after %s", cmd.timeout())}
		case ctx.Err() == context.Canceled:
			return res, fmt.Errorf("session aborted: %w", ctx.Err())
		case strings.Contains(err.Error(), "401"):
			return res, &DriverError{Kind: FailAuth, Err: err}
		default:
			return res, &DriverError{Kind: FailUnreachable, Err: err}
		}
	}
	return res, nil
}

// Close implements Session. WinRM shells are created and released per
// command by the client; there is no persistent transport to tear down.
func (s *winrmSession) Close() error {
	return nil
}

// buildPowershellCommand prepends environment assignments and the working
// directory change to the rendered command text.
func buildPowershellCommand(cmd Command) string {
	var parts []string
	if len(cmd.Environment) > 0 {
		keys := make([]string, 0, len(cmd.Environment))
		for k := range cmd.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("$env:%s = %s", k, psQuote(cmd.Environment[k])))
		}
	}
	if cmd.WorkingDirectory != "" {
		parts = append(parts, "Set-Location "+psQuote(cmd.WorkingDirectory))
	}
	parts = append(parts, cmd.Text)
	return strings.Join(parts, "; ")
}

// psQuote single-quotes a value for PowerShell.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
