// Package executor provides the protocol drivers that run runbook steps
// on managed servers: SSH, WinRM, and HTTP API. A driver turns a server
// credential into a Session; sessions run one command at a time and are
// released on every exit path. Secret material enters this package as a
// short-lived buffer, is consumed during Connect, and is never logged.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// maxOutputBytes caps captured stdout/stderr per command. Output beyond
// the cap is dropped with a truncation marker.
const maxOutputBytes = 1 << 20

// dialTimeout bounds transport establishment for every driver.
const dialTimeout = 10 * time.Second

// DefaultCommandTimeout applies when a step carries no timeout of its own.
const DefaultCommandTimeout = 5 * time.Minute

// FailureKind classifies driver failures for the API error envelope and
// step error messages.
type FailureKind string

// Driver failure kinds.
const (
	FailAuth        FailureKind = "AuthFailed"
	FailUnreachable FailureKind = "Unreachable"
	FailTimeout     FailureKind = "Timeout"
	FailNonZeroExit FailureKind = "NonZeroExit"
)

// DriverError wraps a transport-level failure with its kind. A command
// that ran to completion with a non-zero exit code is not a DriverError;
// the exit code surfaces on the Result instead.
type DriverError struct {
	Kind FailureKind
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain. Returns "" when
// the error is not a driver failure.
func KindOf(err error) FailureKind {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTimeout reports whether the error is a driver timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == FailTimeout
}

// Command is one fully rendered unit of work handed to a session. Command
// steps populate Text and the shell fields; api steps populate the API
// fields. All template rendering happens before a Command is built.
type Command struct {
	Text             string
	Elevate          bool
	WorkingDirectory string
	Environment      map[string]string
	Timeout          time.Duration

	// API step fields.
	Method          string
	Endpoint        string
	Headers         map[string]string
	QueryParams     map[string]string
	Body            string
	BodyType        models.APIBodyType
	ExpectedStatus  []int
	RetryOnStatus   []int
	RetryCount      int
	RetryDelay      time.Duration
	FollowRedirects bool
}

// timeout returns the effective per-command deadline.
func (c *Command) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCommandTimeout
}

// Result is the outcome of one command. ExitCode is -1 when the command
// never produced an exit status (timeout, abort).
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Chunk is one piece of live command output.
type Chunk struct {
	Stream string // "stdout" or "stderr"
	Data   string
}

// Sink receives output chunks as they arrive. Sinks must not block; the
// event bus behind them is buffered.
type Sink func(Chunk)

// Session is an established transport to one server. Run executes exactly
// one command; Close releases the transport and is safe to call after any
// Run outcome.
type Session interface {
	Run(ctx context.Context, cmd Command, sink Sink) (*Result, error)
	Close() error
}

// Driver connects to servers of one protocol. The secret buffer holds the
// decrypted credential material (private key, password, or token); drivers
// consume it during Connect and must not retain it beyond the session.
type Driver interface {
	Protocol() models.Protocol
	Connect(ctx context.Context, server *models.ServerCredential, secret []byte) (Session, error)
}

// streamBuffer captures one output stream up to maxOutputBytes and
// forwards every write to the sink.
type streamBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	stream    string
	sink      Sink
	truncated bool
}

func newStreamBuffer(stream string, sink Sink) *streamBuffer {
	return &streamBuffer{stream: stream, sink: sink}
}

func (b *streamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	if !b.truncated {
		room := maxOutputBytes - b.buf.Len()
		if room > 0 {
			chunk := p
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			b.buf.Write(chunk)
		}
		if b.buf.Len() >= maxOutputBytes {
			b.buf.WriteString("\n... [output truncated]")
			b.truncated = true
		}
	}
	b.mu.Unlock()

	if b.sink != nil && len(p) > 0 {
		b.sink(Chunk{Stream: b.stream, Data: string(p)})
	}
	return len(p), nil
}

func (b *streamBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Wipe zeroes a secret buffer once the driver has consumed it.
func Wipe(secret []byte) {
	for i := range secret {
		secret[i] = 0
	}
}
