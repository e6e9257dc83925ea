package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// APIDriver runs api steps against a server's HTTP management endpoint.
type APIDriver struct{}

// NewAPIDriver creates the HTTP API driver.
func NewAPIDriver() *APIDriver {
	return &APIDriver{}
}

// Protocol implements Driver.
func (d *APIDriver) Protocol() models.Protocol {
	return models.ProtocolAPI
}

// Connect implements Driver. The secret buffer is the bearer token for
// auth_type=token or the password for auth_type=basic; the session keeps
// its own copy so the caller may wipe the input.
func (d *APIDriver) Connect(ctx context.Context, server *models.ServerCredential, secret []byte) (Session, error) {
	transport := &http.Transport{}
	if !server.APIVerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	authType := server.APIAuthType
	if authType == "" {
		authType = server.AuthType
	}

	return &apiSession{
		baseURL:   server.APIBaseURL,
		username:  server.Username,
		authType:  authType,
		secret:    string(secret),
		transport: transport,
	}, nil
}

type apiSession struct {
	baseURL   string
	username  string
	authType  models.AuthType
	secret    string
	transport *http.Transport
}

// Run implements Session. One attempt is made per retryable status code
// cycle up to cmd.RetryCount extra attempts; transport errors are not
// retried here, the orchestrator owns that policy.
func (s *apiSession) Run(ctx context.Context, cmd Command, sink Sink) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, cmd.timeout())
	defer cancel()

	target, err := s.resolveURL(cmd)
	if err != nil {
		return nil, &DriverError{Kind: FailUnreachable, Err: err}
	}

	client := &http.Client{Transport: s.transport}
	if !cmd.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	started := time.Now()
	var res *Result
	for attempt := 0; ; attempt++ {
		var status int
		res, status, err = s.attempt(ctx, client, cmd, target)
		if err != nil {
			if res == nil {
				res = &Result{ExitCode: -1}
			}
			res.Duration = time.Since(started)
			return res, err
		}
		if attempt >= cmd.RetryCount || !containsInt(cmd.RetryOnStatus, status) {
			break
		}
		select {
		case <-time.After(cmd.RetryDelay):
		case <-ctx.Done():
			res.Duration = time.Since(started)
			if ctx.Err() == context.DeadlineExceeded {
				return &Result{ExitCode: -1, Duration: res.Duration}, &DriverError{Kind: FailTimeout, Err: fmt.Errorf("request timed out after %s", cmd.timeout())}
			}
			return res, fmt.Errorf("session aborted: %w", ctx.Err())
		}
	}
	res.Duration = time.Since(started)

	if sink != nil && res.Stdout != "" {
		sink(Chunk{Stream: "stdout", Data: res.Stdout})
	}
	return res, nil
}

// attempt performs one HTTP exchange. ExitCode is 0 when the response
// status is in the expected list, 1 otherwise; Stderr holds the status
// line. The raw status code is returned for the retry decision.
func (s *apiSession) attempt(ctx context.Context, client *http.Client, cmd Command, target string) (*Result, int, error) {
	var body io.Reader
	if cmd.Body != "" {
		body = strings.NewReader(cmd.Body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(cmd.Method), target, body)
	if err != nil {
		return nil, 0, &DriverError{Kind: FailUnreachable, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	s.applyAuth(req)
	if cmd.Body != "" {
		req.Header.Set("Content-Type", contentTypeFor(cmd.BodyType))
	}
	for k, v := range cmd.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) && (ue.Timeout() || ctx.Err() == context.DeadlineExceeded) {
			return &Result{ExitCode: -1}, 0, &DriverError{Kind: FailTimeout, Err: fmt.Errorf("request timed out after %s", cmd.timeout())}
		}
		if ctx.Err() == context.Canceled {
			return &Result{ExitCode: -1}, 0, fmt.Errorf("session aborted: %w", ctx.Err())
		}
		return &Result{ExitCode: -1}, 0, &DriverError{Kind: FailUnreachable, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return &Result{ExitCode: -1}, 0, &DriverError{Kind: FailUnreachable, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	exitCode := 1
	if containsInt(cmd.ExpectedStatus, resp.StatusCode) {
		exitCode = 0
	}
	res := &Result{
		ExitCode: exitCode,
		Stdout:   string(payload),
		Stderr:   resp.Proto + " " + resp.Status,
	}
	return res, resp.StatusCode, nil
}

// Close implements Session.
func (s *apiSession) Close() error {
	s.secret = ""
	s.transport.CloseIdleConnections()
	return nil
}

func (s *apiSession) applyAuth(req *http.Request) {
	switch s.authType {
	case models.AuthToken:
		req.Header.Set("Authorization", "Bearer "+s.secret)
	case models.AuthBasic:
		req.SetBasicAuth(s.username, s.secret)
	}
}

// resolveURL joins a relative endpoint against the server base URL and
// appends query parameters. Absolute endpoints are used as given.
func (s *apiSession) resolveURL(cmd Command) (string, error) {
	target := cmd.Endpoint
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if s.baseURL == "" {
			return "", fmt.Errorf("relative endpoint %q requires api_base_url", cmd.Endpoint)
		}
		joined, err := url.JoinPath(s.baseURL, target)
		if err != nil {
			return "", fmt.Errorf("failed to join endpoint %q: %w", cmd.Endpoint, err)
		}
		target = joined
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", target, err)
	}
	if len(cmd.QueryParams) > 0 {
		q := u.Query()
		for k, v := range cmd.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func contentTypeFor(t models.APIBodyType) string {
	switch t {
	case models.APIBodyForm:
		return "application/x-www-form-urlencoded"
	case models.APIBodyRaw, models.APIBodyTemplate:
		return "text/plain"
	default:
		return "application/json"
	}
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
