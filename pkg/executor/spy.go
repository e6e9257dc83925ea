package executor

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Spy is an in-memory Driver for tests. It records every Connect and Run
// and answers from a scripted queue of results, so orchestrator tests can
// assert that dry runs never touch a driver and that sessions close on
// every path.
type Spy struct {
	mu sync.Mutex

	// Results are dequeued per Run call; when the queue is empty Run
	// answers with a zero-exit result.
	Results []SpyResult

	ConnectCalls int
	RunCalls     int
	CloseCalls   int
	Commands     []Command

	hold     <-chan struct{}
	protocol models.Protocol
}

// SpyResult scripts one Run outcome.
type SpyResult struct {
	Result *Result
	Err    error
}

// NewSpy creates a spy that registers as the given protocol.
func NewSpy(protocol models.Protocol) *Spy {
	return &Spy{protocol: protocol}
}

// Protocol implements Driver.
func (s *Spy) Protocol() models.Protocol {
	return s.protocol
}

// Connect implements Driver.
func (s *Spy) Connect(ctx context.Context, server *models.ServerCredential, secret []byte) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCalls++
	return &spySession{spy: s}, nil
}

// Script appends a scripted Run outcome.
func (s *Spy) Script(res *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, SpyResult{Result: res, Err: err})
}

// HoldRuns makes every subsequent Run block until ch closes or the
// command context ends, so tests can park a worker mid-step.
func (s *Spy) HoldRuns(ch <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = ch
}

// Calls returns the recorded Run count.
func (s *Spy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RunCalls
}

type spySession struct {
	spy *Spy
}

func (ss *spySession) Run(ctx context.Context, cmd Command, sink Sink) (*Result, error) {
	ss.spy.mu.Lock()
	ss.spy.RunCalls++
	ss.spy.Commands = append(ss.spy.Commands, cmd)
	hold := ss.spy.hold
	var scripted *SpyResult
	if len(ss.spy.Results) > 0 {
		scripted = &ss.spy.Results[0]
		ss.spy.Results = ss.spy.Results[1:]
	}
	ss.spy.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if scripted != nil {
		if scripted.Result != nil && sink != nil && scripted.Result.Stdout != "" {
			sink(Chunk{Stream: "stdout", Data: scripted.Result.Stdout})
		}
		return scripted.Result, scripted.Err
	}
	res := &Result{ExitCode: 0, Stdout: "ok"}
	if sink != nil {
		sink(Chunk{Stream: "stdout", Data: res.Stdout})
	}
	return res, nil
}

func (ss *spySession) Close() error {
	ss.spy.mu.Lock()
	defer ss.spy.mu.Unlock()
	ss.spy.CloseCalls++
	return nil
}
