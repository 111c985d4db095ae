// Package testutil provides test doubles for the execution core's
// collaborators.
package testutil

import (
	"context"
	"sync"

	"github.com/castellan/castellan/pkg/protocol"
)

// RecordedCall captures one gateway invocation.
type RecordedCall struct {
	Domain  string
	Service string
	Target  []string
	Data    map[string]any
}

// Responder scripts the gateway outcome for one call. Returning a nil error
// reports success.
type Responder func(call RecordedCall) (*protocol.CallResult, error)

// FakeGateway records every call and answers via a scripted responder. The
// zero responder always succeeds. Safe for concurrent use.
type FakeGateway struct {
	mu        sync.Mutex
	calls     []RecordedCall
	responder Responder
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{}
}

// RespondWith replaces the scripted responder.
func (g *FakeGateway) RespondWith(responder Responder) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.responder = responder
}

// FailWith makes every call fail with err.
func (g *FakeGateway) FailWith(err error) {
	g.RespondWith(func(RecordedCall) (*protocol.CallResult, error) {
		return nil, err
	})
}

// FailTimes fails the first n calls with err, then succeeds.
func (g *FakeGateway) FailTimes(n int, err error) {
	remaining := n

	g.RespondWith(func(RecordedCall) (*protocol.CallResult, error) {
		if remaining > 0 {
			remaining--

			return nil, err
		}

		return &protocol.CallResult{StatusCode: 200}, nil
	})
}

func (g *FakeGateway) Call(_ context.Context, domain, service string, target []string, data map[string]any) (*protocol.CallResult, error) {
	call := RecordedCall{Domain: domain, Service: service, Target: target, Data: data}

	g.mu.Lock()
	g.calls = append(g.calls, call)
	responder := g.responder
	g.mu.Unlock()

	if responder == nil {
		return &protocol.CallResult{StatusCode: 200}, nil
	}

	return responder(call)
}

// Calls returns a copy of every recorded invocation.
func (g *FakeGateway) Calls() []RecordedCall {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]RecordedCall(nil), g.calls...)
}

// CallCount reports how many invocations the gateway has seen.
func (g *FakeGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.calls)
}

// RetryableError builds a transient-class gateway failure.
func RetryableError(message string) *protocol.CallError {
	return &protocol.CallError{Retryable: true, Message: message}
}

// RejectionError builds a deterministic, non-retryable platform rejection.
func RejectionError(message string) *protocol.CallError {
	return &protocol.CallError{Retryable: false, StatusCode: 400, Message: message}
}
