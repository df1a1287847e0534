// Package gateway is the boundary to the generative backends. Every call
// returns either a Result or a *Failure; callers never see backend-specific
// error types.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/xraph/creditline/conversation"
)

// Request asks a backend for one reply.
type Request struct {
	Kind   conversation.Kind
	Prompt string
}

// Result is a produced reply. For images Content is the hosted media URL.
type Result struct {
	Content string
	IsImage bool
}

// FailureKind classifies why generation produced nothing.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureRejected  FailureKind = "rejected"
	FailureMalformed FailureKind = "malformed"
)

// Failure is the only error type a Generator returns.
type Failure struct {
	Kind    FailureKind
	Backend string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("gateway: %s: %s", f.Backend, f.Kind)
	}
	return fmt.Sprintf("gateway: %s: %s: %v", f.Backend, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts the Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Result, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Mux routes requests to a generator per kind.
type Mux struct {
	text  Generator
	image Generator
}

var _ Generator = (*Mux)(nil)

// NewMux builds a router. Either generator may be nil, in which case
// requests of that kind are rejected.
func NewMux(text, image Generator) *Mux {
	return &Mux{text: text, image: image}
}

// Generate dispatches on req.Kind.
func (m *Mux) Generate(ctx context.Context, req Request) (Result, error) {
	var g Generator
	switch req.Kind {
	case conversation.KindText:
		g = m.text
	case conversation.KindImage:
		g = m.image
	}
	if g == nil {
		return Result{}, &Failure{
			Kind:    FailureRejected,
			Backend: "mux",
			Err:     fmt.Errorf("no generator for kind %q", req.Kind),
		}
	}
	return g.Generate(ctx, req)
}

// callFailure classifies a failed backend call. A call is a timeout when
// its deadline passed, whatever error the client surfaced for it.
func callFailure(ctx context.Context, backend string, err error) *Failure {
	kind := FailureRejected
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = FailureTimeout
	}
	return &Failure{Kind: kind, Backend: backend, Err: err}
}
