// Package agentinvoker defines the AgentInvoker capability the dispatcher
// (C5) consumes. Concrete AI provider clients, routing, and cost ledgers
// are external collaborators; this package only specifies the interface
// and a couple of test doubles.
package agentinvoker

import (
	"context"
	"time"
)

// TokenUsage mirrors the prompt/completion/total triple the spec's
// AgentInvoker response carries.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Request is the input to one invocation.
type Request struct {
	AgentID       string
	Prompt        string
	MaxTokens     int
	SystemMessage string
}

// Response is what an invoker yields on success.
type Response struct {
	Content        string
	Usage          TokenUsage
	LatencySeconds float64
	Model          string
}

// Invoker is the external capability the dispatcher treats as opaque: given
// a prompt and parameters it eventually returns content + usage + latency,
// or fails. The core does not prescribe how an invoker selects providers.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Registry resolves an agent_id to the Invoker responsible for it. In
// production this is backed by the smart-router subsystem (out of scope
// here); tests and the CLI default wire in a fixed map.
type Registry interface {
	InvokerFor(agentID string) (Invoker, bool)
}

// StaticRegistry is a Registry backed by a fixed map, suitable for a
// single-provider deployment or for tests.
type StaticRegistry struct {
	invokers map[string]Invoker
}

// NewStaticRegistry builds a StaticRegistry from a map of agent_id to Invoker.
func NewStaticRegistry(invokers map[string]Invoker) *StaticRegistry {
	return &StaticRegistry{invokers: invokers}
}

func (r *StaticRegistry) InvokerFor(agentID string) (Invoker, bool) {
	inv, ok := r.invokers[agentID]
	return inv, ok
}

// FuncInvoker adapts a plain function to the Invoker interface, convenient
// for tests and for a single-agent CLI default.
type FuncInvoker func(ctx context.Context, req Request) (Response, error)

func (f FuncInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Echo is a trivial default invoker: it "answers" by restating the prompt,
// useful for the CLI's stand-alone demo mode and for tests that only care
// about pipeline plumbing, not actual model quality.
func Echo(agentName string) Invoker {
	return FuncInvoker(func(ctx context.Context, req Request) (Response, error) {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
		content := agentName + " response to: " + req.Prompt
		return Response{
			Content:        content,
			Usage:          TokenUsage{Prompt: len(req.Prompt) / 4, Completion: len(content) / 4, Total: (len(req.Prompt) + len(content)) / 4},
			LatencySeconds: 0.05,
			Model:          "echo-1",
		}, nil
	})
}

// WithLatency wraps an invoker so it additionally sleeps for the given
// duration (or until ctx is cancelled), used by tests exercising timeouts.
func WithLatency(inv Invoker, d time.Duration) Invoker {
	return FuncInvoker(func(ctx context.Context, req Request) (Response, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
		return inv.Invoke(ctx, req)
	})
}
