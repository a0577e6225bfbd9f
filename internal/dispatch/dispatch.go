// Package dispatch implements the subtask dispatcher (C5): it drives
// subtasks through their state machine respecting dependencies, invoking
// AgentInvokers concurrently up to a configured ceiling, retrying
// transient failures, and cascading failure to dependents.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/collabmesh/substrate/internal/agentinvoker"
	"github.com/collabmesh/substrate/internal/fragment"
	"github.com/collabmesh/substrate/internal/memory"
	"github.com/collabmesh/substrate/internal/observability"
)

// SubtaskResult is the outcome of one invocation attempt, per §3.
type SubtaskResult struct {
	SubtaskID       string                 `json:"subtask_id"`
	AgentID         string                 `json:"agent_id"`
	AgentName       string                 `json:"agent_name"`
	Content         string                 `json:"content"`
	ConfidenceScore float64                `json:"confidence_score"`
	CompletionTime  float64                `json:"completion_time"`
	TokenUsage      map[string]int         `json:"token_usage"`
	ErrorCount      int                    `json:"error_count"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Config governs the worker pool's shape and retry policy.
type Config struct {
	MaxConcurrency  int
	SubtaskTimeout  time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMultiplier float64
}

// Outcome is the full report of one Dispatch call.
type Outcome struct {
	Results         map[string]*SubtaskResult
	FailedSubtasks  []string
	FailureReasons  map[string]string
	FailureReports  map[string]map[string]interface{}
}

// Dispatcher is the C5 subtask dispatcher.
type Dispatcher struct {
	invokers   agentinvoker.Registry
	mem        *memory.Graph
	cfg        Config
	errHandler *observability.ErrorHandler
}

// New constructs a Dispatcher. errHandler may be nil, in which case failed
// subtasks still carry a FailureReasons entry but no structured
// FailureReports entry.
func New(invokers agentinvoker.Registry, mem *memory.Graph, cfg Config, errHandler *observability.ErrorHandler) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = 2.0
	}
	return &Dispatcher{invokers: invokers, mem: mem, cfg: cfg, errHandler: errHandler}
}

// runState tracks one subtask's run, guarded by Dispatch's mutex.
type runState struct {
	subtask       *fragment.Subtask
	state         fragment.SubtaskState
	remainingDeps int
}

// Dispatch drives every subtask in fr through pending -> {completed,
// failed}, respecting dependencies, and returns once every subtask has
// reached a terminal state or ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, fr *fragment.TaskFragment) (*Outcome, error) {
	out := &Outcome{
		Results:        make(map[string]*SubtaskResult),
		FailureReasons: make(map[string]string),
		FailureReports: make(map[string]map[string]interface{}),
	}

	byID := make(map[string]*runState, len(fr.Subtasks))
	for _, st := range fr.Subtasks {
		byID[st.TaskID] = &runState{subtask: st, state: fragment.SubtaskPending}
	}
	// dependents[x] = subtasks that depend on x
	dependents := make(map[string][]string)
	for _, st := range fr.Subtasks {
		byID[st.TaskID].remainingDeps = len(st.Dependencies)
		for _, dep := range st.Dependencies {
			dependents[dep] = append(dependents[dep], st.TaskID)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.cfg.MaxConcurrency)
	pending := len(fr.Subtasks)
	done := make(chan struct{})

	var markTerminal func(id string, state fragment.SubtaskState, result *SubtaskResult, reason string)
	var tryEnqueue func(id string)

	markTerminal = func(id string, state fragment.SubtaskState, result *SubtaskResult, reason string) {
		mu.Lock()
		rs := byID[id]
		if rs.state == fragment.SubtaskCompleted || rs.state == fragment.SubtaskFailed {
			mu.Unlock()
			return
		}
		rs.state = state
		rs.subtask.State = state
		if result != nil {
			out.Results[id] = result
		}
		if state == fragment.SubtaskFailed {
			out.FailedSubtasks = append(out.FailedSubtasks, id)
			out.FailureReasons[id] = reason
			if d.errHandler != nil {
				out.FailureReports[id] = d.errHandler.CreateErrorResponse(fmt.Errorf("%s", reason), observability.ErrorContext{
					Method:    "dispatch.subtask",
					ErrorType: classifyErrorType(reason),
				})
			}
		}
		pending--
		remaining := pending
		deps := append([]string(nil), dependents[id]...)
		mu.Unlock()

		taskContext := rs.subtask.TaskType
		var payload memory.Payload
		if state == fragment.SubtaskCompleted {
			payload = memory.Payload{Kind: memory.PayloadSubtask, Data: result}
		} else {
			payload = memory.Payload{Kind: memory.PayloadFailure, Data: map[string]interface{}{"subtask_id": id, "reason": reason}}
		}
		if d.mem != nil {
			meta := map[string]interface{}{}
			if state == fragment.SubtaskFailed {
				meta["reason"] = reason
			}
			agentID := rs.subtask.AssignedAgent
			if agentID == "" {
				agentID = "unassigned"
			}
			// Durable write on every terminal transition; storage failures
			// are swallowed here because dispatch-local failures must not
			// mask the subtask's own outcome, matching the propagation
			// policy that only C1 callers (the orchestrator) surface
			// storage errors.
			_, _ = d.mem.AddNode(agentID, taskContext, payload, meta, nil)
		}

		if state == fragment.SubtaskFailed {
			for _, depID := range deps {
				cascadeFail(depID, byID, dependents, &mu, markTerminal)
			}
		} else {
			for _, depID := range deps {
				mu.Lock()
				byID[depID].remainingDeps--
				ready := byID[depID].remainingDeps == 0 && byID[depID].state == fragment.SubtaskPending
				mu.Unlock()
				if ready {
					tryEnqueue(depID)
				}
			}
		}

		if remaining == 0 {
			close(done)
		}
	}

	tryEnqueue = func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				markTerminal(id, fragment.SubtaskFailed, nil, "cancelled")
				return
			}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				markTerminal(id, fragment.SubtaskFailed, nil, "cancelled")
				return
			default:
			}

			mu.Lock()
			rs := byID[id]
			rs.state = fragment.SubtaskInProgress
			rs.subtask.State = fragment.SubtaskInProgress
			mu.Unlock()

			result, err := d.runWithRetry(ctx, rs.subtask)
			if err != nil {
				markTerminal(id, fragment.SubtaskFailed, nil, classifyFailure(err))
				return
			}
			markTerminal(id, fragment.SubtaskCompleted, result, "")
		}()
	}

	// Seed subtasks that have no dependencies, and fail unassigned subtasks
	// immediately (they can never transition to in_progress).
	for _, st := range fr.Subtasks {
		if st.AssignedAgent == "" {
			markTerminal(st.TaskID, fragment.SubtaskFailed, nil, "unassigned")
			continue
		}
		if len(st.Dependencies) == 0 {
			tryEnqueue(st.TaskID)
		}
	}

	if pending == 0 {
		close(done)
	}

	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}
	wg.Wait()

	return out, nil
}

// cascadeFail marks id and everything transitively depending on it as
// failed with reason upstream_failed, guarding against double-processing.
func cascadeFail(id string, byID map[string]*runState, dependents map[string][]string, mu *sync.Mutex, markTerminal func(string, fragment.SubtaskState, *SubtaskResult, string)) {
	mu.Lock()
	rs, ok := byID[id]
	already := !ok || rs.state == fragment.SubtaskCompleted || rs.state == fragment.SubtaskFailed
	mu.Unlock()
	if already {
		return
	}
	markTerminal(id, fragment.SubtaskFailed, nil, "upstream_failed")
}

func classifyFailure(err error) string {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return "cancelled"
	}
	return fmt.Sprintf("invocation_failed: %v", err)
}

// classifyErrorType maps a dispatch failure reason to one of the error
// categories observability.ErrorHandler.CreateErrorResponse recognizes, so
// a failed subtask's FailureReports entry carries useful suggestions.
func classifyErrorType(reason string) string {
	switch {
	case reason == "cancelled":
		return "timeout_error"
	case reason == "unassigned":
		return "validation_error"
	case strings.HasPrefix(reason, "invocation_failed"):
		return "network_error"
	default:
		return ""
	}
}

// runWithRetry invokes the subtask's assigned agent, retrying transient
// failures with exponential backoff (base 1s, multiplier 2) up to
// MaxRetries, and enforces the per-subtask timeout.
func (d *Dispatcher) runWithRetry(ctx context.Context, st *fragment.Subtask) (*SubtaskResult, error) {
	inv, ok := d.invokers.InvokerFor(st.AssignedAgent)
	if !ok {
		return nil, fmt.Errorf("no invoker registered for agent %s", st.AssignedAgent)
	}

	delay := d.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay = time.Duration(float64(delay) * d.cfg.RetryMultiplier)
		}

		result, err := d.invokeOnce(ctx, inv, st)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Dispatcher) invokeOnce(ctx context.Context, inv agentinvoker.Invoker, st *fragment.Subtask) (*SubtaskResult, error) {
	timeout := d.cfg.SubtaskTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := inv.Invoke(callCtx, agentinvoker.Request{
		AgentID: st.AssignedAgent,
		Prompt:  st.Description,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		return nil, err
	}
	if resp.Content == "" {
		return nil, fmt.Errorf("agent %s returned empty content", st.AssignedAgent)
	}
	if callCtx.Err() != nil {
		return nil, fmt.Errorf("agent %s exceeded timeout", st.AssignedAgent)
	}

	return &SubtaskResult{
		SubtaskID:       st.TaskID,
		AgentID:         st.AssignedAgent,
		AgentName:       st.AssignedAgent,
		Content:         resp.Content,
		ConfidenceScore: defaultConfidence(resp),
		CompletionTime:  elapsed,
		TokenUsage: map[string]int{
			"prompt":     resp.Usage.Prompt,
			"completion": resp.Usage.Completion,
			"total":      resp.Usage.Total,
		},
		ErrorCount: 0,
		Metadata:   map[string]interface{}{"model": resp.Model},
	}, nil
}

// defaultConfidence returns the fixed confidence score (0.75) recorded for
// every successful invocation; agentinvoker.Response carries no confidence
// of its own.
func defaultConfidence(resp agentinvoker.Response) float64 {
	return 0.75
}
