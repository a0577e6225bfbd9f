// Package orchestrate implements the pipeline orchestrator (C9): the
// single entry point that drives a master prompt through fragmentation,
// assignment, dispatch, composition, and persistence, emitting audit
// events along the way.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/collabmesh/substrate/internal/agentinvoker"
	"github.com/collabmesh/substrate/internal/arbitrate"
	"github.com/collabmesh/substrate/internal/assign"
	"github.com/collabmesh/substrate/internal/audit"
	"github.com/collabmesh/substrate/internal/compose"
	"github.com/collabmesh/substrate/internal/dispatch"
	"github.com/collabmesh/substrate/internal/fragment"
	"github.com/collabmesh/substrate/internal/memory"
	"github.com/collabmesh/substrate/internal/observability"
	"github.com/collabmesh/substrate/internal/roles"
)

// Envelope is the orchestrator's single return value for one pipeline run.
type Envelope struct {
	MasterTaskID     string                     `json:"master_task_id"`
	Composition      *compose.CompositionResult `json:"composition,omitempty"`
	FailedSubtaskIDs []string                   `json:"failed_subtask_ids"`
	Warnings         []fragment.ValidationWarning `json:"warnings"`
}

// Pipeline is the C9 orchestrator, wiring every upstream component.
type Pipeline struct {
	fragmenter *fragment.Fragmenter
	assigner   *assign.Assigner
	dispatcher *dispatch.Dispatcher
	composer   *compose.Composer
	memory     *memory.Graph
	audit      audit.Sink
	logger     *slog.Logger
}

// Deps bundles the already-constructed components a Pipeline wires
// together; each is owned by the CLI's wiring code, not by Pipeline.
type Deps struct {
	Registry    *roles.Registry
	Invokers    agentinvoker.Registry
	Memory      *memory.Graph
	Engine      *arbitrate.Engine
	DispatchCfg dispatch.Config
	Audit       audit.Sink
	Logger      *slog.Logger
	ErrHandler  *observability.ErrorHandler
}

// New assembles a Pipeline from Deps.
func New(d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditSink := d.Audit
	if auditSink == nil {
		auditSink = audit.NewSink(audit.Config{}, logger, d.ErrHandler)
	}
	return &Pipeline{
		fragmenter: fragment.New(d.Registry),
		assigner:   assign.New(d.Registry),
		dispatcher: dispatch.New(d.Invokers, d.Memory, d.DispatchCfg, d.ErrHandler),
		composer:   compose.New(d.Engine),
		memory:     d.Memory,
		audit:      auditSink,
		logger:     logger,
	}
}

// Run drives one master prompt end to end: fragment, assign, dispatch,
// compose, persist. It returns a non-nil error when fragmentation fails
// (including an empty prompt), when Dispatch returns an error, or when
// composition fails (the Envelope is still returned then); subtask-level failures
// are reported in the Envelope, not as a Go error, so a partially
// successful pipeline run still yields a usable composition.
func (p *Pipeline) Run(ctx context.Context, prompt, taskType, domain string) (*Envelope, error) {
	fr, warnings, err := p.fragmenter.Fragment(prompt, taskType, domain)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: fragmentation failed: %w", err)
	}
	p.audit.Publish(ctx, audit.Event{Kind: audit.EventFragmented, MasterTaskID: fr.MasterTaskID, Detail: map[string]interface{}{"subtask_count": len(fr.Subtasks), "strategy": fr.CoordinationStrategy}})

	for _, st := range fr.Subtasks {
		score, ok := p.assigner.Assign(st)
		if ok {
			p.audit.Publish(ctx, audit.Event{Kind: audit.EventAssigned, MasterTaskID: fr.MasterTaskID, SubtaskID: st.TaskID, AgentID: st.AssignedAgent, Detail: map[string]interface{}{"score": score.Score}})
		}
	}

	fr.State = fragment.FragmentStateInProgress
	outcome, err := p.dispatcher.Dispatch(ctx, fr)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: dispatch failed: %w", err)
	}
	p.audit.Publish(ctx, audit.Event{Kind: audit.EventDispatched, MasterTaskID: fr.MasterTaskID, Detail: map[string]interface{}{"completed": len(outcome.Results), "failed": len(outcome.FailedSubtasks)}})

	env := &Envelope{
		MasterTaskID:     fr.MasterTaskID,
		FailedSubtaskIDs: outcome.FailedSubtasks,
		Warnings:         warnings,
	}

	if len(outcome.Results) == 0 {
		fr.State = fragment.FragmentStateFailed
		p.audit.Publish(ctx, audit.Event{Kind: audit.EventPipelineEnd, MasterTaskID: fr.MasterTaskID, Detail: map[string]interface{}{"outcome": "failed"}})
		return env, nil
	}

	composition, err := p.composer.Compose(fr, outcome.Results)
	if err != nil {
		fr.State = fragment.FragmentStateFailed
		return env, fmt.Errorf("orchestrate: composition failed: %w", err)
	}
	env.Composition = composition

	if len(composition.Conflicts) > 0 {
		p.audit.Publish(ctx, audit.Event{Kind: audit.EventArbitrated, MasterTaskID: fr.MasterTaskID, Detail: map[string]interface{}{"conflicts": len(composition.Conflicts), "resolutions": len(composition.Resolutions)}})
	}
	p.audit.Publish(ctx, audit.Event{Kind: audit.EventComposed, MasterTaskID: fr.MasterTaskID, Detail: map[string]interface{}{"strategy": composition.Strategy, "confidence": composition.Confidence}})

	if p.memory != nil {
		_, err := p.memory.AddNode("orchestrator", "final_composition", memory.Payload{Kind: memory.PayloadComposition, Data: composition}, map[string]interface{}{"master_task_id": fr.MasterTaskID}, nil)
		if err != nil {
			p.logger.Warn("orchestrate: failed to persist composition", "master_task_id", fr.MasterTaskID, "error", err)
		}
	}

	fr.State = fragment.FragmentStateCompleted
	p.audit.Publish(ctx, audit.Event{Kind: audit.EventPipelineEnd, MasterTaskID: fr.MasterTaskID, Detail: map[string]interface{}{"outcome": "completed", "failed_subtasks": len(outcome.FailedSubtasks)}})

	return env, nil
}

// Close releases the pipeline's owned resources (the audit sink; other
// Deps fields are owned by the caller).
func (p *Pipeline) Close() error {
	return p.audit.Close()
}
