// Package audit publishes best-effort pipeline audit events to Redis
// pub/sub channels, one channel per event kind under a configured prefix.
// Publishing never blocks the pipeline on Redis availability: failures are
// logged and swallowed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/collabmesh/substrate/internal/observability"
)

// Config governs the Redis connection and channel naming.
type Config struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ChannelPrefix string
}

// Event is one audit record emitted by the pipeline orchestrator (C9).
type Event struct {
	Kind         string                 `json:"kind"`
	MasterTaskID string                 `json:"master_task_id"`
	SubtaskID    string                 `json:"subtask_id,omitempty"`
	AgentID      string                 `json:"agent_id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
}

const (
	EventFragmented  = "fragmented"
	EventAssigned    = "assigned"
	EventDispatched  = "dispatched"
	EventArbitrated  = "arbitrated"
	EventComposed    = "composed"
	EventPipelineEnd = "pipeline_completed"
)

// Sink publishes events; NoopSink and Publisher both implement it so the
// orchestrator can run without Redis configured.
type Sink interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

type noopSink struct{}

func (noopSink) Publish(ctx context.Context, event Event) {}
func (noopSink) Close() error                              { return nil }

// NewSink builds a Publisher when cfg.Enabled, otherwise a no-op sink.
// errHandler may be nil; when set, publish failures route through its
// GracefulDegradation path instead of a bare logger.Warn call.
func NewSink(cfg Config, logger *slog.Logger, errHandler *observability.ErrorHandler) Sink {
	if !cfg.Enabled {
		return noopSink{}
	}
	return &Publisher{
		cfg:        cfg,
		logger:     logger,
		errHandler: errHandler,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
	}
}

// Publisher is the Redis-backed Sink.
type Publisher struct {
	cfg        Config
	logger     *slog.Logger
	errHandler *observability.ErrorHandler
	client     *redis.Client
}

// Publish marshals and publishes event to its kind's channel. Errors are
// logged, not returned: audit visibility must never fail a pipeline run.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.degrade(ctx, "audit_marshal", err)
		return
	}

	channel := fmt.Sprintf("%s.%s", p.cfg.ChannelPrefix, event.Kind)
	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.client.Publish(publishCtx, channel, payload).Err(); err != nil {
		p.degrade(ctx, "audit_publish", err)
	}
}

func (p *Publisher) degrade(ctx context.Context, operation string, err error) {
	if p.errHandler != nil {
		p.errHandler.GracefulDegradation(ctx, operation, err)
		return
	}
	p.logger.Warn("audit: "+operation+" failed", "error", err)
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
