// Package agent runs one conversational turn: it builds the prompt, drives
// the model through a bounded tool loop and dispatches the reply.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wisbric/slotowl/internal/audit"
	"github.com/wisbric/slotowl/internal/keylock"
	"github.com/wisbric/slotowl/internal/telemetry"
	"github.com/wisbric/slotowl/pkg/conversation"
	"github.com/wisbric/slotowl/pkg/customer"
	"github.com/wisbric/slotowl/pkg/providers"
	"github.com/wisbric/slotowl/pkg/tenant"
	"github.com/wisbric/slotowl/pkg/tools"
)

// FallbackReply is sent when a turn cannot produce an answer.
const FallbackReply = "Sorry, I couldn't complete that right now. Please try again in a moment."

// Defaults applied when Options leaves a limit unset.
const (
	DefaultMaxIterations = 5
	DefaultHistoryLimit  = 10
	DefaultTurnTimeout   = 45 * time.Second
)

// ErrIterationsExhausted is returned when the model keeps requesting tools
// past the iteration cap.
var ErrIterationsExhausted = errors.New("agent: tool iterations exhausted")

// Turn is one inbound user message for a resolved tenant.
type Turn struct {
	Tenant    *tenant.Tenant
	UserID    string
	Channel   string
	MessageID string
	Text      string
}

// Dispatcher delivers a reply to the user.
type Dispatcher interface {
	Deliver(ctx context.Context, channel, to, text string)
}

// Auditor records tool invocations.
type Auditor interface {
	Log(entry audit.Entry)
}

// Options configures an Orchestrator.
type Options struct {
	Provider      providers.Provider
	Model         string
	Tools         *tools.Registry
	History       conversation.Store
	Customers     customer.Store
	Dispatcher    Dispatcher
	Auditor       Auditor
	Locker        keylock.Locker
	MaxIterations int
	HistoryLimit  int
	TurnTimeout   time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Orchestrator runs agent turns.
type Orchestrator struct {
	provider      providers.Provider
	model         string
	tools         *tools.Registry
	history       conversation.Store
	customers     customer.Store
	dispatcher    Dispatcher
	auditor       Auditor
	locker        keylock.Locker
	maxIterations int
	historyLimit  int
	turnTimeout   time.Duration
	now           func() time.Time
	tracer        trace.Tracer
	logger        *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		provider:      opts.Provider,
		model:         opts.Model,
		tools:         opts.Tools,
		history:       opts.History,
		customers:     opts.Customers,
		dispatcher:    opts.Dispatcher,
		auditor:       opts.Auditor,
		locker:        opts.Locker,
		maxIterations: opts.MaxIterations,
		historyLimit:  opts.HistoryLimit,
		turnTimeout:   opts.TurnTimeout,
		now:           opts.Now,
		tracer:        otel.Tracer("github.com/wisbric/slotowl/pkg/agent"),
		logger:        opts.Logger,
	}
	if o.tools == nil {
		o.tools = tools.NewRegistry()
	}
	if o.locker == nil {
		o.locker = keylock.NewLocal()
	}
	if o.maxIterations <= 0 {
		o.maxIterations = DefaultMaxIterations
	}
	if o.historyLimit <= 0 {
		o.historyLimit = DefaultHistoryLimit
	}
	if o.turnTimeout <= 0 {
		o.turnTimeout = DefaultTurnTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "agent")
	return o
}

// HandleMessage runs a turn and dispatches its reply. It returns the reply
// that was sent. Turns for the same (tenant, user) never interleave.
func (o *Orchestrator) HandleMessage(ctx context.Context, turn Turn) (string, error) {
	if turn.Tenant == nil {
		return "", errors.New("agent: turn without tenant")
	}
	log := o.logger.With("tenant_id", turn.Tenant.ID, "user_hash", telemetry.HashID(turn.UserID), "message_id", turn.MessageID)

	ctx, span := o.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("tenant.id", turn.Tenant.ID.String()),
		attribute.String("message.id", turn.MessageID),
	))
	defer span.End()

	unlock, err := o.locker.Lock(ctx, "turn:"+turn.Tenant.ID.String()+":"+turn.UserID)
	if err != nil {
		telemetry.AgentTurnsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock")
		return "", fmt.Errorf("locking conversation: %w", err)
	}
	defer unlock()

	turnCtx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	reply, iterations, err := o.run(turnCtx, turn)
	cancel()
	telemetry.AgentIterations.Observe(float64(iterations))
	span.SetAttributes(attribute.Int("agent.iterations", iterations))

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "fallback"
		log.Warn("agent turn fell back", "error", err, "iterations", iterations)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fallback")
		reply = FallbackReply
	case strings.TrimSpace(reply) == "":
		outcome = "fallback"
		log.Warn("model returned an empty reply", "iterations", iterations)
		reply = FallbackReply
	default:
		persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := o.history.AppendTurn(persistCtx, turn.Tenant.ID, turn.UserID, turn.Text, reply); err != nil {
			outcome = "error"
			log.Error("persisting conversation turn", "error", err)
		}
		cancelPersist()
	}
	telemetry.AgentTurnsTotal.WithLabelValues(outcome).Inc()

	if o.dispatcher != nil {
		o.dispatcher.Deliver(context.WithoutCancel(ctx), turn.Channel, turn.UserID, reply)
	}
	log.Info("agent turn completed", "outcome", outcome, "iterations", iterations, "reply_len", len(reply))
	return reply, nil
}

// run drives the model until it answers without tool calls. It returns the
// final content and the number of model invocations.
func (o *Orchestrator) run(ctx context.Context, turn Turn) (string, int, error) {
	messages, err := o.buildMessages(ctx, turn)
	if err != nil {
		return "", 0, err
	}
	defs := o.tools.Definitions()

	iteration := 0
	for iteration < o.maxIterations {
		iteration++

		resp, err := o.provider.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    defs,
			Model:    o.model,
		})
		if err != nil {
			return "", iteration, fmt.Errorf("model call failed (iteration %d): %w", iteration, err)
		}
		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Content), iteration, nil
		}

		messages = append(messages, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		inv := tools.Invocation{Tenant: turn.Tenant, UserID: turn.UserID, Now: o.now()}
		for _, tc := range resp.ToolCalls {
			result := o.executeTool(ctx, inv, tc)
			messages = append(messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})
		}

		if err := ctx.Err(); err != nil {
			return "", iteration, fmt.Errorf("turn deadline: %w", err)
		}
	}
	return "", iteration, ErrIterationsExhausted
}

func (o *Orchestrator) buildMessages(ctx context.Context, turn Turn) ([]providers.Message, error) {
	t := turn.Tenant

	var name string
	if o.customers != nil {
		p, err := o.customers.Get(ctx, t.ID, turn.UserID)
		switch {
		case err == nil:
			name = p.Name
		case !errors.Is(err, customer.ErrNotFound):
			o.logger.Warn("loading customer profile", "error", err, "tenant_id", t.ID)
		}
	}

	history, err := o.history.Recent(ctx, t.ID, turn.UserID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{
		Role:    providers.RoleSystem,
		Content: BuildPrompt(t, PromptContext{UserID: turn.UserID, CustomerName: name, Now: o.now()}),
	})
	for _, m := range history {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: turn.Text})
	return messages, nil
}

func (o *Orchestrator) executeTool(ctx context.Context, inv tools.Invocation, tc providers.ToolCall) *tools.Result {
	ctx, span := o.tracer.Start(ctx, "agent.tool "+tc.Name, trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.String("tool.call_id", tc.ID),
	))
	defer span.End()

	start := time.Now()
	result := o.tools.Execute(ctx, inv, tc.Name, tc.Arguments)
	elapsed := time.Since(start)

	status := "ok"
	if result.IsError {
		status = "error"
		span.SetStatus(codes.Error, "tool error")
		if result.Err != nil {
			span.RecordError(result.Err)
		}
		o.logger.Warn("tool error", "tool", tc.Name, "tenant_id", inv.Tenant.ID, "error", result.Err)
	}
	span.SetAttributes(attribute.Bool("tool.is_error", result.IsError))
	telemetry.AgentToolCallsTotal.WithLabelValues(tc.Name, status).Inc()
	o.logger.Info("tool call", "tool", tc.Name, "tenant_id", inv.Tenant.ID, "args_len", len(tc.Arguments),
		"status", status, "duration_ms", elapsed.Milliseconds())

	if o.auditor != nil {
		o.auditor.Log(audit.Entry{
			TenantID:  inv.Tenant.ID,
			UserID:    inv.UserID,
			Tool:      tc.Name,
			Arguments: audit.RedactArguments(json.RawMessage(tc.Arguments)),
			Result:    result.ForLLM,
			IsError:   result.IsError,
			Duration:  elapsed,
			CreatedAt: o.now(),
		})
	}
	return result
}
