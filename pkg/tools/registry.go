// Package tools is the capability table the agent offers to the model: each
// tool pairs a JSON-schema definition with a typed handler.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wisbric/slotowl/pkg/providers"
	"github.com/wisbric/slotowl/pkg/tenant"
)

var validate = newValidator()

// newValidator reports fields by their JSON names, which is what the model sees.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Invocation carries the caller identity into a tool. The tenant is always
// passed explicitly.
type Invocation struct {
	Tenant *tenant.Tenant
	UserID string
	Now    time.Time
}

// Result is the outcome of a tool call. ForLLM is fed back to the model.
type Result struct {
	ForLLM  string
	IsError bool
	Err     error // internal cause, never shown to the model
}

// NewResult returns a successful result.
func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

// ErrorResult returns a failed result with a model-facing message.
func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

// WithError attaches the internal cause.
func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// Handler executes a tool with its raw JSON arguments.
type Handler func(ctx context.Context, inv Invocation, args json.RawMessage) *Result

// Tool is a registered capability.
type Tool struct {
	Definition providers.ToolDefinition
	Handler    Handler
}

// Typed adapts a handler taking a decoded argument struct. Arguments are
// decoded from JSON and checked against the struct's validate tags before fn
// runs.
func Typed[A any](fn func(ctx context.Context, inv Invocation, args A) *Result) Handler {
	return func(ctx context.Context, inv Invocation, raw json.RawMessage) *Result {
		var args A
		if len(strings.TrimSpace(string(raw))) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult("invalid arguments: expected a JSON object matching the tool schema").WithError(err)
			}
		}
		if err := validate.Struct(args); err != nil {
			var invalid *validator.InvalidValidationError
			if !errors.As(err, &invalid) {
				return ErrorResult("invalid arguments: " + describeValidation(err)).WithError(err)
			}
		}
		return fn(ctx, inv, args)
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Definition.Name
	if name == "" || t.Handler == nil {
		return errors.New("tools: tool needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Execute runs the named tool. Unknown tools and panicking handlers produce
// an error result rather than failing the turn.
func (r *Registry) Execute(ctx context.Context, inv Invocation, name, args string) (res *Result) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name))
	}

	defer func() {
		if p := recover(); p != nil {
			res = ErrorResult("the tool failed unexpectedly").WithError(fmt.Errorf("tool %s panicked: %v", name, p))
		}
	}()

	res = t.Handler(ctx, inv, json.RawMessage(args))
	if res == nil {
		res = NewResult("")
	}
	return res
}
