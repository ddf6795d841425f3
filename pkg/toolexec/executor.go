package toolexec

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultMaxOutput caps result size before truncation
const DefaultMaxOutput = 10 * 1024

// ToolStatus describes a registered tool's maturity
type ToolStatus string

const (
	StatusReady        ToolStatus = "ready"
	StatusExperimental ToolStatus = "experimental"
	StatusStub         ToolStatus = "stub"
)

// ParamSpec describes one argument in a tool's contract
type ParamSpec struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Handler executes one tool call. Handlers pull the execution bundle
// from ctx and are responsible for applying the confirmation gate
// before any path or command resolution.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolSpec is the contract a handler promises: what it is called, what
// arguments it takes, and how mature it is.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Status      ToolStatus           `json:"status"`
	Required    []string             `json:"required,omitempty"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty"`
	Handler     Handler              `json:"-"`
}

// Executor validates, gates, and runs registered tools. Arguments are
// checked against each tool's schema before the handler runs, so
// handlers never see structurally invalid input.
type Executor struct {
	specs   map[string]*ToolSpec
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates an empty executor
func New() *Executor {
	observability.EnsureRegistered()

	e := &Executor{
		specs:   make(map[string]*ToolSpec),
		schemas: make(map[string]*gojsonschema.Schema),
	}

	log.Info().Msg("Tool executor initialized")

	return e
}

// Register adds a tool. The spec is validated and its argument schema
// compiled once, up front.
func (e *Executor) Register(spec ToolSpec) error {
	if err := validateSpec(spec); err != nil {
		return fmt.Errorf("invalid tool spec: %w", err)
	}
	if spec.Status == "" {
		spec.Status = StatusReady
	}

	schema, err := compileSchema(spec)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", spec.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.specs[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}

	e.specs[spec.Name] = &spec
	e.schemas[spec.Name] = schema

	log.Info().Str("tool", spec.Name).Str("status", string(spec.Status)).Msg("Tool registered")

	return nil
}

// Get returns a tool spec by name, nil when absent
func (e *Executor) Get(name string) *ToolSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.specs[name]
}

// HasTool reports whether a tool is registered
func (e *Executor) HasTool(name string) bool {
	return e.Get(name) != nil
}

// List returns all registered tool names, sorted
func (e *Executor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.specs))
	for name := range e.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns every registered spec, sorted by name, for handing to a
// completion provider
func (e *Executor) Specs() []*ToolSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := make([]*ToolSpec, 0, len(e.specs))
	for _, spec := range e.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs one tool call and always returns a result envelope,
// never a panic or a bare error. Policy order: deny_tools first with no
// handler involvement, then registry lookup, then argument validation;
// confirmation and path/command checks live in the handlers.
func (e *Executor) Execute(ctx context.Context, call ToolCall, ec *ExecContext) ToolResult {
	start := time.Now()

	finish := func(res ToolResult) ToolResult {
		observability.RecordToolExecution(call.ToolName, time.Since(start), res.Ok)

		actor := tracing.GetSessionKey(ctx)
		switch {
		case res.Ok:
			observability.RecordToolAudit(ctx, call.ToolName, actor, "success", nil)
		case res.Error == nil:
		case res.Error.Code == ErrCodeConfirmationRequired,
			res.Error.Code == ErrCodePathDenied,
			res.Error.Code == ErrCodeCommandDenied:
			observability.RecordToolError(call.ToolName, res.Error.Code)
			observability.RecordSecurityAudit(ctx, "execute:"+call.ToolName, actor, "denied",
				map[string]interface{}{"code": res.Error.Code})
		default:
			observability.RecordToolError(call.ToolName, res.Error.Code)
			observability.RecordToolAudit(ctx, call.ToolName, actor, "failure",
				map[string]interface{}{"code": res.Error.Code})
		}
		return res
	}

	if ec == nil {
		ec = &ExecContext{}
	}
	if ec.StartedAt.IsZero() {
		ec.StartedAt = start
	}
	if call.Args == nil {
		call.Args = map[string]interface{}{}
	}

	if ec.Permissions != nil && ec.Permissions.IsToolDenied(call.ToolName) {
		log.Warn().Str("tool", call.ToolName).Msg("Tool execution blocked by deny_tools")
		res := Fail(Validationf(
			"tool %q is disabled by deny_tools (edit %s to change this)",
			call.ToolName, ec.Permissions.FilePath()))
		observability.RecordToolExecution(call.ToolName, time.Since(start), false)
		observability.RecordToolError(call.ToolName, res.Error.Code)
		observability.RecordSecurityAudit(ctx, "execute:"+call.ToolName, tracing.GetSessionKey(ctx), "denied",
			map[string]interface{}{"reason": "deny_tools"})
		return res
	}

	e.mu.RLock()
	spec := e.specs[call.ToolName]
	schema := e.schemas[call.ToolName]
	e.mu.RUnlock()

	if spec == nil {
		log.Error().Str("tool", call.ToolName).Msg("Tool not found")
		return finish(Fail(NotFoundf("unknown tool: %s", call.ToolName)))
	}

	if err := validateArgs(schema, call.Args); err != nil {
		log.Error().Str("tool", call.ToolName).Err(err).Msg("Argument validation failed")
		return finish(Fail(Validationf("invalid arguments for %s: %v", call.ToolName, err)))
	}

	log.Debug().Str("tool", call.ToolName).Msg("Executing tool")

	runCtx := WithExecContext(ctx, ec)
	if ec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, ec.Timeout)
		defer cancel()
	}

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := spec.Handler(runCtx, call.Args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(start)
		output, truncated := truncateOutput(result, ec.MaxOutput)

		log.Debug().
			Str("tool", call.ToolName).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		res := OK(output)
		res.Debug = map[string]interface{}{"duration_ms": duration.Milliseconds()}
		if truncated {
			res.Debug["truncated"] = true
		}
		return finish(res)

	case err := <-errChan:
		duration := time.Since(start)

		log.Error().
			Str("tool", call.ToolName).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		res := Fail(Classify(err))
		res.Debug = map[string]interface{}{"duration_ms": duration.Milliseconds()}
		return finish(res)

	case <-runCtx.Done():
		duration := time.Since(start)

		log.Error().
			Str("tool", call.ToolName).
			Dur("duration", duration).
			Msg("Tool execution timed out")

		var failure *Error
		if runCtx.Err() == context.DeadlineExceeded {
			failure = Execf("tool %s timed out after %v", call.ToolName, ec.Timeout)
		} else {
			failure = Execf("tool %s cancelled: %v", call.ToolName, runCtx.Err())
		}
		res := Fail(failure)
		res.Debug = map[string]interface{}{"duration_ms": duration.Milliseconds()}
		return finish(res)
	}
}

// validateSpec checks a tool spec before registration
func validateSpec(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if spec.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	switch spec.Status {
	case "", StatusReady, StatusExperimental, StatusStub:
	default:
		return fmt.Errorf("invalid tool status %q", spec.Status)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for name, param := range spec.Parameters {
		if name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", name)
		}
	}

	for _, req := range spec.Required {
		if _, ok := spec.Parameters[req]; !ok {
			return fmt.Errorf("required parameter %s is not declared", req)
		}
	}

	return nil
}

// InputSchema returns the JSON schema for the tool's arguments, the
// same shape enforcement compiles at registration. Every tool silently
// accepts a boolean confirm argument, since any tool can be put behind
// the confirmation gate through the permissions file.
func (s *ToolSpec) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.Parameters)+1)
	for name, param := range s.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		properties[name] = paramSchema
	}
	if _, declared := properties["confirm"]; !declared {
		properties["confirm"] = map[string]interface{}{
			"type":        "boolean",
			"description": "Explicit approval for an operation behind the confirmation gate",
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(s.Required) > 0 {
		schemaMap["required"] = s.Required
	}

	return schemaMap
}

// compileSchema compiles a tool's argument schema for validation
func compileSchema(spec ToolSpec) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.InputSchema()))
}

// validateArgs validates arguments against a compiled schema
func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, resErr := range result.Errors() {
			msgs = append(msgs, resErr.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}

	return nil
}

// truncateOutput caps oversized string results, leaving structured
// results alone
func truncateOutput(output interface{}, maxSize int) (interface{}, bool) {
	if maxSize <= 0 {
		maxSize = DefaultMaxOutput
	}

	str, ok := output.(string)
	if !ok || len(str) <= maxSize {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("limit", maxSize).
		Msg("Tool output truncated")

	return str[:maxSize] + "\n... [output truncated]", true
}
