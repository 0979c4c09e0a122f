package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcpgate/mcpgate/mcp"
)

// ToolResult carries a handler's structured output plus the error flag
// that is surfaced in the tool-result envelope.
type ToolResult struct {
	Content any
	IsError bool
}

// ToolHandler handles one tool invocation. args is the raw "arguments"
// object from the request. Returning an error aborts the call; a *Error
// is surfaced verbatim, anything else becomes a generic internal error.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*ToolResult, error)

// ResourceRequest is passed to resource handlers. For template matches,
// Arguments contains the captured placeholder values merged over any
// caller-supplied arguments.
type ResourceRequest struct {
	URI       string
	Arguments map[string]any
}

// ResourceHandler resolves a resource read to its contents. Returned
// contents with an empty URI inherit the requested URI.
type ResourceHandler func(ctx context.Context, req *ResourceRequest) ([]mcp.ResourceContents, error)

// PromptHandler renders a prompt with the caller-supplied arguments.
type PromptHandler func(ctx context.Context, args map[string]any) (*mcp.PromptResult, error)

// TemplateProperty describes one placeholder of a resource template.
type TemplateProperty struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

type toolRegistration struct {
	descriptor mcp.Tool
	// isDangerous is registration metadata only; it is not surfaced in
	// listings.
	isDangerous bool
	handler     ToolHandler
}

type promptRegistration struct {
	descriptor mcp.Prompt
	handler    PromptHandler
}

type templateRegistration struct {
	descriptor mcp.ResourceTemplate
	properties []TemplateProperty
	matcher    *templateMatcher
	handler    ResourceHandler
}

// Server holds the capability registries and dispatches JSON-RPC
// requests against them. Registration is expected to happen before
// serving begins; dispatch itself is read-only and safe for concurrent
// use after that point.
type Server struct {
	name         string
	version      string
	instructions string
	log          *slog.Logger

	tools     map[string]*toolRegistration
	toolOrder []string

	prompts     map[string]*promptRegistration
	promptOrder []string

	resources     map[string]mcp.Resource
	resourceOrder []string

	templates []*templateRegistration

	resourceHandler ResourceHandler
}

// Option customizes a Server.
type Option func(*Server)

// WithVersion sets the server version reported in initialize.
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// WithInstructions sets optional instructions surfaced in initialize.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithLogger overrides the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a Server with the given name and applies options.
func New(name string, opts ...Option) *Server {
	s := &Server{
		name:      name,
		version:   "1.0.0",
		log:       slog.New(discardHandler{}),
		tools:     make(map[string]*toolRegistration),
		prompts:   make(map[string]*promptRegistration),
		resources: make(map[string]mcp.Resource),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterTool registers a callable tool. inputSchema must be a
// pre-built JSON schema document; returnSchema may be nil.
func (s *Server) RegisterTool(name, description string, inputSchema json.RawMessage, isDangerous bool, handler ToolHandler, returnSchema json.RawMessage) {
	if _, exists := s.tools[name]; !exists {
		s.toolOrder = append(s.toolOrder, name)
	}
	s.tools[name] = &toolRegistration{
		descriptor: mcp.Tool{
			Name:         name,
			Description:  description,
			InputSchema:  inputSchema,
			ReturnSchema: returnSchema,
		},
		isDangerous: isDangerous,
		handler:     handler,
	}
}

// RegisterPrompt registers a parameterized message template.
func (s *Server) RegisterPrompt(name, description string, arguments []mcp.PromptArgument, handler PromptHandler) {
	if _, exists := s.prompts[name]; !exists {
		s.promptOrder = append(s.promptOrder, name)
	}
	if arguments == nil {
		arguments = []mcp.PromptArgument{}
	}
	s.prompts[name] = &promptRegistration{
		descriptor: mcp.Prompt{Name: name, Description: description, Arguments: arguments},
		handler:    handler,
	}
}

// RegisterResource registers a resource under an exact URI. properties
// and required describe the optional input schema advertised in
// listings; the schema is included only when either is non-empty.
func (s *Server) RegisterResource(uri, name, description, mimeType string, properties map[string]any, required []string) {
	var schema json.RawMessage
	if len(properties) > 0 || len(required) > 0 {
		doc := map[string]any{"type": "object", "properties": properties}
		if properties == nil {
			doc["properties"] = map[string]any{}
		}
		if len(required) > 0 {
			doc["required"] = dedupe(required)
		}
		schema, _ = json.Marshal(doc)
	}
	if _, exists := s.resources[uri]; !exists {
		s.resourceOrder = append(s.resourceOrder, uri)
	}
	s.resources[uri] = mcp.Resource{
		URI:         uri,
		Name:        name,
		Description: description,
		MimeType:    mimeType,
		InputSchema: schema,
	}
}

// RegisterResourceHandler sets the handler used for exact-URI resource
// reads and as the fallback for template matches registered without
// their own handler.
func (s *Server) RegisterResourceHandler(handler ResourceHandler) {
	s.resourceHandler = handler
}

// RegisterResourceTemplate registers a URI template such as
// "note://{id}". Placeholders match one path segment each. handler may
// be nil, in which case the global resource handler is used.
func (s *Server) RegisterResourceTemplate(uriTemplate, description string, properties []TemplateProperty, handler ResourceHandler) {
	matcher, err := newTemplateMatcher(uriTemplate)
	if err != nil {
		s.log.Warn("resource.template.invalid", slog.String("template", uriTemplate), slog.String("err", err.Error()))
		return
	}
	s.templates = append(s.templates, &templateRegistration{
		descriptor: mcp.ResourceTemplate{
			URITemplate: uriTemplate,
			Description: description,
			InputSchema: templateInputSchema(properties),
		},
		properties: properties,
		matcher:    matcher,
		handler:    handler,
	})
}

func templateInputSchema(properties []TemplateProperty) json.RawMessage {
	props := make(map[string]any, len(properties))
	required := make([]string, 0, len(properties))
	for _, p := range properties {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		entry := map[string]any{"type": typ}
		if p.Description != "" {
			entry["description"] = p.Description
		}
		props[p.Name] = entry
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{"type": "object", "properties": props, "required": required}
	schema, _ := json.Marshal(doc)
	return schema
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// discardHandler drops all records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
