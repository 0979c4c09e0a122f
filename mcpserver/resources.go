package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mcpgate/mcpgate/internal/jsonrpc"
	"github.com/mcpgate/mcpgate/mcp"
)

func (s *Server) listResources() *mcp.ListResourcesResult {
	resources := make([]mcp.Resource, 0, len(s.resourceOrder))
	for _, uri := range s.resourceOrder {
		resources = append(resources, s.resources[uri])
	}
	return &mcp.ListResourcesResult{Resources: resources}
}

func (s *Server) listResourceTemplates() *mcp.ListResourceTemplatesResult {
	templates := make([]mcp.ResourceTemplate, 0, len(s.templates))
	for _, reg := range s.templates {
		templates = append(templates, reg.descriptor)
	}
	return &mcp.ListResourceTemplatesResult{ResourceTemplates: templates}
}

type readResourceParams struct {
	URI       *string        `json:"uri"`
	Arguments map[string]any `json:"arguments"`
}

// readResource resolves the URI first against exact registrations, then
// against templates in registration order. Template placeholder captures
// are merged over the caller-supplied arguments.
func (s *Server) readResource(ctx context.Context, params json.RawMessage) (any, error) {
	var p readResourceParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidArgumentf("Missing or invalid resource uri")
		}
	}
	if p.URI == nil {
		return nil, InvalidArgumentf("Missing or invalid resource uri")
	}
	args := p.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if _, ok := s.resources[*p.URI]; ok {
		if s.resourceHandler == nil {
			return nil, NewError(jsonrpc.ErrorCodeInternalError, "No resource handler registered")
		}
		return s.invokeResourceHandler(ctx, s.resourceHandler, *p.URI, args)
	}

	for _, reg := range s.templates {
		captures, ok := reg.matcher.match(*p.URI)
		if !ok {
			continue
		}
		handler := reg.handler
		if handler == nil {
			handler = s.resourceHandler
		}
		if handler == nil {
			return nil, NewError(jsonrpc.ErrorCodeInternalError, "No resource handler registered")
		}
		for _, prop := range reg.properties {
			if v, ok := captures[prop.Name]; ok {
				args[prop.Name] = v
			}
		}
		return s.invokeResourceHandler(ctx, handler, *p.URI, args)
	}

	return nil, InvalidArgumentf("Unknown resource: %s", *p.URI)
}

func (s *Server) invokeResourceHandler(ctx context.Context, handler ResourceHandler, uri string, args map[string]any) (any, error) {
	contents, err := handler(ctx, &ResourceRequest{URI: uri, Arguments: args})
	if err != nil {
		return nil, err
	}
	result := make([]mcp.ResourceContents, 0, len(contents))
	for _, c := range contents {
		if c.URI == "" {
			c.URI = uri
		}
		result = append(result, c)
	}
	return &mcp.ReadResourceResult{Contents: result}, nil
}

var templatePlaceholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// templateMatcher matches URIs against a template whose {name}
// placeholders each capture one path segment (no "/" allowed).
type templateMatcher struct {
	re *regexp.Regexp
}

func newTemplateMatcher(template string) (*templateMatcher, error) {
	var pattern strings.Builder
	last := 0
	for _, loc := range templatePlaceholder.FindAllStringSubmatchIndex(template, -1) {
		pattern.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		pattern.WriteString(fmt.Sprintf(`(?P<%s>[^/]+)`, template[loc[2]:loc[3]]))
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(template[last:]))

	re, err := regexp.Compile("^" + pattern.String() + "$")
	if err != nil {
		return nil, fmt.Errorf("compile template %q: %w", template, err)
	}
	return &templateMatcher{re: re}, nil
}

func (m *templateMatcher) match(uri string) (map[string]string, bool) {
	groups := m.re.FindStringSubmatch(uri)
	if groups == nil {
		return nil, false
	}
	captures := make(map[string]string)
	for i, name := range m.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		captures[name] = groups[i]
	}
	return captures, true
}
