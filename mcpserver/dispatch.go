package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcpgate/mcpgate/internal/jsonrpc"
	"github.com/mcpgate/mcpgate/internal/logctx"
	"github.com/mcpgate/mcpgate/mcp"
)

// HandleLine dispatches exactly one JSON-RPC request. It returns the
// serialized reply, or nil when the request was a notification and no
// reply is owed. It never returns an error for malformed input; parse
// failures become error envelopes with ID 0.
func (s *Server) HandleLine(ctx context.Context, line []byte) []byte {
	if len(strings.TrimSpace(string(line))) == 0 {
		return marshalResponse(s.log, jsonrpc.NewErrorResponse(jsonrpc.Zero(), jsonrpc.ErrorCodeInvalidRequest, "Empty input body"))
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return marshalResponse(s.log, jsonrpc.NewErrorResponse(jsonrpc.Zero(), jsonrpc.ErrorCodeInvalidRequest, "Failed to parse request body"))
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})
	s.log.InfoContext(ctx, "rpc.dispatch")

	result, err := s.dispatch(ctx, &req)
	if err != nil {
		var domainErr *Error
		if errors.As(err, &domainErr) {
			s.log.InfoContext(ctx, "rpc.fail", slog.String("err", domainErr.Message))
			return marshalResponse(s.log, jsonrpc.NewErrorResponse(req.ID, domainErr.Code, domainErr.Message))
		}
		s.log.ErrorContext(ctx, "rpc.internal", slog.String("err", err.Error()))
		return marshalResponse(s.log, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal server error"))
	}

	if result == nil {
		return nil
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		s.log.ErrorContext(ctx, "rpc.result.marshal.fail", slog.String("err", err.Error()))
		return marshalResponse(s.log, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal server error"))
	}
	return marshalResponse(s.log, resp)
}

func marshalResponse(log *slog.Logger, resp *jsonrpc.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		log.Error("rpc.response.marshal.fail", slog.String("err", err.Error()))
		return []byte(`{"jsonrpc":"2.0","id":0,"error":{"code":500,"message":"Internal server error"}}`)
	}
	return b
}

// dispatch routes by method name. A nil result with a nil error means
// the method owes no reply (notifications).
func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return s.initializeResult(), nil
	case mcp.InitializedNotificationMethod:
		return nil, nil
	case mcp.PromptsListMethod:
		return s.listPrompts(), nil
	case mcp.PromptsGetMethod:
		return s.getPrompt(ctx, req.Params)
	case mcp.ResourcesListMethod:
		return s.listResources(), nil
	case mcp.ResourcesReadMethod:
		return s.readResource(ctx, req.Params)
	case mcp.ResourcesTemplatesListMethod:
		return s.listResourceTemplates(), nil
	case mcp.ToolsListMethod:
		return s.listTools(), nil
	case mcp.ToolsCallMethod:
		return s.callTool(ctx, req.Params)
	}

	// Unrecognized notifications are acknowledged silently; the server
	// does not act on them.
	if strings.HasPrefix(req.Method, mcp.NotificationPrefix) {
		return nil, nil
	}

	return nil, InvalidArgumentf("Invalid method")
}

func (s *Server) initializeResult() *mcp.InitializeResult {
	caps := mcp.ServerCapabilities{}
	if len(s.prompts) > 0 {
		caps.Prompts = &mcp.ListChangedCapability{ListChanged: true}
	}
	if len(s.resources) > 0 {
		caps.Resources = &mcp.ListChangedCapability{ListChanged: true}
	}
	if len(s.tools) > 0 {
		caps.Tools = &mcp.ListChangedCapability{ListChanged: true}
	}

	return &mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		ServerInfo:      mcp.ImplementationInfo{Name: s.name, Version: s.version},
		Capabilities:    caps,
		Instructions:    s.instructions,
	}
}

func (s *Server) listTools() *mcp.ListToolsResult {
	tools := make([]mcp.Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tools = append(tools, s.tools[name].descriptor)
	}
	return &mcp.ListToolsResult{Tools: tools}
}

type callToolParams struct {
	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var p callToolParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidArgumentf("Missing or invalid tool name")
		}
	}
	if p.Name == nil {
		return nil, InvalidArgumentf("Missing or invalid tool name")
	}
	if !isJSONObject(p.Arguments) {
		return nil, InvalidArgumentf("Tool call must include arguments object")
	}

	reg, ok := s.tools[*p.Name]
	if !ok {
		return nil, InvalidArgumentf("Unknown tool: %s", *p.Name)
	}

	res, err := reg.handler(ctx, p.Arguments)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &ToolResult{Content: map[string]any{}}
	}

	envelope, err := mcp.NewCallToolResult(res.Content, res.IsError)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return envelope, nil
}

func (s *Server) listPrompts() *mcp.ListPromptsResult {
	prompts := make([]mcp.Prompt, 0, len(s.promptOrder))
	for _, name := range s.promptOrder {
		prompts = append(prompts, s.prompts[name].descriptor)
	}
	return &mcp.ListPromptsResult{Prompts: prompts}
}

type getPromptParams struct {
	Name      *string        `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) getPrompt(ctx context.Context, params json.RawMessage) (any, error) {
	var p getPromptParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidArgumentf("Missing or invalid prompt name")
		}
	}
	if p.Name == nil {
		return nil, InvalidArgumentf("Missing or invalid prompt name")
	}

	reg, ok := s.prompts[*p.Name]
	if !ok {
		return nil, InvalidArgumentf("Unknown prompt: %s", *p.Name)
	}

	return reg.handler(ctx, p.Arguments)
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}
