package mcp

import "encoding/json"

// ProtocolVersion is the MCP protocol revision this server implements.
const ProtocolVersion = "2025-03-26"

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"

	ResourcesListMethod          Method = "resources/list"
	ResourcesReadMethod          Method = "resources/read"
	ResourcesTemplatesListMethod Method = "resources/templates/list"

	PromptsListMethod Method = "prompts/list"
	PromptsGetMethod  Method = "prompts/get"
)

// NotificationPrefix is the method prefix shared by all notifications.
const NotificationPrefix = "notifications/"

// Role indicates the author of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities advertises server features. A capability key is
// present only when at least one entry of that kind is registered.
type ServerCapabilities struct {
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Resources *ListChangedCapability `json:"resources,omitempty"`
	Tools     *ListChangedCapability `json:"tools,omitempty"`
}

// ListChangedCapability is the common shape of the advertised capability
// objects.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// InitializeResult returns the protocol version, server identity and
// advertised capabilities.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool describes a callable tool. InputSchema and ReturnSchema are
// pre-built JSON schema documents supplied at registration time.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	ReturnSchema json.RawMessage `json:"returnSchema,omitempty"`
}

// ListToolsResult returns the registered tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolResult is the normalized envelope for a tool invocation. The
// handler's structured value is carried twice: JSON-stringified inside a
// single text content block and verbatim as structuredContent.
type CallToolResult struct {
	Content           []TextContent `json:"content"`
	StructuredContent any           `json:"structuredContent"`
	IsError           bool          `json:"isError"`
}

// TextContent is a text content block.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewCallToolResult builds the tool-result envelope from a handler's
// structured value.
func NewCallToolResult(content any, isError bool) (*CallToolResult, error) {
	text, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return &CallToolResult{
		Content:           []TextContent{{Type: "text", Text: string(text)}},
		StructuredContent: content,
		IsError:           isError,
	}, nil
}

// Resource describes a readable resource registered under an exact URI.
type Resource struct {
	Name        string          `json:"name"`
	URI         string          `json:"uri"`
	Description string          `json:"description,omitempty"`
	MimeType    string          `json:"mimeType,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListResourcesResult returns the registered resources.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ResourceTemplate describes a parameterized resource whose URI contains
// {name} placeholders matched per path segment.
type ResourceTemplate struct {
	URITemplate string          `json:"uriTemplate"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListResourceTemplatesResult returns the registered resource templates.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// ResourceContents is one content item returned from resources/read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ReadResourceResult wraps the contents returned by a resource handler.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// PromptArgument describes one argument accepted by a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Prompt describes a parameterized message template.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments"`
}

// ListPromptsResult returns the registered prompts.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// PromptMessage is one rendered message of a prompt result.
type PromptMessage struct {
	Role    Role        `json:"role"`
	Content TextContent `json:"content"`
}

// NewPromptMessage builds a text prompt message for the given role.
func NewPromptMessage(role Role, text string) PromptMessage {
	return PromptMessage{Role: role, Content: TextContent{Type: "text", Text: text}}
}

// PromptResult is the result of prompts/get.
type PromptResult struct {
	Description string          `json:"description"`
	Messages    []PromptMessage `json:"messages"`
}
