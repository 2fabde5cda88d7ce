package protocol

import (
	"encoding/json"
)

// Tool represents a tool in the MCP protocol
type Tool struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Meta        Meta            `json:"_meta,omitempty"`
}

// ListToolsResult defines the response for listing tools
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams defines parameters for calling a tool
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      Meta            `json:"_meta,omitempty"`
}

// ContentTypeText is the only content type the server emits
const ContentTypeText = "text"

// Content is a single item of tool output
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent creates a text content item
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// CallToolResult defines the response for tool calls
type CallToolResult struct {
	Content           []Content `json:"content"`
	StructuredContent *Document `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
	Meta              Meta      `json:"_meta,omitempty"`
}

// ToolErrorResult wraps a failure message in the isError result shape
func ToolErrorResult(message string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{TextContent(message)},
		IsError: true,
	}
}
