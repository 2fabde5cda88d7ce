// Package protocol defines the wire types spoken by the widget server.
//
// The server speaks MCP over JSON-RPC 2.0 with one JSON response per POSTed
// message. This package contains the Go type definitions for that surface:
//
//   - jsonrpc.go: request, response and error frames, plus DecodeRequest
//   - mcp.go: method names and the initialize handshake
//   - tools.go: tool descriptors, call parameters and results
//   - resources.go: resource descriptors and contents
//   - document.go: the insertion-ordered Document used for structured content
//
// # Message Flow
//
//  1. Client sends an initialize request
//  2. Server responds with capabilities and server info
//  3. Client sends notifications/initialized
//  4. Client lists and calls tools, lists and reads resources
//
// Requests and notifications share the Request type; a message without an id
// member is a notification and never receives a response.
//
// # Error Handling
//
// Error responses carry an Error with a standard JSON-RPC code or one of the
// MCP codes defined here (ResourceNotFound, OperationCancelled). Batch arrays
// are rejected with InvalidRequest.
package protocol
