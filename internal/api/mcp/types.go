// Package mcp implements the Model Context Protocol (MCP) server for
// lorekeeper. It exposes JSON-RPC 2.0 tools for looking up, querying, and
// semantically searching tabletop reference entities.
package mcp

import (
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// LookupEntityArgs contains arguments for the lookup_entity tool.
type LookupEntityArgs struct {
	EntityType string `json:"entity_type"`    // Entity category, e.g. "spell" (required)
	Slug       string `json:"slug"`           // Entity slug (required)
	Mode       string `json:"mode,omitempty"` // Cache mode: normal, cache_first, offline_fallback
}

// LookupEntityResult contains the result of a lookup.
type LookupEntityResult struct {
	Found  bool          `json:"found"`
	Entity *types.Entity `json:"entity,omitempty"`
}

// QueryEntitiesArgs contains arguments for the query_entities tool.
type QueryEntitiesArgs struct {
	EntityType string                 `json:"entity_type"`       // Entity category (required)
	Filters    map[string]interface{} `json:"filters,omitempty"` // name plus indexed-field filters; __gte/__lte suffixes for ranges
	Limit      int                    `json:"limit,omitempty"`   // Max results (default 20, max 100)
	Mode       string                 `json:"mode,omitempty"`    // Cache mode
}

// QueryEntitiesResult contains the result of a structural query.
type QueryEntitiesResult struct {
	Entities []*types.Entity `json:"entities"`
	Total    int             `json:"total"`
}

// SemanticSearchArgs contains arguments for the semantic_search tool.
type SemanticSearchArgs struct {
	EntityType string                 `json:"entity_type"`       // Entity category (required)
	Query      string                 `json:"query"`             // Natural-language query text
	Filters    map[string]interface{} `json:"filters,omitempty"` // Structural pre-filters
	Limit      int                    `json:"limit,omitempty"`   // Max results (default 10, max 100)
}

// SemanticSearchResult contains ranked search hits. Hits carry a
// similarity_score only when semantic ranking actually ran.
type SemanticSearchResult struct {
	Results []types.ScoredEntity `json:"results"`
	Total   int                  `json:"total"`
}

// StoreEntitiesArgs contains arguments for the store_entities tool.
type StoreEntitiesArgs struct {
	EntityType string                   `json:"entity_type"`      // Entity category (required)
	Records    []map[string]interface{} `json:"records"`          // Raw records to ingest (required)
	Source     string                   `json:"source,omitempty"` // Source tag (default "archive")
}

// StoreEntitiesResult reports how many records were stored.
type StoreEntitiesResult struct {
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}

// GetStatsResult reports store contents.
type GetStatsResult struct {
	Counts        map[types.EntityType]int `json:"counts"`
	TotalEntities int                      `json:"total_entities"`
	SizeBytes     int64                    `json:"size_bytes"`
	SchemaVersion int                      `json:"schema_version"`
}

// RefreshEntitiesArgs contains arguments for the refresh_entities tool.
type RefreshEntitiesArgs struct {
	EntityType string                 `json:"entity_type"`       // Entity category (required)
	Filters    map[string]interface{} `json:"filters,omitempty"` // Scope of the refresh
}

// RefreshEntitiesResult reports the synchronous refresh outcome.
type RefreshEntitiesResult struct {
	Refreshed int `json:"refreshed"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
