package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/cache"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/search"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

const (
	defaultQueryLimit  = 20
	defaultSearchLimit = 10
	maxLimit           = 100
)

// Server implements the MCP protocol over the cache-aside orchestrator.
type Server struct {
	orchestrator *cache.Orchestrator
	searcher     *search.Searcher
	defaultMode  cache.Mode
	log          *zap.Logger
	sessionID    string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSearcher injects the hybrid search layer. Without it,
// semantic_search serves structural results only.
func WithSearcher(s *search.Searcher) ServerOption {
	return func(srv *Server) { srv.searcher = s }
}

// WithDefaultMode sets the cache mode used when a tool call does not name
// one.
func WithDefaultMode(mode cache.Mode) ServerOption {
	return func(srv *Server) { srv.defaultMode = mode }
}

// WithLogger injects the server logger.
func WithLogger(log *zap.Logger) ServerOption {
	return func(srv *Server) { srv.log = log }
}

// NewServer creates an MCP server over the orchestrator.
func NewServer(orchestrator *cache.Orchestrator, opts ...ServerOption) *Server {
	s := &Server{
		orchestrator: orchestrator,
		defaultMode:  cache.ModeNormal,
		log:          zap.NewNop(),
		sessionID:    uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Info("MCP session started", zap.String("session_id", s.sessionID))
	return s
}

// HandleRequest processes a single JSON-RPC 2.0 request and returns the
// response frame.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result = MCPToolsListResult{Tools: s.buildToolsList()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		code := ErrCodeServerError
		if errors.Is(err, storage.ErrValidation) {
			code = ErrCodeInvalidParams
		}
		return s.errorResponse(req.ID, code, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

func (s *Server) handleInitialize(_ context.Context, _ interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "lorekeeper",
			Version: "1.0.0",
		},
	}, nil
}

// handleToolsCall dispatches a tools/call request and wraps the outcome in
// the MCP content envelope. Tool-level failures are reported as isError
// content, not protocol errors.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "lookup_entity":
		result, handlerErr = s.lookupEntity(ctx, p.Arguments)
	case "query_entities":
		result, handlerErr = s.queryEntities(ctx, p.Arguments)
	case "semantic_search":
		result, handlerErr = s.semanticSearch(ctx, p.Arguments)
	case "store_entities":
		result, handlerErr = s.storeEntities(ctx, p.Arguments)
	case "get_stats":
		result, handlerErr = s.getStats(ctx)
	case "refresh_entities":
		result, handlerErr = s.refreshEntities(ctx, p.Arguments)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func (s *Server) lookupEntity(ctx context.Context, arguments map[string]interface{}) (interface{}, error) {
	var args LookupEntityArgs
	if err := unmarshalArguments(arguments, &args); err != nil {
		return nil, err
	}
	if args.EntityType == "" || args.Slug == "" {
		return nil, fmt.Errorf("%w: entity_type and slug are required", storage.ErrValidation)
	}

	mode, err := s.resolveMode(args.Mode)
	if err != nil {
		return nil, err
	}

	entity, err := s.orchestrator.GetEntity(ctx, types.EntityType(args.EntityType), args.Slug, mode)
	if err != nil {
		return nil, err
	}
	return &LookupEntityResult{Found: entity != nil, Entity: entity}, nil
}

func (s *Server) queryEntities(ctx context.Context, arguments map[string]interface{}) (interface{}, error) {
	var args QueryEntitiesArgs
	if err := unmarshalArguments(arguments, &args); err != nil {
		return nil, err
	}
	if args.EntityType == "" {
		return nil, fmt.Errorf("%w: entity_type is required", storage.ErrValidation)
	}

	mode, err := s.resolveMode(args.Mode)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(args.Limit, defaultQueryLimit)
	entities, err := s.orchestrator.QueryEntities(ctx, types.EntityType(args.EntityType), args.Filters, limit, mode)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []*types.Entity{}
	}
	return &QueryEntitiesResult{Entities: entities, Total: len(entities)}, nil
}

func (s *Server) semanticSearch(ctx context.Context, arguments map[string]interface{}) (interface{}, error) {
	var args SemanticSearchArgs
	if err := unmarshalArguments(arguments, &args); err != nil {
		return nil, err
	}
	if args.EntityType == "" {
		return nil, fmt.Errorf("%w: entity_type is required", storage.ErrValidation)
	}
	if s.searcher == nil {
		return nil, fmt.Errorf("semantic search is not enabled on this server")
	}

	limit := clampLimit(args.Limit, defaultSearchLimit)
	results, err := s.searcher.Search(ctx, types.EntityType(args.EntityType), args.Query, args.Filters, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []types.ScoredEntity{}
	}
	return &SemanticSearchResult{Results: results, Total: len(results)}, nil
}

func (s *Server) storeEntities(ctx context.Context, arguments map[string]interface{}) (interface{}, error) {
	var args StoreEntitiesArgs
	if err := unmarshalArguments(arguments, &args); err != nil {
		return nil, err
	}
	if args.EntityType == "" || len(args.Records) == 0 {
		return nil, fmt.Errorf("%w: entity_type and records are required", storage.ErrValidation)
	}

	sourceAPI := types.SourceAPI(args.Source)
	if sourceAPI == "" {
		sourceAPI = types.SourceArchive
	}

	n, err := s.orchestrator.StoreEntities(ctx, types.EntityType(args.EntityType), args.Records, sourceAPI)
	if err != nil {
		return nil, err
	}
	return &StoreEntitiesResult{Stored: n, Skipped: len(args.Records) - n}, nil
}

func (s *Server) getStats(ctx context.Context) (interface{}, error) {
	stats, err := s.orchestrator.Stats(ctx)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range stats.Counts {
		total += n
	}
	return &GetStatsResult{
		Counts:        stats.Counts,
		TotalEntities: total,
		SizeBytes:     stats.TotalSizeBytes,
		SchemaVersion: stats.SchemaVersion,
	}, nil
}

func (s *Server) refreshEntities(ctx context.Context, arguments map[string]interface{}) (interface{}, error) {
	var args RefreshEntitiesArgs
	if err := unmarshalArguments(arguments, &args); err != nil {
		return nil, err
	}
	if args.EntityType == "" {
		return nil, fmt.Errorf("%w: entity_type is required", storage.ErrValidation)
	}

	n, err := s.orchestrator.Refresh(ctx, types.EntityType(args.EntityType), args.Filters)
	if err != nil {
		return nil, err
	}
	return &RefreshEntitiesResult{Refreshed: n}, nil
}

func (s *Server) resolveMode(requested string) (cache.Mode, error) {
	if requested == "" {
		return s.defaultMode, nil
	}
	return cache.ParseMode(requested)
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// unmarshalParams converts the loosely typed params produced by the
// JSON-RPC decode into a concrete struct.
func unmarshalParams(params interface{}, out interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: marshal params: %v", storage.ErrValidation, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid params: %v", storage.ErrValidation, err)
	}
	return nil
}

// unmarshalArguments converts tools/call arguments into a typed args
// struct.
func unmarshalArguments(arguments map[string]interface{}, out interface{}) error {
	return unmarshalParams(arguments, out)
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data error) ([]byte, error) {
	rpcErr := &JSONRPCError{Code: code, Message: message}
	if data != nil {
		rpcErr.Data = data.Error()
	}
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Error: rpcErr, ID: id})
}

// entityTypeEnum lists valid entity types for tool schemas.
func entityTypeEnum() []string {
	names := make([]string, 0, len(types.ValidEntityTypes))
	for _, t := range types.ValidEntityTypes {
		names = append(names, string(t))
	}
	return names
}

// buildToolsList returns the canonical tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	entityTypeSchema := map[string]interface{}{
		"type":        "string",
		"enum":        entityTypeEnum(),
		"description": "Entity category",
	}
	modeSchema := map[string]interface{}{
		"type":        "string",
		"enum":        []string{"normal", "cache_first", "offline_fallback"},
		"description": "Cache strategy. normal: cache then fetch on miss. cache_first: answer from cache immediately, refresh in the background. offline_fallback: race fetch against cache, degrade to cache when the network is down.",
	}
	filtersSchema := map[string]interface{}{
		"type":        "object",
		"description": "Filters over name and indexed fields. name supports * wildcards at the start and/or end only (fire*, *bolt, *fire*); interior wildcards are rejected. Numeric fields accept __gte/__lte suffixes, e.g. level__gte.",
	}

	return []MCPTool{
		{
			Name:        "lookup_entity",
			Description: "Look up a single entity by slug. Falls back to the remote reference APIs on a cache miss (mode-dependent).",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity_type", "slug"},
				"properties": map[string]interface{}{
					"entity_type": entityTypeSchema,
					"slug":        map[string]interface{}{"type": "string", "description": "Entity slug, e.g. fireball"},
					"mode":        modeSchema,
				},
			},
		},
		{
			Name:        "query_entities",
			Description: "Query entities by name and indexed-field filters. An exact name with no match is retried as a slug automatically.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity_type"},
				"properties": map[string]interface{}{
					"entity_type": entityTypeSchema,
					"filters":     filtersSchema,
					"limit":       map[string]interface{}{"type": "integer", "description": "Max results (default 20, max 100)"},
					"mode":        modeSchema,
				},
			},
		},
		{
			Name:        "semantic_search",
			Description: "Rank entities by semantic relevance to a natural-language query, within structural filters. Degrades to structural filtering when embeddings are unavailable.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity_type", "query"},
				"properties": map[string]interface{}{
					"entity_type": entityTypeSchema,
					"query":       map[string]interface{}{"type": "string", "description": "Natural-language query text"},
					"filters":     filtersSchema,
					"limit":       map[string]interface{}{"type": "integer", "description": "Max results (default 10, max 100)"},
				},
			},
		},
		{
			Name:        "store_entities",
			Description: "Ingest raw records directly into the store, bypassing the remote APIs. Used for homebrew and offline content.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity_type", "records"},
				"properties": map[string]interface{}{
					"entity_type": entityTypeSchema,
					"records":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "object"}, "description": "Raw records; each needs a slug or a name"},
					"source":      map[string]interface{}{"type": "string", "description": "Source tag (default archive)"},
				},
			},
		},
		{
			Name:        "get_stats",
			Description: "Report per-type entity counts, database size, and schema version.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "refresh_entities",
			Description: "Force a synchronous re-fetch and re-ingest from the remote reference APIs for one entity type.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity_type"},
				"properties": map[string]interface{}{
					"entity_type": entityTypeSchema,
					"filters":     filtersSchema,
				},
			},
		},
	}
}
