package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// dnd5ePaths maps entity types to D&D 5e API endpoints.
var dnd5ePaths = map[types.EntityType]string{
	types.EntityTypeSpell:      "spells",
	types.EntityTypeCreature:   "monsters",
	types.EntityTypeClass:      "classes",
	types.EntityTypeRace:       "races",
	types.EntityTypeBackground: "backgrounds",
	types.EntityTypeFeat:       "feats",
	types.EntityTypeCondition:  "conditions",
	types.EntityTypeRule:       "rule-sections",
}

// dnd5eDetailConcurrency bounds parallel detail fetches per list request.
const dnd5eDetailConcurrency = 5

// dnd5eMaxDetails caps how many list entries are expanded into full
// records on an unfiltered fetch.
const dnd5eMaxDetails = 100

// Dnd5eAPIClient fetches records from the D&D 5e API. The API only serves
// summaries on list endpoints, so each matching entry costs one extra
// detail request; those run through a bounded worker group.
type Dnd5eAPIClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Dnd5eAPIConfig holds D&D 5e API client configuration.
type Dnd5eAPIConfig struct {
	// BaseURL is the API root (default: https://www.dnd5eapi.co)
	BaseURL string

	// Timeout is the per-request timeout (default: 10s)
	Timeout time.Duration

	// RequestsPerSecond caps outbound request rate (default: 10)
	RequestsPerSecond float64
}

// NewDnd5eAPIClient creates a D&D 5e API client, applying defaults for
// unset configuration values.
func NewDnd5eAPIClient(config Dnd5eAPIConfig) *Dnd5eAPIClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://www.dnd5eapi.co"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 10
	}

	return &Dnd5eAPIClient{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 2),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "dnd5eapi",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Source identifies this fetcher as the D&D 5e API.
func (c *Dnd5eAPIClient) Source() types.SourceAPI { return types.SourceDnd5eAPI }

// Supports reports whether the D&D 5e API serves the given entity type.
func (c *Dnd5eAPIClient) Supports(entityType types.EntityType) bool {
	_, ok := dnd5ePaths[entityType]
	return ok
}

// dnd5eList is the list endpoint envelope.
type dnd5eList struct {
	Count   int `json:"count"`
	Results []struct {
		Index string `json:"index"`
		Name  string `json:"name"`
		URL   string `json:"url"`
	} `json:"results"`
}

// Fetch retrieves full records for the entity type. A slug or exact name
// filter resolves to a single detail fetch; otherwise the list endpoint
// is expanded entry by entry up to dnd5eMaxDetails.
func (c *Dnd5eAPIClient) Fetch(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) ([]map[string]interface{}, error) {
	path, ok := dnd5ePaths[entityType]
	if !ok {
		return nil, &APIError{Source: c.Source(), Message: fmt.Sprintf("unsupported entity type %q", entityType)}
	}

	if index := detailIndex(filters); index != "" {
		record, err := c.fetchDetail(ctx, path, index)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return nil, nil
			}
			return nil, err
		}
		return []map[string]interface{}{record}, nil
	}

	list, err := c.fetchList(ctx, path)
	if err != nil {
		return nil, err
	}

	indexes := make([]string, 0, len(list.Results))
	for _, entry := range list.Results {
		indexes = append(indexes, entry.Index)
		if len(indexes) == dnd5eMaxDetails {
			break
		}
	}

	records := make([]map[string]interface{}, len(indexes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dnd5eDetailConcurrency)
	for i, index := range indexes {
		g.Go(func() error {
			record, err := c.fetchDetail(gctx, path, index)
			if err != nil {
				return err
			}
			mu.Lock()
			records[i] = record
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return records, nil
}

// detailIndex extracts a single-record identifier from the filters, if the
// filters resolve to one.
func detailIndex(filters map[string]interface{}) string {
	if slug, ok := filters["slug"].(string); ok && slug != "" {
		return strings.ToLower(slug)
	}
	if name, ok := filters["name"].(string); ok && name != "" && !strings.Contains(name, "*") {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
	}
	return ""
}

func (c *Dnd5eAPIClient) fetchList(ctx context.Context, path string) (*dnd5eList, error) {
	var list dnd5eList
	if err := c.getJSON(ctx, "/api/2014/"+path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Dnd5eAPIClient) fetchDetail(ctx context.Context, path, index string) (map[string]interface{}, error) {
	var record map[string]interface{}
	if err := c.getJSON(ctx, "/api/2014/"+path+"/"+index, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func (c *Dnd5eAPIClient) getJSON(ctx context.Context, path string, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doGetJSON(ctx, path, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return classifyTransportError(c.Source(), "GET "+path, err)
	}
	return err
}

func (c *Dnd5eAPIClient) doGetJSON(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransportError(c.Source(), "rate limit wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &APIError{Source: c.Source(), Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(c.Source(), "GET "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Source: c.Source(), StatusCode: resp.StatusCode, Message: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Source: c.Source(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}
