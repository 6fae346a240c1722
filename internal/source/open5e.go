package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// open5ePaths maps entity types to Open5e API list endpoints.
var open5ePaths = map[types.EntityType]string{
	types.EntityTypeSpell:      "spells",
	types.EntityTypeCreature:   "monsters",
	types.EntityTypeWeapon:     "weapons",
	types.EntityTypeArmor:      "armor",
	types.EntityTypeClass:      "classes",
	types.EntityTypeRace:       "races",
	types.EntityTypeBackground: "backgrounds",
	types.EntityTypeFeat:       "feats",
	types.EntityTypeCondition:  "conditions",
	types.EntityTypeRule:       "sections",
}

// open5eMaxPages bounds pagination so a broad filter cannot walk the
// entire upstream dataset in one request.
const open5eMaxPages = 10

// Open5eClient fetches records from the Open5e API. Requests are rate
// limited and wrapped in a circuit breaker so a flapping upstream fails
// fast instead of burning the caller's timeout on every call.
type Open5eClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Open5eConfig holds Open5e client configuration.
type Open5eConfig struct {
	// BaseURL is the API root (default: https://api.open5e.com)
	BaseURL string

	// Timeout is the per-request timeout (default: 10s)
	Timeout time.Duration

	// RequestsPerSecond caps outbound request rate (default: 5)
	RequestsPerSecond float64
}

// NewOpen5eClient creates an Open5e client, applying defaults for unset
// configuration values.
func NewOpen5eClient(config Open5eConfig) *Open5eClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.open5e.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 5
	}

	return &Open5eClient{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "open5e",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Source identifies this fetcher as the Open5e API.
func (c *Open5eClient) Source() types.SourceAPI { return types.SourceOpen5e }

// Supports reports whether Open5e serves the given entity type.
func (c *Open5eClient) Supports(entityType types.EntityType) bool {
	_, ok := open5ePaths[entityType]
	return ok
}

// open5ePage is the paginated list envelope returned by every endpoint.
type open5ePage struct {
	Count   int                      `json:"count"`
	Next    *string                  `json:"next"`
	Results []map[string]interface{} `json:"results"`
}

// Fetch retrieves records for the entity type, following pagination up to
// open5eMaxPages. Name and slug filters are pushed upstream; everything
// else is applied after ingestion.
func (c *Open5eClient) Fetch(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) ([]map[string]interface{}, error) {
	path, ok := open5ePaths[entityType]
	if !ok {
		return nil, &APIError{Source: c.Source(), Message: fmt.Sprintf("unsupported entity type %q", entityType)}
	}

	params := url.Values{}
	if name, ok := filters["name"].(string); ok && name != "" {
		params.Set("search", name)
	}
	if slug, ok := filters["slug"].(string); ok && slug != "" {
		params.Set("slug", slug)
	}

	next := c.baseURL + "/" + path + "/"
	if len(params) > 0 {
		next += "?" + params.Encode()
	}

	var records []map[string]interface{}
	for page := 0; next != "" && page < open5eMaxPages; page++ {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetchPage(ctx, next)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, classifyTransportError(c.Source(), "fetch "+path, err)
			}
			return nil, err
		}

		pageData := result.(*open5ePage)
		records = append(records, pageData.Results...)
		if pageData.Next == nil {
			break
		}
		next = *pageData.Next
	}

	return records, nil
}

func (c *Open5eClient) fetchPage(ctx context.Context, pageURL string) (*open5ePage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(c.Source(), "rate limit wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &APIError{Source: c.Source(), Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(c.Source(), "GET "+pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Source: c.Source(), StatusCode: resp.StatusCode, Message: string(body)}
	}

	var page open5ePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &APIError{Source: c.Source(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return &page, nil
}
