package magentosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shipstream/magento-sync/utils"
)

// FulfillmentClient talks to the fulfillment platform's JSON API with an
// API key. Calls are rate limited and wrapped in a circuit breaker so a
// failing upstream does not stall every worker.
type FulfillmentClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
	breaker   *gobreaker.CircuitBreaker
}

// NewFulfillmentClient builds a client from FULFILLMENT_* env configuration.
func NewFulfillmentClient() (*FulfillmentClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("FULFILLMENT_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("fulfillment api base url is empty")
	}
	apiKey := strings.TrimSpace(os.Getenv("FULFILLMENT_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("fulfillment api key is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("FULFILLMENT_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	rateLimitPerMin := utils.EnvInt("FULFILLMENT_RATE_LIMIT_PER_MIN", 60)
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 60
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fulfillment-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &FulfillmentClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
		breaker:   breaker,
	}, nil
}

type fulfillmentRequest struct {
	Method string `json:"method"`
	Args   any    `json:"args,omitempty"`
}

type fulfillmentResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call posts one API method invocation and returns its raw result.
func (c *FulfillmentClient) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	<-c.limiter

	result, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, method, args)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("fulfillment api unavailable: %w", err)
		}
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *FulfillmentClient) post(ctx context.Context, method string, args any) (json.RawMessage, error) {
	body, err := json.Marshal(fulfillmentRequest{Method: method, Args: args})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jsonrpc", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fulfillment api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed fulfillmentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	return parsed.Result, nil
}
