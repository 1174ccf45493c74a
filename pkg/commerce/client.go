package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultMaxFailures    = 5
	defaultOpenTimeout    = 30 * time.Second
	maxResponseBytes      = 1 << 20
)

// Client issues orderCreate mutations behind a circuit breaker. Backend
// rejections count as successful calls so they never trip the breaker.
type Client struct {
	http     *http.Client
	endpoint string
	token    string
	breaker  *gobreaker.CircuitBreaker[*Order]
	logg     *logger.Logger
}

// NewClient builds a commerce client. httpClient may be nil.
func NewClient(cfg config.CommerceConfig, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	endpoint, err := graphQLEndpoint(cfg.APIURL)
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AppToken)
	if token == "" {
		return nil, errors.New("commerce app token is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.RequestTimeout)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}

	c := &Client{
		http:     httpClient,
		endpoint: endpoint,
		token:    token,
		logg:     logg,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Order](gobreaker.Settings{
		Name:        "commerce",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			_, rejected := AsRejection(err)
			return err == nil || rejected
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logg.Warn(c.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}), "commerce circuit breaker state changed")
		},
	})
	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func graphQLEndpoint(raw string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return "", errors.New("commerce api url is required")
	}
	if strings.HasSuffix(base, "/graphql") {
		return base + "/", nil
	}
	return base + "/graphql/", nil
}

// BreakerState exposes the breaker for readiness reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// CreateOrder issues exactly one orderCreate request. It never retries.
func (c *Client) CreateOrder(ctx context.Context, input OrderInput) (*Order, error) {
	order, err := c.breaker.Execute(func() (*Order, error) {
		return c.createOrder(ctx, input)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &TransportError{Err: err, Sent: false}
	}
	return order, err
}

func (c *Client) createOrder(ctx context.Context, input OrderInput) (*Order, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     orderCreateMutation,
		Variables: map[string]any{"input": input},
	})
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("encode order request: %w", err)}
	}

	var sent atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				sent.Store(true)
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("build order request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err, Sent: sent.Load()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read order response: %w", err), Sent: true}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{Err: fmt.Errorf("commerce backend throttled request (%d)", resp.StatusCode), Sent: false}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The backend refused our credentials before looking at the order, so
		// the capture stays claimable once the token is fixed.
		return nil, &TransportError{Err: fmt.Errorf("commerce backend refused app token (%d)", resp.StatusCode), Sent: false}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &TransportError{Err: fmt.Errorf("commerce backend status %d", resp.StatusCode), Sent: true}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &RejectionError{
			Reason: fmt.Sprintf("commerce backend status %d: %s", resp.StatusCode, snippet(raw)),
			Code:   fmt.Sprintf("HTTP_%d", resp.StatusCode),
		}
	}

	return decodeOrderResponse(raw)
}

func decodeOrderResponse(raw []byte) (*Order, error) {
	var payload orderCreateResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode order response: %w", err), Sent: true}
	}
	if len(payload.Errors) > 0 {
		return nil, &RejectionError{Reason: payload.Errors[0].Message, Code: "GRAPHQL_ERROR"}
	}
	if payload.Data == nil || payload.Data.OrderCreate == nil {
		return nil, &TransportError{Err: errors.New("order response missing orderCreate"), Sent: true}
	}
	result := payload.Data.OrderCreate
	if len(result.Errors) > 0 {
		first := result.Errors[0]
		rej := &RejectionError{Reason: first.Message, Code: first.Code}
		if first.Field != nil {
			rej.Field = *first.Field
		}
		return nil, rej
	}
	if result.Order == nil || strings.TrimSpace(result.Order.ID) == "" {
		return nil, &RejectionError{Reason: "backend returned no order", Code: "NO_ORDER"}
	}
	return result.Order, nil
}

func snippet(raw []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
