package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lyzr/flowcore/common/node"
)

// invokeTimeout bounds one proxied node execution.
const invokeTimeout = 120 * time.Second

// maxInvokeResponse caps how much of a plugin response is read.
const maxInvokeResponse = 10 << 20

// wireResult is the payload a plugin's /execute endpoint returns.
type wireResult struct {
	Kind     string                 `json:"kind"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Branches []string               `json:"branches_to_follow,omitempty"`
	Error    *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Invoker proxies node executions to plugin endpoints. Each endpoint gets its
// own circuit breaker so one misbehaving plugin cannot consume every request
// slot with timeouts.
type Invoker struct {
	client *http.Client
	log    Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewInvoker creates an invoker; a nil client gets a default with the invoke
// timeout.
func NewInvoker(client *http.Client, log Logger) *Invoker {
	if client == nil {
		client = &http.Client{Timeout: invokeTimeout}
	}
	return &Invoker{
		client:   client,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breaker returns the endpoint's circuit breaker, creating it on first use.
func (iv *Invoker) breaker(endpoint string) *gobreaker.CircuitBreaker {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if cb, ok := iv.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    endpoint,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			iv.log.Warn("plugin breaker state change", "endpoint", name, "from", from.String(), "to", to.String())
		},
	})
	iv.breakers[endpoint] = cb
	return cb
}

// Invoke posts the execution context to <endpoint>/execute and decodes the
// plugin's result. Breaker-open and transport failures classify as
// DependencyError.
func (iv *Invoker) Invoke(ctx context.Context, endpoint string, nc *node.Context) *node.Result {
	payload, err := json.Marshal(nc)
	if err != nil {
		return node.Fail(node.KindInternal, "failed to encode execution context: %v", err)
	}

	raw, err := iv.breaker(endpoint).Execute(func() (interface{}, error) {
		return iv.post(ctx, endpoint+"/execute", payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return node.Fail(node.KindDependency, "plugin %s is unavailable (circuit open)", endpoint)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return node.Fail(node.KindTimeout, "plugin %s timed out", endpoint)
		}
		return node.Fail(node.KindDependency, "plugin %s call failed: %v", endpoint, err)
	}

	return decodeWireResult(raw.([]byte))
}

func (iv *Invoker) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := iv.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInvokeResponse))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("plugin returned status %d", resp.StatusCode)
	}
	return body, nil
}

// decodeWireResult maps the plugin's wire payload onto a result envelope.
func decodeWireResult(body []byte) *node.Result {
	var wire wireResult
	if err := json.Unmarshal(body, &wire); err != nil {
		return node.Fail(node.KindDependency, "plugin returned malformed result: %v", err)
	}
	switch wire.Kind {
	case "success", "":
		res := node.Succeed(wire.Output)
		res.Branches = wire.Branches
		return res
	case "failure":
		kind := node.KindDependency
		message := "plugin execution failed"
		if wire.Error != nil {
			if wire.Error.Kind != "" {
				kind = node.Kind(wire.Error.Kind)
			}
			if wire.Error.Message != "" {
				message = wire.Error.Message
			}
		}
		return node.Fail(kind, "%s", message)
	default:
		return node.Fail(node.KindDependency, "plugin returned unknown result kind %q", wire.Kind)
	}
}
