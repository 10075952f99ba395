package netio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// maxTimeout caps per-request timeouts.
const maxTimeout = 300 * time.Second

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodPatch: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// Request performs an outbound HTTP call. Non-2xx responses are successful
// outputs unless successOnly is set.
type Request struct {
	node.Base
	client *http.Client
	policy *URLPolicy
}

// NewRequest creates the httpRequest handler. A nil client gets a default
// with the capped timeout; a nil policy permits any http/https target.
func NewRequest(client *http.Client, policy *URLPolicy) *Request {
	if client == nil {
		client = &http.Client{Timeout: maxTimeout}
	}
	if policy == nil {
		policy = NewURLPolicy(true, nil)
	}
	return &Request{
		Base: node.Base{Def: node.Definition{
			Type:        "httpRequest",
			DisplayName: "HTTP Request",
			Description: "Call an HTTP endpoint and return its response",
			Icon:        "globe",
			Category:    "network",
			Schema: node.ObjectSchema(map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Target URL; http or https",
				},
				"method": map[string]interface{}{
					"type":    "string",
					"enum":    []interface{}{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
					"default": "GET",
				},
				"headers": map[string]interface{}{
					"description": "Header map, or list of {name, value} pairs",
				},
				"body": map[string]interface{}{
					"description": "Sent as JSON for maps and lists, raw text otherwise",
				},
				"timeoutSec": map[string]interface{}{
					"type":    "integer",
					"default": 30,
				},
				"successOnly": map[string]interface{}{
					"type":    "boolean",
					"default": false,
				},
				"includeRawBody": map[string]interface{}{
					"type":    "boolean",
					"default": false,
				},
			}, "url"),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
			Async:     true,
		}},
		client: client,
		policy: policy,
	}
}

// Execute validates the target, performs the call and shapes the response.
func (h *Request) Execute(ctx context.Context, nc *node.Context) *node.Result {
	rawURL := nc.ConfigString("url", "")
	if rawURL == "" {
		return node.Fail(node.KindValidation, "url is required")
	}
	method := strings.ToUpper(nc.ConfigString("method", http.MethodGet))
	if !allowedMethods[method] {
		return node.Fail(node.KindValidation, "method %q is not allowed", method)
	}
	if err := h.policy.Validate(rawURL); err != nil {
		return node.Fail(node.KindSecurity, "request blocked: %v", err)
	}

	timeout := time.Duration(nc.ConfigInt("timeoutSec", 30)) * time.Second
	if timeout <= 0 || timeout > maxTimeout {
		timeout = maxTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody, contentType, err := encodeBody(nc.Config["body"])
	if err != nil {
		return node.Fail(node.KindValidation, "failed to encode request body: %v", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, reqBody)
	if err != nil {
		return node.Fail(node.KindValidation, "invalid request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, val := range headerPairs(nc.Config["headers"]) {
		req.Header.Set(name, val)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return node.Fail(node.KindTimeout, "request to %s timed out after %s", rawURL, timeout)
		}
		return node.FailErr(node.WrapErr(node.KindDependency, err, "request failed"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return node.Fail(node.KindDependency, "failed to read response body: %v", err)
	}

	output := map[string]interface{}{
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"headers":    flattenHeaders(resp.Header),
		"data":       decodeBody(raw),
	}
	if nc.ConfigBool("includeRawBody", false) {
		output["body"] = string(raw)
	}

	if nc.ConfigBool("successOnly", false) && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return node.Fail(node.KindDependency, "request returned status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)).
			WithPartial(output)
	}
	return node.Succeed(output)
}

// encodeBody serialises the configured body: maps and lists as JSON, nil as
// empty, anything else as its text form.
func encodeBody(body interface{}) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), "application/json", nil
	case string:
		if v == "" {
			return nil, "", nil
		}
		return strings.NewReader(v), "text/plain", nil
	default:
		return strings.NewReader(value.ToString(v)), "text/plain", nil
	}
}

// headerPairs accepts a header map or a list of {name, value} entries.
func headerPairs(headers interface{}) map[string]string {
	out := make(map[string]string)
	switch v := headers.(type) {
	case map[string]interface{}:
		for name, val := range v {
			out[name] = value.ToString(val)
		}
	case []interface{}:
		for _, entry := range v {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			name := value.ToString(m["name"])
			if name == "" {
				continue
			}
			out[name] = value.ToString(m["value"])
		}
	}
	return out
}

// flattenHeaders keeps the first value of each response header.
func flattenHeaders(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for name, vals := range h {
		if len(vals) > 0 {
			out[name] = vals[0]
		}
	}
	return out
}

// decodeBody parses JSON bodies, leaving everything else as a string.
func decodeBody(raw []byte) interface{} {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' || trimmed[0] == '"' {
		var parsed interface{}
		if err := json.Unmarshal(trimmed, &parsed); err == nil {
			return parsed
		}
	}
	return string(raw)
}
