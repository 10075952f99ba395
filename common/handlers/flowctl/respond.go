package flowctl

import (
	"context"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// MetaWebhookResponse carries the assembled HTTP response for the transport
// layer serving a webhook-initiated execution.
const MetaWebhookResponse = "webhookResponse"

// RespondWebhook assembles the HTTP response a webhook-triggered execution
// should answer with.
type RespondWebhook struct {
	node.Base
}

// NewRespondWebhook creates the respond-to-webhook handler.
func NewRespondWebhook() *RespondWebhook {
	return &RespondWebhook{Base: node.Base{Def: node.Definition{
		Type:        "respondWebhook",
		DisplayName: "Respond to Webhook",
		Description: "Build the HTTP response returned to the webhook caller",
		Icon:        "reply",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"statusCode": map[string]interface{}{
				"type":    "integer",
				"default": 200,
			},
			"headers": map[string]interface{}{
				"type": "object",
			},
			"bodyMode": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"json", "text", "input", "auto"},
				"default": "auto",
			},
			"body": map[string]interface{}{
				"description": "Response body for json and text modes",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute validates the status code and assembles the response envelope.
func (h *RespondWebhook) Execute(ctx context.Context, nc *node.Context) *node.Result {
	statusCode := nc.ConfigInt("statusCode", 200)
	if statusCode < 100 || statusCode > 599 {
		return node.Fail(node.KindValidation, "statusCode must be in 100..599, got %d", statusCode)
	}

	bodyMode := nc.ConfigString("bodyMode", "auto")
	configuredBody, hasBody := nc.Config["body"]

	var body interface{}
	contentType := "application/json"
	switch bodyMode {
	case "json":
		body = configuredBody
	case "text":
		body = value.ToString(configuredBody)
		contentType = "text/plain"
	case "input":
		body = value.CloneMap(nc.Input)
	case "auto":
		if hasBody && configuredBody != nil {
			body = configuredBody
			if _, isStr := configuredBody.(string); isStr {
				contentType = "text/plain"
			}
		} else {
			body = value.CloneMap(nc.Input)
		}
	default:
		return node.Fail(node.KindValidation, "unknown bodyMode %q", bodyMode)
	}

	headers := map[string]interface{}{}
	for k, v := range nc.ConfigMap("headers") {
		headers[k] = value.ToString(v)
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = contentType
	}

	response := map[string]interface{}{
		"statusCode": statusCode,
		"headers":    headers,
		"body":       body,
	}
	return node.Succeed(response).WithMetadata(map[string]interface{}{
		MetaWebhookResponse: response,
	})
}
