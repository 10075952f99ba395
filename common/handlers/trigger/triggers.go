// Package trigger implements the entry-point node handlers. Triggers have no
// inbound ports; the engine seeds them with the event payload that started
// the run, and each falls back to a documented sample when started bare.
package trigger

import (
	"context"
	"time"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// seeded passes the run's event payload through, or the sample when empty.
func seeded(nc *node.Context, sample map[string]interface{}) *node.Result {
	if len(nc.Input) > 0 {
		return node.Succeed(value.CloneMap(nc.Input))
	}
	return node.Succeed(value.CloneMap(sample))
}

// Manual starts a run from an explicit user action.
type Manual struct {
	node.Base
}

// NewManual creates the manual trigger.
func NewManual() *Manual {
	return &Manual{Base: node.Base{Def: node.Definition{
		Type:        "manualTrigger",
		DisplayName: "Manual Trigger",
		Description: "Start the flow from an explicit user action",
		Icon:        "play",
		Category:    "trigger",
		Schema:      node.ObjectSchema(map[string]interface{}{}),
		Interface:   node.Ports(nil, []string{"out"}),
		Trigger:     true,
	}}}
}

// Execute passes the seed payload through.
func (h *Manual) Execute(ctx context.Context, nc *node.Context) *node.Result {
	return seeded(nc, map[string]interface{}{
		"triggeredAt": time.Now().UTC().Format(time.RFC3339),
		"triggeredBy": nc.UserID,
	})
}

// Webhook starts a run from an inbound HTTP request. The transport layer
// shapes the request into {method, headers, query, body}.
type Webhook struct {
	node.Base
}

// NewWebhook creates the webhook trigger.
func NewWebhook() *Webhook {
	return &Webhook{Base: node.Base{Def: node.Definition{
		Type:        "webhookTrigger",
		DisplayName: "Webhook Trigger",
		Description: "Start the flow from an inbound HTTP request",
		Icon:        "webhook",
		Category:    "trigger",
		Schema: node.ObjectSchema(map[string]interface{}{
			"token": map[string]interface{}{
				"type":        "string",
				"description": "Inbound path token this hook answers on",
			},
		}),
		Interface: node.Ports(nil, []string{"out"}),
		Trigger:   true,
	}}}
}

// Execute passes the shaped request through.
func (h *Webhook) Execute(ctx context.Context, nc *node.Context) *node.Result {
	return seeded(nc, map[string]interface{}{
		"method":  "POST",
		"headers": map[string]interface{}{},
		"query":   map[string]interface{}{},
		"body":    map[string]interface{}{},
	})
}

// FormTrigger starts a run from a submitted public form.
type FormTrigger struct {
	node.Base
}

// NewFormTrigger creates the form trigger.
func NewFormTrigger() *FormTrigger {
	return &FormTrigger{Base: node.Base{Def: node.Definition{
		Type:        "formTrigger",
		DisplayName: "Form Trigger",
		Description: "Start the flow from a submitted form",
		Icon:        "clipboard",
		Category:    "trigger",
		Schema: node.ObjectSchema(map[string]interface{}{
			"fields": map[string]interface{}{
				"type":        "array",
				"description": "Field descriptors rendered on the public form",
			},
		}),
		Interface: node.Ports(nil, []string{"out"}),
		Trigger:   true,
	}}}
}

// Execute passes the submission through.
func (h *FormTrigger) Execute(ctx context.Context, nc *node.Context) *node.Result {
	return seeded(nc, map[string]interface{}{
		"formData":    map[string]interface{}{},
		"submittedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

// Email starts a run from an inbound email, shaped by the mail collaborator
// into {from, to, subject, body, attachments}.
type Email struct {
	node.Base
}

// NewEmail creates the email trigger.
func NewEmail() *Email {
	return &Email{Base: node.Base{Def: node.Definition{
		Type:        "emailTrigger",
		DisplayName: "Email Trigger",
		Description: "Start the flow from an inbound email",
		Icon:        "mail",
		Category:    "trigger",
		Schema: node.ObjectSchema(map[string]interface{}{
			"mailbox": map[string]interface{}{
				"type": "string",
			},
		}),
		Interface: node.Ports(nil, []string{"out"}),
		Trigger:   true,
	}}}
}

// Execute passes the shaped email through.
func (h *Email) Execute(ctx context.Context, nc *node.Context) *node.Result {
	return seeded(nc, map[string]interface{}{
		"from":        "sender@example.com",
		"to":          "inbox@example.com",
		"subject":     "Sample email",
		"body":        "This is a sample email payload.",
		"attachments": []interface{}{},
	})
}

// ErrorTrigger catches a downstream failure in the same flow. The engine
// seeds it with the failing node's identity and classified error instead of
// terminating the execution.
type ErrorTrigger struct {
	node.Base
}

// NewErrorTrigger creates the error trigger.
func NewErrorTrigger() *ErrorTrigger {
	return &ErrorTrigger{Base: node.Base{Def: node.Definition{
		Type:        "errorTrigger",
		DisplayName: "Error Trigger",
		Description: "Run a recovery branch when another node fails",
		Icon:        "alert-triangle",
		Category:    "trigger",
		Schema:      node.ObjectSchema(map[string]interface{}{}),
		Interface:   node.Ports(nil, []string{"out"}),
		Trigger:     true,
	}}}
}

// Execute passes the error envelope through.
func (h *ErrorTrigger) Execute(ctx context.Context, nc *node.Context) *node.Result {
	return seeded(nc, map[string]interface{}{
		"error": map[string]interface{}{
			"nodeId":  "",
			"kind":    "",
			"message": "",
		},
	})
}
