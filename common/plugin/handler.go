package plugin

import (
	"context"

	"github.com/lyzr/flowcore/common/node"
)

// Manifest describes the node type a plugin provides. It arrives with the
// install request and becomes the handler's registry definition.
type Manifest struct {
	NodeType    string                 `json:"node_type"`
	DisplayName string                 `json:"display_name"`
	Description string                 `json:"description,omitempty"`
	Icon        string                 `json:"icon,omitempty"`
	Schema      map[string]interface{} `json:"config_schema,omitempty"`
	Interface   map[string]interface{} `json:"interface,omitempty"`
	Env         map[string]string      `json:"env,omitempty"`
}

// Handler is the dynamic node handler for one installed plugin. Execution is
// proxied over HTTP to the plugin's endpoint through the invoker's breaker.
type Handler struct {
	node.Base
	invoker  *Invoker
	endpoint string
}

// NewHandler builds the registry entry for an installed plugin.
func NewHandler(manifest Manifest, endpoint string, invoker *Invoker) *Handler {
	def := node.Definition{
		Type:        manifest.NodeType,
		DisplayName: manifest.DisplayName,
		Description: manifest.Description,
		Icon:        manifest.Icon,
		Category:    "plugin",
		Schema:      manifest.Schema,
		Interface:   manifest.Interface,
		Async:       true,
	}
	if def.DisplayName == "" {
		def.DisplayName = manifest.NodeType
	}
	if def.Icon == "" {
		def.Icon = "puzzle"
	}
	return &Handler{Base: node.Base{Def: def}, invoker: invoker, endpoint: endpoint}
}

// Endpoint returns the plugin's base URL.
func (h *Handler) Endpoint() string { return h.endpoint }

// Execute proxies the invocation to the plugin process.
func (h *Handler) Execute(ctx context.Context, nc *node.Context) *node.Result {
	return h.invoker.Invoke(ctx, h.endpoint, nc)
}
