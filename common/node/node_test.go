package node

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubHandler struct {
	Base
}

func newStubHandler(nodeType string) *stubHandler {
	return &stubHandler{Base: Base{Def: Definition{
		Type:        nodeType,
		DisplayName: nodeType,
		Category:    "test",
	}}}
}

func (h *stubHandler) Execute(ctx context.Context, nc *Context) *Result {
	return Succeed(nc.Input)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry(nil)

	if err := reg.Register(newStubHandler("alpha")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(newStubHandler("alpha")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatal("expected nil handler registration to fail")
	}

	h, ok := reg.Get("alpha")
	if !ok || h.Type() != "alpha" {
		t.Fatalf("lookup failed, got %v %v", h, ok)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected missing type to be absent")
	}

	reg.MustRegister(newStubHandler("beta"))
	types := reg.Types()
	if len(types) != 2 || types[0] != "alpha" || types[1] != "beta" {
		t.Fatalf("unexpected types: %v", types)
	}

	reg.Deregister("beta")
	if reg.Known("beta") {
		t.Fatal("expected beta deregistered")
	}
}

func TestValidateConfigSchema(t *testing.T) {
	h := &stubHandler{Base: Base{Def: Definition{
		Type: "schema-test",
		Schema: ObjectSchema(map[string]interface{}{
			"mode": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"a", "b"},
			},
			"limit": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
			},
		}, "mode"),
	}}}

	tests := []struct {
		name   string
		config map[string]interface{}
		valid  bool
	}{
		{"valid", map[string]interface{}{"mode": "a", "limit": 3}, true},
		{"missing required", map[string]interface{}{"limit": 3}, false},
		{"bad enum", map[string]interface{}{"mode": "c"}, false},
		{"bad type", map[string]interface{}{"mode": "a", "limit": "x"}, false},
		{"nil config", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.ValidateConfig(tt.config)
			if res.Valid != tt.valid {
				t.Errorf("ValidateConfig(%v).Valid = %v, want %v (errors: %v)",
					tt.config, res.Valid, tt.valid, res.Errors)
			}
			if !res.Valid && len(res.Errors) == 0 {
				t.Error("invalid result must carry errors")
			}
		})
	}
}

func TestValidateConfigEmptySchemaAcceptsAnything(t *testing.T) {
	h := newStubHandler("free-form")
	if res := h.ValidateConfig(map[string]interface{}{"whatever": 1}); !res.Valid {
		t.Fatalf("expected empty schema to accept any config, got %v", res.Errors)
	}
}

func TestResultConstructors(t *testing.T) {
	r := Succeed(nil)
	if !r.IsSuccess() || r.Output == nil {
		t.Fatal("Succeed(nil) must produce an empty output map")
	}

	r = SucceedBranches(map[string]interface{}{"a": 1}, "true")
	if len(r.Branches) != 1 || r.Branches[0] != "true" {
		t.Fatalf("unexpected branches: %v", r.Branches)
	}

	r = Fail(KindValidation, "bad field %q", "x")
	if !r.IsFailure() || r.Err.Kind != KindValidation {
		t.Fatalf("unexpected failure: %+v", r)
	}

	p := Suspend(&PauseRequest{ResumeKind: "approval"})
	if !p.IsPause() || p.Pause.ResumeKind != "approval" {
		t.Fatalf("unexpected pause: %+v", p)
	}
}

func TestContextConfigHelpers(t *testing.T) {
	nc := &Context{Config: map[string]interface{}{
		"s":    "text",
		"n":    float64(5),
		"b":    true,
		"bstr": "false",
		"m":    map[string]interface{}{"k": "v"},
		"l":    []interface{}{1},
	}}

	if nc.ConfigString("s", "d") != "text" || nc.ConfigString("missing", "d") != "d" {
		t.Error("ConfigString")
	}
	if nc.ConfigInt("n", 0) != 5 || nc.ConfigInt("missing", 7) != 7 {
		t.Error("ConfigInt")
	}
	if !nc.ConfigBool("b", false) || nc.ConfigBool("bstr", true) {
		t.Error("ConfigBool")
	}
	if nc.ConfigMap("m") == nil || nc.ConfigList("l") == nil {
		t.Error("ConfigMap/ConfigList")
	}
}

func TestResumeData(t *testing.T) {
	nc := &Context{}
	if _, ok := nc.ResumeData(); ok {
		t.Fatal("no global context must mean no resume data")
	}
	nc.Global = map[string]interface{}{
		GlobalResumeKey: map[string]interface{}{"approvalStatus": "approved"},
	}
	data, ok := nc.ResumeData()
	if !ok || data["approvalStatus"] != "approved" {
		t.Fatalf("unexpected resume data: %v %v", data, ok)
	}
}

func TestErrorClassification(t *testing.T) {
	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Error("deadline must classify as timeout")
	}
	if KindOf(context.Canceled) != KindCancelled {
		t.Error("cancellation must classify as cancelled")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("unknown errors must classify as internal")
	}

	wrapped := WrapErr(KindSecurity, errors.New("refused"), "image not trusted")
	if KindOf(wrapped) != KindSecurity {
		t.Error("wrapped kind lost")
	}
	if !errors.Is(wrapped, wrapped.Cause) {
		t.Error("unwrap chain broken")
	}
}

func TestErrorSummaryTruncation(t *testing.T) {
	e := Errf(KindInternal, "first line\nsecond line")
	if e.Summary() != "first line" {
		t.Errorf("summary must stop at first line, got %q", e.Summary())
	}

	long := Errf(KindInternal, "%s", strings.Repeat("x", 1000))
	if len(long.Summary()) != 240 {
		t.Errorf("summary must truncate, got len %d", len(long.Summary()))
	}
}
