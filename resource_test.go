package arbor

import (
	"context"
	"testing"
)

func noopInit(ctx context.Context, cfg any, deps Deps, ic *InitCtx) (any, error) {
	return "value", nil
}

func TestResourceExportsID(t *testing.T) {
	res := NewResource("r.parent", noopInit,
		WithRegister(NewResource("r.child", noopInit)),
		WithExports("r.child"),
	)

	if !res.exportsID("r.child") {
		t.Fatalf("expected r.child to be exported")
	}
	if res.exportsID("r.other") {
		t.Fatalf("did not expect r.other to be exported")
	}
}

func TestResourceExportAll(t *testing.T) {
	res := NewResource("r.parent", noopInit, WithExportAll())
	if !res.exportsID("anything") {
		t.Fatalf("expected exportAll to cover any id")
	}
}

func TestResourceExportsEverythingByDefault(t *testing.T) {
	res := NewResource("r.parent", noopInit)
	if !res.exportsID("anything") {
		t.Fatalf("expected omitted exports to default to exporting everything")
	}
}

func TestResourceNoExportsSealsSubtree(t *testing.T) {
	res := NewResource("r.parent", noopInit, WithNoExports())
	if res.exportsID("anything") {
		t.Fatalf("expected WithNoExports to export nothing")
	}
}

func TestResourceWithClonesConfig(t *testing.T) {
	template := NewResource("r.templated", noopInit, WithConfigSchema(&rejectingSchema{}))
	configured := template.With(map[string]any{"k": "v"})

	if template.hasConfig {
		t.Fatalf("original template should not carry config")
	}
	if !configured.hasConfig {
		t.Fatalf("cloned resource should carry config")
	}
	if configured.id != template.id {
		t.Fatalf("clone should retain id")
	}
}

func TestResourceConfigValidation(t *testing.T) {
	res := NewResource("r.strict", noopInit, WithConfigSchema(&rejectingSchema{})).With("cfg")
	if _, err := res.validateConfig(); err == nil {
		t.Fatalf("expected config validation to fail")
	}

	lenient := NewResource("r.lenient", noopInit).With("cfg")
	validated, err := lenient.validateConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validated != "cfg" {
		t.Fatalf("expected config to pass through unchanged, got %v", validated)
	}
}

func TestResourceChildrenCopy(t *testing.T) {
	child := NewResource("r.child2", noopInit)
	parent := NewResource("r.parent2", noopInit, WithRegister(child))

	children := parent.Children()
	if len(children) != 1 || children[0].ID() != "r.child2" {
		t.Fatalf("unexpected children: %v", children)
	}

	children[0] = nil
	if parent.children[0] == nil {
		t.Fatalf("Children() should return a copy, not the backing slice")
	}
}
