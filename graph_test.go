package arbor

import "testing"

func TestBuildDepGraphEagerOnly(t *testing.T) {
	b := NewResource("r.b", noopInit)
	a := NewResource("r.a", noopInit, WithResourceDependencies(DependsOn(Eager("r.b"), Lazy("r.c"))))
	c := NewResource("r.c", noopInit)
	root := NewResource("r.root", noopInit, WithRegister(a), WithRegister(b), WithRegister(c))

	s, err := buildStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := buildDepGraph(s)
	edges := g.edges["r.a"]
	if len(edges) != 1 || edges[0] != "r.b" {
		t.Fatalf("expected only the eager edge to r.b, got %v", edges)
	}
}

func TestBuildDepGraphDedupsEdges(t *testing.T) {
	b := NewResource("r.b", noopInit)
	a := NewResource("r.a", noopInit, WithResourceDependencies(DependsOn(Eager("r.b"), Eager("r.b"))))
	root := NewResource("r.root", noopInit, WithRegister(a), WithRegister(b))

	s, err := buildStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := buildDepGraph(s)
	if len(g.edges["r.a"]) != 1 {
		t.Fatalf("expected duplicate edge to be collapsed, got %v", g.edges["r.a"])
	}
}

func TestDetectCycleNone(t *testing.T) {
	b := NewResource("r.b", noopInit)
	a := NewResource("r.a", noopInit, WithResourceDependencies(DependsOn(Eager("r.b"))))
	root := NewResource("r.root", noopInit, WithRegister(a), WithRegister(b))

	s, err := buildStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cycle := buildDepGraph(s).detectCycle(); cycle != nil {
		t.Fatalf("expected no cycle, got %v", cycle)
	}
}

func TestDetectCycleDirect(t *testing.T) {
	a := NewResource("r.a", noopInit, WithResourceDependencies(DependsOn(Eager("r.b"))))
	b := NewResource("r.b", noopInit, WithResourceDependencies(DependsOn(Eager("r.a"))))
	root := NewResource("r.root", noopInit, WithRegister(a), WithRegister(b))

	s, err := buildStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cycle := buildDepGraph(s).detectCycle()
	if cycle == nil {
		t.Fatalf("expected a cycle to be detected")
	}
	if !containsID(cycle, "r.a") || !containsID(cycle, "r.b") {
		t.Fatalf("expected cycle to include both r.a and r.b, got %v", cycle)
	}
}

func TestDetectCycleTransitive(t *testing.T) {
	a := NewResource("r.a", noopInit, WithResourceDependencies(DependsOn(Eager("r.b"))))
	b := NewResource("r.b", noopInit, WithResourceDependencies(DependsOn(Eager("r.c"))))
	c := NewResource("r.c", noopInit, WithResourceDependencies(DependsOn(Eager("r.a"))))
	root := NewResource("r.root", noopInit, WithRegister(a), WithRegister(b), WithRegister(c))

	s, err := buildStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cycle := buildDepGraph(s).detectCycle()
	if len(cycle) < 3 {
		t.Fatalf("expected a 3-node cycle, got %v", cycle)
	}
	for _, id := range []ID{"r.a", "r.b", "r.c"} {
		if !containsID(cycle, id) {
			t.Fatalf("expected cycle to include %s, got %v", id, cycle)
		}
	}
}

func containsID(ids []ID, target ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
