package fqn

import "testing"

func TestCompute(t *testing.T) {
	cases := []struct {
		relPath string
		scope   []string
		name    string
		want    string
	}{
		{"app/services/order.py", nil, "submit", "app.services.order.submit"},
		{"app/services/order.py", []string{"OrderService"}, "submit", "app.services.order.OrderService.submit"},
		{"pkg/__init__.py", nil, "helper", "pkg.helper"},
		{"lib/index.ts", nil, "main", "lib.main"},
		{"a.py", nil, "", "a"},
	}
	for _, c := range cases {
		if got := Compute(c.relPath, c.scope, c.name); got != c.want {
			t.Errorf("Compute(%q, %v, %q) = %q, want %q", c.relPath, c.scope, c.name, got, c.want)
		}
	}
}

func TestModuleQN(t *testing.T) {
	if got := ModuleQN("src/app/main.ts"); got != "src.app.main" {
		t.Errorf("ModuleQN: %s", got)
	}
}

func TestTopLevelIndexKeepsName(t *testing.T) {
	// A bare index.ts at the root has no directory to name; the segment
	// stays.
	if got := ModuleQN("index.ts"); got != "index" {
		t.Errorf("ModuleQN(index.ts) = %q", got)
	}
}
