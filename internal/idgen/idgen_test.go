package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestNew_Shape(t *testing.T) {
	uuidShape := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	id := New()
	if !uuidShape.MatchString(id) {
		t.Fatalf("unexpected ID shape: %q", id)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("ak_")
	if !strings.HasPrefix(id, "ak_") {
		t.Fatalf("expected ak_ prefix, got %q", id)
	}
	if len(id) != len("ak_")+24 {
		t.Fatalf("expected 24 hex chars after prefix, got %q", id)
	}
}

func TestWithPrefix_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := WithPrefix("ds_req_")
		if seen[id] {
			t.Fatalf("duplicate ID generated: %q", id)
		}
		seen[id] = true
	}
}
