package idgen_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/artpar/usagemeter/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	id := g.New()
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("New() = %q is not a UUID: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("version = %d, want 7", parsed.Version())
	}
}

func TestUUID_Prefix(t *testing.T) {
	g := idgen.UUID{Prefix: "evt_"}

	id := g.New()
	if !strings.HasPrefix(id, "evt_") {
		t.Errorf("New() = %q, want evt_ prefix", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "evt_")); err != nil {
		t.Errorf("suffix is not a UUID: %v", err)
	}
}

func TestUUID_Unique(t *testing.T) {
	g := idgen.UUID{}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSequential(t *testing.T) {
	g := idgen.NewSequential("evt-")

	if got := g.New(); got != "evt-000001" {
		t.Errorf("first = %q, want evt-000001", got)
	}
	if got := g.New(); got != "evt-000002" {
		t.Errorf("second = %q, want evt-000002", got)
	}

	g.Reset()
	if got := g.New(); got != "evt-000001" {
		t.Errorf("after reset = %q, want evt-000001", got)
	}
}

func TestSequential_Ordered(t *testing.T) {
	g := idgen.NewSequential("")
	prev := g.New()
	for i := 0; i < 20; i++ {
		next := g.New()
		if next <= prev {
			t.Fatalf("%q should sort after %q", next, prev)
		}
		prev = next
	}
}

func TestSequential_Concurrent(t *testing.T) {
	g := idgen.NewSequential("id")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := g.New()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("unique ids = %d, want 1000", len(seen))
	}
}
