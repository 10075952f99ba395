package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lyzr/flowcore/common/flow"
)

func TestMemoryStoreAdmitsUpToLimit(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := s.Allow(ctx, "k", time.Minute, 3)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("admission %d must be allowed", i)
		}
		if d.Current != int64(i) {
			t.Errorf("admission %d count = %d", i, d.Current)
		}
	}

	d, err := s.Allow(ctx, "k", time.Minute, 3)
	if err != nil {
		t.Fatalf("allow overflow: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth admission within window must be denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("denied decision must report retry_after, got %d", d.RetryAfter)
	}
}

func TestMemoryStoreWindowReset(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	base := time.Now()
	s.now = func() time.Time { return base }
	ctx := context.Background()

	if d, _ := s.Allow(ctx, "k", 100*time.Millisecond, 1); !d.Allowed {
		t.Fatal("first admission denied")
	}
	if d, _ := s.Allow(ctx, "k", 100*time.Millisecond, 1); d.Allowed {
		t.Fatal("second admission within window allowed")
	}

	// Advance past the window; the counter must reset.
	s.now = func() time.Time { return base.Add(150 * time.Millisecond) }
	if d, _ := s.Allow(ctx, "k", 100*time.Millisecond, 1); !d.Allowed {
		t.Fatal("admission after window lapse denied")
	}

	count, err := s.Current(ctx, "k")
	if err != nil || count != 1 {
		t.Errorf("current = %d, %v", count, err)
	}
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if d, _ := s.Allow(ctx, "a", time.Minute, 1); !d.Allowed {
		t.Fatal("key a first admission denied")
	}
	if d, _ := s.Allow(ctx, "b", time.Minute, 1); !d.Allowed {
		t.Fatal("key b must have its own window")
	}

	if err := s.Reset(ctx, "a"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d, _ := s.Allow(ctx, "a", time.Minute, 1); !d.Allowed {
		t.Fatal("reset must clear the window")
	}
}

func TestMemoryStoreConcurrentAdmissions(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	const workers = 20
	allowed := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			d, err := s.Allow(ctx, "shared", time.Minute, 5)
			allowed <- err == nil && d.Allowed
		}()
	}

	admitted := 0
	for i := 0; i < workers; i++ {
		if <-allowed {
			admitted++
		}
	}
	if admitted != 5 {
		t.Errorf("exactly 5 admissions expected, got %d", admitted)
	}
}

func TestInspectFlowTiers(t *testing.T) {
	builtins := map[string]bool{
		"manualTrigger": true, "setFields": true, "httpRequest": true,
	}
	isBuiltin := func(t string) bool { return builtins[t] }

	tests := []struct {
		name  string
		nodes []*flow.Node
		want  Tier
	}{
		{
			"pure transforms",
			[]*flow.Node{{ID: "a", Type: "manualTrigger"}, {ID: "b", Type: "setFields"}},
			TierSimple,
		},
		{
			"external io",
			[]*flow.Node{{ID: "a", Type: "manualTrigger"}, {ID: "b", Type: "httpRequest"}},
			TierStandard,
		},
		{
			"plugin node",
			[]*flow.Node{{ID: "a", Type: "manualTrigger"}, {ID: "b", Type: "acme/translate"}},
			TierHeavy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := InspectFlow(&flow.Flow{Nodes: tt.nodes}, isBuiltin)
			if p.Tier != tt.want {
				t.Errorf("tier = %s, want %s (profile %+v)", p.Tier, tt.want, p)
			}
		})
	}

	big := &flow.Flow{}
	for i := 0; i < 60; i++ {
		big.Nodes = append(big.Nodes, &flow.Node{ID: fmt.Sprintf("n%d", i), Type: "setFields"})
	}
	if p := InspectFlow(big, isBuiltin); p.Tier != TierHeavy {
		t.Errorf("very large flow must be heavy, got %s", p.Tier)
	}
}

func TestLimitForUnknownTierFallsBack(t *testing.T) {
	if LimitForTier("nope") != DefaultTierConfigs[TierHeavy].Limit {
		t.Error("unknown tier must fall back to most restrictive")
	}
}
