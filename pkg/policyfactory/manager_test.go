package policyfactory

import (
	"errors"
	"sync"
	"testing"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
)

func newTestRegistry(t *testing.T) *config.Registry {
	t.Helper()
	cfg := config.Default()
	cfg.Estimator.Features = []string{"bias", "x"}
	r, err := config.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestManager_GetCreatesLazily(t *testing.T) {
	m := NewManager(newTestRegistry(t))

	if m.Len() != 0 {
		t.Fatalf("expected 0 policies, got %d", m.Len())
	}
	if _, ok := m.Lookup("routing"); ok {
		t.Fatal("Lookup() should not create a policy")
	}

	p1, err := m.Get("routing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	p2, err := m.Get("routing")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("Get() should return the same policy for a domain")
	}
	if p1.Algorithm() != config.AlgorithmEstimator {
		t.Errorf("Algorithm() = %q, want default estimator", p1.Algorithm())
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 policy, got %d", m.Len())
	}
}

func TestManager_UsesDomainOverride(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.SetDomainConfig("ranking", config.DomainConfig{Algorithm: config.AlgorithmPartitioner}); err != nil {
		t.Fatal(err)
	}
	m := NewManager(r)

	p, err := m.Get("ranking")
	if err != nil {
		t.Fatal(err)
	}
	if p.Algorithm() != config.AlgorithmPartitioner {
		t.Errorf("Algorithm() = %q, want partitioner", p.Algorithm())
	}
}

func TestManager_RebuildKeepsState(t *testing.T) {
	r := newTestRegistry(t)
	m := NewManager(r)

	p, err := m.Get("routing")
	if err != nil {
		t.Fatal(err)
	}
	ctx := bandit.Context{"bias": 1, "x": 0.5}
	for i := 0; i < 20; i++ {
		if err := p.Update("a", 1, ctx); err != nil {
			t.Fatal(err)
		}
	}

	dc := r.GetConfig("routing")
	dc.Estimator.ExplorationAlpha = 0.5
	if err := r.SetDomainConfig("routing", dc); err != nil {
		t.Fatal(err)
	}

	rebuilt, err := m.Rebuild("routing")
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if rebuilt == p {
		t.Fatal("Rebuild() should install a new policy")
	}
	if got := rebuilt.Diagnostics().Updates; got != 20 {
		t.Errorf("rebuilt policy has %d updates, want 20", got)
	}
}

func TestManager_RebuildAlgorithmChangeStartsFresh(t *testing.T) {
	r := newTestRegistry(t)
	m := NewManager(r)

	p, _ := m.Get("routing")
	_ = p.Update("a", 1, bandit.Context{"bias": 1, "x": 0.5})

	if err := r.SetDomainConfig("routing", config.DomainConfig{Algorithm: config.AlgorithmPartitioner}); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := m.Rebuild("routing")
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.Algorithm() != config.AlgorithmPartitioner {
		t.Errorf("Algorithm() = %q", rebuilt.Algorithm())
	}
	if rebuilt.Diagnostics().Updates != 0 {
		t.Error("algorithm change should start from an empty model")
	}
}

func TestManager_RemoveAndDomains(t *testing.T) {
	m := NewManager(newTestRegistry(t))
	for _, d := range []string{"b", "a", "c"} {
		if _, err := m.Get(d); err != nil {
			t.Fatal(err)
		}
	}

	got := m.Domains()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Domains() = %v, want %v", got, want)
		}
	}

	if err := m.Remove("b"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := m.Remove("b"); !errors.Is(err, compassErrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if len(m.Diagnostics()) != 2 {
		t.Errorf("Diagnostics() should cover 2 domains")
	}
}

func TestManager_ConcurrentGet(t *testing.T) {
	m := NewManager(newTestRegistry(t))

	var wg sync.WaitGroup
	results := make([]bandit.Policy, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := m.Get("routing")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent Get() created more than one policy")
		}
	}
}
