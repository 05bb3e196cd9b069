package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
	"mercator-hq/compass/pkg/ledger"
	"mercator-hq/compass/pkg/telemetry/metrics"
)

// fixedPolicy always recommends the same action.
type fixedPolicy struct {
	action  bandit.Action
	err     error
	updates atomic.Int64
}

func (p *fixedPolicy) Recommend(ctx bandit.Context, candidates []bandit.Action) (bandit.Action, error) {
	if p.err != nil {
		return "", p.err
	}
	if err := bandit.ValidateCandidates("fixed.Recommend", candidates); err != nil {
		return "", err
	}
	return p.action, nil
}

func (p *fixedPolicy) Update(a bandit.Action, reward float64, ctx bandit.Context) error {
	return p.UpdateWithImportanceWeight(a, reward, ctx, 1)
}

func (p *fixedPolicy) UpdateWithImportanceWeight(bandit.Action, float64, bandit.Context, float64) error {
	p.updates.Add(1)
	return nil
}

func (p *fixedPolicy) ExportState() (*bandit.State, error) { return &bandit.State{Algorithm: "fixed"}, nil }
func (p *fixedPolicy) ImportState(*bandit.State) error { return nil }
func (p *fixedPolicy) Algorithm() string { return "fixed" }

func (p *fixedPolicy) Diagnostics() bandit.Diagnostics {
	return bandit.Diagnostics{Algorithm: "fixed", Updates: p.updates.Load(), ModelMSE: 0.25, MeanImportanceWeight: 1}
}

// growingTree reports a deeper leaf after every update, like a tree that
// splits the leaf it was just trained on.
type growingTree struct {
	fixedPolicy
	depth atomic.Int64
}

func (p *growingTree) DepthOf(bandit.Context) int { return int(p.depth.Load()) }
func (p *growingTree) Algorithm() string { return config.AlgorithmPartitioner }

func (p *growingTree) UpdateWithImportanceWeight(a bandit.Action, reward float64, ctx bandit.Context, weight float64) error {
	p.depth.Add(1)
	return p.fixedPolicy.UpdateWithImportanceWeight(a, reward, ctx, weight)
}

func (p *growingTree) Diagnostics() bandit.Diagnostics {
	d := p.fixedPolicy.Diagnostics()
	d.Algorithm = config.AlgorithmPartitioner
	d.DecisionDepth = int(p.depth.Load())
	return d
}

type testEnv struct {
	coord    *Coordinator
	sink     *metrics.RecordingSink
	store    *ledger.MemoryStorage
	recorder *ledger.Recorder
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Experiment.ImprovementThreshold = 0.05
	cfg.Experiment.DegradationThreshold = -0.10
	cfg.Experiment.MinBaselineSamples = 100
	cfg.Experiment.ConfidenceLevel = 0.95
	if mutate != nil {
		mutate(cfg)
	}
	registry, err := config.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	env := &testEnv{
		sink:  metrics.NewRecordingSink(),
		store: ledger.NewMemoryStorage(),
	}
	env.recorder = ledger.NewRecorder(env.store, ledger.RecorderConfig{AsyncBuffer: 64})
	t.Cleanup(func() { env.recorder.Close() })

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	env.coord = NewCoordinator(registry, env.sink,
		WithRecorder(env.recorder),
		WithClock(func() time.Time { return now }),
	)
	return env
}

func routingSpec() Spec {
	return Spec{
		Domain:   "routing",
		Baseline: Variant{Name: "baseline", Policy: &fixedPolicy{action: "a"}},
		Candidates: []Variant{
			{Name: "variant_a", Policy: &fixedPolicy{action: "a"}, Weight: 0.5},
			{Name: "variant_b", Policy: &fixedPolicy{action: "b"}, Weight: 0.5},
		},
		ShadowSampleThreshold: 500,
	}
}

// feed records n rewards of which ones are 1 and the rest 0, interleaved.
func feed(c *Coordinator, variant string, n, ones int) {
	for i := 0; i < n; i++ {
		r := 0.0
		if i*ones/n != (i+1)*ones/n {
			r = 1
		}
		c.RecordMetrics("routing", variant, r, nil, nil)
	}
}

func TestRegisterExperiment(t *testing.T) {
	env := newTestEnv(t, nil)

	id, err := env.coord.RegisterExperiment(routingSpec())
	if err != nil {
		t.Fatalf("RegisterExperiment() error = %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a UUID: %v", id, err)
	}

	_, err = env.coord.RegisterExperiment(routingSpec())
	if !errors.Is(err, compassErrors.ErrConflict) {
		t.Fatalf("duplicate RegisterExperiment() error = %v, want conflict", err)
	}

	s, err := env.coord.Summary("routing")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.ExperimentID != id {
		t.Errorf("original experiment replaced: id = %s, want %s", s.ExperimentID, id)
	}
	if s.Phase != PhaseShadow {
		t.Errorf("Phase = %s, want shadow", s.Phase)
	}
	if got := env.coord.Domains(); len(got) != 1 || got[0] != "routing" {
		t.Errorf("Domains() = %v", got)
	}
}

func TestRegisterExperiment_Invalid(t *testing.T) {
	p := &fixedPolicy{action: "a"}
	tests := []struct {
		name string
		spec Spec
	}{
		{name: "no domain", spec: Spec{Baseline: Variant{Name: "b", Policy: p}, Candidates: []Variant{{Name: "c"}}}},
		{name: "no baseline name", spec: Spec{Domain: "d", Baseline: Variant{Policy: p}, Candidates: []Variant{{Name: "c"}}}},
		{name: "no baseline policy", spec: Spec{Domain: "d", Baseline: Variant{Name: "b"}, Candidates: []Variant{{Name: "c"}}}},
		{name: "no candidates", spec: Spec{Domain: "d", Baseline: Variant{Name: "b", Policy: p}}},
		{name: "empty candidate name", spec: Spec{Domain: "d", Baseline: Variant{Name: "b", Policy: p}, Candidates: []Variant{{}}}},
		{name: "duplicate name", spec: Spec{Domain: "d", Baseline: Variant{Name: "b", Policy: p}, Candidates: []Variant{{Name: "b"}}}},
		{name: "negative weight", spec: Spec{Domain: "d", Baseline: Variant{Name: "b", Policy: p}, Candidates: []Variant{{Name: "c", Weight: -0.1}}}},
		{name: "NaN weight", spec: Spec{Domain: "d", Baseline: Variant{Name: "b", Policy: p}, Candidates: []Variant{{Name: "c", Weight: math.NaN()}}}},
		{name: "weights above one", spec: Spec{Domain: "d", Baseline: Variant{Name: "b", Policy: p}, Candidates: []Variant{{Name: "c", Weight: 0.6}, {Name: "e", Weight: 0.6}}}},
	}

	env := newTestEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coord.RegisterExperiment(tt.spec)
			if !errors.Is(err, compassErrors.ErrInvalidInput) {
				t.Errorf("RegisterExperiment() error = %v, want invalid input", err)
			}
		})
	}
	if len(env.coord.Domains()) != 0 {
		t.Errorf("invalid specs registered domains: %v", env.coord.Domains())
	}
}

func TestRegisterExperiment_DefaultThreshold(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Experiment.ShadowSampleThreshold = 42 })
	spec := routingSpec()
	spec.ShadowSampleThreshold = 0
	env.coord.RegisterExperiment(spec)

	s, _ := env.coord.Summary("routing")
	if s.ShadowSampleThreshold != 42 {
		t.Errorf("ShadowSampleThreshold = %d, want 42", s.ShadowSampleThreshold)
	}
}

func TestRecommend_ShadowPhaseServesBaseline(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Engine.Enabled = true
		c.Engine.RolloutPercentage = 1
	})
	env.coord.RegisterExperiment(routingSpec())

	for i := 0; i < 50; i++ {
		d, err := env.coord.Recommend("routing", fmt.Sprintf("tenant-%d", i), bandit.Context{"x": 1}, []bandit.Action{"a", "b"})
		if err != nil {
			t.Fatalf("Recommend() error = %v", err)
		}
		if d.ServedBy != "baseline" || d.Action != "a" {
			t.Fatalf("shadow phase served %q/%q, want baseline/a", d.ServedBy, d.Action)
		}
		if d.Shadow["variant_a"] != "a" || d.Shadow["variant_b"] != "b" {
			t.Fatalf("Shadow = %v", d.Shadow)
		}
		if _, ok := d.Shadow["baseline"]; ok {
			t.Fatal("serving variant listed among shadow choices")
		}
	}

	got := env.sink.Total(metrics.DecisionsTotal, metrics.Labels{
		metrics.LabelDomain:  "routing",
		metrics.LabelVariant: "baseline",
		metrics.LabelAction:  "a",
	})
	if got != 50 {
		t.Errorf("decisions_total = %v, want 50", got)
	}
}

func TestRecommend_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.coord.Recommend("unknown", "t", bandit.Context{}, []bandit.Action{"a"})
	if !errors.Is(err, compassErrors.ErrNotFound) {
		t.Errorf("unknown domain error = %v, want not found", err)
	}

	spec := routingSpec()
	spec.Candidates[0].Policy = &fixedPolicy{err: errors.New("model unavailable")}
	env.coord.RegisterExperiment(spec)

	_, err = env.coord.Recommend("routing", "t", bandit.Context{}, nil)
	if !errors.Is(err, compassErrors.ErrInvalidInput) {
		t.Errorf("empty candidates error = %v, want invalid input", err)
	}

	d, err := env.coord.Recommend("routing", "t", bandit.Context{}, []bandit.Action{"a", "b"})
	if err != nil {
		t.Fatalf("shadow failure surfaced: %v", err)
	}
	if _, ok := d.Shadow["variant_a"]; ok {
		t.Error("failed shadow variant should be omitted")
	}
	if d.Shadow["variant_b"] != "b" {
		t.Errorf("Shadow = %v", d.Shadow)
	}
}

func TestRoutingScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	feed(env.coord, "baseline", 1000, 700)
	feed(env.coord, "variant_a", 500, 400)
	feed(env.coord, "variant_b", 500, 300)

	s, err := env.coord.Summary("routing")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.Baseline.Stats.Count != 1000 || math.Abs(s.Baseline.Stats.Mean-0.7) > 1e-9 {
		t.Errorf("baseline stats = %+v", s.Baseline.Stats)
	}

	a, _ := s.Variant("variant_a")
	if math.Abs(a.RelativeImprovement-0.142857) > 1e-3 {
		t.Errorf("variant_a improvement = %v, want about 0.143", a.RelativeImprovement)
	}
	if a.Verdict != VerdictPromote || a.Phase != PhaseActive {
		t.Errorf("variant_a verdict=%q phase=%s, want promote/active", a.Verdict, a.Phase)
	}
	if a.ZScore <= 0 || a.PValue >= 0.05 {
		t.Errorf("variant_a z=%v p=%v", a.ZScore, a.PValue)
	}
	if a.TransitionedAt == nil {
		t.Error("variant_a has no transition time")
	}

	b, _ := s.Variant("variant_b")
	if math.Abs(b.RelativeImprovement+0.142857) > 1e-3 {
		t.Errorf("variant_b change = %v, want about -0.143", b.RelativeImprovement)
	}
	if b.Verdict != VerdictRollback || b.Phase != PhaseRolledBack {
		t.Errorf("variant_b verdict=%q phase=%s, want rollback/rolled_back", b.Verdict, b.Phase)
	}

	if s.Phase != PhaseActive {
		t.Errorf("experiment phase = %s, want active", s.Phase)
	}
	if len(s.Recommendations) != 2 {
		t.Errorf("Recommendations = %v", s.Recommendations)
	}

	for variant, phase := range map[string]string{"variant_a": "active", "variant_b": "rolled_back"} {
		got := env.sink.Total(metrics.PhaseTransitionsTotal, metrics.Labels{
			metrics.LabelVariant: variant,
			metrics.LabelPhase:   phase,
		})
		if got != 1 {
			t.Errorf("phase_transitions_total{%s,%s} = %v, want 1", variant, phase, got)
		}
	}

	env.recorder.Close()
	transitions, _ := env.store.Query(context.Background(), &ledger.Query{Domain: "routing"})
	if len(transitions) != 2 {
		t.Fatalf("ledger holds %d transitions, want 2", len(transitions))
	}
	for _, tr := range transitions {
		if tr.ExperimentID != s.ExperimentID || tr.Trigger != ledger.TriggerAutomatic || tr.Samples != 500 {
			t.Errorf("unexpected transition %+v", tr)
		}
	}
}

func TestNoTransitionBeforeThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	feed(env.coord, "baseline", 1000, 700)
	feed(env.coord, "variant_a", 499, 499)

	a, _ := mustSummary(t, env.coord).Variant("variant_a")
	if a.Phase != PhaseShadow || a.Verdict != VerdictKeepCollecting {
		t.Errorf("phase=%s verdict=%q, want shadow/keep_collecting", a.Phase, a.Verdict)
	}
}

func TestTransitionWaitsForBaseline(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	feed(env.coord, "variant_a", 500, 450)
	feed(env.coord, "baseline", 99, 69)
	if a, _ := mustSummary(t, env.coord).Variant("variant_a"); a.Phase != PhaseShadow {
		t.Fatalf("variant promoted with %d baseline samples", 99)
	}

	// The candidate gets no new samples; the next baseline reward triggers
	// its evaluation.
	env.coord.RecordMetrics("routing", "baseline", 1, nil, nil)
	if a, _ := mustSummary(t, env.coord).Variant("variant_a"); a.Phase != PhaseActive {
		t.Errorf("phase = %s, want active once the baseline has enough samples", a.Phase)
	}
}

func TestZeroBaselineMean(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	feed(env.coord, "baseline", 1000, 0)
	feed(env.coord, "variant_a", 500, 400)

	a, _ := mustSummary(t, env.coord).Variant("variant_a")
	if a.Phase != PhaseShadow {
		t.Errorf("phase = %s, want shadow", a.Phase)
	}
	if a.Verdict != VerdictInconclusive || a.Reason == "" {
		t.Errorf("verdict=%q reason=%q, want inconclusive with a reason", a.Verdict, a.Reason)
	}
}

func TestRecordMetrics_Drops(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	env.coord.RecordMetrics("routing", "nobody", 1, nil, nil)
	env.coord.RecordMetrics("routing", "variant_a", math.NaN(), nil, nil)
	env.coord.RecordMetrics("routing", "variant_a", math.Inf(1), nil, nil)
	env.coord.RecordMetrics("elsewhere", "variant_a", 1, nil, nil)

	s := mustSummary(t, env.coord)
	if s.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", s.Dropped)
	}
	a, _ := s.Variant("variant_a")
	if a.Stats.Count != 0 {
		t.Errorf("variant_a count = %d, want 0", a.Stats.Count)
	}
	if got := env.sink.Total(metrics.RecordsDroppedTotal, metrics.Labels{metrics.LabelDomain: "routing"}); got != 3 {
		t.Errorf("records_dropped_total{routing} = %v, want 3", got)
	}
	if got := env.sink.Total(metrics.RecordsDroppedTotal, metrics.Labels{metrics.LabelDomain: "elsewhere"}); got != 1 {
		t.Errorf("records_dropped_total{elsewhere} = %v, want 1", got)
	}
}

func TestRecordMetrics_ForwardsDiagnostics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	policy := &fixedPolicy{action: "a"}
	env.coord.RecordMetrics("routing", "variant_a", 0.5, bandit.Context{"x": 1}, policy)

	labels := metrics.Labels{metrics.LabelDomain: "routing", metrics.LabelVariant: "variant_a"}
	if got := env.sink.Total(metrics.RewardsTotal, labels); got != 1 {
		t.Errorf("rewards_total = %v, want 1", got)
	}
	if v, ok := env.sink.Last(metrics.RewardValue, labels); !ok || v != 0.5 {
		t.Errorf("reward_value = %v, %v", v, ok)
	}
	if v, ok := env.sink.Last(metrics.ModelMSE, labels); !ok || v != 0.25 {
		t.Errorf("model_mse = %v, %v", v, ok)
	}
	if v, ok := env.sink.Last(metrics.ImportanceWeight, labels); !ok || v != 1 {
		t.Errorf("importance_weight = %v, %v", v, ok)
	}
	if _, ok := env.sink.Last(metrics.TreeDepth, labels); ok {
		t.Error("tree_depth emitted for a non-tree policy")
	}

	a, _ := mustSummary(t, env.coord).Variant("variant_a")
	if a.Diagnostics == nil || a.Diagnostics.ModelMSE != 0.25 {
		t.Errorf("Diagnostics = %+v", a.Diagnostics)
	}
}

func TestObserve_ReportsDecisionTimeDepth(t *testing.T) {
	env := newTestEnv(t, nil)
	tree := &growingTree{fixedPolicy: fixedPolicy{action: "a"}}
	tree.depth.Store(2)
	shadowTree := &growingTree{fixedPolicy: fixedPolicy{action: "a"}}
	shadowTree.depth.Store(4)

	spec := routingSpec()
	spec.Baseline.Policy = tree
	spec.Candidates[0].Policy = shadowTree
	if _, err := env.coord.RegisterExperiment(spec); err != nil {
		t.Fatal(err)
	}

	ctx := bandit.Context{"x": 1}
	d, err := env.coord.Recommend("routing", "t", ctx, []bandit.Action{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.DecisionDepth("baseline"); got != 2 {
		t.Errorf("baseline decision depth = %d, want 2", got)
	}
	if got := d.DecisionDepth("variant_b"); got != -1 {
		t.Errorf("non-tree variant depth = %d, want -1", got)
	}

	if err := env.coord.Observe(d, 1, ctx, 1); err != nil {
		t.Fatal(err)
	}
	if tree.depth.Load() != 3 {
		t.Fatalf("tree depth after update = %d, want 3", tree.depth.Load())
	}

	tests := []struct {
		variant string
		want    float64
	}{
		{"baseline", 2},
		{"variant_a", 4},
	}
	for _, tt := range tests {
		labels := metrics.Labels{metrics.LabelDomain: "routing", metrics.LabelVariant: tt.variant}
		if v, ok := env.sink.Last(metrics.TreeDepth, labels); !ok || v != tt.want {
			t.Errorf("tree_depth{%s} = %v, %v; want %v", tt.variant, v, ok, tt.want)
		}
	}
}

func TestRecordMetrics_SinkErrorsIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sink.Err = errors.New("backend down")
	env.coord.RegisterExperiment(routingSpec())

	env.coord.RecordMetrics("routing", "variant_a", 1, nil, nil)
	d, err := env.coord.Recommend("routing", "t", bandit.Context{}, []bandit.Action{"a"})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if err := env.coord.Observe(d, 1, bandit.Context{}, 1); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if a, _ := mustSummary(t, env.coord).Variant("variant_a"); a.Stats.Count != 2 {
		t.Errorf("variant_a count = %d, want 2", a.Stats.Count)
	}
}

func TestObserve(t *testing.T) {
	env := newTestEnv(t, nil)
	spec := routingSpec()
	env.coord.RegisterExperiment(spec)

	d, err := env.coord.Recommend("routing", "t", bandit.Context{"x": 1}, []bandit.Action{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.coord.Observe(d, 1, bandit.Context{"x": 1}, 0); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	for _, v := range append([]Variant{spec.Baseline}, spec.Candidates...) {
		if got := v.Policy.(*fixedPolicy).updates.Load(); got != 1 {
			t.Errorf("%s received %d updates, want 1", v.Name, got)
		}
	}

	s := mustSummary(t, env.coord)
	a, _ := s.Variant("variant_a")
	b, _ := s.Variant("variant_b")
	if s.Baseline.Stats.Count != 1 || a.Stats.Count != 1 || b.Stats.Count != 0 {
		t.Errorf("counts baseline=%d a=%d b=%d, want 1, 1, 0",
			s.Baseline.Stats.Count, a.Stats.Count, b.Stats.Count)
	}
}

func TestObserve_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	tests := []struct {
		name    string
		d       Decision
		reward  float64
		weight  float64
		wantErr error
	}{
		{name: "unknown domain", d: Decision{Domain: "x", ServedBy: "baseline"}, reward: 1, wantErr: compassErrors.ErrNotFound},
		{name: "unknown variant", d: Decision{Domain: "routing", ServedBy: "ghost"}, reward: 1, wantErr: compassErrors.ErrNotFound},
		{name: "NaN reward", d: Decision{Domain: "routing", ServedBy: "baseline"}, reward: math.NaN(), wantErr: compassErrors.ErrInvalidInput},
		{name: "infinite weight", d: Decision{Domain: "routing", ServedBy: "baseline"}, reward: 1, weight: math.Inf(1), wantErr: compassErrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.coord.Observe(tt.d, tt.reward, bandit.Context{}, tt.weight)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Observe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestActiveVariantRouting(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Engine.Enabled = true
		c.Engine.RolloutPercentage = 1
	})
	spec := routingSpec()
	spec.Candidates[1].Weight = 0.2
	env.coord.RegisterExperiment(spec)

	if err := env.coord.Promote("routing", "variant_b"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	served := map[string]int{}
	first := map[string]string{}
	const tenants = 5000
	for i := 0; i < tenants; i++ {
		tenant := fmt.Sprintf("tenant-%d", i)
		d, err := env.coord.Recommend("routing", tenant, bandit.Context{}, []bandit.Action{"a", "b"})
		if err != nil {
			t.Fatal(err)
		}
		served[d.ServedBy]++
		first[tenant] = d.ServedBy
		if d.ServedBy == "variant_b" && d.Action != "b" {
			t.Fatalf("variant_b served action %q", d.Action)
		}
	}
	if served["variant_a"] != 0 {
		t.Errorf("shadow variant_a served %d requests", served["variant_a"])
	}
	share := float64(served["variant_b"]) / tenants
	if math.Abs(share-0.2) > 0.03 {
		t.Errorf("variant_b share = %v, want about 0.2", share)
	}

	for i := 0; i < 200; i++ {
		tenant := fmt.Sprintf("tenant-%d", i)
		d, _ := env.coord.Recommend("routing", tenant, bandit.Context{}, []bandit.Action{"a", "b"})
		if d.ServedBy != first[tenant] {
			t.Fatalf("tenant %s moved from %s to %s", tenant, first[tenant], d.ServedBy)
		}
	}

	if err := env.coord.Rollback("routing", "variant_b"); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	for i := 0; i < 200; i++ {
		d, _ := env.coord.Recommend("routing", fmt.Sprintf("tenant-%d", i), bandit.Context{}, []bandit.Action{"a", "b"})
		if d.ServedBy != "baseline" {
			t.Fatalf("rolled back variant still serving tenant-%d", i)
		}
		if _, ok := d.Shadow["variant_b"]; ok {
			t.Fatal("rolled back variant still evaluated in shadow")
		}
	}
}

func TestActiveVariantRequiresRollout(t *testing.T) {
	env := newTestEnv(t, nil)
	spec := routingSpec()
	spec.Candidates[0].Weight = 1
	spec.Candidates[1].Weight = 0
	env.coord.RegisterExperiment(spec)
	env.coord.Promote("routing", "variant_a")

	for i := 0; i < 100; i++ {
		d, _ := env.coord.Recommend("routing", fmt.Sprintf("tenant-%d", i), bandit.Context{}, []bandit.Action{"a"})
		if d.ServedBy != "baseline" {
			t.Fatalf("engine disabled but %s served", d.ServedBy)
		}
	}
}

func TestOperatorActions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{name: "unknown domain", call: func() error { return env.coord.Rollback("x", "variant_a") }, wantErr: compassErrors.ErrNotFound},
		{name: "unknown variant", call: func() error { return env.coord.Rollback("routing", "ghost") }, wantErr: compassErrors.ErrNotFound},
		{name: "baseline", call: func() error { return env.coord.Rollback("routing", "baseline") }, wantErr: compassErrors.ErrInvalidInput},
		{name: "rollback", call: func() error { return env.coord.Rollback("routing", "variant_a") }},
		{name: "rollback twice", call: func() error { return env.coord.Rollback("routing", "variant_a") }, wantErr: compassErrors.ErrConflict},
		{name: "promote rolled back", call: func() error { return env.coord.Promote("routing", "variant_a") }, wantErr: compassErrors.ErrConflict},
		{name: "promote", call: func() error { return env.coord.Promote("routing", "variant_b") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	env.recorder.Close()
	transitions, _ := env.store.Query(context.Background(), &ledger.Query{Domain: "routing"})
	if len(transitions) != 2 {
		t.Fatalf("ledger holds %d transitions, want 2", len(transitions))
	}
	for _, tr := range transitions {
		if tr.Trigger != ledger.TriggerOperator {
			t.Errorf("trigger = %q, want operator", tr.Trigger)
		}
	}
}

func TestUnregister(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterExperiment(routingSpec())

	if err := env.coord.Unregister("routing"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if env.coord.Has("routing") {
		t.Error("experiment still registered")
	}
	if err := env.coord.Unregister("routing"); !errors.Is(err, compassErrors.ErrNotFound) {
		t.Errorf("second Unregister() error = %v, want not found", err)
	}
	if _, err := env.coord.Summary("routing"); !errors.Is(err, compassErrors.ErrNotFound) {
		t.Errorf("Summary() error = %v, want not found", err)
	}
	if _, err := env.coord.RegisterExperiment(routingSpec()); err != nil {
		t.Errorf("re-register after Unregister: %v", err)
	}
}

func TestConcurrentRecordMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	spec := routingSpec()
	spec.ShadowSampleThreshold = 1 << 30
	env.coord.RegisterExperiment(spec)

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			variant := []string{"baseline", "variant_a", "variant_b"}[w%3]
			for i := 0; i < perWorker; i++ {
				env.coord.RecordMetrics("routing", variant, float64(i%2), nil, nil)
				if i%50 == 0 {
					env.coord.Recommend("routing", "t", bandit.Context{}, []bandit.Action{"a", "b"})
				}
			}
		}(w)
	}
	wg.Wait()

	s := mustSummary(t, env.coord)
	total := s.Baseline.Stats.Count
	for _, v := range s.Variants {
		total += v.Stats.Count
	}
	if total != workers*perWorker {
		t.Errorf("recorded %d rewards, want %d", total, workers*perWorker)
	}
	if math.Abs(s.Baseline.Stats.Mean-0.5) > 1e-9 {
		t.Errorf("baseline mean = %v, want 0.5", s.Baseline.Stats.Mean)
	}
}

func TestPhaseText(t *testing.T) {
	for _, p := range []Phase{PhaseShadow, PhaseActive, PhaseRolledBack} {
		text, _ := p.MarshalText()
		var back Phase
		if err := back.UnmarshalText(text); err != nil || back != p {
			t.Errorf("round trip of %s gave %s, %v", p, back, err)
		}
	}
	var p Phase
	if err := p.UnmarshalText([]byte("retired")); err == nil {
		t.Error("unknown phase accepted")
	}
}

func mustSummary(t *testing.T, c *Coordinator) *Summary {
	t.Helper()
	s, err := c.Summary("routing")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	return s
}
