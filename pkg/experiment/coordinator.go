package experiment

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
	"mercator-hq/compass/pkg/ledger"
	"mercator-hq/compass/pkg/telemetry/logging"
	"mercator-hq/compass/pkg/telemetry/metrics"
)

// TransitionRecorder persists phase transitions. *ledger.Recorder
// implements it.
type TransitionRecorder interface {
	Record(t *ledger.Transition) bool
}

// depthReporter is implemented by policies that route a context through a
// tree.
type depthReporter interface {
	DepthOf(ctx bandit.Context) int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder writes every phase transition to r.
func WithRecorder(r TransitionRecorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator owns the experiments of every domain.
type Coordinator struct {
	registry *config.Registry
	sink     metrics.Sink
	recorder TransitionRecorder
	logger   *slog.Logger
	warn     *logging.Throttled
	now      func() time.Time

	mu          sync.RWMutex
	experiments map[string]*experimentRecord
}

type experimentRecord struct {
	id         string
	domain     string
	createdAt  time.Time
	threshold  int
	baseline   *variantState
	candidates []*variantState
	byName     map[string]*variantState
	dropped    atomic.Int64
}

type variantState struct {
	name     string
	policy   bandit.Policy
	weight   float64
	baseline bool
	phase    atomic.Int32

	mu             sync.Mutex
	stats          welford
	diag           *bandit.Diagnostics
	transitionedAt time.Time
}

func (v *variantState) currentPhase() Phase {
	return Phase(v.phase.Load())
}

func (v *variantState) snapshot() welford {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// NewCoordinator creates a coordinator reading thresholds from registry.
// A nil sink discards metrics.
func NewCoordinator(registry *config.Registry, sink metrics.Sink, opts ...Option) *Coordinator {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c := &Coordinator{
		registry:    registry,
		sink:        sink,
		logger:      slog.Default(),
		now:         time.Now,
		experiments: make(map[string]*experimentRecord),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "experiment.coordinator")
	c.warn = logging.NewThrottled(c.logger, time.Second, 10)
	return c
}

// RegisterExperiment creates a shadow-phase experiment for spec.Domain and
// returns its id. A domain holds at most one experiment; registering it
// again fails with a conflict and keeps the original.
func (c *Coordinator) RegisterExperiment(spec Spec) (string, error) {
	const op = "experiment.RegisterExperiment"

	if err := validateSpec(op, spec); err != nil {
		return "", err
	}

	threshold := spec.ShadowSampleThreshold
	if threshold <= 0 {
		threshold = c.registry.GetConfig(spec.Domain).Experiment.ShadowSampleThreshold
	}

	rec := &experimentRecord{
		id:        uuid.NewString(),
		domain:    spec.Domain,
		createdAt: c.now().UTC(),
		threshold: threshold,
		byName:    make(map[string]*variantState, len(spec.Candidates)+1),
	}
	rec.baseline = &variantState{name: spec.Baseline.Name, policy: spec.Baseline.Policy, weight: 1, baseline: true}
	rec.baseline.phase.Store(int32(PhaseActive))
	rec.byName[rec.baseline.name] = rec.baseline
	for _, v := range spec.Candidates {
		vs := &variantState{name: v.Name, policy: v.Policy, weight: v.Weight}
		rec.candidates = append(rec.candidates, vs)
		rec.byName[vs.name] = vs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.experiments[spec.Domain]; ok {
		return "", compassErrors.Conflict(op, "domain %q already has experiment %s", spec.Domain, existing.id)
	}
	c.experiments[spec.Domain] = rec

	c.logger.Info("experiment registered",
		"experiment_id", rec.id,
		"domain", rec.domain,
		"baseline", rec.baseline.name,
		"candidates", len(rec.candidates),
		"shadow_sample_threshold", threshold,
	)
	return rec.id, nil
}

func validateSpec(op string, spec Spec) error {
	if spec.Domain == "" {
		return compassErrors.InvalidInput(op, "domain is required")
	}
	if spec.Baseline.Name == "" {
		return compassErrors.InvalidInput(op, "baseline name is required")
	}
	if spec.Baseline.Policy == nil {
		return compassErrors.InvalidInput(op, "baseline %q has no policy", spec.Baseline.Name)
	}
	if len(spec.Candidates) == 0 {
		return compassErrors.InvalidInput(op, "at least one candidate variant is required")
	}

	seen := map[string]bool{spec.Baseline.Name: true}
	var total float64
	for _, v := range spec.Candidates {
		if v.Name == "" {
			return compassErrors.InvalidInput(op, "candidate name is required")
		}
		if seen[v.Name] {
			return compassErrors.InvalidInput(op, "duplicate variant name %q", v.Name)
		}
		seen[v.Name] = true
		if !bandit.Finite(v.Weight) || v.Weight < 0 || v.Weight > 1 {
			return compassErrors.InvalidInput(op, "variant %q weight %v is outside [0, 1]", v.Name, v.Weight)
		}
		total += v.Weight
	}
	if total > 1+1e-9 {
		return compassErrors.InvalidInput(op, "candidate weights sum to %v, must not exceed 1", total)
	}
	return nil
}

// Unregister removes the domain's experiment.
func (c *Coordinator) Unregister(domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.experiments[domain]; !ok {
		return compassErrors.NotFound("experiment.Unregister", "no experiment for domain %q", domain)
	}
	delete(c.experiments, domain)
	c.logger.Info("experiment unregistered", "domain", domain)
	return nil
}

// Has reports whether domain has a registered experiment.
func (c *Coordinator) Has(domain string) bool {
	_, ok := c.lookup(domain)
	return ok
}

// Domains returns the domains with a registered experiment, sorted.
func (c *Coordinator) Domains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.experiments))
	for d := range c.experiments {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Policy returns the policy of a variant in the domain's experiment.
func (c *Coordinator) Policy(domain, variant string) (bandit.Policy, bool) {
	rec, ok := c.lookup(domain)
	if !ok {
		return nil, false
	}
	v, ok := rec.byName[variant]
	if !ok || v.policy == nil {
		return nil, false
	}
	return v.policy, true
}

func (c *Coordinator) lookup(domain string) (*experimentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.experiments[domain]
	return rec, ok
}

// Recommend picks the serving variant and returns its action. Shadow
// choices of the other variants are collected for comparison; their
// errors are logged and never returned.
func (c *Coordinator) Recommend(domain, tenant string, ctx bandit.Context, candidates []bandit.Action) (Decision, error) {
	const op = "experiment.Recommend"

	rec, ok := c.lookup(domain)
	if !ok {
		return Decision{}, compassErrors.NotFound(op, "no experiment for domain %q", domain)
	}

	serving := rec.baseline
	if c.registry.IsEnabledFor(domain, tenant) {
		serving = rec.route(tenant)
	}

	action, err := serving.policy.Recommend(ctx, candidates)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		ExperimentID: rec.id,
		Domain:       domain,
		Tenant:       tenant,
		Action:       action,
		ServedBy:     serving.name,
		Shadow:       c.shadowChoices(rec, serving, ctx, candidates),
	}
	d.Depths = RecordDepth(d.Depths, serving.name, serving.policy, ctx)
	for name := range d.Shadow {
		d.Depths = RecordDepth(d.Depths, name, rec.byName[name].policy, ctx)
	}

	c.count(metrics.DecisionsTotal, 1, metrics.Labels{
		metrics.LabelDomain:  domain,
		metrics.LabelVariant: serving.name,
		metrics.LabelAction:  string(action),
	})
	return d, nil
}

// route maps tenant to an active candidate by cumulative traffic weight.
// The bucket is stable for a given experiment and tenant; mass not claimed
// by active candidates stays with the baseline.
func (r *experimentRecord) route(tenant string) *variantState {
	bucket := config.RolloutBucket(r.id, r.domain, tenant)
	var cumulative float64
	for _, v := range r.candidates {
		if v.policy == nil || v.currentPhase() != PhaseActive {
			continue
		}
		cumulative += v.weight
		if bucket < cumulative {
			return v
		}
	}
	return r.baseline
}

func (c *Coordinator) shadowChoices(rec *experimentRecord, serving *variantState, ctx bandit.Context, candidates []bandit.Action) map[string]bandit.Action {
	var shadows []*variantState
	for _, v := range append([]*variantState{rec.baseline}, rec.candidates...) {
		if v == serving || v.policy == nil || v.currentPhase() == PhaseRolledBack {
			continue
		}
		shadows = append(shadows, v)
	}
	if len(shadows) == 0 {
		return nil
	}

	choices := make([]bandit.Action, len(shadows))
	var g errgroup.Group
	for i, v := range shadows {
		g.Go(func() error {
			a, err := v.policy.Recommend(ctx, candidates)
			if err != nil {
				c.warn.Warn("shadow recommend failed",
					"domain", rec.domain,
					"variant", v.name,
					"error", err,
				)
				return nil
			}
			choices[i] = a
			return nil
		})
	}
	g.Wait()

	out := make(map[string]bandit.Action, len(shadows))
	for i, v := range shadows {
		if choices[i] != "" {
			out[v.name] = choices[i]
		}
	}
	return out
}

// RecordDepth adds the leaf depth ctx reaches in policy to depths under
// variant when policy is a tree. It returns the possibly allocated map.
func RecordDepth(depths map[string]int, variant string, policy bandit.Policy, ctx bandit.Context) map[string]int {
	dr, ok := policy.(depthReporter)
	if !ok {
		return depths
	}
	if depths == nil {
		depths = make(map[string]int, 1)
	}
	depths[variant] = dr.DepthOf(ctx)
	return depths
}

// Observe feeds the reward for d to every variant's policy and records
// metrics for the serving variant and for each shadow variant whose choice
// matched the executed action. A weight of zero means 1. Errors from the
// serving policy are returned; the others are logged.
func (c *Coordinator) Observe(d Decision, reward float64, ctx bandit.Context, weight float64) error {
	const op = "experiment.Observe"

	rec, ok := c.lookup(d.Domain)
	if !ok {
		return compassErrors.NotFound(op, "no experiment for domain %q", d.Domain)
	}
	serving, ok := rec.byName[d.ServedBy]
	if !ok {
		return compassErrors.NotFound(op, "domain %q has no variant %q", d.Domain, d.ServedBy)
	}
	if weight == 0 {
		weight = 1
	}
	if err := bandit.ValidateObservation(op, reward, weight); err != nil {
		return err
	}
	if serving.policy != nil {
		if err := serving.policy.UpdateWithImportanceWeight(d.Action, reward, ctx, weight); err != nil {
			return err
		}
	}

	for _, v := range rec.byName {
		if v == serving || v.policy == nil {
			continue
		}
		if err := v.policy.UpdateWithImportanceWeight(d.Action, reward, ctx, weight); err != nil {
			c.warn.Warn("variant update failed",
				"domain", d.Domain,
				"variant", v.name,
				"error", err,
			)
		}
	}

	c.record(d.Domain, serving.name, reward, serving.policy, d.DecisionDepth(serving.name))
	for name, choice := range d.Shadow {
		if choice != d.Action {
			continue
		}
		if v, ok := rec.byName[name]; ok {
			c.record(d.Domain, name, reward, v.policy, d.DecisionDepth(name))
		}
	}
	return nil
}

// RecordMetrics adds reward to the variant's statistics, forwards reward
// and policy diagnostics to the sink and evaluates phase transitions.
// For a tree policy the reported depth is the leaf ctx reaches now, so
// callers should record before updating the policy.
// Unknown domains or variants and non-finite rewards are logged and
// dropped. It never fails.
func (c *Coordinator) RecordMetrics(domain, variant string, reward float64, ctx bandit.Context, policy bandit.Policy) {
	depth := -1
	if dr, ok := policy.(depthReporter); ok && ctx != nil {
		depth = dr.DepthOf(ctx)
	}
	c.record(domain, variant, reward, policy, depth)
}

// record is RecordMetrics with the decision depth already resolved; a
// negative depth keeps the one the policy last reported.
func (c *Coordinator) record(domain, variant string, reward float64, policy bandit.Policy, depth int) {
	rec, ok := c.lookup(domain)
	if !ok {
		c.drop(nil, domain, variant, "unknown domain")
		return
	}
	v, ok := rec.byName[variant]
	if !ok {
		c.drop(rec, domain, variant, "unknown variant")
		return
	}
	if !bandit.Finite(reward) {
		c.drop(rec, domain, variant, "non-finite reward")
		return
	}

	var diag *bandit.Diagnostics
	if policy != nil {
		d := policy.Diagnostics()
		if depth >= 0 {
			d.DecisionDepth = depth
		}
		diag = &d
	}

	v.mu.Lock()
	v.stats.add(reward)
	if diag != nil {
		v.diag = diag
	}
	v.mu.Unlock()

	labels := metrics.Labels{metrics.LabelDomain: domain, metrics.LabelVariant: variant}
	c.count(metrics.RewardsTotal, 1, labels)
	c.observe(metrics.RewardValue, reward, labels)
	if diag != nil {
		c.observe(metrics.ModelMSE, diag.ModelMSE, labels)
		c.observe(metrics.ImportanceWeight, diag.MeanImportanceWeight, labels)
		c.observe(metrics.ConfidenceWidth, diag.ConfidenceWidth, labels)
		if diag.Algorithm == config.AlgorithmPartitioner {
			c.observe(metrics.TreeDepth, float64(diag.DecisionDepth), labels)
		}
	}

	if v.baseline {
		for _, cand := range rec.candidates {
			c.maybeTransition(rec, cand)
		}
		return
	}
	c.maybeTransition(rec, v)
}

func (c *Coordinator) drop(rec *experimentRecord, domain, variant, reason string) {
	if rec != nil {
		rec.dropped.Add(1)
	}
	c.count(metrics.RecordsDroppedTotal, 1, metrics.Labels{metrics.LabelDomain: domain})
	c.warn.Warn("dropping experiment metrics",
		"domain", domain,
		"variant", variant,
		"reason", reason,
	)
}

// maybeTransition moves a shadow candidate to active or rolled back when
// the comparison with the baseline is conclusive.
func (c *Coordinator) maybeTransition(rec *experimentRecord, v *variantState) {
	if v.currentPhase() != PhaseShadow {
		return
	}
	cfg := c.registry.GetConfig(rec.domain).Experiment
	base := rec.baseline.snapshot()

	v.mu.Lock()
	ev := evaluate(v.stats, base, rec.threshold, cfg)
	var to Phase
	switch ev.verdict {
	case VerdictPromote:
		to = PhaseActive
	case VerdictRollback:
		to = PhaseRolledBack
	default:
		v.mu.Unlock()
		return
	}
	if !v.phase.CompareAndSwap(int32(PhaseShadow), int32(to)) {
		v.mu.Unlock()
		return
	}
	v.transitionedAt = c.now().UTC()
	stats := v.stats
	v.mu.Unlock()

	c.transitioned(rec, v, PhaseShadow, to, ledger.TriggerAutomatic, ev.reason, stats, base, ev)
}

func (c *Coordinator) transitioned(rec *experimentRecord, v *variantState, from, to Phase, trigger, reason string, stats, base welford, ev evaluation) {
	c.logger.Info("variant phase changed",
		"experiment_id", rec.id,
		"domain", rec.domain,
		"variant", v.name,
		"from", from.String(),
		"to", to.String(),
		"trigger", trigger,
		"reason", reason,
	)
	c.count(metrics.PhaseTransitionsTotal, 1, metrics.Labels{
		metrics.LabelDomain:  rec.domain,
		metrics.LabelVariant: v.name,
		metrics.LabelPhase:   to.String(),
	})

	if c.recorder == nil {
		return
	}
	c.recorder.Record(&ledger.Transition{
		ExperimentID: rec.id,
		Domain:       rec.domain,
		Variant:      v.name,
		From:         from.String(),
		To:           to.String(),
		Trigger:      trigger,
		Reason:       reason,
		Samples:      stats.count,
		Mean:         stats.mean,
		BaselineMean: base.mean,
		Improvement:  ev.improvement,
		ZScore:       ev.z,
		PValue:       ev.p,
		RecordedAt:   c.now().UTC(),
	})
}

// Rollback excludes a candidate from traffic regardless of its statistics.
func (c *Coordinator) Rollback(domain, variant string) error {
	return c.setPhase("experiment.Rollback", domain, variant, PhaseRolledBack)
}

// Promote lets a shadow candidate serve its traffic share regardless of
// its statistics.
func (c *Coordinator) Promote(domain, variant string) error {
	return c.setPhase("experiment.Promote", domain, variant, PhaseActive)
}

func (c *Coordinator) setPhase(op, domain, variant string, to Phase) error {
	rec, ok := c.lookup(domain)
	if !ok {
		return compassErrors.NotFound(op, "no experiment for domain %q", domain)
	}
	v, ok := rec.byName[variant]
	if !ok {
		return compassErrors.NotFound(op, "domain %q has no variant %q", domain, variant)
	}
	if v.baseline {
		return compassErrors.InvalidInput(op, "variant %q is the baseline", variant)
	}

	base := rec.baseline.snapshot()
	v.mu.Lock()
	from := v.currentPhase()
	if from == to {
		v.mu.Unlock()
		return compassErrors.Conflict(op, "variant %q is already %s", variant, to)
	}
	if to == PhaseActive && from == PhaseRolledBack {
		v.mu.Unlock()
		return compassErrors.Conflict(op, "variant %q was rolled back", variant)
	}
	v.phase.Store(int32(to))
	v.transitionedAt = c.now().UTC()
	stats := v.stats
	cfg := c.registry.GetConfig(domain).Experiment
	ev := evaluate(stats, base, rec.threshold, cfg)
	v.mu.Unlock()

	c.transitioned(rec, v, from, to, ledger.TriggerOperator, "operator action", stats, base, ev)
	return nil
}

// Summary reports the domain's experiment. Its recommendations describe
// the statistics and are never applied.
func (c *Coordinator) Summary(domain string) (*Summary, error) {
	rec, ok := c.lookup(domain)
	if !ok {
		return nil, compassErrors.NotFound("experiment.Summary", "no experiment for domain %q", domain)
	}
	cfg := c.registry.GetConfig(domain).Experiment

	s := &Summary{
		ExperimentID:          rec.id,
		Domain:                rec.domain,
		CreatedAt:             rec.createdAt,
		ShadowSampleThreshold: rec.threshold,
		ConfidenceLevel:       cfg.ConfidenceLevel,
		Dropped:               rec.dropped.Load(),
		Variants:              make([]VariantSummary, 0, len(rec.candidates)),
	}

	base := rec.baseline.snapshot()
	s.Baseline = rec.baseline.summary()

	active, rolledBack := 0, 0
	for _, v := range rec.candidates {
		vs := v.summary()
		v.mu.Lock()
		ev := evaluate(v.stats, base, rec.threshold, cfg)
		v.mu.Unlock()

		vs.RelativeImprovement = ev.improvement
		vs.ZScore = ev.z
		vs.PValue = ev.p
		vs.Verdict = ev.verdict
		vs.Reason = ev.reason
		s.Variants = append(s.Variants, vs)
		s.Recommendations = append(s.Recommendations, recommendation(vs))

		switch vs.Phase {
		case PhaseActive:
			active++
		case PhaseRolledBack:
			rolledBack++
		}
	}

	switch {
	case active > 0:
		s.Phase = PhaseActive
	case rolledBack == len(rec.candidates):
		s.Phase = PhaseRolledBack
	default:
		s.Phase = PhaseShadow
	}
	return s, nil
}

func (v *variantState) summary() VariantSummary {
	v.mu.Lock()
	defer v.mu.Unlock()

	vs := VariantSummary{
		Name:   v.name,
		Phase:  v.currentPhase(),
		Weight: v.weight,
		Stats:  v.stats.stats(),
	}
	if v.diag != nil {
		d := *v.diag
		vs.Diagnostics = &d
	}
	if !v.transitionedAt.IsZero() {
		t := v.transitionedAt
		vs.TransitionedAt = &t
	}
	return vs
}

func recommendation(vs VariantSummary) string {
	switch vs.Verdict {
	case VerdictPromote:
		if vs.Phase == PhaseActive {
			return vs.Name + ": promoted, " + vs.Reason
		}
		return vs.Name + ": promote, " + vs.Reason
	case VerdictRollback:
		if vs.Phase == PhaseRolledBack {
			return vs.Name + ": rolled back, " + vs.Reason
		}
		return vs.Name + ": roll back, " + vs.Reason
	case VerdictNoChange:
		return vs.Name + ": no change, " + vs.Reason
	case VerdictInconclusive:
		return vs.Name + ": inconclusive, " + vs.Reason
	default:
		return vs.Name + ": keep collecting, " + vs.Reason
	}
}

func (c *Coordinator) count(name string, value float64, labels metrics.Labels) {
	if err := c.sink.Count(name, value, labels); err != nil {
		c.warn.Warn("metrics sink count failed", "metric", name, "error", err)
	}
}

func (c *Coordinator) observe(name string, value float64, labels metrics.Labels) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	if err := c.sink.Observe(name, value, labels); err != nil {
		c.warn.Warn("metrics sink observe failed", "metric", name, "error", err)
	}
}
