package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
	"mercator-hq/compass/pkg/experiment"
	"mercator-hq/compass/pkg/policyfactory"
	"mercator-hq/compass/pkg/snapshot"
	"mercator-hq/compass/pkg/telemetry/logging"
	"mercator-hq/compass/pkg/telemetry/metrics"
)

// DefaultVariant labels decisions of domains without an experiment.
const DefaultVariant = "default"

// Request is one decision request.
type Request struct {
	Domain     string
	Tenant     string
	Context    bandit.Context
	Candidates []bandit.Action
}

// Candidate describes a variant to evaluate against a domain's policy.
type Candidate struct {
	Name string

	// Algorithm selects the candidate's algorithm. Empty means the
	// domain's configured algorithm.
	Algorithm string

	// Weight is the traffic share once the candidate is active.
	Weight float64

	// Config overrides the domain configuration for this candidate.
	Config *config.DomainConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithSink sets the metrics sink.
func WithSink(s metrics.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithSnapshots enables Export and Restore. retain bounds the snapshots
// kept per domain.
func WithSnapshots(b snapshot.Backend, retain int) Option {
	return func(e *Engine) {
		e.snapshots = b
		e.retain = retain
	}
}

// WithRecorder writes experiment phase transitions to r.
func WithRecorder(r experiment.TransitionRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// Engine serves decisions for every domain.
type Engine struct {
	registry  *config.Registry
	manager   *policyfactory.Manager
	coord     *experiment.Coordinator
	sink      metrics.Sink
	snapshots snapshot.Backend
	retain    int
	recorder  experiment.TransitionRecorder
	logger    *logging.Logger
	warn      *logging.Throttled
}

// New creates an engine over registry.
func New(registry *config.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	e := &Engine{
		registry: registry,
		sink:     metrics.NopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		l, err := logging.New(logging.Config{})
		if err != nil {
			return nil, err
		}
		e.logger = l
	}
	e.logger = e.logger.With("component", "engine")

	e.manager = policyfactory.NewManager(registry, policyfactory.WithManagerLogger(e.logger.Slog()))
	coordOpts := []experiment.Option{experiment.WithLogger(e.logger.Slog())}
	if e.recorder != nil {
		coordOpts = append(coordOpts, experiment.WithRecorder(e.recorder))
	}
	e.coord = experiment.NewCoordinator(registry, e.sink, coordOpts...)
	e.warn = logging.NewThrottled(e.logger.Slog(), time.Second, 10)
	return e, nil
}

// Recommend returns the action for req.
func (e *Engine) Recommend(ctx context.Context, req Request) (experiment.Decision, error) {
	if e.coord.Has(req.Domain) {
		return e.coord.Recommend(req.Domain, req.Tenant, req.Context, req.Candidates)
	}

	p, err := e.manager.Get(req.Domain)
	if err != nil {
		return experiment.Decision{}, err
	}
	action, err := p.Recommend(req.Context, req.Candidates)
	if err != nil {
		ctx = logging.WithTenant(logging.WithDomain(ctx, req.Domain), req.Tenant)
		e.logger.DebugContext(ctx, "recommend rejected", "error", err)
		return experiment.Decision{}, err
	}

	e.count(metrics.DecisionsTotal, 1, metrics.Labels{
		metrics.LabelDomain:  req.Domain,
		metrics.LabelVariant: DefaultVariant,
		metrics.LabelAction:  string(action),
	})
	return experiment.Decision{
		Domain:   req.Domain,
		Tenant:   req.Tenant,
		Action:   action,
		ServedBy: DefaultVariant,
		Depths:   experiment.RecordDepth(nil, DefaultVariant, p, req.Context),
	}, nil
}

// Observe learns from the reward of an executed decision. A weight of zero
// means 1.
func (e *Engine) Observe(ctx context.Context, d experiment.Decision, reward float64, bctx bandit.Context, weight float64) error {
	if d.ExperimentID != "" && e.coord.Has(d.Domain) {
		return e.coord.Observe(d, reward, bctx, weight)
	}

	p, err := e.manager.Get(d.Domain)
	if err != nil {
		return err
	}
	if weight == 0 {
		weight = 1
	}
	if err := p.UpdateWithImportanceWeight(d.Action, reward, bctx, weight); err != nil {
		return err
	}

	labels := metrics.Labels{metrics.LabelDomain: d.Domain, metrics.LabelVariant: DefaultVariant}
	e.count(metrics.RewardsTotal, 1, labels)
	e.observe(metrics.RewardValue, reward, labels)
	diag := p.Diagnostics()
	e.observe(metrics.ModelMSE, diag.ModelMSE, labels)
	e.observe(metrics.ImportanceWeight, diag.MeanImportanceWeight, labels)
	e.observe(metrics.ConfidenceWidth, diag.ConfidenceWidth, labels)
	if diag.Algorithm == config.AlgorithmPartitioner {
		depth := diag.DecisionDepth
		if dd := d.DecisionDepth(DefaultVariant); dd >= 0 {
			depth = dd
		}
		e.observe(metrics.TreeDepth, float64(depth), labels)
	}
	return nil
}

// StartExperiment registers an experiment for domain. The domain's current
// policy is the baseline; each candidate gets a fresh policy.
func (e *Engine) StartExperiment(domain string, candidates []Candidate, threshold int) (string, error) {
	const op = "engine.StartExperiment"

	baseline, err := e.manager.Get(domain)
	if err != nil {
		return "", err
	}

	spec := experiment.Spec{
		Domain:                domain,
		Baseline:              experiment.Variant{Name: "baseline", Policy: baseline},
		ShadowSampleThreshold: threshold,
	}
	for _, c := range candidates {
		dc := e.registry.GetConfig(domain)
		if c.Config != nil {
			dc = *c.Config
			config.ApplyDomainDefaults(&dc, e.registry.Config())
			if err := config.ValidateDomainConfig(dc); err != nil {
				return "", compassErrors.Wrap(compassErrors.KindConfiguration, op, err)
			}
		}
		p, err := policyfactory.New(c.Algorithm, dc, policyfactory.WithLogger(e.logger.Slog()))
		if err != nil {
			return "", err
		}
		spec.Candidates = append(spec.Candidates, experiment.Variant{Name: c.Name, Policy: p, Weight: c.Weight})
	}
	return e.coord.RegisterExperiment(spec)
}

// Coordinator returns the experiment coordinator.
func (e *Engine) Coordinator() *experiment.Coordinator {
	return e.coord
}

// Registry returns the config registry.
func (e *Engine) Registry() *config.Registry {
	return e.registry
}

// Domains lists the domains with a live policy.
func (e *Engine) Domains() []string {
	return e.manager.Domains()
}

// Diagnostics returns the diagnostics of every live policy.
func (e *Engine) Diagnostics() map[string]bandit.Diagnostics {
	return e.manager.Diagnostics()
}

// ExportState exports the domain's policy.
func (e *Engine) ExportState(domain string) (*bandit.State, error) {
	p, ok := e.manager.Lookup(domain)
	if !ok {
		return nil, compassErrors.NotFound("engine.ExportState", "no policy for domain %q", domain)
	}
	return p.ExportState()
}

// ImportState replaces the domain's learned state, creating its policy if
// needed.
func (e *Engine) ImportState(domain string, state *bandit.State) error {
	p, err := e.manager.Get(domain)
	if err != nil {
		return err
	}
	return p.ImportState(state)
}

// Reload applies a new configuration and rebuilds the live policies.
func (e *Engine) Reload(cfg *config.Config) error {
	if err := e.registry.Reload(cfg); err != nil {
		return err
	}
	return e.Rebuild()
}

// Rebuild rebuilds every live policy from the registry's current
// configuration. Domains with a running experiment keep their policy until
// the experiment is stopped.
func (e *Engine) Rebuild() error {
	var errs []error
	for _, domain := range e.manager.Domains() {
		if e.coord.Has(domain) {
			e.logger.Info("policy rebuild deferred", "domain", domain, "reason", "experiment running")
			continue
		}
		if _, err := e.manager.Rebuild(domain); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetDomainConfig installs a runtime override for the domain and rebuilds
// its live policy. A domain with a running experiment keeps its policy
// until the experiment is stopped.
func (e *Engine) SetDomainConfig(domain string, dc config.DomainConfig) error {
	if err := e.registry.SetDomainConfig(domain, dc); err != nil {
		return err
	}
	if _, ok := e.manager.Lookup(domain); !ok {
		return nil
	}
	if e.coord.Has(domain) {
		e.logger.Info("policy rebuild deferred", "domain", domain, "reason", "experiment running")
		return nil
	}
	_, err := e.manager.Rebuild(domain)
	return err
}

// StopExperiment unregisters the domain's experiment. When promote names a
// candidate, that candidate's policy replaces the domain's policy.
func (e *Engine) StopExperiment(domain, promote string) error {
	const op = "engine.StopExperiment"
	if promote != "" {
		p, ok := e.coord.Policy(domain, promote)
		if !ok {
			return compassErrors.NotFound(op, "no variant %q in experiment for domain %q", promote, domain)
		}
		e.manager.Set(domain, p)
	}
	if err := e.coord.Unregister(domain); err != nil {
		return err
	}
	e.logger.Info("experiment stopped", "domain", domain, "promoted", promote)
	return nil
}

// Export saves a snapshot of every live policy.
func (e *Engine) Export(ctx context.Context) ([]snapshot.Meta, error) {
	if e.snapshots == nil {
		return nil, compassErrors.Configuration("engine.Export", "no snapshot backend configured")
	}
	saved, err := snapshot.SaveAll(ctx, e.snapshots, e, e.retain)
	e.logger.InfoContext(ctx, "policy states exported", "domains", len(saved))
	return saved, err
}

// Restore imports the latest snapshot of the given domains, or of every
// domain in the backend when domains is empty.
func (e *Engine) Restore(ctx context.Context, domains ...string) ([]string, error) {
	if e.snapshots == nil {
		return nil, compassErrors.Configuration("engine.Restore", "no snapshot backend configured")
	}
	if len(domains) == 0 {
		var err error
		if domains, err = snapshot.Domains(ctx, e.snapshots); err != nil {
			return nil, err
		}
	}
	restored, err := snapshot.RestoreAll(ctx, e.snapshots, e, domains)
	e.logger.InfoContext(ctx, "policy states restored", "domains", len(restored))
	return restored, err
}

func (e *Engine) count(name string, value float64, labels metrics.Labels) {
	if err := e.sink.Count(name, value, labels); err != nil {
		e.warn.Warn("metrics sink count failed", "metric", name, "error", err)
	}
}

func (e *Engine) observe(name string, value float64, labels metrics.Labels) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	if err := e.sink.Observe(name, value, labels); err != nil {
		e.warn.Warn("metrics sink observe failed", "metric", name, "error", err)
	}
}
