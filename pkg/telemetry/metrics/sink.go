package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metric names understood by every sink.
const (
	DecisionsTotal        = "decisions_total"
	RewardsTotal          = "rewards_total"
	RewardValue           = "reward_value"
	ModelMSE              = "model_mse"
	ImportanceWeight      = "importance_weight"
	TreeDepth             = "tree_depth"
	ConfidenceWidth       = "confidence_width"
	PhaseTransitionsTotal = "phase_transitions_total"
	RecordsDroppedTotal   = "records_dropped_total"
)

// Label names.
const (
	LabelDomain  = "domain"
	LabelVariant = "variant"
	LabelAction  = "action"
	LabelPhase   = "phase"
)

// ErrUnknownMetric is returned by sinks that do not recognize a name.
var ErrUnknownMetric = errors.New("unknown metric")

// Labels are the dimensions of one sample.
type Labels map[string]string

// String renders labels in a stable key order.
func (l Labels) String() string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, l[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Sink receives metric samples. Count adds value to a counter; Observe
// records a point value (histogram observation or gauge setting).
// Implementations must be safe for concurrent use.
type Sink interface {
	Count(name string, value float64, labels Labels) error
	Observe(name string, value float64, labels Labels) error
}

// NopSink discards every sample.
type NopSink struct{}

// Count implements Sink.
func (NopSink) Count(string, float64, Labels) error { return nil }

// Observe implements Sink.
func (NopSink) Observe(string, float64, Labels) error { return nil }

// Kind distinguishes recorded counts from observations.
type Kind string

const (
	KindCount   Kind = "count"
	KindObserve Kind = "observe"
)

// Record is one call captured by a RecordingSink.
type Record struct {
	Kind   Kind
	Name   string
	Value  float64
	Labels Labels
}

// RecordingSink keeps every sample in memory. Err, when set, is returned
// from every call after the sample is recorded.
type RecordingSink struct {
	mu      sync.Mutex
	records []Record
	Err     error
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Count implements Sink.
func (s *RecordingSink) Count(name string, value float64, labels Labels) error {
	return s.add(KindCount, name, value, labels)
}

// Observe implements Sink.
func (s *RecordingSink) Observe(name string, value float64, labels Labels) error {
	return s.add(KindObserve, name, value, labels)
}

func (s *RecordingSink) add(kind Kind, name string, value float64, labels Labels) error {
	copied := make(Labels, len(labels))
	for k, v := range labels {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{Kind: kind, Name: name, Value: value, Labels: copied})
	return s.Err
}

// Records returns a copy of everything recorded so far.
func (s *RecordingSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Total sums the values recorded under name whose labels include every
// pair in match.
func (s *RecordingSink) Total(name string, match Labels) float64 {
	var total float64
	for _, r := range s.Records() {
		if r.Name == name && r.Labels.contains(match) {
			total += r.Value
		}
	}
	return total
}

// Last returns the most recent value recorded under name matching labels.
func (s *RecordingSink) Last(name string, match Labels) (float64, bool) {
	records := s.Records()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Name == name && records[i].Labels.contains(match) {
			return records[i].Value, true
		}
	}
	return 0, false
}

// Reset discards all records.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

func (l Labels) contains(match Labels) bool {
	for k, v := range match {
		if l[k] != v {
			return false
		}
	}
	return true
}
