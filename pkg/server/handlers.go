package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/compass/pkg/engine"
	compassErrors "mercator-hq/compass/pkg/errors"
	"mercator-hq/compass/pkg/experiment"
	"mercator-hq/compass/pkg/ledger"
	"mercator-hq/compass/pkg/snapshot"
)

const (
	defaultTransitionLimit = 100
	maxRequestBody         = 1 << 20
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error kind to an HTTP status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := compassErrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case compassErrors.KindInvalidInput:
		status = http.StatusBadRequest
	case compassErrors.KindNotFound:
		status = http.StatusNotFound
	case compassErrors.KindConflict:
		status = http.StatusConflict
	case compassErrors.KindConfiguration:
		status = http.StatusServiceUnavailable
	}
	if kind == "" {
		kind = "internal"
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: err.Error()}})
}

type experimentList struct {
	Experiments []*experiment.Summary `json:"experiments"`
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	coord := s.engine.Coordinator()
	out := experimentList{Experiments: []*experiment.Summary{}}
	for _, domain := range coord.Domains() {
		sum, err := coord.Summary(domain)
		if err != nil {
			// Unregistered since Domains was read.
			continue
		}
		out.Experiments = append(out.Experiments, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.Coordinator().Summary(r.PathValue("domain"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type startRequest struct {
	Candidates []struct {
		Name      string  `json:"name"`
		Algorithm string  `json:"algorithm"`
		Weight    float64 `json:"weight"`
	} `json:"candidates"`
	ShadowSampleThreshold int `json:"shadow_sample_threshold"`
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	const op = "server.StartExperiment"
	domain := r.PathValue("domain")

	var req startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, compassErrors.InvalidInput(op, "invalid request body: %v", err))
		return
	}

	candidates := make([]engine.Candidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		candidates = append(candidates, engine.Candidate{Name: c.Name, Algorithm: c.Algorithm, Weight: c.Weight})
	}
	if _, err := s.engine.StartExperiment(domain, candidates, req.ShadowSampleThreshold); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "experiment started", "domain", domain, "candidates", len(candidates))

	sum, err := s.engine.Coordinator().Summary(domain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	if err := s.engine.StopExperiment(domain, r.URL.Query().Get("promote")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	s.operatorAction(w, r, "promote", s.engine.Coordinator().Promote)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	s.operatorAction(w, r, "rollback", s.engine.Coordinator().Rollback)
}

func (s *Server) operatorAction(w http.ResponseWriter, r *http.Request, action string, fn func(domain, variant string) error) {
	domain, variant := r.PathValue("domain"), r.PathValue("variant")
	if err := fn(domain, variant); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "operator action applied",
		"action", action,
		"domain", domain,
		"variant", variant,
	)
	sum, err := s.engine.Coordinator().Summary(domain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"policies": s.engine.Diagnostics()})
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	const op = "server.Transitions"
	if s.ledger == nil {
		s.writeError(w, r, compassErrors.Configuration(op, "ledger is disabled"))
		return
	}

	q := &ledger.Query{
		Domain:       r.URL.Query().Get("domain"),
		Variant:      r.URL.Query().Get("variant"),
		ExperimentID: r.URL.Query().Get("experiment_id"),
		Limit:        defaultTransitionLimit,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, compassErrors.InvalidInput(op, "invalid limit %q", v))
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, compassErrors.InvalidInput(op, "invalid since %q: want RFC 3339", v))
			return
		}
		q.Since = &since
	}

	transitions, err := s.ledger.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if transitions == nil {
		transitions = []*ledger.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": transitions})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	saved, err := s.engine.Export(r.Context())
	if err != nil && len(saved) == 0 {
		s.writeError(w, r, err)
		return
	}
	if saved == nil {
		saved = []snapshot.Meta{}
	}
	body := map[string]any{"snapshots": saved}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
