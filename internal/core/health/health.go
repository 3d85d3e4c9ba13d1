// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	// Readiness returns the names of the dependencies that are not ready.
	Readiness(ctx context.Context) (ready bool, failing []string)
}

// Checks is a ReadinessReporter over named probes; a probe is healthy when
// it returns nil.
type Checks map[string]func(context.Context) error

func (c Checks) Readiness(ctx context.Context) (bool, []string) {
	var failing []string
	for name, probe := range c {
		if err := probe(ctx); err != nil {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return len(failing) == 0, failing
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status  string   `json:"status"`
			Failing []string `json:"failing,omitempty"`
		}
		ready, failing := rr.Readiness(r.Context())
		out := resp{Status: "ready"}
		if !ready {
			out = resp{Status: "not_ready", Failing: failing}
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
