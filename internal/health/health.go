// Package health serves the gateway's liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// runs every registered [Checker] and answers 200 only when all of them pass,
// so an orchestrator keeps traffic away while the session store or the
// provider registry is still coming up.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Per-check budget on /readyz. A hung dependency must not stall the probe
// past the kubelet's own timeout.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when the dependency
// is usable and must honor ctx cancellation.
type Checker struct {
	// Name keys the check in the JSON response, e.g. "history" or "providers".
	Name string

	Check func(ctx context.Context) error
}

// report is the wire shape of both probe responses.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The checker list is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] that runs the given checkers, in order, on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200; serving the request is the proof of life.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every checker under a [checkTimeout] deadline and answers 503
// if any of them fail, with the per-check outcomes in the body.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ready := h.evaluate(r.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func (h *Handler) evaluate(ctx context.Context) (report, bool) {
	rep := report{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	for _, c := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(checkCtx)
		cancel()

		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
		} else {
			rep.Checks[c.Name] = "ok"
		}
	}
	return rep, rep.Status == "ok"
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
