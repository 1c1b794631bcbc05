// Package health serves the liveness and readiness probes of the hushwire
// ops server.
//
// Liveness (/healthz) only proves the process can answer HTTP and reports
// its uptime. Readiness (/readyz) asks every registered [Checker] whether
// the relay could open a denoising session right now; a relay whose entire
// endpoint chain sits behind open breakers reports not ready while staying
// alive. Both probes answer JSON with a top-level "status" of "ok" or
// "fail" and, for readiness, a "checks" map with one verdict per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout caps each readiness check so one stuck dependency cannot
// hold the probe past the caller's own deadline.
const probeTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when the
// dependency could serve a session right now and an error describing why
// not otherwise; it must respect ctx.
type Checker struct {
	// Name keys this check's verdict in the JSON response, e.g. "denoise"
	// or "sessions".
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// Handler answers /healthz and /readyz. The checker set is fixed at
// construction; beyond its start time the handler holds no state and is
// safe for concurrent use.
type Handler struct {
	checkers  []Checker
	startedAt time.Time
}

// New builds a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers:  append([]Checker(nil), checkers...),
		startedAt: time.Now(),
	}
}

// report is the JSON body of both probes.
type report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz answers the liveness probe. It never fails: a process that can
// run this handler is alive by definition.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{
		Status: "ok",
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Readyz answers the readiness probe. All checkers run concurrently, each
// under its own [probeTimeout]; the probe fails if any of them does.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ready := h.runChecks(r.Context())

	res := report{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ready {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// runChecks fans the checkers out and collects one verdict per name.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		ready  = true
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				ready = false
			} else {
				checks[c.Name] = "ok"
			}
		})
	}
	wg.Wait()
	return checks, ready
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON marshals v before touching the response so an encoding failure
// can still produce a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}
